package export

import (
	"bytes"
	"embed"
	"html/template"
	"strings"
	"time"

	"orgchart/api/internal/orgchart"
)

//go:embed templates/*.html
var templateFS embed.FS

var chartTemplate = template.Must(template.New("orgchart.html").Funcs(template.FuncMap{
	"formatDate": func(t time.Time, layout string) string {
		return t.Format(layout)
	},
}).ParseFS(templateFS, "templates/orgchart.html"))

// TemplateData holds data for chart template rendering
type TemplateData struct {
	Title           string
	GeneratedAt     time.Time
	Admin           *TemplatePerson
	Departments     []TemplateDepartment
	Headcount       int
	ConnectionCount int
}

type TemplateDepartment struct {
	Name      string
	Employees []TemplatePerson
}

type TemplatePerson struct {
	Name     string
	Position string
	IsLead   bool
}

// NewTemplateData lays a snapshot out for the chart template. Leads are
// listed first in each department.
func NewTemplateData(title string, snap orgchart.Snapshot, now time.Time) TemplateData {
	data := TemplateData{
		Title:           title,
		GeneratedAt:     now,
		Departments:     make([]TemplateDepartment, 0, len(snap.Departments)),
		ConnectionCount: len(snap.Connections),
	}
	if snap.AdminData != nil {
		data.Admin = &TemplatePerson{Name: personName(*snap.AdminData), Position: snap.AdminData.Position}
		data.Headcount++
	}
	for _, dept := range snap.Departments {
		td := TemplateDepartment{Name: dept.Name, Employees: make([]TemplatePerson, 0, len(dept.Employees))}
		var rest []TemplatePerson
		for _, emp := range dept.Employees {
			p := TemplatePerson{Name: personName(emp), Position: emp.Position, IsLead: emp.IsLead}
			if p.IsLead {
				td.Employees = append(td.Employees, p)
			} else {
				rest = append(rest, p)
			}
		}
		td.Employees = append(td.Employees, rest...)
		data.Headcount += len(dept.Employees)
		data.Departments = append(data.Departments, td)
	}
	return data
}

// RenderChartHTML renders the chart template with provided data
func RenderChartHTML(data TemplateData) (string, error) {
	var buf bytes.Buffer
	if err := chartTemplate.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func personName(e orgchart.Employee) string {
	if name := strings.TrimSpace(e.Name); name != "" {
		return name
	}
	return strings.TrimSpace(e.FirstName + " " + e.LastName)
}
