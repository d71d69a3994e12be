package app

import (
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"orgchart/api/internal/orgchart"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

type LoginDTO struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
	UserType string `json:"userType" validate:"omitempty,max=32"`
	CUI      string `json:"cui" validate:"omitempty,max=32"`
}

func (d *LoginDTO) Normalize() {
	d.Email = strings.TrimSpace(d.Email)
	d.UserType = strings.TrimSpace(d.UserType)
	d.CUI = strings.TrimSpace(d.CUI)
}

type AdminSetupDTO struct {
	CollectionID string `json:"collectionId"`
	FirstName    string `json:"firstName" validate:"max=100"`
	LastName     string `json:"lastName" validate:"max=100"`
	Phone        string `json:"phone" validate:"max=40"`
	LinkedIn     string `json:"linkedIn" validate:"omitempty,max=300"`
	Position     string `json:"position" validate:"max=100"`
	Department   string `json:"department" validate:"max=100"`
}

func (d *AdminSetupDTO) Normalize() {
	d.CollectionID = strings.TrimSpace(d.CollectionID)
	d.FirstName = strings.TrimSpace(d.FirstName)
	d.LastName = strings.TrimSpace(d.LastName)
	d.Phone = strings.TrimSpace(d.Phone)
	d.LinkedIn = strings.TrimSpace(d.LinkedIn)
}

// SaveChartDTO is the client's view of the chart. positions, when present,
// overrides the department positions it carries.
type SaveChartDTO struct {
	Departments []orgchart.Department        `json:"departments"`
	Connections []orgchart.Connection        `json:"connections"`
	AdminData   *orgchart.Employee           `json:"adminData"`
	Positions   map[string]orgchart.Position `json:"positions"`
}

func (d SaveChartDTO) Snapshot() orgchart.Snapshot {
	return orgchart.Snapshot{
		Departments: orgchart.ApplyPositions(d.Departments, d.Positions),
		Connections: d.Connections,
		AdminData:   d.AdminData,
	}
}

type DeleteDocumentDTO struct {
	Section string `json:"section" validate:"required"`
	Path    string `json:"path" validate:"required"`
}

type GenerateDepartmentsDTO struct {
	CUI      string `json:"cui"`
	CAENCode string `json:"caenCode" validate:"max=16"`
	DenCAEN  string `json:"denCaen" validate:"max=300"`
}

type ChatDTO struct {
	Message      string             `json:"message" validate:"required"`
	CollectionID string             `json:"collectionId"`
	Context      *orgchart.Snapshot `json:"context"`
}
