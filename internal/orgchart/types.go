// Package orgchart holds the org chart document model and the pure functions
// that merge, edit and normalise it. Nothing in this package performs I/O.
package orgchart

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// AdminID is the fixed identity of the admin record.
const AdminID = "admin"

var ErrInvalidSection = errors.New("invalid section")

type Section string

const (
	SectionCI       Section = "ci"
	SectionContract Section = "contract"
	SectionCV       Section = "cv"
)

var Sections = []Section{SectionCI, SectionContract, SectionCV}

func ParseSection(raw string) (Section, error) {
	switch Section(strings.TrimSpace(raw)) {
	case SectionCI:
		return SectionCI, nil
	case SectionContract:
		return SectionContract, nil
	case SectionCV:
		return SectionCV, nil
	}
	return "", fmt.Errorf("%w %q: must be one of ci, contract, cv", ErrInvalidSection, raw)
}

// ID is an entity identifier. Clients have historically sent both strings and
// numbers, so numeric literals are accepted and kept verbatim.
type ID string

func (id *ID) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if bytes.Equal(trimmed, []byte("null")) {
		*id = ""
		return nil
	}
	if len(trimmed) > 0 && trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return err
		}
		*id = ID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(trimmed, &n); err != nil {
		return fmt.Errorf("id must be a string or number: %w", err)
	}
	*id = ID(n.String())
	return nil
}

type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

type Connection struct {
	ID   ID `json:"id"`
	From ID `json:"from"`
	To   ID `json:"to"`
}

type Department struct {
	ID        ID         `json:"id"`
	Name      string     `json:"name"`
	Employees []Employee `json:"employees"`
	Position  *Position  `json:"position,omitempty"`

	present map[string]struct{}
}

func (d *Department) UnmarshalJSON(data []byte) error {
	type plain Department
	var decoded plain
	if err := json.Unmarshal(data, &decoded); err != nil {
		return err
	}
	keys, err := payloadKeys(data)
	if err != nil {
		return err
	}
	*d = Department(decoded)
	d.present = keys
	return nil
}

func (d Department) has(key string) bool {
	if d.present == nil {
		return true
	}
	_, ok := d.present[key]
	return ok
}

// Employee is a person card. The admin record shares this shape and fills the
// admin-only fields.
type Employee struct {
	ID        ID          `json:"id"`
	Name      string      `json:"name"`
	Position  string      `json:"position"`
	Email     string      `json:"email"`
	Phone     string      `json:"phone"`
	IsLead    bool        `json:"isLead"`
	Documents DocumentSet `json:"documents"`

	FirstName  string `json:"firstName,omitempty"`
	LastName   string `json:"lastName,omitempty"`
	LinkedIn   string `json:"linkedIn,omitempty"`
	Department string `json:"department,omitempty"`

	// present records which keys a decoded payload carried. Nil means the
	// value was built in code and every field counts as set.
	present map[string]struct{}
}

func (e *Employee) UnmarshalJSON(data []byte) error {
	type plain Employee
	var decoded plain
	if err := json.Unmarshal(data, &decoded); err != nil {
		return err
	}
	keys, err := payloadKeys(data)
	if err != nil {
		return err
	}
	*e = Employee(decoded)
	e.present = keys
	return nil
}

// payloadKeys lists the top-level keys of a JSON object.
func payloadKeys(data []byte) (map[string]struct{}, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	keys := make(map[string]struct{}, len(raw))
	for k := range raw {
		keys[k] = struct{}{}
	}
	return keys, nil
}

func (e Employee) has(key string) bool {
	if e.present == nil {
		return true
	}
	_, ok := e.present[key]
	return ok
}

// Snapshot is the whole org chart of one tenant.
type Snapshot struct {
	Departments []Department `json:"departments"`
	Connections []Connection `json:"connections"`
	AdminData   *Employee    `json:"adminData"`
	UpdatedAt   time.Time    `json:"updatedAt"`
	Version     int64        `json:"version"`
}

// Empty returns the default snapshot served when nothing is stored yet.
func Empty() Snapshot {
	return Snapshot{
		Departments: []Department{},
		Connections: []Connection{},
	}
}

// Normalize replaces nil collections with empty ones so the JSON form never
// carries nulls for lists.
func (s Snapshot) Normalize() Snapshot {
	if s.Connections == nil {
		s.Connections = []Connection{}
	}
	departments := make([]Department, len(s.Departments))
	for i, dept := range s.Departments {
		employees := make([]Employee, len(dept.Employees))
		for j, emp := range dept.Employees {
			emp.Documents = emp.Documents.normalized()
			employees[j] = emp
		}
		dept.Employees = employees
		departments[i] = dept
	}
	s.Departments = departments
	if s.AdminData != nil {
		admin := *s.AdminData
		admin.Documents = admin.Documents.normalized()
		s.AdminData = &admin
	}
	return s
}

// People lists every employee in department order, followed by the admin.
func (s Snapshot) People() []Person {
	out := make([]Person, 0)
	for _, dept := range s.Departments {
		for _, emp := range dept.Employees {
			out = append(out, Person{Employee: emp, DepartmentID: dept.ID, DepartmentName: dept.Name})
		}
	}
	if s.AdminData != nil {
		out = append(out, Person{Employee: *s.AdminData, DepartmentName: s.AdminData.Department})
	}
	return out
}

type Person struct {
	Employee
	DepartmentID   ID
	DepartmentName string
}
