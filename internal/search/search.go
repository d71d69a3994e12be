package search

import (
	"crypto/sha1"
	"encoding/hex"
	"strings"

	"orgchart/api/internal/orgchart"
)

// ResultType tells an employee hit from the tenant's admin profile.
type ResultType string

const (
	ResultEmployee ResultType = "employee"
	ResultAdmin    ResultType = "admin"
)

// Result is a single search hit returned to the caller.
type Result struct {
	Type           ResultType  `json:"type"`
	ID             orgchart.ID `json:"id"`
	Name           string      `json:"name"`
	Position       string      `json:"position"`
	Email          string      `json:"email,omitempty"`
	Phone          string      `json:"phone,omitempty"`
	IsLead         bool        `json:"isLead"`
	DepartmentID   orgchart.ID `json:"departmentId,omitempty"`
	DepartmentName string      `json:"departmentName,omitempty"`
	Snippet        string      `json:"snippet,omitempty"`
}

// Query describes a people search within one tenant.
type Query struct {
	TenantID string
	Text     string
	Limit    int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
	Engine  string   `json:"engine"`
}

// PersonRecord is the data we index for one person on a chart.
type PersonRecord struct {
	ID             string `json:"id"`
	TenantID       string `json:"tenantId"`
	PersonID       string `json:"personId"`
	Type           string `json:"type"`
	Name           string `json:"name"`
	Position       string `json:"position"`
	Email          string `json:"email"`
	Phone          string `json:"phone"`
	IsLead         bool   `json:"isLead"`
	DepartmentID   string `json:"departmentId"`
	DepartmentName string `json:"departmentName"`
}

// Records flattens a snapshot into index records. Record ids are derived
// from tenant, department and person so they are stable across saves.
func Records(tenantID string, snap orgchart.Snapshot) []PersonRecord {
	people := snap.People()
	out := make([]PersonRecord, 0, len(people))
	for _, p := range people {
		typ := ResultEmployee
		if p.DepartmentID == "" {
			typ = ResultAdmin
		}
		personID := string(p.ID)
		if typ == ResultAdmin && personID == "" {
			personID = orgchart.AdminID
		}
		out = append(out, PersonRecord{
			ID:             recordID(tenantID, string(p.DepartmentID), personID),
			TenantID:       tenantID,
			PersonID:       personID,
			Type:           string(typ),
			Name:           displayName(p.Employee),
			Position:       p.Position,
			Email:          p.Email,
			Phone:          p.Phone,
			IsLead:         p.IsLead,
			DepartmentID:   string(p.DepartmentID),
			DepartmentName: p.DepartmentName,
		})
	}
	return out
}

func (r PersonRecord) result() Result {
	return Result{
		Type:           ResultType(r.Type),
		ID:             orgchart.ID(r.PersonID),
		Name:           r.Name,
		Position:       r.Position,
		Email:          r.Email,
		Phone:          r.Phone,
		IsLead:         r.IsLead,
		DepartmentID:   orgchart.ID(r.DepartmentID),
		DepartmentName: r.DepartmentName,
	}
}

// haystack is the text the fallback ranker matches against.
func (r PersonRecord) haystack() string {
	return strings.Join([]string{r.Name, r.Position, r.Email, r.DepartmentName}, " ")
}

func recordID(tenantID, departmentID, personID string) string {
	sum := sha1.Sum([]byte(tenantID + "\x00" + departmentID + "\x00" + personID))
	return hex.EncodeToString(sum[:])
}

func displayName(e orgchart.Employee) string {
	if name := strings.TrimSpace(e.Name); name != "" {
		return name
	}
	return strings.TrimSpace(e.FirstName + " " + e.LastName)
}
