package orgchart

import "time"

// MergeEmployee lets incoming win for every scalar it carries and merges the
// document sets.
func MergeEmployee(existing, incoming Employee) Employee {
	out := existing
	out.present = nil
	if incoming.has("id") {
		out.ID = incoming.ID
	}
	if incoming.has("name") {
		out.Name = incoming.Name
	}
	if incoming.has("position") {
		out.Position = incoming.Position
	}
	if incoming.has("email") {
		out.Email = incoming.Email
	}
	if incoming.has("phone") {
		out.Phone = incoming.Phone
	}
	if incoming.has("isLead") {
		out.IsLead = incoming.IsLead
	}
	if incoming.has("firstName") {
		out.FirstName = incoming.FirstName
	}
	if incoming.has("lastName") {
		out.LastName = incoming.LastName
	}
	if incoming.has("linkedIn") {
		out.LinkedIn = incoming.LinkedIn
	}
	if incoming.has("department") {
		out.Department = incoming.Department
	}
	out.Documents = MergeDocumentSets(existing.Documents, incoming.Documents)
	return out
}

// MergeEmployees keeps existing order, merges employees matched by id and
// appends unmatched incoming ones. An incoming employee without an id is
// always appended.
func MergeEmployees(existing, incoming []Employee) []Employee {
	out := make([]Employee, 0, len(existing)+len(incoming))
	index := make(map[ID]int, len(existing))
	for _, emp := range existing {
		if emp.ID != "" {
			if _, dup := index[emp.ID]; !dup {
				index[emp.ID] = len(out)
			}
		}
		out = append(out, emp)
	}
	for _, emp := range incoming {
		if emp.ID != "" {
			if i, ok := index[emp.ID]; ok {
				out[i] = MergeEmployee(out[i], emp)
				continue
			}
		}
		fresh := MergeEmployee(Employee{}, emp)
		if emp.ID != "" {
			index[emp.ID] = len(out)
		}
		out = append(out, fresh)
	}
	return out
}

func mergeDepartment(existing, incoming Department) Department {
	out := existing
	if incoming.has("name") {
		out.Name = incoming.Name
	}
	if incoming.Position != nil {
		pos := *incoming.Position
		out.Position = &pos
	}
	out.Employees = MergeEmployees(existing.Employees, incoming.Employees)
	return out
}

// MergeDepartments applies the employee strategy one level up.
func MergeDepartments(existing, incoming []Department) []Department {
	out := make([]Department, 0, len(existing)+len(incoming))
	index := make(map[ID]int, len(existing))
	for _, dept := range existing {
		if dept.ID != "" {
			if _, dup := index[dept.ID]; !dup {
				index[dept.ID] = len(out)
			}
		}
		out = append(out, dept)
	}
	for _, dept := range incoming {
		if dept.ID != "" {
			if i, ok := index[dept.ID]; ok {
				out[i] = mergeDepartment(out[i], dept)
				continue
			}
		}
		fresh := mergeDepartment(Department{ID: dept.ID}, dept)
		if dept.ID != "" {
			index[dept.ID] = len(out)
		}
		out = append(out, fresh)
	}
	return out
}

// MergeAdmin merges the singleton admin record. A nil incoming admin keeps
// the existing one.
func MergeAdmin(existing, incoming *Employee) *Employee {
	if incoming == nil {
		if existing == nil {
			return nil
		}
		kept := *existing
		return &kept
	}
	base := Employee{}
	if existing != nil {
		base = *existing
	}
	merged := MergeEmployee(base, *incoming)
	merged.ID = AdminID
	return &merged
}

// Merge folds an incoming client view into the stored snapshot. Connections
// are replaced wholesale; departments, employees and documents are merged so
// nothing stored is dropped.
func Merge(existing, incoming Snapshot, now time.Time) Snapshot {
	connections := incoming.Connections
	if connections == nil {
		connections = []Connection{}
	}
	merged := Snapshot{
		Departments: MergeDepartments(existing.Departments, incoming.Departments),
		Connections: append([]Connection(nil), connections...),
		AdminData:   MergeAdmin(existing.AdminData, incoming.AdminData),
		UpdatedAt:   now.UTC(),
		Version:     existing.Version,
	}
	merged = EnforceSingleLead(merged, incoming)
	return merged.Normalize()
}

// ApplyPositions copies dragged card positions onto departments with a
// matching id.
func ApplyPositions(departments []Department, positions map[string]Position) []Department {
	if len(positions) == 0 {
		return departments
	}
	out := make([]Department, len(departments))
	copy(out, departments)
	for i := range out {
		if pos, ok := positions[string(out[i].ID)]; ok {
			p := pos
			out[i].Position = &p
		}
	}
	return out
}

// EnforceSingleLead leaves at most one lead per department. When several are
// flagged, the first lead in the incoming payload wins, otherwise the first
// one in merged order.
func EnforceSingleLead(merged, incoming Snapshot) Snapshot {
	preferred := make(map[ID]ID, len(incoming.Departments))
	for _, dept := range incoming.Departments {
		if dept.ID == "" {
			continue
		}
		if _, seen := preferred[dept.ID]; seen {
			continue
		}
		for _, emp := range dept.Employees {
			if emp.IsLead && emp.ID != "" {
				preferred[dept.ID] = emp.ID
				break
			}
		}
	}
	for i := range merged.Departments {
		dept := &merged.Departments[i]
		leads := 0
		for _, emp := range dept.Employees {
			if emp.IsLead {
				leads++
			}
		}
		if leads <= 1 {
			continue
		}
		keep := -1
		if want, ok := preferred[dept.ID]; ok {
			for j, emp := range dept.Employees {
				if emp.IsLead && emp.ID == want {
					keep = j
					break
				}
			}
		}
		if keep < 0 {
			for j, emp := range dept.Employees {
				if emp.IsLead {
					keep = j
					break
				}
			}
		}
		employees := make([]Employee, len(dept.Employees))
		copy(employees, dept.Employees)
		for j := range employees {
			if j != keep {
				employees[j].IsLead = false
			}
		}
		dept.Employees = employees
	}
	return merged
}
