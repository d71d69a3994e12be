package orgchart

import "errors"

var (
	ErrDepartmentNotFound = errors.New("department not found")
	ErrOwnerNotFound      = errors.New("user not found in org chart")
	ErrDocumentNotFound   = errors.New("document not found")
)

// RemoveDepartment drops a department and every connection that starts or
// ends at one of its employees.
func RemoveDepartment(s Snapshot, departmentID ID) (Snapshot, error) {
	idx := departmentIndex(s, departmentID)
	if idx < 0 {
		return s, ErrDepartmentNotFound
	}
	gone := make(map[ID]struct{}, len(s.Departments[idx].Employees))
	for _, emp := range s.Departments[idx].Employees {
		gone[emp.ID] = struct{}{}
	}
	out := s
	out.Departments = make([]Department, 0, len(s.Departments)-1)
	out.Departments = append(out.Departments, s.Departments[:idx]...)
	out.Departments = append(out.Departments, s.Departments[idx+1:]...)
	out.Connections = dropConnections(s.Connections, gone)
	return out, nil
}

// RemoveEmployee drops one employee from a department together with its
// connections.
func RemoveEmployee(s Snapshot, departmentID, employeeID ID) (Snapshot, error) {
	idx := departmentIndex(s, departmentID)
	if idx < 0 {
		return s, ErrDepartmentNotFound
	}
	dept := s.Departments[idx]
	pos := -1
	for i, emp := range dept.Employees {
		if emp.ID == employeeID {
			pos = i
			break
		}
	}
	if pos < 0 {
		return s, ErrOwnerNotFound
	}
	employees := make([]Employee, 0, len(dept.Employees)-1)
	employees = append(employees, dept.Employees[:pos]...)
	employees = append(employees, dept.Employees[pos+1:]...)
	dept.Employees = employees

	out := s
	out.Departments = make([]Department, len(s.Departments))
	copy(out.Departments, s.Departments)
	out.Departments[idx] = dept
	out.Connections = dropConnections(s.Connections, map[ID]struct{}{employeeID: {}})
	return out, nil
}

// AppendDocument adds ref to the owner's section unless a reference with the
// same canonical path is already there. The owner is looked up across all
// departments first, then matched against the admin record.
func AppendDocument(s Snapshot, ownerID ID, section Section, ref DocumentRef) (Snapshot, error) {
	return editDocuments(s, ownerID, func(docs DocumentSet) (DocumentSet, error) {
		slot := docs.Slot(section)
		if slot == nil {
			return docs, ErrInvalidSection
		}
		*slot = MergeDocumentLists(*slot, []DocumentRef{ref})
		return docs, nil
	})
}

// RemoveDocument deletes the reference with the given canonical path.
func RemoveDocument(s Snapshot, ownerID ID, section Section, path string) (Snapshot, error) {
	return editDocuments(s, ownerID, func(docs DocumentSet) (DocumentSet, error) {
		slot := docs.Slot(section)
		if slot == nil {
			return docs, ErrInvalidSection
		}
		kept := make([]DocumentRef, 0, len(*slot))
		found := false
		for _, doc := range *slot {
			if doc.CanonicalPath() == path {
				found = true
				continue
			}
			kept = append(kept, doc)
		}
		if !found {
			return docs, ErrDocumentNotFound
		}
		*slot = kept
		return docs, nil
	})
}

// FindOwner returns the employee or admin record with the given id.
func FindOwner(s Snapshot, ownerID ID) (Employee, bool) {
	for _, dept := range s.Departments {
		for _, emp := range dept.Employees {
			if emp.ID == ownerID {
				return emp, true
			}
		}
	}
	if s.AdminData != nil && (ownerID == AdminID || s.AdminData.ID == ownerID) {
		return *s.AdminData, true
	}
	return Employee{}, false
}

func editDocuments(s Snapshot, ownerID ID, edit func(DocumentSet) (DocumentSet, error)) (Snapshot, error) {
	for i, dept := range s.Departments {
		for j, emp := range dept.Employees {
			if emp.ID != ownerID {
				continue
			}
			docs, err := edit(cloneDocuments(emp.Documents))
			if err != nil {
				return s, err
			}
			out := s
			out.Departments = make([]Department, len(s.Departments))
			copy(out.Departments, s.Departments)
			employees := make([]Employee, len(dept.Employees))
			copy(employees, dept.Employees)
			employees[j].Documents = docs
			out.Departments[i].Employees = employees
			return out, nil
		}
	}
	if s.AdminData != nil && (ownerID == AdminID || s.AdminData.ID == ownerID) {
		docs, err := edit(cloneDocuments(s.AdminData.Documents))
		if err != nil {
			return s, err
		}
		admin := *s.AdminData
		admin.Documents = docs
		out := s
		out.AdminData = &admin
		return out, nil
	}
	return s, ErrOwnerNotFound
}

func cloneDocuments(docs DocumentSet) DocumentSet {
	return DocumentSet{
		CI:       append([]DocumentRef(nil), docs.CI...),
		Contract: append([]DocumentRef(nil), docs.Contract...),
		CV:       append([]DocumentRef(nil), docs.CV...),
	}
}

func departmentIndex(s Snapshot, departmentID ID) int {
	for i, dept := range s.Departments {
		if dept.ID == departmentID {
			return i
		}
	}
	return -1
}

func dropConnections(conns []Connection, gone map[ID]struct{}) []Connection {
	out := make([]Connection, 0, len(conns))
	for _, conn := range conns {
		if _, ok := gone[conn.From]; ok {
			continue
		}
		if _, ok := gone[conn.To]; ok {
			continue
		}
		out = append(out, conn)
	}
	return out
}
