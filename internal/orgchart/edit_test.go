package orgchart

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleChart(t *testing.T) Snapshot {
	return decodeSnapshot(t, `{
		"departments":[
			{"id":"1","name":"Eng","employees":[{"id":"e1","documents":{"cv":["e1/cv/a.pdf"]}},{"id":"e2"}]},
			{"id":"2","name":"Ops","employees":[{"id":"e3"}]}
		],
		"connections":[
			{"id":"c1","from":"e1","to":"e3"},
			{"id":"c2","from":"e3","to":"e1"},
			{"id":"c3","from":"e2","to":"e3"}
		],
		"adminData":{"id":"admin","name":"Boss"}
	}`)
}

func TestRemoveDepartmentDropsItsConnections(t *testing.T) {
	chart := sampleChart(t)

	out, err := RemoveDepartment(chart, "1")
	require.NoError(t, err)
	require.Len(t, out.Departments, 1)
	assert.Equal(t, ID("2"), out.Departments[0].ID)
	assert.Empty(t, out.Connections)
	assert.Len(t, chart.Departments, 2)
	assert.Len(t, chart.Connections, 3)
}

func TestRemoveDepartmentUnknown(t *testing.T) {
	_, err := RemoveDepartment(sampleChart(t), "99")
	assert.ErrorIs(t, err, ErrDepartmentNotFound)
}

func TestRemoveEmployee(t *testing.T) {
	out, err := RemoveEmployee(sampleChart(t), "1", "e1")
	require.NoError(t, err)
	require.Len(t, out.Departments[0].Employees, 1)
	assert.Equal(t, ID("e2"), out.Departments[0].Employees[0].ID)
	require.Len(t, out.Connections, 1)
	assert.Equal(t, ID("c3"), out.Connections[0].ID)

	_, err = RemoveEmployee(sampleChart(t), "1", "e3")
	assert.ErrorIs(t, err, ErrOwnerNotFound)
}

func TestAppendDocumentToEmployee(t *testing.T) {
	chart := sampleChart(t)

	out, err := AppendDocument(chart, "e1", SectionCV, PathRef("e1/cv/b.pdf"))
	require.NoError(t, err)
	assert.Equal(t, []string{"e1/cv/a.pdf", "e1/cv/b.pdf"}, paths(out.Departments[0].Employees[0].Documents.CV))
	assert.Len(t, chart.Departments[0].Employees[0].Documents.CV, 1)

	again, err := AppendDocument(out, "e1", SectionCV, PathRef("e1/cv/b.pdf"))
	require.NoError(t, err)
	assert.Len(t, again.Departments[0].Employees[0].Documents.CV, 2)
}

func TestAppendDocumentFallsBackToAdmin(t *testing.T) {
	out, err := AppendDocument(sampleChart(t), AdminID, SectionCI, PathRef("admin/ci/id.png"))
	require.NoError(t, err)
	assert.Equal(t, []string{"admin/ci/id.png"}, paths(out.AdminData.Documents.CI))
}

func TestAppendDocumentUnknownOwner(t *testing.T) {
	_, err := AppendDocument(sampleChart(t), "nobody", SectionCI, PathRef("x"))
	assert.ErrorIs(t, err, ErrOwnerNotFound)
}

func TestRemoveDocument(t *testing.T) {
	out, err := RemoveDocument(sampleChart(t), "e1", SectionCV, "e1/cv/a.pdf")
	require.NoError(t, err)
	assert.Empty(t, out.Departments[0].Employees[0].Documents.CV)

	_, err = RemoveDocument(sampleChart(t), "e1", SectionCV, "missing.pdf")
	assert.ErrorIs(t, err, ErrDocumentNotFound)
}

func TestFindOwner(t *testing.T) {
	chart := sampleChart(t)
	emp, ok := FindOwner(chart, "e3")
	require.True(t, ok)
	assert.Equal(t, ID("e3"), emp.ID)

	admin, ok := FindOwner(chart, AdminID)
	require.True(t, ok)
	assert.Equal(t, "Boss", admin.Name)

	_, ok = FindOwner(chart, "ghost")
	assert.False(t, ok)
}
