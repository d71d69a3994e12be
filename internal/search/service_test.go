package search

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	meili "github.com/meilisearch/meilisearch-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"orgchart/api/internal/orgchart"
)

const chartJSON = `{
	"departments":[
		{"id":"1","name":"Engineering","employees":[
			{"id":"e1","name":"Ana Popescu","position":"Backend Developer","email":"ana@example.com","isLead":true},
			{"id":"e2","name":"Ion Ionescu","position":"QA Engineer"}
		]},
		{"id":"2","name":"Finance","employees":[{"id":"e3","name":"Maria Enache","position":"Accountant"}]}
	],
	"adminData":{"name":"Radu Stan","position":"CEO"}
}`

type staticSource struct {
	snap  orgchart.Snapshot
	found bool
	err   error
}

func (s staticSource) Load(context.Context, string) (orgchart.Snapshot, bool, error) {
	return s.snap, s.found, s.err
}

func chart(t *testing.T) orgchart.Snapshot {
	t.Helper()
	var snap orgchart.Snapshot
	require.NoError(t, json.Unmarshal([]byte(chartJSON), &snap))
	return snap
}

type fakeEngine struct {
	healthy   bool
	results   []Result
	searchErr error
	indexed   [][]PersonRecord
	deleted   [][]string
	lastQuery Query
}

func (f *fakeEngine) Healthy() bool { return f.healthy }

func (f *fakeEngine) Search(q Query) ([]Result, int, error) {
	f.lastQuery = q
	return f.results, len(f.results), f.searchErr
}

func (f *fakeEngine) IndexPeople(records []PersonRecord) error {
	f.indexed = append(f.indexed, records)
	return nil
}

func (f *fakeEngine) DeletePeople(ids []string) error {
	f.deleted = append(f.deleted, ids)
	return nil
}

func syncService(engine Engine, src Source) *Service {
	s := NewService(engine, src, nil)
	s.async = func(fn func()) { fn() }
	return s
}

func TestRecordsFlattenChart(t *testing.T) {
	records := Records("t1", chart(t))
	require.Len(t, records, 4)

	assert.Equal(t, "Ana Popescu", records[0].Name)
	assert.Equal(t, "Engineering", records[0].DepartmentName)
	assert.Equal(t, string(ResultEmployee), records[0].Type)
	assert.True(t, records[0].IsLead)

	admin := records[3]
	assert.Equal(t, string(ResultAdmin), admin.Type)
	assert.Equal(t, orgchart.AdminID, admin.PersonID)
	assert.Empty(t, admin.DepartmentID)

	again := Records("t1", chart(t))
	assert.Equal(t, records[0].ID, again[0].ID)
	assert.NotEqual(t, records[0].ID, Records("t2", chart(t))[0].ID)
}

func TestFuzzyFallbackWithoutEngine(t *testing.T) {
	svc := syncService(nil, staticSource{snap: chart(t), found: true})

	resp, err := svc.Search(context.Background(), Query{TenantID: "t1", Text: "ana"})
	require.NoError(t, err)
	assert.Equal(t, "fuzzy", resp.Engine)
	require.NotEmpty(t, resp.Results)
	assert.Equal(t, orgchart.ID("e1"), resp.Results[0].ID)

	resp, err = svc.Search(context.Background(), Query{TenantID: "t1", Text: "accountant"})
	require.NoError(t, err)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "Maria Enache", resp.Results[0].Name)
	assert.Equal(t, orgchart.ID("2"), resp.Results[0].DepartmentID)
}

func TestFuzzyFallbackAppliesLimit(t *testing.T) {
	svc := syncService(nil, staticSource{snap: chart(t), found: true})
	resp, err := svc.Search(context.Background(), Query{TenantID: "t1", Text: "e", Limit: 2})
	require.NoError(t, err)
	assert.Len(t, resp.Results, 2)
	assert.GreaterOrEqual(t, resp.Total, 2)
}

func TestSearchRequiresText(t *testing.T) {
	svc := syncService(nil, staticSource{})
	_, err := svc.Search(context.Background(), Query{TenantID: "t1", Text: "  "})
	assert.ErrorIs(t, err, ErrEmptyQuery)
}

func TestSearchWithoutChart(t *testing.T) {
	svc := syncService(nil, staticSource{found: false})
	resp, err := svc.Search(context.Background(), Query{TenantID: "t1", Text: "ana"})
	require.NoError(t, err)
	assert.Empty(t, resp.Results)
	assert.NotNil(t, resp.Results)
}

func TestEngineHitsAreCheckedAgainstChart(t *testing.T) {
	engine := &fakeEngine{healthy: true, results: []Result{
		{ID: "e1", DepartmentID: "1", Name: "Ana Popescu"},
		{ID: "gone", DepartmentID: "1", Name: "Former Employee"},
	}}
	svc := syncService(engine, staticSource{snap: chart(t), found: true})

	resp, err := svc.Search(context.Background(), Query{TenantID: "t1", Text: "ana", Limit: 500})
	require.NoError(t, err)
	assert.Equal(t, "meilisearch", resp.Engine)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, orgchart.ID("e1"), resp.Results[0].ID)
	assert.Equal(t, maxLimit, engine.lastQuery.Limit)
	assert.Equal(t, "t1", engine.lastQuery.TenantID)
}

func TestEngineErrorFallsBack(t *testing.T) {
	engine := &fakeEngine{healthy: true, searchErr: errors.New("boom")}
	svc := syncService(engine, staticSource{snap: chart(t), found: true})

	resp, err := svc.Search(context.Background(), Query{TenantID: "t1", Text: "radu"})
	require.NoError(t, err)
	assert.Equal(t, "fuzzy", resp.Engine)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, ResultAdmin, resp.Results[0].Type)
}

func TestIndexRemovesPeopleNoLongerOnChart(t *testing.T) {
	engine := &fakeEngine{healthy: true}
	svc := syncService(engine, staticSource{})

	snap := chart(t)
	svc.Index("t1", snap)
	require.Len(t, engine.indexed, 1)
	assert.Len(t, engine.indexed[0], 4)
	assert.Empty(t, engine.deleted)

	removed := Records("t1", snap)[2].ID
	snap.Departments = snap.Departments[:1]
	svc.Index("t1", snap)
	require.Len(t, engine.deleted, 1)
	assert.Equal(t, []string{removed}, engine.deleted[0])
}

func TestIndexSkippedWhenUnhealthy(t *testing.T) {
	engine := &fakeEngine{healthy: false}
	svc := syncService(engine, staticSource{})
	svc.Index("t1", chart(t))
	assert.Empty(t, engine.indexed)
}

func TestHitDecoding(t *testing.T) {
	hit := meili.Hit{
		"personId":       json.RawMessage(`"e1"`),
		"type":           json.RawMessage(`"employee"`),
		"name":           json.RawMessage(`"Ana Popescu"`),
		"departmentId":   json.RawMessage(`"1"`),
		"departmentName": json.RawMessage(`"Engineering"`),
		"isLead":         json.RawMessage(`true`),
		"_formatted":     json.RawMessage(`{"name":"<mark>Ana</mark> Popescu","isLead":"true"}`),
	}
	r := hitToRecord(hit).result()
	assert.Equal(t, orgchart.ID("e1"), r.ID)
	assert.True(t, r.IsLead)
	assert.Equal(t, "<mark>Ana</mark> Popescu", snippet(hit))
}
