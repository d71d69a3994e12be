package search

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	meili "github.com/meilisearch/meilisearch-go"
	"go.uber.org/zap"

	"orgchart/api/internal/metrics"
)

const idxPeople = "orgchart_people"

// Meili indexes chart people in Meilisearch.
type Meili struct {
	client  meili.ServiceManager
	logger  *zap.Logger
	healthy atomic.Bool
	done    chan struct{}
}

// NewMeili creates a Meilisearch client and configures the people index.
// An unreachable server is not an error: the client reports unhealthy and
// the health loop reconfigures once it comes back.
func NewMeili(url, apiKey string, logger *zap.Logger) *Meili {
	if logger == nil {
		logger = zap.NewNop()
	}
	client := meili.New(url, meili.WithAPIKey(apiKey))

	m := &Meili{
		client: client,
		logger: logger,
		done:   make(chan struct{}),
	}

	if _, err := client.Health(); err != nil {
		logger.Warn("meilisearch unavailable", zap.String("url", url), zap.Error(err))
		m.healthy.Store(false)
	} else {
		m.healthy.Store(true)
		m.configureIndex()
	}

	go m.healthLoop()
	return m
}

func (m *Meili) configureIndex() {
	if _, err := m.client.CreateIndex(&meili.IndexConfig{
		Uid:        idxPeople,
		PrimaryKey: "id",
	}); err != nil {
		m.logger.Debug("create index (may already exist)", zap.String("index", idxPeople), zap.Error(err))
	}

	index := m.client.Index(idxPeople)
	filterable := []interface{}{"tenantId", "departmentId", "type"}
	if _, err := index.UpdateFilterableAttributes(&filterable); err != nil {
		m.logger.Warn("update filterable attributes", zap.String("index", idxPeople), zap.Error(err))
	}
	searchable := []string{"name", "position", "email", "departmentName"}
	if _, err := index.UpdateSearchableAttributes(&searchable); err != nil {
		m.logger.Warn("update searchable attributes", zap.String("index", idxPeople), zap.Error(err))
	}
}

func (m *Meili) healthLoop() {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			_, err := m.client.Health()
			wasHealthy := m.healthy.Load()
			m.healthy.Store(err == nil)
			if err == nil && !wasHealthy {
				m.logger.Info("meilisearch recovered, reconfiguring index")
				m.configureIndex()
			}
		}
	}
}

// Close stops the background health monitor.
func (m *Meili) Close() {
	close(m.done)
}

// Healthy reports whether Meilisearch is reachable.
func (m *Meili) Healthy() bool {
	return m.healthy.Load()
}

// Search queries the people index restricted to one tenant.
func (m *Meili) Search(q Query) ([]Result, int, error) {
	if !m.healthy.Load() {
		return nil, 0, fmt.Errorf("meilisearch unhealthy")
	}

	resp, err := m.client.MultiSearch(&meili.MultiSearchRequest{
		Queries: []*meili.SearchRequest{{
			IndexUID:              idxPeople,
			Query:                 q.Text,
			Limit:                 int64(q.Limit),
			Filter:                []string{tenantFilter(q.TenantID)},
			AttributesToHighlight: []string{"name", "position", "departmentName"},
			HighlightPreTag:       "<mark>",
			HighlightPostTag:      "</mark>",
		}},
	})
	metrics.Upstream.WithLabelValues("meilisearch", "search", metrics.Result(err)).Inc()
	if err != nil {
		m.healthy.Store(false)
		return nil, 0, fmt.Errorf("meilisearch multi-search: %w", err)
	}

	var results []Result
	total := 0
	for _, sr := range resp.Results {
		total += int(sr.EstimatedTotalHits)
		for _, hit := range sr.Hits {
			r := hitToRecord(hit).result()
			r.Snippet = snippet(hit)
			results = append(results, r)
		}
	}
	return results, total, nil
}

func tenantFilter(tenantID string) string {
	return fmt.Sprintf("tenantId = %q", tenantID)
}

func hitToRecord(hit meili.Hit) PersonRecord {
	r := PersonRecord{
		ID:             decodeString(hit, "id"),
		TenantID:       decodeString(hit, "tenantId"),
		PersonID:       decodeString(hit, "personId"),
		Type:           decodeString(hit, "type"),
		Name:           decodeString(hit, "name"),
		Position:       decodeString(hit, "position"),
		Email:          decodeString(hit, "email"),
		Phone:          decodeString(hit, "phone"),
		DepartmentID:   decodeString(hit, "departmentId"),
		DepartmentName: decodeString(hit, "departmentName"),
	}
	if raw, ok := hit["isLead"]; ok {
		_ = json.Unmarshal(raw, &r.IsLead)
	}
	return r
}

// snippet is the highlighted form of the first field that matched.
func snippet(hit meili.Hit) string {
	for _, key := range []string{"name", "position", "departmentName"} {
		if s := decodeFormattedString(hit, key); strings.Contains(s, "<mark>") {
			return s
		}
	}
	return ""
}

func decodeString(hit meili.Hit, key string) string {
	raw, ok := hit[key]
	if !ok {
		return ""
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return ""
}

func decodeFormattedString(hit meili.Hit, key string) string {
	raw, ok := hit["_formatted"]
	if !ok {
		return ""
	}
	var formatted map[string]json.RawMessage
	if err := json.Unmarshal(raw, &formatted); err != nil {
		return ""
	}
	var s string
	if err := json.Unmarshal(formatted[key], &s); err != nil {
		return ""
	}
	return strings.TrimSpace(s)
}

// IndexPeople adds or updates people in the search index.
func (m *Meili) IndexPeople(records []PersonRecord) error {
	if len(records) == 0 {
		return nil
	}
	_, err := m.client.Index(idxPeople).AddDocuments(records, nil)
	metrics.Upstream.WithLabelValues("meilisearch", "index", metrics.Result(err)).Inc()
	return err
}

// DeletePeople removes records by id.
func (m *Meili) DeletePeople(ids []string) error {
	index := m.client.Index(idxPeople)
	for _, id := range ids {
		if _, err := index.DeleteDocument(id, nil); err != nil {
			return err
		}
	}
	return nil
}
