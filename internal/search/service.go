package search

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"

	"github.com/lithammer/fuzzysearch/fuzzy"
	"go.uber.org/zap"

	"orgchart/api/internal/orgchart"
)

const (
	defaultLimit = 20
	maxLimit     = 100
)

var ErrEmptyQuery = errors.New("search query is required")

// Engine is a full-text index over chart people.
type Engine interface {
	Healthy() bool
	Search(q Query) ([]Result, int, error)
	IndexPeople(records []PersonRecord) error
	DeletePeople(ids []string) error
}

// Source loads the stored chart a search runs against.
type Source interface {
	Load(ctx context.Context, tenantID string) (orgchart.Snapshot, bool, error)
}

// Service is the facade that tries Meilisearch first and falls back to
// fuzzy matching over the stored chart.
type Service struct {
	engine Engine
	source Source
	logger *zap.Logger

	mu      sync.Mutex
	indexed map[string]map[string]struct{}
	async   func(func())
}

// NewService creates a search service. engine may be nil if Meilisearch is
// not configured.
func NewService(engine Engine, source Source, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		engine:  engine,
		source:  source,
		logger:  logger,
		indexed: map[string]map[string]struct{}{},
		async:   func(fn func()) { go fn() },
	}
}

// Search finds people on the tenant's chart. Index hits for people no
// longer on the chart are dropped.
func (s *Service) Search(ctx context.Context, q Query) (Response, error) {
	q.Text = strings.TrimSpace(q.Text)
	if q.Text == "" {
		return Response{}, ErrEmptyQuery
	}
	if q.Limit <= 0 {
		q.Limit = defaultLimit
	}
	if q.Limit > maxLimit {
		q.Limit = maxLimit
	}

	snap, found, err := s.source.Load(ctx, q.TenantID)
	if err != nil {
		return Response{}, err
	}
	if !found {
		return Response{Results: []Result{}, Query: q.Text, Engine: "none"}, nil
	}
	records := Records(q.TenantID, snap)

	if s.engine != nil && s.engine.Healthy() {
		results, total, err := s.engine.Search(q)
		if err == nil {
			results = onChart(results, records)
			if total < len(results) {
				total = len(results)
			}
			return Response{Results: nonNil(results), Total: total, Query: q.Text, Engine: "meilisearch"}, nil
		}
		s.logger.Warn("meilisearch error, falling back to fuzzy match", zap.String("tenant_id", q.TenantID), zap.Error(err))
	}

	results := rank(q.Text, records)
	total := len(results)
	if len(results) > q.Limit {
		results = results[:q.Limit]
	}
	return Response{Results: results, Total: total, Query: q.Text, Engine: "fuzzy"}, nil
}

// rank orders name matches ahead of matches elsewhere in the record.
func rank(text string, records []PersonRecord) []Result {
	names := make([]string, len(records))
	haystacks := make([]string, len(records))
	for i, r := range records {
		names[i] = r.Name
		haystacks[i] = r.haystack()
	}

	out := make([]Result, 0)
	seen := make(map[int]struct{}, len(records))
	for _, targets := range [][]string{names, haystacks} {
		ranks := fuzzy.RankFindNormalizedFold(text, targets)
		sort.Stable(ranks)
		for _, rk := range ranks {
			if _, ok := seen[rk.OriginalIndex]; ok {
				continue
			}
			seen[rk.OriginalIndex] = struct{}{}
			out = append(out, records[rk.OriginalIndex].result())
		}
	}
	return out
}

func onChart(results []Result, records []PersonRecord) []Result {
	present := make(map[string]struct{}, len(records))
	for _, r := range records {
		present[r.DepartmentID+"/"+r.PersonID] = struct{}{}
	}
	kept := results[:0]
	for _, r := range results {
		if _, ok := present[string(r.DepartmentID)+"/"+string(r.ID)]; ok {
			kept = append(kept, r)
		}
	}
	return kept
}

// Index pushes the tenant's people to Meilisearch (fire-and-forget) and
// removes people this process indexed earlier that are gone from the chart.
func (s *Service) Index(tenantID string, snap orgchart.Snapshot) {
	if s.engine == nil || !s.engine.Healthy() {
		return
	}
	records := Records(tenantID, snap)
	stale := s.swapIndexed(tenantID, records)

	s.async(func() {
		if err := s.engine.IndexPeople(records); err != nil {
			s.logger.Warn("index people", zap.String("tenant_id", tenantID), zap.Error(err))
		}
		if len(stale) == 0 {
			return
		}
		if err := s.engine.DeletePeople(stale); err != nil {
			s.logger.Warn("delete stale people", zap.String("tenant_id", tenantID), zap.Error(err))
		}
	})
}

func (s *Service) swapIndexed(tenantID string, records []PersonRecord) []string {
	current := make(map[string]struct{}, len(records))
	for _, r := range records {
		current[r.ID] = struct{}{}
	}

	s.mu.Lock()
	previous := s.indexed[tenantID]
	s.indexed[tenantID] = current
	s.mu.Unlock()

	var stale []string
	for id := range previous {
		if _, ok := current[id]; !ok {
			stale = append(stale, id)
		}
	}
	sort.Strings(stale)
	return stale
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
