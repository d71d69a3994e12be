// Package orgstore loads, merges and writes tenant org charts on top of a
// partition store. Every org chart write is conditional on the version that
// was read, and a conflicting write is retried against the fresh snapshot.
package orgstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"orgchart/api/internal/metrics"
	"orgchart/api/internal/orgchart"
	"orgchart/api/internal/store"
)

var (
	ErrSnapshotNotFound = errors.New("org chart not found")
	ErrConcurrentUpdate = errors.New("org chart changed concurrently, retries exhausted")
)

const defaultMaxAttempts = 5

type Options struct {
	MaxAttempts int
	Logger      *zap.Logger
	Now         func() time.Time
}

type Adapter struct {
	parts       store.Partitions
	maxAttempts int
	logger      *zap.Logger
	now         func() time.Time
}

func New(parts store.Partitions, opts Options) *Adapter {
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = defaultMaxAttempts
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Adapter{parts: parts, maxAttempts: opts.MaxAttempts, logger: opts.Logger, now: opts.Now}
}

func (a *Adapter) Ping(ctx context.Context) error {
	return a.parts.Ping(ctx)
}

// Load returns the stored snapshot, or an empty one and false when the tenant
// has never saved.
func (a *Adapter) Load(ctx context.Context, tenantID string) (orgchart.Snapshot, bool, error) {
	doc, err := a.parts.Get(ctx, tenantID, store.KeyOrgChart)
	if errors.Is(err, store.ErrNotFound) {
		return orgchart.Empty(), false, nil
	}
	if err != nil {
		return orgchart.Snapshot{}, false, fmt.Errorf("load org chart: %w", err)
	}
	var snap orgchart.Snapshot
	if err := json.Unmarshal(doc.Body, &snap); err != nil {
		return orgchart.Snapshot{}, false, fmt.Errorf("decode org chart: %w", err)
	}
	snap.Version = doc.Version
	return snap.Normalize(), true, nil
}

// Save merges incoming into the stored snapshot and writes the result. The
// merged snapshot is returned as stored.
func (a *Adapter) Save(ctx context.Context, tenantID string, incoming orgchart.Snapshot) (orgchart.Snapshot, error) {
	return a.write(ctx, tenantID, "save", func(existing orgchart.Snapshot, found bool) (orgchart.Snapshot, error) {
		return orgchart.Merge(existing, incoming, a.now()), nil
	})
}

// DeleteDepartment removes a department and the connections of its
// employees. It replaces the stored snapshot instead of merging into it.
func (a *Adapter) DeleteDepartment(ctx context.Context, tenantID string, departmentID orgchart.ID) (orgchart.Snapshot, error) {
	return a.replace(ctx, tenantID, "delete_department", func(s orgchart.Snapshot) (orgchart.Snapshot, error) {
		return orgchart.RemoveDepartment(s, departmentID)
	})
}

func (a *Adapter) DeleteEmployee(ctx context.Context, tenantID string, departmentID, employeeID orgchart.ID) (orgchart.Snapshot, error) {
	return a.replace(ctx, tenantID, "delete_employee", func(s orgchart.Snapshot) (orgchart.Snapshot, error) {
		return orgchart.RemoveEmployee(s, departmentID, employeeID)
	})
}

// AppendDocument records an uploaded document on an employee, or on the
// admin record when no employee matches.
func (a *Adapter) AppendDocument(ctx context.Context, tenantID string, ownerID orgchart.ID, section orgchart.Section, ref orgchart.DocumentRef) (orgchart.Snapshot, error) {
	return a.replace(ctx, tenantID, "append_document", func(s orgchart.Snapshot) (orgchart.Snapshot, error) {
		return orgchart.AppendDocument(s, ownerID, section, ref)
	})
}

func (a *Adapter) RemoveDocument(ctx context.Context, tenantID string, ownerID orgchart.ID, section orgchart.Section, path string) (orgchart.Snapshot, error) {
	return a.replace(ctx, tenantID, "remove_document", func(s orgchart.Snapshot) (orgchart.Snapshot, error) {
		return orgchart.RemoveDocument(s, ownerID, section, path)
	})
}

func (a *Adapter) replace(ctx context.Context, tenantID, op string, edit func(orgchart.Snapshot) (orgchart.Snapshot, error)) (orgchart.Snapshot, error) {
	return a.write(ctx, tenantID, op, func(existing orgchart.Snapshot, found bool) (orgchart.Snapshot, error) {
		if !found {
			return orgchart.Snapshot{}, ErrSnapshotNotFound
		}
		next, err := edit(existing)
		if err != nil {
			return orgchart.Snapshot{}, err
		}
		next.UpdatedAt = a.now().UTC()
		return next.Normalize(), nil
	})
}

// write runs the read-modify-write cycle, re-reading after every version
// conflict until maxAttempts is reached.
func (a *Adapter) write(ctx context.Context, tenantID, op string, build func(orgchart.Snapshot, bool) (orgchart.Snapshot, error)) (orgchart.Snapshot, error) {
	for attempt := 1; attempt <= a.maxAttempts; attempt++ {
		existing, found, err := a.Load(ctx, tenantID)
		if err != nil {
			return orgchart.Snapshot{}, err
		}
		next, err := build(existing, found)
		if err != nil {
			return orgchart.Snapshot{}, err
		}
		next.Version = existing.Version + 1
		body, err := json.Marshal(next)
		if err != nil {
			return orgchart.Snapshot{}, fmt.Errorf("encode org chart: %w", err)
		}

		doc, err := a.parts.CompareAndPut(ctx, tenantID, store.KeyOrgChart, body, existing.Version)
		if errors.Is(err, store.ErrVersionConflict) {
			metrics.SaveAttempts.WithLabelValues(op, "conflict").Inc()
			a.logger.Debug("org chart version conflict",
				zap.String("tenant_id", tenantID),
				zap.String("operation", op),
				zap.Int("attempt", attempt),
			)
			continue
		}
		if err != nil {
			metrics.SaveAttempts.WithLabelValues(op, "error").Inc()
			return orgchart.Snapshot{}, fmt.Errorf("write org chart: %w", err)
		}
		metrics.SaveAttempts.WithLabelValues(op, "ok").Inc()
		next.Version = doc.Version
		return next, nil
	}
	a.logger.Warn("org chart write gave up after repeated conflicts",
		zap.String("tenant_id", tenantID),
		zap.String("operation", op),
		zap.Int("attempts", a.maxAttempts),
	)
	return orgchart.Snapshot{}, ErrConcurrentUpdate
}
