// Package store persists per-tenant JSON documents. Each tenant owns a
// partition holding a handful of named documents (user record, admin setup,
// org chart); every document carries a version used for conditional writes.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// Document keys inside a tenant partition.
const (
	KeyUserData  = "userData"
	KeyAdminData = "adminData"
	KeyOrgChart  = "orgChart"
)

var (
	ErrNotFound        = errors.New("document not found")
	ErrVersionConflict = errors.New("document version conflict")
)

type Document struct {
	Body      json.RawMessage
	Version   int64
	UpdatedAt time.Time
}

// Partitions is implemented by every backend.
type Partitions interface {
	Get(ctx context.Context, tenantID, key string) (Document, error)
	// Put writes unconditionally and bumps the version.
	Put(ctx context.Context, tenantID, key string, body []byte) (Document, error)
	// CompareAndPut writes only when the stored version equals expected.
	// Expected version 0 means the document must not exist yet.
	CompareAndPut(ctx context.Context, tenantID, key string, body []byte, expected int64) (Document, error)
	Ping(ctx context.Context) error
}
