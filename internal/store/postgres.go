package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *PostgresStore) Get(ctx context.Context, tenantID, key string) (Document, error) {
	const query = `
		SELECT body, version, updated_at
		FROM tenant_documents
		WHERE tenant_id = $1 AND doc_key = $2
	`
	var (
		body      []byte
		version   int64
		updatedAt time.Time
	)
	err := s.db.QueryRowContext(ctx, query, tenantID, key).Scan(&body, &version, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Document{}, ErrNotFound
	}
	if err != nil {
		return Document{}, fmt.Errorf("get %s/%s: %w", tenantID, key, err)
	}
	return Document{Body: body, Version: version, UpdatedAt: updatedAt}, nil
}

func (s *PostgresStore) Put(ctx context.Context, tenantID, key string, body []byte) (Document, error) {
	const query = `
		INSERT INTO tenant_documents (tenant_id, doc_key, body, version, updated_at)
		VALUES ($1, $2, $3::jsonb, 1, NOW())
		ON CONFLICT (tenant_id, doc_key) DO UPDATE
		SET body = EXCLUDED.body,
			version = tenant_documents.version + 1,
			updated_at = NOW()
		RETURNING version, updated_at
	`
	doc := Document{Body: body}
	if err := s.db.QueryRowContext(ctx, query, tenantID, key, string(body)).Scan(&doc.Version, &doc.UpdatedAt); err != nil {
		return Document{}, fmt.Errorf("put %s/%s: %w", tenantID, key, err)
	}
	return doc, nil
}

func (s *PostgresStore) CompareAndPut(ctx context.Context, tenantID, key string, body []byte, expected int64) (Document, error) {
	const insert = `
		INSERT INTO tenant_documents (tenant_id, doc_key, body, version, updated_at)
		VALUES ($1, $2, $3::jsonb, 1, NOW())
		ON CONFLICT (tenant_id, doc_key) DO NOTHING
		RETURNING version, updated_at
	`
	const update = `
		UPDATE tenant_documents
		SET body = $3::jsonb, version = version + 1, updated_at = NOW()
		WHERE tenant_id = $1 AND doc_key = $2 AND version = $4
		RETURNING version, updated_at
	`
	doc := Document{Body: body}
	var row *sql.Row
	if expected == 0 {
		row = s.db.QueryRowContext(ctx, insert, tenantID, key, string(body))
	} else {
		row = s.db.QueryRowContext(ctx, update, tenantID, key, string(body), expected)
	}
	err := row.Scan(&doc.Version, &doc.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Document{}, ErrVersionConflict
	}
	if err != nil {
		return Document{}, fmt.Errorf("conditional put %s/%s: %w", tenantID, key, err)
	}
	return doc, nil
}
