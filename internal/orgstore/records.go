package orgstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"orgchart/api/internal/store"
)

var ErrRecordNotFound = errors.New("record not found")

// UserRecord is the login record of a tenant. Logins overwrite it.
type UserRecord struct {
	Email        string          `json:"email"`
	PasswordHash string          `json:"passwordHash"`
	UserType     string          `json:"userType"`
	CUI          string          `json:"cui,omitempty"`
	CompanyData  json.RawMessage `json:"companyData,omitempty"`
	CreatedAt    time.Time       `json:"createdAt"`
}

// AdminSetup is the profile captured by the admin setup form.
type AdminSetup struct {
	FirstName  string    `json:"firstName"`
	LastName   string    `json:"lastName"`
	Phone      string    `json:"phone"`
	LinkedIn   string    `json:"linkedIn"`
	Position   string    `json:"position"`
	Department string    `json:"department"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

func (a *Adapter) SaveUser(ctx context.Context, tenantID string, rec UserRecord) error {
	return a.putJSON(ctx, tenantID, store.KeyUserData, rec)
}

func (a *Adapter) GetUser(ctx context.Context, tenantID string) (UserRecord, error) {
	var rec UserRecord
	err := a.getJSON(ctx, tenantID, store.KeyUserData, &rec)
	return rec, err
}

func (a *Adapter) SaveAdminSetup(ctx context.Context, tenantID string, setup AdminSetup) error {
	return a.putJSON(ctx, tenantID, store.KeyAdminData, setup)
}

func (a *Adapter) GetAdminSetup(ctx context.Context, tenantID string) (AdminSetup, error) {
	var setup AdminSetup
	err := a.getJSON(ctx, tenantID, store.KeyAdminData, &setup)
	return setup, err
}

func (a *Adapter) putJSON(ctx context.Context, tenantID, key string, value any) error {
	body, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	if _, err := a.parts.Put(ctx, tenantID, key, body); err != nil {
		return fmt.Errorf("write %s: %w", key, err)
	}
	return nil
}

func (a *Adapter) getJSON(ctx context.Context, tenantID, key string, target any) error {
	doc, err := a.parts.Get(ctx, tenantID, key)
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("%s: %w", key, ErrRecordNotFound)
	}
	if err != nil {
		return fmt.Errorf("read %s: %w", key, err)
	}
	if err := json.Unmarshal(doc.Body, target); err != nil {
		return fmt.Errorf("decode %s: %w", key, err)
	}
	return nil
}
