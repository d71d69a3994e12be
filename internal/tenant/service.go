// Package tenant resolves a login to the tenant partition that holds the
// user's org chart, and manages the user and admin records stored there.
package tenant

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"orgchart/api/internal/orgstore"
	"orgchart/api/internal/registry"
	"orgchart/api/internal/util"
)

const UserTypeCompany = "company"

var (
	ErrCUIRequired    = errors.New("cui is required for company accounts")
	ErrTenantRequired = errors.New("collection ID is required")
	ErrInvalidLogin   = errors.New("email and password are required")
)

type RecordStore interface {
	SaveUser(ctx context.Context, tenantID string, rec orgstore.UserRecord) error
	GetUser(ctx context.Context, tenantID string) (orgstore.UserRecord, error)
	SaveAdminSetup(ctx context.Context, tenantID string, setup orgstore.AdminSetup) error
	GetAdminSetup(ctx context.Context, tenantID string) (orgstore.AdminSetup, error)
}

type CompanyLookup interface {
	Lookup(ctx context.Context, cui string) (json.RawMessage, error)
}

type Service struct {
	records    RecordStore
	registry   CompanyLookup
	logger     *zap.Logger
	now        func() time.Time
	bcryptCost int
}

func NewService(records RecordStore, lookup CompanyLookup, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		records:    records,
		registry:   lookup,
		logger:     logger,
		now:        time.Now,
		bcryptCost: bcrypt.DefaultCost,
	}
}

type LoginRequest struct {
	Email    string
	Password string
	UserType string
	CUI      string
}

type LoginResult struct {
	TenantID    string
	UserType    string
	CompanyData json.RawMessage
}

// Login maps the user to a tenant and (re)writes its user record. Company
// accounts use their CUI as tenant id and are enriched from the registry;
// a failed lookup degrades to a marker instead of failing the login. Other
// accounts get a fresh random tenant on every login.
func (s *Service) Login(ctx context.Context, req LoginRequest) (LoginResult, error) {
	email := strings.TrimSpace(req.Email)
	if email == "" || req.Password == "" {
		return LoginResult{}, ErrInvalidLogin
	}
	cui := strings.TrimSpace(req.CUI)
	isCompany := req.UserType == UserTypeCompany
	if isCompany && cui == "" {
		return LoginResult{}, ErrCUIRequired
	}

	tenantID := util.NewID("")
	var companyData json.RawMessage
	if isCompany {
		tenantID = cui
		companyData = s.lookupCompany(ctx, cui)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), s.bcryptCost)
	if err != nil {
		return LoginResult{}, fmt.Errorf("hash password: %w", err)
	}

	rec := orgstore.UserRecord{
		Email:        email,
		PasswordHash: string(hash),
		UserType:     req.UserType,
		CompanyData:  companyData,
		CreatedAt:    s.now().UTC(),
	}
	if isCompany {
		rec.CUI = cui
	}
	if err := s.records.SaveUser(ctx, tenantID, rec); err != nil {
		return LoginResult{}, fmt.Errorf("save user record: %w", err)
	}

	s.logger.Info("login resolved tenant",
		zap.String("tenant_id", tenantID),
		zap.String("user_type", req.UserType),
	)
	return LoginResult{TenantID: tenantID, UserType: req.UserType, CompanyData: companyData}, nil
}

func (s *Service) lookupCompany(ctx context.Context, cui string) json.RawMessage {
	if s.registry == nil {
		return registry.Unavailable(cui, s.now())
	}
	data, err := s.registry.Lookup(ctx, cui)
	if err != nil {
		s.logger.Warn("company registry lookup failed", zap.String("cui", cui), zap.Error(err))
		return registry.Unavailable(cui, s.now())
	}
	return data
}

type AdminSetupRequest struct {
	TenantID   string
	FirstName  string
	LastName   string
	Phone      string
	LinkedIn   string
	Position   string
	Department string
}

func (s *Service) SetupAdmin(ctx context.Context, req AdminSetupRequest) error {
	tenantID := strings.TrimSpace(req.TenantID)
	if tenantID == "" {
		return ErrTenantRequired
	}
	setup := orgstore.AdminSetup{
		FirstName:  req.FirstName,
		LastName:   req.LastName,
		Phone:      req.Phone,
		LinkedIn:   req.LinkedIn,
		Position:   req.Position,
		Department: req.Department,
		UpdatedAt:  s.now().UTC(),
	}
	if err := s.records.SaveAdminSetup(ctx, tenantID, setup); err != nil {
		return fmt.Errorf("save admin setup: %w", err)
	}
	return nil
}

// Profile returns both records of a tenant. Either one missing yields
// orgstore.ErrRecordNotFound.
func (s *Service) Profile(ctx context.Context, tenantID string) (orgstore.UserRecord, orgstore.AdminSetup, error) {
	user, err := s.records.GetUser(ctx, tenantID)
	if err != nil {
		return orgstore.UserRecord{}, orgstore.AdminSetup{}, err
	}
	setup, err := s.records.GetAdminSetup(ctx, tenantID)
	if err != nil {
		return orgstore.UserRecord{}, orgstore.AdminSetup{}, err
	}
	return user, setup, nil
}
