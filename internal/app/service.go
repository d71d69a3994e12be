package app

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/wI2L/jsondiff"
	"go.uber.org/zap"

	"orgchart/api/internal/advisor"
	"orgchart/api/internal/export"
	"orgchart/api/internal/history"
	"orgchart/api/internal/orgchart"
	"orgchart/api/internal/orgstore"
	"orgchart/api/internal/search"
	"orgchart/api/internal/tenant"
	"orgchart/api/internal/upload"
)

type ChartStore interface {
	Load(ctx context.Context, tenantID string) (orgchart.Snapshot, bool, error)
	Save(ctx context.Context, tenantID string, incoming orgchart.Snapshot) (orgchart.Snapshot, error)
	DeleteDepartment(ctx context.Context, tenantID string, departmentID orgchart.ID) (orgchart.Snapshot, error)
	DeleteEmployee(ctx context.Context, tenantID string, departmentID, employeeID orgchart.ID) (orgchart.Snapshot, error)
	Ping(ctx context.Context) error
}

type Tenants interface {
	Login(ctx context.Context, req tenant.LoginRequest) (tenant.LoginResult, error)
	SetupAdmin(ctx context.Context, req tenant.AdminSetupRequest) error
	Profile(ctx context.Context, tenantID string) (orgstore.UserRecord, orgstore.AdminSetup, error)
}

type Uploads interface {
	Upload(ctx context.Context, tenantID string, ownerID orgchart.ID, rawSection string, files []upload.File) (upload.Result, error)
	SignedURL(ctx context.Context, fileName string) (string, error)
	Delete(ctx context.Context, tenantID string, ownerID orgchart.ID, rawSection, docPath string) (orgchart.Snapshot, error)
	MaxFileBytes() int64
	MaxFiles() int
}

type Advisor interface {
	SuggestDepartments(ctx context.Context, in advisor.Industry) ([]orgchart.Department, error)
	Answer(ctx context.Context, message string, chart orgchart.Snapshot) (string, error)
}

type Searcher interface {
	Search(ctx context.Context, q search.Query) (search.Response, error)
	Index(tenantID string, snap orgchart.Snapshot)
}

type History interface {
	Enabled() bool
	Record(tenantID string, snap orgchart.Snapshot, message string) (history.Commit, error)
	History(tenantID string, limit int) ([]history.Commit, error)
	SnapshotAt(tenantID, hash string) (orgchart.Snapshot, error)
	Compare(tenantID, from, to string) (jsondiff.Patch, error)
}

type Exporter interface {
	Export(ctx context.Context, tenantID string, format export.Format) (*export.Result, error)
}

// Pinger is a dependency checked by the readiness probe.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Deps struct {
	Charts   ChartStore
	Tenants  Tenants
	Uploads  Uploads
	Advisor  Advisor
	Search   Searcher
	History  History
	Exporter Exporter
	// Checks are reported by /api/ready next to the database.
	Checks map[string]Pinger
	Logger *zap.Logger
}

type Service struct {
	charts   ChartStore
	tenants  Tenants
	uploads  Uploads
	advisor  Advisor
	search   Searcher
	history  History
	exporter Exporter
	checks   map[string]Pinger
	logger   *zap.Logger
}

func NewService(deps Deps) *Service {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	return &Service{
		charts:   deps.Charts,
		tenants:  deps.Tenants,
		uploads:  deps.Uploads,
		advisor:  deps.Advisor,
		search:   deps.Search,
		history:  deps.History,
		exporter: deps.Exporter,
		checks:   deps.Checks,
		logger:   deps.Logger,
	}
}

func (s *Service) Ping(ctx context.Context) error {
	return s.charts.Ping(ctx)
}

// Readiness pings the database and every optional dependency. Only the
// database decides readiness; the others are reported as degraded.
func (s *Service) Readiness(ctx context.Context) (bool, map[string]any) {
	ready := true
	checks := map[string]any{
		"database": map[string]any{"status": "ok"},
	}
	if err := s.Ping(ctx); err != nil {
		ready = false
		checks["database"] = map[string]any{"status": "error", "error": err.Error()}
	}
	for name, dep := range s.checks {
		if err := dep.Ping(ctx); err != nil {
			checks[name] = map[string]any{"status": "degraded", "error": err.Error()}
			continue
		}
		checks[name] = map[string]any{"status": "ok"}
	}
	return ready, checks
}

func (s *Service) Login(ctx context.Context, in LoginDTO) (tenant.LoginResult, error) {
	return s.tenants.Login(ctx, tenant.LoginRequest{
		Email:    in.Email,
		Password: in.Password,
		UserType: in.UserType,
		CUI:      in.CUI,
	})
}

func (s *Service) SetupAdmin(ctx context.Context, in AdminSetupDTO) error {
	return s.tenants.SetupAdmin(ctx, tenant.AdminSetupRequest{
		TenantID:   in.CollectionID,
		FirstName:  in.FirstName,
		LastName:   in.LastName,
		Phone:      in.Phone,
		LinkedIn:   in.LinkedIn,
		Position:   in.Position,
		Department: in.Department,
	})
}

func (s *Service) Profile(ctx context.Context, tenantID string) (orgstore.UserRecord, orgstore.AdminSetup, error) {
	return s.tenants.Profile(ctx, tenantID)
}

// Chart returns the stored chart, or false when the tenant never saved one.
func (s *Service) Chart(ctx context.Context, tenantID string) (orgchart.Snapshot, bool, error) {
	return s.charts.Load(ctx, tenantID)
}

func (s *Service) SaveChart(ctx context.Context, tenantID string, in SaveChartDTO) (orgchart.Snapshot, error) {
	snap, err := s.charts.Save(ctx, tenantID, in.Snapshot())
	if err != nil {
		return orgchart.Snapshot{}, err
	}
	s.afterWrite(tenantID, snap, "save")
	return snap, nil
}

func (s *Service) DeleteDepartment(ctx context.Context, tenantID string, departmentID orgchart.ID) (orgchart.Snapshot, error) {
	snap, err := s.charts.DeleteDepartment(ctx, tenantID, departmentID)
	if err != nil {
		return orgchart.Snapshot{}, err
	}
	s.afterWrite(tenantID, snap, "delete department "+string(departmentID))
	return snap, nil
}

func (s *Service) DeleteEmployee(ctx context.Context, tenantID string, departmentID, employeeID orgchart.ID) (orgchart.Snapshot, error) {
	snap, err := s.charts.DeleteEmployee(ctx, tenantID, departmentID, employeeID)
	if err != nil {
		return orgchart.Snapshot{}, err
	}
	s.afterWrite(tenantID, snap, "delete employee "+string(employeeID))
	return snap, nil
}

func (s *Service) Upload(ctx context.Context, tenantID string, ownerID orgchart.ID, section string, files []upload.File) (upload.Result, error) {
	res, err := s.uploads.Upload(ctx, tenantID, ownerID, section, files)
	if len(res.Paths) > 0 {
		s.afterWrite(tenantID, res.Snapshot, "upload "+strings.Join(res.Paths, ", "))
	}
	if err != nil {
		return upload.Result{}, err
	}
	return res, nil
}

func (s *Service) DeleteDocument(ctx context.Context, tenantID string, ownerID orgchart.ID, in DeleteDocumentDTO) (orgchart.Snapshot, error) {
	snap, err := s.uploads.Delete(ctx, tenantID, ownerID, in.Section, in.Path)
	if err != nil {
		return orgchart.Snapshot{}, err
	}
	s.afterWrite(tenantID, snap, "remove document "+in.Path)
	return snap, nil
}

func (s *Service) SignedURL(ctx context.Context, fileName string) (string, error) {
	return s.uploads.SignedURL(ctx, fileName)
}

func (s *Service) MaxUploadBytes() int64 {
	return int64(s.uploads.MaxFiles())*s.uploads.MaxFileBytes() + 1<<20
}

// AdminDocuments returns the admin's document set. found is false when the
// tenant has no chart yet.
func (s *Service) AdminDocuments(ctx context.Context, tenantID string) (orgchart.DocumentSet, bool, error) {
	snap, found, err := s.charts.Load(ctx, tenantID)
	if err != nil || !found {
		return orgchart.DocumentSet{}, false, err
	}
	if snap.AdminData == nil {
		return orgchart.DocumentSet{}, true, domainError(http.StatusNotFound, "NOT_FOUND", "Admin documents not found", nil)
	}
	return snap.AdminData.Documents, true, nil
}

func (s *Service) SuggestDepartments(ctx context.Context, in GenerateDepartmentsDTO) ([]orgchart.Department, error) {
	return s.advisor.SuggestDepartments(ctx, advisor.Industry{
		CUI:             in.CUI,
		CAENCode:        in.CAENCode,
		CAENDescription: in.DenCAEN,
	})
}

// Chat answers against the chart sent by the client, or the stored one
// when the request carries none.
func (s *Service) Chat(ctx context.Context, in ChatDTO) (string, error) {
	if strings.TrimSpace(in.Message) == "" {
		return "", advisor.ErrEmptyMessage
	}
	chart := orgchart.Empty()
	switch {
	case in.Context != nil && (len(in.Context.Departments) > 0 || in.Context.AdminData != nil):
		chart = in.Context.Normalize()
	case strings.TrimSpace(in.CollectionID) != "":
		stored, _, err := s.charts.Load(ctx, in.CollectionID)
		if err != nil {
			return "", err
		}
		chart = stored
	}
	return s.advisor.Answer(ctx, in.Message, chart)
}

// AIContext is the stored chart the assistant would answer against.
func (s *Service) AIContext(ctx context.Context, tenantID string) (orgchart.Snapshot, error) {
	snap, found, err := s.charts.Load(ctx, tenantID)
	if err != nil {
		return orgchart.Snapshot{}, err
	}
	if !found {
		return orgchart.Snapshot{}, orgstore.ErrSnapshotNotFound
	}
	return snap, nil
}

func (s *Service) Search(ctx context.Context, tenantID, text string, limit int) (search.Response, error) {
	return s.search.Search(ctx, search.Query{TenantID: tenantID, Text: text, Limit: limit})
}

func (s *Service) History(tenantID string, limit int) ([]history.Commit, error) {
	return s.history.History(tenantID, limit)
}

func (s *Service) SnapshotAt(tenantID, hash string) (orgchart.Snapshot, error) {
	return s.history.SnapshotAt(tenantID, hash)
}

func (s *Service) Compare(tenantID, from, to string) (jsondiff.Patch, error) {
	if strings.TrimSpace(from) == "" || strings.TrimSpace(to) == "" {
		return nil, validationError("from and to are required")
	}
	return s.history.Compare(tenantID, from, to)
}

func (s *Service) Export(ctx context.Context, tenantID, rawFormat string) (*export.Result, error) {
	format, err := export.ParseFormat(rawFormat)
	if err != nil {
		return nil, err
	}
	return s.exporter.Export(ctx, tenantID, format)
}

// afterWrite records the new chart version and refreshes the search index.
// Neither step can fail the write that triggered it.
func (s *Service) afterWrite(tenantID string, snap orgchart.Snapshot, message string) {
	if s.history != nil && s.history.Enabled() {
		if _, err := s.history.Record(tenantID, snap, message); err != nil && !errors.Is(err, history.ErrDisabled) {
			s.logger.Warn("record chart history",
				zap.String("tenant_id", tenantID),
				zap.String("message", message),
				zap.Error(err),
			)
		}
	}
	if s.search != nil {
		s.search.Index(tenantID, snap)
	}
}
