package export

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"orgchart/api/internal/orgchart"
	"orgchart/api/internal/orgstore"
)

// Source loads the chart being exported.
type Source interface {
	Load(ctx context.Context, tenantID string) (orgchart.Snapshot, bool, error)
}

// Service provides chart export functionality
type Service struct {
	source Source
	logger *zap.Logger
	now    func() time.Time
	pdf    func(ctx context.Context, html, title string) (*Result, error)
}

func NewService(source Source, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{source: source, logger: logger, now: time.Now, pdf: exportPDF}
}

// Export generates an export of the tenant's stored chart in the requested
// format. A tenant with no chart yields orgstore.ErrSnapshotNotFound.
func (s *Service) Export(ctx context.Context, tenantID string, format Format) (*Result, error) {
	snap, found, err := s.source.Load(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, orgstore.ErrSnapshotNotFound
	}
	title := "orgchart " + tenantID

	switch format {
	case FormatPDF:
		html, err := RenderChartHTML(NewTemplateData("Organization chart", snap, s.now()))
		if err != nil {
			return nil, fmt.Errorf("render template: %w", err)
		}
		res, err := s.pdf(ctx, html, title)
		if err != nil {
			s.logger.Warn("pdf export failed", zap.String("tenant_id", tenantID), zap.Error(err))
			return nil, err
		}
		return res, nil
	case FormatXLSX:
		return exportXLSX(snap, title)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
}
