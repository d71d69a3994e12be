// Package advisor asks a chat completion model for department suggestions
// and answers questions about a tenant's org chart. It never writes to the
// store.
package advisor

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"orgchart/api/internal/orgchart"
	"orgchart/api/internal/util"
)

const (
	minSuggestions = 3
	maxSuggestions = 5
	cacheNamespace = "ai-departments"
)

// DefaultPosition is where suggested departments are placed on the canvas.
var DefaultPosition = orgchart.Position{X: 400, Y: 300}

var (
	ErrUpstream        = errors.New("completion service failed")
	ErrEmptyMessage    = errors.New("message is required")
	ErrMissingIndustry = errors.New("caenCode or denCaen is required")
)

type Cache interface {
	GetJSON(ctx context.Context, namespace, key string, target any) (bool, error)
	SetJSON(ctx context.Context, namespace, key string, value any, ttl time.Duration) error
}

type Options struct {
	SuggestMaxTokens int64
	ChatMaxTokens    int64
	Cache            Cache
	CacheTTL         time.Duration
	Logger           *zap.Logger
}

type Service struct {
	completer        Completer
	cache            Cache
	cacheTTL         time.Duration
	suggestMaxTokens int64
	chatMaxTokens    int64
	logger           *zap.Logger
	now              func() time.Time
}

func NewService(completer Completer, opts Options) *Service {
	if opts.SuggestMaxTokens <= 0 {
		opts.SuggestMaxTokens = 500
	}
	if opts.ChatMaxTokens <= 0 {
		opts.ChatMaxTokens = 1000
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Service{
		completer:        completer,
		cache:            opts.Cache,
		cacheTTL:         opts.CacheTTL,
		suggestMaxTokens: opts.SuggestMaxTokens,
		chatMaxTokens:    opts.ChatMaxTokens,
		logger:           opts.Logger,
		now:              time.Now,
	}
}

type Industry struct {
	CUI             string
	CAENCode        string
	CAENDescription string
}

type suggestionPayload struct {
	Departments []struct {
		Name string `json:"name"`
	} `json:"departments"`
}

// SuggestDepartments returns 3 to 5 department cards for the industry, each
// with a fresh id, the default canvas position and no employees.
func (s *Service) SuggestDepartments(ctx context.Context, in Industry) ([]orgchart.Department, error) {
	if strings.TrimSpace(in.CAENCode) == "" && strings.TrimSpace(in.CAENDescription) == "" {
		return nil, ErrMissingIndustry
	}

	names, err := s.cachedSuggestions(ctx, in)
	if err != nil {
		return nil, err
	}

	out := make([]orgchart.Department, 0, len(names))
	for _, name := range names {
		pos := DefaultPosition
		out = append(out, orgchart.Department{
			ID:        orgchart.ID(util.TimeID(s.now())),
			Name:      name,
			Employees: []orgchart.Employee{},
			Position:  &pos,
		})
	}
	return out, nil
}

func (s *Service) cachedSuggestions(ctx context.Context, in Industry) ([]string, error) {
	key := industryKey(in)
	if s.cache != nil {
		var names []string
		ok, err := s.cache.GetJSON(ctx, cacheNamespace, key, &names)
		if err != nil {
			s.logger.Warn("suggestion cache read failed", zap.Error(err))
		} else if ok && len(names) > 0 {
			return names, nil
		}
	}

	raw, err := s.completer.Complete(ctx, CompletionRequest{
		Operation: "suggest_departments",
		User:      suggestionPrompt(in),
		MaxTokens: s.suggestMaxTokens,
		JSON:      true,
	})
	if err != nil {
		return nil, upstream(err)
	}
	names, err := parseSuggestions(raw)
	if err != nil {
		s.logger.Warn("unusable department suggestions", zap.String("cui", in.CUI), zap.Error(err))
		return nil, err
	}

	if s.cache != nil {
		if err := s.cache.SetJSON(ctx, cacheNamespace, key, names, s.cacheTTL); err != nil {
			s.logger.Warn("suggestion cache write failed", zap.Error(err))
		}
	}
	return names, nil
}

func parseSuggestions(raw string) ([]string, error) {
	var payload suggestionPayload
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return nil, fmt.Errorf("%w: response is not the expected JSON: %v", ErrUpstream, err)
	}
	names := make([]string, 0, len(payload.Departments))
	for _, dept := range payload.Departments {
		name := strings.TrimSpace(dept.Name)
		if name == "" {
			continue
		}
		names = append(names, name)
		if len(names) == maxSuggestions {
			break
		}
	}
	if len(names) < minSuggestions {
		return nil, fmt.Errorf("%w: %d departments suggested, want at least %d", ErrUpstream, len(names), minSuggestions)
	}
	return names, nil
}

func suggestionPrompt(in Industry) string {
	return fmt.Sprintf(`As an organizational expert, suggest 3-5 relevant departments for a company with the following details:
CUI (Company ID): %s
CAEN Code (Industry Code): %s
Industry Description: %s

Please provide departments that would be most suitable for this type of business.
Format the response as a JSON object with a "departments" array of objects with a "name" property only.
Example: {"departments": [{"name": "Human Resources"}, {"name": "Finance"}]}`, in.CUI, in.CAENCode, in.CAENDescription)
}

func industryKey(in Industry) string {
	sum := sha256.Sum256([]byte(strings.ToLower(strings.TrimSpace(in.CAENCode)) + "|" + strings.ToLower(strings.TrimSpace(in.CAENDescription))))
	return hex.EncodeToString(sum[:])
}

// Answer replies to a question about the organization described by chart.
func (s *Service) Answer(ctx context.Context, message string, chart orgchart.Snapshot) (string, error) {
	message = strings.TrimSpace(message)
	if message == "" {
		return "", ErrEmptyMessage
	}
	system, err := chatSystemPrompt(chart)
	if err != nil {
		return "", err
	}
	reply, err := s.completer.Complete(ctx, CompletionRequest{
		Operation: "chat",
		System:    system,
		User:      message,
		MaxTokens: s.chatMaxTokens,
	})
	if err != nil {
		return "", upstream(err)
	}
	return reply, nil
}

// upstream tags a completer failure as ErrUpstream, keeping its text.
func upstream(err error) error {
	if errors.Is(err, ErrUpstream) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrUpstream, err)
}

func chatSystemPrompt(chart orgchart.Snapshot) (string, error) {
	departments := chart.Departments
	if departments == nil {
		departments = []orgchart.Department{}
	}
	deptJSON, err := json.Marshal(departments)
	if err != nil {
		return "", fmt.Errorf("encode departments: %w", err)
	}
	ceo := "unknown"
	if chart.AdminData != nil {
		name := strings.TrimSpace(chart.AdminData.Name)
		if name == "" {
			name = strings.TrimSpace(chart.AdminData.FirstName + " " + chart.AdminData.LastName)
		}
		ceo = fmt.Sprintf("%s (%s)", name, chart.AdminData.Position)
	}
	return fmt.Sprintf(`You are an AI assistant specialized in organizational management.
You have access to the following organization information:

Departments: %s
CEO: %s
Reporting connections: %d

Use this information to provide accurate and relevant responses about the organization.
When asked about specific employees or departments, refer to this data.
If asked about something not in the data, mention that you don't have that information.`, deptJSON, ceo, len(chart.Connections)), nil
}
