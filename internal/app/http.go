package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"github.com/ulule/limiter/v3"
	mstdlib "github.com/ulule/limiter/v3/drivers/middleware/stdlib"
	"github.com/ulule/limiter/v3/drivers/store/memory"
	"go.uber.org/zap"

	"orgchart/api/internal/metrics"
	"orgchart/api/internal/orgchart"
	"orgchart/api/internal/orgstore"
	"orgchart/api/internal/upload"
)

const (
	maxJSONBodyBytes    = 2 << 20
	multipartMemory     = 8 << 20
	defaultHistoryLimit = 50
)

type ServerOptions struct {
	CORSOrigin string
	// AIRate limits the /api/ai routes per client IP. A zero rate disables it.
	AIRate limiter.Rate
	// LimiterStore defaults to a process-local memory store.
	LimiterStore limiter.Store
	Logger       *zap.Logger
}

type HTTPServer struct {
	service *Service
	opts    ServerOptions
	logger  *zap.Logger
}

func NewHTTPServer(service *Service, opts ServerOptions) *HTTPServer {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.CORSOrigin == "" {
		opts.CORSOrigin = "*"
	}
	if opts.AIRate.Limit > 0 && opts.LimiterStore == nil {
		opts.LimiterStore = memory.NewStore()
	}
	return &HTTPServer{service: service, opts: opts, logger: opts.Logger}
}

func (s *HTTPServer) Handler() http.Handler {
	return s.withMiddleware(s.router())
}

func (s *HTTPServer) router() *mux.Router {
	r := mux.NewRouter()
	r.Use(s.tagRoute)
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
	})

	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet, http.MethodHead)
	api.HandleFunc("/ready", s.handleReady).Methods(http.MethodGet, http.MethodHead)

	api.HandleFunc("/auth/login", s.handleLogin).Methods(http.MethodPost)
	api.HandleFunc("/auth/admin-setup", s.handleAdminSetup).Methods(http.MethodPost)
	api.HandleFunc("/admin/{tenantId}", s.handleAdmin).Methods(http.MethodGet)

	// Fixed segments go before the {tenantId} patterns they would collide with.
	api.HandleFunc("/org/signed-url", s.handleSignedURL).Methods(http.MethodGet)
	api.HandleFunc("/org/{tenantId}", s.handleGetChart).Methods(http.MethodGet)
	api.HandleFunc("/org/{tenantId}/save", s.handleSaveChart).Methods(http.MethodPost)
	api.HandleFunc("/org/{tenantId}/admin/documents", s.handleAdminDocuments).Methods(http.MethodGet)
	api.HandleFunc("/org/{tenantId}/search", s.handleSearch).Methods(http.MethodGet)
	api.HandleFunc("/org/{tenantId}/export", s.handleExport).Methods(http.MethodGet)
	api.HandleFunc("/org/{tenantId}/history", s.handleHistory).Methods(http.MethodGet)
	api.HandleFunc("/org/{tenantId}/history/compare", s.handleCompare).Methods(http.MethodGet)
	api.HandleFunc("/org/{tenantId}/history/{hash}", s.handleSnapshotAt).Methods(http.MethodGet)
	api.HandleFunc("/org/{tenantId}/departments/{departmentId}", s.handleDeleteDepartment).Methods(http.MethodDelete)
	api.HandleFunc("/org/{tenantId}/departments/{departmentId}/employees/{employeeId}", s.handleDeleteEmployee).Methods(http.MethodDelete)
	api.HandleFunc("/org/{tenantId}/{userId}/upload", s.handleUpload).Methods(http.MethodPost)
	api.HandleFunc("/org/{tenantId}/{userId}/documents", s.handleDeleteDocument).Methods(http.MethodDelete)

	ai := api.PathPrefix("/ai").Subrouter()
	if s.opts.AIRate.Limit > 0 {
		ai.Use(s.rateLimit())
	}
	ai.HandleFunc("/generate-departments", s.handleGenerateDepartments).Methods(http.MethodPost)
	ai.HandleFunc("/chat", s.handleChat).Methods(http.MethodPost)
	ai.HandleFunc("/context/{tenantId}", s.handleAIContext).Methods(http.MethodGet)

	return r
}

func (s *HTTPServer) rateLimit() mux.MiddlewareFunc {
	lim := limiter.New(s.opts.LimiterStore, s.opts.AIRate, limiter.WithTrustForwardHeader(true))
	mw := mstdlib.NewMiddleware(lim,
		mstdlib.WithLimitReachedHandler(func(w http.ResponseWriter, _ *http.Request) {
			writeError(w, http.StatusTooManyRequests, "RATE_LIMITED", "Too many requests, try again later", nil)
		}),
		mstdlib.WithErrorHandler(func(w http.ResponseWriter, r *http.Request, err error) {
			s.logger.Error("rate limiter failed", zap.String("request_id", RequestID(r.Context())), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil)
		}),
	)
	return mw.Handler
}

func (s *HTTPServer) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *HTTPServer) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	ready, checks := s.service.Readiness(ctx)
	status := "ready"
	statusCode := http.StatusOK
	if !ready {
		status = "not_ready"
		statusCode = http.StatusServiceUnavailable
	}
	writeJSON(w, statusCode, map[string]any{
		"ok":     ready,
		"status": status,
		"checks": checks,
	})
}

func (s *HTTPServer) handleLogin(w http.ResponseWriter, r *http.Request) {
	var body LoginDTO
	if !s.bind(w, r, &body) {
		return
	}
	body.Normalize()
	if !s.check(w, r, &body) {
		return
	}
	res, err := s.service.Login(r.Context(), body)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":      true,
		"message":      "Login successful and data saved",
		"collectionId": res.TenantID,
		"companyData":  res.CompanyData,
		"userType":     res.UserType,
	})
}

func (s *HTTPServer) handleAdminSetup(w http.ResponseWriter, r *http.Request) {
	var body AdminSetupDTO
	if !s.bind(w, r, &body) {
		return
	}
	body.Normalize()
	if !s.check(w, r, &body) {
		return
	}
	if err := s.service.SetupAdmin(r.Context(), body); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": "Admin data saved successfully"})
}

func (s *HTTPServer) handleAdmin(w http.ResponseWriter, r *http.Request) {
	user, setup, err := s.service.Profile(r.Context(), mux.Vars(r)["tenantId"])
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":   true,
		"userData":  publicUser(user),
		"adminData": setup,
	})
}

// publicUser is the user record without its password hash.
func publicUser(rec orgstore.UserRecord) map[string]any {
	out := map[string]any{
		"email":     rec.Email,
		"userType":  rec.UserType,
		"createdAt": rec.CreatedAt,
	}
	if rec.CUI != "" {
		out["cui"] = rec.CUI
	}
	if len(rec.CompanyData) > 0 {
		out["companyData"] = rec.CompanyData
	}
	return out
}

func (s *HTTPServer) handleGetChart(w http.ResponseWriter, r *http.Request) {
	snap, found, err := s.service.Chart(r.Context(), mux.Vars(r)["tenantId"])
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if !found {
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "data": nil})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "data": snap})
}

func (s *HTTPServer) handleSaveChart(w http.ResponseWriter, r *http.Request) {
	var body SaveChartDTO
	if !s.bind(w, r, &body) {
		return
	}
	snap, err := s.service.SaveChart(r.Context(), mux.Vars(r)["tenantId"], body)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "Organization chart saved successfully",
		"data":    snap,
	})
}

func (s *HTTPServer) handleDeleteDepartment(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	snap, err := s.service.DeleteDepartment(r.Context(), vars["tenantId"], orgchart.ID(vars["departmentId"]))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "data": snap})
}

func (s *HTTPServer) handleDeleteEmployee(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	snap, err := s.service.DeleteEmployee(r.Context(), vars["tenantId"], orgchart.ID(vars["departmentId"]), orgchart.ID(vars["employeeId"]))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "data": snap})
}

func (s *HTTPServer) handleUpload(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	r.Body = http.MaxBytesReader(w, r.Body, s.service.MaxUploadBytes())
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "FILE_TOO_LARGE", "Request body too large", nil)
			return
		}
		writeError(w, http.StatusBadRequest, "INVALID_BODY", "Invalid multipart body", nil)
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	headers := append(r.MultipartForm.File["file"], r.MultipartForm.File["files"]...)
	files := make([]upload.File, 0, len(headers))
	for _, fh := range headers {
		f, err := fh.Open()
		if err != nil {
			s.fail(w, r, fmt.Errorf("open multipart file %s: %w", fh.Filename, err))
			return
		}
		defer f.Close()
		files = append(files, upload.File{Name: fh.Filename, Size: fh.Size, Reader: f})
	}

	res, err := s.service.Upload(r.Context(), vars["tenantId"], orgchart.ID(vars["userId"]), r.FormValue("section"), files)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	fileURL := ""
	if len(res.URLs) > 0 {
		fileURL = res.URLs[0]
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":  true,
		"fileUrl":  fileURL,
		"fileUrls": res.URLs,
		"paths":    res.Paths,
	})
}

func (s *HTTPServer) handleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	var body DeleteDocumentDTO
	if !s.bind(w, r, &body) {
		return
	}
	if !s.check(w, r, &body) {
		return
	}
	snap, err := s.service.DeleteDocument(r.Context(), vars["tenantId"], orgchart.ID(vars["userId"]), body)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "data": snap})
}

func (s *HTTPServer) handleAdminDocuments(w http.ResponseWriter, r *http.Request) {
	docs, found, err := s.service.AdminDocuments(r.Context(), mux.Vars(r)["tenantId"])
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if !found {
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "data": nil})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "data": docs})
}

func (s *HTTPServer) handleSignedURL(w http.ResponseWriter, r *http.Request) {
	url, err := s.service.SignedURL(r.Context(), r.URL.Query().Get("fileName"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "url": url})
}

func (s *HTTPServer) handleSearch(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	limit, _ := strconv.Atoi(query.Get("limit"))
	resp, err := s.service.Search(r.Context(), mux.Vars(r)["tenantId"], query.Get("q"), limit)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"results": resp.Results,
		"total":   resp.Total,
		"query":   resp.Query,
		"engine":  resp.Engine,
	})
}

func (s *HTTPServer) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit := defaultHistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "limit must be a positive integer", nil)
			return
		}
		limit = n
	}
	commits, err := s.service.History(mux.Vars(r)["tenantId"], limit)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "data": commits})
}

func (s *HTTPServer) handleSnapshotAt(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	snap, err := s.service.SnapshotAt(vars["tenantId"], vars["hash"])
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "data": snap})
}

func (s *HTTPServer) handleCompare(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	patch, err := s.service.Compare(mux.Vars(r)["tenantId"], query.Get("from"), query.Get("to"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "data": patch})
}

func (s *HTTPServer) handleExport(w http.ResponseWriter, r *http.Request) {
	res, err := s.service.Export(r.Context(), mux.Vars(r)["tenantId"], r.URL.Query().Get("format"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	w.Header().Set("Content-Type", res.MimeType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", res.Filename))
	w.Header().Set("Content-Length", strconv.Itoa(len(res.Data)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(res.Data)
}

func (s *HTTPServer) handleGenerateDepartments(w http.ResponseWriter, r *http.Request) {
	var body GenerateDepartmentsDTO
	if !s.bind(w, r, &body) {
		return
	}
	if !s.check(w, r, &body) {
		return
	}
	departments, err := s.service.SuggestDepartments(r.Context(), body)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "departments": departments})
}

func (s *HTTPServer) handleChat(w http.ResponseWriter, r *http.Request) {
	var body ChatDTO
	if !s.bind(w, r, &body) {
		return
	}
	if !s.check(w, r, &body) {
		return
	}
	reply, err := s.service.Chat(r.Context(), body)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "reply": reply})
}

func (s *HTTPServer) handleAIContext(w http.ResponseWriter, r *http.Request) {
	snap, err := s.service.AIContext(r.Context(), mux.Vars(r)["tenantId"])
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "data": snap})
}

// bind decodes the JSON body into target and answers 400 on failure.
func (s *HTTPServer) bind(w http.ResponseWriter, r *http.Request, target any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodyBytes)
	if err := decodeBody(r, target); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "BODY_TOO_LARGE", "Request body too large", nil)
			return false
		}
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return false
	}
	return true
}

func (s *HTTPServer) check(w http.ResponseWriter, r *http.Request, target any) bool {
	if err := validate.Struct(target); err != nil {
		s.fail(w, r, err)
		return false
	}
	return true
}

func (s *HTTPServer) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, code, message, details := mapError(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed",
			zap.String("request_id", RequestID(r.Context())),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", status),
			zap.Error(err),
		)
	}
	writeError(w, status, code, message, details)
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	c := cors.New(cors.Options{
		AllowedOrigins: splitOrigins(s.opts.CORSOrigin),
		AllowedMethods: []string{http.MethodGet, http.MethodHead, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "Authorization", "X-Request-ID"},
		ExposedHeaders: []string{"X-Request-ID", "Content-Disposition"},
	})

	return c.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		info := &requestInfo{id: requestID, route: "unmatched"}
		r = r.WithContext(context.WithValue(r.Context(), requestInfoKey{}, info))

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		writer.Header().Set("X-Request-ID", requestID)
		writer.Header().Set("Cache-Control", "no-store")

		next.ServeHTTP(writer, r)

		elapsed := time.Since(started)
		metrics.HTTPRequests.WithLabelValues(info.route, r.Method, strconv.Itoa(writer.status)).Inc()
		metrics.HTTPLatency.WithLabelValues(info.route).Observe(elapsed.Seconds())
		s.logger.Info("http request",
			zap.String("request_id", requestID),
			zap.String("method", r.Method),
			zap.String("route", info.route),
			zap.String("path", r.URL.Path),
			zap.Int("status", writer.status),
			zap.Int64("duration_ms", elapsed.Milliseconds()),
		)
	}))
}

// tagRoute stores the matched route template so metrics stay low-cardinality.
func (s *HTTPServer) tagRoute(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if info, ok := r.Context().Value(requestInfoKey{}).(*requestInfo); ok {
			if route := mux.CurrentRoute(r); route != nil {
				if tpl, err := route.GetPathTemplate(); err == nil {
					info.route = tpl
				}
			}
		}
		next.ServeHTTP(w, r)
	})
}

type requestInfoKey struct{}

type requestInfo struct {
	id    string
	route string
}

// RequestID returns the id assigned to the request by the middleware.
func RequestID(ctx context.Context) string {
	if info, ok := ctx.Value(requestInfoKey{}).(*requestInfo); ok {
		return info.id
	}
	return ""
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func splitOrigins(raw string) []string {
	var out []string
	for _, origin := range strings.Split(raw, ",") {
		if origin = strings.TrimSpace(origin); origin != "" {
			out = append(out, origin)
		}
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"success": false,
		"code":    code,
		"message": message,
	}
	if details != nil {
		response["error"] = details
	}
	writeJSON(w, status, response)
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, http.ErrBodyReadAfterClose) {
			return nil
		}
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return err
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}
