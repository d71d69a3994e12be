package app

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/go-playground/validator/v10"

	"orgchart/api/internal/advisor"
	"orgchart/api/internal/blob"
	"orgchart/api/internal/export"
	"orgchart/api/internal/history"
	"orgchart/api/internal/orgchart"
	"orgchart/api/internal/orgstore"
	"orgchart/api/internal/search"
	"orgchart/api/internal/tenant"
	"orgchart/api/internal/upload"
)

type DomainError struct {
	Status  int
	Code    string
	Message string
	Details any
}

func (e *DomainError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func domainError(status int, code, message string, details any) *DomainError {
	return &DomainError{
		Status:  status,
		Code:    code,
		Message: message,
		Details: details,
	}
}

func validationError(message string) *DomainError {
	return domainError(http.StatusBadRequest, "VALIDATION_ERROR", message, nil)
}

// sentinel maps a package error to its response. Upstream failures carry the
// raw error text in the envelope.
type sentinel struct {
	err      error
	status   int
	code     string
	message  string
	upstream bool
}

// Messages a client may rely on keep the wording the frontend already shows.
var sentinels = []sentinel{
	{orgchart.ErrInvalidSection, http.StatusBadRequest, "INVALID_SECTION", "Invalid section. Must be one of: ci, contract, cv", false},
	{upload.ErrFileNameRequired, http.StatusBadRequest, "VALIDATION_ERROR", "File name is required", false},
	{upload.ErrNoFiles, http.StatusBadRequest, "VALIDATION_ERROR", "No file uploaded", false},
	{upload.ErrInvalidFileName, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid file name", false},
	{upload.ErrTooManyFiles, http.StatusBadRequest, "VALIDATION_ERROR", "Too many files", false},
	{upload.ErrFileTooLarge, http.StatusRequestEntityTooLarge, "FILE_TOO_LARGE", "File exceeds the size limit", false},
	{tenant.ErrCUIRequired, http.StatusBadRequest, "VALIDATION_ERROR", "CUI is required for company accounts", false},
	{tenant.ErrTenantRequired, http.StatusBadRequest, "VALIDATION_ERROR", "Collection ID is required", false},
	{tenant.ErrInvalidLogin, http.StatusBadRequest, "VALIDATION_ERROR", "Email and password are required", false},
	{search.ErrEmptyQuery, http.StatusBadRequest, "VALIDATION_ERROR", "Search query is required", false},
	{export.ErrUnsupportedFormat, http.StatusBadRequest, "VALIDATION_ERROR", "Unsupported export format", false},
	{advisor.ErrEmptyMessage, http.StatusBadRequest, "VALIDATION_ERROR", "Message is required", false},
	{advisor.ErrMissingIndustry, http.StatusBadRequest, "VALIDATION_ERROR", "caenCode or denCaen is required", false},
	{history.ErrInvalidTenant, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid collection ID", false},
	{orgstore.ErrSnapshotNotFound, http.StatusNotFound, "NOT_FOUND", "Organization chart not found", false},
	{orgchart.ErrDepartmentNotFound, http.StatusNotFound, "NOT_FOUND", "Department not found", false},
	{orgchart.ErrOwnerNotFound, http.StatusNotFound, "NOT_FOUND", "User not found in org chart", false},
	{orgchart.ErrDocumentNotFound, http.StatusNotFound, "NOT_FOUND", "Document not found", false},
	{orgstore.ErrRecordNotFound, http.StatusNotFound, "NOT_FOUND", "Admin data not found", false},
	{history.ErrNotFound, http.StatusNotFound, "NOT_FOUND", "History entry not found", false},
	{orgstore.ErrConcurrentUpdate, http.StatusConflict, "CONCURRENT_UPDATE", "Organization chart changed concurrently, try again", false},
	{advisor.ErrUpstream, http.StatusBadGateway, "UPSTREAM_ERROR", "AI service unavailable", true},
	{blob.ErrUpstream, http.StatusBadGateway, "UPSTREAM_ERROR", "File storage unavailable", true},
	{export.ErrPDFDependencyMissing, http.StatusServiceUnavailable, "EXPORT_UNAVAILABLE", "PDF export is not available on this server", false},
	{history.ErrDisabled, http.StatusServiceUnavailable, "HISTORY_DISABLED", "Chart history is disabled", false},
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	var validationErrs validator.ValidationErrors
	if errors.As(err, &validationErrs) {
		return http.StatusBadRequest, "VALIDATION_ERROR", "Invalid request", fieldErrors(validationErrs)
	}
	for _, s := range sentinels {
		if errors.Is(err, s.err) {
			if s.upstream {
				return s.status, s.code, s.message, err.Error()
			}
			return s.status, s.code, s.message, nil
		}
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}

// fieldErrors maps each failing field to the rule it broke.
func fieldErrors(errs validator.ValidationErrors) map[string]string {
	out := make(map[string]string, len(errs))
	for _, fe := range errs {
		out[fe.Field()] = fe.Tag()
	}
	return out
}
