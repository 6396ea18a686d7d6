package errors

const (
	HttpInternalError        = "internal_error"
	HttpInvalidJsonError     = "invalid_json"
	HttpUnauthorizedError    = "unauthorized"
	HttpForbiddenError       = "forbidden"
	HttpTenantMismatchError  = "tenant_mismatch"
	HttpUnsupportedMediaType = "unsupported_media_type"
	HttpNotFoundError        = "not_found"
)

// ErrorResponse is the error response body for all HTTP APIs.
type ErrorResponse struct {
	ErrorType string      `json:"error_type"`
	Message   string      `json:"message"`
	Details   interface{} `json:"details,omitempty"`
}
