// Package apperrors maps domain errors onto the HTTP error envelope.
//
// Every error response body has the shape
//
//	{"error": {"code": "...", "message": "...", "request_id": "...", "details": {...}}}
package apperrors

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	gferrors "github.com/fulmenhq/gofulmen/errors"

	"github.com/q99/cloudservices/pkg/discovery"
	"github.com/q99/cloudservices/pkg/factory"
	"github.com/q99/cloudservices/pkg/provider"
)

// RequestIDHeader carries the request correlation ID.
const RequestIDHeader = "X-Request-ID"

// Error codes used by the HTTP surface in addition to provider codes.
const (
	CodeBadRequest         = "BAD_REQUEST"
	CodeInvalidRequest     = "INVALID_REQUEST"
	CodeNotFound           = "NOT_FOUND"
	CodeMethodNotAllowed   = "METHOD_NOT_ALLOWED"
	CodeUnsupportedCloud   = "UNSUPPORTED_CLOUD"
	CodeConfiguration      = "CONFIGURATION_ERROR"
	CodeServiceUnavailable = "SERVICE_UNAVAILABLE"
	CodeTimeout            = "TIMEOUT"
	CodeInternal           = "INTERNAL_ERROR"
)

// ErrorBody is the inner error object.
type ErrorBody struct {
	Code      string         `json:"code"`
	Message   string         `json:"message"`
	RequestID string         `json:"request_id,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
}

// HTTPErrorResponse is the error envelope written to clients.
type HTTPErrorResponse struct {
	Error ErrorBody `json:"error"`
}

// HTTPError is an error that knows its HTTP status and envelope code.
type HTTPError struct {
	Status  int
	Code    string
	Message string
	Details map[string]any
	Err     error
}

// New returns an HTTPError.
func New(status int, code, message string) *HTTPError {
	return &HTTPError{Status: status, Code: code, Message: message}
}

func (e *HTTPError) Error() string {
	if e.Err != nil {
		return e.Code + ": " + e.Message + ": " + e.Err.Error()
	}
	return e.Code + ": " + e.Message
}

func (e *HTTPError) Unwrap() error { return e.Err }

// WithDetails attaches structured details.
func (e *HTTPError) WithDetails(details map[string]any) *HTTPError {
	e.Details = details
	return e
}

// WithCause records the underlying error.
func (e *HTTPError) WithCause(err error) *HTTPError {
	e.Err = err
	return e
}

// BadRequest reports a malformed request body or parameter.
func BadRequest(message string, err error) *HTTPError {
	return New(http.StatusBadRequest, CodeBadRequest, message).WithCause(err)
}

// FromError classifies err.
func FromError(err error) *HTTPError {
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr
	}

	switch {
	case errors.Is(err, discovery.ErrInvalidRequest):
		return New(http.StatusBadRequest, CodeInvalidRequest, err.Error()).WithCause(err)
	case errors.Is(err, factory.ErrUnsupported):
		return New(http.StatusBadRequest, CodeUnsupportedCloud, err.Error()).WithCause(err)
	case errors.Is(err, context.DeadlineExceeded):
		return New(http.StatusGatewayTimeout, CodeTimeout, "request timed out").WithCause(err)
	case errors.Is(err, context.Canceled):
		return New(http.StatusServiceUnavailable, CodeServiceUnavailable, "request canceled").WithCause(err)
	}

	var cfgErr *factory.ConfigurationError
	if errors.As(err, &cfgErr) && !isProviderError(err) {
		return New(http.StatusServiceUnavailable, CodeConfiguration, err.Error()).WithCause(err)
	}

	code := provider.Code(err)
	if code == provider.CodeInternal {
		return New(http.StatusInternalServerError, CodeInternal, err.Error()).WithCause(err)
	}
	return New(statusForCode(code), code, err.Error()).WithCause(err)
}

func isProviderError(err error) bool {
	var pe *provider.ProviderError
	return errors.As(err, &pe)
}

func statusForCode(code string) int {
	switch code {
	case provider.CodeNotFound, provider.CodeBucketNotFound:
		return http.StatusNotFound
	case provider.CodeAccessDenied:
		return http.StatusForbidden
	case provider.CodeInvalidCredentials:
		return http.StatusUnauthorized
	case provider.CodeThrottled:
		return http.StatusTooManyRequests
	case provider.CodeProviderUnavailable:
		return http.StatusBadGateway
	case provider.CodeNotSupported:
		return http.StatusNotImplemented
	default:
		return http.StatusInternalServerError
	}
}

// Envelope builds the gofulmen error envelope for e, stamped with
// requestID when one is known.
func (e *HTTPError) Envelope(requestID string) *gferrors.ErrorEnvelope {
	env := gferrors.NewErrorEnvelope(e.Code, e.Message)
	if requestID != "" {
		env = env.WithCorrelationID(requestID)
	}
	if len(e.Details) > 0 {
		if withCtx, err := env.WithContext(e.Details); err == nil {
			env = withCtx
		}
	}
	return env
}

// WriteJSON writes v as a JSON response.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteEnvelope renders env with the given status.
func WriteEnvelope(w http.ResponseWriter, env *gferrors.ErrorEnvelope, status int) {
	WriteJSON(w, status, HTTPErrorResponse{Error: ErrorBody{
		Code:      env.Code,
		Message:   env.Message,
		RequestID: env.CorrelationID,
		Details:   env.Context,
	}})
}

// Write renders e as the error envelope.
func Write(w http.ResponseWriter, r *http.Request, e *HTTPError) {
	var requestID string
	if r != nil {
		requestID = r.Header.Get(RequestIDHeader)
	}
	WriteEnvelope(w, e.Envelope(requestID), e.Status)
}

// RespondWithError classifies err and writes the envelope.
func RespondWithError(w http.ResponseWriter, r *http.Request, err error) {
	Write(w, r, FromError(err))
}
