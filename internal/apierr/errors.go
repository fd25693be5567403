// Package apierr implements the error taxonomy bubbled uniformly
// through the HTTP layer: a typed AppError carrying an HTTP status and
// machine-readable code, translated at orchestrator boundaries from
// whatever the leaves (transport, DB) returned.
package apierr

import (
	"encoding/json"
	"net/http"
)

type Code string

const (
	AuthRequired        Code = "AUTH_REQUIRED"
	AuthFailed          Code = "AUTH_FAILED"
	Forbidden           Code = "FORBIDDEN"
	NotFound            Code = "NOT_FOUND"
	Conflict            Code = "CONFLICT"
	PreconditionFailed  Code = "PRECONDITION_FAILED"
	ValidationError     Code = "VALIDATION_ERROR"
	ServiceBusy         Code = "SERVICE_BUSY"
	UpstreamUnavailable Code = "UPSTREAM_UNAVAILABLE"
	Timeout             Code = "TIMEOUT"
	Internal            Code = "INTERNAL"
)

var statusByCode = map[Code]int{
	AuthRequired:        http.StatusUnauthorized,
	AuthFailed:          http.StatusUnauthorized,
	Forbidden:           http.StatusForbidden,
	NotFound:            http.StatusNotFound,
	Conflict:            http.StatusConflict,
	PreconditionFailed:  http.StatusPreconditionFailed,
	ValidationError:     http.StatusBadRequest,
	ServiceBusy:         http.StatusServiceUnavailable,
	UpstreamUnavailable: http.StatusBadGateway,
	Timeout:             http.StatusGatewayTimeout,
	Internal:            http.StatusInternalServerError,
}

// AppError is the uniform error shape returned by every corebroker
// component above the leaves.
type AppError struct {
	Status  int
	Code    Code
	Message string
	Err     error
	Fields  map[string]any
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *AppError) Unwrap() error { return e.Err }

func New(code Code, message string) *AppError {
	return &AppError{Status: statusByCode[code], Code: code, Message: message}
}

func Wrap(code Code, message string, err error) *AppError {
	return &AppError{Status: statusByCode[code], Code: code, Message: message, Err: err}
}

func (e *AppError) WithField(key string, val any) *AppError {
	if e.Fields == nil {
		e.Fields = map[string]any{}
	}
	e.Fields[key] = val
	return e
}

func (e *AppError) WithFields(fields map[string]any) *AppError {
	if e.Fields == nil {
		e.Fields = map[string]any{}
	}
	for k, v := range fields {
		e.Fields[k] = v
	}
	return e
}

// Convenience constructors matching the taxonomy one-to-one.
func AuthRequiredErr(msg string) *AppError { return New(AuthRequired, msg) }
func AuthFailedErr(msg string) *AppError   { return New(AuthFailed, msg) }
func ForbiddenErr(msg string) *AppError    { return New(Forbidden, msg) }
func NotFoundErr(msg string) *AppError     { return New(NotFound, msg) }
func ConflictErr(msg string) *AppError     { return New(Conflict, msg) }
func PreconditionFailedErr(msg string) *AppError { return New(PreconditionFailed, msg) }
func ValidationErr(msg string) *AppError   { return New(ValidationError, msg) }
func ServiceBusyErr(msg string) *AppError  { return New(ServiceBusy, msg) }
func UpstreamUnavailableErr(msg string, err error) *AppError {
	return Wrap(UpstreamUnavailable, msg, err)
}
func TimeoutErr(msg string) *AppError              { return New(Timeout, msg) }
func InternalErr(msg string, err error) *AppError  { return Wrap(Internal, msg, err) }

// Write serializes err as the standard JSON error envelope; an AppError
// with a zero Status is written as 500. It takes only *AppError, so a
// caller holding a plain error wraps it as INTERNAL first. No
// correlation id is generated or logged for such errors.
func Write(w http.ResponseWriter, err *AppError) {
	w.Header().Set("Content-Type", "application/json")
	status := err.Status
	if status == 0 {
		status = http.StatusInternalServerError
	}
	w.WriteHeader(status)
	body := map[string]any{
		"error": err.Message,
		"code":  err.Code,
	}
	for k, v := range err.Fields {
		body[k] = v
	}
	_ = json.NewEncoder(w).Encode(body)
}
