package errors

import (
	defError "errors"
	"fmt"
	"net/http"

	"github.com/go-playground/validator/v10"
)

// Kind classifies an error for callers and for the HTTP layer
type Kind string

const (
	KindPermissionDenied  Kind = "PermissionDenied"
	KindSessionNotFound   Kind = "SessionNotFound"
	KindSessionInactive   Kind = "SessionInactive"
	KindVersionNotFound   Kind = "VersionNotFound"
	KindStaleBaseVersion  Kind = "StaleBaseVersion"
	KindTransformConflict Kind = "TransformConflict"
	KindStorageFailure    Kind = "StorageFailure"
	KindAlreadyMember     Kind = "AlreadyMember"
	KindInvalidEdit       Kind = "InvalidEdit"
	KindInvalidArgument   Kind = "InvalidArgument"
	KindValidation        Kind = "ValidationFailed"
	KindUnauthorized      Kind = "Unauthorized"
	KindUpstreamFailure   Kind = "UpstreamFailure"
	KindInternal          Kind = "Internal"
)

var kindStatus = map[Kind]int{
	KindPermissionDenied:  http.StatusForbidden,
	KindSessionNotFound:   http.StatusNotFound,
	KindSessionInactive:   http.StatusConflict,
	KindVersionNotFound:   http.StatusNotFound,
	KindStaleBaseVersion:  http.StatusConflict,
	KindTransformConflict: http.StatusConflict,
	KindStorageFailure:    http.StatusServiceUnavailable,
	KindAlreadyMember:     http.StatusConflict,
	KindInvalidEdit:       http.StatusUnprocessableEntity,
	KindInvalidArgument:   http.StatusUnprocessableEntity,
	KindValidation:        http.StatusUnprocessableEntity,
	KindUnauthorized:      http.StatusUnauthorized,
	KindUpstreamFailure:   http.StatusBadGateway,
	KindInternal:          http.StatusInternalServerError,
}

// APIError is the typed error returned by every engine operation
type APIError struct {
	Status   int    `json:"-"`
	Kind     Kind   `json:"code"`
	Message  string `json:"message"`
	Details  any    `json:"details,omitempty"`
	Internal error  `json:"-"`
}

func (e *APIError) Error() string {
	if e.Internal != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Internal)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *APIError) Unwrap() error {
	return e.Internal
}

// Is matches any APIError of the same kind, so sentinels work with errors.Is
func (e *APIError) Is(target error) bool {
	t, ok := target.(*APIError)
	return ok && t.Kind == e.Kind
}

// Retryable reports whether a client may retry the failed operation
func (e *APIError) Retryable() bool {
	return e.Kind != KindPermissionDenied && e.Kind != KindSessionNotFound
}

func New(kind Kind, message string, err error) *APIError {
	status, ok := kindStatus[kind]
	if !ok {
		status = http.StatusInternalServerError
	}
	return &APIError{Status: status, Kind: kind, Message: message, Internal: err}
}

// Sentinels for errors.Is comparisons
var (
	ErrPermissionDenied  = &APIError{Kind: KindPermissionDenied}
	ErrSessionNotFound   = &APIError{Kind: KindSessionNotFound}
	ErrSessionInactive   = &APIError{Kind: KindSessionInactive}
	ErrVersionNotFound   = &APIError{Kind: KindVersionNotFound}
	ErrStaleBaseVersion  = &APIError{Kind: KindStaleBaseVersion}
	ErrTransformConflict = &APIError{Kind: KindTransformConflict}
	ErrStorageFailure    = &APIError{Kind: KindStorageFailure}
	ErrAlreadyMember     = &APIError{Kind: KindAlreadyMember}
	ErrInvalidEdit       = &APIError{Kind: KindInvalidEdit}
	ErrInvalidArgument   = &APIError{Kind: KindInvalidArgument}
	ErrUnauthorized      = &APIError{Kind: KindUnauthorized}
	ErrUpstreamFailure   = &APIError{Kind: KindUpstreamFailure}
)

func PermissionDenied(msg string, err error) *APIError {
	return New(KindPermissionDenied, msg, err)
}

func SessionNotFound(msg string, err error) *APIError {
	return New(KindSessionNotFound, msg, err)
}

func SessionInactive(msg string, err error) *APIError {
	return New(KindSessionInactive, msg, err)
}

func VersionNotFound(msg string, err error) *APIError {
	return New(KindVersionNotFound, msg, err)
}

func StaleBaseVersion(msg string, err error) *APIError {
	return New(KindStaleBaseVersion, msg, err)
}

func TransformConflict(msg string, err error) *APIError {
	return New(KindTransformConflict, msg, err)
}

func StorageFailure(msg string, err error) *APIError {
	return New(KindStorageFailure, msg, err)
}

func AlreadyMember(msg string, err error) *APIError {
	return New(KindAlreadyMember, msg, err)
}

func InvalidEdit(msg string, err error) *APIError {
	return New(KindInvalidEdit, msg, err)
}

func InvalidArgument(msg string, err error) *APIError {
	return New(KindInvalidArgument, msg, err)
}

func Unauthorized(msg string, err error) *APIError {
	return New(KindUnauthorized, msg, err)
}

func UpstreamFailure(msg string, err error) *APIError {
	return New(KindUpstreamFailure, msg, err)
}

func Internal(err error) *APIError {
	return New(KindInternal, "Internal server error", err)
}

// FieldError is one failed validation rule of a request body
type FieldError struct {
	Field string `json:"field"`
	Rule  string `json:"rule"`
}

// NewValidationError flattens binding errors into field details
func NewValidationError(err error) *APIError {
	apiErr := New(KindValidation, "Validation failed", err)

	var verrs validator.ValidationErrors
	if defError.As(err, &verrs) {
		fields := make([]FieldError, 0, len(verrs))
		for _, fe := range verrs {
			fields = append(fields, FieldError{Field: fe.Field(), Rule: fe.Tag()})
		}
		apiErr.Details = fields
	}
	return apiErr
}

// KindOf returns the kind of err, Internal when err is not an APIError
func KindOf(err error) Kind {
	var apiErr *APIError
	if defError.As(err, &apiErr) {
		return apiErr.Kind
	}
	return KindInternal
}
