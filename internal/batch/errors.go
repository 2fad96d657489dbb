package batch

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Sentinel errors for classification via errors.Is().
var (
	ErrValidation = errors.New("validation error")
	ErrNotFound   = errors.New("not found")
	ErrConflict   = errors.New("conflict")
	ErrTimeout    = errors.New("timeout")
)

// Service error codes the control plane acts on.
const (
	CodePoolNotFound               = "PoolNotFound"
	CodeNodeNotFound               = "NodeNotFound"
	CodeJobNotFound                = "JobNotFound"
	CodeTaskNotFound               = "TaskNotFound"
	CodeApplicationNotFound        = "ApplicationNotFound"
	CodeApplicationPackageNotFound = "ApplicationPackageNotFound"
	CodeResourceNotFound           = "ResourceNotFound"
	CodeNotFound                   = "NotFound"

	CodePoolExists = "PoolExists"
	CodeJobExists  = "JobExists"
	CodeTaskExists = "TaskExists"
)

var notFoundCodes = map[string]bool{
	CodePoolNotFound: true, CodeNodeNotFound: true, CodeJobNotFound: true,
	CodeTaskNotFound: true, CodeApplicationNotFound: true,
	CodeApplicationPackageNotFound: true, CodeResourceNotFound: true, CodeNotFound: true,
}

var conflictCodes = map[string]bool{
	CodePoolExists: true, CodeJobExists: true, CodeTaskExists: true,
}

// RemoteError is a failure reported by the batch service. Classification is
// by Code only; the message text is never inspected.
type RemoteError struct {
	Op         string // Operation that failed (e.g., "pools.resize")
	Code       string // Service error code (e.g., "PoolNotFound")
	StatusCode int
	Err        error
}

func (e *RemoteError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Op, e.Code)
	if e.StatusCode != 0 {
		msg = fmt.Sprintf("%s (status %d)", msg, e.StatusCode)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *RemoteError) Unwrap() error {
	return e.Err
}

// Is matches ErrNotFound and ErrConflict by error code.
func (e *RemoteError) Is(target error) bool {
	switch target {
	case ErrNotFound:
		return notFoundCodes[e.Code]
	case ErrConflict:
		return conflictCodes[e.Code]
	}
	return false
}

// NewRemoteError builds a RemoteError for op with the given code.
func NewRemoteError(op, code string, statusCode int, cause error) error {
	return &RemoteError{Op: op, Code: code, StatusCode: statusCode, Err: cause}
}

// NotFound builds the error a gateway returns for a missing resource.
func NotFound(op, code string) error {
	return NewRemoteError(op, code, http.StatusNotFound, nil)
}

// Conflict builds the error a gateway returns for an already existing resource.
func Conflict(op, code string) error {
	return NewRemoteError(op, code, http.StatusConflict, nil)
}

// Code returns the service error code carried by err, or "".
func Code(err error) string {
	var re *RemoteError
	if errors.As(err, &re) {
		return re.Code
	}
	return ""
}

// IsNotFound reports whether err means the resource is absent.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsConflict reports whether err means the resource already exists.
func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict)
}

// IsTaskExists reports whether a task add failed because a task already exists.
func IsTaskExists(err error) bool {
	return Code(err) == CodeTaskExists
}

// ValidationError describes a rejected argument.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

// Validation creates a validation error for a specific field.
func Validation(field, message string) error {
	return &ValidationError{Field: field, Message: message}
}

// TimeoutError is returned when a pool does not settle in time.
type TimeoutError struct {
	PoolID  string
	Polls   int
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("pool %s did not reach steady state after %d polls (%s)", e.PoolID, e.Polls, e.Timeout)
}

func (e *TimeoutError) Unwrap() error {
	return ErrTimeout
}
