package errors

import (
	"errors"
	"fmt"
)

// Severity drives log level and Sentry reporting.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

const (
	CodeValidation  = "E100"
	CodePersistence = "E200"
	CodeTransport   = "E300"
	CodeState       = "E400"
	CodeRateLimit   = "E500"
	CodeDataQuality = "E600"
)

const defaultUserMessage = "Something went wrong. Please try again later."

// AppError carries a stable code, a message for logs and a message safe to show the user.
type AppError struct {
	Code        string
	Message     string
	UserMessage string
	Severity    Severity
	Retryable   bool
	cause       error
}

func (e *AppError) Error() string {
	if e == nil {
		return ""
	}

	return e.Message
}

func (e *AppError) Unwrap() error {
	if e == nil {
		return nil
	}

	return e.cause
}

func (e *AppError) reportable() bool {
	return e.Severity == SeverityHigh || e.Severity == SeverityCritical
}

// As returns the first AppError in err's chain.
func As(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) && appErr != nil {
		return appErr, true
	}
	return nil, false
}

// CodeOf returns err's AppError code, or CodeUnknown.
func CodeOf(err error) string {
	if appErr, ok := As(err); ok {
		return appErr.Code
	}
	return CodeUnknown
}

// kind holds the defaults for a code.
type kind struct {
	userMessage string
	severity    Severity
	retryable   bool
}

var kinds = map[string]kind{
	CodeValidation:  {severity: SeverityLow},
	CodePersistence: {userMessage: "Temporary problem on our side, please try again later.", severity: SeverityHigh, retryable: true},
	CodeTransport:   {userMessage: "The service is temporarily unavailable.", severity: SeverityMedium, retryable: true},
	CodeState:       {userMessage: "That is not possible right now.", severity: SeverityMedium},
	CodeRateLimit:   {severity: SeverityLow},
	CodeDataQuality: {userMessage: defaultUserMessage, severity: SeverityMedium},
}

func newAppError(code, msg string, cause error) *AppError {
	k := kinds[code]
	return &AppError{
		Code:        code,
		Message:     msg,
		UserMessage: k.userMessage,
		Severity:    k.severity,
		Retryable:   k.retryable,
		cause:       cause,
	}
}

// NewValidationError shows msg to the user as is.
func NewValidationError(msg string) *AppError {
	e := newAppError(CodeValidation, msg, nil)
	e.UserMessage = msg
	return e
}

func NewDatabaseError(cause error) *AppError {
	msg := "database error"
	if cause != nil {
		msg += ": " + cause.Error()
	}
	return newAppError(CodePersistence, msg, cause)
}

// NewTransportError wraps a failure talking to the messaging transport or another
// external service.
func NewTransportError(name string, cause error) *AppError {
	msg := name + " unavailable"
	if cause != nil {
		msg += ": " + cause.Error()
	}
	return newAppError(CodeTransport, msg, cause)
}

func NewStateError(msg string) *AppError {
	return newAppError(CodeState, msg, nil)
}

func NewRateLimitError(retryAfter int) *AppError {
	e := newAppError(CodeRateLimit, fmt.Sprintf("rate limit exceeded, retry after %ds", retryAfter), nil)
	e.UserMessage = fmt.Sprintf("Too many requests. Try again in %d seconds.", retryAfter)
	return e
}

// NewDataQualityError marks catalog or stored data that had to be repaired or skipped.
func NewDataQualityError(msg string) *AppError {
	return newAppError(CodeDataQuality, msg, nil)
}
