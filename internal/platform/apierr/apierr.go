package apierr

import (
	"errors"
	"fmt"
	"net/http"
)

type Error struct {
	Status int
	Code   string
	Err    error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	if e.Code != "" {
		return e.Code
	}
	if e.Status != 0 {
		return fmt.Sprintf("api error (%d)", e.Status)
	}
	return "api error"
}

func (e *Error) Unwrap() error { return e.Err }

func New(status int, code string, err error) *Error {
	return &Error{Status: status, Code: code, Err: err}
}

// FromReason maps a pipeline reason code to its HTTP status. Unknown codes
// map to 500 so nothing silently succeeds.
func FromReason(code string, err error) *Error {
	return New(statusForReason(code), code, err)
}

func statusForReason(code string) int {
	switch code {
	case "GUARDRAIL_BLOCKED":
		return http.StatusForbidden
	case "LLM_RATE_LIMITED":
		return http.StatusTooManyRequests
	case "LLM_STRUCTURED_FAILURE", "PLAN_FAILED":
		return http.StatusUnprocessableEntity
	case "TEMPLATE_PARAM_MISSING",
		"VALIDATION_WRITE_BANNED",
		"VALIDATION_UNKNOWN_LABEL",
		"VALIDATION_UNKNOWN_REL",
		"VALIDATION_UNPARAMETERISED",
		"VALIDATION_DEPTH_EXCEEDED",
		"VALIDATION_LIMIT_MISSING",
		"VALIDATION_PARAM_UNBOUND",
		"WRITE_BLOCKED":
		return http.StatusBadRequest
	case "QUERY_TIMEOUT":
		return http.StatusGatewayTimeout
	case "UPSTREAM_UNAVAILABLE", "SCHEMA_UNAVAILABLE":
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// AsError unwraps err into an *Error, or wraps it as a 500.
func AsError(err error) *Error {
	if err == nil {
		return nil
	}
	var ae *Error
	if errors.As(err, &ae) {
		return ae
	}
	return New(http.StatusInternalServerError, "INTERNAL", err)
}
