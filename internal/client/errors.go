package client

import (
	"context"
	"errors"
	"fmt"
)

// NetworkError wraps a transport failure (no response received)
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// Timeout reports whether the request ran out of time
func (e *NetworkError) Timeout() bool {
	return errors.Is(e.Err, context.DeadlineExceeded)
}

type AuthError struct {
	Message    string
	StatusCode int
}

func (e *AuthError) Error() string {
	return statusMessage(e.Message, e.StatusCode)
}

type RateLimitError struct {
	Message    string
	StatusCode int
}

func (e *RateLimitError) Error() string {
	return statusMessage(e.Message, e.StatusCode)
}

type BadRequestError struct {
	Message    string
	StatusCode int
}

func (e *BadRequestError) Error() string {
	return statusMessage(e.Message, e.StatusCode)
}

type BackendError struct {
	Message    string
	StatusCode int
}

func (e *BackendError) Error() string {
	return statusMessage(e.Message, e.StatusCode)
}

func statusMessage(msg string, status int) string {
	if msg == "" {
		return fmt.Sprintf("backend returned status %d", status)
	}
	return msg
}

// StatusCode extracts the HTTP status from a client error, or 0
func StatusCode(err error) int {
	var (
		authErr *AuthError
		rateErr *RateLimitError
		badErr  *BadRequestError
		backErr *BackendError
	)
	switch {
	case errors.As(err, &authErr):
		return authErr.StatusCode
	case errors.As(err, &rateErr):
		return rateErr.StatusCode
	case errors.As(err, &badErr):
		return badErr.StatusCode
	case errors.As(err, &backErr):
		return backErr.StatusCode
	}
	return 0
}

// IsNetworkError reports whether err means the backend could not be reached
func IsNetworkError(err error) bool {
	var netErr *NetworkError
	return errors.As(err, &netErr)
}

// Retryable reports whether a failed write may succeed later unchanged:
// transport failures, 5xx and rate limiting
func Retryable(err error) bool {
	var (
		rateErr *RateLimitError
		backErr *BackendError
	)
	return IsNetworkError(err) || errors.As(err, &rateErr) || errors.As(err, &backErr)
}
