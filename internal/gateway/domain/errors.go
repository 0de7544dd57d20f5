package domain

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrConfiguration       = errors.New("missing_provider_api_key")
	ErrModelNotAllowed     = errors.New("model_not_allowed")
	ErrUpstreamUnavailable = errors.New("upstream_unavailable")
)

// ModelNotAllowedError names the rejected model.
type ModelNotAllowedError struct {
	Model string
}

func (e *ModelNotAllowedError) Error() string {
	return fmt.Sprintf("Model %s is not allowed.", e.Model)
}

func (e *ModelNotAllowedError) Is(target error) bool {
	return target == ErrModelNotAllowed
}

type UpstreamClass string

const (
	UpstreamClassClient    UpstreamClass = "client"
	UpstreamClassServer    UpstreamClass = "server"
	UpstreamClassNetwork   UpstreamClass = "network"
	UpstreamClassMalformed UpstreamClass = "malformed"
)

// UpstreamError is any failure talking to the model provider. StatusCode is
// zero when no response was received.
type UpstreamError struct {
	StatusCode int
	Class      UpstreamClass
	Retryable  bool
	Err        error
}

func (e *UpstreamError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("upstream %s error (status %d): %v", e.Class, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("upstream %s error: %v", e.Class, e.Err)
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}

func (e *UpstreamError) Is(target error) bool {
	return target == ErrUpstreamUnavailable
}

// NewStatusError classifies an upstream HTTP status. A zero status means the
// request never got a response.
func NewStatusError(status int, err error) *UpstreamError {
	switch {
	case status == 0:
		return &UpstreamError{Class: UpstreamClassNetwork, Retryable: true, Err: err}
	case status >= http.StatusInternalServerError:
		return &UpstreamError{StatusCode: status, Class: UpstreamClassServer, Retryable: true, Err: err}
	case status >= http.StatusBadRequest:
		retryable := status == http.StatusRequestTimeout || status == http.StatusTooManyRequests
		return &UpstreamError{StatusCode: status, Class: UpstreamClassClient, Retryable: retryable, Err: err}
	default:
		return &UpstreamError{StatusCode: status, Class: UpstreamClassMalformed, Err: err}
	}
}
