package embedder

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// Common errors
var (
	ErrEmptyText         = errors.New("text cannot be empty")
	ErrInvalidDimension  = errors.New("dimension must be positive")
	ErrUnsupportedModel  = errors.New("unsupported provider")
	ErrNoProviderEnabled = errors.New("no embedding provider configured")
	ErrNoEmbedding       = errors.New("provider returned no embedding")
	ErrRetriesExhausted  = errors.New("retries exhausted")
	ErrBudgetExhausted   = errors.New("embedding budget exhausted")
)

// ProviderError is a failed provider call. Transient errors (throttling,
// timeouts, 5xx) may be retried; the rest are terminal.
type ProviderError struct {
	Provider   string
	StatusCode int
	Transient  bool
	Err        error
}

func (e *ProviderError) Error() string {
	kind := "terminal"
	if e.Transient {
		kind = "transient"
	}
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: %s provider error (status %d): %v", e.Provider, kind, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: %s provider error: %v", e.Provider, kind, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// DimensionMismatchError means the provider returned a vector of the wrong
// length. It signals a configuration problem and is never retried.
type DimensionMismatchError struct {
	Want int
	Got  int
}

func (e *DimensionMismatchError) Error() string {
	return fmt.Sprintf("embedding dimension mismatch: want %d, got %d", e.Want, e.Got)
}

// IsTransient is the default retry predicate
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, ErrBudgetExhausted) {
		return false
	}

	var dm *DimensionMismatchError
	if errors.As(err, &dm) {
		return false
	}

	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Transient
	}

	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}

var transientMarkers = [][]byte{
	[]byte("RESOURCE_EXHAUSTED"),
	[]byte("UNAVAILABLE"),
	[]byte("rate limit"),
	[]byte("overloaded"),
}

// transientStatus classifies an HTTP failure
func transientStatus(status int, body []byte) bool {
	switch {
	case status == http.StatusRequestTimeout,
		status == http.StatusTooEarly,
		status == http.StatusTooManyRequests,
		status >= 500:
		return true
	}
	for _, m := range transientMarkers {
		if bytes.Contains(body, m) {
			return true
		}
	}
	return false
}
