package fetcher

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// Kind represents the category of failure that occurred during a fetch operation
type Kind string

const (
	// KindTransport indicates a network-level or HTTP status failure, including cancellation
	KindTransport Kind = "transport"
	// KindParse indicates the response arrived but the expected field was absent or not numeric
	KindParse Kind = "parse"
	// KindPatternNotFound indicates the label/price pair could not be located in page markup
	KindPatternNotFound Kind = "pattern_not_found"
	// KindDataQuality indicates a non-positive or non-finite price
	KindDataQuality Kind = "data_quality"
	// KindChainExhausted indicates every source in an asset's fallback chain failed
	KindChainExhausted Kind = "chain_exhausted"
	// KindResourceUnavailable indicates a required resource (e.g. a browser session) could not be obtained
	KindResourceUnavailable Kind = "resource_unavailable"
)

// FetchError represents a structured error from a fetch operation
type FetchError struct {
	Kind       Kind
	Provider   string
	StatusCode int
	Message    string
	Cause      error
}

// Error implements the error interface
func (e *FetchError) Error() string {
	msg := e.Message
	if e.Cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	if e.StatusCode > 0 {
		msg = fmt.Sprintf("%s error (status %d): %s", e.Kind, e.StatusCode, msg)
	} else {
		msg = fmt.Sprintf("%s error: %s", e.Kind, msg)
	}
	if e.Provider != "" {
		return e.Provider + ": " + msg
	}
	return msg
}

// Unwrap implements error unwrapping for errors.Is and errors.As
func (e *FetchError) Unwrap() error {
	return e.Cause
}

// WithProvider returns a copy of the error attributed to provider.
func (e *FetchError) WithProvider(provider string) *FetchError {
	cp := *e
	cp.Provider = provider
	return &cp
}

// NewTransportError creates a transport error
func NewTransportError(cause error) *FetchError {
	msg := "network request failed"
	if errors.Is(cause, context.DeadlineExceeded) {
		msg = "request timed out"
	} else if errors.Is(cause, context.Canceled) {
		msg = "request cancelled"
	}
	return &FetchError{
		Kind:    KindTransport,
		Message: msg,
		Cause:   cause,
	}
}

// NewParseError creates a parse error
func NewParseError(message string, cause error) *FetchError {
	return &FetchError{
		Kind:    KindParse,
		Message: message,
		Cause:   cause,
	}
}

// NewPatternNotFoundError creates an error for markup that no longer matches its pattern
func NewPatternNotFoundError(message string) *FetchError {
	return &FetchError{
		Kind:    KindPatternNotFound,
		Message: message,
	}
}

// NewDataQualityError creates a data quality error
func NewDataQualityError(message string) *FetchError {
	return &FetchError{
		Kind:    KindDataQuality,
		Message: message,
	}
}

// NewResourceUnavailableError creates a resource error
func NewResourceUnavailableError(message string, cause error) *FetchError {
	return &FetchError{
		Kind:    KindResourceUnavailable,
		Message: message,
		Cause:   cause,
	}
}

// NewChainExhaustedError wraps the last error of a fallback chain
func NewChainExhaustedError(assetCode string, tried int, last error) *FetchError {
	return &FetchError{
		Kind:    KindChainExhausted,
		Message: fmt.Sprintf("all %d sources failed for %s", tried, assetCode),
		Cause:   last,
	}
}

// ClassifyHTTPError classifies a non-success HTTP status code into a FetchError.
// Every status failure is a transport failure; the code is kept for reporting.
func ClassifyHTTPError(statusCode int) *FetchError {
	msg := http.StatusText(statusCode)
	switch {
	case statusCode == http.StatusTooManyRequests:
		msg = "rate limit exceeded"
	case statusCode >= 500:
		msg = "server returned an error"
	case statusCode >= 400:
		msg = fmt.Sprintf("client error: HTTP %d", statusCode)
	case msg == "":
		msg = fmt.Sprintf("unexpected status code: %d", statusCode)
	}
	return &FetchError{
		Kind:       KindTransport,
		StatusCode: statusCode,
		Message:    msg,
	}
}

// KindOf returns the failure kind carried by err. Context errors and
// unstructured errors are treated as transport failures.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return KindTransport
}

// AsFetchError converts any error into a *FetchError.
func AsFetchError(err error) *FetchError {
	if err == nil {
		return nil
	}
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe
	}
	return NewTransportError(err)
}
