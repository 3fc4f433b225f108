// Package fetch abstracts full-page content extraction. Fetches have a short
// hard deadline and are never retried: a slow page is cheaper to skip than to
// wait for.
package fetch

import (
	"context"
	"fmt"
)

// ErrorKind classifies fetch failures. Every kind is ignorable: the caller
// drops the URL and continues.
type ErrorKind string

const (
	KindSkipped    ErrorKind = "skipped" // deny-listed domain
	KindTimeout    ErrorKind = "timeout"
	KindHTTPStatus ErrorKind = "http_status"
	KindTransport  ErrorKind = "transport"
)

// Error is a typed fetch failure.
type Error struct {
	Kind ErrorKind
	URL  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("fetch %s: %s: %v", e.URL, e.Kind, e.Err)
	}
	return fmt.Sprintf("fetch %s: %s", e.URL, e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// PageFetcher is the content-extraction capability. Read returns up to
// maxChars of extracted page text.
type PageFetcher interface {
	Read(ctx context.Context, url string, maxChars int) (string, error)
}
