package core

import (
	"context"
	"errors"
	"time"
)

// ErrWaitTimeout is returned by Page.WaitFor when no element matched in time.
var ErrWaitTimeout = errors.New("timed out waiting for element")

// Page is the slice of a browser tab the scraper drives.
//
// Selectors are CSS selectors; a comma-separated list matches if any part
// matches. Fill and Click act on the first match.
type Page interface {
	Navigate(ctx context.Context, url string) error
	// WaitFor blocks until selector matches at least one element or the
	// timeout elapses, in which case it returns ErrWaitTimeout.
	WaitFor(ctx context.Context, selector string, timeout time.Duration) error
	Count(ctx context.Context, selector string) (int, error)
	Click(ctx context.Context, selector string) error
	Fill(ctx context.Context, selector, value string) error
	Evaluate(ctx context.Context, script string) error
	// Content returns the outer HTML of the whole document.
	Content(ctx context.Context) (string, error)
	InnerHTML(ctx context.Context, selector string) (string, error)

	SaveSession(ctx context.Context, path string) error
	RestoreSession(ctx context.Context, path string) error
}
