// Package fetcher retrieves raw FOIA entry pages from the remote site.
package fetcher

import (
	"context"
	"fmt"

	"github.com/rotisserie/eris"
)

// ErrNotFound is returned when the remote site answers with a redirect,
// which is how it signals that no entry exists for an id.
var ErrNotFound = eris.New("fetcher: entry not found")

// Page is the raw markup of one entry detail page.
type Page struct {
	ID         int
	URL        string
	StatusCode int
	Body       []byte
}

// Fetcher defines the interface for downloading entry pages.
type Fetcher interface {
	// Fetch retrieves the detail page for id. It returns ErrNotFound when the
	// entry does not exist and a *TransportError for any other failure.
	Fetch(ctx context.Context, id int) (*Page, error)
}

// TransportError is a failed fetch that was not a not-found signal: a
// non-success HTTP status or a network failure.
type TransportError struct {
	ID         int
	StatusCode int
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetcher: entry %d: http %d: %v", e.ID, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("fetcher: entry %d: %v", e.ID, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}
