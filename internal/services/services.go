// Catalog client types and error classification
package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/desertthunder/tally/internal/shared"
)

// Catalog is the read surface of the external music catalog.
//
// Every call takes the access token explicitly; the client never holds a credential.
type Catalog interface {
	// FetchPlaylist returns the playlist with every page of its tracks.
	FetchPlaylist(ctx context.Context, token, playlistID string) (*SpotifyPlaylist, error)

	// SearchArtists returns ranked artist candidates for name.
	SearchArtists(ctx context.Context, token, name string, limit int) ([]SpotifyArtist, error)

	// Artists returns full artist objects for ids; unknown ids are omitted.
	Artists(ctx context.Context, token string, ids []string) ([]SpotifyArtist, error)

	// Tracks returns full track objects for ids; unknown ids are omitted.
	Tracks(ctx context.Context, token string, ids []string) ([]SpotifyTrack, error)
}

// CatalogError describes a failed catalog call.
//
// It unwraps to one of [shared.ErrNotFound], [shared.ErrUnauthorized], [shared.ErrRateLimited],
// [shared.ErrTransient] or [shared.ErrValidationGap], plus the underlying cause when there is one.
type CatalogError struct {
	Op     string
	Status int
	Kind   error
	Err    error
}

func (e *CatalogError) Error() string {
	msg := fmt.Sprintf("%s: %v", e.Op, e.Kind)
	if e.Status != 0 {
		msg += fmt.Sprintf(" (status %d)", e.Status)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *CatalogError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// classifyStatus maps a non-2xx HTTP status to its failure class.
func classifyStatus(status int) error {
	switch {
	case status == http.StatusNotFound:
		return shared.ErrNotFound
	case status == http.StatusUnauthorized:
		return shared.ErrUnauthorized
	case status == http.StatusTooManyRequests:
		return shared.ErrRateLimited
	default:
		return shared.ErrTransient
	}
}

// IsTransient reports whether err should be treated as a per-entry, retry-next-run failure.
func IsTransient(err error) bool {
	return errors.Is(err, shared.ErrTransient) ||
		errors.Is(err, shared.ErrRateLimited) ||
		errors.Is(err, shared.ErrValidationGap) ||
		errors.Is(err, context.DeadlineExceeded)
}
