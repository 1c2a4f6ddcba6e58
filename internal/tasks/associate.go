package tasks

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/tally/internal/metrics"
	"github.com/desertthunder/tally/internal/repositories"
	"github.com/desertthunder/tally/internal/shared"
)

// bestOfMarker precedes the artist name in artist playlist titles.
const bestOfMarker = "Best of "

// SkippedAssociation is an artist playlist left without an artist.
type SkippedAssociation struct {
	PlaylistID   string `json:"playlist_id"`
	PlaylistName string `json:"playlist_name"`
	Candidate    string `json:"candidate,omitempty"`
	Reason       string `json:"reason"`
}

// AssociationResult reports an association pass.
type AssociationResult struct {
	AssociationsMade int                  `json:"associations_made"`
	Candidates       int                  `json:"candidates"`
	Skipped          []SkippedAssociation `json:"skipped,omitempty"`
}

// Associator links artist playlists to their artist by the name in the title.
type Associator struct {
	playlists *repositories.PlaylistRepository
	artists   *repositories.ArtistRepository
	logger    *log.Logger
}

// NewAssociator creates an Associator over the given database.
func NewAssociator(db *sql.DB, logger *log.Logger) *Associator {
	if logger == nil {
		logger = shared.NewLogger(nil)
	}
	return &Associator{
		playlists: repositories.NewPlaylistRepository(db),
		artists:   repositories.NewArtistRepository(db),
		logger:    logger.With("pass", "associate"),
	}
}

// AssociateArtistPlaylists links every unassociated artist playlist whose title names a
// stored artist.
//
// The match is a case-insensitive name comparison. When several artists share the name the
// oldest wins and a warning is logged. Skipped playlists are attempted again on the next pass.
// A store failure skips only the playlist it occurred on; the joined failures are returned
// alongside the result once every playlist has been tried.
func (a *Associator) AssociateArtistPlaylists(ctx context.Context) (*AssociationResult, error) {
	playlists, err := a.playlists.ListUnassociatedArtistPlaylists(ctx)
	if err != nil {
		return nil, err
	}

	result := &AssociationResult{Candidates: len(playlists)}
	skip := func(id, name, candidate, reason string) {
		result.Skipped = append(result.Skipped, SkippedAssociation{PlaylistID: id, PlaylistName: name, Candidate: candidate, Reason: reason})
	}

	var errs []error
	fail := func(id, name, candidate string, err error) {
		a.logger.Error("artist playlist association failed", "playlist", name, "candidate", candidate, "error", err)
		metrics.AssociationsTotal.WithLabelValues("error").Inc()
		skip(id, name, candidate, "error")
		errs = append(errs, err)
	}

	for _, p := range playlists {
		candidate, ok := CandidateArtistName(p.Name)
		if !ok {
			a.logger.Warn("artist playlist title has no artist name", "playlist", p.Name, "marker", bestOfMarker)
			metrics.AssociationsTotal.WithLabelValues("no_marker").Inc()
			skip(p.ID, p.Name, "", "no_marker")
			continue
		}

		matches, err := a.artists.FindByName(ctx, candidate)
		if err != nil {
			fail(p.ID, p.Name, candidate, fmt.Errorf("failed to match artist %q: %w", candidate, err))
			continue
		}
		if len(matches) == 0 {
			a.logger.Warn("no artist matches playlist title", "playlist", p.Name, "candidate", candidate)
			metrics.AssociationsTotal.WithLabelValues("no_match").Inc()
			skip(p.ID, p.Name, candidate, "no_match")
			continue
		}
		if len(matches) > 1 {
			a.logger.Warn("several artists share the name, linking the oldest", "playlist", p.Name, "candidate", candidate, "matches", len(matches))
			metrics.AssociationsTotal.WithLabelValues("ambiguous").Inc()
		}

		artist := matches[0]
		if err := a.playlists.SetAssociatedArtist(ctx, p.ID, artist.ID); err != nil {
			fail(p.ID, p.Name, candidate, fmt.Errorf("failed to link playlist %q: %w", p.Name, err))
			continue
		}
		metrics.AssociationsTotal.WithLabelValues("linked").Inc()
		result.AssociationsMade++
		a.logger.Info("linked artist playlist", "playlist", p.Name, "artist", artist.Name)
	}

	if len(errs) > 0 {
		return result, fmt.Errorf("%d of %d artist playlists failed to associate: %w", len(errs), len(playlists), errors.Join(errs...))
	}
	return result, nil
}

// CandidateArtistName extracts the artist name from a title such as "Best of Gucci Mane".
//
// The name is the text after the first marker, up to any further marker, trimmed.
func CandidateArtistName(title string) (string, bool) {
	_, rest, found := strings.Cut(title, bestOfMarker)
	if !found {
		return "", false
	}
	if next, _, ok := strings.Cut(rest, bestOfMarker); ok {
		rest = next
	}
	name := strings.TrimSpace(rest)
	return name, name != ""
}
