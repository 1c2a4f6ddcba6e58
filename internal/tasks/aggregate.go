package tasks

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/tally/internal/repositories"
	"github.com/desertthunder/tally/internal/shared"
)

// Aggregator recomputes the cached per-artist feature counts.
type Aggregator struct {
	artists *repositories.ArtistRepository
	logger  *log.Logger
}

// NewAggregator creates an Aggregator over the given database.
func NewAggregator(db *sql.DB, logger *log.Logger) *Aggregator {
	if logger == nil {
		logger = shared.NewLogger(nil)
	}
	return &Aggregator{
		artists: repositories.NewArtistRepository(db),
		logger:  logger.With("pass", "aggregate"),
	}
}

// RecomputeAllArtistFeatureCounts overwrites every artist's monthly, yearly and best-of counts
// and returns how many artists were updated. A failing artist is logged and skipped.
func (a *Aggregator) RecomputeAllArtistFeatureCounts(ctx context.Context) (int, error) {
	ids, err := a.artists.ListIDs(ctx)
	if err != nil {
		return 0, err
	}

	updated := 0
	var errs []error
	for _, id := range ids {
		counts, err := a.artists.ComputeFeatureCounts(ctx, id)
		if err == nil {
			err = a.artists.UpdateFeatureCounts(ctx, id, counts)
		}
		if err != nil {
			a.logger.Error("feature count recompute failed", "artist", id, "error", err)
			errs = append(errs, fmt.Errorf("artist %s: %w", id, err))
			continue
		}
		updated++
	}

	a.logger.Info("feature counts recomputed", "artists", updated, "failed", len(errs))
	if len(errs) > 0 {
		return updated, fmt.Errorf("%d of %d artists failed to recompute: %w", len(errs), len(ids), errors.Join(errs...))
	}
	return updated, nil
}
