package main

import (
	"context"
	"sync"
	"time"

	"github.com/desertthunder/tally/internal/repositories"
	"github.com/desertthunder/tally/internal/tasks"
	"github.com/urfave/cli/v3"
)

// SyncRun runs a full sync and prints progress and the summary.
func (r *Runner) SyncRun(ctx context.Context, cmd *cli.Command) error {
	if err := r.open(ctx); err != nil {
		return err
	}
	useJSON := cmd.Bool("json")

	progress, wait := r.printProgress(!useJSON)
	summary, err := r.engine.RunFullSync(ctx, progress)
	close(progress)
	wait()

	if useJSON {
		if writeErr := r.writeJSON(summary, true); writeErr != nil {
			return writeErr
		}
		return reauthHint(err)
	}

	r.writePlainln("")
	r.writePlainHeader("Sync Summary")
	r.writePlain("%s\n\n", summary.Message)
	r.writePlain("Playlists processed:    %d\n", summary.PlaylistsProcessed)
	r.writePlain("Tracks iterated:        %d\n", summary.TracksIterated)
	r.writePlain("Artist link operations: %d\n", summary.ArtistLinkOps)
	r.writePlain("Stale links pruned:     %d\n", summary.SongsPruned)
	if summary.Association != nil {
		r.writePlain("Artist playlists linked: %d of %d\n", summary.Association.AssociationsMade, summary.Association.Candidates)
	}
	if summary.ArtistsEnriched > 0 {
		r.writePlain("Artist images fetched:  %d\n", summary.ArtistsEnriched)
	}
	r.writePlain("Duration:               %s\n", summary.Duration.Round(time.Millisecond))

	if len(summary.NotFound) > 0 {
		r.writePlainln("⚠ Not found (%d):", len(summary.NotFound))
		for _, id := range summary.NotFound {
			r.writePlain("  • %s\n", id)
		}
	}
	if len(summary.Failed) > 0 {
		r.writePlainln("⚠ Failed (%d):", len(summary.Failed))
		for _, f := range summary.Failed {
			r.writePlain("  • %s [%s] %s %s: %s\n", f.ExternalID, f.Type, f.Op, f.Class, f.Reason)
		}
	}
	if len(summary.Aborted) > 0 {
		r.writePlainln("⚠ Not attempted (%d):", len(summary.Aborted))
		for _, id := range summary.Aborted {
			r.writePlain("  • %s\n", id)
		}
	}

	return reauthHint(err)
}

// printProgress returns a channel for engine progress and a func that waits until every
// update sent before the channel is closed has been handled.
func (r *Runner) printProgress(show bool) (chan tasks.ProgressUpdate, func()) {
	progress := make(chan tasks.ProgressUpdate, 100)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for update := range progress {
			if !show {
				continue
			}
			switch update.Phase {
			case tasks.Fetching, tasks.Complete:
				r.logger.Debug(update.Message)
			default:
				r.writePlain("%s\n", update.Message)
			}
		}
	}()
	return progress, wg.Wait
}

// SyncRecount recomputes every artist's feature counts.
func (r *Runner) SyncRecount(ctx context.Context, cmd *cli.Command) error {
	if err := r.open(ctx); err != nil {
		return err
	}

	n, err := tasks.NewAggregator(r.db, r.logger).RecomputeAllArtistFeatureCounts(ctx)
	if n > 0 || err == nil {
		r.writePlain("✓ Recomputed feature counts for %d artists\n", n)
	}
	return err
}

// SyncAssociate links artist playlists to their artists.
func (r *Runner) SyncAssociate(ctx context.Context, cmd *cli.Command) error {
	if err := r.open(ctx); err != nil {
		return err
	}

	result, err := tasks.NewAssociator(r.db, r.logger).AssociateArtistPlaylists(ctx)
	if result == nil {
		return err
	}

	r.writePlain("✓ Linked %d of %d artist playlists\n", result.AssociationsMade, result.Candidates)
	for _, s := range result.Skipped {
		r.writePlain("  • %s: %s\n", s.PlaylistName, s.Reason)
	}
	return err
}

// SyncAlbums backfills album information for songs stored without it.
func (r *Runner) SyncAlbums(ctx context.Context, cmd *cli.Command) error {
	if err := r.open(ctx); err != nil {
		return err
	}

	progress, wait := r.printProgress(true)
	result, err := r.engine.UpdateAlbumInformation(ctx, progress)
	close(progress)
	wait()
	if err != nil {
		return reauthHint(err)
	}

	return r.writePlain("✓ Album information updated for %d songs (%d not returned by the catalog)\n", result.Updated, result.Missing)
}

// SyncHistory lists recent sync runs.
func (r *Runner) SyncHistory(ctx context.Context, cmd *cli.Command) error {
	if err := r.open(ctx); err != nil {
		return err
	}

	runs, err := repositories.NewSyncRunRepository(r.db).List(ctx, cmd.Int("limit"))
	if err != nil {
		return err
	}

	if cmd.Bool("json") {
		return r.writeJSON(runs, true)
	}

	if len(runs) == 0 {
		return r.writePlain("No sync runs recorded yet.\n")
	}

	for _, run := range runs {
		r.writePlain("#%d  %-16s %s\n", run.Sequence, run.Status, run.StartedAt.Local().Format(time.DateTime))
		r.writePlain("    playlists %d, tracks %d, links %d, failed %d\n",
			run.PlaylistsProcessed, run.TracksIterated, run.ArtistLinkOps, run.FailedEntries)
		if run.Message != "" {
			r.writePlain("    %s\n", run.Message)
		}
	}
	return nil
}
