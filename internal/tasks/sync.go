package tasks

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/tally/internal/metrics"
	"github.com/desertthunder/tally/internal/models"
	"github.com/desertthunder/tally/internal/repositories"
	"github.com/desertthunder/tally/internal/services"
	"github.com/desertthunder/tally/internal/shared"
	"golang.org/x/sync/errgroup"
)

const (
	emptyConfigMessage   = "No curated playlist IDs configured. Sync aborted."
	notAuthorizedMessage = "Not yet authorized. Log in before syncing."
)

// TokenSource hands out the curator's access token and refreshes it after a 401.
type TokenSource interface {
	AccessToken(ctx context.Context) (string, error)
	Refresh(ctx context.Context) (string, error)
}

// EntryState is where a configured playlist entry ended up in a run.
type EntryState int

const (
	EntryPending EntryState = iota
	EntryFetching
	EntryUpserting
	EntryDone
	EntryFailed
	EntryNotFound
	EntryAborted
)

func (s EntryState) String() string {
	switch s {
	case EntryPending:
		return "pending"
	case EntryFetching:
		return "fetching"
	case EntryUpserting:
		return "upserting"
	case EntryDone:
		return "done"
	case EntryFailed:
		return "failed"
	case EntryNotFound:
		return "not_found"
	case EntryAborted:
		return "aborted"
	default:
		return ""
	}
}

// EntryResult is the outcome of one configured playlist entry.
type EntryResult struct {
	Entry       shared.PlaylistEntry
	Name        string // Name as stored
	PlaylistID  string // Internal ID once upserted
	State       EntryState
	Op          string // Operation that failed: refresh, fetch or upsert
	Err         error
	Tracks      int // Catalog tracks iterated
	ArtistLinks int // Song-artist link operations
	Pruned      int // Stale playlist-song links removed
}

func (r EntryResult) label() string {
	if r.Name != "" {
		return r.Name
	}
	if r.Entry.Name != "" {
		return r.Entry.Name
	}
	return r.Entry.ExternalID
}

func (r *EntryResult) fail(op string, err error) {
	r.State, r.Op, r.Err = EntryFailed, op, err
}

// FailedEntry describes an entry that did not complete.
type FailedEntry struct {
	ExternalID string              `json:"external_id"`
	Type       models.PlaylistType `json:"type"`
	Op         string              `json:"op"`
	Class      string              `json:"class"`
	Reason     string              `json:"reason"`
}

// SyncSummary reports a full sync run.
type SyncSummary struct {
	PlaylistsProcessed      int                `json:"playlists_processed"`
	TracksIterated          int                `json:"tracks_iterated"`
	ArtistLinkOps           int                `json:"artist_link_operations"`
	SongsPruned             int                `json:"stale_links_pruned"`
	NotFound                []string           `json:"not_found,omitempty"`
	Failed                  []FailedEntry      `json:"failed,omitempty"`
	Aborted                 []string           `json:"aborted,omitempty"`
	Association             *AssociationResult `json:"association,omitempty"`
	ArtistsRecomputed       int                `json:"artists_recomputed"`
	ArtistsEnriched         int                `json:"artists_enriched"`
	ReauthorizationRequired bool               `json:"reauthorization_required"`
	Message                 string             `json:"message"`
	StartedAt               time.Time          `json:"started_at"`
	Duration                time.Duration      `json:"duration"`
	Entries                 []EntryResult      `json:"-"`
}

// SyncOptions tunes a [SyncEngine].
type SyncOptions struct {
	Workers          int
	RunTimeout       time.Duration
	PruneStaleTracks bool
	EnrichArtists    bool
}

// SyncOptionsFromConfig builds [SyncOptions] from the sync section of the config.
func SyncOptionsFromConfig(c shared.SyncConfig) SyncOptions {
	return SyncOptions{
		Workers:          c.Workers,
		RunTimeout:       c.RunTimeout,
		PruneStaleTracks: c.PruneStaleTracks,
		EnrichArtists:    c.EnrichArtists,
	}
}

// SyncEngine mirrors the curated playlists into the local catalog.
type SyncEngine struct {
	catalog    services.Catalog
	tokens     TokenSource
	upserter   *Upserter
	associator *Associator
	aggregator *Aggregator
	artists    *repositories.ArtistRepository
	songs      *repositories.SongRepository
	runs       *repositories.SyncRunRepository
	entries    []shared.PlaylistEntry
	opts       SyncOptions
	logger     *log.Logger
}

// NewSyncEngine creates a SyncEngine over the given store, catalog and curated playlist list.
func NewSyncEngine(db *sql.DB, catalog services.Catalog, tokens TokenSource, entries []shared.PlaylistEntry, opts SyncOptions, logger *log.Logger) *SyncEngine {
	if logger == nil {
		logger = shared.NewLogger(nil)
	}
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	logger = logger.With("component", "sync")
	return &SyncEngine{
		catalog:    catalog,
		tokens:     tokens,
		upserter:   NewUpserter(db),
		associator: NewAssociator(db, logger),
		aggregator: NewAggregator(db, logger),
		artists:    repositories.NewArtistRepository(db),
		songs:      repositories.NewSongRepository(db),
		runs:       repositories.NewSyncRunRepository(db),
		entries:    entries,
		opts:       opts,
		logger:     logger,
	}
}

// Entries returns the configured playlist entries in run order.
func (e *SyncEngine) Entries() []shared.PlaylistEntry {
	return e.entries
}

// RunFullSync fetches and stores every configured playlist, then links artist playlists and
// recomputes feature counts.
//
// Entry failures are recorded in the summary and never returned. The error is only set when
// the run cannot continue without the curator logging in again ([shared.ErrNotAuthorized] or
// [shared.ErrReauthorizationRequired]); the summary is returned either way.
func (e *SyncEngine) RunFullSync(ctx context.Context, progress chan<- ProgressUpdate) (*SyncSummary, error) {
	summary := &SyncSummary{StartedAt: time.Now().UTC()}
	run := e.startRun(ctx, summary.StartedAt)

	if len(e.entries) == 0 {
		summary.Message = emptyConfigMessage
		e.logger.Warn(summary.Message)
		e.finish(ctx, run, summary, models.SyncCompleted, progress)
		return summary, nil
	}

	token, err := e.tokens.AccessToken(ctx)
	if err != nil {
		summary.Message = notAuthorizedMessage
		summary.ReauthorizationRequired = true
		summary.Aborted = entryIDs(e.entries)
		e.logger.Error("cannot start sync", "error", err)
		e.finish(ctx, run, summary, models.SyncReauthRequired, progress)
		if errors.Is(err, shared.ErrNotAuthorized) {
			return summary, err
		}
		return summary, fmt.Errorf("%w: %w", shared.ErrNotAuthorized, err)
	}
	holder := &tokenHolder{token: token, source: e.tokens}

	results := e.runEntries(ctx, holder, progress)
	e.fold(summary, results)

	if summary.ReauthorizationRequired {
		summary.Message = fmt.Sprintf(
			"Sync stopped: reauthorization required. Playlists processed: %d. Tracks iterated: %d. Artist link operations: %d.",
			summary.PlaylistsProcessed, summary.TracksIterated, summary.ArtistLinkOps,
		)
		e.logger.Error("sync stopped, curator must log in again", "aborted", len(summary.Aborted))
		e.finish(ctx, run, summary, models.SyncReauthRequired, progress)
		return summary, shared.ErrReauthorizationRequired
	}

	var failed []string
	if e.opts.EnrichArtists {
		summary.ArtistsEnriched = e.enrichArtists(ctx, holder, progress)
	}

	sendProgress(progress, associatingUpdate())
	association, err := e.associator.AssociateArtistPlaylists(ctx)
	if err != nil {
		e.logger.Error("artist playlist association failed", "error", err)
		failed = append(failed, "artist playlist association failed")
	}
	summary.Association = association

	sendProgress(progress, aggregatingUpdate())
	recomputed, err := e.aggregator.RecomputeAllArtistFeatureCounts(ctx)
	if err != nil {
		e.logger.Error("feature count recompute failed", "error", err)
		failed = append(failed, "feature count recompute failed")
	}
	summary.ArtistsRecomputed = recomputed

	status, lead := models.SyncCompleted, "Sync completed."
	if len(failed) > 0 {
		status, lead = models.SyncFailed, "Sync finished with errors: "+strings.Join(failed, "; ")+"."
	}
	summary.Message = fmt.Sprintf(
		"%s Playlists processed: %d. Tracks iterated: %d. Artist link operations: %d.",
		lead, summary.PlaylistsProcessed, summary.TracksIterated, summary.ArtistLinkOps,
	)
	e.finish(ctx, run, summary, status, progress)
	return summary, nil
}

// runEntries processes the configured entries on a bounded worker pool. Results keep config order.
func (e *SyncEngine) runEntries(ctx context.Context, holder *tokenHolder, progress chan<- ProgressUpdate) []EntryResult {
	runCtx, cancelRun := context.WithCancel(ctx)
	if e.opts.RunTimeout > 0 {
		runCtx, cancelRun = context.WithTimeout(ctx, e.opts.RunTimeout)
	}
	defer cancelRun()

	workCtx, stop := context.WithCancelCause(runCtx)
	defer stop(nil)

	total := len(e.entries)
	results := make([]EntryResult, total)
	var completed atomic.Int32

	g := new(errgroup.Group)
	g.SetLimit(e.opts.Workers)
	for i, entry := range e.entries {
		g.Go(func() error {
			sendProgress(progress, fetchingUpdate(i+1, total, entry))

			res := e.processEntry(workCtx, holder, entry)
			if errors.Is(res.Err, shared.ErrReauthorizationRequired) {
				stop(shared.ErrReauthorizationRequired)
			} else if res.State != EntryDone && res.State != EntryNotFound &&
				errors.Is(context.Cause(workCtx), shared.ErrReauthorizationRequired) {
				res.State, res.Op = EntryAborted, ""
			}

			results[i] = res
			e.record(res)
			sendProgress(progress, upsertedUpdate(int(completed.Add(1)), total, res))
			return nil
		})
	}
	_ = g.Wait()

	return results
}

// processEntry drives one entry through Fetching and Upserting.
func (e *SyncEngine) processEntry(ctx context.Context, holder *tokenHolder, entry shared.PlaylistEntry) EntryResult {
	res := EntryResult{Entry: entry, State: EntryPending}

	if cause := context.Cause(ctx); cause != nil {
		if errors.Is(cause, shared.ErrReauthorizationRequired) {
			res.State = EntryAborted
			return res
		}
		res.fail("fetch", fmt.Errorf("%w: run deadline exceeded before fetch: %w", shared.ErrTransient, cause))
		return res
	}

	res.State = EntryFetching
	var src *services.SpotifyPlaylist
	err := holder.do(ctx, func(token string) error {
		var err error
		src, err = e.catalog.FetchPlaylist(ctx, token, entry.ExternalID)
		return err
	})
	switch {
	case err == nil:
	case errors.Is(err, shared.ErrReauthorizationRequired):
		res.fail("refresh", err)
		return res
	case errors.Is(err, shared.ErrNotFound):
		res.State, res.Err = EntryNotFound, err
		return res
	default:
		res.fail("fetch", err)
		return res
	}

	res.State = EntryUpserting
	if err := e.upsertPlaylist(ctx, entry, src, &res); err != nil {
		res.fail("upsert", err)
		return res
	}

	res.State = EntryDone
	return res
}

// upsertPlaylist stores the playlist, its tracks and their artists, then prunes links to songs
// that left the playlist.
func (e *SyncEngine) upsertPlaylist(ctx context.Context, entry shared.PlaylistEntry, src *services.SpotifyPlaylist, res *EntryResult) error {
	playlist, err := e.upserter.UpsertPlaylist(ctx, entry, src)
	if err != nil {
		return err
	}
	res.PlaylistID, res.Name = playlist.ID, playlist.Name

	tracks := src.CatalogTracks()
	keep := make([]string, 0, len(tracks))
	for order, track := range tracks {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%w: stopped at track %d of %d: %w", shared.ErrTransient, order, len(tracks), err)
		}
		res.Tracks++

		artistIDs := make([]string, 0, len(track.Artists))
		for _, a := range track.Artists {
			if a.ID == "" {
				continue
			}
			artist, err := e.upserter.UpsertArtist(ctx, a)
			if err != nil {
				return fmt.Errorf("artist %s: %w", a.ID, err)
			}
			artistIDs = append(artistIDs, artist.ID)
		}

		song, err := e.upserter.UpsertSong(ctx, track)
		if err != nil {
			return fmt.Errorf("track %s: %w", track.ID, err)
		}

		for _, artistID := range artistIDs {
			if _, err := e.upserter.LinkSongArtist(ctx, song.ID, artistID); err != nil {
				return err
			}
			res.ArtistLinks++
		}

		if err := e.upserter.LinkPlaylistSong(ctx, playlist.ID, song.ID, order); err != nil {
			return err
		}
		keep = append(keep, song.ID)
	}

	if e.opts.PruneStaleTracks {
		pruned, err := e.upserter.PruneStaleLinks(ctx, playlist.ID, keep)
		if err != nil {
			return err
		}
		res.Pruned = pruned
	}
	return nil
}

// fold adds the entry results to the summary in config order.
func (e *SyncEngine) fold(summary *SyncSummary, results []EntryResult) {
	summary.Entries = results
	for _, res := range results {
		summary.TracksIterated += res.Tracks
		summary.ArtistLinkOps += res.ArtistLinks
		summary.SongsPruned += res.Pruned

		switch res.State {
		case EntryDone:
			summary.PlaylistsProcessed++
		case EntryNotFound:
			summary.NotFound = append(summary.NotFound, res.Entry.ExternalID)
		case EntryAborted:
			summary.Aborted = append(summary.Aborted, res.Entry.ExternalID)
		default:
			if errors.Is(res.Err, shared.ErrReauthorizationRequired) {
				summary.ReauthorizationRequired = true
			}
			summary.Failed = append(summary.Failed, FailedEntry{
				ExternalID: res.Entry.ExternalID,
				Type:       res.Entry.Type,
				Op:         res.Op,
				Class:      errorClass(res.Err),
				Reason:     errString(res.Err),
			})
		}
	}
}

// record logs and counts one finished entry.
func (e *SyncEngine) record(res EntryResult) {
	metrics.SyncPlaylistsTotal.WithLabelValues(string(res.Entry.Type), res.State.String()).Inc()
	metrics.SyncTracksTotal.Add(float64(res.Tracks))
	metrics.SyncStaleLinksPruned.Add(float64(res.Pruned))

	logger := e.logger.With("playlist", res.Entry.ExternalID, "type", res.Entry.Type)
	switch res.State {
	case EntryDone:
		logger.Info("playlist synced", "name", res.Name, "tracks", res.Tracks, "artist_links", res.ArtistLinks, "pruned", res.Pruned)
	case EntryNotFound:
		logger.Warn("playlist not found upstream, skipping")
	case EntryAborted:
		logger.Warn("playlist not attempted, run stopped")
	default:
		logger.Error("playlist failed", "op", res.Op, "class", errorClass(res.Err), "error", res.Err)
	}
}

// enrichArtists fetches profile images for artists that only have the placeholder.
// Failures are logged and leave the placeholder in place.
func (e *SyncEngine) enrichArtists(ctx context.Context, holder *tokenHolder, progress chan<- ProgressUpdate) int {
	missing, err := e.artists.ListMissingImage(ctx)
	if err != nil {
		e.logger.Warn("could not list artists without images", "error", err)
		return 0
	}
	if len(missing) == 0 {
		return 0
	}
	sendProgress(progress, enrichingUpdate(len(missing)))

	byExternal := make(map[string]*models.Artist, len(missing))
	ids := make([]string, 0, len(missing))
	for _, a := range missing {
		byExternal[*a.ExternalArtistID] = a
		ids = append(ids, *a.ExternalArtistID)
	}

	var found []services.SpotifyArtist
	err = holder.do(ctx, func(token string) error {
		var err error
		found, err = e.catalog.Artists(ctx, token, ids)
		return err
	})
	if err != nil {
		e.logger.Warn("artist enrichment failed", "error", err)
		return 0
	}

	enriched := 0
	for _, src := range found {
		artist, ok := byExternal[src.ID]
		if !ok {
			continue
		}
		url := firstImage(src.Images, models.ArtistPlaceholderImage)
		if url == artist.ProfileImageURL {
			continue
		}
		if err := e.artists.UpdateProfileImage(ctx, artist.ID, url); err != nil {
			e.logger.Warn("could not store artist image", "artist", artist.Name, "error", err)
			continue
		}
		if url != models.ArtistPlaceholderImage {
			enriched++
		}
	}
	e.logger.Info("artist images enriched", "candidates", len(missing), "enriched", enriched)
	return enriched
}

func (e *SyncEngine) startRun(ctx context.Context, startedAt time.Time) *models.SyncRun {
	run, err := e.runs.Start(ctx, startedAt)
	if err != nil {
		e.logger.Warn("could not record sync run", "error", err)
		return nil
	}
	return run
}

func (e *SyncEngine) finish(ctx context.Context, run *models.SyncRun, summary *SyncSummary, status models.SyncRunStatus, progress chan<- ProgressUpdate) {
	summary.Duration = time.Since(summary.StartedAt)
	metrics.RecordSyncRun(string(status), summary.Duration)

	if run != nil {
		completedAt := time.Now().UTC()
		run.Status = status
		run.PlaylistsProcessed = summary.PlaylistsProcessed
		run.TracksIterated = summary.TracksIterated
		run.ArtistLinkOps = summary.ArtistLinkOps
		run.FailedEntries = len(summary.Failed) + len(summary.Aborted)
		run.Message = summary.Message
		run.CompletedAt = &completedAt
		if err := e.runs.Finish(context.WithoutCancel(ctx), run); err != nil {
			e.logger.Warn("could not record sync run result", "error", err)
		}
	}

	e.logger.Info(summary.Message, "status", status, "failed", len(summary.Failed), "not_found", len(summary.NotFound), "duration", summary.Duration)
	sendProgress(progress, completeUpdate(summary))
}

// tokenHolder shares the run's access token between workers. A refresh triggered by a
// rejected token is skipped when another worker has already replaced that token.
type tokenHolder struct {
	mu     sync.Mutex
	token  string
	failed error
	source TokenSource
}

func (h *tokenHolder) current() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.token
}

func (h *tokenHolder) refresh(ctx context.Context, rejected string) (string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.failed != nil {
		return "", h.failed
	}
	if h.token != rejected {
		return h.token, nil
	}

	token, err := h.source.Refresh(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return "", err
		}
		if !errors.Is(err, shared.ErrReauthorizationRequired) {
			err = fmt.Errorf("%w: %w", shared.ErrReauthorizationRequired, err)
		}
		h.failed = err
		return "", err
	}
	h.token = token
	return token, nil
}

// do runs call with the current token. After a 401 it refreshes once and retries once.
func (h *tokenHolder) do(ctx context.Context, call func(token string) error) error {
	token := h.current()
	err := call(token)
	if !errors.Is(err, shared.ErrUnauthorized) {
		return err
	}

	fresh, err := h.refresh(ctx, token)
	if err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("%w: token refresh interrupted: %w", shared.ErrTransient, ctx.Err())
		}
		return err
	}
	return call(fresh)
}

// errorClass names the failure class of err for logs and summaries.
func errorClass(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, shared.ErrReauthorizationRequired):
		return "reauthorization_required"
	case errors.Is(err, shared.ErrNotFound):
		return "not_found"
	case errors.Is(err, shared.ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, shared.ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, shared.ErrValidationGap):
		return "validation_gap"
	case services.IsTransient(err), errors.Is(err, context.Canceled):
		return "transient"
	default:
		return "storage"
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func entryIDs(entries []shared.PlaylistEntry) []string {
	ids := make([]string, len(entries))
	for i, entry := range entries {
		ids[i] = entry.ExternalID
	}
	return ids
}
