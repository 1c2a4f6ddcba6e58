package server

import (
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/tally/internal/models"
	"github.com/desertthunder/tally/internal/repositories"
	"github.com/desertthunder/tally/internal/shared"
	"github.com/desertthunder/tally/internal/tasks"
)

// reauthMessage is returned with a 401 when the curator must log in again.
const reauthMessage = "please re-authenticate"

// API serves the catalog read models and the sync job triggers as JSON.
//
// Write jobs (sync, recount, associate, album backfill) run one at a time; a second request
// while one is running gets 409.
type API struct {
	engine     *tasks.SyncEngine
	associator *tasks.Associator
	aggregator *tasks.Aggregator
	playlists  *repositories.PlaylistRepository
	artists    *repositories.ArtistRepository
	runs       *repositories.SyncRunRepository
	logger     *log.Logger

	jobs sync.Mutex
}

// NewAPI creates the API over the given store and sync engine.
func NewAPI(db *sql.DB, engine *tasks.SyncEngine, logger *log.Logger) *API {
	logger = logger.With("component", "api")
	return &API{
		engine:     engine,
		associator: tasks.NewAssociator(db, logger),
		aggregator: tasks.NewAggregator(db, logger),
		playlists:  repositories.NewPlaylistRepository(db),
		artists:    repositories.NewArtistRepository(db),
		runs:       repositories.NewSyncRunRepository(db),
		logger:     logger,
	}
}

// Register adds the API routes to r.
func (a *API) Register(r Router) {
	r.Handle(http.MethodPost, "/api/sync/trigger", a.job(a.triggerSync))
	r.Handle(http.MethodPost, "/api/sync/recount", a.job(a.recount))
	r.Handle(http.MethodPost, "/api/sync/associate", a.job(a.associate))
	r.Handle(http.MethodPost, "/api/sync/update-albums", a.job(a.updateAlbums))
	r.Handle(http.MethodGet, "/api/sync/runs", http.HandlerFunc(a.listRuns))
	r.Handle(http.MethodGet, "/api/playlists", http.HandlerFunc(a.listPlaylists))
	r.Handle(http.MethodGet, "/api/playlists/{id}/songs", http.HandlerFunc(a.playlistSongs))
	r.Handle(http.MethodGet, "/api/artists", http.HandlerFunc(a.listArtists))
	r.Handle(http.MethodGet, "/api/artists/{id}", http.HandlerFunc(a.artistDetail))
}

// job serializes write jobs.
func (a *API) job(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !a.jobs.TryLock() {
			writeError(w, http.StatusConflict, "a sync job is already running")
			return
		}
		defer a.jobs.Unlock()
		next(w, r)
	})
}

func (a *API) triggerSync(w http.ResponseWriter, r *http.Request) {
	summary, err := a.engine.RunFullSync(r.Context(), nil)
	if reauthRequired(err) {
		writeError(w, http.StatusUnauthorized, reauthMessage)
		return
	}
	if err != nil {
		a.serverError(w, "sync failed", err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (a *API) recount(w http.ResponseWriter, r *http.Request) {
	n, err := a.aggregator.RecomputeAllArtistFeatureCounts(r.Context())
	if err != nil {
		a.serverError(w, "recount failed", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"artists_recomputed": n})
}

func (a *API) associate(w http.ResponseWriter, r *http.Request) {
	result, err := a.associator.AssociateArtistPlaylists(r.Context())
	if err != nil {
		a.serverError(w, "association failed", err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (a *API) updateAlbums(w http.ResponseWriter, r *http.Request) {
	result, err := a.engine.UpdateAlbumInformation(r.Context(), nil)
	if reauthRequired(err) {
		writeError(w, http.StatusUnauthorized, reauthMessage)
		return
	}
	if err != nil {
		a.serverError(w, "album backfill failed", err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (a *API) listRuns(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	runs, err := a.runs.List(r.Context(), limit)
	if err != nil {
		a.serverError(w, "could not list sync runs", err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(runs))
}

func (a *API) listPlaylists(w http.ResponseWriter, r *http.Request) {
	var typ models.PlaylistType
	if v := r.URL.Query().Get("type"); v != "" {
		parsed, err := models.ParsePlaylistType(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		typ = parsed
	}

	playlists, err := a.playlists.List(r.Context(), typ)
	if err != nil {
		a.serverError(w, "could not list playlists", err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(playlists))
}

func (a *API) playlistSongs(w http.ResponseWriter, r *http.Request) {
	playlist, err := a.playlists.Get(r.Context(), r.PathValue("id"))
	if errors.Is(err, shared.ErrRecordNotFound) {
		writeError(w, http.StatusNotFound, "playlist not found")
		return
	}
	if err != nil {
		a.serverError(w, "could not load playlist", err)
		return
	}

	tracks, err := a.playlists.Tracks(r.Context(), playlist.ID)
	if err != nil {
		a.serverError(w, "could not load playlist songs", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"playlist": playlist, "songs": nonNil(tracks)})
}

func (a *API) listArtists(w http.ResponseWriter, r *http.Request) {
	sort := repositories.ArtistSort(r.URL.Query().Get("sort"))
	artists, err := a.artists.List(r.Context(), sort)
	if err != nil {
		a.serverError(w, "could not list artists", err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(artists))
}

func (a *API) artistDetail(w http.ResponseWriter, r *http.Request) {
	detail, err := a.artists.Detail(r.Context(), r.PathValue("id"))
	if errors.Is(err, shared.ErrRecordNotFound) {
		writeError(w, http.StatusNotFound, "artist not found")
		return
	}
	if err != nil {
		a.serverError(w, "could not load artist", err)
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

func (a *API) serverError(w http.ResponseWriter, msg string, err error) {
	a.logger.Error(msg, "error", err)
	writeError(w, http.StatusInternalServerError, msg)
}

func reauthRequired(err error) bool {
	return errors.Is(err, shared.ErrReauthorizationRequired) || errors.Is(err, shared.ErrNotAuthorized)
}

func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
