// package testing contains shared testing utilities
package testing

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/desertthunder/tally/internal/shared"
)

// FWriter always returns an error on Write
type FWriter struct{}

func (f *FWriter) Write(p []byte) (n int, err error) {
	return 0, errors.New("write failed")
}

// LimitedWriter fails after a certain number of writes
type LimitedWriter struct {
	maxWrites int
	written   int
	target    io.Writer
}

func (l *LimitedWriter) Write(p []byte) (n int, err error) {
	if l.written >= l.maxWrites {
		return 0, errors.New("write limit exceeded")
	}
	l.written++
	return l.target.Write(p)
}

func NewLimitedWriter(maxWrites, written int, target io.Writer) LimitedWriter {
	return LimitedWriter{maxWrites: maxWrites, written: written, target: target}
}

func MustGetwd(t *testing.T) string {
	t.Helper()
	wd, err := os.Getwd()
	if err != nil {
		t.Fatalf("Failed to get working directory: %v", err)
	}
	return wd
}

func MustChdir(t *testing.T, dir string) {
	t.Helper()
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("Failed to change directory to %s: %v", dir, err)
	}
}

func AssertFileExists(t *testing.T, path string) {
	t.Helper()
	if _, err := os.Stat(path); os.IsNotExist(err) {
		t.Errorf("File does not exist: %s", path)
	}
}

func MustReadFile(t *testing.T, path string) string {
	t.Helper()
	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read file %s: %v", path, err)
	}
	return string(content)
}

// NewTestDB opens a migrated in-memory database that is closed when the test ends.
func NewTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := shared.NewDatabase(":memory:")
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := shared.RunMigrations(db); err != nil {
		t.Fatalf("failed to run migrations: %v", err)
	}
	return db
}

// FakeArtist is an artist served by [FakeCatalog].
type FakeArtist struct {
	ID       string
	Name     string
	ImageURL string
}

// FakeTrack is a playlist item served by [FakeCatalog]. An empty ID is served as a track
// without an id.
type FakeTrack struct {
	ID          string
	Name        string
	AlbumID     string
	AlbumName   string
	ImageURL    string
	ReleaseDate string
	Precision   string
	IsLocal     bool
	Artists     []FakeArtist
}

// FakePlaylist is a playlist served by [FakeCatalog].
type FakePlaylist struct {
	ID          string
	Name        string
	Description string
	ImageURL    string
	Tracks      []FakeTrack
}

// FakeCatalog is an in-process stand-in for the Spotify Web API and its token endpoint.
//
// API routes live under /v1 and the token endpoint under /api/token. Only bearer tokens equal
// to the current access token are accepted; the token endpoint hands out that token.
type FakeCatalog struct {
	Server *httptest.Server

	mu           sync.Mutex
	playlists    map[string]FakePlaylist
	artists      map[string]FakeArtist
	failures     map[string]int
	accessToken  string
	refreshToken string
	tokenStatus  int
	pageSize     int
	requests     map[string]int
}

// NewFakeCatalog starts a fake catalog server that is closed when the test ends.
func NewFakeCatalog(t *testing.T) *FakeCatalog {
	t.Helper()
	f := &FakeCatalog{
		playlists:    map[string]FakePlaylist{},
		artists:      map[string]FakeArtist{},
		failures:     map[string]int{},
		requests:     map[string]int{},
		accessToken:  "access-token",
		refreshToken: "refresh-token",
		pageSize:     100,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/playlists/{id}", f.authorized(f.handlePlaylist))
	mux.HandleFunc("GET /v1/playlists/{id}/tracks", f.authorized(f.handlePlaylistTracks))
	mux.HandleFunc("GET /v1/artists", f.authorized(f.handleArtists))
	mux.HandleFunc("GET /v1/tracks", f.authorized(f.handleTracks))
	mux.HandleFunc("GET /v1/search", f.authorized(f.handleSearch))
	mux.HandleFunc("POST /api/token", f.handleToken)

	f.Server = httptest.NewServer(mux)
	t.Cleanup(f.Server.Close)
	return f
}

// BaseURL is the API root to configure the catalog client with.
func (f *FakeCatalog) BaseURL() string { return f.Server.URL + "/v1" }

// TokenURL is the OAuth token endpoint.
func (f *FakeCatalog) TokenURL() string { return f.Server.URL + "/api/token" }

// AuthURL is the OAuth authorization endpoint. It is never served.
func (f *FakeCatalog) AuthURL() string { return f.Server.URL + "/authorize" }

// AddPlaylist registers a playlist and the artists on its tracks.
func (f *FakeCatalog) AddPlaylist(p FakePlaylist) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.playlists[p.ID] = p
	for _, track := range p.Tracks {
		for _, a := range track.Artists {
			if _, ok := f.artists[a.ID]; !ok {
				f.artists[a.ID] = a
			}
		}
	}
}

// AddArtist registers or replaces an artist.
func (f *FakeCatalog) AddArtist(a FakeArtist) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.artists[a.ID] = a
}

// FailPlaylist makes every request for the playlist answer with status.
func (f *FakeCatalog) FailPlaylist(id string, status int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[id] = status
}

// SetAccessToken changes the only bearer token the API accepts.
func (f *FakeCatalog) SetAccessToken(token string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.accessToken = token
}

// FailTokenEndpoint makes token requests answer with status and an invalid_grant body.
// Zero restores normal behavior.
func (f *FakeCatalog) FailTokenEndpoint(status int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tokenStatus = status
}

// SetPageSize sets how many playlist items are served per page.
func (f *FakeCatalog) SetPageSize(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pageSize = n
}

// Requests returns how many requests hit the route, e.g. "token", "playlist", "artists".
func (f *FakeCatalog) Requests(route string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests[route]
}

func (f *FakeCatalog) count(route string) {
	f.mu.Lock()
	f.requests[route]++
	f.mu.Unlock()
}

func (f *FakeCatalog) authorized(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		want := "Bearer " + f.accessToken
		f.mu.Unlock()
		if r.Header.Get("Authorization") != want {
			f.count("unauthorized")
			writeAPIError(w, http.StatusUnauthorized, "The access token expired")
			return
		}
		next(w, r)
	}
}

func (f *FakeCatalog) handlePlaylist(w http.ResponseWriter, r *http.Request) {
	f.count("playlist")
	p, status := f.lookupPlaylist(r.PathValue("id"))
	if status != 0 {
		writeAPIError(w, status, http.StatusText(status))
		return
	}

	writeJSON(w, map[string]any{
		"id":            p.ID,
		"name":          p.Name,
		"description":   p.Description,
		"images":        images(p.ImageURL),
		"external_urls": map[string]string{"spotify": "https://open.spotify.com/playlist/" + p.ID},
		"owner":         map[string]string{"id": "curator", "display_name": "Curator"},
		"tracks":        f.page(p, 0),
	})
}

func (f *FakeCatalog) handlePlaylistTracks(w http.ResponseWriter, r *http.Request) {
	f.count("playlist_tracks")
	p, status := f.lookupPlaylist(r.PathValue("id"))
	if status != 0 {
		writeAPIError(w, status, http.StatusText(status))
		return
	}
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	writeJSON(w, f.page(p, offset))
}

func (f *FakeCatalog) handleArtists(w http.ResponseWriter, r *http.Request) {
	f.count("artists")
	f.mu.Lock()
	defer f.mu.Unlock()

	out := []any{}
	for _, id := range strings.Split(r.URL.Query().Get("ids"), ",") {
		a, ok := f.artists[id]
		if !ok {
			out = append(out, nil)
			continue
		}
		out = append(out, artistJSON(a, true))
	}
	writeJSON(w, map[string]any{"artists": out})
}

func (f *FakeCatalog) handleTracks(w http.ResponseWriter, r *http.Request) {
	f.count("tracks")
	f.mu.Lock()
	defer f.mu.Unlock()

	index := map[string]FakeTrack{}
	for _, p := range f.playlists {
		for _, track := range p.Tracks {
			if track.ID != "" {
				index[track.ID] = track
			}
		}
	}

	out := []any{}
	for _, id := range strings.Split(r.URL.Query().Get("ids"), ",") {
		track, ok := index[id]
		if !ok {
			out = append(out, nil)
			continue
		}
		out = append(out, trackJSON(track))
	}
	writeJSON(w, map[string]any{"tracks": out})
}

func (f *FakeCatalog) handleSearch(w http.ResponseWriter, r *http.Request) {
	f.count("search")
	f.mu.Lock()
	defer f.mu.Unlock()

	q := strings.ToLower(r.URL.Query().Get("q"))
	items := []any{}
	for _, a := range f.artists {
		if strings.Contains(strings.ToLower(a.Name), q) {
			items = append(items, artistJSON(a, true))
		}
	}
	writeJSON(w, map[string]any{"artists": map[string]any{"items": items}})
}

func (f *FakeCatalog) handleToken(w http.ResponseWriter, r *http.Request) {
	f.count("token")
	f.mu.Lock()
	status, access, refresh := f.tokenStatus, f.accessToken, f.refreshToken
	f.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	if status != 0 {
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(map[string]string{
			"error":             "invalid_grant",
			"error_description": "Refresh token revoked",
		})
		return
	}

	if err := r.ParseForm(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	_ = json.NewEncoder(w).Encode(map[string]any{
		"access_token":  access,
		"token_type":    "Bearer",
		"expires_in":    3600,
		"refresh_token": refresh,
		"scope":         "playlist-read-private",
	})
}

func (f *FakeCatalog) lookupPlaylist(id string) (FakePlaylist, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if status, ok := f.failures[id]; ok {
		return FakePlaylist{}, status
	}
	p, ok := f.playlists[id]
	if !ok {
		return FakePlaylist{}, http.StatusNotFound
	}
	return p, 0
}

func (f *FakeCatalog) page(p FakePlaylist, offset int) map[string]any {
	f.mu.Lock()
	size := f.pageSize
	f.mu.Unlock()

	end := min(offset+size, len(p.Tracks))
	items := []any{}
	for _, track := range p.Tracks[min(offset, len(p.Tracks)):end] {
		items = append(items, map[string]any{"added_at": "2024-01-01T00:00:00Z", "track": trackJSON(track)})
	}

	var next any
	if end < len(p.Tracks) {
		next = fmt.Sprintf("%s/v1/playlists/%s/tracks?offset=%d&limit=%d", f.Server.URL, p.ID, end, size)
	}
	return map[string]any{"items": items, "total": len(p.Tracks), "next": next}
}

func trackJSON(track FakeTrack) map[string]any {
	artists := make([]any, 0, len(track.Artists))
	for _, a := range track.Artists {
		artists = append(artists, artistJSON(a, false))
	}

	var id any
	if track.ID != "" {
		id = track.ID
	}
	precision := track.Precision
	if precision == "" {
		precision = "day"
	}

	return map[string]any{
		"id":            id,
		"name":          track.Name,
		"is_local":      track.IsLocal,
		"duration_ms":   180000,
		"external_urls": map[string]string{"spotify": "https://open.spotify.com/track/" + track.ID},
		"artists":       artists,
		"album": map[string]any{
			"id":                     track.AlbumID,
			"name":                   track.AlbumName,
			"album_type":             "album",
			"images":                 images(track.ImageURL),
			"release_date":           track.ReleaseDate,
			"release_date_precision": precision,
			"external_urls":          map[string]string{"spotify": "https://open.spotify.com/album/" + track.AlbumID},
		},
	}
}

func artistJSON(a FakeArtist, full bool) map[string]any {
	out := map[string]any{
		"id":            a.ID,
		"name":          a.Name,
		"external_urls": map[string]string{"spotify": "https://open.spotify.com/artist/" + a.ID},
	}
	if full {
		out["images"] = images(a.ImageURL)
	}
	return out
}

func images(url string) []any {
	if url == "" {
		return []any{}
	}
	return []any{map[string]any{"url": url, "height": 640, "width": 640}}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func writeAPIError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{"status": status, "message": message},
	})
}
