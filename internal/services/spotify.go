// Spotify Web API implementation of [Catalog]
//
// Spotify API response types based on https://developer.spotify.com/documentation/web-api/reference/
package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/tally/internal/metrics"
	"github.com/desertthunder/tally/internal/shared"
	gobreaker "github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"
)

const (
	spotifyBaseURL = "https://api.spotify.com/v1"
	maxBatchIDs    = 50
	maxBodyBytes   = 10 << 20
)

// SpotifyImage represents an image resource.
type SpotifyImage struct {
	URL    string `json:"url"`
	Height int    `json:"height"`
	Width  int    `json:"width"`
}

// ExternalURLs holds the public web links of a catalog object.
type ExternalURLs struct {
	Spotify string `json:"spotify"`
}

// SpotifyArtist represents a Spotify artist. Images, genres and popularity are only
// present on full artist objects, not on the simplified artists embedded in tracks.
type SpotifyArtist struct {
	ID           string         `json:"id"`
	Name         string         `json:"name"`
	ExternalURLs ExternalURLs   `json:"external_urls"`
	Images       []SpotifyImage `json:"images,omitempty"`
	Genres       []string       `json:"genres,omitempty"`
	Popularity   int            `json:"popularity,omitempty"`
}

// SpotifyAlbum represents a Spotify album.
type SpotifyAlbum struct {
	ID                   string         `json:"id"`
	Name                 string         `json:"name"`
	AlbumType            string         `json:"album_type"`
	Images               []SpotifyImage `json:"images"`
	ReleaseDate          string         `json:"release_date"`
	ReleaseDatePrecision string         `json:"release_date_precision"` // year, month or day
	TotalTracks          int            `json:"total_tracks"`
	ExternalURLs         ExternalURLs   `json:"external_urls"`
}

// SpotifyTrack represents a Spotify track.
type SpotifyTrack struct {
	ID           string          `json:"id"`
	Name         string          `json:"name"`
	Artists      []SpotifyArtist `json:"artists"`
	Album        SpotifyAlbum    `json:"album"`
	ExternalURLs ExternalURLs    `json:"external_urls"`
	DurationMS   int             `json:"duration_ms"`
	Popularity   int             `json:"popularity"`
	PreviewURL   *string         `json:"preview_url"`
	IsLocal      bool            `json:"is_local"`
}

// SpotifyPlaylistItem represents a track within a playlist context. Track is null for
// removed or unavailable items.
type SpotifyPlaylistItem struct {
	AddedAt string        `json:"added_at"`
	Track   *SpotifyTrack `json:"track"`
}

// SpotifyPlaylistTracks is one page of a playlist's items.
type SpotifyPlaylistTracks struct {
	Items []SpotifyPlaylistItem `json:"items"`
	Total int                   `json:"total"`
	Next  *string               `json:"next"`
}

// Owner is the user that owns a playlist.
type Owner struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
}

// SpotifyPlaylist represents a Spotify playlist. After [SpotifyService.FetchPlaylist],
// Tracks holds every page and Tracks.Next is nil.
type SpotifyPlaylist struct {
	ID           string                 `json:"id"`
	Name         string                 `json:"name"`
	Description  string                 `json:"description"`
	Owner        Owner                  `json:"owner"`
	Images       []SpotifyImage         `json:"images"`
	ExternalURLs ExternalURLs           `json:"external_urls"`
	Tracks       *SpotifyPlaylistTracks `json:"tracks"`
}

// CatalogTracks returns the playlist's playable catalog tracks in source order, skipping
// local files, null items and tracks without an ID.
func (p *SpotifyPlaylist) CatalogTracks() []SpotifyTrack {
	if p.Tracks == nil {
		return nil
	}
	tracks := make([]SpotifyTrack, 0, len(p.Tracks.Items))
	for _, item := range p.Tracks.Items {
		if item.Track == nil || item.Track.IsLocal || item.Track.ID == "" {
			continue
		}
		tracks = append(tracks, *item.Track)
	}
	return tracks
}

// SpotifyOptions configures a [SpotifyService]. Zero values fall back to defaults.
type SpotifyOptions struct {
	BaseURL           string
	HTTPClient        *http.Client
	RequestTimeout    time.Duration
	RequestsPerSecond float64
	Burst             int
	MaxRetries        int
	RetryBackoff      time.Duration
	BreakerFailures   uint32
	BreakerTimeout    time.Duration
	Logger            *log.Logger
}

// OptionsFromConfig builds [SpotifyOptions] from the catalog section of the config.
func OptionsFromConfig(c shared.CatalogConfig, logger *log.Logger) SpotifyOptions {
	return SpotifyOptions{
		BaseURL:           c.BaseURL,
		RequestTimeout:    c.RequestTimeout,
		RequestsPerSecond: c.RequestsPerSecond,
		Burst:             c.Burst,
		MaxRetries:        c.MaxRetries,
		BreakerFailures:   c.BreakerFailures,
		BreakerTimeout:    c.BreakerTimeout,
		Logger:            logger,
	}
}

// SpotifyService implements [Catalog] for the Spotify Web API.
type SpotifyService struct {
	baseURL      *url.URL
	httpClient   *http.Client
	timeout      time.Duration
	limiter      *rate.Limiter
	maxRetries   int
	retryBackoff time.Duration
	breaker      *gobreaker.CircuitBreaker[[]byte]
	logger       *log.Logger
}

// NewSpotifyService creates a catalog client with rate limiting, retries and a circuit breaker.
func NewSpotifyService(opts SpotifyOptions) (*SpotifyService, error) {
	if opts.BaseURL == "" {
		opts.BaseURL = spotifyBaseURL
	}
	base, err := url.Parse(strings.TrimRight(opts.BaseURL, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("%w: catalog base url %q", shared.ErrInvalidConfig, opts.BaseURL)
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = http.DefaultClient
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 15 * time.Second
	}
	if opts.RequestsPerSecond <= 0 {
		opts.RequestsPerSecond = 5
	}
	if opts.Burst <= 0 {
		opts.Burst = 1
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if opts.RetryBackoff <= 0 {
		opts.RetryBackoff = 500 * time.Millisecond
	}
	if opts.BreakerFailures == 0 {
		opts.BreakerFailures = 5
	}
	if opts.BreakerTimeout <= 0 {
		opts.BreakerTimeout = 30 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = shared.NewLogger(nil)
	}

	s := &SpotifyService{
		baseURL:      base,
		httpClient:   opts.HTTPClient,
		timeout:      opts.RequestTimeout,
		limiter:      rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), opts.Burst),
		maxRetries:   opts.MaxRetries,
		retryBackoff: opts.RetryBackoff,
		logger:       opts.Logger.With("component", "catalog"),
	}

	failures := opts.BreakerFailures
	s.breaker = gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:        "spotify-api",
		MaxRequests: 1,
		Timeout:     opts.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, shared.ErrNotFound) || errors.Is(err, shared.ErrUnauthorized)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			s.logger.Warn("circuit breaker state change", "breaker", name, "from", from.String(), "to", to.String())
			metrics.CircuitBreakerState.Set(breakerStateValue(to))
		},
	})

	return s, nil
}

// FetchPlaylist retrieves a playlist and follows its track pages until exhausted.
func (s *SpotifyService) FetchPlaylist(ctx context.Context, token, playlistID string) (*SpotifyPlaylist, error) {
	const op = "fetch_playlist"
	if playlistID == "" {
		return nil, fmt.Errorf("%w: playlist id", shared.ErrMissingArgument)
	}

	var playlist SpotifyPlaylist
	if err := s.get(ctx, op, token, s.endpoint("/playlists/"+url.PathEscape(playlistID), nil), &playlist); err != nil {
		return nil, err
	}
	if playlist.ID == "" || playlist.Tracks == nil {
		return nil, &CatalogError{Op: op, Kind: shared.ErrValidationGap, Err: fmt.Errorf("playlist %s has no id or tracks", playlistID)}
	}

	for page := playlist.Tracks; page.Next != nil && *page.Next != ""; {
		next, err := s.sameOrigin(*page.Next)
		if err != nil {
			return nil, &CatalogError{Op: op, Kind: shared.ErrValidationGap, Err: err}
		}

		var more SpotifyPlaylistTracks
		if err := s.get(ctx, op, token, next, &more); err != nil {
			return nil, err
		}
		playlist.Tracks.Items = append(playlist.Tracks.Items, more.Items...)
		page = &more
	}
	playlist.Tracks.Next = nil

	return &playlist, nil
}

// SearchArtists runs an artist search and returns the ranked candidates.
func (s *SpotifyService) SearchArtists(ctx context.Context, token, name string, limit int) ([]SpotifyArtist, error) {
	if strings.TrimSpace(name) == "" {
		return nil, fmt.Errorf("%w: artist name", shared.ErrMissingArgument)
	}
	if limit <= 0 || limit > 50 {
		limit = 10
	}

	q := url.Values{}
	q.Set("q", name)
	q.Set("type", "artist")
	q.Set("limit", strconv.Itoa(limit))

	var response struct {
		Artists struct {
			Items []SpotifyArtist `json:"items"`
		} `json:"artists"`
	}
	if err := s.get(ctx, "search_artist", token, s.endpoint("/search", q), &response); err != nil {
		return nil, err
	}
	return response.Artists.Items, nil
}

// Artists retrieves full artist objects in batches of 50.
func (s *SpotifyService) Artists(ctx context.Context, token string, ids []string) ([]SpotifyArtist, error) {
	var artists []SpotifyArtist
	for _, batch := range batches(ids, maxBatchIDs) {
		q := url.Values{}
		q.Set("ids", strings.Join(batch, ","))

		var response struct {
			Artists []*SpotifyArtist `json:"artists"`
		}
		if err := s.get(ctx, "several_artists", token, s.endpoint("/artists", q), &response); err != nil {
			return nil, err
		}
		for _, a := range response.Artists {
			if a != nil {
				artists = append(artists, *a)
			}
		}
	}
	return artists, nil
}

// Tracks retrieves full track objects in batches of 50.
func (s *SpotifyService) Tracks(ctx context.Context, token string, ids []string) ([]SpotifyTrack, error) {
	var tracks []SpotifyTrack
	for _, batch := range batches(ids, maxBatchIDs) {
		q := url.Values{}
		q.Set("ids", strings.Join(batch, ","))

		var response struct {
			Tracks []*SpotifyTrack `json:"tracks"`
		}
		if err := s.get(ctx, "several_tracks", token, s.endpoint("/tracks", q), &response); err != nil {
			return nil, err
		}
		for _, t := range response.Tracks {
			if t != nil {
				tracks = append(tracks, *t)
			}
		}
	}
	return tracks, nil
}

// get performs an authenticated GET through the breaker and decodes the JSON body into result.
func (s *SpotifyService) get(ctx context.Context, op, token, apiURL string, result any) error {
	if token == "" {
		return &CatalogError{Op: op, Kind: shared.ErrUnauthorized, Err: shared.ErrNotAuthorized}
	}

	body, err := s.breaker.Execute(func() ([]byte, error) {
		return s.doWithRetry(ctx, op, token, apiURL)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return &CatalogError{Op: op, Kind: shared.ErrTransient, Err: err}
	}
	if err != nil {
		return err
	}

	if result != nil {
		if err := json.Unmarshal(body, result); err != nil {
			return &CatalogError{Op: op, Kind: shared.ErrValidationGap, Err: err}
		}
	}
	return nil
}

// doWithRetry performs the request, retrying 429 responses after Retry-After or an
// exponential backoff until maxRetries is spent.
func (s *SpotifyService) doWithRetry(ctx context.Context, op, token, apiURL string) ([]byte, error) {
	backoff := s.retryBackoff
	for attempt := 0; ; attempt++ {
		if err := s.limiter.Wait(ctx); err != nil {
			return nil, &CatalogError{Op: op, Kind: shared.ErrTransient, Err: err}
		}

		body, resp, err := s.do(ctx, op, token, apiURL)
		if err != nil {
			return nil, &CatalogError{Op: op, Kind: shared.ErrTransient, Err: err}
		}

		switch {
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			return body, nil
		case resp.StatusCode == http.StatusTooManyRequests:
			metrics.CatalogRateLimitHits.WithLabelValues(op).Inc()
			if attempt >= s.maxRetries {
				return nil, &CatalogError{Op: op, Status: resp.StatusCode, Kind: shared.ErrRateLimited}
			}

			wait := retryAfter(resp.Header, backoff)
			backoff *= 2
			s.logger.Warn("rate limited, backing off", "op", op, "wait", wait, "attempt", attempt+1)

			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil, &CatalogError{Op: op, Kind: shared.ErrTransient, Err: ctx.Err()}
			case <-timer.C:
			}
		default:
			return nil, &CatalogError{Op: op, Status: resp.StatusCode, Kind: classifyStatus(resp.StatusCode), Err: apiMessage(body)}
		}
	}
}

// do performs a single request bounded by the per-request timeout.
func (s *SpotifyService) do(ctx context.Context, op, token, apiURL string) ([]byte, *http.Response, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, apiURL, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := s.httpClient.Do(req)
	if err != nil {
		metrics.RecordCatalogRequest(op, 0, time.Since(start))
		return nil, nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	metrics.RecordCatalogRequest(op, resp.StatusCode, time.Since(start))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read response: %w", err)
	}

	s.logger.Debug("catalog request", "op", op, "status", resp.StatusCode, "duration", time.Since(start))
	return body, resp, nil
}

func (s *SpotifyService) endpoint(path string, q url.Values) string {
	u := *s.baseURL
	u.Path = strings.TrimRight(u.Path, "/") + path
	if q != nil {
		u.RawQuery = q.Encode()
	}
	return u.String()
}

// sameOrigin refuses pagination links that would send the bearer token to another host.
func (s *SpotifyService) sameOrigin(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("invalid next link %q: %w", raw, err)
	}
	if u.Scheme != s.baseURL.Scheme || u.Host != s.baseURL.Host {
		return "", fmt.Errorf("next link %q leaves %s", raw, s.baseURL.Host)
	}
	return u.String(), nil
}

// retryAfter reads the Retry-After header in seconds, falling back to def.
func retryAfter(h http.Header, def time.Duration) time.Duration {
	if v := h.Get("Retry-After"); v != "" {
		if secs, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && secs >= 0 {
			return time.Duration(secs) * time.Second
		}
	}
	return def
}

// apiMessage extracts the error message from a Spotify error body.
func apiMessage(body []byte) error {
	var payload struct {
		Error struct {
			Status  int    `json:"status"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err != nil || payload.Error.Message == "" {
		return nil
	}
	return errors.New(payload.Error.Message)
}

func batches(ids []string, size int) [][]string {
	var out [][]string
	for len(ids) > 0 {
		n := min(size, len(ids))
		out = append(out, ids[:n])
		ids = ids[n:]
	}
	return out
}

func breakerStateValue(state gobreaker.State) float64 {
	switch state {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}
