// package models defines the data model for the curated catalog
package models

import (
	"fmt"
	"strings"
	"time"
)

// Model is implemented by every persisted catalog entity.
type Model interface {
	Validate() error // Validate checks if the model's data is valid and returns an error if not
}

// CuratorPrincipal is the fixed principal that owns the single stored credential.
const CuratorPrincipal = "TRAP_TALLY_CURATOR"

// Placeholder images stored when the catalog provides none.
const (
	PlaylistPlaceholderImage = "https://placehold.co/300x300/060708/FFFFFF?text=No+Art"
	SongPlaceholderImage     = "https://placehold.co/100x100/060708/FFFFFF?text=No+Art"
	ArtistPlaceholderImage   = "https://placehold.co/300x300/060708/FFFFFF?text=No+Image"
)

// PlaylistType classifies a curated playlist.
type PlaylistType string

const (
	PlaylistMonthly PlaylistType = "Monthly"
	PlaylistYearly  PlaylistType = "Yearly"
	PlaylistArtist  PlaylistType = "Artist"
)

// Valid reports whether t is a known playlist type.
func (t PlaylistType) Valid() bool {
	switch t {
	case PlaylistMonthly, PlaylistYearly, PlaylistArtist:
		return true
	}
	return false
}

// ParsePlaylistType accepts any casing ("monthly", "Yearly").
func ParsePlaylistType(s string) (PlaylistType, error) {
	for _, t := range []PlaylistType{PlaylistMonthly, PlaylistYearly, PlaylistArtist} {
		if strings.EqualFold(string(t), strings.TrimSpace(s)) {
			return t, nil
		}
	}
	return "", fmt.Errorf("unknown playlist type %q", s)
}

// Credential is the curator's OAuth token pair.
type Credential struct {
	PrincipalID  string    `json:"principal_id"`
	AccessToken  string    `json:"-"`
	RefreshToken string    `json:"-"`
	ExpiresAt    time.Time `json:"expires_at"`
	Scope        string    `json:"scope,omitempty"`
	TokenType    string    `json:"token_type,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Expired reports whether the access token has passed its expiry at now.
func (c *Credential) Expired(now time.Time) bool {
	return !c.ExpiresAt.IsZero() && now.After(c.ExpiresAt)
}

func (c *Credential) Validate() error {
	if c.PrincipalID == "" {
		return fmt.Errorf("credential principal is required")
	}
	if c.AccessToken == "" || c.RefreshToken == "" {
		return fmt.Errorf("credential needs both access and refresh tokens")
	}
	return nil
}

// Playlist is a curated playlist mirrored from the catalog.
type Playlist struct {
	ID                 string       `json:"id"`
	Sequence           int          `json:"-"`
	ExternalID         string       `json:"external_id"`
	Name               string       `json:"name"`
	Description        string       `json:"description"`
	CoverImageURL      string       `json:"cover_image_url"`
	ExternalURL        string       `json:"external_url"`
	Type               PlaylistType `json:"type"`
	AssociatedYear     *int         `json:"associated_year,omitempty"`
	AssociatedMonth    *int         `json:"associated_month,omitempty"`
	AssociatedArtistID *string      `json:"associated_artist_id,omitempty"`
	CreatedAt          time.Time    `json:"created_at"`
	UpdatedAt          time.Time    `json:"updated_at"`
}

func (p *Playlist) Validate() error {
	switch {
	case p.ExternalID == "":
		return fmt.Errorf("playlist external id is required")
	case p.Name == "":
		return fmt.Errorf("playlist %s has no name", p.ExternalID)
	case !p.Type.Valid():
		return fmt.Errorf("playlist %s has unknown type %q", p.ExternalID, p.Type)
	case p.Type == PlaylistMonthly && (p.AssociatedYear == nil || p.AssociatedMonth == nil):
		return fmt.Errorf("monthly playlist %s needs year and month", p.ExternalID)
	case p.Type == PlaylistYearly && (p.AssociatedYear == nil || p.AssociatedMonth != nil):
		return fmt.Errorf("yearly playlist %s carries only a year", p.ExternalID)
	}
	return nil
}

// Song is a catalog track.
type Song struct {
	ID              string    `json:"id"`
	Sequence        int       `json:"-"`
	ExternalTrackID string    `json:"external_track_id"`
	Title           string    `json:"title"`
	CoverImageURL   string    `json:"cover_image_url"`
	ExternalURL     string    `json:"external_url"`
	ReleaseYear     int       `json:"release_year"`
	ReleaseMonth    *int      `json:"release_month,omitempty"`
	AlbumID         *string   `json:"album_id,omitempty"`
	AlbumName       *string   `json:"album_name,omitempty"`
	AlbumURL        *string   `json:"album_url,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

func (s *Song) Validate() error {
	if s.ExternalTrackID == "" {
		return fmt.Errorf("song external track id is required")
	}
	if s.ReleaseMonth != nil && (*s.ReleaseMonth < 1 || *s.ReleaseMonth > 12) {
		return fmt.Errorf("song %s has release month %d out of range", s.ExternalTrackID, *s.ReleaseMonth)
	}
	return nil
}

// FeatureCounts are the derived per-artist tallies.
type FeatureCounts struct {
	Monthly     int `json:"monthly_feature_count"`
	Yearly      int `json:"yearly_feature_count"`
	BestOfSongs int `json:"best_of_playlist_song_count"`
}

// Artist is a credited catalog artist.
type Artist struct {
	ID               string    `json:"id"`
	Sequence         int       `json:"-"`
	ExternalArtistID *string   `json:"external_artist_id,omitempty"`
	Name             string    `json:"name"`
	ExternalURL      string    `json:"external_url,omitempty"`
	ProfileImageURL  string    `json:"profile_image_url,omitempty"`
	FeatureCounts
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (a *Artist) Validate() error {
	if a.Name == "" {
		return fmt.Errorf("artist name is required")
	}
	if a.ExternalArtistID != nil && *a.ExternalArtistID == "" {
		return fmt.Errorf("artist %s has an empty external id", a.Name)
	}
	return nil
}

// PlaylistSong places a song in a playlist.
type PlaylistSong struct {
	PlaylistID      string `json:"playlist_id"`
	SongID          string `json:"song_id"`
	OrderInPlaylist int    `json:"order_in_playlist"`
}

// SongArtist credits an artist on a song.
type SongArtist struct {
	SongID   string `json:"song_id"`
	ArtistID string `json:"artist_id"`
}
