package tasks

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	"github.com/desertthunder/tally/internal/models"
	"github.com/desertthunder/tally/internal/repositories"
	"github.com/desertthunder/tally/internal/services"
	"github.com/desertthunder/tally/internal/shared"
)

// Upserter maps catalog payloads onto stored entities, keyed on catalog IDs.
//
// Every operation is safe to repeat: running it again with the same input leaves the store unchanged
// apart from timestamps.
type Upserter struct {
	playlists *repositories.PlaylistRepository
	songs     *repositories.SongRepository
	artists   *repositories.ArtistRepository
}

// NewUpserter creates an Upserter over the given database.
func NewUpserter(db *sql.DB) *Upserter {
	return &Upserter{
		playlists: repositories.NewPlaylistRepository(db),
		songs:     repositories.NewSongRepository(db),
		artists:   repositories.NewArtistRepository(db),
	}
}

// UpsertPlaylist stores the playlist described by entry, using the entry's name when it has one.
func (u *Upserter) UpsertPlaylist(ctx context.Context, entry shared.PlaylistEntry, src *services.SpotifyPlaylist) (*models.Playlist, error) {
	name := entry.Name
	if name == "" {
		name = src.Name
	}

	p := &models.Playlist{
		ExternalID:    entry.ExternalID,
		Name:          name,
		Description:   src.Description,
		CoverImageURL: firstImage(src.Images, models.PlaylistPlaceholderImage),
		ExternalURL:   src.ExternalURLs.Spotify,
		Type:          entry.Type,
	}
	switch entry.Type {
	case models.PlaylistMonthly:
		p.AssociatedYear, p.AssociatedMonth = intRef(entry.Year), intRef(entry.Month)
	case models.PlaylistYearly:
		p.AssociatedYear = intRef(entry.Year)
	}

	return u.playlists.Upsert(ctx, p)
}

// UpsertArtist stores a credited artist. Simplified artists carry no images, so a new row gets the
// placeholder and an existing image is kept.
func (u *Upserter) UpsertArtist(ctx context.Context, src services.SpotifyArtist) (*models.Artist, error) {
	if src.ID == "" {
		return nil, fmt.Errorf("%w: artist %q has no catalog id", shared.ErrInvalidInput, src.Name)
	}
	id := src.ID
	return u.artists.Upsert(ctx, &models.Artist{
		ExternalArtistID: &id,
		Name:             src.Name,
		ExternalURL:      src.ExternalURLs.Spotify,
		ProfileImageURL:  firstImage(src.Images, models.ArtistPlaceholderImage),
	})
}

// UpsertSong stores a track with its release date and album.
func (u *Upserter) UpsertSong(ctx context.Context, src services.SpotifyTrack) (*models.Song, error) {
	year, month := ParseReleaseDate(src.Album.ReleaseDate, src.Album.ReleaseDatePrecision)
	s := &models.Song{
		ExternalTrackID: src.ID,
		Title:           src.Name,
		CoverImageURL:   firstImage(src.Album.Images, models.SongPlaceholderImage),
		ExternalURL:     src.ExternalURLs.Spotify,
		ReleaseYear:     year,
		ReleaseMonth:    month,
	}
	if src.Album.ID != "" {
		s.AlbumID = stringRef(src.Album.ID)
		s.AlbumName = stringRef(src.Album.Name)
		s.AlbumURL = stringRef(src.Album.ExternalURLs.Spotify)
	}
	return u.songs.Upsert(ctx, s)
}

// LinkPlaylistSong creates the link or overwrites its order.
func (u *Upserter) LinkPlaylistSong(ctx context.Context, playlistID, songID string, order int) error {
	return u.playlists.LinkSong(ctx, playlistID, songID, order)
}

// LinkSongArtist creates the link if it does not exist yet and reports whether it did.
func (u *Upserter) LinkSongArtist(ctx context.Context, songID, artistID string) (bool, error) {
	return u.songs.LinkArtist(ctx, songID, artistID)
}

// PruneStaleLinks removes the playlist's song links that are not in keep.
func (u *Upserter) PruneStaleLinks(ctx context.Context, playlistID string, keep []string) (int, error) {
	return u.playlists.PruneSongs(ctx, playlistID, keep)
}

// ParseReleaseDate splits an ISO-like date ("2021", "2021-05", "2021-05-14").
//
// The year is always taken. The month is only taken for day or month precision.
// Unparseable segments yield a zero year or no month.
func ParseReleaseDate(date, precision string) (int, *int) {
	parts := strings.Split(strings.TrimSpace(date), "-")
	year, err := strconv.Atoi(parts[0])
	if err != nil {
		year = 0
	}

	if precision != "day" && precision != "month" || len(parts) < 2 {
		return year, nil
	}
	month, err := strconv.Atoi(parts[1])
	if err != nil || month < 1 || month > 12 {
		return year, nil
	}
	return year, &month
}

func firstImage(images []services.SpotifyImage, placeholder string) string {
	for _, img := range images {
		if img.URL != "" {
			return img.URL
		}
	}
	return placeholder
}

func intRef(n int) *int {
	if n == 0 {
		return nil
	}
	return &n
}

func stringRef(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
