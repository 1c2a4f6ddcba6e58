package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/desertthunder/tally/internal/models"
	"github.com/desertthunder/tally/internal/shared"
)

const songColumns = `s.id, s.sequence, s.external_track_id, s.title, s.cover_image_url, s.external_url,
	s.release_year, s.release_month, s.album_id, s.album_name, s.album_url, s.created_at, s.updated_at`

// SongRepository persists catalog tracks and their artist credits.
type SongRepository struct {
	db *sql.DB
}

// NewSongRepository creates a new SongRepository with the given database connection
func NewSongRepository(db *sql.DB) *SongRepository {
	return &SongRepository{db: db}
}

// Upsert creates the song keyed on its external track ID or updates the existing row.
//
// Album fields are only overwritten when the incoming song carries them, so a payload without
// album data never erases a backfilled album.
func (r *SongRepository) Upsert(ctx context.Context, s *models.Song) (*models.Song, error) {
	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}

	id, sequence := shared.GenerateID(), 0
	existing, err := r.GetByExternalID(ctx, s.ExternalTrackID)
	switch {
	case err == nil:
		id, sequence = existing.ID, existing.Sequence
	case errors.Is(err, shared.ErrRecordNotFound):
		if sequence, err = NextSequence(ctx, r.db, "songs"); err != nil {
			return nil, fmt.Errorf("failed to generate sequence: %w", err)
		}
	default:
		return nil, err
	}

	now := time.Now().UTC()
	query := `
		INSERT INTO songs (id, sequence, external_track_id, title, cover_image_url, external_url,
			release_year, release_month, album_id, album_name, album_url, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(external_track_id) DO UPDATE SET
			title = excluded.title,
			cover_image_url = excluded.cover_image_url,
			external_url = excluded.external_url,
			release_year = excluded.release_year,
			release_month = excluded.release_month,
			album_id = COALESCE(excluded.album_id, songs.album_id),
			album_name = COALESCE(excluded.album_name, songs.album_name),
			album_url = COALESCE(excluded.album_url, songs.album_url),
			updated_at = excluded.updated_at
	`

	_, err = r.db.ExecContext(ctx, query,
		id, sequence, s.ExternalTrackID, s.Title, s.CoverImageURL, s.ExternalURL,
		s.ReleaseYear, nullableInt(s.ReleaseMonth),
		nullableString(s.AlbumID), nullableString(s.AlbumName), nullableString(s.AlbumURL),
		now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert song %s: %w", s.ExternalTrackID, err)
	}

	return r.GetByExternalID(ctx, s.ExternalTrackID)
}

// Get retrieves a song by internal ID.
func (r *SongRepository) Get(ctx context.Context, id string) (*models.Song, error) {
	s, err := scanSong(r.db.QueryRowContext(ctx, "SELECT "+songColumns+" FROM songs s WHERE s.id = ?", id))
	if err != nil {
		return nil, notFound(err, "song", id)
	}
	return s, nil
}

// GetByExternalID retrieves a song by its catalog track ID.
func (r *SongRepository) GetByExternalID(ctx context.Context, externalID string) (*models.Song, error) {
	s, err := scanSong(r.db.QueryRowContext(ctx, "SELECT "+songColumns+" FROM songs s WHERE s.external_track_id = ?", externalID))
	if err != nil {
		return nil, notFound(err, "song", externalID)
	}
	return s, nil
}

// LinkArtist credits artistID on songID. Existing credits are left alone.
//
// Reports whether a new row was written.
func (r *SongRepository) LinkArtist(ctx context.Context, songID, artistID string) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		"INSERT INTO song_artists (song_id, artist_id) VALUES (?, ?) ON CONFLICT(song_id, artist_id) DO NOTHING",
		songID, artistID,
	)
	if err != nil {
		return false, fmt.Errorf("failed to link artist %s to song %s: %w", artistID, songID, err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// ListMissingAlbum returns songs with no album ID, oldest first.
func (r *SongRepository) ListMissingAlbum(ctx context.Context) ([]*models.Song, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT "+songColumns+" FROM songs s WHERE s.album_id IS NULL ORDER BY s.sequence ASC")
	if err != nil {
		return nil, fmt.Errorf("failed to query songs: %w", err)
	}
	defer rows.Close()

	var songs []*models.Song
	for rows.Next() {
		s, err := scanSong(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan song: %w", err)
		}
		songs = append(songs, s)
	}
	return songs, rows.Err()
}

// UpdateAlbum writes album metadata onto a song.
func (r *SongRepository) UpdateAlbum(ctx context.Context, id, albumID, albumName, albumURL string) error {
	res, err := r.db.ExecContext(ctx,
		"UPDATE songs SET album_id = ?, album_name = ?, album_url = ?, updated_at = ? WHERE id = ?",
		albumID, albumName, albumURL, time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("failed to update album for song %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("song %s: %w", id, shared.ErrRecordNotFound)
	}
	return nil
}

// Count returns the number of stored songs.
func (r *SongRepository) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM songs").Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count songs: %w", err)
	}
	return n, nil
}

// scanSong scans one row selected with songColumns followed by any extra destinations.
func scanSong(s scanner, extra ...any) (*models.Song, error) {
	var (
		song      models.Song
		month     sql.NullInt64
		albumID   sql.NullString
		albumName sql.NullString
		albumURL  sql.NullString
	)

	dest := []any{&song.ID, &song.Sequence, &song.ExternalTrackID, &song.Title, &song.CoverImageURL, &song.ExternalURL,
		&song.ReleaseYear, &month, &albumID, &albumName, &albumURL, &song.CreatedAt, &song.UpdatedAt}
	if err := s.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}

	song.ReleaseMonth = intPtr(month)
	song.AlbumID = stringPtr(albumID)
	song.AlbumName = stringPtr(albumName)
	song.AlbumURL = stringPtr(albumURL)
	return &song, nil
}
