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

const playlistColumns = `p.id, p.sequence, p.external_id, p.name, p.description, p.cover_image_url, p.external_url,
	p.type, p.associated_year, p.associated_month, p.associated_artist_id, p.created_at, p.updated_at`

// PlaylistRepository persists curated playlists and their song membership.
type PlaylistRepository struct {
	db *sql.DB
}

// NewPlaylistRepository creates a new PlaylistRepository with the given database connection
func NewPlaylistRepository(db *sql.DB) *PlaylistRepository {
	return &PlaylistRepository{db: db}
}

// Upsert creates the playlist keyed on its external ID or updates the existing row.
//
// The associated artist is left untouched; only [PlaylistRepository.SetAssociatedArtist] writes it.
func (r *PlaylistRepository) Upsert(ctx context.Context, p *models.Playlist) (*models.Playlist, error) {
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}

	id, sequence := shared.GenerateID(), 0
	existing, err := r.GetByExternalID(ctx, p.ExternalID)
	switch {
	case err == nil:
		id, sequence = existing.ID, existing.Sequence
	case errors.Is(err, shared.ErrRecordNotFound):
		if sequence, err = NextSequence(ctx, r.db, "playlists"); err != nil {
			return nil, fmt.Errorf("failed to generate sequence: %w", err)
		}
	default:
		return nil, err
	}

	now := time.Now().UTC()
	query := `
		INSERT INTO playlists (id, sequence, external_id, name, description, cover_image_url, external_url, type,
			associated_year, associated_month, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(external_id) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			cover_image_url = excluded.cover_image_url,
			external_url = excluded.external_url,
			type = excluded.type,
			associated_year = excluded.associated_year,
			associated_month = excluded.associated_month,
			updated_at = excluded.updated_at
	`

	_, err = r.db.ExecContext(ctx, query,
		id, sequence, p.ExternalID, p.Name, p.Description, p.CoverImageURL, p.ExternalURL, string(p.Type),
		nullableInt(p.AssociatedYear), nullableInt(p.AssociatedMonth), now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert playlist %s: %w", p.ExternalID, err)
	}

	return r.GetByExternalID(ctx, p.ExternalID)
}

// Get retrieves a playlist by internal ID.
func (r *PlaylistRepository) Get(ctx context.Context, id string) (*models.Playlist, error) {
	row := r.db.QueryRowContext(ctx, "SELECT "+playlistColumns+" FROM playlists p WHERE p.id = ?", id)
	p, err := scanPlaylist(row)
	if err != nil {
		return nil, notFound(err, "playlist", id)
	}
	return p, nil
}

// GetByExternalID retrieves a playlist by its catalog ID.
func (r *PlaylistRepository) GetByExternalID(ctx context.Context, externalID string) (*models.Playlist, error) {
	row := r.db.QueryRowContext(ctx, "SELECT "+playlistColumns+" FROM playlists p WHERE p.external_id = ?", externalID)
	p, err := scanPlaylist(row)
	if err != nil {
		return nil, notFound(err, "playlist", externalID)
	}
	return p, nil
}

// List returns playlists of the given type (all types when empty), newest period first, then by name.
func (r *PlaylistRepository) List(ctx context.Context, typ models.PlaylistType) ([]*models.Playlist, error) {
	query := "SELECT " + playlistColumns + " FROM playlists p"
	args := []any{}
	if typ != "" {
		query += " WHERE p.type = ?"
		args = append(args, string(typ))
	}
	query += " ORDER BY p.associated_year DESC, p.associated_month DESC, p.name ASC"

	return r.query(ctx, query, args...)
}

// ListUnassociatedArtistPlaylists returns Artist playlists with no associated artist yet.
func (r *PlaylistRepository) ListUnassociatedArtistPlaylists(ctx context.Context) ([]*models.Playlist, error) {
	query := "SELECT " + playlistColumns + ` FROM playlists p
		WHERE p.type = ? AND p.associated_artist_id IS NULL
		ORDER BY p.sequence ASC`
	return r.query(ctx, query, string(models.PlaylistArtist))
}

// SetAssociatedArtist links an Artist playlist to its artist.
func (r *PlaylistRepository) SetAssociatedArtist(ctx context.Context, playlistID, artistID string) error {
	res, err := r.db.ExecContext(ctx,
		"UPDATE playlists SET associated_artist_id = ?, updated_at = ? WHERE id = ?",
		artistID, time.Now().UTC(), playlistID,
	)
	if err != nil {
		return fmt.Errorf("failed to associate playlist %s: %w", playlistID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("playlist %s: %w", playlistID, shared.ErrRecordNotFound)
	}
	return nil
}

// LinkSong places songID at order in the playlist, overwriting any earlier position.
func (r *PlaylistRepository) LinkSong(ctx context.Context, playlistID, songID string, order int) error {
	query := `
		INSERT INTO playlist_songs (playlist_id, song_id, order_in_playlist)
		VALUES (?, ?, ?)
		ON CONFLICT(playlist_id, song_id) DO UPDATE SET order_in_playlist = excluded.order_in_playlist
	`
	if _, err := r.db.ExecContext(ctx, query, playlistID, songID, order); err != nil {
		return fmt.Errorf("failed to link song %s to playlist %s: %w", songID, playlistID, err)
	}
	return nil
}

// PruneSongs removes the playlist's song links whose song is not in keep and reports how many went.
//
// Only join rows are deleted; the songs themselves stay.
func (r *PlaylistRepository) PruneSongs(ctx context.Context, playlistID string, keep []string) (int, error) {
	query := "DELETE FROM playlist_songs WHERE playlist_id = ?"
	args := []any{playlistID}
	if len(keep) > 0 {
		query += " AND song_id NOT IN (" + placeholders(len(keep)) + ")"
		for _, id := range keep {
			args = append(args, id)
		}
	}

	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to prune playlist %s: %w", playlistID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get affected rows: %w", err)
	}
	return int(n), nil
}

// Links returns the playlist's song links in order.
func (r *PlaylistRepository) Links(ctx context.Context, playlistID string) ([]models.PlaylistSong, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT playlist_id, song_id, order_in_playlist FROM playlist_songs WHERE playlist_id = ? ORDER BY order_in_playlist ASC",
		playlistID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query playlist songs: %w", err)
	}
	defer rows.Close()

	var links []models.PlaylistSong
	for rows.Next() {
		var l models.PlaylistSong
		if err := rows.Scan(&l.PlaylistID, &l.SongID, &l.OrderInPlaylist); err != nil {
			return nil, fmt.Errorf("failed to scan playlist song: %w", err)
		}
		links = append(links, l)
	}
	return links, rows.Err()
}

// Tracks returns the playlist's songs in order with their credited artists.
func (r *PlaylistRepository) Tracks(ctx context.Context, playlistID string) ([]models.PlaylistTrack, error) {
	query := "SELECT " + songColumns + `, ps.order_in_playlist
		FROM playlist_songs ps
		JOIN songs s ON s.id = ps.song_id
		WHERE ps.playlist_id = ?
		ORDER BY ps.order_in_playlist ASC`

	rows, err := r.db.QueryContext(ctx, query, playlistID)
	if err != nil {
		return nil, fmt.Errorf("failed to query playlist tracks: %w", err)
	}

	var tracks []models.PlaylistTrack
	for rows.Next() {
		var t models.PlaylistTrack
		song, err := scanSong(rows, &t.OrderInPlaylist)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan playlist track: %w", err)
		}
		t.Song = *song
		tracks = append(tracks, t)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}

	for i := range tracks {
		artists, err := artistRefs(ctx, r.db, tracks[i].ID, "")
		if err != nil {
			return nil, err
		}
		tracks[i].Artists = artists
	}
	return tracks, nil
}

// Count returns the number of stored playlists.
func (r *PlaylistRepository) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM playlists").Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count playlists: %w", err)
	}
	return n, nil
}

func (r *PlaylistRepository) query(ctx context.Context, query string, args ...any) ([]*models.Playlist, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query playlists: %w", err)
	}
	defer rows.Close()

	var playlists []*models.Playlist
	for rows.Next() {
		p, err := scanPlaylist(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan playlist: %w", err)
		}
		playlists = append(playlists, p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return playlists, nil
}

// scanPlaylist scans one row selected with playlistColumns
func scanPlaylist(s scanner) (*models.Playlist, error) {
	var (
		p        models.Playlist
		typ      string
		year     sql.NullInt64
		month    sql.NullInt64
		artistID sql.NullString
	)

	err := s.Scan(&p.ID, &p.Sequence, &p.ExternalID, &p.Name, &p.Description, &p.CoverImageURL, &p.ExternalURL,
		&typ, &year, &month, &artistID, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}

	p.Type = models.PlaylistType(typ)
	p.AssociatedYear = intPtr(year)
	p.AssociatedMonth = intPtr(month)
	p.AssociatedArtistID = stringPtr(artistID)
	return &p, nil
}
