package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/desertthunder/tally/internal/models"
	"github.com/desertthunder/tally/internal/shared"
)

const artistColumns = `a.id, a.sequence, a.external_artist_id, a.name, a.external_url, a.profile_image_url,
	a.monthly_feature_count, a.yearly_feature_count, a.best_of_playlist_song_count, a.created_at, a.updated_at`

// ArtistSort selects the ordering of [ArtistRepository.List].
type ArtistSort string

const (
	SortByName    ArtistSort = "name"
	SortByMonthly ArtistSort = "monthly"
	SortByYearly  ArtistSort = "yearly"
	SortByBestOf  ArtistSort = "best_of"
)

var artistOrder = map[ArtistSort]string{
	SortByName:    "LOWER(a.name) ASC, a.sequence ASC",
	SortByMonthly: "a.monthly_feature_count DESC, LOWER(a.name) ASC",
	SortByYearly:  "a.yearly_feature_count DESC, LOWER(a.name) ASC",
	SortByBestOf:  "a.best_of_playlist_song_count DESC, LOWER(a.name) ASC",
}

// ArtistRepository persists artists and computes their feature counts.
type ArtistRepository struct {
	db *sql.DB
}

// NewArtistRepository creates a new ArtistRepository with the given database connection
func NewArtistRepository(db *sql.DB) *ArtistRepository {
	return &ArtistRepository{db: db}
}

// Upsert creates the artist keyed on its external artist ID or updates name and URL.
//
// Feature counts are never written here. A stored profile image is only replaced by a real
// one, never by an empty value or the placeholder.
func (r *ArtistRepository) Upsert(ctx context.Context, a *models.Artist) (*models.Artist, error) {
	if err := a.Validate(); err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}
	if a.ExternalArtistID == nil {
		return nil, fmt.Errorf("%w: artist %s has no external id to upsert on", shared.ErrInvalidInput, a.Name)
	}

	externalID := *a.ExternalArtistID
	id, sequence := shared.GenerateID(), 0
	existing, err := r.GetByExternalID(ctx, externalID)
	switch {
	case err == nil:
		id, sequence = existing.ID, existing.Sequence
	case errors.Is(err, shared.ErrRecordNotFound):
		if sequence, err = NextSequence(ctx, r.db, "artists"); err != nil {
			return nil, fmt.Errorf("failed to generate sequence: %w", err)
		}
	default:
		return nil, err
	}

	now := time.Now().UTC()
	query := `
		INSERT INTO artists (id, sequence, external_artist_id, name, external_url, profile_image_url, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(external_artist_id) DO UPDATE SET
			name = excluded.name,
			external_url = excluded.external_url,
			profile_image_url = CASE WHEN excluded.profile_image_url IN ('', ?) THEN artists.profile_image_url ELSE excluded.profile_image_url END,
			updated_at = excluded.updated_at
	`

	_, err = r.db.ExecContext(ctx, query,
		id, sequence, externalID, a.Name, a.ExternalURL, a.ProfileImageURL, now, now, models.ArtistPlaceholderImage,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert artist %s: %w", externalID, err)
	}

	return r.GetByExternalID(ctx, externalID)
}

// Get retrieves an artist by internal ID.
func (r *ArtistRepository) Get(ctx context.Context, id string) (*models.Artist, error) {
	a, err := scanArtist(r.db.QueryRowContext(ctx, "SELECT "+artistColumns+" FROM artists a WHERE a.id = ?", id))
	if err != nil {
		return nil, notFound(err, "artist", id)
	}
	return a, nil
}

// GetByExternalID retrieves an artist by its catalog ID.
func (r *ArtistRepository) GetByExternalID(ctx context.Context, externalID string) (*models.Artist, error) {
	a, err := scanArtist(r.db.QueryRowContext(ctx, "SELECT "+artistColumns+" FROM artists a WHERE a.external_artist_id = ?", externalID))
	if err != nil {
		return nil, notFound(err, "artist", externalID)
	}
	return a, nil
}

// FindByName returns every artist whose name equals name under Unicode case folding, oldest first.
//
// SQLite's LOWER only folds ASCII, so names are compared in Go.
func (r *ArtistRepository) FindByName(ctx context.Context, name string) ([]*models.Artist, error) {
	all, err := r.query(ctx, "SELECT "+artistColumns+" FROM artists a ORDER BY a.sequence ASC")
	if err != nil {
		return nil, err
	}

	matches := []*models.Artist{}
	for _, a := range all {
		if strings.EqualFold(a.Name, name) {
			matches = append(matches, a)
		}
	}
	return matches, nil
}

// List returns all artists in the requested order; unknown orders fall back to name.
func (r *ArtistRepository) List(ctx context.Context, sort ArtistSort) ([]*models.Artist, error) {
	order, ok := artistOrder[sort]
	if !ok {
		order = artistOrder[SortByName]
	}
	return r.query(ctx, "SELECT "+artistColumns+" FROM artists a ORDER BY "+order)
}

// ListIDs returns every artist's internal ID.
func (r *ArtistRepository) ListIDs(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT id FROM artists ORDER BY sequence ASC")
	if err != nil {
		return nil, fmt.Errorf("failed to query artist ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan artist id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ListMissingImage returns artists with a catalog ID whose profile image is empty or the placeholder.
func (r *ArtistRepository) ListMissingImage(ctx context.Context) ([]*models.Artist, error) {
	return r.query(ctx, "SELECT "+artistColumns+` FROM artists a
		WHERE a.external_artist_id IS NOT NULL AND a.profile_image_url IN ('', ?)
		ORDER BY a.sequence ASC`, models.ArtistPlaceholderImage)
}

// UpdateProfileImage sets an artist's profile image.
func (r *ArtistRepository) UpdateProfileImage(ctx context.Context, id, url string) error {
	_, err := r.db.ExecContext(ctx, "UPDATE artists SET profile_image_url = ?, updated_at = ? WHERE id = ?", url, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to update profile image for artist %s: %w", id, err)
	}
	return nil
}

// ComputeFeatureCounts derives an artist's counts from the join tables.
//
// Songs are counted once per category however many playlists of that category they appear in.
func (r *ArtistRepository) ComputeFeatureCounts(ctx context.Context, artistID string) (models.FeatureCounts, error) {
	query := `
		SELECT
			(SELECT COUNT(DISTINCT sa.song_id)
				FROM song_artists sa
				JOIN playlist_songs ps ON ps.song_id = sa.song_id
				JOIN playlists p ON p.id = ps.playlist_id
				WHERE sa.artist_id = ?1 AND p.type = 'Monthly'),
			(SELECT COUNT(DISTINCT sa.song_id)
				FROM song_artists sa
				JOIN playlist_songs ps ON ps.song_id = sa.song_id
				JOIN playlists p ON p.id = ps.playlist_id
				WHERE sa.artist_id = ?1 AND p.type = 'Yearly'),
			(SELECT COUNT(*)
				FROM playlist_songs ps
				WHERE ps.playlist_id = (
					SELECT p.id FROM playlists p
					WHERE p.type = 'Artist' AND p.associated_artist_id = ?1
					ORDER BY p.sequence ASC LIMIT 1))
	`

	var c models.FeatureCounts
	if err := r.db.QueryRowContext(ctx, query, artistID).Scan(&c.Monthly, &c.Yearly, &c.BestOfSongs); err != nil {
		return c, fmt.Errorf("failed to compute feature counts for artist %s: %w", artistID, err)
	}
	return c, nil
}

// UpdateFeatureCounts overwrites an artist's cached counts.
func (r *ArtistRepository) UpdateFeatureCounts(ctx context.Context, artistID string, c models.FeatureCounts) error {
	query := `
		UPDATE artists
		SET monthly_feature_count = ?, yearly_feature_count = ?, best_of_playlist_song_count = ?, updated_at = ?
		WHERE id = ?
	`
	res, err := r.db.ExecContext(ctx, query, c.Monthly, c.Yearly, c.BestOfSongs, time.Now().UTC(), artistID)
	if err != nil {
		return fmt.Errorf("failed to update feature counts for artist %s: %w", artistID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("artist %s: %w", artistID, shared.ErrRecordNotFound)
	}
	return nil
}

// Detail assembles an artist with their songs, collaborators and playlists.
func (r *ArtistRepository) Detail(ctx context.Context, id string) (*models.ArtistDetail, error) {
	artist, err := r.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	detail := &models.ArtistDetail{Artist: *artist, Songs: []models.ArtistSong{}}

	var best models.PlaylistRef
	var typ string
	err = r.db.QueryRowContext(ctx, `
		SELECT id, name, type FROM playlists
		WHERE type = 'Artist' AND associated_artist_id = ?
		ORDER BY sequence ASC LIMIT 1`, id).Scan(&best.ID, &best.Name, &typ)
	switch {
	case err == nil:
		best.Type = models.PlaylistType(typ)
		detail.BestOfPlaylist = &best
	case !errors.Is(err, sql.ErrNoRows):
		return nil, fmt.Errorf("failed to query best-of playlist: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, "SELECT "+songColumns+` FROM songs s
		JOIN song_artists sa ON sa.song_id = s.id
		WHERE sa.artist_id = ?
		ORDER BY s.release_year DESC, s.title ASC`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query artist songs: %w", err)
	}
	for rows.Next() {
		song, err := scanSong(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan song: %w", err)
		}
		detail.Songs = append(detail.Songs, models.ArtistSong{Song: *song})
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}

	for i := range detail.Songs {
		s := &detail.Songs[i]
		if s.Collaborators, err = artistRefs(ctx, r.db, s.ID, id); err != nil {
			return nil, err
		}
		if s.Playlists, err = playlistRefs(ctx, r.db, s.ID); err != nil {
			return nil, err
		}
	}
	return detail, nil
}

// Count returns the number of stored artists.
func (r *ArtistRepository) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM artists").Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count artists: %w", err)
	}
	return n, nil
}

func (r *ArtistRepository) query(ctx context.Context, query string, args ...any) ([]*models.Artist, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query artists: %w", err)
	}
	defer rows.Close()

	var artists []*models.Artist
	for rows.Next() {
		a, err := scanArtist(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan artist: %w", err)
		}
		artists = append(artists, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return artists, nil
}

// artistRefs lists the artists credited on songID, skipping exclude.
func artistRefs(ctx context.Context, db *sql.DB, songID, exclude string) ([]models.ArtistRef, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT a.id, a.name FROM artists a
		JOIN song_artists sa ON sa.artist_id = a.id
		WHERE sa.song_id = ? AND a.id != ?
		ORDER BY a.sequence ASC`, songID, exclude)
	if err != nil {
		return nil, fmt.Errorf("failed to query song artists: %w", err)
	}
	defer rows.Close()

	refs := []models.ArtistRef{}
	for rows.Next() {
		var ref models.ArtistRef
		if err := rows.Scan(&ref.ID, &ref.Name); err != nil {
			return nil, fmt.Errorf("failed to scan song artist: %w", err)
		}
		refs = append(refs, ref)
	}
	return refs, rows.Err()
}

// playlistRefs lists the playlists songID appears in.
func playlistRefs(ctx context.Context, db *sql.DB, songID string) ([]models.PlaylistRef, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT p.id, p.name, p.type FROM playlists p
		JOIN playlist_songs ps ON ps.playlist_id = p.id
		WHERE ps.song_id = ?
		ORDER BY p.name ASC`, songID)
	if err != nil {
		return nil, fmt.Errorf("failed to query song playlists: %w", err)
	}
	defer rows.Close()

	refs := []models.PlaylistRef{}
	for rows.Next() {
		var (
			ref models.PlaylistRef
			typ string
		)
		if err := rows.Scan(&ref.ID, &ref.Name, &typ); err != nil {
			return nil, fmt.Errorf("failed to scan song playlist: %w", err)
		}
		ref.Type = models.PlaylistType(typ)
		refs = append(refs, ref)
	}
	return refs, rows.Err()
}

// scanArtist scans one row selected with artistColumns
func scanArtist(s scanner) (*models.Artist, error) {
	var (
		a          models.Artist
		externalID sql.NullString
	)

	err := s.Scan(&a.ID, &a.Sequence, &externalID, &a.Name, &a.ExternalURL, &a.ProfileImageURL,
		&a.Monthly, &a.Yearly, &a.BestOfSongs, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	a.ExternalArtistID = stringPtr(externalID)
	return &a, nil
}
