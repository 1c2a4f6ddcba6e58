package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/desertthunder/tally/internal/formatter"
	"github.com/desertthunder/tally/internal/models"
	"github.com/desertthunder/tally/internal/repositories"
	"github.com/desertthunder/tally/internal/shared"
	"github.com/urfave/cli/v3"
)

// CatalogPlaylists lists stored playlists, optionally of one type.
func (r *Runner) CatalogPlaylists(ctx context.Context, cmd *cli.Command) error {
	if err := r.open(ctx); err != nil {
		return err
	}

	var typ models.PlaylistType
	if v := cmd.String("type"); v != "" {
		parsed, err := models.ParsePlaylistType(v)
		if err != nil {
			return fmt.Errorf("%w: %v", shared.ErrInvalidArgument, err)
		}
		typ = parsed
	}

	playlists, err := repositories.NewPlaylistRepository(r.db).List(ctx, typ)
	if err != nil {
		return err
	}

	if cmd.Bool("json") {
		return r.writeJSON(playlists, true)
	}

	r.writePlain("Found %d playlists:\n\n", len(playlists))
	for i, p := range playlists {
		r.writePlain("%d. %s\n", i+1, p.Name)
		r.writePlain("   ID: %s\n", p.ID)
		r.writePlain("   Catalog ID: %s\n", p.ExternalID)
		if period := formatter.PeriodString(p); period != "" {
			r.writePlain("   Type: %s (%s)\n", p.Type, period)
		} else {
			r.writePlain("   Type: %s\n", p.Type)
		}
		r.writePlain("\n")
	}
	return nil
}

// CatalogSongs lists a playlist's songs in playlist order.
func (r *Runner) CatalogSongs(ctx context.Context, cmd *cli.Command) error {
	if err := r.open(ctx); err != nil {
		return err
	}

	playlists := repositories.NewPlaylistRepository(r.db)
	playlist, err := r.findPlaylist(ctx, playlists, cmd.StringArg("playlist"))
	if err != nil {
		return err
	}

	tracks, err := playlists.Tracks(ctx, playlist.ID)
	if err != nil {
		return err
	}

	if cmd.Bool("json") {
		return r.writeJSON(map[string]any{"playlist": playlist, "songs": tracks}, true)
	}

	data, err := formatter.PlaylistText(playlist, tracks)
	if err != nil {
		return err
	}
	return r.writePlain("%s", data)
}

// CatalogArtists prints the artist leaderboard or writes it to a file.
func (r *Runner) CatalogArtists(ctx context.Context, cmd *cli.Command) error {
	if err := r.open(ctx); err != nil {
		return err
	}

	sort := repositories.ArtistSort(cmd.String("sort"))
	switch sort {
	case repositories.SortByName, repositories.SortByMonthly, repositories.SortByYearly, repositories.SortByBestOf:
	default:
		return fmt.Errorf("%w: unknown sort %q", shared.ErrInvalidArgument, sort)
	}

	artists, err := repositories.NewArtistRepository(r.db).List(ctx, sort)
	if err != nil {
		return err
	}

	if cmd.Bool("json") {
		return r.writeJSON(artists, true)
	}

	output, format := cmd.String("output"), cmd.String("format")
	if output == "" && format == "" {
		data, err := formatter.LeaderboardText(artists)
		if err != nil {
			return err
		}
		return r.writePlain("%s", data)
	}

	f, err := formatter.ParseFormat(format)
	if err != nil {
		return err
	}
	path, err := formatter.WriteLeaderboard(artists, f, output)
	if err != nil {
		return err
	}
	r.logger.Info("leaderboard exported", "path", path, "artists", len(artists))
	return r.writePlain("✓ Leaderboard with %d artists written to %s\n", len(artists), path)
}

// CatalogArtist shows one artist with their songs.
func (r *Runner) CatalogArtist(ctx context.Context, cmd *cli.Command) error {
	if err := r.open(ctx); err != nil {
		return err
	}

	artists := repositories.NewArtistRepository(r.db)
	artist, err := r.findArtist(ctx, artists, cmd.StringArg("id"))
	if err != nil {
		return err
	}

	detail, err := artists.Detail(ctx, artist.ID)
	if err != nil {
		return err
	}

	if cmd.Bool("json") {
		return r.writeJSON(detail, true)
	}

	r.writePlainHeader(detail.Name)
	r.writePlain("Monthly features: %d\n", detail.Monthly)
	r.writePlain("Yearly features:  %d\n", detail.Yearly)
	r.writePlain("Best of songs:    %d\n", detail.BestOfSongs)
	if detail.BestOfPlaylist != nil {
		r.writePlain("Best of playlist: %s\n", detail.BestOfPlaylist.Name)
	}

	r.writePlain("\nSongs: %d\n", len(detail.Songs))
	for i, song := range detail.Songs {
		r.writePlain("%d. %s (%s)\n", i+1, song.Title, formatter.ReleaseString(&song.Song))
		if len(song.Collaborators) > 0 {
			names := make([]string, len(song.Collaborators))
			for j, c := range song.Collaborators {
				names[j] = c.Name
			}
			r.writePlain("   With: %s\n", strings.Join(names, ", "))
		}
		if len(song.Playlists) > 0 {
			names := make([]string, len(song.Playlists))
			for j, p := range song.Playlists {
				names[j] = p.Name
			}
			r.writePlain("   In: %s\n", strings.Join(names, ", "))
		}
	}
	return nil
}

// CatalogSearch looks artists up in the catalog API, refreshing the token once on a 401.
func (r *Runner) CatalogSearch(ctx context.Context, cmd *cli.Command) error {
	query := strings.TrimSpace(cmd.StringArg("query"))
	if query == "" {
		return fmt.Errorf("%w: search query", shared.ErrMissingArgument)
	}
	if err := r.open(ctx); err != nil {
		return err
	}

	token, err := r.auth.AccessToken(ctx)
	if err != nil {
		return reauthHint(err)
	}

	limit := cmd.Int("limit")
	candidates, err := r.catalog.SearchArtists(ctx, token, query, limit)
	if errors.Is(err, shared.ErrUnauthorized) {
		if token, err = r.auth.Refresh(ctx); err != nil {
			return reauthHint(err)
		}
		candidates, err = r.catalog.SearchArtists(ctx, token, query, limit)
	}
	if err != nil {
		return err
	}

	if cmd.Bool("json") {
		return r.writeJSON(candidates, true)
	}

	r.writePlain("Found %d artists for %q:\n\n", len(candidates), query)
	for i, a := range candidates {
		r.writePlain("%d. %s\n", i+1, a.Name)
		r.writePlain("   Catalog ID: %s\n", a.ID)
		if a.ExternalURLs.Spotify != "" {
			r.writePlain("   URL: %s\n", a.ExternalURLs.Spotify)
		}
	}
	return nil
}

// CatalogExport writes a playlist's songs in the requested format.
func (r *Runner) CatalogExport(ctx context.Context, cmd *cli.Command) error {
	format, err := formatter.ParseFormat(cmd.String("format"))
	if err != nil {
		return err
	}
	if err := r.open(ctx); err != nil {
		return err
	}

	playlists := repositories.NewPlaylistRepository(r.db)
	playlist, err := r.findPlaylist(ctx, playlists, cmd.StringArg("playlist"))
	if err != nil {
		return err
	}

	tracks, err := playlists.Tracks(ctx, playlist.ID)
	if err != nil {
		return err
	}

	result, err := formatter.WritePlaylistExport(playlist, tracks, format, cmd.String("output"))
	if err != nil {
		return err
	}

	r.logger.Info("playlist exported", "playlist", playlist.Name, "files", result.Files)
	r.writePlain("✓ Exported %s (%d songs)\n", playlist.Name, len(tracks))
	for _, f := range result.Files {
		r.writePlain("  %s\n", f)
	}
	if result.CoverImage != "" {
		r.writePlain("  %s\n", result.CoverImage)
	}
	return nil
}

// findPlaylist resolves an internal ID or a catalog ID.
func (r *Runner) findPlaylist(ctx context.Context, repo *repositories.PlaylistRepository, ref string) (*models.Playlist, error) {
	if ref == "" {
		return nil, fmt.Errorf("%w: playlist ID", shared.ErrMissingArgument)
	}

	p, err := repo.Get(ctx, ref)
	if errors.Is(err, shared.ErrRecordNotFound) {
		p, err = repo.GetByExternalID(ctx, ref)
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}

// findArtist resolves an internal ID, a catalog ID or a name; the oldest match wins for names.
func (r *Runner) findArtist(ctx context.Context, repo *repositories.ArtistRepository, ref string) (*models.Artist, error) {
	if ref == "" {
		return nil, fmt.Errorf("%w: artist ID or name", shared.ErrMissingArgument)
	}

	a, err := repo.Get(ctx, ref)
	if errors.Is(err, shared.ErrRecordNotFound) {
		a, err = repo.GetByExternalID(ctx, ref)
	}
	if errors.Is(err, shared.ErrRecordNotFound) {
		matches, findErr := repo.FindByName(ctx, ref)
		if findErr != nil {
			return nil, findErr
		}
		if len(matches) > 0 {
			return matches[0], nil
		}
	}
	if err != nil {
		return nil, err
	}
	return a, nil
}
