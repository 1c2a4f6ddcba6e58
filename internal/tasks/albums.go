package tasks

import (
	"context"
	"errors"

	"github.com/desertthunder/tally/internal/services"
	"github.com/desertthunder/tally/internal/shared"
)

// AlbumBackfillResult reports an album backfill pass.
type AlbumBackfillResult struct {
	Candidates int `json:"candidates"`
	Updated    int `json:"updated"`
	Missing    int `json:"missing"` // Songs the catalog returned no album for
}

// UpdateAlbumInformation fills in album ID, name and URL for songs stored without them.
//
// Songs are looked up in batches through the catalog. A song the catalog no longer knows is
// counted as missing and left as is.
func (e *SyncEngine) UpdateAlbumInformation(ctx context.Context, progress chan<- ProgressUpdate) (*AlbumBackfillResult, error) {
	songs, err := e.songs.ListMissingAlbum(ctx)
	if err != nil {
		return nil, err
	}

	result := &AlbumBackfillResult{Candidates: len(songs)}
	if len(songs) == 0 {
		return result, nil
	}

	token, err := e.tokens.AccessToken(ctx)
	if err != nil {
		return result, err
	}
	holder := &tokenHolder{token: token, source: e.tokens}

	ids := make([]string, len(songs))
	for i, s := range songs {
		ids[i] = s.ExternalTrackID
	}

	found := make(map[string]services.SpotifyTrack, len(ids))
	batches := chunk(ids, 50)
	for i, batch := range batches {
		sendProgress(progress, backfillUpdate(i+1, len(batches)))

		var tracks []services.SpotifyTrack
		err := holder.do(ctx, func(token string) error {
			var err error
			tracks, err = e.catalog.Tracks(ctx, token, batch)
			return err
		})
		if errors.Is(err, shared.ErrReauthorizationRequired) {
			return result, err
		}
		if err != nil {
			e.logger.Warn("album lookup failed for batch", "batch", i+1, "error", err)
			continue
		}
		for _, t := range tracks {
			found[t.ID] = t
		}
	}

	for _, s := range songs {
		t, ok := found[s.ExternalTrackID]
		if !ok || t.Album.ID == "" {
			result.Missing++
			continue
		}
		if err := e.songs.UpdateAlbum(ctx, s.ID, t.Album.ID, t.Album.Name, t.Album.ExternalURLs.Spotify); err != nil {
			return result, err
		}
		result.Updated++
	}

	e.logger.Info("album information updated", "candidates", result.Candidates, "updated", result.Updated, "missing", result.Missing)
	return result, nil
}

func chunk(ids []string, size int) [][]string {
	var out [][]string
	for len(ids) > 0 {
		n := min(size, len(ids))
		out = append(out, ids[:n])
		ids = ids[n:]
	}
	return out
}
