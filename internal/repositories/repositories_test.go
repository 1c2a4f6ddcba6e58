package repositories

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/desertthunder/tally/internal/models"
	"github.com/desertthunder/tally/internal/shared"
)

// setupTestDB creates an in-memory SQLite database with migrations applied
func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := shared.NewDatabase(":memory:")
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}

	if err := shared.RunMigrations(db); err != nil {
		db.Close()
		t.Fatalf("failed to run migrations: %v", err)
	}

	t.Cleanup(func() { db.Close() })
	return db
}

func ptr[T any](v T) *T { return &v }

func mustUpsertArtist(t *testing.T, repo *ArtistRepository, externalID, name string) *models.Artist {
	t.Helper()
	a, err := repo.Upsert(context.Background(), &models.Artist{ExternalArtistID: ptr(externalID), Name: name})
	if err != nil {
		t.Fatalf("failed to upsert artist %s: %v", name, err)
	}
	return a
}

func mustUpsertSong(t *testing.T, repo *SongRepository, externalID, title string) *models.Song {
	t.Helper()
	s, err := repo.Upsert(context.Background(), &models.Song{ExternalTrackID: externalID, Title: title, CoverImageURL: "cover", ReleaseYear: 2023})
	if err != nil {
		t.Fatalf("failed to upsert song %s: %v", title, err)
	}
	return s
}

func mustUpsertPlaylist(t *testing.T, repo *PlaylistRepository, p *models.Playlist) *models.Playlist {
	t.Helper()
	if p.CoverImageURL == "" {
		p.CoverImageURL = "cover"
	}
	got, err := repo.Upsert(context.Background(), p)
	if err != nil {
		t.Fatalf("failed to upsert playlist %s: %v", p.Name, err)
	}
	return got
}

func TestNextSequence(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	for want := 1; want <= 3; want++ {
		got, err := NextSequence(ctx, db, "artists")
		if err != nil {
			t.Fatalf("failed to get sequence: %v", err)
		}
		if got != want {
			t.Errorf("expected sequence %d, got %d", want, got)
		}
	}

	if _, err := NextSequence(ctx, db, "missing"); err == nil {
		t.Error("expected error for a table without a sequence")
	}
}

func TestCredentialRepository(t *testing.T) {
	ctx := context.Background()

	t.Run("Get missing", func(t *testing.T) {
		repo := NewCredentialRepository(setupTestDB(t))
		_, err := repo.Get(ctx, models.CuratorPrincipal)
		if !errors.Is(err, shared.ErrRecordNotFound) {
			t.Errorf("expected ErrRecordNotFound, got %v", err)
		}
	})

	t.Run("Save creates then overwrites", func(t *testing.T) {
		repo := NewCredentialRepository(setupTestDB(t))
		expires := time.Now().Add(time.Hour).UTC().Truncate(time.Second)

		c := &models.Credential{PrincipalID: models.CuratorPrincipal, AccessToken: "a1", RefreshToken: "r1", ExpiresAt: expires, Scope: "playlist-read-private"}
		if err := repo.Save(ctx, c); err != nil {
			t.Fatalf("failed to save credential: %v", err)
		}

		c.AccessToken = "a2"
		c.ExpiresAt = expires.Add(time.Hour)
		if err := repo.Save(ctx, c); err != nil {
			t.Fatalf("failed to overwrite credential: %v", err)
		}

		got, err := repo.Get(ctx, models.CuratorPrincipal)
		if err != nil {
			t.Fatalf("failed to get credential: %v", err)
		}
		if got.AccessToken != "a2" || got.RefreshToken != "r1" {
			t.Errorf("unexpected tokens: %s/%s", got.AccessToken, got.RefreshToken)
		}
		if !got.ExpiresAt.Equal(expires.Add(time.Hour)) {
			t.Errorf("expected expiry %v, got %v", expires.Add(time.Hour), got.ExpiresAt)
		}
		if got.Scope != "playlist-read-private" {
			t.Errorf("expected scope kept, got %q", got.Scope)
		}

		var rows int
		if err := repo.db.QueryRow("SELECT COUNT(*) FROM curator_credentials").Scan(&rows); err != nil {
			t.Fatalf("failed to count credentials: %v", err)
		}
		if rows != 1 {
			t.Errorf("expected a single credential row, got %d", rows)
		}
	})

	t.Run("Save rejects incomplete credential", func(t *testing.T) {
		repo := NewCredentialRepository(setupTestDB(t))
		if err := repo.Save(ctx, &models.Credential{PrincipalID: models.CuratorPrincipal, AccessToken: "a"}); err == nil {
			t.Error("expected validation error")
		}
	})
}

func TestPlaylistRepository(t *testing.T) {
	ctx := context.Background()

	t.Run("Upsert is keyed on external id", func(t *testing.T) {
		repo := NewPlaylistRepository(setupTestDB(t))

		first := mustUpsertPlaylist(t, repo, &models.Playlist{ExternalID: "pl1", Name: "2023 March", Type: models.PlaylistMonthly, AssociatedYear: ptr(2023), AssociatedMonth: ptr(3)})
		second := mustUpsertPlaylist(t, repo, &models.Playlist{ExternalID: "pl1", Name: "2023 March (updated)", Type: models.PlaylistMonthly, AssociatedYear: ptr(2023), AssociatedMonth: ptr(3)})

		if first.ID != second.ID {
			t.Errorf("expected stable internal id, got %s then %s", first.ID, second.ID)
		}
		if second.Name != "2023 March (updated)" {
			t.Errorf("expected name updated, got %s", second.Name)
		}
		if first.Sequence != second.Sequence {
			t.Errorf("expected stable sequence, got %d then %d", first.Sequence, second.Sequence)
		}

		n, err := repo.Count(ctx)
		if err != nil {
			t.Fatalf("failed to count: %v", err)
		}
		if n != 1 {
			t.Errorf("expected 1 playlist, got %d", n)
		}
	})

	t.Run("Upsert keeps associated artist", func(t *testing.T) {
		db := setupTestDB(t)
		repo := NewPlaylistRepository(db)
		artist := mustUpsertArtist(t, NewArtistRepository(db), "ar1", "Future")

		p := mustUpsertPlaylist(t, repo, &models.Playlist{ExternalID: "best", Name: "Best of Future", Type: models.PlaylistArtist})
		if err := repo.SetAssociatedArtist(ctx, p.ID, artist.ID); err != nil {
			t.Fatalf("failed to associate: %v", err)
		}

		again := mustUpsertPlaylist(t, repo, &models.Playlist{ExternalID: "best", Name: "Best of Future", Type: models.PlaylistArtist})
		if again.AssociatedArtistID == nil || *again.AssociatedArtistID != artist.ID {
			t.Errorf("expected association to survive upsert, got %v", again.AssociatedArtistID)
		}
	})

	t.Run("Upsert rejects invalid playlist", func(t *testing.T) {
		repo := NewPlaylistRepository(setupTestDB(t))
		_, err := repo.Upsert(ctx, &models.Playlist{ExternalID: "m", Name: "x", Type: models.PlaylistMonthly, CoverImageURL: "c"})
		if err == nil {
			t.Error("expected monthly playlist without year/month to fail")
		}
	})

	t.Run("List orders by period then name", func(t *testing.T) {
		repo := NewPlaylistRepository(setupTestDB(t))
		mustUpsertPlaylist(t, repo, &models.Playlist{ExternalID: "a", Name: "2023 January", Type: models.PlaylistMonthly, AssociatedYear: ptr(2023), AssociatedMonth: ptr(1)})
		mustUpsertPlaylist(t, repo, &models.Playlist{ExternalID: "b", Name: "2024 May", Type: models.PlaylistMonthly, AssociatedYear: ptr(2024), AssociatedMonth: ptr(5)})
		mustUpsertPlaylist(t, repo, &models.Playlist{ExternalID: "c", Name: "2023 March", Type: models.PlaylistMonthly, AssociatedYear: ptr(2023), AssociatedMonth: ptr(3)})
		mustUpsertPlaylist(t, repo, &models.Playlist{ExternalID: "d", Name: "Best of Drake", Type: models.PlaylistArtist})

		monthly, err := repo.List(ctx, models.PlaylistMonthly)
		if err != nil {
			t.Fatalf("failed to list: %v", err)
		}
		want := []string{"2024 May", "2023 March", "2023 January"}
		if len(monthly) != len(want) {
			t.Fatalf("expected %d playlists, got %d", len(want), len(monthly))
		}
		for i, name := range want {
			if monthly[i].Name != name {
				t.Errorf("position %d: expected %s, got %s", i, name, monthly[i].Name)
			}
		}

		all, err := repo.List(ctx, "")
		if err != nil {
			t.Fatalf("failed to list all: %v", err)
		}
		if len(all) != 4 {
			t.Errorf("expected 4 playlists, got %d", len(all))
		}
	})

	t.Run("LinkSong overwrites order and PruneSongs drops stale links", func(t *testing.T) {
		db := setupTestDB(t)
		repo := NewPlaylistRepository(db)
		songs := NewSongRepository(db)

		p := mustUpsertPlaylist(t, repo, &models.Playlist{ExternalID: "pl", Name: "Best of 2020", Type: models.PlaylistYearly, AssociatedYear: ptr(2020)})
		s1 := mustUpsertSong(t, songs, "t1", "One")
		s2 := mustUpsertSong(t, songs, "t2", "Two")
		s3 := mustUpsertSong(t, songs, "t3", "Three")

		for i, s := range []*models.Song{s1, s2, s3} {
			if err := repo.LinkSong(ctx, p.ID, s.ID, i); err != nil {
				t.Fatalf("failed to link: %v", err)
			}
		}
		if err := repo.LinkSong(ctx, p.ID, s1.ID, 5); err != nil {
			t.Fatalf("failed to relink: %v", err)
		}

		links, err := repo.Links(ctx, p.ID)
		if err != nil {
			t.Fatalf("failed to list links: %v", err)
		}
		if len(links) != 3 {
			t.Fatalf("expected 3 links, got %d", len(links))
		}
		if last := links[len(links)-1]; last.SongID != s1.ID || last.OrderInPlaylist != 5 {
			t.Errorf("expected song one moved to position 5, got %+v", last)
		}

		pruned, err := repo.PruneSongs(ctx, p.ID, []string{s1.ID, s3.ID})
		if err != nil {
			t.Fatalf("failed to prune: %v", err)
		}
		if pruned != 1 {
			t.Errorf("expected 1 pruned link, got %d", pruned)
		}
		if _, err := songs.Get(ctx, s2.ID); err != nil {
			t.Errorf("pruning must not delete the song: %v", err)
		}

		pruned, err = repo.PruneSongs(ctx, p.ID, nil)
		if err != nil {
			t.Fatalf("failed to prune all: %v", err)
		}
		if pruned != 2 {
			t.Errorf("expected 2 pruned links, got %d", pruned)
		}
	})

	t.Run("Tracks returns songs in order with artists", func(t *testing.T) {
		db := setupTestDB(t)
		repo := NewPlaylistRepository(db)
		songs := NewSongRepository(db)
		artists := NewArtistRepository(db)

		p := mustUpsertPlaylist(t, repo, &models.Playlist{ExternalID: "pl", Name: "Best of Gunna", Type: models.PlaylistArtist})
		a := mustUpsertArtist(t, artists, "ar1", "Gunna")
		b := mustUpsertArtist(t, artists, "ar2", "Young Thug")
		s1 := mustUpsertSong(t, songs, "t1", "One")
		s2 := mustUpsertSong(t, songs, "t2", "Two")
		songs.LinkArtist(ctx, s1.ID, a.ID)
		songs.LinkArtist(ctx, s2.ID, a.ID)
		songs.LinkArtist(ctx, s2.ID, b.ID)
		repo.LinkSong(ctx, p.ID, s2.ID, 0)
		repo.LinkSong(ctx, p.ID, s1.ID, 1)

		tracks, err := repo.Tracks(ctx, p.ID)
		if err != nil {
			t.Fatalf("failed to get tracks: %v", err)
		}
		if len(tracks) != 2 {
			t.Fatalf("expected 2 tracks, got %d", len(tracks))
		}
		if tracks[0].Title != "Two" || len(tracks[0].Artists) != 2 {
			t.Errorf("unexpected first track: %+v", tracks[0])
		}
		if tracks[1].Title != "One" || tracks[1].OrderInPlaylist != 1 {
			t.Errorf("unexpected second track: %+v", tracks[1])
		}
	})

	t.Run("ListUnassociatedArtistPlaylists", func(t *testing.T) {
		db := setupTestDB(t)
		repo := NewPlaylistRepository(db)
		artist := mustUpsertArtist(t, NewArtistRepository(db), "ar1", "Drake")

		linked := mustUpsertPlaylist(t, repo, &models.Playlist{ExternalID: "a", Name: "Best of Drake", Type: models.PlaylistArtist})
		mustUpsertPlaylist(t, repo, &models.Playlist{ExternalID: "b", Name: "Best of Future", Type: models.PlaylistArtist})
		mustUpsertPlaylist(t, repo, &models.Playlist{ExternalID: "c", Name: "Best of 2020", Type: models.PlaylistYearly, AssociatedYear: ptr(2020)})
		if err := repo.SetAssociatedArtist(ctx, linked.ID, artist.ID); err != nil {
			t.Fatalf("failed to associate: %v", err)
		}

		got, err := repo.ListUnassociatedArtistPlaylists(ctx)
		if err != nil {
			t.Fatalf("failed to list: %v", err)
		}
		if len(got) != 1 || got[0].ExternalID != "b" {
			t.Errorf("expected only the unlinked artist playlist, got %+v", got)
		}

		if err := repo.SetAssociatedArtist(ctx, "missing", artist.ID); !errors.Is(err, shared.ErrRecordNotFound) {
			t.Errorf("expected ErrRecordNotFound, got %v", err)
		}
	})
}

func TestSongRepository(t *testing.T) {
	ctx := context.Background()

	t.Run("Upsert updates title without duplicating", func(t *testing.T) {
		repo := NewSongRepository(setupTestDB(t))
		first := mustUpsertSong(t, repo, "t1", "Original")
		second := mustUpsertSong(t, repo, "t1", "Renamed")

		if first.ID != second.ID {
			t.Errorf("expected same id, got %s and %s", first.ID, second.ID)
		}
		if second.Title != "Renamed" {
			t.Errorf("expected updated title, got %s", second.Title)
		}
		if n, _ := repo.Count(ctx); n != 1 {
			t.Errorf("expected 1 song, got %d", n)
		}
	})

	t.Run("Upsert keeps backfilled album when payload has none", func(t *testing.T) {
		repo := NewSongRepository(setupTestDB(t))
		s := mustUpsertSong(t, repo, "t1", "Song")
		if err := repo.UpdateAlbum(ctx, s.ID, "al1", "Album", "https://album"); err != nil {
			t.Fatalf("failed to update album: %v", err)
		}

		again := mustUpsertSong(t, repo, "t1", "Song")
		if again.AlbumID == nil || *again.AlbumID != "al1" {
			t.Errorf("expected album kept, got %v", again.AlbumID)
		}

		missing, err := repo.ListMissingAlbum(ctx)
		if err != nil {
			t.Fatalf("failed to list missing: %v", err)
		}
		if len(missing) != 0 {
			t.Errorf("expected no songs missing albums, got %d", len(missing))
		}
	})

	t.Run("Upsert stores release month only when present", func(t *testing.T) {
		repo := NewSongRepository(setupTestDB(t))
		s, err := repo.Upsert(ctx, &models.Song{ExternalTrackID: "t1", Title: "x", CoverImageURL: "c", ReleaseYear: 1994})
		if err != nil {
			t.Fatalf("failed to upsert: %v", err)
		}
		if s.ReleaseMonth != nil {
			t.Errorf("expected nil month, got %d", *s.ReleaseMonth)
		}

		s, err = repo.Upsert(ctx, &models.Song{ExternalTrackID: "t1", Title: "x", CoverImageURL: "c", ReleaseYear: 1994, ReleaseMonth: ptr(7)})
		if err != nil {
			t.Fatalf("failed to upsert: %v", err)
		}
		if s.ReleaseMonth == nil || *s.ReleaseMonth != 7 {
			t.Errorf("expected month 7, got %v", s.ReleaseMonth)
		}
	})

	t.Run("LinkArtist ignores duplicates", func(t *testing.T) {
		db := setupTestDB(t)
		repo := NewSongRepository(db)
		s := mustUpsertSong(t, repo, "t1", "Song")
		a := mustUpsertArtist(t, NewArtistRepository(db), "ar1", "Artist")

		created, err := repo.LinkArtist(ctx, s.ID, a.ID)
		if err != nil || !created {
			t.Fatalf("expected first link created, got %v, %v", created, err)
		}
		created, err = repo.LinkArtist(ctx, s.ID, a.ID)
		if err != nil || created {
			t.Fatalf("expected second link to be a no-op, got %v, %v", created, err)
		}
	})

	t.Run("Concurrent upserts converge on one row", func(t *testing.T) {
		repo := NewSongRepository(setupTestDB(t))

		var wg sync.WaitGroup
		ids := make([]string, 8)
		for i := range ids {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				s, err := repo.Upsert(ctx, &models.Song{ExternalTrackID: "shared", Title: "Song", CoverImageURL: "c"})
				if err != nil {
					t.Errorf("upsert %d failed: %v", i, err)
					return
				}
				ids[i] = s.ID
			}(i)
		}
		wg.Wait()

		for _, id := range ids[1:] {
			if id != ids[0] {
				t.Errorf("expected all upserts to return %s, got %s", ids[0], id)
			}
		}
		if n, _ := repo.Count(ctx); n != 1 {
			t.Errorf("expected 1 song, got %d", n)
		}
	})
}

func TestArtistRepository(t *testing.T) {
	ctx := context.Background()

	t.Run("Upsert requires an external id", func(t *testing.T) {
		repo := NewArtistRepository(setupTestDB(t))
		if _, err := repo.Upsert(ctx, &models.Artist{Name: "Nobody"}); !errors.Is(err, shared.ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput, got %v", err)
		}
	})

	t.Run("Upsert keeps counts and profile image", func(t *testing.T) {
		repo := NewArtistRepository(setupTestDB(t))
		a, err := repo.Upsert(ctx, &models.Artist{ExternalArtistID: ptr("ar1"), Name: "Future", ProfileImageURL: "https://img"})
		if err != nil {
			t.Fatalf("failed to upsert: %v", err)
		}
		if err := repo.UpdateFeatureCounts(ctx, a.ID, models.FeatureCounts{Monthly: 2, Yearly: 1, BestOfSongs: 5}); err != nil {
			t.Fatalf("failed to update counts: %v", err)
		}

		again := mustUpsertArtist(t, repo, "ar1", "Future Hendrix")
		if again.Name != "Future Hendrix" {
			t.Errorf("expected name updated, got %s", again.Name)
		}
		if again.ProfileImageURL != "https://img" {
			t.Errorf("expected profile image kept, got %q", again.ProfileImageURL)
		}
		if again.Monthly != 2 || again.Yearly != 1 || again.BestOfSongs != 5 {
			t.Errorf("expected counts kept, got %+v", again.FeatureCounts)
		}
	})

	t.Run("FindByName ignores case and orders by sequence", func(t *testing.T) {
		repo := NewArtistRepository(setupTestDB(t))
		first := mustUpsertArtist(t, repo, "ar1", "gucci mane")
		mustUpsertArtist(t, repo, "ar2", "Gucci Mane")
		mustUpsertArtist(t, repo, "ar3", "Young Dolph")

		got, err := repo.FindByName(ctx, "Gucci Mane")
		if err != nil {
			t.Fatalf("failed to find: %v", err)
		}
		if len(got) != 2 {
			t.Fatalf("expected 2 matches, got %d", len(got))
		}
		if got[0].ID != first.ID {
			t.Errorf("expected oldest artist first")
		}

		none, err := repo.FindByName(ctx, "Nobody")
		if err != nil {
			t.Fatalf("failed to find: %v", err)
		}
		if len(none) != 0 {
			t.Errorf("expected no matches, got %d", len(none))
		}

		accented := mustUpsertArtist(t, repo, "ar4", "MØ")
		folded, err := repo.FindByName(ctx, "mø")
		if err != nil {
			t.Fatalf("failed to find: %v", err)
		}
		if len(folded) != 1 || folded[0].ID != accented.ID {
			t.Errorf("expected non-ASCII name to fold, got %v", folded)
		}
	})

	t.Run("ComputeFeatureCounts counts distinct songs", func(t *testing.T) {
		db := setupTestDB(t)
		artists := NewArtistRepository(db)
		songs := NewSongRepository(db)
		playlists := NewPlaylistRepository(db)

		artist := mustUpsertArtist(t, artists, "ar1", "Artist A")
		m1 := mustUpsertPlaylist(t, playlists, &models.Playlist{ExternalID: "m1", Name: "2023 January", Type: models.PlaylistMonthly, AssociatedYear: ptr(2023), AssociatedMonth: ptr(1)})
		m2 := mustUpsertPlaylist(t, playlists, &models.Playlist{ExternalID: "m2", Name: "2023 February", Type: models.PlaylistMonthly, AssociatedYear: ptr(2023), AssociatedMonth: ptr(2)})
		y1 := mustUpsertPlaylist(t, playlists, &models.Playlist{ExternalID: "y1", Name: "Best of 2023", Type: models.PlaylistYearly, AssociatedYear: ptr(2023)})
		best := mustUpsertPlaylist(t, playlists, &models.Playlist{ExternalID: "b1", Name: "Best of Artist A", Type: models.PlaylistArtist})

		var tracks []*models.Song
		for _, id := range []string{"t1", "t2", "t3", "t4"} {
			s := mustUpsertSong(t, songs, id, id)
			if _, err := songs.LinkArtist(ctx, s.ID, artist.ID); err != nil {
				t.Fatalf("failed to link artist: %v", err)
			}
			tracks = append(tracks, s)
		}

		// t1 appears in both monthly playlists but counts once.
		playlists.LinkSong(ctx, m1.ID, tracks[0].ID, 0)
		playlists.LinkSong(ctx, m2.ID, tracks[0].ID, 0)
		playlists.LinkSong(ctx, m1.ID, tracks[1].ID, 1)
		playlists.LinkSong(ctx, m2.ID, tracks[2].ID, 1)
		playlists.LinkSong(ctx, y1.ID, tracks[3].ID, 0)
		playlists.LinkSong(ctx, best.ID, tracks[0].ID, 0)
		playlists.LinkSong(ctx, best.ID, tracks[3].ID, 1)

		counts, err := artists.ComputeFeatureCounts(ctx, artist.ID)
		if err != nil {
			t.Fatalf("failed to compute: %v", err)
		}
		if counts.Monthly != 3 || counts.Yearly != 1 {
			t.Errorf("expected monthly=3 yearly=1, got %+v", counts)
		}
		if counts.BestOfSongs != 0 {
			t.Errorf("expected no best-of count before association, got %d", counts.BestOfSongs)
		}

		if err := playlists.SetAssociatedArtist(ctx, best.ID, artist.ID); err != nil {
			t.Fatalf("failed to associate: %v", err)
		}
		counts, err = artists.ComputeFeatureCounts(ctx, artist.ID)
		if err != nil {
			t.Fatalf("failed to compute: %v", err)
		}
		if counts.BestOfSongs != 2 {
			t.Errorf("expected best-of count 2, got %d", counts.BestOfSongs)
		}
	})

	t.Run("List sorts by requested count", func(t *testing.T) {
		repo := NewArtistRepository(setupTestDB(t))
		a := mustUpsertArtist(t, repo, "ar1", "Alpha")
		b := mustUpsertArtist(t, repo, "ar2", "Beta")
		repo.UpdateFeatureCounts(ctx, a.ID, models.FeatureCounts{Monthly: 1})
		repo.UpdateFeatureCounts(ctx, b.ID, models.FeatureCounts{Monthly: 4})

		byName, err := repo.List(ctx, SortByName)
		if err != nil {
			t.Fatalf("failed to list: %v", err)
		}
		if byName[0].Name != "Alpha" {
			t.Errorf("expected Alpha first by name, got %s", byName[0].Name)
		}

		byMonthly, err := repo.List(ctx, SortByMonthly)
		if err != nil {
			t.Fatalf("failed to list: %v", err)
		}
		if byMonthly[0].Name != "Beta" {
			t.Errorf("expected Beta first by monthly count, got %s", byMonthly[0].Name)
		}
	})

	t.Run("Detail", func(t *testing.T) {
		db := setupTestDB(t)
		artists := NewArtistRepository(db)
		songs := NewSongRepository(db)
		playlists := NewPlaylistRepository(db)

		a := mustUpsertArtist(t, artists, "ar1", "Lil Baby")
		b := mustUpsertArtist(t, artists, "ar2", "Gunna")
		s := mustUpsertSong(t, songs, "t1", "Drip Too Hard")
		songs.LinkArtist(ctx, s.ID, a.ID)
		songs.LinkArtist(ctx, s.ID, b.ID)
		best := mustUpsertPlaylist(t, playlists, &models.Playlist{ExternalID: "b", Name: "Best of Lil Baby", Type: models.PlaylistArtist})
		playlists.LinkSong(ctx, best.ID, s.ID, 0)
		playlists.SetAssociatedArtist(ctx, best.ID, a.ID)

		detail, err := artists.Detail(ctx, a.ID)
		if err != nil {
			t.Fatalf("failed to get detail: %v", err)
		}
		if detail.BestOfPlaylist == nil || detail.BestOfPlaylist.ID != best.ID {
			t.Errorf("expected best-of playlist, got %+v", detail.BestOfPlaylist)
		}
		if len(detail.Songs) != 1 {
			t.Fatalf("expected 1 song, got %d", len(detail.Songs))
		}
		song := detail.Songs[0]
		if len(song.Collaborators) != 1 || song.Collaborators[0].Name != "Gunna" {
			t.Errorf("expected Gunna as collaborator, got %+v", song.Collaborators)
		}
		if len(song.Playlists) != 1 || song.Playlists[0].Name != "Best of Lil Baby" {
			t.Errorf("unexpected playlists: %+v", song.Playlists)
		}

		if _, err := artists.Detail(ctx, "missing"); !errors.Is(err, shared.ErrRecordNotFound) {
			t.Errorf("expected ErrRecordNotFound, got %v", err)
		}
	})

	t.Run("ListMissingImage", func(t *testing.T) {
		repo := NewArtistRepository(setupTestDB(t))
		a := mustUpsertArtist(t, repo, "ar1", "No Image")
		if _, err := repo.Upsert(ctx, &models.Artist{ExternalArtistID: ptr("ar2"), Name: "Has Image", ProfileImageURL: "https://img"}); err != nil {
			t.Fatalf("failed to upsert: %v", err)
		}

		missing, err := repo.ListMissingImage(ctx)
		if err != nil {
			t.Fatalf("failed to list: %v", err)
		}
		if len(missing) != 1 || missing[0].ID != a.ID {
			t.Fatalf("expected only the artist without an image, got %+v", missing)
		}

		if err := repo.UpdateProfileImage(ctx, a.ID, "https://new"); err != nil {
			t.Fatalf("failed to update image: %v", err)
		}
		missing, _ = repo.ListMissingImage(ctx)
		if len(missing) != 0 {
			t.Errorf("expected none missing after update, got %d", len(missing))
		}
	})
}

func TestSyncRunRepository(t *testing.T) {
	ctx := context.Background()
	repo := NewSyncRunRepository(setupTestDB(t))

	first, err := repo.Start(ctx, time.Now())
	if err != nil {
		t.Fatalf("failed to start run: %v", err)
	}
	first.Status = models.SyncCompleted
	first.PlaylistsProcessed = 3
	first.Message = "done"
	if err := repo.Finish(ctx, first); err != nil {
		t.Fatalf("failed to finish run: %v", err)
	}

	second, err := repo.Start(ctx, time.Now())
	if err != nil {
		t.Fatalf("failed to start run: %v", err)
	}

	runs, err := repo.List(ctx, 10)
	if err != nil {
		t.Fatalf("failed to list runs: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("expected 2 runs, got %d", len(runs))
	}
	if runs[0].ID != second.ID || runs[0].Status != models.SyncRunning || runs[0].CompletedAt != nil {
		t.Errorf("expected latest run first and still running, got %+v", runs[0])
	}
	if runs[1].PlaylistsProcessed != 3 || runs[1].CompletedAt == nil {
		t.Errorf("expected finished run counters, got %+v", runs[1])
	}

	if err := repo.Finish(ctx, &models.SyncRun{ID: "missing", Status: models.SyncFailed}); !errors.Is(err, shared.ErrRecordNotFound) {
		t.Errorf("expected ErrRecordNotFound, got %v", err)
	}
}

func TestRepositoryErrors(t *testing.T) {
	db := setupTestDB(t)
	db.Close()
	ctx := context.Background()

	artists := NewArtistRepository(db)
	playlists := NewPlaylistRepository(db)
	songs := NewSongRepository(db)
	creds := NewCredentialRepository(db)
	runs := NewSyncRunRepository(db)

	tests := []struct {
		name string
		call func() error
	}{
		{"artist upsert", func() error {
			_, err := artists.Upsert(ctx, &models.Artist{ExternalArtistID: ptr("ar-1"), Name: "Future"})
			return err
		}},
		{"artist list", func() error { _, err := artists.List(ctx, SortByName); return err }},
		{"artist find by name", func() error { _, err := artists.FindByName(ctx, "Future"); return err }},
		{"playlist get", func() error { _, err := playlists.Get(ctx, "id"); return err }},
		{"playlist list", func() error { _, err := playlists.List(ctx, ""); return err }},
		{"playlist tracks", func() error { _, err := playlists.Tracks(ctx, "id"); return err }},
		{"song missing album", func() error { _, err := songs.ListMissingAlbum(ctx); return err }},
		{"credential get", func() error {
			_, err := creds.Get(ctx, models.CuratorPrincipal)
			return err
		}},
		{"sync run start", func() error { _, err := runs.Start(ctx, time.Now()); return err }},
		{"sync run list", func() error { _, err := runs.List(ctx, 10); return err }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.call()
			if err == nil {
				t.Fatal("expected error on a closed database")
			}
			if errors.Is(err, shared.ErrRecordNotFound) {
				t.Errorf("expected a database error, not ErrRecordNotFound: %v", err)
			}
		})
	}
}
