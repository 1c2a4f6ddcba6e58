package tasks

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/desertthunder/tally/internal/auth"
	"github.com/desertthunder/tally/internal/metrics"
	"github.com/desertthunder/tally/internal/models"
	"github.com/desertthunder/tally/internal/repositories"
	"github.com/desertthunder/tally/internal/services"
	"github.com/desertthunder/tally/internal/shared"
	tu "github.com/desertthunder/tally/internal/testing"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

var (
	gucci     = tu.FakeArtist{ID: "ar-gucci", Name: "Gucci Mane", ImageURL: "https://img/gucci.jpg"}
	future    = tu.FakeArtist{ID: "ar-future", Name: "Future"}
	youngThug = tu.FakeArtist{ID: "ar-thug", Name: "Young Thug"}

	trackOne   = tu.FakeTrack{ID: "tr-1", Name: "Both", AlbumID: "al-1", AlbumName: "Collab", ReleaseDate: "2024-03-15", Precision: "day", Artists: []tu.FakeArtist{gucci, future}}
	trackTwo   = tu.FakeTrack{ID: "tr-2", Name: "Solo", AlbumID: "al-2", AlbumName: "Solo Album", ReleaseDate: "2023-11", Precision: "month", Artists: []tu.FakeArtist{gucci}}
	trackThree = tu.FakeTrack{ID: "tr-3", Name: "Thugger", AlbumID: "al-3", AlbumName: "Old", ReleaseDate: "2019", Precision: "year", Artists: []tu.FakeArtist{youngThug}}
	localTrack = tu.FakeTrack{ID: "local-1", Name: "Local File", IsLocal: true}
	noIDTrack  = tu.FakeTrack{Name: "Unavailable"}
)

func curatedEntries() []shared.PlaylistEntry {
	return []shared.PlaylistEntry{
		{ExternalID: "pl-month", Type: models.PlaylistMonthly, Name: "March 2024", Year: 2024, Month: 3},
		{ExternalID: "pl-year", Type: models.PlaylistYearly, Year: 2024},
		{ExternalID: "pl-best", Type: models.PlaylistArtist},
		{ExternalID: "pl-ess", Type: models.PlaylistArtist},
	}
}

func curatedPlaylists(fake *tu.FakeCatalog) {
	fake.AddPlaylist(tu.FakePlaylist{ID: "pl-month", Name: "Monthly Source Name", ImageURL: "https://img/month.jpg",
		Tracks: []tu.FakeTrack{trackOne, trackTwo, localTrack, noIDTrack}})
	fake.AddPlaylist(tu.FakePlaylist{ID: "pl-year", Name: "2024 Favorites", Tracks: []tu.FakeTrack{trackOne, trackThree}})
	fake.AddPlaylist(tu.FakePlaylist{ID: "pl-best", Name: "Best of Gucci Mane", Tracks: []tu.FakeTrack{trackOne, trackTwo}})
	fake.AddPlaylist(tu.FakePlaylist{ID: "pl-ess", Name: "Gucci Mane Essentials", Tracks: []tu.FakeTrack{trackTwo}})
}

type fixture struct {
	db      *sql.DB
	fake    *tu.FakeCatalog
	catalog *services.SpotifyService
	manager *auth.Manager
	creds   *repositories.CredentialRepository
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	fake := tu.NewFakeCatalog(t)
	db := tu.NewTestDB(t)
	logger := shared.NewLogger(io.Discard)

	catalog, err := services.NewSpotifyService(services.SpotifyOptions{
		BaseURL:           fake.BaseURL(),
		RequestTimeout:    5 * time.Second,
		RequestsPerSecond: 1000,
		Burst:             100,
		MaxRetries:        1,
		RetryBackoff:      time.Millisecond,
		BreakerFailures:   100,
		Logger:            logger,
	})
	if err != nil {
		t.Fatalf("failed to create catalog: %v", err)
	}

	creds := repositories.NewCredentialRepository(db)
	oauth := auth.NewOAuthConfig(
		shared.SpotifyConfig{ClientID: "client", ClientSecret: "secret"},
		shared.CatalogConfig{AuthURL: fake.AuthURL(), TokenURL: fake.TokenURL()},
	)
	return &fixture{db: db, fake: fake, catalog: catalog, manager: auth.NewManager(oauth, creds, logger), creds: creds}
}

func (f *fixture) seedToken(t *testing.T, access string) {
	t.Helper()
	err := f.creds.Save(context.Background(), &models.Credential{
		PrincipalID:  models.CuratorPrincipal,
		AccessToken:  access,
		RefreshToken: "refresh-token",
		ExpiresAt:    time.Now().Add(time.Hour),
	})
	if err != nil {
		t.Fatalf("failed to seed credential: %v", err)
	}
}

func (f *fixture) engine(catalog services.Catalog, entries []shared.PlaylistEntry, opts SyncOptions) *SyncEngine {
	if catalog == nil {
		catalog = f.catalog
	}
	return NewSyncEngine(f.db, catalog, f.manager, entries, opts, shared.NewLogger(io.Discard))
}

func defaultOptions() SyncOptions {
	return SyncOptions{Workers: 1, PruneStaleTracks: true, EnrichArtists: true}
}

// rejectingCatalog answers 401 for the listed playlists.
type rejectingCatalog struct {
	services.Catalog
	reject map[string]bool
}

func (c *rejectingCatalog) FetchPlaylist(ctx context.Context, token, id string) (*services.SpotifyPlaylist, error) {
	if c.reject[id] {
		return nil, &services.CatalogError{Op: "fetch_playlist", Status: http.StatusUnauthorized, Kind: shared.ErrUnauthorized}
	}
	return c.Catalog.FetchPlaylist(ctx, token, id)
}

func mustArtist(t *testing.T, db *sql.DB, externalID string) *models.Artist {
	t.Helper()
	a, err := repositories.NewArtistRepository(db).GetByExternalID(context.Background(), externalID)
	if err != nil {
		t.Fatalf("artist %s: %v", externalID, err)
	}
	return a
}

func mustPlaylist(t *testing.T, db *sql.DB, externalID string) *models.Playlist {
	t.Helper()
	p, err := repositories.NewPlaylistRepository(db).GetByExternalID(context.Background(), externalID)
	if err != nil {
		t.Fatalf("playlist %s: %v", externalID, err)
	}
	return p
}

func TestRunFullSync(t *testing.T) {
	ctx := context.Background()

	t.Run("End To End", func(t *testing.T) {
		f := newFixture(t)
		f.seedToken(t, "access-token")
		curatedPlaylists(f.fake)

		progress := make(chan ProgressUpdate, 100)
		doneBefore := testutil.ToFloat64(metrics.SyncPlaylistsTotal.WithLabelValues("Monthly", "done"))

		summary, err := f.engine(nil, curatedEntries(), defaultOptions()).RunFullSync(ctx, progress)
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}

		want := "Sync completed. Playlists processed: 4. Tracks iterated: 7. Artist link operations: 10."
		if summary.Message != want {
			t.Errorf("expected message %q, got %q", want, summary.Message)
		}
		if len(summary.Failed) != 0 || len(summary.NotFound) != 0 || len(summary.Aborted) != 0 {
			t.Errorf("expected a clean run, got %+v", summary)
		}
		if summary.Association == nil || summary.Association.AssociationsMade != 1 || summary.Association.Candidates != 2 {
			t.Errorf("unexpected association result %+v", summary.Association)
		}
		if summary.ArtistsRecomputed != 3 {
			t.Errorf("expected 3 artists recomputed, got %d", summary.ArtistsRecomputed)
		}
		if summary.ArtistsEnriched != 1 {
			t.Errorf("expected 1 artist enriched, got %d", summary.ArtistsEnriched)
		}

		month := mustPlaylist(t, f.db, "pl-month")
		if month.Name != "March 2024" {
			t.Errorf("expected configured name to win, got %s", month.Name)
		}
		if month.AssociatedYear == nil || *month.AssociatedYear != 2024 || month.AssociatedMonth == nil || *month.AssociatedMonth != 3 {
			t.Errorf("expected 2024-03 on monthly playlist, got %v/%v", month.AssociatedYear, month.AssociatedMonth)
		}
		if month.CoverImageURL != "https://img/month.jpg" {
			t.Errorf("expected source cover, got %s", month.CoverImageURL)
		}

		year := mustPlaylist(t, f.db, "pl-year")
		if year.Name != "2024 Favorites" || year.AssociatedMonth != nil {
			t.Errorf("unexpected yearly playlist %+v", year)
		}
		if year.CoverImageURL != models.PlaylistPlaceholderImage {
			t.Errorf("expected placeholder cover, got %s", year.CoverImageURL)
		}

		links, _ := repositories.NewPlaylistRepository(f.db).Links(ctx, month.ID)
		if len(links) != 2 {
			t.Fatalf("expected local and id-less tracks to be skipped, got %d links", len(links))
		}
		songs := repositories.NewSongRepository(f.db)
		first, _ := songs.GetByExternalID(ctx, "tr-1")
		if links[0].SongID != first.ID || links[0].OrderInPlaylist != 0 || links[1].OrderInPlaylist != 1 {
			t.Errorf("unexpected order %+v", links)
		}
		if first.ReleaseYear != 2024 || first.ReleaseMonth == nil || *first.ReleaseMonth != 3 {
			t.Errorf("expected 2024-03 release, got %d/%v", first.ReleaseYear, first.ReleaseMonth)
		}
		third, _ := songs.GetByExternalID(ctx, "tr-3")
		if third.ReleaseYear != 2019 || third.ReleaseMonth != nil {
			t.Errorf("expected year-only release, got %d/%v", third.ReleaseYear, third.ReleaseMonth)
		}

		g := mustArtist(t, f.db, "ar-gucci")
		if g.Monthly != 2 || g.Yearly != 1 || g.BestOfSongs != 2 {
			t.Errorf("unexpected Gucci Mane counts %+v", g.FeatureCounts)
		}
		if g.ProfileImageURL != "https://img/gucci.jpg" {
			t.Errorf("expected enriched image, got %s", g.ProfileImageURL)
		}
		fu := mustArtist(t, f.db, "ar-future")
		if fu.Monthly != 1 || fu.Yearly != 1 || fu.BestOfSongs != 0 {
			t.Errorf("unexpected Future counts %+v", fu.FeatureCounts)
		}
		if fu.ProfileImageURL != models.ArtistPlaceholderImage {
			t.Errorf("expected placeholder image, got %s", fu.ProfileImageURL)
		}
		thug := mustArtist(t, f.db, "ar-thug")
		if thug.Monthly != 0 || thug.Yearly != 1 {
			t.Errorf("unexpected Young Thug counts %+v", thug.FeatureCounts)
		}

		best := mustPlaylist(t, f.db, "pl-best")
		if best.AssociatedArtistID == nil || *best.AssociatedArtistID != g.ID {
			t.Errorf("expected best-of playlist linked to Gucci Mane, got %v", best.AssociatedArtistID)
		}
		if ess := mustPlaylist(t, f.db, "pl-ess"); ess.AssociatedArtistID != nil {
			t.Errorf("expected essentials playlist to stay unlinked, got %v", *ess.AssociatedArtistID)
		}

		runs, _ := repositories.NewSyncRunRepository(f.db).List(ctx, 0)
		if len(runs) != 1 || runs[0].Status != models.SyncCompleted || runs[0].PlaylistsProcessed != 4 {
			t.Errorf("unexpected run history %+v", runs)
		}

		if after := testutil.ToFloat64(metrics.SyncPlaylistsTotal.WithLabelValues("Monthly", "done")); after != doneBefore+1 {
			t.Errorf("expected monthly done counter to increase by 1, got %v -> %v", doneBefore, after)
		}

		close(progress)
		var sawComplete bool
		for update := range progress {
			if update.Phase == Complete {
				sawComplete = true
				if update.Data.(*SyncSummary) != summary {
					t.Error("expected complete update to carry the summary")
				}
			}
		}
		if !sawComplete {
			t.Error("expected a complete progress update")
		}
	})

	t.Run("Idempotent", func(t *testing.T) {
		f := newFixture(t)
		f.seedToken(t, "access-token")
		curatedPlaylists(f.fake)
		engine := f.engine(nil, curatedEntries(), defaultOptions())

		first, err := engine.RunFullSync(ctx, nil)
		if err != nil {
			t.Fatalf("first run: %v", err)
		}
		before := mustArtist(t, f.db, "ar-gucci")
		songsBefore, _ := repositories.NewSongRepository(f.db).Count(ctx)

		second, err := engine.RunFullSync(ctx, nil)
		if err != nil {
			t.Fatalf("second run: %v", err)
		}
		if first.Message != second.Message {
			t.Errorf("expected identical summaries, got %q and %q", first.Message, second.Message)
		}
		if second.Association.AssociationsMade != 0 || second.Association.Candidates != 1 {
			t.Errorf("expected only the unmatched playlist to be retried, got %+v", second.Association)
		}

		after := mustArtist(t, f.db, "ar-gucci")
		if after.ID != before.ID || after.FeatureCounts != before.FeatureCounts {
			t.Errorf("expected stable artist, got %+v then %+v", before, after)
		}
		songsAfter, _ := repositories.NewSongRepository(f.db).Count(ctx)
		if songsAfter != songsBefore {
			t.Errorf("expected %d songs, got %d", songsBefore, songsAfter)
		}
	})

	t.Run("Order Is Overwritten And Stale Links Pruned", func(t *testing.T) {
		f := newFixture(t)
		f.seedToken(t, "access-token")
		curatedPlaylists(f.fake)
		entries := curatedEntries()[:1]
		engine := f.engine(nil, entries, defaultOptions())

		if _, err := engine.RunFullSync(ctx, nil); err != nil {
			t.Fatalf("first run: %v", err)
		}

		f.fake.AddPlaylist(tu.FakePlaylist{ID: "pl-month", Name: "Monthly Source Name", Tracks: []tu.FakeTrack{trackThree, trackOne}})
		summary, err := engine.RunFullSync(ctx, nil)
		if err != nil {
			t.Fatalf("second run: %v", err)
		}
		if summary.SongsPruned != 1 {
			t.Errorf("expected 1 stale link pruned, got %d", summary.SongsPruned)
		}

		songs := repositories.NewSongRepository(f.db)
		one, _ := songs.GetByExternalID(ctx, "tr-1")
		three, _ := songs.GetByExternalID(ctx, "tr-3")
		links, _ := repositories.NewPlaylistRepository(f.db).Links(ctx, mustPlaylist(t, f.db, "pl-month").ID)
		if len(links) != 2 || links[0].SongID != three.ID || links[1].SongID != one.ID || links[1].OrderInPlaylist != 1 {
			t.Errorf("unexpected links after reorder %+v", links)
		}
		if _, err := songs.GetByExternalID(ctx, "tr-2"); err != nil {
			t.Errorf("expected dropped song to remain stored, got %v", err)
		}
	})

	t.Run("Stale Links Kept When Pruning Disabled", func(t *testing.T) {
		f := newFixture(t)
		f.seedToken(t, "access-token")
		curatedPlaylists(f.fake)
		opts := defaultOptions()
		opts.PruneStaleTracks = false
		engine := f.engine(nil, curatedEntries()[:1], opts)

		engine.RunFullSync(ctx, nil)
		f.fake.AddPlaylist(tu.FakePlaylist{ID: "pl-month", Name: "M", Tracks: []tu.FakeTrack{trackOne}})
		engine.RunFullSync(ctx, nil)

		links, _ := repositories.NewPlaylistRepository(f.db).Links(ctx, mustPlaylist(t, f.db, "pl-month").ID)
		if len(links) != 2 {
			t.Errorf("expected stale link to remain, got %d links", len(links))
		}
	})

	t.Run("Not Found And Transient Failures Are Isolated", func(t *testing.T) {
		f := newFixture(t)
		f.seedToken(t, "access-token")
		curatedPlaylists(f.fake)
		f.fake.FailPlaylist("pl-year", http.StatusBadGateway)
		entries := append(curatedEntries(), shared.PlaylistEntry{ExternalID: "pl-gone", Type: models.PlaylistArtist})

		summary, err := f.engine(nil, entries, defaultOptions()).RunFullSync(ctx, nil)
		if err != nil {
			t.Fatalf("expected entry failures to stay in the summary, got %v", err)
		}
		if summary.PlaylistsProcessed != 3 {
			t.Errorf("expected 3 processed, got %d", summary.PlaylistsProcessed)
		}
		if len(summary.NotFound) != 1 || summary.NotFound[0] != "pl-gone" {
			t.Errorf("unexpected not found %v", summary.NotFound)
		}
		if len(summary.Failed) != 1 || summary.Failed[0].ExternalID != "pl-year" || summary.Failed[0].Class != "transient" || summary.Failed[0].Op != "fetch" {
			t.Errorf("unexpected failures %+v", summary.Failed)
		}
		if summary.Association == nil {
			t.Error("expected post passes to run after entry failures")
		}
	})

	t.Run("Failed Post Pass Is Reported In The Message", func(t *testing.T) {
		f := newFixture(t)
		f.seedToken(t, "access-token")
		curatedPlaylists(f.fake)
		failUpdates(t, f.db, "playlists", "OLD.associated_artist_id IS NULL AND NEW.associated_artist_id IS NOT NULL")

		summary, err := f.engine(nil, curatedEntries(), defaultOptions()).RunFullSync(ctx, nil)
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}

		want := "Sync finished with errors: artist playlist association failed. Playlists processed: 4. Tracks iterated: 7. Artist link operations: 10."
		if summary.Message != want {
			t.Errorf("expected message %q, got %q", want, summary.Message)
		}
		if summary.Association == nil || len(summary.Association.Skipped) != 2 {
			t.Errorf("unexpected association result %+v", summary.Association)
		}
		if summary.ArtistsRecomputed != 3 {
			t.Errorf("expected recompute to run after the failed association, got %d", summary.ArtistsRecomputed)
		}

		runs, _ := repositories.NewSyncRunRepository(f.db).List(ctx, 0)
		if len(runs) != 1 || runs[0].Status != models.SyncFailed {
			t.Errorf("expected a failed run, got %+v", runs)
		}
	})

	t.Run("Empty Configuration", func(t *testing.T) {
		f := newFixture(t)
		summary, err := f.engine(nil, nil, defaultOptions()).RunFullSync(ctx, nil)
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if summary.Message != "No curated playlist IDs configured. Sync aborted." {
			t.Errorf("unexpected message %q", summary.Message)
		}
		if f.fake.Requests("playlist") != 0 {
			t.Error("expected no catalog calls")
		}
	})

	t.Run("Not Yet Authorized", func(t *testing.T) {
		f := newFixture(t)
		curatedPlaylists(f.fake)

		summary, err := f.engine(nil, curatedEntries(), defaultOptions()).RunFullSync(ctx, nil)
		if !errors.Is(err, shared.ErrNotAuthorized) {
			t.Fatalf("expected ErrNotAuthorized, got %v", err)
		}
		if len(summary.Aborted) != 4 || !summary.ReauthorizationRequired {
			t.Errorf("expected every entry aborted, got %+v", summary)
		}
	})

	t.Run("Run Deadline Fails Entries As Transient", func(t *testing.T) {
		f := newFixture(t)
		f.seedToken(t, "access-token")
		curatedPlaylists(f.fake)
		opts := defaultOptions()
		opts.RunTimeout = time.Nanosecond

		summary, err := f.engine(nil, curatedEntries(), opts).RunFullSync(ctx, nil)
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if summary.PlaylistsProcessed != 0 || len(summary.Failed) != 4 {
			t.Fatalf("expected every entry to fail, got %+v", summary)
		}
		for _, failed := range summary.Failed {
			if failed.Class != "transient" {
				t.Errorf("expected transient failure, got %+v", failed)
			}
		}
	})

	t.Run("Worker Pool Matches Sequential Run", func(t *testing.T) {
		f := newFixture(t)
		f.seedToken(t, "access-token")
		curatedPlaylists(f.fake)
		opts := defaultOptions()
		opts.Workers = 4

		summary, err := f.engine(nil, curatedEntries(), opts).RunFullSync(ctx, nil)
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		want := "Sync completed. Playlists processed: 4. Tracks iterated: 7. Artist link operations: 10."
		if summary.Message != want {
			t.Errorf("expected %q, got %q", want, summary.Message)
		}
		for i, entry := range curatedEntries() {
			if summary.Entries[i].Entry.ExternalID != entry.ExternalID {
				t.Errorf("expected results in config order, got %s at %d", summary.Entries[i].Entry.ExternalID, i)
			}
		}
		if n, _ := repositories.NewArtistRepository(f.db).Count(ctx); n != 3 {
			t.Errorf("expected concurrent upserts to converge on 3 artists, got %d", n)
		}
		g := mustArtist(t, f.db, "ar-gucci")
		if g.Monthly != 2 || g.Yearly != 1 || g.BestOfSongs != 2 {
			t.Errorf("unexpected counts %+v", g.FeatureCounts)
		}
	})
}

func TestRunFullSyncUnauthorized(t *testing.T) {
	ctx := context.Background()

	t.Run("Refresh Recovers Expired Token", func(t *testing.T) {
		f := newFixture(t)
		f.seedToken(t, "expired-token")
		curatedPlaylists(f.fake)

		summary, err := f.engine(nil, curatedEntries(), defaultOptions()).RunFullSync(ctx, nil)
		if err != nil {
			t.Fatalf("expected refresh to recover, got %v", err)
		}
		if summary.PlaylistsProcessed != 4 {
			t.Errorf("expected all playlists processed, got %d", summary.PlaylistsProcessed)
		}
		if n := f.fake.Requests("token"); n != 1 {
			t.Errorf("expected exactly one refresh, got %d", n)
		}
		token, _ := f.manager.AccessToken(ctx)
		if token != "access-token" {
			t.Errorf("expected refreshed token to be stored, got %s", token)
		}
	})

	t.Run("Rejected After Refresh Fails Only That Entry", func(t *testing.T) {
		f := newFixture(t)
		f.seedToken(t, "access-token")
		curatedPlaylists(f.fake)
		catalog := &rejectingCatalog{Catalog: f.catalog, reject: map[string]bool{"pl-year": true}}

		summary, err := f.engine(catalog, curatedEntries(), defaultOptions()).RunFullSync(ctx, nil)
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if summary.PlaylistsProcessed != 3 {
			t.Errorf("expected 3 processed, got %d", summary.PlaylistsProcessed)
		}
		if len(summary.Failed) != 1 || summary.Failed[0].Class != "unauthorized" {
			t.Errorf("unexpected failures %+v", summary.Failed)
		}
	})

	t.Run("Failed Refresh Stops The Run", func(t *testing.T) {
		f := newFixture(t)
		f.seedToken(t, "access-token")
		curatedPlaylists(f.fake)
		f.fake.FailTokenEndpoint(http.StatusBadRequest)
		catalog := &rejectingCatalog{Catalog: f.catalog, reject: map[string]bool{"pl-year": true}}

		summary, err := f.engine(catalog, curatedEntries(), defaultOptions()).RunFullSync(ctx, nil)
		if !errors.Is(err, shared.ErrReauthorizationRequired) {
			t.Fatalf("expected ErrReauthorizationRequired, got %v", err)
		}
		if !summary.ReauthorizationRequired {
			t.Error("expected summary to flag reauthorization")
		}
		if summary.PlaylistsProcessed != 1 {
			t.Errorf("expected the first playlist to be kept, got %d processed", summary.PlaylistsProcessed)
		}
		if len(summary.Aborted) != 2 {
			t.Errorf("expected the remaining 2 entries aborted, got %v", summary.Aborted)
		}
		if summary.Association != nil {
			t.Error("expected post passes to be skipped")
		}

		mustPlaylist(t, f.db, "pl-month")
		runs, _ := repositories.NewSyncRunRepository(f.db).List(ctx, 1)
		if len(runs) != 1 || runs[0].Status != models.SyncReauthRequired {
			t.Errorf("expected reauth_required run, got %+v", runs)
		}
	})
}

func TestUpdateAlbumInformation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seedToken(t, "access-token")
	curatedPlaylists(f.fake)

	songs := repositories.NewSongRepository(f.db)
	for _, s := range []*models.Song{
		{ExternalTrackID: "tr-1", Title: "Both", CoverImageURL: models.SongPlaceholderImage},
		{ExternalTrackID: "tr-gone", Title: "Gone", CoverImageURL: models.SongPlaceholderImage},
	} {
		if _, err := songs.Upsert(ctx, s); err != nil {
			t.Fatalf("failed to seed song: %v", err)
		}
	}

	result, err := f.engine(nil, nil, defaultOptions()).UpdateAlbumInformation(ctx, nil)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if result.Candidates != 2 || result.Updated != 1 || result.Missing != 1 {
		t.Errorf("unexpected result %+v", result)
	}

	updated, _ := songs.GetByExternalID(ctx, "tr-1")
	if updated.AlbumID == nil || *updated.AlbumID != "al-1" || updated.AlbumName == nil || *updated.AlbumName != "Collab" {
		t.Errorf("expected album backfilled, got %+v", updated)
	}

	again, err := f.engine(nil, nil, defaultOptions()).UpdateAlbumInformation(ctx, nil)
	if err != nil {
		t.Fatalf("second pass: %v", err)
	}
	if again.Candidates != 1 {
		t.Errorf("expected only the unknown song left, got %d", again.Candidates)
	}
}

func TestTokenHolder(t *testing.T) {
	ctx := context.Background()

	t.Run("Skips Refresh When Token Already Replaced", func(t *testing.T) {
		src := &countingTokens{token: "new"}
		h := &tokenHolder{token: "new", source: src}
		token, err := h.refresh(ctx, "old")
		if err != nil || token != "new" {
			t.Errorf("expected current token, got %q, %v", token, err)
		}
		if src.refreshes != 0 {
			t.Errorf("expected no refresh, got %d", src.refreshes)
		}
	})

	t.Run("Remembers Failed Refresh", func(t *testing.T) {
		src := &countingTokens{err: errors.New("revoked")}
		h := &tokenHolder{token: "old", source: src}
		for range 2 {
			if _, err := h.refresh(ctx, "old"); !errors.Is(err, shared.ErrReauthorizationRequired) {
				t.Errorf("expected ErrReauthorizationRequired, got %v", err)
			}
		}
		if src.refreshes != 1 {
			t.Errorf("expected a single refresh attempt, got %d", src.refreshes)
		}
	})
}

type countingTokens struct {
	token     string
	err       error
	refreshes int
}

func (c *countingTokens) AccessToken(context.Context) (string, error) { return c.token, nil }

func (c *countingTokens) Refresh(context.Context) (string, error) {
	c.refreshes++
	return c.token, c.err
}
