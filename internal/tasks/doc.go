// Package tasks mirrors the curator's playlists into the local catalog with real-time progress reporting.
//
// # Full Sync
//
// [SyncEngine.RunFullSync] walks the configured playlist list. Each entry moves through
// Pending, Fetching and Upserting to Done, or ends as Failed, NotFound or Aborted:
//
//  1. Fetch the playlist and every page of its tracks from the catalog
//  2. Store the playlist, using the configured name when there is one
//  3. For each catalog track in order: store its artists, the song, the song-artist links and
//     the playlist-song link with the track's position
//  4. Remove links to songs that left the playlist (when pruning is enabled)
//
// A 401 triggers one token refresh and one retry of the fetch. A failed refresh stops the run:
// entries not yet started are Aborted and the error is returned with the summary. Every other
// failure stays with its entry and the run moves on.
//
// After all entries, artists without an image are enriched, artist playlists are linked to
// their artist ([Associator]) and feature counts are recomputed ([Aggregator]).
//
// # Concurrency
//
// Entries run on an errgroup bounded by the configured worker count (one by default).
// Workers share a single access token so concurrent 401s lead to one refresh. The post passes
// only start after every entry has finished.
//
// # Progress Reporting
//
// The [ProgressUpdate] struct contains phase, step counters, messages, and optional data for advanced UI rendering.
// Updates use select with default to prevent blocking.
//
// # Entity Upserts
//
// [Upserter] maps catalog payloads onto the repositories. Missing images are replaced with
// placeholders, and release months are only kept for day or month precision dates.
package tasks
