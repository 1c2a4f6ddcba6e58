// Package repositories implements SQLite persistence for the catalog entities.
//
// Every catalog entity is keyed on the external catalog's stable ID, and the Upsert methods are
// single INSERT ... ON CONFLICT DO UPDATE statements so concurrent writers converge on one row.
// Internal IDs are generated once and never change.
//
// Key Implementations:
//   - [CredentialRepository] : the single curator credential row
//   - [PlaylistRepository] : curated playlists, their song order and artist association
//   - [SongRepository] : tracks, album metadata and artist credits
//   - [ArtistRepository] : artists, name lookup, feature counts and the artist detail read model
//   - [SyncRunRepository] : history of full sync runs
//
// Sequence numbers provide stable, human-readable ordering (e.g., artist #42, playlist #15) independent of UUIDs and creation timestamps.
// The [NextSequence] function atomically increments per-table sequence counters in dedicated sequence tables.
package repositories
