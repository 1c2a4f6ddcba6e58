// Package models defines the entities of the curated music catalog.
//
// Persistent entities, keyed on the catalog's stable external IDs:
//   - [Credential] : the single curator token pair
//   - [Playlist] : a curated Monthly, Yearly or Artist playlist
//   - [Song] : a catalog track with release and album metadata
//   - [Artist] : a credited artist with cached [FeatureCounts]
//   - [PlaylistSong] and [SongArtist] : join rows
//
// Read models ([PlaylistTrack], [ArtistDetail]) are assembled by the repositories for
// browsing and are never written back.
package models
