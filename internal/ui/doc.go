// Package ui implements an interactive terminal interface using bubbletea's Elm architecture.
//
// The TUI is a browser over the local catalog with an in-place sync:
//  1. [ArtistListView] : Browse artists and their feature counts, cycling the sort order
//  2. [ArtistDetailView] : Inspect an artist's songs, collaborators and playlists
//  3. [ConfirmView] : Confirm a full sync of the curated playlists
//  4. [SyncView] : Monitor real-time progress updates
//  5. [ResultView] : Display the sync summary and the entries that did not complete
//
// The (view) [Model] implements bubbletea/Elm's standard Init/Update/View pattern, receiving messages via the Msg union type.
// Progress updates flow through a channel from the sync engine, providing non-blocking status reporting during a run.
//
// Keyboard navigation uses vim-style bindings (j/k, enter, esc, s, r, y/n, q) with contextual help displayed via charmbracelet/bubbles/help.
package ui
