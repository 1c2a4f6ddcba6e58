package models

import "time"

// ArtistRef is the short form of an artist embedded in other read models.
type ArtistRef struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// PlaylistRef is the short form of a playlist embedded in other read models.
type PlaylistRef struct {
	ID   string       `json:"id"`
	Name string       `json:"name"`
	Type PlaylistType `json:"type"`
}

// PlaylistTrack is a song at its position in a playlist, with its credited artists.
type PlaylistTrack struct {
	Song
	OrderInPlaylist int         `json:"order_in_playlist"`
	Artists         []ArtistRef `json:"artists"`
}

// ArtistSong is one of an artist's songs with the collaborators and playlists it appears in.
type ArtistSong struct {
	Song
	Collaborators []ArtistRef   `json:"collaborators"`
	Playlists     []PlaylistRef `json:"playlists"`
}

// ArtistDetail is an artist with everything the catalog knows about them.
type ArtistDetail struct {
	Artist
	BestOfPlaylist *PlaylistRef `json:"best_of_playlist,omitempty"`
	Songs          []ArtistSong `json:"songs"`
}

// SyncRunStatus is the lifecycle state of a recorded sync run.
type SyncRunStatus string

const (
	SyncRunning        SyncRunStatus = "running"
	SyncCompleted      SyncRunStatus = "completed"
	SyncFailed         SyncRunStatus = "failed"
	SyncReauthRequired SyncRunStatus = "reauth_required"
)

// SyncRun records one full sync for the run history.
type SyncRun struct {
	ID                 string        `json:"id"`
	Sequence           int           `json:"sequence"`
	Status             SyncRunStatus `json:"status"`
	PlaylistsProcessed int           `json:"playlists_processed"`
	TracksIterated     int           `json:"tracks_iterated"`
	ArtistLinkOps      int           `json:"artist_link_ops"`
	FailedEntries      int           `json:"failed_entries"`
	Message            string        `json:"message"`
	StartedAt          time.Time     `json:"started_at"`
	CompletedAt        *time.Time    `json:"completed_at,omitempty"`
}
