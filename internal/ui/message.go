package ui

import (
	tea "github.com/charmbracelet/bubbletea"
	"github.com/desertthunder/tally/internal/models"
	"github.com/desertthunder/tally/internal/tasks"
)

// MsgKind enumerates all message types in the application.
type MsgKind int

// Msg represents all possible messages in the TUI (Elm-style message union).
type Msg struct {
	kind MsgKind
	data any
}

var (
	_ tea.Msg = Msg{}
)

const (
	MsgArtistsFetched MsgKind = iota
	MsgDetailFetched
	MsgProgressUpdate
	MsgSyncComplete
)

type artistsFetched struct {
	artists []*models.Artist
	err     error
}

type detailFetched struct {
	detail *models.ArtistDetail
	err    error
}

type syncOutcome struct {
	summary *tasks.SyncSummary
	err     error
}

// artistsFetchedMsg is the constructor for [MsgArtistsFetched]
func artistsFetchedMsg(artists []*models.Artist, err error) Msg {
	return Msg{kind: MsgArtistsFetched, data: artistsFetched{artists, err}}
}

// detailFetchedMsg is the constructor for [MsgDetailFetched]
func detailFetchedMsg(detail *models.ArtistDetail, err error) Msg {
	return Msg{kind: MsgDetailFetched, data: detailFetched{detail, err}}
}

// progressUpdateMsg is the constructor for [MsgProgressUpdate]
func progressUpdateMsg(update tasks.ProgressUpdate) Msg {
	return Msg{kind: MsgProgressUpdate, data: update}
}

// syncCompleteMsg is the constructor for [MsgSyncComplete]
func syncCompleteMsg(summary *tasks.SyncSummary, err error) Msg {
	return Msg{kind: MsgSyncComplete, data: syncOutcome{summary, err}}
}
