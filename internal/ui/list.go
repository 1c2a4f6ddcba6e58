package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/list"
	"github.com/desertthunder/tally/internal/models"
)

var (
	_ list.Item = artistItem{}
	_ list.Item = songItem{}
)

// artistItem wraps [models.Artist] to implement [list.Item].
type artistItem struct {
	artist models.Artist
}

func (i artistItem) FilterValue() string { return i.artist.Name }
func (i artistItem) Title() string       { return i.artist.Name }
func (i artistItem) Description() string {
	return fmt.Sprintf("%d monthly • %d yearly • %d best of",
		i.artist.Monthly, i.artist.Yearly, i.artist.BestOfSongs)
}

// songItem wraps [models.ArtistSong] to implement [list.Item].
type songItem struct {
	song models.ArtistSong
}

func (i songItem) FilterValue() string { return i.song.Title }
func (i songItem) Title() string {
	if i.song.ReleaseYear > 0 {
		return fmt.Sprintf("%s (%d)", i.song.Title, i.song.ReleaseYear)
	}
	return i.song.Title
}
func (i songItem) Description() string {
	var parts []string
	if len(i.song.Collaborators) > 0 {
		names := make([]string, len(i.song.Collaborators))
		for j, c := range i.song.Collaborators {
			names[j] = c.Name
		}
		parts = append(parts, "with "+strings.Join(names, ", "))
	}
	if len(i.song.Playlists) > 0 {
		names := make([]string, len(i.song.Playlists))
		for j, p := range i.song.Playlists {
			names[j] = p.Name
		}
		parts = append(parts, "in "+strings.Join(names, ", "))
	}
	if len(parts) == 0 {
		return "solo"
	}
	return strings.Join(parts, " • ")
}

func artistItems(artists []*models.Artist) []list.Item {
	items := make([]list.Item, len(artists))
	for i, a := range artists {
		items[i] = artistItem{artist: *a}
	}
	return items
}

func songItems(songs []models.ArtistSong) []list.Item {
	items := make([]list.Item, len(songs))
	for i, s := range songs {
		items[i] = songItem{song: s}
	}
	return items
}
