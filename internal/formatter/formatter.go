// package formatter exports the artist leaderboard and playlists to CSV, Markdown and plain text
package formatter

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/desertthunder/tally/internal/models"
	"github.com/desertthunder/tally/internal/shared"
)

// Format is an export file format.
type Format string

const (
	CSV      Format = "csv"
	Markdown Format = "markdown"
	Text     Format = "text"
)

// ParseFormat accepts csv, markdown (md) and text (txt).
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "csv":
		return CSV, nil
	case "markdown", "md":
		return Markdown, nil
	case "text", "txt", "":
		return Text, nil
	}
	return "", fmt.Errorf("%w: unknown export format %q", shared.ErrInvalidArgument, s)
}

// Extension returns the file extension for the format, without the dot.
func (f Format) Extension() string {
	switch f {
	case CSV:
		return "csv"
	case Markdown:
		return "md"
	default:
		return "txt"
	}
}

// LeaderboardCSV writes one row per artist with columns: Rank, Artist, Monthly Features,
// Yearly Features, Best Of Features, Profile URL
func LeaderboardCSV(artists []*models.Artist) ([]byte, error) {
	var buf bytes.Buffer
	writer := csv.NewWriter(&buf)

	headers := []string{"Rank", "Artist", "Monthly Features", "Yearly Features", "Best Of Features", "Profile URL"}
	if err := writer.Write(headers); err != nil {
		return nil, fmt.Errorf("failed to write CSV headers: %w", err)
	}

	for i, a := range artists {
		record := []string{
			strconv.Itoa(i + 1),
			a.Name,
			strconv.Itoa(a.Monthly),
			strconv.Itoa(a.Yearly),
			strconv.Itoa(a.BestOfSongs),
			a.ExternalURL,
		}
		if err := writer.Write(record); err != nil {
			return nil, fmt.Errorf("failed to write CSV record: %w", err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, fmt.Errorf("CSV writer error: %w", err)
	}

	return buf.Bytes(), nil
}

// LeaderboardMarkdown renders the artists as a Markdown table under title.
func LeaderboardMarkdown(artists []*models.Artist, title string) ([]byte, error) {
	var buf bytes.Buffer

	if title == "" {
		title = "Trap Tally Artists"
	}
	buf.WriteString(fmt.Sprintf("# %s\n\n", title))
	buf.WriteString(fmt.Sprintf("**Artists**: %d\n\n", len(artists)))

	buf.WriteString("| # | Artist | Monthly Features | Yearly Features | Best Of Features |\n")
	buf.WriteString("|---|--------|-----------------:|----------------:|-----------------:|\n")
	for i, a := range artists {
		name := escapeCell(a.Name)
		if a.ExternalURL != "" {
			name = fmt.Sprintf("[%s](%s)", name, a.ExternalURL)
		}
		buf.WriteString(fmt.Sprintf("| %d | %s | %d | %d | %d |\n", i+1, name, a.Monthly, a.Yearly, a.BestOfSongs))
	}

	return buf.Bytes(), nil
}

// LeaderboardText renders the artists as aligned plain text.
func LeaderboardText(artists []*models.Artist) ([]byte, error) {
	var buf bytes.Buffer

	width := len("Artist")
	for _, a := range artists {
		width = max(width, len(a.Name))
	}

	buf.WriteString(fmt.Sprintf("Artists: %d\n\n", len(artists)))
	buf.WriteString(fmt.Sprintf("%4s  %-*s  %7s  %6s  %7s\n", "#", width, "Artist", "Monthly", "Yearly", "Best Of"))
	for i, a := range artists {
		buf.WriteString(fmt.Sprintf("%4d  %-*s  %7d  %6d  %7d\n", i+1, width, a.Name, a.Monthly, a.Yearly, a.BestOfSongs))
	}

	return buf.Bytes(), nil
}

// PlaylistCSV writes the playlist's songs in order with columns: Position, Title, Artists,
// Album, Release, Track URL
func PlaylistCSV(tracks []models.PlaylistTrack) ([]byte, error) {
	var buf bytes.Buffer
	writer := csv.NewWriter(&buf)

	headers := []string{"Position", "Title", "Artists", "Album", "Release", "Track URL"}
	if err := writer.Write(headers); err != nil {
		return nil, fmt.Errorf("failed to write CSV headers: %w", err)
	}

	for _, track := range tracks {
		record := []string{
			strconv.Itoa(track.OrderInPlaylist + 1),
			track.Title,
			artistNames(track.Artists),
			deref(track.AlbumName),
			ReleaseString(&track.Song),
			track.ExternalURL,
		}
		if err := writer.Write(record); err != nil {
			return nil, fmt.Errorf("failed to write CSV record: %w", err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, fmt.Errorf("CSV writer error: %w", err)
	}

	return buf.Bytes(), nil
}

// PlaylistMarkdown renders a playlist with an optional cover image.
func PlaylistMarkdown(p *models.Playlist, tracks []models.PlaylistTrack, imageFilename string) ([]byte, error) {
	var buf bytes.Buffer

	buf.WriteString(fmt.Sprintf("# %s\n\n", p.Name))

	if imageFilename != "" {
		buf.WriteString(fmt.Sprintf("![Cover](%s)\n\n", imageFilename))
	}

	if p.Description != "" {
		buf.WriteString(fmt.Sprintf("**Description**: %s\n\n", p.Description))
	}

	buf.WriteString(fmt.Sprintf("**Type**: %s\n", PeriodString(p)))
	buf.WriteString(fmt.Sprintf("**Tracks**: %d\n\n", len(tracks)))

	buf.WriteString("## Tracks\n\n")
	for _, track := range tracks {
		albumPart := ""
		if name := deref(track.AlbumName); name != "" {
			albumPart = fmt.Sprintf(" (%s)", name)
		}
		buf.WriteString(fmt.Sprintf("%d. %s - %s%s [%s]\n",
			track.OrderInPlaylist+1, artistNames(track.Artists), track.Title, albumPart, ReleaseString(&track.Song)))
	}

	return buf.Bytes(), nil
}

// PlaylistText converts a playlist to plain text format
func PlaylistText(p *models.Playlist, tracks []models.PlaylistTrack) ([]byte, error) {
	var buf bytes.Buffer

	buf.WriteString(fmt.Sprintf("Playlist: %s\n", p.Name))
	buf.WriteString(fmt.Sprintf("Type: %s\n", PeriodString(p)))
	if p.Description != "" {
		buf.WriteString(fmt.Sprintf("Description: %s\n", p.Description))
	}
	buf.WriteString(fmt.Sprintf("Tracks: %d\n\n", len(tracks)))

	for _, track := range tracks {
		buf.WriteString(fmt.Sprintf("%d. %s - %s\n", track.OrderInPlaylist+1, artistNames(track.Artists), track.Title))
	}

	return buf.Bytes(), nil
}

// ReleaseString formats a song's release as "2024-03" or "2024", or "unknown".
func ReleaseString(s *models.Song) string {
	switch {
	case s.ReleaseYear == 0:
		return "unknown"
	case s.ReleaseMonth != nil:
		return fmt.Sprintf("%04d-%02d", s.ReleaseYear, *s.ReleaseMonth)
	default:
		return strconv.Itoa(s.ReleaseYear)
	}
}

// PeriodString describes a playlist's type and period, e.g. "Monthly (March 2024)".
func PeriodString(p *models.Playlist) string {
	switch {
	case p.Type == models.PlaylistMonthly && p.AssociatedYear != nil && p.AssociatedMonth != nil:
		return fmt.Sprintf("%s (%s %d)", p.Type, time.Month(*p.AssociatedMonth), *p.AssociatedYear)
	case p.Type == models.PlaylistYearly && p.AssociatedYear != nil:
		return fmt.Sprintf("%s (%d)", p.Type, *p.AssociatedYear)
	default:
		return string(p.Type)
	}
}

// DownloadImage downloads an image from the given URL and returns the raw bytes
func DownloadImage(url string) ([]byte, error) {
	if url == "" {
		return nil, fmt.Errorf("empty URL provided")
	}

	client := &http.Client{
		Timeout: 30 * time.Second,
	}

	resp, err := client.Get(url)
	if err != nil {
		return nil, fmt.Errorf("failed to download image: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to download image: status %d", resp.StatusCode)
	}

	imageData, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read image data: %w", err)
	}

	return imageData, nil
}

// WriteLeaderboard writes the artist leaderboard in format to path.
//
// Defaults to tally_artists.{ext} as the filename.
func WriteLeaderboard(artists []*models.Artist, format Format, path string) (string, error) {
	if path == "" {
		path = "tally_artists." + format.Extension()
	}

	var (
		data []byte
		err  error
	)
	switch format {
	case CSV:
		data, err = LeaderboardCSV(artists)
	case Markdown:
		data, err = LeaderboardMarkdown(artists, "")
	default:
		data, err = LeaderboardText(artists)
	}
	if err != nil {
		return "", fmt.Errorf("failed to generate %s: %w", format, err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write %s file: %w", format, err)
	}
	return path, nil
}

// PlaylistExportResult contains the paths of files created by WritePlaylistExport
type PlaylistExportResult struct {
	Files      []string
	CoverImage string
}

// WritePlaylistExport exports a playlist in format.
//
// CSV and text exports go to {base}_tracks.{ext}, with base defaulting to the playlist's catalog ID.
// Markdown exports go to a directory ({base}/README.md) with the cover downloaded next to it when
// the playlist has a real one.
func WritePlaylistExport(p *models.Playlist, tracks []models.PlaylistTrack, format Format, base string) (*PlaylistExportResult, error) {
	if base == "" {
		base = p.ExternalID
	}
	result := &PlaylistExportResult{Files: []string{}}

	if format == Markdown {
		return writeMarkdownExport(p, tracks, base, result)
	}

	var (
		data []byte
		err  error
	)
	if format == CSV {
		data, err = PlaylistCSV(tracks)
	} else {
		data, err = PlaylistText(p, tracks)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to generate %s: %w", format, err)
	}

	file := base + "_tracks." + format.Extension()
	if err := os.WriteFile(file, data, 0644); err != nil {
		return nil, fmt.Errorf("failed to write %s file: %w", format, err)
	}
	result.Files = append(result.Files, file)
	return result, nil
}

func writeMarkdownExport(p *models.Playlist, tracks []models.PlaylistTrack, dir string, result *PlaylistExportResult) (*PlaylistExportResult, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	var coverImageFilename string
	if p.CoverImageURL != "" && p.CoverImageURL != models.PlaylistPlaceholderImage {
		imageData, err := DownloadImage(p.CoverImageURL)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to download cover image: %v\n", err)
		} else {
			coverImageFilename = "cover.jpg"
			coverImagePath := filepath.Join(dir, coverImageFilename)
			if err := os.WriteFile(coverImagePath, imageData, 0644); err != nil {
				fmt.Fprintf(os.Stderr, "Warning: failed to save cover image: %v\n", err)
				coverImageFilename = ""
			} else {
				result.CoverImage = coverImagePath
				result.Files = append(result.Files, coverImagePath)
			}
		}
	}

	mdData, err := PlaylistMarkdown(p, tracks, coverImageFilename)
	if err != nil {
		return nil, fmt.Errorf("failed to generate Markdown: %w", err)
	}

	mdFile := filepath.Join(dir, "README.md")
	if err := os.WriteFile(mdFile, mdData, 0644); err != nil {
		return nil, fmt.Errorf("failed to write Markdown file: %w", err)
	}
	result.Files = append(result.Files, mdFile)

	return result, nil
}

func artistNames(refs []models.ArtistRef) string {
	names := make([]string, len(refs))
	for i, r := range refs {
		names[i] = r.Name
	}
	return strings.Join(names, ", ")
}

func escapeCell(s string) string {
	return strings.ReplaceAll(s, "|", `\|`)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
