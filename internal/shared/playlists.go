package shared

import (
	_ "embed"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/desertthunder/tally/internal/models"
)

//go:embed playlists.example.toml
var examplePlaylists []byte

// PlaylistEntry is one curated external playlist and how it is classified locally.
type PlaylistEntry struct {
	ExternalID string              `toml:"external_id" json:"external_id"`
	Type       models.PlaylistType `toml:"type" json:"type"`
	Name       string              `toml:"name,omitempty" json:"name,omitempty"`
	Year       int                 `toml:"year,omitempty" json:"year,omitempty"`
	Month      int                 `toml:"month,omitempty" json:"month,omitempty"`
	MonthName  string              `toml:"month_name,omitempty" json:"month_name,omitempty"`
}

type playlistFile struct {
	Playlists []PlaylistEntry `toml:"playlists"`
}

// DefaultPlaylists returns the curated playlist list embedded in the binary.
func DefaultPlaylists() ([]PlaylistEntry, error) {
	return ParsePlaylists(examplePlaylists)
}

// LoadPlaylists reads the curated playlist list at path, or the embedded list when path is empty.
func LoadPlaylists(path string) ([]PlaylistEntry, error) {
	if path == "" {
		return DefaultPlaylists()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read playlists file: %w", err)
	}
	return ParsePlaylists(data)
}

// ParsePlaylists decodes and normalizes a curated playlist list.
//
// Month names are resolved to numbers and Yearly entries lose any month they carry.
func ParsePlaylists(data []byte) ([]PlaylistEntry, error) {
	var f playlistFile
	if err := toml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	seen := make(map[string]int, len(f.Playlists))
	for i := range f.Playlists {
		e := &f.Playlists[i]
		if err := e.normalize(); err != nil {
			return nil, fmt.Errorf("playlists[%d]: %w", i, err)
		}
		if j, ok := seen[e.ExternalID]; ok {
			return nil, fmt.Errorf("%w: playlists[%d] repeats external_id %s from playlists[%d]", ErrInvalidConfig, i, e.ExternalID, j)
		}
		seen[e.ExternalID] = i
	}
	return f.Playlists, nil
}

func (e *PlaylistEntry) normalize() error {
	if e.ExternalID == "" {
		return fmt.Errorf("%w: external_id is required", ErrInvalidConfig)
	}
	if !e.Type.Valid() {
		return fmt.Errorf("%w: unknown playlist type %q", ErrInvalidConfig, e.Type)
	}

	if e.MonthName != "" {
		m, err := MonthFromName(e.MonthName)
		if err != nil {
			return err
		}
		e.Month = m
		e.MonthName = ""
	}

	switch e.Type {
	case models.PlaylistMonthly:
		if e.Year == 0 || e.Month < 1 || e.Month > 12 {
			return fmt.Errorf("%w: monthly playlist %s needs year and month", ErrInvalidConfig, e.ExternalID)
		}
	case models.PlaylistYearly:
		if e.Year == 0 {
			return fmt.Errorf("%w: yearly playlist %s needs year", ErrInvalidConfig, e.ExternalID)
		}
		e.Month = 0
	case models.PlaylistArtist:
		e.Year, e.Month = 0, 0
	}
	return nil
}

// MonthFromName converts an English month name ("November", "nov") to its number.
func MonthFromName(name string) (int, error) {
	n := strings.ToLower(strings.TrimSpace(name))
	if len(n) >= 3 {
		for m := time.January; m <= time.December; m++ {
			if strings.HasPrefix(strings.ToLower(m.String()), n) {
				return int(m), nil
			}
		}
	}
	return 0, fmt.Errorf("%w: unknown month %q", ErrInvalidConfig, name)
}
