package tasks

import (
	"fmt"

	"github.com/desertthunder/tally/internal/shared"
)

// ProgressUpdate represents a progress event during a long-running operation.
//
// Used to send real-time updates to the CLI or UI layer for display.
type ProgressUpdate struct {
	Phase   Phase  // Operation phase
	Step    int    // Current step number within phase
	Total   int    // Total steps in this phase
	Message string // Human-readable message for display
	Data    any    // Optional phase-specific data for advanced UIs
}

// Operation phase enumeration
type Phase int

const (
	Fetching Phase = iota
	Upserting
	Enriching
	Associating
	Aggregating
	BackfillingAlbums
	Complete
)

func (p Phase) String() string {
	switch p {
	case Fetching:
		return "fetching"
	case Upserting:
		return "upserting"
	case Enriching:
		return "enriching"
	case Associating:
		return "associating"
	case Aggregating:
		return "aggregating"
	case BackfillingAlbums:
		return "backfilling_albums"
	case Complete:
		return "complete"
	default:
		return ""
	}
}

// sendProgress sends a progress update through the channel without blocking.
func sendProgress(progress chan<- ProgressUpdate, update ProgressUpdate) {
	if progress == nil {
		return
	}
	select {
	case progress <- update:
	default:
		// Channel full, skip this update
	}
}

func fetchingUpdate(step, total int, entry shared.PlaylistEntry) ProgressUpdate {
	label := entry.Name
	if label == "" {
		label = entry.ExternalID
	}
	return ProgressUpdate{
		Phase:   Fetching,
		Step:    step,
		Total:   total,
		Message: fmt.Sprintf("[%d/%d] Fetching %s playlist %s...", step, total, entry.Type, label),
	}
}

func upsertedUpdate(step, total int, result EntryResult) ProgressUpdate {
	msg := fmt.Sprintf("[%d/%d] ✓ %s (%d tracks)", step, total, result.Name, result.Tracks)
	if result.State != EntryDone {
		msg = fmt.Sprintf("[%d/%d] ✗ %s: %s", step, total, result.label(), result.State)
	}
	return ProgressUpdate{
		Phase:   Upserting,
		Step:    step,
		Total:   total,
		Message: msg,
		Data:    result,
	}
}

func enrichingUpdate(total int) ProgressUpdate {
	return ProgressUpdate{
		Phase:   Enriching,
		Total:   total,
		Message: fmt.Sprintf("Fetching profile images for %d artists...", total),
	}
}

func associatingUpdate() ProgressUpdate {
	return ProgressUpdate{Phase: Associating, Message: "Linking artist playlists to artists..."}
}

func aggregatingUpdate() ProgressUpdate {
	return ProgressUpdate{Phase: Aggregating, Message: "Recomputing artist feature counts..."}
}

func backfillUpdate(step, total int) ProgressUpdate {
	return ProgressUpdate{
		Phase:   BackfillingAlbums,
		Step:    step,
		Total:   total,
		Message: fmt.Sprintf("[%d/%d] Looking up album information...", step, total),
	}
}

func completeUpdate(summary *SyncSummary) ProgressUpdate {
	return ProgressUpdate{Phase: Complete, Message: summary.Message, Data: summary}
}
