package main

import (
	"context"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/desertthunder/tally/internal/repositories"
	"github.com/desertthunder/tally/internal/shared"
	"github.com/desertthunder/tally/internal/ui"
	"github.com/urfave/cli/v3"
)

// TUI launches the interactive artist browser.
func (r *Runner) TUI(ctx context.Context, cmd *cli.Command) error {
	// Logs go to a file so they don't interfere with rendering
	fileLogger, err := shared.NewFileLogger("./tmp/tally-tui.log")
	if err != nil {
		return fmt.Errorf("failed to create file logger: %w", err)
	}
	r.SetLogger(fileLogger)

	if err := r.open(ctx); err != nil {
		return err
	}

	model := ui.NewModel(ctx, repositories.NewArtistRepository(r.db), r.engine)
	if _, err := tea.NewProgram(model).Run(); err != nil {
		return fmt.Errorf("error running TUI: %w", err)
	}
	return model.Err()
}
