package ui

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/desertthunder/tally/internal/models"
	"github.com/desertthunder/tally/internal/repositories"
	"github.com/desertthunder/tally/internal/shared"
	"github.com/desertthunder/tally/internal/tasks"
)

// ViewState represents the current view in the TUI.
type ViewState int

const (
	ArtistListView ViewState = iota
	ArtistDetailView
	ConfirmView
	SyncView
	ResultView
)

// Syncer runs a full sync of the configured playlists.
type Syncer interface {
	Entries() []shared.PlaylistEntry
	RunFullSync(ctx context.Context, progress chan<- tasks.ProgressUpdate) (*tasks.SyncSummary, error)
}

// sortOrder is the cycle followed by the sort key.
var sortOrder = []repositories.ArtistSort{
	repositories.SortByName,
	repositories.SortByMonthly,
	repositories.SortByYearly,
	repositories.SortByBestOf,
}

var sortLabels = map[repositories.ArtistSort]string{
	repositories.SortByName:    "name",
	repositories.SortByMonthly: "monthly features",
	repositories.SortByYearly:  "yearly features",
	repositories.SortByBestOf:  "best of songs",
}

// Model represents the TUI application state.
type Model struct {
	ctx          context.Context
	view         ViewState
	artists      *repositories.ArtistRepository
	engine       Syncer
	width        int
	height       int
	sortIdx      int
	artistList   list.Model
	songList     list.Model
	detail       *models.ArtistDetail
	status       string
	progressChan chan tasks.ProgressUpdate
	done         chan syncOutcome
	progress     tasks.ProgressUpdate
	summary      *tasks.SyncSummary
	syncErr      error
	err          error
	spinner      spinner.Model
	help         help.Model
	keys         keyMap
}

// NewModel creates a new TUI model with the provided dependencies.
func NewModel(ctx context.Context, artists *repositories.ArtistRepository, engine Syncer) *Model {
	artistList := list.New(nil, list.NewDefaultDelegate(), 0, 0)
	artistList.SetShowHelp(false)
	artistList.KeyMap.Quit.SetEnabled(false)
	songList := list.New(nil, list.NewDefaultDelegate(), 0, 0)
	songList.SetShowHelp(false)
	songList.KeyMap.Quit.SetEnabled(false)

	return &Model{
		ctx:        ctx,
		view:       ArtistListView,
		artists:    artists,
		engine:     engine,
		artistList: artistList,
		songList:   songList,
		spinner:    spinner.New(spinner.WithSpinner(spinner.Dot)),
		help:       help.New(),
		keys:       newKeyMap(),
	}
}

// Err reports the error that ended the program, if any.
func (m *Model) Err() error {
	return m.err
}

// Init initializes the TUI by loading artists from the catalog.
func (m *Model) Init() tea.Cmd {
	return m.fetchArtists()
}

// Update handles incoming messages and updates the model state.
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.artistList.SetSize(msg.Width-4, msg.Height-6)
		m.songList.SetSize(msg.Width-4, msg.Height-10)
		return m, nil

	case tea.KeyMsg:
		switch m.view {
		case ArtistListView:
			return m.handleArtistListKeys(msg)
		case ArtistDetailView:
			return m.handleDetailKeys(msg)
		case ConfirmView:
			return m.handleConfirmKeys(msg)
		case SyncView:
			if msg.String() == "ctrl+c" {
				return m, tea.Quit
			}
			return m, nil
		case ResultView:
			return m.handleResultKeys(msg)
		}

	case spinner.TickMsg:
		if m.view != SyncView {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case Msg:
		return m.handleMsg(msg)
	}

	return m.updateLists(msg)
}

func (m *Model) handleMsg(msg Msg) (tea.Model, tea.Cmd) {
	switch msg.kind {
	case MsgArtistsFetched:
		data := msg.data.(artistsFetched)
		if data.err != nil {
			m.err = data.err
			return m, tea.Quit
		}
		m.artistList.Title = fmt.Sprintf("Artists by %s", sortLabels[m.sort()])
		return m, m.artistList.SetItems(artistItems(data.artists))

	case MsgDetailFetched:
		data := msg.data.(detailFetched)
		if data.err != nil {
			m.status = fmt.Sprintf("Could not load artist: %v", data.err)
			return m, nil
		}
		m.status = ""
		m.detail = data.detail
		m.songList.Title = fmt.Sprintf("Songs by %s", data.detail.Name)
		m.songList.ResetSelected()
		m.view = ArtistDetailView
		return m, m.songList.SetItems(songItems(data.detail.Songs))

	case MsgProgressUpdate:
		m.progress = msg.data.(tasks.ProgressUpdate)
		return m, waitForProgress(m.progressChan, m.done)

	case MsgSyncComplete:
		data := msg.data.(syncOutcome)
		m.summary = data.summary
		m.syncErr = data.err
		m.progressChan = nil
		m.done = nil
		m.view = ResultView
		return m, nil
	}
	return m, nil
}

// View renders the UI based on the current view state.
func (m *Model) View() string {
	if m.err != nil {
		return theme.failure.Render(fmt.Sprintf("Error: %v\n\nPress q to quit", m.err))
	}

	switch m.view {
	case ArtistListView:
		return m.renderArtistList()
	case ArtistDetailView:
		return m.renderDetail()
	case ConfirmView:
		return m.renderConfirm()
	case SyncView:
		return m.renderSync()
	case ResultView:
		return m.renderResult()
	default:
		return ""
	}
}

func (m *Model) sort() repositories.ArtistSort {
	return sortOrder[m.sortIdx]
}

func (m *Model) handleArtistListKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.artistList.FilterState() == list.Filtering {
		var cmd tea.Cmd
		m.artistList, cmd = m.artistList.Update(msg)
		return m, cmd
	}

	switch {
	case key.Matches(msg, m.keys.quit):
		return m, tea.Quit
	case key.Matches(msg, m.keys.enter):
		if item, ok := m.artistList.SelectedItem().(artistItem); ok {
			return m, m.fetchDetail(item.artist.ID)
		}
		return m, nil
	case key.Matches(msg, m.keys.sort):
		m.sortIdx = (m.sortIdx + 1) % len(sortOrder)
		m.artistList.ResetSelected()
		return m, m.fetchArtists()
	case key.Matches(msg, m.keys.sync):
		if m.engine == nil {
			m.status = "Sync is not available"
			return m, nil
		}
		m.view = ConfirmView
		return m, nil
	}

	var cmd tea.Cmd
	m.artistList, cmd = m.artistList.Update(msg)
	return m, cmd
}

func (m *Model) handleDetailKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.songList.FilterState() == list.Filtering {
		var cmd tea.Cmd
		m.songList, cmd = m.songList.Update(msg)
		return m, cmd
	}

	switch {
	case key.Matches(msg, m.keys.quit):
		return m, tea.Quit
	case key.Matches(msg, m.keys.back):
		m.view = ArtistListView
		m.detail = nil
		return m, nil
	}

	var cmd tea.Cmd
	m.songList, cmd = m.songList.Update(msg)
	return m, cmd
}

func (m *Model) handleConfirmKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c", "n", "esc":
		m.view = ArtistListView
		return m, nil
	case "y":
		m.view = SyncView
		return m, tea.Batch(m.spinner.Tick, m.startSync())
	}
	return m, nil
}

func (m *Model) handleResultKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		return m, tea.Quit
	case "enter", "esc":
		m.view = ArtistListView
		m.summary = nil
		m.syncErr = nil
		m.progress = tasks.ProgressUpdate{}
		return m, m.fetchArtists()
	}
	return m, nil
}

func (m *Model) updateLists(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd
	switch m.view {
	case ArtistListView:
		m.artistList, cmd = m.artistList.Update(msg)
	case ArtistDetailView:
		m.songList, cmd = m.songList.Update(msg)
	}
	return m, cmd
}

func (m *Model) fetchArtists() tea.Cmd {
	sort := m.sort()
	return func() tea.Msg {
		artists, err := m.artists.List(m.ctx, sort)
		return artistsFetchedMsg(artists, err)
	}
}

func (m *Model) fetchDetail(id string) tea.Cmd {
	return func() tea.Msg {
		detail, err := m.artists.Detail(m.ctx, id)
		return detailFetchedMsg(detail, err)
	}
}

// startSync runs the engine in the background. The outcome is delivered on done before
// progress is closed, so the waiting command always finds it.
func (m *Model) startSync() tea.Cmd {
	progress := make(chan tasks.ProgressUpdate, 50)
	done := make(chan syncOutcome, 1)
	m.progressChan, m.done = progress, done
	m.progress = tasks.ProgressUpdate{Message: "Starting sync..."}

	go func() {
		summary, err := m.engine.RunFullSync(m.ctx, progress)
		done <- syncOutcome{summary: summary, err: err}
		close(progress)
	}()

	return waitForProgress(progress, done)
}

func waitForProgress(progress <-chan tasks.ProgressUpdate, done <-chan syncOutcome) tea.Cmd {
	return func() tea.Msg {
		if update, ok := <-progress; ok {
			return progressUpdateMsg(update)
		}
		outcome := <-done
		return syncCompleteMsg(outcome.summary, outcome.err)
	}
}

func (m *Model) renderArtistList() string {
	helpKeys := []key.Binding{m.keys.enter, m.keys.sort, m.keys.sync, m.keys.quit}
	helpView := m.help.ShortHelpView(helpKeys)
	if m.status != "" {
		return fmt.Sprintf("%s\n%s\n%s", m.artistList.View(), theme.caution.Render(m.status), helpView)
	}
	return fmt.Sprintf("%s\n\n%s", m.artistList.View(), helpView)
}

func (m *Model) renderDetail() string {
	if m.detail == nil {
		return ""
	}

	title := theme.heading.Render(m.detail.Name)
	counts := fmt.Sprintf("%s monthly  %s yearly  %s best of",
		theme.figure.Render(fmt.Sprint(m.detail.Monthly)),
		theme.figure.Render(fmt.Sprint(m.detail.Yearly)),
		theme.figure.Render(fmt.Sprint(m.detail.BestOfSongs)),
	)
	info := counts
	if m.detail.BestOfPlaylist != nil {
		info += "\n" + theme.muted.Render("Best of playlist: "+m.detail.BestOfPlaylist.Name)
	}

	helpKeys := []key.Binding{m.keys.back, m.keys.quit}
	helpView := m.help.ShortHelpView(helpKeys)
	return fmt.Sprintf("%s\n%s\n\n%s\n\n%s", title, info, m.songList.View(), helpView)
}

func (m *Model) renderConfirm() string {
	entries := m.engine.Entries()
	title := theme.heading.Render("Run a full sync?")
	info := fmt.Sprintf("\nConfigured playlists: %d\n", len(entries))
	if len(entries) == 0 {
		info += theme.caution.Render("No curated playlists are configured.") + "\n"
	}

	helpKeys := []key.Binding{m.keys.yes, m.keys.no}
	helpView := m.help.ShortHelpView(helpKeys)

	return fmt.Sprintf("%s\n%s\n%s", title, info, helpView)
}

func (m *Model) renderSync() string {
	title := theme.heading.Render("Syncing Catalog")

	var phase string
	switch m.progress.Phase {
	case tasks.Fetching, tasks.Upserting:
		phase = fmt.Sprintf("Syncing playlists (%d/%d)", m.progress.Step, m.progress.Total)
	case tasks.Enriching:
		phase = "Fetching artist images..."
	case tasks.Associating:
		phase = "Linking artist playlists..."
	case tasks.Aggregating:
		phase = "Recomputing feature counts..."
	case tasks.Complete:
		phase = "Finishing up..."
	default:
		phase = "Processing..."
	}

	return fmt.Sprintf("%s\n\n%s %s\n%s", title, m.spinner.View(), phase, m.progress.Message)
}

func (m *Model) renderResult() string {
	helpView := m.help.ShortHelpView([]key.Binding{
		key.NewBinding(key.WithKeys("enter"), key.WithHelp("enter", "back to artists")),
		m.keys.quit,
	})

	if m.syncErr != nil {
		msg := fmt.Sprintf("Sync failed: %v", m.syncErr)
		if errors.Is(m.syncErr, shared.ErrReauthorizationRequired) || errors.Is(m.syncErr, shared.ErrNotAuthorized) {
			msg = "Sync stopped: please re-authenticate with `tally auth login`"
		}
		return fmt.Sprintf("%s\n\n%s", theme.failure.Render(msg), helpView)
	}
	if m.summary == nil {
		return fmt.Sprintf("%s\n\n%s", theme.failure.Render("No result available"), helpView)
	}

	s := m.summary
	title := theme.success.Render("✓ Sync Complete!")
	info := fmt.Sprintf(
		"\n%s\n\nPlaylists processed: %d\nTracks iterated: %d\nArtist link operations: %d\nStale links pruned: %d",
		s.Message, s.PlaylistsProcessed, s.TracksIterated, s.ArtistLinkOps, s.SongsPruned,
	)
	if s.Association != nil {
		info += fmt.Sprintf("\nArtist playlists linked: %d", s.Association.AssociationsMade)
	}

	var problems strings.Builder
	if len(s.NotFound) > 0 {
		problems.WriteString("\n\n" + theme.caution.Render(fmt.Sprintf("Not found (%d):", len(s.NotFound))))
		for _, id := range s.NotFound {
			problems.WriteString("\n  • " + id)
		}
	}
	if len(s.Failed) > 0 {
		problems.WriteString("\n\n" + theme.caution.Render(fmt.Sprintf("Failed (%d):", len(s.Failed))))
		for _, f := range s.Failed {
			problems.WriteString(fmt.Sprintf("\n  • %s (%s %s): %s", f.ExternalID, f.Op, f.Class, f.Reason))
		}
	}

	return fmt.Sprintf("%s\n%s%s\n\n%s", title, info, problems.String(), helpView)
}
