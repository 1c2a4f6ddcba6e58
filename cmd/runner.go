package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/tally/internal/auth"
	"github.com/desertthunder/tally/internal/repositories"
	"github.com/desertthunder/tally/internal/services"
	"github.com/desertthunder/tally/internal/shared"
	"github.com/desertthunder/tally/internal/tasks"
	"github.com/urfave/cli/v3"
)

// Runner holds all dependencies for CLI commands and provides methods for each command action.
//
// The store, the credential manager, the catalog client and the sync engine are built on first
// use by [Runner.open], so commands like setup config never touch the database.
type Runner struct {
	config      *shared.Config
	configPath  string
	httpClient  *http.Client
	logger      *log.Logger
	output      io.Writer
	openBrowser func(string) error

	db      *sql.DB
	ownsDB  bool
	auth    *auth.Manager
	catalog services.Catalog
	engine  *tasks.SyncEngine
}

// RunnerOpts contains configuration options for creating a Runner.
type RunnerOpts struct {
	Config      *shared.Config
	ConfigPath  string
	HTTPClient  *http.Client
	Logger      *log.Logger
	Output      io.Writer
	OpenBrowser func(string) error
	DB          *sql.DB
}

// NewRunner creates a new Runner with the provided configuration
func NewRunner(opts RunnerOpts) *Runner {
	if opts.Config == nil {
		opts.Config = shared.DefaultConfig()
	}
	if opts.Logger == nil {
		opts.Logger = shared.NewLogger(nil)
	}
	if opts.Output == nil {
		opts.Output = os.Stdout
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = http.DefaultClient
	}
	if opts.OpenBrowser == nil {
		opts.OpenBrowser = shared.OpenBrowser
	}

	return &Runner{
		config:      opts.Config,
		configPath:  opts.ConfigPath,
		httpClient:  opts.HTTPClient,
		logger:      opts.Logger,
		output:      opts.Output,
		openBrowser: opts.OpenBrowser,
		db:          opts.DB,
	}
}

func (r *Runner) register() []*cli.Command {
	commands := []*cli.Command{}
	for _, fn := range [](func(*Runner) *cli.Command){
		setupCommand, authCommand, syncCommand, catalogCommand, serveCommand, tuiCommand,
	} {
		commands = append(commands, fn(r))
	}

	return commands
}

// before loads .env and the config file named by --config, and applies --verbose.
//
// A missing config file keeps the current config with environment overrides applied.
func (r *Runner) before(ctx context.Context, cmd *cli.Command) (context.Context, error) {
	if cmd.Bool("verbose") {
		shared.SetLogLevel(r.logger, log.DebugLevel)
	}

	if err := shared.LoadEnvFile(cmd.String("env-file")); err != nil {
		r.logger.Warn("could not load env file", "error", err)
	}

	path := cmd.String("config")
	r.configPath = path
	if _, err := os.Stat(path); err != nil {
		r.logger.Debug("config file not found, using defaults", "path", path)
		r.config.ApplyEnv()
		return ctx, nil
	}

	config, err := shared.LoadConfig(path)
	if err != nil {
		return ctx, err
	}
	r.config = config
	r.logger.Debug("loaded config", "path", path)
	return ctx, nil
}

// SetLogger replaces the logger used by the runner and everything it builds afterwards.
func (r *Runner) SetLogger(logger *log.Logger) {
	r.logger = logger
}

// open builds the store, credential manager, catalog client and sync engine once.
func (r *Runner) open(ctx context.Context) error {
	if r.engine != nil {
		return nil
	}
	if err := r.config.Validate(); err != nil {
		return err
	}

	if r.db == nil {
		r.logger.Debug("opening database", "path", r.config.Database.Path)
		db, err := shared.NewDatabase(r.config.Database.Path)
		if err != nil {
			return fmt.Errorf("failed to open database: %w", err)
		}
		shared.ConfigureDatabase(db, r.config.Database.MaxOpenConns, r.config.Database.MaxIdleConns)
		r.db, r.ownsDB = db, true
	}
	if err := shared.RunMigrations(r.db); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	opts := services.OptionsFromConfig(r.config.Catalog, r.logger)
	opts.HTTPClient = r.httpClient
	catalog, err := services.NewSpotifyService(opts)
	if err != nil {
		return fmt.Errorf("failed to create catalog client: %w", err)
	}

	entries, err := r.playlistEntries()
	if err != nil {
		return err
	}

	oauthConfig := auth.NewOAuthConfig(r.config.Credentials.Spotify, r.config.Catalog)
	r.auth = auth.NewManager(oauthConfig, repositories.NewCredentialRepository(r.db), r.logger)
	r.catalog = catalog
	r.engine = tasks.NewSyncEngine(r.db, catalog, r.auth, entries, tasks.SyncOptionsFromConfig(r.config.Sync), r.logger)
	return nil
}

func (r *Runner) playlistEntries() ([]shared.PlaylistEntry, error) {
	if path := r.config.Sync.PlaylistsPath; path != "" {
		entries, err := shared.LoadPlaylists(path)
		if err != nil {
			return nil, fmt.Errorf("failed to load curated playlists: %w", err)
		}
		return entries, nil
	}
	return shared.DefaultPlaylists()
}

// Close releases the database when the runner opened it.
func (r *Runner) Close() error {
	if r.db == nil || !r.ownsDB {
		return nil
	}
	err := r.db.Close()
	r.db, r.ownsDB, r.engine = nil, false, nil
	return err
}

// requireClient checks the OAuth client credentials are real values, not the template's.
func (r *Runner) requireClient() error {
	creds := r.config.Credentials.Spotify
	if creds.ClientID == "" || creds.ClientSecret == "" ||
		creds.ClientID == "your_spotify_client_id" || creds.ClientSecret == "your_spotify_client_secret" {
		return fmt.Errorf("%w: set credentials.spotify client_id and client_secret (or %s and %s)",
			shared.ErrMissingCredentials, shared.EnvClientID, shared.EnvClientSecret)
	}
	return nil
}

// reauthHint adds the login command to errors that need the curator to log in again.
func reauthHint(err error) error {
	if errors.Is(err, shared.ErrReauthorizationRequired) || errors.Is(err, shared.ErrNotAuthorized) {
		return fmt.Errorf("%w (run 'tally auth login' to re-authenticate)", err)
	}
	return err
}

func (r *Runner) writeJSON(data any, pretty bool) error {
	var output []byte
	var err error

	if pretty {
		output, err = json.MarshalIndent(data, "", "  ")
	} else {
		output, err = json.Marshal(data)
	}

	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}

	if _, err := r.output.Write(output); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}

	if _, err := r.output.Write([]byte("\n")); err != nil {
		return fmt.Errorf("failed to write newline: %w", err)
	}

	return nil
}

func (r *Runner) writePlain(format string, args ...any) error {
	text := fmt.Sprintf(format, args...)
	if _, err := r.output.Write([]byte(text)); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}

func (r *Runner) writePlainln(format string, args ...any) error {
	text := "\n" + fmt.Sprintf(format, args...) + "\n"
	if _, err := r.output.Write([]byte(text)); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}

func (r *Runner) writePlainHeader(title string) {
	r.writePlain("═══════════════════════════════════════\n")
	r.writePlain("%v\n", title)
	r.writePlain("═══════════════════════════════════════\n")
}
