package main

import (
	"context"

	"github.com/desertthunder/tally/internal/server"
	"github.com/urfave/cli/v3"
)

// Serve runs the JSON API, the OAuth routes and /metrics until the context is cancelled.
func (r *Runner) Serve(ctx context.Context, cmd *cli.Command) error {
	if err := r.open(ctx); err != nil {
		return err
	}

	addr := cmd.String("addr")
	if addr == "" {
		addr = r.config.Server.Addr()
	}

	api := server.NewAPI(r.db, r.engine, r.logger)
	oauth := server.NewOAuthHandler(r.auth, r.logger)
	handler := server.New(api, oauth, r.logger)

	r.writePlain("→ Serving on http://%s (login at /auth/login)\n", addr)
	return server.Serve(ctx, addr, handler, r.logger, nil)
}
