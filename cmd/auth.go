package main

import (
	"context"
	"fmt"
	"time"

	"github.com/desertthunder/tally/internal/models"
	"github.com/desertthunder/tally/internal/server"
	"github.com/desertthunder/tally/internal/shared"
	"github.com/urfave/cli/v3"
)

// AuthLogin performs the OAuth2 authorization-code flow for the curator.
//
// Starts a local HTTP server for the callback, opens the browser on the consent page and waits
// for the exchanged credential to be stored.
func (r *Runner) AuthLogin(ctx context.Context, cmd *cli.Command) error {
	if err := r.requireClient(); err != nil {
		return err
	}
	if err := r.open(ctx); err != nil {
		return err
	}

	cred, err := r.doOAuth(ctx, cmd.Duration("timeout"))
	if err != nil {
		return err
	}

	r.writePlainln("✓ Authorization successful")
	r.writePlain("✓ Access token expires at %s\n\n", cred.ExpiresAt.Local().Format(time.RFC1123))
	r.writePlain("You can now use: tally sync run\n")
	return nil
}

// doOAuth executes the OAuth2 authorization flow with a local HTTP server
func (r *Runner) doOAuth(ctx context.Context, timeout time.Duration) (*models.Credential, error) {
	oauthHandler := server.NewOAuthHandler(r.auth, r.logger)
	router := server.NewBasicRouter()
	router.Handler(oauthHandler)

	srvCtx, stop := context.WithCancel(ctx)
	defer stop()

	addr := r.config.Server.Addr()
	ready := make(chan struct{})
	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- server.Serve(srvCtx, addr, router, r.logger, ready)
	}()
	<-ready

	authURL := oauthHandler.LoginURL()
	r.writePlain("→ Opening browser for Spotify authorization...\n")
	if err := r.openBrowser(authURL); err != nil {
		r.logger.Warnf("failed to open browser automatically %v", err)
		r.writePlainln("⚠ Could not open browser automatically.")
		r.writePlain("Please open this URL in your browser:\n%s\n\n", authURL)
	}

	r.writePlain("→ Waiting for authorization (%s timeout)...\n", timeout)

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	var result server.OAuthResult
	select {
	case result = <-oauthHandler.Result():
	case err := <-serverErrors:
		if err == nil {
			err = ctx.Err()
		}
		return nil, fmt.Errorf("server error: %w", err)
	case <-timer.C:
		return nil, fmt.Errorf("%w: authorization not completed within %s", shared.ErrTimeout, timeout)
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	stop()
	if err := <-serverErrors; err != nil {
		r.logger.Warn("error shutting down server", "error", err)
	}

	if err := result.Error(); err != nil {
		return nil, fmt.Errorf("authorization failed: %w", err)
	}
	if result.Credential == nil {
		return nil, fmt.Errorf("no credential received")
	}
	return result.Credential, nil
}

// AuthStatus reports whether the curator is authorized and when the token expires.
func (r *Runner) AuthStatus(ctx context.Context, cmd *cli.Command) error {
	if err := r.open(ctx); err != nil {
		return err
	}

	status, err := r.auth.Status(ctx)
	if err != nil {
		return err
	}

	if cmd.Bool("json") {
		return r.writeJSON(status, true)
	}

	if !status.Authorized {
		r.writePlain("Authorization: ✗ Not authorized\n")
		return r.writePlain("Run 'tally auth login' to authorize.\n")
	}

	r.writePlain("Authorization: ✓ Authorized\n")
	r.writePlain("Expires: %s\n", status.ExpiresAt.Local().Format(time.RFC1123))
	if status.Expired {
		r.writePlain("Access token: expired (it is refreshed on the next catalog call)\n")
	} else {
		r.writePlain("Access token: valid\n")
	}
	if status.Scope != "" {
		r.writePlain("Scope: %s\n", status.Scope)
	}
	return nil
}

// AuthRefresh exchanges the stored refresh token now.
func (r *Runner) AuthRefresh(ctx context.Context, cmd *cli.Command) error {
	if err := r.open(ctx); err != nil {
		return err
	}

	if _, err := r.auth.Refresh(ctx); err != nil {
		return reauthHint(err)
	}

	status, err := r.auth.Status(ctx)
	if err != nil {
		return err
	}
	return r.writePlain("✓ Access token refreshed, expires at %s\n", status.ExpiresAt.Local().Format(time.RFC1123))
}
