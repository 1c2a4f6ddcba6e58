// package auth manages the curator's catalog credential.
//
// The [Manager] owns the single stored token pair. Sync code asks it for the current access
// token and calls [Manager.Refresh] when the catalog rejects that token. Refreshes are
// deduplicated so a burst of concurrent 401s costs one round trip to the token endpoint.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/tally/internal/metrics"
	"github.com/desertthunder/tally/internal/models"
	"github.com/desertthunder/tally/internal/shared"
	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"
)

// DefaultScopes are requested when the config names none.
var DefaultScopes = []string{"playlist-read-private", "playlist-read-collaborative"}

// CredentialStore persists the token pair.
type CredentialStore interface {
	Get(ctx context.Context, principal string) (*models.Credential, error)
	Save(ctx context.Context, c *models.Credential) error
}

// Status summarizes the stored credential without exposing the tokens.
type Status struct {
	Authorized bool      `json:"authorized"`
	ExpiresAt  time.Time `json:"expires_at,omitzero"`
	Expired    bool      `json:"expired"`
	Scope      string    `json:"scope,omitempty"`
	UpdatedAt  time.Time `json:"updated_at,omitzero"`
}

// Manager hands out access tokens and refreshes them against the token endpoint.
type Manager struct {
	config    *oauth2.Config
	store     CredentialStore
	principal string
	group     singleflight.Group
	logger    *log.Logger
	now       func() time.Time
}

// NewOAuthConfig builds the OAuth2 client configuration for the catalog.
func NewOAuthConfig(creds shared.SpotifyConfig, catalog shared.CatalogConfig) *oauth2.Config {
	scopes := creds.Scopes
	if len(scopes) == 0 {
		scopes = DefaultScopes
	}
	return &oauth2.Config{
		ClientID:     creds.ClientID,
		ClientSecret: creds.ClientSecret,
		RedirectURL:  creds.RedirectURI,
		Scopes:       scopes,
		Endpoint: oauth2.Endpoint{
			AuthURL:   catalog.AuthURL,
			TokenURL:  catalog.TokenURL,
			AuthStyle: oauth2.AuthStyleInHeader,
		},
	}
}

// NewManager creates a Manager for the curator principal.
func NewManager(config *oauth2.Config, store CredentialStore, logger *log.Logger) *Manager {
	if logger == nil {
		logger = shared.NewLogger(nil)
	}
	return &Manager{
		config:    config,
		store:     store,
		principal: models.CuratorPrincipal,
		logger:    logger.With("component", "auth"),
		now:       time.Now,
	}
}

// AuthCodeURL returns the consent page URL for the given CSRF state.
func (m *Manager) AuthCodeURL(state string) string {
	return m.config.AuthCodeURL(state)
}

// Authorize exchanges an authorization code and stores the resulting credential.
func (m *Manager) Authorize(ctx context.Context, code string) (*models.Credential, error) {
	if code == "" {
		return nil, fmt.Errorf("%w: authorization code", shared.ErrMissingArgument)
	}

	token, err := m.config.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("token exchange failed: %w", err)
	}
	if token.RefreshToken == "" {
		return nil, fmt.Errorf("token exchange failed: %w", shared.ErrNoRefreshToken)
	}

	cred := m.credentialFromToken(token, nil)
	if existing, err := m.store.Get(ctx, m.principal); err == nil {
		cred.CreatedAt = existing.CreatedAt
	}
	if err := m.store.Save(ctx, cred); err != nil {
		return nil, fmt.Errorf("failed to store credential: %w", err)
	}

	m.logger.Info("curator authorized", "expires_at", cred.ExpiresAt, "scope", cred.Scope)
	return cred, nil
}

// AccessToken returns the stored access token.
//
// The expiry is not checked; callers refresh when the catalog answers 401.
func (m *Manager) AccessToken(ctx context.Context) (string, error) {
	cred, err := m.store.Get(ctx, m.principal)
	if errors.Is(err, shared.ErrRecordNotFound) {
		return "", shared.ErrNotAuthorized
	}
	if err != nil {
		return "", fmt.Errorf("failed to load credential: %w", err)
	}
	return cred.AccessToken, nil
}

// Refresh exchanges the stored refresh token for a new access token and persists it.
//
// Concurrent callers share one exchange. Any failure is reported as
// [shared.ErrReauthorizationRequired] because the run cannot continue without a token.
func (m *Manager) Refresh(ctx context.Context) (string, error) {
	v, err, joined := m.group.Do("refresh", func() (any, error) {
		return m.refresh(ctx)
	})
	if joined {
		m.logger.Debug("joined in-flight token refresh")
	}
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (m *Manager) refresh(ctx context.Context) (string, error) {
	cred, err := m.store.Get(ctx, m.principal)
	if errors.Is(err, shared.ErrRecordNotFound) {
		metrics.TokenRefreshesTotal.WithLabelValues("failure").Inc()
		return "", fmt.Errorf("%w: %w", shared.ErrReauthorizationRequired, shared.ErrNotAuthorized)
	}
	if err != nil {
		metrics.TokenRefreshesTotal.WithLabelValues("failure").Inc()
		return "", fmt.Errorf("%w: failed to load credential: %w", shared.ErrReauthorizationRequired, err)
	}
	if cred.RefreshToken == "" {
		metrics.TokenRefreshesTotal.WithLabelValues("failure").Inc()
		return "", fmt.Errorf("%w: %w", shared.ErrReauthorizationRequired, shared.ErrNoRefreshToken)
	}

	source := m.config.TokenSource(ctx, &oauth2.Token{RefreshToken: cred.RefreshToken})
	token, err := source.Token()
	if err != nil {
		metrics.TokenRefreshesTotal.WithLabelValues("failure").Inc()
		m.logger.Error("token refresh failed", "error", describeTokenError(err))
		return "", fmt.Errorf("%w: %w", shared.ErrReauthorizationRequired, err)
	}

	updated := m.credentialFromToken(token, cred)
	if err := m.store.Save(ctx, updated); err != nil {
		metrics.TokenRefreshesTotal.WithLabelValues("failure").Inc()
		return "", fmt.Errorf("%w: failed to store refreshed credential: %w", shared.ErrReauthorizationRequired, err)
	}

	metrics.TokenRefreshesTotal.WithLabelValues("success").Inc()
	m.logger.Info("access token refreshed", "expires_at", updated.ExpiresAt)
	return updated.AccessToken, nil
}

// Status reports whether a credential is stored and when it expires.
func (m *Manager) Status(ctx context.Context) (*Status, error) {
	cred, err := m.store.Get(ctx, m.principal)
	if errors.Is(err, shared.ErrRecordNotFound) {
		return &Status{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load credential: %w", err)
	}
	return &Status{
		Authorized: true,
		ExpiresAt:  cred.ExpiresAt,
		Expired:    cred.Expired(m.now()),
		Scope:      cred.Scope,
		UpdatedAt:  cred.UpdatedAt,
	}, nil
}

// credentialFromToken maps a token response onto the stored row, keeping the previous
// refresh token when none was reissued.
func (m *Manager) credentialFromToken(token *oauth2.Token, prev *models.Credential) *models.Credential {
	cred := &models.Credential{
		PrincipalID:  m.principal,
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		ExpiresAt:    token.Expiry.UTC(),
		TokenType:    token.TokenType,
	}
	if scope, ok := token.Extra("scope").(string); ok {
		cred.Scope = scope
	}
	if token.Expiry.IsZero() {
		if secs, ok := token.Extra("expires_in").(float64); ok && secs > 0 {
			cred.ExpiresAt = m.now().Add(time.Duration(secs) * time.Second).UTC()
		}
	}

	if prev != nil {
		cred.CreatedAt = prev.CreatedAt
		if cred.RefreshToken == "" {
			cred.RefreshToken = prev.RefreshToken
		}
		if cred.Scope == "" {
			cred.Scope = prev.Scope
		}
	}
	return cred
}

func describeTokenError(err error) string {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) {
		parts := []string{}
		if re.ErrorCode != "" {
			parts = append(parts, re.ErrorCode)
		}
		if re.ErrorDescription != "" {
			parts = append(parts, re.ErrorDescription)
		}
		if len(parts) > 0 {
			return strings.Join(parts, ": ")
		}
	}
	return err.Error()
}
