package server

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/tally/internal/auth"
	"github.com/desertthunder/tally/internal/models"
	"github.com/desertthunder/tally/internal/shared"
)

// StateTTL is how long a login state stays valid.
const StateTTL = 10 * time.Minute

// Authorizer runs the curator's authorization-code flow.
type Authorizer interface {
	AuthCodeURL(state string) string
	Authorize(ctx context.Context, code string) (*models.Credential, error)
	Status(ctx context.Context) (*auth.Status, error)
}

// OAuthResult contains the result of an OAuth authorization flow.
type OAuthResult struct {
	Credential *models.Credential
	err        error
}

func (o *OAuthResult) Error() error {
	return o.err
}

// OAuthHandler serves the curator login flow: the redirect to the consent page, the callback
// that stores the credential, and a status probe.
//
// Every login gets its own state, usable once. Callback outcomes are also published on
// [OAuthHandler.Result] so the CLI can wait for the browser round trip.
type OAuthHandler struct {
	authorizer Authorizer
	logger     *log.Logger
	now        func() time.Time

	mu      sync.Mutex
	states  map[string]time.Time
	results chan OAuthResult
}

// NewOAuthHandler creates a new OAuth handler over the given authorizer.
func NewOAuthHandler(authorizer Authorizer, logger *log.Logger) *OAuthHandler {
	return &OAuthHandler{
		authorizer: authorizer,
		logger:     logger.With("component", "oauth"),
		now:        time.Now,
		states:     map[string]time.Time{},
		results:    make(chan OAuthResult, 1),
	}
}

// Routes returns the HTTP routes this handler serves.
func (h *OAuthHandler) Routes() []string {
	return []string{"GET /auth/login", "GET /auth/callback", "GET /auth/status"}
}

// ServeHTTP dispatches on the request path.
func (h *OAuthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case "/auth/login":
		http.Redirect(w, r, h.LoginURL(), http.StatusFound)
	case "/auth/callback":
		h.callback(w, r)
	case "/auth/status":
		h.status(w, r)
	default:
		http.NotFound(w, r)
	}
}

// LoginURL returns the consent page URL with a fresh state.
func (h *OAuthHandler) LoginURL() string {
	state := shared.GenerateState()
	now := h.now()

	h.mu.Lock()
	for s, expires := range h.states {
		if now.After(expires) {
			delete(h.states, s)
		}
	}
	h.states[state] = now.Add(StateTTL)
	h.mu.Unlock()

	return h.authorizer.AuthCodeURL(state)
}

// consume reports whether state was issued and unexpired, and invalidates it.
func (h *OAuthHandler) consume(state string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	expires, ok := h.states[state]
	if !ok {
		return false
	}
	delete(h.states, state)
	return !h.now().After(expires)
}

func (h *OAuthHandler) callback(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	if !h.consume(query.Get("state")) {
		h.Send(OAuthResult{err: shared.ErrInvalidState})
		http.Error(w, "Invalid state parameter", http.StatusBadRequest)
		return
	}

	code := query.Get("code")
	if code == "" {
		err := fmt.Errorf("authorization failed: %s - %s", query.Get("error"), query.Get("error_description"))
		h.Send(OAuthResult{err: err})
		http.Error(w, "Authorization failed", http.StatusBadRequest)
		return
	}

	cred, err := h.authorizer.Authorize(r.Context(), code)
	if err != nil {
		h.logger.Error("token exchange failed", "error", err)
		h.Send(OAuthResult{err: err})
		http.Error(w, "Token exchange failed", http.StatusBadGateway)
		return
	}

	h.logger.Info("curator authorized", "expires_at", cred.ExpiresAt, "scope", cred.Scope)
	h.Send(OAuthResult{Credential: cred})

	w.Header().Set("Content-Type", "text/html")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, successPage)
}

func (h *OAuthHandler) status(w http.ResponseWriter, r *http.Request) {
	status, err := h.authorizer.Status(r.Context())
	if err != nil {
		h.logger.Error("could not read credential status", "error", err)
		writeError(w, http.StatusInternalServerError, "could not read credential status")
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// Send publishes a callback outcome. Outcomes nobody is waiting for are dropped.
func (h *OAuthHandler) Send(result OAuthResult) {
	select {
	case h.results <- result:
	default:
	}
}

// Result returns the channel callback outcomes are published on.
func (h *OAuthHandler) Result() <-chan OAuthResult {
	return h.results
}

const successPage = `
<!DOCTYPE html>
<html>
<head>
    <title>Authorization Successful</title>
    <style>
        body { font-family: -apple-system, BlinkMacSystemFont, "Segoe UI", Roboto, sans-serif;
               display: flex; align-items: center; justify-content: center; height: 100vh;
               margin: 0; background: #060708; }
        .container { text-align: center; background: #16181a; padding: 2rem;
                     border-radius: 8px; box-shadow: 0 2px 4px rgba(0,0,0,0.4); }
        h1 { color: #1DB954; margin: 0 0 1rem 0; }
        p { color: #bbb; margin: 0; }
    </style>
</head>
<body>
    <div class="container">
        <h1>✓ Curator Authorized</h1>
        <p>The catalog can now be synced. You can close this window.</p>
    </div>
</body>
</html>
`
