// Package server provides HTTP routing, middleware, the curator OAuth flow and the JSON API.
//
// # Router Infrastructure
//
// The [Router] interface defines HTTP routing with middleware support.
//
// [Middleware] wraps handlers in reverse order (last added executes first), following the standard Go pattern.
//
// The [BasicRouter] implementation uses [http.ServeMux] method patterns, so path values such as
// {id} are read with [http.Request.PathValue].
//
// # OAuth Handler
//
// [OAuthHandler] serves /auth/login, /auth/callback and /auth/status. Each login issues a
// random state that the callback must present once, then the authorization code is exchanged
// and stored through the credential manager. The CLI login command starts a short-lived server
// with only this handler and waits on [OAuthHandler.Result].
//
// # API
//
// [API] is a thin dispatcher over the sync engine and the read models:
//
//	POST /api/sync/trigger         full sync, returns the summary
//	POST /api/sync/recount         recompute feature counts
//	POST /api/sync/associate       link artist playlists to artists
//	POST /api/sync/update-albums   backfill album information
//	GET  /api/sync/runs?limit=     run history
//	GET  /api/playlists?type=      playlists, newest period first
//	GET  /api/playlists/{id}/songs playlist songs in order with their artists
//	GET  /api/artists?sort=        artists with feature counts
//	GET  /api/artists/{id}         artist detail
//
// When the curator has to log in again the sync endpoints answer 401 with
// {"error": "please re-authenticate"}.
//
// [New] puts both handlers behind recover, logging and metrics middleware and adds /metrics.
package server
