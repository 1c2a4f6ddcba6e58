// Package services implements the client for the external music catalog.
//
// # Catalog Interface
//
// [Catalog] is the read surface the sync engine depends on. [SpotifyService] implements it
// over the Spotify Web API.
//
// The access token is an argument of every call, so the client holds no credential state and
// can be shared by concurrent sync workers.
//
// # Resilience
//
// Requests pass through a token-bucket limiter (golang.org/x/time/rate) and a circuit breaker
// (sony/gobreaker). A 429 is retried after the Retry-After delay, or with exponential backoff,
// until the retry budget is spent. Every request also carries its own timeout.
//
// # Error Handling
//
// Failures are returned as [*CatalogError] and classified by status:
//   - 404 : [shared.ErrNotFound] (the playlist was removed upstream)
//   - 401 : [shared.ErrUnauthorized] (the caller should refresh the token and retry once)
//   - 429 after retries : [shared.ErrRateLimited]
//   - other 4xx/5xx, network errors, timeouts, open breaker : [shared.ErrTransient]
//   - malformed payloads : [shared.ErrValidationGap]
//
// Only transient failures count against the breaker.
package services
