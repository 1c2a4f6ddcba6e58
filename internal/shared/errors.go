package shared

import "fmt"

var (
	// Configuration errors
	ErrInvalidConfig      = fmt.Errorf("invalid configuration")
	ErrMissingCredentials = fmt.Errorf("missing credentials")

	// Credential errors
	ErrNotAuthorized           = fmt.Errorf("not yet authorized")
	ErrReauthorizationRequired = fmt.Errorf("reauthorization required")
	ErrNoRefreshToken          = fmt.Errorf("no refresh token available")
	ErrInvalidState            = fmt.Errorf("invalid oauth state")
	ErrTimeout                 = fmt.Errorf("operation timed out")

	// Catalog errors
	ErrNotFound      = fmt.Errorf("resource not found")
	ErrUnauthorized  = fmt.Errorf("catalog rejected access token")
	ErrRateLimited   = fmt.Errorf("rate limited")
	ErrTransient     = fmt.Errorf("transient catalog failure")
	ErrValidationGap = fmt.Errorf("unexpected payload shape")

	// Persistence errors
	ErrRecordNotFound = fmt.Errorf("record not found")

	// Input validation errors
	ErrInvalidInput    = fmt.Errorf("invalid input")
	ErrMissingArgument = fmt.Errorf("missing required argument")
	ErrInvalidArgument = fmt.Errorf("invalid argument")
)
