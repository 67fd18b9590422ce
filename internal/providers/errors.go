package providers

import (
	"errors"
	"fmt"
)

// ErrUnknownProvider is returned by the registry for names outside the enum
var ErrUnknownProvider = errors.New("unknown provider")

// TokenExchangeError is a failed authorization-code exchange. It carries the
// provider's raw error body for diagnostics and is never retried: codes are
// single-use.
type TokenExchangeError struct {
	Provider   string
	StatusCode int
	Body       string
}

func (e *TokenExchangeError) Error() string {
	return fmt.Sprintf("%s token exchange failed (status %d): %s", e.Provider, e.StatusCode, e.Body)
}

// RefreshError is a failed refresh-token call. Terminal failures (400/401,
// invalid_grant) mean the refresh token is revoked and the connection must
// not be retried; everything else is transient.
type RefreshError struct {
	Provider   string
	StatusCode int
	Body       string
	Terminal   bool
	Err        error
}

func (e *RefreshError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s token refresh failed: %v", e.Provider, e.Err)
	}
	kind := "transient"
	if e.Terminal {
		kind = "terminal"
	}
	return fmt.Sprintf("%s token refresh failed (%s, status %d): %s", e.Provider, kind, e.StatusCode, e.Body)
}

func (e *RefreshError) Unwrap() error { return e.Err }

// TerminalConnectionError marks a connection that cannot be completed, e.g.
// when the account identifier is missing even after the fallback lookup.
// A half-configured connection must never be created.
type TerminalConnectionError struct {
	Provider string
	Reason   string
}

func (e *TerminalConnectionError) Error() string {
	return fmt.Sprintf("%s connection cannot be established: %s", e.Provider, e.Reason)
}

// APIError is a non-2xx response from a provider data/lookup endpoint
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("provider API error (status %d): %s", e.StatusCode, e.Body)
}

// IsTerminal reports whether err must not be retried
func IsTerminal(err error) bool {
	var re *RefreshError
	if errors.As(err, &re) {
		return re.Terminal
	}
	var te *TokenExchangeError
	if errors.As(err, &te) {
		return true
	}
	var ce *TerminalConnectionError
	if errors.As(err, &ce) {
		return true
	}
	var ae *APIError
	if errors.As(err, &ae) {
		return ae.StatusCode >= 400 && ae.StatusCode < 500 && ae.StatusCode != 408 && ae.StatusCode != 429
	}
	return false
}

// classifyRefresh turns a refresh response into a RefreshError
func classifyRefresh(provider string, status int, body []byte, err error) *RefreshError {
	if err != nil {
		return &RefreshError{Provider: provider, Err: err}
	}
	return &RefreshError{
		Provider:   provider,
		StatusCode: status,
		Body:       string(body),
		Terminal:   status == 400 || status == 401,
	}
}
