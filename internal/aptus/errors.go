package aptus

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Errors returned by the portal client. Use errors.Is to match them.
var (
	// ErrInvalidBaseURL is returned by New when the portal URL is unusable.
	ErrInvalidBaseURL = errors.New("aptus: invalid portal base URL")

	// ErrMissingCredentials is returned by Login without username or password.
	ErrMissingCredentials = errors.New("aptus: username and password are required")

	// ErrLoginPage is returned when the login form lacks a verification token.
	ErrLoginPage = errors.New("aptus: login page has no verification token")

	// ErrInvalidCredentials is returned when the portal rejects the login.
	ErrInvalidCredentials = errors.New("aptus: invalid credentials")

	// ErrNotLoggedIn is returned by session-bound calls before Login succeeds.
	ErrNotLoggedIn = errors.New("aptus: not logged in")

	// ErrSessionExpired is returned when the portal bounces a request back to
	// the login page.
	ErrSessionExpired = errors.New("aptus: session expired")

	// ErrConnectionFailed wraps transport failures and server errors.
	ErrConnectionFailed = errors.New("aptus: portal unreachable")

	// ErrInvalidResponse is returned when a JSON endpoint answers with
	// something that is not JSON.
	ErrInvalidResponse = errors.New("aptus: invalid portal response")
)

// APIError is a non-2xx answer from a portal endpoint.
//
// Message and StatusText come from the errorMessage and HeaderStatusText
// fields the portal puts in its JSON error bodies; Message falls back to the
// raw body.
type APIError struct {
	HTTPCode   int
	Message    string
	StatusText string
}

func (e *APIError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = http.StatusText(e.HTTPCode)
	}
	if e.StatusText != "" {
		return fmt.Sprintf("aptus: portal returned HTTP %d: %s (%s)", e.HTTPCode, msg, e.StatusText)
	}
	return fmt.Sprintf("aptus: portal returned HTTP %d: %s", e.HTTPCode, msg)
}

// maxErrorBody bounds how much of a non-JSON error body ends up in Message.
const maxErrorBody = 256

func newAPIError(code int, body []byte) *APIError {
	apiErr := &APIError{HTTPCode: code}

	var payload struct {
		ErrorMessage     string `json:"errorMessage"`
		HeaderStatusText string `json:"HeaderStatusText"`
	}
	if err := json.Unmarshal(body, &payload); err == nil {
		apiErr.Message = payload.ErrorMessage
		apiErr.StatusText = payload.HeaderStatusText
	}

	if apiErr.Message == "" {
		text := strings.TrimSpace(string(body))
		if len(text) > maxErrorBody {
			text = text[:maxErrorBody]
		}
		apiErr.Message = text
	}

	return apiErr
}
