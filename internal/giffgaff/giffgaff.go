// Package giffgaff holds the shared plumbing for talking to the carrier's
// undocumented web and app APIs: endpoint configuration, browser-like header
// sets, auth material, upstream error classification and the single-retry
// token refresh combinator used by the MFA and GraphQL clients.
package giffgaff

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// Endpoints are the carrier base URLs, overridable for tests.
type Endpoints struct {
	// Identity is the OAuth/MFA identity service base URL.
	Identity string
	// Gateway is the GraphQL gateway URL.
	Gateway string
	// Web is the public website base URL (dashboard probe, web activation).
	Web string
}

func DefaultEndpoints() Endpoints {
	return Endpoints{
		Identity: "https://id.giffgaff.com",
		Gateway:  "https://publicapi.giffgaff.com/gateway/graphql",
		Web:      "https://www.giffgaff.com",
	}
}

const (
	// BrowserUserAgent mimics a desktop Chrome, used for web-channel calls.
	BrowserUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
	// AppUserAgent mimics the native app's network stack, used on the identity service.
	AppUserAgent = "giffgaff/1321 CFNetwork/1568.300.101 Darwin/24.2.0"

	WebOrigin  = "https://www.giffgaff.com"
	WebReferer = "https://www.giffgaff.com/"
)

// BrowserHeaders stamps the realistic browser header set onto h.
func BrowserHeaders(h http.Header) {
	h.Set("User-Agent", BrowserUserAgent)
	h.Set("Accept", "application/json")
	h.Set("Accept-Language", "en-US,en;q=0.9")
	h.Set("Origin", WebOrigin)
	h.Set("Referer", WebReferer)
	h.Set("Cache-Control", "no-cache")
	h.Set("Pragma", "no-cache")
}

// Auth carries the caller's carrier credentials. A bearer token is preferred;
// the raw session cookie enables the refresh and web-channel fallbacks.
type Auth struct {
	Token  string
	Cookie string
}

func (a Auth) HasToken() bool  { return a.Token != "" }
func (a Auth) HasCookie() bool { return a.Cookie != "" }

// StatusError is a non-2xx response from a carrier endpoint.
type StatusError struct {
	StatusCode int
	Body       []byte
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("carrier returned HTTP %d", e.StatusCode)
}

// Details decodes the response body as JSON where possible, falling back to
// the raw string, for inclusion in boundary error responses.
func (e *StatusError) Details() any {
	if len(e.Body) == 0 {
		return nil
	}
	var v any
	if err := json.Unmarshal(e.Body, &v); err == nil {
		return v
	}
	return string(e.Body)
}

// ErrReLoginRequired signals that both the bearer token and the cookie-based
// refresh path are exhausted; the user must authenticate again.
var ErrReLoginRequired = errors.New("carrier session expired, re-login required")

// IsUnauthorized reports whether err represents a rejected or expired bearer
// token (HTTP 401, or an invalid_token/unauthorized error body).
func IsUnauthorized(err error) bool {
	var statusErr *StatusError
	if !errors.As(err, &statusErr) {
		return false
	}
	if statusErr.StatusCode == http.StatusUnauthorized {
		return true
	}
	var body struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(statusErr.Body, &body) == nil {
		switch body.Error {
		case "unauthorized", "invalid_token":
			return true
		}
	}
	return false
}

// RefreshFunc mints a fresh bearer token from the caller's cookie.
type RefreshFunc func(ctx context.Context, cookie string) (string, error)

// WithTokenRefresh runs call with auth's token and, when the carrier rejects
// it as expired and a cookie is available, refreshes the token exactly once
// and retries. A failed refresh, or a second rejection, surfaces as
// ErrReLoginRequired so callers prompt for fresh credentials instead of
// retrying indefinitely.
func WithTokenRefresh[T any](ctx context.Context, auth Auth, refresh RefreshFunc, call func(ctx context.Context, token string) (T, error)) (T, error) {
	out, err := call(ctx, auth.Token)
	if err == nil || !IsUnauthorized(err) {
		return out, err
	}

	if !auth.HasCookie() || refresh == nil {
		return out, err
	}

	token, refreshErr := refresh(ctx, auth.Cookie)
	if refreshErr != nil {
		var zero T
		return zero, fmt.Errorf("%w: token refresh failed: %v", ErrReLoginRequired, refreshErr)
	}

	out, err = call(ctx, token)
	if err != nil && IsUnauthorized(err) {
		var zero T
		return zero, fmt.Errorf("%w: refreshed token rejected", ErrReLoginRequired)
	}
	return out, err
}

// FetchCSRF obtains a CSRF token from the identity service using the session
// cookie. Best-effort: any failure yields an empty token and the caller
// proceeds without one.
func FetchCSRF(ctx context.Context, client *http.Client, endpoints Endpoints, cookie string) string {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoints.Identity+"/auth/csrf", nil)
	if err != nil {
		return ""
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", AppUserAgent)
	req.Header.Set("Cookie", cookie)

	resp, err := client.Do(req)
	if err != nil {
		return ""
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return ""
	}

	var body struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return ""
	}
	return body.Token
}
