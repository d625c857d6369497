// Package mfa implements the carrier's out-of-band verification flow: a
// challenge that sends a code over email/SMS, and a validation call that
// exchanges the user-entered code for a short-lived MFA signature.
//
// Per attempt the state machine is
// NotRequested -> Requested(ref) -> Validated(signature) | Failed | Expired.
// The package is a pass-through: it never deduplicates refs, it only layers
// the refresh/fallback policy on top of the carrier endpoints.
package mfa

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/esimtools/esimgate/internal/giffgaff"
)

// ErrBadRequest indicates missing challenge/validation inputs.
var ErrBadRequest = errors.New("mfa: ref and code are required")

// Challenge is the carrier's response to a challenge request. Ref is an
// opaque correlation id with a validity window of minutes, consumed by a
// single matching validation call.
type Challenge struct {
	Ref     string   `json:"ref"`
	Methods []string `json:"methods"`
}

// Signature authorizes sensitive mutations for the remainder of one
// activation run.
type Signature struct {
	Value string `json:"signature"`
}

// Client calls the carrier MFA endpoints with automatic token refresh and a
// cookie/CSRF web-channel fallback for validation.
type Client struct {
	endpoints giffgaff.Endpoints
	http      *http.Client
	refresh   giffgaff.RefreshFunc
}

// New builds a client. refresh may be nil, disabling the 401 retry path.
func New(endpoints giffgaff.Endpoints, httpClient *http.Client, refresh giffgaff.RefreshFunc) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{endpoints: endpoints, http: httpClient, refresh: refresh}
}

// Challenge asks the carrier to send an out-of-band code over the preferred
// channels. On a 401 invalid-token response with a cookie available it
// refreshes the token exactly once; if that also fails the error is
// ErrReLoginRequired rather than a generic failure.
func (c *Client) Challenge(ctx context.Context, auth giffgaff.Auth, source string, preferredChannels []string) (*Challenge, error) {
	if source == "" {
		source = "esim"
	}
	if len(preferredChannels) == 0 {
		preferredChannels = []string{"EMAIL"}
	}

	payload := map[string]any{
		"source":            source,
		"preferredChannels": preferredChannels,
	}

	return giffgaff.WithTokenRefresh(ctx, auth, c.refresh, func(ctx context.Context, token string) (*Challenge, error) {
		var out Challenge
		if err := c.post(ctx, c.endpoints.Identity+"/v4/mfa/challenge/me", token, "", "", payload, &out); err != nil {
			return nil, err
		}
		if out.Ref == "" {
			return nil, fmt.Errorf("mfa: challenge response missing ref")
		}
		return &out, nil
	})
}

// Validate exchanges ref and the user-entered code for an MFA signature.
// The bearer "v4" channel is preferred; on 401 with a cookie present it falls
// back to the web "v3" channel using the cookie plus a best-effort CSRF token.
func (c *Client) Validate(ctx context.Context, auth giffgaff.Auth, ref, code string) (*Signature, error) {
	if ref == "" || code == "" {
		return nil, ErrBadRequest
	}

	log := zerolog.Ctx(ctx)
	payload := map[string]any{"ref": ref, "code": code}

	var csrf string
	if auth.HasCookie() {
		// Best-effort: validation proceeds without a CSRF token when the
		// pre-flight fails.
		csrf = giffgaff.FetchCSRF(ctx, c.http, c.endpoints, auth.Cookie)
	}

	var out Signature
	err := c.post(ctx, c.endpoints.Identity+"/v4/mfa/validation", auth.Token, auth.Cookie, csrf, payload, &out)
	if err == nil {
		if out.Value == "" {
			return nil, fmt.Errorf("mfa: validation response missing signature")
		}
		return &out, nil
	}

	if !giffgaff.IsUnauthorized(err) || !auth.HasCookie() {
		return nil, err
	}

	log.Debug().Str("ref", ref).Msg("bearer validation unauthorized, falling back to web channel")

	out = Signature{}
	if err := c.post(ctx, c.endpoints.Identity+"/v3/mfa/validation", "", auth.Cookie, csrf, payload, &out); err != nil {
		return nil, err
	}
	if out.Value == "" {
		return nil, fmt.Errorf("mfa: web validation response missing signature")
	}
	return &out, nil
}

func (c *Client) post(ctx context.Context, url, token, cookie, csrf string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", giffgaff.AppUserAgent)
	req.Header.Set("Origin", giffgaff.WebOrigin)
	req.Header.Set("Referer", giffgaff.WebReferer)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if cookie != "" {
		req.Header.Set("Cookie", cookie)
	}
	if csrf != "" {
		req.Header.Set("x-csrf-token", csrf)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("mfa request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return &giffgaff.StatusError{StatusCode: resp.StatusCode, Body: respBody}
	}

	return json.Unmarshal(respBody, out)
}
