// Package oauth implements the carrier's PKCE authorization-code flow: URL
// construction, extraction of the code from the app-scheme callback, and the
// token exchange itself.
package oauth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"

	"github.com/esimtools/esimgate/internal/giffgaff"
)

// ErrNoCode indicates the callback URL carried no authorization code.
var ErrNoCode = errors.New("oauth: callback contained no authorization code")

// Config identifies this client to the carrier's identity service.
type Config struct {
	ClientID     string
	ClientSecret string
	RedirectURI  string
	Scopes       []string
	Endpoints    giffgaff.Endpoints
	HTTPClient   *http.Client
}

// PKCE is the per-login proof-key material. The verifier stays with the
// session; the challenge and state travel in the authorization URL.
type PKCE struct {
	Verifier  string `json:"codeVerifier"`
	Challenge string `json:"codeChallenge"`
	State     string `json:"state"`
}

// NewPKCE generates fresh proof-key material.
func NewPKCE() PKCE {
	v := oauth2.GenerateVerifier()
	return PKCE{
		Verifier:  v,
		Challenge: oauth2.S256ChallengeFromVerifier(v),
		State:     uuid.NewString(),
	}
}

// NormalizeSecret repairs client secrets mangled in transit: shell-style
// trailing '%' markers are stripped and missing base64 '=' padding restored.
func NormalizeSecret(s string) string {
	s = strings.TrimRight(strings.TrimSpace(s), "%")
	if n := len(s) % 4; n != 0 && !strings.ContainsAny(s, "=") {
		s += strings.Repeat("=", 4-n)
	}
	return s
}

func (c Config) oauthConfig() *oauth2.Config {
	return &oauth2.Config{
		ClientID:     c.ClientID,
		ClientSecret: NormalizeSecret(c.ClientSecret),
		RedirectURL:  c.RedirectURI,
		Scopes:       c.Scopes,
		Endpoint: oauth2.Endpoint{
			AuthURL:   c.Endpoints.Identity + "/auth/oauth/authorize",
			TokenURL:  c.Endpoints.Identity + "/auth/oauth/token",
			AuthStyle: oauth2.AuthStyleInHeader,
		},
	}
}

// AuthCodeURL builds the authorization URL for p.
func (c Config) AuthCodeURL(p PKCE) string {
	return c.oauthConfig().AuthCodeURL(p.State, oauth2.S256ChallengeOption(p.Verifier))
}

// ExtractCode pulls the authorization code and state out of the app-scheme
// callback URL (giffgaff://auth/callback/?code=...). A bare code with no URL
// structure is accepted as-is.
func ExtractCode(callback string) (code, state string, err error) {
	callback = strings.TrimSpace(callback)
	if callback == "" {
		return "", "", ErrNoCode
	}

	u, parseErr := url.Parse(callback)
	if parseErr != nil || u.Scheme == "" {
		// Not a URL, assume the user pasted the raw code.
		return callback, "", nil
	}

	q := u.Query()
	if q.Get("code") == "" {
		return "", "", ErrNoCode
	}
	return q.Get("code"), q.Get("state"), nil
}

// Exchange swaps the authorization code for a bearer token using the stored
// verifier.
func (c Config) Exchange(ctx context.Context, code, verifier string) (*oauth2.Token, error) {
	if code == "" {
		return nil, ErrNoCode
	}

	httpClient := c.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	ctx = context.WithValue(ctx, oauth2.HTTPClient, httpClient)

	tok, err := c.oauthConfig().Exchange(ctx, code, oauth2.VerifierOption(verifier))
	if err != nil {
		return nil, fmt.Errorf("token exchange failed: %w", err)
	}
	return tok, nil
}
