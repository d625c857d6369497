// Package resolver turns a raw carrier session cookie into a bearer-equivalent
// access token by proving liveness against the carrier's dashboard page and
// mining the merged cookie jar for token material.
package resolver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/klauspost/compress/gzip"
	"github.com/rs/zerolog"
	"golang.org/x/net/publicsuffix"

	"github.com/esimtools/esimgate/internal/cookies"
	"github.com/esimtools/esimgate/internal/giffgaff"
)

// ErrNoSession is returned when the cookie carries no usable carrier session;
// callers must treat it as "re-authentication required".
var ErrNoSession = errors.New("no usable carrier session in cookie")

const (
	maxRedirects  = 5
	maxProbeBody  = 1 << 20
	defaultSecret = "esimgate-derived-token"
)

// Terms whose presence in the probe body indicates an authenticated page.
var accountTerms = []string{
	"dashboard",
	"my giffgaff",
	"account overview",
	"logout",
	"sign out",
	"profile",
}

// Terms indicating the login page, used for the inverse check on HTTP 200.
var loginTerms = []string{
	"log in",
	"login",
	"sign in",
	"password",
}

// Config configures the resolver.
type Config struct {
	Endpoints giffgaff.Endpoints
	// ProbePath is appended to the web base URL for the liveness probe.
	ProbePath string
	// Secret signs derived fallback tokens. A built-in development secret is
	// used when empty; deployments should always set their own.
	Secret  []byte
	Timeout time.Duration
}

// Resolver implements the cookie-to-token resolution contract. It never
// mutates caller-owned state; callers decide whether to persist the result.
type Resolver struct {
	cfg Config
}

func New(cfg Config) *Resolver {
	if cfg.ProbePath == "" {
		cfg.ProbePath = "/dashboard"
	}
	if len(cfg.Secret) == 0 {
		cfg.Secret = []byte(defaultSecret)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Resolver{cfg: cfg}
}

// Result is a successful resolution.
type Result struct {
	AccessToken string
	MemberID    string
	// Derived is true when the token was synthesized from the jar rather
	// than extracted; a real access token is preferred whenever obtainable.
	Derived bool
}

// Resolve parses rawCookie into a jar, probes the carrier dashboard with it,
// merges any rotated cookies, and derives a bearer-equivalent token.
func (r *Resolver) Resolve(ctx context.Context, rawCookie string) (*Result, error) {
	log := zerolog.Ctx(ctx)

	jar := cookies.Parse(rawCookie)
	if len(jar) == 0 {
		return nil, fmt.Errorf("%w: cookie header empty or malformed", ErrNoSession)
	}

	probe, err := r.probe(ctx, jar)
	if err != nil {
		return nil, fmt.Errorf("dashboard probe failed: %w", err)
	}

	if !probe.loggedIn {
		// Relaxed fallback: a recognized session-cookie name is treated as
		// sufficient evidence even when the page heuristic is inconclusive.
		// Accepted trade-off: avoids false negatives at the cost of possible
		// false positives.
		if !jar.HasSessionCookie() {
			return nil, fmt.Errorf("%w: probe returned HTTP %d", ErrNoSession, probe.status)
		}
		log.Warn().
			Int("status", probe.status).
			Str("jar", jar.Fingerprint()).
			Msg("login heuristic inconclusive, continuing on session cookie presence")
	}

	memberID := probe.memberID
	if memberID == "" {
		memberID = jar["user_id"]
	}

	// A token returned by the carrier itself outranks anything in the jar.
	if probe.accessToken != "" {
		return &Result{AccessToken: probe.accessToken, MemberID: memberID}, nil
	}

	if token, ok := jar.BearerCandidate(); ok {
		return &Result{AccessToken: token, MemberID: memberID}, nil
	}

	token, err := r.deriveToken(jar, memberID)
	if err != nil {
		return nil, fmt.Errorf("%w: no candidate cookie and derivation failed: %v", ErrNoSession, err)
	}

	log.Debug().Str("jar", jar.Fingerprint()).Msg("derived fallback token from cookie jar")

	return &Result{AccessToken: token, MemberID: memberID, Derived: true}, nil
}

type probeResult struct {
	status      int
	loggedIn    bool
	accessToken string
	memberID    string
}

// probe issues the liveness GET, following at most maxRedirects redirects and
// merging every Set-Cookie it sees back into jar.
func (r *Resolver) probe(ctx context.Context, jar cookies.Jar) (*probeResult, error) {
	probeURL := strings.TrimRight(r.cfg.Endpoints.Web, "/") + r.cfg.ProbePath

	u, err := url.Parse(probeURL)
	if err != nil {
		return nil, err
	}

	// A public-suffix-aware jar keeps rotated cookies flowing across
	// same-site redirects without leaking them to foreign hosts.
	httpJar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, err
	}
	seed := make([]*http.Cookie, 0, len(jar))
	for name, value := range jar {
		seed = append(seed, &http.Cookie{Name: name, Value: value})
	}
	httpJar.SetCookies(u, seed)

	client := &http.Client{
		Jar:     httpJar,
		Timeout: r.cfg.Timeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= maxRedirects {
				return fmt.Errorf("stopped after %d redirects", maxRedirects)
			}
			if resp := req.Response; resp != nil {
				jar.MergeSetCookies(resp.Header.Values("Set-Cookie"))
			}
			return nil
		},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, probeURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", giffgaff.BrowserUserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/json;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")
	req.Header.Set("Accept-Encoding", "gzip")
	req.Header.Set("Referer", giffgaff.WebReferer)

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	jar.MergeSetCookies(resp.Header.Values("Set-Cookie"))

	body, err := readBody(resp)
	if err != nil {
		return nil, err
	}

	out := &probeResult{status: resp.StatusCode}
	out.loggedIn = classify(resp.StatusCode, body)

	// Some deployments expose the probe as a JSON profile endpoint; when the
	// body parses, lift the member id and any token it volunteers.
	var profile struct {
		AccessToken string `json:"access_token"`
		User        struct {
			ID json.Number `json:"id"`
		} `json:"user"`
	}
	if json.Unmarshal(body, &profile) == nil {
		out.accessToken = profile.AccessToken
		out.memberID = profile.User.ID.String()
		if out.memberID != "" {
			out.loggedIn = true
		}
	}

	return out, nil
}

// readBody decompresses gzip-encoded responses; manual Accept-Encoding
// disables the transport's transparent decompression.
func readBody(resp *http.Response) ([]byte, error) {
	var reader io.Reader = io.LimitReader(resp.Body, maxProbeBody)
	if strings.EqualFold(resp.Header.Get("Content-Encoding"), "gzip") {
		gz, err := gzip.NewReader(reader)
		if err != nil {
			return nil, fmt.Errorf("bad gzip body: %w", err)
		}
		defer gz.Close()
		reader = gz
	}
	return io.ReadAll(reader)
}

// classify applies the logged-in heuristic: account-indicating terms present,
// or a 200 page with no login-indicating terms.
func classify(status int, body []byte) bool {
	lower := strings.ToLower(string(body))
	for _, term := range accountTerms {
		if strings.Contains(lower, term) {
			return true
		}
	}
	if status != http.StatusOK {
		return false
	}
	for _, term := range loginTerms {
		if strings.Contains(lower, term) {
			return false
		}
	}
	return true
}

// deriveToken mints an HMAC-signed token from the merged jar when no real
// bearer cookie qualifies. Placeholder material, not a carrier token: real
// access tokens are preferred whenever obtainable.
func (r *Resolver) deriveToken(jar cookies.Jar, memberID string) (string, error) {
	if memberID == "" {
		memberID = "unknown"
	}
	claims := jwt.MapClaims{
		"sub": memberID,
		"iat": time.Now().Unix(),
		"jti": jar.Fingerprint(),
		"src": "cookie_validation",
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(r.cfg.Secret)
}
