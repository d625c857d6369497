// Package cookies implements the cookie jar used by the cookie-to-token
// resolver: a name/value map reconstructed from a raw Cookie header and any
// Set-Cookie response headers, with last-write-wins merge semantics.
package cookies

import (
	"crypto/sha256"
	"sort"
	"strings"

	"github.com/mr-tron/base58"
)

// Candidate bearer-like cookie names, in priority order. The search is
// deterministic: earlier names win over later ones, and the generic
// token/session/auth scan only runs when none of these match.
var candidateNames = []string{
	"access_token",
	"oauth_token",
	"auth_token",
	"session_token",
	"id_token",
	"gg_session",
}

// Names treated as proof that a carrier web session existed at some point,
// used by the resolver's relaxed fallback.
var sessionNames = []string{
	"session_token",
	"auth_token",
	"user_id",
	"gg_session",
	"GGUID",
}

// MinTokenLength is the minimum value length for a cookie to qualify as a
// bearer-like token in the generic scan.
const MinTokenLength = 20

// Jar maps cookie names to values.
type Jar map[string]string

// Parse builds a jar from a raw Cookie-header style string. Pairs are
// separated by semicolons; values may themselves contain '=' and are split
// only on the first occurrence.
func Parse(raw string) Jar {
	jar := Jar{}
	for _, pair := range strings.Split(raw, ";") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		name, value, ok := strings.Cut(pair, "=")
		if !ok {
			continue
		}
		name = strings.TrimSpace(name)
		value = strings.TrimSpace(value)
		if name == "" {
			continue
		}
		jar[name] = value
	}
	return jar
}

// MergeSetCookies merges Set-Cookie header values into the jar, last write
// wins per cookie name. Each header is truncated at its first ';' so cookie
// attributes (Path, Expires, ...) never leak into values. Merging the same
// headers twice yields the same jar.
func (j Jar) MergeSetCookies(setCookies []string) {
	for _, sc := range setCookies {
		pair, _, _ := strings.Cut(sc, ";")
		name, value, ok := strings.Cut(pair, "=")
		if !ok {
			continue
		}
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		j[name] = strings.TrimSpace(value)
	}
}

// Header renders the jar as a Cookie header value with stable ordering.
func (j Jar) Header() string {
	names := make([]string, 0, len(j))
	for name := range j {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	for i, name := range names {
		if i > 0 {
			b.WriteString("; ")
		}
		b.WriteString(name)
		b.WriteByte('=')
		b.WriteString(j[name])
	}
	return b.String()
}

// BearerCandidate searches the jar for a plausible bearer-like cookie.
// Prioritized well-known names are checked first; failing that, any cookie
// whose name contains token/session/auth and whose value is long enough
// qualifies, scanned in sorted name order for determinism.
func (j Jar) BearerCandidate() (string, bool) {
	for _, name := range candidateNames {
		if v, ok := j[name]; ok && len(v) >= MinTokenLength {
			return v, true
		}
	}

	names := make([]string, 0, len(j))
	for name := range j {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		lower := strings.ToLower(name)
		if !strings.Contains(lower, "token") &&
			!strings.Contains(lower, "session") &&
			!strings.Contains(lower, "auth") {
			continue
		}
		if v := j[name]; len(v) > MinTokenLength {
			return v, true
		}
	}
	return "", false
}

// HasSessionCookie reports whether the jar contains any recognized
// session-cookie name, regardless of value.
func (j Jar) HasSessionCookie() bool {
	for _, name := range sessionNames {
		if _, ok := j[name]; ok {
			return true
		}
	}
	return false
}

// Fingerprint returns a stable base58-encoded SHA-256 digest of the jar
// contents, used as an opaque identifier for derived tokens and debug logs.
func (j Jar) Fingerprint() string {
	hash := sha256.Sum256([]byte(j.Header()))
	return base58.Encode(hash[:])
}
