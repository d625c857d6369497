package resolver

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/esimtools/esimgate/internal/giffgaff"
)

func newResolver(t *testing.T, webURL string) *Resolver {
	t.Helper()
	return New(Config{
		Endpoints: giffgaff.Endpoints{Web: webURL},
		Secret:    []byte("test-secret-0123456789"),
	})
}

func TestResolve_tokenCookiePreferred(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/dashboard", r.URL.Path)
		_, _ = w.Write([]byte("<html><a href=\"/logout\">Sign out</a> dashboard</html>"))
	}))
	defer srv.Close()

	token := strings.Repeat("t", 40)
	result, err := newResolver(t, srv.URL).Resolve(context.Background(), "access_token="+token+"; user_id=991")
	require.NoError(t, err)

	assert.Equal(t, token, result.AccessToken)
	assert.Equal(t, "991", result.MemberID)
	assert.False(t, result.Derived)
}

func TestResolve_candidatePriorityIsDeterministic(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("dashboard"))
	}))
	defer srv.Close()

	long := strings.Repeat("v", 30)
	raw := "session_token=" + long + "s; access_token=" + long + "a"

	for range 5 {
		result, err := newResolver(t, srv.URL).Resolve(context.Background(), raw)
		require.NoError(t, err)
		assert.Equal(t, long+"a", result.AccessToken)
	}
}

func TestResolve_mergesRotatedCookies(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// rotate the session cookie before serving the account page
		http.SetCookie(w, &http.Cookie{Name: "session_token", Value: strings.Repeat("r", 30), Path: "/"})
		_, _ = w.Write([]byte("account overview"))
	}))
	defer srv.Close()

	result, err := newResolver(t, srv.URL).Resolve(context.Background(), "session_token=old-and-short")
	require.NoError(t, err)

	// rotated value qualifies as the bearer candidate, the seed value did not
	assert.Equal(t, strings.Repeat("r", 30), result.AccessToken)
}

func TestResolve_followsRedirectsWithCap(t *testing.T) {
	hops := 0
	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	defer srv.Close()

	mux.HandleFunc("/dashboard", func(w http.ResponseWriter, r *http.Request) {
		hops++
		http.SetCookie(w, &http.Cookie{Name: "auth_token", Value: strings.Repeat("h", 25), Path: "/"})
		http.Redirect(w, r, "/landing", http.StatusFound)
	})
	mux.HandleFunc("/landing", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("my giffgaff dashboard"))
	})

	result, err := newResolver(t, srv.URL).Resolve(context.Background(), "session_token=seed")
	require.NoError(t, err)
	assert.Equal(t, 1, hops)
	assert.Equal(t, strings.Repeat("h", 25), result.AccessToken)
}

func TestResolve_redirectLoopFails(t *testing.T) {
	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	defer srv.Close()

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/dashboard", http.StatusFound)
	})

	_, err := newResolver(t, srv.URL).Resolve(context.Background(), "session_token=seed")
	require.Error(t, err)
	require.Contains(t, err.Error(), "redirects")
}

func TestResolve_derivedTokenFallback(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("dashboard"))
	}))
	defer srv.Close()

	secret := []byte("test-secret-0123456789")
	r := New(Config{Endpoints: giffgaff.Endpoints{Web: srv.URL}, Secret: secret})

	// session cookie present but too short to qualify as a bearer candidate
	result, err := r.Resolve(context.Background(), "session_token=short; user_id=42")
	require.NoError(t, err)
	require.True(t, result.Derived)
	assert.Equal(t, "42", result.MemberID)

	parsed, err := jwt.Parse(result.AccessToken, func(token *jwt.Token) (any, error) {
		return secret, nil
	})
	require.NoError(t, err)
	claims := parsed.Claims.(jwt.MapClaims)
	assert.Equal(t, "42", claims["sub"])
	assert.Equal(t, "cookie_validation", claims["src"])
}

func TestResolve_relaxedFallbackOnInconclusiveHeuristic(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// login page served with 200: heuristic says not logged in
		_, _ = w.Write([]byte("<form>please log in with your password</form>"))
	}))
	defer srv.Close()

	result, err := newResolver(t, srv.URL).Resolve(context.Background(), "session_token="+strings.Repeat("k", 30))
	require.NoError(t, err)
	assert.Equal(t, strings.Repeat("k", 30), result.AccessToken)
}

func TestResolve_noSessionCookieFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte("please log in"))
	}))
	defer srv.Close()

	_, err := newResolver(t, srv.URL).Resolve(context.Background(), "theme=dark; tracking=1")
	require.ErrorIs(t, err, ErrNoSession)
}

func TestResolve_emptyCookie(t *testing.T) {
	_, err := newResolver(t, "http://unused.invalid").Resolve(context.Background(), "   ")
	require.ErrorIs(t, err, ErrNoSession)
}

func TestResolve_jsonProfileResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"user":{"id":12345},"access_token":"from-carrier"}`))
	}))
	defer srv.Close()

	result, err := newResolver(t, srv.URL).Resolve(context.Background(), "session_token="+strings.Repeat("x", 30))
	require.NoError(t, err)

	// a token volunteered by the carrier outranks the jar candidate
	assert.Equal(t, "from-carrier", result.AccessToken)
	assert.Equal(t, "12345", result.MemberID)
}

func TestResolve_gzipBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.Header.Get("Accept-Encoding"), "gzip")
		w.Header().Set("Content-Encoding", "gzip")
		gz := gzip.NewWriter(w)
		_, _ = gz.Write([]byte("account overview dashboard"))
		_ = gz.Close()
	}))
	defer srv.Close()

	result, err := newResolver(t, srv.URL).Resolve(context.Background(), "auth_token="+strings.Repeat("g", 25))
	require.NoError(t, err)
	assert.Equal(t, strings.Repeat("g", 25), result.AccessToken)
}
