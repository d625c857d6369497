package oauth

import (
	"context"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/esimtools/esimgate/internal/giffgaff"
)

func TestNewPKCE_distinctPerLogin(t *testing.T) {
	a := NewPKCE()
	b := NewPKCE()

	require.NotEmpty(t, a.Verifier)
	require.NotEmpty(t, a.Challenge)
	require.NotEqual(t, a.Verifier, b.Verifier)
	require.NotEqual(t, a.State, b.State)
	require.NotEqual(t, a.Verifier, a.Challenge)
}

func TestNormalizeSecret(t *testing.T) {
	require.Equal(t, "c2VjcmV0x21=", NormalizeSecret("c2VjcmV0x21"))
	require.Equal(t, "c2VjcmV0", NormalizeSecret("c2VjcmV0%"))
	require.Equal(t, "already==", NormalizeSecret("already=="))
	require.Equal(t, "plain123", NormalizeSecret(" plain123 "))
}

func TestAuthCodeURL(t *testing.T) {
	cfg := Config{
		ClientID:    "client-1",
		RedirectURI: "giffgaff://auth/callback/",
		Scopes:      []string{"read"},
		Endpoints:   giffgaff.DefaultEndpoints(),
	}
	p := NewPKCE()

	u := cfg.AuthCodeURL(p)
	require.Contains(t, u, "https://id.giffgaff.com/auth/oauth/authorize?")
	require.Contains(t, u, "code_challenge="+p.Challenge)
	require.Contains(t, u, "code_challenge_method=S256")
	require.Contains(t, u, "state="+p.State)
}

func TestExtractCode(t *testing.T) {
	code, state, err := ExtractCode("giffgaff://auth/callback/?code=abc123&state=st-9")
	require.NoError(t, err)
	require.Equal(t, "abc123", code)
	require.Equal(t, "st-9", state)

	code, state, err = ExtractCode("abc123")
	require.NoError(t, err)
	require.Equal(t, "abc123", code)
	require.Empty(t, state)

	_, _, err = ExtractCode("giffgaff://auth/callback/?state=only")
	require.ErrorIs(t, err, ErrNoCode)

	_, _, err = ExtractCode("")
	require.ErrorIs(t, err, ErrNoCode)
}

func TestExchange_basicAuthAndVerifier(t *testing.T) {
	var gotAuth, gotBody string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/auth/oauth/token", r.URL.Path)
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, r.ParseForm())
		gotBody = r.PostForm.Encode()
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"at-1","token_type":"bearer","expires_in":3600}`))
	}))
	defer srv.Close()

	cfg := Config{
		ClientID:     "client-1",
		ClientSecret: "secret12%",
		RedirectURI:  "giffgaff://auth/callback/",
		Endpoints:    giffgaff.Endpoints{Identity: srv.URL},
		HTTPClient:   srv.Client(),
	}

	tok, err := cfg.Exchange(context.Background(), "code-1", "verifier-1")
	require.NoError(t, err)
	require.Equal(t, "at-1", tok.AccessToken)

	want := "Basic " + base64.StdEncoding.EncodeToString([]byte("client-1:secret12"))
	require.Equal(t, want, gotAuth)
	require.True(t, strings.Contains(gotBody, "grant_type=authorization_code"))
	require.True(t, strings.Contains(gotBody, "code=code-1"))
	require.True(t, strings.Contains(gotBody, "code_verifier=verifier-1"))
}

func TestExchange_emptyCode(t *testing.T) {
	_, err := Config{}.Exchange(context.Background(), "", "v")
	require.ErrorIs(t, err, ErrNoCode)
}
