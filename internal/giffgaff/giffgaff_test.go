package giffgaff

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsUnauthorized(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{
			name:     "http 401",
			err:      &StatusError{StatusCode: http.StatusUnauthorized},
			expected: true,
		},
		{
			name:     "invalid_token body on 400",
			err:      &StatusError{StatusCode: http.StatusBadRequest, Body: []byte(`{"error":"invalid_token"}`)},
			expected: true,
		},
		{
			name:     "unauthorized body",
			err:      &StatusError{StatusCode: http.StatusForbidden, Body: []byte(`{"error":"unauthorized"}`)},
			expected: true,
		},
		{
			name:     "plain 500",
			err:      &StatusError{StatusCode: http.StatusInternalServerError},
			expected: false,
		},
		{
			name:     "not a status error",
			err:      errors.New("network down"),
			expected: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.expected, IsUnauthorized(tt.err))
		})
	}
}

func TestWithTokenRefresh_noRetryOnSuccess(t *testing.T) {
	calls := 0
	out, err := WithTokenRefresh(context.Background(), Auth{Token: "tok", Cookie: "c=1"},
		func(ctx context.Context, cookie string) (string, error) {
			t.Fatal("refresh should not run")
			return "", nil
		},
		func(ctx context.Context, token string) (string, error) {
			calls++
			return "ok", nil
		})
	require.NoError(t, err)
	assert.Equal(t, "ok", out)
	assert.Equal(t, 1, calls)
}

func TestWithTokenRefresh_singleRetryWithCookie(t *testing.T) {
	calls := 0
	refreshes := 0

	out, err := WithTokenRefresh(context.Background(), Auth{Token: "stale", Cookie: "c=1"},
		func(ctx context.Context, cookie string) (string, error) {
			refreshes++
			return "fresh", nil
		},
		func(ctx context.Context, token string) (string, error) {
			calls++
			if token == "stale" {
				return "", &StatusError{StatusCode: http.StatusUnauthorized}
			}
			return "ok", nil
		})

	require.NoError(t, err)
	assert.Equal(t, "ok", out)
	assert.Equal(t, 2, calls)
	assert.Equal(t, 1, refreshes)
}

func TestWithTokenRefresh_noRetryWithoutCookie(t *testing.T) {
	calls := 0

	_, err := WithTokenRefresh(context.Background(), Auth{Token: "stale"},
		func(ctx context.Context, cookie string) (string, error) {
			t.Fatal("refresh should not run without a cookie")
			return "", nil
		},
		func(ctx context.Context, token string) (string, error) {
			calls++
			return "", &StatusError{StatusCode: http.StatusUnauthorized}
		})

	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.False(t, errors.Is(err, ErrReLoginRequired))
}

func TestWithTokenRefresh_refreshFailureSignalsReLogin(t *testing.T) {
	_, err := WithTokenRefresh(context.Background(), Auth{Token: "stale", Cookie: "c=1"},
		func(ctx context.Context, cookie string) (string, error) {
			return "", errors.New("cookie expired")
		},
		func(ctx context.Context, token string) (string, error) {
			return "", &StatusError{StatusCode: http.StatusUnauthorized}
		})

	require.ErrorIs(t, err, ErrReLoginRequired)
}

func TestWithTokenRefresh_refreshedTokenRejectedSignalsReLogin(t *testing.T) {
	calls := 0
	_, err := WithTokenRefresh(context.Background(), Auth{Token: "stale", Cookie: "c=1"},
		func(ctx context.Context, cookie string) (string, error) {
			return "still-stale", nil
		},
		func(ctx context.Context, token string) (string, error) {
			calls++
			return "", &StatusError{StatusCode: http.StatusUnauthorized}
		})

	require.ErrorIs(t, err, ErrReLoginRequired)
	// structurally at most one retry
	assert.Equal(t, 2, calls)
}

func TestWithTokenRefresh_nonAuthErrorsPassThrough(t *testing.T) {
	wantErr := &StatusError{StatusCode: http.StatusTooManyRequests}

	_, err := WithTokenRefresh(context.Background(), Auth{Token: "tok", Cookie: "c=1"},
		func(ctx context.Context, cookie string) (string, error) {
			t.Fatal("refresh should not run for non-auth errors")
			return "", nil
		},
		func(ctx context.Context, token string) (string, error) {
			return "", wantErr
		})

	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusTooManyRequests, statusErr.StatusCode)
}

func TestFetchCSRF(t *testing.T) {
	t.Run("returns token", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/auth/csrf", r.URL.Path)
			assert.Equal(t, "session_token=abc", r.Header.Get("Cookie"))
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"token":"csrf-123"}`))
		}))
		defer srv.Close()

		token := FetchCSRF(context.Background(), srv.Client(), Endpoints{Identity: srv.URL}, "session_token=abc")
		assert.Equal(t, "csrf-123", token)
	})

	t.Run("best effort on failure", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusForbidden)
		}))
		defer srv.Close()

		token := FetchCSRF(context.Background(), srv.Client(), Endpoints{Identity: srv.URL}, "c=1")
		assert.Empty(t, token)
	})
}
