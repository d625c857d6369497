package apierr

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrom(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantTag    string
	}{
		{
			name:       "passes through typed errors",
			err:        BadRequest("missing field"),
			wantStatus: http.StatusBadRequest,
			wantTag:    "Bad Request",
		},
		{
			name:       "wrapped typed error is unwrapped",
			err:        errors.Join(errors.New("outer"), Unauthorized("no")),
			wantStatus: http.StatusUnauthorized,
			wantTag:    "Unauthorized",
		},
		{
			name:       "unknown errors become internal",
			err:        errors.New("boom"),
			wantStatus: http.StatusInternalServerError,
			wantTag:    "Internal Server Error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := From(tt.err)
			assert.Equal(t, tt.wantStatus, got.Status)
			assert.Equal(t, tt.wantTag, got.Tag)
		})
	}
}

func TestUpstream_statusFloor(t *testing.T) {
	// Upstream errors with a success-range status still surface as failures.
	err := Upstream(http.StatusOK, "ReserveFailed", "no esim in response")
	assert.Equal(t, http.StatusBadGateway, err.Status)
	assert.Equal(t, "ReserveFailed", err.Tag)

	err = Upstream(http.StatusForbidden, "MFA Validation Failed", "denied")
	assert.Equal(t, http.StatusForbidden, err.Status)
}

func TestWriteJSON(t *testing.T) {
	log := zerolog.Nop()
	rec := httptest.NewRecorder()

	WriteJSON(&log, rec, New(http.StatusBadRequest, "MemberIdMissing", "could not resolve member id").WithReLogin())

	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var body struct {
		Error       string `json:"error"`
		Message     string `json:"message"`
		NeedReLogin bool   `json:"needReLogin"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "MemberIdMissing", body.Error)
	assert.Equal(t, "could not resolve member id", body.Message)
	assert.True(t, body.NeedReLogin)
}
