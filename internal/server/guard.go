package server

import (
	"bytes"
	"crypto/subtle"
	"encoding/json"
	"io"
	"net/http"
	"slices"

	"github.com/esimtools/esimgate/internal/apierr"
	"github.com/esimtools/esimgate/internal/httpx"
	"github.com/esimtools/esimgate/internal/telemetry"
)

// maxBodyBytes caps request bodies before JSON decoding.
const maxBodyBytes = 1 << 20

// guarded enforces method, origin and access-key policy around next. Requests
// with no Origin header are server-to-server calls and pass the origin check.
func (s *Server) guarded(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		if r.Method != http.MethodPost {
			apierr.WriteJSON(s.log, w, apierr.MethodNotAllowed())
			return
		}

		if origin := r.Header.Get("Origin"); origin != "" && len(s.cfg.AllowedOrigins) > 0 {
			if !slices.Contains(s.cfg.AllowedOrigins, origin) {
				telemetry.GetMetrics().GuardRejectionsTotal.Add(r.Context(), 1)
				apierr.WriteJSON(s.log, w, apierr.Forbidden("Origin not allowed"))
				return
			}
		}

		if s.cfg.AccessKey != "" {
			provided := s.providedKey(r)
			if subtle.ConstantTimeCompare([]byte(provided), []byte(s.cfg.AccessKey)) != 1 {
				telemetry.GetMetrics().GuardRejectionsTotal.Add(r.Context(), 1)
				apierr.WriteJSON(s.log, w, apierr.Unauthorized("Missing or invalid auth key"))
				return
			}
		}

		next(w, r)
	})
}

// providedKey extracts the caller's access key from headers, then the body,
// then the query string. The body is re-attached so handlers can decode it.
func (s *Server) providedKey(r *http.Request) string {
	if key := r.Header.Get("x-esim-key"); key != "" {
		return key
	}
	if key := r.Header.Get("x-app-key"); key != "" {
		return key
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err == nil {
		r.Body = io.NopCloser(bytes.NewReader(body))
		var peek struct {
			AuthKey string `json:"authKey"`
		}
		if json.Unmarshal(body, &peek) == nil && peek.AuthKey != "" {
			return peek.AuthKey
		}
	}

	return r.URL.Query().Get("authKey")
}

// rateLimited rejects callers exceeding the per-IP allowance with 429.
func (s *Server) rateLimited(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := httpx.ClientIPFromContext(r.Context())
		if ip == "" {
			ip = httpx.ExtractClientIP(r)
		}
		if !s.limiter.Allow(ip) {
			telemetry.GetMetrics().RateLimitRejectionsTotal.Add(r.Context(), 1)
			apierr.WriteJSON(s.log, w, apierr.TooManyRequests("too many attempts, slow down"))
			return
		}
		next.ServeHTTP(w, r)
	})
}
