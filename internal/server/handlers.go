package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/esimtools/esimgate/internal/activation"
	"github.com/esimtools/esimgate/internal/apierr"
	"github.com/esimtools/esimgate/internal/giffgaff"
	"github.com/esimtools/esimgate/internal/giffgaff/graphql"
	"github.com/esimtools/esimgate/internal/giffgaff/mfa"
	"github.com/esimtools/esimgate/internal/giffgaff/resolver"
	"github.com/esimtools/esimgate/internal/telemetry"
)

func decodeJSON(r *http.Request, out any) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return apierr.BadRequest("unreadable request body")
	}
	if len(body) == 0 {
		return apierr.BadRequest("request body is required")
	}
	if err := json.Unmarshal(body, out); err != nil {
		return apierr.BadRequest("invalid JSON body")
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func (s *Server) handleVerifyCookie(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Cookie string `json:"cookie"`
	}
	if err := decodeJSON(r, &req); err != nil {
		apierr.WriteJSON(s.log, w, err)
		return
	}
	if strings.TrimSpace(req.Cookie) == "" {
		apierr.WriteJSON(s.log, w, apierr.BadRequest("cookie is required"))
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), carrierTimeout)
	defer cancel()

	out, err := s.resolver.Resolve(ctx, req.Cookie)
	if err != nil {
		if errors.Is(err, resolver.ErrNoSession) {
			apierr.WriteJSON(s.log, w, apierr.Unauthorized("Cookie is not a valid session").WithReLogin())
			return
		}
		apierr.WriteJSON(s.log, w, apierr.Upstream(http.StatusBadGateway, "Cookie Verification Failed", err.Error()))
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success":     true,
		"accessToken": out.AccessToken,
		"memberId":    out.MemberID,
		"derived":     out.Derived,
	})
}

func (s *Server) handleMFAChallenge(w http.ResponseWriter, r *http.Request) {
	var req struct {
		AccessToken       string   `json:"accessToken"`
		Cookie            string   `json:"cookie"`
		Source            string   `json:"source"`
		PreferredChannels []string `json:"preferredChannels"`
	}
	if err := decodeJSON(r, &req); err != nil {
		apierr.WriteJSON(s.log, w, err)
		return
	}
	if req.AccessToken == "" && req.Cookie == "" {
		apierr.WriteJSON(s.log, w, apierr.BadRequest("accessToken or cookie is required"))
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), carrierTimeout)
	defer cancel()

	auth := giffgaff.Auth{Token: req.AccessToken, Cookie: req.Cookie}
	out, err := s.mfa.Challenge(ctx, auth, req.Source, req.PreferredChannels)
	if err != nil {
		apierr.WriteJSON(s.log, w, carrierError(err, "MFA Challenge Failed"))
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"ref":     out.Ref,
		"methods": out.Methods,
	})
}

func (s *Server) handleMFAValidation(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Ref         string `json:"ref"`
		Code        string `json:"code"`
		AccessToken string `json:"accessToken"`
		Cookie      string `json:"cookie"`
	}
	if err := decodeJSON(r, &req); err != nil {
		apierr.WriteJSON(s.log, w, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), carrierTimeout)
	defer cancel()

	auth := giffgaff.Auth{Token: req.AccessToken, Cookie: req.Cookie}
	sig, err := s.mfa.Validate(ctx, auth, req.Ref, req.Code)
	if err != nil {
		apierr.WriteJSON(s.log, w, carrierError(err, "MFA Validation Failed"))
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success":   true,
		"signature": sig.Value,
	})
}

func (s *Server) handleGraphQL(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Query         string         `json:"query"`
		Variables     map[string]any `json:"variables"`
		OperationName string         `json:"operationName"`
		AccessToken   string         `json:"accessToken"`
		Cookie        string         `json:"cookie"`
		MFASignature  string         `json:"mfaSignature"`
		MFARef        string         `json:"mfaRef"`
	}
	if err := decodeJSON(r, &req); err != nil {
		apierr.WriteJSON(s.log, w, err)
		return
	}
	if req.Query == "" {
		apierr.WriteJSON(s.log, w, apierr.BadRequest("query is required"))
		return
	}

	// A bearer in the Authorization header is accepted as a fallback so
	// generic GraphQL tooling works without repacking the body.
	token := req.AccessToken
	if token == "" {
		if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
			token = strings.TrimPrefix(h, "Bearer ")
		}
	}
	if token == "" {
		apierr.WriteJSON(s.log, w, apierr.Unauthorized("accessToken is required"))
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), carrierTimeout)
	defer cancel()

	auth := giffgaff.Auth{Token: token, Cookie: req.Cookie}
	gqlReq := graphql.Request{
		Query:         req.Query,
		Variables:     req.Variables,
		OperationName: req.OperationName,
		MFARef:        req.MFARef,
	}
	data, err := s.gateway.Do(ctx, auth, gqlReq, req.MFASignature)
	if err != nil {
		var gqlErr *graphql.GraphQLError
		if errors.As(err, &gqlErr) {
			// GraphQL-level errors stay a 200 envelope like the
			// gateway itself returns them.
			writeJSON(w, http.StatusOK, map[string]any{"errors": gqlErr.Errors})
			return
		}
		apierr.WriteJSON(s.log, w, carrierError(err, "GraphQL Request Failed"))
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"data": data})
}

func (s *Server) handleTokenExchange(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Code         string `json:"code"`
		CodeVerifier string `json:"code_verifier"`
		RedirectURI  string `json:"redirect_uri"`
	}
	if err := decodeJSON(r, &req); err != nil {
		apierr.WriteJSON(s.log, w, err)
		return
	}
	if req.Code == "" || req.CodeVerifier == "" {
		apierr.WriteJSON(s.log, w, apierr.BadRequest("code and code_verifier are required"))
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), carrierTimeout)
	defer cancel()

	cfg := s.oauth
	if req.RedirectURI != "" {
		cfg.RedirectURI = req.RedirectURI
	}
	tok, err := cfg.Exchange(ctx, req.Code, req.CodeVerifier)
	if err != nil {
		apierr.WriteJSON(s.log, w, apierr.Upstream(http.StatusBadGateway, "Token Exchange Failed", err.Error()))
		return
	}
	telemetry.GetMetrics().TokenRefreshesTotal.Add(ctx, 1)

	writeJSON(w, http.StatusOK, map[string]any{
		"access_token":  tok.AccessToken,
		"token_type":    tok.TokenType,
		"refresh_token": tok.RefreshToken,
		"expires_in":    tok.ExpiresIn,
	})
}

func (s *Server) handleActivateESim(w http.ResponseWriter, r *http.Request) {
	s.runActivation(w, r, s.orchestrator.Activate)
}

func (s *Server) handleActivateSMS(w http.ResponseWriter, r *http.Request) {
	s.runActivation(w, r, s.orchestrator.ActivateSMS)
}

func (s *Server) runActivation(w http.ResponseWriter, r *http.Request, run func(context.Context, activation.Input) (*activation.Result, error)) {
	var in activation.Input
	if err := decodeJSON(r, &in); err != nil {
		apierr.WriteJSON(s.log, w, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), carrierTimeout)
	defer cancel()

	started := time.Now()
	telemetry.GetMetrics().ActivationRunsTotal.Add(ctx, 1)
	out, err := run(ctx, in)
	telemetry.GetMetrics().ActivationDuration.Record(ctx, float64(time.Since(started).Milliseconds()))
	if err != nil {
		apierr.WriteJSON(s.log, w, err)
		return
	}

	status := http.StatusOK
	if out.Pending {
		status = http.StatusAccepted
		telemetry.GetMetrics().ActivationPendingTotal.Add(ctx, 1)
	} else if out.Success {
		telemetry.GetMetrics().ActivationSuccessTotal.Add(ctx, 1)
	}
	writeJSON(w, status, out)
}

// carrierError maps carrier client failures onto the boundary taxonomy,
// preserving a re-login signal when the stored credentials are spent.
func carrierError(err error, tag string) *apierr.Error {
	switch {
	case errors.Is(err, giffgaff.ErrReLoginRequired):
		return apierr.Unauthorized("session expired, log in again").WithReLogin()
	case errors.Is(err, graphql.ErrRateLimited):
		return apierr.TooManyRequests("carrier rate limit hit, wait before retrying")
	case errors.Is(err, graphql.ErrForbidden):
		return apierr.Forbidden("carrier rejected the request")
	case errors.Is(err, graphql.ErrTimeout):
		return apierr.Timeout("carrier did not respond in time")
	case errors.Is(err, mfa.ErrBadRequest):
		return apierr.BadRequest("ref and code are required")
	}
	var statusErr *giffgaff.StatusError
	if errors.As(err, &statusErr) {
		return apierr.Upstream(statusErr.StatusCode, tag, statusErr.Details())
	}
	return apierr.Upstream(http.StatusBadGateway, tag, err.Error())
}
