// Package graphql is the client for the carrier's GraphQL gateway. It layers
// three policies over a plain POST: device-identity headers plus a fresh
// correlation id on sensitive mutations, an MFA signature emitted under every
// header-name variant the gateway has been observed to accept, and a single
// token-refresh retry on 401 when a cookie is available.
package graphql

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/esimtools/esimgate/internal/device"
	"github.com/esimtools/esimgate/internal/giffgaff"
	"github.com/esimtools/esimgate/internal/telemetry"
)

// Distinct error kinds for responses the user can act on.
var (
	ErrRateLimited = errors.New("graphql: carrier rate limited the request")
	ErrForbidden   = errors.New("graphql: carrier refused the request")
	ErrTimeout     = errors.New("graphql: carrier request timed out")
)

// sensitiveOps name the mutations that require the full device-identity
// header set. Matched as substrings of the operation name or query text.
var sensitiveOps = []string{"reserveESim", "swapSim", "eSimDownloadToken"}

// Header compatibility sets for the MFA signature and challenge ref.
// Different gateway versions read different casings, so every variant is
// emitted with the identical value. Assigned directly on the header map to
// defeat Go's canonicalization.
var (
	mfaSignatureHeaders = []string{
		"X-MFA-Signature",
		"x-mfa-signature",
		"X-GG-MFA-SIGNATURE",
		"x-gg-mfa-signature",
	}
	mfaRefHeaders = []string{
		"X-GG-MFA-REF",
		"x-gg-mfa-ref",
		"X-MFA-REF",
		"x-mfa-ref",
	}
)

// Request is one GraphQL operation. MFARef rides along as headers only, for
// passthrough callers that hold a challenge ref alongside the signature.
type Request struct {
	Query         string         `json:"query"`
	Variables     map[string]any `json:"variables,omitempty"`
	OperationName string         `json:"operationName,omitempty"`

	MFARef string `json:"-"`
}

// GraphQLError is an HTTP 200 response carrying an errors array. Partial data
// under errors is never silently returned.
type GraphQLError struct {
	Errors []ErrorEntry
}

type ErrorEntry struct {
	Message    string         `json:"message"`
	Path       []any          `json:"path,omitempty"`
	Extensions map[string]any `json:"extensions,omitempty"`
}

func (e *GraphQLError) Error() string {
	if len(e.Errors) == 0 {
		return "graphql: operation failed"
	}
	return fmt.Sprintf("graphql: %s", e.Errors[0].Message)
}

// Client issues operations against the carrier gateway.
type Client struct {
	endpoints giffgaff.Endpoints
	http      *http.Client
	device    device.Profile
	refresh   giffgaff.RefreshFunc

	// newRequestID is swapped in tests.
	newRequestID func() string
}

// New builds a client. refresh may be nil, disabling the 401 retry path.
func New(endpoints giffgaff.Endpoints, httpClient *http.Client, profile device.Profile, refresh giffgaff.RefreshFunc) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{
		endpoints:    endpoints,
		http:         httpClient,
		device:       profile,
		refresh:      refresh,
		newRequestID: uuid.NewString,
	}
}

// Do executes req and returns the data payload. mfaSignature may be empty for
// non-sensitive operations. On a 401 invalid-token response with a cookie
// available the token is refreshed once via the resolver and the operation
// retried; a second rejection surfaces as ErrReLoginRequired.
func (c *Client) Do(ctx context.Context, auth giffgaff.Auth, req Request, mfaSignature string) (json.RawMessage, error) {
	return giffgaff.WithTokenRefresh(ctx, auth, c.refresh, func(ctx context.Context, token string) (json.RawMessage, error) {
		return c.do(ctx, token, req, mfaSignature)
	})
}

func (c *Client) do(ctx context.Context, token string, req Request, mfaSignature string) (json.RawMessage, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoints.Gateway, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}

	giffgaff.BrowserHeaders(httpReq.Header)
	httpReq.Header.Set("Content-Type", "application/json")
	if token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+token)
	}

	if isSensitive(req) {
		c.device.Apply(httpReq.Header)
		httpReq.Header.Set("X-Request-Id", c.newRequestID())
	}

	if mfaSignature != "" {
		for _, name := range mfaSignatureHeaders {
			httpReq.Header[name] = []string{mfaSignature}
		}
	}
	if req.MFARef != "" {
		for _, name := range mfaRefHeaders {
			httpReq.Header[name] = []string{req.MFARef}
		}
	}

	zerolog.Ctx(ctx).Debug().
		Str("operation", req.OperationName).
		Bool("sensitive", isSensitive(req)).
		Msg("gateway call")

	telemetry.GetMetrics().CarrierCallsTotal.Add(ctx, 1)
	resp, err := c.http.Do(httpReq)
	if err != nil {
		telemetry.GetMetrics().CarrierCallErrorsTotal.Add(ctx, 1)
		if isTimeout(err) {
			return nil, fmt.Errorf("%w: %v", ErrTimeout, err)
		}
		return nil, fmt.Errorf("gateway request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, err
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, fmt.Errorf("%w: %s", ErrRateLimited, strings.TrimSpace(string(respBody)))
	case resp.StatusCode == http.StatusForbidden:
		return nil, fmt.Errorf("%w: %s", ErrForbidden, strings.TrimSpace(string(respBody)))
	case resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices:
		return nil, &giffgaff.StatusError{StatusCode: resp.StatusCode, Body: respBody}
	}

	var envelope struct {
		Data   json.RawMessage `json:"data"`
		Errors []ErrorEntry    `json:"errors"`
	}
	if err := json.Unmarshal(respBody, &envelope); err != nil {
		return nil, fmt.Errorf("gateway returned malformed JSON: %w", err)
	}
	if len(envelope.Errors) > 0 {
		return nil, &GraphQLError{Errors: envelope.Errors}
	}
	return envelope.Data, nil
}

func isSensitive(req Request) bool {
	for _, op := range sensitiveOps {
		if strings.Contains(req.OperationName, op) || strings.Contains(req.Query, op) {
			return true
		}
	}
	return false
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
