// Package activation drives the end-to-end eSIM activation run: MFA
// validation, member resolution, reservation, a best-effort SIM swap or web
// activation, then polling the carrier until the LPA download string appears
// or the deadline passes.
package activation

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog"

	"github.com/esimtools/esimgate/internal/apierr"
	"github.com/esimtools/esimgate/internal/giffgaff"
	"github.com/esimtools/esimgate/internal/giffgaff/graphql"
	"github.com/esimtools/esimgate/internal/giffgaff/mfa"
	"github.com/esimtools/esimgate/internal/telemetry"
)

const (
	defaultPollInterval = 4 * time.Second
	defaultPollDeadline = 120 * time.Second
)

// Carrier GraphQL documents, kept verbatim from the gateway's observed shapes.
const (
	memberProfileQuery = `query getMemberProfileAndSim { memberProfile { id } sim { status } }`

	reserveMutation = `mutation reserveESim($input: ESimReservationInput!) { reserveESim: reserveESim(input: $input) { id memberId status esim { ssn activationCode deliveryStatus __typename } __typename } }`

	swapChallengeMutation = `mutation simSwapMfaChallenge { simSwapMfaChallenge { ref __typename } }`

	swapMutation = `mutation swapSim($input: SimSwapInput!) { swapSim(input: $input) { status __typename } }`

	downloadTokenQuery = `query eSimDownloadToken($ssn: String!) { eSimDownloadToken(ssn: $ssn) { id host matchingId lpaString __typename } }`
)

// Input carries everything one run needs. Ref and Code are mandatory;
// MemberID, SSN and ActivationCode short-circuit their acquisition steps when
// already known from an earlier attempt.
type Input struct {
	Ref            string `json:"ref"`
	Code           string `json:"code"`
	AccessToken    string `json:"accessToken,omitempty"`
	Cookie         string `json:"cookie,omitempty"`
	MemberID       string `json:"memberId,omitempty"`
	SSN            string `json:"ssn,omitempty"`
	ActivationCode string `json:"activationCode,omitempty"`
}

func (in Input) auth() giffgaff.Auth {
	return giffgaff.Auth{Token: in.AccessToken, Cookie: in.Cookie}
}

// Result is the run outcome. Pending means the run was submitted but the LPA
// string was not ready within the polling deadline; the caller should retry
// the download-token step later with the same SSN.
type Result struct {
	Success        bool            `json:"success"`
	Pending        bool            `json:"pending,omitempty"`
	LPAString      string          `json:"lpaString,omitempty"`
	Token          json.RawMessage `json:"token,omitempty"`
	SSN            string          `json:"ssn,omitempty"`
	ActivationCode string          `json:"activationCode,omitempty"`
	MemberID       string          `json:"memberId,omitempty"`
	Message        string          `json:"message,omitempty"`
}

// Orchestrator sequences one activation run. Steps before polling are
// strictly sequential; carrier-mutating calls are never issued concurrently.
type Orchestrator struct {
	mfa     *mfa.Client
	gateway *graphql.Client
	web     *WebActivator

	// Poll cadence, overridable in tests.
	PollInterval time.Duration
	PollDeadline time.Duration
}

func NewOrchestrator(mfaClient *mfa.Client, gateway *graphql.Client, web *WebActivator) *Orchestrator {
	return &Orchestrator{
		mfa:          mfaClient,
		gateway:      gateway,
		web:          web,
		PollInterval: defaultPollInterval,
		PollDeadline: defaultPollDeadline,
	}
}

// Activate runs the app-channel flow: after reservation it attempts a SIM
// swap guarded by a swap-scoped MFA ref, then polls for the LPA string.
func (o *Orchestrator) Activate(ctx context.Context, in Input) (*Result, error) {
	sig, st, err := o.prepare(ctx, in)
	if err != nil {
		return nil, err
	}

	o.trySwap(ctx, in, st, sig)

	return o.poll(ctx, in, st)
}

// ActivateSMS runs the web-channel flow: after reservation it performs the
// website activation for the reserved code, then polls for the LPA string.
func (o *Orchestrator) ActivateSMS(ctx context.Context, in Input) (*Result, error) {
	_, st, err := o.prepare(ctx, in)
	if err != nil {
		return nil, err
	}

	if st.activationCode == "" {
		return nil, apierr.New(http.StatusBadRequest, "ActivationCodeMissing", "no activation code available for web activation")
	}
	if err := o.web.Activate(ctx, st.activationCode, in.Cookie); err != nil {
		return nil, apierr.Upstream(http.StatusInternalServerError, "AutoActivateFailed", err.Error())
	}

	return o.poll(ctx, in, st)
}

// runState accumulates the artifacts of the sequential steps.
type runState struct {
	memberID       string
	ssn            string
	activationCode string
}

// prepare performs MFA validation, member resolution and reservation. Each
// step short-circuits to a typed error on failure.
func (o *Orchestrator) prepare(ctx context.Context, in Input) (string, *runState, error) {
	if in.Ref == "" || in.Code == "" {
		return "", nil, apierr.BadRequest("ref and code are required")
	}

	log := zerolog.Ctx(ctx)
	auth := in.auth()

	sig, err := o.mfa.Validate(ctx, auth, in.Ref, in.Code)
	if err != nil {
		return "", nil, mfaValidationError(err)
	}

	st := &runState{
		memberID:       in.MemberID,
		ssn:            in.SSN,
		activationCode: in.ActivationCode,
	}

	if st.memberID == "" {
		data, err := o.gateway.Do(ctx, auth, graphql.Request{
			Query:         memberProfileQuery,
			Variables:     map[string]any{},
			OperationName: "getMemberProfileAndSim",
		}, "")
		if err != nil {
			return "", nil, upstreamError(err, "MemberIdMissing")
		}
		var out struct {
			MemberProfile struct {
				ID string `json:"id"`
			} `json:"memberProfile"`
		}
		if err := json.Unmarshal(data, &out); err != nil || out.MemberProfile.ID == "" {
			return "", nil, apierr.New(http.StatusBadRequest, "MemberIdMissing", "could not resolve member id")
		}
		st.memberID = out.MemberProfile.ID
	}

	if st.ssn == "" || st.activationCode == "" {
		data, err := o.gateway.Do(ctx, auth, graphql.Request{
			Query: reserveMutation,
			Variables: map[string]any{
				"input": map[string]any{
					"memberId":   st.memberID,
					"userIntent": "SWITCH",
				},
			},
			OperationName: "reserveESim",
		}, sig.Value)
		if err != nil {
			return "", nil, upstreamError(err, "ReserveFailed")
		}
		var out struct {
			ReserveESim struct {
				ESim struct {
					SSN            string `json:"ssn"`
					ActivationCode string `json:"activationCode"`
				} `json:"esim"`
			} `json:"reserveESim"`
		}
		if err := json.Unmarshal(data, &out); err != nil || out.ReserveESim.ESim.SSN == "" {
			return "", nil, apierr.Upstream(http.StatusInternalServerError, "ReserveFailed", string(data))
		}
		st.ssn = out.ReserveESim.ESim.SSN
		st.activationCode = out.ReserveESim.ESim.ActivationCode
		log.Info().Str("member_id", st.memberID).Msg("esim reserved")
	}

	return sig.Value, st, nil
}

// trySwap is best-effort: a swap-scoped MFA ref is preferred, the run's
// original ref is the fallback, and any failure is swallowed because some
// carrier flows complete the swap asynchronously server-side.
func (o *Orchestrator) trySwap(ctx context.Context, in Input, st *runState, sig string) {
	log := zerolog.Ctx(ctx)
	auth := in.auth()

	ref := in.Ref
	data, err := o.gateway.Do(ctx, auth, graphql.Request{
		Query:         swapChallengeMutation,
		Variables:     map[string]any{},
		OperationName: "simSwapMfaChallenge",
	}, sig)
	if err == nil {
		var out struct {
			SimSwapMfaChallenge struct {
				Ref string `json:"ref"`
			} `json:"simSwapMfaChallenge"`
		}
		if json.Unmarshal(data, &out) == nil && out.SimSwapMfaChallenge.Ref != "" {
			ref = out.SimSwapMfaChallenge.Ref
		}
	} else {
		log.Warn().Err(err).Msg("swap challenge failed, reusing original ref")
	}

	_, err = o.gateway.Do(ctx, auth, graphql.Request{
		Query: swapMutation,
		Variables: map[string]any{
			"input": map[string]any{
				"memberId":       st.memberID,
				"ssn":            st.ssn,
				"activationCode": st.activationCode,
				"mfaRef":         ref,
			},
		},
		OperationName: "swapSim",
	}, sig)
	if err != nil {
		log.Warn().Err(err).Msg("sim swap failed, continuing to polling")
	}
}

// poll queries the download-token endpoint at a fixed interval until the LPA
// string appears or the wall-clock deadline elapses. Transient errors are
// swallowed. On deadline the run is reported pending, not failed.
func (o *Orchestrator) poll(ctx context.Context, in Input, st *runState) (*Result, error) {
	auth := in.auth()

	type tokenResult struct {
		raw json.RawMessage
		lpa string
	}

	operation := func() (tokenResult, error) {
		telemetry.GetMetrics().DownloadTokenPollsTotal.Add(ctx, 1)
		data, err := o.gateway.Do(ctx, auth, graphql.Request{
			Query:         downloadTokenQuery,
			Variables:     map[string]any{"ssn": st.ssn},
			OperationName: "eSimDownloadToken",
		}, "")
		if err != nil {
			return tokenResult{}, err
		}
		var envelope struct {
			Token json.RawMessage `json:"eSimDownloadToken"`
		}
		if err := json.Unmarshal(data, &envelope); err != nil {
			return tokenResult{}, err
		}
		var tok struct {
			LPAString string `json:"lpaString"`
		}
		if err := json.Unmarshal(envelope.Token, &tok); err != nil || tok.LPAString == "" {
			return tokenResult{}, errors.New("lpa string not ready")
		}
		return tokenResult{raw: envelope.Token, lpa: tok.LPAString}, nil
	}

	tok, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(backoff.NewConstantBackOff(o.PollInterval)),
		backoff.WithMaxElapsedTime(o.PollDeadline),
	)
	if err != nil {
		zerolog.Ctx(ctx).Info().Str("ssn", st.ssn).Msg("lpa not ready within deadline, returning pending")
		return &Result{
			Pending:        true,
			SSN:            st.ssn,
			ActivationCode: st.activationCode,
			MemberID:       st.memberID,
			Message:        "activation submitted, LPA string not ready yet; retry the download-token step shortly",
		}, nil
	}

	return &Result{
		Success:        true,
		LPAString:      tok.lpa,
		Token:          tok.raw,
		SSN:            st.ssn,
		ActivationCode: st.activationCode,
		MemberID:       st.memberID,
	}, nil
}

func mfaValidationError(err error) error {
	if errors.Is(err, mfa.ErrBadRequest) {
		return apierr.BadRequest(err.Error())
	}
	if errors.Is(err, giffgaff.ErrReLoginRequired) {
		return apierr.Unauthorized("carrier session expired, please log in again").WithReLogin()
	}
	var statusErr *giffgaff.StatusError
	if errors.As(err, &statusErr) {
		return apierr.Upstream(statusErr.StatusCode, "MFA Validation Failed", statusErr.Details())
	}
	return apierr.Upstream(http.StatusInternalServerError, "MFA Validation Failed", err.Error())
}

func upstreamError(err error, tag string) error {
	switch {
	case errors.Is(err, giffgaff.ErrReLoginRequired):
		return apierr.Unauthorized("carrier session expired, please log in again").WithReLogin()
	case errors.Is(err, graphql.ErrRateLimited):
		return apierr.TooManyRequests("carrier rate limited the request, retry shortly")
	case errors.Is(err, graphql.ErrForbidden):
		return apierr.Forbidden("carrier refused the request")
	case errors.Is(err, graphql.ErrTimeout):
		return apierr.Timeout("carrier request timed out")
	}
	var gqlErr *graphql.GraphQLError
	if errors.As(err, &gqlErr) {
		return apierr.Upstream(http.StatusInternalServerError, tag, gqlErr.Errors)
	}
	var statusErr *giffgaff.StatusError
	if errors.As(err, &statusErr) {
		return apierr.Upstream(statusErr.StatusCode, tag, statusErr.Details())
	}
	return apierr.Upstream(http.StatusInternalServerError, tag, err.Error())
}
