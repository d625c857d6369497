// Package server wires the HTTP boundary: the edge guard, per-route rate
// limiting, and the JSON handlers fronting the resolver, MFA, GraphQL, OAuth
// and activation components.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/esimtools/esimgate/internal/activation"
	"github.com/esimtools/esimgate/internal/giffgaff"
	"github.com/esimtools/esimgate/internal/giffgaff/graphql"
	"github.com/esimtools/esimgate/internal/giffgaff/mfa"
	"github.com/esimtools/esimgate/internal/giffgaff/oauth"
	"github.com/esimtools/esimgate/internal/giffgaff/resolver"
	"github.com/esimtools/esimgate/internal/httpx"
	"github.com/esimtools/esimgate/internal/ratelimit"
)

// Config is the boundary policy: which browser origins may call the API and
// which shared key unlocks it. An empty AccessKey disables the key check; an
// empty origin list admits any origin.
type Config struct {
	AllowedOrigins []string
	AccessKey      string
}

// Server hosts the API routes.
type Server struct {
	cfg Config
	log *zerolog.Logger

	resolver     *resolver.Resolver
	mfa          *mfa.Client
	gateway      *graphql.Client
	oauth        oauth.Config
	orchestrator *activation.Orchestrator
	limiter      ratelimit.Limiter
}

func New(cfg Config, log *zerolog.Logger, res *resolver.Resolver, mfaClient *mfa.Client, gateway *graphql.Client, oauthCfg oauth.Config, orch *activation.Orchestrator, limiter ratelimit.Limiter) *Server {
	if limiter == nil {
		limiter = ratelimit.Unlimited{}
	}
	return &Server{
		cfg:          cfg,
		log:          log,
		resolver:     res,
		mfa:          mfaClient,
		gateway:      gateway,
		oauth:        oauthCfg,
		orchestrator: orch,
		limiter:      limiter,
	}
}

// Routes builds the API handler. Every route sits behind the edge guard;
// verify-cookie is additionally rate limited because it triggers outbound
// probes of the carrier website.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.Handle("/api/verify-cookie", s.rateLimited(s.guarded(s.handleVerifyCookie)))
	mux.Handle("/api/mfa/challenge", s.guarded(s.handleMFAChallenge))
	mux.Handle("/api/mfa/validation", s.guarded(s.handleMFAValidation))
	mux.Handle("/api/graphql", s.guarded(s.handleGraphQL))
	mux.Handle("/api/token-exchange", s.guarded(s.handleTokenExchange))
	mux.Handle("/api/activate/esim", s.guarded(s.handleActivateESim))
	mux.Handle("/api/activate/sms", s.guarded(s.handleActivateSMS))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	return httpx.ClientIPMiddleware()(mux)
}

// RefreshFunc adapts a resolver into the token-refresh hook the MFA and
// GraphQL clients accept, so a 401 with a stored cookie mints a fresh bearer.
func RefreshFunc(res *resolver.Resolver) giffgaff.RefreshFunc {
	return func(ctx context.Context, cookie string) (string, error) {
		out, err := res.Resolve(ctx, cookie)
		if err != nil {
			return "", err
		}
		return out.AccessToken, nil
	}
}

// carrierTimeout bounds each boundary request's carrier work. It exceeds the
// orchestrator's polling deadline so a pending result is returned, not a cut
// connection.
const carrierTimeout = 150 * time.Second
