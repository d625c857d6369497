package commands

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/cors"

	"github.com/esimtools/esimgate/internal/activation"
	"github.com/esimtools/esimgate/internal/device"
	"github.com/esimtools/esimgate/internal/giffgaff"
	"github.com/esimtools/esimgate/internal/giffgaff/graphql"
	"github.com/esimtools/esimgate/internal/giffgaff/mfa"
	"github.com/esimtools/esimgate/internal/giffgaff/oauth"
	"github.com/esimtools/esimgate/internal/giffgaff/resolver"
	"github.com/esimtools/esimgate/internal/logger"
	"github.com/esimtools/esimgate/internal/ratelimit"
	"github.com/esimtools/esimgate/internal/server"
	"github.com/esimtools/esimgate/internal/telemetry"
)

type ServerCmd struct {
	Listen string `help:"HTTP server listen address" default:"0.0.0.0:8080" env:"ESIMGATE_LISTEN"`

	// Edge guard configuration
	CORSOrigins []string `help:"allowed CORS origins for API requests" env:"ESIMGATE_CORS_ORIGINS"`
	AccessKey   string   `help:"shared access key required on API requests (empty disables the check)" env:"ESIMGATE_ACCESS_KEY"`

	// Carrier OAuth configuration
	ClientID     string `help:"carrier OAuth client ID" env:"ESIMGATE_CLIENT_ID"`
	ClientSecret string `help:"carrier OAuth client secret" env:"ESIMGATE_CLIENT_SECRET"`
	RedirectURI  string `help:"carrier OAuth redirect URI" default:"giffgaff://auth/callback/" env:"ESIMGATE_REDIRECT_URI"`

	// Carrier endpoint overrides, for testing against a stub
	IdentityURL string `help:"carrier identity base URL override" default:"" env:"ESIMGATE_IDENTITY_URL"`
	GatewayURL  string `help:"carrier GraphQL gateway URL override" default:"" env:"ESIMGATE_GATEWAY_URL"`
	WebURL      string `help:"carrier website base URL override" default:"" env:"ESIMGATE_WEB_URL"`

	DeviceProfile string `help:"path to a YAML device-identity profile" default:"" env:"ESIMGATE_DEVICE_PROFILE"`

	ResolverSecret string `help:"signing secret for derived fallback tokens" default:"" env:"ESIMGATE_RESOLVER_SECRET"`

	// verify-cookie rate limiting
	RateLimit       int           `help:"max verify-cookie calls per client IP per window (0 disables)" default:"5" env:"ESIMGATE_RATE_LIMIT"`
	RateLimitWindow time.Duration `help:"verify-cookie rate limit window" default:"1m" env:"ESIMGATE_RATE_LIMIT_WINDOW"`

	Tracing bool `help:"enable tracing" default:"false" env:"ESIMGATE_TRACING"`
}

func (c *ServerCmd) Run(globals *Globals) error {
	log := logger.Setup(globals.Debug)
	ctx := context.Background()

	log.Info().Str("version", globals.Version).Bool("debug", globals.Debug).Msg("Starting server")

	if c.Tracing {
		log.Info().Msg("Tracing is enabled")
		shutdown, err := telemetry.InitTelemetry(ctx, "esimgate-server", globals.Version)
		if err != nil {
			log.Warn().Err(err).Msg("Failed to initialize telemetry, continuing without metrics")
			shutdown = func(ctx context.Context) error { return nil }
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdown(shutdownCtx); err != nil {
				log.Error().Err(err).Msg("Failed to shutdown telemetry")
			}
		}()
	}

	endpoints := giffgaff.DefaultEndpoints()
	if c.IdentityURL != "" {
		endpoints.Identity = c.IdentityURL
	}
	if c.GatewayURL != "" {
		endpoints.Gateway = c.GatewayURL
	}
	if c.WebURL != "" {
		endpoints.Web = c.WebURL
	}

	profile, err := device.Load(c.DeviceProfile)
	if err != nil {
		return fmt.Errorf("failed to load device profile: %w", err)
	}
	if c.DeviceProfile != "" {
		log.Info().Str("path", c.DeviceProfile).Msg("Loaded device profile")
	}

	res := resolver.New(resolver.Config{
		Endpoints: endpoints,
		Secret:    []byte(c.ResolverSecret),
	})
	refresh := server.RefreshFunc(res)

	httpClient := &http.Client{Timeout: 30 * time.Second}
	mfaClient := mfa.New(endpoints, httpClient, refresh)
	gateway := graphql.New(endpoints, httpClient, profile, refresh)
	web := activation.NewWebActivator(endpoints, httpClient)
	orch := activation.NewOrchestrator(mfaClient, gateway, web)

	oauthCfg := oauth.Config{
		ClientID:     c.ClientID,
		ClientSecret: oauth.NormalizeSecret(c.ClientSecret),
		RedirectURI:  c.RedirectURI,
		Endpoints:    endpoints,
	}

	var limiter ratelimit.Limiter
	if c.RateLimit > 0 {
		limiter = ratelimit.NewSlidingWindow(c.RateLimit, c.RateLimitWindow)
	}

	srv := server.New(server.Config{
		AllowedOrigins: c.CORSOrigins,
		AccessKey:      c.AccessKey,
	}, &log, res, mfaClient, gateway, oauthCfg, orch, limiter)

	handler := logger.HTTPRequests(log)(withCORS(c.CORSOrigins, srv.Routes()))

	log.Info().Str("addr", c.Listen).Bool("access_key", c.AccessKey != "").Msg("Starting HTTP server")
	return configureHTTPServer(c.Listen, handler).ListenAndServe()
}

// withCORS adds CORS support for browser callers of the API.
func withCORS(allowedOrigins []string, h http.Handler) http.Handler {
	middleware := cors.New(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Authorization", "Content-Type", "x-esim-key", "x-app-key"},
		AllowCredentials: true, // Required for cookie-based authentication
	})
	return middleware.Handler(h)
}
