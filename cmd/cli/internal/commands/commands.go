package commands

import (
	"context"
	"net/http"
	"time"

	"github.com/esimtools/esimgate/internal/activation"
	"github.com/esimtools/esimgate/internal/device"
	"github.com/esimtools/esimgate/internal/giffgaff"
	"github.com/esimtools/esimgate/internal/giffgaff/graphql"
	"github.com/esimtools/esimgate/internal/giffgaff/mfa"
	"github.com/esimtools/esimgate/internal/giffgaff/resolver"
	"github.com/esimtools/esimgate/internal/session"
)

type Globals struct {
	Debug   bool
	Version string
}

// CarrierFlags are shared by every command that talks to the carrier.
type CarrierFlags struct {
	IdentityURL string `help:"carrier identity base URL override" default:"" env:"ESIMGATE_IDENTITY_URL"`
	GatewayURL  string `help:"carrier GraphQL gateway URL override" default:"" env:"ESIMGATE_GATEWAY_URL"`
	WebURL      string `help:"carrier website base URL override" default:"" env:"ESIMGATE_WEB_URL"`

	SessionDir  string `help:"directory holding saved sessions" default:"" env:"ESIMGATE_SESSION_DIR"`
	SessionName string `help:"name of the session to use" default:"default" env:"ESIMGATE_SESSION_NAME"`
}

func (c *CarrierFlags) endpoints() giffgaff.Endpoints {
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
	return endpoints
}

func (c *CarrierFlags) store() (*session.Store, error) {
	return session.NewStore(c.SessionDir)
}

// carrier bundles the clients a command needs. The refresh hook resolves a
// fresh bearer from the session cookie when the carrier rejects the token.
type carrier struct {
	endpoints    giffgaff.Endpoints
	resolver     *resolver.Resolver
	mfa          *mfa.Client
	gateway      *graphql.Client
	orchestrator *activation.Orchestrator
}

func (c *CarrierFlags) carrier() *carrier {
	endpoints := c.endpoints()
	res := resolver.New(resolver.Config{Endpoints: endpoints})
	refresh := func(ctx context.Context, cookie string) (string, error) {
		out, err := res.Resolve(ctx, cookie)
		if err != nil {
			return "", err
		}
		return out.AccessToken, nil
	}

	// Load("") still applies the per-field environment overrides.
	profile, _ := device.Load("")

	httpClient := &http.Client{Timeout: 30 * time.Second}
	mfaClient := mfa.New(endpoints, httpClient, refresh)
	gateway := graphql.New(endpoints, httpClient, profile, refresh)
	web := activation.NewWebActivator(endpoints, httpClient)

	return &carrier{
		endpoints:    endpoints,
		resolver:     res,
		mfa:          mfaClient,
		gateway:      gateway,
		orchestrator: activation.NewOrchestrator(mfaClient, gateway, web),
	}
}
