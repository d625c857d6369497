package commands

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/esimtools/esimgate/internal/giffgaff/oauth"
	"github.com/esimtools/esimgate/internal/session"
)

type LoginCmd struct {
	CarrierFlags `embed:""`

	ClientID     string `help:"carrier OAuth client ID" env:"ESIMGATE_CLIENT_ID"`
	ClientSecret string `help:"carrier OAuth client secret" env:"ESIMGATE_CLIENT_SECRET"`
	RedirectURI  string `help:"carrier OAuth redirect URI" default:"giffgaff://auth/callback/" env:"ESIMGATE_REDIRECT_URI"`

	Cookie string `help:"log in with a browser session cookie instead of the OAuth flow" default:""`
}

func (l *LoginCmd) Run(ctx context.Context) error {
	store, err := l.store()
	if err != nil {
		return err
	}

	if l.Cookie != "" {
		return l.loginWithCookie(ctx, store)
	}

	if l.ClientID == "" {
		return fmt.Errorf("client ID is required (--client-id or ESIMGATE_CLIENT_ID)")
	}

	cfg := oauth.Config{
		ClientID:     l.ClientID,
		ClientSecret: oauth.NormalizeSecret(l.ClientSecret),
		RedirectURI:  l.RedirectURI,
		Endpoints:    l.endpoints(),
	}

	pkce := oauth.NewPKCE()
	fmt.Println("Open this URL in a browser, sign in, then paste the redirect URL below:")
	fmt.Println()
	fmt.Println("  " + cfg.AuthCodeURL(pkce))
	fmt.Println()
	fmt.Print("Redirect URL (or code): ")

	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return fmt.Errorf("failed to read redirect URL: %w", err)
	}

	code, _, err := oauth.ExtractCode(strings.TrimSpace(line))
	if err != nil {
		return err
	}

	tok, err := cfg.Exchange(ctx, code, pkce.Verifier)
	if err != nil {
		return fmt.Errorf("token exchange failed: %w", err)
	}

	sess := &session.Session{
		CodeVerifier: pkce.Verifier,
		AccessToken:  tok.AccessToken,
	}
	if err := store.Save(l.SessionName, sess); err != nil {
		return err
	}

	fmt.Println("Logged in. Next: request an MFA challenge with `challenge`.")
	return nil
}

func (l *LoginCmd) loginWithCookie(ctx context.Context, store *session.Store) error {
	out, err := l.carrier().resolver.Resolve(ctx, l.Cookie)
	if err != nil {
		return fmt.Errorf("cookie is not a valid session: %w", err)
	}

	sess := &session.Session{
		AccessToken: out.AccessToken,
		Cookie:      l.Cookie,
		MemberID:    out.MemberID,
	}
	if err := store.Save(l.SessionName, sess); err != nil {
		return err
	}

	if out.Derived {
		fmt.Println("Logged in with a derived token; some operations may require a full OAuth login.")
	} else {
		fmt.Println("Logged in. Next: request an MFA challenge with `challenge`.")
	}
	return nil
}
