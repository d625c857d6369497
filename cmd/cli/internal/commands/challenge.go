package commands

import (
	"context"
	"fmt"
	"strings"

	"github.com/esimtools/esimgate/internal/giffgaff"
)

type ChallengeCmd struct {
	CarrierFlags `embed:""`

	Channels []string `help:"preferred delivery channels" default:"EMAIL"`
}

func (c *ChallengeCmd) Run(ctx context.Context) error {
	store, err := c.store()
	if err != nil {
		return err
	}
	sess, ok, err := store.Load(c.SessionName)
	if err != nil {
		return err
	}
	if !ok || sess.AccessToken == "" {
		return fmt.Errorf("no active session, run `login` first")
	}

	auth := giffgaff.Auth{Token: sess.AccessToken, Cookie: sess.Cookie}
	out, err := c.carrier().mfa.Challenge(ctx, auth, "", c.Channels)
	if err != nil {
		return fmt.Errorf("challenge request failed: %w", err)
	}

	sess.EmailCodeRef = out.Ref
	if err := store.Save(c.SessionName, sess); err != nil {
		return err
	}

	fmt.Printf("Code sent via %s. Next: `activate --code <code>`.\n", strings.Join(out.Methods, ", "))
	return nil
}
