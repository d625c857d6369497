package commands

import (
	"context"
	"fmt"

	"github.com/esimtools/esimgate/internal/session"
)

type StatusCmd struct {
	CarrierFlags `embed:""`
}

type ClearCmd struct {
	CarrierFlags `embed:""`
}

func (s *StatusCmd) Run(ctx context.Context) error {
	store, err := s.store()
	if err != nil {
		return err
	}
	sess, ok, err := store.Load(s.SessionName)
	if err != nil {
		return err
	}
	if !ok {
		fmt.Println("No session. Run `login` to start.")
		return nil
	}

	fmt.Printf("Session %q, step %d (%s)\n", s.SessionName, sess.TargetStep(), stepName(sess.TargetStep()))
	if sess.MemberID != "" {
		fmt.Printf("  member:          %s\n", sess.MemberID)
	}
	if sess.ESimSSN != "" {
		fmt.Printf("  esim ssn:        %s\n", sess.ESimSSN)
	}
	if sess.ESimActivationCode != "" {
		fmt.Printf("  activation code: %s\n", sess.ESimActivationCode)
	}
	if sess.LPAString != "" {
		fmt.Printf("  lpa string:      %s\n", sess.LPAString)
	}
	return nil
}

func (c *ClearCmd) Run(ctx context.Context) error {
	store, err := c.store()
	if err != nil {
		return err
	}
	if err := store.Clear(c.SessionName); err != nil {
		return err
	}
	fmt.Println("Session cleared.")
	return nil
}

func stepName(step int) string {
	switch step {
	case session.StepLogin:
		return "login"
	case session.StepSendChallenge:
		return "send challenge"
	case session.StepEnterCode:
		return "enter code"
	case session.StepReserve:
		return "reserve"
	case session.StepDownloadToken:
		return "download token"
	case session.StepDone:
		return "done"
	default:
		return "unknown"
	}
}
