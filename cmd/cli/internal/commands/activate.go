package commands

import (
	"context"
	"fmt"

	"github.com/esimtools/esimgate/internal/activation"
)

type ActivateCmd struct {
	CarrierFlags `embed:""`

	Code string `help:"MFA code received out of band" required:""`
	SMS  bool   `help:"physical-to-eSIM switch via web activation instead of a SIM swap" default:"false"`
}

func (a *ActivateCmd) Run(ctx context.Context) error {
	store, err := a.store()
	if err != nil {
		return err
	}
	sess, ok, err := store.Load(a.SessionName)
	if err != nil {
		return err
	}
	if !ok || sess.AccessToken == "" {
		return fmt.Errorf("no active session, run `login` first")
	}
	if sess.EmailCodeRef == "" {
		return fmt.Errorf("no pending challenge, run `challenge` first")
	}

	in := activation.Input{
		Ref:            sess.EmailCodeRef,
		Code:           a.Code,
		AccessToken:    sess.AccessToken,
		Cookie:         sess.Cookie,
		MemberID:       sess.MemberID,
		SSN:            sess.ESimSSN,
		ActivationCode: sess.ESimActivationCode,
	}

	orch := a.carrier().orchestrator
	run := orch.Activate
	if a.SMS {
		run = orch.ActivateSMS
	}

	out, err := run(ctx, in)
	if err != nil {
		return err
	}

	// Persist everything the run acquired so a retry resumes where it
	// stopped instead of reserving again.
	sess.MemberID = out.MemberID
	sess.ESimSSN = out.SSN
	sess.ESimActivationCode = out.ActivationCode
	sess.LPAString = out.LPAString
	if err := store.Save(a.SessionName, sess); err != nil {
		return err
	}

	if out.Pending {
		fmt.Println("Activation submitted but the download string is not ready yet.")
		fmt.Println("Re-run `activate` with a fresh challenge shortly; the reservation is kept.")
		return nil
	}

	fmt.Println("Activation complete. Scan or enter this on the device:")
	fmt.Println()
	fmt.Println("  " + out.LPAString)
	return nil
}
