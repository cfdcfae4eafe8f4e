package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/platinummonkey/turnstile/pkg/envelope"
)

func (a *app) newForwardCommand() *Command {
	cmd := &Command{
		Name:        "forward",
		Description: "Mint a rate limit bypass envelope for one path",
		Flags:       newFlagSet("forward", a.out),
	}
	path := cmd.Flags.String("path", "", "Exact request path the envelope admits")
	expire := cmd.Flags.Duration("expire", envelope.DefaultExpiration, "Envelope lifetime (whole seconds)")
	secret := cmd.Flags.String("secret", envOr("TURNSTILE_FORWARD_SECRET", ""), "Forward signing secret")

	cmd.Run = func(args []string) error {
		if err := cmd.Flags.Parse(args); err != nil {
			return err
		}
		if !strings.HasPrefix(*path, "/") {
			return fmt.Errorf("-path must be an absolute request path")
		}
		if *expire < time.Second {
			return fmt.Errorf("-expire must be at least one second")
		}
		if *secret == "" {
			return fmt.Errorf("forward secret is required")
		}

		signer := envelope.NewSigner(*secret)
		env, err := envelope.New(signer, *path, *expire)
		if err != nil {
			return fmt.Errorf("failed to build envelope: %w", err)
		}
		signed, err := signer.Sign(env)
		if err != nil {
			return fmt.Errorf("failed to sign envelope: %w", err)
		}

		a.logger.WithFields(map[string]interface{}{
			"path":       env.Content,
			"id":         env.ID,
			"expires_at": env.ExpiresAt().UTC().Format(time.RFC3339),
		}).Info("issued bypass envelope")
		fmt.Fprintln(a.out, signed)
		return nil
	}
	return cmd
}
