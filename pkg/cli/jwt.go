package cli

import (
	"fmt"
	"time"

	"github.com/platinummonkey/turnstile/pkg/auth"
)

func (a *app) newJWTCommand() *Command {
	cmd := &Command{
		Name:        "jwt",
		Description: "Mint an HS512 bearer token for a user",
		Flags:       newFlagSet("jwt", a.out),
	}
	user := cmd.Flags.Int64("user", 0, "User id carried in the token")
	ttl := cmd.Flags.Duration("ttl", time.Hour, "Token lifetime")
	secret := cmd.Flags.String("secret", envOr("TURNSTILE_JWT_SECRET", ""), "Signing secret")
	issuer := cmd.Flags.String("issuer", envOr("TURNSTILE_JWT_ISSUER", ""), "Token issuer")

	cmd.Run = func(args []string) error {
		if err := cmd.Flags.Parse(args); err != nil {
			return err
		}
		if *user <= 0 {
			return fmt.Errorf("-user must be a positive id")
		}
		if *ttl <= 0 {
			return fmt.Errorf("-ttl must be positive")
		}
		if *secret == "" || *issuer == "" {
			return fmt.Errorf("secret and issuer are required")
		}

		token, err := auth.NewTokenVerifier(*secret, *issuer).Issue(auth.UserIdentity{UserID: *user}, *ttl)
		if err != nil {
			return fmt.Errorf("failed to issue token: %w", err)
		}

		a.logger.WithFields(map[string]interface{}{
			"user_id":     *user,
			"expires_at":  time.Now().Add(*ttl).UTC().Format(time.RFC3339),
			"fingerprint": auth.Fingerprint(token),
		}).Info("issued token")
		fmt.Fprintln(a.out, token)
		return nil
	}
	return cmd
}
