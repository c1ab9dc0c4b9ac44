package cli

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/spf13/cobra"
)

// TestToken returns an HS256 token for tenant, accepted by a board API
// running in test mode with the same secret.
func TestToken(secret []byte, tenant, audience string, ttl time.Duration) (string, error) {
	if len(secret) == 0 {
		return "", errors.New("TEST_JWT_SECRET must be set")
	}
	claims := jwt.MapClaims{
		"sub":    tenant,
		"org_id": tenant,
		"exp":    time.Now().Add(ttl).Unix(),
	}
	if audience != "" {
		claims["aud"] = audience
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

func newTokenCmd(app *App) *cobra.Command {
	var secret string
	var audience string
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "token <tenant>",
		Short: "Mint a development token for a test-mode API",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tok, err := TestToken([]byte(secret), args[0], audience, ttl)
			if err != nil {
				return writeErr(cmd, err)
			}
			fmt.Fprint(cmd.OutOrStdout(), tok)
			return nil
		},
	}
	cmd.Flags().StringVar(&secret, "secret", envOr("TEST_JWT_SECRET", ""), "Shared signing secret")
	cmd.Flags().StringVar(&audience, "audience", envOr("AUTH0_AUDIENCE", ""), "Token audience")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "Token lifetime")
	return cmd
}
