package commands

import (
	"time"

	"github.com/spf13/cobra"

	jwttoken "soulid/internal/jwt_token"
	"soulid/internal/platform/config"
	id "soulid/pkg/domain"
)

var (
	tokenCaller string
	tokenTTL    time.Duration
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue a caller token",
	Long: `Issue a bearer token authenticating an address against the mutating
endpoints. The token is signed with SOULID_JWT_SIGNING_KEY.

Examples:
  # Token for the operator, valid for the configured TTL
  soulid token --caller 0x00000000000000000000000000000000000000aa

  # Short lived holder token
  soulid token --caller 0x1111111111111111111111111111111111111111 --ttl 5m`,
	RunE: runToken,
}

func init() {
	tokenCmd.Flags().StringVar(&tokenCaller, "caller", "", "Caller address the token authenticates (required)")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 0, "Token lifetime (default: SOULID_JWT_TTL)")
	_ = tokenCmd.MarkFlagRequired("caller")
}

func runToken(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	caller, err := id.ParseAddress(tokenCaller)
	if err != nil {
		return err
	}
	ttl := tokenTTL
	if ttl == 0 {
		ttl = cfg.Auth.TokenTTL
	}
	token, err := jwttoken.NewJWTService(cfg.Auth.SigningKey, cfg.Auth.Issuer).GenerateCallerToken(caller, ttl)
	if err != nil {
		return err
	}
	cmd.Println(token)
	return nil
}
