package commands

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/learnhub/learnhub/internal/web/auth"
)

type tokenOptions struct {
	user  string
	email string
	roles []string
	ttl   time.Duration
}

func newTokenCommand(global *globalOptions) *cobra.Command {
	opts := &tokenOptions{}

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a bearer token signed with auth.jwt_secret",
		Long: `Issue a bearer token for calling the API, typically an admin token for
the /api/admin routes.

Examples:
  learnhub token --user ops-1 --role admin
  curl -H "Authorization: Bearer $(learnhub token --user ops-1 --role admin)" \
    localhost:3000/api/admin/ratelimit/policies`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := global.loadConfig(cmd)
			if err != nil {
				return err
			}
			if cfg.Auth.JWTSecret == "" {
				return errors.New("auth.jwt_secret is not set")
			}
			if opts.ttl <= 0 {
				return fmt.Errorf("--ttl must be positive, got %s", opts.ttl)
			}

			svc := auth.NewAuthService(cfg.Auth.JWTSecret, opts.ttl)
			token, err := svc.GenerateToken(auth.Identity{
				UserID: opts.user,
				Email:  opts.email,
				Roles:  opts.roles,
			})
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}

	cmd.Flags().StringVar(&opts.user, "user", "", "User id placed in the subject claim")
	cmd.Flags().StringVar(&opts.email, "email", "", "Email claim")
	cmd.Flags().StringSliceVar(&opts.roles, "role", nil, "Role to grant (repeatable)")
	cmd.Flags().DurationVar(&opts.ttl, "ttl", time.Hour, "Token lifetime")
	cmd.MarkFlagRequired("user")

	return cmd
}
