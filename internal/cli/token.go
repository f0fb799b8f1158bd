package cli

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"system-toolbox/internal/config"
	"system-toolbox/internal/web/auth"
)

type tokenOutput struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	Roles     []string  `json:"roles"`
}

func (a *app) tokenCommand() *cobra.Command {
	var (
		key     string
		subject string
		roles   []string
		asJSON  bool
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue an API access token",
		Long: `Issue a bearer token for the control API.

With --key the token carries the roles of that configured API key. Without
it a token is minted for --subject with the given --role values, which
requires read access to the signing secret.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := a.load()
			if err != nil {
				return err
			}
			defer e.close()

			secret, err := e.cfg.ResolveJWTSecret()
			if err != nil {
				return fmt.Errorf("%w: %w", config.ErrInvalidConfig, err)
			}
			tokens, err := auth.NewJWTManager(secret, e.cfg.JWTExpiryDuration(), e.cfg.API.APIKeys)
			if err != nil {
				return fmt.Errorf("%w: %w", config.ErrInvalidConfig, err)
			}

			var out tokenOutput
			if key != "" {
				out.Token, out.ExpiresAt, out.Roles, err = tokens.Exchange(key)
			} else {
				for _, r := range roles {
					if !auth.ValidRole(r) {
						return fmt.Errorf("%w: unknown role %q", errUsage, r)
					}
				}
				out.Roles = roles
				out.Token, out.ExpiresAt, err = tokens.GenerateToken(subject, roles)
			}
			if err != nil {
				return err
			}

			if asJSON {
				return json.NewEncoder(a.stdout).Encode(out)
			}
			fmt.Fprintln(a.stdout, out.Token)
			fmt.Fprintf(a.stderr, "expires %s, roles %v\n", out.ExpiresAt.Format(time.RFC3339), out.Roles)
			return nil
		},
	}
	cmd.Flags().StringVar(&key, "key", "", "Exchange this API key for a token")
	cmd.Flags().StringVar(&subject, "subject", "cli", "Token subject when minting without a key")
	cmd.Flags().StringSliceVar(&roles, "role", []string{auth.RoleViewer}, "Roles to embed when minting without a key")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output in JSON format")
	return cmd
}
