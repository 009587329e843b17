package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"cord/platform/internal/auth"
)

// TokenCmd returns the token command. The tokens it signs are the ones a
// customer's backend would normally produce; use them for local testing.
func TokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Sign test tokens for a project",
	}
	cmd.AddCommand(tokenServerCmd())
	cmd.AddCommand(tokenClientCmd())
	return cmd
}

type tokenFlags struct {
	appID  string
	secret string
	ttl    time.Duration
}

func (f *tokenFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.appID, "app", "", "Project (application) ID")
	cmd.Flags().StringVar(&f.secret, "secret", "", "Project secret; looked up in the database when empty")
	cmd.Flags().DurationVar(&f.ttl, "ttl", time.Hour, "Token lifetime; server tokens are refused 24h after issue")
}

// resolveSecret returns the --secret flag, falling back to the project row.
func (f *tokenFlags) resolveSecret() (string, error) {
	if f.appID == "" {
		return "", fmt.Errorf("--app is required")
	}
	if f.secret != "" {
		return f.secret, nil
	}
	ctx := newContext()
	cfg, err := loadConfig()
	if err != nil {
		return "", err
	}
	dataStore, db, err := openStore(ctx, cfg)
	if err != nil {
		return "", err
	}
	defer db.Close()
	app, err := dataStore.GetApplication(ctx, f.appID)
	if err != nil {
		return "", fmt.Errorf("load project %s: %w", f.appID, err)
	}
	return app.SharedSecret, nil
}

func tokenServerCmd() *cobra.Command {
	var flags tokenFlags

	cmd := &cobra.Command{
		Use:   "server",
		Short: "Sign a server token for the REST API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			secret, err := flags.resolveSecret()
			if err != nil {
				return err
			}
			token, err := auth.IssueServerToken(flags.appID, []byte(secret), flags.ttl)
			if err != nil {
				return fmt.Errorf("sign server token: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	flags.register(cmd)
	return cmd
}

func tokenClientCmd() *cobra.Command {
	var flags tokenFlags
	var userID, groupID, name, email, groupName string

	cmd := &cobra.Command{
		Use:   "client",
		Short: "Sign a client token to exchange for a browser session",
		Long: `Sign a client token for one user.

Examples:
  cordctl token client --app 2f1d... --user ann
  cordctl token client --app 2f1d... --user ann --group eng --group-name Engineering`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if userID == "" {
				return fmt.Errorf("--user is required")
			}
			secret, err := flags.resolveSecret()
			if err != nil {
				return err
			}
			claims := auth.ClientClaims{UserID: userID, GroupID: groupID}
			if name != "" || email != "" {
				claims.UserDetails = &auth.UserDetails{Name: name, Email: email}
			}
			if groupID != "" && groupName != "" {
				claims.GroupDetails = &auth.GroupDetails{Name: groupName}
			}
			token, err := auth.IssueClientToken(flags.appID, []byte(secret), claims, flags.ttl)
			if err != nil {
				return fmt.Errorf("sign client token: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	flags.register(cmd)
	cmd.Flags().StringVar(&userID, "user", "", "User ID")
	cmd.Flags().StringVar(&groupID, "group", "", "Restrict the session to this group")
	cmd.Flags().StringVar(&name, "name", "", "User display name")
	cmd.Flags().StringVar(&email, "email", "", "User email")
	cmd.Flags().StringVar(&groupName, "group-name", "", "Create or rename the group with this name")
	return cmd
}
