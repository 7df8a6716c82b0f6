package cli

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/closetconnect/closet-tracker/internal/api"
	"github.com/closetconnect/closet-tracker/internal/auth"
	"github.com/closetconnect/closet-tracker/internal/config"
)

func newLoginCmd() *cobra.Command {
	var email string
	var passwordStdin bool

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in and store the access token",
		Long: `Sign in to ClosetConnect with email and password.

The access token is stored in the token file (default
~/.config/closetconnect/token) with owner-only permissions.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			in := bufio.NewReader(cmd.InOrStdin())
			out := cmd.ErrOrStderr()

			if email == "" {
				if email, err = promptLine(in, out, "Email: "); err != nil {
					return err
				}
			}
			var password string
			if passwordStdin {
				password, err = promptLine(in, out, "")
			} else {
				password, err = promptPassword(in, out, "Password: ")
			}
			if err != nil {
				return err
			}
			if email == "" || password == "" {
				return errors.New("email and password are required")
			}

			client, err := api.NewClient(cfg, "", GetLogger())
			if err != nil {
				return err
			}
			resp, err := client.Login(GetContext(), email, password)
			if err != nil {
				return fmt.Errorf("login failed: %w", err)
			}

			id, err := auth.ParseToken(resp.AccessToken)
			if err != nil {
				return fmt.Errorf("backend returned an unusable token: %w", err)
			}
			if err := config.WriteTokenFile(tokenPath(), resp.AccessToken); err != nil {
				return err
			}

			name := email
			if resp.User != nil && resp.User.Nickname != "" {
				name = resp.User.Nickname
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Logged in as %s (user %d)\n", name, id.UserID)
			return nil
		},
	}

	cmd.Flags().StringVar(&email, "email", "", "Account email")
	cmd.Flags().BoolVar(&passwordStdin, "password-stdin", false, "Read the password from stdin")
	return cmd
}

func newLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget the stored access token",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := config.RemoveTokenFile(tokenPath()); err != nil {
				return err
			}
			if os.Getenv(config.TokenEnvVar) != "" {
				fmt.Fprintf(cmd.ErrOrStderr(), "Note: %s is still set in the environment\n", config.TokenEnvVar)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Logged out")
			return nil
		},
	}
}

func newWhoamiCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the user of the current access token",
		RunE: func(cmd *cobra.Command, args []string) error {
			token, source := resolveToken()
			if token == "" {
				return errors.New("not logged in")
			}
			id, err := auth.ParseToken(token)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "User ID: %d\n", id.UserID)
			if id.Email != "" {
				fmt.Fprintf(out, "Email:   %s\n", id.Email)
			}
			fmt.Fprintf(out, "Source:  %s\n", source)
			if !id.ExpiresAt.IsZero() {
				state := "valid"
				if id.Expired(time.Now()) {
					state = "expired"
				}
				fmt.Fprintf(out, "Expires: %s (%s)\n", id.ExpiresAt.Local().Format(time.RFC1123), state)
			}
			return nil
		},
	}
}
