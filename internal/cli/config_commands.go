package cli

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/closetconnect/closet-tracker/internal/config"
	"github.com/closetconnect/closet-tracker/internal/version"
)

// newConfigCmd creates the 'config' command group.
func newConfigCmd() *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Manage closet-tracker configuration",
		Long: `Configuration management commands for closet-tracker.

Commands:
  init  - Interactive configuration setup
  show  - Display current configuration
  path  - Show configuration file path`,
	}

	configCmd.AddCommand(newConfigInitCmd())
	configCmd.AddCommand(newConfigShowCmd())
	configCmd.AddCommand(newConfigPathCmd())
	return configCmd
}

func configPath() string {
	if cfgFile != "" {
		return cfgFile
	}
	return config.DefaultConfigPath()
}

// newConfigInitCmd creates the 'config init' command.
func newConfigInitCmd() *cobra.Command {
	var force, defaults bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize configuration interactively",
		Long: `Interactive configuration setup for closet-tracker.

The configuration is saved to ~/.config/closetconnect/tracker.conf.
Use --defaults to write the defaults without prompting and --force to
overwrite an existing file.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := configPath()
			out := cmd.OutOrStdout()

			if !force {
				if _, err := os.Stat(path); err == nil {
					fmt.Fprintf(out, "Configuration already exists at: %s\n", path)
					fmt.Fprintln(out, "Use --force to overwrite or run 'config show' to view current config.")
					return nil
				}
			}

			cfg := config.NewConfig()
			if !defaults {
				if err := promptConfig(bufio.NewReader(cmd.InOrStdin()), out, cfg); err != nil {
					return err
				}
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}
			if err := config.Save(cfg, path); err != nil {
				return err
			}
			fmt.Fprintf(out, "Configuration saved to %s\n", path)
			return nil
		},
	}

	cmd.Flags().BoolVarP(&force, "force", "f", false, "Overwrite existing configuration")
	cmd.Flags().BoolVar(&defaults, "defaults", false, "Write defaults without prompting")
	return cmd
}

// promptConfig asks for the common settings; empty answers keep the
// current value.
func promptConfig(in *bufio.Reader, out io.Writer, cfg *config.Config) error {
	fmt.Fprintln(out, "closet-tracker Configuration Setup")
	fmt.Fprintln(out, "==================================")

	api, err := promptLine(in, out, fmt.Sprintf("API URL [%s]: ", cfg.Server.APIURL))
	if err != nil {
		return err
	}
	if api != "" {
		cfg.Server.APIURL = api
	}

	ws, err := promptLine(in, out, fmt.Sprintf("WebSocket URL [%s]: ", cfg.EffectiveWSURL()))
	if err != nil {
		return err
	}
	if ws != "" {
		cfg.Server.WSURL = ws
	}

	grace, err := promptLine(in, out, fmt.Sprintf("Seconds to show failed uploads [%d]: ", cfg.Tracker.FailureGraceSeconds))
	if err != nil {
		return err
	}
	if grace != "" {
		n, err := strconv.Atoi(grace)
		if err != nil {
			return fmt.Errorf("invalid number %q", grace)
		}
		cfg.Tracker.FailureGraceSeconds = n
	}

	notify, err := promptYesNo(in, out, "Desktop notifications?", cfg.Notifications.Enabled)
	if err != nil {
		return err
	}
	cfg.Notifications.Enabled = notify
	return nil
}

// newConfigShowCmd creates the 'config show' command.
func newConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Display current configuration",
		Long: `Display the current configuration settings.

This command shows the merged configuration from:
  1. Configuration file (~/.config/closetconnect/tracker.conf)
  2. .env in the working directory and environment variables
  3. Command-line flags (--token, --api-url)

Priority: flags > environment > config file > defaults`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			token, source := resolveToken()
			printConfig(cmd.OutOrStdout(), cfg, token, source)
			return nil
		},
	}
}

func printConfig(w io.Writer, cfg *config.Config, token, source string) {
	fmt.Fprintln(w, "Current Configuration")
	fmt.Fprintln(w, "=====================")
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Server:")
	fmt.Fprintf(w, "  API URL:        %s\n", cfg.Server.APIURL)
	fmt.Fprintf(w, "  WebSocket URL:  %s\n", cfg.EffectiveWSURL())
	fmt.Fprintf(w, "  Topic prefix:   %s\n", cfg.Server.TopicPrefix)
	if token != "" {
		fmt.Fprintf(w, "  Access token:   <set (%d chars, from %s)>\n", len(token), source)
	} else {
		fmt.Fprintln(w, "  Access token:   <not set>")
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Tracker:")
	fmt.Fprintf(w, "  Reconnect delay:     %s\n", cfg.ReconnectDelay())
	fmt.Fprintf(w, "  Heartbeat:           %s\n", cfg.Heartbeat())
	fmt.Fprintf(w, "  Failure grace:       %s\n", cfg.FailureGrace())
	fmt.Fprintf(w, "  Dismissal retention: %s\n", cfg.DismissalRetention())
	fmt.Fprintf(w, "  Storage:             %s\n", cfg.Tracker.StorageDir)
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Notifications:")
	fmt.Fprintf(w, "  Enabled: %t (ready: %t, failed: %t)\n", cfg.Notifications.Enabled, cfg.Notifications.ShowReady, cfg.Notifications.ShowFailed)
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Other:")
	fmt.Fprintf(w, "  Log level:  %s\n", cfg.Logging.Level)
	if cfg.Logging.LogFile != "" {
		fmt.Fprintf(w, "  Log file:   %s\n", cfg.Logging.LogFile)
	}
	fmt.Fprintf(w, "  Local API:  %s\n", cfg.LocalAPI.Listen)
	fmt.Fprintf(w, "  Proxy mode: %s\n", cfg.Proxy.Mode)
	if cfg.Proxy.Host != "" {
		fmt.Fprintf(w, "  Proxy:      %s:%d\n", cfg.Proxy.Host, cfg.Proxy.Port)
	}
}

// newConfigPathCmd creates the 'config path' command.
func newConfigPathCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Show configuration file path",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := configPath()
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, path)
			if _, err := os.Stat(path); os.IsNotExist(err) {
				fmt.Fprintln(cmd.ErrOrStderr(), "(file does not exist, run 'config init' to create it)")
			}
			return nil
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "closet-tracker %s (built %s)\n", version.Version, version.BuildTime)
		},
	}
}
