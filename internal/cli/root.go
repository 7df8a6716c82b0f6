// Package cli provides the command-line interface for closet-tracker.
package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/closetconnect/closet-tracker/internal/config"
	"github.com/closetconnect/closet-tracker/internal/constants"
	"github.com/closetconnect/closet-tracker/internal/core"
	"github.com/closetconnect/closet-tracker/internal/logging"
	"github.com/closetconnect/closet-tracker/internal/version"
)

var (
	// Global flags
	cfgFile     string
	accessToken string
	tokenFile   string
	apiBaseURL  string
	verbose     bool
	debug       bool

	// Global logger
	logger *logging.Logger

	// Global context for signal handling
	rootContext context.Context
	cancelFunc  context.CancelFunc

	// closers run when Execute returns (log files)
	closers []io.Closer
)

// NewRootCmd creates the root command.
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   constants.AppName,
		Short: "Track ClosetConnect cloth uploads through AI processing",
		Long: `closet-tracker ` + version.Version + `

Uploads cloth photos to ClosetConnect and follows their AI processing
(background removal, segmentation, inpainting) live over the backend's
push channel. Finished uploads can be reviewed and confirmed from the
command line.`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			logger = logging.NewDefaultCLILogger()
			if verbose || debug {
				logging.SetGlobalLevel(zerolog.DebugLevel)
			}
		},
	}

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "Configuration file path")
	rootCmd.PersistentFlags().StringVar(&accessToken, "token", "", "Access token (overrides all other sources)")
	rootCmd.PersistentFlags().StringVar(&tokenFile, "token-file", "", "Path to file containing the access token")
	rootCmd.PersistentFlags().StringVar(&apiBaseURL, "api-url", "", "Backend API base URL (overrides config)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output (shows debug messages)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug output (same as --verbose)")

	rootCmd.Version = version.Version + " (" + version.BuildTime + ")"
	rootCmd.CompletionOptions.HiddenDefaultCmd = true

	return rootCmd
}

// Execute runs the CLI.
func Execute() error {
	rootContext, cancelFunc = context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		for sig := range sigChan {
			if sig != nil {
				fmt.Fprintf(os.Stderr, "\nReceived %v, shutting down...\n", sig)
				cancelFunc()
			}
		}
	}()

	rootCmd := NewRootCmd()
	AddCommands(rootCmd)
	err := rootCmd.Execute()

	signal.Stop(sigChan)
	close(sigChan)
	cancelFunc()
	for _, c := range closers {
		_ = c.Close()
	}
	return err
}

// AddCommands adds all subcommands to the root command.
func AddCommands(rootCmd *cobra.Command) {
	rootCmd.AddCommand(newLoginCmd())
	rootCmd.AddCommand(newLogoutCmd())
	rootCmd.AddCommand(newWhoamiCmd())
	rootCmd.AddCommand(newUploadCmd())
	rootCmd.AddCommand(newTrackCmd())
	rootCmd.AddCommand(newListCmd())
	rootCmd.AddCommand(newDismissCmd())
	rootCmd.AddCommand(newReviewCmd())
	rootCmd.AddCommand(newWatchCmd())
	rootCmd.AddCommand(newConfigCmd())
	rootCmd.AddCommand(newVersionCmd())
}

// GetLogger returns the global CLI logger.
func GetLogger() *logging.Logger {
	if logger == nil {
		logger = logging.NewDefaultCLILogger()
	}
	return logger
}

// GetContext returns the global CLI context with signal handling.
func GetContext() context.Context {
	if rootContext == nil {
		return context.Background()
	}
	return rootContext
}

// loadConfig reads tracker.conf, .env and the environment, then applies
// flag overrides. It also switches the logger to the configured level
// and log file.
func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadWithOverrides(cfgFile, ".env")
	if err != nil {
		return nil, err
	}
	if apiBaseURL != "" {
		cfg.Server.APIURL = apiBaseURL
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("invalid --api-url: %w", err)
		}
	}
	if !verbose && !debug {
		logging.SetGlobalLevel(logging.ParseLevel(cfg.Logging.Level))
	}
	logger = buildLogger(os.Stderr, cfg)
	return cfg, nil
}

// buildLogger creates a console logger on console that also appends to
// the configured log file.
func buildLogger(console io.Writer, cfg *config.Config) *logging.Logger {
	if cfg.Logging.LogFile == "" {
		return logging.NewLogger(console)
	}
	w := logging.NewFileWriter(console, cfg.Logging.LogFile)
	closers = append(closers, w)
	return logging.NewWithWriter(w)
}

// resolveToken returns the access token from flags, token file or env.
func resolveToken() (string, string) {
	return config.ResolveToken(accessToken, tokenFile)
}

// tokenPath is the file login writes to.
func tokenPath() string {
	if tokenFile != "" {
		return tokenFile
	}
	return config.DefaultTokenPath()
}

// openSession loads config and builds a session for the resolved token.
// With requireToken an anonymous session is refused.
func openSession(requireToken bool, opts ...func(*core.Options)) (*core.Session, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	token, source := resolveToken()
	if token == "" && requireToken {
		return nil, fmt.Errorf("not logged in, run `%s login` or set %s", constants.AppName, config.TokenEnvVar)
	}
	GetLogger().Debug().Str("source", source).Msg("Resolved access token")

	o := core.Options{Config: cfg, Token: token, Logger: GetLogger()}
	for _, fn := range opts {
		fn(&o)
	}
	return core.New(o)
}
