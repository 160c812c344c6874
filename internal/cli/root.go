package cli

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/wdactools/wdacsim/internal/config"
	"github.com/wdactools/wdacsim/pkg/observability"
)

// NewRoot returns the wdacsim command tree.
func NewRoot(version string) *cobra.Command {
	app := &appState{version: version}
	cmd := &cobra.Command{
		Use:           "wdacsim",
		Short:         "wdacsim: simulate code integrity policy decisions",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return app.init(cmd)
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return app.close()
		},
	}

	cmd.Version = version
	cmd.SetVersionTemplate("wdacsim {{.Version}}\n")

	cmd.PersistentFlags().StringVar(&app.configPath, "config", getenvDefault("WDACSIM_CONFIG", ""), "Path to config file")
	cmd.PersistentFlags().StringVar(&app.logLevel, "log-level", "", "Log level: debug|info|warn|error")
	cmd.PersistentFlags().StringVar(&app.logFormat, "log-format", "", "Log format: text|json")

	cmd.AddCommand(newSimulateCmd(app))
	cmd.AddCommand(newPolicyCmd(app))
	cmd.AddCommand(newCertCmd())
	cmd.AddCommand(newChainCmd(app))

	return cmd
}

// appState carries the configuration and logger shared by subcommands.
type appState struct {
	version    string
	configPath string
	logLevel   string
	logFormat  string

	cfg       *config.Config
	logger    *slog.Logger
	logCloser io.Closer
}

func (a *appState) init(cmd *cobra.Command) error {
	cfg := config.Default()
	if a.configPath != "" {
		loaded, err := config.Load(a.configPath)
		if err != nil {
			return err
		}
		cfg = loaded
	}
	if a.logLevel != "" {
		cfg.Logging.Level = a.logLevel
	}
	if a.logFormat != "" {
		cfg.Logging.Format = a.logFormat
	}

	logger, closer, err := observability.NewLogger(observability.LoggingConfig{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	})
	if err != nil {
		return fmt.Errorf("logging: %w", err)
	}
	slog.SetDefault(logger)

	a.cfg, a.logger, a.logCloser = cfg, logger, closer
	return nil
}

func (a *appState) close() error {
	if a.logCloser == nil {
		return nil
	}
	return a.logCloser.Close()
}

func getenvDefault(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
