package main

import (
	"context"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/miradorstack/mirador-triage/internal/config"
	"github.com/miradorstack/mirador-triage/internal/utils"
)

// globalFlags are shared by every subcommand.
type globalFlags struct {
	configPath string
	logLevel   string
	jsonLogs   bool
}

var flags globalFlags

var rootCmd = &cobra.Command{
	Use:   "triage-engine",
	Short: "Log triage funnel: cheap filters first, model verdicts last",
	Long: `triage-engine narrows raw log lines through a recency cache, keyword and rule
filters and heuristic sampling before asking a verdict service about the survivors.
Every verdict is stored in a similarity index that gives later lines historical context.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command with signal handling.
func Execute(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	return rootCmd.ExecuteContext(ctx)
}

func registerGlobalFlags(fs *pflag.FlagSet) {
	fs.StringVar(&flags.configPath, "config", "", "Path to configuration file (default $MIRADOR_TRIAGE_CONFIG)")
	fs.StringVar(&flags.logLevel, "log-level", "", "Override the configured log level")
	fs.BoolVar(&flags.jsonLogs, "json-logs", false, "Emit JSON logs")
}

// loadConfig reads the configuration and builds the logger every command uses.
func loadConfig() (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(flags.configPath)
	if err != nil {
		return nil, nil, err
	}
	if flags.logLevel != "" {
		cfg.Logging.Level = flags.logLevel
	}
	if flags.jsonLogs {
		cfg.Logging.JSON = true
	}
	logger := utils.NewLogger(cfg.Logging.Level, cfg.Logging.JSON)
	slog.SetDefault(logger)
	return cfg, logger, nil
}

func init() {
	registerGlobalFlags(rootCmd.PersistentFlags())

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(analyzeCmd)
	rootCmd.AddCommand(investigateCmd)
	rootCmd.AddCommand(patternsCmd)
}
