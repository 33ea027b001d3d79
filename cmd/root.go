package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/mj1618/support-roster/internal/config"
	"github.com/mj1618/support-roster/internal/logger"
	"github.com/mj1618/support-roster/internal/output"
	"github.com/mj1618/support-roster/internal/version"
)

var rootCmd = &cobra.Command{
	Use:   "support-roster",
	Short: "Track remote-support sessions on this desk",
	Long: `Watch the top-level windows of ezHelp and TeamViewer, keep a roster of the
remote computers you are connected to, and organise them with groups,
categories and labels that survive reconnects.`,
	SilenceUsage: true,
}

// appConfig is the loaded configuration, with flag overrides applied.
var appConfig = config.DefaultConfig()

func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.Version = fmt.Sprintf("%s (commit: %s, built: %s)", version.Version, version.Commit, version.BuildDate)
	rootCmd.PersistentFlags().String("format", "", "Output format: yaml, json (default yaml, json when piped)")
	rootCmd.PersistentFlags().String("config", config.DefaultPath(), "Path to the TOML config file")
	rootCmd.PersistentFlags().String("log-level", "", "Log level: debug, info, warn, error (overrides config)")
	rootCmd.PersistentFlags().String("db", "", "SQLite database path, or \"memory\" for no persistence (overrides config)")
	rootCmd.PersistentFlags().String("replay", "", "Replay window snapshots from a YAML file instead of the desktop")
	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		format, _ := rootCmd.PersistentFlags().GetString("format")

		// Piped output goes to tools, terminals to people.
		if format == "" {
			if output.IsOutputPiped() {
				format = string(output.FormatJSON)
			} else {
				format = string(output.FormatYAML)
			}
		}
		f, err := output.ParseFormat(format)
		if err != nil {
			return err
		}
		output.OutputFormat = f
		if prettyFlag := cmd.Flags().Lookup("pretty"); prettyFlag != nil {
			if pretty, err := cmd.Flags().GetBool("pretty"); err == nil && pretty {
				output.PrettyOutput = true
			}
		}

		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		appConfig = cfg
		if err := logger.Init(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}
		return nil
	}
}

// loadConfig reads --config and applies the flag overrides.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	path, _ := rootCmd.PersistentFlags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return cfg, err
	}
	applyFlagOverrides(cmd, &cfg)
	return cfg, nil
}

func applyFlagOverrides(cmd *cobra.Command, cfg *config.Config) {
	if level, _ := rootCmd.PersistentFlags().GetString("log-level"); level != "" {
		cfg.Log.Level = level
		cfg.Log.Debug = false
	}
	if db, _ := rootCmd.PersistentFlags().GetString("db"); db != "" {
		cfg.DBPath = db
	}
	// The panel owns the terminal; logs go to a file or nowhere.
	if cmd.Name() == "panel" && (cfg.Log.Output == "" || cfg.Log.Output == "stderr" || cfg.Log.Output == "stdout") {
		cfg.Log.Output = os.DevNull
	}
}
