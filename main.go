// Package main provides the cardscan command line.
package main

import (
	"io"
	"log/slog"
	"os"

	"cardscan/internal/config"
	"cardscan/internal/logger"
	"cardscan/internal/version"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

const appName = "cardscan"

// globalFlags are shared by every subcommand.
type globalFlags struct {
	configPath string
	logLevel   string
	logFile    string
}

var (
	flags     globalFlags
	cfg       *config.Config
	logCloser io.Closer
)

func loadConfig(cmd *cobra.Command, args []string) error {
	path := flags.configPath
	if path == "" {
		path = config.DefaultPath()
	}
	c, err := config.LoadFromFile(path)
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("log-level") || c.Log.Level == "" {
		c.Log.Level = flags.logLevel
	}
	if flags.logFile != "" {
		c.Log.File = flags.logFile
	}
	cfg = c

	closer, err := logger.Init(cfg.Log.File, cfg.Log.Level)
	if err != nil {
		return err
	}
	logCloser = closer
	slog.Debug("configuration loaded", "path", path)
	return nil
}

func main() {
	rootCmd := &cobra.Command{
		Use:   appName,
		Short: "Trading-card boundary detection and condition metrics",
		Long: color.New(color.FgHiMagenta).Sprintf(
			"Find the card in a photo, rectify it and measure centering, edges, corners and surface. %s",
			color.New(color.FgBlue).Sprintf("(%s)", version.Version),
		),
		SilenceUsage:      true,
		PersistentPreRunE: loadConfig,
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if logCloser != nil {
				logCloser.Close() // nolint: errcheck
			}
		},
	}

	rootCmd.PersistentFlags().StringVarP(&flags.configPath, "config", "c", "", "Config file (default $XDG_CONFIG_HOME/cardscan/config.toml)")
	rootCmd.PersistentFlags().StringVar(&flags.logLevel, "log-level", "info", "Log level: debug, info, warn, error")
	rootCmd.PersistentFlags().StringVar(&flags.logFile, "log-file", "", "Append logs to this file instead of stderr")

	rootCmd.AddCommand(newAnalyzeCmd(), newServeCmd(), newProfilesCmd(), newVersionCmd())

	if err := rootCmd.Execute(); err != nil {
		slog.Error("Error executing command", "error", err)
		os.Exit(1)
	}
}
