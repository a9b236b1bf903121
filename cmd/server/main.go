// Package main is the entry point for the epub2md-web server and its maintenance commands.
package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/unalkalkan/epub2md-web/internal/config"
	"github.com/unalkalkan/epub2md-web/pkg/types"
)

// version is set at build time via ldflags.
var version = "dev"

var rootCmd = &cobra.Command{
	Use:   "epub2md-web",
	Short: "Web front-end for EPUB to Markdown conversion",
	Long: `epub2md-web accepts EPUB uploads, converts them to Markdown with the external
epub2md tool, makes sure every result carries its cover, and hands the result
back as a ZIP bundle. ZIP bundles of Markdown can be turned back into EPUB.

Run "serve" for the HTTP server. "reconcile" and "bundle" apply the cover and
archive steps to a directory on disk.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "path to configuration file (defaults plus E2M_ environment overrides when empty)")
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version of epub2md-web",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "epub2md-web %s\n", version)
	},
}

// loadConfig reads the file named by --config.
func loadConfig(cmd *cobra.Command) (*types.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// newLogger builds the process logger from the log section.
func newLogger(cfg types.LogConfig, w io.Writer) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
