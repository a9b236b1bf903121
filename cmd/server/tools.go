package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/unalkalkan/epub2md-web/internal/archive"
	"github.com/unalkalkan/epub2md-web/internal/cover"
	"github.com/unalkalkan/epub2md-web/internal/storage"
	"github.com/unalkalkan/epub2md-web/internal/workspace"
)

var reconcileCmd = &cobra.Command{
	Use:   "reconcile <result-dir>",
	Short: "Ensure every Markdown document in a result directory references its cover",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		document, _ := cmd.Flags().GetString("document")

		logger := newLogger(cfg.Log, os.Stderr)
		r := cover.NewReconciler(cfg.Cover.CanonicalName, cfg.Cover.JPEGQuality, logger)
		outcome := r.Reconcile(args[0], document)

		out := cmd.OutOrStdout()
		if !outcome.Found {
			fmt.Fprintln(out, "no cover found")
			return nil
		}
		fmt.Fprintf(out, "cover: %s -> %s\n", outcome.Cover, outcome.Reference)
		for _, d := range outcome.Documents {
			fmt.Fprintf(out, "  %-10s %s\n", d.Action, d.Name)
		}
		if failed := outcome.Failed(); len(failed) > 0 {
			return fmt.Errorf("%d document(s) could not be reconciled", len(failed))
		}
		return nil
	},
}

var bundleCmd = &cobra.Command{
	Use:   "bundle <result-dir>",
	Short: "Write the download bundle of a result directory to a ZIP file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		name, _ := cmd.Flags().GetString("name")
		output, _ := cmd.Flags().GetString("output")

		baseName := archive.BaseName(name, args[0])
		if output == "" {
			output = baseName + ".zip"
		}

		f, err := os.Create(output)
		if err != nil {
			return fmt.Errorf("failed to create %s: %w", output, err)
		}

		a := archive.NewAssembler(cfg.Cover.CanonicalName, newLogger(cfg.Log, os.Stderr))
		err = a.Build(cmd.Context(), f, args[0], baseName)
		if closeErr := f.Close(); err == nil && closeErr != nil {
			err = fmt.Errorf("failed to close %s: %w", output, closeErr)
		}
		if err != nil {
			os.Remove(output)
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", output)
		return nil
	},
}

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Remove uploads, results and artifacts older than the retention period",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		artifacts, err := storage.NewAdapter(cfg.Storage)
		if err != nil {
			return fmt.Errorf("failed to create storage adapter: %w", err)
		}
		defer artifacts.Close()

		ws, err := workspace.New(workspace.Options{
			UploadsDir: cfg.Workspace.UploadsDir,
			OutputsDir: cfg.Workspace.OutputsDir,
			Retention:  time.Duration(cfg.Workspace.RetentionMinutes) * time.Minute,
			Artifacts:  artifacts,
			Logger:     newLogger(cfg.Log, os.Stderr),
		})
		if err != nil {
			return err
		}
		report := ws.Sweep(cmd.Context())
		fmt.Fprintf(cmd.OutOrStdout(), "removed %d entries, %d artifacts, skipped %d\n",
			len(report.Removed), len(report.Artifacts), report.Skipped)
		return nil
	},
}

func init() {
	reconcileCmd.Flags().String("document", "", "reconcile only this document (merged output)")
	bundleCmd.Flags().StringP("output", "o", "", "output ZIP path (default <name>.zip)")
	bundleCmd.Flags().String("name", "", "base name of the bundle (default the directory name)")

	rootCmd.AddCommand(reconcileCmd, bundleCmd, sweepCmd)
}
