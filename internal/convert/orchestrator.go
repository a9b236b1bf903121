// Package convert drives conversions: the external EPUB-to-Markdown tool for forward
// conversions and EPUB generation for reverse ones.
package convert

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/unalkalkan/epub2md-web/internal/archive"
	"github.com/unalkalkan/epub2md-web/internal/cover"
	"github.com/unalkalkan/epub2md-web/internal/epubgen"
	"github.com/unalkalkan/epub2md-web/internal/storage"
	"github.com/unalkalkan/epub2md-web/internal/util"
	"github.com/unalkalkan/epub2md-web/internal/workspace"
	"github.com/unalkalkan/epub2md-web/pkg/types"
)

// DefaultTimeout bounds one run of the external tool
const DefaultTimeout = 5 * time.Minute

// resultExts are the files reported back to the client after a forward conversion.
var resultExts = map[string]bool{".md": true, ".png": true, ".jpg": true, ".jpeg": true, ".gif": true}

// Options configures an Orchestrator
type Options struct {
	Command string
	// Args are placed before the derived arguments, e.g. a script path for an interpreter.
	Args    []string
	Timeout time.Duration
	Runner  CommandRunner
	Limits  archive.Limits
}

// Orchestrator runs conversions against the workspace
type Orchestrator struct {
	ws         *workspace.Workspace
	reconciler *cover.Reconciler
	generator  *epubgen.Generator
	artifacts  storage.Adapter
	runner     CommandRunner
	command    string
	args       []string
	timeout    time.Duration
	limits     archive.Limits
	logger     *slog.Logger
}

// NewOrchestrator creates an orchestrator
func NewOrchestrator(ws *workspace.Workspace, reconciler *cover.Reconciler, generator *epubgen.Generator, artifacts storage.Adapter, opts Options, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	runner := opts.Runner
	if runner == nil {
		runner = ExecRunner{}
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Orchestrator{
		ws:         ws,
		reconciler: reconciler,
		generator:  generator,
		artifacts:  artifacts,
		runner:     runner,
		command:    opts.Command,
		args:       opts.Args,
		timeout:    timeout,
		limits:     opts.Limits,
		logger:     logger.With("component", "convert"),
	}
}

// Command returns the configured external tool command
func (o *Orchestrator) Command() string {
	return o.command
}

// Convert runs the external tool on an uploaded EPUB, moves its output into the
// outputs directory and reconciles the cover. The result id is the upload's name
// without extension, so result and upload share a token.
func (o *Orchestrator) Convert(ctx context.Context, req types.ConversionRequest) (*types.ConversionResult, error) {
	if req.Mode != "" && req.Mode != types.ModeForward {
		return nil, fmt.Errorf("%w: %s is not a forward conversion", types.ErrValidation, req.Mode)
	}
	if !strings.EqualFold(filepath.Ext(req.SourcePath), ".epub") {
		return nil, fmt.Errorf("%w: source must be an .epub file", types.ErrValidation)
	}

	resultID := util.Stem(filepath.Base(req.SourcePath))
	end, err := o.ws.BeginConversion(resultID)
	if err != nil {
		return nil, err
	}
	defer end()
	release := o.ws.Acquire(resultID)
	defer release()

	log := o.logger.With("result", resultID)
	args := append(append([]string{}, o.args...), BuildArgs(req.Options, req.SourcePath)...)
	log.Info("running converter", "command", o.command, "args", args)

	output, err := o.run(ctx, args)
	if err != nil {
		log.Error("converter failed", "error", err)
		return nil, err
	}

	dir, document, location, err := o.locate(output, req.SourcePath)
	if err != nil {
		return nil, err
	}
	if location == types.LocationDerived {
		log.Warn("converter did not report its output location, using derived directory", "dir", dir)
	}

	target, err := o.ws.ResultTarget(resultID)
	if err != nil {
		return nil, err
	}
	if err := moveResult(dir, target); err != nil {
		return nil, err
	}

	outcome := o.reconciler.Reconcile(target, document)
	files, err := listResultFiles(target)
	if err != nil {
		return nil, fmt.Errorf("failed to list result files: %w", err)
	}

	result := &types.ConversionResult{
		ResultID:        resultID,
		OutputDir:       target,
		Files:           files,
		Success:         true,
		RawOutput:       output,
		Location:        location,
		CoverReconciled: outcome.Found && len(outcome.Failed()) == 0,
	}
	if document != "" {
		result.OutputFile = filepath.Join(target, document)
	}
	log.Info("conversion finished", "files", len(files), "location", location, "cover", result.CoverReconciled)
	return result, nil
}

// run executes the tool under its own deadline. The request context only contributes
// its values: a client going away does not abort a running conversion.
func (o *Orchestrator) run(ctx context.Context, args []string) (string, error) {
	runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.timeout)
	defer cancel()

	output, err := o.runner.Run(runCtx, o.command, args)
	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		return output, &types.ExternalToolError{
			Command:  o.command,
			Output:   output,
			Timeout:  o.timeout,
			TimedOut: true,
			Err:      context.DeadlineExceeded,
		}
	}
	if err != nil {
		return output, &types.ExternalToolError{Command: o.command, Output: output, Err: err}
	}
	return output, nil
}

// locate finds the directory the tool wrote. Reported paths are reduced to their base
// name and looked up next to the source file, which is where the tool writes; nothing
// outside that directory is ever moved.
func (o *Orchestrator) locate(output, sourcePath string) (dir, document string, location types.LocationSource, err error) {
	sourceDir := filepath.Dir(sourcePath)

	switch parsed := ParseToolOutput(output); parsed.Kind {
	case OutputMergedFile:
		reported := filepath.FromSlash(parsed.Path)
		candidate := filepath.Join(sourceDir, filepath.Base(filepath.Dir(reported)))
		if isResultDir(candidate, sourceDir) {
			return candidate, filepath.Base(reported), types.LocationMerged, nil
		}
		o.logger.Warn("reported merged file not found", "path", parsed.Path)
	case OutputDirectory:
		candidate := filepath.Join(sourceDir, filepath.Base(filepath.FromSlash(parsed.Path)))
		if isResultDir(candidate, sourceDir) {
			return candidate, "", types.LocationDirectory, nil
		}
		o.logger.Warn("reported output directory not found", "path", parsed.Path)
	}

	derived := filepath.Join(sourceDir, util.Stem(filepath.Base(sourcePath)))
	if isResultDir(derived, sourceDir) {
		return derived, "", types.LocationDerived, nil
	}
	return "", "", "", &types.ExternalToolError{
		Command: o.command,
		Output:  output,
		Err:     fmt.Errorf("output directory not found"),
	}
}

func isResultDir(candidate, sourceDir string) bool {
	if filepath.Clean(candidate) == filepath.Clean(sourceDir) {
		return false
	}
	info, err := os.Stat(candidate)
	return err == nil && info.IsDir()
}

// moveResult renames dir to target, replacing an earlier result of the same upload.
func moveResult(dir, target string) error {
	if filepath.Clean(dir) == filepath.Clean(target) {
		return nil
	}
	if err := os.RemoveAll(target); err != nil {
		return fmt.Errorf("failed to replace previous result: %w", err)
	}
	if err := os.Rename(dir, target); err != nil {
		return fmt.Errorf("failed to move result into outputs: %w", err)
	}
	return nil
}

// listResultFiles returns slash-separated paths of documents and images below dir.
func listResultFiles(dir string) ([]string, error) {
	files := []string{}
	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.Type().IsRegular() && resultExts[strings.ToLower(filepath.Ext(p))] {
			rel, err := filepath.Rel(dir, p)
			if err != nil {
				return err
			}
			files = append(files, filepath.ToSlash(rel))
		}
		return nil
	})
	sort.Strings(files)
	return files, err
}

// CheckTool runs the tool with -h and reports whether it answered like the converter.
func (o *Orchestrator) CheckTool(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	output, err := o.runner.Run(ctx, o.command, append(append([]string{}, o.args...), "-h"))
	if err != nil {
		return &types.ExternalToolError{Command: o.command, Output: output, Err: err}
	}
	if !strings.Contains(strings.ToLower(output), "epub2md") {
		return fmt.Errorf("%s does not look like epub2md", o.command)
	}
	return nil
}
