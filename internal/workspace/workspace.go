// Package workspace owns the ephemeral upload and output directories: naming of
// stored files, path resolution for untrusted names, in-use tracking and cleanup.
package workspace

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/unalkalkan/epub2md-web/internal/storage"
	"github.com/unalkalkan/epub2md-web/internal/util"
	"github.com/unalkalkan/epub2md-web/pkg/types"
)

// KeepFile is never removed by sweeps.
const KeepFile = ".gitkeep"

// Options configures a Workspace
type Options struct {
	UploadsDir   string
	OutputsDir   string
	Retention    time.Duration
	CleanupDelay time.Duration
	// Artifacts is the store for generated EPUBs. Nil disables artifact sweeps.
	Artifacts storage.Adapter
	Logger    *slog.Logger
}

// Workspace manages uploads and conversion results on the local filesystem
type Workspace struct {
	uploadsDir   string
	outputsDir   string
	retention    time.Duration
	cleanupDelay time.Duration
	artifacts    storage.Adapter
	logger       *slog.Logger

	mu      sync.Mutex
	inUse   map[string]int
	running map[string]struct{}

	now func() time.Time
}

// New creates the workspace directories if needed
func New(opts Options) (*Workspace, error) {
	if opts.UploadsDir == "" || opts.OutputsDir == "" {
		return nil, fmt.Errorf("%w: uploads and outputs directories are required", types.ErrValidation)
	}
	for _, dir := range []string{opts.UploadsDir, opts.OutputsDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create workspace directory %s: %w", dir, err)
		}
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	retention := opts.Retention
	if retention <= 0 {
		retention = time.Hour
	}

	return &Workspace{
		uploadsDir:   opts.UploadsDir,
		outputsDir:   opts.OutputsDir,
		retention:    retention,
		cleanupDelay: opts.CleanupDelay,
		artifacts:    opts.Artifacts,
		logger:       logger.With("component", "workspace"),
		inUse:        make(map[string]int),
		running:      make(map[string]struct{}),
		now:          time.Now,
	}, nil
}

// NewToken returns a unique "<unix-millis>-<random>" prefix for workspace entries.
func NewToken() string {
	return fmt.Sprintf("%d-%s", time.Now().UnixMilli(), uuid.NewString()[:8])
}

// UploadsDir returns the uploads directory
func (w *Workspace) UploadsDir() string { return w.uploadsDir }

// OutputsDir returns the outputs directory
func (w *Workspace) OutputsDir() string { return w.outputsDir }

// ModeForUpload maps an upload file name to the conversion it feeds.
func ModeForUpload(name string) (types.Mode, error) {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".epub":
		return types.ModeForward, nil
	case ".zip":
		return types.ModeReverse, nil
	default:
		return "", fmt.Errorf("%w: only .epub and .zip files are accepted", types.ErrValidation)
	}
}

// StoreUpload writes an uploaded file as "<token>-<sanitized name>" into the uploads directory
func (w *Workspace) StoreUpload(originalName string, r io.Reader) (types.StoredUpload, error) {
	name := util.SanitizeFileName(originalName)
	if name == "" {
		return types.StoredUpload{}, fmt.Errorf("%w: missing file name", types.ErrValidation)
	}
	mode, err := ModeForUpload(name)
	if err != nil {
		return types.StoredUpload{}, err
	}

	stored := NewToken() + "-" + name
	path, err := util.SafeJoin(w.uploadsDir, stored)
	if err != nil {
		return types.StoredUpload{}, err
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return types.StoredUpload{}, fmt.Errorf("failed to create upload: %w", err)
	}
	size, err := io.Copy(f, r)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(path)
		return types.StoredUpload{}, fmt.Errorf("failed to write upload: %w", err)
	}

	w.logger.Info("upload stored", "file", stored, "size", size, "mode", mode)
	return types.StoredUpload{FileName: stored, OriginalName: originalName, Size: size, Mode: mode}, nil
}

// UploadPath resolves a stored upload name to an existing file
func (w *Workspace) UploadPath(name string) (string, error) {
	path, err := util.SafeJoin(w.uploadsDir, name)
	if err != nil {
		return "", err
	}
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		return "", fmt.Errorf("upload %s: %w", name, types.ErrNotFound)
	}
	return path, nil
}

// ResultTarget returns where a result directory with the given id lives, without
// requiring it to exist.
func (w *Workspace) ResultTarget(id string) (string, error) {
	if strings.ContainsAny(id, `/\`) {
		return "", fmt.Errorf("%w: %q", types.ErrPathSecurity, id)
	}
	return util.SafeJoin(w.outputsDir, id)
}

// ResultPath resolves a result id to an existing result directory
func (w *Workspace) ResultPath(id string) (string, error) {
	path, err := w.ResultTarget(id)
	if err != nil {
		return "", err
	}
	info, err := os.Stat(path)
	if err != nil || !info.IsDir() {
		return "", fmt.Errorf("result %s: %w", id, types.ErrNotFound)
	}
	return path, nil
}

// ResultFile resolves a file inside a result directory
func (w *Workspace) ResultFile(id, file string) (string, error) {
	if _, err := w.ResultTarget(id); err != nil {
		return "", err
	}
	path, err := util.SafeJoin(w.outputsDir, id, file)
	if err != nil {
		return "", err
	}
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		return "", fmt.Errorf("file %s/%s: %w", id, file, types.ErrNotFound)
	}
	return path, nil
}

// Acquire marks the token of name as in use until the returned release is called.
// Sweeps and scheduled cleanups skip in-use tokens.
func (w *Workspace) Acquire(name string) (release func()) {
	token := util.TokenOf(name)
	w.mu.Lock()
	w.inUse[token]++
	w.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			w.mu.Lock()
			defer w.mu.Unlock()
			if w.inUse[token]--; w.inUse[token] <= 0 {
				delete(w.inUse, token)
			}
		})
	}
}

// InUse reports whether the token of name is currently acquired
func (w *Workspace) InUse(name string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.inUse[util.TokenOf(name)] > 0
}

// BeginConversion claims exclusive conversion rights for a result id. It fails while
// another conversion of the same id runs.
func (w *Workspace) BeginConversion(id string) (end func(), err error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, busy := w.running[id]; busy {
		return nil, fmt.Errorf("%w: conversion of %s already running", types.ErrValidation, id)
	}
	w.running[id] = struct{}{}

	var once sync.Once
	return func() {
		once.Do(func() {
			w.mu.Lock()
			delete(w.running, id)
			w.mu.Unlock()
		})
	}, nil
}

// ScheduleCleanup removes a result and its uploads after the configured grace delay
func (w *Workspace) ScheduleCleanup(id string) {
	time.AfterFunc(w.cleanupDelay, func() {
		if err := w.RemoveResult(id); err != nil {
			w.logger.Warn("cleanup failed", "result", id, "error", err)
		}
	})
}

// RemoveResult deletes the result directory of id and every upload sharing its token.
// In-use results are left alone.
func (w *Workspace) RemoveResult(id string) error {
	if w.InUse(id) {
		w.logger.Info("result in use, cleanup skipped", "result", id)
		return nil
	}

	path, err := w.ResultTarget(id)
	if err != nil {
		return err
	}
	if err := os.RemoveAll(path); err != nil {
		return fmt.Errorf("failed to remove result: %w", err)
	}
	w.logger.Info("result removed", "result", id)

	entries, err := os.ReadDir(w.uploadsDir)
	if err != nil {
		return fmt.Errorf("failed to list uploads: %w", err)
	}
	prefix := util.TokenOf(id) + "-"
	var errs []error
	for _, e := range entries {
		if e.IsDir() || !strings.HasPrefix(e.Name(), prefix) {
			continue
		}
		if err := os.Remove(filepath.Join(w.uploadsDir, e.Name())); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, err)
			continue
		}
		w.logger.Info("upload removed", "file", e.Name())
	}
	return errors.Join(errs...)
}
