package convert

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/unalkalkan/epub2md-web/internal/archive"
	"github.com/unalkalkan/epub2md-web/internal/epubgen"
	"github.com/unalkalkan/epub2md-web/internal/util"
	"github.com/unalkalkan/epub2md-web/pkg/types"
)

// ReverseResult identifies a generated EPUB in the artifact store
type ReverseResult struct {
	DownloadID string `json:"downloadId"`
	FileName   string `json:"fileName"`
	Title      string `json:"title"`
	Size       int64  `json:"size"`
}

// ConvertReverse unpacks an uploaded ZIP of Markdown and images, renders the first
// Markdown file it contains into an EPUB and stores it under epubs/<id>/.
func (o *Orchestrator) ConvertReverse(ctx context.Context, req types.ConversionRequest) (*ReverseResult, error) {
	if req.Mode != "" && req.Mode != types.ModeReverse {
		return nil, fmt.Errorf("%w: %s is not a reverse conversion", types.ErrValidation, req.Mode)
	}
	if !strings.EqualFold(filepath.Ext(req.SourcePath), ".zip") {
		return nil, fmt.Errorf("%w: source must be a .zip file", types.ErrValidation)
	}
	if o.artifacts == nil || o.generator == nil {
		return nil, errors.New("reverse conversion is not configured")
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

	workDir, err := o.ws.ResultTarget(resultID)
	if err != nil {
		return nil, err
	}
	if err := os.RemoveAll(workDir); err != nil {
		return nil, fmt.Errorf("failed to reset work directory: %w", err)
	}
	defer func() {
		if err := os.RemoveAll(workDir); err != nil {
			log.Warn("removing work directory failed", "error", err)
		}
	}()

	if err := archive.Extract(req.SourcePath, workDir, o.limits); err != nil {
		return nil, err
	}

	markdown, err := epubgen.FindMarkdown(workDir)
	if err != nil {
		return nil, err
	}
	log.Info("rendering markdown", "file", markdown)

	name := outputFileName(req.OutputName, markdown)
	var buf bytes.Buffer
	book, err := o.generator.Generate(ctx, &buf, markdown, workDir, util.Stem(name))
	if err != nil {
		return nil, err
	}

	size := int64(buf.Len())
	if err := o.artifacts.Put(ctx, util.EPUBArtifactPath(resultID, name), &buf); err != nil {
		return nil, fmt.Errorf("failed to store epub: %w", err)
	}

	log.Info("reverse conversion finished", "file", name, "size", size)
	return &ReverseResult{DownloadID: resultID, FileName: name, Title: book.Title, Size: size}, nil
}

// outputFileName picks the EPUB file name from the requested name, falling back to the
// Markdown file's name.
func outputFileName(requested, markdown string) string {
	name := util.SanitizeFileName(requested)
	if strings.EqualFold(filepath.Ext(name), ".epub") {
		name = util.Stem(name)
	}
	name = strings.TrimSpace(name)
	if name == "" {
		name = util.Stem(filepath.Base(markdown))
	}
	return name + ".epub"
}

// ArtifactName returns the file name of the EPUB stored for a download id.
func (o *Orchestrator) ArtifactName(ctx context.Context, id string) (string, error) {
	if util.SanitizeFileName(id) != id || id == "" {
		return "", fmt.Errorf("%w: %q", types.ErrPathSecurity, id)
	}
	if o.artifacts == nil {
		return "", fmt.Errorf("epub %s: %w", id, types.ErrNotFound)
	}
	paths, err := o.artifacts.List(ctx, util.EPUBArtifactPath(id, ""))
	if err != nil {
		return "", err
	}
	prefix := util.EPUBArtifactPath(id, "") + "/"
	for _, p := range paths {
		if strings.HasPrefix(p, prefix) && strings.HasSuffix(strings.ToLower(p), ".epub") {
			return strings.TrimPrefix(p, prefix), nil
		}
	}
	return "", fmt.Errorf("epub %s: %w", id, types.ErrNotFound)
}
