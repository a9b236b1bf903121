// Package archive builds the downloadable ZIP of a conversion result and extracts
// uploaded Markdown archives.
package archive

import (
	"archive/zip"
	"compress/flate"
	"context"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"unicode"

	"github.com/unalkalkan/epub2md-web/internal/cover"
)

// Assembler streams result directories as ZIP archives
type Assembler struct {
	canonical string
	logger    *slog.Logger
}

// NewAssembler creates an assembler. canonical is the canonical cover name inside images/.
func NewAssembler(canonical string, logger *slog.Logger) *Assembler {
	if canonical == "" {
		canonical = cover.DefaultCanonicalName
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Assembler{canonical: canonical, logger: logger.With("component", "archive")}
}

// BaseName picks the archive and folder name: the sanitized custom name if one is
// given, otherwise the result directory name.
func BaseName(custom, resultDir string) string {
	if name := SanitizeBaseName(custom); name != "" {
		return name
	}
	return filepath.Base(resultDir)
}

// SanitizeBaseName trims a user-supplied name, strips a trailing ".md" and removes
// separators and control characters.
func SanitizeBaseName(name string) string {
	name = strings.TrimSpace(name)
	if len(name) >= 3 && strings.EqualFold(name[len(name)-3:], ".md") {
		name = name[:len(name)-3]
	}
	name = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) || strings.ContainsRune(`/\:*?"<>|`, r) {
			return -1
		}
		return r
	}, name)
	name = strings.Trim(strings.TrimSpace(name), ".")
	return name
}

// ContentDisposition returns an attachment header value with an RFC 5987 encoded file name.
func ContentDisposition(fileName string) string {
	return "attachment; filename*=UTF-8''" + url.PathEscape(fileName)
}

// Build writes a ZIP of resultDir to w with every entry under baseName/.
//
// If images/ holds a cover-image.* file but no canonical cover, every image is added
// individually and the cover is added a second time under the canonical name. Otherwise
// images/ is copied verbatim. Other regular files at the top level are included;
// other subdirectories are skipped.
func (a *Assembler) Build(ctx context.Context, w io.Writer, resultDir, baseName string) error {
	zw := zip.NewWriter(w)
	zw.RegisterCompressor(zip.Deflate, func(out io.Writer) (io.WriteCloser, error) {
		return flate.NewWriter(out, flate.BestCompression)
	})

	entries, err := os.ReadDir(resultDir)
	if err != nil {
		return fmt.Errorf("failed to read result directory: %w", err)
	}

	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		name := e.Name()
		full := filepath.Join(resultDir, name)

		switch {
		case e.IsDir() && name == cover.ImagesDir:
			if err := a.addImages(ctx, zw, full, path.Join(baseName, cover.ImagesDir)); err != nil {
				return err
			}
		case e.IsDir():
			a.logger.Info("skipping subdirectory", "dir", name)
		case e.Type().IsRegular():
			if err := addFile(zw, full, path.Join(baseName, name)); err != nil {
				return err
			}
		}
	}

	if err := zw.Close(); err != nil {
		return fmt.Errorf("failed to finalize zip: %w", err)
	}
	return nil
}

func (a *Assembler) addImages(ctx context.Context, zw *zip.Writer, imagesDir, prefix string) error {
	entries, err := os.ReadDir(imagesDir)
	if err != nil {
		return fmt.Errorf("failed to read images: %w", err)
	}

	var coverImage string
	hasCanonical := false
	for _, e := range entries {
		switch {
		case e.Name() == a.canonical:
			hasCanonical = true
		case coverImage == "" && strings.HasPrefix(e.Name(), "cover-image.") && e.Type().IsRegular():
			coverImage = e.Name()
		}
	}

	if coverImage == "" || hasCanonical {
		return addTree(ctx, zw, imagesDir, prefix)
	}

	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		if err := addFile(zw, filepath.Join(imagesDir, e.Name()), path.Join(prefix, e.Name())); err != nil {
			return err
		}
	}
	a.logger.Info("adding cover under canonical name", "from", coverImage, "to", a.canonical)
	return addFile(zw, filepath.Join(imagesDir, coverImage), path.Join(prefix, a.canonical))
}

// addTree adds every regular file below dir in lexical order.
func addTree(ctx context.Context, zw *zip.Writer, dir, prefix string) error {
	var files []string
	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.Type().IsRegular() {
			files = append(files, p)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to walk %s: %w", dir, err)
	}
	sort.Strings(files)

	for _, p := range files {
		if err := ctx.Err(); err != nil {
			return err
		}
		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return err
		}
		if err := addFile(zw, p, path.Join(prefix, filepath.ToSlash(rel))); err != nil {
			return err
		}
	}
	return nil
}

func addFile(zw *zip.Writer, src, name string) error {
	f, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", src, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat %s: %w", src, err)
	}
	header, err := zip.FileInfoHeader(info)
	if err != nil {
		return fmt.Errorf("failed to create header for %s: %w", name, err)
	}
	header.Name = name
	header.Method = zip.Deflate

	dst, err := zw.CreateHeader(header)
	if err != nil {
		return fmt.Errorf("failed to add %s: %w", name, err)
	}
	if _, err := io.Copy(dst, f); err != nil {
		return fmt.Errorf("failed to write %s: %w", name, err)
	}
	return nil
}
