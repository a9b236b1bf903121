// Package cover finds the cover image of a converted book and keeps every Markdown
// document of the result pointing at it.
package cover

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// ImagesDir is the subdirectory of a result directory that holds extracted images.
const ImagesDir = "images"

// DefaultCanonicalName is the file name every reconciled document references.
const DefaultCanonicalName = "cover.jpg"

// candidates lists exact cover names in priority order. The external tool usually
// writes cover-image.*, older versions and hand-made bundles use cover.*.
var candidates = []string{
	"cover-image.png",
	"cover-image.jpg",
	"cover-image.jpeg",
	"cover.png",
	"cover.jpg",
	"cover.jpeg",
	"cover.gif",
}

var imageExts = []string{".png", ".jpg", ".jpeg", ".gif"}

// Locate returns the file name of the cover inside outputDir/images.
// A missing images directory or a directory without any cover-like file is reported
// as found == false with a nil error; only failing to list an existing directory is
// an error.
func Locate(outputDir string) (name string, found bool, err error) {
	entries, err := os.ReadDir(filepath.Join(outputDir, ImagesDir))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("listing images: %w", err)
	}

	names := make(map[string]bool, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			names[e.Name()] = true
		}
	}

	for _, c := range candidates {
		if names[c] {
			return c, true, nil
		}
	}

	for _, e := range entries {
		if !e.IsDir() && IsCoverLike(e.Name()) {
			return e.Name(), true, nil
		}
	}

	return "", false, nil
}

// IsCoverLike reports whether name contains "cover" and carries an image extension,
// both case-insensitively.
func IsCoverLike(name string) bool {
	lower := strings.ToLower(name)
	return strings.Contains(lower, "cover") && HasImageExt(lower)
}

// HasImageExt reports whether name ends in one of the image extensions the locator accepts.
func HasImageExt(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	for _, e := range imageExts {
		if ext == e {
			return true
		}
	}
	return false
}
