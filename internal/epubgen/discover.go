package epubgen

import (
	"errors"
	"io/fs"
	"path/filepath"
	"strings"

	"github.com/unalkalkan/epub2md-web/internal/cover"
	"github.com/unalkalkan/epub2md-web/pkg/types"
)

// hidden reports entries archive tools add that never hold content.
func hidden(name string) bool {
	return name == "__MACOSX" || strings.HasPrefix(name, ".")
}

// findFirst walks root depth-first in lexical order and returns the first regular
// file accepted by match, skipping hidden entries.
func findFirst(root string, match func(name string) bool) (string, error) {
	var found string
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if p != root && hidden(d.Name()) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.Type().IsRegular() && match(d.Name()) {
			found = p
			return filepath.SkipAll
		}
		return nil
	})
	if err != nil && !errors.Is(err, filepath.SkipAll) {
		return "", err
	}
	return found, nil
}

// FindMarkdown returns the first .md file below root. It fails with
// types.ErrNoMarkdownFound when there is none.
func FindMarkdown(root string) (string, error) {
	p, err := findFirst(root, func(name string) bool {
		return strings.EqualFold(filepath.Ext(name), ".md")
	})
	if err != nil {
		return "", err
	}
	if p == "" {
		return "", types.ErrNoMarkdownFound
	}
	return p, nil
}

// FindCover returns the first image below root whose name starts with "cover",
// or "" when there is none.
func FindCover(root string) (string, error) {
	return findFirst(root, func(name string) bool {
		return strings.HasPrefix(strings.ToLower(name), "cover") && cover.HasImageExt(name)
	})
}
