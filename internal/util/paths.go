package util

import (
	"fmt"
	"path"
	"path/filepath"
	"strings"
	"unicode"

	"github.com/unalkalkan/epub2md-web/pkg/types"
)

// SafeJoin joins untrusted relative elements onto root and rejects any result that
// resolves outside root. It never touches the filesystem.
func SafeJoin(root string, elems ...string) (string, error) {
	for _, e := range elems {
		if e == "" {
			return "", fmt.Errorf("%w: empty path element", types.ErrValidation)
		}
		if filepath.IsAbs(e) || strings.HasPrefix(e, "/") || strings.HasPrefix(e, `\`) || strings.ContainsRune(e, 0) {
			return "", fmt.Errorf("%w: %q", types.ErrPathSecurity, e)
		}
	}

	cleanRoot := filepath.Clean(root)
	joined := filepath.Join(append([]string{cleanRoot}, elems...)...)

	rel, err := filepath.Rel(cleanRoot, joined)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %q", types.ErrPathSecurity, filepath.Join(elems...))
	}
	// Windows-style separators smuggled through a Unix path are still traversal attempts.
	for _, e := range elems {
		for _, part := range strings.FieldsFunc(e, func(r rune) bool { return r == '/' || r == '\\' }) {
			if part == ".." {
				return "", fmt.Errorf("%w: %q", types.ErrPathSecurity, e)
			}
		}
	}
	return joined, nil
}

// SanitizeFileName reduces an uploaded or user-supplied name to a single safe path
// element. Directory components, separators and control characters are dropped.
func SanitizeFileName(name string) string {
	name = strings.ReplaceAll(name, `\`, "/")
	name = path.Base(name)
	name = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) || r == '/' || r == ':' {
			return -1
		}
		return r
	}, name)
	name = strings.TrimSpace(name)
	if name == "." || name == ".." {
		return ""
	}
	return name
}

// TokenOf returns the unique token prefix of a workspace entry name: the first two
// dash-separated fields, "<unix-millis>-<random>".
func TokenOf(name string) string {
	parts := strings.SplitN(name, "-", 3)
	if len(parts) < 2 {
		return name
	}
	return parts[0] + "-" + parts[1]
}

// Stem returns the file name without its extension.
func Stem(name string) string {
	return strings.TrimSuffix(name, filepath.Ext(name))
}

// EPUBArtifactPath returns the storage path of a generated EPUB
func EPUBArtifactPath(resultID, fileName string) string {
	return path.Join("epubs", resultID, fileName)
}
