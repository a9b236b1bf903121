package util

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/unalkalkan/epub2md-web/pkg/types"
)

func TestSafeJoin(t *testing.T) {
	root := filepath.Join(t.TempDir(), "outputs")

	tests := []struct {
		name    string
		elems   []string
		want    string
		wantErr error
	}{
		{name: "plain file", elems: []string{"book", "chapter1.md"}, want: filepath.Join(root, "book", "chapter1.md")},
		{name: "nested path", elems: []string{"book", "images/cover.jpg"}, want: filepath.Join(root, "book", "images", "cover.jpg")},
		{name: "parent escape", elems: []string{"..", "etc", "passwd"}, wantErr: types.ErrPathSecurity},
		{name: "embedded escape", elems: []string{"book", "../../secret"}, wantErr: types.ErrPathSecurity},
		{name: "escape that stays inside root", elems: []string{"book", "images/../chapter1.md"}, wantErr: types.ErrPathSecurity},
		{name: "backslash escape", elems: []string{"book", `..\..\secret`}, wantErr: types.ErrPathSecurity},
		{name: "absolute path", elems: []string{"/etc/passwd"}, wantErr: types.ErrPathSecurity},
		{name: "null byte", elems: []string{"book\x00.md"}, wantErr: types.ErrPathSecurity},
		{name: "empty element", elems: []string{""}, wantErr: types.ErrValidation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := SafeJoin(root, tt.elems...)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("SafeJoin() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("SafeJoin() unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("SafeJoin() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestSanitizeFileName(t *testing.T) {
	tests := map[string]string{
		"book.epub":            "book.epub",
		"../../evil.epub":      "evil.epub",
		`C:\Users\me\a.epub`:   "a.epub",
		"  spaced name.epub  ": "spaced name.epub",
		"三体.epub":              "三体.epub",
		"line\nbreak.epub":     "linebreak.epub",
		"..":                   "",
	}
	for in, want := range tests {
		if got := SanitizeFileName(in); got != want {
			t.Errorf("SanitizeFileName(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestTokenOf(t *testing.T) {
	if got := TokenOf("1700000000000-ab12cd34-My-Book"); got != "1700000000000-ab12cd34" {
		t.Errorf("TokenOf() = %q", got)
	}
	if got := TokenOf("1700000000000-ab12cd34-book.epub"); got != "1700000000000-ab12cd34" {
		t.Errorf("TokenOf() = %q", got)
	}
	if got := TokenOf("plain"); got != "plain" {
		t.Errorf("TokenOf() = %q", got)
	}
}

func TestEPUBArtifactPath(t *testing.T) {
	if got := EPUBArtifactPath("1-a-book", "book.epub"); got != "epubs/1-a-book/book.epub" {
		t.Errorf("EPUBArtifactPath() = %q", got)
	}
}
