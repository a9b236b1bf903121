package archive

import (
	"archive/zip"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/unalkalkan/epub2md-web/internal/util"
	"github.com/unalkalkan/epub2md-web/pkg/types"
)

// Limits bounds what Extract accepts from an untrusted archive
type Limits struct {
	MaxEntries    int
	MaxTotalBytes int64
}

// DefaultLimits are used when a zero Limits is passed
var DefaultLimits = Limits{MaxEntries: 10000, MaxTotalBytes: 1 << 30}

// Extract unpacks the ZIP at src into dest. Entries that would land outside dest are
// rejected with types.ErrPathSecurity; symlinks are ignored.
func Extract(src, dest string, limits Limits) error {
	if limits.MaxEntries <= 0 {
		limits.MaxEntries = DefaultLimits.MaxEntries
	}
	if limits.MaxTotalBytes <= 0 {
		limits.MaxTotalBytes = DefaultLimits.MaxTotalBytes
	}

	zr, err := zip.OpenReader(src)
	if errors.Is(err, zip.ErrInsecurePath) {
		zr.Close()
		return fmt.Errorf("%w: archive contains unsafe entry names", types.ErrPathSecurity)
	}
	if err != nil {
		return fmt.Errorf("%w: not a readable zip archive: %v", types.ErrValidation, err)
	}
	defer zr.Close()

	if len(zr.File) > limits.MaxEntries {
		return fmt.Errorf("%w: archive has %d entries, limit is %d", types.ErrValidation, len(zr.File), limits.MaxEntries)
	}

	if err := os.MkdirAll(dest, 0755); err != nil {
		return fmt.Errorf("failed to create extraction directory: %w", err)
	}

	remaining := limits.MaxTotalBytes
	for _, f := range zr.File {
		name := strings.TrimLeft(strings.ReplaceAll(f.Name, `\`, "/"), "/")
		if name == "" || f.Name != strings.TrimLeft(f.Name, `/\`) {
			return fmt.Errorf("%w: absolute entry %q", types.ErrPathSecurity, f.Name)
		}
		target, err := util.SafeJoin(dest, name)
		if err != nil {
			return fmt.Errorf("entry %q: %w", f.Name, err)
		}

		mode := f.Mode()
		switch {
		case mode.IsDir():
			if err := os.MkdirAll(target, 0755); err != nil {
				return fmt.Errorf("failed to create %s: %w", name, err)
			}
			continue
		case !mode.IsRegular():
			continue
		}

		n, err := extractFile(f, target, remaining)
		if err != nil {
			return err
		}
		remaining -= n
	}
	return nil
}

var errTooLarge = errors.New("archive exceeds size limit")

func extractFile(f *zip.File, target string, remaining int64) (int64, error) {
	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return 0, fmt.Errorf("failed to create directory for %s: %w", f.Name, err)
	}

	rc, err := f.Open()
	if err != nil {
		return 0, fmt.Errorf("%w: failed to open entry %q: %v", types.ErrValidation, f.Name, err)
	}
	defer rc.Close()

	out, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return 0, fmt.Errorf("failed to create %s: %w", f.Name, err)
	}

	n, err := io.Copy(out, io.LimitReader(rc, remaining+1))
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return n, fmt.Errorf("%w: failed to extract %q: %v", types.ErrValidation, f.Name, err)
	}
	if n > remaining {
		return n, fmt.Errorf("%w: %w", types.ErrValidation, errTooLarge)
	}
	return n, nil
}
