package cover

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"
	"strings"
)

// writeCanonical materialises src under dst. For a .jpg or .jpeg dst, PNG and GIF covers
// are re-encoded as JPEG so the name matches the content. Everything else is copied
// unchanged.
func writeCanonical(src, dst string, quality int) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return fmt.Errorf("reading cover: %w", err)
	}

	out := data
	if isJPEGName(dst) {
		if converted, ok := toJPEG(data, quality); ok {
			out = converted
		}
	}

	if err := os.WriteFile(dst, out, 0o644); err != nil {
		return fmt.Errorf("writing canonical cover: %w", err)
	}
	return nil
}

func isJPEGName(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".jpg", ".jpeg":
		return true
	}
	return false
}

// toJPEG re-encodes data as JPEG when it holds a decodable non-JPEG image.
func toJPEG(data []byte, quality int) ([]byte, bool) {
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil || format == "jpeg" {
		return nil, false
	}

	buf := new(bytes.Buffer)
	if err := jpeg.Encode(buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, false
	}
	return buf.Bytes(), true
}
