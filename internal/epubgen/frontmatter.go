package epubgen

import (
	"bufio"
	"bytes"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// Metadata is the optional YAML front matter of a Markdown document
type Metadata struct {
	Title    string `yaml:"title"`
	Author   string `yaml:"author"`
	Language string `yaml:"language"`
}

// SplitFrontMatter separates a leading "---" delimited YAML block from the body.
// Documents without front matter are returned unchanged with empty metadata.
func SplitFrontMatter(src []byte) (Metadata, []byte, error) {
	var meta Metadata

	src = bytes.TrimPrefix(src, []byte("\ufeff"))
	if !bytes.HasPrefix(src, []byte("---\n")) && !bytes.HasPrefix(src, []byte("---\r\n")) {
		return meta, src, nil
	}

	start := bytes.IndexByte(src, '\n') + 1
	rest := src[start:]
	offset := 0
	for {
		nl := bytes.IndexByte(rest[offset:], '\n')
		var line []byte
		if nl < 0 {
			line = rest[offset:]
		} else {
			line = rest[offset : offset+nl]
		}
		if trimmed := strings.TrimRight(string(line), "\r"); trimmed == "---" || trimmed == "..." {
			if err := yaml.Unmarshal(rest[:offset], &meta); err != nil {
				return Metadata{}, src, fmt.Errorf("invalid front matter: %w", err)
			}
			end := offset + len(line)
			if nl >= 0 {
				end++
			}
			return meta, rest[end:], nil
		}
		if nl < 0 {
			// Unterminated block: treat the whole file as body.
			return Metadata{}, src, nil
		}
		offset += nl + 1
	}
}

// FirstHeading returns the text of the first level-1 ATX heading outside code fences.
func FirstHeading(body []byte) string {
	inFence := false
	sc := bufio.NewScanner(bytes.NewReader(body))
	sc.Buffer(make([]byte, 0, 64*1024), len(body)+1)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if strings.HasPrefix(line, "```") || strings.HasPrefix(line, "~~~") {
			inFence = !inFence
			continue
		}
		if inFence {
			continue
		}
		if strings.HasPrefix(line, "# ") {
			return strings.TrimSpace(strings.TrimRight(strings.TrimPrefix(line, "# "), "#"))
		}
	}
	return ""
}
