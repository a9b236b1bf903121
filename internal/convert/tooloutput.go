package convert

import (
	"regexp"
	"strings"

	"github.com/unalkalkan/epub2md-web/pkg/types"
)

// BuildArgs derives the external tool's arguments from the options. The source path
// goes last. Arguments are passed as argv, never through a shell, so no quoting is needed.
func BuildArgs(opts types.ConversionOptions, sourcePath string) []string {
	var args []string
	if opts.Autocorrect {
		args = append(args, "-a")
	} else {
		args = append(args, "-c")
	}
	if opts.Merge {
		if name := strings.TrimSpace(opts.MergeFileName); name != "" && name != types.DefaultMergeFileName {
			args = append(args, "--merge="+name)
		} else {
			args = append(args, "--merge")
		}
	}
	if opts.Localize {
		args = append(args, "--localize")
	}
	return append(args, sourcePath)
}

// OutputKind classifies what the external tool reported
type OutputKind int

const (
	OutputUnknown OutputKind = iota
	// OutputMergedFile means the tool reported the path of a single merged document
	OutputMergedFile
	// OutputDirectory means the tool reported the directory it wrote into
	OutputDirectory
)

// ToolOutput is the location recovered from the tool's printed output
type ToolOutput struct {
	Kind OutputKind
	Path string
}

// The merged pattern is tried first: "Output file: x" would otherwise also satisfy
// the directory pattern and report the file as a directory.
var (
	mergedPattern    = regexp.MustCompile(`(?im)output file[:\s]+(\S.*?)\s*$`)
	directoryPattern = regexp.MustCompile(`(?im)output(?: dir(?:ectory)?)?[:\s]+(\S.*?)\s*$`)
	ansiPattern      = regexp.MustCompile(`\x1b\[[0-9;]*[A-Za-z]`)
)

// ParseToolOutput recovers the output location from free-form tool output.
func ParseToolOutput(text string) ToolOutput {
	text = ansiPattern.ReplaceAllString(text, "")
	if m := mergedPattern.FindStringSubmatch(text); m != nil {
		return ToolOutput{Kind: OutputMergedFile, Path: trimQuotes(m[1])}
	}
	if m := directoryPattern.FindStringSubmatch(text); m != nil {
		return ToolOutput{Kind: OutputDirectory, Path: trimQuotes(m[1])}
	}
	return ToolOutput{Kind: OutputUnknown}
}

func trimQuotes(s string) string {
	return strings.Trim(strings.TrimSpace(s), `"'`+"`")
}
