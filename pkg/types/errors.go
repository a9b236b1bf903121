package types

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Sentinel errors shared across packages. Wrap them with %w and classify with errors.Is.
var (
	ErrValidation      = errors.New("invalid request")
	ErrNotFound        = errors.New("not found")
	ErrPathSecurity    = errors.New("path escapes allowed root")
	ErrNoMarkdownFound = errors.New("no markdown file found in archive")
)

// ExternalToolError reports a failed or timed-out run of the external conversion tool.
// Output holds the captured stdout and stderr for diagnostics.
type ExternalToolError struct {
	Command  string
	Output   string
	Timeout  time.Duration
	TimedOut bool
	Err      error
}

func (e *ExternalToolError) Error() string {
	var b strings.Builder
	if e.TimedOut {
		fmt.Fprintf(&b, "external tool %q timed out after %s", e.Command, e.Timeout)
	} else {
		fmt.Fprintf(&b, "external tool %q failed", e.Command)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

func (e *ExternalToolError) Unwrap() error {
	return e.Err
}
