package convert

import (
	"bytes"
	"context"
	"os/exec"
	"sync"
	"time"
)

// CommandRunner runs an external command and returns its combined output
type CommandRunner interface {
	Run(ctx context.Context, name string, args []string) (string, error)
}

// DefaultWaitDelay is how long Run waits for output pipes after the process is killed
const DefaultWaitDelay = 5 * time.Second

// ExecRunner runs commands with os/exec. Output beyond MaxOutput bytes is dropped.
type ExecRunner struct {
	MaxOutput int
	WaitDelay time.Duration
}

// Run starts the command and waits for it. Cancelling ctx kills the process.
func (r ExecRunner) Run(ctx context.Context, name string, args []string) (string, error) {
	max := r.MaxOutput
	if max <= 0 {
		max = 10 << 20
	}
	out := &cappedBuffer{max: max}

	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = out
	cmd.Stderr = out
	// Children that inherited the pipes must not keep Wait blocked after a kill.
	cmd.WaitDelay = r.WaitDelay
	if cmd.WaitDelay <= 0 {
		cmd.WaitDelay = DefaultWaitDelay
	}

	err := cmd.Run()
	return out.String(), err
}

// cappedBuffer is a goroutine-safe buffer that keeps the first max bytes written.
type cappedBuffer struct {
	mu        sync.Mutex
	buf       bytes.Buffer
	max       int
	truncated bool
}

func (b *cappedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if room := b.max - b.buf.Len(); room < len(p) {
		if room > 0 {
			b.buf.Write(p[:room])
		}
		b.truncated = true
		return len(p), nil
	}
	return b.buf.Write(p)
}

func (b *cappedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.truncated {
		return b.buf.String() + "\n[output truncated]"
	}
	return b.buf.String()
}
