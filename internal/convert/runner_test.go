package convert

import (
	"context"
	"errors"
	"os/exec"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func requireShell(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("needs a POSIX shell")
	}
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
}

func TestExecRunner_CapturesOutput(t *testing.T) {
	requireShell(t)

	out, err := ExecRunner{}.Run(context.Background(), "sh", []string{"-c", "echo out; echo err >&2"})
	require.NoError(t, err)
	assert.Contains(t, out, "out\n")
	assert.Contains(t, out, "err\n")
}

func TestExecRunner_NonZeroExit(t *testing.T) {
	requireShell(t)

	out, err := ExecRunner{}.Run(context.Background(), "sh", []string{"-c", "echo broken; exit 3"})
	var exitErr *exec.ExitError
	require.True(t, errors.As(err, &exitErr))
	assert.Equal(t, 3, exitErr.ExitCode())
	assert.Equal(t, "broken\n", out)
}

func TestExecRunner_TruncatesOutput(t *testing.T) {
	requireShell(t)

	out, err := ExecRunner{MaxOutput: 10}.Run(context.Background(), "sh", []string{"-c", "printf 0123456789abcdef"})
	require.NoError(t, err)
	assert.Equal(t, "0123456789\n[output truncated]", out)
}

func TestExecRunner_DeadlineKillsProcess(t *testing.T) {
	requireShell(t)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := ExecRunner{WaitDelay: 200 * time.Millisecond}.Run(ctx, "sh", []string{"-c", "sleep 10"})
	require.Error(t, err)
	assert.ErrorIs(t, ctx.Err(), context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestExecRunner_WaitDelayBoundsInheritedPipes(t *testing.T) {
	requireShell(t)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	// The background child keeps stdout open after the shell is killed.
	start := time.Now()
	_, err := ExecRunner{WaitDelay: 300 * time.Millisecond}.Run(ctx, "sh", []string{"-c", "sleep 10 & sleep 10"})
	require.Error(t, err)
	assert.Less(t, time.Since(start), 5*time.Second)
}
