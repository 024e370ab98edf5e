package main

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/martinemde/ralphloop/loop"
)

func TestExitCodeFor(t *testing.T) {
	tests := []struct {
		name   string
		result *loop.Result
		want   int
	}{
		{"nil result", nil, exitCancelled},
		{"complete", &loop.Result{State: loop.StateComplete}, exitSuccess},
		{"cancelled", &loop.Result{State: loop.StateCancelled, Err: loop.ErrCancelled}, exitCancelled},
		{"timeout", &loop.Result{State: loop.StateFailed, Err: loop.ErrTimeout}, exitTimeout},
		{"deadline exceeded", &loop.Result{State: loop.StateFailed, Err: context.DeadlineExceeded}, exitTimeout},
		{"max iterations", &loop.Result{State: loop.StateFailed, Err: loop.ErrMaxIterations}, exitMaxIterations},
		{"generic failure", &loop.Result{State: loop.StateFailed, Err: errors.New("boom")}, exitFailed},
		{"failed without error", &loop.Result{State: loop.StateFailed}, exitFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, exitCodeFor(tt.result))
		})
	}
}

func TestResolvePromptDirectText(t *testing.T) {
	got, err := resolvePrompt([]string{"Fix the bug"})
	require.NoError(t, err)
	assert.Equal(t, "Fix the bug", got)
}

func TestResolvePromptMarkdownFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "task.md")
	require.NoError(t, os.WriteFile(path, []byte("# Task\nDo the thing."), 0o644))

	got, err := resolvePrompt([]string{path})
	require.NoError(t, err)
	assert.Contains(t, got, "Do the thing.")
}

func TestResolvePromptRejectsNonMarkdownFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "task.txt")
	require.NoError(t, os.WriteFile(path, []byte("nope"), 0o644))

	_, err := resolvePrompt([]string{path})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Markdown")
}

func TestResolvePromptRejectsDirectory(t *testing.T) {
	_, err := resolvePrompt([]string{t.TempDir()})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "directory")
}

func TestValidateRunConfig(t *testing.T) {
	valid := &loop.Config{Prompt: "Task", MaxIterations: 10, Timeout: time.Minute}
	assert.NoError(t, validateRunConfig(valid))

	noPrompt := &loop.Config{MaxIterations: 10, Timeout: time.Minute}
	assert.Error(t, validateRunConfig(noPrompt))

	badIterations := &loop.Config{Prompt: "Task", MaxIterations: 0, Timeout: time.Minute}
	assert.Error(t, validateRunConfig(badIterations))

	badTimeout := &loop.Config{Prompt: "Task", MaxIterations: 10, Timeout: -time.Second}
	assert.Error(t, validateRunConfig(badTimeout))
}

func TestNewLogger(t *testing.T) {
	for _, level := range []string{"debug", "info", "warn", "error", "WARN"} {
		logger, err := newLogger(level)
		require.NoError(t, err, level)
		assert.NotNil(t, logger)
	}

	_, err := newLogger("verbose")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid log-level")
}
