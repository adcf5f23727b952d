package ingest

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeChild writes an executable standing in for the re-invoked binary, so
// the classification logic is testable without building the real one.
func fakeChild(t *testing.T, script string) *Validator {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell-script child processes are not portable to windows")
	}
	bin := filepath.Join(t.TempDir(), "child.sh")
	require.NoError(t, os.WriteFile(bin, []byte("#!/bin/sh\n"+script+"\n"), 0o700))
	return &Validator{Bin: bin, Timeout: 5 * time.Second, Logger: slog.New(slog.DiscardHandler)}
}

func TestValidate_OK(t *testing.T) {
	v := fakeChild(t, "exit 0")
	outcome, err := v.Validate(context.Background(), "some-file.geojson")
	require.NoError(t, err)
	assert.Equal(t, OutcomeOK, outcome)
}

func TestValidate_ParseErrorIsUnreadable(t *testing.T) {
	v := fakeChild(t, "exit 3")
	outcome, err := v.Validate(context.Background(), "some-file.geojson")
	require.NoError(t, err)
	assert.Equal(t, OutcomeUnreadable, outcome)
}

func TestValidate_CrashIsCorrupted(t *testing.T) {
	v := fakeChild(t, "kill -SEGV $$")
	outcome, err := v.Validate(context.Background(), "some-file.geojson")
	require.NoError(t, err)
	assert.Equal(t, OutcomeCorrupted, outcome)
}

func TestValidate_TimeoutIsCorrupted(t *testing.T) {
	v := fakeChild(t, "sleep 10")
	v.Timeout = 100 * time.Millisecond
	outcome, err := v.Validate(context.Background(), "some-file.geojson")
	require.NoError(t, err)
	assert.Equal(t, OutcomeCorrupted, outcome)
}

func TestValidate_MissingBinaryIsHardError(t *testing.T) {
	v := &Validator{
		Bin:     filepath.Join(t.TempDir(), "does-not-exist"),
		Timeout: time.Second,
		Logger:  slog.New(slog.DiscardHandler),
	}
	outcome, err := v.Validate(context.Background(), "some-file.geojson")
	assert.Error(t, err)
	assert.Equal(t, OutcomeUnreadable, outcome)
}

func TestOutcomeString(t *testing.T) {
	assert.Equal(t, "ok", OutcomeOK.String())
	assert.Equal(t, "corrupted", OutcomeCorrupted.String())
	assert.Equal(t, "unreadable", OutcomeUnreadable.String())
}
