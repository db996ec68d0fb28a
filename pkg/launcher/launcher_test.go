package launcher_test

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SkeLLLa/chrome-pool/pkg/launcher"
)

func TestPortProvisionerAllocates(t *testing.T) {
	var prov launcher.PortProvisioner

	port, err := prov.Allocate()
	require.NoError(t, err)
	assert.Greater(t, port, 0)
	assert.LessOrEqual(t, port, 65535)

	// The port must be bindable right after allocation.
	l, err := net.Listen("tcp", "127.0.0.1:"+strconv.Itoa(port))
	require.NoError(t, err)
	require.NoError(t, l.Close())
}

func TestFixedPort(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		port    launcher.FixedPort
		want    int
		wantErr error
	}{
		{name: "valid", port: 9222, want: 9222},
		{name: "zero", port: 0, wantErr: launcher.ErrNoFreePort},
		{name: "negative", port: -1, wantErr: launcher.ErrNoFreePort},
		{name: "out of range", port: 70000, wantErr: launcher.ErrNoFreePort},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := tt.port.Allocate()
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestArgsComposition(t *testing.T) {
	t.Parallel()

	l := launcher.New(launcher.Options{ExtraFlags: []string{"--lang=en-US"}})
	args := l.Args(9222, "/tmp/profile")

	assert.Equal(t, "--remote-debugging-port=9222", args[0])
	assert.Contains(t, args, "--headless")
	assert.Contains(t, args, "--disable-gpu")
	assert.Contains(t, args, "--disable-extensions")
	assert.Contains(t, args, "--disable-speech-api")
	assert.Contains(t, args, "--user-data-dir=/tmp/profile")
	assert.Contains(t, args, "--lang=en-US")
	assert.Equal(t, "about:blank", args[len(args)-1])
}

func TestArgsWindowed(t *testing.T) {
	t.Parallel()

	l := launcher.New(launcher.Options{Windowed: true})
	assert.NotContains(t, l.Args(9222, "/tmp/profile"), "--headless")
}

func TestFindHonorsChromePath(t *testing.T) {
	fake := filepath.Join(t.TempDir(), "fake-chrome")
	require.NoError(t, os.WriteFile(fake, []byte("#!/bin/sh\n"), 0o755))

	t.Setenv("CHROME_PATH", fake)
	got, err := launcher.Find()
	require.NoError(t, err)
	assert.Equal(t, fake, got)

	t.Setenv("CHROME_PATH", filepath.Join(t.TempDir(), "missing"))
	_, err = launcher.Find()
	require.ErrorIs(t, err, launcher.ErrNotFound)
}

func TestLaunchMissingExecutable(t *testing.T) {
	t.Parallel()

	l := launcher.New(launcher.Options{
		Path:         filepath.Join(t.TempDir(), "no-such-browser"),
		ReadyTimeout: time.Second,
	})
	_, err := l.Launch(context.Background(), 9222)
	require.Error(t, err)
	assert.ErrorContains(t, err, "start")
}

func TestLaunchIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping browser launch in short mode")
	}
	if _, err := launcher.Find(); err != nil {
		t.Skip("no browser executable available")
	}

	var prov launcher.PortProvisioner
	port, err := prov.Allocate()
	require.NoError(t, err)

	l := launcher.New(launcher.Options{ReadyTimeout: 30 * time.Second})
	proc, err := l.Launch(context.Background(), port)
	require.NoError(t, err)
	t.Cleanup(func() { _ = proc.Kill() })

	assert.Greater(t, proc.Pid(), 0)
	require.NoError(t, proc.Kill())
	// Kill is idempotent.
	require.NoError(t, proc.Kill())
}
