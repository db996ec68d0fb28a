// Package launcher provisions debugging endpoints and starts browser
// processes bound to them with a fixed headless, minimal-footprint flag
// profile.
package launcher

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"sync"
	"time"
)

var (
	// ErrNoFreePort reports that no debugging endpoint could be allocated.
	ErrNoFreePort = errors.New("no free debugging port")

	// ErrNotFound reports that no browser executable could be located.
	ErrNotFound = errors.New("browser executable not found")
)

const defaultReadyTimeout = 20 * time.Second

// DefaultFlags is the fixed minimal-footprint profile every launched
// browser gets, headless toggle aside.
var DefaultFlags = []string{
	"--disable-background-networking",
	"--disable-background-timer-throttling",
	"--disable-client-side-phishing-detection",
	"--disable-default-apps",
	"--disable-dev-shm-usage",
	"--disable-extensions",
	"--disable-gpu",
	"--disable-hang-monitor",
	"--disable-popup-blocking",
	"--disable-prompt-on-repost",
	"--disable-speech-api",
	"--disable-sync",
	"--disable-translate",
	"--hide-scrollbars",
	"--metrics-recording-only",
	"--mute-audio",
	"--no-default-browser-check",
	"--no-first-run",
	"--password-store=basic",
	"--safebrowsing-disable-auto-update",
	"--use-mock-keychain",
}

// Options configures a Launcher.
type Options struct {
	// Path overrides browser executable discovery.
	Path string

	// ExtraFlags are appended after the default profile.
	ExtraFlags []string

	// UserDataDir holds the browser profile. A throwaway temporary
	// directory is created (and removed on Kill) when empty.
	UserDataDir string

	// Windowed disables headless operation, for local debugging only.
	Windowed bool

	// ReadyTimeout bounds the wait for the DevTools endpoint after the
	// process starts. Defaults to 20s.
	ReadyTimeout time.Duration
}

// Launcher starts browser processes for a session pool.
type Launcher struct {
	opts Options
}

// New returns a Launcher with the given options.
func New(opts Options) *Launcher {
	if opts.ReadyTimeout <= 0 {
		opts.ReadyTimeout = defaultReadyTimeout
	}
	return &Launcher{opts: opts}
}

// Process is the exclusive ownership handle over one launched browser.
type Process struct {
	cmd     *exec.Cmd
	dataDir string
	ownsDir bool
	once    sync.Once
	killErr error
}

// Kill terminates the browser process, reaps it and removes the throwaway
// profile directory. It is safe to call more than once; later calls return
// the first result.
func (p *Process) Kill() error {
	p.once.Do(func() {
		if err := p.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
			p.killErr = fmt.Errorf("kill browser process: %w", err)
		}
		// Reap regardless; the wait error after a kill is expected.
		_ = p.cmd.Wait()
		if p.ownsDir {
			_ = os.RemoveAll(p.dataDir)
		}
	})
	return p.killErr
}

// Pid returns the browser's process id.
func (p *Process) Pid() int {
	return p.cmd.Process.Pid
}

// Launch starts the browser bound to port and waits until its DevTools
// endpoint answers version queries. The returned Process is not tied to
// ctx; it lives until Kill.
func (l *Launcher) Launch(ctx context.Context, port int) (*Process, error) {
	path := l.opts.Path
	if path == "" {
		var err error
		if path, err = Find(); err != nil {
			return nil, err
		}
	}

	dataDir := l.opts.UserDataDir
	ownsDir := false
	if dataDir == "" {
		dir, err := os.MkdirTemp("", "chrome-pool-")
		if err != nil {
			return nil, fmt.Errorf("create user data dir: %w", err)
		}
		dataDir, ownsDir = dir, true
	}

	cmd := exec.Command(path, l.Args(port, dataDir)...)
	if err := cmd.Start(); err != nil {
		if ownsDir {
			_ = os.RemoveAll(dataDir)
		}
		return nil, fmt.Errorf("start %s: %w", path, err)
	}

	proc := &Process{cmd: cmd, dataDir: dataDir, ownsDir: ownsDir}
	if err := waitReady(ctx, port, l.opts.ReadyTimeout); err != nil {
		_ = proc.Kill()
		return nil, fmt.Errorf("browser on port %d: %w", port, err)
	}
	return proc, nil
}

// Args composes the full argument list for a browser bound to port using
// the given profile directory.
func (l *Launcher) Args(port int, dataDir string) []string {
	args := []string{
		fmt.Sprintf("--remote-debugging-port=%d", port),
		"--remote-debugging-address=127.0.0.1",
	}
	if !l.opts.Windowed {
		args = append(args, "--headless")
	}
	args = append(args, DefaultFlags...)
	args = append(args, "--user-data-dir="+dataDir)
	args = append(args, l.opts.ExtraFlags...)
	// The initial blank page becomes the pool's first adoptable session.
	args = append(args, "about:blank")
	return args
}

// Find locates a browser executable. $CHROME_PATH wins when set; otherwise
// well-known names and install locations are probed.
func Find() (string, error) {
	if p := os.Getenv("CHROME_PATH"); p != "" {
		if _, err := os.Stat(p); err != nil {
			return "", fmt.Errorf("%w: $CHROME_PATH points to %s", ErrNotFound, p)
		}
		return p, nil
	}
	for _, name := range candidates() {
		if filepath.IsAbs(name) {
			if _, err := os.Stat(name); err == nil {
				return name, nil
			}
			continue
		}
		if p, err := exec.LookPath(name); err == nil {
			return p, nil
		}
	}
	return "", ErrNotFound
}

func candidates() []string {
	switch runtime.GOOS {
	case "darwin":
		return []string{
			"/Applications/Google Chrome.app/Contents/MacOS/Google Chrome",
			"/Applications/Chromium.app/Contents/MacOS/Chromium",
			"google-chrome",
			"chromium",
		}
	case "windows":
		return []string{
			`C:\Program Files\Google\Chrome\Application\chrome.exe`,
			`C:\Program Files (x86)\Google\Chrome\Application\chrome.exe`,
			"chrome.exe",
		}
	default:
		return []string{
			"google-chrome",
			"google-chrome-stable",
			"chromium",
			"chromium-browser",
			"headless-shell",
		}
	}
}

// waitReady polls the DevTools version endpoint until the browser answers
// or the timeout elapses.
func waitReady(ctx context.Context, port int, timeout time.Duration) error {
	url := fmt.Sprintf("http://127.0.0.1:%d/json/version", port)
	client := &http.Client{Timeout: time.Second}
	deadline := time.Now().Add(timeout)

	for {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return err
		}
		resp, err := client.Do(req)
		if err == nil {
			_ = resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return nil
			}
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("devtools endpoint not ready after %s", timeout)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(100 * time.Millisecond):
		}
	}
}
