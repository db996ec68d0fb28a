package devtools

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/SkeLLLa/chrome-pool/pkg/launcher"
	"github.com/SkeLLLa/chrome-pool/pkg/pool"
)

// Pool is a session pool running over the real DevTools stack.
type Pool = pool.Pool[*Session]

// Tab is one acquired DevTools session.
type Tab = pool.Tab[*Session]

// PoolOptions configures NewPool.
type PoolOptions struct {
	// Capacity is the maximum number of concurrent sessions. Zero means
	// unbounded.
	Capacity int

	// Port pins the debugging endpoint. Zero allocates a free port.
	Port int

	// Browser overrides browser executable discovery.
	Browser string

	// ExtraFlags are appended to the launcher's fixed flag profile.
	ExtraFlags []string

	// Windowed disables headless operation, for local debugging only.
	Windowed bool

	// ConnectTimeout bounds each target attach. Zero uses the client
	// default.
	ConnectTimeout time.Duration

	// Logger receives pool lifecycle events. Nil disables pool logging.
	Logger *zerolog.Logger
}

// NewPool provisions an endpoint, launches a browser on it and returns a
// running session pool wired to the real launcher and protocol client.
func NewPool(ctx context.Context, opts PoolOptions) (*Pool, error) {
	var prov pool.Provisioner = launcher.PortProvisioner{}
	if opts.Port > 0 {
		prov = launcher.FixedPort(opts.Port)
	}

	l := launcher.New(launcher.Options{
		Path:       opts.Browser,
		ExtraFlags: opts.ExtraFlags,
		Windowed:   opts.Windowed,
	})

	return pool.New(ctx, pool.Options[*Session]{
		Capacity:    opts.Capacity,
		Provisioner: prov,
		Launcher:    execLauncher{l},
		Protocol:    NewClient(ClientOptions{ConnectTimeout: opts.ConnectTimeout}),
		Logger:      opts.Logger,
	})
}

// execLauncher adapts the concrete launcher to the pool's interface.
type execLauncher struct {
	l *launcher.Launcher
}

func (e execLauncher) Launch(ctx context.Context, port int) (pool.Process, error) {
	return e.l.Launch(ctx, port)
}
