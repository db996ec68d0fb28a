package pool

import (
	"context"

	"github.com/rs/zerolog"
)

// TargetTypePage is the browser target type managed by the pool. Background
// and service targets are never adopted.
const TargetTypePage = "page"

// BlankURL is the neutral page every session is reset to on release.
const BlankURL = "about:blank"

// Session is the connected protocol surface of one managed tab. The pool
// stores handles, navigates them during release resets and closes them at
// teardown; everything else on a handle belongs to the acquiring caller.
type Session interface {
	ID() string
	Navigate(ctx context.Context, url string) error
	Close() error
}

// Target describes one browser target as reported by the protocol client.
type Target struct {
	ID   string
	Type string
}

// Provisioner allocates the debugging endpoint port. One-shot, called once
// per pool.
type Provisioner interface {
	Allocate() (int, error)
}

// Process is the pool's exclusive ownership handle over the launched
// browser, released exactly once at teardown.
type Process interface {
	Kill() error
}

// Launcher starts the browser bound to the given debugging port.
type Launcher interface {
	Launch(ctx context.Context, port int) (Process, error)
}

// Protocol is the wire client the pool enumerates, opens and connects
// sessions through.
type Protocol[S Session] interface {
	ListTargets(ctx context.Context, port int) ([]Target, error)
	NewTarget(ctx context.Context, port int) (Target, error)
	Connect(ctx context.Context, port int, targetID string) (S, error)
	Close() error
}

// Options configures New.
type Options[S Session] struct {
	// Capacity is the maximum number of concurrent sessions. Zero means
	// unbounded.
	Capacity int

	// ResetURL overrides the page sessions are navigated to on release.
	// Defaults to BlankURL.
	ResetURL string

	Provisioner Provisioner
	Launcher    Launcher
	Protocol    Protocol[S]

	// Logger receives pool lifecycle events. Nil disables pool logging.
	Logger *zerolog.Logger
}

// Tab is one acquired session. The caller owns it exclusively until it
// releases the id back to the pool.
type Tab[S Session] struct {
	ID      string
	Session S
}

// Stats is a point-in-time snapshot of pool occupancy.
type Stats struct {
	Capacity int `json:"capacity"`
	Sessions int `json:"sessions"`
	Busy     int `json:"busy"`
	Free     int `json:"free"`
	Waiting  int `json:"waiting"`
}
