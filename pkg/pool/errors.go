package pool

import "errors"

var (
	// ErrPoolClosed is returned by every operation after Destroy, and
	// delivered to waiters still parked at teardown time.
	ErrPoolClosed = errors.New("session pool is destroyed")

	// ErrNoCapacity is CreateSession's signal that the session ceiling is
	// reached. It is an expected condition, not a failure: Acquire reacts
	// to it by parking the caller on the wait queue.
	ErrNoCapacity = errors.New("session pool is at capacity")

	// ErrUnknownSession reports a release with an id the registry has
	// never seen.
	ErrUnknownSession = errors.New("unknown session id")

	// ErrDoubleRelease reports a release of a session that is already free.
	ErrDoubleRelease = errors.New("session is already free")

	// ErrResetFailed marks a release whose blank-page reset did not
	// complete. The session is still returned to service.
	ErrResetFailed = errors.New("session reset failed")
)
