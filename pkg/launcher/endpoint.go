package launcher

import (
	"fmt"
	"net"
)

// PortProvisioner allocates an unused TCP port by binding port zero and
// reading back the kernel's choice. The listener is closed again before the
// port is returned, so the browser can bind it immediately afterwards.
type PortProvisioner struct{}

// Allocate returns a currently unused loopback port.
func (PortProvisioner) Allocate() (int, error) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrNoFreePort, err)
	}
	defer l.Close()

	addr, ok := l.Addr().(*net.TCPAddr)
	if !ok {
		return 0, ErrNoFreePort
	}
	return addr.Port, nil
}

// FixedPort pins the pool to a preconfigured debugging port.
type FixedPort int

// Allocate returns the configured port after validating its range.
func (f FixedPort) Allocate() (int, error) {
	if f <= 0 || f > 65535 {
		return 0, fmt.Errorf("%w: invalid port %d", ErrNoFreePort, int(f))
	}
	return int(f), nil
}
