//go:build linux

package mint

import (
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

// keepAliveInterval returns the interval net.Dialer uses for its own
// keep-alive probes; the finer-grained TCP_KEEPIDLE/TCP_KEEPINTVL tuning
// below is layered on top of it.
func keepAliveInterval(enabled bool) time.Duration {
	if !enabled {
		return -1
	}
	return 15 * time.Second
}

// keepAliveControl returns a net.Dialer.Control callback that tunes the
// raw socket's keep-alive timers directly, giving the "bespoke keep-alive
// discipline" called for in §4.1 beyond what net.Dialer.KeepAlive exposes
// on its own.
func keepAliveControl(enabled bool) func(network, address string, c syscall.RawConn) error {
	if !enabled {
		return nil
	}
	return func(network, address string, c syscall.RawConn) error {
		var sockErr error
		err := c.Control(func(fd uintptr) {
			sockErr = unix.SetsockoptInt(int(fd), unix.IPPROTO_TCP,
				unix.TCP_KEEPIDLE, 30)
			if sockErr != nil {
				return
			}
			sockErr = unix.SetsockoptInt(int(fd), unix.IPPROTO_TCP,
				unix.TCP_KEEPINTVL, 10)
		})
		if err != nil {
			return err
		}
		return sockErr
	}
}
