//go:build !linux

package mint

import (
	"syscall"
	"time"
)

// keepAliveInterval is the portable fallback for platforms where the
// TCP_KEEPIDLE/TCP_KEEPINTVL tuning in keepalive_linux.go isn't available;
// net.Dialer's own keep-alive timer is used instead.
func keepAliveInterval(enabled bool) time.Duration {
	if !enabled {
		return -1
	}
	return 15 * time.Second
}

// keepAliveControl is a no-op outside Linux.
func keepAliveControl(enabled bool) func(network, address string, c syscall.RawConn) error {
	return nil
}
