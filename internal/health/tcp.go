package health

import (
	"context"
	"fmt"
	"net"
	"time"
)

// TCPChecker is healthy when a connection to Address can be established.
// No bytes are exchanged.
type TCPChecker struct {
	Address string // host:port
	Timeout time.Duration
}

func NewTCPChecker(address string) *TCPChecker {
	return &TCPChecker{Address: address, Timeout: DefaultTimeout}
}

func (c *TCPChecker) Name() string { return "tcp " + c.Address }

func (c *TCPChecker) Check(ctx context.Context) Result {
	start := time.Now()
	timeout := timeoutOr(c.Timeout)
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", c.Address)
	if err != nil {
		if ctx.Err() != nil {
			return unhealthy(c.Name(), start, fmt.Sprintf("connect timed out after %s", timeout))
		}
		return unhealthy(c.Name(), start, fmt.Sprintf("connect failed: %v", err))
	}
	_ = conn.Close()
	return healthy(c.Name(), start)
}
