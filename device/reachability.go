package device

import (
	"context"
	"fmt"
	"net"
	"time"
)

// CheckReachable performs the cheap TCP reachability pre-check spec §4.4
// step 1 requires before any session is opened: a bare TCP dial to the
// device's transport port with timeout.
func CheckReachable(ctx context.Context, target Target, timeout time.Duration) error {
	d := net.Dialer{Timeout: timeout}
	addr := fmt.Sprintf("%s:%d", target.Host, target.Port)
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return err
	}
	return conn.Close()
}
