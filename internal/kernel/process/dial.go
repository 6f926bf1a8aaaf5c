package process

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/mdlayher/vsock"

	"github.com/seantiz/kernelgate/internal/kernel"
)

// Retry defaults for connection establishment. A freshly spawned guest
// needs a moment to bind its socket.
const (
	dialMaxRetries  = 6
	dialBaseBackoff = 50 * time.Millisecond
)

// dialGuest connects to a guest agent described by info. Retries with
// exponential backoff on connection failure.
func dialGuest(ctx context.Context, info kernel.ConnectionInfo) (net.Conn, error) {
	var lastErr error
	backoff := dialBaseBackoff

	for attempt := range dialMaxRetries {
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("dial guest: %w", ctx.Err())
		default:
		}

		conn, err := dialOnce(ctx, info)
		if err == nil {
			return conn, nil
		}
		lastErr = err
		if attempt < dialMaxRetries-1 {
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil, fmt.Errorf("dial guest: %w", ctx.Err())
			}
			backoff *= 2
		}
	}

	return nil, fmt.Errorf("dial guest after %d attempts: %w", dialMaxRetries, lastErr)
}

func dialOnce(ctx context.Context, info kernel.ConnectionInfo) (net.Conn, error) {
	switch info.Transport {
	case kernel.TransportUnix:
		var d net.Dialer
		conn, err := d.DialContext(ctx, "unix", info.Address)
		if err != nil {
			return nil, fmt.Errorf("connect to %s: %w", info.Address, err)
		}
		return conn, nil
	case kernel.TransportVsock:
		conn, err := vsock.Dial(info.CID, info.Port, nil)
		if err != nil {
			return nil, fmt.Errorf("connect to vsock %d:%d: %w", info.CID, info.Port, err)
		}
		return conn, nil
	default:
		return nil, fmt.Errorf("unsupported transport %q", info.Transport)
	}
}
