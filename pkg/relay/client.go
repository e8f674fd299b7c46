package relay

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"strat/pkg/protocol"
)

// Client sends commands to a host. Each Send uses its own short-lived
// connection; failures are returned and never retried.
type Client struct {
	// Addr is the host's command address, e.g. "10.0.0.5:53536".
	Addr string

	// Timeout bounds connect, write and ack read. Default 2s.
	Timeout time.Duration
}

// Send delivers cmd and waits for the host's acknowledgement. A rejected
// command yields a *protocol.AckError.
func (c *Client) Send(ctx context.Context, cmd protocol.Command) error {
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = protocol.DefaultSendTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	dialer := &net.Dialer{}
	conn, err := dialer.DialContext(ctx, "tcp", c.Addr)
	if err != nil {
		return fmt.Errorf("connect to host %s: %w", c.Addr, err)
	}
	defer conn.Close()

	deadline, _ := ctx.Deadline()
	if err := conn.SetDeadline(deadline); err != nil {
		return fmt.Errorf("set deadline: %w", err)
	}

	if _, err := conn.Write([]byte(protocol.Encode(cmd))); err != nil {
		return fmt.Errorf("send command: %w", err)
	}

	reply, err := readAck(conn)
	if err != nil {
		return err
	}
	if reply == protocol.AckOK {
		return nil
	}
	if msg, ok := strings.CutPrefix(reply, protocol.AckErrPrefix); ok {
		return &protocol.AckError{Message: msg}
	}
	return fmt.Errorf("unexpected ack %q", reply)
}

func readAck(conn net.Conn) (string, error) {
	scanner := bufio.NewScanner(conn)
	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return "", fmt.Errorf("read ack: %w", err)
		}
		return "", errors.New("read ack: connection closed without ack")
	}
	return strings.TrimRight(scanner.Text(), "\r"), nil
}
