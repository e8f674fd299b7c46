// Package discovery answers and asks the UDP "who are you" question that
// tells a slave which role a given address is running.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"strings"
	"sync"
	"time"

	"strat/pkg/protocol"
)

// ErrTimeout is returned by Query when no reply arrives in time.
var ErrTimeout = errors.New("discovery timed out")

// Logger receives diagnostic output. *log.Logger satisfies it.
type Logger interface {
	Printf(format string, args ...any)
}

// RoleSource reports the role to announce.
type RoleSource func() protocol.Role

const (
	maxDatagram = 256

	// pollInterval bounds how long the responder blocks in one read, so Stop
	// is observed promptly.
	pollInterval = time.Second
)

// Responder answers discovery queries on a UDP address.
type Responder struct {
	addr string
	role RoleSource
	log  Logger

	mu   sync.Mutex
	conn *net.UDPConn
	stop chan struct{}
	done chan struct{}
}

// NewResponder returns a responder for addr (e.g. ":53535").
func NewResponder(addr string, role RoleSource, logger Logger) *Responder {
	if logger == nil {
		logger = log.New(log.Writer(), "[discovery] ", log.LstdFlags)
	}
	return &Responder{addr: addr, role: role, log: logger}
}

// Start binds the socket and answers queries in the background. Calling it
// while running is a no-op; after Stop it may be called again.
func (r *Responder) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.conn != nil {
		return nil
	}
	udpAddr, err := net.ResolveUDPAddr("udp", r.addr)
	if err != nil {
		return fmt.Errorf("resolve %s: %w", r.addr, err)
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return fmt.Errorf("bind discovery socket: %w", err)
	}
	r.conn = conn
	r.stop = make(chan struct{})
	r.done = make(chan struct{})
	go r.loop(conn, r.stop, r.done)
	return nil
}

// Addr returns the bound address, or nil when not running.
func (r *Responder) Addr() net.Addr {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.conn == nil {
		return nil
	}
	return r.conn.LocalAddr()
}

// Stop closes the socket and waits for the loop to exit. Idempotent.
func (r *Responder) Stop() {
	r.mu.Lock()
	conn, stop, done := r.conn, r.stop, r.done
	r.conn, r.stop, r.done = nil, nil, nil
	r.mu.Unlock()
	if conn == nil {
		return
	}
	close(stop)
	_ = conn.Close()
	<-done
}

func (r *Responder) loop(conn *net.UDPConn, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	buf := make([]byte, maxDatagram)
	for {
		select {
		case <-stop:
			return
		default:
		}

		_ = conn.SetReadDeadline(time.Now().Add(pollInterval))
		n, src, err := conn.ReadFromUDP(buf)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			select {
			case <-stop:
				return
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			r.log.Printf("read: %v", err)
			continue
		}

		if strings.TrimSpace(string(buf[:n])) != protocol.DiscoveryQuery {
			continue
		}
		reply := protocol.ModeReply(r.role())
		if _, err := conn.WriteToUDP([]byte(reply), src); err != nil {
			r.log.Printf("reply to %s: %v", src, err)
		}
	}
}

// Query asks target ("host:port") for its role and returns the raw reply,
// e.g. "MODE:HOST". It waits at most timeout (default 1s).
func Query(ctx context.Context, target string, timeout time.Duration) (string, error) {
	if timeout <= 0 {
		timeout = protocol.DefaultDiscoveryTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	dialer := &net.Dialer{}
	conn, err := dialer.DialContext(ctx, "udp", target)
	if err != nil {
		return "", fmt.Errorf("dial %s: %w", target, err)
	}
	defer conn.Close()

	deadline, _ := ctx.Deadline()
	_ = conn.SetDeadline(deadline)

	if _, err := conn.Write([]byte(protocol.DiscoveryQuery)); err != nil {
		return "", fmt.Errorf("send query: %w", err)
	}

	buf := make([]byte, maxDatagram)
	n, err := conn.Read(buf)
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return "", fmt.Errorf("query %s: %w", target, ErrTimeout)
		}
		return "", fmt.Errorf("query %s: %w", target, err)
	}
	return strings.TrimSpace(string(buf[:n])), nil
}

// QueryRole is Query followed by protocol.ParseMode.
func QueryRole(ctx context.Context, target string, timeout time.Duration) (protocol.Role, error) {
	reply, err := Query(ctx, target, timeout)
	if err != nil {
		return "", err
	}
	return protocol.ParseMode(reply)
}
