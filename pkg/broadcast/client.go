package broadcast

import (
	"context"
	"errors"
	"log"
	"net"
	"sync"
	"time"

	"strat/pkg/protocol"
)

// Client keeps a connection to a snapshot server and hands every frame to
// Handler. After any I/O failure it waits Backoff and reconnects, until Stop.
type Client struct {
	// Addr is the host's snapshot address, e.g. "10.0.0.5:53537".
	Addr string

	// Backoff is the pause between connection attempts. Default 750ms.
	Backoff time.Duration

	// DialTimeout bounds one connection attempt. Default 2s.
	DialTimeout time.Duration

	// Handler receives each frame payload. An error skips that frame only;
	// the stream continues.
	Handler func(payload []byte) error

	// OnStatus, when set, is told whenever the connection comes up or goes
	// down.
	OnStatus func(connected bool)

	// Logger receives skipped-frame reports. Nil uses the standard logger.
	Logger Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
	conn   net.Conn
}

// Start launches the receive loop. It is a no-op while already running.
func (c *Client) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		return
	}
	if c.Logger == nil {
		c.Logger = log.New(log.Writer(), "[broadcast] ", log.LstdFlags)
	}
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.done = make(chan struct{})
	go c.loop(ctx, c.done)
}

// Stop ends the receive loop and waits for it. Idempotent; the client can
// be started again afterwards.
func (c *Client) Stop() {
	c.mu.Lock()
	cancel, done, conn := c.cancel, c.done, c.conn
	c.cancel, c.done = nil, nil
	c.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	if conn != nil {
		_ = conn.Close()
	}
	<-done
}

func (c *Client) loop(ctx context.Context, done chan<- struct{}) {
	defer close(done)
	backoff := c.Backoff
	if backoff <= 0 {
		backoff = protocol.DefaultReconnectBackoff
	}
	for {
		err := c.session(ctx)
		if ctx.Err() != nil {
			return
		}
		if err != nil && !errors.Is(err, context.Canceled) {
			c.Logger.Printf("snapshot stream from %s: %v", c.Addr, err)
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
	}
}

// session runs one connection until it fails.
func (c *Client) session(ctx context.Context) error {
	timeout := c.DialTimeout
	if timeout <= 0 {
		timeout = protocol.DefaultSendTimeout
	}
	dialCtx, cancel := context.WithTimeout(ctx, timeout)
	dialer := &net.Dialer{}
	conn, err := dialer.DialContext(dialCtx, "tcp", c.Addr)
	cancel()
	if err != nil {
		return err
	}

	c.mu.Lock()
	if ctx.Err() != nil {
		c.mu.Unlock()
		_ = conn.Close()
		return ctx.Err()
	}
	c.conn = conn
	c.mu.Unlock()
	c.status(true)

	defer func() {
		c.mu.Lock()
		c.conn = nil
		c.mu.Unlock()
		_ = conn.Close()
		c.status(false)
	}()

	for {
		payload, err := ReadFrame(conn)
		if err != nil {
			return err
		}
		if c.Handler == nil {
			continue
		}
		if err := c.Handler(payload); err != nil {
			c.Logger.Printf("skipping snapshot frame (%d bytes): %v", len(payload), err)
		}
	}
}

func (c *Client) status(up bool) {
	if c.OnStatus != nil {
		c.OnStatus(up)
	}
}
