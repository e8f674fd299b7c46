package broadcast

import (
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"sync"
	"time"

	"strat/pkg/protocol"
)

// Logger receives diagnostic output. *log.Logger satisfies it.
type Logger interface {
	Printf(format string, args ...any)
}

// DefaultWriteTimeout bounds one frame write to one client.
const DefaultWriteTimeout = 2 * time.Second

// Server accepts slave connections and broadcasts frames to all of them.
// New clients receive the next broadcast; there is no replay.
type Server struct {
	addr string
	log  Logger

	// WriteTimeout bounds each per-client write. Zero means
	// DefaultWriteTimeout.
	WriteTimeout time.Duration

	mu      sync.Mutex
	ln      net.Listener
	clients map[net.Conn]struct{}
	closed  bool

	sendMu sync.Mutex // serializes Broadcast calls so frames never interleave

	wg sync.WaitGroup
}

// NewServer returns a server that will listen on addr (e.g. ":53537").
func NewServer(addr string, logger Logger) *Server {
	if logger == nil {
		logger = log.New(log.Writer(), "[broadcast] ", log.LstdFlags)
	}
	return &Server{
		addr:    addr,
		log:     logger,
		clients: map[net.Conn]struct{}{},
	}
}

// Start binds the listener and accepts clients in the background.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.New("broadcast server closed")
	}
	if s.ln != nil {
		return nil
	}
	ln, err := net.Listen("tcp", s.addr) //nolint:noctx // bind is instant
	if err != nil {
		return fmt.Errorf("open listener: %w", err)
	}
	s.ln = ln
	s.wg.Add(1)
	go s.acceptLoop(ln)
	return nil
}

// Addr returns the bound address, or nil before Start.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

func (s *Server) acceptLoop(ln net.Listener) {
	defer s.wg.Done()
	for {
		conn, err := ln.Accept()
		if err != nil {
			if s.isClosed() || errors.Is(err, net.ErrClosed) {
				return
			}
			s.log.Printf("accept: %v", err)
			continue
		}
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			_ = conn.Close()
			return
		}
		s.clients[conn] = struct{}{}
		s.mu.Unlock()

		s.wg.Add(1)
		go s.watch(conn)
	}
}

// watch drops a client as soon as its connection reports EOF or an error.
// Slaves never send data, so the read only ends once the peer is gone.
func (s *Server) watch(conn net.Conn) {
	defer s.wg.Done()
	_, _ = io.Copy(io.Discard, conn)
	s.drop(conn)
}

func (s *Server) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Clients returns the number of connected clients.
func (s *Server) Clients() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

// Broadcast sends frame to every connected client. A client whose write fails
// or times out is closed and dropped; the others still receive the frame.
// It returns the number of clients that received the frame. A frame larger
// than protocol.MaxFrameSize is logged and sent to nobody.
func (s *Server) Broadcast(frame []byte) int {
	if len(frame) > protocol.MaxFrameSize {
		s.log.Printf("broadcast skipped: %v (%d bytes)", ErrFrameTooLarge, len(frame))
		return 0
	}
	s.sendMu.Lock()
	defer s.sendMu.Unlock()

	s.mu.Lock()
	targets := make([]net.Conn, 0, len(s.clients))
	for c := range s.clients {
		targets = append(targets, c)
	}
	s.mu.Unlock()

	timeout := s.WriteTimeout
	if timeout <= 0 {
		timeout = DefaultWriteTimeout
	}

	delivered := 0
	for _, c := range targets {
		_ = c.SetWriteDeadline(time.Now().Add(timeout))
		if err := WriteFrame(c, frame); err != nil {
			s.drop(c)
			continue
		}
		delivered++
	}
	return delivered
}

func (s *Server) drop(c net.Conn) {
	s.mu.Lock()
	_, ok := s.clients[c]
	delete(s.clients, c)
	s.mu.Unlock()
	if ok {
		_ = c.Close()
	}
}

// Close stops accepting and disconnects every client. Idempotent.
func (s *Server) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	var err error
	if s.ln != nil {
		err = s.ln.Close()
	}
	for c := range s.clients {
		_ = c.Close()
	}
	clear(s.clients)
	s.mu.Unlock()

	s.wg.Wait()
	return err
}
