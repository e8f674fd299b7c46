// Package relay implements the command channel: slaves send encoded command
// lines to the host over TCP and receive one acknowledgement line per
// command.
package relay

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"strings"
	"sync"

	"strat/pkg/protocol"
)

// Applier executes a decoded command against the live session. The host
// implementation funnels the command through the logic executor; the
// network goroutine never touches state itself.
type Applier interface {
	Apply(ctx context.Context, cmd protocol.Command) error
}

// ApplierFunc adapts a function to Applier.
type ApplierFunc func(ctx context.Context, cmd protocol.Command) error

func (f ApplierFunc) Apply(ctx context.Context, cmd protocol.Command) error { return f(ctx, cmd) }

// Logger receives diagnostic output. *log.Logger satisfies it.
type Logger interface {
	Printf(format string, args ...any)
}

// maxLineSize bounds one command line.
const maxLineSize = 64 * 1024

// Server accepts command connections on a TCP address.
type Server struct {
	addr    string
	applier Applier
	log     Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	ln     net.Listener
	conns  map[net.Conn]struct{}
	closed bool

	wg sync.WaitGroup
}

// NewServer returns a server that will listen on addr (e.g. ":53536").
func NewServer(addr string, applier Applier, logger Logger) *Server {
	if logger == nil {
		logger = log.New(log.Writer(), "[relay] ", log.LstdFlags)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		addr:    addr,
		applier: applier,
		log:     logger,
		ctx:     ctx,
		cancel:  cancel,
		conns:   map[net.Conn]struct{}{},
	}
}

// Start binds the listener and begins accepting connections in the
// background.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.New("relay server closed")
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

// Close stops accepting, closes every open connection and waits for the
// handlers to return. Idempotent.
func (s *Server) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.cancel()
	var err error
	if s.ln != nil {
		err = s.ln.Close()
	}
	for c := range s.conns {
		_ = c.Close()
	}
	s.mu.Unlock()

	s.wg.Wait()
	return err
}

func (s *Server) acceptLoop(ln net.Listener) {
	defer s.wg.Done()
	for {
		conn, err := ln.Accept()
		if err != nil {
			if s.ctx.Err() != nil {
				return
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			s.log.Printf("accept: %v", err)
			continue
		}
		if !s.track(conn) {
			_ = conn.Close()
			return
		}
		s.wg.Add(1)
		go s.handleConn(conn)
	}
}

func (s *Server) track(conn net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.conns[conn] = struct{}{}
	return true
}

func (s *Server) untrack(conn net.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.conns, conn)
}

// handleConn reads command lines until EOF, answering each with OK or ERR.
func (s *Server) handleConn(conn net.Conn) {
	defer s.wg.Done()
	defer func() {
		_ = conn.Close()
		s.untrack(conn)
	}()

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 4096), maxLineSize)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		reply := s.handleLine(line)
		if _, err := conn.Write([]byte(reply)); err != nil {
			return
		}
	}
}

func (s *Server) handleLine(line string) string {
	cmd, err := protocol.Decode(line)
	if err != nil {
		return ackErr(err)
	}
	if err := s.applier.Apply(s.ctx, cmd); err != nil {
		return ackErr(err)
	}
	return protocol.AckOK + "\n"
}

func ackErr(err error) string {
	msg := strings.Join(strings.Fields(err.Error()), " ")
	return protocol.AckErrPrefix + msg + "\n"
}
