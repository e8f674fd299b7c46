// Package node holds the process role and starts or stops the network
// channels that go with it: a HOST serves commands and broadcasts snapshots,
// a SLAVE follows the host's snapshots and forwards commands to it.
package node

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"strat/pkg/broadcast"
	"strat/pkg/discovery"
	"strat/pkg/protocol"
	"strat/pkg/relay"
	"strat/pkg/runtime"
	"strat/pkg/session"
)

// Journal event types.
const (
	EventRoleChanged      = "role_changed"
	EventCommandApplied   = "command_applied"
	EventCommandFailed    = "command_failed"
	EventHostConnected    = "host_connected"
	EventHostDisconnected = "host_disconnected"
)

var (
	// ErrNoSnapshot is returned by Snapshot on a slave that has not received
	// one yet.
	ErrNoSnapshot = errors.New("no snapshot received yet")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("node closed")
)

// Logger receives diagnostic output. *log.Logger satisfies it.
type Logger interface {
	Printf(format string, args ...any)
}

// Recorder journals node events. Record must not block.
type Recorder interface {
	Record(evType, sessionID, payload string)
}

// sourceSetter is implemented by journals that tag events with the role.
type sourceSetter interface {
	SetSource(source string)
}

// Config holds addresses and timings. Zero values use the protocol defaults.
type Config struct {
	// Listen addresses for this node's own sockets.
	DiscoveryAddr string
	InputAddr     string
	SyncAddr      string

	// Ports dialled on the host.
	InputPort int
	SyncPort  int

	// HostAddress is the host's IP or name.
	HostAddress string

	SendTimeout      time.Duration
	ProbeTimeout     time.Duration
	ReconnectBackoff time.Duration

	// RefreshInterval re-sends the last snapshot when no fresh one was
	// produced in that time, so slaves that join while the clock is paused
	// are served. Default 1s.
	RefreshInterval time.Duration

	// OnSnapshot, when set, receives every replica a slave decodes.
	OnSnapshot func(*session.Session)
	// OnStatus, when set, is told when a slave's snapshot stream goes up or
	// down.
	OnStatus func(connected bool)

	Recorder Recorder
	Logger   Logger
}

func (c Config) withDefaults() Config {
	if c.InputPort == 0 {
		c.InputPort = protocol.InputPort
	}
	if c.SyncPort == 0 {
		c.SyncPort = protocol.SyncPort
	}
	if c.DiscoveryAddr == "" {
		c.DiscoveryAddr = ":" + strconv.Itoa(protocol.DiscoveryPort)
	}
	if c.InputAddr == "" {
		c.InputAddr = ":" + strconv.Itoa(c.InputPort)
	}
	if c.SyncAddr == "" {
		c.SyncAddr = ":" + strconv.Itoa(c.SyncPort)
	}
	if c.HostAddress == "" {
		c.HostAddress = "127.0.0.1"
	}
	if c.SendTimeout <= 0 {
		c.SendTimeout = protocol.DefaultSendTimeout
	}
	if c.ProbeTimeout <= 0 {
		c.ProbeTimeout = protocol.DefaultProbeTimeout
	}
	if c.ReconnectBackoff <= 0 {
		c.ReconnectBackoff = protocol.DefaultReconnectBackoff
	}
	if c.RefreshInterval <= 0 {
		c.RefreshInterval = time.Second
	}
	if c.Logger == nil {
		c.Logger = log.New(log.Writer(), "[node] ", log.LstdFlags)
	}
	return c
}

// Node is the single role holder of a process.
type Node struct {
	cfg Config
	rt  *runtime.Runtime

	role     atomic.Value // protocol.Role
	hostAddr atomic.Value // string
	replica  atomic.Pointer[session.Session]

	mu        sync.Mutex // serializes role transitions
	active    bool
	closed    bool
	started   bool
	responder *discovery.Responder
	host      *hostChannels
	slave     *broadcast.Client
}

// New returns a node in the SLAVE role with no channels running. Call Start
// to answer discovery and SetRole to activate a role.
func New(rt *runtime.Runtime, cfg Config) *Node {
	cfg = cfg.withDefaults()
	n := &Node{cfg: cfg, rt: rt}
	n.role.Store(protocol.RoleSlave)
	n.hostAddr.Store(cfg.HostAddress)
	n.responder = discovery.NewResponder(cfg.DiscoveryAddr, n.Role, cfg.Logger)
	rt.OnTick(n.publish)
	return n
}

// Start begins answering discovery queries. Idempotent. When the discovery
// port is already bound, usually by another node on the same machine, the
// node runs without answering queries; activating HOST tries the bind again.
func (n *Node) Start() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return ErrClosed
	}
	n.started = true
	n.startResponder()
	return nil
}

// startResponder binds the discovery socket if possible. Caller holds mu.
func (n *Node) startResponder() {
	if err := n.responder.Start(); err != nil {
		n.cfg.Logger.Printf("discovery not answered: %v", err)
	}
}

// Discoverable reports whether this node answers discovery queries.
func (n *Node) Discoverable() bool { return n.responder.Addr() != nil }

// Role returns the current role.
func (n *Node) Role() protocol.Role {
	r, _ := n.role.Load().(protocol.Role)
	return r
}

// Runtime exposes the session runtime.
func (n *Node) Runtime() *runtime.Runtime { return n.rt }

// SetRole switches to role, stopping the channels of the previous role and
// starting those of the new one. Setting the active role again is a no-op.
// If the new role cannot start, the previous one is restored and the error
// returned.
func (n *Node) SetRole(role protocol.Role) error {
	if !role.Valid() {
		return fmt.Errorf("set role: invalid role %q", role)
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return ErrClosed
	}
	prev := n.Role()
	if n.active && prev == role {
		return nil
	}

	wasActive := n.active
	n.deactivate()
	if err := n.activate(role); err != nil {
		if wasActive {
			if rerr := n.activate(prev); rerr != nil {
				n.cfg.Logger.Printf("restore role %s: %v", prev, rerr)
			}
		}
		return fmt.Errorf("set role %s: %w", role, err)
	}
	n.record(EventRoleChanged, string(role))
	return nil
}

// activate starts the channels of role. Caller holds mu.
func (n *Node) activate(role protocol.Role) error {
	switch role {
	case protocol.RoleHost:
		if n.started {
			n.startResponder()
		}
		h, err := startHost(n)
		if err != nil {
			return err
		}
		n.host = h
		if err := n.rt.Start(); err != nil {
			h.close()
			n.host = nil
			return fmt.Errorf("start clock: %w", err)
		}
	case protocol.RoleSlave:
		n.slave = n.newSlaveClient()
		n.slave.Start()
	}
	n.role.Store(role)
	n.active = true
	if s, ok := n.cfg.Recorder.(sourceSetter); ok {
		s.SetSource(strings.ToLower(string(role)))
	}
	return nil
}

// deactivate stops whatever role is running. Caller holds mu.
func (n *Node) deactivate() {
	if n.host != nil {
		n.rt.Stop()
		n.host.close()
		n.host = nil
	}
	if n.slave != nil {
		n.slave.Stop()
		n.slave = nil
	}
	n.active = false
}

func (n *Node) newSlaveClient() *broadcast.Client {
	return &broadcast.Client{
		Addr:        n.hostEndpoint(n.cfg.SyncPort),
		Backoff:     n.cfg.ReconnectBackoff,
		DialTimeout: n.cfg.SendTimeout,
		Handler:     n.receive,
		OnStatus:    n.status,
		Logger:      n.cfg.Logger,
	}
}

// SetHostAddress changes the host a slave follows and sends commands to. A
// running slave reconnects to the new address.
func (n *Node) SetHostAddress(addr string) {
	n.hostAddr.Store(strings.TrimSpace(addr))

	n.mu.Lock()
	defer n.mu.Unlock()
	if n.slave == nil {
		return
	}
	n.slave.Stop()
	n.slave = n.newSlaveClient()
	n.slave.Start()
}

// HostAddress returns the host a slave follows.
func (n *Node) HostAddress() string {
	s, _ := n.hostAddr.Load().(string)
	return s
}

func (n *Node) hostEndpoint(port int) string {
	return net.JoinHostPort(n.HostAddress(), strconv.Itoa(port))
}

// TestConnection reports whether a TCP connection to the command port at
// addr succeeds within the probe timeout. addr may omit the port.
func (n *Node) TestConnection(ctx context.Context, addr string) bool {
	return Probe(ctx, addr, n.cfg.InputPort, n.cfg.ProbeTimeout)
}

// Probe dials addr (adding defaultPort when it has none) and reports whether
// the connection was accepted within timeout.
func Probe(ctx context.Context, addr string, defaultPort int, timeout time.Duration) bool {
	if _, _, err := net.SplitHostPort(addr); err != nil {
		addr = net.JoinHostPort(addr, strconv.Itoa(defaultPort))
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	dialer := &net.Dialer{}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}

// Request routes cmd: a HOST applies it locally, a SLAVE sends it to the
// host and returns the host's verdict.
func (n *Node) Request(ctx context.Context, cmd protocol.Command) error {
	if n.Role() == protocol.RoleHost {
		return n.Apply(ctx, cmd)
	}
	c := &relay.Client{Addr: n.hostEndpoint(n.cfg.InputPort), Timeout: n.cfg.SendTimeout}
	return c.Send(ctx, cmd)
}

// Apply executes cmd against the live session on the logic executor. It is
// the applier behind the command channel.
func (n *Node) Apply(ctx context.Context, cmd protocol.Command) error {
	payload := strings.TrimSuffix(protocol.Encode(cmd), "\n")
	if err := n.rt.Apply(ctx, cmd); err != nil {
		n.record(EventCommandFailed, payload+" "+err.Error())
		return err
	}
	n.record(EventCommandApplied, payload)
	return nil
}

// Snapshot returns a private copy of the session: the live state on a HOST,
// the latest replica on a SLAVE.
func (n *Node) Snapshot(ctx context.Context) (*session.Session, error) {
	if n.Role() == protocol.RoleHost {
		return runtime.Query(ctx, n.rt, func(s *session.Session) (*session.Session, error) {
			data, err := session.EncodeSnapshot(s)
			if err != nil {
				return nil, err
			}
			return session.DecodeSnapshot(data)
		})
	}
	s := n.replica.Load()
	if s == nil {
		return nil, ErrNoSnapshot
	}
	return s, nil
}

// InputAddr returns the bound command channel address on a HOST.
func (n *Node) InputAddr() net.Addr {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.host == nil {
		return nil
	}
	return n.host.relay.Addr()
}

// SyncAddr returns the bound snapshot channel address on a HOST.
func (n *Node) SyncAddr() net.Addr {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.host == nil {
		return nil
	}
	return n.host.broadcast.Addr()
}

// DiscoveryAddr returns the bound discovery address, or nil when the node
// does not answer discovery.
func (n *Node) DiscoveryAddr() net.Addr { return n.responder.Addr() }

// Clients returns the number of slaves connected to a HOST.
func (n *Node) Clients() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.host == nil {
		return 0
	}
	return n.host.broadcast.Clients()
}

// RunOnLogic posts task to the logic executor.
func (n *Node) RunOnLogic(task func(*session.Session)) error { return n.rt.RunOnLogic(task) }

// CallOnLogic runs task on the logic executor and waits for it.
func (n *Node) CallOnLogic(ctx context.Context, task func(*session.Session) error) error {
	return n.rt.CallOnLogic(ctx, task)
}

// RegisterPeriodicJob adds a timed job to the game clock.
func (n *Node) RegisterPeriodicJob(name string, job func() error, period int64, initialDelay ...int64) error {
	return n.rt.RegisterPeriodicJob(name, job, period, initialDelay...)
}

// UnregisterJob removes a timed job.
func (n *Node) UnregisterJob(name string) bool { return n.rt.UnregisterJob(name) }

// Close stops every channel, the responder and the runtime. Idempotent.
func (n *Node) Close() {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return
	}
	n.closed = true
	n.deactivate()
	n.mu.Unlock()

	n.responder.Stop()
	n.rt.Close()
}

// receive decodes one snapshot frame on a slave.
func (n *Node) receive(payload []byte) error {
	s, err := session.DecodeSnapshot(payload)
	if err != nil {
		return err
	}
	n.replica.Store(s)
	if n.cfg.OnSnapshot != nil {
		n.cfg.OnSnapshot(s)
	}
	return nil
}

func (n *Node) status(up bool) {
	if up {
		n.record(EventHostConnected, n.HostAddress())
	} else {
		n.record(EventHostDisconnected, n.HostAddress())
	}
	if n.cfg.OnStatus != nil {
		n.cfg.OnStatus(up)
	}
}

func (n *Node) record(evType, payload string) {
	if n.cfg.Recorder == nil {
		return
	}
	n.cfg.Recorder.Record(evType, n.rt.SessionID(), payload)
}
