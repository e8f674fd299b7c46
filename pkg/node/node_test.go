package node_test

import (
	"context"
	"errors"
	"io"
	"log"
	"net"
	"slices"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"strat/pkg/clock"
	"strat/pkg/discovery"
	"strat/pkg/node"
	"strat/pkg/protocol"
	"strat/pkg/runtime"
	"strat/pkg/session"
)

func waitFor(t *testing.T, condition func() bool, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("waitFor: condition not met within %v", timeout)
}

func quiet() *log.Logger { return log.New(io.Discard, "", 0) }

// freePort reserves a loopback port and releases it.
func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port
}

// freeUDPPort reserves a loopback UDP port and releases it.
func freeUDPPort(t *testing.T) int {
	t.Helper()
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer pc.Close()
	return pc.LocalAddr().(*net.UDPAddr).Port
}

type memRecorder struct {
	mu     sync.Mutex
	events []string
	source string
}

func (r *memRecorder) Record(evType, _, _ string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evType)
}

func (r *memRecorder) SetSource(s string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.source = s
}

func (r *memRecorder) Source() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.source
}

func (r *memRecorder) has(evType string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Contains(r.events, evType)
}

type ports struct{ input, sync, discovery int }

func newNode(t *testing.T, p ports, rec node.Recorder, onSnap func(*session.Session)) *node.Node {
	t.Helper()
	s, err := session.New("game", nil)
	if err != nil {
		t.Fatal(err)
	}
	rt, err := runtime.New(s, runtime.Config{
		Clock: clock.Config{TickInterval: 20 * time.Millisecond},
	}, runtime.Deps{Logger: quiet()})
	if err != nil {
		t.Fatal(err)
	}
	n := node.New(rt, node.Config{
		DiscoveryAddr:    "127.0.0.1:" + strconv.Itoa(p.discovery),
		InputAddr:        "127.0.0.1:" + strconv.Itoa(p.input),
		SyncAddr:         "127.0.0.1:" + strconv.Itoa(p.sync),
		InputPort:        p.input,
		SyncPort:         p.sync,
		HostAddress:      "127.0.0.1",
		ReconnectBackoff: 30 * time.Millisecond,
		RefreshInterval:  50 * time.Millisecond,
		OnSnapshot:       onSnap,
		Recorder:         rec,
		Logger:           quiet(),
	})
	t.Cleanup(n.Close)
	return n
}

func prestigeOf(s *session.Session, id int) float64 {
	tm, ok := s.Team(id)
	if !ok {
		return -1
	}
	return tm.Prestige
}

func TestHostSlaveReplication(t *testing.T) {
	p := ports{input: freePort(t), sync: freePort(t)}
	hostRec := &memRecorder{}
	host := newNode(t, p, hostRec, nil)
	if err := host.SetRole(protocol.RoleHost); err != nil {
		t.Fatalf("host SetRole: %v", err)
	}

	var snaps atomic.Int32
	slave := newNode(t, p, nil, func(*session.Session) { snaps.Add(1) })
	if err := slave.SetRole(protocol.RoleSlave); err != nil {
		t.Fatalf("slave SetRole: %v", err)
	}

	waitFor(t, func() bool { return host.Clients() == 1 }, 2*time.Second)
	waitFor(t, func() bool { return snaps.Load() > 0 }, 2*time.Second)

	ctx := context.Background()
	cmd := protocol.NewCommand(protocol.CmdTeamPrestigeDelta).
		With(protocol.FieldTeamID, 1).
		With(protocol.FieldDelta, 7.5)
	if err := slave.Request(ctx, cmd); err != nil {
		t.Fatalf("slave Request: %v", err)
	}

	live, err := host.Snapshot(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if got := prestigeOf(live, 1); got != 7.5 {
		t.Errorf("host prestige = %v, want 7.5", got)
	}

	waitFor(t, func() bool {
		s, err := slave.Snapshot(ctx)
		return err == nil && prestigeOf(s, 1) == 7.5
	}, 2*time.Second)

	if !hostRec.has(node.EventCommandApplied) || !hostRec.has(node.EventRoleChanged) {
		t.Error("host journal misses role change or applied command")
	}
	if hostRec.Source() != "host" {
		t.Errorf("journal source = %q, want host", hostRec.Source())
	}
}

func TestSlaveRequestRejected(t *testing.T) {
	p := ports{input: freePort(t), sync: freePort(t)}
	hostRec := &memRecorder{}
	host := newNode(t, p, hostRec, nil)
	if err := host.SetRole(protocol.RoleHost); err != nil {
		t.Fatal(err)
	}
	slave := newNode(t, p, nil, nil)
	if err := slave.SetRole(protocol.RoleSlave); err != nil {
		t.Fatal(err)
	}

	cmd := protocol.NewCommand(protocol.CmdTeamPrestigeDelta).
		With(protocol.FieldTeamID, 999).
		With(protocol.FieldDelta, 1)
	err := slave.Request(context.Background(), cmd)
	var ackErr *protocol.AckError
	if !errors.As(err, &ackErr) {
		t.Fatalf("err = %v, want *protocol.AckError", err)
	}
	if !hostRec.has(node.EventCommandFailed) {
		t.Error("failed command not journaled")
	}
}

func TestSlaveRequestWithoutHost(t *testing.T) {
	p := ports{input: freePort(t), sync: freePort(t)}
	slave := newNode(t, p, nil, nil)
	if err := slave.SetRole(protocol.RoleSlave); err != nil {
		t.Fatal(err)
	}
	if _, err := slave.Snapshot(context.Background()); !errors.Is(err, node.ErrNoSnapshot) {
		t.Errorf("Snapshot = %v, want ErrNoSnapshot", err)
	}
	cmd := protocol.NewCommand(protocol.CmdSetSpeed).With(protocol.FieldSpeed, 2)
	err := slave.Request(context.Background(), cmd)
	if err == nil {
		t.Fatal("request succeeded without a host")
	}
	var ackErr *protocol.AckError
	if errors.As(err, &ackErr) {
		t.Errorf("transport failure reported as rejection: %v", err)
	}
}

func TestTestConnection(t *testing.T) {
	p := ports{input: freePort(t), sync: freePort(t)}
	host := newNode(t, p, nil, nil)
	ctx := context.Background()

	if host.TestConnection(ctx, "127.0.0.1") {
		t.Error("probe succeeded before the host was listening")
	}
	if err := host.SetRole(protocol.RoleHost); err != nil {
		t.Fatal(err)
	}
	if !host.TestConnection(ctx, "127.0.0.1") {
		t.Error("probe failed against a running host")
	}
	if !host.TestConnection(ctx, host.InputAddr().String()) {
		t.Error("probe with explicit port failed")
	}
}

func TestRoleSwitchAndDiscovery(t *testing.T) {
	p := ports{input: freePort(t), sync: freePort(t)}
	n := newNode(t, p, nil, nil)
	if err := n.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	ctx := context.Background()
	addr := n.DiscoveryAddr().String()

	role, err := discovery.QueryRole(ctx, addr, time.Second)
	if err != nil || role != protocol.RoleSlave {
		t.Fatalf("initial role = %q, %v", role, err)
	}

	if err := n.SetRole(protocol.RoleHost); err != nil {
		t.Fatal(err)
	}
	if err := n.SetRole(protocol.RoleHost); err != nil {
		t.Fatalf("repeat SetRole: %v", err)
	}
	if n.Runtime().State() != clock.StateRunning {
		t.Errorf("clock state = %v on host", n.Runtime().State())
	}
	role, err = discovery.QueryRole(ctx, addr, time.Second)
	if err != nil || role != protocol.RoleHost {
		t.Fatalf("role after switch = %q, %v", role, err)
	}

	if err := n.SetRole(protocol.RoleSlave); err != nil {
		t.Fatal(err)
	}
	if n.InputAddr() != nil {
		t.Error("command channel still open on slave")
	}
	if n.Runtime().State() != clock.StateStopped {
		t.Errorf("clock state = %v on slave", n.Runtime().State())
	}

	if err := n.SetRole("KING"); err == nil {
		t.Error("invalid role accepted")
	}

	n.Close()
	n.Close()
	if err := n.SetRole(protocol.RoleHost); !errors.Is(err, node.ErrClosed) {
		t.Errorf("SetRole after Close = %v, want ErrClosed", err)
	}
}

func TestSlaveSharesDiscoveryPortWithHost(t *testing.T) {
	p := ports{input: freePort(t), sync: freePort(t), discovery: freeUDPPort(t)}
	ctx := context.Background()

	host := newNode(t, p, nil, nil)
	if err := host.Start(); err != nil {
		t.Fatalf("host Start: %v", err)
	}
	if err := host.SetRole(protocol.RoleHost); err != nil {
		t.Fatal(err)
	}

	slave := newNode(t, p, nil, nil)
	if err := slave.Start(); err != nil {
		t.Fatalf("slave Start on a taken discovery port: %v", err)
	}
	if slave.Discoverable() {
		t.Error("slave bound a discovery port the host already holds")
	}
	if err := slave.SetRole(protocol.RoleSlave); err != nil {
		t.Fatal(err)
	}

	role, err := discovery.QueryRole(ctx, "127.0.0.1:"+strconv.Itoa(p.discovery), time.Second)
	if err != nil || role != protocol.RoleHost {
		t.Fatalf("shared port answers %q, %v; want HOST", role, err)
	}
	waitFor(t, func() bool {
		_, err := slave.Snapshot(ctx)
		return err == nil
	}, 2*time.Second)
}

func TestSetRoleHostFailureRestoresSlave(t *testing.T) {
	p := ports{input: freePort(t), sync: freePort(t)}
	blocker, err := net.Listen("tcp", "127.0.0.1:"+strconv.Itoa(p.input))
	if err != nil {
		t.Fatal(err)
	}
	defer blocker.Close()

	n := newNode(t, p, nil, nil)
	if err := n.SetRole(protocol.RoleSlave); err != nil {
		t.Fatal(err)
	}
	if err := n.SetRole(protocol.RoleHost); err == nil {
		t.Fatal("host started on a busy port")
	}
	if n.Role() != protocol.RoleSlave {
		t.Errorf("role = %s after failed switch, want SLAVE", n.Role())
	}
}

func TestSlaveFollowsHostAddressChange(t *testing.T) {
	p := ports{input: freePort(t), sync: freePort(t)}
	host := newNode(t, p, nil, nil)
	if err := host.SetRole(protocol.RoleHost); err != nil {
		t.Fatal(err)
	}

	slave := newNode(t, p, nil, nil)
	slave.SetHostAddress("127.0.0.2")
	if err := slave.SetRole(protocol.RoleSlave); err != nil {
		t.Fatal(err)
	}
	slave.SetHostAddress("127.0.0.1")
	if slave.HostAddress() != "127.0.0.1" {
		t.Errorf("HostAddress = %q", slave.HostAddress())
	}
	waitFor(t, func() bool { return host.Clients() == 1 }, 2*time.Second)
}
