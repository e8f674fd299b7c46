package discovery_test

import (
	"context"
	"errors"
	"io"
	"log"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"strat/pkg/discovery"
	"strat/pkg/protocol"
)

func startResponder(t *testing.T, role *atomic.Value) *discovery.Responder {
	t.Helper()
	r := discovery.NewResponder("127.0.0.1:0", func() protocol.Role {
		return role.Load().(protocol.Role)
	}, log.New(io.Discard, "", 0))
	if err := r.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(r.Stop)
	return r
}

func TestQueryReportsCurrentRole(t *testing.T) {
	var role atomic.Value
	role.Store(protocol.RoleHost)
	r := startResponder(t, &role)
	addr := r.Addr().String()

	reply, err := discovery.Query(context.Background(), addr, time.Second)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if reply != "MODE:HOST" {
		t.Errorf("reply = %q, want MODE:HOST", reply)
	}

	role.Store(protocol.RoleSlave)
	got, err := discovery.QueryRole(context.Background(), addr, time.Second)
	if err != nil {
		t.Fatalf("QueryRole: %v", err)
	}
	if got != protocol.RoleSlave {
		t.Errorf("role = %q, want SLAVE", got)
	}
}

func TestResponderIgnoresOtherDatagrams(t *testing.T) {
	var role atomic.Value
	role.Store(protocol.RoleHost)
	r := startResponder(t, &role)

	conn, err := net.Dial("udp", r.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	if _, err := conn.Write([]byte("HELLO?")); err != nil {
		t.Fatal(err)
	}
	_ = conn.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	if n, err := conn.Read(make([]byte, 64)); err == nil {
		t.Errorf("got %d-byte reply to a foreign datagram", n)
	}
}

func TestQueryTimesOut(t *testing.T) {
	// A bound socket that never answers.
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer pc.Close()

	start := time.Now()
	_, err = discovery.Query(context.Background(), pc.LocalAddr().String(), 100*time.Millisecond)
	if !errors.Is(err, discovery.ErrTimeout) {
		t.Fatalf("err = %v, want ErrTimeout", err)
	}
	if time.Since(start) > time.Second {
		t.Errorf("Query took %v", time.Since(start))
	}
}

func TestResponderRestart(t *testing.T) {
	var role atomic.Value
	role.Store(protocol.RoleSlave)
	r := discovery.NewResponder("127.0.0.1:0", func() protocol.Role {
		return role.Load().(protocol.Role)
	}, log.New(io.Discard, "", 0))

	for range 3 {
		if err := r.Start(); err != nil {
			t.Fatalf("Start: %v", err)
		}
		if err := r.Start(); err != nil {
			t.Fatalf("second Start: %v", err)
		}
		if _, err := discovery.Query(context.Background(), r.Addr().String(), time.Second); err != nil {
			t.Fatalf("Query: %v", err)
		}

		done := make(chan struct{})
		go func() {
			r.Stop()
			r.Stop()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(3 * time.Second):
			t.Fatal("Stop blocked")
		}
		if r.Addr() != nil {
			t.Error("Addr non-nil after Stop")
		}
	}
}
