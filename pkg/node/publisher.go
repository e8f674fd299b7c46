package node

import (
	"time"

	"strat/pkg/broadcast"
	"strat/pkg/protocol"
	"strat/pkg/relay"
	"strat/pkg/session"
)

// hostChannels are the listeners a HOST runs plus the snapshot publisher.
type hostChannels struct {
	relay     *relay.Server
	broadcast *broadcast.Server

	frames  chan []byte // one slot, latest frame wins
	stop    chan struct{}
	done    chan struct{}
	refresh time.Duration
}

func startHost(n *Node) (*hostChannels, error) {
	h := &hostChannels{
		relay:     relay.NewServer(n.cfg.InputAddr, relay.ApplierFunc(n.Apply), n.cfg.Logger),
		broadcast: broadcast.NewServer(n.cfg.SyncAddr, n.cfg.Logger),
		frames:    make(chan []byte, 1),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
		refresh:   n.cfg.RefreshInterval,
	}
	h.broadcast.WriteTimeout = n.cfg.SendTimeout
	if err := h.relay.Start(); err != nil {
		return nil, err
	}
	if err := h.broadcast.Start(); err != nil {
		_ = h.relay.Close()
		return nil, err
	}
	go h.run()
	return h, nil
}

// offer replaces any pending frame with frame. It never blocks.
func (h *hostChannels) offer(frame []byte) {
	for {
		select {
		case h.frames <- frame:
			return
		default:
		}
		select {
		case <-h.frames:
		default:
		}
	}
}

func (h *hostChannels) run() {
	defer close(h.done)
	ticker := time.NewTicker(h.refresh)
	defer ticker.Stop()

	var last []byte
	fresh := false
	for {
		select {
		case <-h.stop:
			return
		case frame := <-h.frames:
			last = frame
			fresh = true
			h.broadcast.Broadcast(frame)
		case <-ticker.C:
			if !fresh && last != nil {
				h.broadcast.Broadcast(last)
			}
			fresh = false
		}
	}
}

func (h *hostChannels) close() {
	close(h.stop)
	<-h.done
	_ = h.relay.Close()
	_ = h.broadcast.Close()
}

// publish runs on the logic executor after ticks, commands and session
// replacement. It encodes the session and hands the frame to the publisher.
func (n *Node) publish(s *session.Session) {
	if n.Role() != protocol.RoleHost {
		return
	}
	frame, err := session.EncodeSnapshot(s)
	if err != nil {
		n.cfg.Logger.Printf("encode snapshot: %v", err)
		return
	}
	n.mu.Lock()
	h := n.host
	n.mu.Unlock()
	if h != nil {
		h.offer(frame)
	}
}
