package eventlog

import (
	"context"
	"database/sql"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Event is one journal row.
type Event struct {
	ID        int64
	Type      string
	Source    string
	SessionID string
	NodeID    string
	Payload   string
	CreatedAt time.Time
}

// Logger receives diagnostic output. *log.Logger satisfies it.
type Logger interface {
	Printf(format string, args ...any)
}

// DefaultQueueSize is the number of events a Journal buffers before it starts
// dropping.
const DefaultQueueSize = 256

// Journal writes events in the background. Record never blocks: when the
// queue is full the event is counted in Dropped and discarded.
type Journal struct {
	db     *sql.DB
	source string
	nodeID string
	log    Logger
	now    func() time.Time

	queue   chan Event
	dropped atomic.Int64

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

// JournalOpts configures NewJournal.
type JournalOpts struct {
	// Source tags every event, typically the node role ("host", "slave").
	Source string
	// QueueSize defaults to DefaultQueueSize.
	QueueSize int
	Logger    Logger
}

// NewJournal starts a writer over db. Each journal gets a fresh node ID.
func NewJournal(db *sql.DB, opts JournalOpts) *Journal {
	if opts.QueueSize <= 0 {
		opts.QueueSize = DefaultQueueSize
	}
	if opts.Logger == nil {
		opts.Logger = log.New(log.Writer(), "[eventlog] ", log.LstdFlags)
	}
	if opts.Source == "" {
		opts.Source = "strat"
	}
	j := &Journal{
		db:     db,
		source: opts.Source,
		nodeID: uuid.NewString(),
		log:    opts.Logger,
		now:    time.Now,
		queue:  make(chan Event, opts.QueueSize),
		done:   make(chan struct{}),
	}
	go j.writeLoop()
	return j
}

// NodeID identifies the process that owns this journal.
func (j *Journal) NodeID() string { return j.nodeID }

// SetSource changes the source tag for subsequent events.
func (j *Journal) SetSource(source string) {
	j.mu.Lock()
	j.source = source
	j.mu.Unlock()
}

// Record queues an event. It is safe to call after Close, which discards it.
func (j *Journal) Record(evType, sessionID, payload string) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	if j.closed {
		return
	}
	ev := Event{
		Type:      evType,
		Source:    j.source,
		SessionID: sessionID,
		NodeID:    j.nodeID,
		Payload:   payload,
		CreatedAt: j.now().UTC(),
	}
	select {
	case j.queue <- ev:
	default:
		j.dropped.Add(1)
	}
}

// Dropped reports how many events were discarded on a full queue.
func (j *Journal) Dropped() int64 { return j.dropped.Load() }

// Close stops accepting events, flushes the queue and waits for the writer.
// The database is left open. Idempotent.
func (j *Journal) Close() {
	j.mu.Lock()
	if j.closed {
		j.mu.Unlock()
		<-j.done
		return
	}
	j.closed = true
	close(j.queue)
	j.mu.Unlock()
	<-j.done
}

func (j *Journal) writeLoop() {
	defer close(j.done)
	for ev := range j.queue {
		if err := Insert(context.Background(), j.db, ev); err != nil {
			j.log.Printf("journal %s: %v", ev.Type, err)
		}
	}
}

// Insert writes ev synchronously. A zero CreatedAt uses the database clock.
func Insert(ctx context.Context, db *sql.DB, ev Event) error {
	if ev.CreatedAt.IsZero() {
		_, err := db.ExecContext(ctx,
			`INSERT INTO events (type, source, session_id, node_id, payload) VALUES (?, ?, ?, ?, ?)`,
			ev.Type, ev.Source, ev.SessionID, ev.NodeID, ev.Payload)
		return err
	}
	_, err := db.ExecContext(ctx,
		`INSERT INTO events (type, source, session_id, node_id, payload, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		ev.Type, ev.Source, ev.SessionID, ev.NodeID, ev.Payload, ev.CreatedAt.UTC().Format(timeLayout))
	return err
}
