// Package registry implements the server's time-bounded table of pending
// inbound data connections, keyed by the id offered to the client in a
// Connection(id) message.
package registry

import (
	"log"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
)

// EntryLifetime is how long a pending connection is held before the sweeper
// drops it. Matches the server's Connection(id) acceptance window. It is a
// var, not a const, so tests can shrink it instead of sleeping 10s.
var EntryLifetime = 10 * time.Second

const shardCount = 16

type entry struct {
	conn   net.Conn
	owner  string
	bornAt time.Time
}

type shard struct {
	mu      sync.Mutex
	entries map[uuid.UUID]entry
}

// Registry is a sharded concurrent map from connection id to the inbound
// public-side net.Conn awaiting a client Accept. It is shared across every
// control session on a server.
type Registry struct {
	shards [shardCount]*shard
}

// New returns an empty Registry.
func New() *Registry {
	r := &Registry{}
	for i := range r.shards {
		r.shards[i] = &shard{entries: make(map[uuid.UUID]entry)}
	}
	return r
}

func (r *Registry) shardFor(id uuid.UUID) *shard {
	return r.shards[id[0]%shardCount]
}

// Insert adds conn under a fresh id, owned by the session identified by
// owner (used to correlate an eventual Accept(id) back to the session that
// offered it), and schedules a sweeper goroutine that drops the entry after
// EntryLifetime unless it is accepted first. It returns the id assigned so
// the caller can offer it to the client.
func (r *Registry) Insert(conn net.Conn, owner string) uuid.UUID {
	id := uuid.New()
	sh := r.shardFor(id)

	sh.mu.Lock()
	sh.entries[id] = entry{conn: conn, owner: owner, bornAt: time.Now()}
	sh.mu.Unlock()

	go r.sweep(id)
	return id
}

func (r *Registry) sweep(id uuid.UUID) {
	time.Sleep(EntryLifetime)
	if conn, _, ok := r.remove(id); ok {
		log.Printf("registry: dropping stale pending connection %s", id)
		_ = conn.Close()
	}
}

// Accept atomically removes and returns the connection registered under id
// and the label of the session that offered it, if still present. At most
// one caller across Accept/sweep ever receives a true ok for a given id.
func (r *Registry) Accept(id uuid.UUID) (net.Conn, string, bool) {
	return r.remove(id)
}

func (r *Registry) remove(id uuid.UUID) (net.Conn, string, bool) {
	sh := r.shardFor(id)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	e, ok := sh.entries[id]
	if !ok {
		return nil, "", false
	}
	delete(sh.entries, id)
	return e.conn, e.owner, true
}

// Len reports the number of pending entries currently held, across all
// shards. Intended for tests and diagnostics, not hot-path logic.
func (r *Registry) Len() int {
	total := 0
	for _, sh := range r.shards {
		sh.mu.Lock()
		total += len(sh.entries)
		sh.mu.Unlock()
	}
	return total
}
