package transport

import (
	"hash/fnv"
	"sync"
)

// shardCount is the number of independent pending-request shards.
// Sharding keeps the per-request lock held by the receiver goroutine
// uncontended with the common case of many concurrent callers
// registering and cancelling requests against different IDs.
const shardCount = 64

// Response is what the receiver goroutine delivers to a registered
// request: the datagram payload, or a non-nil Err if the transport
// itself failed (e.g. the socket closed) before a reply arrived.
type Response struct {
	Data []byte
	Err  error
}

type shard struct {
	mu      sync.Mutex
	waiters map[int32]chan Response
}

// pendingTable correlates in-flight request IDs with the channel a
// caller is blocked reading from, sharded by request ID to bound
// lock contention under concurrent load.
type pendingTable struct {
	shards [shardCount]*shard
}

func newPendingTable() *pendingTable {
	t := &pendingTable{}
	for i := range t.shards {
		t.shards[i] = &shard{waiters: make(map[int32]chan Response)}
	}
	return t
}

func (t *pendingTable) shardFor(id int32) *shard {
	h := fnv.New32a()
	var b [4]byte
	b[0] = byte(id)
	b[1] = byte(id >> 8)
	b[2] = byte(id >> 16)
	b[3] = byte(id >> 24)
	_, _ = h.Write(b[:])
	return t.shards[h.Sum32()%shardCount]
}

// register creates a buffered response channel for id. Returns false
// if id is already registered (the caller allocated a colliding ID,
// which should not happen with the atomic counter in Transport).
func (t *pendingTable) register(id int32) (chan Response, bool) {
	s := t.shardFor(id)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.waiters[id]; exists {
		return nil, false
	}
	ch := make(chan Response, 1)
	s.waiters[id] = ch
	return ch, true
}

// deliver routes a response to the waiter registered for id, if any.
// Reports whether a waiter was found.
func (t *pendingTable) deliver(id int32, resp Response) bool {
	s := t.shardFor(id)
	s.mu.Lock()
	ch, ok := s.waiters[id]
	if ok {
		delete(s.waiters, id)
	}
	s.mu.Unlock()
	if !ok {
		return false
	}
	ch <- resp
	return true
}

// unregister removes id without delivering anything, used when a
// caller gives up waiting (timeout exhausted, context cancelled).
func (t *pendingTable) unregister(id int32) {
	s := t.shardFor(id)
	s.mu.Lock()
	delete(s.waiters, id)
	s.mu.Unlock()
}

// closeAll delivers err to every outstanding waiter and drains the
// table, used when the transport's receive loop exits.
func (t *pendingTable) closeAll(err error) {
	for _, s := range t.shards {
		s.mu.Lock()
		for id, ch := range s.waiters {
			delete(s.waiters, id)
			ch <- Response{Err: err}
		}
		s.mu.Unlock()
	}
}

// len reports the total number of outstanding waiters, read by the
// receive loop's periodic cleanup sweep to report how many entries are
// still outstanding via its sweep hook.
func (t *pendingTable) len() int {
	n := 0
	for _, s := range t.shards {
		s.mu.Lock()
		n += len(s.waiters)
		s.mu.Unlock()
	}
	return n
}
