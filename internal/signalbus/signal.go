// Package signalbus implements a lightweight observer primitive: a typed
// broadcast point that any number of listeners can subscribe to, with
// scoped subscriptions that disconnect on request rather than needing a
// manual unregister-by-value call.
package signalbus

import "sync"

// Signal is a broadcast point for a single event type T. Slots are
// registered with Connect and fire, in connection order, on Emit.
//
// Emitting iterates over a snapshot of the slot table taken at the start
// of the call, so a slot that disconnects itself, disconnects another
// slot, or adds a new slot during emission is safe: newly-added slots do
// not see the in-flight emission, and a slot removed mid-emission that
// was already in the snapshot is simply skipped.
type Signal[T any] struct {
	mu     sync.Mutex
	nextID uint64
	slots  map[uint64]func(T)
	order  []uint64
}

// New creates an empty signal.
func New[T any]() *Signal[T] {
	return &Signal[T]{slots: make(map[uint64]func(T))}
}

// Connection is a handle to a registered slot. Disconnecting it removes
// the slot. Disconnecting more than once is harmless.
type Connection struct {
	once       sync.Once
	disconnect func()
}

// Disconnect removes the slot this connection refers to, if not already
// removed. A nil Connection is safe to disconnect.
func (c *Connection) Disconnect() {
	if c == nil {
		return
	}
	c.once.Do(func() {
		if c.disconnect != nil {
			c.disconnect()
		}
	})
}

// Connect registers f and returns a handle that removes it on Disconnect.
func (s *Signal[T]) Connect(f func(T)) *Connection {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.slots[id] = f
	s.order = append(s.order, id)
	s.mu.Unlock()

	return &Connection{disconnect: func() { s.remove(id) }}
}

func (s *Signal[T]) remove(id uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.slots[id]; !ok {
		return
	}
	delete(s.slots, id)
	for i, oid := range s.order {
		if oid == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
}

// Emit calls every slot connected at the time Emit was invoked, in
// connection order.
func (s *Signal[T]) Emit(v T) {
	s.mu.Lock()
	ids := make([]uint64, len(s.order))
	copy(ids, s.order)
	s.mu.Unlock()

	for _, id := range ids {
		s.mu.Lock()
		f, live := s.slots[id]
		s.mu.Unlock()
		if !live {
			continue
		}
		f(v)
	}
}

// Len returns the number of currently-connected slots.
func (s *Signal[T]) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.order)
}
