// Package network tracks device connectivity for the sync engine.
//
// The Monitor answers Online() synchronously and pushes transitions to
// subscribers on their own goroutines. Each subscriber holds only the
// latest state, so a burst of flips collapses into one delivery of the
// settled value and a slow listener never blocks Set. A burst that ends
// where it started is still delivered once: an offline blip inside the
// debounce window is a reconnect to the listener.
package network

import (
	"sync"
	"time"

	"github.com/kimhsiao/tipsync/backend/internal/logging"
)

// Options configures a Monitor.
type Options struct {
	// Initial is the state reported before the first Set.
	Initial bool
	// Debounce delays delivery until the state has been stable this long.
	Debounce time.Duration
}

// Monitor holds the current connectivity state.
type Monitor struct {
	mu       sync.RWMutex
	online   bool
	debounce time.Duration
	subs     map[uint64]*subscriber
	nextID   uint64
	closed   bool
}

// NewMonitor creates a Monitor.
func NewMonitor(opts Options) *Monitor {
	return &Monitor{
		online:   opts.Initial,
		debounce: opts.Debounce,
		subs:     make(map[uint64]*subscriber),
	}
}

// Online reports the current state.
func (m *Monitor) Online() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.online
}

// Set records the connectivity state. Listeners are notified only when the
// state actually changed.
func (m *Monitor) Set(online bool) {
	m.mu.Lock()
	if m.online == online || m.closed {
		m.mu.Unlock()
		return
	}
	m.online = online
	// push never blocks, and doing it under the lock keeps concurrent Set
	// calls from reaching a subscriber out of order.
	for _, s := range m.subs {
		s.push(online)
	}
	m.mu.Unlock()

	logging.Info("Network state changed", map[string]interface{}{
		"online": online,
	})
}

// Subscribe registers fn for state transitions and returns a function that
// cancels the subscription. fn runs on a goroutine owned by the
// subscription and is never called concurrently with itself. fn must not
// call the returned unsubscribe.
func (m *Monitor) Subscribe(fn func(online bool)) (unsubscribe func()) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := &subscriber{
		fn:       fn,
		latest:   m.online,
		debounce: m.debounce,
		signal:   make(chan struct{}, 1),
		done:     make(chan struct{}),
		exited:   make(chan struct{}),
	}
	if m.closed {
		close(s.exited)
		return func() {}
	}

	id := m.nextID
	m.nextID++
	m.subs[id] = s
	go s.run()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.subs, id)
			m.mu.Unlock()
			s.stop()
		})
	}
}

// Close stops every subscription. Later Set calls are ignored.
func (m *Monitor) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	subs := m.subs
	m.subs = make(map[uint64]*subscriber)
	m.mu.Unlock()

	for _, s := range subs {
		s.stop()
	}
}

type subscriber struct {
	fn       func(bool)
	debounce time.Duration

	mu     sync.Mutex
	latest bool
	// changes counts transitions pushed since the last delivery.
	changes int

	signal chan struct{}
	done   chan struct{}
	exited chan struct{}
}

func (s *subscriber) push(online bool) {
	s.mu.Lock()
	s.latest = online
	s.changes++
	s.mu.Unlock()

	select {
	case s.signal <- struct{}{}:
	default:
	}
}

func (s *subscriber) stop() {
	close(s.done)
	<-s.exited
}

func (s *subscriber) run() {
	defer close(s.exited)

	for {
		select {
		case <-s.done:
			return
		case <-s.signal:
		}

		if s.debounce > 0 && !s.settle() {
			return
		}

		s.mu.Lock()
		state, changed := s.latest, s.changes > 0
		s.changes = 0
		s.mu.Unlock()

		if !changed {
			continue
		}
		s.deliver(state)
	}
}

// settle waits until no new signal arrives for the debounce window. It
// returns false when the subscription was cancelled meanwhile.
func (s *subscriber) settle() bool {
	timer := time.NewTimer(s.debounce)
	defer timer.Stop()

	for {
		select {
		case <-s.done:
			return false
		case <-s.signal:
			timer.Reset(s.debounce)
		case <-timer.C:
			return true
		}
	}
}

func (s *subscriber) deliver(online bool) {
	defer func() {
		if r := recover(); r != nil {
			logging.Warn("Network listener panicked", map[string]interface{}{
				"panic": r,
			})
		}
	}()
	s.fn(online)
}
