package bus

import "sync"

// Broker is the shared state behind a set of in-process Memory adapters: a
// channel-name-keyed registry of subscriber handlers. Tests and
// single-process simulations construct one Broker and hand every
// simulated node its own Memory adapter over it, so publishing on one
// node's adapter reaches every other node subscribed to the same channel
// without a real network.
type Broker struct {
	mu   sync.RWMutex
	subs map[string][]Handler
}

// NewBroker creates an empty in-process broker.
func NewBroker() *Broker {
	return &Broker{subs: make(map[string][]Handler)}
}

func (b *Broker) subscribe(channel string, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[channel] = append(b.subs[channel], h)
}

func (b *Broker) publish(channel string, payload []byte) {
	b.mu.RLock()
	handlers := append([]Handler(nil), b.subs[channel]...)
	b.mu.RUnlock()

	for _, h := range handlers {
		h(payload)
	}
}

// Memory is an Adapter backed by a shared in-process Broker. Delivery is
// synchronous on the publishing goroutine, same as the teacher's test
// doubles for transport.Transport — adequate for a single-process
// simulation where there is no real network to be best-effort over.
type Memory struct {
	mu     sync.Mutex
	broker *Broker
	closed bool
}

// NewMemory creates a Memory adapter attached to broker.
func NewMemory(broker *Broker) *Memory {
	return &Memory{broker: broker}
}

// Subscribe adds handler for channel on the shared Broker. It does not
// replace an earlier handler this adapter registered on the same channel:
// both stay registered and both receive every publish.
func (m *Memory) Subscribe(channel string, handler Handler) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.broker.subscribe(channel, handler)
	return nil
}

func (m *Memory) Publish(channel string, payload []byte) error {
	m.mu.Lock()
	closed := m.closed
	m.mu.Unlock()
	if closed {
		return ErrClosed
	}
	m.broker.publish(channel, payload)
	return nil
}

func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
