package s7

import "sync"

// Observer receives lifecycle notifications from a Connection, per DESIGN
// NOTES §9: an explicit observer interface with no-op defaults in place of
// named connect/disconnect/error events.
type Observer interface {
	OnConnect()
	OnDisconnect(err error)
	OnPDUSize(size int)
	OnError(err error)
}

// NopObserver implements Observer with no-op methods, so callers only
// interested in one or two events can embed it and override the rest.
type NopObserver struct{}

func (NopObserver) OnConnect()        {}
func (NopObserver) OnDisconnect(error) {}
func (NopObserver) OnPDUSize(int)      {}
func (NopObserver) OnError(error)      {}

// multiObserver fans out to every registered Observer in registration order.
// Observers may be added after the connection is live (item groups register
// on rebind), so the list is locked.
type multiObserver struct {
	mu        sync.Mutex
	observers []Observer
}

func (m *multiObserver) add(o Observer) {
	if o == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.observers = append(m.observers, o)
}

func (m *multiObserver) snapshot() []Observer {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Observer(nil), m.observers...)
}

func (m *multiObserver) OnConnect() {
	for _, o := range m.snapshot() {
		o.OnConnect()
	}
}

func (m *multiObserver) OnDisconnect(err error) {
	for _, o := range m.snapshot() {
		o.OnDisconnect(err)
	}
}

func (m *multiObserver) OnPDUSize(size int) {
	for _, o := range m.snapshot() {
		o.OnPDUSize(size)
	}
}

func (m *multiObserver) OnError(err error) {
	for _, o := range m.snapshot() {
		o.OnError(err)
	}
}
