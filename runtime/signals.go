package runtime

import (
	"sync"

	"github.com/embercore/hotscript/script"
)

// HostListener is a Go callback connected to a signal name. Listeners run
// on the execution thread at a phase boundary, never during the update
// call that emitted the signal.
type HostListener func(signal string, origin script.InstanceID)

type pendingSignal struct {
	id     uint32
	origin script.InstanceID
	frame  uint64
}

type hostConn struct {
	fn HostListener
}

// SignalTable is the explicit connection table: signal name to listeners,
// in connection order. Emissions are buffered and drained at phase
// boundaries into ordinary queued dispatch, so no listener ever runs
// reentrantly inside the emitting script's update call. Guest calls run
// on a watchdog goroutine, so the table locks around every operation.
type SignalTable struct {
	mu          sync.Mutex
	ids         map[string]uint32
	names       []string
	scriptConns map[uint32][]script.InstanceID
	hostConns   map[uint32][]hostConn
	pending     []pendingSignal
}

func NewSignalTable() *SignalTable {
	return &SignalTable{
		ids:         make(map[string]uint32),
		scriptConns: make(map[uint32][]script.InstanceID),
		hostConns:   make(map[uint32][]hostConn),
	}
}

// Intern returns the stable id for a signal name, assigning the next id
// on first use. Id assignment order is registration order, which makes
// fan-out order deterministic.
func (t *SignalTable) Intern(name string) uint32 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.intern(name)
}

func (t *SignalTable) intern(name string) uint32 {
	if id, ok := t.ids[name]; ok {
		return id
	}
	id := uint32(len(t.names) + 1)
	t.ids[name] = id
	t.names = append(t.names, name)
	return id
}

// Name returns the signal name for an interned id.
func (t *SignalTable) Name(id uint32) string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if id == 0 || int(id) > len(t.names) {
		return ""
	}
	return t.names[id-1]
}

// ConnectScript subscribes an instance to a signal name and returns the
// interned id. Duplicate connections are collapsed.
func (t *SignalTable) ConnectScript(name string, listener script.InstanceID) uint32 {
	t.mu.Lock()
	defer t.mu.Unlock()
	id := t.intern(name)
	for _, existing := range t.scriptConns[id] {
		if existing == listener {
			return id
		}
	}
	t.scriptConns[id] = append(t.scriptConns[id], listener)
	return id
}

// ConnectHost subscribes a Go callback to a signal name.
func (t *SignalTable) ConnectHost(name string, fn HostListener) {
	t.mu.Lock()
	defer t.mu.Unlock()
	id := t.intern(name)
	t.hostConns[id] = append(t.hostConns[id], hostConn{fn: fn})
}

// DisconnectInstance removes every connection held by an instance.
// Called on detach so signals never target dead ids.
func (t *SignalTable) DisconnectInstance(listener script.InstanceID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for id, conns := range t.scriptConns {
		kept := conns[:0]
		for _, c := range conns {
			if c != listener {
				kept = append(kept, c)
			}
		}
		t.scriptConns[id] = kept
	}
}

// Emit buffers a signal for delivery at the next phase boundary.
func (t *SignalTable) Emit(name string, origin script.InstanceID, frame uint64) {
	t.mu.Lock()
	t.pending = append(t.pending, pendingSignal{id: t.intern(name), origin: origin, frame: frame})
	t.mu.Unlock()
}

// DrainPending swaps out the buffered emissions in emission order.
func (t *SignalTable) DrainPending() []pendingSignal {
	t.mu.Lock()
	out := t.pending
	t.pending = nil
	t.mu.Unlock()
	return out
}

// ScriptListeners returns the instances connected to a signal id, in
// connection order.
func (t *SignalTable) ScriptListeners(id uint32) []script.InstanceID {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]script.InstanceID, len(t.scriptConns[id]))
	copy(out, t.scriptConns[id])
	return out
}

// HostListeners returns the host callbacks connected to a signal id.
func (t *SignalTable) HostListeners(id uint32) []HostListener {
	t.mu.Lock()
	defer t.mu.Unlock()
	conns := t.hostConns[id]
	out := make([]HostListener, len(conns))
	for i, c := range conns {
		out[i] = c.fn
	}
	return out
}

// PendingCount returns the number of buffered emissions.
func (t *SignalTable) PendingCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}
