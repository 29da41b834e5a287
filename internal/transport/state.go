package transport

import "sync"

type State int

const (
	StateIdle State = iota
	StateListening
	StateConnecting
	StateConnected
	StateDisconnected
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateListening:
		return "listening"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDisconnected:
		return "disconnected"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// StateListener is told about every transition. reason is set for Failed
// and Disconnected.
type StateListener func(from, to State, reason error)

// stateMachine serialises transitions and delivers them to listeners in the
// order they happened.
type stateMachine struct {
	mu     sync.Mutex
	state  State
	reason error

	emitMu    sync.Mutex
	nextID    int
	listeners map[int]StateListener
}

func newStateMachine() *stateMachine {
	return &stateMachine{listeners: make(map[int]StateListener)}
}

func (m *stateMachine) current() (State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state, m.reason
}

func (m *stateMachine) subscribe(l StateListener) func() {
	m.emitMu.Lock()
	defer m.emitMu.Unlock()
	id := m.nextID
	m.nextID++
	m.listeners[id] = l
	return func() {
		m.emitMu.Lock()
		defer m.emitMu.Unlock()
		delete(m.listeners, id)
	}
}

// set moves to state and reports the previous one. Listeners run before set
// returns, so they must not call back into the transport.
func (m *stateMachine) set(to State, reason error) State {
	m.emitMu.Lock()
	defer m.emitMu.Unlock()

	m.mu.Lock()
	from := m.state
	m.state = to
	m.reason = reason
	m.mu.Unlock()

	if from != to {
		for _, l := range m.listeners {
			l(from, to, reason)
		}
	}
	return from
}

// setIf transitions only when the current state is one of allowed.
func (m *stateMachine) setIf(to State, reason error, allowed ...State) bool {
	m.emitMu.Lock()
	defer m.emitMu.Unlock()

	m.mu.Lock()
	from := m.state
	ok := false
	for _, s := range allowed {
		if s == from {
			ok = true
			break
		}
	}
	if !ok {
		m.mu.Unlock()
		return false
	}
	m.state = to
	m.reason = reason
	m.mu.Unlock()

	if from != to {
		for _, l := range m.listeners {
			l(from, to, reason)
		}
	}
	return true
}
