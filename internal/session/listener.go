package session

import (
	"errors"
	"fmt"

	"github.com/opencode-ai/claudia/internal/event"
)

// ListenerState is the attachment state of a ListenerManager.
type ListenerState int

const (
	Unattached ListenerState = iota
	GenericListening
	ScopedListening
)

func (s ListenerState) String() string {
	switch s {
	case Unattached:
		return "unattached"
	case GenericListening:
		return "generic"
	case ScopedListening:
		return "scoped"
	}
	return fmt.Sprintf("ListenerState(%d)", int(s))
}

// MarshalText encodes the state by name.
func (s ListenerState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes a state name written by MarshalText.
func (s *ListenerState) UnmarshalText(text []byte) error {
	for _, st := range []ListenerState{Unattached, GenericListening, ScopedListening} {
		if st.String() == string(text) {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("unknown listener state %q", text)
}

var (
	// ErrAlreadyAttached is returned by AttachGeneric when a set is active.
	ErrAlreadyAttached = errors.New("listener set already attached")
	// ErrHandoffRefused is returned by AttachScoped outside GenericListening
	// or after the turn's handoff has happened.
	ErrHandoffRefused = errors.New("scoped handoff refused")
)

// Transport is the subscription side of the event bus.
type Transport interface {
	Subscribe(channel string, fn event.Handler) (func(), error)
}

// DeliveryKind says which channel of a set an event arrived on.
type DeliveryKind int

const (
	DeliverOutput DeliveryKind = iota
	DeliverError
	DeliverComplete
)

// Delivery is one event as seen by a listener set. Set identifies the set
// that received it so stale deliveries can be told apart.
type Delivery struct {
	Set   uint64
	Kind  DeliveryKind
	Event event.Event
}

// listenerSet is one installed (output, error, completion) triple.
type listenerSet struct {
	id     uint64
	scope  string // "" for generic
	unsubs []func()
}

func (s *listenerSet) dispose() {
	for _, unsub := range s.unsubs {
		unsub()
	}
	s.unsubs = nil
}

// ListenerManager owns at most one active listener set and swaps generic for
// scoped listeners when the session id becomes known. It is not safe for
// concurrent use; the owning controller serialises access.
type ListenerManager struct {
	transport Transport
	deliver   func(Delivery)

	state     ListenerState
	active    *listenerSet
	nextID    uint64
	handedOff bool
}

// NewListenerManager creates a manager that forwards deliveries to deliver.
// deliver runs on the publisher's goroutine.
func NewListenerManager(transport Transport, deliver func(Delivery)) *ListenerManager {
	return &ListenerManager{transport: transport, deliver: deliver}
}

// State returns the current attachment state.
func (m *ListenerManager) State() ListenerState {
	return m.state
}

// SessionID returns the scope of the active set, or "" when not scoped.
func (m *ListenerManager) SessionID() string {
	if m.active == nil {
		return ""
	}
	return m.active.scope
}

// IsActive reports whether set is the currently active listener set.
func (m *ListenerManager) IsActive(set uint64) bool {
	return m.active != nil && m.active.id == set
}

// AttachGeneric installs the unscoped set and starts a new turn's handoff
// window.
func (m *ListenerManager) AttachGeneric() error {
	if m.state != Unattached {
		return ErrAlreadyAttached
	}
	set, err := m.install("")
	if err != nil {
		return err
	}
	m.active = set
	m.state = GenericListening
	m.handedOff = false
	return nil
}

// AttachScoped installs the set scoped to sessionID, then disposes the
// generic set. At most one handoff happens per turn.
func (m *ListenerManager) AttachScoped(sessionID string) error {
	if m.state != GenericListening || m.handedOff {
		return ErrHandoffRefused
	}
	if sessionID == "" {
		return errors.New("session id is required")
	}
	// Guard first so a failed install is not retried within the turn.
	m.handedOff = true

	set, err := m.install(sessionID)
	if err != nil {
		return err
	}
	previous := m.active
	m.active = set
	m.state = ScopedListening
	previous.dispose()
	return nil
}

// DetachAll disposes the active set.
func (m *ListenerManager) DetachAll() {
	if m.active != nil {
		m.active.dispose()
		m.active = nil
	}
	m.state = Unattached
}

// install subscribes the three channels of a set. On failure every
// subscription made so far is released.
func (m *ListenerManager) install(sessionID string) (*listenerSet, error) {
	m.nextID++
	set := &listenerSet{id: m.nextID, scope: sessionID}

	output, errs, complete := event.OutputChannels(sessionID)
	channels := []struct {
		name string
		kind DeliveryKind
	}{
		{output, DeliverOutput},
		{errs, DeliverError},
		{complete, DeliverComplete},
	}

	for _, ch := range channels {
		kind := ch.kind
		id := set.id
		unsub, err := m.transport.Subscribe(ch.name, func(e event.Event) {
			m.deliver(Delivery{Set: id, Kind: kind, Event: e})
		})
		if err != nil {
			set.dispose()
			return nil, fmt.Errorf("subscribe %s: %w", ch.name, err)
		}
		set.unsubs = append(set.unsubs, unsub)
	}
	return set, nil
}
