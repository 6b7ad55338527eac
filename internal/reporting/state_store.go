package reporting

import (
	"sort"
	"sync"
	"time"

	"stackctl/internal/runtime"
)

// ServiceStateSnapshot is the latest known state of one service.
type ServiceStateSnapshot struct {
	Service     string
	State       ServiceState
	Handle      *runtime.Handle
	Address     string
	URL         string
	StartSeq    int
	Attempts    int
	LastCheckAt time.Time
	Err         error
	LastUpdated time.Time
}

// StateChangeEvent represents a state change with old and new states.
type StateChangeEvent struct {
	Service  string
	OldState ServiceState
	NewState ServiceState
	Snapshot ServiceStateSnapshot
}

// StateSubscription delivers state changes on Channel until closed.
type StateSubscription struct {
	ID      int64
	Service string // empty subscribes to every service
	Channel chan StateChangeEvent

	mu     sync.RWMutex
	closed bool
}

// Close closes the subscription channel.
func (s *StateSubscription) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		close(s.Channel)
		s.closed = true
	}
}

// IsClosed returns whether the subscription is closed.
func (s *StateSubscription) IsClosed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.closed
}

// StateStore is the central, in-memory view of service states.
type StateStore interface {
	GetServiceState(service string) (ServiceStateSnapshot, bool)
	// SetServiceState returns true if the state changed.
	SetServiceState(update ServiceUpdate) bool
	GetAllServiceStates() []ServiceStateSnapshot
	GetServicesByState(state ServiceState) []ServiceStateSnapshot
	Subscribe(service string) *StateSubscription
	Unsubscribe(subscription *StateSubscription)
	// DroppedEvents counts events not delivered because a subscriber's
	// buffer was full.
	DroppedEvents() int64
}

const subscriptionBuffer = 100

// DefaultStateStore is the default implementation of StateStore.
type DefaultStateStore struct {
	mu            sync.RWMutex
	states        map[string]ServiceStateSnapshot
	subscriptions map[int64]*StateSubscription
	nextID        int64
	dropped       int64
}

// NewStateStore creates a new state store.
func NewStateStore() *DefaultStateStore {
	return &DefaultStateStore{
		states:        make(map[string]ServiceStateSnapshot),
		subscriptions: make(map[int64]*StateSubscription),
	}
}

// GetServiceState returns the current state of a service.
func (s *DefaultStateStore) GetServiceState(service string) (ServiceStateSnapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap, ok := s.states[service]
	return snap, ok
}

// SetServiceState stores update as the service's latest snapshot. Fields the
// update leaves empty keep their previous value.
func (s *DefaultStateStore) SetServiceState(update ServiceUpdate) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	old, exists := s.states[update.Service]
	oldState := old.State

	snap := old
	snap.Service = update.Service
	snap.State = update.State
	snap.Err = update.Err
	snap.LastUpdated = update.Timestamp
	if update.Handle != nil {
		snap.Handle = update.Handle
	}
	if update.Address != "" {
		snap.Address = update.Address
	}
	if update.URL != "" {
		snap.URL = update.URL
	}
	if update.StartSeq > 0 {
		snap.StartSeq = update.StartSeq
	}
	if update.Attempts > 0 {
		snap.Attempts = update.Attempts
	}
	if !update.LastCheckAt.IsZero() {
		snap.LastCheckAt = update.LastCheckAt
	}
	s.states[update.Service] = snap

	changed := !exists || oldState != update.State
	if changed {
		s.notifySubscribers(StateChangeEvent{
			Service:  update.Service,
			OldState: oldState,
			NewState: update.State,
			Snapshot: snap,
		})
	}
	return changed
}

// GetAllServiceStates returns every snapshot sorted by start sequence, then
// name.
func (s *DefaultStateStore) GetAllServiceStates() []ServiceStateSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]ServiceStateSnapshot, 0, len(s.states))
	for _, snap := range s.states {
		out = append(out, snap)
	}
	sortSnapshots(out)
	return out
}

// GetServicesByState returns the services currently in state.
func (s *DefaultStateStore) GetServicesByState(state ServiceState) []ServiceStateSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []ServiceStateSnapshot
	for _, snap := range s.states {
		if snap.State == state {
			out = append(out, snap)
		}
	}
	sortSnapshots(out)
	return out
}

// Subscribe creates a subscription to state changes of one service, or of
// all services when service is empty.
func (s *DefaultStateStore) Subscribe(service string) *StateSubscription {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	sub := &StateSubscription{
		ID:      s.nextID,
		Service: service,
		Channel: make(chan StateChangeEvent, subscriptionBuffer),
	}
	s.subscriptions[sub.ID] = sub
	return sub
}

// Unsubscribe removes and closes a subscription.
func (s *DefaultStateStore) Unsubscribe(sub *StateSubscription) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.subscriptions[sub.ID]; ok {
		sub.Close()
		delete(s.subscriptions, sub.ID)
	}
}

// DroppedEvents implements StateStore.
func (s *DefaultStateStore) DroppedEvents() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dropped
}

// notifySubscribers must be called with s.mu held.
func (s *DefaultStateStore) notifySubscribers(event StateChangeEvent) {
	for id, sub := range s.subscriptions {
		if sub.Service != "" && sub.Service != event.Service {
			continue
		}
		sub.mu.RLock()
		if sub.closed {
			sub.mu.RUnlock()
			delete(s.subscriptions, id)
			continue
		}
		select {
		case sub.Channel <- event:
		default:
			s.dropped++
		}
		sub.mu.RUnlock()
	}
}

func sortSnapshots(snaps []ServiceStateSnapshot) {
	sort.Slice(snaps, func(i, j int) bool {
		a, b := snaps[i], snaps[j]
		if a.StartSeq != b.StartSeq {
			if a.StartSeq == 0 {
				return false
			}
			if b.StartSeq == 0 {
				return true
			}
			return a.StartSeq < b.StartSeq
		}
		return a.Service < b.Service
	})
}
