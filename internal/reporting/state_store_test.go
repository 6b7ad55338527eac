package reporting

import (
	"errors"
	"testing"
	"time"

	"stackctl/internal/runtime"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStateStore_SetAndGetServiceState(t *testing.T) {
	store := NewStateStore()

	_, exists := store.GetServiceState("nonexistent")
	assert.False(t, exists)

	changed := store.SetServiceState(ServiceUpdate{
		Service:  "api",
		State:    StateStarting,
		Handle:   &runtime.Handle{ID: "1234", PID: 1234},
		StartSeq: 1,
	})
	assert.True(t, changed)

	snap, exists := store.GetServiceState("api")
	require.True(t, exists)
	assert.Equal(t, StateStarting, snap.State)
	assert.Equal(t, 1234, snap.Handle.PID)
	assert.Equal(t, 1, snap.StartSeq)

	// Same state again is not a change.
	assert.False(t, store.SetServiceState(ServiceUpdate{Service: "api", State: StateStarting, Attempts: 2}))

	checked := time.Now()
	assert.True(t, store.SetServiceState(ServiceUpdate{
		Service:     "api",
		State:       StateHealthy,
		Address:     "localhost:8000",
		URL:         "http://localhost:8000",
		LastCheckAt: checked,
	}))

	snap, _ = store.GetServiceState("api")
	assert.Equal(t, StateHealthy, snap.State)
	assert.Equal(t, "http://localhost:8000", snap.URL)
	assert.Equal(t, 2, snap.Attempts, "fields left empty keep their value")
	assert.Equal(t, "1234", snap.Handle.ID)
	assert.Equal(t, checked, snap.LastCheckAt)
}

func TestStateStore_ErrorIsReplaced(t *testing.T) {
	store := NewStateStore()
	store.SetServiceState(ServiceUpdate{Service: "api", State: StateFailed, Err: errors.New("boom")})
	store.SetServiceState(ServiceUpdate{Service: "api", State: StateStopped})

	snap, _ := store.GetServiceState("api")
	assert.NoError(t, snap.Err)
}

func TestStateStore_Ordering(t *testing.T) {
	store := NewStateStore()
	store.SetServiceState(ServiceUpdate{Service: "zeta", State: StatePending})
	store.SetServiceState(ServiceUpdate{Service: "frontend", State: StateStarting, StartSeq: 2})
	store.SetServiceState(ServiceUpdate{Service: "api", State: StateHealthy, StartSeq: 1})
	store.SetServiceState(ServiceUpdate{Service: "alpha", State: StatePending})

	var names []string
	for _, s := range store.GetAllServiceStates() {
		names = append(names, s.Service)
	}
	assert.Equal(t, []string{"api", "frontend", "alpha", "zeta"}, names)

	pending := store.GetServicesByState(StatePending)
	require.Len(t, pending, 2)
	assert.Equal(t, "alpha", pending[0].Service)
}

func TestStateStore_Subscriptions(t *testing.T) {
	store := NewStateStore()
	all := store.Subscribe("")
	apiOnly := store.Subscribe("api")

	store.SetServiceState(ServiceUpdate{Service: "api", State: StateStarting})
	store.SetServiceState(ServiceUpdate{Service: "frontend", State: StatePending})
	store.SetServiceState(ServiceUpdate{Service: "api", State: StateStarting})

	ev := <-all.Channel
	assert.Equal(t, "api", ev.Service)
	assert.Equal(t, ServiceState(""), ev.OldState)
	assert.Equal(t, StateStarting, ev.NewState)
	ev = <-all.Channel
	assert.Equal(t, "frontend", ev.Service)
	assert.Len(t, all.Channel, 0)

	ev = <-apiOnly.Channel
	assert.Equal(t, "api", ev.Service)
	assert.Len(t, apiOnly.Channel, 0)

	store.Unsubscribe(apiOnly)
	assert.True(t, apiOnly.IsClosed())
	_, open := <-apiOnly.Channel
	assert.False(t, open)

	// Closed subscriptions are skipped, not written to.
	all.Close()
	assert.NotPanics(t, func() {
		store.SetServiceState(ServiceUpdate{Service: "api", State: StateHealthy})
	})
}

func TestStateStore_DropsWhenSubscriberIsFull(t *testing.T) {
	store := NewStateStore()
	store.Subscribe("")

	states := []ServiceState{StateStarting, StateHealthy}
	for i := 0; i < subscriptionBuffer+10; i++ {
		store.SetServiceState(ServiceUpdate{Service: "api", State: states[i%2]})
	}
	assert.EqualValues(t, 10, store.DroppedEvents())
}
