package wa

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBareManager() *Manager {
	return &Manager{
		log:     zerolog.Nop(),
		state:   StateDisconnected,
		changed: make(chan struct{}),
	}
}

func TestSetStateNotifiesListenersOnce(t *testing.T) {
	m := newBareManager()
	var got []State
	m.OnStateChange(func(s State) { got = append(got, s) })

	m.setState(StateConnected, "")
	m.setState(StateConnected, "")
	m.setState(StateDisconnected, "")
	m.setState(StateLoggedOut, "401")

	assert.Equal(t, []State{StateConnected, StateDisconnected, StateLoggedOut}, got)
	assert.Equal(t, "401", m.lastErr)
}

func TestSetStateWakesWaiters(t *testing.T) {
	m := newBareManager()
	m.mu.Lock()
	ch := m.changed
	m.mu.Unlock()

	go m.setState(StateConnecting, "")
	select {
	case <-ch:
	case <-time.After(time.Second):
		require.Fail(t, "waiter not woken")
	}
}

func TestHandleEventMapsStates(t *testing.T) {
	m := newBareManager()
	m.handleEvent(struct{}{})
	assert.Equal(t, StateDisconnected, m.state)
	assert.True(t, StateConnected.Online())
	assert.False(t, StatePairing.Online())
}
