package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"vault-core/internal/events"
	"vault-core/internal/storage"
)

func TestStartEnd(t *testing.T) {
	bus := events.NewBus()
	ended, unsub := bus.Subscribe(events.EventSessionEnded, 1)
	defer unsub()

	m := NewManager(storage.NewSession(), time.Hour, bus, zaptest.NewLogger(t))

	_, err := m.PIN()
	assert.ErrorIs(t, err, ErrNotUnlocked)

	var listenerCalls int
	m.OnEnd(func(Info) { listenerCalls++ })

	info := m.Start("1234")
	pin, err := m.PIN()
	require.NoError(t, err)
	assert.Equal(t, "1234", pin)
	assert.True(t, m.IsCurrent(info.ID))
	assert.False(t, m.IsCurrent("other"))

	started, ok := m.Store().Get(storage.SessionKeyStarted)
	assert.True(t, ok)
	assert.Equal(t, true, started)

	m.End()
	m.End()
	assert.Equal(t, 1, listenerCalls)
	_, err = m.PIN()
	assert.ErrorIs(t, err, ErrNotUnlocked)
	_, ok = m.Store().Get(storage.SessionKeyPin)
	assert.False(t, ok)

	select {
	case got := <-ended:
		assert.Equal(t, info, got)
	default:
		t.Fatal("expected session.ended event")
	}
}

func TestStartReplacesLiveSession(t *testing.T) {
	m := NewManager(storage.NewSession(), 0, nil, nil)
	var endedIDs []string
	m.OnEnd(func(i Info) { endedIDs = append(endedIDs, i.ID) })

	first := m.Start("1111")
	second := m.Start("2222")

	assert.NotEqual(t, first.ID, second.ID)
	assert.Equal(t, []string{first.ID}, endedIDs)
	pin, err := m.PIN()
	require.NoError(t, err)
	assert.Equal(t, "2222", pin)
}

func TestSessionExpiry(t *testing.T) {
	m := NewManager(storage.NewSession(), time.Minute, nil, zaptest.NewLogger(t))
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return now }

	var ended bool
	m.OnEnd(func(Info) { ended = true })

	m.Start("1234")
	_, err := m.PIN()
	require.NoError(t, err)

	now = now.Add(time.Minute)
	_, err = m.PIN()
	assert.ErrorIs(t, err, ErrNotUnlocked)
	assert.True(t, ended)
}
