// internal/netmon/netmon_test.go

package netmon

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUpdateNotifiesOnlyOnTransitions(t *testing.T) {
	m := New("probe:443", time.Hour, nil)
	sub := m.Subscribe()

	// Powtórzony werdykt nie generuje zdarzenia
	m.Update(true)
	select {
	case v := <-sub:
		t.Fatalf("unexpected notification: %v", v)
	default:
	}

	m.Update(false)
	select {
	case v := <-sub:
		assert.False(t, v)
	case <-time.After(time.Second):
		t.Fatal("missing unreachable notification")
	}
	assert.False(t, m.Reachable())

	m.Update(true)
	select {
	case v := <-sub:
		assert.True(t, v)
	case <-time.After(time.Second):
		t.Fatal("missing reachable notification")
	}
	assert.True(t, m.Reachable())
}

func TestProbeLoopDrivesState(t *testing.T) {
	m := New("probe:443", 10*time.Millisecond, nil)

	var failing atomic.Bool
	m.SetDialFunc(func(addr string, timeout time.Duration) error {
		if failing.Load() {
			return errors.New("no route to host")
		}
		return nil
	})

	m.Start()
	defer m.Stop()

	require.Eventually(t, m.Reachable, time.Second, 5*time.Millisecond)

	failing.Store(true)
	require.Eventually(t, func() bool { return !m.Reachable() }, time.Second, 5*time.Millisecond)

	failing.Store(false)
	require.Eventually(t, m.Reachable, time.Second, 5*time.Millisecond)
}

func TestStopClosesSubscribers(t *testing.T) {
	m := New("probe:443", time.Hour, nil)
	m.SetDialFunc(func(addr string, timeout time.Duration) error { return nil })
	sub := m.Subscribe()

	m.Start()
	m.Stop()

	select {
	case _, ok := <-sub:
		assert.False(t, ok, "subscriber channel must be closed on Stop")
	case <-time.After(time.Second):
		t.Fatal("subscriber channel not closed")
	}
}

func TestNegativeCacheAndForget(t *testing.T) {
	m := New("probe:443", time.Hour, nil)

	assert.False(t, m.IsCachedUnreachable("db:5432"))

	m.RecordFailure("db:5432")
	assert.True(t, m.IsCachedUnreachable("db:5432"))

	// Jawna inwalidacja przed ręcznym ponowieniem połączenia
	m.Forget("db:5432")
	assert.False(t, m.IsCachedUnreachable("db:5432"))

	// Forget nieznanego adresu jest bezpieczne
	m.Forget("unknown:22")
}
