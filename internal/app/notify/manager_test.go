package notify

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManager_BroadcastReachesAllSubscribers(t *testing.T) {
	m := NewManager()
	defer m.Close()

	_, ch1 := m.Subscribe()
	_, ch2 := m.Subscribe()
	assert.Equal(t, 2, m.SubscriberCount())

	m.Broadcast(Status{State: "idle"})

	for _, ch := range []<-chan Status{ch1, ch2} {
		st := <-ch
		assert.Equal(t, "idle", st.State)
		assert.Equal(t, uint64(1), st.SequenceNo)
	}
}

func TestManager_SequenceNumbersIncrease(t *testing.T) {
	m := NewManager()
	defer m.Close()

	_, ch := m.Subscribe()
	m.Broadcast(Status{State: "idle"})
	m.Broadcast(Status{State: "event"})

	first := <-ch
	second := <-ch
	assert.Greater(t, second.SequenceNo, first.SequenceNo)
}

func TestManager_LateJoinerSeesLastStatus(t *testing.T) {
	m := NewManager()
	defer m.Close()

	m.Broadcast(Status{State: "idle", Clip: "/media/idle/loop.mp4"})

	_, ch := m.Subscribe()
	st := <-ch
	assert.Equal(t, "idle", st.State)
	assert.Equal(t, "/media/idle/loop.mp4", st.Clip)
}

func TestManager_SlowSubscriberDropsOldest(t *testing.T) {
	m := NewManager()
	defer m.Close()

	_, ch := m.Subscribe()
	for i := 0; i < 10; i++ {
		m.Broadcast(Status{State: "idle"})
	}

	// The newest snapshot is always retrievable.
	var last Status
	for len(ch) > 0 {
		last = <-ch
	}
	assert.Equal(t, uint64(10), last.SequenceNo)
}

func TestManager_Unsubscribe(t *testing.T) {
	m := NewManager()
	defer m.Close()

	id, ch := m.Subscribe()
	m.Unsubscribe(id)
	assert.Equal(t, 0, m.SubscriberCount())

	_, open := <-ch
	require.False(t, open, "channel closes on unsubscribe")
}
