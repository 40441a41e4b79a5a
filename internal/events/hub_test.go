package events

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func recvEvent(t *testing.T, sub *Subscription) (Event, bool) {
	t.Helper()
	select {
	case e, ok := <-sub.Events():
		return e, ok
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return Event{}, false
	}
}

func TestPublishFanOut(t *testing.T) {
	hub := NewHub(0, zap.NewNop())
	roomID := uuid.New()

	a := hub.Subscribe(roomID)
	b := hub.Subscribe(roomID)
	require.Equal(t, 2, hub.SubscriberCount(roomID))

	hub.Publish(roomID, NewEvent(EventVoteStarted, nil))

	ea, ok := recvEvent(t, a)
	require.True(t, ok)
	assert.Equal(t, EventVoteStarted, ea.Name)

	eb, ok := recvEvent(t, b)
	require.True(t, ok)
	assert.Equal(t, EventVoteStarted, eb.Name)
}

func TestPublishOrderPreserved(t *testing.T) {
	hub := NewHub(32, zap.NewNop())
	roomID := uuid.New()
	sub := hub.Subscribe(roomID)

	for i := 0; i < 10; i++ {
		hub.Publish(roomID, NewEvent(fmt.Sprintf("event_%d", i), nil))
	}
	for i := 0; i < 10; i++ {
		e, ok := recvEvent(t, sub)
		require.True(t, ok)
		assert.Equal(t, fmt.Sprintf("event_%d", i), e.Name)
	}
}

func TestConcurrentPublishSameOrderForAllSubscribers(t *testing.T) {
	hub := NewHub(256, zap.NewNop())
	roomID := uuid.New()
	a := hub.Subscribe(roomID)
	b := hub.Subscribe(roomID)

	const workers = 4
	const perWorker = 25
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				hub.Publish(roomID, NewEvent(fmt.Sprintf("event_%d_%d", w, i), nil))
			}
		}(w)
	}
	wg.Wait()

	total := workers * perWorker
	gotA := make([]string, 0, total)
	gotB := make([]string, 0, total)
	for i := 0; i < total; i++ {
		ea, ok := recvEvent(t, a)
		require.True(t, ok)
		gotA = append(gotA, ea.Name)
		eb, ok := recvEvent(t, b)
		require.True(t, ok)
		gotB = append(gotB, eb.Name)
	}
	assert.Equal(t, gotA, gotB, "all subscribers must observe the same order")
}

func TestSlowSubscriberTerminated(t *testing.T) {
	hub := NewHub(1, zap.NewNop())
	roomID := uuid.New()
	slow := hub.Subscribe(roomID)
	fast := hub.Subscribe(roomID)

	hub.Publish(roomID, NewEvent("first", nil))
	// slow's buffer of 1 is now full; this publish terminates it.
	e, ok := recvEvent(t, fast)
	require.True(t, ok)
	require.Equal(t, "first", e.Name)
	hub.Publish(roomID, NewEvent("second", nil))

	e, ok = recvEvent(t, slow)
	require.True(t, ok)
	assert.Equal(t, "first", e.Name)
	_, ok = recvEvent(t, slow)
	assert.False(t, ok, "slow subscriber channel must be closed")

	e, ok = recvEvent(t, fast)
	require.True(t, ok)
	assert.Equal(t, "second", e.Name)
	assert.Equal(t, 1, hub.SubscriberCount(roomID))
}

func TestCloseRoom(t *testing.T) {
	hub := NewHub(0, zap.NewNop())
	roomID := uuid.New()
	a := hub.Subscribe(roomID)
	b := hub.Subscribe(roomID)

	hub.CloseRoom(roomID)

	_, ok := recvEvent(t, a)
	assert.False(t, ok)
	_, ok = recvEvent(t, b)
	assert.False(t, ok)
	assert.Equal(t, 0, hub.SubscriberCount(roomID))

	// publishing to a closed room is a no-op
	hub.Publish(roomID, NewEvent(EventRoomExpired, nil))
}

func TestUnsubscribeIdempotent(t *testing.T) {
	hub := NewHub(0, zap.NewNop())
	roomID := uuid.New()
	sub := hub.Subscribe(roomID)

	hub.Unsubscribe(sub)
	hub.Unsubscribe(sub)
	assert.Equal(t, 0, hub.SubscriberCount(roomID))

	_, ok := recvEvent(t, sub)
	assert.False(t, ok)
}

func TestPublishUnknownRoom(t *testing.T) {
	hub := NewHub(0, zap.NewNop())
	hub.Publish(uuid.New(), NewEvent(EventVoteStarted, nil))
	assert.Equal(t, 0, hub.SubscriberCount(uuid.New()))
}
