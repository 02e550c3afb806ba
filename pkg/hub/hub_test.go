package hub

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startHub(t *testing.T) (*Hub, context.CancelFunc) {
	t.Helper()
	h := New("test", nil)
	ctx, cancel := context.WithCancel(context.Background())
	go h.Run(ctx)
	t.Cleanup(func() {
		cancel()
		<-h.Done()
	})
	return h, cancel
}

func receive(t *testing.T, s *Subscriber) Message {
	t.Helper()
	select {
	case msg, ok := <-s.Messages():
		require.True(t, ok, "channel closed")
		return msg
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for message")
		return Message{}
	}
}

func TestBroadcastReachesAllSubscribers(t *testing.T) {
	h, _ := startHub(t)

	a := h.Subscribe(4)
	b := h.Subscribe(4)
	require.NotNil(t, a)
	require.NotNil(t, b)
	assert.Eventually(t, func() bool { return h.SubscriberCount() == 2 }, time.Second, 5*time.Millisecond)

	require.NoError(t, h.BroadcastJSON(map[string]string{"msg": "hi"}))

	for _, s := range []*Subscriber{a, b} {
		msg := receive(t, s)
		assert.Equal(t, JSONMessage, msg.Type)
		assert.JSONEq(t, `{"msg":"hi"}`, string(msg.Data))
	}
}

func TestSubscriberClose(t *testing.T) {
	h, _ := startHub(t)

	s := h.Subscribe(1)
	require.NotNil(t, s)
	s.Close()
	s.Close()

	assert.Eventually(t, func() bool { return h.SubscriberCount() == 0 }, time.Second, 5*time.Millisecond)
	_, ok := <-s.Messages()
	assert.False(t, ok)
}

func TestSlowSubscriberDropped(t *testing.T) {
	h, _ := startHub(t)

	slow := h.Subscribe(1)
	require.NotNil(t, slow)

	h.Broadcast(NewBinaryMessage([]byte{1}))
	h.Broadcast(NewBinaryMessage([]byte{2}))

	assert.Eventually(t, func() bool { return h.SubscriberCount() == 0 }, time.Second, 5*time.Millisecond)
}

func TestStopClosesSubscribers(t *testing.T) {
	h := New("stop", nil)
	ctx, cancel := context.WithCancel(context.Background())
	go h.Run(ctx)

	s := h.Subscribe(1)
	require.NotNil(t, s)
	assert.Eventually(t, h.IsRunning, time.Second, 5*time.Millisecond)

	cancel()
	<-h.Done()

	_, ok := <-s.Messages()
	assert.False(t, ok)
	assert.False(t, h.IsRunning())
	assert.Nil(t, h.Subscribe(1), "subscribe after stop")
	s.Close()
}
