package gateway

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/z-tavern/roleplay/internal/service/conversation"
)

func TestHubBroadcastsToSubscribers(t *testing.T) {
	hub := NewHub()
	first, cancelFirst := hub.Subscribe()
	second, cancelSecond := hub.Subscribe()
	defer cancelSecond()

	ctx := context.Background()
	id, err := hub.Send(ctx, "cmd-1", conversation.View{Body: "Hej!"})
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	for _, ch := range []<-chan Event{first, second} {
		ev := <-ch
		assert.Equal(t, EventMessageCreate, ev.Type)
		assert.Equal(t, id, ev.MessageID)
		assert.Equal(t, "cmd-1", ev.ReplyTo)
		assert.Equal(t, "Hej!", ev.View.Body)
		assert.NotZero(t, ev.Timestamp)
	}

	cancelFirst()
	cancelFirst()
	assert.Equal(t, 1, hub.Subscribers())

	require.NoError(t, hub.Edit(ctx, id, conversation.View{Body: "edited"}))
	require.NoError(t, hub.Pin(ctx, id, conversation.View{Body: "pinned"}))
	assert.Equal(t, EventMessageUpdate, (<-second).Type)
	pinned := <-second
	assert.Equal(t, EventMessagePin, pinned.Type)
	assert.Equal(t, id, pinned.ReplyTo)
	assert.NotEqual(t, id, pinned.MessageID)

	_, ok := <-first
	assert.False(t, ok, "cancelled subscription is closed")
}

func TestHubDropsForSlowSubscriber(t *testing.T) {
	hub := NewHub()
	ch, cancel := hub.Subscribe()
	defer cancel()

	for i := 0; i < subscriberBuffer+10; i++ {
		require.NoError(t, hub.Edit(context.Background(), "m1", conversation.View{}))
	}
	assert.Len(t, ch, subscriberBuffer)
}
