package storage

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/z-tavern/roleplay/internal/model/character"
	"github.com/zhouzirui/z-tavern/roleplay/internal/model/chat"
	"github.com/zhouzirui/z-tavern/roleplay/internal/model/session"
)

func newTestRedis(t *testing.T, prefix string) (*RedisBackend, *miniredis.Miniredis) {
	t.Helper()
	server := miniredis.RunT(t)
	backend, err := NewRedisBackend(context.Background(), "redis://"+server.Addr(), prefix)
	require.NoError(t, err)
	t.Cleanup(func() { _ = backend.Close() })
	return backend, server
}

func TestRedisBackendMissingKeysLoadEmpty(t *testing.T) {
	backend, _ := newTestRedis(t, "")
	ctx := context.Background()

	characters, err := backend.LoadCharacters(ctx)
	require.NoError(t, err)
	assert.NotNil(t, characters)
	assert.Empty(t, characters)

	sessions, err := backend.LoadSessions(ctx)
	require.NoError(t, err)
	assert.NotNil(t, sessions)
	assert.Empty(t, sessions)
}

func TestRedisBackendRoundTrip(t *testing.T) {
	backend, server := newTestRedis(t, "test")
	ctx := context.Background()

	alice := character.New("Alice", nil, nil, nil, nil)
	alice.AddExample(chat.UserTurn("Bob", "Bob: Hi"))
	require.NoError(t, backend.SaveCharacters(ctx, map[string]character.Character{"Alice": alice}))

	h := session.FromCharacter(alice, "m1")
	require.NoError(t, h.Ingest(chat.UserTurn("Bob", "Bob: Hej")))
	require.NoError(t, h.Regenerate())
	require.NoError(t, h.Commit(chat.AssistantTurn("Alice", "Hej hej"), 1.7))
	require.NoError(t, backend.SaveSessions(ctx, map[string]*session.History{"m1": h}))

	assert.True(t, server.Exists("test:characters"))
	assert.True(t, server.Exists("test:chats"))

	characters, err := backend.LoadCharacters(ctx)
	require.NoError(t, err)
	assert.Equal(t, alice, characters["Alice"])

	sessions, err := backend.LoadSessions(ctx)
	require.NoError(t, err)
	require.Contains(t, sessions, "m1")
	loaded := sessions["m1"]
	assert.Equal(t, h.Prompt, loaded.Prompt)
	assert.Equal(t, h.Choices, loaded.Choices)
	assert.Equal(t, h.SecondsTaken, loaded.SecondsTaken)
	assert.Equal(t, "2/2 | tog 1.7s | 7/4096", loaded.Footer())
}

func TestRedisBackendCorruptValue(t *testing.T) {
	backend, server := newTestRedis(t, "")
	require.NoError(t, server.Set("tavern:chats", "{not json"))
	require.NoError(t, server.Set("tavern:characters", "[]"))

	_, err := backend.LoadSessions(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrCorrupt))

	_, err = backend.LoadCharacters(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrCorrupt))
}

func TestNewRedisBackendRejectsBadURL(t *testing.T) {
	_, err := NewRedisBackend(context.Background(), "://nope", "")
	assert.Error(t, err)
}

func TestNewRedisBackendUnreachable(t *testing.T) {
	server := miniredis.RunT(t)
	addr := server.Addr()
	server.Close()

	_, err := NewRedisBackend(context.Background(), "redis://"+addr, "")
	assert.Error(t, err)
}
