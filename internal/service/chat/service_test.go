package chat_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/z-tavern/roleplay/internal/model/character"
	modelchat "github.com/zhouzirui/z-tavern/roleplay/internal/model/chat"
	"github.com/zhouzirui/z-tavern/roleplay/internal/model/session"
	chat "github.com/zhouzirui/z-tavern/roleplay/internal/service/chat"
)

type recordingPersister struct {
	mu    sync.Mutex
	saves []map[string]*session.History
	err   error
}

func (p *recordingPersister) SaveSessions(_ context.Context, sessions map[string]*session.History) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.saves = append(p.saves, sessions)
	return p.err
}

// stallingPersister blocks its first save until release is closed.
type stallingPersister struct {
	recordingPersister
	once    sync.Once
	entered chan struct{}
	release chan struct{}
}

func (p *stallingPersister) SaveSessions(ctx context.Context, sessions map[string]*session.History) error {
	first := false
	p.once.Do(func() { first = true })
	if first {
		close(p.entered)
		<-p.release
	}
	return p.recordingPersister.SaveSessions(ctx, sessions)
}

func newHistory(id string) *session.History {
	return session.FromCharacter(character.New("Alice", nil, nil, nil, nil), id)
}

func TestServiceGetSession(t *testing.T) {
	svc := chat.NewService(nil, nil)
	ctx := context.Background()

	require.NoError(t, svc.Put(ctx, newHistory("m1")))

	got, err := svc.Get(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, "m1", got.ID)
	assert.Equal(t, "Alice", got.Character.Name)
	assert.Len(t, got.Prompt, 9)
}

func TestServiceGetSessionNotFound(t *testing.T) {
	svc := chat.NewService(nil, nil)

	_, err := svc.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, chat.ErrSessionNotFound)
}

func TestServiceGetReturnsPrivateCopy(t *testing.T) {
	svc := chat.NewService(nil, nil)
	ctx := context.Background()
	require.NoError(t, svc.Put(ctx, newHistory("m1")))

	first, err := svc.Get(ctx, "m1")
	require.NoError(t, err)
	first.Push(modelchat.UserTurn("Bob", "changed"))
	first.Choices[0].Message = "mutated"

	second, err := svc.Get(ctx, "m1")
	require.NoError(t, err)
	assert.Len(t, second.Prompt, 9)
	assert.NotEqual(t, "mutated", second.Choices[0].Message)
}

func TestServicePutKeepsOldKeyForBranching(t *testing.T) {
	svc := chat.NewService(nil, nil)
	ctx := context.Background()
	require.NoError(t, svc.Put(ctx, newHistory("m1")))

	h, err := svc.Get(ctx, "m1")
	require.NoError(t, err)
	require.NoError(t, h.Ingest(modelchat.UserTurn("Bob", "Hi")))
	h.ID = "m2"
	require.NoError(t, svc.Put(ctx, h))

	old, err := svc.Get(ctx, "m1")
	require.NoError(t, err)
	assert.Len(t, old.Prompt, 9)

	branched, err := svc.Get(ctx, "m2")
	require.NoError(t, err)
	assert.Len(t, branched.Prompt, 11)
	assert.Equal(t, 2, svc.Len())
}

func TestServicePutPersistsFullSnapshot(t *testing.T) {
	persister := &recordingPersister{}
	svc := chat.NewService(nil, persister)
	ctx := context.Background()

	require.NoError(t, svc.Put(ctx, newHistory("m1")))
	require.NoError(t, svc.Put(ctx, newHistory("m2")))

	require.Len(t, persister.saves, 2)
	assert.Len(t, persister.saves[1], 2)
	assert.Contains(t, persister.saves[1], "m1")
	assert.Contains(t, persister.saves[1], "m2")
}

func TestServicePutSaveFailureKeepsMemoryCopy(t *testing.T) {
	persister := &recordingPersister{err: errors.New("disk full")}
	svc := chat.NewService(nil, persister)
	ctx := context.Background()

	err := svc.Put(ctx, newHistory("m1"))
	require.Error(t, err)

	_, err = svc.Get(ctx, "m1")
	assert.NoError(t, err)
}

func TestServicePutRequiresID(t *testing.T) {
	svc := chat.NewService(nil, nil)
	assert.ErrorIs(t, svc.Put(context.Background(), newHistory("")), chat.ErrSessionID)
}

func TestNewServiceLoadsSessions(t *testing.T) {
	svc := chat.NewService(map[string]*session.History{
		"m1": newHistory("m1"),
		"m2": newHistory("stale"),
		"m3": nil,
	}, nil)

	assert.Equal(t, 2, svc.Len())
	got, err := svc.Get(context.Background(), "m2")
	require.NoError(t, err)
	assert.Equal(t, "m2", got.ID)
	assert.Len(t, svc.Snapshot(), 2)
}

func TestServiceConcurrentAccess(t *testing.T) {
	svc := chat.NewService(nil, &recordingPersister{})
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := string(rune('a' + i))
			assert.NoError(t, svc.Put(ctx, newHistory(id)))
			_, err := svc.Get(ctx, id)
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 16, svc.Len())
}

func TestServicePutDoesNotWaitOnAnotherSave(t *testing.T) {
	persister := &stallingPersister{entered: make(chan struct{}), release: make(chan struct{})}
	svc := chat.NewService(nil, persister)
	ctx := context.Background()

	firstDone := make(chan error, 1)
	go func() { firstDone <- svc.Put(ctx, newHistory("m1")) }()
	<-persister.entered

	secondDone := make(chan error, 1)
	go func() { secondDone <- svc.Put(ctx, newHistory("m2")) }()

	require.Eventually(t, func() bool {
		_, err := svc.Get(ctx, "m2")
		return err == nil
	}, time.Second, 5*time.Millisecond)

	close(persister.release)
	require.NoError(t, <-firstDone)
	require.NoError(t, <-secondDone)

	persister.mu.Lock()
	defer persister.mu.Unlock()
	require.Len(t, persister.saves, 2)
	assert.Len(t, persister.saves[1], 2)
}
