package storage

import (
	"context"
	"encoding/json"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"github.com/zhouzirui/z-tavern/roleplay/internal/model/character"
	"github.com/zhouzirui/z-tavern/roleplay/internal/model/session"
)

// RedisBackend stores each table as one JSON document under its own key.
type RedisBackend struct {
	client *redis.Client
	prefix string
}

// NewRedisBackend connects to a redis:// URL and verifies the connection.
func NewRedisBackend(ctx context.Context, url, prefix string) (*RedisBackend, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, errors.Wrap(err, "parse redis url")
	}
	if prefix == "" {
		prefix = "tavern"
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, errors.Wrapf(err, "connect redis %s", opts.Addr)
	}
	return &RedisBackend{client: client, prefix: prefix}, nil
}

func (b *RedisBackend) key(table string) string {
	return b.prefix + ":" + table
}

func (b *RedisBackend) LoadCharacters(ctx context.Context) (map[string]character.Character, error) {
	out := map[string]character.Character{}
	if err := b.get(ctx, "characters", &out); err != nil {
		return nil, err
	}
	if out == nil {
		out = map[string]character.Character{}
	}
	return out, nil
}

func (b *RedisBackend) SaveCharacters(ctx context.Context, characters map[string]character.Character) error {
	return b.set(ctx, "characters", characters)
}

func (b *RedisBackend) LoadSessions(ctx context.Context) (map[string]*session.History, error) {
	out := map[string]*session.History{}
	if err := b.get(ctx, "chats", &out); err != nil {
		return nil, err
	}
	if out == nil {
		out = map[string]*session.History{}
	}
	return out, nil
}

func (b *RedisBackend) SaveSessions(ctx context.Context, sessions map[string]*session.History) error {
	return b.set(ctx, "chats", sessions)
}

func (b *RedisBackend) Close() error {
	return b.client.Close()
}

func (b *RedisBackend) get(ctx context.Context, table string, v any) error {
	raw, err := b.client.Get(ctx, b.key(table)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil
	}
	if err != nil {
		return errors.Wrapf(err, "load %s", b.key(table))
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return errors.Wrapf(ErrCorrupt, "decode %s: %v", b.key(table), err)
	}
	return nil
}

func (b *RedisBackend) set(ctx context.Context, table string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return errors.Wrapf(err, "encode %s", table)
	}
	return b.client.Set(ctx, b.key(table), data, 0).Err()
}
