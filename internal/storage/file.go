package storage

import (
	"context"
	"os"
	"path/filepath"
	"sync"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/zhouzirui/z-tavern/roleplay/internal/model/character"
	"github.com/zhouzirui/z-tavern/roleplay/internal/model/session"
)

const (
	charactersFile = "characters.yaml"
	sessionsFile   = "chats.yaml"
)

// FileBackend keeps each table in its own YAML file under a data directory.
type FileBackend struct {
	dir string
	mu  sync.Mutex
}

func NewFileBackend(dir string) (*FileBackend, error) {
	if dir == "" {
		return nil, errors.New("file storage directory is required")
	}
	return &FileBackend{dir: dir}, nil
}

func (b *FileBackend) LoadCharacters(_ context.Context) (map[string]character.Character, error) {
	out := map[string]character.Character{}
	if err := b.read(charactersFile, &out); err != nil {
		return nil, err
	}
	if out == nil {
		out = map[string]character.Character{}
	}
	return out, nil
}

func (b *FileBackend) SaveCharacters(_ context.Context, characters map[string]character.Character) error {
	return b.write(charactersFile, characters)
}

func (b *FileBackend) LoadSessions(_ context.Context) (map[string]*session.History, error) {
	out := map[string]*session.History{}
	if err := b.read(sessionsFile, &out); err != nil {
		return nil, err
	}
	if out == nil {
		out = map[string]*session.History{}
	}
	return out, nil
}

func (b *FileBackend) SaveSessions(_ context.Context, sessions map[string]*session.History) error {
	return b.write(sessionsFile, sessions)
}

func (b *FileBackend) Close() error {
	return nil
}

func (b *FileBackend) read(name string, v any) error {
	path := filepath.Join(b.dir, name)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return errors.Wrapf(err, "read %s", path)
	}
	if err := yaml.Unmarshal(data, v); err != nil {
		return errors.Wrapf(ErrCorrupt, "decode %s: %v", path, err)
	}
	return nil
}

func (b *FileBackend) write(name string, v any) error {
	data, err := yaml.Marshal(v)
	if err != nil {
		return errors.Wrapf(err, "encode %s", name)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if err := os.MkdirAll(b.dir, 0o755); err != nil {
		return err
	}
	path := filepath.Join(b.dir, name)
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmpPath, path)
}
