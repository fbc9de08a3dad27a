// Package storage persists the character and session tables.
//
// The two tables are written independently. A crash between the two writes can
// leave them out of step (for example a session referencing a character that
// was deleted after it was saved); sessions carry their own character copy, so
// that state is still loadable.
package storage

import (
	"context"

	"github.com/pkg/errors"

	"github.com/zhouzirui/z-tavern/roleplay/internal/model/character"
	"github.com/zhouzirui/z-tavern/roleplay/internal/model/session"
)

// ErrCorrupt marks an existing table that could not be decoded. Callers must
// not continue with an empty dataset when they see it.
var ErrCorrupt = errors.New("stored data is corrupt")

// Backend is the durable storage collaborator. Loading a table that was never
// written yields an empty map.
type Backend interface {
	LoadCharacters(ctx context.Context) (map[string]character.Character, error)
	SaveCharacters(ctx context.Context, characters map[string]character.Character) error
	LoadSessions(ctx context.Context) (map[string]*session.History, error)
	SaveSessions(ctx context.Context, sessions map[string]*session.History) error
	Close() error
}
