// Package ai adapts chat-completion providers to the stream.Generator
// contract used by the conversation engine.
package ai

import (
	"context"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/zhouzirui/z-tavern/roleplay/internal/config"
	"github.com/zhouzirui/z-tavern/roleplay/internal/model/chat"
	"github.com/zhouzirui/z-tavern/roleplay/internal/service/stream"
)

type provider interface {
	stream(ctx context.Context, turns []chat.Turn) (stream.FragmentStream, error)
	name() string
}

// Service encapsulates the configured chat-completion provider.
type Service struct {
	provider provider
}

// NewService creates the generator selected by cfg.Provider.
func NewService(ctx context.Context, cfg config.AIConfig) (*Service, error) {
	switch cfg.Provider {
	case config.ProviderArk:
		chatModel, err := cfg.NewChatModel(ctx)
		if err != nil {
			return nil, errors.Wrap(err, "failed to create ark chat model")
		}
		return &Service{provider: newArkProvider(chatModel, cfg.Ark.Model)}, nil
	case config.ProviderOpenAI, "":
		return &Service{provider: newOpenAIProvider(cfg)}, nil
	default:
		return nil, errors.Errorf("unknown provider %q", cfg.Provider)
	}
}

// Generate starts a streaming completion for the prompt history.
func (s *Service) Generate(ctx context.Context, turns []chat.Turn) (stream.FragmentStream, error) {
	if len(turns) == 0 {
		return nil, errors.Wrap(stream.ErrInvalidRequest, "empty prompt")
	}

	fragments, err := s.provider.stream(ctx, turns)
	if err != nil {
		return nil, err
	}
	log.Debug().Str("provider", s.provider.name()).Int("turns", len(turns)).Msg("generation started")
	return fragments, nil
}

// wireRole maps a turn onto the two roles sent to the model. System
// directives travel as user messages authored by chat.SystemAuthor.
func wireRole(turn chat.Turn) chat.Role {
	if turn.Role == chat.RoleAssistant {
		return chat.RoleAssistant
	}
	return chat.RoleUser
}
