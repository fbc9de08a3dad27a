package ai

import (
	"context"

	"github.com/pkg/errors"
	openai "github.com/sashabaranov/go-openai"

	"github.com/zhouzirui/z-tavern/roleplay/internal/config"
	"github.com/zhouzirui/z-tavern/roleplay/internal/model/chat"
	"github.com/zhouzirui/z-tavern/roleplay/internal/service/stream"
)

type openaiProvider struct {
	client *openai.Client
	cfg    config.AIConfig
}

func newOpenAIProvider(cfg config.AIConfig) *openaiProvider {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	return &openaiProvider{client: openai.NewClientWithConfig(clientCfg), cfg: cfg}
}

func (p *openaiProvider) name() string { return config.ProviderOpenAI }

func (p *openaiProvider) stream(ctx context.Context, turns []chat.Turn) (stream.FragmentStream, error) {
	req, err := buildCompletionRequest(p.cfg, turns)
	if err != nil {
		return nil, err
	}

	s, err := p.client.CreateChatCompletionStream(ctx, req)
	if err != nil {
		return nil, errors.Wrap(err, "create chat completion stream")
	}
	return &openaiStream{stream: s}, nil
}

func buildCompletionRequest(cfg config.AIConfig, turns []chat.Turn) (openai.ChatCompletionRequest, error) {
	if cfg.Model == "" {
		return openai.ChatCompletionRequest{}, errors.Wrap(stream.ErrInvalidRequest, "model is not configured")
	}

	messages := make([]openai.ChatCompletionMessage, 0, len(turns))
	for _, turn := range turns {
		messages = append(messages, toOpenAIMessage(turn))
	}

	req := openai.ChatCompletionRequest{
		Model:       cfg.Model,
		Messages:    messages,
		MaxTokens:   cfg.MaxTokens,
		Temperature: float32(cfg.Temperature),
		Stream:      true,
	}
	if cfg.FrequencyPenalty != nil {
		req.FrequencyPenalty = float32(*cfg.FrequencyPenalty)
	}
	if cfg.PresencePenalty != nil {
		req.PresencePenalty = float32(*cfg.PresencePenalty)
	}
	return req, nil
}

func toOpenAIMessage(turn chat.Turn) openai.ChatCompletionMessage {
	role := openai.ChatMessageRoleUser
	if wireRole(turn) == chat.RoleAssistant {
		role = openai.ChatMessageRoleAssistant
	}

	msg := openai.ChatCompletionMessage{
		Role: role,
		Name: chat.NormalizeName(turn.Author),
	}
	if turn.Image != "" && role == openai.ChatMessageRoleUser {
		msg.MultiContent = []openai.ChatMessagePart{
			{Type: openai.ChatMessagePartTypeText, Text: turn.Message},
			{Type: openai.ChatMessagePartTypeImageURL, ImageURL: &openai.ChatMessageImageURL{URL: turn.Image}},
		}
		return msg
	}
	msg.Content = turn.Message
	return msg
}

type openaiStream struct {
	stream *openai.ChatCompletionStream
}

func (s *openaiStream) Recv() (string, error) {
	resp, err := s.stream.Recv()
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", nil
	}
	return resp.Choices[0].Delta.Content, nil
}

func (s *openaiStream) Close() error {
	s.stream.Close()
	return nil
}
