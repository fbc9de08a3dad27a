package ai

import (
	"context"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/pkg/errors"

	"github.com/zhouzirui/z-tavern/roleplay/internal/config"
	"github.com/zhouzirui/z-tavern/roleplay/internal/model/chat"
	"github.com/zhouzirui/z-tavern/roleplay/internal/service/stream"
)

type arkProvider struct {
	chatModel model.BaseChatModel
	model     string
}

func newArkProvider(chatModel model.BaseChatModel, modelName string) *arkProvider {
	return &arkProvider{chatModel: chatModel, model: modelName}
}

func (p *arkProvider) name() string { return config.ProviderArk }

func (p *arkProvider) stream(ctx context.Context, turns []chat.Turn) (stream.FragmentStream, error) {
	if p.chatModel == nil || p.model == "" {
		return nil, errors.Wrap(stream.ErrInvalidRequest, "ark model is not configured")
	}

	reader, err := p.chatModel.Stream(ctx, toSchemaMessages(turns))
	if err != nil {
		return nil, errors.Wrap(err, "failed to stream ark chat model")
	}
	return &arkStream{reader: reader}, nil
}

func toSchemaMessages(turns []chat.Turn) []*schema.Message {
	messages := make([]*schema.Message, 0, len(turns))
	for _, turn := range turns {
		var msg *schema.Message
		if wireRole(turn) == chat.RoleAssistant {
			msg = schema.AssistantMessage(turn.Message, nil)
		} else {
			msg = schema.UserMessage(turn.Message)
			if turn.Image != "" {
				msg.Content = ""
				msg.MultiContent = []schema.ChatMessagePart{
					{Type: schema.ChatMessagePartTypeText, Text: turn.Message},
					{Type: schema.ChatMessagePartTypeImageURL, ImageURL: &schema.ChatMessageImageURL{URL: turn.Image}},
				}
			}
		}
		msg.Name = chat.NormalizeName(turn.Author)
		messages = append(messages, msg)
	}
	return messages
}

type arkStream struct {
	reader *schema.StreamReader[*schema.Message]
}

func (s *arkStream) Recv() (string, error) {
	chunk, err := s.reader.Recv()
	if err != nil {
		return "", err
	}
	if chunk == nil {
		return "", nil
	}
	return chunk.Content, nil
}

func (s *arkStream) Close() error {
	s.reader.Close()
	return nil
}
