package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/z-tavern/roleplay/internal/config"
	"github.com/zhouzirui/z-tavern/roleplay/internal/model/chat"
	"github.com/zhouzirui/z-tavern/roleplay/internal/service/stream"
)

func testConfig(baseURL string) config.AIConfig {
	return config.AIConfig{
		Provider:    config.ProviderOpenAI,
		APIKey:      "sk-test",
		BaseURL:     baseURL,
		Model:       "gpt-3.5-turbo-1106",
		MaxTokens:   2048,
		Temperature: 1.3,
	}
}

func drain(t *testing.T, fragments stream.FragmentStream) string {
	t.Helper()
	defer fragments.Close()
	var out strings.Builder
	for {
		fragment, err := fragments.Recv()
		if err == io.EOF {
			return out.String()
		}
		require.NoError(t, err)
		out.WriteString(fragment)
	}
}

func TestBuildCompletionRequestTranslatesTurns(t *testing.T) {
	turns := []chat.Turn{
		chat.SystemTurn("Rollspelet börjas nu."),
		chat.UserTurn("Björn Å", "Hej"),
		chat.AssistantTurn("Alice", "Hallå"),
		{Author: "Bob", Message: "look", Image: "https://example.com/cat.png", Role: chat.RoleUser},
	}

	req, err := buildCompletionRequest(testConfig(""), turns)
	require.NoError(t, err)

	require.Len(t, req.Messages, 4)
	assert.Equal(t, openai.ChatMessageRoleUser, req.Messages[0].Role)
	assert.Equal(t, "System", req.Messages[0].Name)
	assert.Equal(t, openai.ChatMessageRoleUser, req.Messages[1].Role)
	assert.Equal(t, "Bjoern_Ao", req.Messages[1].Name)
	assert.Equal(t, openai.ChatMessageRoleAssistant, req.Messages[2].Role)
	assert.Equal(t, "Hallå", req.Messages[2].Content)

	require.Len(t, req.Messages[3].MultiContent, 2)
	assert.Empty(t, req.Messages[3].Content)
	assert.Equal(t, "look", req.Messages[3].MultiContent[0].Text)
	assert.Equal(t, "https://example.com/cat.png", req.Messages[3].MultiContent[1].ImageURL.URL)

	assert.Equal(t, 2048, req.MaxTokens)
	assert.InDelta(t, 1.3, req.Temperature, 1e-6)
	assert.Zero(t, req.FrequencyPenalty)
	assert.Zero(t, req.PresencePenalty)
	assert.Equal(t, "Björn Å", turns[1].Author)
}

func TestBuildCompletionRequestPenalties(t *testing.T) {
	cfg := testConfig("")
	freq, pres := 0.4, 0.6
	cfg.FrequencyPenalty = &freq
	cfg.PresencePenalty = &pres

	req, err := buildCompletionRequest(cfg, []chat.Turn{chat.UserTurn("Bob", "Hi")})
	require.NoError(t, err)
	assert.InDelta(t, 0.4, req.FrequencyPenalty, 1e-6)
	assert.InDelta(t, 0.6, req.PresencePenalty, 1e-6)
}

func TestGenerateRejectsInvalidRequests(t *testing.T) {
	svc, err := NewService(context.Background(), testConfig("http://127.0.0.1:0"))
	require.NoError(t, err)

	_, err = svc.Generate(context.Background(), nil)
	assert.ErrorIs(t, err, stream.ErrInvalidRequest)

	cfg := testConfig("http://127.0.0.1:0")
	cfg.Model = ""
	svc, err = NewService(context.Background(), cfg)
	require.NoError(t, err)
	_, err = svc.Generate(context.Background(), []chat.Turn{chat.UserTurn("Bob", "Hi")})
	assert.ErrorIs(t, err, stream.ErrInvalidRequest)
}

func TestNewServiceUnknownProvider(t *testing.T) {
	cfg := testConfig("")
	cfg.Provider = "llama"
	_, err := NewService(context.Background(), cfg)
	assert.Error(t, err)
}

func TestOpenAIStreamsFragments(t *testing.T) {
	var received openai.ChatCompletionRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&received))

		w.Header().Set("Content-Type", "text/event-stream")
		for _, fragment := range []string{"Hel", "lo"} {
			chunk := openai.ChatCompletionStreamResponse{
				ID:     "chatcmpl-1",
				Object: "chat.completion.chunk",
				Model:  "gpt-3.5-turbo-1106",
				Choices: []openai.ChatCompletionStreamChoice{
					{Index: 0, Delta: openai.ChatCompletionStreamChoiceDelta{Content: fragment}},
				},
			}
			data, err := json.Marshal(chunk)
			assert.NoError(t, err)
			fmt.Fprintf(w, "data: %s\n\n", data)
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer server.Close()

	svc, err := NewService(context.Background(), testConfig(server.URL))
	require.NoError(t, err)

	fragments, err := svc.Generate(context.Background(), []chat.Turn{chat.UserTurn("Bob", "Hi")})
	require.NoError(t, err)
	assert.Equal(t, "Hello", drain(t, fragments))

	assert.True(t, received.Stream)
	require.Len(t, received.Messages, 1)
	assert.Equal(t, "Bob", received.Messages[0].Name)
}

func TestOpenAIHTTPErrorIsTransportError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	svc, err := NewService(context.Background(), testConfig(server.URL))
	require.NoError(t, err)

	_, err = svc.Generate(context.Background(), []chat.Turn{chat.UserTurn("Bob", "Hi")})
	require.Error(t, err)
	assert.NotErrorIs(t, err, stream.ErrInvalidRequest)
}

type fakeChatModel struct {
	input  []*schema.Message
	chunks []string
}

func (m *fakeChatModel) Generate(_ context.Context, input []*schema.Message, _ ...model.Option) (*schema.Message, error) {
	m.input = input
	return schema.AssistantMessage(strings.Join(m.chunks, ""), nil), nil
}

func (m *fakeChatModel) Stream(_ context.Context, input []*schema.Message, _ ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	m.input = input
	msgs := make([]*schema.Message, 0, len(m.chunks))
	for _, chunk := range m.chunks {
		msgs = append(msgs, schema.AssistantMessage(chunk, nil))
	}
	return schema.StreamReaderFromArray(msgs), nil
}

func TestArkProviderStreams(t *testing.T) {
	fake := &fakeChatModel{chunks: []string{"Hej", " då"}}
	svc := &Service{provider: newArkProvider(fake, "doubao")}

	fragments, err := svc.Generate(context.Background(), []chat.Turn{
		chat.SystemTurn("note"),
		chat.AssistantTurn("Alice", "Ja."),
		{Author: "Bob", Message: "see", Image: "https://example.com/a.png", Role: chat.RoleUser},
	})
	require.NoError(t, err)
	assert.Equal(t, "Hej då", drain(t, fragments))

	require.Len(t, fake.input, 3)
	assert.Equal(t, schema.User, fake.input[0].Role)
	assert.Equal(t, "System", fake.input[0].Name)
	assert.Equal(t, schema.Assistant, fake.input[1].Role)
	require.Len(t, fake.input[2].MultiContent, 2)
	assert.Equal(t, "https://example.com/a.png", fake.input[2].MultiContent[1].ImageURL.URL)
}

func TestArkProviderRequiresModel(t *testing.T) {
	svc := &Service{provider: newArkProvider(&fakeChatModel{}, "")}
	_, err := svc.Generate(context.Background(), []chat.Turn{chat.UserTurn("Bob", "Hi")})
	assert.ErrorIs(t, err, stream.ErrInvalidRequest)
}
