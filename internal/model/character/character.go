package character

import (
	"fmt"

	"github.com/huandu/go-clone"

	"github.com/zhouzirui/z-tavern/roleplay/internal/model/chat"
)

// DefaultAvatar is used when a character is created without a profile picture.
const DefaultAvatar = "https://media.discordapp.net/attachments/1123725497898106991/1161995295123591238/oqqfcuspv4nb1.jpg?ex=658d61f3&is=657aecf3&hm=8844c99f1bdcad89773966da526e3bfe104a1184b8599ff310afb0729fee0568&=&format=webp&width=657&height=657"

const (
	defaultGreeting = "HEJ JAG ÄR EN ROBOT! 🤗"
	defaultEmoji    = "🤖"
)

// Character is a named roleplay profile. The name is its identity.
type Character struct {
	Name            string      `json:"name" yaml:"name"`
	Greeting        chat.Turn   `json:"greeting" yaml:"greeting"`
	Description     chat.Turn   `json:"description" yaml:"description"`
	Emoji           string      `json:"emoji" yaml:"emoji"`
	Avatar          string      `json:"avatar" yaml:"avatar"`
	ExampleMessages []chat.Turn `json:"exampleMessages,omitempty" yaml:"example_messages,omitempty"`
}

// New builds a character, filling every omitted field with its default.
func New(name string, greeting, description, emoji, avatar *string) Character {
	greetingText := defaultGreeting
	if greeting != nil && *greeting != "" {
		greetingText = *greeting
	}

	descriptionText := defaultDescription(name)
	if description != nil && *description != "" {
		descriptionText = *description
	}

	emojiText := defaultEmoji
	if emoji != nil && *emoji != "" {
		emojiText = *emoji
	}

	avatarURL := DefaultAvatar
	if avatar != nil && *avatar != "" {
		avatarURL = *avatar
	}

	return Character{
		Name:        name,
		Greeting:    chat.AssistantTurn(name, greetingText),
		Description: chat.SystemTurn(descriptionText),
		Emoji:       emojiText,
		Avatar:      avatarURL,
	}
}

func defaultDescription(name string) string {
	return fmt.Sprintf("Du ska nu låtsas vara en karaktär vid namn %s. Ge roliga, långa svar, där du använder många emojis.", name)
}

// String renders the character the way it is titled in chat.
func (c Character) String() string {
	return fmt.Sprintf("%s %s", c.Emoji, c.Name)
}

// Patch carries the fields an edit command wants to replace.
type Patch struct {
	Greeting    *string `json:"greeting,omitempty"`
	Description *string `json:"description,omitempty"`
	Emoji       *string `json:"emoji,omitempty"`
	Avatar      *string `json:"avatar,omitempty"`
}

// Apply replaces the supplied fields and leaves the rest alone.
func (c *Character) Apply(p Patch) {
	if p.Greeting != nil {
		c.Greeting = chat.AssistantTurn(c.Name, *p.Greeting)
	}
	if p.Description != nil {
		c.Description = chat.SystemTurn(*p.Description)
	}
	if p.Emoji != nil {
		c.Emoji = *p.Emoji
	}
	if p.Avatar != nil {
		c.Avatar = *p.Avatar
	}
}

// AddExample appends a few-shot example turn.
func (c *Character) AddExample(turn chat.Turn) {
	c.ExampleMessages = append(c.ExampleMessages, turn)
}

// Clone returns a deep copy that shares no slices with c.
func (c Character) Clone() Character {
	return clone.Clone(c).(Character)
}
