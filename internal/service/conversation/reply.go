package conversation

import (
	"strings"

	"github.com/zhouzirui/z-tavern/roleplay/internal/model/chat"
)

// DefaultAuthor names users missing from the substitution table.
const DefaultAuthor = "User"

// NameSubstitutes maps platform user names to the names shown to the model.
type NameSubstitutes map[string]string

// Author returns the display name for a platform user.
func (s NameSubstitutes) Author(platformName string) string {
	if name, ok := s[platformName]; ok && name != "" {
		return name
	}
	return DefaultAuthor
}

// Inbound is a user message as received from the transport.
type Inbound struct {
	PlatformName string
	Content      string
	Attachments  []string
	Edited       bool
}

// Turn converts an inbound message into a user turn. Content already written
// as "name: text" keeps its own author; anything else is attributed to the
// substituted name and prefixed with it.
func (s NameSubstitutes) Turn(in Inbound) chat.Turn {
	var author, message string
	if prefix, _, ok := strings.Cut(in.Content, ":"); ok {
		author = strings.TrimSpace(prefix)
		message = in.Content
	} else {
		author = s.Author(in.PlatformName)
		message = author + ": " + in.Content
	}

	turn := chat.UserTurn(author, message)
	if len(in.Attachments) > 0 {
		turn.Image = in.Attachments[0]
	}
	turn.Edited = in.Edited
	return turn
}
