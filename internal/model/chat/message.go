package chat

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Role identifies who authored a turn.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// SystemAuthor is the author recorded on every system turn.
const SystemAuthor = "System"

// Turn is one authored unit of conversation.
type Turn struct {
	Author  string `json:"author" yaml:"author"`
	Message string `json:"message" yaml:"message"`
	Image   string `json:"image,omitempty" yaml:"image,omitempty"`
	Role    Role   `json:"role" yaml:"role"`
	Edited  bool   `json:"edited,omitempty" yaml:"edited,omitempty"`
}

// SystemTurn builds a system directive.
func SystemTurn(message string) Turn {
	return Turn{Author: SystemAuthor, Message: message, Role: RoleSystem}
}

// UserTurn builds a user turn.
func UserTurn(author, message string) Turn {
	return Turn{Author: author, Message: message, Role: RoleUser}
}

// AssistantTurn builds an assistant turn.
func AssistantTurn(author, message string) Turn {
	return Turn{Author: author, Message: message, Role: RoleAssistant}
}

func (t Turn) String() string {
	return t.Message
}

const maxNameLength = 64

var nordicReplacer = strings.NewReplacer(
	" ", "_",
	"Å", "Ao",
	"å", "ao",
	"Ä", "Ae",
	"ä", "ae",
	"Ö", "Oe",
	"ö", "oe",
)

// NormalizeName returns the token-safe form of an author name used when the
// turn is sent to a model. The stored author is left untouched.
func NormalizeName(author string) string {
	replaced := nordicReplacer.Replace(author)

	stripped, _, err := transform.String(transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC), replaced)
	if err != nil {
		stripped = replaced
	}

	var builder strings.Builder
	count := 0
	for _, r := range stripped {
		if count == maxNameLength {
			break
		}
		if r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' || r == '-') {
			builder.WriteRune(r)
			count++
		}
	}
	return builder.String()
}
