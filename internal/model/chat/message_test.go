package chat

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeName(t *testing.T) {
	cases := map[string]string{
		"Bob":           "Bob",
		"Anna Svensson": "Anna_Svensson",
		"Åsa Öberg":     "Aosa_Oeberg",
		"Mäns":          "Maens",
		"Renée":         "Renee",
		"Zoë!?":         "Zoe",
		"x-y_z":         "x-y_z",
		"日本":            "",
		"System":        "System",
		"naïve  café":   "naive__cafe",
	}
	for in, want := range cases {
		assert.Equal(t, want, NormalizeName(in), in)
	}
}

func TestNormalizeNameCapsLength(t *testing.T) {
	got := NormalizeName(strings.Repeat("ab", 50))
	assert.Len(t, got, 64)
}

func TestTurnConstructors(t *testing.T) {
	assert.Equal(t, Turn{Author: "System", Message: "x", Role: RoleSystem}, SystemTurn("x"))
	assert.Equal(t, RoleUser, UserTurn("Bob", "x").Role)
	assert.Equal(t, RoleAssistant, AssistantTurn("Alice", "x").Role)
	assert.Equal(t, "x", UserTurn("Bob", "x").String())
}
