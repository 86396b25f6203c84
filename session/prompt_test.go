package session

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/room4-2/graphcall/knowledge"
)

func TestContextTurn(t *testing.T) {
	strong := ContextTurn("Are you open Sundays?", knowledge.GraphContext{
		Facts:      []string{"Open Sundays 10-4."},
		Actions:    []knowledge.Action{{ID: "pickup", Label: "Book pickup", Description: "pick a time"}},
		Confidence: 0.9,
	})
	assert.Contains(t, strong, `"Are you open Sundays?"`)
	assert.Contains(t, strong, "- Open Sundays 10-4.")
	assert.Contains(t, strong, "- Book pickup: pick a time")
	assert.Contains(t, strong, "Answer the caller")

	weak := ContextTurn("Do you deliver?", knowledge.GraphContext{Reason: "timed out"})
	assert.Contains(t, weak, "Facts: none found.")
	assert.Contains(t, weak, "clarifying question")
	assert.NotContains(t, weak, "timed out")
}

func TestGreetingInstruction(t *testing.T) {
	assert.Contains(t, GreetingInstruction("Nema Flowers"), "Nema Flowers")
	assert.NotEmpty(t, GreetingInstruction(""))
}

func TestSessionIDRoundTrip(t *testing.T) {
	id := BuildSessionID("u1", "a1", "CA1")
	assert.Equal(t, "u1:a1:CA1", id)

	u, a, c := ParseSessionID(id)
	assert.Equal(t, []string{"u1", "a1", "CA1"}, []string{u, a, c})

	u, a, c = ParseSessionID("CA1")
	assert.Empty(t, u + a + c)
}
