package session

import (
	"fmt"
	"strings"

	"github.com/room4-2/graphcall/knowledge"
)

// weakConfidence is the score below which the agent is told to clarify
// rather than answer.
const weakConfidence = 0.5

const DefaultInstructions = `
## Identity & Role

You are a warm, thoughtful phone assistant answering inbound calls for a small business.
You sound natural and conversational, like a helpful host who cares about every caller.

## Grounding

During the call you will receive system messages that start with "Context for the caller's question".
They carry facts and suggested actions from the business's knowledge graph.

- Use those facts as your primary source of truth.
- When there are no facts, or the context says the confidence is low, do not guess. Ask one short
  clarifying question, or offer to have someone call back.
- When a suggested action fits (for example taking an order or booking a pickup time), gently move
  toward it and ask simple followup questions such as the occasion or the pickup time.
- Never mention the knowledge graph, confidence scores or any internal detail to the caller.

## Style

- Keep answers to one or two short sentences; this is a phone call.
- Do not restate the facts word for word; answer in your own words.
- Never argue with a caller. Acknowledge problems and offer a next step.
- Stay in scope. Politely redirect unrelated requests.
`

// GreetingInstruction asks the model to open the call.
func GreetingInstruction(businessName string) string {
	if businessName == "" {
		return "Greet the caller warmly, say you are the virtual assistant, and ask how you can help today. Keep it to one sentence."
	}
	return fmt.Sprintf("Greet the caller warmly on behalf of %s, say you are its virtual assistant, and ask how you can help today. Keep it to one sentence.", businessName)
}

// ContextTurn renders the graph context for one utterance as a system turn.
func ContextTurn(utterance string, gc knowledge.GraphContext) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Context for the caller's question: %q\n", utterance)

	if len(gc.Facts) == 0 {
		b.WriteString("Facts: none found.\n")
	} else {
		b.WriteString("Facts:\n")
		for _, f := range gc.Facts {
			fmt.Fprintf(&b, "- %s\n", f)
		}
	}

	if len(gc.Actions) > 0 {
		b.WriteString("Suggested actions:\n")
		for _, a := range gc.Actions {
			if a.Description != "" {
				fmt.Fprintf(&b, "- %s: %s\n", a.Label, a.Description)
			} else {
				fmt.Fprintf(&b, "- %s\n", a.Label)
			}
		}
	}

	fmt.Fprintf(&b, "Confidence: %.2f\n", gc.Confidence)

	if gc.Empty() || gc.Confidence < weakConfidence {
		b.WriteString("The context is weak. Ask the caller a short clarifying question instead of guessing.")
	} else {
		b.WriteString("Answer the caller using these facts, in your own words.")
	}
	return b.String()
}

// ParseSessionID splits a username:agentId:callSid session id. Missing parts
// come back empty.
func ParseSessionID(id string) (username, agentID, callSid string) {
	parts := strings.SplitN(id, ":", 3)
	switch len(parts) {
	case 3:
		return parts[0], parts[1], parts[2]
	case 2:
		return parts[0], parts[1], ""
	default:
		return "", "", ""
	}
}

// BuildSessionID composes the session id carried on the media stream.
func BuildSessionID(username, agentID, callSid string) string {
	return username + ":" + agentID + ":" + callSid
}
