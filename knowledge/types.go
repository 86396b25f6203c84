package knowledge

// Conversation roles recorded by the backend.
const (
	RoleCustomer = "customer"
	RoleAgent    = "agent"
)

// Action is a next step the backend suggests for the agent.
type Action struct {
	ID          string `json:"id"`
	Label       string `json:"label"`
	Description string `json:"description,omitempty"`
}

// GraphContext grounds one caller utterance. It is produced per utterance
// and never cached.
type GraphContext struct {
	Question   string   `json:"question"`
	Facts      []string `json:"facts"`
	Actions    []Action `json:"actions"`
	Confidence float64  `json:"confidence"`
	Reason     string   `json:"reason,omitempty"`
}

// Empty reports whether the context carries nothing the agent can use.
func (g GraphContext) Empty() bool {
	return len(g.Facts) == 0 && len(g.Actions) == 0
}

// Turn is one role-tagged line of the conversation.
type Turn struct {
	Role string `json:"role"`
	Text string `json:"text"`
}

type graphContextRequest struct {
	Question string `json:"question"`
}

type businessProfile struct {
	BusinessName string `json:"businessName"`
}

func degraded(question, reason string) GraphContext {
	return GraphContext{
		Question:   question,
		Facts:      []string{},
		Actions:    []Action{},
		Confidence: 0,
		Reason:     reason,
	}
}
