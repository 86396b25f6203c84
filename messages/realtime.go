package messages

// OpenAI Realtime client event types
const (
	TypeSessionUpdate    = "session.update"
	TypeItemCreate       = "conversation.item.create"
	TypeResponseCreate   = "response.create"
	TypeResponseCancel   = "response.cancel"
	TypeInputAudioAppend = "input_audio_buffer.append"
	TypeInputAudioCommit = "input_audio_buffer.commit"
	TypeInputAudioClear  = "input_audio_buffer.clear"
)

// OpenAI Realtime server event types
const (
	TypeSessionCreated         = "session.created"
	TypeSessionUpdated         = "session.updated"
	TypeAudioDelta             = "response.audio.delta"
	TypeAudioTranscriptDone    = "response.audio_transcript.done"
	TypeResponseDone           = "response.done"
	TypeSpeechStarted          = "input_audio_buffer.speech_started"
	TypeTranscriptionCompleted = "conversation.item.input_audio_transcription.completed"
	TypeTranscriptionFailed    = "conversation.item.input_audio_transcription.failed"
	TypeError                  = "error"
)

// Audio formats accepted by the Realtime API
const (
	AudioFormatG711ULaw = "g711_ulaw"
	AudioFormatPCM16    = "pcm16"
)

// Conversation roles
const (
	RoleUser      = "user"
	RoleSystem    = "system"
	RoleAssistant = "assistant"
)

// SessionUpdateEvent configures the realtime session.
type SessionUpdateEvent struct {
	Type    string        `json:"type"`
	Session SessionConfig `json:"session"`
}

type SessionConfig struct {
	Modalities              []string                 `json:"modalities,omitempty"`
	Instructions            string                   `json:"instructions,omitempty"`
	Voice                   string                   `json:"voice,omitempty"`
	InputAudioFormat        string                   `json:"input_audio_format,omitempty"`
	OutputAudioFormat       string                   `json:"output_audio_format,omitempty"`
	InputAudioTranscription *InputAudioTranscription `json:"input_audio_transcription,omitempty"`
	TurnDetection           *TurnDetection           `json:"turn_detection,omitempty"`
}

type InputAudioTranscription struct {
	Model string `json:"model"`
}

type TurnDetection struct {
	Type              string  `json:"type"`
	Threshold         float64 `json:"threshold,omitempty"`
	PrefixPaddingMs   int     `json:"prefix_padding_ms,omitempty"`
	SilenceDurationMs int     `json:"silence_duration_ms,omitempty"`
	CreateResponse    bool    `json:"create_response"`
	InterruptResponse bool    `json:"interrupt_response"`
}

// ConversationItemCreateEvent adds an item to the conversation.
type ConversationItemCreateEvent struct {
	Type string           `json:"type"`
	Item ConversationItem `json:"item"`
}

type ConversationItem struct {
	ID      string                    `json:"id,omitempty"`
	Type    string                    `json:"type"`
	Role    string                    `json:"role"`
	Content []ConversationItemContent `json:"content,omitempty"`
}

type ConversationItemContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// ResponseCreateEvent asks the model to produce a response.
type ResponseCreateEvent struct {
	Type string `json:"type"`
}

// InputAudioAppendEvent streams caller audio into the input buffer.
type InputAudioAppendEvent struct {
	Type  string `json:"type"`
	Audio string `json:"audio"`
}

// BareEvent is any client event without a payload (commit, clear, cancel).
type BareEvent struct {
	Type string `json:"type"`
}

// ServerEvent is the union of server events the relay consumes.
type ServerEvent struct {
	Type       string       `json:"type"`
	EventID    string       `json:"event_id,omitempty"`
	ItemID     string       `json:"item_id,omitempty"`
	ResponseID string       `json:"response_id,omitempty"`
	Delta      string       `json:"delta,omitempty"`
	Transcript string       `json:"transcript,omitempty"`
	Error      *ServerError `json:"error,omitempty"`
}

type ServerError struct {
	Type    string `json:"type"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

func NewSessionUpdate(cfg SessionConfig) *SessionUpdateEvent {
	return &SessionUpdateEvent{Type: TypeSessionUpdate, Session: cfg}
}

// NewTextItem builds a text message item for the given role.
func NewTextItem(role, text string) *ConversationItemCreateEvent {
	contentType := "input_text"
	if role == RoleAssistant {
		contentType = "text"
	}
	return &ConversationItemCreateEvent{
		Type: TypeItemCreate,
		Item: ConversationItem{
			Type:    "message",
			Role:    role,
			Content: []ConversationItemContent{{Type: contentType, Text: text}},
		},
	}
}

func NewResponseCreate() *ResponseCreateEvent {
	return &ResponseCreateEvent{Type: TypeResponseCreate}
}

func NewInputAudioAppend(payload string) *InputAudioAppendEvent {
	return &InputAudioAppendEvent{Type: TypeInputAudioAppend, Audio: payload}
}

func NewInputAudioCommit() *BareEvent {
	return &BareEvent{Type: TypeInputAudioCommit}
}
