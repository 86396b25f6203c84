package messages

// Twilio Media Streams event names
const (
	EventConnected = "connected"
	EventStart     = "start"
	EventMedia     = "media"
	EventStop      = "stop"
	EventMark      = "mark"
	EventClear     = "clear"
	EventDTMF      = "dtmf"
)

// Custom stream parameters set by the webhook's <Parameter> elements
const (
	ParamSessionID = "sessionId"
	ParamAgentID   = "agentId"
	ParamUsername  = "username"
	ParamCallerID  = "callerId"
)

// StreamEvent is one inbound frame on the media-stream socket.
type StreamEvent struct {
	Event          string       `json:"event"`
	SequenceNumber string       `json:"sequenceNumber,omitempty"`
	StreamSid      string       `json:"streamSid,omitempty"`
	Start          *StreamStart `json:"start,omitempty"`
	Media          *Media       `json:"media,omitempty"`
	Stop           *StreamStop  `json:"stop,omitempty"`
	Mark           *Mark        `json:"mark,omitempty"`
}

// StreamStart carries the stream handshake.
type StreamStart struct {
	AccountSid       string            `json:"accountSid"`
	StreamSid        string            `json:"streamSid"`
	CallSid          string            `json:"callSid"`
	Tracks           []string          `json:"tracks,omitempty"`
	CustomParameters map[string]string `json:"customParameters,omitempty"`
	MediaFormat      *MediaFormat      `json:"mediaFormat,omitempty"`
}

type MediaFormat struct {
	Encoding   string `json:"encoding"`
	SampleRate int    `json:"sampleRate"`
	Channels   int    `json:"channels"`
}

// Media is an audio chunk in either direction.
type Media struct {
	Track     string `json:"track,omitempty"`
	Chunk     string `json:"chunk,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Payload   string `json:"payload"` // base64 mu-law, 8kHz mono
}

type StreamStop struct {
	AccountSid string `json:"accountSid"`
	CallSid    string `json:"callSid"`
}

type Mark struct {
	Name string `json:"name"`
}

// TwilioMessageBack is an outbound frame to Twilio.
type TwilioMessageBack struct {
	Event     string `json:"event"`
	StreamSid string `json:"streamSid"`
	Media     *Media `json:"media,omitempty"`
	Mark      *Mark  `json:"mark,omitempty"`
}

// NewTwilioMedia wraps a base64 mu-law payload for playback on the call.
func NewTwilioMedia(streamSid string, payload string) *TwilioMessageBack {
	return &TwilioMessageBack{
		Event:     EventMedia,
		StreamSid: streamSid,
		Media:     &Media{Payload: payload},
	}
}

// NewTwilioClear asks Twilio to drop audio it has buffered but not yet played.
func NewTwilioClear(streamSid string) *TwilioMessageBack {
	return &TwilioMessageBack{
		Event:     EventClear,
		StreamSid: streamSid,
	}
}
