// Package realtime connects a call to a real-time speech model. Every
// provider speaks 8kHz mu-law at its edges so the session relay can pass
// Twilio payloads through untouched.
package realtime

import (
	"context"
	"errors"
)

// ErrClosed is returned when sending on a connection that has been closed.
var ErrClosed = errors.New("speech model connection is closed")

// ErrWriteQueueFull is returned when the outbound queue cannot take more frames.
var ErrWriteQueueFull = errors.New("speech model write queue full")

// Handlers receive provider events. They are called from the provider's
// receive goroutine and must not block.
type Handlers struct {
	OnReady           func()               // session configuration acknowledged
	OnAudio           func(payload string) // base64 mu-law 8kHz
	OnUserTranscript  func(text string)    // completed caller utterance
	OnAgentTranscript func(text string)    // completed agent utterance
	OnSpeechStarted   func()               // caller started talking
	OnError           func(err error)      // provider reported a non-fatal error
	OnClose           func(err error)      // connection is gone
}

// SessionOptions configures the model session.
type SessionOptions struct {
	Instructions string
	Voice        string
	// AutoResponse lets the provider's turn detection answer on its own
	// instead of waiting for CreateResponse.
	AutoResponse bool
}

// Model is one live speech-model connection.
type Model interface {
	// Start begins delivering events to h.
	Start(ctx context.Context, h Handlers)
	// Configure sends the session configuration.
	Configure() error
	// AddText appends a text turn without requesting a response.
	AddText(role, text string) error
	// CreateResponse asks the model to speak.
	CreateResponse() error
	// AppendAudio streams base64 mu-law caller audio.
	AppendAudio(payload string) error
	// CommitAudio closes the current input buffer.
	CommitAudio() error
	Close() error
}

// Dialer opens a Model for one call.
type Dialer interface {
	Dial(ctx context.Context, opts SessionOptions) (Model, error)
}

func call(f func()) {
	if f != nil {
		f()
	}
}

func callText(f func(string), s string) {
	if f != nil {
		f(s)
	}
}

func callErr(f func(error), err error) {
	if f != nil {
		f(err)
	}
}
