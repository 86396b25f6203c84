// Package messages defines the JSON frames exchanged on the Twilio media
// stream and the speech-model socket, and the TwiML returned by the webhook.
package messages

import (
	"errors"

	"github.com/bytedance/sonic"
)

// ErrMissingEvent is returned for frames without an event/type discriminator.
var ErrMissingEvent = errors.New("frame has no event type")

var api = sonic.ConfigStd

// Encode marshals a frame for a websocket text message.
func Encode(v any) ([]byte, error) {
	return api.Marshal(v)
}

// DecodeStreamEvent parses one media-stream frame.
func DecodeStreamEvent(data []byte) (*StreamEvent, error) {
	var ev StreamEvent
	if err := api.Unmarshal(data, &ev); err != nil {
		return nil, err
	}
	if ev.Event == "" {
		return nil, ErrMissingEvent
	}
	return &ev, nil
}

// DecodeServerEvent parses one speech-model server event.
func DecodeServerEvent(data []byte) (*ServerEvent, error) {
	var ev ServerEvent
	if err := api.Unmarshal(data, &ev); err != nil {
		return nil, err
	}
	if ev.Type == "" {
		return nil, ErrMissingEvent
	}
	return &ev, nil
}
