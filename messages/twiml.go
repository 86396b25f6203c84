package messages

import (
	"encoding/xml"
)

// TwiML is the <Response> document returned to the voice webhook.
type TwiML struct {
	XMLName xml.Name  `xml:"Response"`
	Say     *TwiMLSay `xml:"Say,omitempty"`
	Connect *Connect  `xml:"Connect,omitempty"`
	Hangup  *struct{} `xml:"Hangup,omitempty"`
}

type TwiMLSay struct {
	Voice string `xml:"voice,attr,omitempty"`
	Text  string `xml:",chardata"`
}

type Connect struct {
	Stream Stream `xml:"Stream"`
}

type Stream struct {
	URL                  string      `xml:"url,attr"`
	StatusCallback       string      `xml:"statusCallback,attr,omitempty"`
	StatusCallbackMethod string      `xml:"statusCallbackMethod,attr,omitempty"`
	Parameters           []Parameter `xml:"Parameter"`
}

type Parameter struct {
	Name  string `xml:"name,attr"`
	Value string `xml:"value,attr"`
}

// EmptyTwiML is the no-op document used when the webhook cannot do better.
const EmptyTwiML = xml.Header + "<Response></Response>"

// Render serializes the document with the XML declaration.
func (t *TwiML) Render() ([]byte, error) {
	body, err := xml.Marshal(t)
	if err != nil {
		return nil, err
	}
	return append([]byte(xml.Header), body...), nil
}

// NewStreamTwiML connects the call to a bidirectional media stream.
func NewStreamTwiML(streamURL, statusCallback string, params []Parameter) *TwiML {
	stream := Stream{
		URL:        streamURL,
		Parameters: params,
	}
	if statusCallback != "" {
		stream.StatusCallback = statusCallback
		stream.StatusCallbackMethod = "POST"
	}
	return &TwiML{Connect: &Connect{Stream: stream}}
}

// NewSayHangupTwiML speaks one sentence and ends the call.
func NewSayHangupTwiML(text string) *TwiML {
	return &TwiML{
		Say:    &TwiMLSay{Text: text},
		Hangup: &struct{}{},
	}
}
