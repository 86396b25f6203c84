// Command callsim plays the Twilio side of a media stream against a running
// server: it sends the start handshake, streams audio, stops, and prints what
// comes back.
package main

import (
	"encoding/base64"
	"encoding/binary"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/room4-2/graphcall/audio"
	"github.com/room4-2/graphcall/messages"
)

func main() {
	serverURL := flag.String("url", "ws://localhost:8080/media-stream", "media stream URL")
	username := flag.String("username", "demo", "tenant username")
	agentID := flag.String("agent", "demo-agent", "agent id")
	audioFile := flag.String("audio", "", "8kHz 16-bit mono PCM or WAV file (silence when empty)")
	seconds := flag.Int("seconds", 3, "seconds of silence to send when no file is given")
	wait := flag.Duration("wait", 15*time.Second, "how long to listen after stop")
	flag.Parse()

	callSid := "CA" + uuid.NewString()
	streamSid := "MZ" + uuid.NewString()
	sessionID := *username + ":" + *agentID + ":" + callSid

	conn, _, err := websocket.DefaultDialer.Dial(*serverURL+"?sessionId="+sessionID, nil)
	if err != nil {
		log.Fatalf("Failed to connect: %v", err)
	}
	defer conn.Close()
	log.Printf("Connected, session %s", sessionID)

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)

	done := make(chan struct{})
	go func() {
		defer close(done)
		var played int
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				log.Println("Read error:", err)
				return
			}
			ev, err := messages.DecodeStreamEvent(data)
			if err != nil {
				log.Println("Parse error:", err)
				continue
			}
			switch ev.Event {
			case messages.EventMedia:
				played++
				if played%50 == 1 {
					log.Printf("Received media frame %d (stream %s)", played, ev.StreamSid)
				}
			case messages.EventClear:
				log.Printf("Received clear after %d frames", played)
			default:
				log.Printf("Received %s", ev.Event)
			}
		}
	}()

	frames, err := loadFrames(*audioFile, *seconds)
	if err != nil {
		log.Fatalf("Failed to load audio: %v", err)
	}

	send(conn, &messages.StreamEvent{Event: messages.EventConnected})
	send(conn, &messages.StreamEvent{
		Event:     messages.EventStart,
		StreamSid: streamSid,
		Start: &messages.StreamStart{
			StreamSid: streamSid,
			CallSid:   callSid,
			CustomParameters: map[string]string{
				messages.ParamSessionID: sessionID,
				messages.ParamAgentID:   *agentID,
				messages.ParamUsername:  *username,
				messages.ParamCallerID:  "+15550000000",
			},
			MediaFormat: &messages.MediaFormat{Encoding: "audio/x-mulaw", SampleRate: 8000, Channels: 1},
		},
	})

	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
	for i, frame := range frames {
		select {
		case <-interrupt:
			log.Println("Interrupted, closing...")
			return
		case <-done:
			log.Println("Connection closed by server")
			return
		case <-ticker.C:
		}
		send(conn, &messages.StreamEvent{
			Event:          messages.EventMedia,
			SequenceNumber: fmt.Sprint(i + 2),
			StreamSid:      streamSid,
			Media:          &messages.Media{Track: "inbound", Payload: base64.StdEncoding.EncodeToString(frame)},
		})
	}
	log.Printf("Sent %d frames", len(frames))

	send(conn, &messages.StreamEvent{
		Event:     messages.EventStop,
		StreamSid: streamSid,
		Stop:      &messages.StreamStop{CallSid: callSid},
	})

	select {
	case <-done:
		log.Println("Connection closed")
	case <-interrupt:
		log.Println("Interrupted, closing...")
	case <-time.After(*wait):
		log.Println("Done listening")
	}
	_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}

func send(conn *websocket.Conn, ev *messages.StreamEvent) {
	data, err := messages.Encode(ev)
	if err != nil {
		log.Fatalf("Encode error: %v", err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		log.Fatalf("Send error: %v", err)
	}
}

// loadFrames converts an 8kHz PCM16 file into 20ms mu-law frames.
func loadFrames(path string, seconds int) ([][]byte, error) {
	if path == "" {
		frames := make([][]byte, seconds*50)
		for i := range frames {
			frames[i] = audio.SilenceFrame()
		}
		return frames, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if len(data) > 44 && string(data[0:4]) == "RIFF" {
		data = data[44:]
	}

	mulaw := make([]byte, len(data)/2)
	for i := range mulaw {
		mulaw[i] = audio.PCMToMuLaw(int16(binary.LittleEndian.Uint16(data[2*i:])))
	}

	var frames [][]byte
	for i := 0; i < len(mulaw); i += audio.FrameBytes {
		end := min(i+audio.FrameBytes, len(mulaw))
		frames = append(frames, mulaw[i:end])
	}
	return frames, nil
}
