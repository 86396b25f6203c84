package realtime

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/room4-2/graphcall/audio"
	"github.com/room4-2/graphcall/logger"
)

const geminiInputMIME = "audio/pcm;rate=16000"

// GeminiDialer opens Gemini Live sessions. Gemini takes its configuration at
// connect time, so Dial performs the setup and Configure only signals readiness.
type GeminiDialer struct {
	APIKey string
	Model  string
}

func (d *GeminiDialer) Dial(ctx context.Context, opts SessionOptions) (Model, error) {
	if d.APIKey == "" {
		return nil, fmt.Errorf("GEMINI_API_KEY is not configured")
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  d.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}

	cfg := &genai.LiveConnectConfig{
		ResponseModalities: []genai.Modality{genai.ModalityAudio},
		SystemInstruction: &genai.Content{
			Parts: []*genai.Part{{Text: opts.Instructions}},
		},
		SpeechConfig: &genai.SpeechConfig{
			VoiceConfig: &genai.VoiceConfig{
				PrebuiltVoiceConfig: &genai.PrebuiltVoiceConfig{VoiceName: opts.Voice},
			},
		},
		InputAudioTranscription:  &genai.AudioTranscriptionConfig{},
		OutputAudioTranscription: &genai.AudioTranscriptionConfig{},
	}

	session, err := client.Live.Connect(ctx, d.Model, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Live API: %w", err)
	}
	logger.Info("connected to Gemini Live", zap.String("model", d.Model))

	return newGeminiConn(session), nil
}

// liveSession is the part of *genai.Session the adapter uses.
type liveSession interface {
	SendClientContent(input genai.LiveClientContentInput) error
	SendRealtimeInput(input genai.LiveRealtimeInput) error
	Receive() (*genai.LiveServerMessage, error)
	Close() error
}

// GeminiConn adapts a genai Live session to Model. Sends are queued to a
// write pump so callers never block on the network.
type GeminiConn struct {
	session liveSession

	writeChan chan func() error
	done      chan struct{}

	handlers Handlers

	// transcripts arrive in fragments; joined until the turn finishes
	userText  strings.Builder
	agentText strings.Builder

	// pending turns are held until CreateResponse completes them
	pending []*genai.Content

	mu     sync.Mutex
	closed bool
}

func newGeminiConn(session liveSession) *GeminiConn {
	return &GeminiConn{
		session:   session,
		writeChan: make(chan func() error, writeBufferSize),
		done:      make(chan struct{}),
	}
}

func (g *GeminiConn) Start(ctx context.Context, h Handlers) {
	g.handlers = h
	go g.writePump()
	go g.receive(ctx)
}

// Configure reports readiness; the setup already happened during Dial.
func (g *GeminiConn) Configure() error {
	if g.isClosed() {
		return ErrClosed
	}
	go call(g.handlers.OnReady)
	return nil
}

// AddText buffers a turn; Gemini only accepts client content as a batch.
func (g *GeminiConn) AddText(role, text string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return ErrClosed
	}
	// Live only knows user and model roles
	g.pending = append(g.pending, &genai.Content{
		Role:  genai.RoleUser,
		Parts: []*genai.Part{{Text: text}},
	})
	return nil
}

func (g *GeminiConn) CreateResponse() error {
	g.mu.Lock()
	turns := g.pending
	g.pending = nil
	closed := g.closed
	g.mu.Unlock()
	if closed {
		return ErrClosed
	}

	turnComplete := true
	return g.enqueue(func() error {
		if err := g.session.SendClientContent(genai.LiveClientContentInput{
			Turns:        turns,
			TurnComplete: &turnComplete,
		}); err != nil {
			return fmt.Errorf("failed to send client content: %w", err)
		}
		return nil
	})
}

func (g *GeminiConn) AppendAudio(payload string) error {
	if g.isClosed() {
		return ErrClosed
	}
	muLaw, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return fmt.Errorf("invalid base64 audio: %w", err)
	}
	pcm := audio.MuLawToPCM16k(muLaw)
	return g.enqueue(func() error {
		if err := g.session.SendRealtimeInput(genai.LiveRealtimeInput{
			Audio: &genai.Blob{MIMEType: geminiInputMIME, Data: pcm},
		}); err != nil {
			return fmt.Errorf("failed to send audio: %w", err)
		}
		return nil
	})
}

// CommitAudio signals the end of the caller's audio stream.
func (g *GeminiConn) CommitAudio() error {
	return g.enqueue(func() error {
		if err := g.session.SendRealtimeInput(genai.LiveRealtimeInput{AudioStreamEnd: true}); err != nil {
			return fmt.Errorf("failed to send audio stream end: %w", err)
		}
		return nil
	})
}

func (g *GeminiConn) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return nil
	}
	g.closed = true
	close(g.done)
	return g.session.Close()
}

// enqueue hands a send to the write pump without blocking.
func (g *GeminiConn) enqueue(send func() error) error {
	if g.isClosed() {
		return ErrClosed
	}
	select {
	case g.writeChan <- send:
		return nil
	case <-g.done:
		return ErrClosed
	default:
		return ErrWriteQueueFull
	}
}

// writePump owns all sends to the session so they leave in queue order.
func (g *GeminiConn) writePump() {
	for {
		select {
		case <-g.done:
			return
		case send := <-g.writeChan:
			if err := send(); err != nil {
				if g.isClosed() {
					return
				}
				logger.Warn("gemini write failed", zap.Error(err))
				callErr(g.handlers.OnError, err)
			}
		}
	}
}

func (g *GeminiConn) isClosed() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.closed
}

func (g *GeminiConn) receive(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		resp, err := g.session.Receive()
		if err != nil {
			if !g.isClosed() {
				callErr(g.handlers.OnClose, fmt.Errorf("gemini receive: %w", err))
			}
			return
		}
		g.handleResponse(resp)
	}
}

func (g *GeminiConn) handleResponse(resp *genai.LiveServerMessage) {
	sc := resp.ServerContent
	if sc == nil {
		return
	}

	if sc.Interrupted {
		call(g.handlers.OnSpeechStarted)
	}

	if t := sc.InputTranscription; t != nil {
		g.userText.WriteString(t.Text)
		if t.Finished {
			g.flushUser()
		}
	}
	if t := sc.OutputTranscription; t != nil {
		g.agentText.WriteString(t.Text)
		if t.Finished {
			g.flushAgent()
		}
	}

	if sc.ModelTurn != nil {
		// the model answering means the caller's utterance is over
		g.flushUser()
		for _, part := range sc.ModelTurn.Parts {
			if part.InlineData == nil || len(part.InlineData.Data) == 0 {
				continue
			}
			// Gemini speaks 24kHz PCM; Twilio wants 8kHz mu-law
			muLaw := audio.PCM24kToMuLaw(part.InlineData.Data)
			callText(g.handlers.OnAudio, base64.StdEncoding.EncodeToString(muLaw))
		}
	}

	if sc.TurnComplete {
		g.flushUser()
		g.flushAgent()
	}
}

func (g *GeminiConn) flushUser() {
	if text := strings.TrimSpace(g.userText.String()); text != "" {
		callText(g.handlers.OnUserTranscript, text)
	}
	g.userText.Reset()
}

func (g *GeminiConn) flushAgent() {
	if text := strings.TrimSpace(g.agentText.String()); text != "" {
		callText(g.handlers.OnAgentTranscript, text)
	}
	g.agentText.Reset()
}
