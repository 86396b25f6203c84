package realtime

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/room4-2/graphcall/logger"
	"github.com/room4-2/graphcall/messages"
)

const (
	DefaultOpenAIURL = "wss://api.openai.com/v1/realtime"

	writeBufferSize = 512
	writeTimeout    = 10 * time.Second
	dialTimeout     = 10 * time.Second
	transcribeModel = "whisper-1"
)

// OpenAIDialer opens OpenAI Realtime sessions.
type OpenAIDialer struct {
	APIKey string
	Model  string
	URL    string // defaults to DefaultOpenAIURL
}

// Dial connects to the Realtime API. The session is not configured until
// Configure is called.
func (d *OpenAIDialer) Dial(ctx context.Context, opts SessionOptions) (Model, error) {
	if d.APIKey == "" {
		return nil, errors.New("OPENAI_API_KEY is not configured")
	}

	base := d.URL
	if base == "" {
		base = DefaultOpenAIURL
	}
	u, err := url.Parse(base)
	if err != nil {
		return nil, fmt.Errorf("invalid realtime URL: %w", err)
	}
	q := u.Query()
	q.Set("model", d.Model)
	u.RawQuery = q.Encode()

	header := http.Header{}
	header.Set("Authorization", "Bearer "+d.APIKey)
	header.Set("OpenAI-Beta", "realtime=v1")

	dialer := websocket.Dialer{
		HandshakeTimeout: dialTimeout,
		ReadBufferSize:   64 * 1024,
		WriteBufferSize:  64 * 1024,
	}
	conn, resp, err := dialer.DialContext(ctx, u.String(), header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("failed to connect to realtime API (status %d): %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("failed to connect to realtime API: %w", err)
	}

	return newOpenAIConn(conn, opts), nil
}

// OpenAIConn is a live OpenAI Realtime socket.
type OpenAIConn struct {
	conn *websocket.Conn
	opts SessionOptions

	writeChan chan []byte
	done      chan struct{}

	mu     sync.RWMutex
	closed bool
}

func newOpenAIConn(conn *websocket.Conn, opts SessionOptions) *OpenAIConn {
	return &OpenAIConn{
		conn:      conn,
		opts:      opts,
		writeChan: make(chan []byte, writeBufferSize),
		done:      make(chan struct{}),
	}
}

// Start launches the write pump and the receive loop.
func (c *OpenAIConn) Start(ctx context.Context, h Handlers) {
	go c.writePump()
	go c.receive(ctx, h)
}

// Configure sends session.update: mu-law both ways, server VAD and input transcription.
func (c *OpenAIConn) Configure() error {
	return c.send(messages.NewSessionUpdate(messages.SessionConfig{
		Modalities:        []string{"audio", "text"},
		Instructions:      c.opts.Instructions,
		Voice:             c.opts.Voice,
		InputAudioFormat:  messages.AudioFormatG711ULaw,
		OutputAudioFormat: messages.AudioFormatG711ULaw,
		InputAudioTranscription: &messages.InputAudioTranscription{
			Model: transcribeModel,
		},
		TurnDetection: &messages.TurnDetection{
			Type:              "server_vad",
			Threshold:         0.5,
			PrefixPaddingMs:   300,
			SilenceDurationMs: 500,
			CreateResponse:    c.opts.AutoResponse,
			InterruptResponse: true,
		},
	}))
}

func (c *OpenAIConn) AddText(role, text string) error {
	return c.send(messages.NewTextItem(role, text))
}

func (c *OpenAIConn) CreateResponse() error {
	return c.send(messages.NewResponseCreate())
}

func (c *OpenAIConn) AppendAudio(payload string) error {
	return c.send(messages.NewInputAudioAppend(payload))
}

func (c *OpenAIConn) CommitAudio() error {
	return c.send(messages.NewInputAudioCommit())
}

// Close terminates the socket. Safe to call more than once.
func (c *OpenAIConn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	close(c.done)
	return c.conn.Close()
}

func (c *OpenAIConn) isClosed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.closed
}

// send queues a frame for the write pump (non-blocking).
func (c *OpenAIConn) send(v any) error {
	if c.isClosed() {
		return ErrClosed
	}
	data, err := messages.Encode(v)
	if err != nil {
		return fmt.Errorf("failed to encode realtime event: %w", err)
	}
	select {
	case c.writeChan <- data:
		return nil
	case <-c.done:
		return ErrClosed
	default:
		return ErrWriteQueueFull
	}
}

// writePump owns all writes to the socket so frames leave in queue order.
func (c *OpenAIConn) writePump() {
	for {
		select {
		case <-c.done:
			return
		case data := <-c.writeChan:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				if !c.isClosed() {
					logger.Warn("realtime write failed", zap.Error(err))
					_ = c.conn.Close()
				}
				return
			}
		}
	}
}

func (c *OpenAIConn) receive(ctx context.Context, h Handlers) {
	for {
		if ctx.Err() != nil {
			return
		}
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if !c.isClosed() {
				callErr(h.OnClose, fmt.Errorf("realtime socket closed: %w", err))
			}
			return
		}

		ev, err := messages.DecodeServerEvent(data)
		if err != nil {
			// malformed frames are ignored
			continue
		}
		c.dispatch(ev, h)
	}
}

func (c *OpenAIConn) dispatch(ev *messages.ServerEvent, h Handlers) {
	switch ev.Type {
	case messages.TypeSessionUpdated:
		call(h.OnReady)
	case messages.TypeAudioDelta:
		if ev.Delta != "" {
			callText(h.OnAudio, ev.Delta)
		}
	case messages.TypeTranscriptionCompleted:
		callText(h.OnUserTranscript, ev.Transcript)
	case messages.TypeAudioTranscriptDone:
		callText(h.OnAgentTranscript, ev.Transcript)
	case messages.TypeSpeechStarted:
		call(h.OnSpeechStarted)
	case messages.TypeError:
		msg := "unknown realtime error"
		if ev.Error != nil {
			msg = ev.Error.Message
		}
		callErr(h.OnError, errors.New(msg))
	case messages.TypeTranscriptionFailed:
		callErr(h.OnError, errors.New("input transcription failed"))
	}
}
