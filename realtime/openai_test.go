package realtime

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/room4-2/graphcall/messages"
)

type fakeRealtime struct {
	server   *httptest.Server
	received chan string
	toClient chan string
	header   chan http.Header
	query    chan string
}

func newFakeRealtime(t *testing.T) *fakeRealtime {
	t.Helper()
	f := &fakeRealtime{
		received: make(chan string, 32),
		toClient: make(chan string, 32),
		header:   make(chan http.Header, 1),
		query:    make(chan string, 1),
	}
	upgrader := websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}
	f.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.header <- r.Header.Clone()
		f.query <- r.URL.Query().Get("model")
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		go func() {
			for msg := range f.toClient {
				if err := conn.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
					return
				}
			}
		}()
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			f.received <- string(data)
		}
	}))
	t.Cleanup(f.server.Close)
	return f
}

func (f *fakeRealtime) url() string {
	return "ws" + strings.TrimPrefix(f.server.URL, "http")
}

func (f *fakeRealtime) next(t *testing.T) string {
	t.Helper()
	select {
	case msg := <-f.received:
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for client frame")
		return ""
	}
}

func TestOpenAIDialRequiresKey(t *testing.T) {
	_, err := (&OpenAIDialer{}).Dial(context.Background(), SessionOptions{})
	assert.Error(t, err)
}

func TestOpenAIConfigureAndSend(t *testing.T) {
	fake := newFakeRealtime(t)
	dialer := &OpenAIDialer{APIKey: "sk-test", Model: "gpt-4o-realtime-preview", URL: fake.url()}

	model, err := dialer.Dial(context.Background(), SessionOptions{Instructions: "be brief", Voice: "alloy"})
	require.NoError(t, err)
	defer model.Close()

	header := <-fake.header
	assert.Equal(t, "Bearer sk-test", header.Get("Authorization"))
	assert.Equal(t, "realtime=v1", header.Get("OpenAI-Beta"))
	assert.Equal(t, "gpt-4o-realtime-preview", <-fake.query)

	model.Start(context.Background(), Handlers{})

	require.NoError(t, model.Configure())
	update := fake.next(t)
	assert.Contains(t, update, `"type":"session.update"`)
	assert.Contains(t, update, `"input_audio_format":"g711_ulaw"`)
	assert.Contains(t, update, `"output_audio_format":"g711_ulaw"`)
	assert.Contains(t, update, `"create_response":false`)
	assert.Contains(t, update, `"voice":"alloy"`)

	require.NoError(t, model.AppendAudio("//8="))
	require.NoError(t, model.AddText(messages.RoleSystem, "facts"))
	require.NoError(t, model.CreateResponse())
	require.NoError(t, model.CommitAudio())

	assert.JSONEq(t, `{"type":"input_audio_buffer.append","audio":"//8="}`, fake.next(t))
	assert.Contains(t, fake.next(t), `"type":"conversation.item.create"`)
	assert.JSONEq(t, `{"type":"response.create"}`, fake.next(t))
	assert.JSONEq(t, `{"type":"input_audio_buffer.commit"}`, fake.next(t))
}

func TestOpenAIDispatchesServerEvents(t *testing.T) {
	fake := newFakeRealtime(t)
	dialer := &OpenAIDialer{APIKey: "sk-test", Model: "m", URL: fake.url()}
	model, err := dialer.Dial(context.Background(), SessionOptions{})
	require.NoError(t, err)
	defer model.Close()

	ready := make(chan struct{}, 1)
	audio := make(chan string, 1)
	user := make(chan string, 1)
	agent := make(chan string, 1)
	speech := make(chan struct{}, 1)
	errs := make(chan error, 1)

	model.Start(context.Background(), Handlers{
		OnReady:           func() { ready <- struct{}{} },
		OnAudio:           func(p string) { audio <- p },
		OnUserTranscript:  func(s string) { user <- s },
		OnAgentTranscript: func(s string) { agent <- s },
		OnSpeechStarted:   func() { speech <- struct{}{} },
		OnError:           func(err error) { errs <- err },
	})

	fake.toClient <- `{"type":"session.updated"}`
	fake.toClient <- `garbage`
	fake.toClient <- `{"type":"response.audio.delta","delta":"AAEC"}`
	fake.toClient <- `{"type":"conversation.item.input_audio_transcription.completed","transcript":"Are you open Sundays?"}`
	fake.toClient <- `{"type":"response.audio_transcript.done","transcript":"We are."}`
	fake.toClient <- `{"type":"input_audio_buffer.speech_started"}`
	fake.toClient <- `{"type":"error","error":{"type":"invalid_request_error","message":"buffer too small"}}`

	wait := func(ch <-chan struct{}) {
		select {
		case <-ch:
		case <-time.After(2 * time.Second):
			t.Fatal("timed out")
		}
	}
	wait(ready)
	assert.Equal(t, "AAEC", <-audio)
	assert.Equal(t, "Are you open Sundays?", <-user)
	assert.Equal(t, "We are.", <-agent)
	wait(speech)
	assert.EqualError(t, <-errs, "buffer too small")
}

func TestOpenAISendAfterClose(t *testing.T) {
	fake := newFakeRealtime(t)
	model, err := (&OpenAIDialer{APIKey: "k", Model: "m", URL: fake.url()}).Dial(context.Background(), SessionOptions{})
	require.NoError(t, err)

	require.NoError(t, model.Close())
	require.NoError(t, model.Close())
	assert.ErrorIs(t, model.CreateResponse(), ErrClosed)
}

func TestOpenAIReportsRemoteClose(t *testing.T) {
	fake := newFakeRealtime(t)
	model, err := (&OpenAIDialer{APIKey: "k", Model: "m", URL: fake.url()}).Dial(context.Background(), SessionOptions{})
	require.NoError(t, err)
	defer model.Close()

	closed := make(chan error, 1)
	model.Start(context.Background(), Handlers{OnClose: func(err error) { closed <- err }})

	fake.server.CloseClientConnections()

	select {
	case err := <-closed:
		assert.Error(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("OnClose was not called")
	}
}
