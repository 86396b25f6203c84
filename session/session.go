package session

import (
	"context"
	"encoding/base64"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/room4-2/graphcall/audio"
	"github.com/room4-2/graphcall/knowledge"
	"github.com/room4-2/graphcall/logger"
	"github.com/room4-2/graphcall/messages"
	"github.com/room4-2/graphcall/metrics"
	"github.com/room4-2/graphcall/realtime"
)

const (
	eventBufferSize = 256
	writeTimeout    = 10 * time.Second

	// DefaultProfileTimeout bounds the greeting's business-name lookup so the
	// greeting always precedes the failsafe.
	DefaultProfileTimeout = 800 * time.Millisecond

	// DefaultOutboundQueue is how many frames may wait for the telephony
	// socket, about 30s of audio.
	DefaultOutboundQueue = 1500
)

// MediaConn is the telephony side of a call. *websocket.Conn satisfies it.
type MediaConn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// Enricher turns a caller utterance into graph context.
type Enricher interface {
	Fetch(ctx context.Context, sessionID, utterance string) knowledge.GraphContext
}

// TurnNotifier records conversation turns without blocking.
type TurnNotifier interface {
	Notify(sessionID, role, text string)
}

// ProfileLookup resolves the business name used in the greeting.
type ProfileLookup interface {
	BusinessName(ctx context.Context, agentID string) string
}

// Collaborators are the backend-facing pieces a call uses. Any may be nil.
type Collaborators struct {
	Enricher Enricher
	Turns    TurnNotifier
	Profiles ProfileLookup
}

// Options tune one call.
type Options struct {
	PendingAudioMax  int
	AudioPrimeFrames int
	FailsafeDelay    time.Duration // <= 0 disables the failsafe; armed once the greeting is sent
	ProfileTimeout   time.Duration // defaults to DefaultProfileTimeout
	// OutboundQueue caps frames waiting on a stalled telephony socket. It is
	// never smaller than PendingAudioMax plus AudioPrimeFrames, so a flush
	// always fits; frames beyond it are dropped and counted.
	OutboundQueue int
	LogSampleRate    int

	// OnStart is called from the event loop once the stream id is known.
	OnStart func(streamSid, sessionID string)
}

// Stats is a snapshot of a call's frame counters.
type Stats struct {
	InboundFrames   int64 // media frames from the caller
	Forwarded       int64 // caller frames handed to the model
	DroppedNotReady int64 // caller frames dropped before the model was ready
	OutboundFrames  int64 // audio deltas from the model
	Queued          int64 // deltas held until the stream id was known
	Evicted         int64 // queued deltas evicted by the cap
	Written         int64 // frames written to the telephony socket
	WriteDropped    int64 // frames dropped because the telephony socket stalled
}

type counters struct {
	inbound, forwarded, droppedNotReady atomic.Int64
	outbound, queued, evicted, written  atomic.Int64
	writeDropped                        atomic.Int64
}

type eventKind int

const (
	evStream eventKind = iota
	evStreamClosed
	evModelReady
	evModelAudio
	evUserTranscript
	evAgentTranscript
	evSpeechStarted
	evModelError
	evModelClosed
	evContext
	evGreeting
	evFailsafe
)

type event struct {
	kind    eventKind
	stream  *messages.StreamEvent
	text    string
	err     error
	context knowledge.GraphContext
}

// CallSession relays one phone call between the telephony media stream and a
// speech model. All call state is owned by a single event loop; socket
// readers, backend lookups and timers only post events to it.
type CallSession struct {
	ID        string
	CreatedAt time.Time

	media MediaConn
	model realtime.Model
	deps  Collaborators
	opts  Options
	log   *zap.Logger // event loop only
	base  *zap.Logger

	// event loop state
	sessionID    string
	agentID      string
	username     string
	callerID     string
	streamSid    string
	ready        bool
	audioStarted bool
	draining     bool
	pending      *PendingAudio
	sampler      *logger.Sampler
	failsafe     *time.Timer

	events   chan event
	outbound chan []byte

	lastActivity atomic.Int64
	stats        counters

	ctx       context.Context
	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once
}

// New creates a call session. sessionID may be empty; it is then recovered
// from the stream's custom parameters on start.
func New(id, sessionID string, media MediaConn, model realtime.Model, deps Collaborators, opts Options) *CallSession {
	ctx, cancel := context.WithCancel(context.Background())

	if opts.ProfileTimeout <= 0 {
		opts.ProfileTimeout = DefaultProfileTimeout
	}
	pending := NewPendingAudio(opts.PendingAudioMax)
	if opts.OutboundQueue <= 0 {
		opts.OutboundQueue = DefaultOutboundQueue
	}
	opts.OutboundQueue = max(opts.OutboundQueue, pending.Max()+opts.AudioPrimeFrames)
	username, agentID, _ := ParseSessionID(sessionID)

	base := logger.L().
		WithOptions(zap.AddCallerSkip(-1)).
		With(zap.String("conn_id", id))

	cs := &CallSession{
		ID:        id,
		CreatedAt: time.Now(),
		media:     media,
		model:     model,
		deps:      deps,
		opts:      opts,
		log:       base,
		base:      base,
		sessionID: sessionID,
		agentID:   agentID,
		username:  username,
		pending:   pending,
		sampler:   logger.NewSampler(opts.LogSampleRate),
		events:    make(chan event, eventBufferSize),
		outbound:  make(chan []byte, opts.OutboundQueue),
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
	}
	cs.touch()
	return cs
}

// Run drives the call until either socket closes or ctx is cancelled.
func (cs *CallSession) Run(ctx context.Context) {
	go func() {
		select {
		case <-ctx.Done():
			cs.Close()
		case <-cs.done:
		}
	}()

	go cs.writePump()
	go cs.readPump()
	cs.model.Start(cs.ctx, cs.modelHandlers())

	cs.open()
	cs.loop()

	if cs.failsafe != nil {
		cs.failsafe.Stop()
	}
}

// Done is closed once the session has been torn down.
func (cs *CallSession) Done() <-chan struct{} {
	return cs.done
}

// LastActivity is the time of the last frame on either socket.
func (cs *CallSession) LastActivity() time.Time {
	return time.Unix(0, cs.lastActivity.Load())
}

// Stats returns the current frame counters.
func (cs *CallSession) Stats() Stats {
	return Stats{
		InboundFrames:   cs.stats.inbound.Load(),
		Forwarded:       cs.stats.forwarded.Load(),
		DroppedNotReady: cs.stats.droppedNotReady.Load(),
		OutboundFrames:  cs.stats.outbound.Load(),
		Queued:          cs.stats.queued.Load(),
		Evicted:         cs.stats.evicted.Load(),
		Written:         cs.stats.written.Load(),
		WriteDropped:    cs.stats.writeDropped.Load(),
	}
}

// Close tears down both sockets. Safe to call more than once and from any
// goroutine.
func (cs *CallSession) Close() {
	cs.closeOnce.Do(func() {
		close(cs.done)
		cs.cancel()

		if err := cs.model.Close(); err != nil {
			cs.base.Debug("speech model close", zap.Error(err))
		}
		if err := cs.media.Close(); err != nil {
			cs.base.Debug("media stream close", zap.Error(err))
		}

		s := cs.Stats()
		cs.base.Info("call session closed",
			zap.Duration("duration", time.Since(cs.CreatedAt)),
			zap.Int64("inbound_frames", s.InboundFrames),
			zap.Int64("forwarded", s.Forwarded),
			zap.Int64("dropped_not_ready", s.DroppedNotReady),
			zap.Int64("outbound_frames", s.OutboundFrames),
			zap.Int64("queued", s.Queued),
			zap.Int64("evicted", s.Evicted),
			zap.Int64("written", s.Written),
			zap.Int64("write_dropped", s.WriteDropped))
	})
}

func (cs *CallSession) touch() {
	cs.lastActivity.Store(time.Now().UnixNano())
}

func (cs *CallSession) post(ev event) {
	select {
	case cs.events <- ev:
	case <-cs.done:
	}
}

func (cs *CallSession) modelHandlers() realtime.Handlers {
	return realtime.Handlers{
		OnReady: func() { cs.post(event{kind: evModelReady}) },
		OnAudio: func(payload string) {
			cs.touch()
			cs.post(event{kind: evModelAudio, text: payload})
		},
		OnUserTranscript:  func(text string) { cs.post(event{kind: evUserTranscript, text: text}) },
		OnAgentTranscript: func(text string) { cs.post(event{kind: evAgentTranscript, text: text}) },
		OnSpeechStarted:   func() { cs.post(event{kind: evSpeechStarted}) },
		OnError:           func(err error) { cs.post(event{kind: evModelError, err: err}) },
		OnClose:           func(err error) { cs.post(event{kind: evModelClosed, err: err}) },
	}
}

// readPump decodes telephony frames. Malformed frames are ignored.
func (cs *CallSession) readPump() {
	for {
		_, data, err := cs.media.ReadMessage()
		if err != nil {
			cs.post(event{kind: evStreamClosed, err: err})
			return
		}
		cs.touch()

		ev, err := messages.DecodeStreamEvent(data)
		if err != nil {
			continue
		}
		cs.post(event{kind: evStream, stream: ev})
	}
}

// writePump owns all writes to the telephony socket so frames leave in the
// order they were queued.
func (cs *CallSession) writePump() {
	for {
		select {
		case <-cs.done:
			return
		case data := <-cs.outbound:
			_ = cs.media.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := cs.media.WriteMessage(websocket.TextMessage, data); err != nil {
				cs.post(event{kind: evStreamClosed, err: err})
				return
			}
			cs.stats.written.Add(1)
		}
	}
}

// sendToCaller queues a frame for the telephony socket without blocking.
func (cs *CallSession) sendToCaller(msg *messages.TwilioMessageBack) {
	data, err := messages.Encode(msg)
	if err != nil {
		cs.log.Warn("failed to encode telephony frame", zap.Error(err))
		return
	}
	select {
	case cs.outbound <- data:
	default:
		n := cs.stats.writeDropped.Add(1)
		metrics.Frames.WithLabelValues(metrics.DirOutbound, metrics.OutcomeDropped).Inc()
		if n == 1 || cs.sampler.Allow() {
			cs.log.Warn("telephony socket stalled, dropping frame",
				zap.Int("queue", cap(cs.outbound)), zap.Int64("dropped", n))
		}
	}
}

func (cs *CallSession) loop() {
	for {
		select {
		case <-cs.done:
			return
		case ev := <-cs.events:
			cs.handle(ev)
		}
	}
}

func (cs *CallSession) handle(ev event) {
	switch ev.kind {
	case evStream:
		cs.handleStream(ev.stream)
	case evStreamClosed:
		cs.log.Info("media stream closed", zap.Error(ev.err))
		cs.Close()
	case evModelReady:
		cs.ready = true
		cs.log.Info("speech model ready")
	case evModelAudio:
		cs.handleModelAudio(ev.text)
	case evUserTranscript:
		cs.handleUserTranscript(ev.text)
	case evAgentTranscript:
		if cs.deps.Turns != nil {
			cs.deps.Turns.Notify(cs.sessionID, knowledge.RoleAgent, ev.text)
		}
	case evSpeechStarted:
		cs.handleSpeechStarted()
	case evContext:
		cs.injectContext(ev.text, ev.context)
	case evGreeting:
		cs.greet(ev.text)
	case evFailsafe:
		cs.handleFailsafe()
	case evModelError:
		cs.log.Warn("speech model error", zap.Error(ev.err))
	case evModelClosed:
		cs.log.Info("speech model connection closed", zap.Error(ev.err))
		cs.Close()
	}
}

// open configures the model and starts the greeting lookup. The lookup is
// bounded; a slow backend yields the generic greeting.
func (cs *CallSession) open() {
	cs.log.Info("call session opened", zap.String("session_id", cs.sessionID))

	if err := cs.model.Configure(); err != nil {
		cs.log.Error("failed to configure speech model", zap.Error(err))
		cs.Close()
		return
	}

	agentID := cs.agentID
	if cs.deps.Profiles == nil || agentID == "" {
		cs.post(event{kind: evGreeting})
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(cs.ctx, cs.opts.ProfileTimeout)
		defer cancel()

		result := make(chan string, 1)
		go func() { result <- cs.deps.Profiles.BusinessName(ctx, agentID) }()

		name := ""
		select {
		case name = <-result:
		case <-ctx.Done():
			cs.base.Debug("business profile lookup slow, using generic greeting", zap.String("agent_id", agentID))
		}
		cs.post(event{kind: evGreeting, text: name})
	}()
}

// greet sends the greeting turn, then arms the failsafe.
func (cs *CallSession) greet(businessName string) {
	defer cs.armFailsafe()

	if err := cs.model.AddText(messages.RoleSystem, GreetingInstruction(businessName)); err != nil {
		cs.log.Warn("failed to send greeting", zap.Error(err))
		return
	}
	if err := cs.model.CreateResponse(); err != nil {
		cs.log.Warn("failed to request greeting response", zap.Error(err))
	}
}

func (cs *CallSession) armFailsafe() {
	if cs.opts.FailsafeDelay <= 0 || cs.failsafe != nil {
		return
	}
	cs.failsafe = time.AfterFunc(cs.opts.FailsafeDelay, func() {
		cs.post(event{kind: evFailsafe})
	})
}

func (cs *CallSession) handleStream(ev *messages.StreamEvent) {
	switch ev.Event {
	case messages.EventConnected:
		cs.log.Debug("media stream connected")
	case messages.EventStart:
		cs.handleStart(ev)
	case messages.EventMedia:
		cs.handleMedia(ev)
	case messages.EventStop:
		cs.handleStop()
	case messages.EventMark:
		if ev.Mark != nil {
			cs.log.Debug("mark", zap.String("name", ev.Mark.Name))
		}
	}
}

func (cs *CallSession) handleStart(ev *messages.StreamEvent) {
	if ev.Start == nil {
		return
	}
	cs.streamSid = ev.Start.StreamSid
	if cs.streamSid == "" {
		cs.streamSid = ev.StreamSid
	}
	if cs.streamSid == "" {
		cs.log.Warn("start event without stream id")
		return
	}

	params := ev.Start.CustomParameters
	if cs.username == "" {
		cs.username = params[messages.ParamUsername]
	}
	if cs.agentID == "" {
		cs.agentID = params[messages.ParamAgentID]
	}
	cs.callerID = params[messages.ParamCallerID]
	if cs.sessionID == "" {
		cs.sessionID = params[messages.ParamSessionID]
	}
	if cs.sessionID == "" {
		switch {
		case cs.username != "" && cs.agentID != "":
			cs.sessionID = BuildSessionID(cs.username, cs.agentID, ev.Start.CallSid)
		default:
			cs.sessionID = ev.Start.CallSid
		}
	}

	cs.log = cs.log.With(zap.String("stream_sid", cs.streamSid), zap.String("session_id", cs.sessionID))
	cs.log.Info("media stream started",
		zap.String("call_sid", ev.Start.CallSid),
		zap.String("caller_id", cs.callerID),
		zap.Int("pending_frames", cs.pending.Len()))

	if cs.opts.OnStart != nil {
		cs.opts.OnStart(cs.streamSid, cs.sessionID)
	}

	if cs.opts.AudioPrimeFrames > 0 {
		silence := base64.StdEncoding.EncodeToString(audio.SilenceFrame())
		for i := 0; i < cs.opts.AudioPrimeFrames; i++ {
			cs.sendToCaller(messages.NewTwilioMedia(cs.streamSid, silence))
		}
	}

	cs.flushPending()
}

func (cs *CallSession) flushPending() {
	frames := cs.pending.Flush()
	for _, payload := range frames {
		cs.sendToCaller(messages.NewTwilioMedia(cs.streamSid, payload))
		metrics.Frames.WithLabelValues(metrics.DirOutbound, metrics.OutcomeForwarded).Inc()
	}
	if len(frames) > 0 {
		cs.log.Info("flushed pending audio", zap.Int("frames", len(frames)))
	}
}

func (cs *CallSession) handleMedia(ev *messages.StreamEvent) {
	if ev.Media == nil || ev.Media.Payload == "" {
		return
	}
	n := cs.stats.inbound.Add(1)

	if !cs.ready {
		cs.stats.droppedNotReady.Add(1)
		metrics.Frames.WithLabelValues(metrics.DirInbound, metrics.OutcomeDropped).Inc()
		return
	}

	if err := cs.model.AppendAudio(ev.Media.Payload); err != nil {
		metrics.Frames.WithLabelValues(metrics.DirInbound, metrics.OutcomeDropped).Inc()
		cs.log.Warn("failed to forward caller audio", zap.Error(err))
		return
	}
	cs.stats.forwarded.Add(1)
	metrics.Frames.WithLabelValues(metrics.DirInbound, metrics.OutcomeForwarded).Inc()

	if cs.sampler.Allow() {
		cs.log.Debug("caller audio", zap.Int64("frames", n), zap.Int("bytes", len(ev.Media.Payload)))
	}
}

func (cs *CallSession) handleStop() {
	cs.log.Info("media stream stopped")
	cs.draining = true
	if err := cs.model.CommitAudio(); err != nil {
		cs.log.Warn("failed to commit caller audio", zap.Error(err))
	}
	if err := cs.model.CreateResponse(); err != nil {
		cs.log.Warn("failed to request final response", zap.Error(err))
	}
}

func (cs *CallSession) handleModelAudio(payload string) {
	if payload == "" {
		return
	}
	cs.stats.outbound.Add(1)
	cs.audioStarted = true

	if cs.streamSid != "" {
		cs.sendToCaller(messages.NewTwilioMedia(cs.streamSid, payload))
		metrics.Frames.WithLabelValues(metrics.DirOutbound, metrics.OutcomeForwarded).Inc()
		return
	}

	cs.stats.queued.Add(1)
	metrics.Frames.WithLabelValues(metrics.DirOutbound, metrics.OutcomeQueued).Inc()
	if cs.pending.Push(payload) {
		cs.stats.evicted.Add(1)
		metrics.Frames.WithLabelValues(metrics.DirOutbound, metrics.OutcomeEvicted).Inc()
		if cs.sampler.Allow() {
			cs.log.Warn("pending audio full, evicting oldest frame", zap.Int("max", cs.pending.Max()))
		}
	}
}

// handleSpeechStarted clears audio Twilio has buffered so the caller can
// barge in.
func (cs *CallSession) handleSpeechStarted() {
	if !cs.audioStarted || cs.streamSid == "" {
		return
	}
	cs.sendToCaller(messages.NewTwilioClear(cs.streamSid))
	cs.log.Debug("caller barge-in, cleared playback")
}

// handleUserTranscript logs the turn, then enriches it off the loop. The
// context turn is injected when the lookup comes back.
func (cs *CallSession) handleUserTranscript(text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	cs.log.Info("caller said", zap.String("text", text))

	if cs.deps.Turns != nil {
		cs.deps.Turns.Notify(cs.sessionID, knowledge.RoleCustomer, text)
	}

	if cs.deps.Enricher == nil {
		if err := cs.model.CreateResponse(); err != nil {
			cs.log.Warn("failed to request response", zap.Error(err))
		}
		return
	}

	sessionID := cs.sessionID
	go func() {
		gc := cs.deps.Enricher.Fetch(cs.ctx, sessionID, text)
		cs.post(event{kind: evContext, text: text, context: gc})
	}()
}

func (cs *CallSession) injectContext(utterance string, gc knowledge.GraphContext) {
	cs.log.Info("graph context",
		zap.Int("facts", len(gc.Facts)),
		zap.Int("actions", len(gc.Actions)),
		zap.Float64("confidence", gc.Confidence),
		zap.String("reason", gc.Reason))

	if err := cs.model.AddText(messages.RoleSystem, ContextTurn(utterance, gc)); err != nil {
		cs.log.Warn("failed to inject context", zap.Error(err))
		return
	}
	if err := cs.model.CreateResponse(); err != nil {
		cs.log.Warn("failed to request response", zap.Error(err))
	}
}

func (cs *CallSession) handleFailsafe() {
	if cs.audioStarted || cs.draining {
		return
	}
	cs.log.Info("no agent audio yet, forcing a response")
	if err := cs.model.CreateResponse(); err != nil {
		cs.log.Warn("failsafe response failed", zap.Error(err))
	}
}
