package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/middleware/stdlib"
	"github.com/ulule/limiter/v3/drivers/store/memory"
	"go.uber.org/zap"

	"github.com/room4-2/graphcall/config"
	"github.com/room4-2/graphcall/logger"
	"github.com/room4-2/graphcall/metrics"
	"github.com/room4-2/graphcall/session"
)

const provisionRate = "10-M"

// Deps are optional collaborators for the number provisioning routes.
type Deps struct {
	Provisioner Provisioner  // nil when Twilio credentials are missing
	Bindings    BindingStore // nil when Redis is unavailable
}

// Server answers Twilio webhooks and hosts the media stream socket.
type Server struct {
	httpServer     *http.Server
	upgrader       websocket.Upgrader
	sessionManager *session.Manager
	config         *config.Config
	deps           Deps

	// calls outlive their HTTP request; they end with the server
	baseCtx context.Context
	stop    context.CancelFunc
}

func New(cfg *config.Config, sessionManager *session.Manager, deps Deps) (*Server, error) {
	ctx, stop := context.WithCancel(context.Background())
	s := &Server{
		sessionManager: sessionManager,
		config:         cfg,
		deps:           deps,
		baseCtx:        ctx,
		stop:           stop,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  64 * 1024,
			WriteBufferSize: 64 * 1024,
			// Twilio doesn't support WebSocket compression
			EnableCompression: false,
			CheckOrigin: func(r *http.Request) bool {
				// Twilio connections don't send browser Origin headers.
				return true
			},
		},
	}

	rate, err := limiter.NewRateFromFormatted(provisionRate)
	if err != nil {
		stop()
		return nil, fmt.Errorf("invalid provisioning rate: %w", err)
	}
	limited := stdlib.NewMiddleware(limiter.New(memory.NewStore(), rate))

	mux := http.NewServeMux()
	mux.HandleFunc("/voice", s.handleVoiceCall)
	mux.HandleFunc("/incoming-call", s.handleVoiceCall)
	mux.HandleFunc("/stream-status", s.handleStreamStatus)
	mux.HandleFunc("/media-stream", s.handleMediaStream)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("GET /metrics", metrics.Handler())
	mux.Handle("POST /api/numbers/provision", limited.Handler(http.HandlerFunc(s.handleProvision)))
	mux.HandleFunc("GET /api/numbers", s.handleListNumbers)

	s.httpServer = &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: mux,
		// No ReadTimeout/WriteTimeout: they would cut long-lived media sockets.
		ReadHeaderTimeout: 10 * time.Second,
	}

	return s, nil
}

// Handler exposes the routes, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start begins listening for connections.
func (s *Server) Start() error {
	logger.Info("server starting",
		zap.String("addr", s.httpServer.Addr),
		zap.String("voice_webhook", "/voice"),
		zap.String("media_stream", "/media-stream"))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests and ends live calls.
func (s *Server) Shutdown(ctx context.Context) error {
	logger.Info("shutting down server")
	s.stop()
	return s.httpServer.Shutdown(ctx)
}

// GetAddr returns the server's listen address.
func (s *Server) GetAddr() string {
	return s.httpServer.Addr
}

func (s *Server) handleMediaStream(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn("media stream upgrade failed", zap.Error(err))
		return
	}
	conn.SetReadLimit(512 * 1024)

	sessionID := r.URL.Query().Get("sessionId")
	cs, err := s.sessionManager.CreateCallSession(s.baseCtx, conn, sessionID)
	if err != nil {
		logger.Error("failed to create call session", zap.String("session_id", sessionID), zap.Error(err))
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "unavailable"),
			time.Now().Add(time.Second))
		_ = conn.Close()
		return
	}

	logger.Info("media stream connected", zap.String("conn_id", cs.ID), zap.String("session_id", sessionID))

	cs.Run(s.baseCtx)

	s.sessionManager.RemoveSession(context.Background(), cs.ID)
}

// handleStreamStatus acknowledges Twilio stream status callbacks.
func (s *Server) handleStreamStatus(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}
