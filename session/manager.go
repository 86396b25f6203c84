package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/room4-2/graphcall/config"
	"github.com/room4-2/graphcall/logger"
	"github.com/room4-2/graphcall/metrics"
	"github.com/room4-2/graphcall/realtime"
)

// ErrTooManySessions is returned when the concurrent call cap is reached.
var ErrTooManySessions = errors.New("maximum sessions reached")

const (
	activeSessionsKey = "active_sessions"
	sessionKeyPrefix  = "session:"
	cleanupInterval   = time.Minute
)

// Manager tracks live calls and mirrors their metadata to Redis when it is
// reachable.
type Manager struct {
	sessions map[string]*CallSession
	mu       sync.RWMutex

	redis  *redis.Client
	config *config.Config
	dialer realtime.Dialer
	deps   Collaborators
}

// NewManager creates a manager. Redis is optional; when it cannot be reached
// the manager works from memory only.
func NewManager(cfg *config.Config, dialer realtime.Dialer, deps Collaborators) *Manager {
	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisURL,
			Password: cfg.RedisPassword,
			DB:       0,
		})

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := redisClient.Ping(ctx).Err(); err != nil {
			logger.Warn("redis unavailable, session registry is memory only",
				zap.String("addr", cfg.RedisURL), zap.Error(err))
			_ = redisClient.Close()
			redisClient = nil
		}
	}

	return &Manager{
		sessions: make(map[string]*CallSession),
		redis:    redisClient,
		config:   cfg,
		dialer:   dialer,
		deps:     deps,
	}
}

// Redis returns the shared client, or nil when Redis is not in use.
func (sm *Manager) Redis() *redis.Client {
	return sm.redis
}

// CreateCallSession dials the speech model and registers a call for media.
// sessionID may be empty when the stream URL did not carry one.
func (sm *Manager) CreateCallSession(ctx context.Context, media MediaConn, sessionID string) (*CallSession, error) {
	sm.mu.RLock()
	full := len(sm.sessions) >= sm.config.MaxSessions
	sm.mu.RUnlock()
	if full {
		return nil, ErrTooManySessions
	}

	model, err := sm.dialer.Dial(ctx, realtime.SessionOptions{
		Instructions: DefaultInstructions,
		Voice:        sm.voice(),
		AutoResponse: sm.config.TurnAutoResponse,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open speech model: %w", err)
	}

	id := uuid.New().String()
	cs := New(id, sessionID, media, model, sm.deps, Options{
		PendingAudioMax:  sm.config.PendingAudioMax,
		OutboundQueue:    sm.config.OutboundQueueMax,
		AudioPrimeFrames: sm.config.AudioPrimeFrames,
		FailsafeDelay:    sm.config.FailsafeDelay,
		LogSampleRate:    sm.config.LogSampleRate,
		OnStart: func(streamSid, sid string) {
			sm.markStarted(id, streamSid, sid)
		},
	})

	sm.mu.Lock()
	if len(sm.sessions) >= sm.config.MaxSessions {
		sm.mu.Unlock()
		_ = model.Close()
		return nil, ErrTooManySessions
	}
	sm.storeSession(ctx, id, sessionID, cs)
	sm.mu.Unlock()

	return cs, nil
}

func (sm *Manager) voice() string {
	if sm.config.SpeechProvider == config.ProviderGemini {
		return sm.config.GeminiVoice
	}
	return sm.config.RealtimeVoice
}

// storeSession saves a session to memory and Redis. Caller holds sm.mu.
func (sm *Manager) storeSession(ctx context.Context, id, sessionID string, cs *CallSession) {
	sm.sessions[id] = cs
	metrics.ActiveSessions.Inc()

	if sm.redis != nil {
		key := sessionKeyPrefix + id
		pipe := sm.redis.TxPipeline()
		pipe.HSet(ctx, key, map[string]interface{}{
			"session_id": sessionID,
			"created_at": cs.CreatedAt.Format(time.RFC3339),
			"status":     "connecting",
		})
		pipe.SAdd(ctx, activeSessionsKey, id)
		pipe.Expire(ctx, key, sm.config.SessionTimeout)
		if _, err := pipe.Exec(ctx); err != nil {
			logger.Warn("failed to mirror session to redis", zap.String("conn_id", id), zap.Error(err))
		}
	}
}

func (sm *Manager) markStarted(id, streamSid, sessionID string) {
	if sm.redis == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := sm.redis.HSet(ctx, sessionKeyPrefix+id, map[string]interface{}{
		"session_id": sessionID,
		"stream_sid": streamSid,
		"status":     "active",
	}).Err(); err != nil {
		logger.Warn("failed to update session in redis", zap.String("conn_id", id), zap.Error(err))
	}
}

// GetSession retrieves a session by connection id.
func (sm *Manager) GetSession(id string) (*CallSession, bool) {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	cs, exists := sm.sessions[id]
	return cs, exists
}

// RemoveSession closes and forgets a session.
func (sm *Manager) RemoveSession(ctx context.Context, id string) {
	sm.mu.Lock()
	cs, exists := sm.sessions[id]
	if exists {
		delete(sm.sessions, id)
	}
	sm.mu.Unlock()

	if !exists {
		return
	}
	cs.Close()
	metrics.ActiveSessions.Dec()
	sm.forget(ctx, id)
}

func (sm *Manager) forget(ctx context.Context, id string) {
	if sm.redis == nil {
		return
	}
	pipe := sm.redis.TxPipeline()
	pipe.Del(ctx, sessionKeyPrefix+id)
	pipe.SRem(ctx, activeSessionsKey, id)
	if _, err := pipe.Exec(ctx); err != nil {
		logger.Warn("failed to remove session from redis", zap.String("conn_id", id), zap.Error(err))
	}
}

// GetActiveSessionCount returns current session count.
func (sm *Manager) GetActiveSessionCount() int {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return len(sm.sessions)
}

// CleanupInactiveSessions closes calls with no traffic for SessionTimeout.
func (sm *Manager) CleanupInactiveSessions(ctx context.Context) {
	now := time.Now()

	sm.mu.RLock()
	var stale []string
	for id, cs := range sm.sessions {
		if now.Sub(cs.LastActivity()) > sm.config.SessionTimeout {
			stale = append(stale, id)
		}
	}
	sm.mu.RUnlock()

	for _, id := range stale {
		logger.Info("closing inactive session", zap.String("conn_id", id))
		sm.RemoveSession(ctx, id)
	}
}

// StartCleanupRoutine periodically reaps inactive sessions until ctx ends.
func (sm *Manager) StartCleanupRoutine(ctx context.Context) {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sm.CleanupInactiveSessions(ctx)
		}
	}
}

// Shutdown closes all sessions and the Redis client.
func (sm *Manager) Shutdown() {
	sm.mu.Lock()
	sessions := sm.sessions
	sm.sessions = make(map[string]*CallSession)
	sm.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	for id, cs := range sessions {
		cs.Close()
		metrics.ActiveSessions.Dec()
		sm.forget(ctx, id)
	}

	if sm.redis != nil {
		_ = sm.redis.Close()
	}
}
