package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/room4-2/graphcall/config"
	"github.com/room4-2/graphcall/knowledge"
	"github.com/room4-2/graphcall/logger"
	"github.com/room4-2/graphcall/realtime"
	"github.com/room4-2/graphcall/server"
	"github.com/room4-2/graphcall/session"
	"github.com/room4-2/graphcall/telephony"
)

func main() {
	cfg, warnings, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	if err := logger.Init(logger.Options{Level: cfg.LogLevel, File: cfg.LogFile}); err != nil {
		log.Fatalf("Failed to init logger: %v", err)
	}
	defer logger.Sync()

	for _, w := range warnings {
		logger.Warn("config", zap.String("warning", w))
	}

	backend := knowledge.NewClient(cfg.BackendURL, cfg.ServiceToken, cfg.BackendTimeout)
	deps := session.Collaborators{
		Enricher: knowledge.NewEnricher(backend),
		Turns:    knowledge.NewTurnLogger(backend),
		Profiles: knowledge.NewProfiles(backend),
	}

	var dialer realtime.Dialer
	switch cfg.SpeechProvider {
	case config.ProviderGemini:
		dialer = &realtime.GeminiDialer{APIKey: cfg.GeminiAPIKey, Model: cfg.GeminiModel}
	default:
		dialer = &realtime.OpenAIDialer{APIKey: cfg.OpenAIAPIKey, Model: cfg.RealtimeModel}
	}

	sessionManager := session.NewManager(cfg, dialer, deps)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sessionManager.StartCleanupRoutine(ctx)

	var srvDeps server.Deps
	if cfg.ProvisioningEnabled() {
		srvDeps.Provisioner = telephony.NewProvisioner("", cfg.TwilioAccountSID, cfg.TwilioAuthToken)
	}
	if rdb := sessionManager.Redis(); rdb != nil {
		srvDeps.Bindings = telephony.NewBindingStore(rdb)
	}

	srv, err := server.New(cfg, sessionManager, srvDeps)
	if err != nil {
		logger.Error("failed to create server", zap.Error(err))
		return
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		logger.Info("received shutdown signal", zap.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil {
			logger.Error("server error", zap.Error(err))
		}
	}

	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("server shutdown error", zap.Error(err))
	}
	sessionManager.Shutdown()

	logger.Info("server stopped")
}
