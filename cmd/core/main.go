package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/interpretcore/core/internal/auth"
	"github.com/interpretcore/core/internal/config"
	"github.com/interpretcore/core/internal/ingest"
	"github.com/interpretcore/core/internal/observability"
	"github.com/interpretcore/core/internal/room"
	"github.com/interpretcore/core/internal/segment"
	"github.com/interpretcore/core/internal/store"
	"github.com/interpretcore/core/internal/translator"
	"github.com/interpretcore/core/internal/tts"
	"github.com/interpretcore/core/pkg/protocol"
	"github.com/interpretcore/core/pkg/version"
)

func main() {
	cfg, err := config.Load("config.json")
	if err != nil {
		fmt.Printf("failed to load config: %v\n", err)
		os.Exit(1)
	}

	loggerCfg := observability.LoggerConfig{
		Level:        cfg.GetLogLevel(),
		Format:       cfg.Logging.Format,
		OutputPath:   cfg.Logging.OutputPath,
		EnableCaller: cfg.Logging.EnableCaller,
		EnableStack:  cfg.Logging.EnableStack,
		Service:      "interpretcore-core",
		Version:      version.Version,
	}
	logger := observability.NewLogger(loggerCfg)

	logger.Info().
		Str("version", version.Version).
		Str("git_commit", version.GitCommit).
		Str("platform", version.Platform).
		Msg("starting interpretcore core")

	metrics := observability.NewMetrics()
	health := observability.NewHealthChecker(logger, version.Version)

	// --- State Store ---
	st, err := store.New(cfg.Store, logger)
	if err != nil {
		logger.Fatal().Err(err).Str("backend", cfg.Store.Backend).Msg("failed to initialize state store")
	}
	logger.Info().Str("backend", cfg.Store.Backend).Msg("state store initialized")

	// --- Translator Client ---
	translatorClient := translator.New(cfg.Translation, metrics, logger)
	logger.Info().Str("primary_url", cfg.Translation.PrimaryURL).Msg("translator client initialized")

	// --- TTS provider client ---
	ttsClient := tts.NewClient(tts.Config{
		ProviderURL:      cfg.TTS.ProviderURL,
		APIKey:           cfg.TTS.APIKey,
		Voice:            cfg.TTS.Voice,
		FallbackVoice:    cfg.TTS.FallbackVoice,
		Format:           cfg.TTS.Format,
		RateBoostPct:     cfg.TTS.RateBoostPct,
		SynthesisTimeout: cfg.TTS.SynthesisTimeout,
	}, logger)

	// Room Hub, TTS Manager and Segment Processor form a wiring cycle:
	// the processor emits into the hub and enqueues into the TTS manager,
	// the TTS manager delivers through the hub, and the hub tears down
	// both on room idle. Declare the hub and manager first and close over
	// them by reference so the processor can be constructed in between.
	var hub *room.Hub
	var ttsMgr *tts.Manager

	proc := segment.NewProcessor(
		segment.Config{
			FinalDebounce:      time.Duration(cfg.Room.FinalDebounceMs) * time.Millisecond,
			RetainedHards:      cfg.Room.PatchLRUPerRoom,
			MinSentencesForTTS: cfg.Room.MinSentencesForTTS,
		}.WithDefaults(),
		translatorClient,
		st,
		metrics,
		logger,
		func(roomID string, seg protocol.Segment) { hub.Broadcast(roomID, seg) },
		func(roomID string, seg protocol.Segment, lang string) { ttsMgr.Enqueue(roomID, seg, lang) },
	)
	logger.Info().Msg("segment processor initialized")

	hub = room.NewHub(cfg.Room, proc, metrics, logger,
		proc.CloseRoom,
		func(roomID string) { ttsMgr.CloseRoom(roomID) },
	)

	ttsMgr = tts.NewManager(cfg.TTS, ttsClient, metrics, logger, hub.ListenerCount, hub.BroadcastTTS)
	logger.Info().Msg("room hub and tts queue initialized")

	admission := segment.NewAdmission(cfg.Security.IngestRPS, cfg.Security.RoomMailboxDepth)

	jwtManager, err := auth.NewJWTManager(cfg.Security.JWTSecret)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize room access token manager")
	}

	// --- Ingest Surface ---
	server := ingest.New(*cfg, proc, admission, hub, jwtManager, health, metrics, logger)

	errCh := make(chan error, 1)
	go func() {
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("ingest server error: %w", err)
		}
	}()

	logger.Info().
		Str("host", cfg.Server.Host).
		Int("port", cfg.Server.Port).
		Msg("interpretcore core started")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		logger.Info().Str("signal", sig.String()).Msg("shutdown signal received")
	case err := <-errCh:
		logger.Error().Err(err).Msg("server error, initiating shutdown")
	}

	logger.Info().Dur("timeout", cfg.Server.ShutdownTimeout).Msg("starting graceful shutdown")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("ingest server shutdown error — some connections may not have drained")
	} else {
		logger.Info().Msg("ingest server drained and stopped")
	}

	logger.Info().Msg("interpretcore core shut down successfully")
}
