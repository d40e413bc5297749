package main

import (
	"context"
	"embed"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	client "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/listen"
	"github.com/joho/godotenv"
	"github.com/spf13/afero"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/sjawhar/ghost-puppet/internal/assistant"
	"github.com/sjawhar/ghost-puppet/internal/audio"
	"github.com/sjawhar/ghost-puppet/internal/command"
	"github.com/sjawhar/ghost-puppet/internal/config"
	"github.com/sjawhar/ghost-puppet/internal/gdrive"
	"github.com/sjawhar/ghost-puppet/internal/llm"
	"github.com/sjawhar/ghost-puppet/internal/recognition/deepgram"
	"github.com/sjawhar/ghost-puppet/internal/scene"
	"github.com/sjawhar/ghost-puppet/internal/server"
	"github.com/sjawhar/ghost-puppet/internal/storage"
	"github.com/sjawhar/ghost-puppet/internal/voice"
)

//go:embed static/*
var staticFiles embed.FS

func main() {
	_ = godotenv.Load()

	cfgPath := os.Getenv(config.EnvPrefix + "CONFIG")
	if cfgPath == "" {
		cfgPath = "config.yaml"
	}
	cfg, warnings, err := config.Load(cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ghost-puppet: load config: %v\n", err)
		os.Exit(1)
	}

	logger := newLogger(cfg)
	slog.SetDefault(logger)
	for _, w := range warnings {
		logger.Warn(w)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, warnings, logger); err != nil {
		logger.Error("ghost-puppet: fatal", "error", err)
		os.Exit(1)
	}
	logger.Info("ghost-puppet: shut down")
}

func newLogger(cfg config.Config) *slog.Logger {
	var out io.Writer = os.Stderr
	if cfg.LogFile != "" {
		out = io.MultiWriter(os.Stderr, &lumberjack.Logger{
			Filename:   cfg.LogFile,
			MaxSize:    10,
			MaxBackups: 3,
			MaxAge:     28,
		})
	}
	return slog.New(slog.NewTextHandler(out, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
}

func run(ctx context.Context, cfg config.Config, warnings []string, logger *slog.Logger) error {
	store, err := storage.NewSQLiteStore(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("storage init: %w", err)
	}
	defer func() { _ = store.Close() }()

	writer := storage.NewWriter(afero.NewOsFs(), cfg.TranscriptDir)

	if err := audio.Initialize(); err != nil {
		logger.Warn("audio unavailable", "error", err)
	} else {
		defer func() { _ = audio.Terminate() }()
	}
	client.Init(client.InitLib{LogLevel: client.LogLevelDefault})

	platform := deepgram.New(deepgram.Options{
		APIKey:      cfg.DeepgramAPIKey,
		Model:       cfg.DeepgramModel,
		SampleRates: cfg.SampleRateCandidates(),
		Logger:      logger.With("component", "deepgram"),
	})

	hub := server.NewHub()
	panel := server.NewPanel(hub)
	character := scene.NewCharacter(hub, nil)

	table, err := cfg.CommandTable()
	if err != nil {
		return fmt.Errorf("command table: %w", err)
	}

	var responder *assistant.Responder
	if key := cfg.AssistantKey(); key != "" {
		llmClient, err := llm.FromModel(cfg.AssistantModel, cfg.LLMKeys())
		if err != nil {
			logger.Warn("assistant disabled", "error", err)
		} else {
			responder = assistant.New(llmClient, assistant.Options{
				RequestsPerMinute: cfg.AssistantRequests,
				Logger:            logger.With("component", "assistant"),
			})
		}
	}

	var onUnmatched func(string)
	if cfg.ReplyUnmatched && responder != nil {
		onUnmatched = func(text string) {
			go func() {
				if reply, ok := responder.Ask(ctx, text); ok {
					hub.BroadcastAssistantReply(text, reply)
				}
			}()
		}
	}

	onCommand := func(ev command.Event) {
		anim := character.Play(ev)
		hub.BroadcastCommand(ev)
		logger.Info("command", "command", ev.Command, "animation", anim.Name)
	}

	controller := voice.Initialize(panel, platform, onCommand, voice.Options{
		Language:     cfg.Language,
		Table:        table,
		RevertDelay:  cfg.ParsedRevertDelay(),
		RestartDelay: cfg.ParsedRestartDelay(),
		MaxRestarts:  cfg.MaxRestarts,
		Store:        store,
		Log:          writer,
		Logger:       logger.With("component", "voice"),
		OnUnmatched:  onUnmatched,
	})
	defer controller.Close()
	if err := controller.Err(); err != nil {
		logger.Warn("voice commands unavailable", "error", err)
	}

	if cfg.GDriveFolderID != "" {
		syncer, err := gdrive.NewSyncer(ctx, cfg.GoogleCredentialsFile, cfg.GDriveFolderID, writer, logger.With("component", "gdrive"))
		if err != nil {
			logger.Warn("gdrive sync disabled", "error", err)
		} else {
			go syncer.Run(ctx, cfg.ParsedSyncInterval())
		}
	}

	static, err := fs.Sub(staticFiles, "static")
	if err != nil {
		return fmt.Errorf("static assets: %w", err)
	}
	assets := server.Assets{Static: static}
	if info, err := os.Stat(cfg.ModelsDir); err == nil && info.IsDir() {
		assets.Models = os.DirFS(cfg.ModelsDir)
	} else {
		logger.Warn("models directory not found; the page will show the placeholder", "dir", cfg.ModelsDir)
	}

	controls := server.Controls{
		Voice:     controller,
		Character: character,
		Layout:    cfg.Scene,
		Warnings:  func() []string { return warnings },
	}
	if responder != nil {
		controls.Asker = responder
	}

	handler, err := server.Handler(assets, hub, panel, store, controls)
	if err != nil {
		return fmt.Errorf("build http handler: %w", err)
	}

	return server.Serve(ctx, cfg.HTTPAddr, handler)
}
