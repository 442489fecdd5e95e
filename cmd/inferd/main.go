package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"inferd/internal/backend"
	"inferd/internal/broker"
	"inferd/internal/config"
	"inferd/internal/flow"
	"inferd/internal/governor"
	"inferd/internal/hardware"
	"inferd/internal/httpapi"
	"inferd/internal/plan"
	"inferd/internal/registry"
	"inferd/internal/settings"
)

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func main() {
	// Flags with environment variable defaults.
	addr := flag.String("addr", envOr("INFERD_ADDR", ":8090"), "HTTP listen address, e.g. :8090")
	configPath := flag.String("config", envOr("INFERD_CONFIG", ""), "Config file (.yaml, .json or .toml)")
	modelsDir := flag.String("models-dir", envOr("INFERD_MODELS_DIR", "~/models/gguf"), "Directory scanned for *.gguf model files")
	ollamaURL := flag.String("ollama-url", envOr("INFERD_OLLAMA_URL", "http://127.0.0.1:11434"), "Base URL of the local Ollama daemon")
	cloudBaseURL := flag.String("cloud-base-url", envOr("INFERD_CLOUD_BASE_URL", ""), "OpenAI-compatible cloud endpoint (empty disables the cloud backend)")
	cloudAPIKey := flag.String("cloud-api-key", envOr("INFERD_CLOUD_API_KEY", ""), "API key for the cloud endpoint")
	budgetMB := flag.Int64("budget-mb", 0, "Memory budget for loaded models in MB (0 = half of RAM)")
	logLevel := flag.String("log-level", envOr("INFERD_LOG_LEVEL", "info"), "Log level: trace, debug, info, warn, error")
	logFormat := flag.String("log-format", envOr("INFERD_LOG_FORMAT", "console"), "Log format: console or json")
	flag.Parse()

	var cfg config.Config
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			log.Fatal().Err(err).Str("path", *configPath).Msg("load config")
		}
		cfg = loaded
	}
	// Flags override file values only when the file left them unset.
	if cfg.Addr == "" {
		cfg.Addr = *addr
	}
	if cfg.ModelsDir == "" {
		cfg.ModelsDir = *modelsDir
	}
	if cfg.OllamaURL == "" {
		cfg.OllamaURL = *ollamaURL
	}
	if cfg.CloudBaseURL == "" {
		cfg.CloudBaseURL = *cloudBaseURL
	}
	if cfg.CloudAPIKey == "" {
		cfg.CloudAPIKey = *cloudAPIKey
	}
	if cfg.BudgetBytes == 0 && *budgetMB > 0 {
		cfg.BudgetBytes = *budgetMB << 20
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = *logLevel
	}
	if cfg.LogFormat == "" {
		cfg.LogFormat = *logFormat
	}
	if cfg.SettingsPath == "" {
		cfg.SettingsPath = envOr("INFERD_SETTINGS", "~/.config/inferd/settings.json")
	}
	if cfg.IdleUnloadMinutes == 0 {
		cfg.IdleUnloadMinutes = 30
	}

	logger := setupLogger(cfg.LogLevel, cfg.LogFormat)
	log.Logger = logger
	httpapi.SetLogger(logger)

	store, err := settings.Open(cfg.SettingsPath)
	if err != nil {
		logger.Fatal().Err(err).Str("path", cfg.SettingsPath).Msg("open settings")
	}

	reg := registry.New()
	for _, cm := range store.CustomModels() {
		reg.Add(registry.DescriptorForCustom(cm))
	}

	profiler := hardware.NewProfiler()
	snap := profiler.Detect(context.Background(), true)
	logger.Info().
		Str("tier", snap.Tier.String()).
		Int64("ram_bytes", snap.TotalRAMBytes).
		Int64("vram_bytes", snap.VRAMBytes).
		Str("gpu", snap.GPUName).
		Msg("hardware detected")

	budget := cfg.BudgetBytes
	if budget == 0 {
		if cfg.BudgetFraction > 0 {
			budget = int64(float64(snap.TotalRAMBytes) * cfg.BudgetFraction)
		} else {
			budget = governor.DefaultBudget(snap.TotalRAMBytes)
		}
	}
	gov := governor.New(budget)
	logger.Info().Int64("budget_bytes", budget).Msg("memory governor configured")

	adapters := []backend.Adapter{
		backend.NewBuiltinAdapter(cfg.ModelsDir, reg, 0, 0),
		backend.NewOllamaAdapter(cfg.OllamaURL, reg),
		backend.NewCloudAdapter(cfg.CloudBaseURL, cfg.CloudAPIKey, reg),
	}

	brk := broker.New(adapters, gov, profiler, reg, store)
	status := brk.RefreshStatus(context.Background())
	for _, p := range status.Providers {
		ev := logger.Info().Str("backend", string(p.Kind)).Bool("available", p.Available)
		if p.Error != "" {
			ev = ev.Str("error", p.Error)
		}
		ev.Int("models", len(p.Models)).Msg("provider probed")
	}
	brk.StartReclaimLoop(time.Minute, time.Duration(cfg.IdleUnloadMinutes)*time.Minute)

	mux := httpapi.NewMux(httpapi.Deps{
		Service:  brk,
		Runner:   flow.NewRunner(brk),
		Planner:  plan.NewBuilder(),
		Stats:    governor.NewStatsSampler(),
		Settings: store,
		Registry: reg,
	})
	srv := &http.Server{Addr: cfg.Addr, Handler: mux}

	// Let in-flight streams outlive the request sockets during shutdown.
	baseCtx, cancelBase := context.WithCancel(context.Background())
	httpapi.SetBaseContext(baseCtx)

	go func() {
		logger.Info().Str("addr", cfg.Addr).Str("models_dir", cfg.ModelsDir).Msg("inferd listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	logger.Info().Msg("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Warn().Err(err).Msg("graceful shutdown")
	}
	cancelBase()
	brk.Close()
}

func setupLogger(level, format string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	var logger zerolog.Logger
	if format == "json" {
		logger = zerolog.New(os.Stderr)
	} else {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	}
	return logger.Level(lvl).With().Timestamp().Logger()
}
