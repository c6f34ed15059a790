// Command warmbot runs a comment bot that finds people having a rough night
// on a video platform and leaves them a kind word, then tends the resulting
// conversations until they end.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"warmbot/pkg/analyzer"
	"warmbot/pkg/config"
	"warmbot/pkg/conversation"
	"warmbot/pkg/logx"
	"warmbot/pkg/metrics"
	"warmbot/pkg/platform"
	"warmbot/pkg/resilience/circuit"
	"warmbot/pkg/resilience/protect"
	"warmbot/pkg/scanner"
	"warmbot/pkg/store"
)

func main() {
	os.Exit(run())
}

//nolint:funlen // linear wiring of the application
func run() int {
	configPath := flag.String("config", "config.yaml", "path to the YAML config file")
	debug := flag.Bool("debug", false, "enable debug logging")
	once := flag.Bool("once", false, "run a single scan cycle and exit")
	flag.Parse()

	if *debug {
		logx.SetDebug(true)
	}
	logger := logx.NewLogger("main")

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load config: %v", err)
		return 1
	}
	if cfg.Platform.Cookie == "" {
		logger.Error("%s is not set", config.EnvPlatformCookie)
		return 1
	}
	if cfg.AI.APIKey == "" {
		logger.Error("%s is not set", config.EnvAIKey)
		return 1
	}
	botUserID := platform.UserIDFromCookie(cfg.Platform.Cookie)
	if botUserID == "" {
		logger.Error("cookie carries no DedeUserID; is the account logged in?")
		return 1
	}

	st, err := store.Open(cfg.Store.DBPath)
	if err != nil {
		logger.Error("failed to open store: %v", err)
		return 1
	}
	defer func() {
		if cerr := st.Close(); cerr != nil {
			logger.Error("failed to close store: %v", cerr)
		}
	}()

	registry := protect.NewRegistry(cfg.Resilience)

	var recorder metrics.Recorder = metrics.NewNoopRecorder()
	var metricsSrv *http.Server
	if cfg.Metrics.Enabled {
		recorder = metrics.NewPrometheusRecorder()
		metricsSrv = startMetricsServer(cfg.Metrics.ListenAddr, registry, logger)
	}
	registry.Observe(recorder, func(name string, from, to circuit.State) {
		logger.Warn("breaker %s: %s -> %s", name, from, to)
		recorder.IncBreakerTransition(name, to.String())
	})

	client := platform.NewClient(cfg.Platform.Cookie)
	judge := analyzer.New(analyzer.Config{
		APIKey:         cfg.AI.APIKey,
		BaseURL:        cfg.AI.BaseURL,
		Model:          cfg.AI.Model,
		ScoreThreshold: cfg.AI.ScoreThreshold,
		CacheTTL:       cfg.AI.CacheTTL,
		CacheSize:      cfg.AI.CacheSize,
	})

	checker := conversation.NewChecker(st, client, judge, registry,
		conversation.NewEmergencyLog(cfg.Scanner.EmergencyLogPath), recorder,
		conversation.Config{
			BotUserID:           botUserID,
			MaxChecks:           cfg.Conversation.MaxChecks,
			BackoffBase:         cfg.Conversation.BackoffBase,
			MaxCheckInterval:    cfg.Conversation.MaxCheckInterval,
			FirstCheckDelay:     cfg.Conversation.FirstCheckDelay,
			Retention:           cfg.Conversation.Retention,
			PausedCheckInterval: cfg.Conversation.Paused.CheckInterval,
			PausedMaxChecks:     cfg.Conversation.Paused.MaxChecks,
		})

	extractor := platform.NewContentExtractor(client, registry.Platform())

	sc := scanner.New(st, client, checker, extractor, registry, recorder, scanner.Config{
		Keywords: cfg.Platform.Keywords,
		Priority: [][]string{
			cfg.Platform.ScenePriority.High,
			cfg.Platform.ScenePriority.Medium,
			cfg.Platform.ScenePriority.Low,
		},
		BotUserID:          botUserID,
		MaxVideosPerScan:   cfg.Scanner.MaxVideosPerScan,
		MaxRepliesPerVideo: cfg.Scanner.MaxRepliesPerVideo,
		TimeRangeDays:      cfg.Scanner.TimeRangeDays,
		InterItemDelay:     cfg.Scanner.InterItemDelay,
		CommentsPerVideo:   cfg.Platform.CommentsContextCount,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("warmbot starting (account %s, scan every %s)", botUserID, cfg.Scanner.ScanInterval)
	code := loop(ctx, sc, cfg.Scanner.ScanInterval, *once, logger)

	if metricsSrv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
			logger.Error("metrics server shutdown: %v", err)
		}
	}
	logger.Info("warmbot stopped")
	return code
}

// loop runs scan cycles until the context is cancelled.
func loop(ctx context.Context, sc *scanner.Scanner, interval time.Duration, once bool, logger *logx.Logger) int {
	if _, err := sc.Cycle(ctx); err != nil && ctx.Err() == nil {
		logger.Error("cycle failed: %v", err)
	}
	if once {
		return 0
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return 0
		case <-ticker.C:
			if _, err := sc.Cycle(ctx); err != nil && ctx.Err() == nil {
				logger.Error("cycle failed: %v", err)
			}
		}
	}
}

// startMetricsServer serves /metrics and a /healthz snapshot of the breakers.
func startMetricsServer(addr string, registry *protect.Registry, logger *logx.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		type depHealth struct {
			Dependency string  `json:"dependency"`
			Breaker    string  `json:"breaker"`
			Tokens     float64 `json:"tokens"`
		}
		health := struct {
			Status       string      `json:"status"`
			Dependencies []depHealth `json:"dependencies"`
		}{Status: "ok"}
		for _, inv := range registry.Invokers() {
			health.Dependencies = append(health.Dependencies, depHealth{
				Dependency: inv.Name(),
				Breaker:    inv.BreakerState().String(),
				Tokens:     inv.LimiterStats().Tokens,
			})
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(health)
	})

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server: %v", err)
		}
	}()
	logger.Info("metrics listening on %s", addr)
	return srv
}
