package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/adaptor"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/divol89/prompt-shield-solana/pkg/audit"
	"github.com/divol89/prompt-shield-solana/pkg/cache"
	"github.com/divol89/prompt-shield-solana/pkg/config"
	"github.com/divol89/prompt-shield-solana/pkg/fusion"
	"github.com/divol89/prompt-shield-solana/pkg/patterns"
	"github.com/divol89/prompt-shield-solana/pkg/semantic"
	"github.com/divol89/prompt-shield-solana/pkg/session"
	"github.com/divol89/prompt-shield-solana/pkg/shield"
	"github.com/divol89/prompt-shield-solana/pkg/telemetry"
)

const Version = "0.1.0"

func main() {
	_ = godotenv.Load()

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "serve":
		runServer()
	case "scan":
		if len(os.Args) < 3 {
			fmt.Fprintln(os.Stderr, "scan requires text to scan")
			os.Exit(1)
		}
		runScanOnce(os.Args[2])
	case "version":
		fmt.Printf("shield v%s\n", Version)
	default:
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Printf("shield v%s - prompt injection detection engine\n\n", Version)
	fmt.Println("Usage:")
	fmt.Println("  shield serve           Start the HTTP server")
	fmt.Println("  shield scan <text>     Scan one input and print the verdict")
	fmt.Println("  shield version         Show version")
	fmt.Println("")
	fmt.Println("Configuration is read from SHIELD_* environment variables")
	fmt.Println("(and .env when present). See pkg/config for the full list.")
}

// buildScanner assembles the engine from configuration. Catalogue
// failures are fatal: the engine must never run with partial rules.
func buildScanner(cfg *config.Config, logger *zap.Logger, metrics *telemetry.Metrics) (*shield.Scanner, func(), error) {
	rules, err := loadRules(cfg)
	if err != nil {
		return nil, nil, err
	}
	matcher := patterns.NewMatcher(rules)
	logger.Info("rule catalogue loaded", zap.Int("rules", len(rules)))

	var detector shield.SemanticDetector
	var embedder *semantic.LocalEmbedder
	if cfg.EnableSemantics {
		exemplars, err := loadExemplars(cfg)
		if err != nil {
			return nil, nil, err
		}
		embedder = semantic.NewLocalEmbedder(semantic.LocalEmbedderConfig{
			ModelPath:       cfg.ModelPath,
			ModelName:       cfg.ModelName,
			ModelsDir:       cfg.ModelsDir,
			OnnxLibraryPath: cfg.OnnxLibraryPath,
		})
		d, err := semantic.NewDetector(embedder, exemplars)
		if err != nil {
			return nil, nil, err
		}
		detector = d
		logger.Info("semantic layer enabled", zap.Int("exemplars", d.ExemplarCount()))
	} else {
		logger.Info("semantic layer disabled")
	}

	tracker := session.NewTracker(
		session.WithWindowSize(cfg.SessionWindowSize),
		session.WithDripThreshold(cfg.DripThreshold),
		session.WithMaxAge(cfg.SessionTTL),
		session.WithMaxSessions(cfg.MaxSessions),
	)

	store, err := buildCache(cfg, logger)
	if err != nil {
		tracker.Close()
		return nil, nil, err
	}

	sink, err := buildAudit(cfg, logger)
	if err != nil {
		tracker.Close()
		_ = store.Close()
		return nil, nil, err
	}

	scanner, err := shield.NewScanner(shield.Options{
		Matcher:        matcher,
		Semantic:       detector,
		Tracker:        tracker,
		Cache:          store,
		Fusion:         fusion.Config{BehavioralThreshold: cfg.BehavioralThreshold},
		SemanticBudget: cfg.SemanticBudget,
		CacheTTL:       cfg.CacheTTL,
		Audit:          sink,
		Metrics:        metrics,
		Logger:         logger,
	})
	if err != nil {
		tracker.Close()
		_ = store.Close()
		return nil, nil, err
	}

	cleanup := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		tracker.Close()
		_ = store.Close()
		_ = sink.Close(ctx)
		if embedder != nil {
			_ = embedder.Close()
		}
	}
	return scanner, cleanup, nil
}

func loadRules(cfg *config.Config) ([]patterns.DetectionRule, error) {
	if cfg.RulesDir != "" {
		return patterns.LoadCatalogue(cfg.RulesDir)
	}
	return patterns.BuiltinCatalogue()
}

func loadExemplars(cfg *config.Config) ([]semantic.AttackExemplar, error) {
	if cfg.ExemplarsDir != "" {
		return semantic.LoadExemplars(cfg.ExemplarsDir)
	}
	return semantic.BuiltinExemplars()
}

func buildCache(cfg *config.Config, logger *zap.Logger) (cache.Store, error) {
	switch cfg.CacheBackend {
	case config.CacheRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := client.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("redis cache backend unreachable: %w", err)
		}
		logger.Info("redis cache backend connected", zap.String("addr", cfg.RedisAddr))
		return cache.NewRedisStore(client, cfg.CachePrefix, logger), nil
	default:
		return cache.NewMemoryStore(cache.WithCapacity(cfg.CacheCapacity)), nil
	}
}

func buildAudit(cfg *config.Config, logger *zap.Logger) (audit.Sink, error) {
	if cfg.AuditLogPath == "" {
		return audit.NopSink{}, nil
	}
	file, err := audit.NewFileSink(cfg.AuditLogPath)
	if err != nil {
		return nil, err
	}
	return audit.NewAsyncEmitter(file, cfg.AuditWorkers, logger), nil
}

func newLogger() *zap.Logger {
	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("logger init failed: %v", err)
	}
	return logger
}

func runServer() {
	cfg := config.NewDefaultConfig()
	cfg.MustValidate()

	logger := newLogger()
	defer func() { _ = logger.Sync() }()

	var metrics *telemetry.Metrics
	if cfg.EnableMetrics {
		metrics = telemetry.NewMetrics(nil)
	}

	scanner, cleanup, err := buildScanner(cfg, logger, metrics)
	if err != nil {
		if errors.Is(err, shield.ErrCatalogueLoad) {
			logger.Fatal("catalogue rejected, fix the rule and exemplar files before serving", zap.Error(err))
		}
		logger.Fatal("engine startup failed", zap.Error(err))
	}
	defer cleanup()

	app := fiber.New(fiber.Config{
		AppName: "shield v" + Version,
	})

	app.Get("/health", func(c fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok", "version": Version})
	})

	if cfg.EnableMetrics {
		app.Get("/metrics", adaptor.HTTPHandler(telemetry.Handler(nil)))
	}

	app.Post("/scan", func(c fiber.Ctx) error {
		var req struct {
			Text      string `json:"text"`
			Context   string `json:"context"`
			SessionID string `json:"session_id"`
		}
		if err := c.Bind().Body(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
		}
		if req.SessionID == "" {
			req.SessionID = uuid.NewString()
		}

		verdict := scanner.ScanRequest(c.Context(), shield.Request{
			Text:      req.Text,
			Context:   req.Context,
			SessionID: req.SessionID,
			Endpoint:  "/scan",
			Method:    fiber.MethodPost,
		})
		return c.JSON(fiber.Map{
			"session_id": req.SessionID,
			"verdict":    verdict,
		})
	})

	logger.Info("shield listening",
		zap.String("addr", cfg.ListenAddr),
		zap.Bool("metrics", cfg.EnableMetrics),
	)
	if err := app.Listen(cfg.ListenAddr); err != nil {
		logger.Fatal("server stopped", zap.Error(err))
	}
}

func runScanOnce(text string) {
	cfg := config.NewDefaultConfig()
	cfg.MustValidate()

	logger := zap.NewNop()
	scanner, cleanup, err := buildScanner(cfg, logger, nil)
	if err != nil {
		log.Fatalf("engine startup failed: %v", err)
	}
	defer cleanup()

	verdict := scanner.Scan(context.Background(), text, patterns.ContextAll, "")
	out, err := json.MarshalIndent(verdict, "", "  ")
	if err != nil {
		log.Fatalf("encode verdict: %v", err)
	}
	fmt.Println(string(out))

	if !verdict.Safe {
		os.Exit(2)
	}
}
