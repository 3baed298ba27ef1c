package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/kasuganosora/aiquest/answer"
	apirest "github.com/kasuganosora/aiquest/api/rest"
	"github.com/kasuganosora/aiquest/api/sse"
	"github.com/kasuganosora/aiquest/api/ws"
	"github.com/kasuganosora/aiquest/audit"
	"github.com/kasuganosora/aiquest/cache"
	"github.com/kasuganosora/aiquest/config"
	"github.com/kasuganosora/aiquest/llm"
	mw "github.com/kasuganosora/aiquest/middleware"
	"github.com/kasuganosora/aiquest/quest"
	"github.com/kasuganosora/aiquest/scheduler"
	"github.com/kasuganosora/aiquest/store"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const shutdownGrace = 10 * time.Second

func main() {
	cfgPath := "config/config.yaml"
	if len(os.Args) > 1 {
		cfgPath = os.Args[1]
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	// ---- Logger ----
	var logger *zap.Logger
	var logErr error
	if cfg.Server.Debug {
		logger, logErr = zap.NewDevelopment()
	} else {
		logger, logErr = zap.NewProduction()
	}
	if logErr != nil {
		log.Fatalf("logger: %v", logErr)
	}
	defer logger.Sync()

	if cfg.Server.AdminPassword == "" && cfg.Server.AdminKey == "" {
		logger.Warn("server.admin_password and server.admin_key are not set; admin endpoints are disabled")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ---- Storage ----
	st, err := store.Open(ctx, cfg.Storage, logger)
	if err != nil {
		logger.Fatal("storage", zap.Error(err))
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		if err := st.Close(closeCtx); err != nil {
			logger.Warn("storage close", zap.Error(err))
		}
	}()

	questSvc := quest.NewService(st, logger)

	// ---- Audit ----
	auditSvc := audit.New(st.SQL(), logger)
	defer auditSvc.Stop(context.Background())

	// ---- Cache / PubSub ----
	c, err := cache.NewCache(cfg.Cache)
	if err != nil {
		logger.Fatal("cache", zap.Error(err))
	}
	defer c.Close()
	pubsub, err := cache.NewPubSub(cfg.Cache)
	if err != nil {
		logger.Fatal("pubsub", zap.Error(err))
	}
	logger.Info("cache initialized", zap.Bool("redis", cfg.Cache.RedisAddr != ""))

	if cfg.Storage.SeedDir != "" {
		if err := importSeed(ctx, c, questSvc, cfg.Storage.SeedDir, logger); err != nil {
			logger.Fatal("quest seed", zap.String("dir", cfg.Storage.SeedDir), zap.Error(err))
		}
	}

	// ---- Language model ----
	provider, providerName, err := llm.NewProvider(ctx, cfg.AI, logger)
	if err != nil {
		logger.Fatal("ai provider", zap.Error(err))
	}
	if provider == nil {
		logger.Info("no AI provider configured; using exact-match validation and disabling guide chat")
	}

	// ---- Quest systems ----
	validator := answer.New(provider, cfg.AI.MaxTokens, logger)
	engine := quest.NewEngine(st, st, validator, pubsub, logger)
	guide := quest.NewGuide(st, provider, cfg.AI.MaxTokens, logger)

	// ---- Scheduler ----
	sched := scheduler.New(logger)
	defer sched.Stop()
	sched.AddTicker("quest_stats", 10*time.Minute, func(ctx context.Context) {
		all := questSvc.ListAdmin(ctx)
		active := 0
		for _, q := range all {
			if q.Active {
				active++
			}
		}
		logger.Info("quest stats",
			zap.String("storage", st.Name()),
			zap.Int("quests", len(all)),
			zap.Int("active", active))
	})

	// ---- Gin HTTP Server ----
	if !cfg.Server.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	secureCookie := strings.HasPrefix(cfg.Server.FrontendURL, "https://")
	r := gin.New()
	r.Use(mw.TraceID(), mw.Logger(logger), mw.Recovery(logger))
	r.Use(mw.CORS(cfg.Server.FrontendURL))
	r.Use(mw.RateLimit(rate.Limit(cfg.Security.RateLimitRPS), cfg.Security.RateLimitBurst))
	r.Use(mw.Session(cfg.Server.SessionSecret, cfg.Security.SessionTTL, secureCookie))

	sseH := sse.NewHandler(pubsub, logger)
	wsRouter := ws.NewRouter(logger)
	ws.RegisterQuestHandlers(wsRouter, engine, guide, auditSvc)
	var origins []string
	if cfg.Server.FrontendURL != "" {
		origins = []string{cfg.Server.FrontendURL}
	}
	wsH := ws.NewHandler(pubsub, wsRouter, origins, logger)
	apirest.Mount(r, apirest.Handlers{
		Health:   apirest.NewHealthHandler(st.Name(), providerName),
		Quest:    apirest.NewQuestHandler(questSvc, logger),
		Progress: apirest.NewProgressHandler(engine, auditSvc, logger),
		Chat:     apirest.NewChatHandler(guide, logger),
		Auth: apirest.NewAuthHandler(c, apirest.AuthConfig{
			Password:     cfg.Server.AdminPassword,
			Secret:       cfg.Server.SessionSecret,
			TTL:          cfg.Security.JWTTTL,
			SecureCookie: secureCookie,
		}, logger),
		Admin:  apirest.NewAdminHandler(st.SQL(), logger),
		Events: sseH.Events,
		Socket: wsH.ServeWS,
		AdminAuth: mw.AdminAuth(mw.AdminConfig{
			Key:         cfg.Server.AdminKey,
			Secret:      cfg.Server.SessionSecret,
			PasswordSet: cfg.Server.AdminPassword != "",
		}, c),
		AdminIPs: mw.IPWhitelist(cfg.Security.AdminIPs),
		// Each answer may cost a model call, so a session gets a fraction
		// of the per-IP budget.
		AnswerLimit: apirest.NewAnswerLimit(cfg.Security.RateLimitRPS/4, max(cfg.Security.RateLimitBurst/4, 1)),
	})

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("server listening",
			zap.String("addr", addr),
			zap.String("storage", st.Name()),
			zap.String("ai_provider", providerName))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("server shutdown", zap.Error(err))
	}
}

const seedLockKey = "seed_lock"

// importSeed runs the quest import on one replica at a time; the others skip it.
func importSeed(ctx context.Context, c cache.Cache, svc *quest.Service, dir string, logger *zap.Logger) error {
	host, _ := os.Hostname()
	ok, err := c.SetNX(ctx, seedLockKey, host, time.Minute)
	if err != nil {
		return fmt.Errorf("acquire seed lock: %w", err)
	}
	if !ok {
		logger.Info("quest seed skipped, another instance holds the lock")
		return nil
	}
	defer c.Del(context.Background(), seedLockKey)

	_, err = svc.Import(ctx, dir)
	return err
}
