package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	stdlog "log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/facebookgo/clock"
	"github.com/gorilla/mux"
	"github.com/medprep/backend/internal/cache"
	"github.com/medprep/backend/internal/config"
	"github.com/medprep/backend/internal/database"
	"github.com/medprep/backend/internal/logger"
	"github.com/medprep/backend/internal/middleware"
	"github.com/medprep/backend/internal/models"
	"github.com/medprep/backend/internal/questions"
	"github.com/medprep/backend/internal/resilience"
	"github.com/medprep/backend/internal/session"
	"github.com/medprep/backend/internal/syncqueue"
	"github.com/rs/cors"
)

func main() {
	cfg := config.Load()

	log, err := logger.New(cfg.Env)
	if err != nil {
		stdlog.Fatalf("Failed to initialize logger: %v", err)
	}
	defer log.Sync()

	// Initialize database
	db, err := database.Connect(cfg.DatabaseURL)
	if err != nil {
		log.Fatal("failed to connect to database", "error", err)
	}
	defer db.Close()

	if err := database.Migrate(db); err != nil {
		log.Fatal("failed to run migrations", "error", err)
	}

	clk := clock.New()

	// Cache: redis when reachable, in-memory otherwise. The question delivery
	// path treats the cache as best-effort either way.
	var cacheStore cache.Store
	if redisStore, err := cache.NewRedis(cfg.RedisURL, clk); err != nil {
		log.Warn("redis unavailable, falling back to in-memory cache", "error", err)
		cacheStore = cache.NewMemory(clk)
	} else {
		cacheStore = redisStore
	}

	exec := resilience.NewExecutor(clk, log, resilience.BreakerConfig{
		FailureThreshold: cfg.BreakerFailureThreshold,
		Cooldown:         cfg.BreakerCooldown,
	})

	questionStore := questions.NewStore(db)
	sampler := questions.NewSampler(questionStore, exec, log)
	sessionStore := session.NewStore(db)

	queue := syncqueue.New(exec, clk, log, syncqueue.Config{
		BatchSize:     cfg.QueueBatchSize,
		MaxRetries:    cfg.QueueMaxRetries,
		RetrySpacing:  cfg.QueueRetrySpacing,
		DrainInterval: cfg.QueueDrainInterval,
	})
	registerSyncHandlers(queue, sessionStore, cacheStore, cfg.CacheFreshness)
	queue.Start()

	maintainer := syncqueue.NewMaintainer(cacheStore, clk, log,
		cfg.CacheCapacity, cfg.CacheEvictionPercent, cfg.QueueDrainInterval)
	maintainer.Start()

	manager := session.NewManager(session.EngineDeps{
		Clock:   clk,
		Exec:    exec,
		Log:     log,
		Store:   sessionStore,
		History: questionStore,
		Sampler: sampler,
		Queue:   queue,
	})
	sessionHandler := session.NewHandler(manager, sessionStore)

	// Setup router
	r := mux.NewRouter()
	api := r.PathPrefix("/api/v1").Subrouter()

	jwtAuth := middleware.NewJWTAuth(cfg.JWTSecret)
	protected := api.PathPrefix("").Subrouter()
	protected.Use(jwtAuth.Middleware)
	sessionHandler.Register(protected)

	// Health check
	r.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	}).Methods("GET")

	// CORS
	c := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		AllowCredentials: true,
	})

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: c.Handler(r),
	}

	go func() {
		log.Info("server starting", "port", cfg.Port, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("server failed", "error", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	log.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error("server shutdown failed", "error", err)
	}
	manager.Stop()
	queue.Stop()
	maintainer.Stop()
}

// registerSyncHandlers binds the deferred operations the engines enqueue to
// their storage effects.
func registerSyncHandlers(q *syncqueue.Queue, sessions *session.Store, store cache.Store, freshness time.Duration) {
	q.RegisterHandler(models.OpCacheQuestionSet, func(ctx context.Context, payload json.RawMessage) error {
		var p struct {
			CategoryID string          `json:"category_id"`
			Difficulty string          `json:"difficulty"`
			Questions  json.RawMessage `json:"questions"`
		}
		if err := json.Unmarshal(payload, &p); err != nil {
			return fmt.Errorf("decode cache_question_set payload: %w", err)
		}
		return store.Set(ctx, cache.QuestionSetKey(p.CategoryID, p.Difficulty), p.Questions, freshness)
	})

	q.RegisterHandler(models.OpEvictCache, func(ctx context.Context, payload json.RawMessage) error {
		var p struct {
			UserID int64 `json:"user_id"`
		}
		if err := json.Unmarshal(payload, &p); err != nil {
			return fmt.Errorf("decode evict_cache payload: %w", err)
		}
		return store.Evict(ctx, cache.UserStatsKey(p.UserID))
	})

	// Progress payloads come in three shapes: a session patch, a single
	// response, or a completion summary. Dispatch on the fields present.
	q.RegisterHandler(models.OpSyncProgress, func(ctx context.Context, payload json.RawMessage) error {
		var probe struct {
			SessionID     string               `json:"session_id"`
			Patch         *models.SessionPatch `json:"patch"`
			ResponseOrder int                  `json:"response_order"`
		}
		if err := json.Unmarshal(payload, &probe); err != nil {
			return fmt.Errorf("decode sync_progress payload: %w", err)
		}
		switch {
		case probe.Patch != nil:
			return sessions.UpdateSession(ctx, probe.SessionID, *probe.Patch)
		case probe.ResponseOrder > 0:
			var resp models.Response
			if err := json.Unmarshal(payload, &resp); err != nil {
				return fmt.Errorf("decode deferred response: %w", err)
			}
			return sessions.RecordResponse(ctx, &resp)
		default:
			var sum models.SessionSummary
			if err := json.Unmarshal(payload, &sum); err != nil {
				return fmt.Errorf("decode deferred summary: %w", err)
			}
			return sessions.CompleteSession(ctx, sum.SessionID, sum)
		}
	})
}
