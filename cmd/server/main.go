package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/papergains/trade-engine/internal/config"
	"github.com/papergains/trade-engine/internal/events"
	"github.com/papergains/trade-engine/internal/metrics"
	"github.com/papergains/trade-engine/internal/portfolio"
	"github.com/papergains/trade-engine/internal/store"
	"github.com/papergains/trade-engine/internal/throttle"
	"github.com/papergains/trade-engine/internal/trade"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg := config.Load()

	// --- Initialize store ---
	var st store.Store
	var cleanup []func()

	if cfg.DatabaseURL != "" {
		pool, err := pgxpool.New(context.Background(), cfg.DatabaseURL)
		if err != nil {
			slog.Error("database connection failed", "err", err)
			os.Exit(1)
		}
		cleanup = append(cleanup, pool.Close)
		st = store.NewPostgresStore(pool)
		slog.Info("connected to PostgreSQL")

		// Wrap with Redis read-through cache if configured.
		if cfg.RedisURL != "" {
			opt, err := redis.ParseURL(cfg.RedisURL)
			if err != nil {
				slog.Error("invalid REDIS_URL", "err", err)
				os.Exit(1)
			}
			rdb := redis.NewClient(opt)
			cleanup = append(cleanup, func() { rdb.Close() })
			st = store.NewCachedStore(st, rdb, cfg.CacheTTL)
			slog.Info("Redis cache enabled")
		}
	} else {
		slog.Warn("DATABASE_URL not set, using in-memory store (data will not persist)")
		st = store.NewMemoryStore()
	}

	defer func() {
		for _, fn := range cleanup {
			fn()
		}
	}()

	// --- Throttle guard ---
	guard := throttle.NewGuard(throttle.Config{
		Cooldown:           cfg.Throttle.Cooldown,
		MaxTradesPerWindow: cfg.Throttle.MaxTradesPerWindow,
		FrequencyWindow:    cfg.Throttle.FrequencyWindow,
		MaxConcentration:   cfg.Throttle.MaxConcentration,
		DailyLossLimit:     cfg.Throttle.DailyLossLimit,
		DailyLossPct:       cfg.Throttle.DailyLossPct,
	}, nil)

	// Rebuild throttle windows from the transaction log so cooldowns and
	// the daily-loss breaker survive restarts.
	if recent, err := st.ListRecentTransactions(context.Background(), time.Now().Add(-24*time.Hour)); err != nil {
		slog.Warn("throttle window rebuild failed", "err", err)
	} else if len(recent) > 0 {
		guard.Preload(recent)
		slog.Info("throttle windows rebuilt", "transactions", len(recent))
	}

	// --- Event sinks ---
	hub := events.NewHub()
	go hub.Run()

	sinks := events.MultiSink{hub}
	if len(cfg.KafkaBrokers) > 0 {
		kafkaSink := events.NewKafkaSink(cfg.KafkaBrokers, cfg.KafkaTopic)
		cleanup = append(cleanup, func() { kafkaSink.Close() })
		sinks = append(sinks, kafkaSink)
		slog.Info("Kafka event sink enabled", "brokers", cfg.KafkaBrokers, "topic", cfg.KafkaTopic)
	}

	// --- Trade executor + HTTP service ---
	resolver := portfolio.NewResolver(st)
	executor := trade.NewExecutor(st, resolver, guard, sinks, nil)
	svc := trade.NewService(st, executor, cfg.StartingCash)

	// --- HTTP router ---
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(metrics.Middleware)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","service":"trade-engine"}`))
	})

	// Prometheus metrics endpoint.
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		// WebSocket endpoint for the live activity feed.
		r.Get("/ws", hub.HandleWS)

		// Accounts and contexts.
		r.Post("/users", svc.RegisterUser)
		r.Post("/leagues", svc.CreateLeague)
		r.Post("/leagues/{leagueID}/join", svc.JoinLeague)
		r.Post("/leagues/{leagueID}/end", svc.EndLeague)

		// Trade execution.
		r.Post("/trade", svc.ExecuteTrade)

		// Portfolio and history queries.
		r.Get("/portfolio/{userID}", svc.GetPortfolio)
		r.Get("/accounts/{accountID}/transactions", svc.GetTransactions)
	})

	// --- Server ---
	srv := &http.Server{
		Addr:         cfg.Addr,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("trade-engine listening", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	slog.Info("shutting down trade-engine...")
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	fmt.Println("trade-engine stopped")
}
