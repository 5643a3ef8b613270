package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/zrcvae/partnermatch/internal/app/migrate"
	httpx "github.com/zrcvae/partnermatch/internal/http"
	"github.com/zrcvae/partnermatch/internal/lock"
	"github.com/zrcvae/partnermatch/internal/repository/postgres"
	"github.com/zrcvae/partnermatch/internal/scheduler"
	"github.com/zrcvae/partnermatch/internal/service/auth"
	"github.com/zrcvae/partnermatch/internal/service/team"
	"github.com/zrcvae/partnermatch/internal/ws"
	"github.com/zrcvae/partnermatch/pkg/config"
	"github.com/zrcvae/partnermatch/pkg/logger"
)

func main() {
	cfg := config.LoadAPIConfig()
	log := logger.New("api", logger.ParseLevel(cfg.LogLevel))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}

	runner, err := migrate.New(pool, cfg.DatabaseURL, log)
	if err != nil {
		log.Error("failed to configure migrations", "error", err)
		os.Exit(1)
	}
	defer runner.Close()
	if err := runner.Ping(ctx); err != nil {
		log.Error("database ping failed", "error", err)
		os.Exit(1)
	}
	if err := runner.Ensure(ctx); err != nil {
		log.Error("migrations failed", "error", err)
		os.Exit(1)
	}

	repo := postgres.New(pool)
	health := map[string]httpx.HealthCheck{"database": repo.Ping}

	var (
		locker  lock.Locker
		limiter httpx.RateLimiter
	)
	if addr := strings.TrimSpace(cfg.RedisAddr); addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		defer client.Close()
		if err := client.Ping(ctx).Err(); err != nil {
			log.Error("redis ping failed", "addr", addr, "error", err)
			os.Exit(1)
		}
		locker = lock.NewRedisLocker(client, cfg.LockTTL, log)
		limiter = httpx.NewRedisRateLimiter(client, log)
		health["redis"] = func(ctx context.Context) error { return client.Ping(ctx).Err() }
		log.Info("redis coordination enabled", "addr", addr)
	} else {
		locker = lock.NewLocalLocker()
		limiter = httpx.NewMemoryRateLimiter()
		log.Warn("REDIS_ADDR not set; join lock and rate limits are local to this process")
	}
	locker = lock.Instrument(locker, lock.NewMetrics(prometheus.DefaultRegisterer))

	hub := ws.NewHub(log)
	defer hub.Close()

	authSvc := auth.New(repo, log, cfg.JWTSecret)
	teamSvc := team.New(repo, locker, authSvc, team.Limits{
		MaxOwnedTeams:       cfg.MaxOwnedTeams,
		MaxJoinedTeams:      cfg.MaxJoinedTeams,
		JoinLockName:        cfg.JoinLockName,
		SerializeMembership: cfg.SerializeMembership,
	}, log).
		WithEvents(hub).
		WithMetrics(team.NewMetrics(prometheus.DefaultRegisterer))
	limits := teamSvc.Limits()
	log.Info("team limits", "max_owned", limits.MaxOwnedTeams, "max_joined", limits.MaxJoinedTeams,
		"join_lock", limits.JoinLockName, "serialize_membership", limits.SerializeMembership)

	jobs, err := scheduler.NewManager(log)
	if err != nil {
		log.Error("failed to create scheduler", "error", err)
		os.Exit(1)
	}
	if err := jobs.Register(scheduler.NewTeamStatsJob(repo, cfg.StatsInterval, prometheus.DefaultRegisterer)); err != nil {
		log.Error("failed to register team stats job", "error", err)
		os.Exit(1)
	}
	jobs.Start()
	defer func() {
		if err := jobs.Shutdown(); err != nil {
			log.Warn("scheduler shutdown failed", "error", err)
		}
	}()

	router := httpx.NewRouter(log, authSvc, teamSvc, hub, limiter, httpx.Options{
		JoinRateLimit:  cfg.RateLimitJoin,
		JoinRateWindow: cfg.RateLimitWindow,
		Registerer:     prometheus.DefaultRegisterer,
		Gatherer:       prometheus.DefaultGatherer,
		HealthChecks:   health,
	})
	defer router.Close()

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errorCh := make(chan error, 1)
	go func() {
		log.Info("api server starting", "addr", cfg.Addr, "env", cfg.Environment)
		errorCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("graceful shutdown failed", "error", err)
		}
		log.Info("api server stopped")
	case err := <-errorCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}
}
