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

	"tle_zone_judge/internal/api"
	"tle_zone_judge/internal/app/format"
	"tle_zone_judge/internal/app/scoring"
	"tle_zone_judge/internal/app/service"
	"tle_zone_judge/internal/app/worker"
	"tle_zone_judge/internal/common/security"
	"tle_zone_judge/internal/domain/repository"
	"tle_zone_judge/internal/platform/alert"
	"tle_zone_judge/internal/platform/config"
	"tle_zone_judge/internal/platform/database"
	"tle_zone_judge/internal/platform/logger"
	"tle_zone_judge/internal/platform/queue"
)

func main() {
	// 1. Load Configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	logger.SetLogDir(cfg.LogDir)
	log := logger.NewNamedLogger("main")
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Initialize JWT
	security.InitJWT(cfg.JWTKey, cfg.JWTExp)

	// 3. Contest formats; a broken registry is a programming error
	formats, err := format.NewRegistry()
	if err != nil {
		log.Fatalw("failed to build contest format registry", "error", err)
	}

	// 4. Initialize Database
	db, err := database.Connect(ctx, cfg.DBConnStr, logger.NewNamedLogger("database"))
	if err != nil {
		log.Fatalw("failed to connect to database", "error", err)
	}
	defer db.Close()
	if err := database.ApplyMigrations(ctx, db, cfg.MigrationsDir); err != nil {
		log.Fatalw("failed to apply migrations", "dir", cfg.MigrationsDir, "error", err)
	}

	// 5. Initialize Redis
	rdb, err := queue.ConnectRedis(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, logger.NewNamedLogger("redis"))
	if err != nil {
		log.Fatalw("failed to connect to redis", "error", err)
	}
	defer rdb.Close()

	// 6. Initialize Repositories
	userRepo := repository.NewPgUserRepository(db)
	judgeRepo := repository.NewPgJudgeRepository(db)
	problemRepo := repository.NewPgProblemRepository(db)
	submissionRepo := repository.NewPgSubmissionRepository(db)
	contestRepo := repository.NewPgContestRepository(db)

	// 7. Scoring
	scorer := scoring.NewScorer(contestRepo, formats, logger.NewNamedLogger("scorer"))
	recomputer := scoring.NewRecomputer(ctx, scorer, logger.NewNamedLogger("recomputer"))
	alerts := alert.NewThrottler(rdb, cfg.AlertThrottleCount, cfg.AlertThrottleWindow(), logger.NewNamedLogger("alert"))

	// 8. Initialize Services
	authService := service.NewAuthService(userRepo, judgeRepo, logger.NewNamedLogger("auth"))
	problemService := service.NewProblemService(problemRepo, logger.NewNamedLogger("problems"))
	dispatchService := service.NewDispatchService(rdb, cfg.JudgeQueueHigh, cfg.JudgeQueueLow, cfg.AbortTTL(), logger.NewNamedLogger("dispatch"))
	gradingService := service.NewGradingService(submissionRepo, problemRepo, recomputer, alerts, logger.NewNamedLogger("grading"))
	submissionService := service.NewSubmissionService(submissionRepo, problemRepo, contestRepo, gradingService, dispatchService, logger.NewNamedLogger("submissions"))
	contestService := service.NewContestService(contestRepo, problemRepo, formats, scorer, rdb,
		cfg.RankingCacheTTL(), cfg.RecomputeParallelism, logger.NewNamedLogger("contests"))
	scorer.OnCommit(contestService.InvalidateRanking)

	// 9. Judge Worker (as a goroutine)
	judgeWorker := worker.NewJudgeWorker(rdb, submissionRepo, problemRepo, gradingService, worker.Options{
		HighQueue:       cfg.JudgeQueueHigh,
		LowQueue:        cfg.JudgeQueueLow,
		LockTTL:         cfg.JudgeLockTTL(),
		FleetURL:        cfg.JudgeFleetURL,
		CallbackBaseURL: cfg.CallbackBaseURL,
		RequestTimeout:  cfg.JudgeRequestTimeout(),
	}, logger.NewNamedLogger("judge_worker"))
	workerDone := make(chan struct{})
	go func() {
		defer close(workerDone)
		judgeWorker.Start(ctx)
	}()

	// 10. Router & HTTP Server
	router := api.NewRouter(api.Services{
		Auth:       authService,
		Problems:   problemService,
		Submission: submissionService,
		Grading:    gradingService,
		Contests:   contestService,
	}, cfg.CORSOrigins, logger.NewNamedLogger("api"))

	server := &http.Server{
		Addr:         ":" + cfg.APIPort,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 70 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.Infow("server starting", "port", cfg.APIPort)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalw("could not listen", "port", cfg.APIPort, "error", err)
		}
	}()

	// 11. Graceful Shutdown
	<-ctx.Done()
	log.Info("shutting down server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Errorw("server shutdown failed", "error", err)
	}
	<-workerDone
	recomputer.Wait()

	log.Info("server and worker stopped gracefully")
}
