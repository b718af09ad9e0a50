package api

import (
	"log/slog"
	"net/http"
	"time"

	"tle_zone_judge/internal/api/handler"
	"tle_zone_judge/internal/app/service"
	"tle_zone_judge/internal/common/security"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httplog/v2"
	"github.com/go-chi/jwtauth/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

type Services struct {
	Auth       *service.AuthService
	Problems   *service.ProblemService
	Submission *service.SubmissionService
	Grading    *service.GradingService
	Contests   *service.ContestService
}

func NewRouter(svc Services, corsOrigins []string, log *zap.SugaredLogger) http.Handler {
	r := chi.NewRouter()

	requestLog := httplog.NewLogger("tle-zone-judge", httplog.Options{
		LogLevel:         slog.LevelInfo,
		Concise:          true,
		MessageFieldName: "message",
	})

	// Base Middlewares. RequestLogger brings its own RequestID and Recoverer.
	r.Use(chiMiddleware.RealIP)
	r.Use(httplog.RequestLogger(requestLog, []string{"/health", "/metrics"}))
	r.Use(chiMiddleware.Timeout(60 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   corsOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Searches "Authorization: Bearer T" and puts the claims in the context.
	r.Use(jwtauth.Verifier(security.TokenAuth))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("OK"))
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(v1 chi.Router) {
		authHandler := handler.NewAuthHandler(svc.Auth)
		v1.Route("/auth", authHandler.RegisterRoutes)

		problemHandler := handler.NewProblemHandler(svc.Problems, svc.Submission)
		v1.Route("/problems", problemHandler.RegisterRoutes)
		v1.Get("/languages", problemHandler.ListLanguages)

		submissionHandler := handler.NewSubmissionHandler(svc.Submission)
		v1.Route("/submissions", submissionHandler.RegisterRoutes)
		v1.Get("/users/{userID}/points", submissionHandler.UserPoints)

		contestHandler := handler.NewContestHandler(svc.Contests)
		v1.Route("/contests", contestHandler.RegisterRoutes)

		judgeHandler := handler.NewJudgeHandler(svc.Grading, log.Named("judge_api"))
		v1.Route("/judge", judgeHandler.RegisterRoutes)
	})

	return r
}
