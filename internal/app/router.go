package app

import (
	"database/sql"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"lgsprep/internal/analytics"
	"lgsprep/internal/app/observability"
	"lgsprep/internal/auth"
	"lgsprep/internal/exam"
	"lgsprep/internal/material"
	"lgsprep/internal/question"
)

func NewRouter(cfg Config, db *sql.DB) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	collector := observability.NewCollector(db)
	r.Use(collector.Middleware)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	tokens := auth.NewTokenManager(cfg.JWTSecret, time.Duration(cfg.AccessTokenTTLMins)*time.Minute)
	authSvc := auth.NewService(db, auth.ServiceConfig{
		Tokens:     tokens,
		BcryptCost: cfg.BcryptCost,
		RefreshTTL: time.Duration(cfg.RefreshTokenTTLHrs) * time.Hour,
	})
	authHandler := auth.NewHandler(authSvc)

	questionHandler := question.NewHandler(question.NewService(db))
	examHandler := exam.NewHandler(exam.NewService(db))
	materialHandler := material.NewHandler(material.NewService(db, cfg.UploadDir, cfg.UploadMaxBytes), cfg.UploadMaxBytes)
	analyticsHandler := analytics.NewHandler(analytics.NewService(db))

	authLimiter := NewIPRateLimiter(cfg.AuthRateLimitPerMin, time.Minute)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"ok":true}`))
	})
	r.Get("/metrics", collector.MetricsHandler)

	r.Route("/api/v1", func(api chi.Router) {
		api.Group(func(public chi.Router) {
			public.Use(RateLimitMiddleware(authLimiter))
			public.Post("/auth/register", authHandler.Register)
			public.Post("/auth/login", authHandler.Login)
			public.Post("/auth/refresh", authHandler.Refresh)
		})

		api.Group(func(secure chi.Router) {
			secure.Use(authHandler.RequireAuth)

			secure.Post("/auth/logout", authHandler.Logout)
			secure.Get("/auth/profile", authHandler.Profile)
			secure.Post("/auth/change-password", authHandler.ChangePassword)

			secure.Get("/questions", questionHandler.List)
			secure.Get("/questions/random", questionHandler.Random)
			secure.Get("/questions/{id}", questionHandler.Get)

			secure.Get("/exams", examHandler.List)
			secure.Get("/exams/attempts", examHandler.ListMyAttempts)
			secure.Get("/exams/attempts/{id}", examHandler.GetAttempt)
			secure.Get("/exams/{id}", examHandler.Get)
			secure.Post("/exams/{id}/start", examHandler.StartAttempt)
			secure.Post("/exams/{id}/submit", examHandler.SubmitAttempt)
			secure.Get("/exams/{id}/results", examHandler.Results)

			secure.Get("/materials", materialHandler.List)
			secure.Get("/materials/subject/{subject}", materialHandler.ListBySubject)
			secure.Get("/materials/{id}", materialHandler.Get)

			secure.Get("/analytics/performance", analyticsHandler.Performance)
			secure.Get("/analytics/progress", analyticsHandler.Progress)

			secure.Group(func(staff chi.Router) {
				staff.Use(auth.RequireRoles(auth.RoleAdmin, auth.RoleTeacher))

				staff.Post("/questions", questionHandler.Create)
				staff.Put("/questions/{id}", questionHandler.Update)
				staff.Delete("/questions/{id}", questionHandler.Delete)

				staff.Post("/exams", examHandler.Create)
				staff.Put("/exams/{id}", examHandler.Update)
				staff.Delete("/exams/{id}", examHandler.Delete)
				staff.Get("/exams/{id}/attempts", examHandler.ListExamAttempts)

				staff.Post("/materials", materialHandler.Create)
				staff.Post("/materials/upload", materialHandler.Upload)
				staff.Delete("/materials/{id}", materialHandler.Delete)

				staff.Get("/analytics/exams/{id}/export", analyticsHandler.ExportExamResults)
			})

			secure.Group(func(admin chi.Router) {
				admin.Use(auth.RequireRoles(auth.RoleAdmin))
				admin.Get("/analytics/overview", analyticsHandler.Overview)
			})
		})
	})

	return r
}
