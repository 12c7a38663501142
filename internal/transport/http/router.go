package http

import (
	"net/http"

	"github.com/ecolens-api/internal/application/auth"
	"github.com/ecolens-api/internal/application/otp"
	"github.com/ecolens-api/internal/application/predict"
	"github.com/ecolens-api/internal/application/session"
	"github.com/ecolens-api/internal/config"
	"github.com/ecolens-api/internal/transport/http/cookies"
	"github.com/ecolens-api/internal/transport/http/handler"
	appmiddleware "github.com/ecolens-api/internal/transport/http/middleware"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter builds and returns the application router.
func NewRouter(cfg *config.Config, deps *Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(appmiddleware.RequestLogger(deps.Logger.Named("http")))
	r.Use(appmiddleware.Metrics(deps.Metrics))
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	cm := &cookies.Manager{
		Domain:          cfg.CookieDomain,
		Secure:          cfg.IsProduction(),
		AccessTTL:       cfg.Tokens.AccessTTL,
		RefreshTTL:      cfg.Tokens.RefreshTTL,
		VerificationTTL: cfg.Tokens.VerificationTTL,
	}

	otpSvc := otp.NewService(otp.ServiceDeps{
		Store: deps.OTPRepo,
		Config: otp.Config{
			Length:      cfg.OTP.Length,
			TTL:         cfg.OTP.TTL,
			MaxAttempts: cfg.OTP.MaxAttempts,
			Now:         deps.Now,
		},
		Logger:  deps.Logger,
		Metrics: deps.Metrics,
	})
	authSvc := auth.NewService(auth.ServiceDeps{
		Users:      deps.UserRepo,
		OTP:        otpSvc,
		Mailer:     deps.Mailer,
		Tokens:     deps.JWTProvider,
		Logger:     deps.Logger,
		Metrics:    deps.Metrics,
		BcryptCost: deps.BcryptCost,
		Now:        deps.Now,
	})
	sessionSvc := session.NewService(session.ServiceDeps{
		Tokens:  deps.JWTProvider,
		Logger:  deps.Logger,
		Metrics: deps.Metrics,
	})
	predictSvc := predict.NewService(predict.ServiceDeps{
		Classifier: deps.Classifier,
		Logger:     deps.Logger,
		Metrics:    deps.Metrics,
	})

	healthH := handler.NewHealthHandler(deps.HealthChecks)
	authH := handler.NewAuthHandler(authSvc, cm, deps.Logger)
	sessionH := handler.NewSessionHandler(sessionSvc, cm, deps.Logger)
	predictH := handler.NewPredictHandler(predictSvc, deps.Logger)

	authRL := appmiddleware.RateLimit(deps.Limiter, "auth", deps.Logger)
	predictRL := appmiddleware.RateLimit(deps.Limiter, "predict", deps.Logger)

	r.Handle("/metrics", deps.Metrics.Handler())
	r.Get("/v1/health-check/{action}", healthH.Ping)

	r.Route("/api", func(r chi.Router) {
		r.Route("/auth", func(r chi.Router) {
			r.With(authRL).Post("/register", authH.Register)
			r.With(authRL).Post("/login", authH.Login)
			r.With(authRL).Post("/verify", authH.Verify)
			r.With(authRL).Post("/refresh", sessionH.Refresh)
			r.Post("/logout", sessionH.Logout)
		})
		r.Get("/user/me", sessionH.Me)

		r.Group(func(r chi.Router) {
			r.Use(appmiddleware.Auth(deps.JWTProvider))
			r.With(predictRL).Post("/predict", predictH.Predict)
		})
	})

	return r
}
