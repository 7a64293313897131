package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"

	api "github.com/mind-engage/mindengage-exams/internal/api/http"
	auth "github.com/mind-engage/mindengage-exams/internal/auth/middleware"
	"github.com/mind-engage/mindengage-exams/internal/config"
	"github.com/mind-engage/mindengage-exams/internal/db"
	"github.com/mind-engage/mindengage-exams/internal/exam"
	"github.com/mind-engage/mindengage-exams/internal/logger"
	rbac "github.com/mind-engage/mindengage-exams/internal/rbac"
)

func main() {
	cfgPath := flag.String("config", "", "path to a YAML config file (default $CONFIG_FILE)")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		// logger is not configured yet
		boot := logger.New(logger.Config{})
		boot.Fatal().Err(err).Msg("config")
	}
	lg := logger.New(logger.Config{Level: cfg.LogLevel, Pretty: cfg.LogPretty})

	// --- Store ---
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	store, dbh, err := openStore(ctx, cfg)
	cancel()
	if err != nil {
		lg.Fatal().Err(err).Str("driver", cfg.DBDriver).Msg("store open failed")
	}

	svc := exam.NewService(store,
		exam.WithSettings(examSettings(cfg.Exams)),
		exam.WithAuthorizer(rbac.ResultAuthorizer{Checker: rbac.NewChecker(nil)}),
		exam.WithLogger(lg.With().Str("component", "exam").Logger()),
	)

	// --- Auth (local JWT) ---
	authSvc := auth.NewAuthService(cfg.AuthSecret, cfg.TokenTTL)

	// --- Router ---
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Recoverer)
	r.Use(hlog.NewHandler(lg), accessLog())
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	deps := api.Deps{
		Service: svc,
		Auth:    authSvc,
		Login: auth.LoginOptions{
			AdminUser:     cfg.AdminUser,
			AdminPassHash: cfg.AdminPassHash,
			AllowLocal:    cfg.EnableLocalAuth,
		},
	}
	if dbh != nil {
		deps.Ready = dbh.PingContext
	}
	api.Mount(r, deps)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	if err := run(srv, lg); err != nil {
		lg.Error().Err(err).Msg("server stopped with error")
	}
	if dbh != nil {
		_ = dbh.Close()
	}
}

func openStore(ctx context.Context, cfg config.Config) (exam.Store, *sql.DB, error) {
	if cfg.DBDriver == "memory" {
		return exam.NewInMemoryStore(), nil, nil
	}
	dbh, err := db.Open(ctx, db.Driver(cfg.DBDriver), cfg.DBDSN)
	if err != nil {
		return nil, nil, err
	}
	return exam.NewSQLStore(dbh, cfg.DBDriver), dbh, nil
}

func examSettings(c config.ExamConfig) exam.Settings {
	st := exam.DefaultSettings()
	st.DefaultMaxAttempts = c.DefaultMaxAttempts
	st.MaxRecordRetries = c.MaxRecordRetries
	st.ReadRetries = c.ReadRetries
	st.ReadBackoff = c.ReadBackoff
	return st
}

func accessLog() func(http.Handler) http.Handler {
	return hlog.AccessHandler(func(r *http.Request, status, size int, d time.Duration) {
		hlog.FromRequest(r).Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Str("req_id", middleware.GetReqID(r.Context())).
			Int("status", status).
			Int("size", size).
			Dur("took", d).
			Msg("request")
	})
}

// run serves until SIGINT/SIGTERM and then drains in-flight requests.
func run(srv *http.Server, lg zerolog.Logger) error {
	serverErrors := make(chan error, 1)
	go func() {
		lg.Info().Str("addr", srv.Addr).Msg("listening")
		serverErrors <- srv.ListenAndServe()
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case sig := <-quit:
		lg.Info().Str("signal", sig.String()).Msg("shutting down")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(ctx)
}
