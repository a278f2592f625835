package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"golang.org/x/sync/errgroup"

	"keygate/internal/config"
	apperrors "keygate/internal/errors"
	"keygate/internal/infrastructure"
	"keygate/internal/license"
	"keygate/internal/middleware"
	"keygate/internal/store"
	transport "keygate/internal/transport/http"
)

// Application represents the keygate server
type Application struct {
	Config        *config.Config
	Router        *chi.Mux
	Server        *http.Server
	Store         store.KeyStore
	Service       *license.Service
	Logger        *slog.Logger
	OTelProviders *infrastructure.OTelProviders

	errorHandler *apperrors.ErrorHandler
	validator    *middleware.Validator
}

// NewApplication loads configuration and builds a ready-to-run application
func NewApplication(ctx context.Context) (*Application, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.ValidateServer(); err != nil {
		return nil, err
	}

	logger, err := infrastructure.InitializeLogger(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	return New(ctx, cfg, logger, nil)
}

// New builds an application from an explicit configuration. A nil store is
// opened from cfg.Store.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger, ks store.KeyStore) (*Application, error) {
	app := &Application{
		Config: cfg,
		Logger: logger,
	}

	providers, err := infrastructure.InitializeOTel(infrastructure.OTelConfigFrom(cfg.Telemetry), logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize OpenTelemetry: %w", err)
	}
	app.OTelProviders = providers

	if ks == nil {
		ks, err = store.Open(ctx, cfg.Store)
		if err != nil {
			_ = providers.Shutdown(ctx)
			return nil, fmt.Errorf("failed to open key store: %w", err)
		}
	}
	app.Store = ks

	metrics, err := license.NewMetrics(providers.Meter)
	if err != nil {
		_ = providers.Shutdown(ctx)
		return nil, fmt.Errorf("failed to create license metrics: %w", err)
	}

	opts := license.OptionsFromConfig(cfg)
	opts.Logger = logger
	opts.Metrics = metrics
	opts.Tracer = providers.Tracer
	app.Service = license.NewService(ks, opts)

	app.errorHandler = apperrors.NewErrorHandler(logger, cfg.Telemetry.Environment == "development")
	app.validator = middleware.NewValidator(logger)

	if err := app.setupRouter(); err != nil {
		_ = providers.Shutdown(ctx)
		return nil, err
	}
	app.createServer()

	logger.InfoContext(ctx, "application initialized",
		slog.String("version", config.AppVersion),
		slog.String("store", cfg.Store.Backend),
		slog.Int("port", cfg.Server.Port),
		slog.Bool("strict_verify", cfg.License.StrictVerify),
		slog.Bool("require_signatures", cfg.Security.RequireSignatures),
	)

	return app, nil
}

// setupRouter configures the HTTP router and middleware chain
func (app *Application) setupRouter() error {
	r := chi.NewRouter()
	cfg := app.Config

	otelMiddleware, err := middleware.NewOTelMiddleware(app.OTelProviders)
	if err != nil {
		return fmt.Errorf("failed to create OTel middleware: %w", err)
	}

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(otelMiddleware.Handler)
	r.Use(middleware.StructuredLogger(app.Logger))
	r.Use(middleware.Recoverer(app.errorHandler))
	r.Use(middleware.SecurityHeaders)
	if cfg.Security.EnableCORS {
		r.Use(middleware.CORS(middleware.CORSConfig{
			AllowedOrigins: cfg.Security.AllowedOrigins,
			Logger:         app.Logger,
		}))
	}
	if cfg.Security.RateLimit.Enabled {
		limiter := middleware.NewRateLimiter(cfg.Security.RateLimit.RPS, cfg.Security.RateLimit.Burst, app.Logger, app.errorHandler)
		r.Use(limiter.Handler)
	}
	r.Use(middleware.BodyLimit(cfg.Server.MaxBodyBytes))
	r.Use(middleware.Timeout(cfg.Server.OperationTimeout))

	r.NotFound(app.errorHandler.NotFound)
	r.MethodNotAllowed(app.errorHandler.MethodNotAllowed)

	adminAuth := middleware.AdminAuth(cfg.Security.AdminToken, app.Logger, app.errorHandler)
	keys := transport.NewKeyHandler(app.Service, app.validator, app.errorHandler, app.Logger)
	health := transport.NewHealthHandler(app.Service, config.AppVersion, app.Logger)

	r.Route("/api", func(r chi.Router) {
		r.Use(render.SetContentType(render.ContentTypeJSON))
		r.Mount("/keys", keys.Routes(adminAuth))
		r.Mount("/tokens", keys.TokenRoutes())
		r.Mount("/settings", keys.SettingsRoutes(adminAuth))
	})

	r.Get("/healthz", health.HealthCheck)
	if app.OTelProviders.PrometheusHTTP != nil {
		r.Handle("/metrics", app.OTelProviders.PrometheusHTTP)
	}

	app.Router = r
	return nil
}

// createServer creates the HTTP server
func (app *Application) createServer() {
	cfg := app.Config.Server
	app.Server = &http.Server{
		Addr:           fmt.Sprintf(":%d", cfg.Port),
		Handler:        app.Router,
		ReadTimeout:    cfg.ReadTimeout,
		WriteTimeout:   cfg.WriteTimeout,
		IdleTimeout:    cfg.IdleTimeout,
		MaxHeaderBytes: cfg.MaxHeaderBytes,
	}
}

// Run serves until ctx is cancelled, then shuts down gracefully
func (app *Application) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		app.Logger.InfoContext(ctx, "starting HTTP server", slog.String("addr", app.Server.Addr))
		if err := app.Server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		return app.Stop()
	})

	return g.Wait()
}

// Stop gracefully stops the application
func (app *Application) Stop() error {
	app.Logger.Info("shutting down application")

	ctx, cancel := context.WithTimeout(context.Background(), app.Config.Server.ShutdownTimeout)
	defer cancel()

	var errs []error
	if app.Server != nil {
		if err := app.Server.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("server shutdown: %w", err))
		}
	}
	if app.Store != nil {
		if err := app.Store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("store close: %w", err))
		}
	}
	if app.OTelProviders != nil {
		if err := app.OTelProviders.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("telemetry shutdown: %w", err))
		}
	}

	if err := errors.Join(errs...); err != nil {
		app.Logger.Error("shutdown completed with errors", slog.String("error", err.Error()))
		return err
	}
	app.Logger.Info("application stopped")
	return nil
}
