// Package bootstrap wires the application components together and
// manages their lifecycle.
package bootstrap

import (
	"context"
	"fmt"
	"net/http"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"aegis/api"
	"aegis/config"
	"aegis/core"
	"aegis/notify"
	"aegis/playbook"
	"aegis/storage"
)

// App holds the assembled application
type App struct {
	Config    *config.Config
	Logger    *zap.SugaredLogger
	Incidents *storage.MemoryIncidentStore
	Service   *playbook.Service
	Archive   *storage.SQLite

	server *http.Server
}

// NewApp builds the application from configuration
func NewApp(cfg *config.Config) (*App, error) {
	logger, err := newLogger(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("creating logger: %w", err)
	}

	app := &App{Config: cfg, Logger: logger}

	app.Incidents = storage.NewMemoryIncidentStore(logger)

	notifier := notify.NewNotifier(logger, breakerConfig(cfg.Notifications),
		notify.NewSlackSender(cfg.Notifications.Slack.WebhookURL, nil, logger),
		notify.NewEmailSender(cfg.Notifications.Email.Host, cfg.Notifications.Email.Port,
			cfg.Notifications.Email.From, cfg.Notifications.Email.Username,
			cfg.Notifications.Email.Password, logger),
		notify.NewPagerDutySender(cfg.Notifications.PagerDuty.RoutingKey, nil, logger))

	registry := playbook.NewDefaultRegistry(logger, notifier, app.Incidents, nil)

	opts := []playbook.ServiceOption{
		playbook.WithMaxConcurrentExecutions(cfg.Playbooks.MaxConcurrentExecutions),
		playbook.WithDefaultStepTimeout(cfg.Playbooks.DefaultStepTimeout),
		playbook.WithAutoExecute(cfg.Playbooks.AutoExecuteEnabled),
	}
	if cfg.Storage.SQLitePath != "" {
		archive, err := storage.NewSQLite(cfg.Storage.SQLitePath, logger)
		if err != nil {
			return nil, fmt.Errorf("opening archive database: %w", err)
		}
		app.Archive = archive
		opts = append(opts,
			playbook.WithPlaybookArchive(storage.NewSQLitePlaybookArchive(archive)),
			playbook.WithExecutionArchive(storage.NewSQLiteExecutionArchive(archive)))
	}

	app.Service = playbook.NewService(registry, app.Incidents, logger, opts...)
	if err := app.Service.LoadArchivedPlaybooks(); err != nil {
		logger.Errorw("Could not restore archived playbooks", "error", err)
	}

	handler := api.New(app.Service, app.Incidents, logger)
	app.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      handler.Router(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	return app, nil
}

// Run starts the HTTP server and blocks until ctx is cancelled, then
// shuts down gracefully.
func (a *App) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		a.Logger.Infow("HTTP server listening", "addr", a.server.Addr)
		if err := a.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	a.Logger.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.Config.Server.ShutdownTimeout)
	defer cancel()
	if err := a.server.Shutdown(shutdownCtx); err != nil {
		a.Logger.Errorw("HTTP server shutdown failed", "error", err)
	}

	if a.Archive != nil {
		if err := a.Archive.Close(); err != nil {
			a.Logger.Errorw("Archive close failed", "error", err)
		}
	}
	_ = a.Logger.Sync()
	return nil
}

func breakerConfig(cfg config.NotificationConfig) core.CircuitBreakerConfig {
	bc := core.DefaultCircuitBreakerConfig()
	if cfg.BreakerMaxFailures > 0 {
		bc.MaxFailures = cfg.BreakerMaxFailures
	}
	if cfg.BreakerTimeout > 0 {
		bc.Timeout = cfg.BreakerTimeout
	}
	return bc
}

func newLogger(cfg config.LoggingConfig) (*zap.SugaredLogger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
	}

	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}
	zapCfg.Level = zap.NewAtomicLevelAt(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return nil, err
	}
	return logger.Sugar(), nil
}
