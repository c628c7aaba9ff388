package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/artpar/nubo/internal/core/catalog"
	"github.com/artpar/nubo/internal/shell/api"
	"github.com/artpar/nubo/internal/shell/billing"
	"github.com/artpar/nubo/internal/shell/cache"
	"github.com/artpar/nubo/internal/shell/driver"
	"github.com/artpar/nubo/internal/shell/lifecycle"
	"github.com/artpar/nubo/internal/shell/stack"
	"github.com/artpar/nubo/internal/shell/store"
	"github.com/artpar/nubo/internal/shell/workers"
)

// =============================================================================
// Exit Codes
// =============================================================================

const (
	ExitSuccess         = 0
	ExitConfigError     = 1
	ExitDatabaseError   = 2
	ExitCatalogError    = 3
	ExitCacheError      = 4
	ExitDriverError     = 5
	ExitHTTPServerError = 6
)

// =============================================================================
// Server
// =============================================================================

// Server wires the store, catalog, drivers, workers and HTTP surface.
type Server struct {
	config          *Config
	httpServer      *http.Server
	store           store.Store
	cache           cache.Cache
	provisioner     *workers.Provisioner
	reaper          *workers.Reaper
	billingReporter *billing.Reporter
	logger          *slog.Logger
}

// NewServer creates a new server with the given config.
func NewServer(cfg *Config, logger *slog.Logger) (*Server, error) {
	// Connect to database
	s, err := store.NewSQLiteStore(cfg.Database.DSN)
	if err != nil {
		return nil, &ServerError{
			Op:       "NewServer",
			Err:      err,
			ExitCode: ExitDatabaseError,
		}
	}

	// Load the provider catalog
	cat, err := catalog.Load(cfg.Catalog.Path)
	if err != nil {
		s.Close()
		return nil, &ServerError{
			Op:       "NewServer",
			Err:      err,
			ExitCode: ExitCatalogError,
		}
	}

	// Cache for provider-assigned names between create and delete
	var c cache.Cache
	if cfg.Cache.Mode == "redis" {
		c, err = cache.NewRedis(context.Background(), cache.RedisConfig{
			Addr:     cfg.Cache.Addr,
			Password: cfg.Cache.Password,
			DB:       cfg.Cache.DB,
		})
		if err != nil {
			s.Close()
			return nil, &ServerError{
				Op:       "NewServer",
				Err:      err,
				ExitCode: ExitCacheError,
			}
		}
		logger.Info("redis cache enabled", "addr", cfg.Cache.Addr)
	} else {
		c = cache.NewMemory()
	}

	// Stack engine persists per-resource footprints through the store
	stacks := stack.NewEngine(s, logger)

	// Compile-time driver registry; unconfigured providers get void
	registry, err := driver.NewRegistry(driverConfig(cfg), driver.Deps{
		Stacks:  stacks,
		Cache:   c,
		Catalog: cat,
		Logger:  logger,
	})
	if err != nil {
		s.Close()
		return nil, &ServerError{
			Op:       "NewServer",
			Err:      err,
			ExitCode: ExitDriverError,
		}
	}

	// Lifecycle orchestrator and HTTP surface
	lc := lifecycle.NewService(s, registry, cat, logger)
	handler := api.NewHandler(lc, s, cat, registry, logger)

	httpServer := &http.Server{
		Addr:         cfg.Server.Address(),
		Handler:      handler.Routes(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Background workers
	provisioner := workers.NewProvisioner(s, registry, cat, workers.ProvisionerConfig{
		Interval:      cfg.Workers.ProvisionInterval,
		MaxConcurrent: cfg.Workers.ProvisionMaxConcurrent,
	}, logger)

	reaper := workers.NewReaper(s, registry, workers.ReaperConfig{
		Interval:  cfg.Workers.TeardownInterval,
		BatchSize: cfg.Workers.TeardownBatchSize,
		MaxRetry:  cfg.Workers.TeardownMaxRetry,
		WaitTime:  cfg.Workers.TeardownWaitTime,
	}, logger)

	// Consumption reporter
	var billingReporter *billing.Reporter
	if cfg.Billing.Enabled {
		billingReporter = billing.NewReporter(billing.ReporterConfig{
			Store: s,
			Client: billing.NewHTTPClient(billing.HTTPConfig{
				BaseURL: cfg.Billing.URL,
				APIKey:  cfg.Billing.APIKey,
			}),
			Interval:  cfg.Billing.ReportInterval,
			BatchSize: cfg.Billing.BatchSize,
			Logger:    logger,
		})
		logger.Info("billing enabled", "url", cfg.Billing.URL)
	} else {
		logger.Info("billing disabled")
	}

	return &Server{
		config:          cfg,
		httpServer:      httpServer,
		store:           s,
		cache:           c,
		provisioner:     provisioner,
		reaper:          reaper,
		billingReporter: billingReporter,
		logger:          logger,
	}, nil
}

// driverConfig translates the flat provider config into the registry's
// pointer-per-enabled-provider shape.
func driverConfig(cfg *Config) driver.Config {
	var dc driver.Config

	if cfg.Providers.AWS.Enabled {
		dc.AWS = &driver.AWSConfig{
			AccessKeyID:     cfg.Providers.AWS.AccessKeyID,
			SecretAccessKey: cfg.Providers.AWS.SecretAccessKey,
			Timeout:         cfg.Providers.AWS.Timeout,
		}
	}
	if cfg.Providers.Azure.Enabled {
		dc.Azure = &driver.AzureConfig{
			SubscriptionID: cfg.Providers.Azure.SubscriptionID,
			TenantID:       cfg.Providers.Azure.TenantID,
			ClientID:       cfg.Providers.Azure.ClientID,
			ClientSecret:   cfg.Providers.Azure.ClientSecret,
			ResourceGroup:  cfg.Providers.Azure.ResourceGroup,
			Timeout:        cfg.Providers.Azure.Timeout,
		}
	}
	if cfg.Providers.GCP.Enabled {
		dc.GCP = &driver.GCPConfig{
			ProjectID:       cfg.Providers.GCP.ProjectID,
			CredentialsFile: cfg.Providers.GCP.CredentialsFile,
			Timeout:         cfg.Providers.GCP.Timeout,
		}
	}
	if cfg.Providers.OVH.Enabled {
		dc.OVH = &driver.OVHConfig{
			Endpoint:          cfg.Providers.OVH.Endpoint,
			ApplicationKey:    cfg.Providers.OVH.ApplicationKey,
			ApplicationSecret: cfg.Providers.OVH.ApplicationSecret,
			ConsumerKey:       cfg.Providers.OVH.ConsumerKey,
			ServiceName:       cfg.Providers.OVH.ServiceName,
			Timeout:           cfg.Providers.OVH.Timeout,
		}
	}
	if cfg.Providers.Scaleway.Enabled {
		dc.Scaleway = &driver.ScalewayConfig{
			AccessKey: cfg.Providers.Scaleway.AccessKey,
			SecretKey: cfg.Providers.Scaleway.SecretKey,
			ProjectID: cfg.Providers.Scaleway.ProjectID,
			Timeout:   cfg.Providers.Scaleway.Timeout,
		}
	}

	return dc
}

// Start starts the server and blocks until shutdown.
func (s *Server) Start(ctx context.Context) error {
	// Setup signal handling
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	// Start background workers
	s.provisioner.Start()
	s.reaper.Start()

	if s.billingReporter != nil {
		go s.billingReporter.Start(ctx)
	}

	// Start HTTP server in goroutine
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting HTTP server",
			"address", s.config.Server.Address())
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// Wait for shutdown signal or error
	select {
	case sig := <-sigCh:
		s.logger.Info("received shutdown signal", "signal", sig)
	case err := <-errCh:
		return &ServerError{
			Op:       "Start",
			Err:      err,
			ExitCode: ExitHTTPServerError,
		}
	case <-ctx.Done():
		s.logger.Info("context cancelled")
	}

	return s.Shutdown(context.Background())
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("initiating graceful shutdown")

	shutdownCtx, cancel := context.WithTimeout(ctx, s.config.Server.ShutdownTimeout)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("HTTP server shutdown error", "error", err)
	}

	// Stop background workers before closing their store
	s.provisioner.Stop()
	s.reaper.Stop()

	if s.billingReporter != nil {
		s.billingReporter.Stop()
	}

	if closer, ok := s.cache.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			s.logger.Error("cache close error", "error", err)
		}
	}

	if err := s.store.Close(); err != nil {
		s.logger.Error("database close error", "error", err)
	}

	s.logger.Info("shutdown complete")
	return nil
}

// =============================================================================
// Server Error
// =============================================================================

// ServerError represents an error during server operation.
type ServerError struct {
	Op       string
	Err      error
	ExitCode int
}

func (e *ServerError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *ServerError) Unwrap() error {
	return e.Err
}
