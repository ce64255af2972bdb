package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/R3E-Network/walletchat/internal/accounts"
	"github.com/R3E-Network/walletchat/internal/app/system"
	"github.com/R3E-Network/walletchat/internal/config"
	"github.com/R3E-Network/walletchat/internal/database"
	"github.com/R3E-Network/walletchat/internal/filestore"
	"github.com/R3E-Network/walletchat/internal/ledger"
	"github.com/R3E-Network/walletchat/internal/lock"
	"github.com/R3E-Network/walletchat/internal/messaging"
	"github.com/R3E-Network/walletchat/internal/metrics"
	"github.com/R3E-Network/walletchat/pkg/logger"
)

// Deps overrides what New would otherwise open from configuration. Nil fields
// are built from cfg.
type Deps struct {
	Backend database.Backend
	Locker  lock.Locker
	Metrics *metrics.Metrics
}

// Application ties domain services together and manages their lifecycle.
type Application struct {
	manager *system.Manager
	log     *logger.Logger
	closers closers

	Config  *config.Config
	Backend database.Backend
	Locker  lock.Locker
	Metrics *metrics.Metrics

	Accounts  *accounts.Service
	Ledger    *ledger.Manager
	Messaging *messaging.Service
	Files     *filestore.Service
	Sweeper   *ledger.Sweeper
}

// New builds a fully initialised application from cfg.
func New(ctx context.Context, cfg *config.Config, log *logger.Logger) (*Application, error) {
	return NewWithDeps(ctx, cfg, Deps{}, log)
}

// NewWithDeps builds an application, using deps where provided.
func NewWithDeps(ctx context.Context, cfg *config.Config, deps Deps, log *logger.Logger) (*Application, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if log == nil {
		log = logger.NewDefault("app")
	}

	a := &Application{
		manager: system.NewManager(),
		log:     log,
		Config:  cfg,
		Metrics: deps.Metrics,
	}

	a.Backend = deps.Backend
	if a.Backend == nil {
		backend, closeFn, err := OpenBackend(ctx, cfg.Backend, log.Named("backend"))
		if err != nil {
			return nil, fmt.Errorf("open backend: %w", err)
		}
		a.Backend = backend
		a.closers = append(a.closers, closeFn)
	}

	a.Locker = deps.Locker
	if a.Locker == nil {
		locker, closeFn, err := OpenLocker(ctx, cfg.Redis, log.Named("lock"))
		if err != nil {
			_ = a.closers.close()
			return nil, fmt.Errorf("open locker: %w", err)
		}
		a.Locker = locker
		a.closers = append(a.closers, closeFn)
	}

	if a.Metrics == nil {
		a.Metrics = metrics.New()
	}

	a.Accounts = accounts.New(a.Backend, cfg.UserDefaults(), a.Locker, log.Named("accounts"))
	costs := cfg.Ledger.Costs
	a.Ledger = ledger.NewManager(a.Backend, ledger.Config{
		Costs:     &costs,
		Operators: cfg.Ledger.Operators,
		Catalog:   cfg.Ledger.Catalog,
		Locker:    a.Locker,
		Metrics:   a.Metrics,
	}, log.Named("ledger"))

	a.Messaging = messaging.New(a.Backend, a.Accounts, a.Ledger, a.Locker, log.Named("messaging"))
	a.Messaging.AttachMetrics(a.Metrics)

	a.Files = filestore.New(a.Backend, a.Accounts, a.Locker, log.Named("filestore"))
	a.Files.AttachMetrics(a.Metrics)

	a.Sweeper = ledger.NewSweeper(a.Ledger, cfg.Ledger.SweepSchedule, cfg.Ledger.PendingTTL, log.Named("ledger-sweeper"))
	if err := a.manager.Register(a.Sweeper); err != nil {
		_ = a.closers.close()
		return nil, fmt.Errorf("register %s: %w", a.Sweeper.Name(), err)
	}

	return a, nil
}

// Attach registers an additional lifecycle-managed service. Call before Start.
func (a *Application) Attach(service system.Service) error {
	return a.manager.Register(service)
}

// Services lists registered service names in start order.
func (a *Application) Services() []string {
	return a.manager.Names()
}

// Start begins all registered services.
func (a *Application) Start(ctx context.Context) error {
	return a.manager.Start(ctx)
}

// Stop stops all services, then releases backend and lock connections.
func (a *Application) Stop(ctx context.Context) error {
	stopErr := a.manager.Stop(ctx)
	closeErr := a.closers.close()
	a.closers = nil
	return errors.Join(stopErr, closeErr)
}
