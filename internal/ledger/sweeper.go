package ledger

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/R3E-Network/walletchat/internal/app/system"
	"github.com/R3E-Network/walletchat/pkg/logger"
)

// Sweeper periodically refunds pending debits that were never settled.
type Sweeper struct {
	manager  *Manager
	schedule string
	maxAge   time.Duration
	log      *logger.Logger

	mu      sync.Mutex
	cron    *cron.Cron
	cancel  context.CancelFunc
	running bool
}

var _ system.Service = (*Sweeper)(nil)

// NewSweeper creates a sweeper running on a cron spec such as "@every 1m".
func NewSweeper(manager *Manager, schedule string, maxAge time.Duration, log *logger.Logger) *Sweeper {
	if log == nil {
		log = logger.NewDefault("ledger-sweeper")
	}
	if schedule == "" {
		schedule = "@every 1m"
	}
	if maxAge <= 0 {
		maxAge = 5 * time.Minute
	}
	return &Sweeper{manager: manager, schedule: schedule, maxAge: maxAge, log: log}
}

func (s *Sweeper) Name() string { return "ledger-sweeper" }

func (s *Sweeper) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	c := cron.New()
	if _, err := c.AddFunc(s.schedule, func() { s.Sweep(runCtx) }); err != nil {
		cancel()
		return err
	}
	c.Start()

	s.cron = c
	s.cancel = cancel
	s.running = true
	s.log.WithField("schedule", s.schedule).Info("pending debit sweeper started")
	return nil
}

func (s *Sweeper) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	c, cancel := s.cron, s.cancel
	s.running = false
	s.cron, s.cancel = nil, nil
	s.mu.Unlock()

	cancel()
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

// Sweep runs one expiry pass.
func (s *Sweeper) Sweep(ctx context.Context) {
	n, err := s.manager.ExpirePending(ctx, s.maxAge)
	if err != nil {
		s.log.WithError(err).Warn("expire pending debits")
	}
	if n > 0 {
		s.log.WithField("expired", n).Info("refunded stale pending debits")
	}
}
