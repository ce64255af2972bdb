// Package ledger meters chargeable actions against each user's credit balance.
//
// Debit Flow:
// 1. A service proposes the action; its cost is re-read and debited up front
// 2. The service performs the domain mutation through the backend
// 3. On success the pending debit is confirmed
// 4. On failure it is rejected and the credits are refunded
//
// Users with unlimited access get waived pendings that never touch the balance.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/R3E-Network/walletchat/internal/database"
	"github.com/R3E-Network/walletchat/internal/domain"
	model "github.com/R3E-Network/walletchat/internal/domain/ledger"
	"github.com/R3E-Network/walletchat/internal/domain/user"
	"github.com/R3E-Network/walletchat/internal/lock"
	"github.com/R3E-Network/walletchat/internal/metrics"
	"github.com/R3E-Network/walletchat/pkg/logger"
)

// Store is the part of the backend the ledger needs.
type Store interface {
	database.UserStore
	database.SettingsStore
	database.LedgerStore
}

// Config carries the process-wide ledger settings.
type Config struct {
	// Costs is used whenever the backend has no stored schedule. Nil means
	// DefaultCostSchedule; a zero schedule makes every action free.
	Costs *model.CostSchedule
	// Operators always have unlimited access.
	Operators []string
	// Catalog is used when the backend lists no items.
	Catalog []user.FeatureItem
	Locker  lock.Locker
	Metrics *metrics.Metrics
}

// Manager handles all credit operations.
type Manager struct {
	store     Store
	costs     model.CostSchedule
	operators map[string]struct{}
	catalog   []user.FeatureItem
	locker    lock.Locker
	metrics   *metrics.Metrics
	log       *logger.Logger
	now       func() time.Time

	mu      sync.Mutex
	pending map[string]*model.Pending
}

// NewManager creates a ledger manager. A nil log falls back to the default logger.
func NewManager(store Store, cfg Config, log *logger.Logger) *Manager {
	if log == nil {
		log = logger.NewDefault("ledger")
	}
	costs := model.DefaultCostSchedule()
	if cfg.Costs != nil {
		costs = *cfg.Costs
	}
	if cfg.Locker == nil {
		cfg.Locker = lock.NewMemory()
	}
	ops := make(map[string]struct{}, len(cfg.Operators))
	for _, op := range cfg.Operators {
		if op = strings.TrimSpace(op); op != "" {
			ops[op] = struct{}{}
		}
	}
	return &Manager{
		store:     store,
		costs:     costs,
		operators: ops,
		catalog:   cfg.Catalog,
		locker:    cfg.Locker,
		metrics:   cfg.Metrics,
		log:       log,
		now:       func() time.Time { return time.Now().UTC() },
		pending:   make(map[string]*model.Pending),
	}
}

// =============================================================================
// Pricing
// =============================================================================

// CostSchedule returns the stored schedule, or the configured one when the
// backend has none. It is read fresh on every call.
func (m *Manager) CostSchedule(ctx context.Context) (model.CostSchedule, error) {
	stored, err := m.store.GetCostSchedule(ctx)
	if err != nil {
		return model.CostSchedule{}, fmt.Errorf("get cost schedule: %w", err)
	}
	if stored == nil {
		return m.costs, nil
	}
	return *stored, nil
}

// SetCostSchedule replaces the stored schedule. Only operators may do this.
func (m *Manager) SetCostSchedule(ctx context.Context, actor string, costs model.CostSchedule) error {
	u, err := m.store.GetUser(ctx, actor)
	if err != nil {
		return err
	}
	if !m.IsOperator(*u) {
		return fmt.Errorf("%w: %s cannot change costs", domain.ErrForbidden, actor)
	}
	if !costs.Valid() {
		return fmt.Errorf("%w: costs must be non-negative", domain.ErrInvalidAmount)
	}
	return m.store.SaveCostSchedule(ctx, costs)
}

// Catalog returns the purchasable feature items.
func (m *Manager) Catalog(ctx context.Context) ([]user.FeatureItem, error) {
	items, err := m.store.ListCatalogItems(ctx)
	if err != nil {
		return nil, fmt.Errorf("list catalog: %w", err)
	}
	if len(items) == 0 {
		return m.catalog, nil
	}
	return items, nil
}

// IsOperator reports whether u administers the platform.
func (m *Manager) IsOperator(u user.User) bool {
	if u.Role == user.RoleOperator {
		return true
	}
	_, ok := m.operators[u.Address]
	return ok
}

// HasUnlimitedAccess reports whether u bypasses the ledger entirely.
func (m *Manager) HasUnlimitedAccess(u user.User) bool {
	return m.IsOperator(u) || u.HasGrant(user.GrantUnlimitedAccess)
}

// =============================================================================
// Balance Operations
// =============================================================================

// AuthorizeAndDebit charges cost for action. Users with unlimited access are
// waived without any mutation. It reports whether the charge was waived.
func (m *Manager) AuthorizeAndDebit(ctx context.Context, address string, action model.Action, cost int64) (bool, error) {
	if cost < 0 {
		return false, fmt.Errorf("%w: cost %d", domain.ErrInvalidAmount, cost)
	}
	u, err := m.store.GetUser(ctx, address)
	if err != nil {
		return false, err
	}
	if m.HasUnlimitedAccess(*u) {
		m.metrics.RecordDebit(string(action), 0, true)
		return true, nil
	}
	if cost == 0 {
		return false, nil
	}

	balance, err := m.store.AdjustCredits(ctx, address, -cost)
	if err != nil {
		if errors.Is(err, domain.ErrInsufficientCredits) {
			m.metrics.RecordInsufficientCredits(string(action))
		}
		return false, err
	}
	m.metrics.RecordDebit(string(action), cost, false)
	m.record(ctx, model.Entry{
		Address:      address,
		Type:         model.EntryDebit,
		Action:       action,
		Amount:       -cost,
		BalanceAfter: balance,
	})
	return false, nil
}

// Credit adds amount to a user's balance.
func (m *Manager) Credit(ctx context.Context, address string, amount int64, reference string) (int64, error) {
	if amount < 0 {
		return 0, fmt.Errorf("%w: credit %d", domain.ErrInvalidAmount, amount)
	}
	balance, err := m.store.AdjustCredits(ctx, address, amount)
	if err != nil {
		return 0, err
	}
	m.record(ctx, model.Entry{
		Address:      address,
		Type:         model.EntryCredit,
		Amount:       amount,
		BalanceAfter: balance,
		Reference:    reference,
	})
	return balance, nil
}

// History returns a user's ledger entries, newest first.
func (m *Manager) History(ctx context.Context, address string, limit int) ([]model.Entry, error) {
	return m.store.ListLedgerEntries(ctx, address, limit)
}

// record appends a history entry. A failed append never undoes the balance change.
func (m *Manager) record(ctx context.Context, entry model.Entry) {
	entry.ID = uuid.NewString()
	entry.CreatedAt = m.now()
	if err := m.store.AppendLedgerEntry(ctx, entry); err != nil {
		m.log.WithError(err).
			WithField("address", entry.Address).
			WithField("type", entry.Type).
			Warn("ledger entry not recorded")
	}
}

// =============================================================================
// Pending Debits
// =============================================================================

// Propose debits the current price of action and returns the pending debit.
// Callers must Confirm or Reject it once the paired mutation settles.
func (m *Manager) Propose(ctx context.Context, address string, action model.Action) (model.Pending, error) {
	costs, err := m.CostSchedule(ctx)
	if err != nil {
		return model.Pending{}, err
	}
	cost := costs.Cost(action)

	waived, err := m.AuthorizeAndDebit(ctx, address, action, cost)
	if err != nil {
		return model.Pending{}, err
	}

	p := &model.Pending{
		ID:        uuid.NewString(),
		Address:   address,
		Action:    action,
		Amount:    cost,
		Waived:    waived,
		Status:    model.PendingOpen,
		CreatedAt: m.now(),
	}
	if waived {
		p.Amount = 0
	}

	m.mu.Lock()
	m.pending[p.ID] = p
	m.mu.Unlock()
	return *p, nil
}

// Confirm settles a pending debit as applied.
func (m *Manager) Confirm(_ context.Context, id string) (model.Pending, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.pending[id]
	if !ok {
		return model.Pending{}, domain.NotFound("pending debit", id)
	}
	delete(m.pending, id)
	p.Status = model.PendingApplied
	return *p, nil
}

// Reject settles a pending debit as rejected and refunds it. Unknown or
// already settled ids are a no-op.
func (m *Manager) Reject(ctx context.Context, id, reason string) (model.Pending, error) {
	m.mu.Lock()
	p, ok := m.pending[id]
	if ok {
		delete(m.pending, id)
	}
	m.mu.Unlock()
	if !ok {
		return model.Pending{}, nil
	}

	if !p.Waived && p.Amount > 0 {
		balance, err := m.store.AdjustCredits(ctx, p.Address, p.Amount)
		if err != nil {
			// keep it open so the sweeper retries the refund
			m.mu.Lock()
			m.pending[id] = p
			m.mu.Unlock()
			return *p, fmt.Errorf("refund %s: %w", id, err)
		}
		m.record(ctx, model.Entry{
			Address:      p.Address,
			Type:         model.EntryRefund,
			Action:       p.Action,
			Amount:       p.Amount,
			BalanceAfter: balance,
			Reference:    reason,
		})
		m.metrics.RecordRefund(string(p.Action))
	}

	p.Status = model.PendingRejected
	p.Reason = reason
	m.log.WithField("pending", id).
		WithField("address", p.Address).
		WithField("reason", reason).
		Info("pending debit rejected")
	return *p, nil
}

// Pending returns an open pending debit.
func (m *Manager) Pending(id string) (model.Pending, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.pending[id]
	if !ok {
		return model.Pending{}, false
	}
	return *p, true
}

// OpenPendings returns the number of unsettled debits.
func (m *Manager) OpenPendings() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending)
}

// ExpirePending rejects every pending debit older than maxAge and returns how
// many were refunded. Each owner's user lock is held while its debit is
// rejected, so a debit whose paired mutation is still running is settled by
// that mutation instead.
func (m *Manager) ExpirePending(ctx context.Context, maxAge time.Duration) (int, error) {
	cutoff := m.now().Add(-maxAge)

	m.mu.Lock()
	var stale []string
	for id, p := range m.pending {
		if p.CreatedAt.Before(cutoff) {
			stale = append(stale, id)
		}
	}
	m.mu.Unlock()

	var (
		expired int
		errs    []error
	)
	for _, id := range stale {
		ok, err := m.expire(ctx, id)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if ok {
			expired++
		}
	}
	m.metrics.RecordPendingExpired(expired)
	return expired, errors.Join(errs...)
}

// expire rejects id under its owner's lock. It reports false when the debit
// was settled before the lock was acquired.
func (m *Manager) expire(ctx context.Context, id string) (bool, error) {
	p, ok := m.Pending(id)
	if !ok {
		return false, nil
	}
	unlock, err := m.locker.Lock(ctx, lock.UserKey(p.Address))
	if err != nil {
		return false, fmt.Errorf("lock %s: %w", p.Address, err)
	}
	defer unlock()

	if _, ok := m.Pending(id); !ok {
		return false, nil
	}
	if _, err := m.Reject(ctx, id, "expired"); err != nil {
		return false, err
	}
	return true, nil
}

// =============================================================================
// Items
// =============================================================================

// MintItem charges the mint price and adds the catalog item to the user's items.
func (m *Manager) MintItem(ctx context.Context, address, itemID string) (*user.User, error) {
	catalog, err := m.Catalog(ctx)
	if err != nil {
		return nil, err
	}
	var item *user.FeatureItem
	for i := range catalog {
		if catalog[i].ID == itemID {
			item = &catalog[i]
			break
		}
	}
	if item == nil {
		return nil, domain.NotFound("item", itemID)
	}

	unlock, err := m.locker.Lock(ctx, lock.UserKey(address))
	if err != nil {
		return nil, err
	}
	defer unlock()

	u, err := m.store.GetUser(ctx, address)
	if err != nil {
		return nil, err
	}
	if u.OwnsItem(itemID) {
		return nil, fmt.Errorf("%w: %s", domain.ErrAlreadyOwned, itemID)
	}

	p, err := m.Propose(ctx, address, model.ActionMintItem)
	if err != nil {
		return nil, err
	}

	items := append(append([]user.FeatureItem(nil), u.Items...), *item)
	updated, err := m.store.SaveUser(ctx, address, user.Update{Items: &items})
	if err != nil {
		if _, rerr := m.Reject(ctx, p.ID, "mint failed"); rerr != nil {
			m.log.WithError(rerr).WithField("pending", p.ID).Error("refund after failed mint")
		}
		return nil, fmt.Errorf("save items: %w", err)
	}
	if _, err := m.Confirm(ctx, p.ID); err != nil {
		return nil, err
	}

	// the balance changed after the read above
	if fresh, err := m.store.GetUser(ctx, address); err == nil {
		return fresh, nil
	}
	return updated, nil
}
