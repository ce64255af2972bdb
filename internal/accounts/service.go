// Package accounts manages wallet user records: creation on first access,
// block lists and the follow graph.
package accounts

import (
	"context"
	"errors"
	"fmt"

	"github.com/R3E-Network/walletchat/internal/database"
	"github.com/R3E-Network/walletchat/internal/domain"
	"github.com/R3E-Network/walletchat/internal/domain/user"
	"github.com/R3E-Network/walletchat/internal/identity"
	"github.com/R3E-Network/walletchat/internal/lock"
	"github.com/R3E-Network/walletchat/pkg/logger"
)

// Service handles user lifecycle operations.
type Service struct {
	store    database.UserStore
	defaults user.Defaults
	locker   lock.Locker
	log      *logger.Logger
}

// New creates an accounts service.
func New(store database.UserStore, defaults user.Defaults, locker lock.Locker, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("accounts")
	}
	if locker == nil {
		locker = lock.NewMemory()
	}
	return &Service{store: store, defaults: defaults, locker: locker, log: log}
}

// Ensure returns the user for address, creating it with the configured
// defaults on first access.
func (s *Service) Ensure(ctx context.Context, address string) (*user.User, error) {
	if !identity.IsAddress(address) {
		return nil, fmt.Errorf("%w: %q", domain.ErrInvalidAddress, address)
	}
	u, err := s.store.GetUser(ctx, address)
	if err == nil {
		return u, nil
	}
	if !domain.IsNotFound(err) {
		return nil, err
	}

	u, err = s.store.CreateUser(ctx, address, s.defaults)
	if errors.Is(err, domain.ErrAlreadyExists) {
		// lost a creation race; the other caller's record wins
		return s.store.GetUser(ctx, address)
	}
	if err != nil {
		return nil, err
	}
	s.log.WithField("address", address).Info("user created")
	return u, nil
}

// Get returns an existing user.
func (s *Service) Get(ctx context.Context, address string) (*user.User, error) {
	if !identity.IsAddress(address) {
		return nil, fmt.Errorf("%w: %q", domain.ErrInvalidAddress, address)
	}
	return s.store.GetUser(ctx, address)
}

// Block adds target to the actor's block list. Blocking is one-directional:
// it only stops target from messaging actor.
func (s *Service) Block(ctx context.Context, actor, target string) (*user.User, error) {
	return s.updateBlocked(ctx, actor, target, true)
}

// Unblock removes target from the actor's block list.
func (s *Service) Unblock(ctx context.Context, actor, target string) (*user.User, error) {
	return s.updateBlocked(ctx, actor, target, false)
}

func (s *Service) updateBlocked(ctx context.Context, actor, target string, on bool) (*user.User, error) {
	if !identity.IsAddress(target) || actor == target {
		return nil, fmt.Errorf("%w: cannot block %q", domain.ErrInvalidAddress, target)
	}
	if _, err := s.Ensure(ctx, actor); err != nil {
		return nil, err
	}

	unlock, err := s.locker.Lock(ctx, lock.UserKey(actor))
	if err != nil {
		return nil, err
	}
	defer unlock()

	u, err := s.store.GetUser(ctx, actor)
	if err != nil {
		return nil, err
	}
	var blocked []string
	if on {
		blocked = user.AddUnique(append([]string(nil), u.Blocked...), target)
	} else {
		blocked = user.Remove(u.Blocked, target)
	}
	return s.store.SaveUser(ctx, actor, user.Update{Blocked: &blocked})
}

// Follow records follower -> followee on both records.
func (s *Service) Follow(ctx context.Context, follower, followee string) error {
	return s.setFollow(ctx, follower, followee, true)
}

// Unfollow removes follower -> followee from both records.
func (s *Service) Unfollow(ctx context.Context, follower, followee string) error {
	return s.setFollow(ctx, follower, followee, false)
}

func (s *Service) setFollow(ctx context.Context, follower, followee string, on bool) error {
	if follower == followee {
		return fmt.Errorf("%w: cannot follow self", domain.ErrInvalidAddress)
	}
	for _, addr := range []string{follower, followee} {
		if _, err := s.Ensure(ctx, addr); err != nil {
			return err
		}
	}
	return s.store.SetFollow(ctx, follower, followee, on)
}
