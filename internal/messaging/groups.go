package messaging

import (
	"context"
	"fmt"
	"strings"

	"github.com/R3E-Network/walletchat/internal/domain"
	"github.com/R3E-Network/walletchat/internal/domain/chat"
	model "github.com/R3E-Network/walletchat/internal/domain/ledger"
	"github.com/R3E-Network/walletchat/internal/domain/user"
	"github.com/R3E-Network/walletchat/internal/identity"
	"github.com/R3E-Network/walletchat/internal/lock"
)

// GroupSpec describes a group to create.
type GroupSpec struct {
	Name      string   `json:"name"`
	Icon      string   `json:"icon,omitempty"`
	GateToken string   `json:"gate_token,omitempty"`
	Members   []string `json:"members,omitempty"`
}

// CreateGroup charges the creator and creates a group holding the creator and
// the listed members. The charge is refunded if the group cannot be stored or
// the creator cannot be subscribed; other members are subscribed best effort.
func (s *Service) CreateGroup(ctx context.Context, creator string, spec GroupSpec) (*chat.Conversation, error) {
	name := strings.TrimSpace(spec.Name)
	if name == "" {
		return nil, fmt.Errorf("%w: group name is required", domain.ErrInvalidName)
	}
	members := []string{creator}
	for _, m := range spec.Members {
		if !identity.IsAddress(m) {
			return nil, fmt.Errorf("%w: member %q", domain.ErrInvalidAddress, m)
		}
		members = user.AddUnique(members, m)
	}
	for _, m := range members {
		if _, err := s.accounts.Ensure(ctx, m); err != nil {
			return nil, err
		}
	}

	unlock, err := s.locker.Lock(ctx, lock.UserKey(creator))
	if err != nil {
		return nil, err
	}
	defer unlock()

	pending, err := s.ledger.Propose(ctx, creator, model.ActionCreateGroup)
	if err != nil {
		return nil, err
	}

	conv, err := s.store.CreateConversationMetadata(ctx, chat.Conversation{
		ID:        identity.NewGroupID(),
		Name:      name,
		Icon:      strings.TrimSpace(spec.Icon),
		GateToken: strings.TrimSpace(spec.GateToken),
		Creator:   creator,
	})
	if err != nil {
		s.refund(ctx, pending.ID, "create group failed")
		return nil, fmt.Errorf("create group: %w", err)
	}
	if conv, err = s.store.AddConversationMember(ctx, conv.ID, creator); err != nil {
		s.refund(ctx, pending.ID, "subscribe creator failed")
		return nil, fmt.Errorf("subscribe creator: %w", err)
	}
	if _, err := s.ledger.Confirm(ctx, pending.ID); err != nil {
		s.log.WithError(err).WithField("pending", pending.ID).Warn("confirm debit")
	}

	for _, m := range members[1:] {
		updated, err := s.store.AddConversationMember(ctx, conv.ID, m)
		if err != nil {
			s.log.WithError(err).
				WithField("group", conv.ID).
				WithField("member", m).
				Warn("subscribe group member")
			continue
		}
		conv = updated
	}

	s.log.WithField("group", conv.ID).WithField("creator", creator).Info("group created")
	return conv, nil
}

// JoinGroup adds address to an existing group. Joining twice is a no-op.
func (s *Service) JoinGroup(ctx context.Context, groupID, address string) (*chat.Conversation, error) {
	if _, err := s.accounts.Ensure(ctx, address); err != nil {
		return nil, err
	}
	conv, err := s.store.GetConversationMetadata(ctx, groupID)
	if err != nil {
		return nil, err
	}
	if conv == nil {
		return nil, domain.NotFound("group", groupID)
	}
	return s.store.AddConversationMember(ctx, groupID, address)
}
