package messaging

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/R3E-Network/walletchat/internal/domain"
	"github.com/R3E-Network/walletchat/internal/domain/chat"
	"github.com/R3E-Network/walletchat/internal/domain/user"
	"github.com/R3E-Network/walletchat/internal/lock"
)

// AddReaction records actor's emoji on a message. Reacting twice with the
// same emoji counts once.
func (s *Service) AddReaction(ctx context.Context, messageID, actor, emoji string) (*chat.Message, error) {
	return s.react(ctx, messageID, actor, emoji, true)
}

// RemoveReaction withdraws actor's emoji from a message.
func (s *Service) RemoveReaction(ctx context.Context, messageID, actor, emoji string) (*chat.Message, error) {
	return s.react(ctx, messageID, actor, emoji, false)
}

func (s *Service) react(ctx context.Context, messageID, actor, emoji string, on bool) (*chat.Message, error) {
	emoji = strings.TrimSpace(emoji)
	if emoji == "" {
		return nil, fmt.Errorf("%w: emoji is required", domain.ErrInvalidMessage)
	}

	unlock, err := s.locker.Lock(ctx, lock.MessageKey(messageID))
	if err != nil {
		return nil, err
	}
	defer unlock()

	msg, err := s.store.GetMessage(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if _, err := s.Authorize(ctx, msg.ConversationID, actor); err != nil {
		return nil, err
	}

	reactors := msg.Reactions[emoji]
	present := slices.Contains(reactors, actor)
	op := "add"
	if !on {
		op = "remove"
	}
	if present == on {
		s.metrics.RecordReaction(op, false)
		return msg, nil
	}

	reactions := make(map[string][]string, len(msg.Reactions)+1)
	for k, v := range msg.Reactions {
		reactions[k] = v
	}
	if on {
		reactions[emoji] = append(slices.Clone(reactors), actor)
	} else if rest := user.Remove(reactors, actor); len(rest) > 0 {
		reactions[emoji] = rest
	} else {
		delete(reactions, emoji)
	}

	updated, err := s.store.UpdateMessage(ctx, messageID, chat.MessageUpdate{Reactions: reactions})
	if err != nil {
		return nil, err
	}
	s.metrics.RecordReaction(op, true)
	return updated, nil
}
