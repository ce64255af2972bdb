package messaging

import (
	"context"
	"fmt"

	"github.com/R3E-Network/walletchat/internal/domain"
	"github.com/R3E-Network/walletchat/internal/domain/chat"
	"github.com/R3E-Network/walletchat/internal/lock"
	"github.com/R3E-Network/walletchat/internal/poll"
)

// CreatePoll validates the poll before anything is charged, then posts it at
// the poll creation price.
func (s *Service) CreatePoll(ctx context.Context, conversationID, sender, question string, options []string, caption string) (*chat.Message, error) {
	p, err := poll.New(question, options)
	if err != nil {
		return nil, err
	}
	return s.PostMessage(ctx, conversationID, sender, chat.Payload{Poll: p, Caption: caption})
}

// Vote casts voter's choice on a poll message. A repeated vote leaves the
// poll unchanged and reports changed == false.
func (s *Service) Vote(ctx context.Context, messageID, voter, option string) (*chat.Message, bool, error) {
	unlock, err := s.locker.Lock(ctx, lock.MessageKey(messageID))
	if err != nil {
		return nil, false, err
	}
	defer unlock()

	msg, err := s.store.GetMessage(ctx, messageID)
	if err != nil {
		return nil, false, err
	}
	if msg.Payload.Poll == nil {
		return nil, false, fmt.Errorf("%w: message %s has no poll", domain.ErrInvalidPoll, messageID)
	}
	if _, err := s.Authorize(ctx, msg.ConversationID, voter); err != nil {
		return nil, false, err
	}

	p := msg.Payload.Poll.Clone()
	changed, err := poll.Vote(p, voter, option)
	if err != nil {
		return nil, false, err
	}
	s.metrics.RecordVote(changed)
	if !changed {
		return msg, false, nil
	}

	updated, err := s.store.UpdateMessage(ctx, messageID, chat.MessageUpdate{Poll: p})
	if err != nil {
		return nil, false, err
	}
	return updated, true, nil
}

// Tally returns the current results of a poll message to a member of its
// conversation.
func (s *Service) Tally(ctx context.Context, messageID, viewer string) ([]poll.Result, error) {
	msg, err := s.store.GetMessage(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if msg.Payload.Poll == nil {
		return nil, fmt.Errorf("%w: message %s has no poll", domain.ErrInvalidPoll, messageID)
	}
	if _, err := s.Authorize(ctx, msg.ConversationID, viewer); err != nil {
		return nil, err
	}
	return poll.Tally(msg.Payload.Poll), nil
}
