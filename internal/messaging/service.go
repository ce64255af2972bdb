// Package messaging posts, lists and deletes conversation messages and keeps
// reactions, poll votes and group membership consistent.
package messaging

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/R3E-Network/walletchat/internal/accounts"
	"github.com/R3E-Network/walletchat/internal/database"
	"github.com/R3E-Network/walletchat/internal/domain"
	"github.com/R3E-Network/walletchat/internal/domain/chat"
	model "github.com/R3E-Network/walletchat/internal/domain/ledger"
	"github.com/R3E-Network/walletchat/internal/domain/user"
	"github.com/R3E-Network/walletchat/internal/identity"
	"github.com/R3E-Network/walletchat/internal/ledger"
	"github.com/R3E-Network/walletchat/internal/lock"
	"github.com/R3E-Network/walletchat/internal/metrics"
	"github.com/R3E-Network/walletchat/internal/poll"
	"github.com/R3E-Network/walletchat/pkg/logger"
)

// MaxTextLength bounds text and caption length in runes.
const MaxTextLength = 4000

// Store is the part of the backend messaging needs.
type Store interface {
	database.UserStore
	database.MessageStore
	database.ConversationStore
}

// Service implements the messaging engine.
type Service struct {
	store    Store
	accounts *accounts.Service
	ledger   *ledger.Manager
	locker   lock.Locker
	metrics  *metrics.Metrics
	log      *logger.Logger
}

// New creates a messaging service.
func New(store Store, accts *accounts.Service, led *ledger.Manager, locker lock.Locker, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("messaging")
	}
	if locker == nil {
		locker = lock.NewMemory()
	}
	return &Service{store: store, accounts: accts, ledger: led, locker: locker, log: log}
}

// AttachMetrics enables instrumentation.
func (s *Service) AttachMetrics(m *metrics.Metrics) {
	s.metrics = m
}

// ActionFor prices a payload. A poll takes precedence over an image, and an
// image over text.
func ActionFor(p chat.Payload) model.Action {
	switch {
	case p.Poll != nil:
		return model.ActionCreatePoll
	case p.HasImage():
		return model.ActionSendImage
	default:
		return model.ActionSendText
	}
}

func kindOf(p chat.Payload) string {
	switch ActionFor(p) {
	case model.ActionCreatePoll:
		return "poll"
	case model.ActionSendImage:
		return "image"
	default:
		return "text"
	}
}

// normalizePayload validates p and returns the form that is stored.
func normalizePayload(p chat.Payload) (chat.Payload, error) {
	p.Text = strings.TrimSpace(p.Text)
	p.Caption = strings.TrimSpace(p.Caption)
	if utf8.RuneCountInString(p.Text) > MaxTextLength || utf8.RuneCountInString(p.Caption) > MaxTextLength {
		return chat.Payload{}, fmt.Errorf("%w: text longer than %d characters", domain.ErrInvalidMessage, MaxTextLength)
	}

	if p.Poll != nil {
		if p.Text != "" || p.Image != nil {
			return chat.Payload{}, fmt.Errorf("%w: a poll cannot carry text or an image", domain.ErrInvalidMessage)
		}
		fresh, err := poll.New(p.Poll.Question, p.Poll.Options)
		if err != nil {
			return chat.Payload{}, err
		}
		p.Poll = fresh
		return p, nil
	}

	if p.Image != nil && !p.HasImage() {
		p.Image = nil
	}
	if !p.HasText() && !p.HasImage() {
		return chat.Payload{}, fmt.Errorf("%w: empty message", domain.ErrInvalidMessage)
	}
	if p.Caption != "" && !p.HasImage() {
		return chat.Payload{}, fmt.Errorf("%w: caption without image", domain.ErrInvalidMessage)
	}
	return p, nil
}

// Authorize checks that address may read and write conversationID. It returns
// the group metadata, or nil for a direct conversation.
func (s *Service) Authorize(ctx context.Context, conversationID, address string) (*chat.Conversation, error) {
	if identity.IsDirect(conversationID) {
		if _, ok := identity.Peer(conversationID, address); !ok {
			return nil, fmt.Errorf("%w: %s is not a participant", domain.ErrForbidden, address)
		}
		return nil, nil
	}
	conv, err := s.store.GetConversationMetadata(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if conv == nil {
		return nil, domain.NotFound("conversation", conversationID)
	}
	if !conv.HasMember(address) {
		return nil, fmt.Errorf("%w: %s is not a member", domain.ErrForbidden, address)
	}
	return conv, nil
}

// PostMessage charges the sender and appends payload to the conversation.
//
// For direct conversations the recipient's block list is checked before any
// debit, so a blocked send never costs credits. Both participants are
// subscribed to each other before the message is stored. Any failure after
// the debit refunds it.
func (s *Service) PostMessage(ctx context.Context, conversationID, sender string, payload chat.Payload) (*chat.Message, error) {
	payload, err := normalizePayload(payload)
	if err != nil {
		return nil, err
	}
	from, err := s.accounts.Ensure(ctx, sender)
	if err != nil {
		return nil, err
	}
	if _, err := s.Authorize(ctx, conversationID, sender); err != nil {
		return nil, err
	}

	var to *user.User
	if peer, ok := identity.Peer(conversationID, sender); ok {
		if to, err = s.accounts.Ensure(ctx, peer); err != nil {
			return nil, err
		}
		if to.HasBlocked(sender) {
			return nil, fmt.Errorf("%w: %s", domain.ErrRecipientBlocked, peer)
		}
	}

	unlock, err := s.locker.Lock(ctx, lock.UserKey(sender))
	if err != nil {
		return nil, err
	}
	defer unlock()

	action := ActionFor(payload)
	pending, err := s.ledger.Propose(ctx, sender, action)
	if err != nil {
		return nil, err
	}

	if to != nil && (!from.InConversation(to.Address) || !to.InConversation(sender)) {
		if err := s.store.SubscribePair(ctx, sender, to.Address); err != nil {
			s.refund(ctx, pending.ID, "subscribe failed")
			return nil, fmt.Errorf("subscribe pair: %w", err)
		}
	}

	msg, err := s.store.AppendMessage(ctx, chat.Message{
		ConversationID: conversationID,
		Sender:         sender,
		Payload:        payload,
		Reactions:      map[string][]string{},
	})
	if err != nil {
		s.refund(ctx, pending.ID, "append failed")
		return nil, fmt.Errorf("append message: %w", err)
	}

	if _, err := s.ledger.Confirm(ctx, pending.ID); err != nil {
		s.log.WithError(err).WithField("pending", pending.ID).Warn("confirm debit")
	}
	s.metrics.RecordMessage(kindOf(payload))
	return msg, nil
}

func (s *Service) refund(ctx context.Context, pendingID, reason string) {
	if _, err := s.ledger.Reject(ctx, pendingID, reason); err != nil {
		s.log.WithError(err).WithField("pending", pendingID).Error("refund debit")
	}
}

// SendDirect posts to the direct conversation between sender and recipient.
func (s *Service) SendDirect(ctx context.Context, sender, recipient string, payload chat.Payload) (*chat.Message, error) {
	id, err := identity.DirectConversationID(sender, recipient)
	if err != nil {
		return nil, err
	}
	return s.PostMessage(ctx, id, sender, payload)
}

// DeleteMessage removes a message. Only its sender or an operator may delete
// it; deleting a message that does not exist succeeds.
func (s *Service) DeleteMessage(ctx context.Context, actor, messageID string) error {
	msg, err := s.store.GetMessage(ctx, messageID)
	if domain.IsNotFound(err) {
		return nil
	}
	if err != nil {
		return err
	}

	if msg.Sender != actor {
		u, err := s.store.GetUser(ctx, actor)
		if err != nil && !domain.IsNotFound(err) {
			return err
		}
		if u == nil || !s.ledger.IsOperator(*u) {
			return fmt.Errorf("%w: only the sender can delete this message", domain.ErrForbidden)
		}
	}

	if err := s.store.DeleteMessage(ctx, messageID); err != nil && !domain.IsNotFound(err) {
		return err
	}
	s.log.WithField("message", messageID).WithField("actor", actor).Info("message deleted")
	return nil
}

// ListMessages returns a conversation's log, oldest first.
func (s *Service) ListMessages(ctx context.Context, conversationID string) ([]chat.Message, error) {
	return s.store.ListMessages(ctx, conversationID, true)
}
