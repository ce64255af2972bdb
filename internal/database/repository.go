// Package database defines the Backend Adapter contract and its implementations:
// an in-memory MockRepository, a Supabase Repository and a Composite that routes
// each concern to an explicit implementation.
package database

import (
	"context"
	"errors"

	"github.com/R3E-Network/walletchat/internal/domain/chat"
	"github.com/R3E-Network/walletchat/internal/domain/ledger"
	"github.com/R3E-Network/walletchat/internal/domain/user"
)

var (
	// ErrInvalidInput marks a request rejected before reaching storage.
	ErrInvalidInput = errors.New("invalid input")
	// ErrDatabaseError marks a storage failure.
	ErrDatabaseError = errors.New("database error")
)

// UserStore persists user records. Credits are only ever changed through
// AdjustCredits, which is atomic per user and never drives a balance negative.
type UserStore interface {
	GetUser(ctx context.Context, address string) (*user.User, error)
	CreateUser(ctx context.Context, address string, defaults user.Defaults) (*user.User, error)
	SaveUser(ctx context.Context, address string, upd user.Update) (*user.User, error)
	// AdjustCredits adds delta and returns the new balance. A negative result
	// fails with domain.ErrInsufficientCredits and leaves the balance unchanged.
	AdjustCredits(ctx context.Context, address string, delta int64) (int64, error)
	// SubscribePair puts each address on the other's conversation list as one unit.
	SubscribePair(ctx context.Context, a, b string) error
	// SetFollow adds or removes follower->followee on both records as one unit.
	SetFollow(ctx context.Context, follower, followee string, on bool) error
}

// MessageStore persists conversation logs. The store assigns ids and timestamps.
type MessageStore interface {
	AppendMessage(ctx context.Context, msg chat.Message) (*chat.Message, error)
	GetMessage(ctx context.Context, id string) (*chat.Message, error)
	UpdateMessage(ctx context.Context, id string, upd chat.MessageUpdate) (*chat.Message, error)
	DeleteMessage(ctx context.Context, id string) error
	ListMessages(ctx context.Context, conversationID string, ascending bool) ([]chat.Message, error)
}

// ConversationStore persists group metadata. GetConversationMetadata returns
// (nil, nil) for unknown ids since direct conversations have no metadata.
type ConversationStore interface {
	GetConversationMetadata(ctx context.Context, id string) (*chat.Conversation, error)
	CreateConversationMetadata(ctx context.Context, conv chat.Conversation) (*chat.Conversation, error)
	// AddConversationMember adds address to the group and the group to the
	// user's conversation list as one unit.
	AddConversationMember(ctx context.Context, id, address string) (*chat.Conversation, error)
}

// BlobStore keeps file contents outside the file tree.
type BlobStore interface {
	UploadBlob(ctx context.Context, path string, data []byte) (string, error)
	DeleteBlob(ctx context.Context, ref string) error
}

// SettingsStore holds process-wide configuration. GetCostSchedule returns
// (nil, nil) when no schedule is stored.
type SettingsStore interface {
	GetCostSchedule(ctx context.Context) (*ledger.CostSchedule, error)
	SaveCostSchedule(ctx context.Context, costs ledger.CostSchedule) error
	ListCatalogItems(ctx context.Context) ([]user.FeatureItem, error)
}

// LedgerStore keeps the append-only credit history.
type LedgerStore interface {
	AppendLedgerEntry(ctx context.Context, entry ledger.Entry) error
	// ListLedgerEntries returns newest first; limit <= 0 means no limit.
	ListLedgerEntries(ctx context.Context, address string, limit int) ([]ledger.Entry, error)
}

// Backend is the full adapter surface used by the services.
type Backend interface {
	UserStore
	MessageStore
	ConversationStore
	BlobStore
	SettingsStore
	LedgerStore
}
