package database

import (
	"context"
	"fmt"

	"github.com/R3E-Network/walletchat/internal/domain/chat"
	"github.com/R3E-Network/walletchat/internal/domain/ledger"
	"github.com/R3E-Network/walletchat/internal/domain/user"
)

// Composite routes each concern to the implementation named at construction.
// There is no fallback between implementations: an operation is served by
// exactly one store, and a failure is returned as-is.
type Composite struct {
	Users         UserStore
	Messages      MessageStore
	Conversations ConversationStore
	Blobs         BlobStore
	Settings      SettingsStore
	Ledger        LedgerStore
}

// NewComposite backs every concern with base.
func NewComposite(base Backend) *Composite {
	return &Composite{
		Users:         base,
		Messages:      base,
		Conversations: base,
		Blobs:         base,
		Settings:      base,
		Ledger:        base,
	}
}

// WithBlobs returns a copy that stores blobs in b.
func (c *Composite) WithBlobs(b BlobStore) *Composite {
	out := *c
	out.Blobs = b
	return &out
}

// Validate fails if any concern has no implementation.
func (c *Composite) Validate() error {
	missing := map[string]bool{
		"users":         c.Users == nil,
		"messages":      c.Messages == nil,
		"conversations": c.Conversations == nil,
		"blobs":         c.Blobs == nil,
		"settings":      c.Settings == nil,
		"ledger":        c.Ledger == nil,
	}
	for name, isMissing := range missing {
		if isMissing {
			return fmt.Errorf("%w: composite backend has no %s store", ErrInvalidInput, name)
		}
	}
	return nil
}

func (c *Composite) GetUser(ctx context.Context, address string) (*user.User, error) {
	return c.Users.GetUser(ctx, address)
}

func (c *Composite) CreateUser(ctx context.Context, address string, defaults user.Defaults) (*user.User, error) {
	return c.Users.CreateUser(ctx, address, defaults)
}

func (c *Composite) SaveUser(ctx context.Context, address string, upd user.Update) (*user.User, error) {
	return c.Users.SaveUser(ctx, address, upd)
}

func (c *Composite) AdjustCredits(ctx context.Context, address string, delta int64) (int64, error) {
	return c.Users.AdjustCredits(ctx, address, delta)
}

func (c *Composite) SubscribePair(ctx context.Context, a, b string) error {
	return c.Users.SubscribePair(ctx, a, b)
}

func (c *Composite) SetFollow(ctx context.Context, follower, followee string, on bool) error {
	return c.Users.SetFollow(ctx, follower, followee, on)
}

func (c *Composite) AppendMessage(ctx context.Context, msg chat.Message) (*chat.Message, error) {
	return c.Messages.AppendMessage(ctx, msg)
}

func (c *Composite) GetMessage(ctx context.Context, id string) (*chat.Message, error) {
	return c.Messages.GetMessage(ctx, id)
}

func (c *Composite) UpdateMessage(ctx context.Context, id string, upd chat.MessageUpdate) (*chat.Message, error) {
	return c.Messages.UpdateMessage(ctx, id, upd)
}

func (c *Composite) DeleteMessage(ctx context.Context, id string) error {
	return c.Messages.DeleteMessage(ctx, id)
}

func (c *Composite) ListMessages(ctx context.Context, conversationID string, ascending bool) ([]chat.Message, error) {
	return c.Messages.ListMessages(ctx, conversationID, ascending)
}

func (c *Composite) GetConversationMetadata(ctx context.Context, id string) (*chat.Conversation, error) {
	return c.Conversations.GetConversationMetadata(ctx, id)
}

func (c *Composite) CreateConversationMetadata(ctx context.Context, conv chat.Conversation) (*chat.Conversation, error) {
	return c.Conversations.CreateConversationMetadata(ctx, conv)
}

func (c *Composite) AddConversationMember(ctx context.Context, id, address string) (*chat.Conversation, error) {
	return c.Conversations.AddConversationMember(ctx, id, address)
}

func (c *Composite) UploadBlob(ctx context.Context, path string, data []byte) (string, error) {
	return c.Blobs.UploadBlob(ctx, path, data)
}

func (c *Composite) DeleteBlob(ctx context.Context, ref string) error {
	return c.Blobs.DeleteBlob(ctx, ref)
}

func (c *Composite) GetCostSchedule(ctx context.Context) (*ledger.CostSchedule, error) {
	return c.Settings.GetCostSchedule(ctx)
}

func (c *Composite) SaveCostSchedule(ctx context.Context, costs ledger.CostSchedule) error {
	return c.Settings.SaveCostSchedule(ctx, costs)
}

func (c *Composite) ListCatalogItems(ctx context.Context) ([]user.FeatureItem, error) {
	return c.Settings.ListCatalogItems(ctx)
}

func (c *Composite) AppendLedgerEntry(ctx context.Context, entry ledger.Entry) error {
	return c.Ledger.AppendLedgerEntry(ctx, entry)
}

func (c *Composite) ListLedgerEntries(ctx context.Context, address string, limit int) ([]ledger.Entry, error) {
	return c.Ledger.ListLedgerEntries(ctx, address, limit)
}

var _ Backend = (*Composite)(nil)
