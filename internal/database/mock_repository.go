package database

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/R3E-Network/walletchat/internal/domain"
	"github.com/R3E-Network/walletchat/internal/domain/chat"
	"github.com/R3E-Network/walletchat/internal/domain/files"
	"github.com/R3E-Network/walletchat/internal/domain/ledger"
	"github.com/R3E-Network/walletchat/internal/domain/user"
)

const memoryBlobScheme = "mem://"

// MockRepository is an in-memory Backend. Each instance is independent and
// reads return copies, so callers never alias stored state. A single mutex
// guards everything including the injected errors.
type MockRepository struct {
	mu sync.Mutex

	users         map[string]*user.User
	messages      map[string]*storedMessage
	conversations map[string]*chat.Conversation
	blobs         map[string][]byte
	ledger        map[string][]ledger.Entry
	costs         *ledger.CostSchedule
	catalog       []user.FeatureItem
	seq           int64

	// Error injection for testing error paths
	ErrorOnNextCall error
	// FailOn makes every call to the named method fail with the given error
	// until cleared.
	FailOn map[string]error
}

type storedMessage struct {
	msg chat.Message
	seq int64
}

// NewMockRepository creates an empty repository.
func NewMockRepository() *MockRepository {
	m := &MockRepository{}
	m.resetLocked()
	return m
}

// checkError returns and clears any injected error.
func (m *MockRepository) checkError(method string) error {
	if m.ErrorOnNextCall != nil {
		err := m.ErrorOnNextCall
		m.ErrorOnNextCall = nil
		return err
	}
	if err, ok := m.FailOn[method]; ok {
		return err
	}
	return nil
}

// Reset clears all data in the mock repository.
func (m *MockRepository) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resetLocked()
}

func (m *MockRepository) resetLocked() {
	m.users = make(map[string]*user.User)
	m.messages = make(map[string]*storedMessage)
	m.conversations = make(map[string]*chat.Conversation)
	m.blobs = make(map[string][]byte)
	m.ledger = make(map[string][]ledger.Entry)
	m.costs = nil
	m.catalog = nil
	m.ErrorOnNextCall = nil
	m.FailOn = make(map[string]error)
}

// InjectError sets ErrorOnNextCall under the repository lock.
func (m *MockRepository) InjectError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ErrorOnNextCall = err
}

// FailMethod makes method fail with err until ClearFailures is called.
func (m *MockRepository) FailMethod(method string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.FailOn[method] = err
}

// ClearFailures drops all injected errors.
func (m *MockRepository) ClearFailures() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ErrorOnNextCall = nil
	m.FailOn = make(map[string]error)
}

// SetCatalog replaces the feature-item catalog.
func (m *MockRepository) SetCatalog(items []user.FeatureItem) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.catalog = slices.Clone(items)
}

// Blob returns stored blob content by reference.
func (m *MockRepository) Blob(ref string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.blobs[ref]
	return slices.Clone(data), ok
}

// BlobCount returns the number of stored blobs.
func (m *MockRepository) BlobCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.blobs)
}

// UserStore -------------------------------------------------------------------

func (m *MockRepository) GetUser(_ context.Context, address string) (*user.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkError("GetUser"); err != nil {
		return nil, err
	}
	u, ok := m.users[address]
	if !ok {
		return nil, domain.NotFound("user", address)
	}
	out := u.Clone()
	return &out, nil
}

func (m *MockRepository) CreateUser(_ context.Context, address string, defaults user.Defaults) (*user.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkError("CreateUser"); err != nil {
		return nil, err
	}
	if strings.TrimSpace(address) == "" {
		return nil, fmt.Errorf("%w: address cannot be empty", ErrInvalidInput)
	}
	if _, exists := m.users[address]; exists {
		return nil, fmt.Errorf("%w: user %s", domain.ErrAlreadyExists, address)
	}
	u := user.New(address, defaults)
	now := time.Now().UTC()
	u.CreatedAt, u.UpdatedAt = now, now
	m.users[address] = &u
	out := u.Clone()
	return &out, nil
}

func (m *MockRepository) SaveUser(_ context.Context, address string, upd user.Update) (*user.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkError("SaveUser"); err != nil {
		return nil, err
	}
	u, ok := m.users[address]
	if !ok {
		return nil, domain.NotFound("user", address)
	}
	upd.Apply(u)
	u.UpdatedAt = time.Now().UTC()
	out := u.Clone()
	return &out, nil
}

func (m *MockRepository) AdjustCredits(_ context.Context, address string, delta int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkError("AdjustCredits"); err != nil {
		return 0, err
	}
	u, ok := m.users[address]
	if !ok {
		return 0, domain.NotFound("user", address)
	}
	if u.Credits+delta < 0 {
		return u.Credits, fmt.Errorf("%w: balance %d, required %d", domain.ErrInsufficientCredits, u.Credits, -delta)
	}
	u.Credits += delta
	u.UpdatedAt = time.Now().UTC()
	return u.Credits, nil
}

func (m *MockRepository) SubscribePair(_ context.Context, a, b string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkError("SubscribePair"); err != nil {
		return err
	}
	ua, ok := m.users[a]
	if !ok {
		return domain.NotFound("user", a)
	}
	ub, ok := m.users[b]
	if !ok {
		return domain.NotFound("user", b)
	}
	ua.Conversations = user.AddUnique(ua.Conversations, b)
	ub.Conversations = user.AddUnique(ub.Conversations, a)
	return nil
}

func (m *MockRepository) SetFollow(_ context.Context, follower, followee string, on bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkError("SetFollow"); err != nil {
		return err
	}
	uf, ok := m.users[follower]
	if !ok {
		return domain.NotFound("user", follower)
	}
	ue, ok := m.users[followee]
	if !ok {
		return domain.NotFound("user", followee)
	}
	if on {
		uf.Following = user.AddUnique(uf.Following, followee)
		ue.Followers = user.AddUnique(ue.Followers, follower)
	} else {
		uf.Following = user.Remove(uf.Following, followee)
		ue.Followers = user.Remove(ue.Followers, follower)
	}
	return nil
}

// MessageStore ----------------------------------------------------------------

func (m *MockRepository) AppendMessage(_ context.Context, msg chat.Message) (*chat.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkError("AppendMessage"); err != nil {
		return nil, err
	}
	if msg.ConversationID == "" {
		return nil, fmt.Errorf("%w: conversation id cannot be empty", ErrInvalidInput)
	}
	msg = msg.Clone()
	msg.ID = uuid.NewString()
	msg.CreatedAt = time.Now().UTC()
	if msg.Reactions == nil {
		msg.Reactions = map[string][]string{}
	}
	m.seq++
	m.messages[msg.ID] = &storedMessage{msg: msg, seq: m.seq}
	out := msg.Clone()
	return &out, nil
}

func (m *MockRepository) GetMessage(_ context.Context, id string) (*chat.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkError("GetMessage"); err != nil {
		return nil, err
	}
	stored, ok := m.messages[id]
	if !ok {
		return nil, domain.NotFound("message", id)
	}
	out := stored.msg.Clone()
	return &out, nil
}

func (m *MockRepository) UpdateMessage(_ context.Context, id string, upd chat.MessageUpdate) (*chat.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkError("UpdateMessage"); err != nil {
		return nil, err
	}
	stored, ok := m.messages[id]
	if !ok {
		return nil, domain.NotFound("message", id)
	}
	upd.Apply(&stored.msg)
	out := stored.msg.Clone()
	return &out, nil
}

func (m *MockRepository) DeleteMessage(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkError("DeleteMessage"); err != nil {
		return err
	}
	if _, ok := m.messages[id]; !ok {
		return domain.NotFound("message", id)
	}
	delete(m.messages, id)
	return nil
}

func (m *MockRepository) ListMessages(_ context.Context, conversationID string, ascending bool) ([]chat.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkError("ListMessages"); err != nil {
		return nil, err
	}
	var stored []*storedMessage
	for _, s := range m.messages {
		if s.msg.ConversationID == conversationID {
			stored = append(stored, s)
		}
	}
	sort.Slice(stored, func(i, j int) bool {
		if ascending {
			return stored[i].seq < stored[j].seq
		}
		return stored[i].seq > stored[j].seq
	})
	out := make([]chat.Message, 0, len(stored))
	for _, s := range stored {
		out = append(out, s.msg.Clone())
	}
	return out, nil
}

// ConversationStore -----------------------------------------------------------

func (m *MockRepository) GetConversationMetadata(_ context.Context, id string) (*chat.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkError("GetConversationMetadata"); err != nil {
		return nil, err
	}
	conv, ok := m.conversations[id]
	if !ok {
		return nil, nil
	}
	out := conv.Clone()
	return &out, nil
}

func (m *MockRepository) CreateConversationMetadata(_ context.Context, conv chat.Conversation) (*chat.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkError("CreateConversationMetadata"); err != nil {
		return nil, err
	}
	if conv.ID == "" {
		conv.ID = uuid.NewString()
	}
	if _, exists := m.conversations[conv.ID]; exists {
		return nil, fmt.Errorf("%w: conversation %s", domain.ErrAlreadyExists, conv.ID)
	}
	conv = conv.Clone()
	conv.CreatedAt = time.Now().UTC()
	m.conversations[conv.ID] = &conv
	out := conv.Clone()
	return &out, nil
}

func (m *MockRepository) AddConversationMember(_ context.Context, id, address string) (*chat.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkError("AddConversationMember"); err != nil {
		return nil, err
	}
	conv, ok := m.conversations[id]
	if !ok {
		return nil, domain.NotFound("conversation", id)
	}
	u, ok := m.users[address]
	if !ok {
		return nil, domain.NotFound("user", address)
	}
	conv.Members = user.AddUnique(conv.Members, address)
	u.Conversations = user.AddUnique(u.Conversations, id)
	out := conv.Clone()
	return &out, nil
}

// BlobStore -------------------------------------------------------------------

func (m *MockRepository) UploadBlob(_ context.Context, path string, data []byte) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkError("UploadBlob"); err != nil {
		return "", err
	}
	if path == "" {
		return "", fmt.Errorf("%w: blob path cannot be empty", ErrInvalidInput)
	}
	ref := memoryBlobScheme + path
	m.blobs[ref] = slices.Clone(data)
	return ref, nil
}

func (m *MockRepository) DeleteBlob(_ context.Context, ref string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkError("DeleteBlob"); err != nil {
		return err
	}
	delete(m.blobs, ref)
	return nil
}

// SettingsStore ---------------------------------------------------------------

func (m *MockRepository) GetCostSchedule(_ context.Context) (*ledger.CostSchedule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkError("GetCostSchedule"); err != nil {
		return nil, err
	}
	if m.costs == nil {
		return nil, nil
	}
	out := *m.costs
	return &out, nil
}

func (m *MockRepository) SaveCostSchedule(_ context.Context, costs ledger.CostSchedule) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkError("SaveCostSchedule"); err != nil {
		return err
	}
	m.costs = &costs
	return nil
}

func (m *MockRepository) ListCatalogItems(_ context.Context) ([]user.FeatureItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkError("ListCatalogItems"); err != nil {
		return nil, err
	}
	out := make([]user.FeatureItem, len(m.catalog))
	for i, item := range m.catalog {
		item.Grants = slices.Clone(item.Grants)
		out[i] = item
	}
	return out, nil
}

// LedgerStore -----------------------------------------------------------------

func (m *MockRepository) AppendLedgerEntry(_ context.Context, entry ledger.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkError("AppendLedgerEntry"); err != nil {
		return err
	}
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	m.ledger[entry.Address] = append(m.ledger[entry.Address], entry)
	return nil
}

func (m *MockRepository) ListLedgerEntries(_ context.Context, address string, limit int) ([]ledger.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkError("ListLedgerEntries"); err != nil {
		return nil, err
	}
	entries := m.ledger[address]
	out := make([]ledger.Entry, 0, len(entries))
	for i := len(entries) - 1; i >= 0; i-- {
		out = append(out, entries[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// PutUser stores u, replacing any existing record. Intended for test setup.
func (m *MockRepository) PutUser(u user.User) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u.FileTree == nil {
		u.FileTree = files.NewRoot()
	}
	c := u.Clone()
	m.users[u.Address] = &c
}

// Ensure MockRepository implements Backend
var _ Backend = (*MockRepository)(nil)
