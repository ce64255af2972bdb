package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/R3E-Network/walletchat/internal/domain"
	"github.com/R3E-Network/walletchat/internal/domain/chat"
	"github.com/R3E-Network/walletchat/internal/domain/files"
	"github.com/R3E-Network/walletchat/internal/domain/ledger"
	"github.com/R3E-Network/walletchat/internal/domain/user"
)

// Tables, RPCs and settings keys used by the Supabase schema.
const (
	tableUsers         = "users"
	tableMessages      = "messages"
	tableConversations = "conversations"
	tableSettings      = "settings"
	tableCatalog       = "catalog_items"
	tableLedger        = "ledger_entries"

	rpcAdjustCredits = "adjust_credits"
	rpcSubscribePair = "subscribe_pair"
	rpcSetFollow     = "set_follow"
	rpcJoinGroup     = "join_group"

	settingCostSchedule = "cost_schedule"

	// raised by adjust_credits when the balance would go negative
	insufficientCreditsMarker = "insufficient_credits"
	pgNoDataFound             = "P0002"
	pgUniqueViolation         = "23505"
)

// Repository is the Supabase Backend. Nested fields are stored as jsonb and
// decoded straight into the domain types; normalization happens only here.
type Repository struct {
	client *Client
}

// NewRepository creates a new Supabase repository.
func NewRepository(client *Client) *Repository {
	return &Repository{client: client}
}

func (r *Repository) ready() error {
	if r == nil || r.client == nil {
		return fmt.Errorf("%w: repository not initialized", ErrInvalidInput)
	}
	return nil
}

// mapError converts Supabase failures into domain errors where the meaning is
// known and wraps everything else as ErrDatabaseError.
func mapError(op string, err error) error {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		switch {
		case strings.Contains(apiErr.Message, insufficientCreditsMarker):
			return fmt.Errorf("%w: %s", domain.ErrInsufficientCredits, op)
		case apiErr.Code == pgNoDataFound || apiErr.Status == http.StatusNotFound:
			return fmt.Errorf("%w: %s: %s", domain.ErrNotFound, op, apiErr.Message)
		case apiErr.Code == pgUniqueViolation || apiErr.Status == http.StatusConflict:
			return fmt.Errorf("%w: %s", domain.ErrAlreadyExists, op)
		}
	}
	return fmt.Errorf("%w: %s: %v", ErrDatabaseError, op, err)
}

func decodeRows[T any](op string, data []byte) ([]T, error) {
	var rows []T
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, fmt.Errorf("%w: unmarshal %s: %v", ErrDatabaseError, op, err)
	}
	return rows, nil
}

func eq(column, value string) string {
	return column + "=eq." + url.QueryEscape(value)
}

// UserStore -------------------------------------------------------------------

func normalizeUser(u *user.User) *user.User {
	if u.FileTree == nil {
		u.FileTree = files.NewRoot()
	}
	if u.Role == "" {
		u.Role = user.RoleUser
	}
	return u
}

func (r *Repository) GetUser(ctx context.Context, address string) (*user.User, error) {
	if err := r.ready(); err != nil {
		return nil, err
	}
	data, err := r.client.request(ctx, http.MethodGet, tableUsers, nil, eq("address", address)+"&limit=1")
	if err != nil {
		return nil, mapError("get user", err)
	}
	rows, err := decodeRows[user.User]("users", data)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, domain.NotFound("user", address)
	}
	return normalizeUser(&rows[0]), nil
}

type userInsert struct {
	Address         string      `json:"address"`
	Role            user.Role   `json:"role"`
	Credits         int64       `json:"credits"`
	StorageCapacity int64       `json:"storage_capacity"`
	StorageUsed     int64       `json:"storage_used"`
	FileTree        *files.Node `json:"file_tree"`
}

func (r *Repository) CreateUser(ctx context.Context, address string, defaults user.Defaults) (*user.User, error) {
	if err := r.ready(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(address) == "" {
		return nil, fmt.Errorf("%w: address cannot be empty", ErrInvalidInput)
	}
	u := user.New(address, defaults)
	data, err := r.client.request(ctx, http.MethodPost, tableUsers, userInsert{
		Address:         u.Address,
		Role:            u.Role,
		Credits:         u.Credits,
		StorageCapacity: u.StorageCapacity,
		FileTree:        u.FileTree,
	}, "")
	if err != nil {
		return nil, mapError("create user", err)
	}
	rows, err := decodeRows[user.User]("users", data)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: create user returned no rows", ErrDatabaseError)
	}
	return normalizeUser(&rows[0]), nil
}

func userColumns(upd user.Update) map[string]interface{} {
	cols := map[string]interface{}{}
	if upd.Role != nil {
		cols["role"] = *upd.Role
	}
	if upd.Items != nil {
		cols["items"] = *upd.Items
	}
	if upd.Conversations != nil {
		cols["conversations"] = *upd.Conversations
	}
	if upd.Blocked != nil {
		cols["blocked"] = *upd.Blocked
	}
	if upd.StorageCapacity != nil {
		cols["storage_capacity"] = *upd.StorageCapacity
	}
	if upd.StorageUsed != nil {
		cols["storage_used"] = *upd.StorageUsed
	}
	if upd.FileTree != nil {
		cols["file_tree"] = upd.FileTree
	}
	return cols
}

func (r *Repository) SaveUser(ctx context.Context, address string, upd user.Update) (*user.User, error) {
	if err := r.ready(); err != nil {
		return nil, err
	}
	cols := userColumns(upd)
	if len(cols) == 0 {
		return r.GetUser(ctx, address)
	}
	cols["updated_at"] = time.Now().UTC()

	data, err := r.client.request(ctx, http.MethodPatch, tableUsers, cols, eq("address", address))
	if err != nil {
		return nil, mapError("save user", err)
	}
	rows, err := decodeRows[user.User]("users", data)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, domain.NotFound("user", address)
	}
	return normalizeUser(&rows[0]), nil
}

func (r *Repository) AdjustCredits(ctx context.Context, address string, delta int64) (int64, error) {
	if err := r.ready(); err != nil {
		return 0, err
	}
	data, err := r.client.rpc(ctx, rpcAdjustCredits, map[string]interface{}{
		"p_address": address,
		"p_delta":   delta,
	})
	if err != nil {
		return 0, mapError("adjust credits", err)
	}
	result := gjson.ParseBytes(data)
	if result.IsArray() {
		result = result.Get("0")
	}
	if result.IsObject() {
		result = result.Get("credits")
	}
	if !result.Exists() || result.Type == gjson.Null {
		return 0, domain.NotFound("user", address)
	}
	if result.Type != gjson.Number {
		return 0, fmt.Errorf("%w: adjust credits: unexpected result %q", ErrDatabaseError, result.Raw)
	}
	return result.Int(), nil
}

func (r *Repository) SubscribePair(ctx context.Context, a, b string) error {
	if err := r.ready(); err != nil {
		return err
	}
	if _, err := r.client.rpc(ctx, rpcSubscribePair, map[string]string{"p_a": a, "p_b": b}); err != nil {
		return mapError("subscribe pair", err)
	}
	return nil
}

func (r *Repository) SetFollow(ctx context.Context, follower, followee string, on bool) error {
	if err := r.ready(); err != nil {
		return err
	}
	if _, err := r.client.rpc(ctx, rpcSetFollow, map[string]interface{}{
		"p_follower": follower,
		"p_followee": followee,
		"p_on":       on,
	}); err != nil {
		return mapError("set follow", err)
	}
	return nil
}

// MessageStore ----------------------------------------------------------------

type messageInsert struct {
	ConversationID string              `json:"conversation_id"`
	Sender         string              `json:"sender"`
	Payload        chat.Payload        `json:"payload"`
	Reactions      map[string][]string `json:"reactions"`
}

func normalizeMessage(m *chat.Message) *chat.Message {
	if m.Reactions == nil {
		m.Reactions = map[string][]string{}
	}
	return m
}

func (r *Repository) AppendMessage(ctx context.Context, msg chat.Message) (*chat.Message, error) {
	if err := r.ready(); err != nil {
		return nil, err
	}
	if msg.ConversationID == "" {
		return nil, fmt.Errorf("%w: conversation id cannot be empty", ErrInvalidInput)
	}
	reactions := msg.Reactions
	if reactions == nil {
		reactions = map[string][]string{}
	}
	data, err := r.client.request(ctx, http.MethodPost, tableMessages, messageInsert{
		ConversationID: msg.ConversationID,
		Sender:         msg.Sender,
		Payload:        msg.Payload,
		Reactions:      reactions,
	}, "")
	if err != nil {
		return nil, mapError("append message", err)
	}
	rows, err := decodeRows[chat.Message]("messages", data)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: append message returned no rows", ErrDatabaseError)
	}
	return normalizeMessage(&rows[0]), nil
}

func (r *Repository) GetMessage(ctx context.Context, id string) (*chat.Message, error) {
	if err := r.ready(); err != nil {
		return nil, err
	}
	data, err := r.client.request(ctx, http.MethodGet, tableMessages, nil, eq("id", id)+"&limit=1")
	if err != nil {
		return nil, mapError("get message", err)
	}
	rows, err := decodeRows[chat.Message]("messages", data)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, domain.NotFound("message", id)
	}
	return normalizeMessage(&rows[0]), nil
}

// UpdateMessage rewrites reactions and/or the payload. Callers serialize
// updates per message, so the read-apply-write here does not race.
func (r *Repository) UpdateMessage(ctx context.Context, id string, upd chat.MessageUpdate) (*chat.Message, error) {
	current, err := r.GetMessage(ctx, id)
	if err != nil {
		return nil, err
	}
	upd.Apply(current)

	cols := map[string]interface{}{}
	if upd.Reactions != nil {
		cols["reactions"] = current.Reactions
	}
	if upd.Poll != nil {
		cols["payload"] = current.Payload
	}
	if len(cols) == 0 {
		return current, nil
	}

	data, err := r.client.request(ctx, http.MethodPatch, tableMessages, cols, eq("id", id))
	if err != nil {
		return nil, mapError("update message", err)
	}
	rows, err := decodeRows[chat.Message]("messages", data)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, domain.NotFound("message", id)
	}
	return normalizeMessage(&rows[0]), nil
}

func (r *Repository) DeleteMessage(ctx context.Context, id string) error {
	if err := r.ready(); err != nil {
		return err
	}
	data, err := r.client.request(ctx, http.MethodDelete, tableMessages, nil, eq("id", id))
	if err != nil {
		return mapError("delete message", err)
	}
	if len(gjson.ParseBytes(data).Array()) == 0 {
		return domain.NotFound("message", id)
	}
	return nil
}

func (r *Repository) ListMessages(ctx context.Context, conversationID string, ascending bool) ([]chat.Message, error) {
	if err := r.ready(); err != nil {
		return nil, err
	}
	order := "created_at.asc,id.asc"
	if !ascending {
		order = "created_at.desc,id.desc"
	}
	data, err := r.client.request(ctx, http.MethodGet, tableMessages, nil, eq("conversation_id", conversationID)+"&order="+order)
	if err != nil {
		return nil, mapError("list messages", err)
	}
	rows, err := decodeRows[chat.Message]("messages", data)
	if err != nil {
		return nil, err
	}
	for i := range rows {
		normalizeMessage(&rows[i])
	}
	return rows, nil
}

// ConversationStore -----------------------------------------------------------

type conversationInsert struct {
	ID        string   `json:"id,omitempty"`
	Name      string   `json:"name"`
	Icon      string   `json:"icon,omitempty"`
	GateToken string   `json:"gate_token,omitempty"`
	Creator   string   `json:"creator"`
	Members   []string `json:"members"`
}

func (r *Repository) GetConversationMetadata(ctx context.Context, id string) (*chat.Conversation, error) {
	if err := r.ready(); err != nil {
		return nil, err
	}
	data, err := r.client.request(ctx, http.MethodGet, tableConversations, nil, eq("id", id)+"&limit=1")
	if err != nil {
		return nil, mapError("get conversation", err)
	}
	rows, err := decodeRows[chat.Conversation]("conversations", data)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return &rows[0], nil
}

func (r *Repository) CreateConversationMetadata(ctx context.Context, conv chat.Conversation) (*chat.Conversation, error) {
	if err := r.ready(); err != nil {
		return nil, err
	}
	members := conv.Members
	if members == nil {
		members = []string{}
	}
	data, err := r.client.request(ctx, http.MethodPost, tableConversations, conversationInsert{
		ID:        conv.ID,
		Name:      conv.Name,
		Icon:      conv.Icon,
		GateToken: conv.GateToken,
		Creator:   conv.Creator,
		Members:   members,
	}, "")
	if err != nil {
		return nil, mapError("create conversation", err)
	}
	rows, err := decodeRows[chat.Conversation]("conversations", data)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: create conversation returned no rows", ErrDatabaseError)
	}
	return &rows[0], nil
}

func (r *Repository) AddConversationMember(ctx context.Context, id, address string) (*chat.Conversation, error) {
	if err := r.ready(); err != nil {
		return nil, err
	}
	data, err := r.client.rpc(ctx, rpcJoinGroup, map[string]string{"p_group_id": id, "p_address": address})
	if err != nil {
		return nil, mapError("join group", err)
	}
	raw := gjson.ParseBytes(data)
	if raw.IsArray() {
		raw = raw.Get("0")
	}
	if !raw.IsObject() {
		return nil, domain.NotFound("conversation", id)
	}
	var conv chat.Conversation
	if err := json.Unmarshal([]byte(raw.Raw), &conv); err != nil {
		return nil, fmt.Errorf("%w: unmarshal conversation: %v", ErrDatabaseError, err)
	}
	return &conv, nil
}

// BlobStore -------------------------------------------------------------------

func (r *Repository) UploadBlob(ctx context.Context, path string, data []byte) (string, error) {
	if err := r.ready(); err != nil {
		return "", err
	}
	if path == "" {
		return "", fmt.Errorf("%w: blob path cannot be empty", ErrInvalidInput)
	}
	ref, err := r.client.uploadObject(ctx, path, data)
	if err != nil {
		return "", mapError("upload blob", err)
	}
	return ref, nil
}

func (r *Repository) DeleteBlob(ctx context.Context, ref string) error {
	if err := r.ready(); err != nil {
		return err
	}
	if err := r.client.deleteObject(ctx, ref); err != nil {
		return mapError("delete blob", err)
	}
	return nil
}

// SettingsStore ---------------------------------------------------------------

type settingRow struct {
	Key   string      `json:"key"`
	Value interface{} `json:"value"`
}

func (r *Repository) GetCostSchedule(ctx context.Context) (*ledger.CostSchedule, error) {
	if err := r.ready(); err != nil {
		return nil, err
	}
	data, err := r.client.request(ctx, http.MethodGet, tableSettings, nil, eq("key", settingCostSchedule)+"&select=value&limit=1")
	if err != nil {
		return nil, mapError("get cost schedule", err)
	}
	value := gjson.GetBytes(data, "0.value")
	if !value.Exists() || value.Type == gjson.Null {
		return nil, nil
	}
	var costs ledger.CostSchedule
	if err := json.Unmarshal([]byte(value.Raw), &costs); err != nil {
		return nil, fmt.Errorf("%w: unmarshal cost schedule: %v", ErrDatabaseError, err)
	}
	return &costs, nil
}

func (r *Repository) SaveCostSchedule(ctx context.Context, costs ledger.CostSchedule) error {
	if err := r.ready(); err != nil {
		return err
	}
	if _, err := r.client.upsert(ctx, tableSettings, settingRow{Key: settingCostSchedule, Value: costs}, "key"); err != nil {
		return mapError("save cost schedule", err)
	}
	return nil
}

func (r *Repository) ListCatalogItems(ctx context.Context) ([]user.FeatureItem, error) {
	if err := r.ready(); err != nil {
		return nil, err
	}
	data, err := r.client.request(ctx, http.MethodGet, tableCatalog, nil, "select=*&order=id.asc")
	if err != nil {
		return nil, mapError("list catalog", err)
	}
	return decodeRows[user.FeatureItem]("catalog_items", data)
}

// LedgerStore -----------------------------------------------------------------

func (r *Repository) AppendLedgerEntry(ctx context.Context, entry ledger.Entry) error {
	if err := r.ready(); err != nil {
		return err
	}
	if _, err := r.client.request(ctx, http.MethodPost, tableLedger, entry, ""); err != nil {
		return mapError("append ledger entry", err)
	}
	return nil
}

func (r *Repository) ListLedgerEntries(ctx context.Context, address string, limit int) ([]ledger.Entry, error) {
	if err := r.ready(); err != nil {
		return nil, err
	}
	query := eq("address", address) + "&order=created_at.desc"
	if limit > 0 {
		query += "&limit=" + strconv.Itoa(limit)
	}
	data, err := r.client.request(ctx, http.MethodGet, tableLedger, nil, query)
	if err != nil {
		return nil, mapError("list ledger entries", err)
	}
	return decodeRows[ledger.Entry]("ledger_entries", data)
}

// Ensure Repository implements Backend
var _ Backend = (*Repository)(nil)
