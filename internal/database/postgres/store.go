// Package postgres implements the Backend Adapter on PostgreSQL.
//
// Nested fields (items, lists, file tree, payloads, reactions) are stored as
// jsonb. Balance changes use a conditional UPDATE, and updates that touch two
// users run in one transaction.
package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/R3E-Network/walletchat/internal/database"
	"github.com/R3E-Network/walletchat/internal/domain"
	"github.com/R3E-Network/walletchat/internal/domain/chat"
	"github.com/R3E-Network/walletchat/internal/domain/files"
	"github.com/R3E-Network/walletchat/internal/domain/ledger"
	"github.com/R3E-Network/walletchat/internal/domain/user"
)

const (
	blobScheme          = "pg://"
	settingCostSchedule = "cost_schedule"
	pgUniqueViolation   = "23505"
)

// Store implements database.Backend backed by PostgreSQL.
type Store struct {
	db *sqlx.DB
}

var _ database.Backend = (*Store)(nil)

// New creates a Store using the provided database handle.
func New(db *sqlx.DB) *Store {
	return &Store{db: db}
}

//go:embed schema.sql
var schema string

// Open connects to dsn with the lib/pq driver and applies the schema.
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	store := New(db)
	if err := store.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// Migrate creates any missing tables and indexes. It is safe to run repeatedly.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return wrap("migrate", err)
	}
	return nil
}

// Close releases the connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

func wrap(op string, err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == pgUniqueViolation {
		return fmt.Errorf("%w: %s", domain.ErrAlreadyExists, op)
	}
	return fmt.Errorf("%w: %s: %v", database.ErrDatabaseError, op, err)
}

func toJSON(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}

func fromJSON(raw []byte, v interface{}) error {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	return json.Unmarshal(raw, v)
}

// --- UserStore ---------------------------------------------------------------

const userColumns = `address, role, credits, items, conversations, blocked, following, followers,
	storage_capacity, storage_used, file_tree, created_at, updated_at`

type userRow struct {
	Address         string    `db:"address"`
	Role            string    `db:"role"`
	Credits         int64     `db:"credits"`
	Items           []byte    `db:"items"`
	Conversations   []byte    `db:"conversations"`
	Blocked         []byte    `db:"blocked"`
	Following       []byte    `db:"following"`
	Followers       []byte    `db:"followers"`
	StorageCapacity int64     `db:"storage_capacity"`
	StorageUsed     int64     `db:"storage_used"`
	FileTree        []byte    `db:"file_tree"`
	CreatedAt       time.Time `db:"created_at"`
	UpdatedAt       time.Time `db:"updated_at"`
}

func (r userRow) toUser() (*user.User, error) {
	u := &user.User{
		Address:         r.Address,
		Role:            user.Role(r.Role),
		Credits:         r.Credits,
		StorageCapacity: r.StorageCapacity,
		StorageUsed:     r.StorageUsed,
		CreatedAt:       r.CreatedAt,
		UpdatedAt:       r.UpdatedAt,
	}
	for _, col := range []struct {
		raw []byte
		dst interface{}
	}{
		{r.Items, &u.Items},
		{r.Conversations, &u.Conversations},
		{r.Blocked, &u.Blocked},
		{r.Following, &u.Following},
		{r.Followers, &u.Followers},
		{r.FileTree, &u.FileTree},
	} {
		if err := fromJSON(col.raw, col.dst); err != nil {
			return nil, fmt.Errorf("%w: decode user %s: %v", database.ErrDatabaseError, r.Address, err)
		}
	}
	if u.FileTree == nil {
		u.FileTree = files.NewRoot()
	}
	if u.Role == "" {
		u.Role = user.RoleUser
	}
	return u, nil
}

func fromUser(u *user.User) (userRow, error) {
	row := userRow{
		Address:         u.Address,
		Role:            string(u.Role),
		Credits:         u.Credits,
		StorageCapacity: u.StorageCapacity,
		StorageUsed:     u.StorageUsed,
		CreatedAt:       u.CreatedAt,
		UpdatedAt:       u.UpdatedAt,
	}
	var err error
	lists := []struct {
		src interface{}
		dst *[]byte
	}{
		{nonNilItems(u.Items), &row.Items},
		{nonNil(u.Conversations), &row.Conversations},
		{nonNil(u.Blocked), &row.Blocked},
		{nonNil(u.Following), &row.Following},
		{nonNil(u.Followers), &row.Followers},
		{u.FileTree, &row.FileTree},
	}
	for _, l := range lists {
		if *l.dst, err = toJSON(l.src); err != nil {
			return userRow{}, err
		}
	}
	return row, nil
}

func nonNil(list []string) []string {
	if list == nil {
		return []string{}
	}
	return list
}

func nonNilItems(items []user.FeatureItem) []user.FeatureItem {
	if items == nil {
		return []user.FeatureItem{}
	}
	return items
}

func (s *Store) getUser(ctx context.Context, q sqlx.QueryerContext, address string, forUpdate bool) (*user.User, error) {
	query := `SELECT ` + userColumns + ` FROM wc_users WHERE address = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	var row userRow
	if err := sqlx.GetContext(ctx, q, &row, query, address); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.NotFound("user", address)
		}
		return nil, wrap("get user", err)
	}
	return row.toUser()
}

func (s *Store) GetUser(ctx context.Context, address string) (*user.User, error) {
	return s.getUser(ctx, s.db, address, false)
}

func (s *Store) CreateUser(ctx context.Context, address string, defaults user.Defaults) (*user.User, error) {
	if address == "" {
		return nil, fmt.Errorf("%w: address cannot be empty", database.ErrInvalidInput)
	}
	u := user.New(address, defaults)
	now := time.Now().UTC()
	u.CreatedAt, u.UpdatedAt = now, now

	row, err := fromUser(&u)
	if err != nil {
		return nil, err
	}
	_, err = s.db.NamedExecContext(ctx, `
		INSERT INTO wc_users (`+userColumns+`)
		VALUES (:address, :role, :credits, :items, :conversations, :blocked, :following, :followers,
			:storage_capacity, :storage_used, :file_tree, :created_at, :updated_at)
	`, row)
	if err != nil {
		return nil, wrap("create user", err)
	}
	return &u, nil
}

// SaveUser applies upd under a row lock. Credits are not written here.
func (s *Store) SaveUser(ctx context.Context, address string, upd user.Update) (*user.User, error) {
	var saved *user.User
	err := s.inTx(ctx, func(tx *sqlx.Tx) error {
		u, err := s.getUser(ctx, tx, address, true)
		if err != nil {
			return err
		}
		upd.Apply(u)
		u.UpdatedAt = time.Now().UTC()

		row, err := fromUser(u)
		if err != nil {
			return err
		}
		if _, err := tx.NamedExecContext(ctx, `
			UPDATE wc_users
			SET role = :role, items = :items, conversations = :conversations, blocked = :blocked,
				storage_capacity = :storage_capacity, storage_used = :storage_used,
				file_tree = :file_tree, updated_at = :updated_at
			WHERE address = :address
		`, row); err != nil {
			return wrap("save user", err)
		}
		saved = u
		return nil
	})
	return saved, err
}

func (s *Store) AdjustCredits(ctx context.Context, address string, delta int64) (int64, error) {
	var balance int64
	err := s.db.GetContext(ctx, &balance, `
		UPDATE wc_users
		SET credits = credits + $2, updated_at = $3
		WHERE address = $1 AND credits + $2 >= 0
		RETURNING credits
	`, address, delta, time.Now().UTC())
	if err == nil {
		return balance, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, wrap("adjust credits", err)
	}

	var exists bool
	if err := s.db.GetContext(ctx, &exists, `SELECT EXISTS(SELECT 1 FROM wc_users WHERE address = $1)`, address); err != nil {
		return 0, wrap("adjust credits", err)
	}
	if !exists {
		return 0, domain.NotFound("user", address)
	}
	return 0, fmt.Errorf("%w: %s", domain.ErrInsufficientCredits, address)
}

// addToList appends value to a jsonb string array unless already present.
func addToList(column string) string {
	return fmt.Sprintf(`
		UPDATE wc_users
		SET %[1]s = CASE WHEN %[1]s @> to_jsonb(ARRAY[$2::text]) THEN %[1]s ELSE %[1]s || to_jsonb(ARRAY[$2::text]) END,
			updated_at = now()
		WHERE address = $1`, column)
}

// removeFromList drops value from a jsonb string array.
func removeFromList(column string) string {
	return fmt.Sprintf(`
		UPDATE wc_users
		SET %[1]s = COALESCE((SELECT jsonb_agg(e) FROM jsonb_array_elements(%[1]s) e WHERE e <> to_jsonb($2::text)), '[]'::jsonb),
			updated_at = now()
		WHERE address = $1`, column)
}

func execOne(ctx context.Context, tx *sqlx.Tx, op, query, address, value string) error {
	res, err := tx.ExecContext(ctx, query, address, value)
	if err != nil {
		return wrap(op, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.NotFound("user", address)
	}
	return nil
}

func (s *Store) SubscribePair(ctx context.Context, a, b string) error {
	return s.inTx(ctx, func(tx *sqlx.Tx) error {
		if err := execOne(ctx, tx, "subscribe pair", addToList("conversations"), a, b); err != nil {
			return err
		}
		return execOne(ctx, tx, "subscribe pair", addToList("conversations"), b, a)
	})
}

func (s *Store) SetFollow(ctx context.Context, follower, followee string, on bool) error {
	following, followers := addToList("following"), addToList("followers")
	if !on {
		following, followers = removeFromList("following"), removeFromList("followers")
	}
	return s.inTx(ctx, func(tx *sqlx.Tx) error {
		if err := execOne(ctx, tx, "set follow", following, follower, followee); err != nil {
			return err
		}
		return execOne(ctx, tx, "set follow", followers, followee, follower)
	})
}

// --- MessageStore ------------------------------------------------------------

const messageColumns = `id, conversation_id, sender, created_at, payload, reactions`

type messageRow struct {
	ID             string    `db:"id"`
	ConversationID string    `db:"conversation_id"`
	Sender         string    `db:"sender"`
	CreatedAt      time.Time `db:"created_at"`
	Payload        []byte    `db:"payload"`
	Reactions      []byte    `db:"reactions"`
}

func (r messageRow) toMessage() (*chat.Message, error) {
	m := &chat.Message{ID: r.ID, ConversationID: r.ConversationID, Sender: r.Sender, CreatedAt: r.CreatedAt}
	if err := fromJSON(r.Payload, &m.Payload); err != nil {
		return nil, fmt.Errorf("%w: decode message %s: %v", database.ErrDatabaseError, r.ID, err)
	}
	if err := fromJSON(r.Reactions, &m.Reactions); err != nil {
		return nil, fmt.Errorf("%w: decode message %s: %v", database.ErrDatabaseError, r.ID, err)
	}
	if m.Reactions == nil {
		m.Reactions = map[string][]string{}
	}
	return m, nil
}

func (s *Store) AppendMessage(ctx context.Context, msg chat.Message) (*chat.Message, error) {
	if msg.ConversationID == "" {
		return nil, fmt.Errorf("%w: conversation id cannot be empty", database.ErrInvalidInput)
	}
	msg = msg.Clone()
	msg.ID = uuid.NewString()
	msg.CreatedAt = time.Now().UTC()
	if msg.Reactions == nil {
		msg.Reactions = map[string][]string{}
	}

	payload, err := toJSON(msg.Payload)
	if err != nil {
		return nil, err
	}
	reactions, err := toJSON(msg.Reactions)
	if err != nil {
		return nil, err
	}
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO wc_messages (`+messageColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, msg.ID, msg.ConversationID, msg.Sender, msg.CreatedAt, payload, reactions); err != nil {
		return nil, wrap("append message", err)
	}
	return &msg, nil
}

func (s *Store) getMessage(ctx context.Context, q sqlx.QueryerContext, id string, forUpdate bool) (*chat.Message, error) {
	query := `SELECT ` + messageColumns + ` FROM wc_messages WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	var row messageRow
	if err := sqlx.GetContext(ctx, q, &row, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.NotFound("message", id)
		}
		return nil, wrap("get message", err)
	}
	return row.toMessage()
}

func (s *Store) GetMessage(ctx context.Context, id string) (*chat.Message, error) {
	return s.getMessage(ctx, s.db, id, false)
}

func (s *Store) UpdateMessage(ctx context.Context, id string, upd chat.MessageUpdate) (*chat.Message, error) {
	var updated *chat.Message
	err := s.inTx(ctx, func(tx *sqlx.Tx) error {
		m, err := s.getMessage(ctx, tx, id, true)
		if err != nil {
			return err
		}
		upd.Apply(m)
		payload, err := toJSON(m.Payload)
		if err != nil {
			return err
		}
		reactions, err := toJSON(m.Reactions)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE wc_messages SET payload = $2, reactions = $3 WHERE id = $1
		`, id, payload, reactions); err != nil {
			return wrap("update message", err)
		}
		updated = m
		return nil
	})
	return updated, err
}

func (s *Store) DeleteMessage(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM wc_messages WHERE id = $1`, id)
	if err != nil {
		return wrap("delete message", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.NotFound("message", id)
	}
	return nil
}

func (s *Store) ListMessages(ctx context.Context, conversationID string, ascending bool) ([]chat.Message, error) {
	order := "ASC"
	if !ascending {
		order = "DESC"
	}
	var rows []messageRow
	if err := s.db.SelectContext(ctx, &rows, `
		SELECT `+messageColumns+`
		FROM wc_messages
		WHERE conversation_id = $1
		ORDER BY created_at `+order+`, id `+order, conversationID); err != nil {
		return nil, wrap("list messages", err)
	}
	out := make([]chat.Message, 0, len(rows))
	for _, row := range rows {
		m, err := row.toMessage()
		if err != nil {
			return nil, err
		}
		out = append(out, *m)
	}
	return out, nil
}

// --- ConversationStore -------------------------------------------------------

const conversationColumns = `id, name, icon, gate_token, creator, members, created_at`

type conversationRow struct {
	ID        string    `db:"id"`
	Name      string    `db:"name"`
	Icon      string    `db:"icon"`
	GateToken string    `db:"gate_token"`
	Creator   string    `db:"creator"`
	Members   []byte    `db:"members"`
	CreatedAt time.Time `db:"created_at"`
}

func (r conversationRow) toConversation() (*chat.Conversation, error) {
	c := &chat.Conversation{ID: r.ID, Name: r.Name, Icon: r.Icon, GateToken: r.GateToken, Creator: r.Creator, CreatedAt: r.CreatedAt}
	if err := fromJSON(r.Members, &c.Members); err != nil {
		return nil, fmt.Errorf("%w: decode conversation %s: %v", database.ErrDatabaseError, r.ID, err)
	}
	return c, nil
}

func (s *Store) GetConversationMetadata(ctx context.Context, id string) (*chat.Conversation, error) {
	var row conversationRow
	if err := s.db.GetContext(ctx, &row, `SELECT `+conversationColumns+` FROM wc_conversations WHERE id = $1`, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, wrap("get conversation", err)
	}
	return row.toConversation()
}

func (s *Store) CreateConversationMetadata(ctx context.Context, conv chat.Conversation) (*chat.Conversation, error) {
	conv = conv.Clone()
	if conv.ID == "" {
		conv.ID = uuid.NewString()
	}
	conv.CreatedAt = time.Now().UTC()
	members, err := toJSON(nonNil(conv.Members))
	if err != nil {
		return nil, err
	}
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO wc_conversations (`+conversationColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, conv.ID, conv.Name, conv.Icon, conv.GateToken, conv.Creator, members, conv.CreatedAt); err != nil {
		return nil, wrap("create conversation", err)
	}
	return &conv, nil
}

func (s *Store) AddConversationMember(ctx context.Context, id, address string) (*chat.Conversation, error) {
	var conv *chat.Conversation
	err := s.inTx(ctx, func(tx *sqlx.Tx) error {
		var row conversationRow
		if err := tx.GetContext(ctx, &row, `
			UPDATE wc_conversations
			SET members = CASE WHEN members @> to_jsonb(ARRAY[$2::text]) THEN members ELSE members || to_jsonb(ARRAY[$2::text]) END
			WHERE id = $1
			RETURNING `+conversationColumns, id, address); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return domain.NotFound("conversation", id)
			}
			return wrap("add member", err)
		}
		if err := execOne(ctx, tx, "add member", addToList("conversations"), address, id); err != nil {
			return err
		}
		var err error
		conv, err = row.toConversation()
		return err
	})
	return conv, err
}

// --- BlobStore ---------------------------------------------------------------

func (s *Store) UploadBlob(ctx context.Context, path string, data []byte) (string, error) {
	if path == "" {
		return "", fmt.Errorf("%w: blob path cannot be empty", database.ErrInvalidInput)
	}
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO wc_blobs (path, data, created_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (path) DO UPDATE SET data = EXCLUDED.data
	`, path, data, time.Now().UTC()); err != nil {
		return "", wrap("upload blob", err)
	}
	return blobScheme + path, nil
}

func (s *Store) DeleteBlob(ctx context.Context, ref string) error {
	path := strings.TrimPrefix(ref, blobScheme)
	if _, err := s.db.ExecContext(ctx, `DELETE FROM wc_blobs WHERE path = $1`, path); err != nil {
		return wrap("delete blob", err)
	}
	return nil
}

// --- SettingsStore -----------------------------------------------------------

func (s *Store) GetCostSchedule(ctx context.Context) (*ledger.CostSchedule, error) {
	var raw []byte
	if err := s.db.GetContext(ctx, &raw, `SELECT value FROM wc_settings WHERE key = $1`, settingCostSchedule); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, wrap("get cost schedule", err)
	}
	var costs ledger.CostSchedule
	if err := json.Unmarshal(raw, &costs); err != nil {
		return nil, fmt.Errorf("%w: decode cost schedule: %v", database.ErrDatabaseError, err)
	}
	return &costs, nil
}

func (s *Store) SaveCostSchedule(ctx context.Context, costs ledger.CostSchedule) error {
	raw, err := toJSON(costs)
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO wc_settings (key, value) VALUES ($1, $2)
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value
	`, settingCostSchedule, raw); err != nil {
		return wrap("save cost schedule", err)
	}
	return nil
}

type catalogRow struct {
	ID     string `db:"id"`
	Name   string `db:"name"`
	Kind   string `db:"kind"`
	Grants []byte `db:"grants"`
}

func (s *Store) ListCatalogItems(ctx context.Context) ([]user.FeatureItem, error) {
	var rows []catalogRow
	if err := s.db.SelectContext(ctx, &rows, `SELECT id, name, kind, grants FROM wc_catalog_items ORDER BY id`); err != nil {
		return nil, wrap("list catalog", err)
	}
	out := make([]user.FeatureItem, 0, len(rows))
	for _, row := range rows {
		item := user.FeatureItem{ID: row.ID, Name: row.Name, Kind: user.ItemKind(row.Kind)}
		if err := fromJSON(row.Grants, &item.Grants); err != nil {
			return nil, fmt.Errorf("%w: decode catalog item %s: %v", database.ErrDatabaseError, row.ID, err)
		}
		out = append(out, item)
	}
	return out, nil
}

// --- LedgerStore -------------------------------------------------------------

func (s *Store) AppendLedgerEntry(ctx context.Context, entry ledger.Entry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	if _, err := s.db.NamedExecContext(ctx, `
		INSERT INTO wc_ledger_entries (id, address, type, action, amount, balance_after, reference, created_at)
		VALUES (:id, :address, :type, :action, :amount, :balance_after, :reference, :created_at)
	`, entry); err != nil {
		return wrap("append ledger entry", err)
	}
	return nil
}

func (s *Store) ListLedgerEntries(ctx context.Context, address string, limit int) ([]ledger.Entry, error) {
	query := `
		SELECT id, address, type, action, amount, balance_after, reference, created_at
		FROM wc_ledger_entries
		WHERE address = $1
		ORDER BY created_at DESC`
	args := []interface{}{address}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}
	var entries []ledger.Entry
	if err := s.db.SelectContext(ctx, &entries, query, args...); err != nil {
		return nil, wrap("list ledger entries", err)
	}
	return entries, nil
}

// --- helpers -----------------------------------------------------------------

func (s *Store) inTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return wrap("begin tx", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return wrap("commit", err)
	}
	return nil
}
