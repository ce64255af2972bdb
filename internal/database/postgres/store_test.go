package postgres

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/R3E-Network/walletchat/internal/domain"
	"github.com/R3E-Network/walletchat/internal/domain/chat"
	"github.com/R3E-Network/walletchat/internal/domain/user"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock new: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return New(sqlx.NewDb(db, "postgres")), mock
}

var userCols = []string{
	"address", "role", "credits", "items", "conversations", "blocked", "following", "followers",
	"storage_capacity", "storage_used", "file_tree", "created_at", "updated_at",
}

func TestGetUserDecodesJSONColumns(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`SELECT address, role, credits .* FROM wc_users WHERE address = \$1`).
		WithArgs("addr1").
		WillReturnRows(sqlmock.NewRows(userCols).AddRow(
			"addr1", "operator", int64(12),
			[]byte(`[{"id":"unlimited-pass","name":"Pass","kind":"feature","grants":["unlimited_access"]}]`),
			[]byte(`["peer"]`), []byte(`[]`), []byte(`null`), []byte(`[]`),
			int64(1000), int64(100),
			[]byte(`{"kind":"folder","id":"root","name":"","children":[{"kind":"file","id":"f","name":"a","size":100}]}`),
			now, now,
		))

	u, err := store.GetUser(context.Background(), "addr1")
	if err != nil {
		t.Fatalf("GetUser: %v", err)
	}
	if u.Role != user.RoleOperator || u.Credits != 12 || !u.HasGrant(user.GrantUnlimitedAccess) {
		t.Fatalf("unexpected user: %+v", u)
	}
	if len(u.Conversations) != 1 || u.Following != nil {
		t.Fatalf("unexpected lists: %+v", u)
	}
	if u.FileTree == nil || len(u.FileTree.Children) != 1 {
		t.Fatalf("file tree not decoded: %+v", u.FileTree)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestGetUserNotFound(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectQuery(`FROM wc_users`).WithArgs("nobody").WillReturnError(sql.ErrNoRows)

	if _, err := store.GetUser(context.Background(), "nobody"); !domain.IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestAdjustCredits(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(`UPDATE wc_users\s+SET credits = credits \+ \$2`).
		WithArgs("a", int64(-1), sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"credits"}).AddRow(int64(49)))

	balance, err := store.AdjustCredits(context.Background(), "a", -1)
	if err != nil {
		t.Fatalf("AdjustCredits: %v", err)
	}
	if balance != 49 {
		t.Fatalf("expected 49, got %d", balance)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestAdjustCreditsInsufficient(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(`UPDATE wc_users`).
		WithArgs("c", int64(-5), sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"credits"}))
	mock.ExpectQuery(`SELECT EXISTS`).WithArgs("c").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	if _, err := store.AdjustCredits(context.Background(), "c", -5); !errors.Is(err, domain.ErrInsufficientCredits) {
		t.Fatalf("expected insufficient credits, got %v", err)
	}

	mock.ExpectQuery(`UPDATE wc_users`).
		WithArgs("ghost", int64(-5), sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"credits"}))
	mock.ExpectQuery(`SELECT EXISTS`).WithArgs("ghost").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))

	if _, err := store.AdjustCredits(context.Background(), "ghost", -5); !domain.IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestSubscribePairCommitsBothSides(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE wc_users\s+SET conversations`).WithArgs("a", "b").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE wc_users\s+SET conversations`).WithArgs("b", "a").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	if err := store.SubscribePair(context.Background(), "a", "b"); err != nil {
		t.Fatalf("SubscribePair: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestSubscribePairRollsBackOnMissingUser(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE wc_users`).WithArgs("a", "ghost").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE wc_users`).WithArgs("ghost", "a").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	if err := store.SubscribePair(context.Background(), "a", "ghost"); !domain.IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestSetFollowOffUsesRemoval(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`SET following = COALESCE`).WithArgs("a", "b").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`SET followers = COALESCE`).WithArgs("b", "a").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	if err := store.SetFollow(context.Background(), "a", "b", false); err != nil {
		t.Fatalf("SetFollow: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestAppendMessageAssignsIDAndTimestamp(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec(`INSERT INTO wc_messages`).
		WithArgs(sqlmock.AnyArg(), "c1", "s", sqlmock.AnyArg(), sqlmock.AnyArg(), []byte(`{}`)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	msg, err := store.AppendMessage(context.Background(), chat.Message{ConversationID: "c1", Sender: "s", Payload: chat.Payload{Text: "hi"}})
	if err != nil {
		t.Fatalf("AppendMessage: %v", err)
	}
	if msg.ID == "" || msg.CreatedAt.IsZero() {
		t.Fatalf("expected assigned id and timestamp: %+v", msg)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestDeleteMessageMissing(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectExec(`DELETE FROM wc_messages`).WithArgs("m1").WillReturnResult(sqlmock.NewResult(0, 0))

	if err := store.DeleteMessage(context.Background(), "m1"); !domain.IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestConversationMetadata(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(`FROM wc_conversations`).WithArgs("dm").WillReturnError(sql.ErrNoRows)
	conv, err := store.GetConversationMetadata(context.Background(), "dm")
	if err != nil || conv != nil {
		t.Fatalf("expected nil metadata, got %v %v", conv, err)
	}

	mock.ExpectExec(`INSERT INTO wc_conversations`).WillReturnError(&pq.Error{Code: "23505"})
	if _, err := store.CreateConversationMetadata(context.Background(), chat.Conversation{ID: "g1", Name: "G"}); !errors.Is(err, domain.ErrAlreadyExists) {
		t.Fatalf("expected already exists, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestCostScheduleRoundTrip(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(`SELECT value FROM wc_settings`).WithArgs("cost_schedule").WillReturnError(sql.ErrNoRows)
	costs, err := store.GetCostSchedule(context.Background())
	if err != nil || costs != nil {
		t.Fatalf("expected no schedule, got %v %v", costs, err)
	}

	mock.ExpectQuery(`SELECT value FROM wc_settings`).WithArgs("cost_schedule").
		WillReturnRows(sqlmock.NewRows([]string{"value"}).AddRow([]byte(`{"text":2,"image":6,"group_creation":1,"poll_creation":1,"item_mint":1}`)))
	costs, err = store.GetCostSchedule(context.Background())
	if err != nil {
		t.Fatalf("GetCostSchedule: %v", err)
	}
	if costs.Text != 2 || costs.Image != 6 {
		t.Fatalf("unexpected schedule: %+v", costs)
	}
}

func TestListLedgerEntriesLimit(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now().UTC()

	mock.ExpectQuery(`FROM wc_ledger_entries\s+WHERE address = \$1\s+ORDER BY created_at DESC LIMIT \$2`).
		WithArgs("a", 5).
		WillReturnRows(sqlmock.NewRows([]string{"id", "address", "type", "action", "amount", "balance_after", "reference", "created_at"}).
			AddRow("e1", "a", "debit", "text", int64(1), int64(49), "m1", now))

	entries, err := store.ListLedgerEntries(context.Background(), "a", 5)
	if err != nil {
		t.Fatalf("ListLedgerEntries: %v", err)
	}
	if len(entries) != 1 || entries[0].BalanceAfter != 49 || entries[0].Action != "text" {
		t.Fatalf("unexpected entries: %+v", entries)
	}
}

func TestMigrateAppliesSchema(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS wc_users`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	if err := store.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate: %v", err)
	}

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS wc_users`).
		WillReturnError(errors.New("permission denied"))
	if err := store.Migrate(context.Background()); err == nil {
		t.Fatal("expected migrate error")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}
