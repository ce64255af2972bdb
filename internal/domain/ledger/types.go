// Package ledger defines the credit ledger schema: cost schedule, history
// entries and pending debits.
package ledger

import "time"

// Action is a chargeable user action.
type Action string

const (
	ActionSendText    Action = "text"
	ActionSendImage   Action = "image"
	ActionCreateGroup Action = "group_creation"
	ActionCreatePoll  Action = "poll_creation"
	ActionMintItem    Action = "item_mint"
)

// CostSchedule prices every chargeable action in credits.
type CostSchedule struct {
	Text          int64 `json:"text" yaml:"text"`
	Image         int64 `json:"image" yaml:"image"`
	GroupCreation int64 `json:"group_creation" yaml:"group_creation"`
	PollCreation  int64 `json:"poll_creation" yaml:"poll_creation"`
	ItemMint      int64 `json:"item_mint" yaml:"item_mint"`
}

// DefaultCostSchedule is used when no schedule is configured anywhere.
func DefaultCostSchedule() CostSchedule {
	return CostSchedule{
		Text:          1,
		Image:         3,
		GroupCreation: 100,
		PollCreation:  5,
		ItemMint:      50,
	}
}

// Cost returns the price of action. Unknown actions are free.
func (c CostSchedule) Cost(action Action) int64 {
	switch action {
	case ActionSendText:
		return c.Text
	case ActionSendImage:
		return c.Image
	case ActionCreateGroup:
		return c.GroupCreation
	case ActionCreatePoll:
		return c.PollCreation
	case ActionMintItem:
		return c.ItemMint
	default:
		return 0
	}
}

// Valid reports whether every cost is non-negative.
func (c CostSchedule) Valid() bool {
	return c.Text >= 0 && c.Image >= 0 && c.GroupCreation >= 0 && c.PollCreation >= 0 && c.ItemMint >= 0
}

// EntryType classifies a ledger history entry.
type EntryType string

const (
	EntryDebit  EntryType = "debit"
	EntryCredit EntryType = "credit"
	EntryRefund EntryType = "refund"
)

// Entry is one append-only line of a user's credit history.
type Entry struct {
	ID           string    `json:"id" db:"id"`
	Address      string    `json:"address" db:"address"`
	Type         EntryType `json:"type" db:"type"`
	Action       Action    `json:"action,omitempty" db:"action"`
	Amount       int64     `json:"amount" db:"amount"`
	BalanceAfter int64     `json:"balance_after" db:"balance_after"`
	Reference    string    `json:"reference,omitempty" db:"reference"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
}

// PendingStatus is the lifecycle state of a proposed debit.
type PendingStatus string

const (
	PendingOpen     PendingStatus = "pending"
	PendingApplied  PendingStatus = "applied"
	PendingRejected PendingStatus = "rejected"
)

// Pending is a debit taken ahead of a domain mutation that is not yet confirmed.
// Waived pendings belong to users with unlimited access and carry no amount.
type Pending struct {
	ID        string        `json:"id"`
	Address   string        `json:"address"`
	Action    Action        `json:"action"`
	Amount    int64         `json:"amount"`
	Waived    bool          `json:"waived"`
	Status    PendingStatus `json:"status"`
	Reason    string        `json:"reason,omitempty"`
	CreatedAt time.Time     `json:"created_at"`
}
