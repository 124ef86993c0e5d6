// Package ledger is the append-only record of coin movements.
package ledger

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/ScrapCrafters/scrap_layer/internal/database"
	svcerrors "github.com/ScrapCrafters/scrap_layer/internal/errors"
)

// Table is the record store table holding ledger entries.
const Table = "transactions"

// Type tags why coins moved.
type Type string

const (
	TypeDonationReward     Type = "donation_reward"
	TypePickupCost         Type = "pickup_cost"
	TypePurchase           Type = "purchase"
	TypeRequirementPayment Type = "requirement_payment"
	TypeContractPayment    Type = "contract_payment"
)

// Transaction is one immutable ledger entry. Amount is signed: credits are
// positive, debits negative.
type Transaction struct {
	ID          string    `json:"id"`
	UserID      string    `json:"user_id"`
	Amount      int64     `json:"amount"`
	Type        Type      `json:"type"`
	ReferenceID *string   `json:"reference_id"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"created_at"`
}

// Entry is the input to Record.
type Entry struct {
	UserID      string
	Amount      int64
	Type        Type
	ReferenceID string
	Description string
}

// Ledger appends and reads entries. It has no update or delete operations.
type Ledger struct {
	store database.RecordStore
	now   func() time.Time
}

// New creates a ledger over store.
func New(store database.RecordStore) *Ledger {
	return &Ledger{store: store, now: time.Now}
}

// Record appends one entry. It fails only when the store does.
func (l *Ledger) Record(ctx context.Context, e Entry) (Transaction, error) {
	if e.UserID == "" {
		return Transaction{}, svcerrors.InvalidInput("user_id", "ledger entry needs a user")
	}
	tx := Transaction{
		ID:          uuid.NewString(),
		UserID:      e.UserID,
		Amount:      e.Amount,
		Type:        e.Type,
		Description: e.Description,
		CreatedAt:   l.now().UTC(),
	}
	if e.ReferenceID != "" {
		ref := e.ReferenceID
		tx.ReferenceID = &ref
	}

	var out Transaction
	if err := l.store.Insert(ctx, Table, tx, &out); err != nil {
		return Transaction{}, database.ServiceError(err, "transaction", tx.ID)
	}
	return out, nil
}

// History lists a user's entries, newest first.
func (l *Ledger) History(ctx context.Context, userID string, limit int) ([]Transaction, error) {
	q := database.NewQuery().Eq("user_id", userID).OrderBy("created_at", true).WithLimit(limit)
	var out []Transaction
	if err := l.store.Select(ctx, Table, q, &out); err != nil {
		return nil, database.ServiceError(err, "transaction", "")
	}
	return out, nil
}

// ByReference lists entries caused by one entity, oldest first.
func (l *Ledger) ByReference(ctx context.Context, referenceID string) ([]Transaction, error) {
	q := database.NewQuery().Eq("reference_id", referenceID).OrderBy("created_at", false)
	var out []Transaction
	if err := l.store.Select(ctx, Table, q, &out); err != nil {
		return nil, database.ServiceError(err, "transaction", "")
	}
	return out, nil
}

// Sum totals every entry for a user.
func (l *Ledger) Sum(ctx context.Context, userID string) (int64, int, error) {
	var rows []struct {
		Amount int64 `json:"amount"`
	}
	if err := l.store.Select(ctx, Table, database.NewQuery().Eq("user_id", userID), &rows); err != nil {
		return 0, 0, database.ServiceError(err, "transaction", "")
	}
	var total int64
	for _, r := range rows {
		total += r.Amount
	}
	return total, len(rows), nil
}
