// Package coins applies Scrap Coin balance changes and records each one in
// the ledger.
//
// The profile balance is authoritative. The ledger is the audit trail, and
// Reconcile reports any drift between the two without correcting it.
package coins

import (
	"context"
	"fmt"

	"github.com/ScrapCrafters/scrap_layer/internal/app/metrics"
	"github.com/ScrapCrafters/scrap_layer/internal/database"
	svcerrors "github.com/ScrapCrafters/scrap_layer/internal/errors"
	"github.com/ScrapCrafters/scrap_layer/internal/lock"
	"github.com/ScrapCrafters/scrap_layer/internal/logging"
	"github.com/ScrapCrafters/scrap_layer/services/ledger"
	"github.com/ScrapCrafters/scrap_layer/services/profiles"
)

// maxSwapAttempts bounds re-reads after a lost balance compare-and-swap.
const maxSwapAttempts = 3

// Mode controls what a debit does when the balance cannot cover it.
type Mode int

const (
	// Unchecked applies the delta as-is; the balance may go negative.
	Unchecked Mode = iota
	// RequireFunds rejects a debit that would leave a negative balance.
	RequireFunds
	// ClampToFunds shrinks a debit to whatever the balance holds.
	ClampToFunds
)

func (m Mode) String() string {
	switch m {
	case Unchecked:
		return "unchecked"
	case RequireFunds:
		return "require_funds"
	case ClampToFunds:
		return "clamp_to_funds"
	}
	return fmt.Sprintf("mode(%d)", int(m))
}

// Service is the balance mutator.
type Service struct {
	store    database.RecordStore
	profiles *profiles.Repository
	ledger   *ledger.Ledger
	locker   lock.Locker
	log      *logging.Logger
}

// New creates a coin service.
func New(store database.RecordStore, profileRepo *profiles.Repository, l *ledger.Ledger, locker lock.Locker, log *logging.Logger) *Service {
	return &Service{store: store, profiles: profileRepo, ledger: l, locker: locker, log: log}
}

// LockKey is the lock guarding a user's balance.
func LockKey(userID string) string {
	return lock.Key("profile", userID)
}

// Ledger exposes the underlying ledger for reads.
func (s *Service) Ledger() *ledger.Ledger {
	return s.ledger
}

// Balance returns a user's current balance.
func (s *Service) Balance(ctx context.Context, userID string) (int64, error) {
	p, err := s.profiles.Get(ctx, userID)
	if err != nil {
		return 0, err
	}
	return p.ScrapCoins, nil
}

// Adjust sets balance to current+delta and returns the new balance. It does
// not check sufficiency and writes no ledger entry; callers that need either
// use Move.
func (s *Service) Adjust(ctx context.Context, userID string, delta int64) (int64, error) {
	ctx, unlock, err := lock.Hold(ctx, s.locker, LockKey(userID))
	if err != nil {
		return 0, svcerrors.StorageUnavailable(err)
	}
	defer unlock()

	_, next, err := s.apply(ctx, userID, delta, Unchecked)
	return next, err
}

// apply performs the guarded read-modify-write and returns the applied
// delta and the resulting balance.
func (s *Service) apply(ctx context.Context, userID string, delta int64, mode Mode) (int64, int64, error) {
	for attempt := 1; ; attempt++ {
		p, err := s.profiles.Get(ctx, userID)
		if err != nil {
			return 0, 0, err
		}
		current := p.ScrapCoins

		applied := delta
		if delta < 0 {
			switch mode {
			case RequireFunds:
				if current+delta < 0 {
					return 0, current, svcerrors.InsufficientFunds(-delta, current)
				}
			case ClampToFunds:
				if current+delta < 0 {
					applied = -max(current, 0)
				}
			}
		}
		if applied == 0 {
			return 0, current, nil
		}

		err = s.profiles.SwapBalance(ctx, userID, current, current+applied)
		if err == nil {
			return applied, current + applied, nil
		}
		if !database.IsConflict(err) {
			return 0, current, database.ServiceError(err, "profile", userID)
		}
		if attempt >= maxSwapAttempts {
			return 0, current, svcerrors.ConcurrentUpdate("profile")
		}
		s.log.WithContext(ctx).WithField("user_id", userID).Debug("balance changed underneath, re-reading")
	}
}

// Movement is a single-account balance change.
type Movement struct {
	UserID      string
	Amount      int64
	Mode        Mode
	Type        ledger.Type
	ReferenceID string
	Description string
}

// Applied reports what a movement actually did.
type Applied struct {
	Amount      int64               `json:"amount"`
	Balance     int64               `json:"balance"`
	Transaction *ledger.Transaction `json:"transaction,omitempty"`
}

// Move changes one balance and appends the matching ledger entry. A movement
// that applies zero coins writes nothing.
func (s *Service) Move(ctx context.Context, m Movement) (Applied, error) {
	ctx, unlock, err := lock.Hold(ctx, s.locker, LockKey(m.UserID))
	if err != nil {
		return Applied{}, svcerrors.StorageUnavailable(err)
	}
	defer unlock()

	var result Applied
	err = database.RunInTx(ctx, s.store, func(ctx context.Context) error {
		applied, balance, err := s.apply(ctx, m.UserID, m.Amount, m.Mode)
		if err != nil {
			return err
		}
		result = Applied{Amount: applied, Balance: balance}
		if applied == 0 {
			return nil
		}
		tx, err := s.ledger.Record(ctx, ledger.Entry{
			UserID:      m.UserID,
			Amount:      applied,
			Type:        m.Type,
			ReferenceID: m.ReferenceID,
			Description: m.Description,
		})
		if err != nil {
			return err
		}
		result.Transaction = &tx
		return nil
	})
	if err != nil {
		return Applied{}, err
	}
	metrics.RecordCoins(string(m.Type), result.Amount)
	return result, nil
}

// Transfer moves coins between two accounts.
type Transfer struct {
	From        string
	To          string
	Amount      int64
	Mode        Mode
	Type        ledger.Type
	ReferenceID string
	// Describe renders the debit and credit descriptions for the amount
	// actually moved.
	Describe func(amount int64) (debit, credit string)
}

// TransferResult reports a transfer's outcome.
type TransferResult struct {
	Amount      int64 `json:"amount"`
	FromBalance int64 `json:"from_balance"`
	ToBalance   int64 `json:"to_balance"`
}

// Transfer debits From under t.Mode and credits To with whatever was
// debited. Both sides are ledgered with t.Type. If nothing could be debited
// the transfer is a no-op.
func (s *Service) Transfer(ctx context.Context, t Transfer) (TransferResult, error) {
	if t.Amount < 0 {
		return TransferResult{}, svcerrors.InvalidQuantity("transfer amount must not be negative")
	}
	if t.From == t.To {
		return TransferResult{}, svcerrors.InvalidInput("to", "cannot transfer to the same account")
	}

	ctx, unlock, err := lock.Hold(ctx, s.locker, LockKey(t.From), LockKey(t.To))
	if err != nil {
		return TransferResult{}, svcerrors.StorageUnavailable(err)
	}
	defer unlock()

	var result TransferResult
	err = database.RunInTx(ctx, s.store, func(ctx context.Context) error {
		debit, err := s.prepare(ctx, t)
		if err != nil {
			return err
		}
		out, err := s.Move(ctx, debit)
		if err != nil {
			return err
		}
		result.FromBalance = out.Balance
		result.Amount = -out.Amount
		if result.Amount == 0 {
			return nil
		}

		_, creditDesc := describe(t, result.Amount)
		in, err := s.Move(ctx, Movement{
			UserID:      t.To,
			Amount:      result.Amount,
			Mode:        Unchecked,
			Type:        t.Type,
			ReferenceID: t.ReferenceID,
			Description: creditDesc,
		})
		if err != nil {
			return err
		}
		result.ToBalance = in.Balance
		return nil
	})
	if err != nil {
		return TransferResult{}, err
	}
	return result, nil
}

// prepare builds the debit movement. For clamped transfers the description
// must name the clamped amount, so the balance is read first; the lock held
// by Transfer keeps that read current.
func (s *Service) prepare(ctx context.Context, t Transfer) (Movement, error) {
	amount := t.Amount
	if t.Mode == ClampToFunds {
		balance, err := s.Balance(ctx, t.From)
		if err != nil {
			return Movement{}, err
		}
		amount = min(amount, max(balance, 0))
	}
	debitDesc, _ := describe(t, amount)
	return Movement{
		UserID:      t.From,
		Amount:      -amount,
		Mode:        t.Mode,
		Type:        t.Type,
		ReferenceID: t.ReferenceID,
		Description: debitDesc,
	}, nil
}

func describe(t Transfer, amount int64) (string, string) {
	if t.Describe != nil {
		return t.Describe(amount)
	}
	return fmt.Sprintf("Sent %d coins to %s", amount, t.To),
		fmt.Sprintf("Received %d coins from %s", amount, t.From)
}

// Reconciliation compares a stored balance with its ledger.
type Reconciliation struct {
	UserID      string `json:"user_id"`
	Balance     int64  `json:"balance"`
	LedgerTotal int64  `json:"ledger_total"`
	Entries     int    `json:"entries"`
	Drift       int64  `json:"drift"`
	Consistent  bool   `json:"consistent"`
}

// Reconcile reports balance minus ledger total for a user. It never writes.
func (s *Service) Reconcile(ctx context.Context, userID string) (Reconciliation, error) {
	balance, err := s.Balance(ctx, userID)
	if err != nil {
		return Reconciliation{}, err
	}
	total, n, err := s.ledger.Sum(ctx, userID)
	if err != nil {
		return Reconciliation{}, err
	}
	r := Reconciliation{
		UserID:      userID,
		Balance:     balance,
		LedgerTotal: total,
		Entries:     n,
		Drift:       balance - total,
	}
	r.Consistent = r.Drift == 0
	if !r.Consistent {
		s.log.WithContext(ctx).WithFields(map[string]interface{}{
			"user_id":      userID,
			"balance":      balance,
			"ledger_total": total,
		}).Warn("balance drifted from ledger")
	}
	return r, nil
}
