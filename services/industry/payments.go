package industry

import (
	"context"
	"fmt"
	"time"

	"github.com/ScrapCrafters/scrap_layer/internal/app/metrics"
	"github.com/ScrapCrafters/scrap_layer/internal/database"
	svcerrors "github.com/ScrapCrafters/scrap_layer/internal/errors"
	"github.com/ScrapCrafters/scrap_layer/internal/lock"
	"github.com/ScrapCrafters/scrap_layer/services/coins"
	"github.com/ScrapCrafters/scrap_layer/services/ledger"
)

// PaymentStatus is the state of a payment task.
type PaymentStatus string

const (
	PaymentPending PaymentStatus = "pending"
	PaymentSettled PaymentStatus = "settled"
	PaymentFailed  PaymentStatus = "failed"
)

// PaymentTask is what an industry owes a dealer for one fulfillment.
// Attempts counts settlement errors; an industry that simply lacks the
// coins leaves the task pending without using an attempt.
type PaymentTask struct {
	ID            string        `json:"id"`
	RequirementID string        `json:"requirement_id"`
	FulfillmentID string        `json:"fulfillment_id"`
	IndustryID    string        `json:"industry_id"`
	DealerID      string        `json:"dealer_id"`
	QuantityKg    float64       `json:"quantity_kg"`
	AmountOwed    int64         `json:"amount_owed"`
	AmountPaid    int64         `json:"amount_paid"`
	Status        PaymentStatus `json:"status"`
	Attempts      int           `json:"attempts"`
	LastError     *string       `json:"last_error"`
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
}

// Outstanding is what is still owed.
func (p PaymentTask) Outstanding() int64 {
	if p.AmountPaid >= p.AmountOwed {
		return 0
	}
	return p.AmountOwed - p.AmountPaid
}

// SettleResult is the outcome of one settlement attempt.
type SettleResult struct {
	Task        PaymentTask `json:"task"`
	Transferred int64       `json:"transferred"`
}

// PaymentFilter narrows ListPayments. Empty fields match all.
type PaymentFilter struct {
	Status        PaymentStatus
	DealerID      string
	IndustryID    string
	RequirementID string
	Limit         int
}

// ListPayments returns payment tasks, oldest first.
func (s *Service) ListPayments(ctx context.Context, f PaymentFilter) ([]PaymentTask, error) {
	q := database.NewQuery()
	if f.Status != "" {
		q = q.Eq("status", f.Status)
	}
	if f.DealerID != "" {
		q = q.Eq("dealer_id", f.DealerID)
	}
	if f.IndustryID != "" {
		q = q.Eq("industry_id", f.IndustryID)
	}
	if f.RequirementID != "" {
		q = q.Eq("requirement_id", f.RequirementID)
	}
	var out []PaymentTask
	if err := s.store.Select(ctx, PaymentsTable, q.OrderBy("created_at", false).WithLimit(f.Limit), &out); err != nil {
		return nil, database.ServiceError(err, "payment_task", "")
	}
	return out, nil
}

// GetPayment loads one payment task.
func (s *Service) GetPayment(ctx context.Context, id string) (PaymentTask, error) {
	var task PaymentTask
	if err := s.store.Single(ctx, PaymentsTable, database.NewQuery().Eq("id", id), &task); err != nil {
		return PaymentTask{}, database.ServiceError(err, "payment_task", id)
	}
	return task, nil
}

// SettlePayment makes one settlement attempt on request. Failed tasks may be
// retried this way; settled ones are INVALID_STATE.
func (s *Service) SettlePayment(ctx context.Context, id string) (SettleResult, error) {
	return s.settle(ctx, id, true)
}

// RetrySummary counts the outcomes of a retry sweep.
type RetrySummary struct {
	Scanned int `json:"scanned"`
	Settled int `json:"settled"`
	Partial int `json:"partial"`
	Skipped int `json:"skipped"`
	Errored int `json:"errored"`
}

// RetryPending makes one settlement attempt on up to limit pending tasks,
// oldest first. Individual failures are counted, not returned.
func (s *Service) RetryPending(ctx context.Context, limit int) (RetrySummary, error) {
	tasks, err := s.ListPayments(ctx, PaymentFilter{Status: PaymentPending, Limit: limit})
	if err != nil {
		return RetrySummary{}, err
	}

	var sum RetrySummary
	for _, task := range tasks {
		if ctx.Err() != nil {
			break
		}
		sum.Scanned++
		res, err := s.settle(ctx, task.ID, false)
		switch {
		case err != nil:
			sum.Errored++
		case res.Task.Status == PaymentSettled:
			sum.Settled++
		case res.Transferred > 0:
			sum.Partial++
		default:
			sum.Skipped++
		}
	}
	return sum, nil
}

func paymentLockKey(id string) string {
	return lock.Key("payment", id)
}

// settle pays as much of the outstanding amount as the industry holds. A
// failure is recorded on the task before it is returned.
func (s *Service) settle(ctx context.Context, id string, manual bool) (SettleResult, error) {
	task, err := s.GetPayment(ctx, id)
	if err != nil {
		return SettleResult{}, err
	}
	if task.Status == PaymentSettled {
		if manual {
			return SettleResult{}, svcerrors.AlreadyClosed("payment is already settled")
		}
		return SettleResult{Task: task}, nil
	}

	ctx, unlock, err := lock.Hold(ctx, s.locker,
		paymentLockKey(task.ID),
		coins.LockKey(task.IndustryID),
		coins.LockKey(task.DealerID),
	)
	if err != nil {
		return SettleResult{}, svcerrors.StorageUnavailable(err)
	}
	defer unlock()

	var result SettleResult
	err = database.RunInTx(ctx, s.store, func(ctx context.Context) error {
		task, err := s.GetPayment(ctx, id)
		if err != nil {
			return err
		}
		if task.Status == PaymentSettled {
			result = SettleResult{Task: task}
			return nil
		}

		moved, err := s.coins.Transfer(ctx, coins.Transfer{
			From:        task.IndustryID,
			To:          task.DealerID,
			Amount:      task.Outstanding(),
			Mode:        coins.ClampToFunds,
			Type:        ledger.TypeRequirementPayment,
			ReferenceID: task.RequirementID,
			Describe: func(n int64) (string, string) {
				return fmt.Sprintf("Paid %d of %d coins for %v kg delivered", n, task.AmountOwed, task.QuantityKg),
					fmt.Sprintf("Received %d of %d coins for %v kg delivered", n, task.AmountOwed, task.QuantityKg)
			},
		})
		if err != nil {
			return err
		}

		paid := task.AmountPaid + moved.Amount
		status := PaymentPending
		if paid >= task.AmountOwed {
			status = PaymentSettled
		}
		patch := map[string]any{
			"amount_paid": paid,
			"status":      status,
			"last_error":  nil,
			"updated_at":  s.now().UTC(),
		}
		var updated PaymentTask
		err = database.CompareAndSwap(ctx, s.store, PaymentsTable, task.ID,
			database.Expect{"amount_paid": task.AmountPaid, "status": task.Status}, patch, &updated)
		if err != nil {
			return database.ServiceError(err, "payment_task", task.ID)
		}
		result = SettleResult{Task: updated, Transferred: moved.Amount}
		return nil
	})
	if err != nil {
		metrics.RecordPaymentTask("error")
		s.recordFailure(ctx, id, err)
		return SettleResult{}, err
	}

	switch {
	case result.Task.Status == PaymentSettled:
		metrics.RecordPaymentTask("settled")
	case result.Transferred > 0:
		metrics.RecordPaymentTask("partial")
	default:
		metrics.RecordPaymentTask("skipped")
	}
	return result, nil
}

// recordFailure bumps the attempt counter and fails the task once it runs
// out of attempts. It is best-effort: the settle error is what matters.
func (s *Service) recordFailure(ctx context.Context, id string, cause error) {
	log := s.log.WithContext(ctx).WithField("payment_task_id", id)

	task, err := s.GetPayment(ctx, id)
	if err != nil {
		log.WithError(err).Warn("could not load payment task to record failure")
		return
	}
	attempts := task.Attempts + 1
	status := task.Status
	if attempts >= s.maxAttempts {
		status = PaymentFailed
	}
	msg := cause.Error()
	patch := map[string]any{
		"attempts":   attempts,
		"status":     status,
		"last_error": msg,
		"updated_at": s.now().UTC(),
	}
	err = database.CompareAndSwap(ctx, s.store, PaymentsTable, id,
		database.Expect{"attempts": task.Attempts}, patch, nil)
	if err != nil {
		log.WithError(err).Warn("could not record payment failure")
		return
	}
	entry := log.WithError(cause).WithField("attempts", attempts)
	if status == PaymentFailed {
		entry.Error("payment task failed permanently")
	} else {
		entry.Warn("payment attempt failed")
	}
}
