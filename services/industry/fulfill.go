package industry

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/ScrapCrafters/scrap_layer/internal/app/metrics"
	"github.com/ScrapCrafters/scrap_layer/internal/database"
	svcerrors "github.com/ScrapCrafters/scrap_layer/internal/errors"
	"github.com/ScrapCrafters/scrap_layer/internal/lock"
	"github.com/ScrapCrafters/scrap_layer/services/inventory"
	"github.com/ScrapCrafters/scrap_layer/services/profiles"
)

// FulfillResult reports a delivery and what the dealer was paid for it.
type FulfillResult struct {
	RequirementID    string  `json:"requirement_id"`
	FulfillmentID    string  `json:"fulfillment_id"`
	ActualKg         float64 `json:"actual_kg"`
	FulfilledKg      float64 `json:"fulfilled_kg"`
	RequiredKg       float64 `json:"required_kg"`
	RemainingKg      float64 `json:"remaining_kg"`
	Status           Status  `json:"status"`
	TotalCost        int64   `json:"total_cost"`
	CoinsTransferred int64   `json:"coins_transferred"`
	CoinsPending     int64   `json:"coins_pending"`
	PaymentTaskID    string  `json:"payment_task_id,omitempty"`
}

// Fulfill delivers up to quantityKg of a dealer's stock against a
// requirement. The delivery commits on its own; paying for it goes through a
// payment task that is settled once right away and retried later if the
// industry could not cover it. Payment problems never fail the delivery.
func (s *Service) Fulfill(ctx context.Context, requirementID, dealerID string, quantityKg float64) (FulfillResult, error) {
	log := s.log.WithContext(ctx).WithFields(map[string]interface{}{
		"requirement_id": requirementID,
		"dealer_id":      dealerID,
	})

	result, err := s.deliver(ctx, requirementID, dealerID, quantityKg)
	if err != nil {
		metrics.RecordFulfillment("rejected", 0)
		return FulfillResult{}, err
	}
	metrics.RecordFulfillment(string(result.Status), result.ActualKg)
	log.WithFields(map[string]interface{}{
		"actual_kg": result.ActualKg,
		"status":    result.Status,
	}).Info("requirement fulfilled")

	if result.PaymentTaskID == "" {
		return result, nil
	}
	settled, err := s.settle(ctx, result.PaymentTaskID, false)
	if err != nil {
		log.WithError(err).WithField("payment_task_id", result.PaymentTaskID).
			Warn("dealer payment deferred to retry")
		return result, nil
	}
	result.CoinsTransferred = settled.Transferred
	result.CoinsPending = settled.Task.Outstanding()
	return result, nil
}

// deliver runs the stock movement and bookkeeping as one transaction. The
// payment task is queued after that commits; losing it only leaves the
// delivery unpaid, never half-recorded.
func (s *Service) deliver(ctx context.Context, requirementID, dealerID string, quantityKg float64) (FulfillResult, error) {
	dealer, err := s.profiles.Get(ctx, dealerID)
	if err != nil {
		return FulfillResult{}, err
	}
	if dealer.Role != profiles.RoleDealer {
		return FulfillResult{}, svcerrors.PermissionDenied("only dealers can fulfill requirements")
	}

	req, err := s.requirement(ctx, requirementID)
	if err != nil {
		return FulfillResult{}, err
	}

	ctx, unlock, err := lock.Hold(ctx, s.locker,
		requirementLockKey(requirementID),
		inventory.LockKey(dealerID, req.ScrapType),
	)
	if err != nil {
		return FulfillResult{}, svcerrors.StorageUnavailable(err)
	}
	defer unlock()

	var (
		result   FulfillResult
		bill     Requirement
		delivery Fulfillment
	)
	err = database.RunInTx(ctx, s.store, func(ctx context.Context) error {
		req, err := s.requirement(ctx, requirementID)
		if err != nil {
			return err
		}
		if req.Status == StatusClosed {
			return svcerrors.AlreadyClosed("requirement is already closed")
		}

		remaining := decimal.NewFromFloat(req.RequiredKg).Sub(decimal.NewFromFloat(req.FulfilledKg))
		actual := decimal.Min(decimal.NewFromFloat(quantityKg), remaining)
		if !actual.IsPositive() {
			return svcerrors.NothingRemaining("requirement has nothing left to fulfill")
		}
		actualKg, _ := actual.Float64()

		if _, err := s.inventory.Debit(ctx, dealerID, req.ScrapType, actualKg); err != nil {
			return err
		}

		now := s.now().UTC()
		delivery = Fulfillment{
			ID:            uuid.NewString(),
			RequirementID: req.ID,
			DealerID:      dealerID,
			QuantityKg:    actualKg,
			Status:        "completed",
			CreatedAt:     now,
		}
		if err := s.store.Insert(ctx, FulfillmentsTable, delivery, nil); err != nil {
			return database.ServiceError(err, "fulfillment", delivery.ID)
		}

		var cost int64
		if req.PricePerKg != nil {
			cost = actual.Mul(decimal.NewFromFloat(*req.PricePerKg)).Floor().IntPart()
		}
		fulfilled := decimal.NewFromFloat(req.FulfilledKg).Add(actual)
		status := StatusPartiallyFulfilled
		if fulfilled.GreaterThanOrEqual(decimal.NewFromFloat(req.RequiredKg)) {
			status = StatusClosed
		}
		fulfilledKg, _ := fulfilled.Float64()

		var updated Requirement
		err = database.CompareAndSwap(ctx, s.store, RequirementsTable, req.ID,
			database.Expect{"status": req.Status, "fulfilled_kg": req.FulfilledKg},
			map[string]any{"fulfilled_kg": fulfilledKg, "status": status},
			&updated)
		if err != nil {
			return database.ServiceError(err, "requirement", req.ID)
		}

		result = FulfillResult{
			RequirementID: updated.ID,
			FulfillmentID: delivery.ID,
			ActualKg:      actualKg,
			FulfilledKg:   updated.FulfilledKg,
			RequiredKg:    updated.RequiredKg,
			RemainingKg:   updated.RemainingKg(),
			Status:        updated.Status,
			TotalCost:     cost,
			CoinsPending:  cost,
		}
		bill = req
		return nil
	})
	if err != nil {
		return FulfillResult{}, err
	}

	if result.TotalCost > 0 {
		task, err := s.queuePayment(ctx, bill, delivery, result.TotalCost, delivery.CreatedAt)
		if err != nil {
			s.log.WithContext(ctx).WithError(err).WithFields(map[string]interface{}{
				"requirement_id": result.RequirementID,
				"fulfillment_id": result.FulfillmentID,
				"amount_owed":    result.TotalCost,
			}).Warn("payment task not queued")
			return result, nil
		}
		result.PaymentTaskID = task.ID
	}
	return result, nil
}

func (s *Service) queuePayment(ctx context.Context, req Requirement, delivery Fulfillment, cost int64, now time.Time) (PaymentTask, error) {
	task := PaymentTask{
		ID:            uuid.NewString(),
		RequirementID: req.ID,
		FulfillmentID: delivery.ID,
		IndustryID:    req.IndustryID,
		DealerID:      delivery.DealerID,
		QuantityKg:    delivery.QuantityKg,
		AmountOwed:    cost,
		Status:        PaymentPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.store.Insert(ctx, PaymentsTable, task, nil); err != nil {
		return PaymentTask{}, database.ServiceError(err, "payment_task", task.ID)
	}
	return task, nil
}
