// Package inventory tracks per-dealer stock of each material in kilograms.
package inventory

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/ScrapCrafters/scrap_layer/internal/database"
	svcerrors "github.com/ScrapCrafters/scrap_layer/internal/errors"
	"github.com/ScrapCrafters/scrap_layer/internal/lock"
	"github.com/ScrapCrafters/scrap_layer/services/materials"
)

// Table is the record store table holding inventory rows.
const Table = "dealer_inventory"

// Item is one dealer's stock of one material.
type Item struct {
	ID         string              `json:"id"`
	DealerID   string              `json:"dealer_id"`
	ScrapType  materials.ScrapType `json:"scrap_type"`
	QuantityKg float64             `json:"quantity_kg"`
	UpdatedAt  time.Time           `json:"updated_at"`
}

// LockKey is the lock guarding a dealer's stock of one material.
func LockKey(dealerID string, t materials.ScrapType) string {
	return lock.Key("inventory", dealerID, string(t))
}

// Tracker credits and debits inventory rows.
type Tracker struct {
	store  database.RecordStore
	locker lock.Locker
	now    func() time.Time
}

// NewTracker creates an inventory tracker.
func NewTracker(store database.RecordStore, locker lock.Locker) *Tracker {
	return &Tracker{store: store, locker: locker, now: time.Now}
}

// Get returns the row for (dealer, type). A missing row is NOT_FOUND.
func (t *Tracker) Get(ctx context.Context, dealerID string, scrapType materials.ScrapType) (Item, error) {
	var item Item
	q := database.NewQuery().Eq("dealer_id", dealerID).Eq("scrap_type", scrapType)
	if err := t.store.Single(ctx, Table, q, &item); err != nil {
		return Item{}, database.ServiceError(err, "inventory", dealerID+"/"+string(scrapType))
	}
	return item, nil
}

// List returns every row a dealer holds, by material type.
func (t *Tracker) List(ctx context.Context, dealerID string) ([]Item, error) {
	var items []Item
	q := database.NewQuery().Eq("dealer_id", dealerID).OrderBy("scrap_type", false)
	if err := t.store.Select(ctx, Table, q, &items); err != nil {
		return nil, database.ServiceError(err, "inventory", dealerID)
	}
	return items, nil
}

// Stocked returns every row of a material with a positive quantity.
func (t *Tracker) Stocked(ctx context.Context, scrapType materials.ScrapType) ([]Item, error) {
	var items []Item
	q := database.NewQuery().Eq("scrap_type", scrapType).Gt("quantity_kg", 0)
	if err := t.store.Select(ctx, Table, q, &items); err != nil {
		return nil, database.ServiceError(err, "inventory", string(scrapType))
	}
	return items, nil
}

// Credit adds kg to (dealer, type), creating the row if needed.
func (t *Tracker) Credit(ctx context.Context, dealerID string, scrapType materials.ScrapType, kg float64) (Item, error) {
	if kg <= 0 {
		return Item{}, svcerrors.InvalidQuantity(fmt.Sprintf("credit must be positive, got %v kg", kg))
	}

	ctx, unlock, err := lock.Hold(ctx, t.locker, LockKey(dealerID, scrapType))
	if err != nil {
		return Item{}, svcerrors.StorageUnavailable(err)
	}
	defer unlock()

	current, err := t.Get(ctx, dealerID, scrapType)
	if svcerrors.IsCode(err, svcerrors.CodeNotFound) {
		item := Item{
			ID:         uuid.NewString(),
			DealerID:   dealerID,
			ScrapType:  scrapType,
			QuantityKg: kg,
			UpdatedAt:  t.now().UTC(),
		}
		var out Item
		if err := t.store.Insert(ctx, Table, item, &out); err != nil {
			return Item{}, database.ServiceError(err, "inventory", item.ID)
		}
		return out, nil
	}
	if err != nil {
		return Item{}, err
	}

	return t.swap(ctx, current, add(current.QuantityKg, kg))
}

// Debit removes kg from (dealer, type). It never drives a row negative: a
// missing row or short stock is INSUFFICIENT_INVENTORY and nothing changes.
func (t *Tracker) Debit(ctx context.Context, dealerID string, scrapType materials.ScrapType, kg float64) (Item, error) {
	if kg <= 0 {
		return Item{}, svcerrors.InvalidQuantity(fmt.Sprintf("debit must be positive, got %v kg", kg))
	}

	ctx, unlock, err := lock.Hold(ctx, t.locker, LockKey(dealerID, scrapType))
	if err != nil {
		return Item{}, svcerrors.StorageUnavailable(err)
	}
	defer unlock()

	current, err := t.Get(ctx, dealerID, scrapType)
	if svcerrors.IsCode(err, svcerrors.CodeNotFound) {
		return Item{}, svcerrors.InsufficientInventory(kg, 0)
	}
	if err != nil {
		return Item{}, err
	}
	if !Covers(current.QuantityKg, kg) {
		return Item{}, svcerrors.InsufficientInventory(kg, current.QuantityKg)
	}

	return t.swap(ctx, current, sub(current.QuantityKg, kg))
}

func (t *Tracker) swap(ctx context.Context, current Item, next float64) (Item, error) {
	patch := map[string]any{
		"quantity_kg": next,
		"updated_at":  t.now().UTC(),
	}
	var out Item
	err := database.CompareAndSwap(ctx, t.store, Table, current.ID,
		database.Expect{"quantity_kg": current.QuantityKg}, patch, &out)
	if err != nil {
		return Item{}, database.ServiceError(err, "inventory", current.ID)
	}
	return out, nil
}

// Covers reports whether available >= required, compared in decimal.
func Covers(available, required float64) bool {
	return decimal.NewFromFloat(available).GreaterThanOrEqual(decimal.NewFromFloat(required))
}

func add(a, b float64) float64 {
	f, _ := decimal.NewFromFloat(a).Add(decimal.NewFromFloat(b)).Float64()
	return f
}

func sub(a, b float64) float64 {
	f, _ := decimal.NewFromFloat(a).Sub(decimal.NewFromFloat(b)).Float64()
	return f
}
