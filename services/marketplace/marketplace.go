// Package marketplace lists artist products and sells them for Scrap Coins
// or money.
package marketplace

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/ScrapCrafters/scrap_layer/internal/app/metrics"
	"github.com/ScrapCrafters/scrap_layer/internal/database"
	svcerrors "github.com/ScrapCrafters/scrap_layer/internal/errors"
	"github.com/ScrapCrafters/scrap_layer/internal/lock"
	"github.com/ScrapCrafters/scrap_layer/internal/logging"
	"github.com/ScrapCrafters/scrap_layer/services/coins"
	"github.com/ScrapCrafters/scrap_layer/services/ledger"
	"github.com/ScrapCrafters/scrap_layer/services/materials"
	"github.com/ScrapCrafters/scrap_layer/services/profiles"
)

// Table is the record store table holding products.
const Table = "products"

// Payment methods reported by Purchase.
const (
	PaidWithCoins = "coins"
	PaidWithMoney = "money"
)

// Product is a stored listing. Availability is derived from stock and never
// stored.
type Product struct {
	ID            string               `json:"id"`
	ArtistID      string               `json:"artist_id"`
	Name          string               `json:"name"`
	Description   string               `json:"description"`
	PriceCoins    int64                `json:"price_coins"`
	PriceMoney    *float64             `json:"price_money"`
	StockQuantity int                  `json:"stock_quantity"`
	ImageURL      *string              `json:"image_url"`
	ScrapTypeUsed *materials.ScrapType `json:"scrap_type_used"`
	CreatedAt     time.Time            `json:"created_at"`
}

// Available reports whether any stock is left.
func (p Product) Available() bool {
	return p.StockQuantity > 0
}

// Listing is a product as served to readers.
type Listing struct {
	Product
	IsAvailable bool `json:"is_available"`
}

func listing(p Product) Listing {
	return Listing{Product: p, IsAvailable: p.Available()}
}

// Service is the product catalog and purchase engine.
type Service struct {
	store    database.RecordStore
	profiles *profiles.Repository
	coins    *coins.Service
	locker   lock.Locker
	log      *logging.Logger
	now      func() time.Time
}

// NewService creates the marketplace.
func NewService(store database.RecordStore, profileRepo *profiles.Repository, coinSvc *coins.Service, locker lock.Locker, log *logging.Logger) *Service {
	if log == nil {
		log = logging.NewDefault("marketplace")
	}
	return &Service{store: store, profiles: profileRepo, coins: coinSvc, locker: locker, log: log, now: time.Now}
}

func productLockKey(id string) string {
	return lock.Key("product", id)
}

// CreateProductInput is the body of a new listing.
type CreateProductInput struct {
	Name          string   `json:"name"`
	Description   string   `json:"description"`
	PriceCoins    int64    `json:"price_coins"`
	PriceMoney    *float64 `json:"price_money,omitempty"`
	StockQuantity *int     `json:"stock_quantity,omitempty"`
	ImageURL      *string  `json:"image_url,omitempty"`
	ScrapTypeUsed *string  `json:"scrap_type_used,omitempty"`
}

// CreateProduct lists a product for an artist. Stock defaults to one.
func (s *Service) CreateProduct(ctx context.Context, artistID string, in CreateProductInput) (Listing, error) {
	artist, err := s.profiles.Get(ctx, artistID)
	if err != nil {
		return Listing{}, err
	}
	if artist.Role != profiles.RoleArtist {
		return Listing{}, svcerrors.PermissionDenied("only artists can list products")
	}
	if strings.TrimSpace(in.Name) == "" {
		return Listing{}, svcerrors.InvalidInput("name", "name is required")
	}
	if in.PriceCoins < 0 {
		return Listing{}, svcerrors.InvalidInput("price_coins", "must not be negative")
	}
	if in.PriceMoney != nil && *in.PriceMoney < 0 {
		return Listing{}, svcerrors.InvalidInput("price_money", "must not be negative")
	}
	stock := 1
	if in.StockQuantity != nil {
		stock = *in.StockQuantity
	}
	if stock < 1 {
		return Listing{}, svcerrors.InvalidQuantity("stock_quantity must be at least 1")
	}
	var used *materials.ScrapType
	if in.ScrapTypeUsed != nil && *in.ScrapTypeUsed != "" {
		t, err := materials.Parse(*in.ScrapTypeUsed)
		if err != nil {
			return Listing{}, svcerrors.InvalidInput("scrap_type_used", err.Error())
		}
		used = &t
	}

	p := Product{
		ID:            uuid.NewString(),
		ArtistID:      artistID,
		Name:          strings.TrimSpace(in.Name),
		Description:   in.Description,
		PriceCoins:    in.PriceCoins,
		PriceMoney:    in.PriceMoney,
		StockQuantity: stock,
		ImageURL:      in.ImageURL,
		ScrapTypeUsed: used,
		CreatedAt:     s.now().UTC(),
	}
	var out Product
	if err := s.store.Insert(ctx, Table, p, &out); err != nil {
		return Listing{}, database.ServiceError(err, "product", p.ID)
	}
	return listing(out), nil
}

// ListProducts returns listings newest first, optionally only those in stock.
func (s *Service) ListProducts(ctx context.Context, availableOnly bool) ([]Listing, error) {
	q := database.NewQuery()
	if availableOnly {
		q = q.Gt("stock_quantity", 0)
	}
	var rows []Product
	if err := s.store.Select(ctx, Table, q.OrderBy("created_at", true), &rows); err != nil {
		return nil, database.ServiceError(err, "product", "")
	}
	out := make([]Listing, len(rows))
	for i, p := range rows {
		out[i] = listing(p)
	}
	return out, nil
}

// GetProduct returns one listing.
func (s *Service) GetProduct(ctx context.Context, id string) (Listing, error) {
	p, err := s.product(ctx, id)
	if err != nil {
		return Listing{}, err
	}
	return listing(p), nil
}

func (s *Service) product(ctx context.Context, id string) (Product, error) {
	var p Product
	if err := s.store.Single(ctx, Table, database.NewQuery().Eq("id", id), &p); err != nil {
		return Product{}, database.ServiceError(err, "product", id)
	}
	return p, nil
}

// PurchaseInput describes a purchase.
type PurchaseInput struct {
	BuyerID      string
	Quantity     int
	PayWithCoins bool
}

// PurchaseResult reports a completed purchase.
type PurchaseResult struct {
	Product        Listing `json:"product"`
	Quantity       int     `json:"quantity"`
	TotalPaidCoins int64   `json:"total_paid_coins"`
	TotalPaidMoney float64 `json:"total_paid_money"`
	PaidWith       string  `json:"paid_with"`
	RemainingStock int     `json:"remaining_stock"`
	IsAvailable    bool    `json:"is_available"`
}

// Purchase sells quantity units. Either the whole quantity is sold and paid
// for, or nothing changes. Coin payments require the buyer to cover the full
// price.
func (s *Service) Purchase(ctx context.Context, productID string, in PurchaseInput) (PurchaseResult, error) {
	p, err := s.product(ctx, productID)
	if err != nil {
		return PurchaseResult{}, err
	}

	ctx, unlock, err := lock.Hold(ctx, s.locker,
		productLockKey(productID),
		coins.LockKey(in.BuyerID),
		coins.LockKey(p.ArtistID),
	)
	if err != nil {
		return PurchaseResult{}, svcerrors.StorageUnavailable(err)
	}
	defer unlock()

	var result PurchaseResult
	err = database.RunInTx(ctx, s.store, func(ctx context.Context) error {
		p, err := s.product(ctx, productID)
		if err != nil {
			return err
		}
		if p.StockQuantity <= 0 {
			return svcerrors.OutOfStock(fmt.Sprintf("%s is out of stock", p.Name))
		}
		if in.Quantity > p.StockQuantity {
			return svcerrors.InsufficientStock(in.Quantity, p.StockQuantity)
		}
		if in.Quantity <= 0 {
			return svcerrors.InvalidQuantity("quantity must be positive")
		}
		if _, err := s.profiles.Get(ctx, in.BuyerID); err != nil {
			return err
		}

		result = PurchaseResult{Quantity: in.Quantity, PaidWith: PaidWithMoney}
		if in.PayWithCoins {
			result.PaidWith = PaidWithCoins
			result.TotalPaidCoins = p.PriceCoins * int64(in.Quantity)
			if result.TotalPaidCoins > 0 {
				if in.BuyerID == p.ArtistID {
					return svcerrors.InvalidInput("buyer_id", "artists cannot buy their own products")
				}
				_, err := s.coins.Transfer(ctx, coins.Transfer{
					From:        in.BuyerID,
					To:          p.ArtistID,
					Amount:      result.TotalPaidCoins,
					Mode:        coins.RequireFunds,
					Type:        ledger.TypePurchase,
					ReferenceID: p.ID,
					Describe: func(n int64) (string, string) {
						return fmt.Sprintf("Purchased %d x '%s' for %d Scrap Coins", in.Quantity, p.Name, n),
							fmt.Sprintf("Sold %d x '%s' for %d Scrap Coins", in.Quantity, p.Name, n)
					},
				})
				if err != nil {
					return err
				}
			}
		} else if p.PriceMoney != nil {
			total, _ := decimal.NewFromFloat(*p.PriceMoney).Mul(decimal.NewFromInt(int64(in.Quantity))).Round(2).Float64()
			result.TotalPaidMoney = total
		}

		var updated Product
		err = database.CompareAndSwap(ctx, s.store, Table, p.ID,
			database.Expect{"stock_quantity": p.StockQuantity},
			map[string]any{"stock_quantity": p.StockQuantity - in.Quantity},
			&updated)
		if err != nil {
			return database.ServiceError(err, "product", p.ID)
		}
		result.Product = listing(updated)
		result.RemainingStock = updated.StockQuantity
		result.IsAvailable = updated.Available()
		return nil
	})
	if err != nil {
		return PurchaseResult{}, err
	}

	metrics.RecordPurchase(result.PaidWith)
	s.log.WithContext(ctx).WithFields(map[string]interface{}{
		"product_id": productID,
		"buyer_id":   in.BuyerID,
		"quantity":   in.Quantity,
		"paid_with":  result.PaidWith,
	}).Info("product purchased")
	return result, nil
}
