// Package contracts handles commissions from users to artists.
package contracts

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ScrapCrafters/scrap_layer/internal/database"
	svcerrors "github.com/ScrapCrafters/scrap_layer/internal/errors"
	"github.com/ScrapCrafters/scrap_layer/internal/lock"
	"github.com/ScrapCrafters/scrap_layer/internal/logging"
	"github.com/ScrapCrafters/scrap_layer/services/coins"
	"github.com/ScrapCrafters/scrap_layer/services/ledger"
	"github.com/ScrapCrafters/scrap_layer/services/materials"
	"github.com/ScrapCrafters/scrap_layer/services/profiles"
)

// Table is the record store table holding contracts.
const Table = "artist_contracts"

// Status is a contract's lifecycle state.
type Status string

const (
	StatusPending    Status = "pending"
	StatusAccepted   Status = "accepted"
	StatusRejected   Status = "rejected"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
)

var transitions = map[Status][]Status{
	StatusPending:    {StatusAccepted, StatusRejected},
	StatusAccepted:   {StatusInProgress, StatusCompleted},
	StatusInProgress: {StatusCompleted},
}

// CanTransition reports whether from -> to is allowed.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Contract is a commission. BudgetCoins moves to the artist on completion.
type Contract struct {
	ID          string               `json:"id"`
	UserID      string               `json:"user_id"`
	ArtistID    string               `json:"artist_id"`
	Description string               `json:"description"`
	ScrapType   *materials.ScrapType `json:"scrap_type"`
	BudgetCoins int64                `json:"budget_coins"`
	BudgetMoney *float64             `json:"budget_money"`
	Status      Status               `json:"status"`
	CreatedAt   time.Time            `json:"created_at"`
	UpdatedAt   time.Time            `json:"updated_at"`
}

// Service manages contracts.
type Service struct {
	store    database.RecordStore
	profiles *profiles.Repository
	coins    *coins.Service
	locker   lock.Locker
	log      *logging.Logger
	now      func() time.Time
}

// NewService creates the contract service.
func NewService(store database.RecordStore, profileRepo *profiles.Repository, coinSvc *coins.Service, locker lock.Locker, log *logging.Logger) *Service {
	if log == nil {
		log = logging.NewDefault("contracts")
	}
	return &Service{store: store, profiles: profileRepo, coins: coinSvc, locker: locker, log: log, now: time.Now}
}

// CreateInput is the body of a new contract.
type CreateInput struct {
	ArtistID    string   `json:"artist_id"`
	Description string   `json:"description"`
	ScrapType   *string  `json:"scrap_type,omitempty"`
	BudgetCoins int64    `json:"budget_coins"`
	BudgetMoney *float64 `json:"budget_money,omitempty"`
}

// Create opens a pending contract from userID to an artist.
func (s *Service) Create(ctx context.Context, userID string, in CreateInput) (Contract, error) {
	if _, err := s.profiles.Get(ctx, userID); err != nil {
		return Contract{}, err
	}
	artist, err := s.profiles.Get(ctx, in.ArtistID)
	if svcerrors.IsCode(err, svcerrors.CodeNotFound) {
		return Contract{}, svcerrors.InvalidInput("artist_id", "artist not found")
	}
	if err != nil {
		return Contract{}, err
	}
	if artist.Role != profiles.RoleArtist {
		return Contract{}, svcerrors.InvalidInput("artist_id", "contracts can only be offered to artists")
	}
	if in.ArtistID == userID {
		return Contract{}, svcerrors.InvalidInput("artist_id", "cannot contract yourself")
	}
	if in.BudgetCoins < 0 {
		return Contract{}, svcerrors.InvalidInput("budget_coins", "must not be negative")
	}
	if in.BudgetMoney != nil && *in.BudgetMoney < 0 {
		return Contract{}, svcerrors.InvalidInput("budget_money", "must not be negative")
	}
	var scrapType *materials.ScrapType
	if in.ScrapType != nil && *in.ScrapType != "" {
		t, err := materials.Parse(*in.ScrapType)
		if err != nil {
			return Contract{}, svcerrors.InvalidInput("scrap_type", err.Error())
		}
		scrapType = &t
	}

	now := s.now().UTC()
	c := Contract{
		ID:          uuid.NewString(),
		UserID:      userID,
		ArtistID:    in.ArtistID,
		Description: in.Description,
		ScrapType:   scrapType,
		BudgetCoins: in.BudgetCoins,
		BudgetMoney: in.BudgetMoney,
		Status:      StatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	var out Contract
	if err := s.store.Insert(ctx, Table, c, &out); err != nil {
		return Contract{}, database.ServiceError(err, "contract", c.ID)
	}
	return out, nil
}

// Filter narrows List. Empty fields match all.
type Filter struct {
	UserID   string
	ArtistID string
	Status   Status
}

// List returns contracts newest first.
func (s *Service) List(ctx context.Context, f Filter) ([]Contract, error) {
	q := database.NewQuery()
	if f.UserID != "" {
		q = q.Eq("user_id", f.UserID)
	}
	if f.ArtistID != "" {
		q = q.Eq("artist_id", f.ArtistID)
	}
	if f.Status != "" {
		q = q.Eq("status", f.Status)
	}
	var out []Contract
	if err := s.store.Select(ctx, Table, q.OrderBy("created_at", true), &out); err != nil {
		return nil, database.ServiceError(err, "contract", "")
	}
	return out, nil
}

// Get loads one contract.
func (s *Service) Get(ctx context.Context, id string) (Contract, error) {
	var c Contract
	if err := s.store.Single(ctx, Table, database.NewQuery().Eq("id", id), &c); err != nil {
		return Contract{}, database.ServiceError(err, "contract", id)
	}
	return c, nil
}

// UpdateStatus moves a contract along its lifecycle. Completing it pays the
// coin budget to the artist once the status has moved; if the user cannot
// cover it the status is put back.
func (s *Service) UpdateStatus(ctx context.Context, id string, next Status) (Contract, error) {
	c, err := s.Get(ctx, id)
	if err != nil {
		return Contract{}, err
	}

	ctx, unlock, err := lock.Hold(ctx, s.locker,
		lock.Key("contract", id),
		coins.LockKey(c.UserID),
		coins.LockKey(c.ArtistID),
	)
	if err != nil {
		return Contract{}, svcerrors.StorageUnavailable(err)
	}
	defer unlock()

	var updated Contract
	err = database.RunInTx(ctx, s.store, func(ctx context.Context) error {
		c, err := s.Get(ctx, id)
		if err != nil {
			return err
		}
		if !CanTransition(c.Status, next) {
			return svcerrors.InvalidState(svcerrors.ReasonInvalidTransition,
				fmt.Sprintf("cannot move contract from %s to %s", c.Status, next))
		}

		err = database.CompareAndSwap(ctx, s.store, Table, c.ID,
			database.Expect{"status": c.Status},
			map[string]any{"status": next, "updated_at": s.now().UTC()},
			&updated)
		if err != nil {
			return database.ServiceError(err, "contract", c.ID)
		}
		if next != StatusCompleted || c.BudgetCoins <= 0 {
			return nil
		}

		_, err = s.coins.Transfer(ctx, coins.Transfer{
			From:        c.UserID,
			To:          c.ArtistID,
			Amount:      c.BudgetCoins,
			Mode:        coins.RequireFunds,
			Type:        ledger.TypeContractPayment,
			ReferenceID: c.ID,
			Describe: func(n int64) (string, string) {
				return fmt.Sprintf("Paid %d Scrap Coins for a completed commission", n),
					fmt.Sprintf("Received %d Scrap Coins for a completed commission", n)
			},
		})
		if err != nil {
			s.reopen(ctx, c)
			return err
		}
		return nil
	})
	if err != nil {
		return Contract{}, err
	}

	s.log.WithContext(ctx).WithFields(map[string]interface{}{
		"contract_id": id,
		"status":      next,
	}).Info("contract status changed")
	return updated, nil
}

// reopen puts a contract back to prev's status after a failed completion
// payment. Inside a transaction the rollback already does this.
func (s *Service) reopen(ctx context.Context, prev Contract) {
	err := database.CompareAndSwap(ctx, s.store, Table, prev.ID,
		database.Expect{"status": StatusCompleted},
		map[string]any{"status": prev.Status, "updated_at": prev.UpdatedAt},
		nil)
	if err != nil {
		s.log.WithContext(ctx).WithError(err).WithField("contract_id", prev.ID).
			Error("completed contract left unpaid")
	}
}
