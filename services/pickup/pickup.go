// Package pickup runs donation requests from posting through collection and
// settles the coins a completed pickup earns.
//
// A request moves pending -> accepted -> completed. Completion rewards the
// donor and charges the collecting partner the same amount. The partner
// charge is not re-checked against the balance at completion, so a partner
// that spent coins after accepting can go negative.
package pickup

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ScrapCrafters/scrap_layer/internal/app/metrics"
	"github.com/ScrapCrafters/scrap_layer/internal/database"
	svcerrors "github.com/ScrapCrafters/scrap_layer/internal/errors"
	"github.com/ScrapCrafters/scrap_layer/internal/lock"
	"github.com/ScrapCrafters/scrap_layer/internal/logging"
	"github.com/ScrapCrafters/scrap_layer/services/coins"
	"github.com/ScrapCrafters/scrap_layer/services/inventory"
	"github.com/ScrapCrafters/scrap_layer/services/ledger"
	"github.com/ScrapCrafters/scrap_layer/services/matching"
	"github.com/ScrapCrafters/scrap_layer/services/materials"
	"github.com/ScrapCrafters/scrap_layer/services/profiles"
)

// Table is the record store table holding pickup requests.
const Table = "scrap_requests"

// Status is a request's position in the pickup lifecycle.
type Status string

const (
	StatusPending   Status = "pending"
	StatusAccepted  Status = "accepted"
	StatusCompleted Status = "completed"
)

// Request is a donor's offer of scrap for collection.
type Request struct {
	ID            string              `json:"id"`
	UserID        string              `json:"user_id"`
	ScrapType     materials.ScrapType `json:"scrap_type"`
	WeightKg      float64             `json:"weight_kg"`
	Description   string              `json:"description"`
	PickupAddress string              `json:"pickup_address"`
	ImageURL      *string             `json:"image_url"`
	Latitude      *float64            `json:"latitude"`
	Longitude     *float64            `json:"longitude"`
	Status        Status              `json:"status"`
	PartnerID     *string             `json:"partner_id"`
	CoinsAwarded  int64               `json:"coins_awarded"`
	CreatedAt     time.Time           `json:"created_at"`
	AcceptedAt    *time.Time          `json:"accepted_at"`
	CompletedAt   *time.Time          `json:"completed_at"`
}

// createdLayouts are the created_at forms accepted from stored rows. Rows
// written by other clients may carry Postgres text timestamps.
var createdLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999Z07",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999",
}

// UnmarshalJSON decodes a stored request. An unreadable created_at decodes
// as the zero time instead of failing the row, so visibility falls back to
// the unknown-age radius.
func (r *Request) UnmarshalJSON(data []byte) error {
	type plain Request
	var row struct {
		plain
		CreatedAt json.RawMessage `json:"created_at"`
	}
	if err := json.Unmarshal(data, &row); err != nil {
		return err
	}
	*r = Request(row.plain)
	r.CreatedAt = parseCreatedAt(row.CreatedAt)
	return nil
}

func parseCreatedAt(raw json.RawMessage) time.Time {
	var text string
	if err := json.Unmarshal(raw, &text); err != nil {
		return time.Time{}
	}
	for _, layout := range createdLayouts {
		if t, err := time.Parse(layout, text); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}

// Site returns what visibility filtering needs.
func (r Request) Site() matching.RequestSite {
	return matching.RequestSite{
		Location:  matching.Point(r.Latitude, r.Longitude),
		CreatedAt: r.CreatedAt,
	}
}

// Service is the pickup settlement engine.
type Service struct {
	store     database.RecordStore
	profiles  *profiles.Repository
	coins     *coins.Service
	inventory *inventory.Tracker
	materials *materials.Table
	locker    lock.Locker
	log       *logging.Logger
	now       func() time.Time
}

// NewService wires the pickup engine.
func NewService(store database.RecordStore, profileRepo *profiles.Repository, coinSvc *coins.Service,
	tracker *inventory.Tracker, table *materials.Table, locker lock.Locker, log *logging.Logger) *Service {
	if table == nil {
		table = materials.DefaultTable()
	}
	if log == nil {
		log = logging.NewDefault("pickup")
	}
	return &Service{
		store:     store,
		profiles:  profileRepo,
		coins:     coinSvc,
		inventory: tracker,
		materials: table,
		locker:    locker,
		log:       log,
		now:       time.Now,
	}
}

func requestLockKey(id string) string {
	return lock.Key("request", id)
}

// DonateInput is the body of a new donation.
type DonateInput struct {
	ScrapType     string   `json:"scrap_type"`
	WeightKg      float64  `json:"weight_kg"`
	Description   string   `json:"description"`
	PickupAddress string   `json:"pickup_address"`
	Latitude      *float64 `json:"latitude,omitempty"`
	Longitude     *float64 `json:"longitude,omitempty"`
	ImageURL      *string  `json:"image_url,omitempty"`
}

// Donate posts a pending pickup request for a donor.
func (s *Service) Donate(ctx context.Context, userID string, in DonateInput) (Request, error) {
	if _, err := s.profiles.Get(ctx, userID); err != nil {
		return Request{}, err
	}
	scrapType, err := materials.Parse(in.ScrapType)
	if err != nil {
		return Request{}, svcerrors.InvalidInput("scrap_type", err.Error())
	}
	if in.WeightKg <= 0 {
		return Request{}, svcerrors.InvalidQuantity("weight_kg must be positive")
	}
	if (in.Latitude == nil) != (in.Longitude == nil) {
		return Request{}, svcerrors.InvalidInput("latitude", "latitude and longitude must be given together")
	}

	req := Request{
		ID:            uuid.NewString(),
		UserID:        userID,
		ScrapType:     scrapType,
		WeightKg:      in.WeightKg,
		Description:   in.Description,
		PickupAddress: strings.TrimSpace(in.PickupAddress),
		ImageURL:      in.ImageURL,
		Latitude:      in.Latitude,
		Longitude:     in.Longitude,
		Status:        StatusPending,
		CreatedAt:     s.now().UTC(),
	}
	var out Request
	if err := s.store.Insert(ctx, Table, req, &out); err != nil {
		return Request{}, database.ServiceError(err, "scrap_request", req.ID)
	}
	s.log.WithContext(ctx).WithFields(map[string]interface{}{
		"request_id": out.ID,
		"scrap_type": out.ScrapType,
		"weight_kg":  out.WeightKg,
	}).Info("donation posted")
	return out, nil
}

// RequestFilter narrows ListRequests. Empty fields match all.
type RequestFilter struct {
	Status    Status
	UserID    string
	PartnerID string
}

// ListRequests returns matching requests, newest first.
func (s *Service) ListRequests(ctx context.Context, f RequestFilter) ([]Request, error) {
	q := database.NewQuery()
	if f.Status != "" {
		q = q.Eq("status", f.Status)
	}
	if f.UserID != "" {
		q = q.Eq("user_id", f.UserID)
	}
	if f.PartnerID != "" {
		q = q.Eq("partner_id", f.PartnerID)
	}
	var out []Request
	if err := s.store.Select(ctx, Table, q.OrderBy("created_at", true), &out); err != nil {
		return nil, database.ServiceError(err, "scrap_request", "")
	}
	return out, nil
}

// AvailableRequests lists pending requests the partner can see. The given
// position wins; otherwise the partner's profile coordinates are used, and a
// partner with neither sees everything.
func (s *Service) AvailableRequests(ctx context.Context, partnerID string, at *matching.GeoPoint) ([]Request, error) {
	if at == nil && partnerID != "" {
		partner, err := s.profiles.Get(ctx, partnerID)
		if err != nil {
			return nil, err
		}
		at = matching.Point(partner.Latitude, partner.Longitude)
	}
	pending, err := s.ListRequests(ctx, RequestFilter{Status: StatusPending})
	if err != nil {
		return nil, err
	}
	return matching.FilterVisible(pending, at, s.now(), Request.Site), nil
}

// Get loads one request.
func (s *Service) Get(ctx context.Context, id string) (Request, error) {
	var req Request
	if err := s.store.Single(ctx, Table, database.NewQuery().Eq("id", id), &req); err != nil {
		return Request{}, database.ServiceError(err, "scrap_request", id)
	}
	return req, nil
}

// Accept assigns a pending request to a dealer or artist. The partner must
// currently hold the coins the pickup will cost; nothing is reserved.
func (s *Service) Accept(ctx context.Context, requestID, partnerID string) (Request, error) {
	ctx, unlock, err := lock.Hold(ctx, s.locker, requestLockKey(requestID))
	if err != nil {
		return Request{}, svcerrors.StorageUnavailable(err)
	}
	defer unlock()

	req, err := s.Get(ctx, requestID)
	if err != nil {
		return Request{}, err
	}
	partner, err := s.profiles.Get(ctx, partnerID)
	if err != nil {
		return Request{}, err
	}
	if partner.Role != profiles.RoleDealer && partner.Role != profiles.RoleArtist {
		return Request{}, svcerrors.PermissionDenied("only dealers and artists can accept pickups")
	}
	if req.Status != StatusPending {
		return Request{}, svcerrors.AlreadyAccepted("request is no longer pending")
	}
	cost := s.materials.CoinsFor(req.ScrapType, req.WeightKg)
	if partner.ScrapCoins < cost {
		return Request{}, svcerrors.InsufficientFunds(cost, partner.ScrapCoins)
	}

	now := s.now().UTC()
	var updated Request
	err = database.CompareAndSwap(ctx, s.store, Table, req.ID,
		database.Expect{"status": StatusPending},
		map[string]any{"status": StatusAccepted, "partner_id": partnerID, "accepted_at": now},
		&updated)
	if database.IsConflict(err) {
		return Request{}, svcerrors.AlreadyAccepted("request was accepted by another partner")
	}
	if err != nil {
		return Request{}, database.ServiceError(err, "scrap_request", req.ID)
	}

	metrics.RecordPickup("accepted")
	s.log.WithContext(ctx).WithFields(map[string]interface{}{
		"request_id": req.ID,
		"partner_id": partnerID,
	}).Info("pickup accepted")
	return updated, nil
}

// CompleteResult reports a settled pickup.
type CompleteResult struct {
	Request        Request  `json:"request"`
	CoinsEarned    int64    `json:"coins_earned"`
	DonorBalance   int64    `json:"donor_balance"`
	PartnerBalance int64    `json:"partner_balance"`
	InventoryKg    *float64 `json:"inventory_kg,omitempty"`
}

// Complete closes an accepted request for its partner: the donor earns
// floor(weight * multiplier) coins, the partner pays the same, and a dealer
// partner receives the scrap into inventory. The partner debit is not
// re-checked against the balance taken at Accept and may leave it negative.
func (s *Service) Complete(ctx context.Context, requestID, partnerID string) (CompleteResult, error) {
	req, err := s.Get(ctx, requestID)
	if err != nil {
		return CompleteResult{}, err
	}
	partner, err := s.profiles.Get(ctx, partnerID)
	if err != nil {
		return CompleteResult{}, err
	}

	keys := []string{requestLockKey(requestID), coins.LockKey(req.UserID), coins.LockKey(partnerID)}
	if partner.Role == profiles.RoleDealer {
		keys = append(keys, inventory.LockKey(partnerID, req.ScrapType))
	}
	ctx, unlock, err := lock.Hold(ctx, s.locker, keys...)
	if err != nil {
		return CompleteResult{}, svcerrors.StorageUnavailable(err)
	}
	defer unlock()

	var result CompleteResult
	err = database.RunInTx(ctx, s.store, func(ctx context.Context) error {
		req, err := s.Get(ctx, requestID)
		if err != nil {
			return err
		}
		if req.Status != StatusAccepted {
			return svcerrors.InvalidState(svcerrors.ReasonNotAccepted, "request must be accepted before completion")
		}
		if req.PartnerID == nil || *req.PartnerID != partnerID {
			return svcerrors.PermissionDenied("only the accepting partner can complete this pickup")
		}

		earned := s.materials.CoinsFor(req.ScrapType, req.WeightKg)
		var updated Request
		err = database.CompareAndSwap(ctx, s.store, Table, req.ID,
			database.Expect{"status": StatusAccepted, "partner_id": partnerID},
			map[string]any{"status": StatusCompleted, "coins_awarded": earned, "completed_at": s.now().UTC()},
			&updated)
		if database.IsConflict(err) {
			return svcerrors.InvalidState(svcerrors.ReasonNotAccepted, "request changed before completion")
		}
		if err != nil {
			return database.ServiceError(err, "scrap_request", req.ID)
		}

		donor, err := s.coins.Move(ctx, coins.Movement{
			UserID:      req.UserID,
			Amount:      earned,
			Mode:        coins.Unchecked,
			Type:        ledger.TypeDonationReward,
			ReferenceID: req.ID,
			Description: "Reward for donating " + formatKg(req.WeightKg) + " of " + string(req.ScrapType),
		})
		if err != nil {
			return err
		}
		charged, err := s.coins.Move(ctx, coins.Movement{
			UserID:      partnerID,
			Amount:      -earned,
			Mode:        coins.Unchecked,
			Type:        ledger.TypePickupCost,
			ReferenceID: req.ID,
			Description: "Paid for collecting " + formatKg(req.WeightKg) + " of " + string(req.ScrapType),
		})
		if err != nil {
			return err
		}

		result = CompleteResult{
			Request:        updated,
			CoinsEarned:    earned,
			DonorBalance:   donor.Balance,
			PartnerBalance: charged.Balance,
		}
		if partner.Role == profiles.RoleDealer {
			item, err := s.inventory.Credit(ctx, partnerID, req.ScrapType, req.WeightKg)
			if err != nil {
				return err
			}
			result.InventoryKg = &item.QuantityKg
		}
		return nil
	})
	if err != nil {
		return CompleteResult{}, err
	}

	metrics.RecordPickup("completed")
	s.log.WithContext(ctx).WithFields(map[string]interface{}{
		"request_id":   requestID,
		"partner_id":   partnerID,
		"coins_earned": result.CoinsEarned,
	}).Info("pickup completed")
	return result, nil
}

func formatKg(kg float64) string {
	return strconv.FormatFloat(kg, 'f', -1, 64) + "kg"
}
