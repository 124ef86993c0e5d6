// Package industry runs industry requirements: creation, dealer matching,
// fulfillment and the payment outbox that pays dealers for delivered stock.
package industry

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/ScrapCrafters/scrap_layer/internal/database"
	svcerrors "github.com/ScrapCrafters/scrap_layer/internal/errors"
	"github.com/ScrapCrafters/scrap_layer/internal/lock"
	"github.com/ScrapCrafters/scrap_layer/internal/logging"
	"github.com/ScrapCrafters/scrap_layer/services/coins"
	"github.com/ScrapCrafters/scrap_layer/services/inventory"
	"github.com/ScrapCrafters/scrap_layer/services/materials"
	"github.com/ScrapCrafters/scrap_layer/services/profiles"
)

const (
	RequirementsTable = "industry_requirements"
	FulfillmentsTable = "requirement_fulfillments"
	PaymentsTable     = "payment_tasks"
)

// Status is a requirement's fulfillment state.
type Status string

const (
	StatusOpen               Status = "open"
	StatusPartiallyFulfilled Status = "partially_fulfilled"
	StatusClosed             Status = "closed"
)

// Requirement is an industry's demand for a quantity of one material.
type Requirement struct {
	ID          string              `json:"id"`
	IndustryID  string              `json:"industry_id"`
	ScrapType   materials.ScrapType `json:"scrap_type"`
	RequiredKg  float64             `json:"required_kg"`
	FulfilledKg float64             `json:"fulfilled_kg"`
	PricePerKg  *float64            `json:"price_per_kg"`
	Description string              `json:"description"`
	Status      Status              `json:"status"`
	CreatedAt   time.Time           `json:"created_at"`
}

// RemainingKg is required minus fulfilled, never below zero.
func (r Requirement) RemainingKg() float64 {
	rem := decimal.NewFromFloat(r.RequiredKg).Sub(decimal.NewFromFloat(r.FulfilledKg))
	if rem.IsNegative() {
		return 0
	}
	f, _ := rem.Float64()
	return f
}

// Fulfillment is one dealer delivery against a requirement. Append-only.
type Fulfillment struct {
	ID            string    `json:"id"`
	RequirementID string    `json:"requirement_id"`
	DealerID      string    `json:"dealer_id"`
	QuantityKg    float64   `json:"quantity_kg"`
	Status        string    `json:"status"`
	CreatedAt     time.Time `json:"created_at"`
}

// RequirementDetail is a requirement with its deliveries, oldest first.
type RequirementDetail struct {
	Requirement
	Fulfillments []Fulfillment `json:"fulfillments"`
}

// Options tunes the service.
type Options struct {
	// MaxPaymentAttempts is how many settlement errors a payment task
	// tolerates before it is marked failed.
	MaxPaymentAttempts int
}

// Service owns requirements, fulfillments and payment tasks.
type Service struct {
	store     database.RecordStore
	profiles  *profiles.Repository
	coins     *coins.Service
	inventory *inventory.Tracker
	locker    lock.Locker
	log       *logging.Logger

	maxAttempts int
	now         func() time.Time
}

// NewService wires the industry engine.
func NewService(store database.RecordStore, profileRepo *profiles.Repository, coinSvc *coins.Service,
	tracker *inventory.Tracker, locker lock.Locker, log *logging.Logger, opts Options) *Service {
	if opts.MaxPaymentAttempts <= 0 {
		opts.MaxPaymentAttempts = 10
	}
	if log == nil {
		log = logging.NewDefault("industry")
	}
	return &Service{
		store:       store,
		profiles:    profileRepo,
		coins:       coinSvc,
		inventory:   tracker,
		locker:      locker,
		log:         log,
		maxAttempts: opts.MaxPaymentAttempts,
		now:         time.Now,
	}
}

func requirementLockKey(id string) string {
	return lock.Key("requirement", id)
}

// CreateRequirementInput is the body of a new requirement.
type CreateRequirementInput struct {
	ScrapType   string   `json:"scrap_type"`
	RequiredKg  float64  `json:"required_kg"`
	PricePerKg  *float64 `json:"price_per_kg,omitempty"`
	Description string   `json:"description"`
}

// CreateRequirement opens a requirement for an industry account.
func (s *Service) CreateRequirement(ctx context.Context, industryID string, in CreateRequirementInput) (Requirement, error) {
	owner, err := s.profiles.Get(ctx, industryID)
	if err != nil {
		return Requirement{}, err
	}
	if owner.Role != profiles.RoleIndustry {
		return Requirement{}, svcerrors.PermissionDenied("only industry accounts can post requirements")
	}
	scrapType, err := materials.Parse(in.ScrapType)
	if err != nil {
		return Requirement{}, svcerrors.InvalidInput("scrap_type", err.Error())
	}
	if in.RequiredKg <= 0 {
		return Requirement{}, svcerrors.InvalidQuantity("required_kg must be positive")
	}
	if in.PricePerKg != nil && *in.PricePerKg < 0 {
		return Requirement{}, svcerrors.InvalidInput("price_per_kg", "must not be negative")
	}

	req := Requirement{
		ID:          uuid.NewString(),
		IndustryID:  industryID,
		ScrapType:   scrapType,
		RequiredKg:  in.RequiredKg,
		PricePerKg:  in.PricePerKg,
		Description: in.Description,
		Status:      StatusOpen,
		CreatedAt:   s.now().UTC(),
	}
	var out Requirement
	if err := s.store.Insert(ctx, RequirementsTable, req, &out); err != nil {
		return Requirement{}, database.ServiceError(err, "requirement", req.ID)
	}
	s.log.WithContext(ctx).WithFields(map[string]interface{}{
		"requirement_id": out.ID,
		"scrap_type":     out.ScrapType,
		"required_kg":    out.RequiredKg,
	}).Info("requirement created")
	return out, nil
}

// RequirementFilter narrows ListRequirements. Empty fields match all.
type RequirementFilter struct {
	Status     Status
	IndustryID string
	ScrapType  materials.ScrapType
}

// ListRequirements returns matching requirements, newest first.
func (s *Service) ListRequirements(ctx context.Context, f RequirementFilter) ([]Requirement, error) {
	q := database.NewQuery()
	if f.Status != "" {
		q = q.Eq("status", f.Status)
	}
	if f.IndustryID != "" {
		q = q.Eq("industry_id", f.IndustryID)
	}
	if f.ScrapType != "" {
		q = q.Eq("scrap_type", f.ScrapType)
	}
	var out []Requirement
	if err := s.store.Select(ctx, RequirementsTable, q.OrderBy("created_at", true), &out); err != nil {
		return nil, database.ServiceError(err, "requirement", "")
	}
	return out, nil
}

// GetRequirement returns a requirement and its fulfillments.
func (s *Service) GetRequirement(ctx context.Context, id string) (RequirementDetail, error) {
	req, err := s.requirement(ctx, id)
	if err != nil {
		return RequirementDetail{}, err
	}
	var deliveries []Fulfillment
	q := database.NewQuery().Eq("requirement_id", id).OrderBy("created_at", false)
	if err := s.store.Select(ctx, FulfillmentsTable, q, &deliveries); err != nil {
		return RequirementDetail{}, database.ServiceError(err, "fulfillment", "")
	}
	if deliveries == nil {
		deliveries = []Fulfillment{}
	}
	return RequirementDetail{Requirement: req, Fulfillments: deliveries}, nil
}

func (s *Service) requirement(ctx context.Context, id string) (Requirement, error) {
	var req Requirement
	if err := s.store.Single(ctx, RequirementsTable, database.NewQuery().Eq("id", id), &req); err != nil {
		return Requirement{}, database.ServiceError(err, "requirement", id)
	}
	return req, nil
}
