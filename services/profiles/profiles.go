// Package profiles reads actor profiles and applies balance writes.
package profiles

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/ScrapCrafters/scrap_layer/internal/database"
)

// Table is the record store table holding profiles.
const Table = "profiles"

// Role is an actor role.
type Role string

const (
	// RoleUser is a donor.
	RoleUser     Role = "user"
	RoleDealer   Role = "dealer"
	RoleArtist   Role = "artist"
	RoleIndustry Role = "industry"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleDealer, RoleArtist, RoleIndustry:
		return true
	}
	return false
}

// Profile is an actor with a denormalized coin balance.
type Profile struct {
	ID               string    `json:"id" yaml:"id"`
	Name             string    `json:"name" yaml:"name"`
	Role             Role      `json:"role" yaml:"role"`
	ScrapCoins       int64     `json:"scrap_coins" yaml:"scrap_coins"`
	Latitude         *float64  `json:"latitude,omitempty" yaml:"latitude,omitempty"`
	Longitude        *float64  `json:"longitude,omitempty" yaml:"longitude,omitempty"`
	Location         *string   `json:"location,omitempty" yaml:"location,omitempty"`
	Phone            *string   `json:"phone,omitempty" yaml:"phone,omitempty"`
	OrganizationName *string   `json:"organization_name,omitempty" yaml:"organization_name,omitempty"`
	CreatedAt        time.Time `json:"created_at" yaml:"-"`
}

// Coordinates returns the profile's position if both parts are set.
func (p Profile) Coordinates() (lat, lon float64, ok bool) {
	if p.Latitude == nil || p.Longitude == nil {
		return 0, 0, false
	}
	return *p.Latitude, *p.Longitude, true
}

// Repository is the profile store.
type Repository struct {
	store database.RecordStore
}

// NewRepository creates a profile repository over store.
func NewRepository(store database.RecordStore) *Repository {
	return &Repository{store: store}
}

// Get loads a profile. A missing profile is NOT_FOUND.
func (r *Repository) Get(ctx context.Context, id string) (Profile, error) {
	var p Profile
	err := r.store.Single(ctx, Table, database.NewQuery().Eq("id", id), &p)
	if err != nil {
		return Profile{}, database.ServiceError(err, "profile", id)
	}
	return p, nil
}

// Create inserts a profile, defaulting ID and CreatedAt.
func (r *Repository) Create(ctx context.Context, p Profile) (Profile, error) {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	var out Profile
	if err := r.store.Insert(ctx, Table, p, &out); err != nil {
		return Profile{}, database.ServiceError(err, "profile", p.ID)
	}
	return out, nil
}

// SwapBalance sets the balance to next only if it is still expected. It
// returns database.ErrConflict (unclassified) when the balance moved, so
// callers can re-read and retry.
func (r *Repository) SwapBalance(ctx context.Context, id string, expected, next int64) error {
	return database.CompareAndSwap(ctx, r.store, Table, id,
		database.Expect{"scrap_coins": expected},
		map[string]any{"scrap_coins": next},
		nil)
}

// ListByRole returns profiles with the given role.
func (r *Repository) ListByRole(ctx context.Context, role Role) ([]Profile, error) {
	var out []Profile
	if err := r.store.Select(ctx, Table, database.NewQuery().Eq("role", role).OrderBy("created_at", false), &out); err != nil {
		return nil, database.ServiceError(err, "profile", "")
	}
	return out, nil
}
