package industry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ScrapCrafters/scrap_layer/internal/database"
	"github.com/ScrapCrafters/scrap_layer/internal/lock"
	"github.com/ScrapCrafters/scrap_layer/internal/logging"
	"github.com/ScrapCrafters/scrap_layer/services/coins"
	"github.com/ScrapCrafters/scrap_layer/services/inventory"
	"github.com/ScrapCrafters/scrap_layer/services/ledger"
	"github.com/ScrapCrafters/scrap_layer/services/materials"
	"github.com/ScrapCrafters/scrap_layer/services/profiles"
)

type fixture struct {
	store     *database.MemoryStore
	profiles  *profiles.Repository
	coins     *coins.Service
	inventory *inventory.Tracker
	svc       *Service
}

func newFixture(t *testing.T, opts Options) fixture {
	t.Helper()
	return buildFixture(t, opts, false)
}

// sequentialStore hides the memory store's transactions, the way the
// Supabase backend runs calls one by one.
type sequentialStore struct {
	database.RecordStore
}

// newSequentialFixture builds the service over a store without transactions.
func newSequentialFixture(t *testing.T, opts Options) fixture {
	t.Helper()
	return buildFixture(t, opts, true)
}

func buildFixture(t *testing.T, opts Options, sequential bool) fixture {
	t.Helper()
	mem := database.NewMemoryStore()
	var store database.RecordStore = mem
	if sequential {
		store = sequentialStore{mem}
	}
	locker := lock.NewLocal()
	repo := profiles.NewRepository(store)
	coinSvc := coins.New(store, repo, ledger.New(store), locker, logging.NewDiscard())
	tracker := inventory.NewTracker(store, locker)
	svc := NewService(store, repo, coinSvc, tracker, locker, logging.NewDiscard(), opts)
	return fixture{store: mem, profiles: repo, coins: coinSvc, inventory: tracker, svc: svc}
}

func (f fixture) profile(t *testing.T, id string, role profiles.Role, balance int64) {
	t.Helper()
	_, err := f.profiles.Create(context.Background(), profiles.Profile{ID: id, Name: "name-" + id, Role: role, ScrapCoins: balance})
	require.NoError(t, err)
}

func (f fixture) stock(t *testing.T, dealerID string, scrapType materials.ScrapType, kg float64) {
	t.Helper()
	_, err := f.inventory.Credit(context.Background(), dealerID, scrapType, kg)
	require.NoError(t, err)
}

func (f fixture) balance(t *testing.T, id string) int64 {
	t.Helper()
	b, err := f.coins.Balance(context.Background(), id)
	require.NoError(t, err)
	return b
}

func (f fixture) requirement(t *testing.T, industryID string, scrapType materials.ScrapType, kg float64, price *float64) Requirement {
	t.Helper()
	req, err := f.svc.CreateRequirement(context.Background(), industryID, CreateRequirementInput{
		ScrapType:  string(scrapType),
		RequiredKg: kg,
		PricePerKg: price,
	})
	require.NoError(t, err)
	return req
}

func price(v float64) *float64 { return &v }
