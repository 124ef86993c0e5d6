package pickup

import (
	"context"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

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

type fixture struct {
	store     *database.MemoryStore
	coins     *coins.Service
	inventory *inventory.Tracker
	svc       *Service
}

func f64(v float64) *float64 { return &v }

func newFixture(t *testing.T) fixture {
	t.Helper()
	store := database.NewMemoryStore()
	locker := lock.NewLocal()
	repo := profiles.NewRepository(store)
	people := []profiles.Profile{
		{ID: "donor", Role: profiles.RoleUser},
		{ID: "dealer", Role: profiles.RoleDealer, ScrapCoins: 1000, Latitude: f64(0), Longitude: f64(0)},
		{ID: "artist", Role: profiles.RoleArtist, ScrapCoins: 300},
		{ID: "broke", Role: profiles.RoleDealer, ScrapCoins: 10},
		{ID: "user2", Role: profiles.RoleUser, ScrapCoins: 5000},
	}
	for _, p := range people {
		_, err := repo.Create(context.Background(), p)
		require.NoError(t, err)
	}
	coinSvc := coins.New(store, repo, ledger.New(store), locker, logging.NewDiscard())
	tracker := inventory.NewTracker(store, locker)
	svc := NewService(store, repo, coinSvc, tracker, materials.DefaultTable(), locker, logging.NewDiscard())
	return fixture{store: store, coins: coinSvc, inventory: tracker, svc: svc}
}

func (f fixture) donate(t *testing.T, scrapType materials.ScrapType, kg float64) Request {
	t.Helper()
	req, err := f.svc.Donate(context.Background(), "donor", DonateInput{ScrapType: string(scrapType), WeightKg: kg, PickupAddress: "12 Main St"})
	require.NoError(t, err)
	return req
}

func (f fixture) balance(t *testing.T, id string) int64 {
	t.Helper()
	b, err := f.coins.Balance(context.Background(), id)
	require.NoError(t, err)
	return b
}

func TestDonate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	req := f.donate(t, materials.Iron, 10)
	assert.Equal(t, StatusPending, req.Status)
	assert.Nil(t, req.PartnerID)

	tests := []struct {
		name     string
		user     string
		in       DonateInput
		wantCode svcerrors.ErrorCode
	}{
		{"unknown donor", "ghost", DonateInput{ScrapType: "iron", WeightKg: 1}, svcerrors.CodeNotFound},
		{"bad type", "donor", DonateInput{ScrapType: "wood", WeightKg: 1}, svcerrors.CodeInvalidInput},
		{"zero weight", "donor", DonateInput{ScrapType: "iron"}, svcerrors.CodeInvalidQuantity},
		{"half a position", "donor", DonateInput{ScrapType: "iron", WeightKg: 1, Latitude: f64(1)}, svcerrors.CodeInvalidInput},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.Donate(ctx, tt.user, tt.in)
			assert.True(t, svcerrors.IsCode(err, tt.wantCode), "err = %v", err)
		})
	}

	list, err := f.svc.ListRequests(ctx, RequestFilter{UserID: "donor"})
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestPickupLifecycleWithDealer(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	req := f.donate(t, materials.Iron, 10)

	accepted, err := f.svc.Accept(ctx, req.ID, "dealer")
	require.NoError(t, err)
	assert.Equal(t, StatusAccepted, accepted.Status)
	require.NotNil(t, accepted.PartnerID)
	assert.Equal(t, "dealer", *accepted.PartnerID)
	assert.NotNil(t, accepted.AcceptedAt)
	assert.Equal(t, int64(1000), f.balance(t, "dealer"), "accept reserves nothing")

	res, err := f.svc.Complete(ctx, req.ID, "dealer")
	require.NoError(t, err)
	assert.Equal(t, int64(300), res.CoinsEarned)
	assert.Equal(t, StatusCompleted, res.Request.Status)
	assert.Equal(t, int64(300), res.Request.CoinsAwarded)
	assert.Equal(t, int64(300), f.balance(t, "donor"))
	assert.Equal(t, int64(700), f.balance(t, "dealer"))
	require.NotNil(t, res.InventoryKg)
	assert.Equal(t, 10.0, *res.InventoryKg)

	item, err := f.inventory.Get(ctx, "dealer", materials.Iron)
	require.NoError(t, err)
	assert.Equal(t, 10.0, item.QuantityKg)

	entries, err := f.coins.Ledger().ByReference(ctx, req.ID)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, ledger.TypeDonationReward, entries[0].Type)
	assert.Equal(t, int64(300), entries[0].Amount)
	assert.Equal(t, ledger.TypePickupCost, entries[1].Type)
	assert.Equal(t, int64(-300), entries[1].Amount)

	_, err = f.svc.Complete(ctx, req.ID, "dealer")
	assert.True(t, svcerrors.HasReason(err, svcerrors.ReasonNotAccepted), "second completion: %v", err)
	assert.Equal(t, int64(300), f.balance(t, "donor"))
}

func TestArtistPickupSkipsInventory(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	req := f.donate(t, materials.Plastic, 2.5)

	_, err := f.svc.Accept(ctx, req.ID, "artist")
	require.NoError(t, err)
	res, err := f.svc.Complete(ctx, req.ID, "artist")
	require.NoError(t, err)
	assert.Equal(t, int64(50), res.CoinsEarned)
	assert.Nil(t, res.InventoryKg)
	assert.Zero(t, f.store.Count(inventory.Table))
	assert.Equal(t, int64(250), f.balance(t, "artist"))
}

func TestAcceptRejections(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	req := f.donate(t, materials.Copper, 1)
	big := f.donate(t, materials.EWaste, 100)

	_, err := f.svc.Accept(ctx, "nope", "dealer")
	assert.True(t, svcerrors.IsCode(err, svcerrors.CodeNotFound))

	_, err = f.svc.Accept(ctx, req.ID, "user2")
	assert.True(t, svcerrors.IsCode(err, svcerrors.CodePermissionDenied))

	_, err = f.svc.Accept(ctx, req.ID, "broke")
	assert.True(t, svcerrors.IsCode(err, svcerrors.CodeInsufficientFunds), "40 coins needed: %v", err)

	_, err = f.svc.Accept(ctx, big.ID, "dealer")
	assert.True(t, svcerrors.IsCode(err, svcerrors.CodeInsufficientFunds), "5000 coins needed: %v", err)

	_, err = f.svc.Accept(ctx, req.ID, "dealer")
	require.NoError(t, err)
	_, err = f.svc.Accept(ctx, req.ID, "artist")
	assert.True(t, svcerrors.HasReason(err, svcerrors.ReasonAlreadyAccepted))
}

func TestCompleteRejections(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	req := f.donate(t, materials.Glass, 3)

	_, err := f.svc.Complete(ctx, req.ID, "dealer")
	assert.True(t, svcerrors.HasReason(err, svcerrors.ReasonNotAccepted))

	_, err = f.svc.Accept(ctx, req.ID, "dealer")
	require.NoError(t, err)

	_, err = f.svc.Complete(ctx, req.ID, "artist")
	assert.True(t, svcerrors.IsCode(err, svcerrors.CodePermissionDenied))

	_, err = f.svc.Complete(ctx, "nope", "dealer")
	assert.True(t, svcerrors.IsCode(err, svcerrors.CodeNotFound))

	got, err := f.svc.Get(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusAccepted, got.Status)
}

func TestPartnerChargeCanGoNegative(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	req := f.donate(t, materials.Iron, 10)

	_, err := f.svc.Accept(ctx, req.ID, "artist")
	require.NoError(t, err)
	_, err = f.coins.Adjust(ctx, "artist", -250)
	require.NoError(t, err)

	res, err := f.svc.Complete(ctx, req.ID, "artist")
	require.NoError(t, err)
	assert.Equal(t, int64(-250), res.PartnerBalance)
	assert.Equal(t, int64(300), res.DonorBalance)
}

func TestCompleteRollsBackOnFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	req := f.donate(t, materials.Iron, 10)
	_, err := f.svc.Accept(ctx, req.ID, "dealer")
	require.NoError(t, err)

	f.store.FailNext(database.OpInsert, inventory.Table, assert.AnError)
	_, err = f.svc.Complete(ctx, req.ID, "dealer")
	assert.True(t, svcerrors.IsCode(err, svcerrors.CodeStorageUnavailable))

	got, err := f.svc.Get(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusAccepted, got.Status)
	assert.Zero(t, f.balance(t, "donor"))
	assert.Equal(t, int64(1000), f.balance(t, "dealer"))
	assert.Zero(t, f.store.Count(ledger.Table))
}

func TestConcurrentAcceptsHaveOneWinner(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	req := f.donate(t, materials.Other, 1)

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for _, partner := range []string{"dealer", "artist", "dealer", "artist"} {
		wg.Add(1)
		go func(p string) {
			defer wg.Done()
			if _, err := f.svc.Accept(ctx, req.ID, p); err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}(partner)
	}
	wg.Wait()
	assert.Equal(t, 1, wins)
}

// kmNorth returns the latitude km kilometres north of the equator.
func kmNorth(km float64) *float64 {
	return f64(km / (matching.EarthRadiusKm * math.Pi / 180))
}

func TestAvailableRequests(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	start := time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC)
	f.svc.now = func() time.Time { return start }

	near, err := f.svc.Donate(ctx, "donor", DonateInput{ScrapType: "iron", WeightKg: 1, Latitude: kmNorth(3), Longitude: f64(0)})
	require.NoError(t, err)
	far, err := f.svc.Donate(ctx, "donor", DonateInput{ScrapType: "iron", WeightKg: 1, Latitude: kmNorth(20), Longitude: f64(0)})
	require.NoError(t, err)
	unplaced := f.donate(t, materials.Iron, 1)

	ids := func(reqs []Request) []string {
		out := make([]string, len(reqs))
		for i, r := range reqs {
			out[i] = r.ID
		}
		return out
	}

	got, err := f.svc.AvailableRequests(ctx, "dealer", nil)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{near.ID, unplaced.ID}, ids(got))

	f.svc.now = func() time.Time { return start.Add(40 * time.Minute) }
	got, err = f.svc.AvailableRequests(ctx, "dealer", nil)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{near.ID, far.ID, unplaced.ID}, ids(got))

	got, err = f.svc.AvailableRequests(ctx, "artist", nil)
	require.NoError(t, err)
	assert.Len(t, got, 3, "partner without coordinates sees everything")

	_, err = f.svc.Accept(ctx, near.ID, "dealer")
	require.NoError(t, err)
	got, err = f.svc.AvailableRequests(ctx, "", &matching.GeoPoint{})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{far.ID, unplaced.ID}, ids(got))
}

func TestAvailableRequestsToleratesStoredTimestamps(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	start := time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC)
	f.svc.now = func() time.Time { return start }

	rows := []map[string]any{
		{"id": "postgres-text", "created_at": "2026-06-01 08:00:00", "latitude": *kmNorth(3)},
		{"id": "garbled-near", "created_at": "last tuesday", "latitude": *kmNorth(30)},
		{"id": "garbled-far", "created_at": "last tuesday", "latitude": *kmNorth(40)},
		{"id": "number", "created_at": 1717228800, "latitude": *kmNorth(1)},
	}
	for _, row := range rows {
		row["user_id"] = "donor"
		row["scrap_type"] = "iron"
		row["weight_kg"] = 1.0
		row["status"] = StatusPending
		row["longitude"] = 0.0
		require.NoError(t, f.store.Insert(ctx, Table, row, nil))
	}

	got, err := f.svc.AvailableRequests(ctx, "dealer", nil)
	require.NoError(t, err)
	var ids []string
	for _, r := range got {
		ids = append(ids, r.ID)
	}
	assert.ElementsMatch(t, []string{"postgres-text", "garbled-near", "number"}, ids,
		"unreadable timestamps count as an hour old")

	req, err := f.svc.Get(ctx, "postgres-text")
	require.NoError(t, err)
	assert.True(t, req.CreatedAt.Equal(start), "created_at = %v", req.CreatedAt)

	req, err = f.svc.Get(ctx, "garbled-near")
	require.NoError(t, err)
	assert.True(t, req.CreatedAt.IsZero())
	assert.Equal(t, StatusPending, req.Status)
}
