package contracts

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ScrapCrafters/scrap_layer/internal/database"
	svcerrors "github.com/ScrapCrafters/scrap_layer/internal/errors"
	"github.com/ScrapCrafters/scrap_layer/internal/lock"
	"github.com/ScrapCrafters/scrap_layer/internal/logging"
	"github.com/ScrapCrafters/scrap_layer/services/coins"
	"github.com/ScrapCrafters/scrap_layer/services/ledger"
	"github.com/ScrapCrafters/scrap_layer/services/profiles"
)

func newService(t *testing.T, userCoins int64) (*Service, *coins.Service) {
	t.Helper()
	svc, coinSvc, _ := buildService(t, userCoins, false)
	return svc, coinSvc
}

// sequentialStore hides the memory store's transactions.
type sequentialStore struct {
	database.RecordStore
}

func buildService(t *testing.T, userCoins int64, sequential bool) (*Service, *coins.Service, *database.MemoryStore) {
	t.Helper()
	mem := database.NewMemoryStore()
	var store database.RecordStore = mem
	if sequential {
		store = sequentialStore{mem}
	}
	locker := lock.NewLocal()
	repo := profiles.NewRepository(store)
	for _, p := range []profiles.Profile{
		{ID: "u1", Role: profiles.RoleUser, ScrapCoins: userCoins},
		{ID: "a1", Role: profiles.RoleArtist},
		{ID: "d1", Role: profiles.RoleDealer},
	} {
		_, err := repo.Create(context.Background(), p)
		require.NoError(t, err)
	}
	coinSvc := coins.New(store, repo, ledger.New(store), locker, logging.NewDiscard())
	return NewService(store, repo, coinSvc, locker, logging.NewDiscard()), coinSvc, mem
}

func TestCanTransition(t *testing.T) {
	allowed := [][2]Status{
		{StatusPending, StatusAccepted},
		{StatusPending, StatusRejected},
		{StatusAccepted, StatusInProgress},
		{StatusAccepted, StatusCompleted},
		{StatusInProgress, StatusCompleted},
	}
	for _, tr := range allowed {
		if !CanTransition(tr[0], tr[1]) {
			t.Errorf("%s -> %s should be allowed", tr[0], tr[1])
		}
	}
	denied := [][2]Status{
		{StatusPending, StatusCompleted},
		{StatusRejected, StatusAccepted},
		{StatusCompleted, StatusInProgress},
		{StatusInProgress, StatusRejected},
	}
	for _, tr := range denied {
		if CanTransition(tr[0], tr[1]) {
			t.Errorf("%s -> %s should be denied", tr[0], tr[1])
		}
	}
}

func TestCreate(t *testing.T) {
	svc, _ := newService(t, 0)
	ctx := context.Background()

	iron := "iron"
	c, err := svc.Create(ctx, "u1", CreateInput{ArtistID: "a1", Description: "bench", ScrapType: &iron, BudgetCoins: 200})
	require.NoError(t, err)
	assert.Equal(t, StatusPending, c.Status)

	for name, in := range map[string]CreateInput{
		"not an artist":   {ArtistID: "d1"},
		"unknown artist":  {ArtistID: "nobody"},
		"negative budget": {ArtistID: "a1", BudgetCoins: -5},
	} {
		_, err := svc.Create(ctx, "u1", in)
		assert.True(t, svcerrors.IsCode(err, svcerrors.CodeInvalidInput), "%s: %v", name, err)
	}

	mine, err := svc.List(ctx, Filter{UserID: "u1"})
	require.NoError(t, err)
	assert.Len(t, mine, 1)
	theirs, err := svc.List(ctx, Filter{ArtistID: "a1"})
	require.NoError(t, err)
	assert.Len(t, theirs, 1)
}

func TestCompletionPaysArtist(t *testing.T) {
	svc, coinSvc := newService(t, 500)
	ctx := context.Background()

	c, err := svc.Create(ctx, "u1", CreateInput{ArtistID: "a1", BudgetCoins: 200})
	require.NoError(t, err)

	for _, next := range []Status{StatusAccepted, StatusInProgress} {
		c, err = svc.UpdateStatus(ctx, c.ID, next)
		require.NoError(t, err)
		assert.Equal(t, next, c.Status)
	}
	artistBalance, _ := coinSvc.Balance(ctx, "a1")
	assert.Zero(t, artistBalance, "no payment before completion")

	c, err = svc.UpdateStatus(ctx, c.ID, StatusCompleted)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, c.Status)

	userBalance, _ := coinSvc.Balance(ctx, "u1")
	artistBalance, _ = coinSvc.Balance(ctx, "a1")
	assert.Equal(t, int64(300), userBalance)
	assert.Equal(t, int64(200), artistBalance)

	_, err = svc.UpdateStatus(ctx, c.ID, StatusInProgress)
	assert.True(t, svcerrors.HasReason(err, svcerrors.ReasonInvalidTransition))
}

func TestCompletionWithoutFundsKeepsStatus(t *testing.T) {
	svc, coinSvc := newService(t, 50)
	ctx := context.Background()

	c, err := svc.Create(ctx, "u1", CreateInput{ArtistID: "a1", BudgetCoins: 200})
	require.NoError(t, err)
	_, err = svc.UpdateStatus(ctx, c.ID, StatusAccepted)
	require.NoError(t, err)

	_, err = svc.UpdateStatus(ctx, c.ID, StatusCompleted)
	assert.True(t, svcerrors.IsCode(err, svcerrors.CodeInsufficientFunds))

	got, err := svc.Get(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusAccepted, got.Status)
	balance, _ := coinSvc.Balance(ctx, "u1")
	assert.Equal(t, int64(50), balance)
}

func TestUnknownContract(t *testing.T) {
	svc, _ := newService(t, 0)
	_, err := svc.UpdateStatus(context.Background(), "missing", StatusAccepted)
	assert.True(t, svcerrors.IsCode(err, svcerrors.CodeNotFound))
}

func TestCompletionWithoutTransactions(t *testing.T) {
	ctx := context.Background()

	t.Run("short funds put the status back", func(t *testing.T) {
		svc, coinSvc, _ := buildService(t, 50, true)
		c, err := svc.Create(ctx, "u1", CreateInput{ArtistID: "a1", BudgetCoins: 200})
		require.NoError(t, err)
		_, err = svc.UpdateStatus(ctx, c.ID, StatusAccepted)
		require.NoError(t, err)

		_, err = svc.UpdateStatus(ctx, c.ID, StatusCompleted)
		assert.True(t, svcerrors.IsCode(err, svcerrors.CodeInsufficientFunds), "err = %v", err)

		got, err := svc.Get(ctx, c.ID)
		require.NoError(t, err)
		assert.Equal(t, StatusAccepted, got.Status)
		balance, _ := coinSvc.Balance(ctx, "u1")
		assert.Equal(t, int64(50), balance)
		artist, _ := coinSvc.Balance(ctx, "a1")
		assert.Zero(t, artist)
	})

	t.Run("lost status update moves no coins", func(t *testing.T) {
		svc, coinSvc, mem := buildService(t, 500, true)
		c, err := svc.Create(ctx, "u1", CreateInput{ArtistID: "a1", BudgetCoins: 200})
		require.NoError(t, err)
		_, err = svc.UpdateStatus(ctx, c.ID, StatusAccepted)
		require.NoError(t, err)

		mem.FailNext(database.OpUpdate, Table, assert.AnError)
		_, err = svc.UpdateStatus(ctx, c.ID, StatusCompleted)
		assert.True(t, svcerrors.IsCode(err, svcerrors.CodeStorageUnavailable), "err = %v", err)

		balance, _ := coinSvc.Balance(ctx, "u1")
		assert.Equal(t, int64(500), balance)
		artist, _ := coinSvc.Balance(ctx, "a1")
		assert.Zero(t, artist)

		c, err = svc.UpdateStatus(ctx, c.ID, StatusCompleted)
		require.NoError(t, err)
		assert.Equal(t, StatusCompleted, c.Status)
		artist, _ = coinSvc.Balance(ctx, "a1")
		assert.Equal(t, int64(200), artist)
	})
}
