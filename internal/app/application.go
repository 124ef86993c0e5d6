package app

import (
	"context"
	"fmt"

	"github.com/ScrapCrafters/scrap_layer/internal/app/system"
	"github.com/ScrapCrafters/scrap_layer/internal/database"
	"github.com/ScrapCrafters/scrap_layer/internal/lock"
	"github.com/ScrapCrafters/scrap_layer/internal/logging"
	"github.com/ScrapCrafters/scrap_layer/services/coins"
	"github.com/ScrapCrafters/scrap_layer/services/contracts"
	"github.com/ScrapCrafters/scrap_layer/services/industry"
	"github.com/ScrapCrafters/scrap_layer/services/inventory"
	"github.com/ScrapCrafters/scrap_layer/services/ledger"
	"github.com/ScrapCrafters/scrap_layer/services/marketplace"
	"github.com/ScrapCrafters/scrap_layer/services/materials"
	"github.com/ScrapCrafters/scrap_layer/services/pickup"
	"github.com/ScrapCrafters/scrap_layer/services/profiles"
)

// Stores encapsulates persistence dependencies. Nil values default to the
// in-memory store and the in-process locker.
type Stores struct {
	Records database.RecordStore
	Locker  lock.Locker
}

// Options tunes the engines.
type Options struct {
	// Materials overrides the coin multiplier table.
	Materials *materials.Table
	// MaxPaymentAttempts caps automatic retries of a payment task.
	MaxPaymentAttempts int
	// Retrier, when set, registers the background payment retrier.
	Retrier *industry.RetrierConfig
}

// Application ties the settlement engines together and manages their lifecycle.
type Application struct {
	manager *system.Manager
	log     *logging.Logger

	Store       database.RecordStore
	Materials   *materials.Table
	Profiles    *profiles.Repository
	Ledger      *ledger.Ledger
	Coins       *coins.Service
	Inventory   *inventory.Tracker
	Industry    *industry.Service
	Marketplace *marketplace.Service
	Pickup      *pickup.Service
	Contracts   *contracts.Service
	Retrier     *industry.PaymentRetrier
}

// New builds a fully initialised application over stores.
func New(stores Stores, opts Options, log *logging.Logger) (*Application, error) {
	if log == nil {
		log = logging.NewDefault("app")
	}
	if stores.Records == nil {
		log.Warn("no record store configured; using in-memory store")
		stores.Records = database.NewMemoryStore()
	}
	if stores.Locker == nil {
		stores.Locker = lock.NewLocal()
	}
	if opts.Materials == nil {
		opts.Materials = materials.DefaultTable()
	}

	store, locker := stores.Records, stores.Locker
	profileRepo := profiles.NewRepository(store)
	ledgerSvc := ledger.New(store)
	coinSvc := coins.New(store, profileRepo, ledgerSvc, locker, log)
	tracker := inventory.NewTracker(store, locker)

	industrySvc := industry.NewService(store, profileRepo, coinSvc, tracker, locker, log,
		industry.Options{MaxPaymentAttempts: opts.MaxPaymentAttempts})
	marketSvc := marketplace.NewService(store, profileRepo, coinSvc, locker, log)
	pickupSvc := pickup.NewService(store, profileRepo, coinSvc, tracker, opts.Materials, locker, log)
	contractSvc := contracts.NewService(store, profileRepo, coinSvc, locker, log)

	application := &Application{
		manager:     system.NewManager(),
		log:         log,
		Store:       store,
		Materials:   opts.Materials,
		Profiles:    profileRepo,
		Ledger:      ledgerSvc,
		Coins:       coinSvc,
		Inventory:   tracker,
		Industry:    industrySvc,
		Marketplace: marketSvc,
		Pickup:      pickupSvc,
		Contracts:   contractSvc,
	}

	if opts.Retrier != nil {
		retrier, err := industry.NewPaymentRetrier(industrySvc, *opts.Retrier, log)
		if err != nil {
			return nil, fmt.Errorf("configure payment retrier: %w", err)
		}
		if err := application.manager.Register(retrier); err != nil {
			return nil, fmt.Errorf("register %s: %w", retrier.Name(), err)
		}
		application.Retrier = retrier
	}

	return application, nil
}

// Attach registers an additional lifecycle-managed service. Call before Start.
func (a *Application) Attach(service system.Service) error {
	return a.manager.Register(service)
}

// Start begins all registered services.
func (a *Application) Start(ctx context.Context) error {
	return a.manager.Start(ctx)
}

// Stop stops all services in reverse order.
func (a *Application) Stop(ctx context.Context) error {
	return a.manager.Stop(ctx)
}
