package app

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"

	"github.com/go-redis/redis/v8"
	_ "github.com/lib/pq"

	"github.com/ScrapCrafters/scrap_layer/internal/config"
	"github.com/ScrapCrafters/scrap_layer/internal/database"
	"github.com/ScrapCrafters/scrap_layer/internal/lock"
	"github.com/ScrapCrafters/scrap_layer/internal/logging"
	"github.com/ScrapCrafters/scrap_layer/services/industry"
	"github.com/ScrapCrafters/scrap_layer/services/materials"
	"github.com/ScrapCrafters/scrap_layer/supabase/client"
)

// Backends holds the opened stores and the function that releases them.
type Backends struct {
	Stores Stores
	close  []func() error
}

// Close releases every opened connection.
func (b *Backends) Close() error {
	var first error
	for i := len(b.close) - 1; i >= 0; i-- {
		if err := b.close[i](); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// OpenPostgres opens and pings a Postgres handle.
func OpenPostgres(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return db, nil
}

// OpenBackends connects the record store and locker selected by cfg.
func OpenBackends(ctx context.Context, cfg *config.Config, log *logging.Logger) (*Backends, error) {
	b := &Backends{}

	switch cfg.Store.Backend {
	case config.StoreSupabase:
		breaker := client.DefaultBreakerConfig()
		breaker.OnChange = func(from, to client.BreakerState) {
			log.WithFields(map[string]interface{}{"from": from.String(), "to": to.String()}).Warn("supabase circuit changed state")
		}
		c, err := client.New(client.Config{
			URL:        cfg.Store.SupabaseURL,
			APIKey:     cfg.Store.SupabaseKey(),
			HTTPClient: &http.Client{Timeout: cfg.Store.RequestTimeout},
			Breaker:    client.NewBreaker(breaker),
		})
		if err != nil {
			return nil, fmt.Errorf("supabase client: %w", err)
		}
		b.Stores.Records = database.NewSupabaseStore(c)
	case config.StorePostgres:
		db, err := OpenPostgres(ctx, cfg.Store.PostgresDSN)
		if err != nil {
			return nil, err
		}
		b.close = append(b.close, db.Close)
		b.Stores.Records = database.NewPostgresStore(db)
	case config.StoreMemory:
		log.Warn("STORE_BACKEND=memory; data is lost on restart")
		b.Stores.Records = database.NewMemoryStore()
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}

	switch cfg.Lock.Backend {
	case config.LockRedis:
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Lock.RedisAddr,
			Password: cfg.Lock.RedisPassword,
			DB:       cfg.Lock.RedisDB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			_ = rdb.Close()
			_ = b.Close()
			return nil, fmt.Errorf("ping redis: %w", err)
		}
		b.close = append(b.close, rdb.Close)
		b.Stores.Locker = lock.NewRedis(rdb, lock.RedisConfig{Prefix: cfg.Lock.Prefix, TTL: cfg.Lock.TTL})
	default:
		b.Stores.Locker = lock.NewLocal()
	}

	log.WithFields(map[string]interface{}{
		"store": cfg.Store.Backend,
		"lock":  cfg.Lock.Backend,
	}).Info("backends ready")
	return b, nil
}

// OptionsFromConfig maps configuration onto engine options.
func OptionsFromConfig(cfg *config.Config, withRetrier bool) (Options, error) {
	opts := Options{MaxPaymentAttempts: cfg.Payments.MaxAttempts}
	if cfg.MaterialsFile != "" {
		table, err := materials.LoadTable(cfg.MaterialsFile)
		if err != nil {
			return Options{}, err
		}
		opts.Materials = table
	}
	if withRetrier {
		opts.Retrier = &industry.RetrierConfig{
			Schedule:  cfg.Payments.RetrySchedule,
			BatchSize: cfg.Payments.BatchSize,
			Timeout:   cfg.Payments.SweepTimeout,
		}
	}
	return opts, nil
}
