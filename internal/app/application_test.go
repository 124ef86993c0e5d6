package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ScrapCrafters/scrap_layer/internal/config"
	"github.com/ScrapCrafters/scrap_layer/internal/logging"
	"github.com/ScrapCrafters/scrap_layer/services/industry"
	"github.com/ScrapCrafters/scrap_layer/services/materials"
)

func TestNewDefaults(t *testing.T) {
	application, err := New(Stores{}, Options{}, logging.NewDiscard())
	require.NoError(t, err)

	assert.NotNil(t, application.Store)
	assert.NotNil(t, application.Coins)
	assert.Nil(t, application.Retrier)
	assert.Equal(t, int64(30), application.Materials.Multiplier(materials.Iron))

	ctx := context.Background()
	require.NoError(t, application.Start(ctx))
	require.NoError(t, application.Stop(ctx))
}

func TestNewRegistersRetrier(t *testing.T) {
	application, err := New(Stores{}, Options{Retrier: &industry.RetrierConfig{Schedule: "@every 1h"}}, logging.NewDiscard())
	require.NoError(t, err)
	require.NotNil(t, application.Retrier)

	ctx := context.Background()
	require.NoError(t, application.Start(ctx))
	require.NoError(t, application.Stop(ctx))
}

func TestNewRejectsBadSchedule(t *testing.T) {
	_, err := New(Stores{}, Options{Retrier: &industry.RetrierConfig{Schedule: "sometimes"}}, logging.NewDiscard())
	if err == nil {
		t.Fatal("expected invalid schedule to fail")
	}
}

func TestOptionsFromConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "materials.yaml")
	require.NoError(t, os.WriteFile(path, []byte("multipliers:\n  iron: 35\n"), 0o600))

	cfg := &config.Config{
		MaterialsFile: path,
		Payments:      config.PaymentsConfig{RetrySchedule: "@every 5m", BatchSize: 10, MaxAttempts: 3},
	}
	opts, err := OptionsFromConfig(cfg, true)
	require.NoError(t, err)
	assert.Equal(t, 3, opts.MaxPaymentAttempts)
	assert.Equal(t, int64(35), opts.Materials.Multiplier(materials.Iron))
	require.NotNil(t, opts.Retrier)
	assert.Equal(t, "@every 5m", opts.Retrier.Schedule)

	opts, err = OptionsFromConfig(&config.Config{}, false)
	require.NoError(t, err)
	assert.Nil(t, opts.Retrier)
	assert.Nil(t, opts.Materials)

	_, err = OptionsFromConfig(&config.Config{MaterialsFile: filepath.Join(t.TempDir(), "missing.yaml")}, false)
	assert.Error(t, err)
}

func TestOpenBackendsMemory(t *testing.T) {
	cfg := &config.Config{
		Store: config.StoreConfig{Backend: config.StoreMemory},
		Lock:  config.LockConfig{Backend: config.LockLocal},
	}
	b, err := OpenBackends(context.Background(), cfg, logging.NewDiscard())
	require.NoError(t, err)
	defer b.Close()

	assert.NotNil(t, b.Stores.Records)
	assert.NotNil(t, b.Stores.Locker)
}

func TestOpenBackendsSupabase(t *testing.T) {
	cfg := &config.Config{
		Store: config.StoreConfig{Backend: config.StoreSupabase, SupabaseURL: "https://example.supabase.co", SupabaseServiceKey: "key"},
		Lock:  config.LockConfig{Backend: config.LockLocal},
	}
	b, err := OpenBackends(context.Background(), cfg, logging.NewDiscard())
	require.NoError(t, err)
	assert.NoError(t, b.Close())
}

func TestOpenBackendsUnknown(t *testing.T) {
	_, err := OpenBackends(context.Background(), &config.Config{Store: config.StoreConfig{Backend: "mongo"}}, logging.NewDiscard())
	assert.Error(t, err)
}
