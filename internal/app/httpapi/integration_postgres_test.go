//go:build integration && postgres

package httpapi

import (
	"context"
	"net/http"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/stretchr/testify/require"

	app "github.com/ScrapCrafters/scrap_layer/internal/app"
	"github.com/ScrapCrafters/scrap_layer/internal/database"
	"github.com/ScrapCrafters/scrap_layer/internal/logging"
	"github.com/ScrapCrafters/scrap_layer/internal/platform/migrations"
	"github.com/ScrapCrafters/scrap_layer/services/pickup"
	"github.com/ScrapCrafters/scrap_layer/services/profiles"
)

// Runs a donation through accept and complete against a real database.
func TestIntegrationPostgres(t *testing.T) {
	_ = godotenv.Load() // allow .env for local runs
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("DATABASE_URL not set; skipping Postgres integration")
	}

	ctx := context.Background()
	db, err := app.OpenPostgres(ctx, dsn)
	require.NoError(t, err)
	defer db.Close()
	require.NoError(t, migrations.Apply(ctx, db))

	application, err := app.New(app.Stores{Records: database.NewPostgresStore(db)}, app.Options{}, logging.NewDiscard())
	require.NoError(t, err)
	env := &testEnv{app: application, handler: NewHandler(application, Config{Logger: logging.NewDiscard()})}

	donor, dealer := uuid.NewString(), uuid.NewString()
	env.profile(t, donor, profiles.RoleUser, 0)
	env.profile(t, dealer, profiles.RoleDealer, 500)

	rec := env.do(t, http.MethodPost, "/scrap/donate?user_id="+donor, map[string]any{"scrap_type": "copper", "weight_kg": 1.25})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	req := decode[pickup.Request](t, rec)

	rec = env.do(t, http.MethodPut, "/scrap/requests/"+req.ID+"/accept?partner_id="+dealer, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = env.do(t, http.MethodPut, "/scrap/requests/"+req.ID+"/complete?partner_id="+dealer, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	done := decode[pickup.CompleteResult](t, rec)
	require.Equal(t, int64(50), done.CoinsEarned)
	require.Equal(t, int64(450), done.PartnerBalance)
}
