package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	app "github.com/ScrapCrafters/scrap_layer/internal/app"
	"github.com/ScrapCrafters/scrap_layer/internal/database"
	"github.com/ScrapCrafters/scrap_layer/internal/httputil"
	"github.com/ScrapCrafters/scrap_layer/internal/logging"
	"github.com/ScrapCrafters/scrap_layer/internal/middleware"
	"github.com/ScrapCrafters/scrap_layer/services/industry"
	"github.com/ScrapCrafters/scrap_layer/services/marketplace"
	"github.com/ScrapCrafters/scrap_layer/services/materials"
	"github.com/ScrapCrafters/scrap_layer/services/pickup"
	"github.com/ScrapCrafters/scrap_layer/services/profiles"
)

type testEnv struct {
	app     *app.Application
	handler http.Handler
}

func newTestEnv(t *testing.T, cfg Config) *testEnv {
	t.Helper()
	application, err := app.New(app.Stores{Records: database.NewMemoryStore()}, app.Options{}, logging.NewDiscard())
	require.NoError(t, err)
	cfg.Logger = logging.NewDiscard()
	return &testEnv{app: application, handler: NewHandler(application, cfg)}
}

func (e *testEnv) profile(t *testing.T, id string, role profiles.Role, coins int64) {
	t.Helper()
	_, err := e.app.Profiles.Create(context.Background(), profiles.Profile{ID: id, Name: id, Role: role, ScrapCoins: coins})
	require.NoError(t, err)
}

func (e *testEnv) do(t *testing.T, method, path string, body any, header ...string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode %s: %v", rec.Body.String(), err)
	}
	return out
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	return decode[httputil.ErrorResponse](t, rec).Error
}

func TestRootAndHealth(t *testing.T) {
	env := newTestEnv(t, Config{})

	rec := env.do(t, http.MethodGet, "/", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "running", decode[map[string]any](t, rec)["status"])

	rec = env.do(t, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "healthy", decode[map[string]string](t, rec)["status"])

	rec = env.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodGet, "/nowhere", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "NOT_FOUND", errorCode(t, rec))
}

func TestPickupFlow(t *testing.T) {
	env := newTestEnv(t, Config{})
	env.profile(t, "donor", profiles.RoleUser, 0)
	env.profile(t, "dealer", profiles.RoleDealer, 100)

	rec := env.do(t, http.MethodPost, "/scrap/donate?user_id=donor", map[string]any{
		"scrap_type":     "iron",
		"weight_kg":      2.0,
		"pickup_address": "12 Foundry Lane",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	donated := decode[pickup.Request](t, rec)
	assert.Equal(t, pickup.StatusPending, donated.Status)

	rec = env.do(t, http.MethodGet, "/scrap/requests/available?partner_id=dealer", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]pickup.Request](t, rec), 1)

	rec = env.do(t, http.MethodPut, "/scrap/requests/"+donated.ID+"/accept?partner_id=dealer", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, pickup.StatusAccepted, decode[pickup.Request](t, rec).Status)

	rec = env.do(t, http.MethodPut, "/scrap/requests/"+donated.ID+"/accept?partner_id=dealer", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "INVALID_STATE", errorCode(t, rec))

	rec = env.do(t, http.MethodPut, "/scrap/requests/"+donated.ID+"/complete?partner_id=dealer", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	done := decode[pickup.CompleteResult](t, rec)
	assert.Equal(t, int64(60), done.CoinsEarned)
	assert.Equal(t, int64(60), done.DonorBalance)
	assert.Equal(t, int64(40), done.PartnerBalance)

	rec = env.do(t, http.MethodGet, "/coins/balance/donor", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 60, decode[map[string]any](t, rec)["balance"])

	rec = env.do(t, http.MethodGet, "/industry/dealers/dealer/inventory", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	items := decode[[]map[string]any](t, rec)
	require.Len(t, items, 1)
	assert.Equal(t, "iron", items[0]["scrap_type"])

	rec = env.do(t, http.MethodGet, "/coins/history/donor", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]map[string]any](t, rec), 1)

	rec = env.do(t, http.MethodGet, "/coins/reconcile/dealer", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	recon := decode[map[string]any](t, rec)
	assert.EqualValues(t, 40, recon["balance"])
}

func TestDonateValidation(t *testing.T) {
	env := newTestEnv(t, Config{})
	env.profile(t, "donor", profiles.RoleUser, 0)

	tests := []struct {
		name   string
		path   string
		body   any
		status int
		code   string
	}{
		{"missing user", "/scrap/donate", map[string]any{"scrap_type": "iron", "weight_kg": 1}, http.StatusBadRequest, "INVALID_INPUT"},
		{"unknown user", "/scrap/donate?user_id=ghost", map[string]any{"scrap_type": "iron", "weight_kg": 1}, http.StatusNotFound, "NOT_FOUND"},
		{"bad type", "/scrap/donate?user_id=donor", map[string]any{"scrap_type": "gold", "weight_kg": 1}, http.StatusBadRequest, "INVALID_INPUT"},
		{"zero weight", "/scrap/donate?user_id=donor", map[string]any{"scrap_type": "iron", "weight_kg": 0}, http.StatusBadRequest, "INVALID_QUANTITY"},
		{"unknown field", "/scrap/donate?user_id=donor", map[string]any{"scrap_type": "iron", "weight": 1}, http.StatusBadRequest, "INVALID_INPUT"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, http.MethodPost, tt.path, tt.body)
			if rec.Code != tt.status {
				t.Fatalf("status = %d, want %d (%s)", rec.Code, tt.status, rec.Body.String())
			}
			assert.Equal(t, tt.code, errorCode(t, rec))
		})
	}
}

func TestIndustryFlow(t *testing.T) {
	env := newTestEnv(t, Config{})
	env.profile(t, "steelco", profiles.RoleIndustry, 100)
	env.profile(t, "dealer", profiles.RoleDealer, 0)
	_, err := env.app.Inventory.Credit(context.Background(), "dealer", materials.Iron, 8)
	require.NoError(t, err)

	rec := env.do(t, http.MethodPost, "/industry/requirements?industry_id=steelco", map[string]any{
		"scrap_type":   "iron",
		"required_kg":  5.0,
		"price_per_kg": 10.0,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	req := decode[industry.Requirement](t, rec)

	rec = env.do(t, http.MethodGet, "/industry/dealers/match/"+req.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	matches := decode[[]map[string]any](t, rec)
	require.Len(t, matches, 1)
	assert.EqualValues(t, 100, matches[0]["match_score"])

	rec = env.do(t, http.MethodPost, "/industry/requirements/"+req.ID+"/fulfill", map[string]any{
		"dealer_id":   "dealer",
		"quantity_kg": 3.0,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	result := decode[industry.FulfillResult](t, rec)
	assert.Equal(t, industry.StatusPartiallyFulfilled, result.Status)
	assert.Equal(t, int64(30), result.CoinsTransferred)

	rec = env.do(t, http.MethodGet, "/industry/requirements?status=partially_fulfilled", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]industry.Requirement](t, rec), 1)

	rec = env.do(t, http.MethodGet, "/industry/requirements?scrap_type=gold", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodGet, "/industry/requirements/"+req.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	detail := decode[industry.RequirementDetail](t, rec)
	assert.Len(t, detail.Fulfillments, 1)

	rec = env.do(t, http.MethodGet, "/industry/payments?status=settled", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	tasks := decode[[]industry.PaymentTask](t, rec)
	require.Len(t, tasks, 1)

	rec = env.do(t, http.MethodPost, "/industry/payments/"+tasks[0].ID+"/retry", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "INVALID_STATE", errorCode(t, rec))

	rec = env.do(t, http.MethodPost, "/industry/requirements/"+req.ID+"/fulfill", map[string]any{
		"dealer_id":   "steelco",
		"quantity_kg": 1.0,
	})
	require.Equal(t, http.StatusForbidden, rec.Code)
}

func TestMarketplaceFlow(t *testing.T) {
	env := newTestEnv(t, Config{})
	env.profile(t, "artist", profiles.RoleArtist, 0)
	env.profile(t, "buyer", profiles.RoleUser, 50)

	rec := env.do(t, http.MethodPost, "/products?artist_id=artist", map[string]any{
		"name":           "Copper lamp",
		"price_coins":    20,
		"stock_quantity": 2,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	product := decode[marketplace.Listing](t, rec)
	assert.True(t, product.IsAvailable)

	rec = env.do(t, http.MethodPost, "/products/"+product.ID+"/purchase", map[string]any{"buyer_id": "buyer"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	bought := decode[marketplace.PurchaseResult](t, rec)
	assert.Equal(t, 1, bought.Quantity)
	assert.Equal(t, int64(20), bought.TotalPaidCoins)
	assert.Equal(t, 1, bought.RemainingStock)

	rec = env.do(t, http.MethodPost, "/products/"+product.ID+"/purchase", map[string]any{"buyer_id": "buyer", "quantity": 3})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "INSUFFICIENT_STOCK", errorCode(t, rec))

	rec = env.do(t, http.MethodPost, "/products/"+product.ID+"/purchase", map[string]any{"buyer_id": "buyer", "pay_with_coins": false})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.False(t, decode[marketplace.PurchaseResult](t, rec).IsAvailable)

	rec = env.do(t, http.MethodGet, "/products", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode[[]marketplace.Listing](t, rec))

	rec = env.do(t, http.MethodGet, "/products?available_only=false", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]marketplace.Listing](t, rec), 1)

	rec = env.do(t, http.MethodPost, "/products/"+product.ID+"/purchase", map[string]any{"buyer_id": "buyer"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "OUT_OF_STOCK", errorCode(t, rec))
}

func TestContractFlow(t *testing.T) {
	env := newTestEnv(t, Config{})
	env.profile(t, "patron", profiles.RoleUser, 80)
	env.profile(t, "artist", profiles.RoleArtist, 0)

	rec := env.do(t, http.MethodPost, "/contracts?user_id=patron", map[string]any{
		"artist_id":    "artist",
		"description":  "sculpture from bike parts",
		"budget_coins": 50,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	contract := decode[map[string]any](t, rec)
	id := contract["id"].(string)

	rec = env.do(t, http.MethodPut, "/contracts/"+id+"/status", map[string]any{"status": "completed"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "INVALID_STATE", errorCode(t, rec))

	for _, status := range []string{"accepted", "completed"} {
		rec = env.do(t, http.MethodPut, "/contracts/"+id+"/status", map[string]any{"status": status})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	}

	rec = env.do(t, http.MethodGet, "/coins/balance/artist", nil)
	assert.EqualValues(t, 50, decode[map[string]any](t, rec)["balance"])

	rec = env.do(t, http.MethodGet, "/contracts?artist_id=artist", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]map[string]any](t, rec), 1)

	rec = env.do(t, http.MethodPut, "/contracts/"+id+"/status", map[string]any{})
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestTokenSubjectOverridesActor(t *testing.T) {
	const secret = "handler-test-secret-handler-test-secret"
	env := newTestEnv(t, Config{AuthSecret: secret})
	env.profile(t, "donor", profiles.RoleUser, 0)
	env.profile(t, "other", profiles.RoleUser, 0)

	claims := &middleware.Claims{RegisteredClaims: jwt.RegisteredClaims{
		Subject:   "donor",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)

	body := map[string]any{"scrap_type": "plastic", "weight_kg": 1.5}

	rec := env.do(t, http.MethodPost, "/scrap/donate?user_id=other", body)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = env.do(t, http.MethodPost, "/scrap/donate?user_id=other", body, "Authorization", "Bearer "+token)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, "donor", decode[pickup.Request](t, rec).UserID)

	rec = env.do(t, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestRateLimitedHandler(t *testing.T) {
	env := newTestEnv(t, Config{RateLimit: &RateLimit{RequestsPerSecond: 1, Burst: 1}})

	require.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/health", nil).Code)
	rec := env.do(t, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "RATE_LIMIT_EXCEEDED", errorCode(t, rec))
}

func TestServerLifecycle(t *testing.T) {
	env := newTestEnv(t, Config{})
	srv := NewServer(ServerConfig{Addr: "127.0.0.1:0"}, env.handler, logging.NewDiscard())

	ctx := context.Background()
	require.NoError(t, srv.Start(ctx))

	resp, err := http.Get("http://" + srv.Addr() + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	stopCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	require.NoError(t, srv.Stop(stopCtx))
	select {
	case <-srv.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("serve loop did not exit")
	}
}
