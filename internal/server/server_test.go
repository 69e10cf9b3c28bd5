package server_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"PoolLedger/internal/auth"
	"PoolLedger/internal/core"
	"PoolLedger/internal/event"
	"PoolLedger/internal/ingestion"
	"PoolLedger/internal/market"
	"PoolLedger/internal/observability"
	"PoolLedger/internal/query"
	"PoolLedger/internal/server"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

type testAPI struct {
	t       *testing.T
	handler http.Handler
	health  *observability.HealthChecker
	seq     int64
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	roles, err := auth.ParseDirectory("keeper-1=MARKET_KEEPER")
	require.NoError(t, err)
	engine := core.NewEngine(core.Config{Roles: roles}, nil, nil, nil, zerolog.Nop())
	health := observability.NewHealthChecker()

	srv, err := server.NewServer("127.0.0.1:0", "127.0.0.1:0", &server.Deps{
		Query:  query.NewService(engine, nil),
		Ingest: ingestion.NewIngestService(engine, zerolog.Nop()),
		Engine: engine,
		Health: health,
		Logger: zerolog.Nop(),
	})
	require.NoError(t, err)
	return &testAPI{t: t, handler: srv.Handler(), health: health}
}

func (a *testAPI) do(method, path string, body any) (int, map[string]any) {
	a.t.Helper()
	var rd *bytes.Reader
	switch b := body.(type) {
	case nil:
		rd = bytes.NewReader(nil)
	case []byte:
		rd = bytes.NewReader(b)
	default:
		raw, err := json.Marshal(b)
		require.NoError(a.t, err)
		rd = bytes.NewReader(raw)
	}
	rec := httptest.NewRecorder()
	a.handler.ServeHTTP(rec, httptest.NewRequest(method, path, rd))

	out := map[string]any{}
	if rec.Body.Len() > 0 {
		require.NoError(a.t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	}
	return rec.Code, out
}

func (a *testAPI) createMarket(caller string) (int, map[string]any) {
	cmd := event.CreateMarket{
		Header: event.Header{CommandID: uuid.New(), Source: caller, Sequence: a.seq, Block: 1, Timestamp: 12, Caller: caller},
		Market: market.Market{MarketToken: "GM-ETH", IndexToken: "ETH", LongToken: "WETH", ShortToken: "USDC"},
	}
	a.seq++
	return a.do(http.MethodPost, "/v1/commands/CreateMarket", cmd)
}

// ==========================================
// Commands
// ==========================================

func TestServer_SubmitAndQuery(t *testing.T) {
	api := newTestAPI(t)

	code, body := api.createMarket("keeper-1")
	require.Equal(t, http.StatusOK, code, body)
	require.Equal(t, "applied", body["status"])
	require.EqualValues(t, 0, body["sequence"])

	code, body = api.do(http.MethodGet, "/v1/markets", nil)
	require.Equal(t, http.StatusOK, code)
	markets := body["markets"].([]any)
	require.Len(t, markets, 1)
	require.Equal(t, "GM-ETH", markets[0].(map[string]any)["market_token"])
	require.EqualValues(t, 0, body["as_of_sequence"])

	code, body = api.do(http.MethodGet, "/v1/admin/eventlog", nil)
	require.Equal(t, http.StatusOK, code)
	require.EqualValues(t, 1, body["engine_sequence"])
	require.Len(t, body["state_hash"], 64)
	require.NotContains(t, body, "persisted_sequence")
}

func TestServer_RejectedCommandIsStillAccepted(t *testing.T) {
	api := newTestAPI(t)

	code, body := api.createMarket("mallory")
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "rejected", body["status"])
	require.Contains(t, body["error"], "lacks role")
}

func TestServer_ErrorMapping(t *testing.T) {
	api := newTestAPI(t)

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		status int
		code   string
	}{
		{"unknown event type", http.MethodPost, "/v1/commands/Teleport", []byte(`{}`), http.StatusNotFound, "NotFound"},
		{"malformed command", http.MethodPost, "/v1/commands/CreateMarket", []byte(`{"bogus":1}`), http.StatusBadRequest, "InvalidArgument"},
		{"unknown market", http.MethodPost, "/v1/markets/GM-BTC/value", map[string]any{}, http.StatusNotFound, "NotFound"},
		{"bad pnl factor", http.MethodPost, "/v1/markets/GM-ETH/value", map[string]any{"pnl_factor_type": "borrow"}, http.StatusBadRequest, "InvalidArgument"},
		{"history without database", http.MethodGet, "/v1/accounts/alice/journals", nil, http.StatusServiceUnavailable, "Unavailable"},
		{"bad paging", http.MethodGet, "/v1/outcomes?limit=x", nil, http.StatusBadRequest, "InvalidArgument"},
		{"unknown order", http.MethodPost, "/v1/orders/nope/simulate", map[string]any{"caller": "keeper-1"}, http.StatusNotFound, "NotFound"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, body := api.do(tt.method, tt.path, tt.body)
			require.Equal(t, tt.status, status, body)
			require.Equal(t, tt.code, body["code"])
			require.NotEmpty(t, body["message"])
		})
	}
}

func TestServer_AccountRoutes(t *testing.T) {
	api := newTestAPI(t)

	for _, path := range []string{
		"/v1/accounts/alice/positions",
		"/v1/accounts/alice/orders",
		"/v1/accounts/alice/balances",
		"/v1/admin/integrity",
	} {
		code, body := api.do(http.MethodGet, path, nil)
		require.Equal(t, http.StatusOK, code, path)
		require.NotEmpty(t, body, path)
	}

	_, body := api.do(http.MethodGet, "/v1/admin/integrity", nil)
	require.Equal(t, true, body["is_healthy"])
}

// ==========================================
// Health endpoints
// ==========================================

func TestServer_HealthEndpoints(t *testing.T) {
	api := newTestAPI(t)

	code, _ := api.do(http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, code)

	code, body := api.do(http.MethodGet, "/readyz", nil)
	require.Equal(t, http.StatusServiceUnavailable, code)
	require.Equal(t, "not_ready", body["status"])

	api.health.SetReady(true)
	code, _ = api.do(http.MethodGet, "/readyz", nil)
	require.Equal(t, http.StatusOK, code)
}
