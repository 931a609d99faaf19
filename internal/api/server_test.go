package api_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"spotdex/internal/api"
	"spotdex/internal/domain"
	"spotdex/internal/exchange"
	"spotdex/internal/lifecycle"
	"spotdex/internal/orchestrator"
	"spotdex/internal/registry"
)

func init() {
	gin.SetMode(gin.TestMode)
}

var trader = common.HexToAddress("0x00000000000000000000000000000000000000b0")

type fakeSession struct {
	snap      orchestrator.Snapshot
	err       error
	lastAmt   string
	lastSide  string
	lastToken string
	version   uint64
	trader    common.Address
}

func (f *fakeSession) Snapshot() orchestrator.Snapshot { return f.snap }

func (f *fakeSession) Connect(ctx context.Context, t common.Address) (orchestrator.Snapshot, error) {
	f.trader = t
	f.snap.Connected = true
	f.snap.Trader = t
	return f.snap, f.err
}

func (f *fakeSession) Disconnect() orchestrator.Snapshot {
	f.snap.Connected = false
	f.snap.Trader = common.Address{}
	return f.snap
}

func (f *fakeSession) SelectFromToken(ctx context.Context, symbol string) (orchestrator.Snapshot, error) {
	f.lastToken = "from:" + symbol
	return f.snap, f.err
}

func (f *fakeSession) SelectToToken(ctx context.Context, symbol string) (orchestrator.Snapshot, error) {
	f.lastToken = "to:" + symbol
	return f.snap, f.err
}

func (f *fakeSession) SetFromAmount(ctx context.Context, amount string) orchestrator.Snapshot {
	f.lastSide, f.lastAmt = "from", amount
	return f.snap
}

func (f *fakeSession) SetToAmount(ctx context.Context, amount string) orchestrator.Snapshot {
	f.lastSide, f.lastAmt = "to", amount
	return f.snap
}

func (f *fakeSession) SetMaxAmount(ctx context.Context) (orchestrator.Snapshot, error) {
	return f.snap, f.err
}

func (f *fakeSession) submit(kind domain.ActionKind, version uint64) (*orchestrator.Submission, error) {
	f.version = version
	if f.err != nil {
		return nil, f.err
	}
	return &orchestrator.Submission{
		Action:      kind,
		TxHash:      common.HexToHash("0x01"),
		SubmittedAt: time.Unix(1_700_000_000, 0).UTC(),
	}, nil
}

func (f *fakeSession) Primary(ctx context.Context, v uint64) (*orchestrator.Submission, error) {
	return f.submit(domain.ActionApprove, v)
}

func (f *fakeSession) Approve(ctx context.Context, v uint64) (*orchestrator.Submission, error) {
	return f.submit(domain.ActionApprove, v)
}

func (f *fakeSession) PlaceOrder(ctx context.Context, v uint64) (*orchestrator.Submission, error) {
	return f.submit(domain.ActionPlaceOrder, v)
}

func (f *fakeSession) SettleOrder(ctx context.Context) (*orchestrator.Submission, error) {
	return f.submit(domain.ActionSettleOrder, 0)
}

type fakeOrders struct{ snap lifecycle.Snapshot }

func (f fakeOrders) Snapshot() lifecycle.Snapshot { return f.snap }

type fakeTokens map[string]domain.Token

func (f fakeTokens) All() map[string]domain.Token { return f }

func quotedSnapshot() orchestrator.Snapshot {
	return orchestrator.Snapshot{
		Version:    7,
		FromToken:  "WETH",
		ToToken:    "USDC",
		FromAmount: "1",
		ToAmount:   "2997",
		Quote: domain.Quote{
			ExchangeRate: decimal.NewFromInt(3000),
			FeeBps:       10,
			FromAmount:   decimal.NewFromInt(1),
			ToAmount:     decimal.NewFromInt(2997),
			FeeAmount:    decimal.RequireFromString("0.001"),
		},
		FromBalance: decimal.NewFromInt(2),
		ToBalance:   decimal.Zero,
		Button: domain.ButtonState{
			Kind:    domain.ButtonApprove,
			Label:   "Approve",
			Enabled: true,
			Action:  domain.ActionApprove,
		},
		Order: lifecycle.Snapshot{State: domain.LifecycleNone},
	}
}

func newTestServer(t *testing.T, session *fakeSession, hub *api.Hub) *api.Server {
	t.Helper()
	return api.NewServer(api.Config{
		Session: session,
		Orders: fakeOrders{snap: lifecycle.Snapshot{
			Trader:           trader,
			State:            domain.LifecycleCooldown,
			RemainingSeconds: 110,
			DisplaySeconds:   110,
			Order: &lifecycle.ActiveOrder{
				ID:                "order-1",
				FromSymbol:        "WETH",
				ToSymbol:          "USDC",
				FromAmount:        decimal.NewFromInt(1),
				PlacementRate:     decimal.NewFromInt(3000),
				LiveRate:          decimal.NewFromInt(3000),
				FeeBps:            10,
				EstimatedToAmount: decimal.NewFromInt(2997),
			},
		}},
		Tokens: fakeTokens{"WETH": {
			Symbol:   "WETH",
			Address:  common.HexToAddress("0x4200000000000000000000000000000000000006"),
			Decimals: 18,
		}},
		Hub:         hub,
		MetricsPath: "/metrics",
		Logger:      zaptest.NewLogger(t),
	})
}

func do(t *testing.T, srv *api.Server, method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	var out map[string]any
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	}
	return rec, out
}

func TestServer_Health(t *testing.T) {
	t.Parallel()
	srv := newTestServer(t, &fakeSession{}, nil)

	rec, body := do(t, srv, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", body["status"])
}

func TestServer_Session(t *testing.T) {
	t.Parallel()
	srv := newTestServer(t, &fakeSession{snap: quotedSnapshot()}, nil)

	rec, body := do(t, srv, http.MethodGet, "/session", "")
	require.Equal(t, http.StatusOK, rec.Code)

	assert.Equal(t, float64(7), body["version"])
	assert.Equal(t, "2997", body["to_amount"])
	assert.Equal(t, "2", body["from_balance"])

	q := body["quote"].(map[string]any)
	assert.Equal(t, "3000", q["exchange_rate"])
	assert.Equal(t, "0.1", q["fee_percent"])
	assert.Equal(t, "0.001", q["fee_amount"])
	assert.Equal(t, true, q["available"])

	button := body["button"].(map[string]any)
	assert.Equal(t, "approve", button["kind"])
	assert.Equal(t, "Approve", button["label"])
	assert.Equal(t, true, button["enabled"])

	order := body["order"].(map[string]any)
	assert.Equal(t, "NONE", order["state"])
}

func TestServer_Connect(t *testing.T) {
	t.Parallel()

	t.Run("valid address", func(t *testing.T) {
		t.Parallel()
		session := &fakeSession{}
		srv := newTestServer(t, session, nil)

		rec, body := do(t, srv, http.MethodPost, "/session/connect", fmt.Sprintf(`{"trader":%q}`, trader.Hex()))
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, trader, session.trader)
		assert.Equal(t, trader.Hex(), body["trader"])
	})

	t.Run("invalid address", func(t *testing.T) {
		t.Parallel()
		srv := newTestServer(t, &fakeSession{}, nil)

		rec, body := do(t, srv, http.MethodPost, "/session/connect", `{"trader":"0xnope"}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, body["error"], "invalid trader address")
	})

	t.Run("missing body field", func(t *testing.T) {
		t.Parallel()
		srv := newTestServer(t, &fakeSession{}, nil)

		rec, _ := do(t, srv, http.MethodPost, "/session/connect", `{}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("signer mismatch", func(t *testing.T) {
		t.Parallel()
		srv := newTestServer(t, &fakeSession{err: orchestrator.ErrSignerMismatch}, nil)

		rec, _ := do(t, srv, http.MethodPost, "/session/connect", fmt.Sprintf(`{"trader":%q}`, trader.Hex()))
		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	})
}

func TestServer_Inputs(t *testing.T) {
	t.Parallel()
	session := &fakeSession{snap: quotedSnapshot()}
	srv := newTestServer(t, session, nil)

	rec, _ := do(t, srv, http.MethodPut, "/session/to", `{"symbol":"USDC"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "to:USDC", session.lastToken)

	rec, _ = do(t, srv, http.MethodPut, "/session/from", `{"symbol":"WETH"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "from:WETH", session.lastToken)

	rec, _ = do(t, srv, http.MethodPut, "/session/amount", `{"amount":"1.5"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "from", session.lastSide)
	assert.Equal(t, "1.5", session.lastAmt)

	rec, _ = do(t, srv, http.MethodPut, "/session/amount", `{"amount":"2997","side":"to"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "to", session.lastSide)

	rec, _ = do(t, srv, http.MethodPut, "/session/amount", `{"amount":"1","side":"sideways"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, body := do(t, srv, http.MethodPost, "/session/disconnect", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, false, body["connected"])
}

func TestServer_Actions(t *testing.T) {
	t.Parallel()
	session := &fakeSession{snap: quotedSnapshot()}
	srv := newTestServer(t, session, nil)

	rec, body := do(t, srv, http.MethodPost, "/actions/approve", `{"version":7}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, uint64(7), session.version)
	assert.Equal(t, "approve", body["action"])
	assert.Equal(t, common.HexToHash("0x01").Hex(), body["tx_hash"])

	rec, body = do(t, srv, http.MethodPost, "/actions/place", "")
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, uint64(0), session.version)
	assert.Equal(t, "place_order", body["action"])

	rec, body = do(t, srv, http.MethodPost, "/actions/settle", "")
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, "settle_order", body["action"])

	rec, _ = do(t, srv, http.MethodPost, "/actions/primary", `{"version":`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_ErrorMapping(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want int
	}{
		{"not connected", orchestrator.ErrNotConnected, http.StatusUnauthorized},
		{"in flight", fmt.Errorf("wrap: %w", orchestrator.ErrActionInFlight), http.StatusConflict},
		{"stale", orchestrator.ErrStaleAction, http.StatusConflict},
		{"not available", orchestrator.ErrActionNotAvailable, http.StatusUnprocessableEntity},
		{"no signer", exchange.ErrNoSigner, http.StatusUnprocessableEntity},
		{"unknown token", registry.ErrUnknownToken, http.StatusUnprocessableEntity},
		{"chain failure", fmt.Errorf("submit approval: connection refused"), http.StatusBadGateway},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			srv := newTestServer(t, &fakeSession{err: tt.err}, nil)

			rec, body := do(t, srv, http.MethodPost, "/actions/approve", "")
			assert.Equal(t, tt.want, rec.Code)
			assert.Equal(t, tt.err.Error(), body["error"])
		})
	}
}

func TestServer_OrderAndTokens(t *testing.T) {
	t.Parallel()
	srv := newTestServer(t, &fakeSession{}, nil)

	rec, body := do(t, srv, http.MethodGet, "/order", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "COOLDOWN", body["state"])
	assert.Equal(t, float64(110), body["display_seconds"])
	active := body["active"].(map[string]any)
	assert.Equal(t, "order-1", active["id"])
	assert.Equal(t, "2997", active["estimated_to_amount"])

	rec, body = do(t, srv, http.MethodGet, "/tokens", "")
	require.Equal(t, http.StatusOK, rec.Code)
	weth := body["WETH"].(map[string]any)
	assert.Equal(t, "0x4200000000000000000000000000000000000006", weth["address"])
	assert.Equal(t, float64(18), weth["decimals"])
}

func TestServer_Metrics(t *testing.T) {
	t.Parallel()
	srv := newTestServer(t, &fakeSession{}, nil)

	rec, _ := do(t, srv, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestHub_Stream(t *testing.T) {
	t.Parallel()

	hub := api.NewHub(api.HubConfig{
		PingInterval: time.Second,
		Welcome: func() []api.Message {
			return []api.Message{{Type: api.MessageSession, Data: map[string]string{"hello": "world"}}}
		},
		Logger: zaptest.NewLogger(t),
	})
	t.Cleanup(hub.Close)

	srv := newTestServer(t, &fakeSession{}, hub)
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	read := func() map[string]any {
		t.Helper()
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
		var msg map[string]any
		require.NoError(t, conn.ReadJSON(&msg))
		return msg
	}

	welcome := read()
	assert.Equal(t, api.MessageSession, welcome["type"])

	require.Eventually(t, func() bool { return hub.Clients() == 1 }, time.Second, 5*time.Millisecond)

	hub.Notify(orchestrator.Notification{Level: orchestrator.LevelSuccess, Title: "Approval Succeeded"})
	note := read()
	assert.Equal(t, api.MessageNotification, note["type"])
	data := note["data"].(map[string]any)
	assert.Equal(t, "Approval Succeeded", data["title"])
	assert.Equal(t, "success", data["level"])

	ctx, cancel := context.WithCancel(context.Background())
	sessions := make(chan orchestrator.Snapshot, 1)
	orders := make(chan lifecycle.Snapshot, 1)
	done := make(chan error, 1)
	go func() { done <- hub.Run(ctx, sessions, orders) }()

	sessions <- quotedSnapshot()
	msg := read()
	assert.Equal(t, api.MessageSession, msg["type"])
	assert.Equal(t, "2997", msg["data"].(map[string]any)["to_amount"])

	orders <- lifecycle.Snapshot{State: domain.LifecycleSettleable, Ready: true}
	msg = read()
	assert.Equal(t, api.MessageOrder, msg["type"])
	assert.Equal(t, "SETTLEABLE", msg["data"].(map[string]any)["state"])

	cancel()
	require.NoError(t, <-done)
	assert.Equal(t, 0, hub.Clients())
}
