package indexer_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"spotdex/internal/indexer"
)

var trader = common.HexToAddress("0xAbCdEf0000000000000000000000000000000001")

func newTestServer(t *testing.T, status int, body string, check func(vars map[string]any)) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var req struct {
			Query     string         `json:"query"`
			Variables map[string]any `json:"variables"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Contains(t, req.Query, "orderPlaceds")
		if check != nil {
			check(req.Variables)
		}

		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(server.Close)
	return server
}

func TestClient_LatestOrder(t *testing.T) {
	t.Parallel()

	body := `{"data":{"orderPlaceds":[{
		"id":"0xdeadbeef01000000",
		"trader":"0xabcdef0000000000000000000000000000000001",
		"from":"0x4200000000000000000000000000000000000006",
		"to":"0x036cbd53842c5426634e7929541ec2318f3dcf7e",
		"fromAmount":"1000000000000000000",
		"fromTokenPrice":"300000000000",
		"toTokenPrice":"100000000",
		"blockTimestamp":"1700000000"
	}]}}`

	server := newTestServer(t, http.StatusOK, body, func(vars map[string]any) {
		assert.Equal(t, "0xabcdef0000000000000000000000000000000001", vars["trader"])
		assert.Equal(t, "1699999700", vars["since"])
	})

	client := indexer.NewClient(indexer.ClientConfig{Endpoint: server.URL, Logger: zaptest.NewLogger(t)})
	order, err := client.LatestOrder(context.Background(), trader, 1699999700)
	require.NoError(t, err)
	require.NotNil(t, order)

	assert.Equal(t, "0xdeadbeef01000000", order.ID)
	assert.Equal(t, trader, order.Trader)
	assert.Equal(t, common.HexToAddress("0x4200000000000000000000000000000000000006"), order.FromToken)
	assert.Equal(t, "1000000000000000000", order.FromAmount.String())
	assert.Equal(t, int64(1700000000), order.PlacedAt)
	assert.Equal(t, "3000", order.PlacementRate().String())
}

func TestClient_LatestOrder_None(t *testing.T) {
	t.Parallel()

	server := newTestServer(t, http.StatusOK, `{"data":{"orderPlaceds":[]}}`, nil)
	client := indexer.NewClient(indexer.ClientConfig{Endpoint: server.URL})

	order, err := client.LatestOrder(context.Background(), trader, 0)
	require.NoError(t, err)
	assert.Nil(t, order)
}

func TestClient_LatestOrder_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		status int
		body   string
		apiErr bool
	}{
		{"graphql errors", http.StatusOK, `{"errors":[{"message":"indexing_error"}]}`, true},
		{"http failure", http.StatusBadGateway, `bad gateway`, true},
		{"malformed body", http.StatusOK, `{`, false},
		{"malformed amount", http.StatusOK, `{"data":{"orderPlaceds":[{"id":"1","trader":"0xabcdef0000000000000000000000000000000001","from":"0x4200000000000000000000000000000000000006","to":"0x4200000000000000000000000000000000000007","fromAmount":"1e18","fromTokenPrice":"1","toTokenPrice":"1","blockTimestamp":"1"}]}}`, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			server := newTestServer(t, tt.status, tt.body, nil)
			client := indexer.NewClient(indexer.ClientConfig{Endpoint: server.URL})

			order, err := client.LatestOrder(context.Background(), trader, 0)
			require.Error(t, err)
			assert.Nil(t, order)

			var apiErr *indexer.APIError
			assert.Equal(t, tt.apiErr, errors.As(err, &apiErr))
		})
	}
}

