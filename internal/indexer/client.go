// Package indexer queries the external order index (a GraphQL endpoint) for
// the trader's most recent order.
package indexer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"spotdex/internal/domain"
)

const defaultTimeout = 10 * time.Second

// latestOrderQuery returns at most one order placed by $trader after $since, newest first.
const latestOrderQuery = `query LatestOrder($trader: Bytes!, $since: BigInt!) {
  orderPlaceds(
    where: { trader: $trader, blockTimestamp_gt: $since }
    orderBy: blockTimestamp
    orderDirection: desc
    first: 1
  ) {
    id
    trader
    from
    to
    fromAmount
    fromTokenPrice
    toTokenPrice
    blockTimestamp
  }
}`

// ClientConfig holds configuration for creating a new Client.
type ClientConfig struct {
	// Endpoint is the GraphQL URL.
	Endpoint string
	// Timeout bounds each query. Defaults to 10s.
	Timeout time.Duration
	// Logger is the logger instance.
	Logger *zap.Logger
}

// Client is an HTTP client for the order index.
type Client struct {
	endpoint   string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewClient creates a new order index client.
func NewClient(cfg ClientConfig) *Client {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	return &Client{
		endpoint:   cfg.Endpoint,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

type request struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables"`
}

type orderPlaced struct {
	ID             string `json:"id"`
	Trader         string `json:"trader"`
	From           string `json:"from"`
	To             string `json:"to"`
	FromAmount     string `json:"fromAmount"`
	FromTokenPrice string `json:"fromTokenPrice"`
	ToTokenPrice   string `json:"toTokenPrice"`
	BlockTimestamp string `json:"blockTimestamp"`
}

type response struct {
	Data struct {
		OrderPlaceds []orderPlaced `json:"orderPlaceds"`
	} `json:"data"`
	Errors []GraphQLError `json:"errors"`
}

// GraphQLError is one entry of a GraphQL errors array.
type GraphQLError struct {
	Message string `json:"message"`
}

// APIError represents a failed index query.
type APIError struct {
	StatusCode int
	Messages   []string
}

func (e *APIError) Error() string {
	if len(e.Messages) == 0 {
		return fmt.Sprintf("order index error: http %d", e.StatusCode)
	}
	return fmt.Sprintf("order index error: http %d: %s", e.StatusCode, strings.Join(e.Messages, "; "))
}

// LatestOrder returns the trader's most recent order placed strictly after
// minTimestamp (unix seconds), or nil when there is none.
func (c *Client) LatestOrder(ctx context.Context, trader common.Address, minTimestamp int64) (*domain.Order, error) {
	payload, err := json.Marshal(request{
		Query: latestOrderQuery,
		Variables: map[string]any{
			// The index stores Bytes in lower case.
			"trader": strings.ToLower(trader.Hex()),
			"since":  strconv.FormatInt(minTimestamp, 10),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("encode query: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	c.logger.Debug("querying latest order",
		zap.String("trader", trader.Hex()),
		zap.Int64("since", minTimestamp))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	var out response
	if err := json.Unmarshal(body, &out); err != nil {
		if resp.StatusCode != http.StatusOK {
			return nil, &APIError{StatusCode: resp.StatusCode, Messages: []string{string(body)}}
		}
		return nil, fmt.Errorf("parse response: %w", err)
	}

	if resp.StatusCode != http.StatusOK || len(out.Errors) > 0 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		for _, e := range out.Errors {
			apiErr.Messages = append(apiErr.Messages, e.Message)
		}
		c.logger.Warn("order index error",
			zap.Int("status", resp.StatusCode),
			zap.Strings("messages", apiErr.Messages))
		return nil, apiErr
	}

	if len(out.Data.OrderPlaceds) == 0 {
		return nil, nil
	}

	order, err := parseOrder(out.Data.OrderPlaceds[0])
	if err != nil {
		return nil, fmt.Errorf("parse order: %w", err)
	}
	return order, nil
}

func parseOrder(o orderPlaced) (*domain.Order, error) {
	if o.ID == "" {
		return nil, fmt.Errorf("missing id")
	}
	for name, addr := range map[string]string{"trader": o.Trader, "from": o.From, "to": o.To} {
		if !common.IsHexAddress(addr) {
			return nil, fmt.Errorf("invalid %s address %q", name, addr)
		}
	}

	fromAmount, err := parseBig("fromAmount", o.FromAmount)
	if err != nil {
		return nil, err
	}
	fromPrice, err := parseBig("fromTokenPrice", o.FromTokenPrice)
	if err != nil {
		return nil, err
	}
	toPrice, err := parseBig("toTokenPrice", o.ToTokenPrice)
	if err != nil {
		return nil, err
	}
	placedAt, err := strconv.ParseInt(o.BlockTimestamp, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid blockTimestamp %q: %w", o.BlockTimestamp, err)
	}

	return &domain.Order{
		ID:             o.ID,
		Trader:         common.HexToAddress(o.Trader),
		FromToken:      common.HexToAddress(o.From),
		ToToken:        common.HexToAddress(o.To),
		FromAmount:     fromAmount,
		FromTokenPrice: fromPrice,
		ToTokenPrice:   toPrice,
		PlacedAt:       placedAt,
	}, nil
}

func parseBig(field, s string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("invalid %s %q", field, s)
	}
	return v, nil
}
