package econia

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const defaultTimeout = 10 * time.Second

// Client reads the Econia order-book REST service (a PostgREST API).
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.SugaredLogger
}

func NewClient(baseURL string, timeout time.Duration, logger *zap.SugaredLogger) *Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

// PriceLevels returns up to depth levels of one side, best price first.
func (c *Client) PriceLevels(ctx context.Context, marketID uint64, direction Direction, depth int) ([]RawPriceLevel, error) {
	if !direction.Valid() {
		return nil, fmt.Errorf("econia price_levels: invalid direction %q", direction)
	}
	params := url.Values{}
	params.Set("market_id", "eq."+strconv.FormatUint(marketID, 10))
	params.Set("direction", "eq."+string(direction))
	params.Set("order", direction.order())
	params.Set("limit", strconv.Itoa(depth))

	var levels []RawPriceLevel
	if err := c.get(ctx, "price_levels", "/price_levels", params, &levels); err != nil {
		return nil, err
	}
	return levels, nil
}

// Orderbook fetches both sides of a market concurrently. Either side failing
// fails the whole fetch.
func (c *Client) Orderbook(ctx context.Context, marketID uint64, depth int) (bids, asks []RawPriceLevel, err error) {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		bids, err = c.PriceLevels(gctx, marketID, Bid, depth)
		return err
	})
	g.Go(func() error {
		var err error
		asks, err = c.PriceLevels(gctx, marketID, Ask, depth)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	return bids, asks, nil
}

// UserBalance returns the market account balance rows for an address. An
// account with no market account yields an empty slice.
func (c *Client) UserBalance(ctx context.Context, address string, marketID, custodianID uint64) ([]RawBalance, error) {
	params := url.Values{}
	params.Set("user_address", address)
	params.Set("market", strconv.FormatUint(marketID, 10))
	params.Set("custodian", strconv.FormatUint(custodianID, 10))

	var rows []RawBalance
	if err := c.get(ctx, "user_balance", "/rpc/user_balance", params, &rows); err != nil {
		return nil, err
	}
	return rows, nil
}

func (c *Client) Markets(ctx context.Context) ([]RawMarket, error) {
	params := url.Values{}
	params.Set("order", "market_id.asc")

	var markets []RawMarket
	if err := c.get(ctx, "markets", "/markets", params, &markets); err != nil {
		return nil, err
	}
	return markets, nil
}

// Fills returns the most recent fills of a market, newest first.
func (c *Client) Fills(ctx context.Context, marketID uint64, limit int) ([]RawFill, error) {
	params := url.Values{}
	params.Set("market_id", "eq."+strconv.FormatUint(marketID, 10))
	params.Set("order", "txn_version.desc,event_idx.desc")
	params.Set("limit", strconv.Itoa(limit))

	var fills []RawFill
	if err := c.get(ctx, "fills", "/fill_events_deduped", params, &fills); err != nil {
		return nil, err
	}
	return fills, nil
}

func (c *Client) get(ctx context.Context, op, path string, params url.Values, dest interface{}) error {
	requestURL := c.baseURL + path
	if len(params) > 0 {
		requestURL += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURL, nil)
	if err != nil {
		return fmt.Errorf("econia %s: create request: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &TransportError{Op: op, URL: requestURL, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		c.logger.Warnw("Order book service error", "op", op, "status", resp.StatusCode, "body", string(body))
		return &TransportError{Op: op, URL: requestURL, StatusCode: resp.StatusCode}
	}

	if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
		return &DecodeError{Op: op, Err: err}
	}

	c.logger.Debugw("Order book service request", "op", op, "duration", time.Since(start))
	return nil
}
