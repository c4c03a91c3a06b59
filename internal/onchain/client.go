package onchain

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/fardream/go-bcs/bcs"
	"github.com/realstake/realstake-backend/internal/calc"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	defaultTimeout = 10 * time.Second
	maxErrorBody   = 1 << 10

	contentTypeJSON = "application/json"
	contentTypeBCS  = "application/x-bcs"
)

// ChainReader is the read surface of an Aptos full node and its indexer used
// by the services in this repository.
type ChainReader interface {
	AllListings(ctx context.Context) ([]string, error)
	ListingInfo(ctx context.Context, listing string) ([]json.RawMessage, error)
	CoinTypeFromListing(ctx context.Context, listing string) (string, error)
	ActiveOrNextMintStage(ctx context.Context, collection string) (*string, error)
	CoinInfo(ctx context.Context, coinType string) (*CoinInfo, error)
	CoinBalance(ctx context.Context, owner, coinType string) (decimal.Decimal, error)
	MarketAccountCollateral(ctx context.Context, owner, coinType string, marketID, custodianID uint64) (decimal.Decimal, error)
	CollectionTokens(ctx context.Context, collectionID string) ([]TokenData, error)
	FungibleBalances(ctx context.Context, owner, assetType string) ([]FungibleBalance, error)
	TokenSupply(ctx context.Context, assetType string) (decimal.Decimal, error)
}

type Client struct {
	nodeURL       string
	indexerURL    string
	apiKey        string
	moduleAddress string
	econiaAddress string
	httpClient    *http.Client
	logger        *zap.SugaredLogger
}

type ClientOptions struct {
	NodeURL       string
	IndexerURL    string
	APIKey        string
	ModuleAddress string
	EconiaAddress string
	Timeout       time.Duration
}

var _ ChainReader = (*Client)(nil)

func NewClient(opts ClientOptions, logger *zap.SugaredLogger) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Client{
		nodeURL:       strings.TrimRight(opts.NodeURL, "/"),
		indexerURL:    opts.IndexerURL,
		apiKey:        strings.TrimSpace(opts.APIKey),
		moduleAddress: opts.ModuleAddress,
		econiaAddress: opts.EconiaAddress,
		httpClient:    &http.Client{Timeout: opts.Timeout},
		logger:        logger,
	}
}

type viewRequest struct {
	Function      string        `json:"function"`
	TypeArguments []string      `json:"type_arguments"`
	Arguments     []interface{} `json:"arguments"`
}

// View calls a Move view function and returns its return values undecoded.
func (c *Client) View(ctx context.Context, function string, typeArgs []string, args ...interface{}) ([]json.RawMessage, error) {
	if typeArgs == nil {
		typeArgs = []string{}
	}
	if args == nil {
		args = []interface{}{}
	}
	op := "view " + function
	body, err := c.do(ctx, op, http.MethodPost, c.nodeURL+"/view", viewRequest{
		Function:      function,
		TypeArguments: typeArgs,
		Arguments:     args,
	}, contentTypeJSON)
	if err != nil {
		return nil, err
	}

	var values []json.RawMessage
	if err := json.Unmarshal(body, &values); err != nil {
		return nil, &DecodeError{Op: op, Err: err}
	}
	return values, nil
}

// Resource decodes the data of an account resource into dest.
func (c *Client) Resource(ctx context.Context, address, resourceType string, dest interface{}) error {
	op := "resource " + resourceType
	body, err := c.do(ctx, op, http.MethodGet, c.resourceURL(address, resourceType), nil, contentTypeJSON)
	if err != nil {
		return err
	}

	var envelope struct {
		Type string          `json:"type"`
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return &DecodeError{Op: op, Err: err}
	}
	if err := json.Unmarshal(envelope.Data, dest); err != nil {
		return &DecodeError{Op: op, Err: err}
	}
	return nil
}

// ResourceBCS returns the raw BCS bytes of an account resource.
func (c *Client) ResourceBCS(ctx context.Context, address, resourceType string) ([]byte, error) {
	return c.do(ctx, "resource "+resourceType, http.MethodGet, c.resourceURL(address, resourceType), nil, contentTypeBCS)
}

type tableItemRequest struct {
	KeyType   string      `json:"key_type"`
	ValueType string      `json:"value_type"`
	Key       interface{} `json:"key"`
}

// TableItem looks up one entry of a Move table and decodes it into dest.
func (c *Client) TableItem(ctx context.Context, handle, keyType, valueType string, key interface{}, dest interface{}) error {
	op := "table item " + valueType
	body, err := c.do(ctx, op, http.MethodPost, fmt.Sprintf("%s/tables/%s/item", c.nodeURL, url.PathEscape(handle)), tableItemRequest{
		KeyType:   keyType,
		ValueType: valueType,
		Key:       key,
	}, contentTypeJSON)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, dest); err != nil {
		return &DecodeError{Op: op, Err: err}
	}
	return nil
}

// CoinInfo reads the CoinInfo resource published with a coin type.
func (c *Client) CoinInfo(ctx context.Context, coinType string) (*CoinInfo, error) {
	owner, err := CoinTypeAddress(coinType)
	if err != nil {
		return nil, err
	}
	var info CoinInfo
	if err := c.Resource(ctx, owner, fmt.Sprintf("0x1::coin::CoinInfo<%s>", coinType), &info); err != nil {
		return nil, err
	}
	info.CoinType = coinType
	if err := calc.ValidateDecimals(info.Decimals); err != nil {
		return nil, &DecodeError{Op: "coin info " + coinType, Err: err}
	}
	return &info, nil
}

// CoinBalance returns the raw coin value held in an account's CoinStore<T>.
// A missing store yields ErrNotFound.
func (c *Client) CoinBalance(ctx context.Context, owner, coinType string) (decimal.Decimal, error) {
	addr, err := NormalizeAddress(owner)
	if err != nil {
		return decimal.Zero, err
	}
	resourceType := fmt.Sprintf("0x1::coin::CoinStore<%s>", coinType)
	data, err := c.ResourceBCS(ctx, addr, resourceType)
	if err != nil {
		return decimal.Zero, err
	}

	var store MoveCoinStore
	if _, err := bcs.Unmarshal(data, &store); err != nil {
		return decimal.Zero, &DecodeError{Op: "resource " + resourceType, Err: err}
	}
	return decimal.NewFromBigInt(new(big.Int).SetUint64(store.Coin.Value), 0), nil
}

// MarketAccountCollateral returns the raw amount of coinType deposited in the
// owner's market account for marketID.
func (c *Client) MarketAccountCollateral(ctx context.Context, owner, coinType string, marketID, custodianID uint64) (decimal.Decimal, error) {
	addr, err := NormalizeAddress(owner)
	if err != nil {
		return decimal.Zero, err
	}

	var collateral collateralResource
	resourceType := fmt.Sprintf("%s::user::Collateral<%s>", c.econiaAddress, coinType)
	if err := c.Resource(ctx, addr, resourceType, &collateral); err != nil {
		return decimal.Zero, err
	}
	handle := collateral.Map.Table.Inner.Handle
	if handle == "" {
		return decimal.Zero, &DecodeError{Op: "resource " + resourceType, Err: errors.New("missing table handle")}
	}

	var node collateralNode
	valueType := fmt.Sprintf("%s::tablist::Node<u128, 0x1::coin::Coin<%s>>", c.econiaAddress, coinType)
	key := calc.MarketAccountID(marketID, custodianID).String()
	if err := c.TableItem(ctx, handle, "u128", valueType, key, &node); err != nil {
		return decimal.Zero, err
	}
	return node.Value.Value, nil
}

func (c *Client) resourceURL(address, resourceType string) string {
	return fmt.Sprintf("%s/accounts/%s/resource/%s", c.nodeURL, address, url.PathEscape(resourceType))
}

// do performs a request against the node or indexer. 404 maps to ErrNotFound,
// other non-2xx statuses and network failures to *TransportError.
func (c *Client) do(ctx context.Context, op, method, requestURL string, payload interface{}, accept string) ([]byte, error) {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("%s: marshal request: %w", op, err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, requestURL, body)
	if err != nil {
		return nil, fmt.Errorf("%s: create request: %w", op, err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", contentTypeJSON)
	}
	req.Header.Set("Accept", accept)
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &TransportError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransportError{Op: op, StatusCode: resp.StatusCode, Err: err}
	}

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := nodeErrorMessage(respBody)
		c.logger.Debugw("Chain request failed", "op", op, "status", resp.StatusCode, "message", msg)
		return nil, &TransportError{Op: op, StatusCode: resp.StatusCode, Message: msg}
	}
	return respBody, nil
}

// nodeErrorMessage extracts the message of an Aptos API error body.
func nodeErrorMessage(body []byte) string {
	var apiErr struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &apiErr); err == nil && apiErr.Message != "" {
		return apiErr.Message
	}
	if len(body) > maxErrorBody {
		body = body[:maxErrorBody]
	}
	return strings.TrimSpace(string(body))
}
