package listings

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/realstake/realstake-backend/internal/onchain"
	"github.com/shopspring/decimal"
)

const listingInfoFunction = "controller::get_listing_info"

// listingInfoFields is the order of the get_listing_info return tuple.
var listingInfoFields = [...]string{
	"status",
	"start_date",
	"end_date",
	"funding_target",
	"token_price",
	"minting_fee",
	"ownership_token",
	"reward_pool",
	"market_id",
}

// ListingInfo is the decoded sale state of one listing. Dates are unix
// seconds; amounts are raw on-chain integers. Status is passed through as the
// text of the on-chain value.
type ListingInfo struct {
	Address        string          `json:"address"`
	Status         string          `json:"status"`
	StartDate      uint64          `json:"start_date"`
	EndDate        uint64          `json:"end_date"`
	FundingTarget  decimal.Decimal `json:"funding_target"`
	TokenPrice     decimal.Decimal `json:"token_price"`
	MintingFee     decimal.Decimal `json:"minting_fee"`
	OwnershipToken string          `json:"ownership_token"`
	RewardPool     string          `json:"reward_pool"`
	MarketID       uint64          `json:"market_id"`
	IsMintActive   bool            `json:"is_mint_active"`
}

// MintActiveAt reports whether now falls inside the mint window, bounds
// included.
func (l ListingInfo) MintActiveAt(now time.Time) bool {
	sec := now.Unix()
	if sec < 0 {
		return false
	}
	s := uint64(sec)
	return l.StartDate <= s && s <= l.EndDate
}

// DecodeError reports a listing tuple that does not match the expected
// schema. It is distinct from transport failures.
type DecodeError struct {
	Function string
	Field    string
	Index    int
	Reason   string
}

func (e *DecodeError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("decode %s: %s", e.Function, e.Reason)
	}
	return fmt.Sprintf("decode %s: field %d (%s): %s", e.Function, e.Index, e.Field, e.Reason)
}

// DecodeListingInfo validates and decodes a raw get_listing_info tuple.
// Integers may arrive as JSON strings or numbers; addresses as strings or
// {"inner": ...} objects.
func DecodeListingInfo(tuple []json.RawMessage, address string, now time.Time) (ListingInfo, error) {
	if len(tuple) != len(listingInfoFields) {
		return ListingInfo{}, &DecodeError{
			Function: listingInfoFunction,
			Index:    -1,
			Reason:   fmt.Sprintf("expected %d fields, got %d", len(listingInfoFields), len(tuple)),
		}
	}

	d := tupleDecoder{tuple: tuple}
	info := ListingInfo{
		Address:        address,
		Status:         d.scalar(0),
		StartDate:      d.uint(1),
		EndDate:        d.uint(2),
		FundingTarget:  d.integer(3),
		TokenPrice:     d.integer(4),
		MintingFee:     d.integer(5),
		OwnershipToken: d.address(6),
		RewardPool:     d.address(7),
		MarketID:       d.uint(8),
	}
	if d.err != nil {
		return ListingInfo{}, d.err
	}
	info.IsMintActive = info.MintActiveAt(now)
	return info, nil
}

// tupleDecoder keeps the first error so fields can be decoded in sequence.
type tupleDecoder struct {
	tuple []json.RawMessage
	err   *DecodeError
}

func (d *tupleDecoder) fail(i int, reason string) {
	if d.err == nil {
		d.err = &DecodeError{
			Function: listingInfoFunction,
			Field:    listingInfoFields[i],
			Index:    i,
			Reason:   reason,
		}
	}
}

// scalar accepts a JSON string or number and returns its text.
func (d *tupleDecoder) scalar(i int) string {
	raw := bytes.TrimSpace(d.tuple[i])
	switch {
	case len(raw) > 0 && raw[0] == '"':
		var text string
		if err := json.Unmarshal(raw, &text); err != nil {
			d.fail(i, "malformed string")
			return ""
		}
		return text
	case len(raw) > 0 && (raw[0] == '-' || raw[0] >= '0' && raw[0] <= '9'):
		var n json.Number
		if err := json.Unmarshal(raw, &n); err != nil {
			d.fail(i, "malformed number")
			return ""
		}
		return n.String()
	default:
		d.fail(i, fmt.Sprintf("expected string or number, got %s", describe(raw)))
		return ""
	}
}

func (d *tupleDecoder) integer(i int) decimal.Decimal {
	raw := bytes.TrimSpace(d.tuple[i])
	var text string
	switch {
	case len(raw) > 0 && raw[0] == '"':
		if err := json.Unmarshal(raw, &text); err != nil {
			d.fail(i, "malformed string")
			return decimal.Zero
		}
	case len(raw) > 0 && (raw[0] == '-' || raw[0] >= '0' && raw[0] <= '9'):
		text = string(raw)
	default:
		d.fail(i, fmt.Sprintf("expected integer, got %s", describe(raw)))
		return decimal.Zero
	}

	v, err := decimal.NewFromString(strings.TrimSpace(text))
	if err != nil || !v.Equal(v.Truncate(0)) || v.IsNegative() {
		d.fail(i, fmt.Sprintf("expected unsigned integer, got %q", text))
		return decimal.Zero
	}
	return v
}

func (d *tupleDecoder) uint(i int) uint64 {
	v := d.integer(i)
	if d.err != nil {
		return 0
	}
	n, err := strconv.ParseUint(v.String(), 10, 64)
	if err != nil {
		d.fail(i, "out of range for u64")
		return 0
	}
	return n
}

func (d *tupleDecoder) address(i int) string {
	raw := bytes.TrimSpace(d.tuple[i])
	var addr string
	switch {
	case len(raw) > 0 && raw[0] == '"':
		if err := json.Unmarshal(raw, &addr); err != nil {
			d.fail(i, "malformed string")
			return ""
		}
	case len(raw) > 0 && raw[0] == '{':
		var obj struct {
			Inner *string `json:"inner"`
		}
		if err := json.Unmarshal(raw, &obj); err != nil || obj.Inner == nil {
			d.fail(i, "expected object with inner address")
			return ""
		}
		addr = *obj.Inner
	default:
		d.fail(i, fmt.Sprintf("expected address, got %s", describe(raw)))
		return ""
	}

	normalized, err := onchain.NormalizeAddress(addr)
	if err != nil {
		d.fail(i, err.Error())
		return ""
	}
	return normalized
}

func describe(raw []byte) string {
	if len(raw) == 0 {
		return "nothing"
	}
	switch raw[0] {
	case '{':
		return "object"
	case '[':
		return "array"
	case 't', 'f':
		return "boolean"
	case 'n':
		return "null"
	default:
		return string(raw)
	}
}
