package onchain

import (
	"context"
	"encoding/json"
	"fmt"
)

func (c *Client) moduleFunction(module, function string) string {
	return fmt.Sprintf("%s::%s::%s", c.moduleAddress, module, function)
}

// AllListings returns the object address of every registered listing.
func (c *Client) AllListings(ctx context.Context) ([]string, error) {
	fn := c.moduleFunction("controller", "get_all_listings")
	values, err := c.View(ctx, fn, nil)
	if err != nil {
		return nil, err
	}
	if len(values) != 1 {
		return nil, &DecodeError{Op: "view " + fn, Err: fmt.Errorf("expected 1 return value, got %d", len(values))}
	}

	var refs []objectRef
	if err := json.Unmarshal(values[0], &refs); err != nil {
		return nil, &DecodeError{Op: "view " + fn, Err: err}
	}

	listings := make([]string, 0, len(refs))
	for _, ref := range refs {
		addr, err := NormalizeAddress(ref.Inner)
		if err != nil {
			return nil, &DecodeError{Op: "view " + fn, Err: err}
		}
		listings = append(listings, addr)
	}
	return listings, nil
}

// ListingInfo returns the raw get_listing_info tuple for one listing.
func (c *Client) ListingInfo(ctx context.Context, listing string) ([]json.RawMessage, error) {
	return c.View(ctx, c.moduleFunction("controller", "get_listing_info"), nil, listing)
}

// CoinTypeFromListing resolves the coin type paired with a listing's
// fungible ownership token.
func (c *Client) CoinTypeFromListing(ctx context.Context, listing string) (string, error) {
	fn := c.moduleFunction("controller", "get_coin_type_from_fa")
	values, err := c.View(ctx, fn, nil, listing)
	if err != nil {
		return "", err
	}
	if len(values) != 1 {
		return "", &DecodeError{Op: "view " + fn, Err: fmt.Errorf("expected 1 return value, got %d", len(values))}
	}

	var coinType string
	if err := json.Unmarshal(values[0], &coinType); err != nil {
		return "", &DecodeError{Op: "view " + fn, Err: err}
	}
	return coinType, nil
}

// ActiveOrNextMintStage returns the name of the current or upcoming mint
// stage of a collection, or nil when there is none.
func (c *Client) ActiveOrNextMintStage(ctx context.Context, collection string) (*string, error) {
	fn := c.moduleFunction("launchpad", "get_active_or_next_mint_stage")
	values, err := c.View(ctx, fn, nil, collection)
	if err != nil {
		return nil, err
	}
	if len(values) != 1 {
		return nil, &DecodeError{Op: "view " + fn, Err: fmt.Errorf("expected 1 return value, got %d", len(values))}
	}

	var stage moveOption[string]
	if err := json.Unmarshal(values[0], &stage); err != nil {
		return nil, &DecodeError{Op: "view " + fn, Err: err}
	}
	if len(stage.Vec) == 0 {
		return nil, nil
	}
	return &stage.Vec[0], nil
}
