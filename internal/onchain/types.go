package onchain

import (
	"encoding/json"

	"github.com/shopspring/decimal"
)

// CoinInfo is the JSON body of a 0x1::coin::CoinInfo<T> resource.
type CoinInfo struct {
	CoinType string `json:"coin_type"`
	Name     string `json:"name"`
	Symbol   string `json:"symbol"`
	Decimals int32  `json:"decimals"`
}

// moveOption is the JSON encoding of a Move Option<T>.
type moveOption[T any] struct {
	Vec []T `json:"vec"`
}

// objectRef is the JSON encoding of an Object<T> handle.
type objectRef struct {
	Inner string `json:"inner"`
}

// MoveCoinStore mirrors 0x1::coin::CoinStore<T> for BCS decoding.
type MoveCoinStore struct {
	Coin           MoveCoin
	Frozen         bool
	DepositEvents  MoveEventHandle
	WithdrawEvents MoveEventHandle
}

type MoveCoin struct {
	Value uint64
}

type MoveEventHandle struct {
	Counter uint64
	GUID    MoveGUID
}

type MoveGUID struct {
	CreationNum uint64
	Addr        [32]byte
}

// collateralResource is the JSON body of an Econia user::Collateral<T>.
type collateralResource struct {
	Map struct {
		Table struct {
			Inner struct {
				Handle string `json:"handle"`
			} `json:"inner"`
		} `json:"table"`
	} `json:"map"`
}

// collateralNode is a tablist node holding one market account's coins.
type collateralNode struct {
	Value struct {
		Value decimal.Decimal `json:"value"`
	} `json:"value"`
}

// CollectionData is the indexer's current_collection row.
type CollectionData struct {
	CollectionID         string              `json:"collection_id"`
	CollectionName       string              `json:"collection_name"`
	CollectionProperties json.RawMessage     `json:"collection_properties,omitempty"`
	CreatorAddress       string              `json:"creator_address"`
	CurrentSupply        decimal.Decimal     `json:"current_supply"`
	Description          string              `json:"description"`
	MaxSupply            decimal.NullDecimal `json:"max_supply"`
	TokenStandard        string              `json:"token_standard"`
	TotalMintedV2        decimal.NullDecimal `json:"total_minted_v2"`
	URI                  string              `json:"uri"`
}

// TokenData is a current_token_datas_v2 row.
type TokenData struct {
	TokenDataID     string          `json:"token_data_id"`
	TokenName       string          `json:"token_name"`
	TokenURI        string          `json:"token_uri"`
	TokenProperties json.RawMessage `json:"token_properties,omitempty"`
	Description     string          `json:"description"`
	CollectionID    string          `json:"collection_id"`
	Decimals        *int32          `json:"decimals"`
	IsDeleted       *bool           `json:"is_deleted_v2"`
	IsFungible      *bool           `json:"is_fungible_v2"`
	Collection      *CollectionData `json:"current_collection"`
}

// FungibleMetadata is the metadata relation of a fungible asset balance.
type FungibleMetadata struct {
	Symbol        string              `json:"symbol"`
	Decimals      *int32              `json:"decimals"`
	IconURI       string              `json:"icon_uri"`
	ProjectURI    string              `json:"project_uri"`
	TokenStandard string              `json:"token_standard"`
	Maximum       decimal.NullDecimal `json:"maximum_v2"`
	Supply        decimal.NullDecimal `json:"supply_v2"`
}

// FungibleBalance is a current_fungible_asset_balances row in raw units.
type FungibleBalance struct {
	OwnerAddress string            `json:"owner_address"`
	AssetType    string            `json:"asset_type_v2"`
	Amount       decimal.Decimal   `json:"amount_v2"`
	Metadata     *FungibleMetadata `json:"metadata"`
}
