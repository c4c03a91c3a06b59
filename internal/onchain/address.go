package onchain

import (
	"fmt"
	"strings"
)

const addressHexLen = 64

// NormalizeAddress returns the canonical form of an account address: lower
// case, 0x prefixed, zero padded to 32 bytes. Special addresses 0x0 through
// 0xf keep their short form.
func NormalizeAddress(addr string) (string, error) {
	hex := strings.ToLower(strings.TrimSpace(addr))
	hex = strings.TrimPrefix(hex, "0x")
	if hex == "" || len(hex) > addressHexLen {
		return "", fmt.Errorf("invalid address %q", addr)
	}
	for _, r := range hex {
		if !(r >= '0' && r <= '9' || r >= 'a' && r <= 'f') {
			return "", fmt.Errorf("invalid address %q: non-hex character", addr)
		}
	}

	trimmed := strings.TrimLeft(hex, "0")
	if len(trimmed) <= 1 {
		if trimmed == "" {
			trimmed = "0"
		}
		return "0x" + trimmed, nil
	}
	return "0x" + strings.Repeat("0", addressHexLen-len(hex)) + hex, nil
}

// CoinTypeAddress returns the address that published a coin type such as
// "0x1::aptos_coin::AptosCoin".
func CoinTypeAddress(coinType string) (string, error) {
	parts := strings.SplitN(coinType, "::", 3)
	if len(parts) != 3 || parts[1] == "" || parts[2] == "" {
		return "", fmt.Errorf("invalid coin type %q", coinType)
	}
	return NormalizeAddress(parts[0])
}
