// Package orderbook derives canonical orders from AMM-style NFT pools and
// dispatches per-protocol behaviour through order kind variants.
package orderbook

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/alanyoungcy/nftbook/internal/domain"
)

// OrderID returns the deterministic id of a pool-derived order:
// keccak256(abi.encodePacked(string tag, address pool, string side
// [, uint256 tokenId])). An empty tokenID omits the last field.
func OrderID(tag, pool string, side domain.OrderSide, tokenID string) string {
	packed := make([]byte, 0, len(tag)+common.AddressLength+len(side)+32)
	packed = append(packed, tag...)
	packed = append(packed, common.HexToAddress(pool).Bytes()...)
	packed = append(packed, side...)
	if tokenID != "" {
		id, ok := new(big.Int).SetString(tokenID, 10)
		if !ok {
			id = new(big.Int)
		}
		packed = append(packed, common.LeftPadBytes(id.Bytes(), 32)...)
	}
	return crypto.Keccak256Hash(packed).Hex()
}

func contractTokenSet(contract string) string {
	return "contract:" + contract
}

func singleTokenSet(contract, tokenID string) string {
	return "token:" + contract + ":" + tokenID
}
