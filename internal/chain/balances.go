package chain

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/common/math"

	"github.com/alanyoungcy/nftbook/internal/domain"
)

// Balances implements domain.BalanceReader.
type Balances struct {
	caller
}

var _ domain.BalanceReader = (*Balances)(nil)

// NewBalances creates a Balances reader. timeout bounds each RPC call.
func NewBalances(backend Backend, timeout time.Duration) *Balances {
	return &Balances{caller{backend: backend, timeout: timeout}}
}

func (b *Balances) NativeBalance(ctx context.Context, owner string) (*big.Int, error) {
	if b.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.timeout)
		defer cancel()
	}
	bal, err := b.backend.BalanceAt(ctx, common.HexToAddress(owner), nil)
	if err != nil {
		return nil, fmt.Errorf("chain: native balance %s: %w", owner, err)
	}
	return bal, nil
}

func (b *Balances) ERC20Balance(ctx context.Context, token, owner string) (*big.Int, error) {
	bal, err := b.callBig(ctx, erc20ABI, token, "balanceOf", common.HexToAddress(owner))
	if err != nil {
		return nil, fmt.Errorf("chain: erc20 balance: %w", err)
	}
	return bal, nil
}

func (b *Balances) ERC20Allowance(ctx context.Context, token, owner, spender string) (*big.Int, error) {
	v, err := b.callBig(ctx, erc20ABI, token, "allowance", common.HexToAddress(owner), common.HexToAddress(spender))
	if err != nil {
		return nil, fmt.Errorf("chain: erc20 allowance: %w", err)
	}
	return v, nil
}

// NFTBalance returns the ERC1155 balance of owner, falling back to ERC721
// ownership (0 or 1) for contracts without balanceOf(address,uint256).
func (b *Balances) NFTBalance(ctx context.Context, collection, tokenID, owner string) (*big.Int, error) {
	id, ok := new(big.Int).SetString(tokenID, 10)
	if !ok {
		return nil, fmt.Errorf("chain: bad token id %q", tokenID)
	}

	bal, err := b.callBig(ctx, erc1155ABI, collection, "balanceOf", common.HexToAddress(owner), id)
	if err == nil {
		return bal, nil
	}

	holder, err721 := b.callAddress(ctx, erc721ABI, collection, "ownerOf", id)
	if err721 != nil {
		return nil, fmt.Errorf("chain: nft balance %s:%s: %w", collection, tokenID, err)
	}
	if strings.EqualFold(holder.Hex(), owner) {
		return big.NewInt(1), nil
	}
	return new(big.Int), nil
}

// ApproveTx builds an unlimited approval of spender on token.
func (b *Balances) ApproveTx(token, owner, spender string) domain.TxData {
	data, err := erc20ABI.Pack("approve", common.HexToAddress(spender), math.MaxBig256)
	if err != nil {
		// Static arguments of the right types cannot fail to pack.
		panic("chain: pack approve: " + err.Error())
	}
	return domain.TxData{
		From: strings.ToLower(owner),
		To:   strings.ToLower(token),
		Data: hexutil.Encode(data),
	}
}
