// Package chain reads balances, approvals and NFTX vault state over JSON-RPC.
package chain

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
)

// Backend is the subset of ethclient.Client the adapters use.
type Backend interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
}

var _ Backend = (*ethclient.Client)(nil)

// Dial connects to an RPC endpoint.
func Dial(ctx context.Context, rpcURL string) (*ethclient.Client, error) {
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("chain: dial: %w", err)
	}
	return client, nil
}

// caller packs, calls and unpacks view functions under a per-call timeout.
type caller struct {
	backend Backend
	timeout time.Duration
}

func (c caller) call(ctx context.Context, contract abi.ABI, to, method string, args ...any) ([]any, error) {
	data, err := contract.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	addr := common.HexToAddress(to)
	res, err := c.backend.CallContract(ctx, ethereum.CallMsg{To: &addr, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("call %s on %s: %w", method, to, err)
	}
	out, err := contract.Unpack(method, res)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", method, err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%s on %s: empty result", method, to)
	}
	return out, nil
}

func (c caller) callBig(ctx context.Context, contract abi.ABI, to, method string, args ...any) (*big.Int, error) {
	out, err := c.call(ctx, contract, to, method, args...)
	if err != nil {
		return nil, err
	}
	v, ok := out[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("%s on %s: unexpected %T", method, to, out[0])
	}
	return v, nil
}

func (c caller) callBool(ctx context.Context, contract abi.ABI, to, method string) (bool, error) {
	out, err := c.call(ctx, contract, to, method)
	if err != nil {
		return false, err
	}
	v, ok := out[0].(bool)
	if !ok {
		return false, fmt.Errorf("%s on %s: unexpected %T", method, to, out[0])
	}
	return v, nil
}

func (c caller) callAddress(ctx context.Context, contract abi.ABI, to, method string, args ...any) (common.Address, error) {
	out, err := c.call(ctx, contract, to, method, args...)
	if err != nil {
		return common.Address{}, err
	}
	v, ok := out[0].(common.Address)
	if !ok {
		return common.Address{}, fmt.Errorf("%s on %s: unexpected %T", method, to, out[0])
	}
	return v, nil
}

func (c caller) callBigSlice(ctx context.Context, contract abi.ABI, to, method string, args ...any) ([]*big.Int, error) {
	out, err := c.call(ctx, contract, to, method, args...)
	if err != nil {
		return nil, err
	}
	v, ok := out[0].([]*big.Int)
	if !ok {
		return nil, fmt.Errorf("%s on %s: unexpected %T", method, to, out[0])
	}
	return v, nil
}
