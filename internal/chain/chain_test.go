package chain

import (
	"bytes"
	"context"
	"errors"
	"math/big"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/nftbook/internal/domain"
)

const (
	testVault  = "0x1111111111111111111111111111111111111111"
	testRouter = "0x2222222222222222222222222222222222222222"
	testWETH   = "0x3333333333333333333333333333333333333333"
	testNFT    = "0x4444444444444444444444444444444444444444"
	testOwner  = "0x5555555555555555555555555555555555555555"
)

// fakeBackend answers view calls by selector with pre-packed outputs.
type fakeBackend struct {
	results map[string][]byte
	// calls records the decoded inputs of each call keyed by method name.
	calls   map[string][]any
	methods map[string]abi.Method
	native  *big.Int
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		results: make(map[string][]byte),
		calls:   make(map[string][]any),
		methods: make(map[string]abi.Method),
	}
}

func (f *fakeBackend) respond(t *testing.T, contract abi.ABI, to, method string, values ...any) {
	t.Helper()
	m := contract.Methods[method]
	out, err := m.Outputs.Pack(values...)
	require.NoError(t, err)
	key := strings.ToLower(to) + ":" + hexutil.Encode(m.ID)
	f.results[key] = out
	f.methods[key] = m
}

func (f *fakeBackend) CallContract(_ context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	key := strings.ToLower(msg.To.Hex()) + ":" + hexutil.Encode(msg.Data[:4])
	out, ok := f.results[key]
	if !ok {
		return nil, errors.New("execution reverted")
	}
	m := f.methods[key]
	args, err := m.Inputs.Unpack(msg.Data[4:])
	if err != nil {
		return nil, err
	}
	f.calls[m.Name] = args
	return out, nil
}

func (f *fakeBackend) BalanceAt(_ context.Context, _ common.Address, _ *big.Int) (*big.Int, error) {
	if f.native == nil {
		return nil, errors.New("no balance")
	}
	return f.native, nil
}

func eth(n int64) *big.Int { return new(big.Int).Mul(big.NewInt(n), oneToken) }

func TestNFTXHelper_PoolDetailsAndFeatures(t *testing.T) {
	b := newFakeBackend()
	b.respond(t, nftxVaultABI, testVault, "assetAddress", common.HexToAddress(testNFT))
	b.respond(t, nftxVaultABI, testVault, "vaultId", big.NewInt(42))
	b.respond(t, nftxVaultABI, testVault, "allowAllItems", true)
	b.respond(t, nftxVaultABI, testVault, "enableMint", true)
	b.respond(t, nftxVaultABI, testVault, "enableTargetRedeem", false)

	h := NewNFTXHelper(b, testRouter, testWETH, 0)

	details, err := h.GetPoolDetails(context.Background(), testVault)
	require.NoError(t, err)
	require.Equal(t, domain.PoolDetails{Address: testVault, NFT: testNFT, VaultID: "42"}, details)

	features, err := h.GetPoolFeatures(context.Background(), testVault)
	require.NoError(t, err)
	require.Equal(t, testNFT, features.AssetAddress)
	require.True(t, features.AllowAllItems)
	require.True(t, features.EnableMint)
	require.False(t, features.EnableTargetRedeem)
}

func TestNFTXHelper_BuyPrice(t *testing.T) {
	b := newFakeBackend()
	// 5% redeem fee.
	b.respond(t, nftxVaultABI, testVault, "targetRedeemFee", big.NewInt(5e16))
	b.respond(t, ammRouterABI, testRouter, "getAmountsIn", []*big.Int{eth(3), eth(2)})

	h := NewNFTXHelper(b, testRouter, testWETH, 0)
	p, err := h.GetPoolPrice(context.Background(), testVault, 2, domain.DirectionBuy, 0)
	require.NoError(t, err)
	require.Equal(t, eth(3), p.Price)
	require.Equal(t, 500, p.FeeBps)

	args := b.calls["getAmountsIn"]
	require.Len(t, args, 2)
	require.Equal(t, new(big.Int).Mul(big.NewInt(105e16), big.NewInt(2)), args[0])
	require.Equal(t, []common.Address{common.HexToAddress(testWETH), common.HexToAddress(testVault)}, args[1])
}

func TestNFTXHelper_SellPriceWithSlippage(t *testing.T) {
	b := newFakeBackend()
	b.respond(t, nftxVaultABI, testVault, "mintFee", big.NewInt(1e16))
	b.respond(t, ammRouterABI, testRouter, "getAmountsOut", []*big.Int{eth(1), big.NewInt(10000)})

	h := NewNFTXHelper(b, testRouter, testWETH, 0)
	p, err := h.GetPoolPrice(context.Background(), testVault, 1, domain.DirectionSell, 100)
	require.NoError(t, err)
	require.Equal(t, big.NewInt(9900), p.Price)
	require.Equal(t, 100, p.FeeBps)
}

func TestNFTXHelper_PriceFailsWhenRouterReverts(t *testing.T) {
	b := newFakeBackend()
	b.respond(t, nftxVaultABI, testVault, "targetRedeemFee", big.NewInt(0))

	h := NewNFTXHelper(b, testRouter, testWETH, 0)
	_, err := h.GetPoolPrice(context.Background(), testVault, 11, domain.DirectionBuy, 0)
	require.Error(t, err)
}

func TestNFTXHelper_HeldTokenIDs(t *testing.T) {
	b := newFakeBackend()
	b.respond(t, nftxVaultABI, testVault, "allHoldings", []*big.Int{big.NewInt(7), big.NewInt(1001)})

	h := NewNFTXHelper(b, testRouter, testWETH, 0)
	ids, err := h.GetHeldTokenIDs(context.Background(), testNFT, testVault)
	require.NoError(t, err)
	require.Equal(t, []string{"7", "1001"}, ids)
}

func TestBalances_NFTBalanceFallsBackToOwnerOf(t *testing.T) {
	b := newFakeBackend()
	b.respond(t, erc721ABI, testNFT, "ownerOf", common.HexToAddress(testOwner))

	bal := NewBalances(b, 0)
	n, err := bal.NFTBalance(context.Background(), testNFT, "9", testOwner)
	require.NoError(t, err)
	require.Equal(t, int64(1), n.Int64())

	n, err = bal.NFTBalance(context.Background(), testNFT, "9", testVault)
	require.NoError(t, err)
	require.Zero(t, n.Sign())
}

func TestBalances_ERC1155AndERC20(t *testing.T) {
	b := newFakeBackend()
	b.respond(t, erc1155ABI, testNFT, "balanceOf", big.NewInt(4))
	b.respond(t, erc20ABI, testWETH, "balanceOf", eth(2))
	b.respond(t, erc20ABI, testWETH, "allowance", big.NewInt(0))
	b.native = eth(1)

	bal := NewBalances(b, 0)
	ctx := context.Background()

	n, err := bal.NFTBalance(ctx, testNFT, "9", testOwner)
	require.NoError(t, err)
	require.Equal(t, int64(4), n.Int64())

	w, err := bal.ERC20Balance(ctx, testWETH, testOwner)
	require.NoError(t, err)
	require.Equal(t, eth(2), w)

	a, err := bal.ERC20Allowance(ctx, testWETH, testOwner, testRouter)
	require.NoError(t, err)
	require.Zero(t, a.Sign())

	nat, err := bal.NativeBalance(ctx, testOwner)
	require.NoError(t, err)
	require.Equal(t, eth(1), nat)

	_, err = bal.NFTBalance(ctx, testNFT, "not-a-number", testOwner)
	require.Error(t, err)
}

func TestBalances_ApproveTx(t *testing.T) {
	tx := NewBalances(newFakeBackend(), 0).ApproveTx(testWETH, testOwner, testRouter)
	require.Equal(t, testWETH, tx.To)
	require.Equal(t, testOwner, tx.From)

	raw, err := hexutil.Decode(tx.Data)
	require.NoError(t, err)
	require.True(t, bytes.Equal(erc20ABI.Methods["approve"].ID, raw[:4]))

	args, err := erc20ABI.Methods["approve"].Inputs.Unpack(raw[4:])
	require.NoError(t, err)
	require.Equal(t, common.HexToAddress(testRouter), args[0])
	require.Equal(t, 256, args[1].(*big.Int).BitLen())
}
