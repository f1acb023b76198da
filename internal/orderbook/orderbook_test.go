package orderbook

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/nftbook/internal/domain"
)

const (
	testPool = "0x1111111111111111111111111111111111111111"
	testNFT  = "0x2222222222222222222222222222222222222222"
	testWeth = "0xc02aaa39b223fe8d0a0e5c4f27ead9083c756cc2"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeHelper struct {
	details  domain.PoolDetails
	features domain.PoolFeatures
	// cumulative prices per direction; sampling amount n beyond the slice fails.
	prices   map[domain.PriceDirection][]int64
	feeBps   int
	held     []string
	heldErr  error
	failPool bool
	// stall makes price reads in a direction hang until the call's deadline.
	stall map[domain.PriceDirection]bool
}

func (h *fakeHelper) GetPoolDetails(_ context.Context, pool string) (domain.PoolDetails, error) {
	if h.failPool {
		return domain.PoolDetails{}, errors.New("rpc down")
	}
	return h.details, nil
}

func (h *fakeHelper) GetPoolFeatures(context.Context, string) (domain.PoolFeatures, error) {
	return h.features, nil
}

func (h *fakeHelper) GetPoolPrice(ctx context.Context, _ string, amount int, dir domain.PriceDirection, _ int) (domain.PoolPrice, error) {
	if h.stall[dir] {
		<-ctx.Done()
		return domain.PoolPrice{}, ctx.Err()
	}
	samples := h.prices[dir]
	if amount > len(samples) {
		return domain.PoolPrice{}, domain.ErrPoolExhausted
	}
	return domain.PoolPrice{Price: big.NewInt(samples[amount-1]), FeeBps: h.feeBps}, nil
}

func (h *fakeHelper) GetHeldTokenIDs(context.Context, string, string) ([]string, error) {
	return h.held, h.heldErr
}

type fakeContracts struct {
	kinds map[string]domain.TokenKind
}

func (c fakeContracts) GetKind(_ context.Context, contract string) (domain.TokenKind, error) {
	k, ok := c.kinds[contract]
	if !ok {
		return "", domain.ErrNotFound
	}
	return k, nil
}

// fakeRoyalties charges bps on every key, split over one recipient, and fails
// for keys listed in fail.
type fakeRoyalties struct {
	bps  int
	fail map[string]bool
}

func (r fakeRoyalties) Reconcile(_ context.Context, key string, builtIn int, price *big.Int, _ string) (domain.RoyaltyShortfall, error) {
	if r.fail[key] {
		return domain.RoyaltyShortfall{}, errors.New("royalty lookup timed out")
	}
	diff := r.bps - builtIn
	if diff <= 0 {
		return domain.RoyaltyShortfall{}, nil
	}
	total := new(big.Int).Mul(price, big.NewInt(int64(diff)))
	total.Quo(total, big.NewInt(10000))
	return domain.RoyaltyShortfall{
		BpsDiff:      diff,
		TotalAmount:  total,
		PerRecipient: []domain.MissingRoyalty{{Bps: diff, Amount: total.String(), Recipient: "0xroyalty"}},
	}, nil
}

// slowRoyalties takes delay per lookup and honours the call deadline.
type slowRoyalties struct {
	delay time.Duration
}

func (r slowRoyalties) Reconcile(ctx context.Context, _ string, _ int, _ *big.Int, _ string) (domain.RoyaltyShortfall, error) {
	select {
	case <-ctx.Done():
		return domain.RoyaltyShortfall{}, ctx.Err()
	case <-time.After(r.delay):
		return domain.RoyaltyShortfall{}, nil
	}
}

type fakeSources struct{}

func (fakeSources) GetOrInsert(_ context.Context, d string) (domain.Source, error) {
	return domain.Source{ID: 7, Domain: d}, nil
}

func newTestDeriver(h *fakeHelper, r fakeRoyalties) *NFTXDeriver {
	return NewNFTXDeriver(h,
		fakeContracts{kinds: map[string]domain.TokenKind{testNFT: domain.TokenKindERC721}},
		r, fakeSources{},
		DeriverConfig{LadderDepth: 10, TokenConcurrency: 4, WrappedCurrency: testWeth},
		nil, discardLogger())
}

func healthyHelper() *fakeHelper {
	return &fakeHelper{
		details: domain.PoolDetails{Address: testPool, NFT: testNFT, VaultID: "392"},
		features: domain.PoolFeatures{
			AssetAddress:       testNFT,
			AllowAllItems:      true,
			EnableMint:         true,
			EnableTargetRedeem: true,
		},
		prices: map[domain.PriceDirection][]int64{
			domain.DirectionSell: {10_000, 19_000, 27_000},
			domain.DirectionBuy:  {10_000, 21_000},
		},
		held: []string{"1", "2"},
	}
}

func testEvent() domain.PoolEvent {
	return domain.PoolEvent{Pool: testPool, TxHash: "0xabc", TxBlock: 100, LogIndex: 3, TxTimestamp: 1_700_000_000}
}

func byID(records []domain.OrderRecord) map[string]domain.OrderRecord {
	out := make(map[string]domain.OrderRecord, len(records))
	for _, r := range records {
		out[r.Order.ID] = r
	}
	return out
}

func TestOrderIDDeterministic(t *testing.T) {
	a := OrderID("nftx", testPool, domain.OrderSideSell, "42")
	b := OrderID("nftx", "0x"+strings.ToUpper(testPool[2:]), domain.OrderSideSell, "42")
	require.Equal(t, a, b)
	require.Len(t, a, 66)
	require.True(t, strings.HasPrefix(a, "0x"))

	require.NotEqual(t, a, OrderID("nftx", testPool, domain.OrderSideSell, "43"))
	require.NotEqual(t, a, OrderID("sudoswap", testPool, domain.OrderSideSell, "42"))
	require.NotEqual(t,
		OrderID("nftx", testPool, domain.OrderSideBuy, ""),
		OrderID("nftx", testPool, domain.OrderSideSell, ""))
}

func TestSampleLadderMarginals(t *testing.T) {
	h := &fakeHelper{prices: map[domain.PriceDirection][]int64{domain.DirectionBuy: {100, 210, 330}}}

	ladder, err := SampleLadder(context.Background(), h, testPool, domain.DirectionBuy, 10)
	require.NoError(t, err)
	require.Equal(t, 3, ladder.Len())
	require.Equal(t, []string{"100", "110", "120"}, ladder.MarginalStrings())

	ladder, err = SampleLadder(context.Background(), h, testPool, domain.DirectionBuy, 2)
	require.NoError(t, err)
	require.Equal(t, 2, ladder.Len())
}

func TestSampleLadderCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	h := &fakeHelper{}
	_, err := SampleLadder(ctx, h, testPool, domain.DirectionBuy, 10)
	require.ErrorIs(t, err, context.Canceled)
}

func TestDeriveBuyAndSell(t *testing.T) {
	h := healthyHelper()
	h.feeBps = 100
	d := newTestDeriver(h, fakeRoyalties{bps: 500})

	records, err := d.Derive(context.Background(), testEvent())
	require.NoError(t, err)
	require.Len(t, records, 3)
	got := byID(records)

	buy, ok := got[OrderID("nftx", testPool, domain.OrderSideBuy, "")]
	require.True(t, ok)
	require.Equal(t, domain.ActionUpsert, buy.Action)
	require.Equal(t, "contract:"+testNFT, buy.Order.TokenSetID)
	require.Equal(t, int64(3), buy.Order.QuantityRemaining)
	require.Equal(t, "10000", buy.Order.Price.String())
	require.Equal(t, "9900", buy.Order.Value.String())
	// 500 bps of 10_000 is subtracted on the contract-wide side.
	require.Equal(t, "9400", buy.Order.NormalizedValue.String())
	require.Equal(t, zeroAddress, buy.Order.Currency)
	require.Equal(t, []domain.FeeBreakdown{{Kind: "marketplace", Recipient: testPool, Bps: 100}}, buy.Order.FeeBreakdown)
	require.Equal(t, 7, *buy.Order.SourceID)

	data, err := buy.Order.DecodePoolData()
	require.NoError(t, err)
	require.Equal(t, []string{"10000", "9000", "8000"}, data.Extra.Prices)
	require.Equal(t, []string{testPool, testWeth}, data.Path)

	sell, ok := got[OrderID("nftx", testPool, domain.OrderSideSell, "2")]
	require.True(t, ok)
	require.Equal(t, "token:"+testNFT+":2", sell.Order.TokenSetID)
	require.Equal(t, int64(1), sell.Order.QuantityRemaining)
	require.Equal(t, "10000", sell.Order.Value.String())
	require.Equal(t, "10500", sell.Order.NormalizedValue.String())
	require.Equal(t, testEvent().Time(), sell.Order.ValidFrom)

	data, err = sell.Order.DecodePoolData()
	require.NoError(t, err)
	require.Equal(t, []string{"2"}, data.SpecificIDs)
	require.Equal(t, []string{"10000", "11000"}, data.Extra.Prices)
}

func TestDeriveCancelsDisabledBuySide(t *testing.T) {
	h := healthyHelper()
	h.features.EnableMint = false
	d := newTestDeriver(h, fakeRoyalties{})

	records, err := d.Derive(context.Background(), testEvent())
	require.NoError(t, err)
	buy := byID(records)[OrderID("nftx", testPool, domain.OrderSideBuy, "")]
	require.Equal(t, domain.ActionCancel, buy.Action)
}

func TestDeriveNoBalanceWhenPoolExhausted(t *testing.T) {
	h := healthyHelper()
	h.prices[domain.DirectionSell] = nil
	h.prices[domain.DirectionBuy] = nil
	d := newTestDeriver(h, fakeRoyalties{})

	records, err := d.Derive(context.Background(), testEvent())
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.Equal(t, domain.ActionNoBalance, records[0].Action)
}

func TestDeriveCancelsEveryTokenWithoutTargetRedeem(t *testing.T) {
	h := healthyHelper()
	h.features.EnableTargetRedeem = false
	d := newTestDeriver(h, fakeRoyalties{})

	records, err := d.Derive(context.Background(), testEvent())
	require.NoError(t, err)
	got := byID(records)
	for _, id := range []string{"1", "2"} {
		require.Equal(t, domain.ActionCancel, got[OrderID("nftx", testPool, domain.OrderSideSell, id)].Action)
	}
}

func TestDeriveIsolatesTokenFailures(t *testing.T) {
	h := healthyHelper()
	d := newTestDeriver(h, fakeRoyalties{fail: map[string]bool{"token:" + testNFT + ":1": true}})

	records, err := d.Derive(context.Background(), testEvent())
	require.NoError(t, err)
	got := byID(records)
	require.NotContains(t, got, OrderID("nftx", testPool, domain.OrderSideSell, "1"))
	require.Contains(t, got, OrderID("nftx", testPool, domain.OrderSideSell, "2"))
	require.Contains(t, got, OrderID("nftx", testPool, domain.OrderSideBuy, ""))
}

func TestDeriveSkipsUnsupportedCollections(t *testing.T) {
	h := healthyHelper()
	h.details.NFT = "0x3333333333333333333333333333333333333333"
	d := newTestDeriver(h, fakeRoyalties{})

	records, err := d.Derive(context.Background(), testEvent())
	require.NoError(t, err)
	require.Empty(t, records)
}

func TestDeriveCapsHeldTokens(t *testing.T) {
	h := healthyHelper()
	h.held = []string{"1", "2", "3", "4"}
	d := newTestDeriver(h, fakeRoyalties{})
	d.cfg.MaxTokenSetSize = 2

	records, err := d.Derive(context.Background(), testEvent())
	require.NoError(t, err)
	require.Len(t, records, 3)
}

func TestDeriveKeepsCompletedWorkOnSlowPools(t *testing.T) {
	h := healthyHelper()
	h.held = nil
	for i := 1; i <= 40; i++ {
		h.held = append(h.held, big.NewInt(int64(i)).String())
	}
	d := NewNFTXDeriver(h,
		fakeContracts{kinds: map[string]domain.TokenKind{testNFT: domain.TokenKindERC721}},
		slowRoyalties{delay: 10 * time.Millisecond}, fakeSources{},
		DeriverConfig{LadderDepth: 10, TokenConcurrency: 1, WrappedCurrency: testWeth, CallTimeout: 100 * time.Millisecond},
		nil, discardLogger())

	applier := &recordingApplier{}
	b := NewBatchDeriver(d, applier, 1, nil, discardLogger())

	results, err := b.DeriveBatch(context.Background(), []domain.PoolEvent{testEvent()})
	require.NoError(t, err)
	require.Len(t, results, 41)
	require.Contains(t, byID(applier.applied), OrderID("nftx", testPool, domain.OrderSideBuy, ""))
}

func TestDeriveKeepsSellsWhenBuyLadderTimesOut(t *testing.T) {
	h := healthyHelper()
	h.stall = map[domain.PriceDirection]bool{domain.DirectionSell: true}
	d := newTestDeriver(h, fakeRoyalties{})
	d.cfg.CallTimeout = 20 * time.Millisecond
	d.helper = timedHelper{helper: h, timeout: d.cfg.CallTimeout}

	records, err := d.Derive(context.Background(), testEvent())
	require.NoError(t, err)
	got := byID(records)
	// A timed out ladder is a failure, not an exhausted pool.
	require.NotContains(t, got, OrderID("nftx", testPool, domain.OrderSideBuy, ""))
	require.Contains(t, got, OrderID("nftx", testPool, domain.OrderSideSell, "1"))
	require.Contains(t, got, OrderID("nftx", testPool, domain.OrderSideSell, "2"))
}

type recordingApplier struct {
	mu      sync.Mutex
	applied []domain.OrderRecord
}

func (a *recordingApplier) Apply(_ context.Context, records []domain.OrderRecord) ([]domain.UpdateResult, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.applied = append(a.applied, records...)
	out := make([]domain.UpdateResult, len(records))
	for i, r := range records {
		out[i] = domain.UpdateResult{ID: r.Order.ID, TxHash: r.Event.TxHash, Status: "success"}
	}
	return out, nil
}

type perPoolDeriver struct {
	fail map[string]bool
}

func (perPoolDeriver) Kind() domain.OrderKind { return domain.OrderKindNFTX }

func (d perPoolDeriver) Derive(_ context.Context, ev domain.PoolEvent) ([]domain.OrderRecord, error) {
	if d.fail[ev.Pool] {
		return nil, errors.New("boom")
	}
	return []domain.OrderRecord{{
		Action: domain.ActionUpsert,
		Order:  domain.Order{ID: OrderID("nftx", ev.Pool, domain.OrderSideBuy, "")},
		Event:  ev,
	}}, nil
}

func TestDeriveBatchIsolatesPoolFailures(t *testing.T) {
	pools := []string{
		"0x00000000000000000000000000000000000000a1",
		"0x00000000000000000000000000000000000000a2",
		"0x00000000000000000000000000000000000000a3",
	}
	events := make([]domain.PoolEvent, len(pools))
	for i, p := range pools {
		events[i] = domain.PoolEvent{Pool: p, TxHash: "0x" + p[len(p)-2:], TxTimestamp: 1}
	}

	applier := &recordingApplier{}
	b := NewBatchDeriver(perPoolDeriver{fail: map[string]bool{pools[1]: true}}, applier, 2, nil, discardLogger())

	results, err := b.DeriveBatch(context.Background(), events)
	require.NoError(t, err)
	require.Len(t, results, 2)
	require.Equal(t, OrderID("nftx", pools[0], domain.OrderSideBuy, ""), results[0].ID)
	require.Equal(t, OrderID("nftx", pools[2], domain.OrderSideBuy, ""), results[1].ID)
}

func TestDeriveBatchEmpty(t *testing.T) {
	applier := &recordingApplier{}
	b := NewBatchDeriver(perPoolDeriver{}, applier, 0, nil, discardLogger())
	results, err := b.DeriveBatch(context.Background(), nil)
	require.NoError(t, err)
	require.Nil(t, results)
	require.Empty(t, applier.applied)
}

func TestVariantRawOrderID(t *testing.T) {
	vs := DefaultVariants()
	v, ok := vs.Get(domain.OrderKindNFTX)
	require.True(t, ok)

	id, err := v.RawOrderID([]byte(`{"pool":"` + testPool + `","specificIds":["5"]}`))
	require.NoError(t, err)
	require.Equal(t, OrderID("nftx", testPool, domain.OrderSideSell, "5"), id)

	_, err = v.RawOrderID([]byte(`{"pool":"` + testPool + `"}`))
	require.ErrorIs(t, err, domain.ErrInvalidRawOrder)

	_, ok = vs.Get(domain.OrderKindSeaport)
	require.False(t, ok)
}

func TestVariantLadderFallsBackToPrice(t *testing.T) {
	o := domain.Order{ID: "x", Kind: domain.OrderKindSudoswap, Maker: "0xAB", Price: big.NewInt(9), RawData: []byte(`{"collection":"c","currency":"w","price":"9","extra":{"prices":[]}}`)}
	pool, prices, err := SudoswapVariant{}.Ladder(o)
	require.NoError(t, err)
	require.Equal(t, "0xab", pool)
	require.Len(t, prices, 1)
	require.Equal(t, "9", prices[0].String())
}
