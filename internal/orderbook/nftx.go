package orderbook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/nftbook/internal/domain"
	"github.com/alanyoungcy/nftbook/internal/metrics"
)

const (
	nftxSource     = "nftx.io"
	royaltyScheme  = "default"
	zeroAddress    = "0x0000000000000000000000000000000000000000"
	feeKindMarket  = "marketplace"
	defaultLadder  = 10
	defaultTokenCc = 50
)

// RoyaltyReconciler computes the royalty shortfall of a price.
type RoyaltyReconciler interface {
	Reconcile(ctx context.Context, key string, builtInBps int, price *big.Int, scheme string) (domain.RoyaltyShortfall, error)
}

// SourceResolver resolves a marketplace domain to its source row.
type SourceResolver interface {
	GetOrInsert(ctx context.Context, domain string) (domain.Source, error)
}

// DeriverConfig tunes NFTXDeriver.
type DeriverConfig struct {
	// LadderDepth is the number of successive units sampled per side.
	LadderDepth int
	// TokenConcurrency bounds per-token work on the sell side.
	TokenConcurrency int
	// MaxTokenSetSize caps the held tokens turned into sell orders.
	MaxTokenSetSize int
	NativeCurrency  string
	WrappedCurrency string
	// CallTimeout bounds each external call (chain, store, royalty lookup).
	// Zero disables it.
	CallTimeout time.Duration
}

// NFTXDeriver turns an NFTX vault's live state into one contract-wide buy
// order (the pool bids for any token of the collection) and one sell order
// per token the vault holds.
type NFTXDeriver struct {
	helper    domain.PoolHelper
	contracts domain.ContractStore
	royalties RoyaltyReconciler
	sources   SourceResolver
	cfg       DeriverConfig
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

// NewNFTXDeriver creates an NFTXDeriver.
func NewNFTXDeriver(
	helper domain.PoolHelper,
	contracts domain.ContractStore,
	royalties RoyaltyReconciler,
	sources SourceResolver,
	cfg DeriverConfig,
	m *metrics.Metrics,
	logger *slog.Logger,
) *NFTXDeriver {
	if cfg.LadderDepth <= 0 {
		cfg.LadderDepth = defaultLadder
	}
	if cfg.TokenConcurrency <= 0 {
		cfg.TokenConcurrency = defaultTokenCc
	}
	if cfg.NativeCurrency == "" {
		cfg.NativeCurrency = zeroAddress
	}
	if cfg.CallTimeout > 0 {
		helper = timedHelper{helper: helper, timeout: cfg.CallTimeout}
	}
	return &NFTXDeriver{
		helper:    helper,
		contracts: contracts,
		royalties: royalties,
		sources:   sources,
		cfg:       cfg,
		metrics:   m,
		logger:    logger.With(slog.String("component", "nftx_deriver")),
	}
}

// Kind implements Deriver.
func (d *NFTXDeriver) Kind() domain.OrderKind { return domain.OrderKindNFTX }

// Derive returns the records for one pool event. Failures of the buy side or
// of a single token are logged and skipped; only failures that prevent
// reading the pool at all are returned. Each external call runs under its own
// deadline, so a slow call never discards records that already completed.
func (d *NFTXDeriver) Derive(ctx context.Context, ev domain.PoolEvent) ([]domain.OrderRecord, error) {
	pool := strings.ToLower(ev.Pool)
	log := d.logger.With(slog.String("pool", pool), slog.String("tx_hash", ev.TxHash))

	details, err := d.helper.GetPoolDetails(ctx, pool)
	if err != nil {
		return nil, fmt.Errorf("nftx: pool details %s: %w", pool, err)
	}
	nft := strings.ToLower(details.NFT)

	kctx, cancel := withTimeout(ctx, d.cfg.CallTimeout)
	kind, err := d.contracts.GetKind(kctx, nft)
	cancel()
	switch {
	case errors.Is(err, domain.ErrNotFound):
		log.Debug("nftx_deriver: unknown collection, skipping", slog.String("collection", nft))
		return nil, nil
	case err != nil:
		return nil, fmt.Errorf("nftx: contract kind %s: %w", nft, err)
	case kind != domain.TokenKindERC721:
		log.Debug("nftx_deriver: unsupported token standard, skipping",
			slog.String("collection", nft), slog.String("kind", string(kind)))
		return nil, nil
	}

	features, err := d.helper.GetPoolFeatures(ctx, pool)
	if err != nil {
		return nil, fmt.Errorf("nftx: pool features %s: %w", pool, err)
	}

	var sourceID *int
	sctx, cancel := withTimeout(ctx, d.cfg.CallTimeout)
	src, err := d.sources.GetOrInsert(sctx, nftxSource)
	cancel()
	if err != nil {
		log.Warn("nftx_deriver: source lookup failed", slog.String("error", err.Error()))
	} else {
		id := src.ID
		sourceID = &id
	}

	pd := poolDerivation{
		event:    ev,
		pool:     pool,
		details:  details,
		nft:      nft,
		features: features,
		sourceID: sourceID,
	}

	var records []domain.OrderRecord
	buy, err := d.deriveBuy(ctx, pd)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		d.metrics.DerivationFailed("buy")
		log.Error("nftx_deriver: buy side failed", slog.String("error", err.Error()))
	} else if buy != nil {
		records = append(records, *buy)
	}

	sells, err := d.deriveSells(ctx, pd, log)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		d.metrics.DerivationFailed("sell")
		log.Error("nftx_deriver: sell side failed", slog.String("error", err.Error()))
	}
	records = append(records, sells...)

	for _, r := range records {
		d.metrics.RecordDerived(string(r.Order.Side), string(r.Action))
	}
	return records, nil
}

type poolDerivation struct {
	event    domain.PoolEvent
	pool     string
	details  domain.PoolDetails
	nft      string
	features domain.PoolFeatures
	sourceID *int
}

func (d *NFTXDeriver) deriveBuy(ctx context.Context, pd poolDerivation) (*domain.OrderRecord, error) {
	id := OrderID(string(domain.OrderKindNFTX), pd.pool, domain.OrderSideBuy, "")
	stub := domain.Order{ID: id, Kind: domain.OrderKindNFTX, Side: domain.OrderSideBuy}

	f := pd.features
	if f.AssetAddress == "" || strings.EqualFold(f.AssetAddress, zeroAddress) || !f.AllowAllItems || !f.EnableMint {
		return &domain.OrderRecord{Action: domain.ActionCancel, Order: stub, Event: pd.event}, nil
	}

	// The pool buys when the taker sells into it.
	ladder, err := SampleLadder(ctx, d.helper, pd.pool, domain.DirectionSell, d.cfg.LadderDepth)
	if err != nil {
		return nil, err
	}
	if ladder.Len() == 0 {
		return &domain.OrderRecord{Action: domain.ActionNoBalance, Order: stub, Event: pd.event}, nil
	}

	first := ladder.First()
	price := new(big.Int).Set(first.Price)
	value := subtractBps(price, first.FeeBps)

	rctx, cancel := withTimeout(ctx, d.cfg.CallTimeout)
	shortfall, err := d.royalties.Reconcile(rctx, contractTokenSet(pd.nft), 0, price, royaltyScheme)
	cancel()
	if err != nil {
		return nil, fmt.Errorf("royalties %s: %w", contractTokenSet(pd.nft), err)
	}
	normalized := new(big.Int).Sub(value, shortfall.Amount())

	raw, err := json.Marshal(domain.PoolOrderData{
		VaultID:     pd.details.VaultID,
		Collection:  pd.nft,
		Pool:        pd.pool,
		SpecificIDs: []string{},
		Currency:    d.cfg.WrappedCurrency,
		Path:        []string{pd.pool, d.cfg.WrappedCurrency},
		Price:       price.String(),
		Extra:       domain.PoolOrderExtra{Prices: ladder.MarginalStrings()},
	})
	if err != nil {
		return nil, fmt.Errorf("encode raw data: %w", err)
	}

	o := d.baseOrder(pd, id, domain.OrderSideBuy, first.FeeBps)
	o.TokenSetID = contractTokenSet(pd.nft)
	o.Price = price
	o.Value = value
	o.NormalizedValue = normalized
	o.MissingRoyalties = shortfall.PerRecipient
	o.QuantityRemaining = int64(ladder.Len())
	o.RawData = raw

	return &domain.OrderRecord{Action: domain.ActionUpsert, Order: o, Event: pd.event}, nil
}

func (d *NFTXDeriver) deriveSells(ctx context.Context, pd poolDerivation, log *slog.Logger) ([]domain.OrderRecord, error) {
	tokenIDs, err := d.helper.GetHeldTokenIDs(ctx, pd.nft, pd.pool)
	if err != nil {
		return nil, fmt.Errorf("held tokens: %w", err)
	}
	if d.cfg.MaxTokenSetSize > 0 && len(tokenIDs) > d.cfg.MaxTokenSetSize {
		log.Warn("nftx_deriver: held tokens capped",
			slog.Int("held", len(tokenIDs)), slog.Int("cap", d.cfg.MaxTokenSetSize))
		tokenIDs = tokenIDs[:d.cfg.MaxTokenSetSize]
	}
	if len(tokenIDs) == 0 {
		return nil, nil
	}

	if !pd.features.EnableTargetRedeem {
		records := make([]domain.OrderRecord, 0, len(tokenIDs))
		for _, tokenID := range tokenIDs {
			id := OrderID(string(domain.OrderKindNFTX), pd.pool, domain.OrderSideSell, tokenID)
			records = append(records, domain.OrderRecord{
				Action: domain.ActionCancel,
				Order:  domain.Order{ID: id, Kind: domain.OrderKindNFTX, Side: domain.OrderSideSell},
				Event:  pd.event,
			})
		}
		return records, nil
	}

	// The pool sells when the taker buys out of it. One ladder serves every
	// token of the pool.
	ladder, err := SampleLadder(ctx, d.helper, pd.pool, domain.DirectionBuy, d.cfg.LadderDepth)
	if err != nil {
		return nil, err
	}
	if ladder.Len() == 0 {
		return nil, nil
	}

	slots := make([]*domain.OrderRecord, len(tokenIDs))
	var g errgroup.Group
	g.SetLimit(d.cfg.TokenConcurrency)
	for i, tokenID := range tokenIDs {
		g.Go(func() error {
			rec, err := d.deriveSell(ctx, pd, ladder, tokenID)
			if err != nil {
				d.metrics.DerivationFailed("token")
				log.Error("nftx_deriver: token failed",
					slog.String("token_id", tokenID),
					slog.String("error", err.Error()),
				)
				return nil
			}
			slots[i] = rec
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	records := make([]domain.OrderRecord, 0, len(slots))
	for _, rec := range slots {
		if rec != nil {
			records = append(records, *rec)
		}
	}
	return records, nil
}

func (d *NFTXDeriver) deriveSell(ctx context.Context, pd poolDerivation, ladder domain.PriceLadder, tokenID string) (*domain.OrderRecord, error) {
	first := ladder.First()
	price := new(big.Int).Set(first.Price)
	value := new(big.Int).Set(price)

	key := singleTokenSet(pd.nft, tokenID)
	rctx, cancel := withTimeout(ctx, d.cfg.CallTimeout)
	shortfall, err := d.royalties.Reconcile(rctx, key, 0, price, royaltyScheme)
	cancel()
	if err != nil {
		return nil, fmt.Errorf("royalties %s: %w", key, err)
	}
	normalized := new(big.Int).Add(value, shortfall.Amount())

	raw, err := json.Marshal(domain.PoolOrderData{
		VaultID:     pd.details.VaultID,
		Collection:  pd.nft,
		Pool:        pd.pool,
		SpecificIDs: []string{tokenID},
		Currency:    d.cfg.WrappedCurrency,
		Path:        []string{d.cfg.WrappedCurrency, pd.pool},
		Price:       price.String(),
		Extra:       domain.PoolOrderExtra{Prices: ladder.MarginalStrings()},
	})
	if err != nil {
		return nil, fmt.Errorf("encode raw data: %w", err)
	}

	id := OrderID(string(domain.OrderKindNFTX), pd.pool, domain.OrderSideSell, tokenID)
	o := d.baseOrder(pd, id, domain.OrderSideSell, first.FeeBps)
	o.TokenSetID = key
	o.Price = price
	o.Value = value
	o.NormalizedValue = normalized
	o.MissingRoyalties = shortfall.PerRecipient
	o.QuantityRemaining = 1
	o.RawData = raw

	return &domain.OrderRecord{Action: domain.ActionUpsert, Order: o, Event: pd.event}, nil
}

func (d *NFTXDeriver) baseOrder(pd poolDerivation, id string, side domain.OrderSide, feeBps int) domain.Order {
	block := pd.event.TxBlock
	logIndex := pd.event.LogIndex
	return domain.Order{
		ID:                id,
		Kind:              domain.OrderKindNFTX,
		Side:              side,
		FillabilityStatus: domain.FillabilityFillable,
		ApprovalStatus:    domain.ApprovalApproved,
		Contract:          pd.nft,
		Maker:             pd.pool,
		Taker:             zeroAddress,
		Currency:          d.cfg.NativeCurrency,
		FeeBps:            feeBps,
		FeeBreakdown:      []domain.FeeBreakdown{{Kind: feeKindMarket, Recipient: pd.pool, Bps: feeBps}},
		ValidFrom:         pd.event.Time(),
		SourceID:          pd.sourceID,
		BlockNumber:       &block,
		LogIndex:          &logIndex,
	}
}
