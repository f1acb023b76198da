// Package router builds execution paths: the ordered set of order fills and
// the transactions needed to buy a set of tokens.
package router

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/big"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/nftbook/internal/domain"
	"github.com/alanyoungcy/nftbook/internal/metrics"
	"github.com/alanyoungcy/nftbook/internal/orderbook"
)

const defaultCandidateLimit = 1000

// SourceLookup resolves marketplace sources.
type SourceLookup interface {
	ByID(id int) (domain.Source, bool)
	ByDomain(d string) (domain.Source, bool)
}

// CurrencyLookup resolves currency metadata for quote formatting.
type CurrencyLookup interface {
	Currency(ctx context.Context, contract string) (domain.Currency, error)
}

// Config tunes the builder.
type Config struct {
	NativeCurrency string
	// Spenders maps the ERC20-settled order kinds to the contract the taker
	// approves.
	Spenders       map[domain.OrderKind]string
	CandidateLimit int
	// BalanceTimeout bounds each maker balance lookup.
	BalanceTimeout time.Duration
}

// Builder turns path requests into fills and transaction steps.
type Builder struct {
	listings   domain.ListingStore
	sources    SourceLookup
	currencies CurrencyLookup
	balances   domain.BalanceReader
	filler     domain.ListingFiller
	intake     domain.OrderIntake
	variants   orderbook.Variants
	cfg        Config
	metrics    *metrics.Metrics
	logger     *slog.Logger
}

// NewBuilder creates a Builder. intake may be nil when raw signed orders are
// not accepted.
func NewBuilder(
	listings domain.ListingStore,
	sources SourceLookup,
	currencies CurrencyLookup,
	balances domain.BalanceReader,
	filler domain.ListingFiller,
	intake domain.OrderIntake,
	variants orderbook.Variants,
	cfg Config,
	m *metrics.Metrics,
	logger *slog.Logger,
) *Builder {
	if cfg.CandidateLimit < 1 {
		cfg.CandidateLimit = defaultCandidateLimit
	}
	cfg.NativeCurrency = strings.ToLower(cfg.NativeCurrency)
	if variants == nil {
		variants = orderbook.DefaultVariants()
	}
	return &Builder{
		listings:   listings,
		sources:    sources,
		currencies: currencies,
		balances:   balances,
		filler:     filler,
		intake:     intake,
		variants:   variants,
		cfg:        cfg,
		metrics:    m,
		logger:     logger.With(slog.String("component", "router")),
	}
}

// pathState is the per-request mutable state of one build.
type pathState struct {
	req      *Request
	path     []domain.Leg
	listings []domain.ListingDetails
	// cursors index the next unconsumed ladder tier per pool.
	cursors map[string]int
	// makerBalances are the remaining tracked NFT balances per maker.
	makerBalances map[string]int64
}

// Build resolves req into a path and, unless req.OnlyPath, the steps to
// execute it. Validation failures are returned as *RequestError.
func (b *Builder) Build(ctx context.Context, req Request) (*Result, error) {
	res, err := b.build(ctx, &req)
	switch {
	case err == nil:
		b.metrics.PathBuild("ok")
	case isRequestError(err):
		b.metrics.PathBuild("rejected")
		b.logger.Info("router: request rejected",
			slog.String("taker", req.Taker),
			slog.String("error", err.Error()),
		)
	default:
		b.metrics.PathBuild("error")
		b.logger.Error("router: build failed",
			slog.String("taker", req.Taker),
			slog.String("error", err.Error()),
		)
	}
	return res, err
}

func (b *Builder) build(ctx context.Context, req *Request) (*Result, error) {
	if err := req.normalize(); err != nil {
		return nil, err
	}
	feesOnTop, err := parseFees(req.FeesOnTop)
	if err != nil {
		return nil, err
	}

	st := &pathState{
		req:           req,
		cursors:       make(map[string]int),
		makerBalances: make(map[string]int64),
	}

	orderIDs, err := b.resolveRawOrders(ctx, req)
	if err != nil {
		return nil, err
	}
	if err := b.addOrderIDs(ctx, st, orderIDs); err != nil {
		return nil, err
	}
	if err := b.addTokens(ctx, st); err != nil {
		return nil, err
	}

	if len(st.path) == 0 {
		return nil, badRequest("No fillable orders")
	}
	if req.Quantity > 1 {
		for _, l := range st.listings {
			if l.ContractKind != domain.TokenKindERC1155 {
				return nil, badData("Only ERC1155 tokens support a quantity greater than one")
			}
		}
	}

	if req.OnlyPath {
		return &Result{Path: st.path}, nil
	}

	currency := b.settlementCurrency(req, st.path)
	native := currency == b.cfg.NativeCurrency

	steps := []domain.Step{
		{
			ID:          "currency-approval",
			Action:      "Approve exchange contract",
			Description: "A one-time setup transaction to enable trading",
			Kind:        "transaction",
			Items:       []domain.StepItem{},
		},
		{
			ID:          "sale",
			Action:      "Confirm transaction in your wallet",
			Description: "To purchase this item you must confirm the transaction and pay the gas fee",
			Kind:        "transaction",
			Items:       []domain.StepItem{},
		},
	}

	total := new(big.Int)
	for _, l := range st.path {
		total.Add(total, l.RawQuote)
	}

	approval, err := b.checkFunds(ctx, req, st.listings, currency, native, total)
	if err != nil {
		return nil, err
	}
	if approval != nil {
		steps[0].Items = append(steps[0].Items, domain.StepItem{Status: "incomplete", Data: b.txItem(req, *approval)})
	}

	opts := domain.FillOptions{
		Source:      req.Source,
		Partial:     req.Partial,
		ForceRouter: req.ForceRouter,
		Relayer:     req.Relayer,
	}
	if native {
		opts.GlobalFees = feesOnTop
	}
	tx, success, err := b.filler.FillListingsTx(ctx, st.listings, req.Taker, currency, opts)
	if err != nil {
		return nil, fmt.Errorf("router: fill listings: %w", err)
	}
	steps[1].Items = append(steps[1].Items, domain.StepItem{Status: "incomplete", Data: b.txItem(req, tx)})

	path := make([]domain.Leg, 0, len(st.path))
	for i, leg := range st.path {
		if i < len(success) && success[i] {
			path = append(path, leg)
		}
	}

	b.logger.Debug("router: path built",
		slog.String("taker", req.Taker),
		slog.String("currency", currency),
		slog.Int("legs", len(path)),
		slog.String("total", total.String()),
	)
	return &Result{Steps: steps, Path: path}, nil
}

// resolveRawOrders maps raw orders to order ids ahead of the explicit ones.
// Pool kinds have deterministic ids; signed kinds go through order intake.
func (b *Builder) resolveRawOrders(ctx context.Context, req *Request) ([]string, error) {
	ids := append([]string(nil), req.OrderIDs...)
	for _, raw := range req.RawOrders {
		kind := domain.OrderKind(strings.ToLower(raw.Kind))
		if v, ok := b.variants.Get(kind); ok {
			id, err := v.RawOrderID(raw.Data)
			if err != nil {
				b.logger.Warn("router: bad raw pool order",
					slog.String("kind", string(kind)),
					slog.String("error", err.Error()),
				)
				return nil, badData("Raw order failed to get processed")
			}
			ids = append(ids, id)
			continue
		}

		if b.intake == nil {
			return nil, badData("Raw order failed to get processed")
		}
		id, err := b.intake.PostOrder(ctx, string(kind), raw.Data)
		if err != nil {
			b.logger.Warn("router: raw order intake failed",
				slog.String("kind", string(kind)),
				slog.String("error", err.Error()),
			)
			return nil, badData("Raw order failed to get processed")
		}
		ids = append(ids, strings.ToLower(id))
	}
	return ids, nil
}

func (b *Builder) fillableQuery(req *Request) domain.FillableQuery {
	q := domain.FillableQuery{
		MinQuantity:        req.Quantity,
		AllowInactive:      req.AllowInactiveOrderIDs,
		NormalizeRoyalties: req.NormalizeRoyalties,
	}
	if req.Currency != "" && req.Currency != b.cfg.NativeCurrency {
		q.Currency = req.Currency
	}
	return q
}

func (b *Builder) addOrderIDs(ctx context.Context, st *pathState, ids []string) error {
	req := st.req
	q := b.fillableQuery(req)
	for _, id := range ids {
		o, err := b.listings.GetFillable(ctx, id, q)
		if errors.Is(err, domain.ErrNotFound) {
			if req.Partial {
				continue
			}
			return badData("Order %s not found or not fillable", id)
		}
		if err != nil {
			return fmt.Errorf("router: load order %s: %w", id, err)
		}

		if req.Quantity > 1 {
			if o.TokenKind != domain.TokenKindERC1155 {
				return badRequest("Only ERC1155 orders support a quantity")
			}
			if len(ids) > 1 {
				return badRequest("When specifying a quantity only a single ERC1155 order can get filled")
			}
		}

		if err := b.addToPath(ctx, st, o, o.Contract, o.TokenID, req.Quantity); err != nil {
			return err
		}
	}
	return nil
}

func (b *Builder) addTokens(ctx context.Context, st *pathState) error {
	req := st.req
	if len(req.Tokens) == 0 {
		return nil
	}

	q := b.fillableQuery(req)
	q.MinQuantity = 0
	q.AllowInactive = false
	if req.PreferredOrderSource != "" {
		if src, ok := b.sources.ByDomain(req.PreferredOrderSource); ok {
			id := src.ID
			q.PreferredSourceID = &id
		}
	}

	for _, token := range req.Tokens {
		contract, tokenID, err := parseToken(token)
		if err != nil {
			return err
		}

		if req.Quantity == 1 {
			q.Limit = 1
			cands, err := b.listings.BestForToken(ctx, contract, tokenID, q)
			if err != nil {
				return fmt.Errorf("router: best order for %s: %w", token, err)
			}
			if len(cands) == 0 {
				if req.Partial {
					continue
				}
				return badRequest("No available orders")
			}
			if err := b.addToPath(ctx, st, cands[0], contract, tokenID, 1); err != nil {
				return err
			}
			continue
		}

		q.Limit = b.cfg.CandidateLimit
		cands, err := b.listings.BestForToken(ctx, contract, tokenID, q)
		if err != nil {
			return fmt.Errorf("router: orders for %s: %w", token, err)
		}
		if len(cands) == 0 {
			if req.Partial {
				continue
			}
			return badRequest("No available orders")
		}
		if cands[0].TokenKind == domain.TokenKindERC1155 && len(req.Tokens) > 1 {
			return badData("When specifying a quantity greater than one, only a single ERC1155 token can get filled")
		}

		need, err := b.allocate(ctx, st, cands, contract, tokenID, req.Quantity)
		if err != nil {
			return err
		}
		if need > 0 && !req.Partial {
			return badRequest("No available orders")
		}
	}
	return nil
}

// allocate greedily fills need units from ranked candidates, capping each by
// the maker's tracked balance. It returns the unmet quantity.
func (b *Builder) allocate(ctx context.Context, st *pathState, cands []domain.FillableOrder, contract, tokenID string, need int64) (int64, error) {
	for _, o := range cands {
		if need <= 0 {
			break
		}

		maker := strings.ToLower(o.Maker)
		bal, ok := st.makerBalances[maker]
		if !ok {
			bal = b.makerBalance(ctx, contract, tokenID, maker)
			st.makerBalances[maker] = bal
		}

		qty := min(o.QuantityRemaining, bal, need)
		if qty <= 0 {
			continue
		}
		need -= qty
		st.makerBalances[maker] = bal - qty

		if err := b.addToPath(ctx, st, o, contract, tokenID, qty); err != nil {
			return 0, err
		}
	}
	return need, nil
}

// makerBalance reads the maker's NFT balance. A failed lookup counts as an
// empty balance so the candidate is skipped.
func (b *Builder) makerBalance(ctx context.Context, contract, tokenID, maker string) int64 {
	if b.cfg.BalanceTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.cfg.BalanceTimeout)
		defer cancel()
	}
	bal, err := b.balances.NFTBalance(ctx, contract, tokenID, maker)
	if err != nil {
		b.logger.Warn("router: maker balance lookup failed",
			slog.String("maker", maker),
			slog.String("token", contract+":"+tokenID),
			slog.String("error", err.Error()),
		)
		return 0
	}
	if !bal.IsInt64() {
		return math.MaxInt64
	}
	return bal.Int64()
}

// addToPath appends one leg. Pool orders are priced at the next unconsumed
// tier of their pool's ladder.
func (b *Builder) addToPath(ctx context.Context, st *pathState, o domain.FillableOrder, contract, tokenID string, qty int64) error {
	var fees []domain.Fee
	totalFee := new(big.Int)
	if st.req.NormalizeRoyalties {
		for _, r := range o.MissingRoyalties {
			amt, ok := new(big.Int).SetString(r.Amount, 10)
			if !ok {
				continue
			}
			fees = append(fees, domain.Fee{Recipient: r.Recipient, Amount: amt})
			totalFee.Add(totalFee, amt)
		}
	}

	price := o.Price
	if v, ok := b.variants.Get(o.Kind); ok {
		pool, prices, err := v.Ladder(o.Order)
		if err != nil {
			return fmt.Errorf("router: %w", err)
		}
		idx := st.cursors[pool]
		if idx >= len(prices) {
			if st.req.Partial {
				return nil
			}
			return badData("Order %s not found or not fillable", o.ID)
		}
		st.cursors[pool] = idx + 1
		price = prices[idx]
	}
	if price == nil {
		return fmt.Errorf("router: order %s has no price", o.ID)
	}

	raw := new(big.Int).Add(price, totalFee)
	raw.Mul(raw, big.NewInt(qty))

	human, err := b.humanQuote(ctx, o.Currency, raw)
	if err != nil {
		return err
	}

	leg := domain.Leg{
		OrderID:    o.ID,
		Contract:   strings.ToLower(contract),
		TokenID:    tokenID,
		Quantity:   qty,
		Currency:   strings.ToLower(o.Currency),
		HumanQuote: human,
		RawQuote:   raw,
	}
	if o.SourceID != nil {
		if src, ok := b.sources.ByID(*o.SourceID); ok {
			d := src.Domain
			leg.Source = &d
		}
	}
	st.path = append(st.path, leg)

	listing := domain.ListingDetails{
		OrderID:      o.ID,
		Kind:         o.Kind,
		ContractKind: o.TokenKind,
		Contract:     leg.Contract,
		TokenID:      tokenID,
		Amount:       qty,
		Currency:     leg.Currency,
		RawData:      o.RawData,
	}
	// ERC20 listings may be filled directly, which cannot carry fees.
	if leg.Currency == b.cfg.NativeCurrency {
		listing.Fees = fees
	}
	st.listings = append(st.listings, listing)
	return nil
}

func (b *Builder) humanQuote(ctx context.Context, currency string, raw *big.Int) (string, error) {
	c, err := b.currencies.Currency(ctx, currency)
	if err != nil {
		return "", fmt.Errorf("router: currency %s: %w", currency, err)
	}
	return decimal.NewFromBigInt(raw, -int32(c.Decimals)).String(), nil
}

// settlementCurrency picks the explicit currency, else the path's shared
// currency, else native.
func (b *Builder) settlementCurrency(req *Request, path []domain.Leg) string {
	if req.Currency != "" {
		return req.Currency
	}
	first := path[0].Currency
	for _, l := range path[1:] {
		if l.Currency != first {
			return b.cfg.NativeCurrency
		}
	}
	return first
}

// checkFunds verifies the sender can pay total and, for ERC20 settlement,
// returns the approval transaction when the allowance is short.
func (b *Builder) checkFunds(ctx context.Context, req *Request, listings []domain.ListingDetails, currency string, native bool, total *big.Int) (*domain.TxData, error) {
	sender := req.sender()

	if native {
		if req.SkipBalanceCheck {
			return nil, nil
		}
		bal, err := b.balances.NativeBalance(ctx, sender)
		if err != nil {
			return nil, fmt.Errorf("router: native balance: %w", err)
		}
		if bal.Cmp(total) < 0 {
			return nil, badData("Balance too low to proceed with transaction")
		}
		return nil, nil
	}

	if !req.SkipBalanceCheck {
		bal, err := b.balances.ERC20Balance(ctx, currency, sender)
		if err != nil {
			return nil, fmt.Errorf("router: erc20 balance: %w", err)
		}
		if bal.Cmp(total) < 0 {
			return nil, badData("Balance too low to proceed with transaction")
		}
	}

	spender, ok := b.spenderFor(listings)
	if !ok {
		return nil, badRequest("Only Seaport, Universe and Rarible ERC20 listings are supported")
	}

	allowance, err := b.balances.ERC20Allowance(ctx, currency, sender, spender)
	if err != nil {
		return nil, fmt.Errorf("router: erc20 allowance: %w", err)
	}
	if allowance.Cmp(total) >= 0 {
		return nil, nil
	}
	tx := b.balances.ApproveTx(currency, sender, spender)
	return &tx, nil
}

// spenderFor returns the approval target when every listing shares one
// ERC20-capable kind.
func (b *Builder) spenderFor(listings []domain.ListingDetails) (string, bool) {
	if len(listings) == 0 {
		return "", false
	}
	kind := listings[0].Kind
	switch kind {
	case domain.OrderKindSeaport, domain.OrderKindNFTEarth, domain.OrderKindUniverse, domain.OrderKindRarible:
	default:
		return "", false
	}
	for _, l := range listings[1:] {
		if l.Kind != kind {
			return "", false
		}
	}
	spender, ok := b.cfg.Spenders[kind]
	return strings.ToLower(spender), ok && spender != ""
}

func (b *Builder) txItem(req *Request, tx domain.TxData) map[string]any {
	data := map[string]any{
		"from": tx.From,
		"to":   tx.To,
		"data": tx.Data,
	}
	if tx.Value != "" {
		data["value"] = tx.Value
	}
	if v, ok := gasHex(req.MaxFeePerGas); ok {
		data["maxFeePerGas"] = v
	}
	if v, ok := gasHex(req.MaxPriorityFeePerGas); ok {
		data["maxPriorityFeePerGas"] = v
	}
	return data
}

func isRequestError(err error) bool {
	var re *RequestError
	return errors.As(err, &re)
}
