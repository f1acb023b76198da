package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/nftbook/internal/domain"
)

// usdValue scales a USD amount to domain.USDDecimals, rounding half away from
// zero at the last digit.
func usdValue(d decimal.Decimal) *big.Int {
	return d.Round(domain.USDDecimals).Shift(domain.USDDecimals).BigInt()
}

func dayTime(day int64) time.Time {
	return time.Unix(day*86400, 0).UTC()
}

// CoingeckoUpstream reads historical daily prices from the Coingecko API.
type CoingeckoUpstream struct {
	baseURL    string
	httpClient *http.Client
}

// NewCoingeckoUpstream creates a CoingeckoUpstream.
//
// baseURL is the API root, e.g. "https://api.coingecko.com/api/v3".
func NewCoingeckoUpstream(baseURL string, timeout time.Duration) *CoingeckoUpstream {
	return &CoingeckoUpstream{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (u *CoingeckoUpstream) Name() string { return "coingecko" }

// FetchUSD implements domain.PriceUpstream.
func (u *CoingeckoUpstream) FetchUSD(ctx context.Context, c domain.Currency, day int64) (*big.Int, bool, error) {
	if c.CoingeckoID == "" {
		return nil, false, nil
	}
	t := dayTime(day)
	path := fmt.Sprintf("/coins/%s/history?date=%d-%d-%d",
		url.PathEscape(c.CoingeckoID), t.Day(), int(t.Month()), t.Year())

	body, err := doGet(ctx, u.httpClient, u.baseURL+path)
	if err != nil {
		return nil, false, fmt.Errorf("coingecko: history %s: %w", c.CoingeckoID, err)
	}

	var resp struct {
		MarketData struct {
			CurrentPrice map[string]decimal.Decimal `json:"current_price"`
		} `json:"market_data"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, false, fmt.Errorf("coingecko: decode history %s: %w", c.CoingeckoID, err)
	}
	usd, ok := resp.MarketData.CurrentPrice["usd"]
	if !ok || usd.IsZero() {
		return nil, false, nil
	}
	return usdValue(usd), true, nil
}

// DexScreenerUpstream reads the latest pair price from DexScreener.
type DexScreenerUpstream struct {
	baseURL    string
	httpClient *http.Client
}

// NewDexScreenerUpstream creates a DexScreenerUpstream.
//
// baseURL is the API root, e.g. "https://api.dexscreener.com".
func NewDexScreenerUpstream(baseURL string, timeout time.Duration) *DexScreenerUpstream {
	return &DexScreenerUpstream{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (u *DexScreenerUpstream) Name() string { return "dexscreener" }

// FetchUSD implements domain.PriceUpstream. DexScreener only knows the
// current price, which is recorded for the requested day.
func (u *DexScreenerUpstream) FetchUSD(ctx context.Context, c domain.Currency, _ int64) (*big.Int, bool, error) {
	if c.DexScreenerID == "" {
		return nil, false, nil
	}
	body, err := doGet(ctx, u.httpClient, u.baseURL+"/latest/dex/tokens/"+url.PathEscape(c.DexScreenerID))
	if err != nil {
		return nil, false, fmt.Errorf("dexscreener: tokens %s: %w", c.DexScreenerID, err)
	}

	var resp struct {
		Pairs []struct {
			ChainID  string `json:"chainId"`
			PriceUSD string `json:"priceUsd"`
		} `json:"pairs"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, false, fmt.Errorf("dexscreener: decode tokens %s: %w", c.DexScreenerID, err)
	}
	if len(resp.Pairs) == 0 || resp.Pairs[0].PriceUSD == "" {
		return nil, false, nil
	}
	usd, err := decimal.NewFromString(resp.Pairs[0].PriceUSD)
	if err != nil {
		return nil, false, fmt.Errorf("dexscreener: parse price %q: %w", resp.Pairs[0].PriceUSD, err)
	}
	if usd.IsZero() {
		return nil, false, nil
	}
	return usdValue(usd), true, nil
}

// WhitelistUpstream pegs whitelisted stablecoins at one dollar.
type WhitelistUpstream struct {
	currencies map[string]struct{}
}

// NewWhitelistUpstream creates a WhitelistUpstream for the given contracts.
func NewWhitelistUpstream(contracts []string) *WhitelistUpstream {
	set := make(map[string]struct{}, len(contracts))
	for _, c := range contracts {
		set[strings.ToLower(c)] = struct{}{}
	}
	return &WhitelistUpstream{currencies: set}
}

func (u *WhitelistUpstream) Name() string { return "whitelist" }

// FetchUSD implements domain.PriceUpstream.
func (u *WhitelistUpstream) FetchUSD(_ context.Context, c domain.Currency, _ int64) (*big.Int, bool, error) {
	if _, ok := u.currencies[strings.ToLower(c.Contract)]; !ok {
		return nil, false, nil
	}
	return usdValue(decimal.NewFromInt(1)), true, nil
}

var (
	_ domain.PriceUpstream = (*CoingeckoUpstream)(nil)
	_ domain.PriceUpstream = (*DexScreenerUpstream)(nil)
	_ domain.PriceUpstream = (*WhitelistUpstream)(nil)
)

func doGet(ctx context.Context, client *http.Client, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, domain.ErrRateLimited
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("status %d: %s", resp.StatusCode, truncate(body, 200))
	}
	return body, nil
}

func truncate(b []byte, n int) string {
	if len(b) > n {
		return string(b[:n])
	}
	return string(b)
}
