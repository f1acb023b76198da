package fill

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/nftbook/internal/domain"
)

func TestFillListingsTx(t *testing.T) {
	var got fillRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/fill/listings", r.URL.Path)
		require.Equal(t, "secret", r.Header.Get("X-Api-Key"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"txData":{"from":"0xtaker","to":"0xrouter","data":"0xabcd","value":"100"},"success":[true,false]}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "", "secret", time.Second)
	listings := []domain.ListingDetails{
		{OrderID: "0x1", Kind: domain.OrderKindNFTX, Contract: "0xc", TokenID: "1", Amount: 1,
			Fees: []domain.Fee{{Recipient: "0xf", Amount: big.NewInt(5)}}},
		{OrderID: "0x2", Kind: domain.OrderKindSeaport, Contract: "0xc", TokenID: "2", Amount: 1},
	}

	tx, success, err := c.FillListingsTx(context.Background(), listings, "0xtaker", "0x0", domain.FillOptions{Partial: true})
	require.NoError(t, err)
	require.Equal(t, "0xrouter", tx.To)
	require.Equal(t, "100", tx.Value)
	require.Equal(t, []bool{true, false}, success)

	require.Equal(t, "0xtaker", got.Taker)
	require.True(t, got.Options.Partial)
	require.Len(t, got.Listings, 2)
	require.Equal(t, big.NewInt(5), got.Listings[0].Fees[0].Amount)
}

func TestFillListingsTx_FlagMismatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"txData":{},"success":[true]}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "", "", time.Second)
	_, _, err := c.FillListingsTx(context.Background(), make([]domain.ListingDetails, 2), "0xt", "0x0", domain.FillOptions{})
	require.Error(t, err)
}

func TestPostOrder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/order", r.URL.Path)
		var req postOrderRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(t, "seaport", req.Order.Kind)
		require.JSONEq(t, `{"offerer":"0xabc"}`, string(req.Order.Data))
		_, _ = w.Write([]byte(`{"orderId":"0xdeadbeef"}`))
	}))
	defer srv.Close()

	c := NewClient("", srv.URL, "", time.Second)
	id, err := c.PostOrder(context.Background(), "seaport", []byte(`{"offerer":"0xabc"}`))
	require.NoError(t, err)
	require.Equal(t, "0xdeadbeef", id)
}

func TestPostOrder_Errors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Api-Key") == "limited" {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"message":"bad signature"}`))
	}))
	defer srv.Close()

	_, err := NewClient("", srv.URL, "", time.Second).PostOrder(context.Background(), "seaport", []byte(`{}`))
	require.ErrorContains(t, err, "bad signature")

	_, err = NewClient("", srv.URL, "limited", time.Second).PostOrder(context.Background(), "seaport", []byte(`{}`))
	require.True(t, errors.Is(err, domain.ErrRateLimited))

	_, err = NewClient("", "", "", time.Second).PostOrder(context.Background(), "seaport", []byte(`{}`))
	require.Error(t, err)
}
