package handler

import (
	"context"
	"errors"
	"log/slog"
	"math/big"
	"net/http"
	"strconv"
	"time"

	"github.com/alanyoungcy/nftbook/internal/domain"
	"github.com/alanyoungcy/nftbook/internal/oracle"
)

// PriceConverter converts amounts through the price oracle.
type PriceConverter interface {
	USDAndNativePrices(ctx context.Context, currency string, price *big.Int, ts time.Time, opts oracle.Options) (domain.ConvertedPrices, error)
}

// PriceHandler exposes currency conversions.
type PriceHandler struct {
	oracle PriceConverter
	logger *slog.Logger
}

// NewPriceHandler creates a PriceHandler.
func NewPriceHandler(o PriceConverter, logger *slog.Logger) *PriceHandler {
	return &PriceHandler{oracle: o, logger: logHandler(logger, "prices")}
}

// Convert returns the USD and native value of amount units of currency.
// GET /api/prices/{currency}?amount=<base units>&timestamp=<unix>
func (h *PriceHandler) Convert(w http.ResponseWriter, r *http.Request) {
	currency := r.PathValue("currency")
	q := r.URL.Query()

	amount, ok := new(big.Int).SetString(q.Get("amount"), 10)
	if !ok {
		writeError(w, http.StatusBadRequest, "amount must be an integer")
		return
	}
	ts := time.Now().UTC()
	if v := q.Get("timestamp"); v != "" {
		sec, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "timestamp must be unix seconds")
			return
		}
		ts = time.Unix(sec, 0).UTC()
	}
	opts := oracle.Options{AcceptStale: q.Get("acceptStale") != "false"}

	prices, err := h.oracle.USDAndNativePrices(r.Context(), currency, amount, ts, opts)
	if errors.Is(err, domain.ErrNoPrice) || errors.Is(err, domain.ErrNotFound) {
		writeError(w, http.StatusNotFound, "cannot convert "+currency)
		return
	}
	if err != nil {
		h.logger.Error("prices: conversion failed",
			slog.String("currency", currency),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "conversion failed")
		return
	}

	resp := map[string]any{"currency": currency, "amount": amount.String()}
	if prices.USD != nil {
		resp["usd"] = prices.USD.String()
	}
	if prices.Native != nil {
		resp["native"] = prices.Native.String()
	}
	writeJSON(w, http.StatusOK, resp)
}
