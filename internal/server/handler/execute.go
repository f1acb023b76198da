package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/nftbook/internal/router"
)

// PathBuilder builds execution paths.
type PathBuilder interface {
	Build(ctx context.Context, req router.Request) (*router.Result, error)
}

// ExecuteHandler serves the buy path endpoint.
type ExecuteHandler struct {
	builder PathBuilder
	timeout time.Duration
	logger  *slog.Logger
}

// NewExecuteHandler creates an ExecuteHandler. timeout bounds each build.
func NewExecuteHandler(builder PathBuilder, timeout time.Duration, logger *slog.Logger) *ExecuteHandler {
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return &ExecuteHandler{builder: builder, timeout: timeout, logger: logHandler(logger, "execute")}
}

// Buy builds the path and steps for a purchase.
// POST /api/execute/buy
func (h *ExecuteHandler) Buy(w http.ResponseWriter, r *http.Request) {
	var req router.Request
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	res, err := h.builder.Build(ctx, req)
	if err != nil {
		var re *router.RequestError
		if errors.As(err, &re) {
			writeError(w, re.Status, re.Message)
			return
		}
		h.logger.Error("execute: build failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to build path")
		return
	}
	writeJSON(w, http.StatusOK, res)
}
