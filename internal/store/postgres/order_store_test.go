package postgres

import (
	"fmt"
	"math/big"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/nftbook/internal/domain"
)

func insertFixture(n int) []domain.Order {
	orders := make([]domain.Order, n)
	for i := range orders {
		orders[i] = domain.Order{
			ID:                fmt.Sprintf("0x%064x", i),
			Kind:              domain.OrderKindNFTX,
			Side:              domain.OrderSideSell,
			FillabilityStatus: domain.FillabilityFillable,
			ApprovalStatus:    domain.ApprovalApproved,
			Maker:             testPool,
			Price:             big.NewInt(1000),
			Value:             big.NewInt(1000),
			Currency:          "0x0000000000000000000000000000000000000000",
			QuantityRemaining: 1,
			ValidFrom:         time.Unix(1_700_000_000, 0).UTC(),
		}
	}
	return orders
}

func TestInsertChunksStayUnderParameterLimit(t *testing.T) {
	orders := insertFixture(maxInsertRows + 1)

	chunks := chunkOrders(orders, maxInsertRows)
	require.Len(t, chunks, 2)
	require.Len(t, chunks[0], maxInsertRows)
	require.Len(t, chunks[1], 1)
	require.Equal(t, orders[maxInsertRows].ID, chunks[1][0].ID)

	for _, chunk := range chunks {
		query, args, err := buildInsert(chunk)
		require.NoError(t, err)
		require.LessOrEqual(t, len(args), 65535)
		require.Equal(t, len(chunk)*insertArgsPerRow, len(args))
		// Placeholders restart per statement.
		require.Contains(t, query, fmt.Sprintf("$%d", len(args)))
		require.NotContains(t, query, fmt.Sprintf("$%d", len(args)+1))
		require.True(t, strings.HasSuffix(query, "ON CONFLICT DO NOTHING"))
	}
}

func TestChunkOrdersExactMultiple(t *testing.T) {
	chunks := chunkOrders(insertFixture(6), 3)
	require.Len(t, chunks, 2)
	require.Empty(t, chunkOrders(nil, 3))
}
