package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/nftbook/internal/domain"
)

// OrderStore implements domain.OrderStore using PostgreSQL.
type OrderStore struct {
	pool *pgxpool.Pool
}

var _ domain.OrderStore = (*OrderStore)(nil)

// NewOrderStore creates a new OrderStore backed by the given connection pool.
func NewOrderStore(pool *pgxpool.Pool) *OrderStore {
	return &OrderStore{pool: pool}
}

// GetTokenSetID implements domain.OrderStore.
func (s *OrderStore) GetTokenSetID(ctx context.Context, id string) (string, bool, error) {
	var tokenSetID *string
	err := s.pool.QueryRow(ctx, `SELECT token_set_id FROM orders WHERE id = $1`, id).Scan(&tokenSetID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", false, domain.ErrNotFound
		}
		return "", false, fmt.Errorf("postgres: get token set of order %s: %w", id, err)
	}
	if tokenSetID == nil {
		return "", false, nil
	}
	return *tokenSetID, true, nil
}

// Delete removes an order row.
func (s *OrderStore) Delete(ctx context.Context, id string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM orders WHERE id = $1`, id); err != nil {
		return fmt.Errorf("postgres: delete order %s: %w", id, err)
	}
	return nil
}

// insertCols is the column list of a new order row. Values that are not
// modelled on domain.Order (schema hash, nonce, reservoir and dynamic flags)
// are written as constants.
const insertCols = `id, kind, side, fillability_status, approval_status,
	token_set_id, token_set_schema_hash, maker, taker,
	price, value, currency, currency_price, currency_value, needs_conversion,
	quantity_remaining, valid_between, nonce, source_id_int, is_reservoir,
	contract, fee_bps, fee_breakdown, dynamic, raw_data, expiration,
	missing_royalties, normalized_value, currency_normalized_value,
	block_number, log_index`

// insertArgsPerRow must match the placeholders emitted by insertRow.
const insertArgsPerRow = 23

func insertRow(base int) string {
	p := func(i int) string { return fmt.Sprintf("$%d", base+i) }
	return "(" + strings.Join([]string{
		p(1), p(2), p(3), p(4), p(5),
		p(6), "NULL", p(7), p(8),
		p(9) + "::numeric", p(10) + "::numeric", p(11), p(9) + "::numeric", p(10) + "::numeric", "FALSE",
		p(12),
		"tstzrange(date_trunc('seconds', " + p(13) + "::timestamptz), coalesce(" + p(14) + "::timestamptz, 'infinity'), '[]')",
		"NULL", p(15), "FALSE",
		p(16), p(17), p(18), "FALSE", p(19),
		"coalesce(" + p(14) + "::timestamptz, 'infinity')",
		p(20), p(21) + "::numeric", p(21) + "::numeric",
		p(22), p(23),
	}, ", ") + ")"
}

// maxInsertRows keeps one INSERT under the 65535 bind parameter limit of the
// extended protocol.
const maxInsertRows = 65535 / insertArgsPerRow

// InsertBatch inserts every order, maxInsertRows per statement, all chunks in
// one pgx.Batch. Rows whose id already exists are left untouched.
func (s *OrderStore) InsertBatch(ctx context.Context, orders []domain.Order) error {
	if len(orders) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, chunk := range chunkOrders(orders, maxInsertRows) {
		query, args, err := buildInsert(chunk)
		if err != nil {
			return err
		}
		batch.Queue(query, args...)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()
	for i := 0; i < batch.Len(); i++ {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("postgres: insert %d orders: %w", len(orders), err)
		}
	}
	return nil
}

// chunkOrders splits orders into slices of at most size rows.
func chunkOrders(orders []domain.Order, size int) [][]domain.Order {
	var chunks [][]domain.Order
	for len(orders) > size {
		chunks = append(chunks, orders[:size])
		orders = orders[size:]
	}
	if len(orders) > 0 {
		chunks = append(chunks, orders)
	}
	return chunks
}

// buildInsert returns one multi-row INSERT for orders.
func buildInsert(orders []domain.Order) (string, []any, error) {
	const perRow = insertArgsPerRow
	rows := make([]string, 0, len(orders))
	args := make([]any, 0, len(orders)*perRow)
	for i, o := range orders {
		feeBreakdown, err := jsonArg(o.FeeBreakdown)
		if err != nil {
			return "", nil, fmt.Errorf("postgres: encode fee breakdown of %s: %w", o.ID, err)
		}
		missing, err := jsonArg(o.MissingRoyalties)
		if err != nil {
			return "", nil, fmt.Errorf("postgres: encode missing royalties of %s: %w", o.ID, err)
		}
		rows = append(rows, insertRow(i*perRow))
		args = append(args,
			o.ID, string(o.Kind), string(o.Side), string(o.FillabilityStatus), string(o.ApprovalStatus),
			nullIfEmpty(o.TokenSetID), o.Maker, nullIfEmpty(o.Taker),
			numericArg(o.Price), numericArg(o.Value), o.Currency,
			o.QuantityRemaining,
			o.ValidFrom, o.ValidUntil,
			o.SourceID,
			nullIfEmpty(o.Contract), o.FeeBps, feeBreakdown, rawJSON(o.RawData),
			missing, numericArg(o.NormalizedValue),
			o.BlockNumber, o.LogIndex,
		)
	}

	query := `INSERT INTO orders (` + insertCols + `) VALUES ` +
		strings.Join(rows, ",\n") + ` ON CONFLICT DO NOTHING`
	return query, args, nil
}

// Reprice applies o's price fields when ts is strictly after the lower bound
// of the stored validity window, and moves that bound to ts.
func (s *OrderStore) Reprice(ctx context.Context, o domain.Order, ts time.Time) (bool, error) {
	const query = `
		UPDATE orders SET
			fillability_status = $2,
			approval_status = $3,
			price = $4::numeric,
			currency_price = $4::numeric,
			value = $5::numeric,
			currency_value = $5::numeric,
			quantity_remaining = $6,
			valid_between = tstzrange(date_trunc('seconds', $7::timestamptz), 'infinity', '[]'),
			expiration = 'infinity',
			raw_data = $8,
			missing_royalties = $9,
			normalized_value = $10::numeric,
			currency_normalized_value = $10::numeric,
			fee_bps = $11,
			fee_breakdown = $12,
			currency = $13,
			block_number = $14,
			log_index = $15,
			updated_at = NOW()
		WHERE id = $1
		  AND lower(valid_between) < $7::timestamptz`

	feeBreakdown, err := jsonArg(o.FeeBreakdown)
	if err != nil {
		return false, fmt.Errorf("postgres: encode fee breakdown of %s: %w", o.ID, err)
	}
	missing, err := jsonArg(o.MissingRoyalties)
	if err != nil {
		return false, fmt.Errorf("postgres: encode missing royalties of %s: %w", o.ID, err)
	}

	tag, err := s.pool.Exec(ctx, query,
		o.ID, string(o.FillabilityStatus), string(o.ApprovalStatus),
		numericArg(o.Price), numericArg(o.Value), o.QuantityRemaining,
		ts, rawJSON(o.RawData), missing, numericArg(o.NormalizedValue),
		o.FeeBps, feeBreakdown, o.Currency, o.BlockNumber, o.LogIndex,
	)
	if err != nil {
		return false, fmt.Errorf("postgres: reprice order %s: %w", o.ID, err)
	}
	return tag.RowsAffected() > 0, nil
}

// SetStatus implements domain.OrderStore.
func (s *OrderStore) SetStatus(ctx context.Context, id string, status domain.FillabilityStatus, ts time.Time) (bool, error) {
	const query = `
		UPDATE orders SET
			fillability_status = $2,
			expiration = $3,
			updated_at = NOW()
		WHERE id = $1
		  AND lower(valid_between) < $3`

	tag, err := s.pool.Exec(ctx, query, id, string(status), ts)
	if err != nil {
		return false, fmt.Errorf("postgres: set order %s %s: %w", id, status, err)
	}
	return tag.RowsAffected() > 0, nil
}

// orderSelectCols lists the columns read back into domain.Order. Numeric
// columns are selected as text to keep full precision.
const orderSelectCols = `o.id, o.kind, o.side, o.fillability_status, o.approval_status,
	coalesce(o.token_set_id, ''), coalesce(o.contract, ''), o.maker, coalesce(o.taker, ''),
	o.price::text, o.value::text, o.normalized_value::text, o.currency,
	o.quantity_remaining::bigint, o.fee_bps, o.fee_breakdown, o.missing_royalties,
	lower(o.valid_between), nullif(o.expiration, 'infinity'), o.source_id_int, o.raw_data,
	o.block_number, o.log_index`

func scanOrder(scanner interface{ Scan(dest ...any) error }, extra ...any) (domain.Order, error) {
	var (
		o                        domain.Order
		kind, side, fill, appr   string
		price, value, normalized *string
		feeBreakdown, missing    []byte
		logIndex                 *int32
	)

	dest := []any{
		&o.ID, &kind, &side, &fill, &appr,
		&o.TokenSetID, &o.Contract, &o.Maker, &o.Taker,
		&price, &value, &normalized, &o.Currency,
		&o.QuantityRemaining, &o.FeeBps, &feeBreakdown, &missing,
		&o.ValidFrom, &o.ValidUntil, &o.SourceID, &o.RawData,
		&o.BlockNumber, &logIndex,
	}
	if err := scanner.Scan(append(dest, extra...)...); err != nil {
		return domain.Order{}, err
	}

	o.Kind = domain.OrderKind(kind)
	o.Side = domain.OrderSide(side)
	o.FillabilityStatus = domain.FillabilityStatus(fill)
	o.ApprovalStatus = domain.ApprovalStatus(appr)

	var err error
	if o.Price, err = parseNumeric(price); err != nil {
		return domain.Order{}, err
	}
	if o.Value, err = parseNumeric(value); err != nil {
		return domain.Order{}, err
	}
	if o.NormalizedValue, err = parseNumeric(normalized); err != nil {
		return domain.Order{}, err
	}
	if len(feeBreakdown) > 0 {
		if err := json.Unmarshal(feeBreakdown, &o.FeeBreakdown); err != nil {
			return domain.Order{}, fmt.Errorf("decode fee_breakdown: %w", err)
		}
	}
	if len(missing) > 0 {
		if err := json.Unmarshal(missing, &o.MissingRoyalties); err != nil {
			return domain.Order{}, fmt.Errorf("decode missing_royalties: %w", err)
		}
	}
	if logIndex != nil {
		li := int64(*logIndex)
		o.LogIndex = &li
	}
	return o, nil
}

// GetByID retrieves a single order by ID.
func (s *OrderStore) GetByID(ctx context.Context, id string) (domain.Order, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+orderSelectCols+` FROM orders o WHERE o.id = $1`, id)
	o, err := scanOrder(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Order{}, domain.ErrNotFound
		}
		return domain.Order{}, fmt.Errorf("postgres: get order %s: %w", id, err)
	}
	return o, nil
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func rawJSON(b json.RawMessage) []byte {
	if len(b) == 0 {
		return nil
	}
	return b
}
