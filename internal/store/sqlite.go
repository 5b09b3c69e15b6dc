package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"callisto/internal/domain"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver.
)

// Compile-time interface checks.
var _ OrderStore = (*SQLiteStore)(nil)
var _ ReportStore = (*SQLiteStore)(nil)
var _ AlgoStore = (*SQLiteStore)(nil)

const schema = `
CREATE TABLE IF NOT EXISTS orders (
	id               TEXT PRIMARY KEY,
	client_order_id  TEXT,
	venue_order_id   TEXT,
	symbol           TEXT NOT NULL,
	side             TEXT NOT NULL,
	type             TEXT NOT NULL,
	qty              REAL NOT NULL,
	filled_qty       REAL NOT NULL,
	filled_avg_price REAL NOT NULL,
	limit_price      REAL,
	stop_price       REAL,
	time_in_force    TEXT,
	status           TEXT NOT NULL,
	strategy_id      TEXT,
	signal_id        TEXT,
	algo             TEXT,
	created_at       TEXT NOT NULL,
	updated_at       TEXT NOT NULL,
	submitted_at     TEXT,
	filled_at        TEXT,
	canceled_at      TEXT,
	expired_at       TEXT,
	rejected_at      TEXT
);
CREATE INDEX IF NOT EXISTS idx_orders_symbol   ON orders(symbol);
CREATE INDEX IF NOT EXISTS idx_orders_status   ON orders(status);
CREATE INDEX IF NOT EXISTS idx_orders_strategy ON orders(strategy_id);

CREATE TABLE IF NOT EXISTS execution_reports (
	id           TEXT PRIMARY KEY,
	order_id     TEXT NOT NULL,
	symbol       TEXT NOT NULL,
	side         TEXT NOT NULL,
	fill_qty     REAL NOT NULL,
	fill_price   REAL NOT NULL,
	fee          REAL NOT NULL,
	fee_currency TEXT,
	executed_at  TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_reports_order    ON execution_reports(order_id);
CREATE INDEX IF NOT EXISTS idx_reports_executed ON execution_reports(executed_at);

CREATE TABLE IF NOT EXISTS algo_orders (
	id         TEXT PRIMARY KEY,
	type       TEXT NOT NULL,
	symbol     TEXT NOT NULL,
	side       TEXT NOT NULL,
	qty        REAL NOT NULL,
	status     TEXT NOT NULL,
	order_ids  TEXT NOT NULL,
	params     TEXT NOT NULL,
	start_time TEXT NOT NULL,
	end_time   TEXT NOT NULL,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_algos_status ON algo_orders(status);
`

// SQLiteStore implements OrderStore, ReportStore, and AlgoStore backed by a
// SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath, applies
// the schema, and returns a ready-to-use SQLiteStore.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	// The journal is written from the engine loop and read from the API;
	// a single writer keeps the pure-Go driver out of SQLITE_BUSY territory.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("applying schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// ---------------------------------------------------------------------------
// OrderStore implementation
// ---------------------------------------------------------------------------

// SaveOrder upserts the order keyed by ID.
func (s *SQLiteStore) SaveOrder(ctx context.Context, order *domain.Order) error {
	var algoJSON any
	if order.Algo != nil {
		raw, err := json.Marshal(order.Algo)
		if err != nil {
			return fmt.Errorf("encoding algo tag: %w", err)
		}
		algoJSON = string(raw)
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO orders (
			id, client_order_id, venue_order_id, symbol, side, type, qty,
			filled_qty, filled_avg_price, limit_price, stop_price,
			time_in_force, status, strategy_id, signal_id, algo, created_at,
			updated_at, submitted_at, filled_at, canceled_at, expired_at,
			rejected_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			client_order_id  = excluded.client_order_id,
			venue_order_id   = excluded.venue_order_id,
			type             = excluded.type,
			qty              = excluded.qty,
			filled_qty       = excluded.filled_qty,
			filled_avg_price = excluded.filled_avg_price,
			limit_price      = excluded.limit_price,
			stop_price       = excluded.stop_price,
			time_in_force    = excluded.time_in_force,
			status           = excluded.status,
			strategy_id      = excluded.strategy_id,
			signal_id        = excluded.signal_id,
			algo             = excluded.algo,
			updated_at       = excluded.updated_at,
			submitted_at     = excluded.submitted_at,
			filled_at        = excluded.filled_at,
			canceled_at      = excluded.canceled_at,
			expired_at       = excluded.expired_at,
			rejected_at      = excluded.rejected_at`,
		order.ID, order.ClientOrderID, order.VenueOrderID, order.Symbol,
		string(order.Side), string(order.Type), order.Qty, order.FilledQty,
		order.FilledAvgPrice,
		nullFloat(order.LimitPrice), nullFloat(order.StopPrice),
		string(order.TimeInForce), string(order.Status), order.StrategyID,
		order.SignalID, algoJSON, timeStr(order.CreatedAt),
		timeStr(order.UpdatedAt), nullTime(order.SubmittedAt),
		nullTime(order.FilledAt), nullTime(order.CanceledAt),
		nullTime(order.ExpiredAt), nullTime(order.RejectedAt),
	)
	if err != nil {
		return fmt.Errorf("saving order %s: %w", order.ID, err)
	}
	return nil
}

const orderColumns = `id, client_order_id, venue_order_id, symbol, side, type,
	qty, filled_qty, filled_avg_price, limit_price, stop_price, time_in_force,
	status, strategy_id, signal_id, algo, created_at, updated_at, submitted_at,
	filled_at, canceled_at, expired_at, rejected_at`

// GetOrder retrieves a single order by its ID.
func (s *SQLiteStore) GetOrder(ctx context.Context, id string) (*domain.Order, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE id = ?`, id)
	order, err := scanOrder(row)
	if err == sql.ErrNoRows {
		return nil, &domain.NotFoundError{Kind: "order", ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("reading order %s: %w", id, err)
	}
	return order, nil
}

// ListOrders returns all orders matching the filter, oldest first.
func (s *SQLiteStore) ListOrders(ctx context.Context, filter domain.OrderFilter) ([]domain.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE 1=1`
	var args []any
	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	if filter.Symbol != "" {
		query += ` AND symbol = ?`
		args = append(args, filter.Symbol)
	}
	if filter.StrategyID != "" {
		query += ` AND strategy_id = ?`
		args = append(args, filter.StrategyID)
	}
	if filter.ActiveOnly {
		query += ` AND status NOT IN ('filled', 'canceled', 'rejected', 'expired')`
	}
	query += ` ORDER BY created_at, id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing orders: %w", err)
	}
	defer rows.Close()

	var orders []domain.Order
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning order: %w", err)
		}
		orders = append(orders, *order)
	}
	return orders, rows.Err()
}

// rowScanner covers *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (*domain.Order, error) {
	var (
		o                                                   domain.Order
		side, typ, tif, status                              string
		limitPrice, stopPrice                               sql.NullFloat64
		algoJSON                                            sql.NullString
		createdAt, updatedAt                                string
		submittedAt, filledAt, canceledAt, expiredAt, rejAt sql.NullString
	)
	err := row.Scan(&o.ID, &o.ClientOrderID, &o.VenueOrderID, &o.Symbol, &side,
		&typ, &o.Qty, &o.FilledQty, &o.FilledAvgPrice, &limitPrice, &stopPrice,
		&tif, &status, &o.StrategyID, &o.SignalID, &algoJSON, &createdAt,
		&updatedAt, &submittedAt, &filledAt, &canceledAt, &expiredAt, &rejAt)
	if err != nil {
		return nil, err
	}
	o.Side = domain.OrderSide(side)
	o.Type = domain.OrderType(typ)
	o.TimeInForce = domain.TimeInForce(tif)
	o.Status = domain.OrderStatus(status)
	o.LimitPrice = scanNullFloat(limitPrice)
	o.StopPrice = scanNullFloat(stopPrice)
	o.CreatedAt = parseTime(createdAt)
	o.UpdatedAt = parseTime(updatedAt)
	o.SubmittedAt = scanNullTime(submittedAt)
	o.FilledAt = scanNullTime(filledAt)
	o.CanceledAt = scanNullTime(canceledAt)
	o.ExpiredAt = scanNullTime(expiredAt)
	o.RejectedAt = scanNullTime(rejAt)
	if algoJSON.Valid && algoJSON.String != "" {
		var tag domain.AlgoTag
		if err := json.Unmarshal([]byte(algoJSON.String), &tag); err != nil {
			return nil, fmt.Errorf("decoding algo tag: %w", err)
		}
		o.Algo = &tag
	}
	return &o, nil
}

// ---------------------------------------------------------------------------
// ReportStore implementation
// ---------------------------------------------------------------------------

// SaveReport appends one fill record. Saving a report whose ID already
// exists is a no-op, so replays are harmless.
func (s *SQLiteStore) SaveReport(ctx context.Context, report *domain.ExecutionReport) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO execution_reports (
			id, order_id, symbol, side, fill_qty, fill_price, fee,
			fee_currency, executed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		report.ID, report.OrderID, report.Symbol, string(report.Side),
		report.FillQty, report.FillPrice, report.Fee, report.FeeCurrency,
		timeStr(report.ExecutedAt),
	)
	if err != nil {
		return fmt.Errorf("saving report %s: %w", report.ID, err)
	}
	return nil
}

// ListReports returns every fill for an order, oldest first.
func (s *SQLiteStore) ListReports(ctx context.Context, orderID string) ([]domain.ExecutionReport, error) {
	return s.queryReports(ctx,
		`SELECT id, order_id, symbol, side, fill_qty, fill_price, fee,
			fee_currency, executed_at
		FROM execution_reports WHERE order_id = ? ORDER BY executed_at, id`,
		orderID)
}

// ReportsBetween returns every fill executed within [start, end), oldest
// first.
func (s *SQLiteStore) ReportsBetween(ctx context.Context, start, end time.Time) ([]domain.ExecutionReport, error) {
	return s.queryReports(ctx,
		`SELECT id, order_id, symbol, side, fill_qty, fill_price, fee,
			fee_currency, executed_at
		FROM execution_reports
		WHERE executed_at >= ? AND executed_at < ?
		ORDER BY executed_at, id`,
		timeStr(start), timeStr(end))
}

func (s *SQLiteStore) queryReports(ctx context.Context, query string, args ...any) ([]domain.ExecutionReport, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing reports: %w", err)
	}
	defer rows.Close()

	var reports []domain.ExecutionReport
	for rows.Next() {
		var (
			r          domain.ExecutionReport
			side       string
			executedAt string
		)
		if err := rows.Scan(&r.ID, &r.OrderID, &r.Symbol, &side, &r.FillQty,
			&r.FillPrice, &r.Fee, &r.FeeCurrency, &executedAt); err != nil {
			return nil, fmt.Errorf("scanning report: %w", err)
		}
		r.Side = domain.OrderSide(side)
		r.ExecutedAt = parseTime(executedAt)
		reports = append(reports, r)
	}
	return reports, rows.Err()
}

// ---------------------------------------------------------------------------
// AlgoStore implementation
// ---------------------------------------------------------------------------

// SaveAlgo upserts the parent order keyed by ID.
func (s *SQLiteStore) SaveAlgo(ctx context.Context, algo *domain.AlgorithmicOrder) error {
	orderIDs, err := json.Marshal(algo.OrderIDs)
	if err != nil {
		return fmt.Errorf("encoding order ids: %w", err)
	}
	params, err := json.Marshal(algo.Params)
	if err != nil {
		return fmt.Errorf("encoding params: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO algo_orders (
			id, type, symbol, side, qty, status, order_ids, params,
			start_time, end_time, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status     = excluded.status,
			order_ids  = excluded.order_ids,
			updated_at = excluded.updated_at`,
		algo.ID, string(algo.Type), algo.Symbol, string(algo.Side), algo.Qty,
		string(algo.Status), string(orderIDs), string(params),
		timeStr(algo.StartTime), timeStr(algo.EndTime),
		timeStr(algo.CreatedAt), timeStr(algo.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("saving algo %s: %w", algo.ID, err)
	}
	return nil
}

// GetAlgo retrieves a parent order by its ID.
func (s *SQLiteStore) GetAlgo(ctx context.Context, id string) (*domain.AlgorithmicOrder, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, type, symbol, side, qty, status, order_ids, params,
			start_time, end_time, created_at, updated_at
		FROM algo_orders WHERE id = ?`, id)
	algo, err := scanAlgo(row)
	if err == sql.ErrNoRows {
		return nil, &domain.NotFoundError{Kind: "algo", ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("reading algo %s: %w", id, err)
	}
	return algo, nil
}

// ListAlgos returns parent orders with the given status, oldest first. An
// empty status matches everything.
func (s *SQLiteStore) ListAlgos(ctx context.Context, status domain.AlgoStatus) ([]domain.AlgorithmicOrder, error) {
	query := `SELECT id, type, symbol, side, qty, status, order_ids, params,
		start_time, end_time, created_at, updated_at FROM algo_orders`
	var args []any
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, string(status))
	}
	query += ` ORDER BY created_at, id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing algos: %w", err)
	}
	defer rows.Close()

	var algos []domain.AlgorithmicOrder
	for rows.Next() {
		algo, err := scanAlgo(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning algo: %w", err)
		}
		algos = append(algos, *algo)
	}
	return algos, rows.Err()
}

func scanAlgo(row rowScanner) (*domain.AlgorithmicOrder, error) {
	var (
		a                                        domain.AlgorithmicOrder
		typ, side, status, orderIDs, params      string
		startTime, endTime, createdAt, updatedAt string
	)
	err := row.Scan(&a.ID, &typ, &a.Symbol, &side, &a.Qty, &status,
		&orderIDs, &params, &startTime, &endTime, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	a.Type = domain.AlgoType(typ)
	a.Side = domain.OrderSide(side)
	a.Status = domain.AlgoStatus(status)
	if err := json.Unmarshal([]byte(orderIDs), &a.OrderIDs); err != nil {
		return nil, fmt.Errorf("decoding order ids: %w", err)
	}
	if err := json.Unmarshal([]byte(params), &a.Params); err != nil {
		return nil, fmt.Errorf("decoding params: %w", err)
	}
	a.StartTime = parseTime(startTime)
	a.EndTime = parseTime(endTime)
	a.CreatedAt = parseTime(createdAt)
	a.UpdatedAt = parseTime(updatedAt)
	return &a, nil
}

// ---------------------------------------------------------------------------
// Column helpers
// ---------------------------------------------------------------------------

// sqliteTimeLayout is RFC 3339 with a fixed-width fraction. Stored in UTC,
// lexical order matches time order, which the range queries rely on.
const sqliteTimeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func timeStr(t time.Time) string {
	return t.UTC().Format(sqliteTimeLayout)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

func nullTime(p *time.Time) any {
	if p == nil {
		return nil
	}
	return timeStr(*p)
}

func scanNullTime(ns sql.NullString) *time.Time {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	t := parseTime(ns.String)
	return &t
}

func nullFloat(p *float64) any {
	if p == nil {
		return nil
	}
	return *p
}

func scanNullFloat(nf sql.NullFloat64) *float64 {
	if !nf.Valid {
		return nil
	}
	v := nf.Float64
	return &v
}
