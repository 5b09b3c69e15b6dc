package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"callisto/internal/domain"
)

func newTestSQLite(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() {
		if err := s.Close(); err != nil {
			t.Errorf("Close() returned error: %v", err)
		}
	})
	return s
}

func testOrder(id string) *domain.Order {
	limit := 185.5
	now := time.Date(2026, 3, 2, 14, 30, 0, 0, time.UTC)
	return &domain.Order{
		ID:            id,
		ClientOrderID: "client-" + id,
		VenueOrderID:  "venue-" + id,
		Symbol:        "AAPL",
		Side:          domain.OrderSideBuy,
		Type:          domain.OrderTypeLimit,
		Qty:           10,
		LimitPrice:    &limit,
		TimeInForce:   domain.TimeInForceDay,
		Status:        domain.OrderStatusOpen,
		StrategyID:    "sma-cross",
		Algo: &domain.AlgoTag{
			AlgoID:      "algo-1",
			Type:        domain.AlgoTypeTWAP,
			Slice:       2,
			TotalSlices: 10,
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestSQLiteOrderRoundTrip(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	order := testOrder("ord-1")
	if err := s.SaveOrder(ctx, order); err != nil {
		t.Fatalf("SaveOrder: %v", err)
	}

	got, err := s.GetOrder(ctx, "ord-1")
	if err != nil {
		t.Fatalf("GetOrder: %v", err)
	}
	if got.Symbol != "AAPL" || got.Side != domain.OrderSideBuy || got.Qty != 10 {
		t.Errorf("order = %+v, want AAPL buy 10", got)
	}
	if got.VenueOrderID != "venue-ord-1" {
		t.Errorf("VenueOrderID = %q, want venue-ord-1", got.VenueOrderID)
	}
	if got.LimitPrice == nil || *got.LimitPrice != 185.5 {
		t.Errorf("LimitPrice = %v, want 185.5", got.LimitPrice)
	}
	if got.StopPrice != nil {
		t.Errorf("StopPrice = %v, want nil", got.StopPrice)
	}
	if got.Algo == nil || got.Algo.AlgoID != "algo-1" || got.Algo.TotalSlices != 10 {
		t.Errorf("Algo = %+v, want algo-1 with 10 slices", got.Algo)
	}
	if !got.CreatedAt.Equal(order.CreatedAt) {
		t.Errorf("CreatedAt = %v, want %v", got.CreatedAt, order.CreatedAt)
	}
	if got.FilledAt != nil {
		t.Errorf("FilledAt = %v, want nil", got.FilledAt)
	}

	// Saving the same ID again replaces the stored state.
	filledAt := order.CreatedAt.Add(5 * time.Second)
	order.Status = domain.OrderStatusFilled
	order.FilledQty = 10
	order.FilledAvgPrice = 185.25
	order.FilledAt = &filledAt
	if err := s.SaveOrder(ctx, order); err != nil {
		t.Fatalf("SaveOrder (update): %v", err)
	}
	got, err = s.GetOrder(ctx, "ord-1")
	if err != nil {
		t.Fatalf("GetOrder after update: %v", err)
	}
	if got.Status != domain.OrderStatusFilled || got.FilledQty != 10 {
		t.Errorf("order after update = %q/%v, want filled/10", got.Status, got.FilledQty)
	}
	if got.FilledAt == nil || !got.FilledAt.Equal(filledAt) {
		t.Errorf("FilledAt = %v, want %v", got.FilledAt, filledAt)
	}
}

func TestSQLiteGetOrderNotFound(t *testing.T) {
	s := newTestSQLite(t)
	if _, err := s.GetOrder(context.Background(), "missing"); !domain.IsNotFound(err) {
		t.Errorf("GetOrder(missing) error = %v, want NotFoundError", err)
	}
}

func TestSQLiteListOrdersFilter(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	open := testOrder("ord-open")
	filled := testOrder("ord-filled")
	filled.Status = domain.OrderStatusFilled
	filled.CreatedAt = filled.CreatedAt.Add(time.Second)
	filled.UpdatedAt = filled.CreatedAt
	other := testOrder("ord-msft")
	other.Symbol = "MSFT"
	other.StrategyID = "momentum"
	other.CreatedAt = other.CreatedAt.Add(2 * time.Second)
	other.UpdatedAt = other.CreatedAt

	for _, o := range []*domain.Order{open, filled, other} {
		if err := s.SaveOrder(ctx, o); err != nil {
			t.Fatalf("SaveOrder(%s): %v", o.ID, err)
		}
	}

	all, err := s.ListOrders(ctx, domain.OrderFilter{})
	if err != nil {
		t.Fatalf("ListOrders: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("ListOrders(all) = %d orders, want 3", len(all))
	}
	if all[0].ID != "ord-open" || all[2].ID != "ord-msft" {
		t.Errorf("order of results = [%s %s %s], want oldest first", all[0].ID, all[1].ID, all[2].ID)
	}

	active, err := s.ListOrders(ctx, domain.OrderFilter{ActiveOnly: true})
	if err != nil {
		t.Fatalf("ListOrders(active): %v", err)
	}
	if len(active) != 2 {
		t.Errorf("ListOrders(active) = %d orders, want 2", len(active))
	}

	aapl, err := s.ListOrders(ctx, domain.OrderFilter{Symbol: "AAPL", Status: domain.OrderStatusFilled})
	if err != nil {
		t.Fatalf("ListOrders(AAPL filled): %v", err)
	}
	if len(aapl) != 1 || aapl[0].ID != "ord-filled" {
		t.Errorf("ListOrders(AAPL filled) = %+v, want [ord-filled]", aapl)
	}

	momentum, err := s.ListOrders(ctx, domain.OrderFilter{StrategyID: "momentum"})
	if err != nil {
		t.Fatalf("ListOrders(momentum): %v", err)
	}
	if len(momentum) != 1 || momentum[0].Symbol != "MSFT" {
		t.Errorf("ListOrders(momentum) = %+v, want the MSFT order", momentum)
	}
}

func TestSQLiteReports(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	base := time.Date(2026, 3, 2, 14, 30, 0, 0, time.UTC)
	reports := []domain.ExecutionReport{
		{ID: "r1", OrderID: "ord-1", Symbol: "AAPL", Side: domain.OrderSideBuy, FillQty: 5, FillPrice: 185.2, ExecutedAt: base},
		{ID: "r2", OrderID: "ord-1", Symbol: "AAPL", Side: domain.OrderSideBuy, FillQty: 5, FillPrice: 185.3, ExecutedAt: base.Add(time.Minute)},
		{ID: "r3", OrderID: "ord-2", Symbol: "MSFT", Side: domain.OrderSideSell, FillQty: 3, FillPrice: 410.0, ExecutedAt: base.Add(2 * time.Minute)},
	}
	for i := range reports {
		if err := s.SaveReport(ctx, &reports[i]); err != nil {
			t.Fatalf("SaveReport(%s): %v", reports[i].ID, err)
		}
	}
	// Replaying a report is a no-op.
	if err := s.SaveReport(ctx, &reports[0]); err != nil {
		t.Fatalf("SaveReport (replay): %v", err)
	}

	fills, err := s.ListReports(ctx, "ord-1")
	if err != nil {
		t.Fatalf("ListReports: %v", err)
	}
	if len(fills) != 2 {
		t.Fatalf("ListReports(ord-1) = %d fills, want 2", len(fills))
	}
	if fills[0].ID != "r1" || fills[1].ID != "r2" {
		t.Errorf("fills = [%s %s], want oldest first [r1 r2]", fills[0].ID, fills[1].ID)
	}
	if !fills[0].ExecutedAt.Equal(base) {
		t.Errorf("ExecutedAt = %v, want %v", fills[0].ExecutedAt, base)
	}

	// Half-open range: [base+1m, base+2m) contains only r2.
	window, err := s.ReportsBetween(ctx, base.Add(time.Minute), base.Add(2*time.Minute))
	if err != nil {
		t.Fatalf("ReportsBetween: %v", err)
	}
	if len(window) != 1 || window[0].ID != "r2" {
		t.Errorf("ReportsBetween = %+v, want [r2]", window)
	}
}

func TestSQLiteAlgoRoundTrip(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	now := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	algo := &domain.AlgorithmicOrder{
		ID:       "algo-1",
		Type:     domain.AlgoTypeTWAP,
		Symbol:   "AAPL",
		Side:     domain.OrderSideBuy,
		Qty:      100,
		Status:   domain.AlgoStatusActive,
		OrderIDs: []string{"c1", "c2"},
		Params: domain.AlgoParams{
			Type:   domain.AlgoTypeTWAP,
			Symbol: "AAPL",
			Side:   domain.OrderSideBuy,
			Qty:    100,
			Slices: 10,
		},
		StartTime: now,
		EndTime:   now.Add(time.Hour),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.SaveAlgo(ctx, algo); err != nil {
		t.Fatalf("SaveAlgo: %v", err)
	}

	got, err := s.GetAlgo(ctx, "algo-1")
	if err != nil {
		t.Fatalf("GetAlgo: %v", err)
	}
	if got.Type != domain.AlgoTypeTWAP || got.Qty != 100 {
		t.Errorf("algo = %+v, want twap qty 100", got)
	}
	if len(got.OrderIDs) != 2 || got.OrderIDs[0] != "c1" {
		t.Errorf("OrderIDs = %v, want [c1 c2]", got.OrderIDs)
	}
	if got.Params.Slices != 10 {
		t.Errorf("Params.Slices = %d, want 10", got.Params.Slices)
	}

	// Status update via upsert.
	algo.Status = domain.AlgoStatusCompleted
	algo.OrderIDs = append(algo.OrderIDs, "c3")
	if err := s.SaveAlgo(ctx, algo); err != nil {
		t.Fatalf("SaveAlgo (update): %v", err)
	}

	active, err := s.ListAlgos(ctx, domain.AlgoStatusActive)
	if err != nil {
		t.Fatalf("ListAlgos(active): %v", err)
	}
	if len(active) != 0 {
		t.Errorf("ListAlgos(active) = %d, want 0 after completion", len(active))
	}
	all, err := s.ListAlgos(ctx, "")
	if err != nil {
		t.Fatalf("ListAlgos(all): %v", err)
	}
	if len(all) != 1 || len(all[0].OrderIDs) != 3 {
		t.Errorf("ListAlgos(all) = %+v, want one algo with 3 children", all)
	}

	if _, err := s.GetAlgo(ctx, "missing"); !domain.IsNotFound(err) {
		t.Errorf("GetAlgo(missing) error = %v, want NotFoundError", err)
	}
}

func TestParquetReportPath(t *testing.T) {
	ps := NewParquetStore("/data")
	ts := time.Date(2026, 6, 15, 0, 0, 0, 0, time.UTC)

	got := ps.reportPath("aapl", ts)
	want := filepath.Join("/data", "reports", "AAPL", "2026-06-15.parquet")
	if got != want {
		t.Errorf("reportPath mismatch:\n  got  %s\n  want %s", got, want)
	}
}

func TestParquetArchiveRoundTrip(t *testing.T) {
	ps := NewParquetStore(t.TempDir())

	base := time.Date(2026, 3, 2, 14, 30, 0, 0, time.UTC)
	reports := []domain.ExecutionReport{
		{ID: "r1", OrderID: "ord-1", Symbol: "AAPL", Side: domain.OrderSideBuy, FillQty: 5, FillPrice: 185.2, ExecutedAt: base},
		{ID: "r2", OrderID: "ord-1", Symbol: "AAPL", Side: domain.OrderSideBuy, FillQty: 5, FillPrice: 185.3, ExecutedAt: base.Add(time.Minute)},
		{ID: "r3", OrderID: "ord-2", Symbol: "MSFT", Side: domain.OrderSideSell, FillQty: 3, FillPrice: 410.0, ExecutedAt: base.Add(2 * time.Minute)},
	}
	if err := ps.ArchiveReports(reports); err != nil {
		t.Fatalf("ArchiveReports: %v", err)
	}

	got, err := ps.ReadReports("AAPL", base.Add(-time.Hour), base.Add(time.Hour))
	if err != nil {
		t.Fatalf("ReadReports: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("ReadReports = %d reports, want 2", len(got))
	}
	if got[0].ID != "r1" || got[0].FillPrice != 185.2 {
		t.Errorf("first report = %+v, want r1 @ 185.2", got[0])
	}

	symbols, err := ps.ListSymbols()
	if err != nil {
		t.Fatalf("ListSymbols: %v", err)
	}
	if len(symbols) != 2 || symbols[0] != "AAPL" || symbols[1] != "MSFT" {
		t.Errorf("ListSymbols = %v, want [AAPL MSFT]", symbols)
	}
}

func TestParquetArchiveMerge(t *testing.T) {
	ps := NewParquetStore(t.TempDir())

	base := time.Date(2026, 3, 2, 14, 30, 0, 0, time.UTC)
	first := []domain.ExecutionReport{
		{ID: "r1", OrderID: "ord-1", Symbol: "AAPL", Side: domain.OrderSideBuy, FillQty: 5, FillPrice: 185.2, ExecutedAt: base},
	}
	if err := ps.ArchiveReports(first); err != nil {
		t.Fatalf("ArchiveReports (first): %v", err)
	}

	// Overlapping batch: r1 again plus a new fill. Merge keeps one r1.
	second := []domain.ExecutionReport{
		{ID: "r1", OrderID: "ord-1", Symbol: "AAPL", Side: domain.OrderSideBuy, FillQty: 5, FillPrice: 185.2, ExecutedAt: base},
		{ID: "r2", OrderID: "ord-1", Symbol: "AAPL", Side: domain.OrderSideBuy, FillQty: 5, FillPrice: 185.4, ExecutedAt: base.Add(time.Minute)},
	}
	if err := ps.ArchiveReports(second); err != nil {
		t.Fatalf("ArchiveReports (second): %v", err)
	}

	got, err := ps.ReadReports("AAPL", base.Add(-time.Hour), base.Add(time.Hour))
	if err != nil {
		t.Fatalf("ReadReports: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("ReadReports after merge = %d reports, want 2", len(got))
	}
}

func TestArchiverFlush(t *testing.T) {
	db := newTestSQLite(t)
	files := NewParquetStore(t.TempDir())
	ctx := context.Background()

	base := time.Now().UTC().Add(-time.Minute)
	report := domain.ExecutionReport{
		ID: "r1", OrderID: "ord-1", Symbol: "AAPL",
		Side: domain.OrderSideBuy, FillQty: 5, FillPrice: 185.2, ExecutedAt: base,
	}
	if err := db.SaveReport(ctx, &report); err != nil {
		t.Fatalf("SaveReport: %v", err)
	}

	a := NewArchiver(db, files, time.Hour)
	a.flush(ctx)

	got, err := files.ReadReports("AAPL", base.Add(-time.Hour), base.Add(time.Hour))
	if err != nil {
		t.Fatalf("ReadReports: %v", err)
	}
	if len(got) != 1 || got[0].ID != "r1" {
		t.Errorf("archived reports = %+v, want [r1]", got)
	}

	// Flushing again finds nothing new and stays idempotent.
	a.flush(ctx)
	got, _ = files.ReadReports("AAPL", base.Add(-time.Hour), base.Add(time.Hour))
	if len(got) != 1 {
		t.Errorf("reports after second flush = %d, want 1", len(got))
	}
}
