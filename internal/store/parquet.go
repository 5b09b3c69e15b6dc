package store

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/parquet-go/parquet-go"

	"callisto/internal/domain"
)

// ParquetStore archives execution reports as Parquet files on disk, one
// file per symbol per day. SQLite stays the system of record; the archive
// is for offline analysis of fill quality.
type ParquetStore struct {
	DataDir string
}

// NewParquetStore creates a ParquetStore rooted at the given data
// directory.
func NewParquetStore(dataDir string) *ParquetStore {
	return &ParquetStore{DataDir: dataDir}
}

// ReportRecord is the Parquet schema for archived execution reports.
type ReportRecord struct {
	ID          string  `parquet:"id"`
	OrderID     string  `parquet:"order_id"`
	Symbol      string  `parquet:"symbol"`
	Side        string  `parquet:"side"`
	FillQty     float64 `parquet:"fill_qty"`
	FillPrice   float64 `parquet:"fill_price"`
	Fee         float64 `parquet:"fee"`
	FeeCurrency string  `parquet:"fee_currency"`
	ExecutedAt  int64   `parquet:"executed_at,timestamp(millisecond)"` // Unix ms
}

// ArchiveReports writes reports to Parquet files organized by symbol and
// day. Re-archiving overlapping batches merges by report ID, so the
// operation is idempotent.
func (s *ParquetStore) ArchiveReports(reports []domain.ExecutionReport) error {
	if len(reports) == 0 {
		return nil
	}

	type key struct {
		symbol string
		date   string // YYYY-MM-DD
	}
	groups := make(map[key][]ReportRecord)
	for _, r := range reports {
		k := key{symbol: r.Symbol, date: r.ExecutedAt.UTC().Format("2006-01-02")}
		groups[k] = append(groups[k], ReportRecord{
			ID:          r.ID,
			OrderID:     r.OrderID,
			Symbol:      r.Symbol,
			Side:        string(r.Side),
			FillQty:     r.FillQty,
			FillPrice:   r.FillPrice,
			Fee:         r.Fee,
			FeeCurrency: r.FeeCurrency,
			ExecutedAt:  r.ExecutedAt.UnixMilli(),
		})
	}

	for k, records := range groups {
		day, _ := time.Parse("2006-01-02", k.date)
		path := s.reportPath(k.symbol, day)

		existing, _ := readParquetFile[ReportRecord](path)
		merged := mergeReportRecords(existing, records)

		if err := writeParquetFile(path, merged); err != nil {
			return fmt.Errorf("archiving reports for %s/%s: %w", k.symbol, k.date, err)
		}
	}
	return nil
}

// ReadReports reads archived reports for the given symbol and time range.
func (s *ParquetStore) ReadReports(symbol string, start, end time.Time) ([]domain.ExecutionReport, error) {
	var reports []domain.ExecutionReport
	for d := start.UTC().Truncate(24 * time.Hour); !d.After(end); d = d.AddDate(0, 0, 1) {
		path := s.reportPath(symbol, d)
		records, err := readParquetFile[ReportRecord](path)
		if err != nil {
			// No archive for this day.
			continue
		}
		for _, r := range records {
			ts := time.UnixMilli(r.ExecutedAt).UTC()
			if (ts.Equal(start) || ts.After(start)) && (ts.Equal(end) || ts.Before(end)) {
				reports = append(reports, domain.ExecutionReport{
					ID:          r.ID,
					OrderID:     r.OrderID,
					Symbol:      r.Symbol,
					Side:        domain.OrderSide(r.Side),
					FillQty:     r.FillQty,
					FillPrice:   r.FillPrice,
					Fee:         r.Fee,
					FeeCurrency: r.FeeCurrency,
					ExecutedAt:  ts,
				})
			}
		}
	}
	return reports, nil
}

// ListSymbols lists all symbols with archived reports.
func (s *ParquetStore) ListSymbols() ([]string, error) {
	dir := filepath.Join(s.DataDir, "reports")
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var symbols []string
	for _, e := range entries {
		if e.IsDir() {
			symbols = append(symbols, e.Name())
		}
	}
	sort.Strings(symbols)
	return symbols, nil
}

// reportPath returns the filesystem path for a report Parquet file.
// Layout: <dataDir>/reports/<SYMBOL>/<YYYY-MM-DD>.parquet
func (s *ParquetStore) reportPath(symbol string, t time.Time) string {
	date := t.Format("2006-01-02")
	return filepath.Join(s.DataDir, "reports", strings.ToUpper(symbol), date+".parquet")
}

// ---------------------------------------------------------------------------
// Parquet file helpers
// ---------------------------------------------------------------------------

func writeParquetFile[T any](path string, records []T) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return parquet.WriteFile(path, records)
}

func readParquetFile[T any](path string) ([]T, error) {
	rows, err := parquet.ReadFile[T](path)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// mergeReportRecords deduplicates report records by ID, preferring new
// records over existing ones. Results are sorted by execution time.
func mergeReportRecords(existing, incoming []ReportRecord) []ReportRecord {
	seen := make(map[string]ReportRecord, len(existing)+len(incoming))
	for _, r := range existing {
		seen[r.ID] = r
	}
	for _, r := range incoming {
		seen[r.ID] = r
	}

	merged := make([]ReportRecord, 0, len(seen))
	for _, r := range seen {
		merged = append(merged, r)
	}
	sort.Slice(merged, func(i, j int) bool {
		if merged[i].ExecutedAt != merged[j].ExecutedAt {
			return merged[i].ExecutedAt < merged[j].ExecutedAt
		}
		return merged[i].ID < merged[j].ID
	})
	return merged
}
