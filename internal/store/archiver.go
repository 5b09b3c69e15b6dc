package store

import (
	"context"
	"log/slog"
	"time"
)

// Archiver periodically copies fills from the SQLite journal into the
// Parquet archive. The archive merge is idempotent, so the watermark
// resetting on restart only costs a re-read.
type Archiver struct {
	db       ReportStore
	files    *ParquetStore
	interval time.Duration
	last     time.Time
	log      *slog.Logger
}

// NewArchiver creates an Archiver flushing db into files every interval.
func NewArchiver(db ReportStore, files *ParquetStore, interval time.Duration) *Archiver {
	if interval <= 0 {
		interval = time.Hour
	}
	return &Archiver{
		db:       db,
		files:    files,
		interval: interval,
		log:      slog.Default().With("component", "archiver"),
	}
}

// Run flushes on every interval tick until ctx is cancelled, then takes a
// final flush so shutdown does not lose the tail.
func (a *Archiver) Run(ctx context.Context) {
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			a.flush(context.Background())
			return
		case <-ticker.C:
			a.flush(ctx)
		}
	}
}

// flush archives every report executed since the watermark.
func (a *Archiver) flush(ctx context.Context) {
	now := time.Now()
	reports, err := a.db.ReportsBetween(ctx, a.last, now)
	if err != nil {
		a.log.Error("Reading reports for archive failed.", "error", err)
		return
	}
	if len(reports) == 0 {
		a.last = now
		return
	}
	if err := a.files.ArchiveReports(reports); err != nil {
		a.log.Error("Archiving reports failed.", "error", err)
		return
	}
	a.last = now
	a.log.Info("Archived reports.", "count", len(reports))
}
