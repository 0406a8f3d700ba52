package jobqueue

import (
	"context"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/GearMarket/app/repository"
	"github.com/ManuelReschke/GearMarket/internal/pkg/archive"
	"github.com/ManuelReschke/GearMarket/internal/pkg/metrics"
)

// LedgerPruner deletes processed-event rows past the retention window,
// optionally archiving each batch first.
type LedgerPruner struct {
	store     repository.Store
	archiver  archive.Archiver
	retention time.Duration
	batch     int
	metrics   *metrics.Payments
	now       func() time.Time
}

// NewLedgerPruner creates a pruner. archiver may be nil.
func NewLedgerPruner(store repository.Store, archiver archive.Archiver, retention time.Duration, batch int, m *metrics.Payments) *LedgerPruner {
	if batch <= 0 {
		batch = 1000
	}
	return &LedgerPruner{store: store, archiver: archiver, retention: retention, batch: batch, metrics: m, now: time.Now}
}

// PruneOnce removes expired rows batch by batch and returns the number deleted.
// A failed archive upload stops the sweep without deleting that batch.
func (p *LedgerPruner) PruneOnce(ctx context.Context) (int64, error) {
	cutoff := p.now().Add(-p.retention)
	var total int64
	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		rows, err := p.store.Events().ListOlderThan(ctx, cutoff, p.batch)
		if err != nil {
			return total, fmt.Errorf("list expired ledger rows: %w", err)
		}
		if len(rows) == 0 {
			break
		}
		if p.archiver != nil {
			if _, err := p.archiver.ArchiveEvents(ctx, rows); err != nil {
				return total, fmt.Errorf("archive ledger rows: %w", err)
			}
		}
		ids := make([]uint, len(rows))
		for i := range rows {
			ids[i] = rows[i].ID
		}
		n, err := p.store.Events().DeleteByIDs(ctx, ids)
		if err != nil {
			return total, fmt.Errorf("delete ledger rows: %w", err)
		}
		total += n
		p.metrics.LedgerPruned(n)
		if n == 0 || len(rows) < p.batch {
			break
		}
	}
	if total > 0 {
		log.Infof("[Ledger] Pruned %d processed events older than %s", total, cutoff.Format(time.RFC3339))
	}
	return total, nil
}
