package workers

import (
	"context"
	stderrors "errors"
	"log/slog"
	"time"

	"github.com/dgraph-io/badger/v4"
)

const gcDiscardRatio = 0.5

// ValueLogGCWorker periodically reclaims badger value log space.
type ValueLogGCWorker struct {
	log      *slog.Logger
	db       *badger.DB
	interval time.Duration
}

func NewValueLogGCWorker(log *slog.Logger, db *badger.DB, interval time.Duration) *ValueLogGCWorker {
	return &ValueLogGCWorker{log: log, db: db, interval: interval}
}

func (w *ValueLogGCWorker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			w.log.Debug("Context done, stopping value log GC")
			return nil
		case <-ticker.C:
			w.collect()
		}
	}
}

// collect loops while badger keeps finding rewritable files.
func (w *ValueLogGCWorker) collect() {
	rewritten := 0
	for {
		err := w.db.RunValueLogGC(gcDiscardRatio)
		if err == nil {
			rewritten++
			continue
		}
		if !stderrors.Is(err, badger.ErrNoRewrite) && !stderrors.Is(err, badger.ErrRejected) {
			w.log.Warn("Value log GC failed", "error", err)
		}
		break
	}
	if rewritten > 0 {
		w.log.Debug("Value log GC done", "rewritten", rewritten)
	}
}
