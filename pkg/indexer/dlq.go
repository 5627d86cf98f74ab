package indexer

import (
	"time"

	"github.com/baecheolhan/sari/pkg/dbwriter"
	"github.com/baecheolhan/sari/pkg/metrics"
	"github.com/baecheolhan/sari/pkg/types"
)

// dlqRungs is the deterministic retry ladder applied to a dead-lettered
// path's next_retry_ts, keyed by attempt count (1-indexed). Unlike the
// inline retry backoff this carries no jitter: a predictable schedule
// makes the DLQ's depth and drain rate easy to reason about operationally.
var dlqRungs = []time.Duration{60 * time.Second, 5 * time.Minute, time.Hour}

// dlqLadder returns the delay before attempt's next retry, clamping to
// the ladder's final (longest) rung once attempts exceed its length.
func dlqLadder(attempt int) time.Duration {
	if attempt <= 0 {
		attempt = 1
	}
	if attempt > len(dlqRungs) {
		return dlqRungs[len(dlqRungs)-1]
	}
	return dlqRungs[attempt-1]
}

// dlqLoop polls the dead-letter queue every cfg.DLQPollSeconds,
// resubmitting due paths as INDEX tasks through the coalesce map so
// they flow through the same classify/parse/persist path as any other
// change, and keeps the sari_dlq_depth gauge current.
func (w *Worker) dlqLoop() {
	defer w.wg.Done()

	interval := w.cfg.DLQPollSeconds
	if interval <= 0 {
		interval = 60 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-w.stopCh:
			return
		case <-ticker.C:
			w.pollDLQ()
		}
	}
}

func (w *Worker) pollDLQ() {
	if n, err := w.store.FailedTaskCount(); err == nil {
		metrics.DLQDepth.Set(float64(n))
	}

	due, err := w.store.DueFailedTasks(time.Now().Unix())
	if err != nil {
		w.logger.Error().Err(err).Msg("dlq: listing due tasks failed")
		return
	}
	if len(due) == 0 {
		return
	}

	cleared := make([]string, 0, len(due))
	for _, t := range due {
		w.coal.SubmitDBPath(t.DBPath, types.ActionIndex)
		cleared = append(cleared, t.DBPath)
	}
	w.writer.Enqueue(dbwriter.Task{Kind: dbwriter.KindDLQClear, DLQClearPaths: cleared})
}
