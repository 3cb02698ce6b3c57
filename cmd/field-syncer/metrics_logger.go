package main

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/proeugene/field-syncer/internal/metrics"
)

func startMetricsLogger(ctx context.Context, interval time.Duration, l *slog.Logger, wg *sync.WaitGroup) {
	if interval <= 0 {
		return
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-t.C:
				snap := metrics.Snap()
				l.Info("metrics_snapshot",
					"msp_rx", snap.MSPRx,
					"msp_tx", snap.MSPTx,
					"malformed", snap.Malformed,
					"flash_bytes", snap.FlashBytes,
					"compressed_chunks", snap.Compressed,
					"retries", snap.Retries,
					"erase_polls", snap.ErasePolls,
					"errors", snap.Errors,
				)
			case <-ctx.Done():
				return
			}
		}
	}()
}
