package watchtower

import (
	"context"
	"time"

	logger "github.com/sirupsen/logrus"
)

// Loop polls the relay for its latest bitcoin header and syncs whenever
// the tip hash changes. Found bundles go to the publisher. Errors are
// logged and the sync is retried on the next tick.
func (w *Watchtower) Loop(ctx context.Context) error {
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case <-ticker.C:
			w.poll(ctx)
		}
	}
}

func (w *Watchtower) poll(ctx context.Context) {
	blockLog, err := w.relay.RetrieveLatestKnownBlockLog(ctx)
	if err != nil {
		w.log.WithError(err).Warn("failed to read relay tip")
		return
	}

	w.mu.Lock()
	known := w.tipHash
	w.mu.Unlock()
	if blockLog.Hash == known {
		return
	}

	w.log.WithFields(logger.Fields{
		"height":  blockLog.Height,
		"hash":    blockLog.Hash,
		"oldHash": known,
	}).Info("relay tip moved")

	bundles, err := w.SyncToTipHash(ctx, blockLog.Hash, nil)
	if err != nil {
		w.log.WithError(err).Error("sync failed")
		return
	}
	w.publish(bundles)
}
