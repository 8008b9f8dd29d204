package activitypub

import (
	"context"
	"errors"
	"time"

	"github.com/charmbracelet/log"
	"github.com/deemkeen/pubengine/metrics"
	"github.com/deemkeen/pubengine/storage"
)

var retryBackoff = []time.Duration{
	time.Minute,
	5 * time.Minute,
	15 * time.Minute,
	time.Hour,
	4 * time.Hour,
	24 * time.Hour,
}

const (
	maxDeliveryAttempts = 10
	deliveryBatch       = 50
)

// DeliveryWorker retries deliveries the Broadcaster queued.
type DeliveryWorker struct {
	store    storage.Storage
	sender   Deliverer
	interval time.Duration
	log      *log.Logger
	metrics  *metrics.Metrics
	now      func() time.Time
}

func NewDeliveryWorker(store storage.Storage, sender Deliverer, interval time.Duration, logger *log.Logger, m *metrics.Metrics) *DeliveryWorker {
	return &DeliveryWorker{store: store, sender: sender, interval: interval, log: logger, metrics: m, now: time.Now}
}

// Run processes the queue every interval until ctx is done.
func (w *DeliveryWorker) Run(ctx context.Context) {
	w.log.Info("Starting delivery worker", "interval", w.interval)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.ProcessQueue(ctx); err != nil {
				w.log.Error("Failed to read queue", "err", err)
			}
		}
	}
}

func backoff(attempts int) time.Duration {
	return retryBackoff[min(max(attempts-1, 0), len(retryBackoff)-1)]
}

func (w *DeliveryWorker) ProcessQueue(ctx context.Context) error {
	now := w.now()
	jobs, err := w.store.GetPendingDeliveries(ctx, now, deliveryBatch)
	if err != nil {
		return err
	}
	w.metrics.SetQueueDepth(len(jobs))
	if len(jobs) == 0 {
		return nil
	}
	w.log.Info("Processing pending deliveries", "count", len(jobs))

	for _, job := range jobs {
		actor, err := w.store.GetActorFromID(ctx, job.ActorId)
		if errors.Is(err, storage.ErrNotFound) {
			w.log.Warn("Dropping delivery of unknown actor", "actor", job.ActorId)
			_ = w.store.DeleteDelivery(ctx, job.Id)
			continue
		}
		if err != nil {
			return err
		}

		if err := w.sender.SendRaw(ctx, actor, job.Inbox, []byte(job.ActivityJSON)); err != nil {
			attempts := job.Attempts + 1
			if attempts >= maxDeliveryAttempts {
				w.log.Warn("Giving up on delivery", "inbox", job.Inbox, "attempts", attempts)
				_ = w.store.DeleteDelivery(ctx, job.Id)
				continue
			}
			wait := backoff(attempts)
			w.log.Info("Delivery failed, retrying later", "inbox", job.Inbox, "attempt", attempts, "in", wait, "err", err)
			if err := w.store.UpdateDeliveryAttempt(ctx, job.Id, attempts, now.Add(wait)); err != nil {
				w.log.Error("Failed to reschedule delivery", "id", job.Id, "err", err)
			}
			continue
		}

		w.log.Debug("Delivered queued activity", "inbox", job.Inbox)
		if err := w.store.DeleteDelivery(ctx, job.Id); err != nil {
			w.log.Error("Failed to remove delivered job", "id", job.Id, "err", err)
		}
	}
	return nil
}
