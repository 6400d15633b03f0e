package worker

import (
	"context"
	"time"

	"locker-service/internal/broker"
	"locker-service/internal/models"
	"locker-service/internal/util"

	"go.uber.org/zap"
)

// Reconciler re-applies paid notifications that failed to commit
type Reconciler interface {
	RetryReconcile(ctx context.Context, event *models.ReconcileFailedEvent) error
}

// RecoveryWorker consumes RECONCILE_FAILED events and retries them after a delay
type RecoveryWorker struct {
	consumer     *broker.Consumer
	eventHandler *broker.EventHandler
	reconciler   Reconciler
	delay        time.Duration
	logger       *zap.Logger
}

// NewRecoveryWorker creates a new recovery worker
func NewRecoveryWorker(consumer *broker.Consumer, reconciler Reconciler, delay time.Duration) *RecoveryWorker {
	w := &RecoveryWorker{
		consumer:     consumer,
		eventHandler: broker.NewEventHandler(),
		reconciler:   reconciler,
		delay:        delay,
		logger:       util.GetLogger(),
	}
	w.eventHandler.OnReconcileFailed(w.handleReconcileFailed)
	return w
}

// Start starts the worker
func (w *RecoveryWorker) Start(ctx context.Context) error {
	w.logger.Info("Starting recovery worker", zap.Duration("delay", w.delay))
	return w.consumer.StartConsuming(ctx, w.eventHandler.HandleMessage)
}

// Stop stops the worker
func (w *RecoveryWorker) Stop() error {
	w.logger.Info("Stopping recovery worker")
	return w.consumer.Close()
}

// handleReconcileFailed waits until the event is delay old, then retries it.
// A failed retry has already been re-queued by the reconciler, so the message
// is acknowledged either way; only shutdown leaves it uncommitted.
func (w *RecoveryWorker) handleReconcileFailed(ctx context.Context, event *models.ReconcileFailedEvent) error {
	if wait := time.Until(event.Timestamp.Add(w.delay)); wait > 0 {
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	w.logger.Info("Retrying failed reconciliation",
		zap.String("order_id", event.OrderID),
		zap.String("step", event.Step),
		zap.Int("attempt", event.Attempt))

	if err := w.reconciler.RetryReconcile(ctx, event); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		w.logger.Warn("Recovery attempt failed",
			zap.String("order_id", event.OrderID),
			zap.Int("attempt", event.Attempt),
			zap.Error(err))
	}
	return nil
}
