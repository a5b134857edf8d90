package notify

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Dispatcher sends notifications asynchronously. Delivery failures are
// logged and never reported to the caller.
type Dispatcher struct {
	pool     *Pool
	notifier Notifier
	timeout  time.Duration
	log      *zap.Logger
}

func NewDispatcher(notifier Notifier, workers, queueSize int, log *zap.Logger) *Dispatcher {
	return &Dispatcher{
		pool:     NewPool(workers, queueSize),
		notifier: notifier,
		timeout:  10 * time.Second,
		log:      log.With(zap.String("component", "notify_dispatcher")),
	}
}

func (d *Dispatcher) Dispatch(n Notification) {
	err := d.pool.TrySubmit(func() {
		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		defer cancel()
		if err := d.notifier.Send(ctx, n); err != nil {
			d.log.Error("notification delivery failed",
				zap.String("notification_id", n.ID),
				zap.String("template", string(n.Template)),
				zap.Uint("recipient_id", n.RecipientID),
				zap.Error(err))
		}
	})
	if err != nil {
		d.log.Warn("notification dropped",
			zap.String("notification_id", n.ID),
			zap.String("template", string(n.Template)),
			zap.Error(err))
	}
}

// Close waits for queued notifications to be delivered.
func (d *Dispatcher) Close() {
	d.pool.Shutdown()
}
