package alerts

import (
	"context"
	"time"

	"go.uber.org/zap"
)

const alertTimeout = 10 * time.Second

// Notifier delivers operator alerts without blocking the caller. Delivery
// failures are logged and dropped; an alert is advisory, never load-bearing.
type Notifier struct {
	telegram *Telegram
	log      *zap.Logger
}

func NewNotifier(telegram *Telegram, log *zap.Logger) *Notifier {
	return &Notifier{telegram: telegram, log: log}
}

func (n *Notifier) Alert(msg string) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), alertTimeout)
		defer cancel()
		if err := n.telegram.Send(ctx, msg); err != nil {
			n.log.Warn("alert delivery failed", zap.Error(err))
		}
	}()
}
