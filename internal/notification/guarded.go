package notification

import (
	"context"
	"log/slog"

	id "qcgate/pkg/domain"
	"qcgate/pkg/platform/circuit"
)

// Guarded publishes through primary and, once the breaker has opened after
// repeated primary failures, hands failed deliveries to fallback instead.
type Guarded struct {
	primary  Publisher
	fallback Publisher
	breaker  *circuit.Breaker
	logger   *slog.Logger
}

func NewGuarded(primary, fallback Publisher, breaker *circuit.Breaker, logger *slog.Logger) *Guarded {
	if primary == nil || fallback == nil || breaker == nil {
		panic("notification.NewGuarded: primary, fallback and breaker are required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Guarded{primary: primary, fallback: fallback, breaker: breaker, logger: logger}
}

func (g *Guarded) Publish(ctx context.Context, userID id.UserID, ev Event) error {
	err := g.primary.Publish(ctx, userID, ev)
	if err == nil {
		if _, t := g.breaker.Success(); t.Closed {
			g.logger.InfoContext(ctx, "notification sink recovered", "sink", g.breaker.Name())
		}
		return nil
	}

	useFallback, t := g.breaker.Failure()
	if t.Opened {
		g.logger.WarnContext(ctx, "notification sink circuit opened",
			"sink", g.breaker.Name(),
			"error", err,
		)
	}
	if !useFallback {
		return err
	}
	return g.fallback.Publish(ctx, userID, ev)
}
