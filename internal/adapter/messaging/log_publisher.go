package messaging

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/rl1809/warehouse-orders/internal/core/domain"
)

// LogPublisher only logs events. It is used when no broker is configured.
type LogPublisher struct {
	log logrus.FieldLogger
}

func NewLogPublisher(log logrus.FieldLogger) *LogPublisher {
	return &LogPublisher{log: log}
}

func (p *LogPublisher) Publish(ctx context.Context, events ...domain.Event) error {
	for _, e := range events {
		p.log.WithFields(logrus.Fields{
			"event": e.Type,
			"key":   e.Key(),
		}).Debug("event emitted")
	}
	return nil
}

func (p *LogPublisher) Close() error { return nil }
