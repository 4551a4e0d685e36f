package service

import (
	"io"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/rl1809/warehouse-orders/internal/port"
)

const (
	tracerName            = "github.com/rl1809/warehouse-orders/internal/core/service"
	defaultOperationLimit = 5 * time.Second
)

type options struct {
	logger      logrus.FieldLogger
	tracer      trace.Tracer
	timeout     time.Duration
	now         func() time.Time
	idempotency port.IdempotencyStore
	events      port.EventPublisher
}

type Option func(*options)

func WithLogger(logger logrus.FieldLogger) Option {
	return func(o *options) { o.logger = logger }
}

func WithTracer(tracer trace.Tracer) Option {
	return func(o *options) { o.tracer = tracer }
}

// WithTimeout bounds each operation; a call exceeding it is rolled back.
// Zero disables the bound.
func WithTimeout(d time.Duration) Option {
	return func(o *options) { o.timeout = d }
}

func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

func WithIdempotencyStore(store port.IdempotencyStore) Option {
	return func(o *options) { o.idempotency = store }
}

func WithEventPublisher(publisher port.EventPublisher) Option {
	return func(o *options) { o.events = publisher }
}

func newOptions(opts []Option) options {
	silent := logrus.New()
	silent.SetOutput(io.Discard)

	o := options{
		logger:  silent,
		tracer:  otel.Tracer(tracerName),
		timeout: defaultOperationLimit,
		now:     func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
