package inbox

import (
	"context"
	"fmt"

	"github.com/matheus3301/wppinbox/internal/event"
	"github.com/matheus3301/wppinbox/internal/metrics"
	"go.uber.org/zap"
)

// Source yields raw stream frames in arrival order. Next blocks until a frame
// arrives and returns an error once the stream has ended.
type Source interface {
	Next(ctx context.Context) ([]byte, error)
}

// Engine applies stream frames to the store one at a time.
type Engine struct {
	store      *Store
	normalizer event.Normalizer
	metrics    *metrics.Metrics
	logger     *zap.Logger
}

// NewEngine creates an engine over store. m may be nil.
func NewEngine(store *Store, m *metrics.Metrics, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{store: store, metrics: m, logger: logger}
}

// Run consumes src until it fails or ctx is cancelled, and returns the
// reason. Bad frames never stop the loop.
func (e *Engine) Run(ctx context.Context, src Source) error {
	for {
		data, err := src.Next(ctx)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			return fmt.Errorf("read stream: %w", err)
		}
		e.Handle(data)
	}
}

// Handle decodes, normalizes and applies one frame and returns its kind.
func (e *Engine) Handle(data []byte) (kind event.Kind) {
	defer func() {
		if r := recover(); r != nil {
			e.metrics.ObservePanic()
			e.logger.Error("panic while handling stream event", zap.Any("panic", r), zap.Int("bytes", len(data)))
			kind = event.Unrecognized
		}
	}()

	rec, err := event.Decode(data)
	if err != nil {
		e.metrics.ObserveEvent("malformed")
		e.logger.Debug("discarding malformed frame", zap.Error(err))
		return event.Unrecognized
	}

	evt := e.normalizer.Normalize(rec)
	e.metrics.ObserveEvent(evt.Kind.String())
	switch evt.Kind {
	case event.MessageKind:
		if e.store.UpsertMessage(FromEvent(evt.Message)) {
			e.logger.Debug("message stored",
				zap.String("chat", evt.Message.ChatKey()),
				zap.String("msg_id", evt.Message.ID),
			)
		}
	case event.ReceiptKind:
		if n := e.store.ApplyReceipts(*evt.Receipt); n > 0 {
			e.logger.Debug("receipts applied", zap.String("type", string(evt.Receipt.Type)), zap.Int("updated", n))
		}
	}
	return evt.Kind
}
