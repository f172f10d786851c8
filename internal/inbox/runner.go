package inbox

import (
	"context"
	"math"
	"math/rand/v2"
	"time"

	"github.com/matheus3301/wppinbox/internal/metrics"
	"github.com/matheus3301/wppinbox/internal/status"
	"go.uber.org/zap"
)

// Stream is one connected event stream.
type Stream interface {
	Source
	Close() error
}

// Dialer opens event streams.
type Dialer interface {
	Dial(ctx context.Context) (Stream, error)
}

// DialFunc adapts a function to Dialer.
type DialFunc func(ctx context.Context) (Stream, error)

// Dial calls f.
func (f DialFunc) Dial(ctx context.Context) (Stream, error) { return f(ctx) }

// stableAfter is how long a connection must stay up before the reconnect
// delay starts over from the base.
const stableAfter = 60 * time.Second

// Backoff computes reconnect delays: base*2^attempt plus up to half a base of
// jitter, capped at max.
type Backoff struct {
	Base time.Duration
	Max  time.Duration

	attempt     int
	connectedAt time.Time
	jitter      func() float64
}

// NewBackoff creates a backoff policy. Non-positive values take the defaults
// of one and thirty seconds.
func NewBackoff(base, maxDelay time.Duration) *Backoff {
	if base <= 0 {
		base = time.Second
	}
	if maxDelay <= 0 {
		maxDelay = 30 * time.Second
	}
	if maxDelay < base {
		maxDelay = base
	}
	return &Backoff{Base: base, Max: maxDelay, jitter: rand.Float64}
}

// MarkConnected records that a connection was established.
func (b *Backoff) MarkConnected() {
	b.connectedAt = time.Now()
}

// Next returns the delay before the next attempt.
func (b *Backoff) Next() time.Duration {
	if !b.connectedAt.IsZero() && time.Since(b.connectedAt) > stableAfter {
		b.attempt = 0
	}
	b.connectedAt = time.Time{}

	random := b.jitter
	if random == nil {
		random = rand.Float64
	}
	jitter := random() * float64(b.Base) * 0.5
	delay := time.Duration(math.Min(
		float64(b.Base)*math.Pow(2, float64(b.attempt))+jitter,
		float64(b.Max),
	))
	b.attempt++
	return delay
}

// Attempt returns the number of delays handed out since the last reset.
func (b *Backoff) Attempt() int { return b.attempt }

// Runner keeps the event stream connected and feeds it to the engine,
// reconnecting with backoff whenever the stream drops.
type Runner struct {
	dialer  Dialer
	engine  *Engine
	state   *status.Machine
	backoff *Backoff
	metrics *metrics.Metrics
	logger  *zap.Logger

	cancel context.CancelFunc
	done   chan struct{}
}

// NewRunner creates a runner. m may be nil.
func NewRunner(d Dialer, e *Engine, sm *status.Machine, b *Backoff, m *metrics.Metrics, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	if b == nil {
		b = NewBackoff(0, 0)
	}
	return &Runner{dialer: d, engine: e, state: sm, backoff: b, metrics: m, logger: logger}
}

// Start runs the loop in the background.
func (r *Runner) Start(ctx context.Context) {
	ctx, r.cancel = context.WithCancel(ctx)
	r.done = make(chan struct{})
	go func() {
		defer close(r.done)
		r.Run(ctx)
	}()
}

// Stop cancels the loop, closing the stream, and waits for it to exit.
func (r *Runner) Stop() {
	if r.cancel == nil {
		return
	}
	r.cancel()
	<-r.done
}

// Run connects, consumes and reconnects until ctx is cancelled.
func (r *Runner) Run(ctx context.Context) {
	defer r.setState(status.Stopped)

	r.setState(status.Connecting)
	for {
		stream, err := r.dialer.Dial(ctx)
		if ctx.Err() != nil {
			if err == nil {
				_ = stream.Close()
			}
			return
		}
		r.metrics.ObserveDial(err == nil)

		if err != nil {
			r.logger.Warn("event stream dial failed", zap.Error(err), zap.Int("attempt", r.backoff.Attempt()))
		} else {
			r.backoff.MarkConnected()
			r.metrics.SetLinkUp(true)
			r.setState(status.Live)
			r.logger.Info("event stream connected")

			err = r.engine.Run(ctx, stream)
			_ = stream.Close()
			r.metrics.SetLinkUp(false)
			if ctx.Err() != nil {
				return
			}
			r.logger.Warn("event stream dropped", zap.Error(err))
		}

		r.setState(status.Reconnecting)
		delay := r.backoff.Next()
		r.logger.Info("reconnecting", zap.Duration("delay", delay), zap.Int("attempt", r.backoff.Attempt()))
		if !sleep(ctx, delay) {
			return
		}
		r.setState(status.Connecting)
	}
}

func (r *Runner) setState(s status.State) {
	if r.state == nil {
		return
	}
	if err := r.state.Transition(s); err != nil {
		r.logger.Debug("link state unchanged", zap.Error(err))
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
