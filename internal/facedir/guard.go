package facedir

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"siteattend/internal/metrics"
)

// DefaultTimeout bounds a single face directory call.
const DefaultTimeout = 10 * time.Second

// Guard wraps a Directory with a per-call timeout, one retry on transient
// failures, provider error normalization and latency metrics.
type Guard struct {
	next    Directory
	timeout time.Duration
	log     *zap.Logger
}

// NewGuard wraps next. A non-positive timeout uses DefaultTimeout.
func NewGuard(next Directory, timeout time.Duration, log *zap.Logger) *Guard {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Guard{next: next, timeout: timeout, log: log}
}

// Index implements Directory.
func (g *Guard) Index(ctx context.Context, image []byte, subjectID string) (string, error) {
	var ref string
	err := g.call(ctx, "index", func(ctx context.Context) error {
		var err error
		ref, err = g.next.Index(ctx, image, subjectID)
		return err
	})
	return ref, err
}

// Search implements Directory.
func (g *Guard) Search(ctx context.Context, image []byte) (Match, error) {
	var m Match
	err := g.call(ctx, "search", func(ctx context.Context) error {
		var err error
		m, err = g.next.Search(ctx, image)
		return err
	})
	return m, err
}

// Delete implements Directory.
func (g *Guard) Delete(ctx context.Context, faceRef string) error {
	return g.call(ctx, "delete", func(ctx context.Context) error {
		return g.next.Delete(ctx, faceRef)
	})
}

func (g *Guard) call(ctx context.Context, op string, fn func(context.Context) error) error {
	start := time.Now()
	var err error
	for attempt := 1; attempt <= 2; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, g.timeout)
		err = g.normalize(ctx, op, fn(callCtx))
		cancel()

		if err == nil || attempt == 2 || ctx.Err() != nil || !retryable(op, err) {
			break
		}
		g.log.Warn("face directory call failed, retrying",
			zap.String("op", op), zap.Error(err))
	}
	metrics.FaceCalls.WithLabelValues(op, resultLabel(err)).Observe(time.Since(start).Seconds())
	return err
}

// normalize keeps domain outcomes as they are and turns everything else
// into a *ProviderError.
func (g *Guard) normalize(parent context.Context, op string, err error) error {
	if err == nil || errors.Is(err, ErrNoMatch) || errors.Is(err, ErrNoFaceDetected) {
		return err
	}
	var pe *ProviderError
	if errors.As(err, &pe) {
		if !pe.Timeout && errors.Is(err, context.DeadlineExceeded) && parent.Err() == nil {
			pe.Timeout = true
		}
		return err
	}
	timeout := errors.Is(err, context.DeadlineExceeded) && parent.Err() == nil
	return &ProviderError{Op: op, Timeout: timeout, Err: err}
}

// retryable reports whether op may run again after err. Index is never
// repeated: a write that landed before the failure would leave a second
// embedding for the same subject with no reference pointing at it.
func retryable(op string, err error) bool {
	if op == "index" {
		return false
	}
	var pe *ProviderError
	return errors.As(err, &pe) && pe.Transient && !pe.Timeout
}

func resultLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrNoMatch):
		return "no_match"
	case errors.Is(err, ErrNoFaceDetected):
		return "no_face"
	case IsTimeout(err):
		return "timeout"
	default:
		return "error"
	}
}
