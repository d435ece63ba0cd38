package queue

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"siteattend/internal/metrics"
)

// DefaultMaxAttempts bounds how often a face deletion is retried.
const DefaultMaxAttempts = 5

const requeueTimeout = 5 * time.Second

// FaceDeleter removes enrolled faces.
type FaceDeleter interface {
	Delete(ctx context.Context, faceRef string) error
}

// Cleaner consumes face deletion jobs.
type Cleaner struct {
	q           Queue
	faces       FaceDeleter
	maxAttempts int
	backoff     time.Duration
	log         *zap.Logger

	mu      sync.Mutex
	pending map[*time.Timer]Message
}

// NewCleaner creates a Cleaner that retries failed deletions up to
// maxAttempts times, waiting backoff before each retry.
func NewCleaner(q Queue, faces FaceDeleter, maxAttempts int, backoff time.Duration, log *zap.Logger) *Cleaner {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Cleaner{
		q:           q,
		faces:       faces,
		maxAttempts: maxAttempts,
		backoff:     backoff,
		log:         log,
		pending:     make(map[*time.Timer]Message),
	}
}

// Run processes jobs until ctx is cancelled. Retries still waiting out
// their backoff are republished before Run returns.
func (c *Cleaner) Run(ctx context.Context) error {
	messages, err := c.q.Consume(ctx)
	if err != nil {
		return err
	}
	c.log.Info("face cleanup started")
	for msg := range messages {
		c.Handle(ctx, msg)
	}
	c.flush()
	c.log.Info("face cleanup stopped")
	return nil
}

// Handle processes one job and returns the result label recorded in metrics.
func (c *Cleaner) Handle(ctx context.Context, msg Message) string {
	result := c.handle(ctx, msg)
	metrics.CleanupJobs.WithLabelValues(result).Inc()
	return result
}

func (c *Cleaner) handle(ctx context.Context, msg Message) string {
	if msg.Type != TypeFaceDelete {
		c.log.Warn("unknown job type", zap.String("type", msg.Type))
		return "skipped"
	}
	ref, err := DecodeFaceDelete(msg)
	if err != nil {
		c.log.Warn("dropping malformed job", zap.Error(err))
		return "invalid"
	}

	err = c.faces.Delete(ctx, ref)
	if err == nil {
		c.log.Info("face removed", zap.String("face_ref", ref), zap.Int("attempts", msg.Attempts+1))
		return "deleted"
	}

	msg.Attempts++
	if msg.Attempts >= c.maxAttempts {
		c.log.Error("face delete abandoned",
			zap.String("face_ref", ref), zap.Int("attempts", msg.Attempts), zap.Error(err))
		return "abandoned"
	}
	c.log.Warn("face delete failed, retrying",
		zap.String("face_ref", ref), zap.Int("attempts", msg.Attempts), zap.Error(err))

	if c.backoff > 0 {
		c.retryLater(msg)
		return "retried"
	}
	if err := c.requeue(msg); err != nil {
		return "lost"
	}
	return "retried"
}

// retryLater republishes msg once the backoff has passed without holding up
// the jobs behind it.
func (c *Cleaner) retryLater(msg Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var t *time.Timer
	t = time.AfterFunc(c.backoff, func() {
		c.mu.Lock()
		_, ok := c.pending[t]
		delete(c.pending, t)
		c.mu.Unlock()
		if ok {
			c.requeueLater(msg)
		}
	})
	c.pending[t] = msg
}

// flush republishes every retry whose timer has not fired yet.
func (c *Cleaner) flush() {
	c.mu.Lock()
	var due []Message
	for t, msg := range c.pending {
		if t.Stop() {
			due = append(due, msg)
			delete(c.pending, t)
		}
	}
	c.mu.Unlock()
	for _, msg := range due {
		c.requeueLater(msg)
	}
}

func (c *Cleaner) requeueLater(msg Message) {
	if err := c.requeue(msg); err != nil {
		metrics.CleanupJobs.WithLabelValues("lost").Inc()
	}
}

// requeue publishes msg without a caller context so the job survives shutdown.
func (c *Cleaner) requeue(msg Message) error {
	ctx, cancel := context.WithTimeout(context.Background(), requeueTimeout)
	defer cancel()
	if err := c.q.Publish(ctx, msg); err != nil {
		ref, _ := DecodeFaceDelete(msg)
		c.log.Error("face delete requeue failed", zap.String("face_ref", ref), zap.Error(err))
		return err
	}
	return nil
}
