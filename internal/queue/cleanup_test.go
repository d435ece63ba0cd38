package queue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type flakyDeleter struct {
	mu      sync.Mutex
	fails   int
	calls   int
	deleted []string
}

func (d *flakyDeleter) Delete(ctx context.Context, faceRef string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls++
	if d.calls <= d.fails {
		return errors.New("provider unavailable")
	}
	d.deleted = append(d.deleted, faceRef)
	return nil
}

// refDeleter fails every delete of the refs in broken.
type refDeleter struct {
	mu      sync.Mutex
	broken  map[string]bool
	deleted []string
}

func (d *refDeleter) Delete(ctx context.Context, faceRef string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.broken[faceRef] {
		return errors.New("provider unavailable")
	}
	d.deleted = append(d.deleted, faceRef)
	return nil
}

func TestCleaner_Handle(t *testing.T) {
	job, _ := NewFaceDelete("face-9")

	tests := []struct {
		name     string
		msg      Message
		fails    int
		want     string
		requeued bool
		attempts int
	}{
		{"deleted", job, 0, "deleted", false, 0},
		{"retried", job, 1, "retried", true, 1},
		{"abandoned", Message{Type: TypeFaceDelete, Body: job.Body, Attempts: 2}, 1, "abandoned", false, 0},
		{"malformed", Message{Type: TypeFaceDelete, Body: []byte(`{}`)}, 0, "invalid", false, 0},
		{"other type", Message{Type: "report", Body: []byte(`{}`)}, 0, "skipped", false, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := NewInMemory(4)
			c := NewCleaner(q, &flakyDeleter{fails: tt.fails}, 3, 0, nil)

			if got := c.Handle(context.Background(), tt.msg); got != tt.want {
				t.Fatalf("result: got %s, want %s", got, tt.want)
			}
			if tt.requeued != (q.Len() == 1) {
				t.Fatalf("requeued: got %d buffered", q.Len())
			}
			if tt.requeued {
				msg := <-q.ch
				if msg.Attempts != tt.attempts {
					t.Errorf("attempts: got %d, want %d", msg.Attempts, tt.attempts)
				}
			}
		})
	}
}

func TestCleaner_RunRetriesUntilDeleted(t *testing.T) {
	q := NewInMemory(4)
	faces := &flakyDeleter{fails: 2}
	cleanup := NewFaceCleanup(q)
	if err := cleanup.EnqueueFaceDelete(context.Background(), "face-3"); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- NewCleaner(q, faces, 5, time.Millisecond, nil).Run(ctx) }()

	deadline := time.After(2 * time.Second)
	for {
		faces.mu.Lock()
		n := len(faces.deleted)
		faces.mu.Unlock()
		if n == 1 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("face was not deleted")
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()
	if err := <-done; err != nil {
		t.Errorf("Run: %v", err)
	}
	faces.mu.Lock()
	defer faces.mu.Unlock()
	if faces.calls != 3 {
		t.Errorf("calls: got %d, want 3", faces.calls)
	}
}

func TestCleaner_BackoffDoesNotHoldUpLaterJobs(t *testing.T) {
	q := NewInMemory(4)
	faces := &refDeleter{broken: map[string]bool{"face-bad": true}}
	cleanup := NewFaceCleanup(q)
	for _, ref := range []string{"face-bad", "face-good"} {
		if err := cleanup.EnqueueFaceDelete(context.Background(), ref); err != nil {
			t.Fatalf("enqueue %s: %v", ref, err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- NewCleaner(q, faces, 5, time.Hour, nil).Run(ctx) }()

	deadline := time.After(2 * time.Second)
	for {
		faces.mu.Lock()
		n := len(faces.deleted)
		faces.mu.Unlock()
		if n == 1 {
			break
		}
		select {
		case <-deadline:
			cancel()
			t.Fatal("second job waited for the first job's backoff")
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run: %v", err)
	}

	// The pending retry is handed back to the queue on shutdown.
	if q.Len() != 1 {
		t.Fatalf("Len after stop: got %d, want 1", q.Len())
	}
	msg := <-q.ch
	ref, err := DecodeFaceDelete(msg)
	if err != nil || ref != "face-bad" || msg.Attempts != 1 {
		t.Errorf("requeued job: ref=%q attempts=%d err=%v", ref, msg.Attempts, err)
	}
}
