package queue

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestSerializeRoundTripKeepsAttempts(t *testing.T) {
	msg, err := NewFaceDelete("face-1")
	if err != nil {
		t.Fatalf("NewFaceDelete: %v", err)
	}
	msg.Attempts = 2

	s, err := serialize(msg)
	if err != nil {
		t.Fatalf("serialize: %v", err)
	}
	got, err := deserialize(s)
	if err != nil {
		t.Fatalf("deserialize: %v", err)
	}
	if got.Type != TypeFaceDelete || got.Attempts != 2 {
		t.Errorf("got %+v", got)
	}
	ref, err := DecodeFaceDelete(got)
	if err != nil || ref != "face-1" {
		t.Errorf("DecodeFaceDelete: got %q, %v", ref, err)
	}
}

func TestSerializeRejectsUntyped(t *testing.T) {
	if _, err := serialize(Message{Body: []byte(`{}`)}); err == nil {
		t.Error("expected error for message without type")
	}
	if _, err := deserialize("checkin|abc"); err == nil {
		t.Error("expected error for legacy payload")
	}
}

func TestDecodeFaceDelete_Errors(t *testing.T) {
	tests := []struct {
		name string
		msg  Message
	}{
		{"wrong type", Message{Type: "checkin", Body: []byte(`{"face_ref":"x"}`)}},
		{"bad body", Message{Type: TypeFaceDelete, Body: []byte(`not json`)}},
		{"empty ref", Message{Type: TypeFaceDelete, Body: []byte(`{}`)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := DecodeFaceDelete(tt.msg); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestInMemory_FaceCleanupDelivers(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	q := NewInMemory(4)
	if err := NewFaceCleanup(q).EnqueueFaceDelete(ctx, "face-9"); err != nil {
		t.Fatalf("EnqueueFaceDelete: %v", err)
	}
	if q.Len() != 1 {
		t.Fatalf("Len: got %d, want 1", q.Len())
	}

	msgs, err := q.Consume(ctx)
	if err != nil {
		t.Fatalf("Consume: %v", err)
	}
	select {
	case msg := <-msgs:
		ref, err := DecodeFaceDelete(msg)
		if err != nil || ref != "face-9" {
			t.Errorf("got %q, %v", ref, err)
		}
	case <-ctx.Done():
		t.Fatal("message not delivered")
	}
}

func TestInMemory_PublishRespectsContext(t *testing.T) {
	q := NewInMemory(0)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := q.Publish(ctx, Message{Type: TypeFaceDelete}); err == nil {
		t.Error("expected context error on full queue")
	}
}

func TestInMemory_PublishFullDoesNotBlock(t *testing.T) {
	q := NewInMemory(1)
	ctx := context.Background()
	if err := q.Publish(ctx, Message{Type: TypeFaceDelete}); err != nil {
		t.Fatalf("first Publish: %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- q.Publish(ctx, Message{Type: TypeFaceDelete}) }()
	select {
	case err := <-done:
		if !errors.Is(err, ErrQueueFull) {
			t.Errorf("got %v, want ErrQueueFull", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a full queue")
	}
	if q.Len() != 1 {
		t.Errorf("Len: got %d, want 1", q.Len())
	}
}
