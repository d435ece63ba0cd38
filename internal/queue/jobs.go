package queue

import (
	"context"
	"encoding/json"
	"fmt"
)

// TypeFaceDelete removes a face reference that could not be deleted inline.
const TypeFaceDelete = "face.delete"

// FaceDelete is the body of a TypeFaceDelete job.
type FaceDelete struct {
	FaceRef string `json:"face_ref"`
}

// NewFaceDelete builds a face deletion job.
func NewFaceDelete(faceRef string) (Message, error) {
	body, err := json.Marshal(FaceDelete{FaceRef: faceRef})
	if err != nil {
		return Message{}, err
	}
	return Message{Type: TypeFaceDelete, Body: body}, nil
}

// DecodeFaceDelete extracts the face reference of a TypeFaceDelete job.
func DecodeFaceDelete(msg Message) (string, error) {
	if msg.Type != TypeFaceDelete {
		return "", fmt.Errorf("queue: not a %s job: %q", TypeFaceDelete, msg.Type)
	}
	var job FaceDelete
	if err := json.Unmarshal(msg.Body, &job); err != nil {
		return "", fmt.Errorf("queue: decode %s: %w", TypeFaceDelete, err)
	}
	if job.FaceRef == "" {
		return "", fmt.Errorf("queue: %s without face_ref", TypeFaceDelete)
	}
	return job.FaceRef, nil
}

// FaceCleanup publishes face deletion jobs.
type FaceCleanup struct {
	q Queue
}

// NewFaceCleanup wraps q.
func NewFaceCleanup(q Queue) *FaceCleanup {
	return &FaceCleanup{q: q}
}

// EnqueueFaceDelete schedules faceRef for deletion.
func (c *FaceCleanup) EnqueueFaceDelete(ctx context.Context, faceRef string) error {
	msg, err := NewFaceDelete(faceRef)
	if err != nil {
		return err
	}
	return c.q.Publish(ctx, msg)
}
