// Package facedir defines the face directory capability consumed by the
// attendance workflow and the adapters around it.
package facedir

import (
	"context"
	"errors"
	"fmt"
)

// DefaultThreshold is the minimum similarity, in percent, for a search hit.
const DefaultThreshold = 95.0

var (
	// ErrNoFaceDetected is returned by Index when the image holds no face.
	ErrNoFaceDetected = errors.New("no face detected in image")
	// ErrNoMatch is returned by Search when no enrolled face reaches the threshold.
	ErrNoMatch = errors.New("no matching face")
)

// Match is the single best search hit.
type Match struct {
	FaceRef    string
	Confidence float64 // similarity in percent, 0-100
}

// Directory stores face embeddings under opaque references.
type Directory interface {
	// Index registers the best face in image under subjectID and returns its reference.
	Index(ctx context.Context, image []byte, subjectID string) (string, error)
	// Search returns the best match at or above the threshold.
	Search(ctx context.Context, image []byte) (Match, error)
	// Delete removes a reference. Deleting an absent reference succeeds.
	Delete(ctx context.Context, faceRef string) error
}

// ProviderError is an infrastructure failure talking to the face provider.
// It is never used for "nobody matched".
type ProviderError struct {
	Op        string
	Transient bool
	Timeout   bool
	Err       error
}

func (e *ProviderError) Error() string {
	switch {
	case e.Timeout:
		return fmt.Sprintf("face directory %s: timed out: %v", e.Op, e.Err)
	default:
		return fmt.Sprintf("face directory %s: %v", e.Op, e.Err)
	}
}

func (e *ProviderError) Unwrap() error { return e.Err }

// IsProviderError reports whether err is a face provider failure.
func IsProviderError(err error) bool {
	var pe *ProviderError
	return errors.As(err, &pe)
}

// IsTimeout reports whether err is a provider timeout.
func IsTimeout(err error) bool {
	var pe *ProviderError
	return errors.As(err, &pe) && pe.Timeout
}
