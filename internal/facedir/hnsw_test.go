package facedir

import (
	"math"
	"testing"
)

func TestCosineDistance(t *testing.T) {
	tests := []struct {
		name string
		a, b []float32
		want float64
	}{
		{"identical", []float32{1, 0, 0}, []float32{1, 0, 0}, 0},
		{"orthogonal", []float32{1, 0}, []float32{0, 1}, 1},
		{"opposite", []float32{1, 0}, []float32{-1, 0}, 2},
		{"length mismatch", []float32{1}, []float32{1, 0}, 2},
		{"zero vector", []float32{0, 0}, []float32{1, 0}, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := cosineDistance(tt.a, tt.b)
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("cosineDistance() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSimilarityPercent(t *testing.T) {
	if got := similarityPercent(0.03); math.Abs(got-97) > 1e-9 {
		t.Errorf("similarityPercent(0.03) = %v, want 97", got)
	}
	if got := similarityPercent(1.5); got != 0 {
		t.Errorf("similarityPercent(1.5) = %v, want 0", got)
	}
}

func TestHNSWIndex_NearestSkipsDeleted(t *testing.T) {
	idx := NewHNSWIndex()
	idx.Build(map[string][]float32{
		"alice": {1, 0, 0},
		"bob":   {0, 1, 0},
		"carol": {0, 0, 1},
	})
	if idx.Len() != 3 {
		t.Fatalf("Len: got %d, want 3", idx.Len())
	}

	ref, dist, err := idx.Nearest([]float32{0.99, 0.05, 0})
	if err != nil {
		t.Fatalf("Nearest: %v", err)
	}
	if ref != "alice" {
		t.Errorf("Nearest: got %q, want alice", ref)
	}
	if dist > 0.01 {
		t.Errorf("distance: got %v, want near 0", dist)
	}

	idx.Delete("alice")
	ref, _, err = idx.Nearest([]float32{0.99, 0.05, 0})
	if err != nil {
		t.Fatalf("Nearest after delete: %v", err)
	}
	if ref == "alice" {
		t.Error("deleted reference returned")
	}
}

func TestHNSWIndex_EmptyAndAdd(t *testing.T) {
	idx := NewHNSWIndex()
	if _, _, err := idx.Nearest([]float32{1, 0}); err == nil {
		t.Fatal("expected error on empty index")
	}

	idx.Add("dave", []float32{0.2, 0.8})
	idx.Add("skip", nil)
	if idx.Len() != 1 {
		t.Fatalf("Len: got %d, want 1", idx.Len())
	}
	if !idx.Has("dave") || idx.Has("skip") {
		t.Errorf("Has: dave=%v skip=%v", idx.Has("dave"), idx.Has("skip"))
	}
	ref, _, err := idx.Nearest([]float32{0.2, 0.8})
	if err != nil || ref != "dave" {
		t.Fatalf("Nearest: got %q, %v", ref, err)
	}
}
