package facedir

import (
	"errors"
	"math"
	"sync"

	"github.com/coder/hnsw"
)

// hnswMaxNeighbors is the M parameter of the graph.
const hnswMaxNeighbors = 16

// HNSWIndex is an in-memory nearest-neighbour index over face embeddings
// keyed by face reference.
type HNSWIndex struct {
	mu    sync.RWMutex
	graph *hnsw.Graph[string]
	live  map[string]struct{}
}

// NewHNSWIndex creates an empty index.
func NewHNSWIndex() *HNSWIndex {
	return &HNSWIndex{live: make(map[string]struct{})}
}

func newGraph() *hnsw.Graph[string] {
	g := hnsw.NewGraph[string]()
	g.M = hnswMaxNeighbors
	g.Ml = 1.0 / float64(hnswMaxNeighbors)
	g.Distance = hnsw.CosineDistance
	return g
}

// Build replaces the index contents.
func (h *HNSWIndex) Build(embeddings map[string][]float32) {
	g := newGraph()
	live := make(map[string]struct{}, len(embeddings))
	for ref, vec := range embeddings {
		if len(vec) == 0 {
			continue
		}
		g.Add(hnsw.MakeNode(ref, vec))
		live[ref] = struct{}{}
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.graph = g
	h.live = live
}

// Add inserts one embedding.
func (h *HNSWIndex) Add(ref string, vec []float32) {
	if len(vec) == 0 {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.graph == nil {
		h.graph = newGraph()
	}
	h.graph.Add(hnsw.MakeNode(ref, vec))
	h.live[ref] = struct{}{}
}

// Delete hides ref from search results. The graph node stays until the next Build.
func (h *HNSWIndex) Delete(ref string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.live, ref)
}

// Has reports whether ref is searchable.
func (h *HNSWIndex) Has(ref string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.live[ref]
	return ok
}

// Len returns the number of searchable embeddings.
func (h *HNSWIndex) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.live)
}

// Nearest returns the closest live reference and its cosine distance.
func (h *HNSWIndex) Nearest(query []float32) (string, float64, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.graph == nil || len(h.live) == 0 {
		return "", 0, errors.New("index empty")
	}
	// Deleted nodes still occupy the graph; widen k to skip past them.
	k := 8
	if dead := h.graph.Len() - len(h.live); dead > 0 {
		k += dead
	}
	for _, n := range h.graph.Search(query, k) {
		if _, ok := h.live[n.Key]; ok {
			return n.Key, cosineDistance(query, n.Value), nil
		}
	}
	return "", 0, errors.New("no live neighbour")
}

// cosineDistance is 1 - cosine similarity; 2 for invalid input.
func cosineDistance(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 2
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 2
	}
	sim := dot / (math.Sqrt(na) * math.Sqrt(nb))
	sim = math.Max(-1, math.Min(1, sim))
	return 1 - sim
}

// similarityPercent converts a cosine distance into percent similarity.
func similarityPercent(distance float64) float64 {
	return math.Max(0, (1-distance)*100)
}
