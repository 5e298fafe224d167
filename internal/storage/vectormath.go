package storage

import (
	"encoding/binary"
	"fmt"
	"math"
)

// SerializeVector packs a float32 vector as little-endian bytes for blob
// storage.
func SerializeVector(vec []float32) []byte {
	buf := make([]byte, 4*len(vec))
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

// DeserializeVector unpacks a little-endian float32 vector.
func DeserializeVector(blob []byte) ([]float32, error) {
	if len(blob)%4 != 0 {
		return nil, fmt.Errorf("embedding blob length %d is not a multiple of 4", len(blob))
	}
	vec := make([]float32, len(blob)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(blob[i*4:]))
	}
	return vec, nil
}

// CosineSimilarity computes cosine similarity between equal-length vectors.
// Returns 0 when either vector has zero magnitude.
func CosineSimilarity(a, b []float32) float64 {
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// TopK is a fixed-capacity accumulator of the best-scoring results,
// maintained in descending score order by insertion. Used by the degraded
// exact-scan search path: pushing n candidates costs O(n·k) instead of the
// O(n·log n) of sorting the full candidate set.
type TopK struct {
	k     int
	items []SearchResult
}

// NewTopK returns an accumulator holding at most k results.
func NewTopK(k int) *TopK {
	return &TopK{k: k, items: make([]SearchResult, 0, k)}
}

// Push offers a candidate; it is kept only if it beats the current worst.
func (t *TopK) Push(r SearchResult) {
	if len(t.items) == t.k && r.Score <= t.items[len(t.items)-1].Score {
		return
	}
	i := len(t.items)
	for i > 0 && t.items[i-1].Score < r.Score {
		i--
	}
	if len(t.items) < t.k {
		t.items = append(t.items, SearchResult{})
	}
	copy(t.items[i+1:], t.items[i:len(t.items)-1])
	t.items[i] = r
}

// Results returns the accumulated results, best first.
func (t *TopK) Results() []SearchResult {
	return t.items
}
