package vector

import (
	"errors"
	"math"
	"sort"
	"sync"

	hnswlib "github.com/Bithack/go-hnsw"
)

// Item is one trained document vector keyed by message id.
type Item struct {
	MessageID int64
	Vector    []float32
}

// Candidate is one nearest-neighbor hit. Similarity is cosine, in [-1, 1].
type Candidate struct {
	MessageID  int64
	Similarity float64
}

// Index is an approximate nearest-neighbor index over unit-normalized
// document vectors. Vectors are inserted once at construction; the corpus
// is an immutable snapshot, so there is no delete path. L2 distance over
// unit vectors ranks identically to cosine similarity; the exact cosine is
// recomputed from the stored vectors for the reported score.
//
// Search is safe for concurrent use once Build has returned.
type Index struct {
	mu             sync.RWMutex
	dimensions     int
	m              int
	efConstruction int
	efSearch       int

	index        *hnswlib.Hnsw
	fromInternal map[uint32]int64
	vectors      map[int64][]float32
	nextID       uint32
}

func NewIndex(dimensions, m, efConstruction, efSearch int) *Index {
	if dimensions <= 0 {
		dimensions = 350
	}
	if m <= 0 {
		m = 16
	}
	if efConstruction <= 0 {
		efConstruction = 200
	}
	if efSearch <= 0 {
		efSearch = 64
	}
	return &Index{
		dimensions:     dimensions,
		m:              m,
		efConstruction: efConstruction,
		efSearch:       efSearch,
		fromInternal:   map[uint32]int64{},
		vectors:        map[int64][]float32{},
		nextID:         1,
	}
}

func (x *Index) Dimensions() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.dimensions
}

func (x *Index) Len() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.vectors)
}

// Build inserts every item into the graph. It replaces any previous content
// and is meant to run once, before the first Search.
func (x *Index) Build(items []Item) error {
	x.mu.Lock()
	defer x.mu.Unlock()

	x.index = nil
	x.fromInternal = make(map[uint32]int64, len(items))
	x.vectors = make(map[int64][]float32, len(items))
	x.nextID = 1

	sorted := make([]Item, len(items))
	copy(sorted, items)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].MessageID < sorted[j].MessageID })

	for _, item := range sorted {
		if err := x.addLocked(item.MessageID, item.Vector); err != nil {
			return err
		}
	}
	return nil
}

func (x *Index) addLocked(messageID int64, vector []float32) error {
	if messageID == 0 {
		return errors.New("message id must be non-zero")
	}
	if len(vector) != x.dimensions {
		return errors.New("vector dimensions mismatch")
	}
	if _, exists := x.vectors[messageID]; exists {
		return errors.New("duplicate message id in index")
	}

	unit := normalize(vector)
	if x.index == nil {
		base := make(hnswlib.Point, x.dimensions)
		x.index = hnswlib.New(x.m, x.efConstruction, base)
		x.index.DistFunc = l2Distance
	}
	internalID := x.nextID
	x.nextID++

	x.index.Grow(int(internalID) + 1)
	x.index.Add(hnswlib.Point(unit), internalID)
	x.fromInternal[internalID] = messageID
	x.vectors[messageID] = unit
	return nil
}

// Search returns up to limit candidates ordered by descending cosine
// similarity to the query vector. Tie order among equal similarities is
// whatever the graph returned.
func (x *Index) Search(vector []float32, limit int) []Candidate {
	x.mu.RLock()
	defer x.mu.RUnlock()
	if x.index == nil || len(vector) != x.dimensions || limit <= 0 {
		return nil
	}

	query := normalize(vector)
	ef := x.efSearch
	if ef < limit*2 {
		ef = limit * 2
	}
	raw := x.index.Search(hnswlib.Point(query), ef, ef)
	items := raw.Items()
	if len(items) == 0 {
		return nil
	}

	results := make([]Candidate, 0, limit)
	seen := make(map[int64]struct{}, limit*2)
	for _, item := range items {
		if item == nil || item.ID == 0 {
			continue
		}
		messageID, ok := x.fromInternal[item.ID]
		if !ok {
			continue
		}
		if _, exists := seen[messageID]; exists {
			continue
		}
		seen[messageID] = struct{}{}
		results = append(results, Candidate{
			MessageID:  messageID,
			Similarity: dot(query, x.vectors[messageID]),
		})
	}
	sort.SliceStable(results, func(i, j int) bool { return results[i].Similarity > results[j].Similarity })
	if len(results) > limit {
		results = results[:limit]
	}
	return results
}

func normalize(vector []float32) []float32 {
	var sum float64
	for _, v := range vector {
		sum += float64(v) * float64(v)
	}
	norm := math.Sqrt(sum)
	unit := make([]float32, len(vector))
	if norm == 0 {
		copy(unit, vector)
		return unit
	}
	for i, v := range vector {
		unit[i] = float32(float64(v) / norm)
	}
	return unit
}

func dot(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}

func l2Distance(a, b []float32) float32 {
	if len(a) == 0 || len(a) != len(b) {
		return float32(math.MaxFloat32)
	}
	var sum float32
	for idx := range a {
		diff := a[idx] - b[idx]
		sum += diff * diff
	}
	return sum
}
