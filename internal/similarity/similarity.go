// Package similarity indexes canonical target formulas as feature
// vectors and answers nearest-neighbor queries over them. It backs the
// "find policies with similar applicability" tooling: documents whose
// targets share predicates land close together.
package similarity

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"sort"
	"sync"

	"github.com/fogfish/hnsw"
	hnswvector "github.com/kshard/vector"

	"github.com/authz-engine/prp-core/internal/canonical"
)

// Config tunes the HNSW graph.
type Config struct {
	Dimension      int
	M              int
	EfConstruction int
	EfSearch       int
}

// DefaultConfig returns the default graph parameters.
func DefaultConfig() Config {
	return Config{
		Dimension:      256,
		M:              16,
		EfConstruction: 200,
		EfSearch:       50,
	}
}

// Match is one nearest-neighbor hit.
type Match struct {
	ID    string
	Score float32
}

// Index is an approximate nearest-neighbor index over featurized target
// formulas.
type Index struct {
	mu        sync.RWMutex
	index     *hnsw.HNSW[[]float32]
	vectors   map[string][]float32
	dimension int
	efSearch  int
}

// New creates a similarity index.
func New(cfg Config) (*Index, error) {
	if cfg.Dimension <= 0 {
		return nil, fmt.Errorf("dimension must be positive, got %d", cfg.Dimension)
	}
	if cfg.M <= 0 {
		cfg.M = 16
	}
	if cfg.EfConstruction <= 0 {
		cfg.EfConstruction = 200
	}
	if cfg.EfSearch <= 0 {
		cfg.EfSearch = 50
	}

	cosine := hnswvector.Cosine()
	surface := hnswvector.From[[]float32](func(a, b []float32) float32 {
		return cosine.Distance(hnswvector.F32(a), hnswvector.F32(b))
	})

	graph := hnsw.New[[]float32](
		surface,
		hnsw.WithM(cfg.M),
		hnsw.WithM0(cfg.M*2),
		hnsw.WithEfConstruction(cfg.EfConstruction),
	)

	return &Index{
		index:     graph,
		vectors:   make(map[string][]float32),
		dimension: cfg.Dimension,
		efSearch:  cfg.EfSearch,
	}, nil
}

// Featurize hashes a formula's literals into a fixed-dimension vector.
// Each literal contributes its clause-relative weight to one hashed
// component, with a hash-derived sign so unrelated literals tend to
// cancel rather than pile up. The result is L2-normalized.
func Featurize(f *canonical.Formula, dimension int) []float32 {
	vec := make([]float32, dimension)

	for _, clause := range f.Clauses() {
		weight := float32(1.0) / float32(clause.Size())
		for _, lit := range clause.Literals() {
			h := fnv.New64a()
			h.Write([]byte(lit.Fingerprint()))
			sum := h.Sum64()

			idx := int(sum % uint64(dimension))
			sign := float32(1)
			if sum&(1<<63) != 0 {
				sign = -1
			}
			vec[idx] += sign * weight
		}
	}

	var norm float32
	for _, v := range vec {
		norm += v * v
	}
	if norm > 0 {
		inv := float32(1 / math.Sqrt(float64(norm)))
		for i := range vec {
			vec[i] *= inv
		}
	}
	return vec
}

// Add featurizes and indexes one document's formula. Re-adding an ID
// replaces its vector for lookups; the old graph node becomes
// unreachable through the ID map.
func (ix *Index) Add(ctx context.Context, id string, f *canonical.Formula) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	vec := Featurize(f, ix.dimension)

	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.vectors[id] = vec
	ix.index.Insert(vec)
	return nil
}

// Remove drops a document from lookups. The graph keeps the node; its
// hits no longer resolve to an ID and are filtered out.
func (ix *Index) Remove(id string) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	delete(ix.vectors, id)
}

// Len returns the number of indexed documents.
func (ix *Index) Len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.vectors)
}

// Similar returns up to k documents whose targets are closest to the
// query formula, best first.
func (ix *Index) Similar(ctx context.Context, f *canonical.Formula, k int) ([]Match, error) {
	if k <= 0 {
		return nil, fmt.Errorf("k must be positive, got %d", k)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	query := Featurize(f, ix.dimension)

	ix.mu.RLock()
	defer ix.mu.RUnlock()

	if len(ix.vectors) == 0 {
		return nil, nil
	}

	// Over-fetch to survive stale graph nodes of removed documents.
	neighbors := ix.index.Search(query, k+len(ix.vectors), ix.efSearch)

	seen := make(map[string]bool, k)
	matches := make([]Match, 0, k)
	for _, neighbor := range neighbors {
		id, ok := ix.resolve(neighbor)
		if !ok || seen[id] {
			continue
		}
		seen[id] = true
		matches = append(matches, Match{ID: id, Score: cosineSimilarity(query, neighbor)})
		if len(matches) == k {
			break
		}
	}

	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Score > matches[j].Score
	})
	return matches, nil
}

// resolve maps a graph vector back to the document owning it.
func (ix *Index) resolve(vec []float32) (string, bool) {
	bestID := ""
	var bestDist float32 = math.MaxFloat32
	for id, stored := range ix.vectors {
		dist := euclideanDistance(vec, stored)
		if dist < bestDist {
			bestDist = dist
			bestID = id
		}
		if dist < 1e-6 {
			return id, true
		}
	}
	if bestID == "" || bestDist > 1e-4 {
		return "", false
	}
	return bestID, true
}

func euclideanDistance(a, b []float32) float32 {
	var sum float32
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return float32(math.Sqrt(float64(sum)))
}

func cosineSimilarity(a, b []float32) float32 {
	var dot, normA, normB float32
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (float32(math.Sqrt(float64(normA))) * float32(math.Sqrt(float64(normB))))
}
