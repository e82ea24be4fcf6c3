package store

import (
	"bufio"
	"encoding/gob"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/coder/hnsw"
)

// VectorIndex is the chunk-level nearest-neighbor index: an HNSW graph over
// (content hash, chunk seq) keys with cosine distance. All vectors share a
// single dimension; changing the embedding model requires a rebuild.
type VectorIndex struct {
	graph *hnsw.Graph[uint64]
	dim   int
	model string

	idMap   map[string]uint64
	keyMap  map[uint64]string
	nextKey uint64
}

// vectorMetadata is the gob-encoded sidecar persisted next to the graph.
type vectorMetadata struct {
	IDMap   map[string]uint64
	NextKey uint64
	Dim     int
	Model   string
}

// VecKey builds the index key for a chunk.
func VecKey(hash string, seq int) string {
	return hash + ":" + strconv.Itoa(seq)
}

// SplitVecKey inverts VecKey.
func SplitVecKey(key string) (hash string, seq int, ok bool) {
	i := strings.LastIndexByte(key, ':')
	if i < 0 {
		return "", 0, false
	}
	seq, err := strconv.Atoi(key[i+1:])
	if err != nil {
		return "", 0, false
	}
	return key[:i], seq, true
}

// NewVectorIndex creates an empty index at the given dimension.
func NewVectorIndex(dim int, model string) *VectorIndex {
	graph := hnsw.NewGraph[uint64]()
	graph.Distance = hnsw.CosineDistance
	graph.M = 16
	graph.EfSearch = 20
	graph.Ml = 0.25

	return &VectorIndex{
		graph:  graph,
		dim:    dim,
		model:  model,
		idMap:  make(map[string]uint64),
		keyMap: make(map[uint64]string),
	}
}

// Dim returns the vector dimension.
func (v *VectorIndex) Dim() int { return v.dim }

// Model returns the embedding model the index was built with.
func (v *VectorIndex) Model() string { return v.model }

// Len returns the number of live vectors.
func (v *VectorIndex) Len() int { return len(v.idMap) }

// Add inserts one vector, replacing any existing vector for the key.
// Replacement uses lazy deletion: the old node stays in the graph but is
// unreachable through the key maps.
func (v *VectorIndex) Add(key string, vec []float32) error {
	if len(vec) != v.dim {
		return fmt.Errorf("vector dimension %d, index dimension %d", len(vec), v.dim)
	}

	if old, exists := v.idMap[key]; exists {
		delete(v.keyMap, old)
		delete(v.idMap, key)
	}

	id := v.nextKey
	v.nextKey++

	norm := make([]float32, len(vec))
	copy(norm, vec)
	normalizeInPlace(norm)

	v.graph.Add(hnsw.MakeNode(id, norm))
	v.idMap[key] = id
	v.keyMap[id] = key
	return nil
}

// Remove lazily deletes keys from the index.
func (v *VectorIndex) Remove(keys []string) {
	for _, key := range keys {
		if id, ok := v.idMap[key]; ok {
			delete(v.keyMap, id)
			delete(v.idMap, key)
		}
	}
}

// Keys returns all live keys.
func (v *VectorIndex) Keys() []string {
	keys := make([]string, 0, len(v.idMap))
	for k := range v.idMap {
		keys = append(keys, k)
	}
	return keys
}

// neighbor is one nearest-neighbor hit before document resolution.
type neighbor struct {
	Key   string
	Score float64
}

// Search returns up to k nearest neighbors with cosine similarity mapped to
// [0,1].
func (v *VectorIndex) Search(query []float32, k int) ([]neighbor, error) {
	if len(query) != v.dim {
		return nil, fmt.Errorf("query dimension %d, index dimension %d", len(query), v.dim)
	}
	if v.graph.Len() == 0 || k <= 0 {
		return nil, nil
	}

	norm := make([]float32, len(query))
	copy(norm, query)
	normalizeInPlace(norm)

	nodes := v.graph.Search(norm, k)
	hits := make([]neighbor, 0, len(nodes))
	for _, node := range nodes {
		key, ok := v.keyMap[node.Key]
		if !ok {
			continue // lazily-deleted node
		}
		dist := v.graph.Distance(norm, node.Value)
		score := 1.0 - float64(dist)/2.0
		if score < 0 {
			score = 0
		}
		hits = append(hits, neighbor{Key: key, Score: score})
	}
	return hits, nil
}

// Save writes the graph and its sidecar metadata atomically.
func (v *VectorIndex) Save(path string) error {
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create vector index file: %w", err)
	}
	if err := v.graph.Export(f); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return fmt.Errorf("export graph: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return err
	}

	metaTmp := path + ".meta.tmp"
	mf, err := os.Create(metaTmp)
	if err != nil {
		return fmt.Errorf("create vector metadata: %w", err)
	}
	meta := vectorMetadata{IDMap: v.idMap, NextKey: v.nextKey, Dim: v.dim, Model: v.model}
	if err := gob.NewEncoder(mf).Encode(meta); err != nil {
		_ = mf.Close()
		_ = os.Remove(metaTmp)
		return fmt.Errorf("encode vector metadata: %w", err)
	}
	if err := mf.Close(); err != nil {
		_ = os.Remove(metaTmp)
		return err
	}
	return os.Rename(metaTmp, path+".meta")
}

// LoadVectorIndex reads a persisted index. Returns os.ErrNotExist when no
// index has been built at path.
func LoadVectorIndex(path string) (*VectorIndex, error) {
	mf, err := os.Open(path + ".meta")
	if err != nil {
		return nil, err
	}
	var meta vectorMetadata
	err = gob.NewDecoder(mf).Decode(&meta)
	_ = mf.Close()
	if err != nil {
		return nil, fmt.Errorf("decode vector metadata: %w", err)
	}

	v := NewVectorIndex(meta.Dim, meta.Model)
	v.idMap = meta.IDMap
	v.nextKey = meta.NextKey
	for key, id := range meta.IDMap {
		v.keyMap[id] = key
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	// coder/hnsw Import requires an io.ByteReader.
	if err := v.graph.Import(bufio.NewReader(f)); err != nil {
		return nil, fmt.Errorf("import graph: %w", err)
	}
	return v, nil
}

func normalizeInPlace(vec []float32) {
	var sum float64
	for _, x := range vec {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return
	}
	inv := float32(1.0 / math.Sqrt(sum))
	for i := range vec {
		vec[i] *= inv
	}
}
