package store

import (
	"bufio"
	"context"
	"encoding/gob"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/coder/hnsw"

	"github.com/foldermcp/foldermcp/internal/errors"
)

// VectorIndexConfig tunes the HNSW graph. Zero values take the defaults;
// Dimensions may stay zero until the first vector arrives.
type VectorIndexConfig struct {
	Dimensions int    `json:"dimensions"`
	M          int    `json:"m"`
	EfSearch   int    `json:"ef_search"`
	Metric     string `json:"metric"` // "cos" or "l2"
}

// DefaultVectorIndexConfig returns the tuning used for folder indexes.
func DefaultVectorIndexConfig() VectorIndexConfig {
	return VectorIndexConfig{M: 16, EfSearch: 64, Metric: "cos"}
}

func (c *VectorIndexConfig) applyDefaults() {
	if c.M == 0 {
		c.M = 16
	}
	if c.EfSearch == 0 {
		c.EfSearch = 64
	}
	if c.Metric == "" {
		c.Metric = "cos"
	}
}

// VectorIndex wraps a coder/hnsw graph keyed by chunk rowid.
//
// Deletion is lazy: removed rowids leave the live set but their nodes stay
// in the graph as orphans until Compact runs. Deleting nodes outright can
// corrupt the graph when the last node goes, and orphans cost only memory;
// Search over-fetches by the orphan count and filters them out.
type VectorIndex struct {
	mu      sync.RWMutex
	graph   *hnsw.Graph[uint64]
	cfg     VectorIndexConfig
	live    map[uint64]struct{}
	orphans map[uint64]struct{}
	dirty   bool
	closed  bool
}

// vectorIndexMeta is the gob sidecar persisted next to the graph export.
type vectorIndexMeta struct {
	Live    []uint64
	Orphans []uint64
	Config  VectorIndexConfig
}

// NewVectorIndex creates an empty index.
func NewVectorIndex(cfg VectorIndexConfig) *VectorIndex {
	cfg.applyDefaults()
	return &VectorIndex{
		graph:   newGraph(cfg),
		cfg:     cfg,
		live:    make(map[uint64]struct{}),
		orphans: make(map[uint64]struct{}),
	}
}

func newGraph(cfg VectorIndexConfig) *hnsw.Graph[uint64] {
	g := hnsw.NewGraph[uint64]()
	switch cfg.Metric {
	case "l2":
		g.Distance = hnsw.EuclideanDistance
	default:
		g.Distance = hnsw.CosineDistance
	}
	g.M = cfg.M
	g.EfSearch = cfg.EfSearch
	g.Ml = 0.25
	return g
}

// Add inserts vectors keyed by chunk rowid. Rowids already present are
// skipped: chunk rows are immutable, so a re-add carries the same vector.
// The first vector fixes the dimensionality when the config left it open.
func (v *VectorIndex) Add(rowids []int64, vectors [][]float32) error {
	if len(rowids) == 0 {
		return nil
	}
	if len(rowids) != len(vectors) {
		return errors.New(errors.ErrCodeInvalidInput,
			fmt.Sprintf("rowids and vectors length mismatch: %d vs %d", len(rowids), len(vectors)), nil)
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	if v.closed {
		return errors.New(errors.ErrCodeStoreClosed, "vector index is closed", nil)
	}

	for _, vec := range vectors {
		if v.cfg.Dimensions == 0 {
			v.cfg.Dimensions = len(vec)
			continue
		}
		if len(vec) != v.cfg.Dimensions {
			return dimensionMismatch(v.cfg.Dimensions, len(vec))
		}
	}

	for i, rowid := range rowids {
		key := uint64(rowid)
		if _, ok := v.live[key]; ok {
			continue
		}

		vec := make([]float32, len(vectors[i]))
		copy(vec, vectors[i])
		if v.cfg.Metric == "cos" {
			normalizeInPlace(vec)
		}

		// Chunk rowids are AUTOINCREMENT and never reused, so a key in the
		// orphan set cannot legitimately come back. Clear it anyway so the
		// bookkeeping cannot drift if that assumption ever breaks upstream.
		delete(v.orphans, key)

		v.graph.Add(hnsw.MakeNode(key, vec))
		v.live[key] = struct{}{}
		v.dirty = true
	}

	return nil
}

// Search returns the k nearest live vectors to the query.
func (v *VectorIndex) Search(query []float32, k int) ([]VectorMatch, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()

	if v.closed {
		return nil, errors.New(errors.ErrCodeStoreClosed, "vector index is closed", nil)
	}
	if v.graph.Len() == 0 || k <= 0 {
		return nil, nil
	}
	if v.cfg.Dimensions != 0 && len(query) != v.cfg.Dimensions {
		return nil, dimensionMismatch(v.cfg.Dimensions, len(query))
	}

	q := make([]float32, len(query))
	copy(q, query)
	if v.cfg.Metric == "cos" {
		normalizeInPlace(q)
	}

	// Over-fetch by the orphan count so lazy-deleted nodes cannot crowd out
	// live results.
	fetch := k + (v.graph.Len() - len(v.live))
	if fetch > v.graph.Len() {
		fetch = v.graph.Len()
	}

	nodes := v.graph.Search(q, fetch)
	matches := make([]VectorMatch, 0, k)
	for _, node := range nodes {
		if _, ok := v.live[node.Key]; !ok {
			continue
		}
		distance := v.graph.Distance(q, node.Value)
		matches = append(matches, VectorMatch{
			Rowid:    int64(node.Key),
			Score:    distanceToScore(distance, v.cfg.Metric),
			Distance: distance,
		})
		if len(matches) == k {
			break
		}
	}

	return matches, nil
}

// Delete removes rowids from the live set. Their graph nodes remain as
// orphans until Compact runs.
func (v *VectorIndex) Delete(rowids []int64) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.closed {
		return
	}
	for _, rowid := range rowids {
		key := uint64(rowid)
		if _, ok := v.live[key]; ok {
			delete(v.live, key)
			v.orphans[key] = struct{}{}
			v.dirty = true
		}
	}
}

// Contains reports whether a rowid has a live vector.
func (v *VectorIndex) Contains(rowid int64) bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	_, ok := v.live[uint64(rowid)]
	return ok
}

// Count returns the number of live vectors.
func (v *VectorIndex) Count() int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return len(v.live)
}

// Keys returns the live rowids in ascending order.
func (v *VectorIndex) Keys() []int64 {
	v.mu.RLock()
	defer v.mu.RUnlock()

	keys := make([]int64, 0, len(v.live))
	for key := range v.live {
		keys = append(keys, int64(key))
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

// Dimensions returns the vector dimensionality, zero while the index is
// still empty and unconfigured.
func (v *VectorIndex) Dimensions() int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.cfg.Dimensions
}

// VectorIndexStats describes graph occupancy for compaction decisions.
type VectorIndexStats struct {
	Live       int `json:"live"`
	GraphNodes int `json:"graph_nodes"`
	Orphans    int `json:"orphans"`
}

// Stats returns graph occupancy counts.
func (v *VectorIndex) Stats() VectorIndexStats {
	v.mu.RLock()
	defer v.mu.RUnlock()

	if v.closed || v.graph == nil {
		return VectorIndexStats{}
	}
	nodes := v.graph.Len()
	return VectorIndexStats{
		Live:       len(v.live),
		GraphNodes: nodes,
		Orphans:    nodes - len(v.live),
	}
}

// Compact evicts lazily deleted nodes from the graph. Orphans are removed
// one key at a time, checking ctx between keys, so a shutdown or an arriving
// query batch can interrupt a long compaction; already-evicted keys stay
// evicted and the rest go on the next run. When nothing live remains the
// graph is swapped for a fresh one instead, since the graph library does not
// survive deleting its last node. Returns the number of nodes evicted.
func (v *VectorIndex) Compact(ctx context.Context) (int, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.closed {
		return 0, errors.New(errors.ErrCodeStoreClosed, "vector index is closed", nil)
	}
	if len(v.orphans) == 0 {
		return 0, nil
	}

	if len(v.live) == 0 {
		removed := v.graph.Len()
		v.graph = newGraph(v.cfg)
		v.orphans = make(map[uint64]struct{})
		v.dirty = true
		return removed, nil
	}

	removed := 0
	for key := range v.orphans {
		if err := ctx.Err(); err != nil {
			return removed, err
		}
		v.graph.Delete(key)
		delete(v.orphans, key)
		removed++
		v.dirty = true
	}
	return removed, nil
}

// Dirty reports whether the index changed since the last save.
func (v *VectorIndex) Dirty() bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.dirty
}

// SaveIfDirty persists the index only when it changed since the last save.
func (v *VectorIndex) SaveIfDirty(path string) error {
	if !v.Dirty() {
		return nil
	}
	return v.Save(path)
}

// Save writes the graph export and the gob sidecar, each through a temp file
// and rename so a crash mid-save leaves the previous version intact.
func (v *VectorIndex) Save(path string) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.closed {
		return errors.New(errors.ErrCodeStoreClosed, "vector index is closed", nil)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create vector index directory: %w", err)
	}

	tmpPath := path + ".tmp"
	file, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("create vector index file: %w", err)
	}
	if err := v.graph.Export(file); err != nil {
		_ = file.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("export graph: %w", err)
	}
	if err := file.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("close vector index file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("rename vector index file: %w", err)
	}

	if err := v.saveMeta(path + ".meta"); err != nil {
		return err
	}

	v.dirty = false
	return nil
}

func (v *VectorIndex) saveMeta(path string) error {
	tmpPath := path + ".tmp"
	file, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("create vector meta file: %w", err)
	}

	meta := vectorIndexMeta{
		Config:  v.cfg,
		Live:    make([]uint64, 0, len(v.live)),
		Orphans: make([]uint64, 0, len(v.orphans)),
	}
	for key := range v.live {
		meta.Live = append(meta.Live, key)
	}
	for key := range v.orphans {
		meta.Orphans = append(meta.Orphans, key)
	}

	if err := gob.NewEncoder(file).Encode(meta); err != nil {
		_ = file.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("encode vector meta: %w", err)
	}
	if err := file.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("close vector meta file: %w", err)
	}
	return os.Rename(tmpPath, path)
}

// LoadVectorIndex reads an index saved by Save. The persisted dimensionality
// and metric win over cfg; EfSearch and M follow cfg so tuning changes apply
// to existing indexes.
func LoadVectorIndex(path string, cfg VectorIndexConfig) (*VectorIndex, error) {
	cfg.applyDefaults()

	meta, err := readMeta(path + ".meta")
	if err != nil {
		return nil, err
	}

	stored := meta.Config
	stored.M = cfg.M
	stored.EfSearch = cfg.EfSearch
	stored.applyDefaults()

	v := &VectorIndex{
		graph:   newGraph(stored),
		cfg:     stored,
		live:    make(map[uint64]struct{}, len(meta.Live)),
		orphans: make(map[uint64]struct{}, len(meta.Orphans)),
	}
	for _, key := range meta.Live {
		v.live[key] = struct{}{}
	}
	for _, key := range meta.Orphans {
		v.orphans[key] = struct{}{}
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open vector index file: %w", err)
	}
	defer func() { _ = file.Close() }()

	// Import needs an io.ByteReader.
	if err := v.graph.Import(bufio.NewReader(file)); err != nil {
		return nil, fmt.Errorf("import graph: %w", err)
	}

	// The export carries its own parameters; re-apply the runtime tuning.
	v.graph.EfSearch = stored.EfSearch

	return v, nil
}

func readMeta(path string) (*vectorIndexMeta, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open vector meta file: %w", err)
	}
	defer func() { _ = file.Close() }()

	var meta vectorIndexMeta
	if err := gob.NewDecoder(file).Decode(&meta); err != nil {
		return nil, fmt.Errorf("decode vector meta: %w", err)
	}
	return &meta, nil
}

// ReadVectorIndexDimensions reads the dimensionality from a saved index's
// sidecar without loading the graph. Returns zero when no index exists yet.
func ReadVectorIndexDimensions(path string) (int, error) {
	file, err := os.Open(path + ".meta")
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("open vector meta file: %w", err)
	}
	defer func() { _ = file.Close() }()

	var meta vectorIndexMeta
	if err := gob.NewDecoder(file).Decode(&meta); err != nil {
		return 0, fmt.Errorf("decode vector meta: %w", err)
	}
	return meta.Config.Dimensions, nil
}

// Close drops the graph. The index must be saved first if its contents
// matter.
func (v *VectorIndex) Close() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.closed = true
	v.graph = nil
}

func dimensionMismatch(expected, got int) error {
	return errors.New(errors.ErrCodeDimensionMismatch,
		fmt.Sprintf("vector has %d dimensions, index was built with %d", got, expected), nil).
		WithDetail("expected", fmt.Sprintf("%d", expected)).
		WithDetail("got", fmt.Sprintf("%d", got)).
		WithSuggestion("the embedding model changed; reindex the folder to rebuild its vectors")
}

func normalizeInPlace(v []float32) {
	var sumSquares float64
	for _, val := range v {
		sumSquares += float64(val) * float64(val)
	}
	if sumSquares == 0 {
		return
	}
	inv := float32(1.0 / math.Sqrt(sumSquares))
	for i := range v {
		v[i] *= inv
	}
}

// distanceToScore maps a distance to a similarity in [0, 1]. Cosine distance
// spans [0, 2]; L2 spans [0, inf).
func distanceToScore(distance float32, metric string) float32 {
	switch metric {
	case "l2":
		return 1.0 / (1.0 + distance)
	default:
		return 1.0 - distance/2.0
	}
}
