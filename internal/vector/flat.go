// Package vector implements the embedding index artifacts: a flat
// inner-product index keyed by dense ordinals, the ordinal-to-identifier
// map, the index metadata record, and the manager that guards a loaded
// pair across reloads.
package vector

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

// flatMagic marks the on-disk index format. Bump the trailing digit on
// layout changes.
const flatMagic = "AFV1"

// Hit is one search result: the ordinal of a stored vector and its inner
// product with the query. On unit vectors the score is cosine similarity.
type Hit struct {
	Ordinal int
	Score   float64
}

// FlatIndex is an exact inner-product index. Vectors are stored in
// insertion order and addressed by dense ordinals 0..Count-1; removal is
// not supported, only a full rebuild can shrink the index. Safe for
// concurrent use.
type FlatIndex struct {
	dimensions int
	vectors    [][]float32
	mu         sync.RWMutex
}

// NewFlatIndex creates an empty index with the given dimension.
func NewFlatIndex(dimensions int) (*FlatIndex, error) {
	if dimensions <= 0 {
		return nil, fmt.Errorf("dimensions must be positive, got %d", dimensions)
	}
	return &FlatIndex{
		dimensions: dimensions,
		vectors:    make([][]float32, 0),
	}, nil
}

// Dimensions returns the vector dimension the index was created with.
func (x *FlatIndex) Dimensions() int {
	return x.dimensions
}

// Count returns the number of stored vectors.
func (x *FlatIndex) Count() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.vectors)
}

// Add appends a batch of vectors and returns the ordinal assigned to the
// first one; the batch occupies consecutive ordinals. The whole batch is
// validated before anything is appended so concurrent searches never see a
// partial batch.
func (x *FlatIndex) Add(vectors [][]float32) (int, error) {
	for i, vec := range vectors {
		if len(vec) != x.dimensions {
			return 0, fmt.Errorf("vector %d dimension mismatch: got %d, expected %d", i, len(vec), x.dimensions)
		}
	}
	x.mu.Lock()
	defer x.mu.Unlock()
	start := len(x.vectors)
	for _, vec := range vectors {
		cp := make([]float32, x.dimensions)
		copy(cp, vec)
		x.vectors = append(x.vectors, cp)
	}
	return start, nil
}

// Search returns the top-k stored vectors by inner product, score
// descending, ties broken by ascending ordinal. Returns at most
// min(k, Count) hits; k <= 0 yields an empty result.
func (x *FlatIndex) Search(query []float32, k int) ([]Hit, error) {
	if len(query) != x.dimensions {
		return nil, fmt.Errorf("query dimension mismatch: got %d, expected %d", len(query), x.dimensions)
	}
	x.mu.RLock()
	defer x.mu.RUnlock()
	if k <= 0 || len(x.vectors) == 0 {
		return nil, nil
	}
	hits := make([]Hit, len(x.vectors))
	for i, vec := range x.vectors {
		var dot float64
		for j := 0; j < x.dimensions; j++ {
			dot += float64(query[j] * vec[j])
		}
		hits[i] = Hit{Ordinal: i, Score: dot}
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].Ordinal < hits[j].Ordinal
	})
	if k > len(hits) {
		k = len(hits)
	}
	return hits[:k], nil
}

// Reconstruct returns a copy of the vector stored at ordinal.
func (x *FlatIndex) Reconstruct(ordinal int) ([]float32, error) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	if ordinal < 0 || ordinal >= len(x.vectors) {
		return nil, fmt.Errorf("%w: %d not in [0, %d)", ErrOutOfRange, ordinal, len(x.vectors))
	}
	cp := make([]float32, x.dimensions)
	copy(cp, x.vectors[ordinal])
	return cp, nil
}

// ReconstructAll returns a copy of every stored vector in ordinal order.
// The clustering job uses this to snapshot the matrix before releasing its
// read lease.
func (x *FlatIndex) ReconstructAll() [][]float32 {
	x.mu.RLock()
	defer x.mu.RUnlock()
	out := make([][]float32, len(x.vectors))
	for i, vec := range x.vectors {
		cp := make([]float32, x.dimensions)
		copy(cp, vec)
		out[i] = cp
	}
	return out
}

// Save persists the index to path atomically (temp file + rename).
// Format: magic (4 bytes), dimension (4), count (4), then count packed
// float32 rows, all little-endian.
func (x *FlatIndex) Save(path string) error {
	x.mu.RLock()
	defer x.mu.RUnlock()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create index dir: %w", err)
	}
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create index file: %w", err)
	}
	if err := x.writeTo(f); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("close index file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename index file: %w", err)
	}
	return nil
}

func (x *FlatIndex) writeTo(w io.Writer) error {
	if _, err := w.Write([]byte(flatMagic)); err != nil {
		return fmt.Errorf("write magic: %w", err)
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(x.dimensions)); err != nil {
		return fmt.Errorf("write dimensions: %w", err)
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(len(x.vectors))); err != nil {
		return fmt.Errorf("write count: %w", err)
	}
	for _, vec := range x.vectors {
		if _, err := w.Write(float32SliceToBytes(vec)); err != nil {
			return fmt.Errorf("write vector: %w", err)
		}
	}
	return nil
}

// LoadFlatIndex reads an index previously written by Save.
func LoadFlatIndex(path string) (*FlatIndex, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open index file: %w", err)
	}
	defer f.Close()

	magic := make([]byte, len(flatMagic))
	if _, err := io.ReadFull(f, magic); err != nil {
		return nil, fmt.Errorf("read magic: %w", err)
	}
	if string(magic) != flatMagic {
		return nil, fmt.Errorf("not an index file: bad magic %q", magic)
	}
	var dim, n uint32
	if err := binary.Read(f, binary.LittleEndian, &dim); err != nil {
		return nil, fmt.Errorf("read dimensions: %w", err)
	}
	if err := binary.Read(f, binary.LittleEndian, &n); err != nil {
		return nil, fmt.Errorf("read count: %w", err)
	}
	idx, err := NewFlatIndex(int(dim))
	if err != nil {
		return nil, err
	}
	idx.vectors = make([][]float32, 0, n)
	buf := make([]byte, int(dim)*4)
	for i := uint32(0); i < n; i++ {
		if _, err := io.ReadFull(f, buf); err != nil {
			return nil, fmt.Errorf("read vector %d: %w", i, err)
		}
		idx.vectors = append(idx.vectors, bytesToFloat32Slice(buf))
	}
	return idx, nil
}

func float32SliceToBytes(s []float32) []byte {
	const size = 4
	out := make([]byte, len(s)*size)
	for i, v := range s {
		binary.LittleEndian.PutUint32(out[i*size:(i+1)*size], math.Float32bits(v))
	}
	return out
}

func bytesToFloat32Slice(b []byte) []float32 {
	const size = 4
	out := make([]float32, len(b)/size)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*size : (i+1)*size]))
	}
	return out
}
