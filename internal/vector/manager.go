package vector

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"
)

// State is the manager's lifecycle position. Queries are legal only in
// StateReady; everything else fails fast with ErrNotReady so callers see
// unavailability as data, not as a panic or a hang.
type State int

const (
	StateUnloaded State = iota
	StateLoading
	StateReady
	StateFailed
)

// String returns the lowercase state name.
func (s State) String() string {
	switch s {
	case StateUnloaded:
		return "unloaded"
	case StateLoading:
		return "loading"
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// StoredEmbedding is one persisted vector from the backing store, used to
// rebuild artifacts when the index directory is missing or unreadable.
type StoredEmbedding struct {
	UUID   string
	Vector []float32
}

// RebuildSource supplies persisted embeddings in their original insertion
// order so a rebuilt index reproduces the ordinal assignment.
type RebuildSource interface {
	LoadEmbeddings(ctx context.Context, model string) ([]StoredEmbedding, error)
}

// Manager owns the live (index, identifier map) pair. Readers take shared
// access for the whole of encode+search+resolve; reloads build the new pair
// aside and take exclusive access only for the pointer swap, so in-flight
// readers always see one consistent pair.
type Manager struct {
	dir        string
	model      string
	dimensions int
	source     RebuildSource
	logger     *zap.Logger

	// reloadMu serializes Load and Reload so concurrent reload requests
	// run one after another instead of racing the artifact files.
	reloadMu sync.Mutex

	// mu guards the fields below. Load/Reload write them only at install
	// time; queries hold the read side across their whole operation.
	mu     sync.RWMutex
	index  *FlatIndex
	idmap  *IdentifierMap
	meta   *Meta
	state  State
	reason string
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithModel fixes the active model identifier instead of taking it from the
// metadata artifact at cold start.
func WithModel(model string) ManagerOption {
	return func(m *Manager) { m.model = model }
}

// WithDimensions sets the dimension used when bootstrapping an empty index
// on a fresh deployment (no artifacts, nothing in the backing store).
func WithDimensions(d int) ManagerOption {
	return func(m *Manager) { m.dimensions = d }
}

// WithRebuildSource enables the rebuild-from-store fallback for missing or
// unreadable artifacts.
func WithRebuildSource(src RebuildSource) ManagerOption {
	return func(m *Manager) { m.source = src }
}

// NewManager creates a manager for the artifact directory dir. The pair is
// not loaded until Load is called; until then all access returns ErrNotReady.
func NewManager(dir string, logger *zap.Logger, opts ...ManagerOption) *Manager {
	m := &Manager{
		dir:    dir,
		logger: logger,
		state:  StateUnloaded,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Dir returns the artifact directory the manager loads from and persists to.
func (m *Manager) Dir() string {
	return m.dir
}

// Status is a point-in-time snapshot for health reporting.
type Status struct {
	State     State
	Err       string
	Model     string
	Dimension int
	Count     int
}

// Status returns the current state, the failure reason if any, and the live
// pair's identity and size.
func (m *Manager) Status() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	st := Status{State: m.state, Err: m.reason, Model: m.model}
	if m.index != nil {
		st.Dimension = m.index.Dimensions()
		st.Count = m.index.Count()
	}
	return st
}

// State returns the current state and, for StateFailed, the reason.
func (m *Manager) State() (State, string) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state, m.reason
}

// Load performs the cold start: read the artifacts, or fall back to
// rebuilding them from the backing store. On failure the manager lands in
// StateFailed with the reason captured; it never panics the process.
func (m *Manager) Load(ctx context.Context) error {
	m.reloadMu.Lock()
	defer m.reloadMu.Unlock()

	m.mu.Lock()
	m.state = StateLoading
	m.reason = ""
	m.mu.Unlock()

	start := time.Now()
	index, idmap, meta, err := m.loadPair(ctx)
	if err != nil {
		m.mu.Lock()
		m.state = StateFailed
		m.reason = err.Error()
		m.mu.Unlock()
		m.logger.Error("index load failed", zap.String("dir", m.dir), zap.Error(err))
		return err
	}

	m.mu.Lock()
	m.index = index
	m.idmap = idmap
	m.meta = meta
	m.model = meta.Model
	m.state = StateReady
	m.reason = ""
	m.mu.Unlock()

	m.logger.Info("index loaded",
		zap.String("dir", m.dir),
		zap.String("model", meta.Model),
		zap.Int("vectors", index.Count()),
		zap.Int("dimension", index.Dimensions()),
		zap.Duration("elapsed", time.Since(start)))
	return nil
}

// Reload refreshes the pair from disk after an offline job has rewritten
// the artifacts. Legal only from StateReady. The new pair is loaded and
// validated aside while readers keep using the old one; only the final
// pointer swap takes the write lock. If the new pair is unreadable the old
// pair stays live and the error is returned.
func (m *Manager) Reload(ctx context.Context) error {
	m.reloadMu.Lock()
	defer m.reloadMu.Unlock()

	if state, reason := m.State(); state != StateReady {
		return fmt.Errorf("%w: reload requires ready state, currently %s (%s)", ErrNotReady, state, reason)
	}

	start := time.Now()
	index, idmap, meta, err := m.loadPair(ctx)
	if err != nil {
		m.logger.Error("index reload failed, previous index still serving",
			zap.String("dir", m.dir), zap.Error(err))
		return err
	}

	m.mu.Lock()
	m.index = index
	m.idmap = idmap
	m.meta = meta
	m.model = meta.Model
	m.mu.Unlock()

	m.logger.Info("index reloaded",
		zap.String("dir", m.dir),
		zap.String("model", meta.Model),
		zap.Int("vectors", index.Count()),
		zap.Duration("elapsed", time.Since(start)))
	return nil
}

// loadPair reads and validates an (index, idmap, meta) triple without
// touching the live pair. Missing or unreadable artifacts fall back to the
// rebuild source when one is configured.
func (m *Manager) loadPair(ctx context.Context) (*FlatIndex, *IdentifierMap, *Meta, error) {
	meta, metaErr := LoadMeta(MetaPath(m.dir))
	if metaErr == nil && m.model != "" && meta.Model != m.model {
		m.logger.Warn("artifacts belong to another model, rebuilding",
			zap.String("artifact_model", meta.Model),
			zap.String("configured_model", m.model))
		return m.rebuild(ctx)
	}

	index, idxErr := LoadFlatIndex(IndexPath(m.dir))
	idmap, mapErr := LoadIdentifierMap(MapPath(m.dir))
	if idxErr != nil || mapErr != nil || metaErr != nil {
		err := errors.Join(idxErr, mapErr, metaErr)
		if m.source == nil && !onlyMissing(idxErr, mapErr, metaErr) {
			return nil, nil, nil, fmt.Errorf("load artifacts: %w", err)
		}
		m.logger.Warn("index artifacts missing or unreadable, rebuilding from backing store",
			zap.String("dir", m.dir), zap.Error(err))
		return m.rebuild(ctx)
	}

	if index.Count() != idmap.Count() {
		return nil, nil, nil, fmt.Errorf("%w: index has %d vectors, map has %d identifiers",
			ErrCorruptIndexState, index.Count(), idmap.Count())
	}
	if meta.Dimension != index.Dimensions() {
		return nil, nil, nil, fmt.Errorf("%w: meta dimension %d, index dimension %d",
			ErrCorruptIndexState, meta.Dimension, index.Dimensions())
	}
	if meta.Count != index.Count() {
		// Meta is written last; a crash between artifact writes can leave
		// it behind. The pair itself is consistent, so serve it.
		m.logger.Warn("meta count stale",
			zap.Int("meta_count", meta.Count), zap.Int("index_count", index.Count()))
	}
	return index, idmap, meta, nil
}

// rebuild synthesizes the pair from the backing store's persisted
// embeddings, preserving insertion order so ordinals match the original
// assignment. With no source and no stored vectors it bootstraps an empty
// index when a dimension is configured.
func (m *Manager) rebuild(ctx context.Context) (*FlatIndex, *IdentifierMap, *Meta, error) {
	var stored []StoredEmbedding
	if m.source != nil {
		var err error
		stored, err = m.source.LoadEmbeddings(ctx, m.model)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("load embeddings from store: %w", err)
		}
	}

	dim := m.dimensions
	if len(stored) > 0 {
		dim = len(stored[0].Vector)
	}
	if dim <= 0 {
		return nil, nil, nil, fmt.Errorf("cannot rebuild: no stored embeddings and no configured dimension")
	}

	index, err := NewFlatIndex(dim)
	if err != nil {
		return nil, nil, nil, err
	}
	idmap := NewIdentifierMap()
	ids := make([]string, 0, len(stored))
	vecs := make([][]float32, 0, len(stored))
	for _, e := range stored {
		ids = append(ids, e.UUID)
		vecs = append(vecs, e.Vector)
	}
	if len(vecs) > 0 {
		if _, err := index.Add(vecs); err != nil {
			return nil, nil, nil, fmt.Errorf("rebuild index: %w", err)
		}
		idmap.Append(ids)
	}

	meta := &Meta{Model: m.model, Dimension: dim, Count: index.Count(), UpdatedAt: time.Now().UTC()}
	if len(stored) > 0 {
		if err := persistPair(m.dir, index, idmap, meta); err != nil {
			return nil, nil, nil, fmt.Errorf("persist rebuilt artifacts: %w", err)
		}
		m.logger.Info("index rebuilt from backing store",
			zap.String("model", m.model), zap.Int("vectors", index.Count()))
	} else {
		m.logger.Info("bootstrapped empty index",
			zap.String("model", m.model), zap.Int("dimension", dim))
	}
	return index, idmap, meta, nil
}

func onlyMissing(errs ...error) bool {
	for _, err := range errs {
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return false
		}
	}
	return true
}

// WithReadAccess runs fn with shared access to the live pair. The pair
// cannot be swapped out from under fn, so encode+search+resolve all see one
// snapshot. Returns ErrNotReady (with the reason) outside StateReady.
func (m *Manager) WithReadAccess(fn func(index *FlatIndex, idmap *IdentifierMap) error) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.state != StateReady {
		if m.reason != "" {
			return fmt.Errorf("%w: %s: %s", ErrNotReady, m.state, m.reason)
		}
		return fmt.Errorf("%w: %s", ErrNotReady, m.state)
	}
	return fn(m.index, m.idmap)
}

// WithWriteAccess runs fn with exclusive access to the live pair. Append
// jobs use this so a vector and its identifier land together.
func (m *Manager) WithWriteAccess(fn func(index *FlatIndex, idmap *IdentifierMap) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateReady {
		if m.reason != "" {
			return fmt.Errorf("%w: %s: %s", ErrNotReady, m.state, m.reason)
		}
		return fmt.Errorf("%w: %s", ErrNotReady, m.state)
	}
	return fn(m.index, m.idmap)
}

// Persist writes the live pair to the artifact directory: index, identifier
// map, then meta last so a complete meta always describes complete
// artifacts. The pair is validated first; a count mismatch aborts the write
// with ErrCorruptIndexState.
func (m *Manager) Persist() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateReady {
		return fmt.Errorf("%w: %s", ErrNotReady, m.state)
	}
	if m.index.Count() != m.idmap.Count() {
		return fmt.Errorf("%w: index has %d vectors, map has %d identifiers",
			ErrCorruptIndexState, m.index.Count(), m.idmap.Count())
	}
	meta := &Meta{
		Model:     m.model,
		Dimension: m.index.Dimensions(),
		Count:     m.index.Count(),
		UpdatedAt: time.Now().UTC(),
	}
	if err := persistPair(m.dir, m.index, m.idmap, meta); err != nil {
		return err
	}
	m.meta = meta
	return nil
}

func persistPair(dir string, index *FlatIndex, idmap *IdentifierMap, meta *Meta) error {
	if err := index.Save(IndexPath(dir)); err != nil {
		return err
	}
	if err := idmap.Save(MapPath(dir)); err != nil {
		return err
	}
	return meta.Save(MetaPath(dir))
}
