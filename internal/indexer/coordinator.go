// Package indexer grows the vector index to cover the stored corpus.
package indexer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/altiplano/afin/internal/config"
	"github.com/altiplano/afin/internal/embedding"
	"github.com/altiplano/afin/internal/storage"
	"github.com/altiplano/afin/internal/vector"
	"github.com/altiplano/afin/pkg/utils"
	"go.uber.org/zap"
)

const defaultBatchSize = 32

// RunStats summarizes one indexing run.
type RunStats struct {
	Corpus  int // documents with embedding text in the store
	Indexed int // vectors encoded and appended by this run
	Total   int // vectors in the index after the run
	Elapsed time.Duration
}

// Coordinator tops up the vector index with documents the store holds but
// the index does not. Runs append only; a document that loses its text or
// is deleted keeps its ordinal until Rebuild renumbers everything.
type Coordinator struct {
	manager *vector.Manager
	encoder embedding.Encoder
	store   storage.Store
	batch   int
	logger  *zap.Logger
}

// NewCoordinator creates a coordinator with the given dependencies.
func NewCoordinator(
	manager *vector.Manager,
	encoder embedding.Encoder,
	store storage.Store,
	cfg *config.IndexerConfig,
	logger *zap.Logger,
) *Coordinator {
	batch := defaultBatchSize
	if cfg != nil && cfg.BatchSize > 0 {
		batch = cfg.BatchSize
	}
	return &Coordinator{
		manager: manager,
		encoder: encoder,
		store:   store,
		batch:   batch,
		logger:  logger,
	}
}

// Run indexes every stored document whose text is not in the index yet.
// The pair is validated first; a vector/identifier count mismatch halts the
// run with ErrCorruptIndexState before anything is encoded. Nothing is
// persisted until all batches have encoded and appended cleanly. With no
// new documents the run still validates the pair and returns with counts
// unchanged, so repeated runs are harmless.
func (c *Coordinator) Run(ctx context.Context) (*RunStats, error) {
	start := time.Now()

	corpus, err := c.store.ListIdentifiersWithText(ctx)
	if err != nil {
		return nil, fmt.Errorf("list identifiers: %w", err)
	}

	var pending []string
	var before int
	err = c.manager.WithReadAccess(func(index *vector.FlatIndex, idmap *vector.IdentifierMap) error {
		if index.Count() != idmap.Count() {
			return fmt.Errorf("%w: index has %d vectors, map has %d identifiers",
				vector.ErrCorruptIndexState, index.Count(), idmap.Count())
		}
		before = index.Count()
		for _, id := range corpus {
			if !idmap.Has(id) {
				pending = append(pending, id)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	stats := &RunStats{Corpus: len(corpus), Total: before}
	if len(pending) == 0 {
		stats.Elapsed = time.Since(start)
		c.logger.Info("index up to date",
			zap.Int("corpus", stats.Corpus),
			zap.Int("vectors", stats.Total))
		return stats, nil
	}

	ids, vecs, err := c.encodeTexts(ctx, pending)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		stats.Elapsed = time.Since(start)
		return stats, nil
	}

	var startOrdinal int
	err = c.manager.WithWriteAccess(func(index *vector.FlatIndex, idmap *vector.IdentifierMap) error {
		ordinal, err := index.Add(vecs)
		if err != nil {
			return fmt.Errorf("append vectors: %w", err)
		}
		idmap.Append(ids)
		startOrdinal = ordinal
		return nil
	})
	if err != nil {
		return nil, err
	}

	model := c.model()
	if err := c.store.SaveEmbeddings(ctx, model, startOrdinal, storedEmbeddings(ids, vecs)); err != nil {
		return nil, fmt.Errorf("persist embeddings: %w", err)
	}
	if err := c.manager.Persist(); err != nil {
		return nil, fmt.Errorf("persist artifacts: %w", err)
	}

	stats.Indexed = len(ids)
	stats.Total = startOrdinal + len(ids)
	stats.Elapsed = time.Since(start)
	c.logger.Info("indexing run complete",
		zap.String("model", model),
		zap.Int("corpus", stats.Corpus),
		zap.Int("new", stats.Indexed),
		zap.Int("vectors", stats.Total),
		zap.Duration("elapsed", stats.Elapsed))
	return stats, nil
}

// Rebuild re-encodes the full corpus into a fresh pair, replacing the live
// one. This is the only path that shrinks the index and the recovery path
// when the pair has diverged; it does not require the manager to be ready.
// The store's embedding rows are rewritten first, then the artifacts are
// dropped so the reload falls back to those rows.
func (c *Coordinator) Rebuild(ctx context.Context) (*RunStats, error) {
	start := time.Now()

	corpus, err := c.store.ListIdentifiersWithText(ctx)
	if err != nil {
		return nil, fmt.Errorf("list identifiers: %w", err)
	}
	ids, vecs, err := c.encodeTexts(ctx, corpus)
	if err != nil {
		return nil, err
	}

	model := c.model()
	if err := c.store.ClearEmbeddings(ctx, model); err != nil {
		return nil, fmt.Errorf("clear stored embeddings: %w", err)
	}
	if err := c.store.SaveEmbeddings(ctx, model, 0, storedEmbeddings(ids, vecs)); err != nil {
		return nil, fmt.Errorf("persist embeddings: %w", err)
	}

	if err := removeArtifacts(c.manager.Dir()); err != nil {
		return nil, fmt.Errorf("remove artifacts: %w", err)
	}
	if err := c.manager.Load(ctx); err != nil {
		return nil, fmt.Errorf("load rebuilt index: %w", err)
	}

	stats := &RunStats{
		Corpus:  len(corpus),
		Indexed: len(ids),
		Total:   c.manager.Status().Count,
		Elapsed: time.Since(start),
	}
	c.logger.Info("index rebuilt",
		zap.String("model", model),
		zap.Int("corpus", stats.Corpus),
		zap.Int("vectors", stats.Total),
		zap.Duration("elapsed", stats.Elapsed))
	return stats, nil
}

// model returns the identifier embeddings rows are keyed under. It must match
// the partition the manager rebuilds from, so the manager's active model wins
// over the encoder's own name whenever one is set.
func (c *Coordinator) model() string {
	if m := c.manager.Status().Model; m != "" {
		return m
	}
	return c.encoder.ModelName()
}

// encodeTexts fetches and normalizes the embedding text for each id, then
// encodes in batches. Ids whose document vanished or blanked since the
// listing are skipped; the returned slices stay parallel.
func (c *Coordinator) encodeTexts(ctx context.Context, pending []string) ([]string, [][]float32, error) {
	if len(pending) == 0 {
		return nil, nil, nil
	}
	texts, err := c.store.FetchEmbeddingTexts(ctx, pending)
	if err != nil {
		return nil, nil, fmt.Errorf("fetch texts: %w", err)
	}

	ids := make([]string, 0, len(pending))
	inputs := make([]string, 0, len(pending))
	for _, id := range pending {
		text := utils.NormalizeText(texts[id])
		if text == "" {
			continue
		}
		ids = append(ids, id)
		inputs = append(inputs, text)
	}

	vecs := make([][]float32, 0, len(inputs))
	for i := 0; i < len(inputs); i += c.batch {
		end := i + c.batch
		if end > len(inputs) {
			end = len(inputs)
		}
		batch, err := c.encoder.EncodeBatch(ctx, inputs[i:end])
		if err != nil {
			return nil, nil, fmt.Errorf("encode batch at %d: %w", i, err)
		}
		vecs = append(vecs, batch...)
	}
	return ids, vecs, nil
}

func storedEmbeddings(ids []string, vecs [][]float32) []vector.StoredEmbedding {
	stored := make([]vector.StoredEmbedding, len(ids))
	for i, id := range ids {
		stored[i] = vector.StoredEmbedding{UUID: id, Vector: vecs[i]}
	}
	return stored
}

func removeArtifacts(dir string) error {
	for _, path := range []string{vector.IndexPath(dir), vector.MapPath(dir), vector.MetaPath(dir)} {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return err
		}
	}
	return nil
}
