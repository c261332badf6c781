// Package storage defines the persistence interface for documents, cluster
// assignments, and the embedding fallback store.
package storage

import (
	"context"
	"errors"

	"github.com/altiplano/afin/internal/models"
	"github.com/altiplano/afin/internal/vector"
)

// ErrNotFound is returned when a lookup matches nothing.
var ErrNotFound = errors.New("not found")

// Store defines document, topic, and embedding persistence operations.
// All state keyed by model partitions cleanly: assignments, labels, runs,
// and stored embeddings for different models never mix.
type Store interface {
	// Document operations
	UpsertDocument(ctx context.Context, doc *models.Document) error
	GetDocument(ctx context.Context, uuid string) (*models.Document, error)
	DeleteDocument(ctx context.Context, uuid string) error
	ListDocuments(ctx context.Context, offset, limit int) ([]*models.Document, error)
	// ListIdentifiersWithText returns, in insertion order, the identifiers
	// of documents whose embedding text is non-empty. This is the corpus
	// side of the indexing set difference.
	ListIdentifiersWithText(ctx context.Context) ([]string, error)
	FetchEmbeddingTexts(ctx context.Context, uuids []string) (map[string]string, error)
	// GetSummaries joins documents with their cluster assignment and label
	// under model. Unclustered documents carry the noise cluster id.
	GetSummaries(ctx context.Context, model string, uuids []string) (map[string]*models.DocumentSummary, error)

	// Topic operations
	// ReplaceClusters atomically swaps all assignments and labels for
	// run.Model and records the run. Readers never observe a half-replaced
	// generation.
	ReplaceClusters(ctx context.Context, run *models.ClusterRun, assignments []models.ClusterAssignment, labels []models.ClusterLabel) error
	ClusterOf(ctx context.Context, model, uuid string) (int, error)
	Siblings(ctx context.Context, model string, clusterID int, excludeUUID string, limit int) ([]*models.DocumentSummary, error)
	TopTopics(ctx context.Context, model string, limit int) ([]models.ClusterLabel, error)
	GetClusterLabel(ctx context.Context, model string, clusterID int) (*models.ClusterLabel, error)
	LatestRun(ctx context.Context, model string) (*models.ClusterRun, error)

	// Embedding fallback store, mirroring the index artifacts so a lost
	// index directory can be rebuilt. Positions are the index ordinals.
	SaveEmbeddings(ctx context.Context, model string, start int, embeddings []vector.StoredEmbedding) error
	LoadEmbeddings(ctx context.Context, model string) ([]vector.StoredEmbedding, error)
	// ClearEmbeddings drops the fallback rows for model before a full
	// rebuild re-encodes the corpus.
	ClearEmbeddings(ctx context.Context, model string) error

	// Stats
	CountDocuments(ctx context.Context) (int64, error)

	Close() error
}
