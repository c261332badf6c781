package topics

import (
	"context"
	"errors"
	"fmt"

	"github.com/altiplano/afin/internal/models"
	"github.com/altiplano/afin/internal/storage"
)

// ErrNoiseCluster is returned when the anchor document was classified as
// noise, which belongs to no topic and so has no siblings.
var ErrNoiseCluster = errors.New("noise cluster")

// Resolver answers same-topic queries: the other members of a document's
// cluster, most recently updated first.
type Resolver struct {
	store storage.Store
	model string
}

// NewResolver creates a resolver for the clustering generation under model.
func NewResolver(store storage.Store, model string) *Resolver {
	return &Resolver{store: store, model: model}
}

// SameTopic returns up to limit cluster siblings of the document, the
// document itself excluded. Documents assigned to noise return
// ErrNoiseCluster; documents never clustered return storage.ErrNotFound.
func (r *Resolver) SameTopic(ctx context.Context, uuid string, limit int) ([]*models.DocumentSummary, error) {
	clusterID, err := r.store.ClusterOf(ctx, r.model, uuid)
	if err != nil {
		return nil, err
	}
	return r.Siblings(ctx, clusterID, uuid, limit)
}

// Siblings lists up to limit members of clusterID, excludeUUID left out,
// most recently updated first with ties broken by identifier. The noise
// bucket is not a topic, so asking for its members is ErrNoiseCluster.
func (r *Resolver) Siblings(ctx context.Context, clusterID int, excludeUUID string, limit int) ([]*models.DocumentSummary, error) {
	if clusterID == models.NoiseCluster {
		return nil, fmt.Errorf("%w: cluster %d", ErrNoiseCluster, clusterID)
	}
	return r.store.Siblings(ctx, r.model, clusterID, excludeUUID, limit)
}
