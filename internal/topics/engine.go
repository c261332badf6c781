// Package topics clusters the indexed documents into labeled topics.
package topics

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/altiplano/afin/internal/config"
	"github.com/altiplano/afin/internal/models"
	"github.com/altiplano/afin/internal/storage"
	"github.com/altiplano/afin/internal/vector"
)

// ErrClusteringUnavailable is returned when the index holds too few vectors
// to form even one cluster.
var ErrClusteringUnavailable = errors.New("clustering unavailable")

// Engine runs the offline topic build: snapshot the index, cluster, label,
// and swap the stored generation.
type Engine struct {
	manager *vector.Manager
	store   storage.Store
	labeler *Labeler
	params  ClusterParams
	logger  *zap.Logger
}

// NewEngine creates a topic engine from the topics configuration.
func NewEngine(manager *vector.Manager, store storage.Store, cfg *config.TopicsConfig, logger *zap.Logger) (*Engine, error) {
	labeler, err := NewLabeler(cfg.LabelTerms)
	if err != nil {
		return nil, err
	}
	params := ClusterParams{
		MinClusterSize: cfg.MinClusterSize,
		MinSamples:     cfg.MinSamples,
		Epsilon:        cfg.Epsilon,
	}
	params.defaults()
	return &Engine{
		manager: manager,
		store:   store,
		labeler: labeler,
		params:  params,
		logger:  logger,
	}, nil
}

// Run executes one clustering pass and returns the recorded run. The index
// snapshot is taken under a read lease and released before the quadratic
// clustering work, so searches keep flowing while the topics build.
func (e *Engine) Run(ctx context.Context) (*models.ClusterRun, error) {
	started := time.Now().UTC()

	var (
		vectors [][]float32
		ids     []string
	)
	err := e.manager.WithReadAccess(func(index *vector.FlatIndex, idmap *vector.IdentifierMap) error {
		vectors = index.ReconstructAll()
		ids = idmap.ResolveAll()
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(vectors) < e.params.MinClusterSize {
		return nil, fmt.Errorf("%w: %d vectors indexed, need at least %d",
			ErrClusteringUnavailable, len(vectors), e.params.MinClusterSize)
	}

	result := Cluster(vectors, e.params)
	model := e.manager.Status().Model

	labels, err := e.labelClusters(ctx, model, ids, result)
	if err != nil {
		return nil, err
	}

	assignments := make([]models.ClusterAssignment, len(ids))
	for i, id := range ids {
		assignments[i] = models.ClusterAssignment{UUID: id, Model: model, ClusterID: result.Labels[i]}
	}

	run := &models.ClusterRun{
		Model:          model,
		MinClusterSize: e.params.MinClusterSize,
		MinSamples:     e.params.MinSamples,
		Epsilon:        e.params.Epsilon,
		Clusters:       result.Clusters,
		Noise:          result.Noise,
		Total:          len(ids),
		StartedAt:      started,
		FinishedAt:     time.Now().UTC(),
	}
	if err := e.store.ReplaceClusters(ctx, run, assignments, labels); err != nil {
		return nil, fmt.Errorf("store clusters: %w", err)
	}

	e.logger.Info("topic clustering complete",
		zap.String("model", model),
		zap.Int("documents", run.Total),
		zap.Int("clusters", run.Clusters),
		zap.Int("noise", run.Noise),
		zap.Duration("elapsed", run.FinishedAt.Sub(run.StartedAt)))
	return run, nil
}

// labelClusters fetches the member titles per cluster and derives a label
// for each. Clusters whose members have no usable titles get the fallback.
func (e *Engine) labelClusters(ctx context.Context, model string, ids []string, result *Result) ([]models.ClusterLabel, error) {
	members := make(map[int][]string)
	clustered := make([]string, 0, len(ids))
	for i, id := range ids {
		c := result.Labels[i]
		if c == models.NoiseCluster {
			continue
		}
		members[c] = append(members[c], id)
		clustered = append(clustered, id)
	}

	summaries, err := e.store.GetSummaries(ctx, model, clustered)
	if err != nil {
		return nil, fmt.Errorf("load member titles: %w", err)
	}

	labels := make([]models.ClusterLabel, 0, result.Clusters)
	for c := 0; c < result.Clusters; c++ {
		titles := make([]string, 0, len(members[c]))
		for _, id := range members[c] {
			if s, ok := summaries[id]; ok && s.Title != "" {
				titles = append(titles, s.Title)
			}
		}
		labels = append(labels, models.ClusterLabel{
			Model:     model,
			ClusterID: c,
			Label:     e.labeler.Label(c, titles),
			Size:      len(members[c]),
		})
	}
	return labels, nil
}
