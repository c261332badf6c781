// Package search runs embedding recommendation queries against the live
// index and enriches the hits from the document store.
package search

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/altiplano/afin/internal/config"
	"github.com/altiplano/afin/internal/embedding"
	"github.com/altiplano/afin/internal/models"
	"github.com/altiplano/afin/internal/storage"
	"github.com/altiplano/afin/internal/topics"
	"github.com/altiplano/afin/internal/vector"
	"github.com/altiplano/afin/pkg/utils"
)

// ErrEmptyQuery is returned when the query text is blank after trimming.
var ErrEmptyQuery = errors.New("empty query")

// Engine answers recommendation queries.
type Engine struct {
	manager  *vector.Manager
	encoder  embedding.Encoder
	store    storage.Store
	resolver *topics.Resolver
	config   *config.SearchConfig
}

// NewEngine creates a search engine with the given dependencies.
func NewEngine(
	manager *vector.Manager,
	encoder embedding.Encoder,
	store storage.Store,
	resolver *topics.Resolver,
	cfg *config.SearchConfig,
) *Engine {
	return &Engine{
		manager:  manager,
		encoder:  encoder,
		store:    store,
		resolver: resolver,
		config:   cfg,
	}
}

// Recommend encodes the query text, searches the live index, and resolves
// the hits to documents. Encode, search, and resolve all run under a single
// read lease so a concurrent reload cannot swap the index between the search
// and the ordinal resolution.
func (e *Engine) Recommend(ctx context.Context, query *models.RecommendQuery) (*models.Recommendation, error) {
	startTime := time.Now()
	if err := query.Validate(); err != nil {
		return nil, err
	}
	if e.config.MaxK > 0 && query.K > e.config.MaxK {
		query.K = e.config.MaxK
	}
	// Queries are normalized the same way document text is before encoding,
	// so both sides of the similarity live in the same space.
	text := utils.NormalizeText(query.Text)
	if text == "" {
		return nil, fmt.Errorf("%w: query text is blank", ErrEmptyQuery)
	}

	response := &models.Recommendation{
		Results: []*models.RecommendItem{},
		Model:   e.manager.Status().Model,
	}

	var (
		hits []vector.Hit
		ids  []string
	)
	err := e.manager.WithReadAccess(func(index *vector.FlatIndex, idmap *vector.IdentifierMap) error {
		// A zero k is an empty result, not an error, but only once the
		// index is known to be ready.
		if query.K == 0 {
			return nil
		}
		queryVector, err := e.encoder.Encode(ctx, text)
		if err != nil {
			return fmt.Errorf("encode query: %w", err)
		}
		hits, err = index.Search(queryVector, query.K)
		if err != nil {
			return fmt.Errorf("vector search: %w", err)
		}
		ids = make([]string, len(hits))
		for i, hit := range hits {
			id, err := idmap.Resolve(hit.Ordinal)
			if err != nil {
				return fmt.Errorf("resolve ordinal %d: %w", hit.Ordinal, err)
			}
			ids[i] = id
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	summaries, err := e.store.GetSummaries(ctx, response.Model, ids)
	if err != nil {
		return nil, fmt.Errorf("load summaries: %w", err)
	}
	for i, hit := range hits {
		summary, ok := summaries[ids[i]]
		if !ok {
			// Indexed but since removed from the store; the ordinal stays
			// in the index until the next full rebuild.
			continue
		}
		item := &models.RecommendItem{
			UUID:      summary.UUID,
			Title:     summary.Title,
			URL:       summary.URL,
			Source:    summary.Source,
			Score:     hit.Score,
			ClusterID: summary.ClusterID,
			Label:     summary.Label,
			Rank:      len(response.Results) + 1,
		}
		if query.IncludeAbstract {
			item.Abstract = summary.Abstract
		}
		response.Results = append(response.Results, item)
	}

	if err := e.enrichTopic(ctx, query, response); err != nil {
		return nil, err
	}

	response.QueryTime = time.Since(startTime).Milliseconds()
	return response, nil
}

// enrichTopic infers the query's topic from the top hit's cluster and, when
// asked, attaches the cluster siblings. Noise assignments infer nothing.
func (e *Engine) enrichTopic(ctx context.Context, query *models.RecommendQuery, response *models.Recommendation) error {
	if len(response.Results) == 0 {
		return nil
	}
	top := response.Results[0]
	if top.ClusterID == models.NoiseCluster {
		return nil
	}

	topic := &models.Topic{ClusterID: top.ClusterID, Label: top.Label}
	if label, err := e.store.GetClusterLabel(ctx, response.Model, top.ClusterID); err == nil {
		topic.Label = label.Label
		topic.Size = label.Size
	}
	response.InferredTopic = topic

	if !query.SameTopic {
		return nil
	}
	siblings, err := e.resolver.Siblings(ctx, top.ClusterID, top.UUID, query.SameTopicK)
	if err != nil {
		return fmt.Errorf("same-topic lookup: %w", err)
	}
	for i, sibling := range siblings {
		item := &models.RecommendItem{
			UUID:      sibling.UUID,
			Title:     sibling.Title,
			URL:       sibling.URL,
			Source:    sibling.Source,
			ClusterID: sibling.ClusterID,
			Label:     sibling.Label,
			Rank:      i + 1,
		}
		if query.IncludeAbstract {
			item.Abstract = sibling.Abstract
		}
		response.SameTopic = append(response.SameTopic, item)
	}
	return nil
}
