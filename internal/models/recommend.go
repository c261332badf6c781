package models

import "fmt"

// RecommendQuery represents a recommendation request.
type RecommendQuery struct {
	Text            string `json:"text"`
	K               int    `json:"k,omitempty"`
	SameTopic       bool   `json:"same_topic,omitempty"`        // also return same-topic siblings of the top hit
	SameTopicK      int    `json:"same_topic_k,omitempty"`      // sibling count, defaults to K
	IncludeAbstract bool   `json:"include_abstract,omitempty"`
}

// Validate normalizes limits. It does not reject empty text; blank queries
// are the search engine's EmptyQuery case so the transport layer can map the
// error uniformly.
func (q *RecommendQuery) Validate() error {
	if q.K < 0 {
		q.K = 0
	}
	if q.K > 100 {
		q.K = 100
	}
	if q.SameTopicK <= 0 {
		q.SameTopicK = q.K
	}
	if q.SameTopicK > 100 {
		q.SameTopicK = 100
	}
	return nil
}

// RecommendItem is a single ranked hit.
type RecommendItem struct {
	UUID      string  `json:"uuid"`
	Title     string  `json:"title"`
	Abstract  string  `json:"abstract,omitempty"`
	URL       string  `json:"url,omitempty"`
	Source    string  `json:"source,omitempty"`
	Score     float64 `json:"score"`
	ClusterID int     `json:"cluster_id"`
	Label     string  `json:"label,omitempty"`
	Rank      int     `json:"rank"`
}

// Topic names the latent topic inferred for a query from its top hit.
type Topic struct {
	ClusterID int    `json:"cluster_id"`
	Label     string `json:"label"`
	Size      int    `json:"size,omitempty"`
}

// Recommendation is the response for a recommend request.
type Recommendation struct {
	Results       []*RecommendItem `json:"results"`
	InferredTopic *Topic           `json:"inferred_topic,omitempty"`
	SameTopic     []*RecommendItem `json:"same_topic,omitempty"`
	Model         string           `json:"model"`
	QueryTime     int64            `json:"query_time_ms"`
}

// String implements fmt.Stringer for log-friendly one-line summaries.
func (r *Recommendation) String() string {
	return fmt.Sprintf("recommendation{model=%s results=%d}", r.Model, len(r.Results))
}
