// Package cli renders recommendations, topic listings, and index status
// for the command line.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/altiplano/afin/internal/models"
	"github.com/altiplano/afin/internal/vector"
)

// OutputFormat is the format for command output.
type OutputFormat string

const (
	// OutputText is human-readable text (default).
	OutputText OutputFormat = "text"
	// OutputJSON is structured JSON for machine consumption.
	OutputJSON OutputFormat = "json"
)

// WriteRecommendation writes a recommendation to w in the given format.
// Use OutputJSON for parseable output consumable by other apps.
func WriteRecommendation(w io.Writer, rec *models.Recommendation, format OutputFormat) error {
	switch format {
	case OutputJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(rec)
	default:
		writeRecommendationText(w, rec)
		return nil
	}
}

func writeRecommendationText(w io.Writer, rec *models.Recommendation) {
	fmt.Fprintf(w, "\nFound %d results in %dms (model: %s)\n\n",
		len(rec.Results), rec.QueryTime, rec.Model)
	for _, item := range rec.Results {
		writeOneItem(w, item)
	}
	if rec.InferredTopic != nil {
		fmt.Fprintf(w, "Inferred topic: %s (cluster %d, %d documents)\n\n",
			rec.InferredTopic.Label, rec.InferredTopic.ClusterID, rec.InferredTopic.Size)
	}
	if len(rec.SameTopic) > 0 {
		fmt.Fprintln(w, "--- Same topic ---")
		for _, item := range rec.SameTopic {
			writeOneItem(w, item)
		}
	}
}

func writeOneItem(w io.Writer, item *models.RecommendItem) {
	fmt.Fprintf(w, "─────────────────────────────────────────────────────────\n")
	fmt.Fprintf(w, "Rank: %d | Score: %.4f\n", item.Rank, item.Score)
	fmt.Fprintf(w, "UUID: %s\n", item.UUID)
	if item.Title != "" {
		fmt.Fprintf(w, "Title: %s\n", item.Title)
	}
	if item.Label != "" {
		fmt.Fprintf(w, "Topic: %s (cluster %d)\n", item.Label, item.ClusterID)
	}
	if item.Abstract != "" {
		fmt.Fprintf(w, "\n%s\n", TruncateWords(item.Abstract, 40))
	}
	fmt.Fprintln(w)
}

// WriteTopics writes a topic listing to w in the given format.
func WriteTopics(w io.Writer, topics []models.ClusterLabel, format OutputFormat) error {
	switch format {
	case OutputJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(topics)
	default:
		writeTopicsText(w, topics)
		return nil
	}
}

func writeTopicsText(w io.Writer, topics []models.ClusterLabel) {
	if len(topics) == 0 {
		fmt.Fprintln(w, "No topics found. Run `afin topics` after an indexing pass.")
		return
	}
	fmt.Fprintf(w, "\n%d topics\n\n", len(topics))
	for _, topic := range topics {
		fmt.Fprintf(w, "%4d  %-50s %d documents\n",
			topic.ClusterID, Truncate(topic.Label, 50), topic.Size)
	}
}

// WriteStatus writes an index status snapshot to w in the given format.
// documents is the backing store's document count; pass a negative value
// when the store was not probed.
func WriteStatus(w io.Writer, st vector.Status, documents int, format OutputFormat) error {
	switch format {
	case OutputJSON:
		out := struct {
			State     string `json:"state"`
			Error     string `json:"error,omitempty"`
			Model     string `json:"model,omitempty"`
			Dimension int    `json:"dimension,omitempty"`
			Vectors   int    `json:"vectors"`
			Documents *int   `json:"documents,omitempty"`
		}{st.State.String(), st.Err, st.Model, st.Dimension, st.Count, nil}
		if documents >= 0 {
			out.Documents = &documents
		}
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	default:
		fmt.Fprintf(w, "State: %s\n", st.State)
		if st.Err != "" {
			fmt.Fprintf(w, "Error: %s\n", st.Err)
		}
		if st.Model != "" {
			fmt.Fprintf(w, "Model: %s\n", st.Model)
		}
		if st.Dimension > 0 {
			fmt.Fprintf(w, "Dimension: %d\n", st.Dimension)
		}
		fmt.Fprintf(w, "Vectors: %d\n", st.Count)
		if documents >= 0 {
			fmt.Fprintf(w, "Documents: %d\n", documents)
		}
		return nil
	}
}

// Truncate truncates s to maxLen and appends "..." if truncated.
func Truncate(s string, maxLen int) string {
	if maxLen <= 0 || len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}

// TruncateWords returns up to maxWords from the space-separated string.
func TruncateWords(s string, maxWords int) string {
	words := strings.Fields(s)
	if len(words) <= maxWords {
		return s
	}
	return strings.Join(words[:maxWords], " ") + "..."
}
