// Package models defines core data structures for documents, topics, and recommendations.
package models

import "time"

// Document represents a stored document with metadata. Abstract carries the
// body text used for embedding; documents without text are stored but never
// indexed.
type Document struct {
	UUID      string    `json:"uuid" db:"uuid"`
	Title     string    `json:"title" db:"title"`
	Abstract  string    `json:"abstract" db:"abstract"`
	URL       string    `json:"url,omitempty" db:"url"`
	Source    string    `json:"source,omitempty" db:"source"`
	Authors   []string  `json:"authors,omitempty" db:"authors"`
	Keywords  []string  `json:"keywords,omitempty" db:"keywords"`
	Issued    string    `json:"issued,omitempty" db:"issued"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// EmbeddingText returns the text that is encoded for this document.
func (d *Document) EmbeddingText() string {
	if d.Title == "" {
		return d.Abstract
	}
	if d.Abstract == "" {
		return d.Title
	}
	return d.Title + " " + d.Abstract
}

// DocumentInput is the input for creating or updating a document.
type DocumentInput struct {
	UUID     string   `json:"uuid,omitempty"`
	Title    string   `json:"title"`
	Abstract string   `json:"abstract"`
	URL      string   `json:"url,omitempty"`
	Source   string   `json:"source,omitempty"`
	Authors  []string `json:"authors,omitempty"`
	Keywords []string `json:"keywords,omitempty"`
	Issued   string   `json:"issued,omitempty"`
}

// DocumentSummary is the slim projection used to enrich search results:
// document fields joined with the cluster assignment for one model.
type DocumentSummary struct {
	UUID      string    `json:"uuid"`
	Title     string    `json:"title"`
	Abstract  string    `json:"abstract,omitempty"`
	URL       string    `json:"url,omitempty"`
	Source    string    `json:"source,omitempty"`
	ClusterID int       `json:"cluster_id"`
	Label     string    `json:"label,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}
