package models

import "time"

// NoiseCluster is the cluster id assigned to documents that belong to no
// dense region. Noise is never a topic: it has no label and no siblings.
const NoiseCluster = -1

// ClusterAssignment maps one document to the cluster found for one model.
type ClusterAssignment struct {
	UUID      string `json:"uuid" db:"uuid"`
	Model     string `json:"model" db:"model"`
	ClusterID int    `json:"cluster_id" db:"cluster_id"`
}

// ClusterLabel is the human-readable name of one cluster under one model.
type ClusterLabel struct {
	Model     string `json:"model" db:"model"`
	ClusterID int    `json:"cluster_id" db:"cluster_id"`
	Label     string `json:"label" db:"label"`
	Size      int    `json:"size" db:"size"`
}

// ClusterRun records the parameters and outcome of one clustering pass so
// that stored assignments stay interpretable and reproducible.
type ClusterRun struct {
	ID             int64     `json:"id" db:"id"`
	Model          string    `json:"model" db:"model"`
	MinClusterSize int       `json:"min_cluster_size" db:"min_cluster_size"`
	MinSamples     int       `json:"min_samples" db:"min_samples"`
	Epsilon        float64   `json:"epsilon" db:"epsilon"`
	Clusters       int       `json:"clusters" db:"clusters"`
	Noise          int       `json:"noise" db:"noise"`
	Total          int       `json:"total" db:"total"`
	StartedAt      time.Time `json:"started_at" db:"started_at"`
	FinishedAt     time.Time `json:"finished_at" db:"finished_at"`
}
