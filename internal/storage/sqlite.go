// Package storage provides the SQLite implementation of the Store interface.
package storage

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/altiplano/afin/internal/models"
	"github.com/altiplano/afin/internal/vector"
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens or creates a SQLite database at dbPath and initializes the schema.
// Parent directories are created if they do not exist.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}

	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

func initSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS documents (
		uuid TEXT PRIMARY KEY,
		title TEXT NOT NULL DEFAULT '',
		abstract TEXT NOT NULL DEFAULT '',
		url TEXT NOT NULL DEFAULT '',
		source TEXT NOT NULL DEFAULT '',
		authors TEXT NOT NULL DEFAULT '[]',
		keywords TEXT NOT NULL DEFAULT '[]',
		issued TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_documents_updated_at ON documents(updated_at);

	CREATE TABLE IF NOT EXISTS clusters (
		uuid TEXT NOT NULL,
		model TEXT NOT NULL,
		cluster_id INTEGER NOT NULL,
		PRIMARY KEY (uuid, model)
	);

	CREATE INDEX IF NOT EXISTS idx_clusters_model_cluster ON clusters(model, cluster_id);

	CREATE TABLE IF NOT EXISTS cluster_labels (
		model TEXT NOT NULL,
		cluster_id INTEGER NOT NULL,
		label TEXT NOT NULL,
		size INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (model, cluster_id)
	);

	CREATE TABLE IF NOT EXISTS cluster_runs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		model TEXT NOT NULL,
		min_cluster_size INTEGER NOT NULL,
		min_samples INTEGER NOT NULL,
		epsilon REAL NOT NULL,
		clusters INTEGER NOT NULL,
		noise INTEGER NOT NULL,
		total INTEGER NOT NULL,
		started_at TIMESTAMP NOT NULL,
		finished_at TIMESTAMP NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_cluster_runs_model ON cluster_runs(model, id);

	CREATE TABLE IF NOT EXISTS embeddings (
		uuid TEXT NOT NULL,
		model TEXT NOT NULL,
		position INTEGER NOT NULL,
		dim INTEGER NOT NULL,
		vector BLOB NOT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (uuid, model)
	);

	CREATE INDEX IF NOT EXISTS idx_embeddings_model_position ON embeddings(model, position);
	`
	_, err := db.Exec(schema)
	return err
}

// UpsertDocument inserts or updates a document. Documents arriving without
// an identifier are assigned one; created_at survives updates.
func (s *SQLiteStore) UpsertDocument(ctx context.Context, doc *models.Document) error {
	if doc.UUID == "" {
		doc.UUID = uuid.New().String()
	}
	authorsJSON, err := json.Marshal(doc.Authors)
	if err != nil {
		return fmt.Errorf("failed to marshal authors: %w", err)
	}
	keywordsJSON, err := json.Marshal(doc.Keywords)
	if err != nil {
		return fmt.Errorf("failed to marshal keywords: %w", err)
	}

	now := time.Now().UTC()
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = now
	}
	doc.UpdatedAt = now

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO documents (uuid, title, abstract, url, source, authors, keywords, issued, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(uuid) DO UPDATE SET
		 	title = excluded.title,
		 	abstract = excluded.abstract,
		 	url = excluded.url,
		 	source = excluded.source,
		 	authors = excluded.authors,
		 	keywords = excluded.keywords,
		 	issued = excluded.issued,
		 	updated_at = excluded.updated_at`,
		doc.UUID, doc.Title, doc.Abstract, doc.URL, doc.Source,
		string(authorsJSON), string(keywordsJSON), doc.Issued, doc.CreatedAt, doc.UpdatedAt,
	)
	return err
}

const documentColumns = `uuid, title, abstract, url, source, authors, keywords, issued, created_at, updated_at`

func scanDocument(row interface{ Scan(...any) error }) (*models.Document, error) {
	var doc models.Document
	var authorsJSON, keywordsJSON string
	err := row.Scan(&doc.UUID, &doc.Title, &doc.Abstract, &doc.URL, &doc.Source,
		&authorsJSON, &keywordsJSON, &doc.Issued, &doc.CreatedAt, &doc.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if authorsJSON != "" {
		if err := json.Unmarshal([]byte(authorsJSON), &doc.Authors); err != nil {
			return nil, fmt.Errorf("failed to unmarshal authors: %w", err)
		}
	}
	if keywordsJSON != "" {
		if err := json.Unmarshal([]byte(keywordsJSON), &doc.Keywords); err != nil {
			return nil, fmt.Errorf("failed to unmarshal keywords: %w", err)
		}
	}
	return &doc, nil
}

// GetDocument returns a document by identifier.
func (s *SQLiteStore) GetDocument(ctx context.Context, id string) (*models.Document, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+documentColumns+` FROM documents WHERE uuid = ?`, id)
	doc, err := scanDocument(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: document %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return doc, nil
}

// DeleteDocument removes a document and its per-model satellite rows.
// The vector index does not shrink; stale ordinals resolve to identifiers
// that simply no longer enrich, until the next full rebuild.
func (s *SQLiteStore) DeleteDocument(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, `DELETE FROM documents WHERE uuid = ?`, id); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM clusters WHERE uuid = ?`, id); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM embeddings WHERE uuid = ?`, id); err != nil {
		return err
	}
	return tx.Commit()
}

// ListDocuments returns documents with offset and limit, newest first.
func (s *SQLiteStore) ListDocuments(ctx context.Context, offset, limit int) ([]*models.Document, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+documentColumns+` FROM documents ORDER BY updated_at DESC, uuid LIMIT ? OFFSET ?`,
		limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var docs []*models.Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

// ListIdentifiersWithText returns identifiers of documents with non-empty
// embedding text, in insertion order so indexing runs are deterministic.
func (s *SQLiteStore) ListIdentifiersWithText(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT uuid FROM documents WHERE trim(title || ' ' || abstract) != '' ORDER BY rowid`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// FetchEmbeddingTexts returns the embedding text per identifier for the
// given set. Identifiers that match nothing are absent from the map.
func (s *SQLiteStore) FetchEmbeddingTexts(ctx context.Context, ids []string) (map[string]string, error) {
	out := make(map[string]string, len(ids))
	for _, chunk := range chunkStrings(ids, 500) {
		rows, err := s.db.QueryContext(ctx,
			`SELECT uuid, title, abstract FROM documents WHERE uuid IN (`+placeholders(len(chunk))+`)`,
			toAnySlice(chunk)...)
		if err != nil {
			return nil, err
		}
		for rows.Next() {
			var id, title, abstract string
			if err := rows.Scan(&id, &title, &abstract); err != nil {
				rows.Close()
				return nil, err
			}
			doc := models.Document{Title: title, Abstract: abstract}
			out[id] = doc.EmbeddingText()
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return nil, err
		}
		rows.Close()
	}
	return out, nil
}

// GetSummaries joins documents with cluster assignments and labels under model.
func (s *SQLiteStore) GetSummaries(ctx context.Context, model string, ids []string) (map[string]*models.DocumentSummary, error) {
	out := make(map[string]*models.DocumentSummary, len(ids))
	for _, chunk := range chunkStrings(ids, 500) {
		args := []any{model}
		args = append(args, toAnySlice(chunk)...)
		rows, err := s.db.QueryContext(ctx,
			`SELECT d.uuid, d.title, d.abstract, d.url, d.source, d.updated_at,
			        COALESCE(c.cluster_id, -1), COALESCE(l.label, '')
			 FROM documents d
			 LEFT JOIN clusters c ON c.uuid = d.uuid AND c.model = ?
			 LEFT JOIN cluster_labels l ON l.model = c.model AND l.cluster_id = c.cluster_id
			 WHERE d.uuid IN (`+placeholders(len(chunk))+`)`,
			args...)
		if err != nil {
			return nil, err
		}
		for rows.Next() {
			var sum models.DocumentSummary
			if err := rows.Scan(&sum.UUID, &sum.Title, &sum.Abstract, &sum.URL, &sum.Source,
				&sum.UpdatedAt, &sum.ClusterID, &sum.Label); err != nil {
				rows.Close()
				return nil, err
			}
			out[sum.UUID] = &sum
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return nil, err
		}
		rows.Close()
	}
	return out, nil
}

// ReplaceClusters swaps the whole topic generation for run.Model in one
// transaction: delete assignments and labels, insert the new ones, record
// the run.
func (s *SQLiteStore) ReplaceClusters(ctx context.Context, run *models.ClusterRun, assignments []models.ClusterAssignment, labels []models.ClusterLabel) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM clusters WHERE model = ?`, run.Model); err != nil {
		return fmt.Errorf("clear clusters: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM cluster_labels WHERE model = ?`, run.Model); err != nil {
		return fmt.Errorf("clear labels: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO clusters (uuid, model, cluster_id) VALUES (?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, a := range assignments {
		if _, err := stmt.ExecContext(ctx, a.UUID, run.Model, a.ClusterID); err != nil {
			return fmt.Errorf("insert assignment %s: %w", a.UUID, err)
		}
	}

	labelStmt, err := tx.PrepareContext(ctx,
		`INSERT INTO cluster_labels (model, cluster_id, label, size) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer labelStmt.Close()
	for _, l := range labels {
		if _, err := labelStmt.ExecContext(ctx, run.Model, l.ClusterID, l.Label, l.Size); err != nil {
			return fmt.Errorf("insert label %d: %w", l.ClusterID, err)
		}
	}

	res, err := tx.ExecContext(ctx,
		`INSERT INTO cluster_runs (model, min_cluster_size, min_samples, epsilon, clusters, noise, total, started_at, finished_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.Model, run.MinClusterSize, run.MinSamples, run.Epsilon,
		run.Clusters, run.Noise, run.Total, run.StartedAt, run.FinishedAt)
	if err != nil {
		return fmt.Errorf("record run: %w", err)
	}
	if id, err := res.LastInsertId(); err == nil {
		run.ID = id
	}
	return tx.Commit()
}

// ClusterOf returns the cluster id assigned to a document under model.
func (s *SQLiteStore) ClusterOf(ctx context.Context, model, id string) (int, error) {
	var clusterID int
	err := s.db.QueryRowContext(ctx,
		`SELECT cluster_id FROM clusters WHERE model = ? AND uuid = ?`, model, id,
	).Scan(&clusterID)
	if err == sql.ErrNoRows {
		return models.NoiseCluster, fmt.Errorf("%w: no cluster for document %s under model %s", ErrNotFound, id, model)
	}
	if err != nil {
		return models.NoiseCluster, err
	}
	return clusterID, nil
}

// Siblings returns the members of a cluster excluding one document, most
// recently updated first, ties broken by identifier.
func (s *SQLiteStore) Siblings(ctx context.Context, model string, clusterID int, excludeUUID string, limit int) ([]*models.DocumentSummary, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT d.uuid, d.title, d.abstract, d.url, d.source, d.updated_at, c.cluster_id, COALESCE(l.label, '')
		 FROM clusters c
		 JOIN documents d ON d.uuid = c.uuid
		 LEFT JOIN cluster_labels l ON l.model = c.model AND l.cluster_id = c.cluster_id
		 WHERE c.model = ? AND c.cluster_id = ? AND c.uuid != ?
		 ORDER BY d.updated_at DESC, d.uuid ASC
		 LIMIT ?`,
		model, clusterID, excludeUUID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.DocumentSummary
	for rows.Next() {
		var sum models.DocumentSummary
		if err := rows.Scan(&sum.UUID, &sum.Title, &sum.Abstract, &sum.URL, &sum.Source,
			&sum.UpdatedAt, &sum.ClusterID, &sum.Label); err != nil {
			return nil, err
		}
		out = append(out, &sum)
	}
	return out, rows.Err()
}

// TopTopics returns labels under model ordered by member count.
func (s *SQLiteStore) TopTopics(ctx context.Context, model string, limit int) ([]models.ClusterLabel, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT model, cluster_id, label, size FROM cluster_labels
		 WHERE model = ? ORDER BY size DESC, cluster_id ASC LIMIT ?`,
		model, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.ClusterLabel
	for rows.Next() {
		var l models.ClusterLabel
		if err := rows.Scan(&l.Model, &l.ClusterID, &l.Label, &l.Size); err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// GetClusterLabel returns one label row.
func (s *SQLiteStore) GetClusterLabel(ctx context.Context, model string, clusterID int) (*models.ClusterLabel, error) {
	var l models.ClusterLabel
	err := s.db.QueryRowContext(ctx,
		`SELECT model, cluster_id, label, size FROM cluster_labels WHERE model = ? AND cluster_id = ?`,
		model, clusterID,
	).Scan(&l.Model, &l.ClusterID, &l.Label, &l.Size)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: no label for cluster %d under model %s", ErrNotFound, clusterID, model)
	}
	if err != nil {
		return nil, err
	}
	return &l, nil
}

// LatestRun returns the most recent clustering run for model.
func (s *SQLiteStore) LatestRun(ctx context.Context, model string) (*models.ClusterRun, error) {
	var run models.ClusterRun
	err := s.db.QueryRowContext(ctx,
		`SELECT id, model, min_cluster_size, min_samples, epsilon, clusters, noise, total, started_at, finished_at
		 FROM cluster_runs WHERE model = ? ORDER BY id DESC LIMIT 1`, model,
	).Scan(&run.ID, &run.Model, &run.MinClusterSize, &run.MinSamples, &run.Epsilon,
		&run.Clusters, &run.Noise, &run.Total, &run.StartedAt, &run.FinishedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: no clustering runs for model %s", ErrNotFound, model)
	}
	if err != nil {
		return nil, err
	}
	return &run, nil
}

// SaveEmbeddings writes vectors to the fallback store in a transaction.
// Position start+i mirrors the index ordinal of embeddings[i].
func (s *SQLiteStore) SaveEmbeddings(ctx context.Context, model string, start int, embeddings []vector.StoredEmbedding) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT OR REPLACE INTO embeddings (uuid, model, position, dim, vector, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	now := time.Now().UTC()
	for i, e := range embeddings {
		blob := vectorToBytes(e.Vector)
		if _, err := stmt.ExecContext(ctx, e.UUID, model, start+i, len(e.Vector), blob, now); err != nil {
			return fmt.Errorf("insert embedding %s: %w", e.UUID, err)
		}
	}
	return tx.Commit()
}

// LoadEmbeddings returns stored vectors for model in position order, which
// is the index ordinal order. Satisfies vector.RebuildSource.
func (s *SQLiteStore) LoadEmbeddings(ctx context.Context, model string) ([]vector.StoredEmbedding, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT uuid, dim, vector FROM embeddings WHERE model = ? ORDER BY position`, model)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []vector.StoredEmbedding
	for rows.Next() {
		var id string
		var dim int
		var blob []byte
		if err := rows.Scan(&id, &dim, &blob); err != nil {
			return nil, err
		}
		vec := bytesToVector(blob)
		if len(vec) != dim {
			return nil, fmt.Errorf("embedding %s blob has %d dimensions, row says %d", id, len(vec), dim)
		}
		out = append(out, vector.StoredEmbedding{UUID: id, Vector: vec})
	}
	return out, rows.Err()
}

// ClearEmbeddings drops the fallback rows for model.
func (s *SQLiteStore) ClearEmbeddings(ctx context.Context, model string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM embeddings WHERE model = ?`, model)
	return err
}

// CountDocuments returns the total number of documents.
func (s *SQLiteStore) CountDocuments(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM documents`).Scan(&count)
	return count, err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func vectorToBytes(v []float32) []byte {
	out := make([]byte, len(v)*4)
	for i, x := range v {
		binary.LittleEndian.PutUint32(out[i*4:(i+1)*4], math.Float32bits(x))
	}
	return out
}

func bytesToVector(b []byte) []float32 {
	out := make([]float32, len(b)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4 : (i+1)*4]))
	}
	return out
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func toAnySlice(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}

func chunkStrings(ss []string, size int) [][]string {
	var out [][]string
	for len(ss) > size {
		out = append(out, ss[:size])
		ss = ss[size:]
	}
	if len(ss) > 0 {
		out = append(out, ss)
	}
	return out
}
