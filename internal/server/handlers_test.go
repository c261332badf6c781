package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/altiplano/afin/internal/config"
	"github.com/altiplano/afin/internal/embedding"
	"github.com/altiplano/afin/internal/models"
	"github.com/altiplano/afin/internal/search"
	"github.com/altiplano/afin/internal/storage"
	"github.com/altiplano/afin/internal/topics"
	"github.com/altiplano/afin/internal/vector"
	"github.com/altiplano/afin/pkg/utils"
)

func setupServer(t *testing.T) (*Server, *vector.Manager, *storage.SQLiteStore, *embedding.MockEncoder) {
	t.Helper()
	ctx := context.Background()

	store, err := storage.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })

	manager := vector.NewManager(t.TempDir(), zap.NewNop(),
		vector.WithModel("mock"),
		vector.WithDimensions(8),
		vector.WithRebuildSource(store))
	if err := manager.Load(ctx); err != nil {
		t.Fatal(err)
	}

	encoder := embedding.NewMockEncoder(8)
	resolver := topics.NewResolver(store, "mock")
	cfg := &config.Config{
		Server: config.ServerConfig{Host: "127.0.0.1"},
		Search: config.SearchConfig{DefaultK: 2, MaxK: 100},
	}
	engine := search.NewEngine(manager, encoder, store, resolver, &cfg.Search)
	srv := NewServer(engine, manager, resolver, store, cfg, zap.NewNop())
	return srv, manager, store, encoder
}

// setupColdServer wires a server whose manager never loaded, for the
// not-ready paths.
func setupColdServer(t *testing.T) *Server {
	t.Helper()
	store, err := storage.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })

	manager := vector.NewManager(t.TempDir(), zap.NewNop(), vector.WithModel("mock"))
	encoder := embedding.NewMockEncoder(8)
	resolver := topics.NewResolver(store, "mock")
	cfg := &config.Config{Search: config.SearchConfig{DefaultK: 2, MaxK: 100}}
	engine := search.NewEngine(manager, encoder, store, resolver, &cfg.Search)
	return NewServer(engine, manager, resolver, store, cfg, zap.NewNop())
}

func seedDocument(t *testing.T, store *storage.SQLiteStore, manager *vector.Manager, encoder *embedding.MockEncoder, id, title, abstract string) {
	t.Helper()
	ctx := context.Background()
	doc := &models.Document{UUID: id, Title: title, Abstract: abstract}
	if err := store.UpsertDocument(ctx, doc); err != nil {
		t.Fatal(err)
	}
	vec, err := encoder.Encode(ctx, utils.NormalizeText(doc.EmbeddingText()))
	if err != nil {
		t.Fatal(err)
	}
	err = manager.WithWriteAccess(func(index *vector.FlatIndex, idmap *vector.IdentifierMap) error {
		if _, err := index.Add([][]float32{vec}); err != nil {
			return err
		}
		idmap.Append([]string{id})
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
}

func doJSON(t *testing.T, srv *Server, method, path string, payload interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			t.Fatal(err)
		}
		body = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, body)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	srv.routes().ServeHTTP(w, req)
	return w
}

func TestHandleRecommend(t *testing.T) {
	srv, manager, store, encoder := setupServer(t)
	seedDocument(t, store, manager, encoder, "a", "glacier mass balance", "andean glacier monitoring")
	seedDocument(t, store, manager, encoder, "b", "quinoa genetics", "crop genomics breeding")

	w := doJSON(t, srv, http.MethodPost, "/api/v1/recommend", map[string]interface{}{
		"text": "glacier mass balance andean glacier monitoring", "k": 1, "include_abstract": true,
	})
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d, body: %s", w.Code, w.Body.String())
	}
	var out models.Recommendation
	if err := json.NewDecoder(w.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	if len(out.Results) != 1 {
		t.Fatalf("results: got %d, want 1", len(out.Results))
	}
	if out.Results[0].UUID != "a" {
		t.Errorf("top hit: got %q, want a", out.Results[0].UUID)
	}
	if out.Results[0].Abstract == "" {
		t.Error("expected abstract in response when include_abstract is set")
	}
	if out.Model != "mock" {
		t.Errorf("model: got %q, want mock", out.Model)
	}
}

func TestHandleRecommend_AppliesDefaultK(t *testing.T) {
	srv, manager, store, encoder := setupServer(t)
	seedDocument(t, store, manager, encoder, "a", "glacier mass balance", "monitoring")
	seedDocument(t, store, manager, encoder, "b", "quinoa genetics", "breeding")
	seedDocument(t, store, manager, encoder, "c", "trade routes", "medieval history")

	w := doJSON(t, srv, http.MethodPost, "/api/v1/recommend", map[string]interface{}{
		"text": "glacier mass balance",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d, body: %s", w.Code, w.Body.String())
	}
	var out models.Recommendation
	if err := json.NewDecoder(w.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	if len(out.Results) != 2 {
		t.Errorf("results: got %d, want the configured default of 2", len(out.Results))
	}
}

func TestHandleRecommend_EmptyText(t *testing.T) {
	srv, _, _, _ := setupServer(t)
	w := doJSON(t, srv, http.MethodPost, "/api/v1/recommend", map[string]interface{}{"text": "   "})
	if w.Code != http.StatusBadRequest {
		t.Errorf("status: got %d, want 400", w.Code)
	}
}

func TestHandleRecommend_InvalidBody(t *testing.T) {
	srv, _, _, _ := setupServer(t)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/recommend", strings.NewReader("{nope"))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	srv.routes().ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Errorf("status: got %d, want 400", w.Code)
	}
}

func TestHandleRecommend_NotReady(t *testing.T) {
	srv := setupColdServer(t)
	w := doJSON(t, srv, http.MethodPost, "/api/v1/recommend", map[string]interface{}{"text": "anything"})
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status: got %d, want 503", w.Code)
	}
	var out struct {
		Error string `json:"error"`
	}
	if err := json.NewDecoder(w.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out.Error, "unloaded") {
		t.Errorf("error: got %q, want the state in the message", out.Error)
	}
}

func TestHandleDocumentLifecycle(t *testing.T) {
	srv, _, _, _ := setupServer(t)

	w := doJSON(t, srv, http.MethodPost, "/api/v1/documents", map[string]string{
		"title": "Alpine Lakes", "abstract": "limnology survey",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("upsert status: got %d, body: %s", w.Code, w.Body.String())
	}
	var created struct {
		UUID   string `json:"uuid"`
		Status string `json:"status"`
	}
	if err := json.NewDecoder(w.Body).Decode(&created); err != nil {
		t.Fatal(err)
	}
	if created.UUID == "" || created.Status != "stored" {
		t.Fatalf("upsert response: got %+v", created)
	}

	w = doJSON(t, srv, http.MethodGet, "/api/v1/documents/"+created.UUID, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("get status: got %d", w.Code)
	}
	var doc models.Document
	if err := json.NewDecoder(w.Body).Decode(&doc); err != nil {
		t.Fatal(err)
	}
	if doc.Title != "Alpine Lakes" {
		t.Errorf("title: got %q", doc.Title)
	}

	w = doJSON(t, srv, http.MethodDelete, "/api/v1/documents/"+created.UUID, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("delete status: got %d", w.Code)
	}
	w = doJSON(t, srv, http.MethodGet, "/api/v1/documents/"+created.UUID, nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("get after delete: got %d, want 404", w.Code)
	}
}

func TestHandleGetDocument_NotFound(t *testing.T) {
	srv, _, _, _ := setupServer(t)
	w := doJSON(t, srv, http.MethodGet, "/api/v1/documents/ghost", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("status: got %d, want 404", w.Code)
	}
}

func seedTopics(t *testing.T, store *storage.SQLiteStore) {
	t.Helper()
	ctx := context.Background()
	for _, id := range []string{"a", "b", "c"} {
		doc := &models.Document{UUID: id, Title: "doc " + id, Abstract: "abstract " + id}
		if err := store.UpsertDocument(ctx, doc); err != nil {
			t.Fatal(err)
		}
	}
	now := time.Now().UTC()
	run := &models.ClusterRun{
		Model: "mock", MinClusterSize: 5, MinSamples: 3, Epsilon: 0.25,
		Clusters: 2, Noise: 0, Total: 3, StartedAt: now, FinishedAt: now,
	}
	assignments := []models.ClusterAssignment{
		{UUID: "a", Model: "mock", ClusterID: 0},
		{UUID: "b", Model: "mock", ClusterID: 0},
		{UUID: "c", Model: "mock", ClusterID: 0},
	}
	labels := []models.ClusterLabel{
		{Model: "mock", ClusterID: 0, Label: "glacier + hydrology", Size: 3},
		{Model: "mock", ClusterID: 1, Label: "quinoa + genomics", Size: 1},
	}
	if err := store.ReplaceClusters(ctx, run, assignments, labels); err != nil {
		t.Fatal(err)
	}
}

func TestHandleTopics(t *testing.T) {
	srv, _, store, _ := setupServer(t)
	seedTopics(t, store)

	w := doJSON(t, srv, http.MethodGet, "/api/v1/topics?limit=1", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d, body: %s", w.Code, w.Body.String())
	}
	var out struct {
		Model  string                `json:"model"`
		Topics []models.ClusterLabel `json:"topics"`
	}
	if err := json.NewDecoder(w.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	if out.Model != "mock" {
		t.Errorf("model: got %q, want mock", out.Model)
	}
	if len(out.Topics) != 1 || out.Topics[0].Label != "glacier + hydrology" {
		t.Errorf("topics: got %+v, want the largest cluster first", out.Topics)
	}
}

func TestHandleTopicDocuments(t *testing.T) {
	srv, _, store, _ := setupServer(t)
	seedTopics(t, store)

	w := doJSON(t, srv, http.MethodGet, "/api/v1/topics/0/documents?exclude=a", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d, body: %s", w.Code, w.Body.String())
	}
	var out struct {
		ClusterID int                       `json:"cluster_id"`
		Label     string                    `json:"label"`
		Documents []*models.DocumentSummary `json:"documents"`
	}
	if err := json.NewDecoder(w.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	if out.Label != "glacier + hydrology" {
		t.Errorf("label: got %q", out.Label)
	}
	if len(out.Documents) != 2 {
		t.Fatalf("documents: got %d, want 2", len(out.Documents))
	}
	for _, doc := range out.Documents {
		if doc.UUID == "a" {
			t.Error("excluded document returned")
		}
	}
}

func TestHandleTopicDocuments_Errors(t *testing.T) {
	srv, _, store, _ := setupServer(t)
	seedTopics(t, store)

	cases := []struct {
		path string
		want int
	}{
		{"/api/v1/topics/-1/documents", http.StatusBadRequest},
		{"/api/v1/topics/abc/documents", http.StatusBadRequest},
		{"/api/v1/topics/9/documents", http.StatusNotFound},
	}
	for _, tc := range cases {
		w := doJSON(t, srv, http.MethodGet, tc.path, nil)
		if w.Code != tc.want {
			t.Errorf("%s: got %d, want %d", tc.path, w.Code, tc.want)
		}
	}
}

func TestHandleReload(t *testing.T) {
	srv, manager, store, encoder := setupServer(t)
	seedDocument(t, store, manager, encoder, "a", "glacier mass balance", "monitoring")
	if err := manager.Persist(); err != nil {
		t.Fatal(err)
	}

	w := doJSON(t, srv, http.MethodPost, "/api/v1/reload", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d, body: %s", w.Code, w.Body.String())
	}
	var out struct {
		State   string `json:"state"`
		Model   string `json:"model"`
		Vectors int    `json:"vectors"`
	}
	if err := json.NewDecoder(w.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	if out.State != "ready" || out.Vectors != 1 {
		t.Errorf("reload response: got %+v, want ready with 1 vector", out)
	}
}

func TestHandleHealth(t *testing.T) {
	srv, manager, store, encoder := setupServer(t)
	seedDocument(t, store, manager, encoder, "a", "glacier mass balance", "monitoring")
	if err := store.UpsertDocument(context.Background(), &models.Document{UUID: "pending", Title: "not indexed yet"}); err != nil {
		t.Fatal(err)
	}

	w := doJSON(t, srv, http.MethodGet, "/health", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d", w.Code)
	}
	var out struct {
		OK        bool   `json:"ok"`
		State     string `json:"state"`
		Model     string `json:"model"`
		Vectors   int    `json:"vectors"`
		Documents int64  `json:"documents"`
	}
	if err := json.NewDecoder(w.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	if !out.OK || out.State != "ready" {
		t.Errorf("health: got ok=%v state=%q, want ready", out.OK, out.State)
	}
	if out.Vectors != 1 || out.Documents != 2 {
		t.Errorf("health counts: got %d vectors %d documents, want 1 and 2", out.Vectors, out.Documents)
	}
}

func TestHandleHealth_NotReady(t *testing.T) {
	srv := setupColdServer(t)
	w := doJSON(t, srv, http.MethodGet, "/health", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d, health must answer in every state", w.Code)
	}
	var out struct {
		OK    bool   `json:"ok"`
		State string `json:"state"`
	}
	if err := json.NewDecoder(w.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	if out.OK || out.State != "unloaded" {
		t.Errorf("health: got ok=%v state=%q, want not-ok unloaded", out.OK, out.State)
	}
}
