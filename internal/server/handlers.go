package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/altiplano/afin/internal/embedding"
	"github.com/altiplano/afin/internal/models"
	"github.com/altiplano/afin/internal/search"
	"github.com/altiplano/afin/internal/storage"
	"github.com/altiplano/afin/internal/topics"
	"github.com/altiplano/afin/internal/vector"
	"github.com/altiplano/afin/pkg/utils"
)

func (s *Server) handleRecommend(w http.ResponseWriter, r *http.Request) {
	var query models.RecommendQuery
	if err := json.NewDecoder(r.Body).Decode(&query); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if query.K <= 0 {
		query.K = s.config.Search.DefaultK
	}
	s.logger.Debug("recommend request", zap.String("text", utils.Truncate(query.Text, 120)), zap.Int("k", query.K))
	response, err := s.engine.Recommend(r.Context(), &query)
	if err != nil {
		s.respondEngineError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, response)
}

func (s *Server) handleUpsertDocument(w http.ResponseWriter, r *http.Request) {
	var input models.DocumentInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	doc := &models.Document{
		UUID:     input.UUID,
		Title:    input.Title,
		Abstract: input.Abstract,
		URL:      input.URL,
		Source:   input.Source,
		Authors:  input.Authors,
		Keywords: input.Keywords,
		Issued:   input.Issued,
	}
	if err := s.store.UpsertDocument(r.Context(), doc); err != nil {
		s.logger.Error("document upsert failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.logger.Debug("document stored", zap.String("uuid", doc.UUID), zap.String("title", doc.Title))
	// The vector is produced by the next indexing run, not here.
	s.respondJSON(w, http.StatusCreated, map[string]string{"uuid": doc.UUID, "status": "stored"})
}

func (s *Server) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	uuid := chi.URLParam(r, "uuid")
	doc, err := s.store.GetDocument(r.Context(), uuid)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			s.respondError(w, http.StatusNotFound, "document not found")
			return
		}
		s.logger.Error("document lookup failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, doc)
}

func (s *Server) handleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	uuid := chi.URLParam(r, "uuid")
	// The document's vector keeps its ordinal until the next full rebuild;
	// the search engine drops hits it cannot resolve to a stored document.
	if err := s.store.DeleteDocument(r.Context(), uuid); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			s.respondError(w, http.StatusNotFound, "document not found")
			return
		}
		s.logger.Error("document delete failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"uuid": uuid, "status": "deleted"})
}

func (s *Server) handleTopics(w http.ResponseWriter, r *http.Request) {
	model := s.manager.Status().Model
	labels, err := s.store.TopTopics(r.Context(), model, queryInt(r, "limit", 20))
	if err != nil {
		s.logger.Error("topics lookup failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"model":  model,
		"topics": labels,
	})
}

func (s *Server) handleTopicDocuments(w http.ResponseWriter, r *http.Request) {
	clusterID, err := strconv.Atoi(chi.URLParam(r, "clusterID"))
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid cluster id")
		return
	}
	docs, err := s.resolver.Siblings(r.Context(), clusterID, r.URL.Query().Get("exclude"), queryInt(r, "limit", 20))
	if err != nil {
		if errors.Is(err, topics.ErrNoiseCluster) {
			s.respondError(w, http.StatusBadRequest, "noise is not a topic")
			return
		}
		s.logger.Error("topic members lookup failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	model := s.manager.Status().Model
	label, err := s.store.GetClusterLabel(r.Context(), model, clusterID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			s.respondError(w, http.StatusNotFound, "unknown topic")
			return
		}
		s.logger.Error("topic label lookup failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"cluster_id": clusterID,
		"label":      label.Label,
		"size":       label.Size,
		"documents":  docs,
	})
}

func (s *Server) handleReload(w http.ResponseWriter, r *http.Request) {
	s.logger.Debug("reload requested")
	if err := s.manager.Reload(r.Context()); err != nil {
		s.logger.Error("reload failed", zap.Error(err))
		if errors.Is(err, vector.ErrNotReady) {
			s.respondError(w, http.StatusServiceUnavailable, err.Error())
			return
		}
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	st := s.manager.Status()
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"state":   st.State.String(),
		"model":   st.Model,
		"vectors": st.Count,
	})
}

type healthResponse struct {
	OK        bool   `json:"ok"`
	State     string `json:"state"`
	Error     string `json:"error,omitempty"`
	Model     string `json:"model,omitempty"`
	Dimension int    `json:"dimension,omitempty"`
	Vectors   int    `json:"vectors"`
	Documents int64  `json:"documents"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	st := s.manager.Status()
	resp := healthResponse{
		OK:        st.State == vector.StateReady,
		State:     st.State.String(),
		Error:     st.Err,
		Model:     st.Model,
		Dimension: st.Dimension,
		Vectors:   st.Count,
	}
	if docs, err := s.store.CountDocuments(r.Context()); err == nil {
		resp.Documents = docs
	}
	s.respondJSON(w, http.StatusOK, resp)
}

// respondEngineError maps the engine's error taxonomy onto status codes:
// blank queries are the caller's fault, an index that is not ready is a
// temporary service condition, and a dead encoder is a failed upstream.
func (s *Server) respondEngineError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, search.ErrEmptyQuery):
		s.respondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, vector.ErrNotReady):
		s.logger.Warn("recommend while index not ready", zap.Error(err))
		s.respondError(w, http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, embedding.ErrEncoderUnavailable):
		s.logger.Error("encoder unavailable", zap.Error(err))
		s.respondError(w, http.StatusBadGateway, err.Error())
	default:
		s.logger.Error("recommend failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
	}
}

func queryInt(r *http.Request, name string, fallback int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}
