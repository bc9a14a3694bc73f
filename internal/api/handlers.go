package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/authz-engine/prp-core/internal/cache"
	"github.com/authz-engine/prp-core/internal/policy"
	"github.com/authz-engine/prp-core/internal/prp"
	"github.com/authz-engine/prp-core/pkg/types"
)

type retrieveRequest struct {
	Subject     map[string]interface{} `json:"subject"`
	Action      map[string]interface{} `json:"action"`
	Resource    map[string]interface{} `json:"resource"`
	Environment map[string]interface{} `json:"environment"`
}

type retrieveResponse struct {
	DocumentIDs []string `json:"documentIds"`
	HadError    bool     `json:"hadError"`
	Cached      bool     `json:"cached"`
}

// retrieve matches request bindings against the live index.
func (s *Server) retrieve(w http.ResponseWriter, r *http.Request) {
	var req retrieveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "INVALID_JSON",
			"Invalid JSON payload", err.Error())
		return
	}

	bindings := &types.Bindings{
		Subject:     req.Subject,
		Action:      req.Action,
		Resource:    req.Resource,
		Environment: req.Environment,
	}

	key := ""
	if s.results != nil {
		k, err := cache.Key(s.live.Revision(), bindings)
		if err == nil {
			key = k
			if cached, ok := s.results.Get(r.Context(), key); ok {
				s.respondJSON(w, http.StatusOK, retrieveResponse{
					DocumentIDs: cached.DocumentIDs,
					HadError:    cached.HadError,
					Cached:      true,
				})
				return
			}
		}
	}

	result, err := s.live.Retrieve(r.Context(), bindings)
	if errors.Is(err, types.ErrNotReady) {
		s.respondError(w, http.StatusServiceUnavailable, "NOT_READY",
			"Index is still replaying", "")
		return
	}
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, "RETRIEVE_FAILED",
			"Retrieval failed", err.Error())
		return
	}

	if s.results != nil && key != "" {
		s.results.Set(r.Context(), key, result)
	}

	s.respondJSON(w, http.StatusOK, retrieveResponse{
		DocumentIDs: result.DocumentIDs,
		HadError:    result.HadError,
	})
}

type documentSummary struct {
	ID          string `json:"id"`
	Description string `json:"description,omitempty"`
	Unusable    string `json:"unusable,omitempty"`
}

// listDocuments returns all published documents.
func (s *Server) listDocuments(w http.ResponseWriter, r *http.Request) {
	docs := s.live.Documents()
	unusable := s.live.Unusable()

	summaries := make([]documentSummary, 0, len(docs))
	for _, doc := range docs {
		summary := documentSummary{ID: doc.ID, Description: doc.Description}
		if err, ok := unusable[doc.ID]; ok {
			summary.Unusable = err.Error()
		}
		summaries = append(summaries, summary)
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"documents": summaries,
		"count":     len(summaries),
	})
}

// getDocument returns a single published document.
func (s *Server) getDocument(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	doc, ok := s.live.Document(id)
	if !ok {
		s.respondError(w, http.StatusNotFound, "DOCUMENT_NOT_FOUND",
			fmt.Sprintf("Document %q not found", id), "")
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{"document": doc})
}

// publishDocument publishes a document from a YAML or JSON body.
func (s *Server) publishDocument(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "INVALID_BODY",
			"Failed to read request body", err.Error())
		return
	}

	doc, err := policy.Parse(body)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "INVALID_DOCUMENT",
			"Failed to parse policy document", err.Error())
		return
	}

	if err := s.live.Publish(doc); err != nil {
		if errors.Is(err, prp.ErrDuplicateDocument) {
			s.respondError(w, http.StatusConflict, "DOCUMENT_EXISTS",
				fmt.Sprintf("Document %q already published", doc.ID), "")
			return
		}
		s.respondError(w, http.StatusInternalServerError, "PUBLISH_FAILED",
			"Failed to publish document", err.Error())
		return
	}

	s.indexSimilarity(r, doc.ID)

	s.logger.Info("Document published", zap.String("document", doc.ID))
	s.respondJSON(w, http.StatusCreated, map[string]interface{}{"document": doc})
}

// unpublishDocument removes a published document.
func (s *Server) unpublishDocument(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	if err := s.live.Unpublish(id); err != nil {
		if errors.Is(err, prp.ErrUnknownDocument) {
			s.respondError(w, http.StatusNotFound, "DOCUMENT_NOT_FOUND",
				fmt.Sprintf("Document %q not found", id), "")
			return
		}
		s.respondError(w, http.StatusInternalServerError, "UNPUBLISH_FAILED",
			"Failed to unpublish document", err.Error())
		return
	}

	if s.similar != nil {
		s.similar.Remove(id)
	}

	s.logger.Info("Document unpublished", zap.String("document", id))
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"message": fmt.Sprintf("Document %q unpublished", id),
	})
}

// similarDocuments returns documents whose targets are closest to the
// named document's target.
func (s *Server) similarDocuments(w http.ResponseWriter, r *http.Request) {
	if s.similar == nil {
		s.respondError(w, http.StatusNotImplemented, "SIMILARITY_DISABLED",
			"Similarity search is not enabled", "")
		return
	}

	id := mux.Vars(r)["id"]
	formula, ok := s.live.Formula(id)
	if !ok {
		s.respondError(w, http.StatusNotFound, "DOCUMENT_NOT_FOUND",
			fmt.Sprintf("Document %q not found or not analyzable", id), "")
		return
	}

	k := 5
	if raw := r.URL.Query().Get("k"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			s.respondError(w, http.StatusBadRequest, "INVALID_K",
				"Parameter k must be a positive integer", "")
			return
		}
		k = parsed
	}

	// Fetch one extra hit; the document itself is its own best match.
	matches, err := s.similar.Similar(r.Context(), formula, k+1)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, "SEARCH_FAILED",
			"Similarity search failed", err.Error())
		return
	}

	filtered := matches[:0]
	for _, m := range matches {
		if m.ID == id {
			continue
		}
		filtered = append(filtered, m)
	}
	if len(filtered) > k {
		filtered = filtered[:k]
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"document": id,
		"matches":  filtered,
	})
}

type contextUpdateRequest struct {
	Variables map[string]interface{} `json:"variables"`
}

// updateContext swaps the evaluation context, re-analyzing every
// document against the new variable environment.
func (s *Server) updateContext(w http.ResponseWriter, r *http.Request) {
	if s.newCompile == nil {
		s.respondError(w, http.StatusNotImplemented, "CONTEXT_DISABLED",
			"Evaluation context updates are not enabled", "")
		return
	}

	var req contextUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "INVALID_JSON",
			"Invalid JSON payload", err.Error())
		return
	}

	compile, err := s.newCompile(req.Variables)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "INVALID_CONTEXT",
			"Failed to build evaluation context", err.Error())
		return
	}

	if err := s.live.UpdateContext(compile); err != nil {
		s.respondError(w, http.StatusInternalServerError, "CONTEXT_UPDATE_FAILED",
			"Failed to update evaluation context", err.Error())
		return
	}

	s.logger.Info("Evaluation context updated via API",
		zap.Int("variables", len(req.Variables)))
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"revision": s.live.Revision(),
	})
}

// healthCheck reports index readiness.
func (s *Server) healthCheck(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	code := http.StatusOK
	if !s.live.Ready() {
		status = "replaying"
		code = http.StatusServiceUnavailable
	}

	s.respondJSON(w, code, map[string]interface{}{
		"status":    status,
		"documents": len(s.live.Documents()),
		"revision":  s.live.Revision(),
	})
}

// indexSimilarity adds a freshly published document to the similarity
// index when both the index and the document's formula are available.
func (s *Server) indexSimilarity(r *http.Request, id string) {
	if s.similar == nil {
		return
	}
	formula, ok := s.live.Formula(id)
	if !ok {
		return
	}
	if err := s.similar.Add(r.Context(), id, formula); err != nil {
		s.logger.Warn("Failed to index document for similarity",
			zap.String("document", id),
			zap.Error(err),
		)
	}
}
