package api

import (
	"net/http"

	"github.com/mkovalev/docchat/internal/retrieval"
)

type searchRequest struct {
	Query       string   `json:"query"`
	DocumentIDs []string `json:"document_ids,omitempty"`
	MaxResults  int      `json:"max_results,omitempty"`
	Threshold   float32  `json:"threshold,omitempty"`
	MaxLength   int      `json:"max_length,omitempty"` // context endpoint only
}

func (s *Server) retrieve(w http.ResponseWriter, r *http.Request) ([]retrieval.Result, *searchRequest, bool) {
	var req searchRequest
	if !decodeBody(w, r, &req) {
		return nil, nil, false
	}
	if req.Query == "" {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "query is required")
		return nil, nil, false
	}
	if req.MaxResults == 0 {
		req.MaxResults = s.defaults.TopK
	}
	if req.Threshold == 0 {
		req.Threshold = s.defaults.Threshold
	}

	results, err := s.retriever.Retrieve(r.Context(), req.Query, retrieval.Options{
		TopK:        req.MaxResults,
		Threshold:   req.Threshold,
		DocumentIDs: req.DocumentIDs,
	})
	if err != nil {
		s.logger.Error("retrieval failed", "error", err)
		httpError(w, http.StatusInternalServerError, "api_error", "retrieval failed")
		return nil, nil, false
	}
	return results, &req, true
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	results, _, ok := s.retrieve(w, r)
	if !ok {
		return
	}
	if results == nil {
		results = []retrieval.Result{}
	}
	writeJSON(w, map[string]any{"results": results})
}

func (s *Server) handleContext(w http.ResponseWriter, r *http.Request) {
	results, req, ok := s.retrieve(w, r)
	if !ok {
		return
	}
	maxLength := req.MaxLength
	if maxLength == 0 {
		maxLength = s.defaults.MaxContextLength
	}
	writeJSON(w, map[string]string{"context": retrieval.FormatContext(results, maxLength)})
}
