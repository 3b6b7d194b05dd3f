package api

import (
	"io"
	"net/http"
	"strconv"

	"github.com/aretw0/quipu/pkg/core"
)

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	if core.KindOf(err) == core.KindInternal {
		s.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	}
	writeError(w, err)
}

func queryInt(r *http.Request, key string) (int, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, core.Invalid("%s must be a non-negative integer", key)
	}
	return n, nil
}

func (s *Server) handleCreateCollection(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxBody))
	if err != nil {
		s.fail(w, r, core.Invalid("failed to read schema: %v", err))
		return
	}
	c, err := s.engine.CreateCollection(r.Context(), r.URL.Query().Get("id"), raw)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

func (s *Server) handleListCollections(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	offset, err := queryInt(r, "offset")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	list, err := s.engine.ListCollections(r.Context(), limit, offset)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleGetCollection(w http.ResponseWriter, r *http.Request) {
	c, err := s.engine.GetCollection(r.Context(), r.PathValue("id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (s *Server) handleDeleteCollection(w http.ResponseWriter, r *http.Request) {
	res, err := s.engine.DeleteCollection(r.Context(), r.PathValue("id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleObjects(w http.ResponseWriter, r *http.Request) {
	var req core.Request
	if err := decodeJSON(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	res, err := s.engine.Handle(r.Context(), r.PathValue("id"), req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	status := http.StatusOK
	if req.Event == core.EventCreate {
		status = http.StatusCreated
	}
	writeJSON(w, status, res)
}

type textsRequest struct {
	Texts []string `json:"texts"`
	Model string   `json:"model,omitempty"`
}

type queryRequest struct {
	Query string `json:"query"`
	TopK  int    `json:"top_k"`
	Model string `json:"model,omitempty"`
}

type idsRequest struct {
	IDs []string `json:"ids"`
}

func (s *Server) vectors(w http.ResponseWriter, r *http.Request) (core.VectorService, bool) {
	v := s.engine.Vectors()
	if v == nil {
		writeJSON(w, http.StatusNotImplemented, map[string]any{
			"error": errorBody{Kind: core.KindInternal, Message: "vector index is disabled"},
		})
		return nil, false
	}
	return v, true
}

func (s *Server) handleNamespaces(w http.ResponseWriter, r *http.Request) {
	v, ok := s.vectors(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, v.Namespaces())
}

func (s *Server) handleUpsert(w http.ResponseWriter, r *http.Request) {
	v, ok := s.vectors(w, r)
	if !ok {
		return
	}
	var req textsRequest
	if err := decodeJSON(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	res, err := v.Upsert(r.Context(), r.PathValue("namespace"), req.Texts, req.Model)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	v, ok := s.vectors(w, r)
	if !ok {
		return
	}
	var req queryRequest
	if err := decodeJSON(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	res, err := v.Query(r.Context(), r.PathValue("namespace"), req.Query, req.TopK, req.Model)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleVectorDelete(w http.ResponseWriter, r *http.Request) {
	v, ok := s.vectors(w, r)
	if !ok {
		return
	}
	var req idsRequest
	if err := decodeJSON(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	res, err := v.Delete(r.Context(), r.PathValue("namespace"), req.IDs)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleVectorGet(w http.ResponseWriter, r *http.Request) {
	v, ok := s.vectors(w, r)
	if !ok {
		return
	}
	e, err := v.Get(r.Context(), r.PathValue("namespace"), r.PathValue("id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, e)
}

func (s *Server) handleEmbed(w http.ResponseWriter, r *http.Request) {
	v, ok := s.vectors(w, r)
	if !ok {
		return
	}
	var req textsRequest
	if err := decodeJSON(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	res, err := v.Embed(r.Context(), req.Texts, req.Model)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
