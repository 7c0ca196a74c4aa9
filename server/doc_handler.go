package server

import (
	"net/http"

	"github.com/teranos/docsync/sync"
)

// HandleDoc serves the document.
//
//	GET    /api/doc            all values and heads
//	GET    /api/doc?key=title  one value
//	POST   /api/doc            {"key":"title","value":"draft"}
//	DELETE /api/doc?key=title
func (s *Server) HandleDoc(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.handleDocGet(w, r)
	case http.MethodPost:
		s.handleDocSet(w, r)
	case http.MethodDelete:
		s.handleDocDelete(w, r)
	default:
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

func (s *Server) handleDocGet(w http.ResponseWriter, r *http.Request) {
	d := s.replica.Doc()

	if key := r.URL.Query().Get("key"); key != "" {
		value, ok := d.Get(key)
		if !ok {
			writeError(w, http.StatusNotFound, "No value for key "+key)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"key": key, "value": value})
		return
	}

	writeJSON(w, http.StatusOK, docResponse{
		Heads:   sync.HexHashes(d.Heads()),
		Changes: d.Len(),
		Values:  d.Values(),
	})
}

func (s *Server) handleDocSet(w http.ResponseWriter, r *http.Request) {
	var req docWriteRequest
	if err := readJSON(w, r, &req); err != nil {
		return
	}
	if req.Key == "" {
		writeError(w, http.StatusBadRequest, "Missing 'key' field")
		return
	}

	patch, err := s.replica.Set(r.Context(), req.Key, req.Value)
	if err != nil {
		s.logger.Errorw("Document write failed", "key", req.Key, "error", err)
		writeErrorFor(w, err)
		return
	}
	writeJSON(w, http.StatusOK, patch)
}

func (s *Server) handleDocDelete(w http.ResponseWriter, r *http.Request) {
	key := r.URL.Query().Get("key")
	if key == "" {
		writeError(w, http.StatusBadRequest, "Missing 'key' parameter")
		return
	}
	if _, ok := s.replica.Get(key); !ok {
		writeError(w, http.StatusNotFound, "No value for key "+key)
		return
	}

	patch, err := s.replica.Delete(r.Context(), key)
	if err != nil {
		s.logger.Errorw("Document delete failed", "key", key, "error", err)
		writeErrorFor(w, err)
		return
	}
	writeJSON(w, http.StatusOK, patch)
}
