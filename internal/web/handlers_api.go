package web

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"hue-go-bridge/internal/bridge"
	"hue-go-bridge/internal/datastore"
)

// handleHue forwards the request to the dispatcher. Unclaimed requests get
// a 404 with an empty body.
func (s *Server) handleHue(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBody))
	if err != nil {
		http.Error(w, "request body too large", http.StatusRequestEntityTooLarge)
		return
	}
	resp := s.api.Dispatch(bridge.Request{
		Method: r.Method,
		Path:   r.URL.Path,
		Body:   bridge.ParseBody(data),
	})
	if !resp.Handled() {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	if resp.ContentType != "" {
		w.Header().Set("Content-Type", resp.ContentType)
	}
	w.WriteHeader(resp.StatusCode())
	if _, err := w.Write(resp.Body); err != nil {
		s.logger.Debug("write response", "path", r.URL.Path, "err", err)
	}
}

func (s *Server) handleAdminExport(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Disposition", `attachment; filename="hue-bridge-export.json"`)
	s.writeJSON(w, http.StatusOK, s.manager.GetConfig())
}

func (s *Server) handleAdminImport(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBody))
	if err != nil {
		s.writeJSON(w, http.StatusRequestEntityTooLarge, map[string]string{"error": "request body too large"})
		return
	}
	if err := s.manager.SetConfig(data); err != nil {
		if errors.Is(err, datastore.ErrInvalidImport) {
			s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}
		s.logger.Error("import", "err", err)
		s.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleAdminClear(w http.ResponseWriter, r *http.Request) {
	if err := s.manager.ClearConfig(); err != nil {
		s.logger.Error("clear configuration", "err", err)
		s.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleAdminLights(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.manager.LightIDs())
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("writeJSON encode failed", "err", err)
	}
}
