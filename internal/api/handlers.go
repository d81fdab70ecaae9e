package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"procodus.dev/emovision/internal/analysis"
)

// maxUploadBytes caps the in-memory portion of a multipart upload.
const maxUploadBytes = 32 << 20 // 32 MiB

// uploadResponse is the success payload for POST /analyses/upload.
type uploadResponse struct {
	Message string         `json:"message"`
	Data    *analysis.View `json:"data"`
}

// errorResponse is the payload for failed requests.
type errorResponse struct {
	Message string `json:"message"`
	Error   string `json:"error"`
}

// handleHealth serves the health check endpoint.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handlePreflight answers CORS preflight requests for every route.
func (s *Server) handlePreflight(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
	w.WriteHeader(http.StatusNoContent)
}

// handleUpload ingests one upload: multipart fields "device" (name)
// and "image" (binary payload).
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid multipart request", err)
		return
	}

	device := r.FormValue("device")
	if device == "" {
		s.writeError(w, http.StatusBadRequest, "the 'device' field is required", nil)
		return
	}

	file, header, err := r.FormFile("image")
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "the 'image' field is required", err)
		return
	}
	defer func() {
		_ = file.Close()
	}()

	image, err := io.ReadAll(file)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "failed to read image payload", err)
		return
	}

	if s.metrics != nil {
		s.metrics.UploadSizeBytes.Observe(float64(len(image)))
	}

	created, err := s.service.Create(r.Context(), device, header.Filename, image)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}

	// Re-fetch through the reader so the response carries the exact
	// persisted projection.
	view, err := s.service.Get(r.Context(), created.ID)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to load created analysis", err)
		return
	}

	s.writeJSON(w, http.StatusOK, &uploadResponse{
		Message: "analysis created successfully",
		Data:    view,
	})
}

// handleList serves all stored analyses as flattened views.
func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	views, err := s.service.List(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to list analyses", err)
		return
	}

	s.writeJSON(w, http.StatusOK, views)
}

// handleGet serves one analysis by id.
func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}

	view, err := s.service.Get(r.Context(), id)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to fetch analysis", err)
		return
	}
	if view == nil {
		s.writeError(w, http.StatusNotFound, "analysis not found", nil)
		return
	}

	s.writeJSON(w, http.StatusOK, view)
}

// handleGetImage serves the raw image bytes for one analysis.
func (s *Server) handleGetImage(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}

	image, err := s.service.GetImage(r.Context(), id)
	if err != nil {
		if errors.Is(err, analysis.ErrNotFound) {
			s.writeError(w, http.StatusNotFound, "image not found", err)
			return
		}
		s.writeError(w, http.StatusInternalServerError, "failed to fetch image", err)
		return
	}

	w.Header().Set("Content-Type", "image/jpeg")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(image)
}

// handleUpdateStatus mutates only the status flag of one analysis.
// The new value arrives as the "status" query parameter.
func (s *Server) handleUpdateStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}

	status, err := strconv.ParseBool(r.URL.Query().Get("status"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "the 'status' parameter must be a boolean", err)
		return
	}

	view, err := s.service.UpdateStatus(r.Context(), id, status)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to update analysis", err)
		return
	}
	if view == nil {
		s.writeError(w, http.StatusNotFound, "analysis not found", nil)
		return
	}

	s.writeJSON(w, http.StatusOK, view)
}

// handleDelete removes one analysis and its owned records.
func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}

	deleted, err := s.service.Delete(r.Context(), id)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to delete analysis", err)
		return
	}
	if !deleted {
		s.writeError(w, http.StatusNotFound, "analysis not found", nil)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// pathID parses the {id} path segment; writes a 400 and returns false
// when it is not a positive integer.
func (s *Server) pathID(w http.ResponseWriter, r *http.Request) (uint, bool) {
	raw := r.PathValue("id")
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid analysis id", err)
		return 0, false
	}
	return uint(id), true
}

// writeServiceError maps a pipeline error category to its HTTP status.
func (s *Server) writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, analysis.ErrValidation):
		s.writeError(w, http.StatusBadRequest, "invalid upload", err)
	case errors.Is(err, analysis.ErrServiceUnavailable):
		s.writeError(w, http.StatusServiceUnavailable, "classification service unavailable, try again later", err)
	default:
		s.writeError(w, http.StatusInternalServerError, "failed to process analysis", err)
	}
}

// writeError writes a JSON error response and logs server-side faults.
func (s *Server) writeError(w http.ResponseWriter, status int, message string, err error) {
	body := &errorResponse{Message: message}
	if err != nil {
		body.Error = err.Error()
	}

	if status >= http.StatusInternalServerError {
		s.logger.Error(message, "status", status, "error", err)
	} else {
		s.logger.Debug(message, "status", status, "error", err)
	}

	s.writeJSON(w, status, body)
}

// writeJSON writes a JSON response body.
func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("failed to encode response", "error", err)
	}
}
