package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"setupwiz/internal/adapter/authority/wire"
	"setupwiz/internal/domain"
)

const maxRequestBytes = 1 << 20

func (s *Server) routes(mux *http.ServeMux) {
	mux.HandleFunc("GET "+wire.PathResume, s.handleCanResume)
	mux.HandleFunc("PUT "+wire.PathResume, s.handleSaveState)
	mux.HandleFunc("POST "+wire.PathResumeClear, s.handleClearState)

	mux.HandleFunc("POST "+wire.PathVersions, s.handleSaveVersion)
	mux.HandleFunc("GET "+wire.PathVersions, s.handleListHistory)
	mux.HandleFunc("POST "+wire.PathVersionsUndo, s.handleUndo)
	mux.HandleFunc("POST /api/versions/{id}/restore", s.handleRestoreVersion)

	mux.HandleFunc("POST "+wire.PathCheckpoints, s.handleCreateCheckpoint)
	mux.HandleFunc("GET "+wire.PathCheckpoints, s.handleListCheckpoints)
	mux.HandleFunc("POST /api/checkpoints/{id}/restore", s.handleRestoreCheckpoint)

	mux.HandleFunc("POST "+wire.PathValidate, s.handleValidate)
	mux.HandleFunc("GET "+wire.PathInstallStatus, s.handleGetStatus)
	mux.HandleFunc("PUT "+wire.PathInstallStatus, s.handlePutStatus)

	mux.HandleFunc("GET "+wire.PathEvents, s.handleEvents)
}

func (s *Server) handleCanResume(w http.ResponseWriter, r *http.Request) {
	st, err := s.deps.Resume.CanResume(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleSaveState(w http.ResponseWriter, r *http.Request) {
	var st domain.ResumeState
	if !s.decode(w, r, &st) {
		return
	}
	if err := s.deps.Resume.SaveState(r.Context(), st); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleClearState(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Resume.ClearState(r.Context()); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSaveVersion(w http.ResponseWriter, r *http.Request) {
	var in domain.VersionInput
	if !s.decode(w, r, &in) {
		return
	}
	id, err := s.deps.Versions.SaveVersion(r.Context(), in)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.publish(r.Context(), domain.EventVersionSaved, map[string]string{"versionId": id, "action": in.Metadata.Action})
	writeJSON(w, http.StatusCreated, wire.SaveVersionResponse{VersionID: id})
}

func (s *Server) handleListHistory(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			s.writeError(w, domain.NewDomainError("gateway.ListHistory", domain.ErrInvalidInput, "limit must be a non-negative integer"))
			return
		}
		limit = n
	}
	hist, err := s.deps.Versions.ListHistory(r.Context(), limit)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if hist == nil {
		hist = []domain.VersionEntry{}
	}
	writeJSON(w, http.StatusOK, wire.HistoryResponse{Versions: hist})
}

func (s *Server) handleUndo(w http.ResponseWriter, r *http.Request) {
	res, err := s.deps.Versions.Undo(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	if res.Success {
		s.publish(r.Context(), domain.EventVersionUndone, nil)
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleRestoreVersion(w http.ResponseWriter, r *http.Request) {
	res, err := s.deps.Versions.Restore(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleCreateCheckpoint(w http.ResponseWriter, r *http.Request) {
	var req wire.CreateCheckpointRequest
	if !s.decode(w, r, &req) {
		return
	}
	cp, err := s.deps.Checkpoints.Create(r.Context(), req.Stage, req.Data)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.publish(r.Context(), domain.EventCheckpointCreated, map[string]string{"checkpointId": cp.ID, "stage": cp.Stage})
	writeJSON(w, http.StatusCreated, cp)
}

func (s *Server) handleListCheckpoints(w http.ResponseWriter, r *http.Request) {
	list, err := s.deps.Checkpoints.List(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	if list == nil {
		list = []domain.Checkpoint{}
	}
	writeJSON(w, http.StatusOK, wire.CheckpointsResponse{Checkpoints: list})
}

func (s *Server) handleRestoreCheckpoint(w http.ResponseWriter, r *http.Request) {
	cp, err := s.deps.Checkpoints.Restore(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cp)
}

func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	if s.deps.Validator == nil {
		writeJSON(w, http.StatusNotImplemented, wire.ErrorBody{Error: "validation is not configured", Code: domain.CodeUnknown})
		return
	}
	var req wire.ValidateRequest
	if !s.decode(w, r, &req) {
		return
	}
	res, err := s.deps.Validator.Validate(r.Context(), req.Config)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleGetStatus(w http.ResponseWriter, r *http.Request) {
	st, err := s.deps.Install.Status(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// handlePutStatus is called by the installer; every wizard connected to
// /ws sees the new status as an installation.status event.
func (s *Server) handlePutStatus(w http.ResponseWriter, r *http.Request) {
	var st domain.InstallationStatus
	if !s.decode(w, r, &st) {
		return
	}
	if err := s.deps.Install.PutStatus(r.Context(), st); err != nil {
		s.writeError(w, err)
		return
	}
	s.publish(r.Context(), domain.EventInstallationStatus, st)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) publish(ctx context.Context, t domain.EventType, payload any) {
	if s.deps.Bus == nil {
		return
	}
	s.deps.Bus.Publish(context.WithoutCancel(ctx), domain.NewEvent(t, payload))
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes))
	if err := dec.Decode(v); err != nil {
		s.writeError(w, domain.NewDomainError("gateway.decode", domain.ErrInvalidInput, err.Error()))
		return false
	}
	return true
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	code := domain.ErrorCodeOf(err)
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrOperationInFlight):
		status = http.StatusConflict
	case errors.Is(err, domain.ErrAuthorityUnavailable):
		status = http.StatusServiceUnavailable
	case errors.Is(err, domain.ErrInvalidInput), errors.Is(err, domain.ErrSealing):
		status = http.StatusBadRequest
	}
	if status >= 500 {
		s.logger.Error("authority request failed", "error", err, "code", code)
	}
	writeJSON(w, status, wire.ErrorBody{Error: err.Error(), Code: code})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
