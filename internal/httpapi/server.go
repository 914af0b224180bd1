// Package httpapi exposes the session facade to the dashboard front-end
// over a small local JSON API.
package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/user/ambuwatch/internal/backend"
	"github.com/user/ambuwatch/internal/conference"
	"github.com/user/ambuwatch/internal/session"
	"github.com/user/ambuwatch/internal/stream"
	"github.com/user/ambuwatch/internal/types"
)

const maxUploadSize = 32 << 20

// Server is the HTTP handler for the local API.
type Server struct {
	facade     *session.Facade
	conference *conference.Tracker
	mux        *http.ServeMux
}

// NewServer creates a Server backed by the given facade.
func NewServer(facade *session.Facade, tracker *conference.Tracker) *Server {
	if tracker == nil {
		tracker = conference.NewTracker()
	}
	s := &Server{
		facade:     facade,
		conference: tracker,
		mux:        http.NewServeMux(),
	}
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /api/session", s.handleSession)
	s.mux.HandleFunc("POST /api/session/open", s.handleOpen)
	s.mux.HandleFunc("POST /api/session/close", s.handleClose)
	s.mux.HandleFunc("POST /api/session/refresh", s.handleRefresh)
	s.mux.HandleFunc("POST /api/session/artifacts", s.handleAddArtifact)
	s.mux.HandleFunc("DELETE /api/session/artifacts/{id}", s.handleDeleteArtifact)
	s.mux.HandleFunc("GET /api/devices/{id}/stream", s.handleStream)
	s.mux.HandleFunc("GET /api/conference", s.handleConferenceState)
	s.mux.HandleFunc("POST /api/conference/events", s.handleConferenceEvent)
	s.mux.HandleFunc("POST /api/conference/commands", s.handleConferenceCommand)
	return s
}

// ServeHTTP delegates to the internal mux, implementing http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

type errorResponse struct {
	Error       string `json:"error"`
	Kind        string `json:"kind,omitempty"`
	Retryable   bool   `json:"retryable"`
	Remediation string `json:"remediation,omitempty"`
}

func badRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, errorResponse{Error: msg})
}

// writeError maps a facade error to a status code and body.
func writeError(w http.ResponseWriter, err error) {
	resp := errorResponse{Error: err.Error()}
	status := http.StatusInternalServerError

	var apiErr *backend.APIError
	switch {
	case errors.Is(err, session.ErrNoSession), errors.Is(err, session.ErrPending):
		status = http.StatusConflict
	case errors.Is(err, session.ErrSuperseded):
		status = http.StatusConflict
		resp.Retryable = true
	case errors.Is(err, session.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, session.ErrUnknownKind), errors.Is(err, session.ErrInvalidContent):
		status = http.StatusBadRequest
	case stream.KindOf(err) != stream.KindUnknown:
		kind := stream.KindOf(err)
		resp.Kind = string(kind)
		resp.Retryable = stream.Retryable(err)
		resp.Error = stream.UserMessage(err)
		switch {
		case kind == stream.KindInvalidInput:
			status = http.StatusBadRequest
		case kind == stream.KindTransport:
			status = http.StatusGatewayTimeout
		default:
			status = http.StatusBadGateway
		}
		if stream.NeedsCredentialFix(err) {
			resp.Remediation = "update_device_credentials"
		}
	case errors.As(err, &apiErr):
		status = http.StatusBadGateway
		resp.Retryable = true
	}
	if status == http.StatusInternalServerError {
		slog.Error("api request failed", "error", err)
		resp.Error = "internal server error"
	}
	writeJSON(w, status, resp)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{"status": "ok"}
	if id, ok := s.facade.Current(); ok {
		resp["session_id"] = id
		resp["live"] = s.facade.Live()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	id, snap, err := s.facade.Snapshot()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"session_id":  id,
		"live":        s.facade.Live(),
		"notes":       snap.Notes,
		"medications": snap.Medications,
		"files":       snap.Files,
		"counts":      snap.Counts,
		"version":     snap.Version,
	})
}

type openRequest struct {
	SessionID string `json:"session_id"`
}

func (s *Server) handleOpen(w http.ResponseWriter, r *http.Request) {
	var req openRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid JSON")
		return
	}
	if strings.TrimSpace(req.SessionID) == "" {
		badRequest(w, "session_id is required")
		return
	}
	if err := s.facade.Open(r.Context(), types.SessionID(req.SessionID)); err != nil {
		writeError(w, err)
		return
	}
	s.conference.Reset()
	s.handleSession(w, r)
}

func (s *Server) handleClose(w http.ResponseWriter, r *http.Request) {
	if id, ok := s.facade.Current(); ok {
		s.facade.Close(id)
	}
	s.conference.Reset()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if err := s.facade.Refresh(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	s.handleSession(w, r)
}

type artifactRequest struct {
	Kind   string `json:"kind"`
	Text   string `json:"text"`
	Name   string `json:"name"`
	Dosage string `json:"dosage"`
	Route  string `json:"route"`
}

// handleAddArtifact accepts JSON for notes and medications and a multipart
// form with a "file" field for files.
func (s *Server) handleAddArtifact(w http.ResponseWriter, r *http.Request) {
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		s.handleUpload(w, r)
		return
	}
	var req artifactRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid JSON")
		return
	}
	content := types.Content{Text: req.Text, Name: req.Name, Dosage: req.Dosage, Route: req.Route}
	a, err := s.facade.AddArtifact(r.Context(), types.Kind(req.Kind), content, nil)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, a)
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)
	f, header, err := r.FormFile("file")
	if err != nil {
		badRequest(w, "file field is required")
		return
	}
	defer f.Close()

	content := types.Content{FileName: header.Filename, FileSize: header.Size}
	a, err := s.facade.AddArtifact(r.Context(), types.KindFile, content, f)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, a)
}

func (s *Server) handleDeleteArtifact(w http.ResponseWriter, r *http.Request) {
	id := types.ArtifactID(r.PathValue("id"))
	if err := s.facade.DeleteArtifact(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type streamResponse struct {
	DeviceID    string `json:"device_id"`
	CameraIndex int    `json:"camera"`
	URL         string `json:"url"`
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	ref := types.DeviceRef{
		ID:   types.DeviceID(r.PathValue("id")),
		Name: r.URL.Query().Get("name"),
	}
	camera := 1
	if q := r.URL.Query().Get("camera"); q != "" {
		n, err := strconv.Atoi(q)
		if err != nil || n < 1 {
			badRequest(w, "camera must be a positive integer")
			return
		}
		camera = n
	}

	var (
		url string
		err error
	)
	if refresh, _ := strconv.ParseBool(r.URL.Query().Get("refresh")); refresh {
		url, err = s.facade.RefreshCamera(r.Context(), ref, camera)
	} else {
		url, err = s.facade.CameraPlaybackURL(r.Context(), ref, camera)
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, streamResponse{DeviceID: string(ref.ID), CameraIndex: camera, URL: url})
}

func (s *Server) handleConferenceState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.conference.State())
}

func (s *Server) handleConferenceEvent(w http.ResponseWriter, r *http.Request) {
	var ev conference.Event
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
		badRequest(w, "invalid JSON")
		return
	}
	s.conference.Apply(ev)
	writeJSON(w, http.StatusOK, s.conference.State())
}

type commandRequest struct {
	Command string   `json:"command"`
	Args    []string `json:"args"`
}

// handleConferenceCommand validates a command; the front-end forwards the
// normalized command to the widget.
func (s *Server) handleConferenceCommand(w http.ResponseWriter, r *http.Request) {
	var req commandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid JSON")
		return
	}
	cmd, err := conference.NewCommand(conference.CommandName(req.Command), req.Args...)
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, cmd)
}
