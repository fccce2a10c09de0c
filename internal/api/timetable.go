package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"timetabled/internal/domain"
)

type sessionReq struct {
	Unit      string            `json:"unit" validate:"required"`
	Day       string            `json:"day" validate:"required"`
	StartTime *domain.TimeOfDay `json:"start_time" validate:"required"`
	EndTime   *domain.TimeOfDay `json:"end_time" validate:"required"`
}

func (req sessionReq) session() domain.ClassSession {
	return domain.ClassSession{Unit: req.Unit, Day: req.Day, StartTime: *req.StartTime, EndTime: *req.EndTime}
}

// createSessions accepts one session object or an array of them. An array is
// stored all-or-nothing.
func (s *Server) createSessions(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "bad_request", "failed to read request body", err)
		return
	}

	bulk := len(bytes.TrimSpace(body)) > 0 && bytes.TrimSpace(body)[0] == '['
	var reqs []sessionReq
	if bulk {
		err = json.Unmarshal(body, &reqs)
	} else {
		var one sessionReq
		err = json.Unmarshal(body, &one)
		reqs = []sessionReq{one}
	}
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "bad_request", "request body is not valid JSON", err)
		return
	}
	if len(reqs) == 0 {
		writeError(w, r, http.StatusBadRequest, "validation_failed", "at least one session is required", nil)
		return
	}

	sessions := make([]domain.ClassSession, 0, len(reqs))
	for i := range reqs {
		if !s.check(w, r, &reqs[i]) {
			return
		}
		cs := reqs[i].session()
		if err := cs.Validate(); err != nil {
			writeError(w, r, http.StatusBadRequest, "validation_failed", err.Error(), nil)
			return
		}
		sessions = append(sessions, cs)
	}

	created, err := s.repo.CreateSessions(r.Context(), sessions)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "internal", "Failed to create timetable entry", err)
		return
	}
	if bulk {
		writeJSON(w, http.StatusCreated, map[string]any{"success": true, "data": created})
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"success": true, "data": created[0]})
}

func (s *Server) listSessions(w http.ResponseWriter, r *http.Request) {
	var (
		sessions []domain.ClassSession
		err      error
	)
	if day := r.URL.Query().Get("day"); day != "" {
		if _, derr := domain.NormalizeDay(day); derr != nil {
			writeError(w, r, http.StatusBadRequest, "bad_request", derr.Error(), nil)
			return
		}
		sessions, err = s.repo.ListSessionsForDay(r.Context(), day)
	} else {
		sessions, err = s.repo.ListSessions(r.Context())
	}
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "internal", "Failed to list timetable", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "data": sessions})
}

func (s *Server) getSession(w http.ResponseWriter, r *http.Request) {
	cs, err := s.repo.GetSession(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, domain.ErrNotFound) {
		writeError(w, r, http.StatusNotFound, "not_found", "Class not found", nil)
		return
	}
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "internal", "Failed to get class", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "data": cs})
}

func (s *Server) deleteSession(w http.ResponseWriter, r *http.Request) {
	err := s.repo.DeleteSession(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, domain.ErrNotFound) {
		writeError(w, r, http.StatusNotFound, "not_found", "Class not found", nil)
		return
	}
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "internal", "Failed to delete class", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type studentReq struct {
	Name      string `json:"name" validate:"required"`
	Email     string `json:"email" validate:"required,email"`
	Phone     string `json:"phone" validate:"required"`
	StudentID string `json:"student_id" validate:"required"`
	ClassName string `json:"class_name"`
	Active    *bool  `json:"active"`
}

type studentPatchReq struct {
	Active *bool `json:"active" validate:"required"`
}

func (s *Server) createStudent(w http.ResponseWriter, r *http.Request) {
	var req studentReq
	if !s.decode(w, r, &req) {
		return
	}
	st := domain.Student{
		Name: req.Name, Email: req.Email, Phone: req.Phone,
		StudentID: req.StudentID, ClassName: req.ClassName,
		Active: req.Active == nil || *req.Active,
	}
	created, err := s.repo.CreateStudent(r.Context(), st)
	if errors.Is(err, domain.ErrConflict) {
		writeError(w, r, http.StatusConflict, "conflict", "A student with this email or student_id already exists", nil)
		return
	}
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "internal", "Failed to create student", err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"success": true, "data": created})
}

func (s *Server) listStudents(w http.ResponseWriter, r *http.Request) {
	students, err := s.repo.ListStudents(r.Context())
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "internal", "Failed to list students", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "data": students})
}

func (s *Server) updateStudent(w http.ResponseWriter, r *http.Request) {
	var req studentPatchReq
	if !s.decode(w, r, &req) {
		return
	}
	err := s.repo.SetStudentActive(r.Context(), chi.URLParam(r, "id"), *req.Active)
	if errors.Is(err, domain.ErrNotFound) {
		writeError(w, r, http.StatusNotFound, "not_found", "Student not found", nil)
		return
	}
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "internal", "Failed to update student", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "data": map[string]any{"id": chi.URLParam(r, "id"), "active": *req.Active}})
}
