package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"timetabled/internal/alerts"
	"timetabled/internal/domain"
)

type customMessageReq struct {
	Message    string   `json:"message" validate:"required"`
	Recipients []string `json:"recipients" validate:"omitempty,dive,required"`
}

type testSMSReq struct {
	PhoneNumber string `json:"phone_number" validate:"required"`
	Message     string `json:"message" validate:"required"`
}

type alertConfigReq struct {
	AlertIntervals []int `json:"alert_intervals" validate:"required,min=1,dive,min=1"`
	Enabled        *bool `json:"enabled"` // default true
}

type messageResp struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func (s *Server) sendCustomMessage(w http.ResponseWriter, r *http.Request) {
	var req customMessageReq
	if !s.decode(w, r, &req) {
		return
	}
	res, err := s.sched.SendCustomMessage(r.Context(), req.Message, req.Recipients)
	if errors.Is(err, domain.ErrNoRecipients) {
		writeError(w, r, http.StatusInternalServerError, "no_recipients", "No student contacts found", err)
		return
	}
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "delivery_failed", "Failed to send custom message", err)
		return
	}
	writeJSON(w, http.StatusCreated, messageResp{Success: true, Message: "Custom message sent successfully", Data: res.Data})
}

func (s *Server) testSMS(w http.ResponseWriter, r *http.Request) {
	var req testSMSReq
	if !s.decode(w, r, &req) {
		return
	}
	res, err := s.sched.SendTestMessage(r.Context(), req.PhoneNumber, req.Message)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "delivery_failed", "Failed to send test SMS", err)
		return
	}
	writeJSON(w, http.StatusCreated, messageResp{Success: true, Message: "Test SMS sent successfully", Data: res.Data})
}

func (s *Server) startScheduler(w http.ResponseWriter, r *http.Request) {
	// the loop outlives this request
	if s.sched.Start(s.baseCtx) {
		writeJSON(w, http.StatusOK, messageResp{Success: true, Message: "Alert scheduler started successfully"})
		return
	}
	writeJSON(w, http.StatusOK, messageResp{Success: true, Message: "Alert scheduler is already running"})
}

func (s *Server) stopScheduler(w http.ResponseWriter, r *http.Request) {
	s.sched.Stop()
	writeJSON(w, http.StatusOK, messageResp{Success: true, Message: "Alert scheduler stopped successfully"})
}

type statusResp struct {
	Success bool `json:"success"`
	alerts.Status
}

func (s *Server) schedulerStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, statusResp{Success: true, Status: s.sched.Status()})
}

func (s *Server) updateAlertConfig(w http.ResponseWriter, r *http.Request) {
	var req alertConfigReq
	if !s.decode(w, r, &req) {
		return
	}
	if err := s.sched.SetIntervals(req.AlertIntervals); err != nil {
		writeError(w, r, http.StatusBadRequest, "validation_failed", err.Error(), nil)
		return
	}
	if req.Enabled == nil || *req.Enabled {
		s.sched.Start(s.baseCtx)
	} else {
		s.sched.Stop()
	}
	writeJSON(w, http.StatusOK, statusResp{Success: true, Status: s.sched.Status()})
}

func (s *Server) sendImmediateAlert(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "classID")
	cs, err := s.sched.SendImmediateAlert(r.Context(), id)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, r, http.StatusNotFound, "not_found", "Class not found", nil)
		return
	case errors.Is(err, domain.ErrNoRecipients):
		writeError(w, r, http.StatusInternalServerError, "no_recipients", "No student contacts found", err)
		return
	case err != nil:
		writeError(w, r, http.StatusInternalServerError, "delivery_failed", "Failed to send immediate alert", err)
		return
	}
	writeJSON(w, http.StatusCreated, messageResp{Success: true, Message: fmt.Sprintf("Immediate alert sent for %s class", cs.Unit)})
}

func (s *Server) todaysSchedule(w http.ResponseWriter, r *http.Request) {
	classes, err := s.sched.Upcoming(r.Context())
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "internal", "Failed to get today's schedule", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "data": classes})
}

func (s *Server) listDeliveries(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 500 {
			writeError(w, r, http.StatusBadRequest, "bad_request", "limit must be between 1 and 500", nil)
			return
		}
		limit = n
	}
	ds, err := s.repo.ListDeliveries(r.Context(), limit)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "internal", "Failed to list deliveries", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "data": ds})
}
