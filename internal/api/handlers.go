package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/wardenhq/warden/internal/domain"
	"github.com/wardenhq/warden/internal/engine"
)

// handleStatus returns the latest engine snapshot.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	snap, err := s.engine.Status()
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, snap)
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.SetRunning(true); err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "Started"})
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.SetRunning(false); err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "Stopped"})
}

func (s *Server) handleGetApps(w http.ResponseWriter, r *http.Request) {
	apps, err := s.engine.Apps()
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, apps)
}

// appUpdateRequest is the dashboard's rule-update body.
type appUpdateRequest struct {
	Limit   int  `json:"limit"`
	Blocked bool `json:"blocked"`
}

func (s *Server) handleUpdateApp(w http.ResponseWriter, r *http.Request) {
	pkg := chi.URLParam(r, "pkg")

	var req appUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondJSON(w, http.StatusBadRequest, map[string]string{"error": "malformed body"})
		return
	}
	if err := s.engine.UpdateApp(pkg, req.Limit, req.Blocked); err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "success", "package": pkg})
}

func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	cfg, err := s.engine.ConfigView()
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, cfg)
}

// configPatchRequest mirrors domain.GlobalConfig wire names with pointer
// fields so absent keys keep their prior values.
type configPatchRequest struct {
	Persona          *string `json:"persona"`
	Focus            *string `json:"focus"`
	StudyMode        *bool   `json:"study_mode"`
	DoomscrollMode   *bool   `json:"doomscroll_mode"`
	GracePeriod      *int    `json:"grace_period"`
	MaxStrikes       *int    `json:"max_strikes"`
	PenaltyDuration  *int    `json:"penalty_duration"`
	PunishmentType   *string `json:"punishment_type"`
	PunishmentTarget *string `json:"punishment_target"`
}

func (s *Server) handleUpdateConfig(w http.ResponseWriter, r *http.Request) {
	var req configPatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondJSON(w, http.StatusBadRequest, map[string]string{"error": "malformed body"})
		return
	}

	cfg, err := s.engine.UpdateConfig(engine.ConfigPatch{
		Persona:          req.Persona,
		Focus:            req.Focus,
		StudyMode:        req.StudyMode,
		DoomscrollMode:   req.DoomscrollMode,
		GracePeriodSecs:  req.GracePeriod,
		MaxStrikes:       req.MaxStrikes,
		PenaltySecs:      req.PenaltyDuration,
		PunishmentType:   req.PunishmentType,
		PunishmentTarget: req.PunishmentTarget,
	})
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"status": "Updated", "config": cfg})
}

func (s *Server) handleAnalytics(w http.ResponseWriter, r *http.Request) {
	snap, err := s.engine.Analytics()
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, snap)
}

// scheduleEntry is the wire form of a schedule window; times are "HH:MM".
type scheduleEntry struct {
	ID               int64  `json:"id"`
	StartTime        string `json:"start_time"`
	EndTime          string `json:"end_time"`
	Label            string `json:"label"`
	StudyMode        bool   `json:"study_mode"`
	DoomscrollMode   bool   `json:"doomscroll_mode"`
	PunishmentType   string `json:"punishment_type"`
	PunishmentTarget string `json:"punishment_target"`
}

func toEntry(w domain.ScheduleWindow) scheduleEntry {
	return scheduleEntry{
		ID:               w.ID,
		StartTime:        formatClock(w.Start),
		EndTime:          formatClock(w.End),
		Label:            w.Label,
		StudyMode:        w.StudyMode,
		DoomscrollMode:   w.DoomscrollMode,
		PunishmentType:   string(w.PunishmentType),
		PunishmentTarget: w.PunishmentTarget,
	}
}

func (s *Server) handleGetSchedule(w http.ResponseWriter, r *http.Request) {
	windows, err := s.engine.Schedules()
	if err != nil {
		s.respondError(w, err)
		return
	}
	entries := make([]scheduleEntry, 0, len(windows))
	for _, win := range windows {
		entries = append(entries, toEntry(win))
	}
	s.respondJSON(w, http.StatusOK, entries)
}

func (s *Server) handleAddSchedule(w http.ResponseWriter, r *http.Request) {
	var req scheduleEntry
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondJSON(w, http.StatusBadRequest, map[string]string{"error": "malformed body"})
		return
	}

	start, err := parseClock(req.StartTime)
	if err != nil {
		s.respondError(w, &domain.ValidationError{Field: "start_time", Reason: err.Error()})
		return
	}
	end, err := parseClock(req.EndTime)
	if err != nil {
		s.respondError(w, &domain.ValidationError{Field: "end_time", Reason: err.Error()})
		return
	}

	created, err := s.engine.AddSchedule(domain.ScheduleWindow{
		Start:            start,
		End:              end,
		Label:            req.Label,
		StudyMode:        req.StudyMode,
		DoomscrollMode:   req.DoomscrollMode,
		PunishmentType:   domain.PunishmentKind(req.PunishmentType),
		PunishmentTarget: req.PunishmentTarget,
	})
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusCreated, toEntry(created))
}

func (s *Server) handleDeleteSchedule(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		s.respondJSON(w, http.StatusBadRequest, map[string]string{"error": "malformed id"})
		return
	}
	if err := s.engine.DeleteSchedule(id); err != nil {
		s.respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleAgentStatus(w http.ResponseWriter, r *http.Request) {
	task, ok := s.bridge.Current()
	if !ok {
		task = domain.AgentTask{Status: domain.TaskPending}
	}
	s.respondJSON(w, http.StatusOK, task)
}

type agentExecuteRequest struct {
	Prompt string `json:"prompt"`
}

// handleAgentExecute runs the task synchronously; the dashboard waits for
// the result.
func (s *Server) handleAgentExecute(w http.ResponseWriter, r *http.Request) {
	var req agentExecuteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondJSON(w, http.StatusBadRequest, map[string]string{"error": "malformed body"})
		return
	}

	task, err := s.bridge.Execute(r.Context(), req.Prompt)
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{
		"status": string(task.Status),
		"output": task.Output,
	})
}

func formatClock(t domain.ClockTime) string {
	return fmt.Sprintf("%02d:%02d", t.Hour, t.Minute)
}

func parseClock(s string) (domain.ClockTime, error) {
	var h, m int
	if _, err := fmt.Sscanf(s, "%d:%d", &h, &m); err != nil {
		return domain.ClockTime{}, fmt.Errorf("want HH:MM, got %q", s)
	}
	if h < 0 || h > 23 || m < 0 || m > 59 {
		return domain.ClockTime{}, fmt.Errorf("out of range: %q", s)
	}
	return domain.ClockTime{Hour: h, Minute: m}, nil
}
