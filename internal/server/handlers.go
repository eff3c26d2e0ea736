package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/claude/repquest/internal/analysis"
	"github.com/claude/repquest/internal/coach"
	"github.com/claude/repquest/internal/progression"
	"github.com/claude/repquest/internal/quest"
)

// defaultExpGain is credited when a workout log omits expGain.
const defaultExpGain = 10

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.db != nil {
		if err := s.db.Ping(r.Context()); err != nil {
			s.log.Error("health check failed", "error", err)
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "database unreachable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleQuests(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, quest.All())
}

func (s *Server) handleQuest(w http.ResponseWriter, r *http.Request) {
	q, ok := quest.Find(chi.URLParam(r, "id"))
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "quest not found"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"quest":  q,
		"stages": quest.StageMedia(q.Monster),
	})
}

type workoutLogRequest struct {
	UserID  string `json:"userId"`
	ExpGain *int   `json:"expGain"`
}

func (s *Server) handleWorkoutLog(w http.ResponseWriter, r *http.Request) {
	var req workoutLogRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON: " + err.Error()})
		return
	}
	if !checkSubject(w, r, req.UserID) {
		return
	}
	gain := defaultExpGain
	if req.ExpGain != nil {
		gain = *req.ExpGain
	}

	res, err := s.progression.Credit(r.Context(), req.UserID, gain)
	if err != nil {
		if errors.Is(err, progression.ErrInvalidGain) {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}
		s.log.Error("workout log error", "subject", req.UserID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Failed to log workout"})
		return
	}

	writeJSON(w, http.StatusOK, struct {
		Success bool `json:"success"`
		progression.CreditResult
	}{true, res})
}

func (s *Server) handleCoach(w http.ResponseWriter, r *http.Request) {
	var req coach.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON: " + err.Error()})
		return
	}
	if !checkSubject(w, r, req.SubjectID) {
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"tip": s.coach.Tip(r.Context(), req)})
}

type analysisResponse struct {
	analysis.Result
	JobID uuid.UUID     `json:"jobId"`
	Model string        `json:"model"`
	Mode  analysis.Mode `json:"mode"`
}

func (s *Server) handleAnalyzeVideo(w http.ResponseWriter, r *http.Request) {
	if s.analyzer == nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Gemini key not configured"})
		return
	}
	opts := s.analyzer.Options()

	// Leave headroom for the other form fields.
	r.Body = http.MaxBytesReader(w, r.Body, opts.MaxBytes+1<<20)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": s.analyzer.Validate("video/", opts.MaxBytes+1).Error()})
			return
		}
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid multipart form: " + err.Error()})
		return
	}
	defer r.MultipartForm.RemoveAll()

	userID := r.FormValue("userId")
	if !checkSubject(w, r, userID) {
		return
	}
	targetReps, _ := strconv.Atoi(r.FormValue("targetReps"))

	file, header, err := r.FormFile("video")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Missing video file"})
		return
	}
	defer file.Close()

	mimeType := header.Header.Get("Content-Type")
	if err := s.analyzer.Validate(mimeType, header.Size); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	data, err := io.ReadAll(file)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "reading video: " + err.Error()})
		return
	}

	job, err := s.analyzer.Analyze(r.Context(), analysis.Request{
		SubjectID:  userID,
		Workout:    r.FormValue("workout"),
		TargetReps: targetReps,
		MIMEType:   mimeType,
		Data:       data,
	})
	if err != nil {
		status, msg := analysisStatus(err)
		if status >= http.StatusInternalServerError {
			s.log.Error("analyze video error", "subject", userID, "status", status, "error", err)
		}
		writeJSON(w, status, map[string]string{"error": msg})
		return
	}

	writeJSON(w, http.StatusOK, analysisResponse{
		Result: *job.Result,
		JobID:  job.ID,
		Model:  job.Model,
		Mode:   job.Mode,
	})
}

// analysisStatus maps pipeline errors to HTTP statuses.
func analysisStatus(err error) (int, string) {
	var cascade *analysis.CascadeError
	switch {
	case errors.Is(err, analysis.ErrValidation):
		return http.StatusBadRequest, err.Error()
	case errors.As(err, &cascade):
		return http.StatusBadGateway, err.Error()
	case errors.Is(err, analysis.ErrProcessingTimeout):
		return http.StatusGatewayTimeout, "Video is still processing in Gemini. Try again shortly."
	case errors.Is(err, analysis.ErrProcessingFailed):
		return http.StatusBadGateway, err.Error()
	case errors.Is(err, analysis.ErrNoStructuredResult):
		return http.StatusBadGateway, "Gemini did not return JSON"
	default:
		return http.StatusInternalServerError, err.Error()
	}
}

type profileResponse struct {
	progression.Profile
	NextRank  progression.Rank `json:"nextRank,omitempty"`
	ExpToNext int              `json:"expToNext"`
}

func (s *Server) handleProfile(w http.ResponseWriter, r *http.Request) {
	subject, _ := SubjectFromContext(r.Context())
	p, err := s.progression.Profile(r.Context(), subject)
	if err != nil {
		s.log.Error("profile error", "subject", subject, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Failed to load profile"})
		return
	}
	resp := profileResponse{Profile: p}
	if next, needed, ok := progression.NextRank(p.Exp); ok {
		resp.NextRank, resp.ExpToNext = next, needed
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleAnalyses(w http.ResponseWriter, r *http.Request) {
	subject, _ := SubjectFromContext(r.Context())
	limit := parseLimit(r)
	recs, err := s.analyses.QueryAnalyses(r.Context(), subject, limit)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, recs)
}

func (s *Server) handleExpLog(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "experience history not available"})
		return
	}
	subject, _ := SubjectFromContext(r.Context())
	entries, err := s.history.QueryExpLog(r.Context(), subject, parseLimit(r))
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

// parseLimit reads ?limit=, defaulting to 20 and capped at 100.
func parseLimit(r *http.Request) int {
	limit := 20
	if l := r.URL.Query().Get("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 {
			limit = min(parsed, 100)
		}
	}
	return limit
}

// checkSubject enforces that the body's userId names the authenticated
// caller.
func checkSubject(w http.ResponseWriter, r *http.Request, userID string) bool {
	if userID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Missing userId"})
		return false
	}
	subject, ok := SubjectFromContext(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
		return false
	}
	if subject != userID {
		writeJSON(w, http.StatusForbidden, map[string]string{"error": "Forbidden"})
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
