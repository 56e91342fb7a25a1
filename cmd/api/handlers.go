package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/velvet-oracle/ritual/src/app/rituals"
	"github.com/velvet-oracle/ritual/src/domain/attempt"
	"github.com/velvet-oracle/ritual/src/domain/player"
	"github.com/velvet-oracle/ritual/src/domain/question"
	"github.com/velvet-oracle/ritual/src/domain/shared"
)

const maxBodyBytes = 1 << 20

// flexID accepts ids sent either as JSON strings or numbers.
type flexID string

func (f *flexID) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*f = flexID(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("id must be a string or a number: %w", shared.ErrInvalidArgument)
	}
	*f = flexID(n.String())
	return nil
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("decode request: %w: %w", shared.ErrInvalidArgument, err)
	}
	if err := s.validate.Struct(dst); err != nil {
		return fmt.Errorf("%w: %w", shared.ErrInvalidArgument, err)
	}
	return nil
}

// errorStatus maps an error to its HTTP status and stable error code.
func errorStatus(err error) (int, string) {
	var verrs validator.ValidationErrors
	switch {
	case errors.Is(err, player.ErrNoFreeAttemptsLeft):
		return http.StatusForbidden, "no_free_attempts_left"
	case errors.Is(err, player.ErrAccessExpired):
		return http.StatusForbidden, "access_expired"
	case errors.Is(err, player.ErrIdentityConflict):
		return http.StatusConflict, "identity_conflict"
	case errors.Is(err, attempt.ErrAlreadyCompleted):
		return http.StatusConflict, "attempt_already_completed"
	case errors.Is(err, rituals.ErrNoActiveAttempt):
		return http.StatusNotFound, "no_active_attempt"
	case errors.Is(err, rituals.ErrAttemptNotOwned):
		return http.StatusForbidden, "attempt_not_owned"
	case errors.Is(err, errIdentityMismatch):
		return http.StatusForbidden, "identity_mismatch"
	case errors.Is(err, shared.ErrInvalidArgument), errors.As(err, &verrs):
		return http.StatusBadRequest, "invalid_request"
	case errors.Is(err, shared.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, shared.ErrStoreUnavailable), errors.Is(err, question.ErrBankUnavailable):
		return http.StatusServiceUnavailable, "store_unavailable"
	}
	return http.StatusInternalServerError, "internal_error"
}

func (s *Server) handleAPIRoot(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{
		"service": "ritual-core",
		"status":  "ok",
		"version": s.cfg.Version,
	})
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"version": s.cfg.Version})
}

type storeHealth struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

type healthResponse struct {
	Status   string      `json:"status"`
	Version  string      `json:"version"`
	Env      string      `json:"env"`
	UTC      time.Time   `json:"utc"`
	Airtable storeHealth `json:"airtable"`
}

// handleHealth reports 503 only while draining; a failing store check is
// reported in the body.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status:  "ok",
		Version: s.cfg.Version,
		Env:     s.cfg.Env,
		UTC:     time.Now().UTC(),
	}
	if s.cfg.StoreCheck == nil {
		resp.Airtable.Error = "not_configured"
	} else if err := s.cfg.StoreCheck(r.Context()); err != nil {
		resp.Airtable.Error = err.Error()
	} else {
		resp.Airtable.OK = true
	}
	status := http.StatusOK
	if !s.cfg.Ready.Load() {
		resp.Status = "draining"
		status = http.StatusServiceUnavailable
	}
	s.writeJSON(w, status, resp)
}

type questionsResponse struct {
	Count     int                 `json:"count"`
	Questions []question.Question `json:"questions"`
}

func (s *Server) handleRandomQuestions(w http.ResponseWriter, r *http.Request) {
	count, err := strconv.Atoi(r.URL.Query().Get("count"))
	if err != nil {
		count = question.DefaultDrawSize
	}
	qs, err := s.cfg.QuestionService.Random(r.Context(), count)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if qs == nil {
		qs = []question.Question{}
	}
	s.writeJSON(w, http.StatusOK, questionsResponse{Count: len(qs), Questions: qs})
}

type startRequest struct {
	TelegramUserID flexID `json:"telegram_user_id" validate:"required"`
	SignupToken    string `json:"signup_token" validate:"max=128"`
	Username       string `json:"username" validate:"max=64"`
	Mode           string `json:"mode" validate:"max=32"`
	ScoreMax       int    `json:"score_max" validate:"gte=0,lte=50"`
}

type startResponse struct {
	OK                    bool       `json:"ok"`
	AttemptID             string     `json:"attempt_id"`
	PlayerRecordID        string     `json:"player_record_id"`
	IsFree                bool       `json:"is_free"`
	Resumed               bool       `json:"resumed"`
	Renewed               bool       `json:"renewed"`
	FreeAttemptsRemaining int        `json:"free_attempts_remaining"`
	AccessStatus          string     `json:"access_status"`
	AccessUntil           *time.Time `json:"access_until,omitempty"`
	Version               string     `json:"version"`
}

func (s *Server) handleRitualStart(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if err := s.decode(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	ext := shared.ExternalID(req.TelegramUserID)
	if err := authorize(r.Context(), ext); err != nil {
		s.writeError(w, r, err)
		return
	}
	mode := strings.TrimSpace(req.Mode)
	if mode == "" {
		mode = attempt.DefaultMode
	}
	out, err := s.cfg.RitualService.Start(r.Context(), rituals.StartCommand{
		ExternalID:  ext,
		SignupToken: shared.SignupToken(strings.TrimSpace(req.SignupToken)),
		Username:    req.Username,
		Mode:        mode,
		ScoreMax:    req.ScoreMax,
	})
	s.countRitual("start", err)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	p := out.Player
	s.writeJSON(w, http.StatusOK, startResponse{
		OK:                    true,
		AttemptID:             string(out.AttemptID),
		PlayerRecordID:        string(p.ID),
		IsFree:                out.IsFree,
		Resumed:               out.Resumed,
		Renewed:               out.Renewed,
		FreeAttemptsRemaining: p.FreeAttemptsRemaining,
		AccessStatus:          string(p.AccessStatus),
		AccessUntil:           p.AccessUntil,
		Version:               s.cfg.Version,
	})
}

type answerRequest struct {
	QuestionID   flexID `json:"question_id" validate:"max=64"`
	ChoiceLetter string `json:"choice_letter" validate:"max=8"`
	Status       string `json:"status" validate:"omitempty,oneof=correct wrong timeout"`
	IsCorrect    bool   `json:"is_correct"`
}

type completeRequest struct {
	TelegramUserID   flexID          `json:"telegram_user_id" validate:"required"`
	AttemptID        string          `json:"attempt_id" validate:"max=64"`
	ScoreRaw         int             `json:"score_raw" validate:"gte=0"`
	ScoreMax         int             `json:"score_max" validate:"gte=0,lte=50"`
	TimeTotalSeconds int             `json:"time_total_seconds" validate:"gte=0"`
	Answers          []answerRequest `json:"answers" validate:"max=200,dive"`
	FeedbackText     string          `json:"feedback_text" validate:"max=4000"`
	DisplayName      string          `json:"display_name" validate:"max=128"`
	Username         string          `json:"username" validate:"max=64"`
}

func (req completeRequest) result() attempt.Result {
	answers := make([]attempt.Answer, 0, len(req.Answers))
	for _, a := range req.Answers {
		status := attempt.AnswerStatus(a.Status)
		correct := a.IsCorrect || status == attempt.AnswerCorrect
		if status == "" {
			status = attempt.AnswerWrong
			if correct {
				status = attempt.AnswerCorrect
			}
		}
		answers = append(answers, attempt.Answer{
			QuestionID:   string(a.QuestionID),
			ChoiceLetter: strings.ToUpper(strings.TrimSpace(a.ChoiceLetter)),
			Status:       status,
			Correct:      correct,
		})
	}
	return attempt.Result{
		ScoreRaw:         req.ScoreRaw,
		ScoreMax:         req.ScoreMax,
		TimeTotalSeconds: req.TimeTotalSeconds,
		Answers:          answers,
		FeedbackText:     strings.TrimSpace(req.FeedbackText),
	}
}

type completeResponse struct {
	OK              bool       `json:"ok"`
	AttemptID       string     `json:"attempt_id"`
	Qualified       bool       `json:"qualified"`
	Via             string     `json:"via"`
	AccessUntil     *time.Time `json:"access_until,omitempty"`
	AnswersWritten  int        `json:"answers_written"`
	FeedbackWritten bool       `json:"feedback_written"`
	Warnings        []string   `json:"warnings"`
	Version         string     `json:"version"`
}

func (s *Server) handleRitualComplete(w http.ResponseWriter, r *http.Request) {
	var req completeRequest
	if err := s.decode(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	ext := shared.ExternalID(req.TelegramUserID)
	if err := authorize(r.Context(), ext); err != nil {
		s.writeError(w, r, err)
		return
	}
	out, err := s.cfg.RitualService.Complete(r.Context(), rituals.CompleteCommand{
		ExternalID:  ext,
		AttemptID:   shared.AttemptID(strings.TrimSpace(req.AttemptID)),
		Result:      req.result(),
		DisplayName: req.DisplayName,
		Username:    req.Username,
	})
	s.countRitual("complete", err)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if out.Qualified {
		s.ritualCounter.WithLabelValues("qualified", string(out.Via)).Inc()
	}
	warnings := out.Warnings
	if warnings == nil {
		warnings = []string{}
	}
	resp := completeResponse{
		OK:              true,
		AttemptID:       string(out.AttemptID),
		Qualified:       out.Qualified,
		Via:             string(out.Via),
		AnswersWritten:  out.AnswersWritten,
		FeedbackWritten: out.FeedbackWritten,
		Warnings:        warnings,
		Version:         s.cfg.Version,
	}
	if out.Player.AccessStatus == player.AccessActive {
		resp.AccessUntil = out.Player.AccessUntil
	}
	s.writeJSON(w, http.StatusOK, resp)
}

type feedbackRequest struct {
	TelegramUserID flexID `json:"telegram_user_id" validate:"required"`
	AttemptID      string `json:"attempt_id" validate:"max=64"`
	FeedbackText   string `json:"feedback_text" validate:"required,max=4000"`
}

type feedbackResponse struct {
	OK              bool   `json:"ok"`
	AttemptID       string `json:"attempt_id,omitempty"`
	FeedbackWritten bool   `json:"feedback_written"`
	Archived        bool   `json:"archived"`
}

func (s *Server) handleRitualFeedback(w http.ResponseWriter, r *http.Request) {
	var req feedbackRequest
	if err := s.decode(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	ext := shared.ExternalID(req.TelegramUserID)
	if err := authorize(r.Context(), ext); err != nil {
		s.writeError(w, r, err)
		return
	}
	out, err := s.cfg.RitualService.SubmitFeedback(r.Context(), rituals.FeedbackCommand{
		ExternalID: ext,
		AttemptID:  shared.AttemptID(strings.TrimSpace(req.AttemptID)),
		Text:       req.FeedbackText,
	})
	s.countRitual("feedback", err)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, feedbackResponse{
		OK:              true,
		AttemptID:       string(out.AttemptID),
		FeedbackWritten: out.FeedbackWritten,
		Archived:        out.Archived,
	})
}

