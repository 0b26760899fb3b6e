package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"

	"github.com/abhisek/notebrief/internal/dispatcher"
	"github.com/abhisek/notebrief/internal/quiz"
	"github.com/abhisek/notebrief/internal/resilient"
	"github.com/abhisek/notebrief/internal/state"
)

// retryAfter is sent with 503 responses, in seconds.
const retryAfter = "60"

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

type pendingResponse struct {
	Count   int                 `json:"count"`
	Quizzes []state.PendingQuiz `json:"quizzes"`
}

type healthResponse struct {
	Status     string            `json:"status"`
	Uptime     string            `json:"uptime"`
	Dispatcher dispatcher.Status `json:"dispatcher"`
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

	var sub quiz.Submission
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(&sub); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid_json", fmt.Sprintf("invalid JSON body: %v", err))
		return
	}
	sub.TopicKey = strings.TrimSpace(sub.TopicKey)
	sub.Q1Choice = strings.TrimSpace(sub.Q1Choice)

	if err := s.validate.Struct(sub); err != nil {
		s.respondError(w, http.StatusBadRequest, "validation_error", validationMessage(err))
		return
	}

	res, err := s.scorer.Submit(r.Context(), sub)
	if err != nil {
		status, code := classify(err)
		if status >= http.StatusInternalServerError && status != http.StatusServiceUnavailable {
			s.cfg.Logger.Error().Err(err).Str("topic_key", sub.TopicKey).Msg("quiz scoring failed")
		}
		s.respondError(w, status, code, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, res)
}

func (s *Server) handlePending(w http.ResponseWriter, r *http.Request) {
	pending, err := s.scorer.Pending(r.Context())
	if err != nil {
		status, code := classify(err)
		if status == http.StatusInternalServerError {
			code = "state_unavailable"
		}
		s.respondError(w, status, code, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, pendingResponse{Count: len(pending), Quizzes: pending})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	resp := healthResponse{Status: "ok", Uptime: time.Since(s.started).Round(time.Second).String()}
	if s.status != nil {
		resp.Dispatcher = s.status.Snapshot()
	}
	s.respondJSON(w, http.StatusOK, resp)
}

// classify maps scoring errors onto HTTP statuses.
func classify(err error) (int, string) {
	var (
		conflict *quiz.ConflictError
		notFound *quiz.NotFoundError
		terminal *resilient.TerminalError
	)
	switch {
	case errors.As(err, &conflict):
		return http.StatusConflict, "conflict"
	case errors.As(err, &notFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, dispatcher.ErrBusy):
		return http.StatusServiceUnavailable, "busy"
	case errors.As(err, &terminal):
		return http.StatusBadGateway, "llm_failure"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "timeout"
	}
	return http.StatusInternalServerError, "internal_error"
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		switch fe.Tag() {
		case "required":
			msgs = append(msgs, fmt.Sprintf("%s is required", jsonName(fe.Field())))
		case "max":
			msgs = append(msgs, fmt.Sprintf("%s exceeds %s characters", jsonName(fe.Field()), fe.Param()))
		default:
			msgs = append(msgs, fmt.Sprintf("%s is invalid", jsonName(fe.Field())))
		}
	}
	return strings.Join(msgs, "; ")
}

var submissionFields = map[string]string{
	"TopicKey":     "topic_key",
	"Q1Choice":     "q1_choice",
	"Q2Answer":     "q2_answer",
	"BriefingFile": "briefing_file",
}

func jsonName(field string) string {
	if n, ok := submissionFields[field]; ok {
		return n
	}
	return field
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		s.cfg.Logger.Error().Err(err).Msg("failed to marshal response")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if _, err := w.Write(data); err != nil {
		s.cfg.Logger.Warn().Err(err).Msg("failed to write response")
	}
}

func (s *Server) respondError(w http.ResponseWriter, status int, code, msg string) {
	if status == http.StatusServiceUnavailable {
		w.Header().Set("Retry-After", retryAfter)
	}
	s.respondJSON(w, status, errorResponse{Error: msg, Code: code})
}
