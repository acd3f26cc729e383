package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/convoloop/convoloop/pkg/chat"
	"github.com/convoloop/convoloop/pkg/config"
	"github.com/convoloop/convoloop/pkg/feedback"
	"github.com/convoloop/convoloop/pkg/memory"
	"github.com/convoloop/convoloop/pkg/tool"
)

// feedbackService is the slice of the feedback layer the endpoints call.
type feedbackService interface {
	Add(ctx context.Context, agentName string, feedbacks []feedback.Feedback) ([]string, error)
	List(ctx context.Context, agentName string, offset, limit int) ([]feedback.Feedback, error)
	Clear(ctx context.Context, agentName string) error
	Drop(ctx context.Context, agentName string) error
}

type chatRequest struct {
	UserMessage           memory.UserMessage  `json:"user_message"`
	Memory                *memory.Memory      `json:"memory,omitempty"`
	Settings              *config.Setting     `json:"settings"`
	RequestTools          []*tool.RequestTool `json:"request_tools,omitempty"`
	RecallLastUserMessage bool                `json:"recall_last_user_message,omitempty"`
	EditedLastResponse    string              `json:"edited_last_response,omitempty"`
}

// chatResponse returns the full updated memory plus, under response, just
// the steps this turn produced.
type chatResponse struct {
	Response         *memory.Memory `json:"response"`
	Memory           *memory.Memory `json:"memory"`
	ResultType       string         `json:"result_type"`
	LLMCallingTimes  int            `json:"llm_calling_times"`
	TotalInputToken  int            `json:"total_input_token"`
	TotalOutputToken int            `json:"total_output_token"`
}

type learnRequest struct {
	Settings  *config.Setting     `json:"settings"`
	Feedbacks []feedback.Feedback `json:"feedbacks"`
}

type statusResponse struct {
	Status string   `json:"status"`
	Data   []string `json:"data"`
	Error  string   `json:"error,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	if req.Settings == nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "settings is required"})
		return
	}

	result, err := s.orchestrator.Chat(r.Context(), &chat.TurnRequest{
		Setting:               req.Settings,
		Memory:                req.Memory,
		UserMessage:           req.UserMessage,
		RecallLastUserMessage: req.RecallLastUserMessage,
		EditedLastResponse:    req.EditedLastResponse,
		RequestTools:          req.RequestTools,
	})
	if err != nil {
		var cfgErr *config.ConfigError
		if errors.As(err, &cfgErr) {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: cfgErr.Error()})
			return
		}
		s.log.Error("chat turn failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return
	}

	chatTurnsTotal.WithLabelValues(result.ResultType).Inc()
	chatLLMCalls.Observe(float64(result.LLMCallingTimes))

	writeJSON(w, http.StatusOK, chatResponse{
		Response:         &memory.Memory{Steps: result.NewSteps},
		Memory:           result.Memory,
		ResultType:       result.ResultType,
		LLMCallingTimes:  result.LLMCallingTimes,
		TotalInputToken:  result.InputTokens,
		TotalOutputToken: result.OutputTokens,
	})
}

func (s *Server) handleLearn(w http.ResponseWriter, r *http.Request) {
	var req learnRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	if req.Settings == nil || req.Settings.AgentName == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "settings.agent_name is required"})
		return
	}
	req.Settings.SetDefaults()

	svc := s.newFeedback(req.Settings)
	if svc == nil {
		writeJSON(w, http.StatusBadGateway, statusResponse{
			Status: "Failed", Data: []string{}, Error: "vector store is not configured or unreachable",
		})
		return
	}

	ids, err := svc.Add(r.Context(), req.Settings.AgentName, req.Feedbacks)
	if err != nil {
		s.log.Error("learn failed", "agent", req.Settings.AgentName, "error", err)
		writeJSON(w, http.StatusBadGateway, statusResponse{Status: "Failed", Data: []string{}, Error: err.Error()})
		return
	}
	if ids == nil {
		ids = []string{}
	}
	writeJSON(w, http.StatusOK, statusResponse{Status: "Success", Data: ids})
}

func (s *Server) handleListFeedbacks(w http.ResponseWriter, r *http.Request) {
	svc, agentName, ok := s.feedbackFromQuery(w, r)
	if !ok {
		return
	}

	offset := queryInt(r, "offset", 0)
	limit := queryInt(r, "limit", s.config.FeedbackListCap)
	if limit > s.config.FeedbackListCap {
		limit = s.config.FeedbackListCap
	}

	feedbacks, err := svc.List(r.Context(), agentName, offset, limit)
	if err != nil {
		s.log.Error("feedback list failed", "agent", agentName, "error", err)
		writeJSON(w, http.StatusBadGateway, errorResponse{Error: err.Error()})
		return
	}
	if feedbacks == nil {
		feedbacks = []feedback.Feedback{}
	}
	writeJSON(w, http.StatusOK, feedbacks)
}

func (s *Server) handleClearFeedbacks(w http.ResponseWriter, r *http.Request) {
	svc, agentName, ok := s.feedbackFromQuery(w, r)
	if !ok {
		return
	}
	if err := svc.Clear(r.Context(), agentName); err != nil {
		s.log.Error("feedback clear failed", "agent", agentName, "error", err)
		writeJSON(w, http.StatusBadGateway, statusResponse{Status: "Failed", Data: []string{}, Error: err.Error()})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDropCollection(w http.ResponseWriter, r *http.Request) {
	agentName := chi.URLParam(r, "agent_name")
	svc := s.newFeedback(&config.Setting{
		AgentName:   agentName,
		VectorDBURL: r.URL.Query().Get("vector_db_url"),
	})
	if svc == nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "vector_db_url is required"})
		return
	}

	if err := svc.Drop(r.Context(), agentName); err != nil {
		s.log.Error("collection drop failed", "agent", agentName, "error", err)
		writeJSON(w, http.StatusBadGateway, statusResponse{Status: "Failed", Data: []string{}, Error: err.Error()})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// feedbackFromQuery resolves the feedback service for the management
// endpoints, which address the store by query parameters.
func (s *Server) feedbackFromQuery(w http.ResponseWriter, r *http.Request) (feedbackService, string, bool) {
	agentName := r.URL.Query().Get("agent_name")
	if agentName == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "agent_name is required"})
		return nil, "", false
	}

	svc := s.newFeedback(&config.Setting{
		AgentName:   agentName,
		VectorDBURL: r.URL.Query().Get("vector_db_url"),
	})
	if svc == nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "vector_db_url is required"})
		return nil, "", false
	}
	return svc, agentName, true
}

func queryInt(r *http.Request, key string, fallback int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return fallback
	}
	return v
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
