package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/raaihank/redact-sentinel/internal/embeddings"
	"github.com/raaihank/redact-sentinel/internal/oracle"
	"github.com/raaihank/redact-sentinel/internal/redact"
	"github.com/raaihank/redact-sentinel/internal/rules"
	"github.com/raaihank/redact-sentinel/internal/store"
)

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("Failed to encode response", zap.Error(err))
	}
}

// writeError maps the error taxonomy onto HTTP statuses.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	var validationErr *rules.ValidationError

	status := http.StatusInternalServerError
	switch {
	case errors.As(err, &validationErr):
		status = http.StatusBadRequest
	case errors.Is(err, embeddings.ErrEmptyInput):
		status = http.StatusBadRequest
	case errors.Is(err, store.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, oracle.ErrUnreachable):
		status = http.StatusBadGateway
	}

	if status == http.StatusInternalServerError {
		s.logger.Error("Request failed", zap.Error(err))
	}
	s.writeJSON(w, status, map[string]string{"error": err.Error()})
}

func (s *Server) decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body: " + err.Error()})
		return false
	}
	return true
}

type createRuleRequest struct {
	rules.Fields
	Active *bool `json:"active"`
}

func (s *Server) handleCreateRule(w http.ResponseWriter, r *http.Request) {
	var req createRuleRequest
	if !s.decodeBody(w, r, &req) {
		return
	}

	active := true
	if req.Active != nil {
		active = *req.Active
	}

	rule, err := s.store.Create(r.Context(), req.Fields, active)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, rule)
}

func (s *Server) handleListRules(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	filter := store.Filter{
		Domain:       q.Get("domain"),
		DataCategory: q.Get("data_category"),
		Limit:        100,
	}
	if v := q.Get("active"); v != "" {
		active, err := strconv.ParseBool(v)
		if err != nil {
			s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid active filter"})
			return
		}
		filter.Active = &active
	}
	if v := q.Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit < 0 {
			s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid limit"})
			return
		}
		filter.Limit = limit
	}
	if v := q.Get("offset"); v != "" {
		offset, err := strconv.Atoi(v)
		if err != nil || offset < 0 {
			s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid offset"})
			return
		}
		filter.Offset = offset
	}

	out, err := s.store.List(r.Context(), filter)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"rules": out, "count": len(out)})
}

func (s *Server) handleSearchRules(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	if query == "" {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing query parameter q"})
		return
	}
	limit := 5
	if v := r.URL.Query().Get("limit"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed <= 0 {
			s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid limit"})
			return
		}
		limit = parsed
	}

	results, err := s.store.SearchSimilar(r.Context(), query, limit)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"results": results, "count": len(results)})
}

func (s *Server) ruleID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid rule id"})
		return 0, false
	}
	return id, true
}

func (s *Server) handleGetRule(w http.ResponseWriter, r *http.Request) {
	id, ok := s.ruleID(w, r)
	if !ok {
		return
	}
	rule, err := s.store.GetByID(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, rule)
}

func (s *Server) handleGetRuleByName(w http.ResponseWriter, r *http.Request) {
	rule, err := s.store.GetByName(r.Context(), mux.Vars(r)["name"])
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, rule)
}

type updateRuleRequest struct {
	Name         *string `json:"name"`
	Domain       *string `json:"domain"`
	DataCategory *string `json:"data_category"`
	Description  *string `json:"description"`
	Pattern      *string `json:"pattern"`
	Active       *bool   `json:"active"`
}

func (s *Server) handleUpdateRule(w http.ResponseWriter, r *http.Request) {
	id, ok := s.ruleID(w, r)
	if !ok {
		return
	}
	var req updateRuleRequest
	if !s.decodeBody(w, r, &req) {
		return
	}

	rule, err := s.store.Update(r.Context(), id, store.Update{
		Name:         req.Name,
		Domain:       req.Domain,
		DataCategory: req.DataCategory,
		Description:  req.Description,
		Pattern:      req.Pattern,
		Active:       req.Active,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, rule)
}

// handleRemoveRule deactivates by default; hard delete only on explicit
// request.
func (s *Server) handleRemoveRule(w http.ResponseWriter, r *http.Request) {
	id, ok := s.ruleID(w, r)
	if !ok {
		return
	}

	var err error
	if hard, _ := strconv.ParseBool(r.URL.Query().Get("hard")); hard {
		err = s.store.Delete(r.Context(), id)
	} else {
		err = s.store.Deactivate(r.Context(), id)
	}
	if err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type detectRequest struct {
	Text string `json:"text"`
}

func (s *Server) handleDetect(w http.ResponseWriter, r *http.Request) {
	var req detectRequest
	if !s.decodeBody(w, r, &req) {
		return
	}

	active, err := s.store.ListActive(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}

	detections := make([]rules.Detection, 0)
	for _, rule := range active {
		found, err := redact.DetectText(req.Text, rule)
		if err != nil {
			s.writeError(w, err)
			return
		}
		detections = append(detections, found...)
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"detections": detections, "count": len(detections)})
}

type redactRequest struct {
	Text       string `json:"text"`
	Mode       string `json:"mode"` // content or pattern
	Token      string `json:"token"`
	SameLength bool   `json:"same_length"`
}

func (s *Server) handleRedact(w http.ResponseWriter, r *http.Request) {
	var req redactRequest
	if !s.decodeBody(w, r, &req) {
		return
	}
	if req.Token == "" {
		req.Token = redact.DefaultToken
	}

	active, err := s.store.ListActive(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}

	switch req.Mode {
	case "content":
		var detections []rules.Detection
		for _, rule := range active {
			found, err := redact.DetectText(req.Text, rule)
			if err != nil {
				s.writeError(w, err)
				return
			}
			detections = append(detections, found...)
		}
		out := redact.ByContent(req.Text, detections, req.Token)
		s.writeJSON(w, http.StatusOK, map[string]interface{}{"redacted_text": out, "detections": len(detections)})

	case "", "pattern":
		out := req.Text
		for _, rule := range active {
			out, err = redact.ByPattern(out, rule, redact.PatternOptions{
				Token:      req.Token,
				SameLength: req.SameLength,
			})
			if err != nil {
				s.writeError(w, err)
				return
			}
		}
		s.writeJSON(w, http.StatusOK, map[string]interface{}{"redacted_text": out})

	default:
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "mode must be content or pattern"})
	}
}

type verifyRequest struct {
	SampleText     string `json:"sample_text"`
	SensitiveValue string `json:"sensitive_value"`
}

func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	var req verifyRequest
	if !s.decodeBody(w, r, &req) {
		return
	}

	covered, err := s.verifier.VerifyCoverage(r.Context(), req.SampleText, req.SensitiveValue)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]bool{"covered": covered})
}

type learnRequest struct {
	SampleText     string        `json:"sample_text"`
	SensitiveValue string        `json:"sensitive_value"`
	MaxAttempts    int           `json:"max_attempts"`
	Hints          *oracle.Hints `json:"hints"`
}

func (s *Server) handleLearn(w http.ResponseWriter, r *http.Request) {
	var req learnRequest
	if !s.decodeBody(w, r, &req) {
		return
	}
	if req.SampleText == "" || req.SensitiveValue == "" {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "sample_text and sensitive_value are required"})
		return
	}
	attempts := req.MaxAttempts
	if attempts <= 0 {
		attempts = s.config.Learning.MaxAttempts
	}

	learned, err := s.learner.Learn(r.Context(), req.SampleText, req.SensitiveValue, attempts, req.Hints)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]bool{"learned": learned})
}
