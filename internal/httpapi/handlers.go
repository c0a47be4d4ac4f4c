package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"procode/internal/ai"
	"procode/internal/store"
	logx "procode/pkg/logx"
)

// userID extracts the caller identity. Session mechanics live in the web
// frontend; this service trusts the authenticated proxy's X-User-ID header.
func userID(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get("X-User-ID"))
}

func (s *Server) handleIssueToken(w http.ResponseWriter, r *http.Request) {
	uid := userID(r)
	if uid == "" {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	pairing, err := s.rec.IssueToken(r.Context(), uid)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "user not found")
		return
	}
	if err != nil {
		s.log.Error("token issuance failed", logx.String("user_id", uid), logx.Err(err))
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success":      true,
		"token":        pairing.Token,
		"command":      pairing.Command,
		"instructions": pairing.Instructions,
	})
}

func (s *Server) handleAnalyzeContexts(w http.ResponseWriter, r *http.Request) {
	sum, err := s.sweep.Run(r.Context())
	if err != nil {
		s.log.Error("manual sweep failed", logx.Err(err))
		writeError(w, http.StatusInternalServerError, "analysis failed")
		return
	}

	results := make([]map[string]any, 0, len(sum.Results))
	for _, res := range sum.Results {
		entry := map[string]any{
			"userId": res.UserID,
			"email":  res.Email,
		}
		if res.MessageID != "" {
			entry["messageId"] = res.MessageID
			entry["type"] = string(res.Type)
			entry["delivered"] = res.Delivered
		}
		if res.Err != "" {
			entry["error"] = res.Err
		}
		results = append(results, entry)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":         true,
		"analyzed":        sum.Analyzed,
		"messagesCreated": sum.Created,
		"messagesSent":    sum.Sent,
		"skippedRecent":   sum.SkippedRecent,
		"errors":          sum.Errors,
		"results":         results,
	})
}

type chatRequest struct {
	Message string `json:"message"`
	Model   string `json:"model,omitempty"`
}

// handleChat is the free-form completion endpoint used by the web UI. It
// does not touch conversation storage; that stays with the frontend's own
// persistence flow.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.Message) == "" {
		writeError(w, http.StatusBadRequest, "message is required and must be a string")
		return
	}

	model := req.Model
	if uid := userID(r); uid != "" && model == "" {
		if u, err := s.store.GetUser(r.Context(), uid); err == nil {
			model = u.CurrentModel
		}
	}
	model = s.ai.Model(model)

	answer, err := s.ai.Complete(r.Context(), model, []ai.Message{
		{Role: "user", Content: req.Message},
	})
	if errors.Is(err, ai.ErrNotConfigured) {
		writeError(w, http.StatusInternalServerError, "ai provider not configured")
		return
	}
	if err != nil {
		s.log.Error("chat completion failed", logx.Err(err))
		writeError(w, http.StatusInternalServerError, "error communicating with ai provider")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"message": answer,
		"model":   model,
	})
}
