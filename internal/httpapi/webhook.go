package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"

	"procode/internal/transport"
	logx "procode/pkg/logx"
)

// webhookUpdate mirrors the Telegram Bot API update payload, trimmed to the
// fields the router consumes.
type webhookUpdate struct {
	UpdateID int64 `json:"update_id"`
	Message  *struct {
		MessageID int `json:"message_id"`
		From      struct {
			ID        int64  `json:"id"`
			IsBot     bool   `json:"is_bot"`
			FirstName string `json:"first_name"`
			Username  string `json:"username"`
		} `json:"from"`
		Chat struct {
			ID int64 `json:"id"`
		} `json:"chat"`
		Date int64  `json:"date"`
		Text string `json:"text"`
	} `json:"message"`
}

// handleWebhook feeds a Bot API update through the shared router and sends
// the reply back over the HTTP sender. Telegram retries on non-2xx, so
// handler-level failures still answer 200 with a status body.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	var up webhookUpdate
	if err := json.NewDecoder(r.Body).Decode(&up); err != nil {
		writeError(w, http.StatusBadRequest, "invalid update payload")
		return
	}
	if up.Message == nil || up.Message.Text == "" {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		return
	}

	from := up.Message.From.Username
	if from == "" {
		from = up.Message.From.FirstName
	}
	msg := transport.Message{
		ID:           up.Message.MessageID,
		ChatID:       strconv.FormatInt(up.Message.Chat.ID, 10),
		FromID:       up.Message.From.ID,
		FromUsername: from,
		Text:         up.Message.Text,
	}

	reply := s.router.HandleText(r.Context(), msg)
	if reply != "" {
		if err := s.sender.SendText(r.Context(), msg.ChatID, reply); err != nil {
			s.log.Error("webhook reply send failed",
				logx.String("chat_id", msg.ChatID), logx.Err(err))
			writeJSON(w, http.StatusOK, map[string]string{"status": "error"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
