// Package bot implements the channel-side message handling shared by the
// webhook entry point and the long-poll bot process: pairing commands,
// onboarding, and conversation routing for paired users.
package bot

import (
	"context"
	"errors"
	"strings"

	"procode/internal/ai"
	"procode/internal/connect"
	"procode/internal/store"
	"procode/internal/transport"
	logx "procode/pkg/logx"
)

// telegramConversationTitle names the per-user conversation that collects
// channel-originated chat history.
const telegramConversationTitle = "Telegram Chat"

type Config struct {
	// ChatEnabled routes plain text into AI conversations. When false the
	// bot only acknowledges, matching the notifications-only deployment.
	ChatEnabled bool
	// HistoryLimit is how many prior messages feed the completion.
	HistoryLimit int
}

type Router struct {
	cfg   Config
	store store.Store
	rec   *connect.Reconciler
	ai    *ai.Client
	log   logx.Logger
}

func NewRouter(cfg Config, st store.Store, rec *connect.Reconciler, aiClient *ai.Client, log logx.Logger) *Router {
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = 10
	}
	return &Router{cfg: cfg, store: st, rec: rec, ai: aiClient, log: log}
}

// HandleText processes one inbound message and returns the reply to send.
// An empty reply means nothing to send.
func (r *Router) HandleText(ctx context.Context, msg transport.Message) string {
	text := strings.TrimSpace(msg.Text)
	if text == "" {
		return ""
	}

	switch {
	case strings.HasPrefix(text, "/connect"):
		token := strings.TrimSpace(strings.TrimPrefix(text, "/connect"))
		return r.handleConnect(ctx, token, msg)
	case text == "/start":
		return startReply
	default:
		return r.handlePlain(ctx, text, msg)
	}
}

func (r *Router) handleConnect(ctx context.Context, token string, msg transport.Message) string {
	if token == "" {
		return tokenRejectedReply
	}
	conn, err := r.rec.HandlePairing(ctx, token, msg.ChatID, msg.FromUsername)
	if errors.Is(err, connect.ErrTokenNotFound) {
		r.log.Info("pairing token rejected", logx.String("chat_id", msg.ChatID))
		return tokenRejectedReply
	}
	if err != nil {
		r.log.Error("pairing failed", logx.String("chat_id", msg.ChatID), logx.Err(err))
		return genericErrorReply
	}
	r.log.Info("chat paired", logx.String("chat_id", msg.ChatID), logx.String("user_id", conn.UserID))
	return connectedReply
}

func (r *Router) handlePlain(ctx context.Context, text string, msg transport.Message) string {
	conn, err := r.rec.HandleInbound(ctx, msg.ChatID)
	if errors.Is(err, connect.ErrNotConnected) {
		return notConnectedReply(msg.ChatID)
	}
	if err != nil {
		r.log.Error("inbound lookup failed", logx.String("chat_id", msg.ChatID), logx.Err(err))
		return genericErrorReply
	}

	if !r.cfg.ChatEnabled || r.ai == nil {
		return ackOnlyReply
	}
	return r.converse(ctx, conn, text)
}

// converse persists the exchange under the user's Telegram conversation and
// answers with an AI completion over recent history plus the life context.
func (r *Router) converse(ctx context.Context, conn store.Connection, text string) string {
	conv, err := r.store.EnsureConversation(ctx, conn.UserID, telegramConversationTitle)
	if err != nil {
		r.log.Error("conversation lookup failed", logx.String("user_id", conn.UserID), logx.Err(err))
		return genericErrorReply
	}

	history, err := r.store.RecentChatMessages(ctx, conv.ID, r.cfg.HistoryLimit)
	if err != nil {
		r.log.Error("history load failed", logx.String("conversation_id", conv.ID), logx.Err(err))
		return genericErrorReply
	}

	if err := r.store.AppendChatMessage(ctx, store.ChatMessage{
		ConversationID: conv.ID,
		Role:           store.RoleUser,
		Content:        text,
	}); err != nil {
		r.log.Error("persist user message failed", logx.Err(err))
		return genericErrorReply
	}

	user, err := r.store.GetUser(ctx, conn.UserID)
	if err != nil {
		r.log.Error("user load failed", logx.String("user_id", conn.UserID), logx.Err(err))
		return genericErrorReply
	}

	msgs := r.buildPrompt(ctx, user, history, text)
	model := r.ai.Model(user.CurrentModel)
	answer, err := r.ai.Complete(ctx, model, msgs)
	if err != nil {
		r.log.Error("completion failed", logx.String("user_id", user.ID), logx.Err(err))
		return completionErrorReply
	}

	if err := r.store.AppendChatMessage(ctx, store.ChatMessage{
		ConversationID: conv.ID,
		Role:           store.RoleAssistant,
		Content:        answer,
		ModelUsed:      model,
	}); err != nil {
		r.log.Error("persist assistant message failed", logx.Err(err))
	}
	return "🤖 " + answer
}

func (r *Router) buildPrompt(ctx context.Context, user store.User, history []store.ChatMessage, current string) []ai.Message {
	system := "You are a helpful AI assistant inside the PROCODE app. " +
		"Be concise and practical. Use emoji where it fits."
	if uc, err := r.store.GetContext(ctx, user.ID); err == nil {
		if summary := contextSummary(uc); summary != "" {
			system += "\n\nUser context:\n" + summary
		}
	}

	msgs := make([]ai.Message, 0, len(history)+2)
	msgs = append(msgs, ai.Message{Role: "system", Content: system})
	for _, m := range history {
		if m.Content == current {
			continue
		}
		msgs = append(msgs, ai.Message{Role: string(m.Role), Content: m.Content})
	}
	msgs = append(msgs, ai.Message{Role: "user", Content: current})
	return msgs
}

func contextSummary(uc store.UserContext) string {
	var b strings.Builder
	section := func(name string, items []string) {
		if len(items) == 0 {
			return
		}
		b.WriteString(name)
		b.WriteString(": ")
		b.WriteString(strings.Join(items, "; "))
		b.WriteString("\n")
	}
	section("Short-term goals", uc.ShortTermGoals)
	section("Challenges", uc.Challenges)
	section("Skills to learn", uc.SkillsToLearn)
	section("Health goals", uc.HealthGoals)
	return strings.TrimSpace(b.String())
}

// Serve consumes updates from the transport and sends replies. Used by the
// long-poll process; the webhook handler calls HandleText directly.
func (r *Router) Serve(ctx context.Context, in <-chan transport.Update, sender transport.Sender) {
	for {
		select {
		case <-ctx.Done():
			return
		case up := <-in:
			if up.Message == nil {
				continue
			}
			reply := r.HandleText(ctx, *up.Message)
			if reply == "" {
				continue
			}
			if err := sender.SendText(ctx, up.Message.ChatID, reply); err != nil {
				r.log.Error("reply send failed",
					logx.String("chat_id", up.Message.ChatID), logx.Err(err))
			}
		}
	}
}
