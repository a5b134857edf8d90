package bot

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/lexflow/backend/internal/model"
	"go.uber.org/zap"
)

// Replier answers a received message.
type Replier interface {
	ReplyTextMessage(ctx context.Context, messageID, text string) error
	ReplyInteractiveMessage(ctx context.Context, messageID string, card map[string]interface{}) error
}

type UserLookup interface {
	FindByFeishuUID(ctx context.Context, openID string) (*model.User, error)
}

type Incoming struct {
	SenderOpenID string
	MessageID    string
	MessageType  string
	Content      string
}

// MessageHandler maps the sender to a user and routes slash commands.
type MessageHandler struct {
	replier  Replier
	users    UserLookup
	commands *CommandHandler
	log      *zap.Logger
}

func NewMessageHandler(replier Replier, users UserLookup, commands *CommandHandler, log *zap.Logger) *MessageHandler {
	return &MessageHandler{replier: replier, users: users, commands: commands, log: log}
}

func (h *MessageHandler) HandleMessage(ctx context.Context, in Incoming) {
	if in.MessageType != "text" {
		h.reply(ctx, in.MessageID, "Only text messages are supported.")
		return
	}

	text := extractText(in.Content)
	if text == "" {
		return
	}
	if !strings.HasPrefix(text, "/") {
		h.reply(ctx, in.MessageID, helpText)
		return
	}

	user, err := h.users.FindByFeishuUID(ctx, in.SenderOpenID)
	if err != nil {
		h.log.Debug("unmapped sender", zap.String("open_id", in.SenderOpenID), zap.Error(err))
		h.reply(ctx, in.MessageID, "Your Feishu account is not linked to a user. Sign in on the web app first.")
		return
	}
	h.commands.Handle(ctx, in.MessageID, user, text)
}

func (h *MessageHandler) reply(ctx context.Context, messageID, text string) {
	if err := h.replier.ReplyTextMessage(ctx, messageID, text); err != nil {
		h.log.Warn("reply text failed", zap.String("message_id", messageID), zap.Error(err))
	}
}

// extractText parses the text from a Feishu message content JSON.
func extractText(content string) string {
	var msg struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal([]byte(content), &msg); err != nil {
		return ""
	}
	text := strings.TrimSpace(msg.Text)
	// Remove @mentions (format: @_user_N )
	for strings.Contains(text, "@_user_") {
		start := strings.Index(text, "@_user_")
		end := strings.Index(text[start:], " ")
		if end == -1 {
			text = text[:start]
		} else {
			text = text[:start] + text[start+end+1:]
		}
	}
	return strings.TrimSpace(text)
}
