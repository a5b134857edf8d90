package notify

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// Notifier delivers a single notification.
type Notifier interface {
	Send(ctx context.Context, n Notification) error
}

// NoopNotifier is used when the bot is disabled.
type NoopNotifier struct{}

func (NoopNotifier) Send(context.Context, Notification) error { return nil }

// CardSender is the slice of the Feishu bot client the notifier needs.
type CardSender interface {
	SendInteractiveMessage(ctx context.Context, openID string, card map[string]interface{}) error
}

// FeishuNotifier sends interactive card notifications via Feishu bot.
type FeishuNotifier struct {
	sender CardSender
	log    *zap.Logger
}

func NewFeishuNotifier(sender CardSender, log *zap.Logger) *FeishuNotifier {
	return &FeishuNotifier{sender: sender, log: log.With(zap.String("component", "feishu_notifier"))}
}

func (n *FeishuNotifier) Send(ctx context.Context, msg Notification) error {
	if msg.RecipientOpenID == "" {
		return nil
	}
	card, err := BuildNotificationCard(msg)
	if err != nil {
		return err
	}
	if err := n.sender.SendInteractiveMessage(ctx, msg.RecipientOpenID, card); err != nil {
		n.log.Warn("send feishu message failed",
			zap.String("notification_id", msg.ID),
			zap.Uint("recipient_id", msg.RecipientID),
			zap.Error(err))
		return err
	}
	return nil
}

// BuildNotificationCard renders the card for a notification template.
func BuildNotificationCard(msg Notification) (map[string]interface{}, error) {
	doc := CardField{Key: "Document", Value: fmt.Sprintf("#%s %s", msg.Context["document_id"], msg.Context["title"])}

	switch msg.Template {
	case TemplateSignatureRequested:
		fields := []CardField{doc, {Key: "Requested by", Value: msg.Context["actor"]}}
		if due := msg.Context["due_date"]; due != "" {
			fields = append(fields, CardField{Key: "Due", Value: due})
		}
		return BuildCard("blue", "✍️ Signature requested", fields, nil), nil
	case TemplateDocumentFullySigned:
		return BuildCard("green", "✅ Document fully signed", []CardField{doc}, nil), nil
	case TemplateDocumentRejected:
		fields := []CardField{doc, {Key: "Rejected by", Value: msg.Context["actor"]}}
		if c := msg.Context["comment"]; c != "" {
			fields = append(fields, CardField{Key: "Comment", Value: truncate(c, 200)})
		}
		return BuildCard("red", "❌ Document rejected", fields, nil), nil
	case TemplateDocumentExpired:
		return BuildCard("grey", "⌛ Signature deadline passed", []CardField{doc, {Key: "Due", Value: msg.Context["due_date"]}}, nil), nil
	case TemplateSigningReopened:
		return BuildCard("orange", "🔁 Signing round reopened", []CardField{doc, {Key: "Reopened by", Value: msg.Context["actor"]}}, nil), nil
	}
	return nil, fmt.Errorf("unknown notification template %q", msg.Template)
}

type CardField struct {
	Key   string
	Value string
}

func BuildCard(color, title string, fields []CardField, actions []map[string]interface{}) map[string]interface{} {
	elements := make([]interface{}, 0, len(fields)+1)

	for _, f := range fields {
		elements = append(elements, map[string]interface{}{
			"tag": "div",
			"text": map[string]interface{}{
				"tag":     "lark_md",
				"content": fmt.Sprintf("**%s:** %s", f.Key, f.Value),
			},
		})
	}

	if len(actions) > 0 {
		elements = append(elements, map[string]interface{}{
			"tag":     "action",
			"actions": actions,
		})
	}

	return map[string]interface{}{
		"config": map[string]interface{}{
			"wide_screen_mode": true,
		},
		"header": map[string]interface{}{
			"title": map[string]interface{}{
				"tag":     "plain_text",
				"content": title,
			},
			"template": color,
		},
		"elements": elements,
	}
}

func truncate(s string, maxLen int) string {
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen]) + "..."
}

var _ Notifier = (*FeishuNotifier)(nil)
