package feishu

import (
	"context"
	"encoding/json"
	"fmt"

	lark "github.com/larksuite/oapi-sdk-go/v3"
	larkcore "github.com/larksuite/oapi-sdk-go/v3/core"
	larkim "github.com/larksuite/oapi-sdk-go/v3/service/im/v1"
)

// BotClient sends and replies to IM messages as the app bot.
type BotClient struct {
	client *lark.Client
}

func NewBotClient(appID, appSecret string) *BotClient {
	return &BotClient{
		client: lark.NewClient(appID, appSecret, lark.WithLogLevel(larkcore.LogLevelWarn)),
	}
}

// SendInteractiveMessage sends an interactive card to a user by open_id.
func (c *BotClient) SendInteractiveMessage(ctx context.Context, openID string, card map[string]interface{}) error {
	cardJSON, err := json.Marshal(card)
	if err != nil {
		return fmt.Errorf("marshal card: %w", err)
	}
	return c.sendMessage(ctx, openID, larkim.MsgTypeInteractive, string(cardJSON))
}

// SendTextMessage sends a plain text message to a user by open_id.
func (c *BotClient) SendTextMessage(ctx context.Context, openID, text string) error {
	return c.sendMessage(ctx, openID, larkim.MsgTypeText, textContent(text))
}

// ReplyInteractiveMessage replies with an interactive card to a specific message.
func (c *BotClient) ReplyInteractiveMessage(ctx context.Context, messageID string, card map[string]interface{}) error {
	cardJSON, err := json.Marshal(card)
	if err != nil {
		return fmt.Errorf("marshal card: %w", err)
	}
	return c.replyMessage(ctx, messageID, larkim.MsgTypeInteractive, string(cardJSON))
}

// ReplyTextMessage replies with plain text to a specific message.
func (c *BotClient) ReplyTextMessage(ctx context.Context, messageID, text string) error {
	return c.replyMessage(ctx, messageID, larkim.MsgTypeText, textContent(text))
}

func (c *BotClient) sendMessage(ctx context.Context, receiveID, msgType, content string) error {
	req := larkim.NewCreateMessageReqBuilder().
		ReceiveIdType(larkim.ReceiveIdTypeOpenId).
		Body(larkim.NewCreateMessageReqBodyBuilder().
			ReceiveId(receiveID).
			MsgType(msgType).
			Content(content).
			Build()).
		Build()

	resp, err := c.client.Im.Message.Create(ctx, req)
	if err != nil {
		return fmt.Errorf("send message: %w", err)
	}
	if !resp.Success() {
		return fmt.Errorf("send message failed (code=%d): %s", resp.Code, resp.Msg)
	}
	return nil
}

func (c *BotClient) replyMessage(ctx context.Context, messageID, msgType, content string) error {
	req := larkim.NewReplyMessageReqBuilder().
		MessageId(messageID).
		Body(larkim.NewReplyMessageReqBodyBuilder().
			MsgType(msgType).
			Content(content).
			Build()).
		Build()

	resp, err := c.client.Im.Message.Reply(ctx, req)
	if err != nil {
		return fmt.Errorf("reply message: %w", err)
	}
	if !resp.Success() {
		return fmt.Errorf("reply message failed (code=%d): %s", resp.Code, resp.Msg)
	}
	return nil
}

func textContent(text string) string {
	content, _ := json.Marshal(map[string]string{"text": text})
	return string(content)
}
