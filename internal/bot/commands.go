package bot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/lexflow/backend/internal/model"
	"github.com/lexflow/backend/internal/service"
	"go.uber.org/zap"
)

const helpText = `Available commands:
/pending - documents waiting for your signature
/sign <document id> - sign a document
/reject <document id> [comment] - reject a document
/help - show this message`

type PendingLister interface {
	ListPendingSignatures(ctx context.Context, actor *model.User) ([]model.Document, error)
}

type SignatureActor interface {
	Sign(ctx context.Context, documentID, signerID uint, actor *model.User, c service.Capture) (*service.SignResult, error)
	Reject(ctx context.Context, documentID, signerID uint, actor *model.User, comment string, c service.Capture) (*service.SignResult, error)
}

type command struct {
	name       string
	documentID uint
	comment    string
}

var errUsage = errors.New("usage")

func parseCommand(text string) (command, error) {
	parts := strings.Fields(text)
	if len(parts) == 0 {
		return command{}, errUsage
	}
	cmd := command{name: strings.ToLower(parts[0])}

	switch cmd.name {
	case "/sign", "/reject":
		if len(parts) < 2 {
			return cmd, errUsage
		}
		id, err := strconv.ParseUint(strings.TrimPrefix(parts[1], "#"), 10, 64)
		if err != nil || id == 0 {
			return cmd, errUsage
		}
		cmd.documentID = uint(id)
		if cmd.name == "/reject" && len(parts) > 2 {
			cmd.comment = strings.Join(parts[2:], " ")
		}
	}
	return cmd, nil
}

// CommandHandler processes slash commands from bot messages.
type CommandHandler struct {
	replier Replier
	docs    PendingLister
	sigs    SignatureActor
	log     *zap.Logger
}

func NewCommandHandler(replier Replier, docs PendingLister, sigs SignatureActor, log *zap.Logger) *CommandHandler {
	return &CommandHandler{replier: replier, docs: docs, sigs: sigs, log: log}
}

func botCapture() service.Capture {
	return service.Capture{UserAgent: "feishu-bot"}
}

// Handle processes a command string and replies to the message.
func (h *CommandHandler) Handle(ctx context.Context, messageID string, user *model.User, text string) {
	cmd, err := parseCommand(text)
	if err != nil {
		h.replyText(ctx, messageID, fmt.Sprintf("Invalid arguments for %s.\n\n%s", cmd.name, helpText))
		return
	}

	switch cmd.name {
	case "/help":
		h.replyText(ctx, messageID, helpText)
	case "/pending":
		docs, err := h.docs.ListPendingSignatures(ctx, user)
		if err != nil {
			h.replyText(ctx, messageID, describe(err))
			return
		}
		h.replyCard(ctx, messageID, BuildPendingCard(docs))
	case "/sign":
		result, err := h.sigs.Sign(ctx, cmd.documentID, user.ID, user, botCapture())
		if err != nil {
			h.replyText(ctx, messageID, describe(err))
			return
		}
		h.replyCard(ctx, messageID, BuildActionCard("Signed", result.Document))
	case "/reject":
		result, err := h.sigs.Reject(ctx, cmd.documentID, user.ID, user, cmd.comment, botCapture())
		if err != nil {
			h.replyText(ctx, messageID, describe(err))
			return
		}
		h.replyCard(ctx, messageID, BuildActionCard("Rejected", result.Document))
	default:
		h.replyText(ctx, messageID, fmt.Sprintf("Unknown command: %s\nSend /help to list commands.", cmd.name))
	}
}

// describe turns a service error into a chat-friendly line.
func describe(err error) string {
	var se *service.StateConflictError
	switch {
	case errors.As(err, &se):
		return fmt.Sprintf("Not possible right now: the document is %s.", se.State)
	case service.IsNotFound(err), service.IsPermission(err), service.IsValidation(err):
		return err.Error()
	default:
		return "Something went wrong, please try again later."
	}
}

func (h *CommandHandler) replyText(ctx context.Context, messageID, text string) {
	if err := h.replier.ReplyTextMessage(ctx, messageID, text); err != nil {
		h.log.Warn("reply text failed", zap.String("message_id", messageID), zap.Error(err))
	}
}

func (h *CommandHandler) replyCard(ctx context.Context, messageID string, card map[string]interface{}) {
	if err := h.replier.ReplyInteractiveMessage(ctx, messageID, card); err != nil {
		h.log.Warn("reply card failed", zap.String("message_id", messageID), zap.Error(err))
	}
}
