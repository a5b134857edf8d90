package bot

import (
	"context"

	larkcore "github.com/larksuite/oapi-sdk-go/v3/core"
	"github.com/larksuite/oapi-sdk-go/v3/event/dispatcher"
	larkim "github.com/larksuite/oapi-sdk-go/v3/service/im/v1"
	larkws "github.com/larksuite/oapi-sdk-go/v3/ws"
	"go.uber.org/zap"
)

// Deps holds the dependencies needed to create a Bot.
type Deps struct {
	AppID             string
	AppSecret         string
	EncryptKey        string
	VerificationToken string
	Replier           Replier
	Users             UserLookup
	Documents         PendingLister
	Signatures        SignatureActor
	Log               *zap.Logger
}

// Bot manages the Feishu WebSocket long-connection lifecycle.
type Bot struct {
	wsClient *larkws.Client
	handler  *MessageHandler
	log      *zap.Logger
	ctx      context.Context
	cancel   context.CancelFunc
}

func New(deps Deps) *Bot {
	ctx, cancel := context.WithCancel(context.Background())
	log := deps.Log.With(zap.String("component", "bot"))

	handler := NewMessageHandler(deps.Replier, deps.Users, NewCommandHandler(deps.Replier, deps.Documents, deps.Signatures, log), log)

	eventDispatcher := dispatcher.NewEventDispatcher(deps.VerificationToken, deps.EncryptKey)
	eventDispatcher.OnP2MessageReceiveV1(func(_ context.Context, event *larkim.P2MessageReceiveV1) error {
		if event == nil || event.Event == nil || event.Event.Message == nil || event.Event.Sender == nil {
			return nil
		}

		msg := event.Event.Message
		sender := event.Event.Sender

		// Skip bot's own messages
		if sender.SenderType != nil && *sender.SenderType == "app" {
			return nil
		}

		senderOpenID := ""
		if sender.SenderId != nil && sender.SenderId.OpenId != nil {
			senderOpenID = *sender.SenderId.OpenId
		}

		in := Incoming{
			SenderOpenID: senderOpenID,
			MessageID:    larkcore.StringValue(msg.MessageId),
			MessageType:  larkcore.StringValue(msg.MessageType),
			Content:      larkcore.StringValue(msg.Content),
		}
		// The long connection expects a prompt ack.
		go handler.HandleMessage(ctx, in)
		return nil
	})

	wsClient := larkws.NewClient(
		deps.AppID,
		deps.AppSecret,
		larkws.WithEventHandler(eventDispatcher),
		larkws.WithLogLevel(larkcore.LogLevelInfo),
	)

	return &Bot{
		wsClient: wsClient,
		handler:  handler,
		log:      log,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start opens the WebSocket connection and blocks until Stop is called.
func (b *Bot) Start() {
	b.log.Info("starting feishu bot long connection")
	if err := b.wsClient.Start(b.ctx); err != nil {
		if b.ctx.Err() != nil {
			b.log.Info("bot stopped")
			return
		}
		b.log.Error("websocket connection error", zap.Error(err))
	}
}

func (b *Bot) Stop() {
	b.log.Info("stopping feishu bot")
	b.cancel()
}
