package service

import (
	"context"
	"strconv"

	"github.com/lexflow/backend/internal/model"
	"github.com/lexflow/backend/internal/notify"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Broadcaster fans document events out to live subscribers and the replay log.
type Broadcaster interface {
	Publish(ctx context.Context, documentID uint, eventType string, data interface{}) error
}

// Dispatcher hands notifications to the delivery pipeline without blocking.
type Dispatcher interface {
	Dispatch(n notify.Notification)
}

// Activity records audit rows inside a transaction and, after commit,
// publishes events and notifications. Both post-commit paths are best effort.
type Activity struct {
	hub        Broadcaster
	dispatcher Dispatcher
	log        *zap.Logger
}

func NewActivity(hub Broadcaster, dispatcher Dispatcher, log *zap.Logger) *Activity {
	if log == nil {
		log = zap.NewNop()
	}
	return &Activity{hub: hub, dispatcher: dispatcher, log: log.With(zap.String("component", "activity"))}
}

type ctxKey int

const clientIPKey ctxKey = iota

// WithClientIP attaches the caller's address for audit rows.
func WithClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, clientIPKey, ip)
}

func clientIP(ctx context.Context) string {
	ip, _ := ctx.Value(clientIPKey).(string)
	return ip
}

func (a *Activity) record(ctx context.Context, tx *gorm.DB, actorID uint, action string, documentID uint, detail map[string]interface{}) error {
	entry := &model.OperationLog{
		UserID:       actorID,
		Action:       action,
		ResourceType: "document",
		ResourceID:   documentID,
		Detail:       detail,
		IP:           clientIP(ctx),
	}
	return tx.Create(entry).Error
}

func (a *Activity) publish(ctx context.Context, documentID uint, eventType string, data interface{}) {
	if a.hub == nil {
		return
	}
	if err := a.hub.Publish(ctx, documentID, eventType, data); err != nil {
		a.log.Warn("publish document event failed",
			zap.Uint("document_id", documentID),
			zap.String("event", eventType),
			zap.Error(err))
	}
}

// notifyUsers loads the recipients and queues one notification each.
func (a *Activity) notifyUsers(ctx context.Context, db *gorm.DB, userIDs []uint, tpl notify.Template, doc *model.Document, extra map[string]string) {
	if a.dispatcher == nil || len(userIDs) == 0 {
		return
	}
	var users []model.User
	if err := db.WithContext(ctx).Where("id IN ?", uniqueIDs(userIDs)).Find(&users).Error; err != nil {
		a.log.Error("load notification recipients failed", zap.Uint("document_id", doc.ID), zap.Error(err))
		return
	}
	for _, u := range users {
		c := map[string]string{
			"document_id": strconv.FormatUint(uint64(doc.ID), 10),
			"title":       doc.Title,
			"state":       string(doc.State),
		}
		for k, v := range extra {
			c[k] = v
		}
		a.dispatcher.Dispatch(notify.New(u.ID, u.FeishuUID, u.Name, tpl, c))
	}
}

func uniqueIDs(ids []uint) []uint {
	seen := make(map[uint]bool, len(ids))
	out := make([]uint, 0, len(ids))
	for _, id := range ids {
		if id != 0 && !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}

func without(ids []uint, skip uint) []uint {
	out := make([]uint, 0, len(ids))
	for _, id := range ids {
		if id != skip {
			out = append(out, id)
		}
	}
	return out
}
