package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/lexflow/backend/internal/service"
	"github.com/lexflow/backend/internal/sse"
	"go.uber.org/zap"
)

const heartbeatInterval = 30 * time.Second

type EventHandler struct {
	docs *service.DocumentService
	hub  *sse.Hub
	log  *zap.Logger
}

func NewEventHandler(docs *service.DocumentService, hub *sse.Hub, log *zap.Logger) *EventHandler {
	return &EventHandler{docs: docs, hub: hub, log: log}
}

// GET /documents/:id/events
func (h *EventHandler) List(c *gin.Context) {
	user := currentUser(c)
	if user == nil {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	ctx := c.Request.Context()
	if _, err := h.docs.Get(ctx, id, user); err != nil {
		respondError(c, h.log, err)
		return
	}

	page, pageSize := parsePage(c)
	total, err := h.hub.TotalEvents(ctx, id)
	if err != nil {
		respondError(c, h.log, fmt.Errorf("count events: %w", err))
		return
	}
	events, err := h.hub.EventsPage(ctx, id, int64((page-1)*pageSize), int64(pageSize))
	if err != nil {
		respondError(c, h.log, fmt.Errorf("read events: %w", err))
		return
	}
	SuccessPaged(c, events, total, page, pageSize)
}

// GET /documents/:id/events/stream
func (h *EventHandler) Stream(c *gin.Context) {
	user := currentUser(c)
	if user == nil {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	ctx := c.Request.Context()
	if _, err := h.docs.Get(ctx, id, user); err != nil {
		respondError(c, h.log, err)
		return
	}

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Header().Set("X-Accel-Buffering", "no")
	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		InternalError(c, "streaming not supported")
		return
	}

	// Subscribe before replaying so nothing published in between is lost.
	ch, unsub := h.hub.Subscribe(id)
	defer unsub()

	next := sse.ParseLastEventID(c.GetHeader("Last-Event-ID"))
	history, err := h.hub.ReplayFrom(ctx, id, next)
	if err != nil {
		h.log.Warn("replay events failed", zap.Uint("document_id", id), zap.Error(err))
	}
	for _, ev := range history {
		writeEvent(c, ev)
		next = ev.ID + 1
	}
	flusher.Flush()

	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case ev, open := <-ch:
			if !open {
				return
			}
			if ev.ID < next {
				continue // already replayed
			}
			writeEvent(c, ev)
			next = ev.ID + 1
			flusher.Flush()
		case <-ticker.C:
			fmt.Fprintf(c.Writer, ": heartbeat\n\n")
			flusher.Flush()
		case <-ctx.Done():
			return
		}
	}
}

func writeEvent(c *gin.Context, ev sse.Event) {
	data, _ := json.Marshal(gin.H{"data": ev.Data, "at": ev.At})
	fmt.Fprintf(c.Writer, "id: %d\nevent: %s\ndata: %s\n\n", ev.ID, ev.Type, data)
}
