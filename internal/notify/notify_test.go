package notify

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type recordingNotifier struct {
	mu   sync.Mutex
	sent []Notification
	err  error
}

func (r *recordingNotifier) Send(_ context.Context, n Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, n)
	return r.err
}

type recordingSender struct {
	openIDs []string
	cards   []map[string]interface{}
	err     error
}

func (r *recordingSender) SendInteractiveMessage(_ context.Context, openID string, card map[string]interface{}) error {
	r.openIDs = append(r.openIDs, openID)
	r.cards = append(r.cards, card)
	return r.err
}

func TestDispatcherDeliversBeforeClose(t *testing.T) {
	rec := &recordingNotifier{}
	d := NewDispatcher(rec, 2, 16, zap.NewNop())

	for i := uint(1); i <= 5; i++ {
		d.Dispatch(New(i, "ou_x", "user", TemplateDocumentFullySigned, map[string]string{"document_id": "7"}))
	}
	d.Close()

	assert.Len(t, rec.sent, 5)
	assert.NotEmpty(t, rec.sent[0].ID)
}

func TestDispatcherSwallowsFailures(t *testing.T) {
	rec := &recordingNotifier{err: errors.New("bot offline")}
	d := NewDispatcher(rec, 1, 4, zap.NewNop())
	d.Dispatch(New(1, "ou_x", "user", TemplateDocumentRejected, nil))
	d.Close()
	assert.Len(t, rec.sent, 1)
}

func TestPoolRejectsAfterShutdownAndWhenFull(t *testing.T) {
	block := make(chan struct{})
	p := NewPool(1, 1)

	started := make(chan struct{})
	require.NoError(t, p.TrySubmit(func() { close(started); <-block }))
	<-started
	require.NoError(t, p.TrySubmit(func() {}))
	assert.ErrorIs(t, p.TrySubmit(func() {}), ErrQueueFull)

	close(block)
	p.Shutdown()
	assert.ErrorIs(t, p.TrySubmit(func() {}), ErrPoolClosed)
	p.Shutdown()
}

func TestFeishuNotifier(t *testing.T) {
	sender := &recordingSender{}
	n := NewFeishuNotifier(sender, zap.NewNop())

	require.NoError(t, n.Send(context.Background(), New(1, "", "no feishu", TemplateSignatureRequested, nil)))
	assert.Empty(t, sender.openIDs)

	msg := New(2, "ou_abc", "Ana", TemplateDocumentRejected, map[string]string{
		"document_id": "12",
		"title":       "Lease",
		"actor":       "Bruno",
		"comment":     "wrong term",
	})
	require.NoError(t, n.Send(context.Background(), msg))
	require.Equal(t, []string{"ou_abc"}, sender.openIDs)

	header := sender.cards[0]["header"].(map[string]interface{})
	assert.Equal(t, "red", header["template"])
	assert.Len(t, sender.cards[0]["elements"], 3)

	_, err := BuildNotificationCard(Notification{Template: "unknown"})
	assert.Error(t, err)
}

func TestFeishuNotifierReturnsSendError(t *testing.T) {
	sender := &recordingSender{err: errors.New("code=99991663")}
	n := NewFeishuNotifier(sender, zap.NewNop())
	err := n.Send(context.Background(), New(1, "ou_abc", "Ana", TemplateDocumentExpired, map[string]string{"due_date": "2024-01-01"}))
	assert.Error(t, err)
}
