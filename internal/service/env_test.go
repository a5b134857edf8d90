package service

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/lexflow/backend/internal/model"
	"github.com/lexflow/backend/internal/notify"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type publishedEvent struct {
	DocumentID uint
	Type       string
}

type fakeHub struct {
	mu     sync.Mutex
	events []publishedEvent
}

func (h *fakeHub) Publish(_ context.Context, documentID uint, eventType string, _ interface{}) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, publishedEvent{DocumentID: documentID, Type: eventType})
	return nil
}

func (h *fakeHub) types(documentID uint) []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []string
	for _, e := range h.events {
		if e.DocumentID == documentID {
			out = append(out, e.Type)
		}
	}
	return out
}

type fakeDispatcher struct {
	mu   sync.Mutex
	sent []notify.Notification
}

func (d *fakeDispatcher) Dispatch(n notify.Notification) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sent = append(d.sent, n)
}

func (d *fakeDispatcher) recipients(tpl notify.Template) []uint {
	d.mu.Lock()
	defer d.mu.Unlock()
	var ids []uint
	for _, n := range d.sent {
		if n.Template == tpl {
			ids = append(ids, n.RecipientID)
		}
	}
	return ids
}

type testEnv struct {
	t   *testing.T
	ctx context.Context
	db  *gorm.DB

	hub   *fakeHub
	notes *fakeDispatcher

	lifecycle *Lifecycle
	perms     *PermissionService
	docs      *DocumentService
	sigs      *SignatureService
	vars      *VariableService
	rels      *RelationshipService
	audit     *AuditService

	owner    *model.User
	alice    *model.User
	bob      *model.User
	carol    *model.User
	reviewer *model.User
}

const testAESKey = "0123456789abcdef"

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "test.db")), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })
	require.NoError(t, model.AutoMigrate(db))

	e := &testEnv{t: t, ctx: context.Background(), db: db, hub: &fakeHub{}, notes: &fakeDispatcher{}}
	log := zap.NewNop()
	dir := NewDirectory(db, []string{"client", "lawyer", "reviewer"}, []string{"reviewer"})
	activity := NewActivity(e.hub, e.notes, log)

	e.lifecycle = NewLifecycle()
	e.perms = NewPermissionService(db, dir, activity, log)
	e.docs = NewDocumentService(db, e.perms, e.lifecycle, activity, log)
	e.sigs = NewSignatureService(db, e.perms, e.lifecycle, activity, testAESKey, log)
	e.vars = NewVariableService(db, e.perms, activity, log)
	e.rels = NewRelationshipService(db, e.perms, activity, log)
	e.audit = NewAuditService(db)

	e.owner = e.user("Olga", "lawyer")
	e.alice = e.user("Alice", "client")
	e.bob = e.user("Bob", "client")
	e.carol = e.user("Carol", "lawyer")
	e.reviewer = e.user("Rita", "reviewer")
	return e
}

func (e *testEnv) user(name, role string) *model.User {
	e.t.Helper()
	u := &model.User{Name: name, Role: role, Status: 1, FeishuUID: "ou_" + name}
	require.NoError(e.t, e.db.Create(u).Error)
	return u
}

func (e *testEnv) document(title string) *model.Document {
	e.t.Helper()
	doc, err := e.docs.Create(e.ctx, e.owner, CreateDocumentInput{Title: title, Content: "Contract with {{counterparty}}"})
	require.NoError(e.t, err)
	return doc
}

// completed returns a document moved to Completed by its owner.
func (e *testEnv) completed(title string) *model.Document {
	e.t.Helper()
	doc := e.document(title)
	doc, err := e.docs.ChangeState(e.ctx, doc.ID, e.owner, model.StateCompleted)
	require.NoError(e.t, err)
	return doc
}

func (e *testEnv) reload(id uint) *model.Document {
	e.t.Helper()
	var doc model.Document
	require.NoError(e.t, e.db.First(&doc, id).Error)
	return &doc
}

func (e *testEnv) signatures(id uint) []model.Signature {
	e.t.Helper()
	var sigs []model.Signature
	require.NoError(e.t, e.db.Where("document_id = ?", id).Order("signer_id").Find(&sigs).Error)
	return sigs
}

func (e *testEnv) requestSignatures(doc *model.Document, signers ...*model.User) {
	e.t.Helper()
	ids := make([]uint, 0, len(signers))
	for _, u := range signers {
		ids = append(ids, u.ID)
	}
	due := time.Now().Add(48 * time.Hour)
	_, err := e.sigs.RequestSignatures(e.ctx, doc.ID, e.owner, ids, &due)
	require.NoError(e.t, err)
}
