package router

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	"github.com/lexflow/backend/internal/handler"
	"github.com/lexflow/backend/internal/model"
	"github.com/lexflow/backend/internal/notify"
	"github.com/lexflow/backend/internal/service"
	"github.com/lexflow/backend/internal/sse"
	"github.com/lexflow/backend/pkg/jwt"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const secret = "router-test-secret"

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type api struct {
	t      *testing.T
	engine *gin.Engine
	db     *gorm.DB
	tokens map[uint]string
}

func newAPI(t *testing.T) *api {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "api.db")), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })
	require.NoError(t, model.AutoMigrate(db))

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	hub := sse.NewHub(rdb, time.Hour)

	log := zap.NewNop()
	dispatcher := notify.NewDispatcher(notify.NoopNotifier{}, 1, 16, log)
	t.Cleanup(dispatcher.Close)

	dir := service.NewDirectory(db, []string{"client", "lawyer", "reviewer"}, []string{"reviewer"})
	activity := service.NewActivity(hub, dispatcher, log)
	lifecycle := service.NewLifecycle()
	perms := service.NewPermissionService(db, dir, activity, log)
	docs := service.NewDocumentService(db, perms, lifecycle, activity, log)
	sigs := service.NewSignatureService(db, perms, lifecycle, activity, "0123456789abcdef", log)
	vars := service.NewVariableService(db, perms, activity, log)
	rels := service.NewRelationshipService(db, perms, activity, log)

	engine := gin.New()
	Setup(engine, Deps{
		DB:                  db,
		JWTSecret:           secret,
		Logger:              log,
		UserHandler:         handler.NewUserHandler(dir, secret, 1, log),
		DocumentHandler:     handler.NewDocumentHandler(docs, vars, log),
		SignatureHandler:    handler.NewSignatureHandler(sigs, log),
		PermissionHandler:   handler.NewPermissionHandler(perms, log),
		RelationshipHandler: handler.NewRelationshipHandler(rels, log),
		VariableHandler:     handler.NewVariableHandler(vars, log),
		EventHandler:        handler.NewEventHandler(docs, hub, log),
		AuditHandler:        handler.NewAuditHandler(service.NewAuditService(db), log),
	})
	return &api{t: t, engine: engine, db: db, tokens: map[uint]string{}}
}

func (a *api) user(name, role string, admin bool) *model.User {
	a.t.Helper()
	u := &model.User{Name: name, Role: role, IsAdmin: admin, Status: 1}
	require.NoError(a.t, a.db.Create(u).Error)
	token, _, err := jwt.GenerateToken(secret, u.ID, u.Role, u.IsAdmin, 1)
	require.NoError(a.t, err)
	a.tokens[u.ID] = token
	return u
}

func (a *api) do(u *model.User, method, path string, body interface{}) (int, envelope) {
	a.t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(a.t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, "/api/v1"+path, reader)
	req.Header.Set("Content-Type", "application/json")
	if u != nil {
		req.Header.Set("Authorization", "Bearer "+a.tokens[u.ID])
	}
	w := httptest.NewRecorder()
	a.engine.ServeHTTP(w, req)

	var env envelope
	require.NoError(a.t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	return w.Code, env
}

func decode[T any](t *testing.T, raw json.RawMessage) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(raw, &v))
	return v
}

func TestDocumentSigningFlow(t *testing.T) {
	a := newAPI(t)
	owner := a.user("Olga", "lawyer", false)
	alice := a.user("Alice", "client", false)
	bob := a.user("Bob", "client", false)

	code, env := a.do(nil, http.MethodGet, "/documents", nil)
	assert.Equal(t, http.StatusUnauthorized, code)

	code, env = a.do(owner, http.MethodPost, "/documents", gin.H{"title": "Share purchase"})
	require.Equal(t, http.StatusOK, code, env.Message)
	doc := decode[model.Document](t, env.Data)
	assert.Equal(t, model.StateDraft, doc.State)
	base := fmt.Sprintf("/documents/%d", doc.ID)

	code, _ = a.do(alice, http.MethodGet, base, nil)
	assert.Equal(t, http.StatusForbidden, code)
	code, _ = a.do(owner, http.MethodGet, "/documents/999", nil)
	assert.Equal(t, http.StatusNotFound, code)

	code, env = a.do(owner, http.MethodPut, base+"/variables/price", gin.H{"field_type": "number", "value": "1500000", "currency": "COP"})
	require.Equal(t, http.StatusOK, code, env.Message)
	code, _ = a.do(owner, http.MethodPut, base+"/variables/mail", gin.H{"field_type": "email", "value": "nope"})
	assert.Equal(t, http.StatusBadRequest, code)

	due := time.Now().Add(24 * time.Hour).UTC().Format(time.RFC3339)
	code, env = a.do(owner, http.MethodPost, base+"/signatures", gin.H{"signer_ids": []uint{alice.ID, bob.ID}, "due_date": due})
	require.Equal(t, http.StatusOK, code, env.Message)

	code, env = a.do(owner, http.MethodPut, base+"/state", gin.H{"state": "Progress"})
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, 40901, env.Code)
	conflict := decode[map[string]string](t, env.Data)
	assert.Equal(t, "PendingSignatures", conflict["state"])

	code, _ = a.do(alice, http.MethodPost, fmt.Sprintf("%s/signatures/%d", base, bob.ID), nil)
	assert.Equal(t, http.StatusForbidden, code)

	code, env = a.do(alice, http.MethodPost, fmt.Sprintf("%s/signatures/%d", base, alice.ID), nil)
	require.Equal(t, http.StatusOK, code, env.Message)
	code, env = a.do(bob, http.MethodPost, fmt.Sprintf("%s/signatures/%d", base, bob.ID), nil)
	require.Equal(t, http.StatusOK, code, env.Message)
	result := decode[service.SignResult](t, env.Data)
	assert.Equal(t, model.StateFullySigned, result.Document.State)

	code, env = a.do(owner, http.MethodGet, base+"/events", nil)
	require.Equal(t, http.StatusOK, code)
	page := decode[struct {
		Total int64 `json:"total"`
	}](t, env.Data)
	assert.Greater(t, page.Total, int64(3))
}

func TestPermissionsAndRelationships(t *testing.T) {
	a := newAPI(t)
	owner := a.user("Olga", "lawyer", false)
	alice := a.user("Alice", "client", false)
	admin := a.user("Root", "lawyer", true)

	ids := make([]uint, 0, 2)
	for _, title := range []string{"Master agreement", "Annex"} {
		code, env := a.do(owner, http.MethodPost, "/documents", gin.H{"title": title})
		require.Equal(t, http.StatusOK, code)
		doc := decode[model.Document](t, env.Data)
		code, _ = a.do(owner, http.MethodPut, fmt.Sprintf("/documents/%d/state", doc.ID), gin.H{"state": "Completed"})
		require.Equal(t, http.StatusOK, code)
		ids = append(ids, doc.ID)
	}

	code, env := a.do(owner, http.MethodPost, fmt.Sprintf("/documents/%d/permissions", ids[0]), gin.H{
		"usability": gin.H{"user_ids": []uint{alice.ID}},
	})
	require.Equal(t, http.StatusOK, code)
	bulk := decode[service.BulkResult](t, env.Data)
	require.NotNil(t, bulk.Usability)
	assert.True(t, bulk.Usability.Applied)
	assert.Empty(t, bulk.Usability.Granted)
	require.Len(t, bulk.Usability.Errors, 1)
	assert.Equal(t, alice.ID, bulk.Usability.Errors[0].UserID)

	code, _ = a.do(alice, http.MethodGet, fmt.Sprintf("/documents/%d/permissions", ids[0]), nil)
	assert.Equal(t, http.StatusForbidden, code)

	code, env = a.do(owner, http.MethodPost, "/relationships", gin.H{"source_document_id": ids[0], "target_document_id": ids[0]})
	assert.Equal(t, http.StatusBadRequest, code)
	code, env = a.do(owner, http.MethodPost, "/relationships", gin.H{"source_document_id": ids[0], "target_document_id": ids[1]})
	require.Equal(t, http.StatusOK, code, env.Message)

	code, env = a.do(owner, http.MethodGet, fmt.Sprintf("/documents/%d/related", ids[1]), nil)
	require.Equal(t, http.StatusOK, code)
	related := decode[[]model.Document](t, env.Data)
	require.Len(t, related, 1)
	assert.Equal(t, ids[0], related[0].ID)

	code, _ = a.do(owner, http.MethodDelete, fmt.Sprintf("/relationships?source_id=%d&target_id=%d", ids[1], ids[0]), nil)
	assert.Equal(t, http.StatusOK, code)

	code, _ = a.do(owner, http.MethodGet, "/admin/operation-logs", nil)
	assert.Equal(t, http.StatusForbidden, code)
	code, env = a.do(admin, http.MethodGet, "/admin/operation-logs", nil)
	require.Equal(t, http.StatusOK, code)
	logs := decode[struct {
		Total int64 `json:"total"`
	}](t, env.Data)
	assert.Greater(t, logs.Total, int64(0))
}
