package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	sqlite "github.com/glebarez/sqlite"
	"github.com/ramsingla/acts-as-wiki/internal/auth"
	"github.com/ramsingla/acts-as-wiki/internal/records"
	"github.com/ramsingla/acts-as-wiki/internal/revisions"
	"github.com/ramsingla/acts-as-wiki/internal/users"
	"github.com/ramsingla/acts-as-wiki/internal/wiki"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type testServer struct {
	handler    http.Handler
	dispatcher *RealtimeDispatcher
	tokens     *auth.TokenIssuer
	token      string
	authorID   int64
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)
	ctx := context.Background()

	dsn := fmt.Sprintf("file:server_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&users.User{}, &records.Record{}, &revisions.Revision{}))

	userService, err := users.NewService(users.ServiceConfig{Database: db})
	require.NoError(t, err)
	directory := revisions.Directory{Authors: userService, Owners: records.NewDirectory(db)}
	store, err := revisions.NewGormStore(revisions.GormStoreConfig{Database: db, Directory: directory})
	require.NoError(t, err)
	engine, err := revisions.NewEngine(revisions.EngineConfig{Store: store, Directory: directory})
	require.NoError(t, err)
	registry := wiki.NewRegistry()
	require.NoError(t, registry.Register("Actor", "biography", "filmography"))
	registry.Seal()

	dispatcher := NewRealtimeDispatcher()
	tracker, err := wiki.NewTracker(wiki.TrackerConfig{Registry: registry, Engine: engine, Authors: userService, Events: dispatcher})
	require.NoError(t, err)
	recordService, err := records.NewService(records.ServiceConfig{Database: db, Tracker: tracker})
	require.NoError(t, err)

	tokens, err := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte("server-secret"),
		Issuer:        "wikirev",
		Audience:      "wikirev-api",
	})
	require.NoError(t, err)

	author, err := userService.Create(ctx, "Chidi", "chidi@example.com")
	require.NoError(t, err)
	token, _, err := tokens.IssueAuthorToken(ctx, author.ID)
	require.NoError(t, err)

	handler, err := NewHTTPHandler(Dependencies{
		Tokens:            tokens,
		Records:           recordService,
		Events:            dispatcher,
		HeartbeatInterval: time.Hour,
	})
	require.NoError(t, err)
	return &testServer{handler: handler, dispatcher: dispatcher, tokens: tokens, token: token, authorID: author.ID}
}

func (s *testServer) perform(method, path, body, token string) *httptest.ResponseRecorder {
	var request *http.Request
	if body == "" {
		request = httptest.NewRequest(method, path, http.NoBody)
	} else {
		request = httptest.NewRequest(method, path, strings.NewReader(body))
		request.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		request.Header.Set("Authorization", "Bearer "+token)
	}
	recorder := httptest.NewRecorder()
	s.handler.ServeHTTP(recorder, request)
	return recorder
}

func (s *testServer) createActor(t *testing.T, biography string) recordWriteResponse {
	t.Helper()
	body := fmt.Sprintf(`{"attributes":{"name":"Ngozi"},"fields":{"biography":{"data":%q,"summary":"initial"}}}`, biography)
	recorder := s.perform(http.MethodPost, "/records/Actor", body, s.token)
	require.Equal(t, http.StatusCreated, recorder.Code, recorder.Body.String())
	var response recordWriteResponse
	decodeBody(t, recorder, &response)
	return response
}

func decodeBody(t *testing.T, recorder *httptest.ResponseRecorder, target interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), target))
}

func expectError(t *testing.T, recorder *httptest.ResponseRecorder, status int, reason string) {
	t.Helper()
	require.Equal(t, status, recorder.Code, recorder.Body.String())
	var body map[string]interface{}
	decodeBody(t, recorder, &body)
	assert.Equal(t, reason, body["error"])
}
