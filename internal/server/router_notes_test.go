package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/MarcoPoloResearchLab/notekeeper/internal/auth"
	"github.com/MarcoPoloResearchLab/notekeeper/internal/collection"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type tokenTableValidator map[string]string

func (v tokenTableValidator) ValidateRequest(r *http.Request) (auth.SessionClaims, error) {
	token, found := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !found || token == "" {
		return auth.SessionClaims{}, auth.ErrMissingSessionToken
	}
	userID, ok := v[token]
	if !ok {
		return auth.SessionClaims{}, auth.ErrInvalidSessionToken
	}
	return auth.SessionClaims{UserID: userID}, nil
}

func newNotesRouter(testContext *testing.T) http.Handler {
	testContext.Helper()
	gin.SetMode(gin.TestMode)
	db, err := collection.Open(filepath.Join(testContext.TempDir(), "api.db"), nil)
	if err != nil {
		testContext.Fatalf("failed to open database: %v", err)
	}
	service, err := collection.NewService(collection.ServiceConfig{Database: db})
	if err != nil {
		testContext.Fatalf("failed to build service: %v", err)
	}
	handler, err := NewHTTPHandler(Dependencies{
		SessionValidator: tokenTableValidator{"token-alice": "alice", "token-bob": "bob"},
		Documents:        service,
		Logger:           zap.NewNop(),
	})
	if err != nil {
		testContext.Fatalf("failed to build handler: %v", err)
	}
	return handler
}

func performRequest(handler http.Handler, method, path, token, body string) *httptest.ResponseRecorder {
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
	handler.ServeHTTP(recorder, request)
	return recorder
}

func TestNotesRoutesLifecycle(testContext *testing.T) {
	handler := newNotesRouter(testContext)

	created := performRequest(handler, http.MethodPost, "/notes", "token-alice",
		`{"title":"Trip","content":"pack","isCompleted":false,"userId":"alice","createdAt":1700}`)
	if created.Code != http.StatusCreated {
		testContext.Fatalf("expected created status, got %d: %s", created.Code, created.Body.String())
	}
	var createdPayload map[string]string
	if err := json.Unmarshal(created.Body.Bytes(), &createdPayload); err != nil {
		testContext.Fatalf("failed to decode create response: %v", err)
	}
	id := createdPayload["id"]
	if id == "" {
		testContext.Fatalf("expected an id in %s", created.Body.String())
	}

	updated := performRequest(handler, http.MethodPut, "/notes/"+id, "token-alice",
		`{"title":"Trip","content":"pack bags","isCompleted":true,"userId":"alice","createdAt":1700}`)
	if updated.Code != http.StatusOK {
		testContext.Fatalf("expected ok status, got %d: %s", updated.Code, updated.Body.String())
	}

	listed := performRequest(handler, http.MethodGet, "/notes", "token-alice", "")
	if listed.Code != http.StatusOK {
		testContext.Fatalf("expected ok status, got %d", listed.Code)
	}
	var listPayload listResponsePayload
	if err := json.Unmarshal(listed.Body.Bytes(), &listPayload); err != nil {
		testContext.Fatalf("failed to decode list: %v", err)
	}
	if len(listPayload.Notes) != 1 {
		testContext.Fatalf("expected one note, got %d", len(listPayload.Notes))
	}
	note := listPayload.Notes[0]
	if note.ID != id || note.Content != "pack bags" || !note.IsCompleted || note.CreatedAt != 1700 {
		testContext.Fatalf("unexpected listed note %+v", note)
	}

	deleted := performRequest(handler, http.MethodDelete, "/notes/"+id, "token-alice", "")
	if deleted.Code != http.StatusNoContent {
		testContext.Fatalf("expected no content status, got %d", deleted.Code)
	}
	again := performRequest(handler, http.MethodDelete, "/notes/"+id, "token-alice", "")
	if again.Code != http.StatusNotFound {
		testContext.Fatalf("expected not found on repeated delete, got %d", again.Code)
	}
}

func TestNotesRoutesEnforceOwnership(testContext *testing.T) {
	handler := newNotesRouter(testContext)

	spoofed := performRequest(handler, http.MethodPost, "/notes", "token-bob", `{"title":"x","userId":"alice"}`)
	if spoofed.Code != http.StatusForbidden {
		testContext.Fatalf("expected forbidden for mismatched owner, got %d", spoofed.Code)
	}

	created := performRequest(handler, http.MethodPost, "/notes", "token-alice", `{"title":"mine","userId":"alice"}`)
	var createdPayload map[string]string
	if err := json.Unmarshal(created.Body.Bytes(), &createdPayload); err != nil {
		testContext.Fatalf("failed to decode create response: %v", err)
	}

	hijack := performRequest(handler, http.MethodPut, "/notes/"+createdPayload["id"], "token-bob", `{"title":"hijack","userId":"bob"}`)
	if hijack.Code != http.StatusForbidden {
		testContext.Fatalf("expected forbidden update, got %d", hijack.Code)
	}
	missing := performRequest(handler, http.MethodPut, "/notes/unknown", "token-alice", `{"title":"x","userId":"alice"}`)
	if missing.Code != http.StatusNotFound {
		testContext.Fatalf("expected not found update, got %d", missing.Code)
	}
}

func TestNotesRoutesRequireSession(testContext *testing.T) {
	handler := newNotesRouter(testContext)

	if recorder := performRequest(handler, http.MethodGet, "/notes", "", ""); recorder.Code != http.StatusUnauthorized {
		testContext.Fatalf("expected unauthorized without token, got %d", recorder.Code)
	}
	if recorder := performRequest(handler, http.MethodGet, "/notes", "token-mallory", ""); recorder.Code != http.StatusUnauthorized {
		testContext.Fatalf("expected unauthorized for unknown token, got %d", recorder.Code)
	}
	if recorder := performRequest(handler, http.MethodGet, "/healthz", "", ""); recorder.Code != http.StatusOK {
		testContext.Fatalf("expected health endpoint to be public, got %d", recorder.Code)
	}
}

func TestHandleCreateNoteRejectsMalformedBody(testContext *testing.T) {
	gin.SetMode(gin.TestMode)
	recorder := httptest.NewRecorder()
	context, _ := gin.CreateTestContext(recorder)
	context.Set(userIDContextKey, "user-1")

	request := httptest.NewRequest(http.MethodPost, "/notes", strings.NewReader(`{"title":`))
	request.Header.Set("Content-Type", "application/json")
	context.Request = request

	handler := &httpHandler{
		documents: failingDocuments{},
		logger:    zap.NewNop(),
	}

	handler.handleCreateNote(context)

	if recorder.Code != http.StatusBadRequest {
		testContext.Fatalf("expected bad request status, got %d", recorder.Code)
	}
	expected := `{"error":"invalid_request"}`
	if recorder.Body.String() != expected {
		testContext.Fatalf("unexpected response body: %s", recorder.Body.String())
	}
}

func TestHandleListNotesIncludesServiceErrorCode(testContext *testing.T) {
	gin.SetMode(gin.TestMode)
	recorder := httptest.NewRecorder()
	context, _ := gin.CreateTestContext(recorder)
	context.Set(userIDContextKey, "user-1")
	context.Request = httptest.NewRequest(http.MethodGet, "/notes", http.NoBody)

	db, err := collection.Open(filepath.Join(testContext.TempDir(), "closed.db"), nil)
	if err != nil {
		testContext.Fatalf("failed to open database: %v", err)
	}
	service, err := collection.NewService(collection.ServiceConfig{Database: db})
	if err != nil {
		testContext.Fatalf("failed to build service: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		testContext.Fatalf("failed to access sql handle: %v", err)
	}
	_ = sqlDB.Close()

	handler := &httpHandler{
		documents: service,
		logger:    zap.NewNop(),
	}

	handler.handleListNotes(context)

	if recorder.Code != http.StatusInternalServerError {
		testContext.Fatalf("expected internal server error status, got %d", recorder.Code)
	}
	var payload map[string]any
	if err := json.Unmarshal(recorder.Body.Bytes(), &payload); err != nil {
		testContext.Fatalf("failed to decode response: %v", err)
	}
	if payload["code"] != "collection.list.query_failed" {
		testContext.Fatalf("expected list error code, got %v", payload["code"])
	}
}

type failingDocuments struct{}

func (failingDocuments) Add(context.Context, string, collection.Input) (string, error) {
	return "", errors.New("unused")
}

func (failingDocuments) Update(context.Context, string, string, collection.Input) error {
	return errors.New("unused")
}

func (failingDocuments) Delete(context.Context, string, string) error {
	return errors.New("unused")
}

func (failingDocuments) List(context.Context, string) ([]collection.Document, error) {
	return nil, errors.New("unused")
}
