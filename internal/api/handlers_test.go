package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"ureka/internal/auth"
	"ureka/internal/backend"
	"ureka/internal/config"
	"ureka/internal/docstore"
	"ureka/internal/session"
	"ureka/internal/storage"
	"ureka/internal/upload"
	"ureka/internal/workspace"
)

// fakeBackend plays the remote analytics service.
type fakeBackend struct {
	mu      sync.Mutex
	calls   []string
	status  string
	removed []string
}

func (f *fakeBackend) record(call string) {
	f.mu.Lock()
	f.calls = append(f.calls, call)
	f.mu.Unlock()
}

func (f *fakeBackend) called(call string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.calls {
		if c == call {
			return true
		}
	}
	return false
}

func (f *fakeBackend) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.record(r.Method + " " + r.URL.Path)
	w.Header().Set("Content-Type", "application/json")
	authed := false
	if ck, err := r.Cookie("session"); err == nil && ck.Value == "abc" {
		authed = true
	}
	switch r.URL.Path {
	case "/v1/api/users/sign-in":
		var creds backend.Credentials
		_ = json.NewDecoder(r.Body).Decode(&creds)
		if creds.Password != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"detail":"Invalid credentials"}`))
			return
		}
		http.SetCookie(w, &http.Cookie{Name: "session", Value: "abc", Path: "/"})
		_, _ = fmt.Fprintf(w, `{"user":{"id":"u1","email":%q}}`, creds.Email)
		return
	}
	if !authed {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"detail":"Not authenticated"}`))
		return
	}
	switch r.URL.Path {
	case "/v1/api/users/check-user":
		_, _ = w.Write([]byte(`{"id":"u1","email":"a@b.c"}`))
	case "/v1/api/users/log-out":
		_, _ = w.Write([]byte(`{}`))
	case "/v1/api/chat/query":
		_, _ = w.Write([]byte(`{"type":"general","content":"42 rows"}`))
	case "/v1/api/data/upload-file":
		_, _ = w.Write([]byte(`{"upload_id":"up-1","extension":"csv"}`))
	case "/v1/api/data/upload-status":
		f.mu.Lock()
		status := f.status
		f.mu.Unlock()
		_, _ = fmt.Fprintf(w, `{"status":%q}`, status)
	case "/v1/api/data/upload-remove":
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		f.mu.Lock()
		f.removed = append(f.removed, body["upload_id"])
		f.mu.Unlock()
		_, _ = w.Write([]byte(`{}`))
	default:
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"detail":"not found"}`))
	}
}

type testServer struct {
	router  *gin.Engine
	backend *fakeBackend
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	fake := &fakeBackend{status: "completed"}
	remote := httptest.NewServer(fake)
	t.Cleanup(remote.Close)

	cfg := &config.Config{Databases: map[string]config.DatabaseConfig{"sqlite3": {DSN: ":memory:"}}}
	db, err := storage.Open("sqlite3", cfg)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := storage.Migrate(db, "sqlite3"); err != nil {
		t.Fatalf("migrate db: %v", err)
	}

	sessions, err := session.NewManager(session.Options{KV: session.NewMemoryKV(), TTL: time.Hour})
	if err != nil {
		t.Fatalf("session manager: %v", err)
	}
	client := backend.NewClient(remote.URL, 5*time.Second)
	workspaces := workspace.NewManager(workspace.Options{
		Docs:    docstore.NewService(db, "sqlite3"),
		Backend: client,
		// nothing listens here, so queries fall back to REST
		WSURL: "ws://127.0.0.1:1/v2/api/chat/ws/query",
		Upload: upload.Options{
			PollInterval: 10 * time.Millisecond,
			AutoAttach:   true,
		},
		Sessions: sessions,
	})
	t.Cleanup(workspaces.Close)
	sessions.Subscribe(workspaces.OnSession)

	handler := NewHandler(auth.NewService(sessions, config.GoogleConfig{}), sessions, workspaces, client, 0)
	router := gin.New()
	handler.RegisterRoutes(router)
	return &testServer{router: router, backend: fake}
}

func (s *testServer) signIn(t *testing.T) map[string]string {
	t.Helper()
	resp := doJSONRequest(t, s.router, http.MethodPost, "/api/users/sign-in", map[string]string{
		"email":    "a@b.c",
		"password": "secret",
	}, nil)
	assertStatus(t, resp, http.StatusOK)
	var body struct {
		AuthToken string `json:"auth_token"`
	}
	decodeJSON(t, resp.Body.Bytes(), &body)
	if body.AuthToken == "" {
		t.Fatalf("expected auth token after sign-in")
	}
	return map[string]string{"Authorization": "Bearer " + body.AuthToken}
}

func TestSignInCheckUserLogOut(t *testing.T) {
	srv := newTestServer(t)

	bad := doJSONRequest(t, srv.router, http.MethodPost, "/api/users/sign-in", map[string]string{
		"email":    "a@b.c",
		"password": "wrong",
	}, nil)
	assertStatus(t, bad, http.StatusUnauthorized)
	if !strings.Contains(bad.Body.String(), "Invalid credentials") {
		t.Fatalf("expected backend detail, got %s", bad.Body.String())
	}

	empty := doJSONRequest(t, srv.router, http.MethodPost, "/api/users/sign-in", map[string]string{"email": ""}, nil)
	assertStatus(t, empty, http.StatusBadRequest)

	authHeader := srv.signIn(t)
	check := doJSONRequest(t, srv.router, http.MethodGet, "/api/users/check-user", nil, authHeader)
	assertStatus(t, check, http.StatusOK)
	var body struct {
		User struct {
			ID string `json:"id"`
		} `json:"user"`
	}
	decodeJSON(t, check.Body.Bytes(), &body)
	if body.User.ID != "u1" {
		t.Fatalf("expected user u1, got %q", body.User.ID)
	}

	out := doJSONRequest(t, srv.router, http.MethodPost, "/api/users/log-out", nil, authHeader)
	assertStatus(t, out, http.StatusNoContent)
	if !srv.backend.called("POST /v1/api/users/log-out") {
		t.Fatalf("expected backend log-out call")
	}
	after := doJSONRequest(t, srv.router, http.MethodGet, "/api/users/check-user", nil, authHeader)
	assertStatus(t, after, http.StatusUnauthorized)
}

func TestCookieAuthRequiresCSRF(t *testing.T) {
	srv := newTestServer(t)
	resp := doJSONRequest(t, srv.router, http.MethodPost, "/api/users/sign-in", map[string]string{
		"email":    "a@b.c",
		"password": "secret",
	}, nil)
	assertStatus(t, resp, http.StatusOK)
	var cookieHeader []string
	var csrf string
	for _, ck := range resp.Result().Cookies() {
		cookieHeader = append(cookieHeader, ck.Name+"="+ck.Value)
		if ck.Name == "csrf_token" {
			csrf = ck.Value
		}
	}
	if csrf == "" {
		t.Fatalf("expected csrf cookie")
	}
	cookies := map[string]string{"Cookie": strings.Join(cookieHeader, "; ")}

	blocked := doJSONRequest(t, srv.router, http.MethodPost, "/api/chats", map[string]string{"name": "x"}, cookies)
	assertStatus(t, blocked, http.StatusForbidden)

	cookies["X-CSRF-Token"] = csrf
	allowed := doJSONRequest(t, srv.router, http.MethodPost, "/api/chats", map[string]string{"name": "x"}, cookies)
	assertStatus(t, allowed, http.StatusCreated)
}

func TestChatAndFolderRoutes(t *testing.T) {
	srv := newTestServer(t)
	authHeader := srv.signIn(t)

	folderResp := doJSONRequest(t, srv.router, http.MethodPost, "/api/folders", map[string]string{"name": "Reports"}, authHeader)
	assertStatus(t, folderResp, http.StatusCreated)
	var folder struct {
		Folder struct {
			ID string `json:"id"`
		} `json:"folder"`
	}
	decodeJSON(t, folderResp.Body.Bytes(), &folder)

	chatResp := doJSONRequest(t, srv.router, http.MethodPost, "/api/chats", map[string]string{
		"name":      "Q3",
		"folder_id": folder.Folder.ID,
	}, authHeader)
	assertStatus(t, chatResp, http.StatusCreated)
	var chat struct {
		Chat struct {
			ID       string `json:"id"`
			FolderID string `json:"folder_id"`
			IsLoaded bool   `json:"is_loaded"`
		} `json:"chat"`
	}
	decodeJSON(t, chatResp.Body.Bytes(), &chat)
	if !chat.Chat.IsLoaded || chat.Chat.FolderID != folder.Folder.ID {
		t.Fatalf("unexpected chat %+v", chat.Chat)
	}
	chatPath := "/api/chats/" + chat.Chat.ID

	missingFolder := doJSONRequest(t, srv.router, http.MethodPost, "/api/chats", map[string]string{"folder_id": "nope"}, authHeader)
	assertStatus(t, missingFolder, http.StatusNotFound)

	msgResp := doJSONRequest(t, srv.router, http.MethodPost, chatPath+"/messages", map[string]string{"content": "hello"}, authHeader)
	assertStatus(t, msgResp, http.StatusCreated)
	var msg struct {
		Message struct {
			ID   string `json:"id"`
			Type string `json:"type"`
		} `json:"message"`
	}
	decodeJSON(t, msgResp.Body.Bytes(), &msg)
	if msg.Message.ID == "" || msg.Message.Type != "user" {
		t.Fatalf("unexpected message %+v", msg.Message)
	}

	edit := doJSONRequest(t, srv.router, http.MethodPatch, chatPath+"/messages/"+msg.Message.ID, map[string]string{"content": "hello there"}, authHeader)
	assertStatus(t, edit, http.StatusNoContent)

	rename := doJSONRequest(t, srv.router, http.MethodPatch, chatPath, map[string]string{"name": "  "}, authHeader)
	assertStatus(t, rename, http.StatusBadRequest)
	rename = doJSONRequest(t, srv.router, http.MethodPatch, chatPath, map[string]string{"name": "Q3 revenue"}, authHeader)
	assertStatus(t, rename, http.StatusOK)

	toggle := doJSONRequest(t, srv.router, http.MethodPost, "/api/folders/"+folder.Folder.ID+"/toggle", nil, authHeader)
	assertStatus(t, toggle, http.StatusOK)
	if !strings.Contains(toggle.Body.String(), `"expanded":true`) {
		t.Fatalf("expected expanded folder, got %s", toggle.Body.String())
	}

	delFolder := doJSONRequest(t, srv.router, http.MethodDelete, "/api/folders/"+folder.Folder.ID, nil, authHeader)
	assertStatus(t, delFolder, http.StatusNoContent)

	get := doJSONRequest(t, srv.router, http.MethodGet, chatPath, nil, authHeader)
	assertStatus(t, get, http.StatusOK)
	var loaded struct {
		Chat struct {
			Name     string `json:"name"`
			FolderID string `json:"folder_id"`
			Messages []struct {
				Content string `json:"content"`
			} `json:"messages"`
		} `json:"chat"`
	}
	decodeJSON(t, get.Body.Bytes(), &loaded)
	if loaded.Chat.FolderID != "" {
		t.Fatalf("expected folder cleared, got %q", loaded.Chat.FolderID)
	}
	if loaded.Chat.Name != "Q3 revenue" {
		t.Fatalf("expected renamed chat, got %q", loaded.Chat.Name)
	}
	if len(loaded.Chat.Messages) != 1 || loaded.Chat.Messages[0].Content != "hello there" {
		t.Fatalf("unexpected messages %+v", loaded.Chat.Messages)
	}

	del := doJSONRequest(t, srv.router, http.MethodDelete, chatPath, nil, authHeader)
	assertStatus(t, del, http.StatusNoContent)
	gone := doJSONRequest(t, srv.router, http.MethodGet, chatPath, nil, authHeader)
	assertStatus(t, gone, http.StatusNotFound)
}

func TestQueryStreamsRestFallback(t *testing.T) {
	srv := newTestServer(t)
	authHeader := srv.signIn(t)
	chatID := createChat(t, srv, authHeader)

	invalid := doJSONRequest(t, srv.router, http.MethodPost, "/api/chats/"+chatID+"/query", map[string]string{"query": "  "}, authHeader)
	assertStatus(t, invalid, http.StatusBadRequest)
	missing := doJSONRequest(t, srv.router, http.MethodPost, "/api/chats/nope/query", map[string]string{"query": "hi"}, authHeader)
	assertStatus(t, missing, http.StatusNotFound)

	resp := doJSONRequest(t, srv.router, http.MethodPost, "/api/chats/"+chatID+"/query", map[string]string{"query": "count rows"}, authHeader)
	assertStatus(t, resp, http.StatusOK)
	events := parseSSE(t, resp.Body.String())
	if len(events) < 3 {
		t.Fatalf("expected at least 3 SSE events, got %d", len(events))
	}
	if events[0].Name != "message" {
		t.Fatalf("expected first event message, got %s", events[0].Name)
	}
	last := events[len(events)-1]
	if last.Name != "done" {
		t.Fatalf("expected done event, got %s", last.Name)
	}
	var result struct {
		Transport string `json:"transport"`
		FellBack  bool   `json:"fell_back"`
		Message   struct {
			Content string `json:"content"`
		} `json:"message"`
	}
	decodeJSON(t, []byte(last.Data), &result)
	if result.Transport != "rest" || !result.FellBack || result.Message.Content != "42 rows" {
		t.Fatalf("unexpected result %+v", result)
	}
	if !srv.backend.called("POST /v1/api/chat/query") {
		t.Fatalf("expected REST query")
	}

	get := doJSONRequest(t, srv.router, http.MethodGet, "/api/chats/"+chatID, nil, authHeader)
	var chat struct {
		Chat struct {
			Messages []struct {
				Type    string `json:"type"`
				Content string `json:"content"`
			} `json:"messages"`
		} `json:"chat"`
	}
	decodeJSON(t, get.Body.Bytes(), &chat)
	if len(chat.Chat.Messages) != 2 {
		t.Fatalf("expected user and ai messages, got %+v", chat.Chat.Messages)
	}
	if chat.Chat.Messages[0].Type != "user" || chat.Chat.Messages[1].Type != "ai" {
		t.Fatalf("unexpected message order %+v", chat.Chat.Messages)
	}
}

func TestUploadFlowAttachesAndRemoves(t *testing.T) {
	srv := newTestServer(t)
	authHeader := srv.signIn(t)
	chatID := createChat(t, srv, authHeader)

	bad := doMultipart(t, srv.router, "/api/data/upload-file", chatID, "notes.exe", "x", authHeader)
	assertStatus(t, bad, http.StatusBadRequest)

	resp := doMultipart(t, srv.router, "/api/data/upload-file", chatID, "sales.csv", "a,b\n1,2\n", authHeader)
	assertStatus(t, resp, http.StatusAccepted)
	var started struct {
		File struct {
			ID       string `json:"id"`
			UploadID string `json:"upload_id"`
			Status   string `json:"status"`
		} `json:"file"`
	}
	decodeJSON(t, resp.Body.Bytes(), &started)
	if started.File.UploadID != "up-1" || started.File.Status != "processing" {
		t.Fatalf("unexpected upload %+v", started.File)
	}

	// the tracker leaves the uploading list only after promotion and attach
	var chat struct {
		Chat struct {
			AttachedFiles  []struct{ ID string } `json:"attached_files"`
			UploadingFiles []struct{ ID string } `json:"uploading_files"`
		} `json:"chat"`
	}
	deadline := time.Now().Add(3 * time.Second)
	for {
		get := doJSONRequest(t, srv.router, http.MethodGet, "/api/chats/"+chatID, nil, authHeader)
		assertStatus(t, get, http.StatusOK)
		decodeJSON(t, get.Body.Bytes(), &chat)
		if len(chat.Chat.UploadingFiles) == 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("upload never completed")
		}
		time.Sleep(20 * time.Millisecond)
	}
	if len(chat.Chat.AttachedFiles) != 1 || chat.Chat.AttachedFiles[0].ID != started.File.ID {
		t.Fatalf("expected %s attached, got %+v", started.File.ID, chat.Chat.AttachedFiles)
	}

	list := doJSONRequest(t, srv.router, http.MethodGet, "/api/data/files", nil, authHeader)
	assertStatus(t, list, http.StatusOK)
	var files struct {
		Files []struct {
			ID string `json:"id"`
		} `json:"files"`
	}
	decodeJSON(t, list.Body.Bytes(), &files)
	if len(files.Files) != 1 || files.Files[0].ID != started.File.ID {
		t.Fatalf("unexpected files %+v", files.Files)
	}

	status := doJSONRequest(t, srv.router, http.MethodGet, "/api/data/upload-status?upload_id=up-1&extension=csv", nil, authHeader)
	assertStatus(t, status, http.StatusOK)
	if !strings.Contains(status.Body.String(), `"completed"`) {
		t.Fatalf("unexpected status body %s", status.Body.String())
	}

	remove := doJSONRequest(t, srv.router, http.MethodPost, "/api/data/upload-remove", map[string]string{"file_id": started.File.ID}, authHeader)
	assertStatus(t, remove, http.StatusNoContent)
	get := doJSONRequest(t, srv.router, http.MethodGet, "/api/chats/"+chatID, nil, authHeader)
	decodeJSON(t, get.Body.Bytes(), &chat)
	if len(chat.Chat.AttachedFiles) != 0 {
		t.Fatalf("expected attachment removed, got %+v", chat.Chat.AttachedFiles)
	}
	srv.backend.mu.Lock()
	removed := append([]string(nil), srv.backend.removed...)
	srv.backend.mu.Unlock()
	if len(removed) != 1 || removed[0] != "up-1" {
		t.Fatalf("expected backend removal of up-1, got %v", removed)
	}
}

func TestPreferencesRoundTrip(t *testing.T) {
	srv := newTestServer(t)
	authHeader := srv.signIn(t)

	get := doJSONRequest(t, srv.router, http.MethodGet, "/api/users/preferences", nil, authHeader)
	assertStatus(t, get, http.StatusOK)
	var prefs session.Preferences
	decodeJSON(t, get.Body.Bytes(), &prefs)
	if prefs.Theme != session.ThemeLight {
		t.Fatalf("expected light theme by default, got %q", prefs.Theme)
	}

	put := doJSONRequest(t, srv.router, http.MethodPut, "/api/users/preferences", session.Preferences{Theme: "dark", Pins: []string{"c1"}}, authHeader)
	assertStatus(t, put, http.StatusOK)
	get = doJSONRequest(t, srv.router, http.MethodGet, "/api/users/preferences", nil, authHeader)
	decodeJSON(t, get.Body.Bytes(), &prefs)
	if prefs.Theme != "dark" || len(prefs.Pins) != 1 {
		t.Fatalf("unexpected preferences %+v", prefs)
	}

	bad := doJSONRequest(t, srv.router, http.MethodPut, "/api/users/preferences", session.Preferences{Theme: "neon"}, authHeader)
	assertStatus(t, bad, http.StatusBadRequest)
}

func TestRoutesRequireAuth(t *testing.T) {
	srv := newTestServer(t)
	for _, path := range []string{"/api/chats", "/api/folders", "/api/data/files", "/api/users/check-user"} {
		resp := doJSONRequest(t, srv.router, http.MethodGet, path, nil, nil)
		assertStatus(t, resp, http.StatusUnauthorized)
	}
}

func TestStatusMapping(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{&backend.APIError{Status: http.StatusConflict, Detail: "dup"}, http.StatusConflict},
		{fmt.Errorf("wrap: %w", backend.ErrTransport), http.StatusBadGateway},
		{fmt.Errorf("%w: big", upload.ErrFileTooLarge), http.StatusRequestEntityTooLarge},
		{context.Canceled, http.StatusInternalServerError},
	}
	for _, tc := range cases {
		if got := statusFor(tc.err); got != tc.want {
			t.Fatalf("statusFor(%v) = %d, want %d", tc.err, got, tc.want)
		}
	}
}

func createChat(t *testing.T, srv *testServer, authHeader map[string]string) string {
	t.Helper()
	resp := doJSONRequest(t, srv.router, http.MethodPost, "/api/chats", map[string]string{"name": "analysis"}, authHeader)
	assertStatus(t, resp, http.StatusCreated)
	var body struct {
		Chat struct {
			ID string `json:"id"`
		} `json:"chat"`
	}
	decodeJSON(t, resp.Body.Bytes(), &body)
	return body.Chat.ID
}

func doJSONRequest(t *testing.T, router *gin.Engine, method, path string, body interface{}, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func doMultipart(t *testing.T, router *gin.Engine, path, chatID, name, content string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if err := mw.WriteField("chat_id", chatID); err != nil {
		t.Fatalf("write field: %v", err)
	}
	part, err := mw.CreateFormFile("file", name)
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	if _, err := part.Write([]byte(content)); err != nil {
		t.Fatalf("write file: %v", err)
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close multipart: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, path, &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

type sseEvent struct {
	Name string
	Data string
}

func parseSSE(t *testing.T, body string) []sseEvent {
	t.Helper()
	var events []sseEvent
	for _, block := range strings.Split(strings.TrimSpace(body), "\n\n") {
		var ev sseEvent
		for _, line := range strings.Split(block, "\n") {
			switch {
			case strings.HasPrefix(line, "event: "):
				ev.Name = strings.TrimPrefix(line, "event: ")
			case strings.HasPrefix(line, "data: "):
				ev.Data = strings.TrimPrefix(line, "data: ")
			}
		}
		if ev.Name != "" || ev.Data != "" {
			events = append(events, ev)
		}
	}
	return events
}

func decodeJSON(t *testing.T, data []byte, v interface{}) {
	t.Helper()
	if err := json.Unmarshal(data, v); err != nil {
		t.Fatalf("decode json: %v", err)
	}
}

func assertStatus(t *testing.T, rec *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rec.Code != want {
		t.Fatalf("unexpected status %d, body: %s", rec.Code, rec.Body.String())
	}
}
