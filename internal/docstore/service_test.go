package docstore

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"ureka/internal/config"
	"ureka/internal/models"
	"ureka/internal/storage"
)

func TestChatMessageLifecycle(t *testing.T) {
	db := openTestDB(t)
	defer db.Close()
	svc := NewService(db, "sqlite3")
	ctx := context.Background()

	chat := &models.Chat{ID: "c1", Name: "Revenue"}
	if err := svc.CreateChat(ctx, "u1", chat); err != nil {
		t.Fatalf("create chat: %v", err)
	}
	msg := &models.Message{ID: "m1", Type: models.MessageUser, Content: "Analyze revenue trends"}
	if err := svc.AddMessage(ctx, "u1", "c1", msg); err != nil {
		t.Fatalf("add message: %v", err)
	}
	reply := &models.Message{
		ID:           "m2",
		Type:         models.MessageAI,
		Content:      "Revenue grew 12%",
		Timestamp:    msg.Timestamp.Add(time.Millisecond),
		AnalysisData: []byte(`{"growth":12}`),
		Attachments:  []models.AttachedFile{{ID: "f1", Name: "q3.csv"}},
	}
	if err := svc.AddMessage(ctx, "u1", "c1", reply); err != nil {
		t.Fatalf("add reply: %v", err)
	}
	if err := svc.AddMessage(ctx, "u1", "c1", &models.Message{ID: "t", Type: models.MessageThinking}); err == nil {
		t.Fatalf("thinking messages must not persist")
	}

	messages, err := svc.ListMessages(ctx, "u1", "c1")
	if err != nil {
		t.Fatalf("list messages: %v", err)
	}
	if len(messages) != 2 || messages[0].ID != "m1" || messages[1].ID != "m2" {
		t.Fatalf("unexpected messages: %+v", messages)
	}
	if string(messages[1].AnalysisData) != `{"growth":12}` || len(messages[1].Attachments) != 1 {
		t.Fatalf("reply fields not round-tripped: %+v", messages[1])
	}

	if err := svc.UpdateMessage(ctx, "u1", "c1", "m1", "edited"); err != nil {
		t.Fatalf("update message: %v", err)
	}
	if err := svc.UpdateMessage(ctx, "u2", "c1", "m1", "hijack"); !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("expected ErrNoRows for foreign user, got %v", err)
	}
	if err := svc.DeleteMessage(ctx, "u1", "c1", "m2"); err != nil {
		t.Fatalf("delete message: %v", err)
	}

	name := "Renamed"
	if err := svc.UpdateChat(ctx, "u1", "c1", models.ChatUpdate{Name: &name}); err != nil {
		t.Fatalf("update chat: %v", err)
	}
	chats, err := svc.ListChats(ctx, "u1")
	if err != nil {
		t.Fatalf("list chats: %v", err)
	}
	if len(chats) != 1 || chats[0].Name != "Renamed" {
		t.Fatalf("unexpected chats: %+v", chats)
	}

	if err := svc.DeleteChat(ctx, "u1", "c1"); err != nil {
		t.Fatalf("delete chat: %v", err)
	}
	if err := svc.DeleteChat(ctx, "u1", "c1"); !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("expected ErrNoRows on second delete, got %v", err)
	}
	var count int
	if err := db.QueryRow(`SELECT COUNT(*) FROM messages WHERE chat_id = 'c1'`).Scan(&count); err != nil {
		t.Fatalf("count messages: %v", err)
	}
	if count != 0 {
		t.Fatalf("messages survived chat deletion")
	}
}

func TestAttachmentsAndFiles(t *testing.T) {
	db := openTestDB(t)
	defer db.Close()
	svc := NewService(db, "sqlite3")
	ctx := context.Background()

	if err := svc.CreateChat(ctx, "u1", &models.Chat{ID: "c1", Name: "a"}); err != nil {
		t.Fatalf("create chat: %v", err)
	}
	file := &models.UploadedFile{ID: "f1", Name: "sales.csv", Size: 42, Type: "text/csv", UploadID: "up-1", Extension: "csv", Status: models.StatusCompleted}
	if err := svc.SaveFile(ctx, "u1", file); err != nil {
		t.Fatalf("save file: %v", err)
	}
	att := file.AsAttached()
	if err := svc.AttachFile(ctx, "u1", "c1", &att); err != nil {
		t.Fatalf("attach: %v", err)
	}
	if err := svc.AttachFile(ctx, "u1", "c1", &att); err != nil {
		t.Fatalf("second attach should be a no-op: %v", err)
	}
	if err := svc.AttachFile(ctx, "u1", "missing", &att); !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("expected ErrNoRows for unknown chat, got %v", err)
	}
	attached, err := svc.ListAttachedFiles(ctx, "u1", "c1")
	if err != nil {
		t.Fatalf("list attached: %v", err)
	}
	if len(attached) != 1 || attached[0].UploadID != "up-1" {
		t.Fatalf("unexpected attachments: %+v", attached)
	}
	if err := svc.DetachFile(ctx, "u1", "c1", "f1"); err != nil {
		t.Fatalf("detach: %v", err)
	}
	files, err := svc.ListFiles(ctx, "u1")
	if err != nil || len(files) != 1 || files[0].Status != models.StatusCompleted {
		t.Fatalf("unexpected files: %+v err=%v", files, err)
	}
	if err := svc.AttachFile(ctx, "u1", "c1", &att); err != nil {
		t.Fatalf("reattach: %v", err)
	}
	if err := svc.DeleteFile(ctx, "u1", "f1"); err != nil {
		t.Fatalf("delete file: %v", err)
	}
	if attached, _ := svc.ListAttachedFiles(ctx, "u1", "c1"); len(attached) != 0 {
		t.Fatalf("expected links removed with file, got %+v", attached)
	}
	if err := svc.DeleteFile(ctx, "u1", "f1"); !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("expected ErrNoRows deleting twice, got %v", err)
	}
}

func TestDeleteFolderReleasesChats(t *testing.T) {
	db := openTestDB(t)
	defer db.Close()
	svc := NewService(db, "sqlite3")
	ctx := context.Background()

	if err := svc.CreateFolder(ctx, "u1", &models.Folder{ID: "d1", Name: " Reports "}); err != nil {
		t.Fatalf("create folder: %v", err)
	}
	if err := svc.CreateChat(ctx, "u1", &models.Chat{ID: "c1", Name: "a", FolderID: "d1"}); err != nil {
		t.Fatalf("create chat: %v", err)
	}
	if err := svc.RenameFolder(ctx, "u1", "d1", "Q3"); err != nil {
		t.Fatalf("rename: %v", err)
	}
	folders, err := svc.ListFolders(ctx, "u1")
	if err != nil || len(folders) != 1 || folders[0].Name != "Q3" {
		t.Fatalf("unexpected folders: %+v err=%v", folders, err)
	}
	if err := svc.DeleteFolder(ctx, "u1", "d1"); err != nil {
		t.Fatalf("delete folder: %v", err)
	}
	chats, err := svc.ListChats(ctx, "u1")
	if err != nil {
		t.Fatalf("list chats: %v", err)
	}
	if len(chats) != 1 || chats[0].FolderID != "" {
		t.Fatalf("chat still references deleted folder: %+v", chats)
	}
}

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	cfg := &config.Config{
		Databases: map[string]config.DatabaseConfig{
			"sqlite3": {DSN: ":memory:"},
		},
	}
	db, err := storage.Open("sqlite3", cfg)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := storage.Migrate(db, "sqlite3"); err != nil {
		t.Fatalf("migrate db: %v", err)
	}
	return db
}
