package mongostore

import (
	"context"
	"os"
	"testing"
	"time"

	"agents-runtime/internal/shared/model"
	"agents-runtime/internal/shared/storage"
)

// testStore 创建测试用 Store，使用独立数据库避免污染
func testStore(t *testing.T) *Store {
	t.Helper()

	uri := os.Getenv("MONGO_TEST_URI")
	if uri == "" {
		uri = "mongodb://localhost:27017"
	}

	dbName := "agents_runtime_test"
	s, err := NewStore(uri, dbName)
	if err != nil {
		t.Skipf("MongoDB not available: %v", err)
	}

	// 清空测试数据库
	ctx := context.Background()
	if err := s.db.Drop(ctx); err != nil {
		t.Fatalf("Failed to drop test database: %v", err)
	}
	// 重新创建索引
	if err := s.ensureIndexes(ctx); err != nil {
		t.Fatalf("Failed to create indexes: %v", err)
	}

	t.Cleanup(func() {
		s.db.Drop(context.Background())
		s.Close()
	})

	return s
}

// Compile-time interface check
var _ storage.PersistentStore = (*Store)(nil)

func TestThreadAndMessages(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)

	thread := &model.Thread{ID: "thread-001", Title: "Test", CreatedAt: now, UpdatedAt: now}
	if err := s.CreateThread(ctx, thread); err != nil {
		t.Fatalf("CreateThread failed: %v", err)
	}

	got, err := s.GetThread(ctx, thread.ID)
	if err != nil {
		t.Fatalf("GetThread failed: %v", err)
	}
	if got == nil || got.Title != "Test" {
		t.Fatalf("GetThread = %+v", got)
	}

	msg := &model.Message{
		ID:           "msg-001",
		ThreadID:     thread.ID,
		Type:         model.MessageTypeUser,
		Content:      model.NewLLMMessageContent("user", "hello"),
		IsLLMMessage: true,
		CreatedAt:    now,
	}
	if err := s.CreateMessage(ctx, msg); err != nil {
		t.Fatalf("CreateMessage failed: %v", err)
	}

	msgs, err := s.ListMessages(ctx, thread.ID, true)
	if err != nil {
		t.Fatalf("ListMessages failed: %v", err)
	}
	if len(msgs) != 1 || msgs[0].ContentText() != "hello" {
		t.Fatalf("ListMessages = %+v", msgs)
	}

	count, err := s.CountMessages(ctx, thread.ID)
	if err != nil || count != 1 {
		t.Fatalf("CountMessages = %d, %v", count, err)
	}

	// 删除 Thread 应级联删除消息
	if err := s.DeleteThread(ctx, thread.ID); err != nil {
		t.Fatalf("DeleteThread failed: %v", err)
	}
	count, _ = s.CountMessages(ctx, thread.ID)
	if count != 0 {
		t.Fatalf("messages not cascaded, count = %d", count)
	}
}

func TestRunFinalization(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)

	run := &model.Run{
		ID:        "run-001",
		ThreadID:  "thread-001",
		Status:    model.RunStatusRunning,
		StartedAt: now,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.CreateRun(ctx, run); err != nil {
		t.Fatalf("CreateRun failed: %v", err)
	}

	running, err := s.ListRunningRuns(ctx, 10)
	if err != nil || len(running) != 1 {
		t.Fatalf("ListRunningRuns = %v, %v", running, err)
	}

	if err := s.UpdateRunStatus(ctx, run.ID, model.RunStatusStopped, nil); err != nil {
		t.Fatalf("UpdateRunStatus failed: %v", err)
	}

	got, err := s.GetRun(ctx, run.ID)
	if err != nil {
		t.Fatalf("GetRun failed: %v", err)
	}
	if got.Status != model.RunStatusStopped || got.CompletedAt == nil {
		t.Fatalf("run not finalized: %+v", got)
	}

	// 已终止的 Run 不会被二次覆盖
	errMsg := "late"
	_ = s.UpdateRunStatus(ctx, run.ID, model.RunStatusFailed, &errMsg)
	got, _ = s.GetRun(ctx, run.ID)
	if got.Status != model.RunStatusStopped {
		t.Fatalf("terminal status overwritten: %+v", got)
	}
}

func TestMemories(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)

	mem := &model.Memory{
		ID:         "mem-001",
		ThreadID:   "thread-001",
		Content:    "summary of earlier conversation",
		Importance: 0.9,
		Tags:       []string{model.MemoryTagSummary},
		CreatedAt:  now,
	}
	if err := s.CreateMemory(ctx, mem); err != nil {
		t.Fatalf("CreateMemory failed: %v", err)
	}

	got, err := s.ListMemoriesByThread(ctx, "thread-001", 10)
	if err != nil || len(got) != 1 {
		t.Fatalf("ListMemoriesByThread = %v, %v", got, err)
	}
	if got[0].Importance != 0.9 {
		t.Fatalf("importance = %f", got[0].Importance)
	}
}
