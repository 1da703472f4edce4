// 上下文窗口管理测试
package runner

import (
	"context"
	"strings"
	"testing"
	"time"

	"agents-runtime/internal/shared/model"
	sqlitedriver "agents-runtime/internal/shared/storage/driver/sqlite"
	"agents-runtime/internal/shared/storage/repository"
	"agents-runtime/pkg/llm"
	"agents-runtime/pkg/logging"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newCWEnv(t *testing.T, client llm.Client, cfg ContextWindowConfig) (*ContextWindow, *repository.Store) {
	t.Helper()
	db, err := sqlitedriver.Open(":memory:")
	require.NoError(t, err)
	dialect := sqlitedriver.NewDialect()
	require.NoError(t, dialect.AutoMigrate(db))
	store := repository.NewStore(db, dialect)
	t.Cleanup(func() { store.Close() })

	logger := logging.New(logging.Config{Level: "error", Component: "cw-test"})
	return NewContextWindow(store, client, nil, cfg, logger), store
}

func seedThread(t *testing.T, store *repository.Store) string {
	t.Helper()
	id := generateID("thread")
	require.NoError(t, store.CreateThread(context.Background(), &model.Thread{
		ID: id, Title: "t", CreatedAt: time.Now(), UpdatedAt: time.Now(),
	}))
	return id
}

func addMessage(t *testing.T, store *repository.Store, threadID string, msgType model.MessageType, role, content string) {
	t.Helper()
	require.NoError(t, store.CreateMessage(context.Background(), &model.Message{
		ID:           generateID("msg"),
		ThreadID:     threadID,
		Type:         msgType,
		Content:      model.NewLLMMessageContent(role, content),
		IsLLMMessage: true,
		CreatedAt:    time.Now(),
	}))
}

// ============================================================================
// 提示词组装
// ============================================================================

func TestAssemblePromptBasic(t *testing.T) {
	cw, store := newCWEnv(t, &scriptedClient{}, ContextWindowConfig{})
	threadID := seedThread(t, store)
	addMessage(t, store, threadID, model.MessageTypeUser, "user", "question one")
	addMessage(t, store, threadID, model.MessageTypeAssistant, "assistant", "answer one")

	prompt, err := cw.AssemblePrompt(context.Background(), threadID, "you are helpful", "question two")
	require.NoError(t, err)
	require.Len(t, prompt, 4)
	assert.Equal(t, "system", prompt[0].Role)
	assert.Equal(t, "you are helpful", prompt[0].Content)
	assert.Equal(t, "question one", prompt[1].Content)
	assert.Equal(t, "answer one", prompt[2].Content)
	// 临时消息在末尾
	assert.Equal(t, "user", prompt[3].Role)
	assert.Equal(t, "question two", prompt[3].Content)
}

func TestAssemblePromptCutsAtSummary(t *testing.T) {
	cw, store := newCWEnv(t, &scriptedClient{}, ContextWindowConfig{})
	threadID := seedThread(t, store)
	addMessage(t, store, threadID, model.MessageTypeUser, "user", "old question")
	addMessage(t, store, threadID, model.MessageTypeAssistant, "assistant", "old answer")
	addMessage(t, store, threadID, model.MessageTypeSummary, "assistant", "summary of earlier talk")
	addMessage(t, store, threadID, model.MessageTypeUser, "user", "new question")

	prompt, err := cw.AssemblePrompt(context.Background(), threadID, "", "")
	require.NoError(t, err)
	// 摘要替代之前的历史：摘要 + 之后的消息
	require.Len(t, prompt, 2)
	assert.Equal(t, "summary of earlier talk", prompt[0].Content)
	assert.Equal(t, "new question", prompt[1].Content)
}

// ============================================================================
// 压缩决策
// ============================================================================

func TestSummarizeSkipsBelowThreshold(t *testing.T) {
	client := &scriptedClient{}
	cw, store := newCWEnv(t, client, ContextWindowConfig{TokenThreshold: 1000000})
	threadID := seedThread(t, store)
	for i := 0; i < 5; i++ {
		addMessage(t, store, threadID, model.MessageTypeUser, "user", "short message")
	}

	inserted, err := cw.CheckAndSummarize(context.Background(), threadID, "", "m", false)
	require.NoError(t, err)
	assert.False(t, inserted)
	assert.Equal(t, 0, client.callCount())
}

func TestSummarizeCountsSystemPromptTokens(t *testing.T) {
	client := &scriptedClient{steps: script(
		&llm.Response{Content: "compact recap", FinishReason: model.FinishReasonStop},
	)}
	cw, store := newCWEnv(t, client, ContextWindowConfig{TokenThreshold: 100})
	threadID := seedThread(t, store)
	addMessage(t, store, threadID, model.MessageTypeUser, "user", "one")
	addMessage(t, store, threadID, model.MessageTypeAssistant, "assistant", "two")
	addMessage(t, store, threadID, model.MessageTypeUser, "user", "three")

	// 消息本身不够阈值
	inserted, err := cw.CheckAndSummarize(context.Background(), threadID, "", "m", false)
	require.NoError(t, err)
	assert.False(t, inserted)
	assert.Equal(t, 0, client.callCount())

	// 大体量 system prompt 参与计量后越过阈值
	bigSystem := strings.Repeat("follow the workflow rules ", 50)
	inserted, err = cw.CheckAndSummarize(context.Background(), threadID, bigSystem, "m", false)
	require.NoError(t, err)
	assert.True(t, inserted)
}

func TestSummarizeSkipsTooFewMessages(t *testing.T) {
	client := &scriptedClient{}
	cw, store := newCWEnv(t, client, ContextWindowConfig{TokenThreshold: 1})
	threadID := seedThread(t, store)
	addMessage(t, store, threadID, model.MessageTypeUser, "user", "only one")
	addMessage(t, store, threadID, model.MessageTypeAssistant, "assistant", "and two")

	inserted, err := cw.CheckAndSummarize(context.Background(), threadID, "", "m", false)
	require.NoError(t, err)
	assert.False(t, inserted)
	assert.Equal(t, 0, client.callCount())
}

func TestSummarizeInsertsSummaryAndMemory(t *testing.T) {
	client := &scriptedClient{steps: script(
		&llm.Response{Content: "condensed history", FinishReason: model.FinishReasonStop},
	)}
	cw, store := newCWEnv(t, client, ContextWindowConfig{TokenThreshold: 1})
	threadID := seedThread(t, store)
	addMessage(t, store, threadID, model.MessageTypeUser, "user", strings.Repeat("a", 100))
	addMessage(t, store, threadID, model.MessageTypeAssistant, "assistant", strings.Repeat("b", 100))
	addMessage(t, store, threadID, model.MessageTypeUser, "user", strings.Repeat("c", 100))

	inserted, err := cw.CheckAndSummarize(context.Background(), threadID, "", "m", false)
	require.NoError(t, err)
	assert.True(t, inserted)

	msgs, err := store.ListMessages(context.Background(), threadID, true)
	require.NoError(t, err)
	require.Len(t, msgs, 4)
	last := msgs[len(msgs)-1]
	assert.Equal(t, model.MessageTypeSummary, last.Type)
	assert.Equal(t, "condensed history", last.ContentText())

	memories, err := store.ListMemoriesByThread(context.Background(), threadID, 10)
	require.NoError(t, err)
	require.Len(t, memories, 1)
	assert.Equal(t, "condensed history", memories[0].Content)
	assert.Equal(t, SummaryMemoryImportance, memories[0].Importance)
	assert.Contains(t, memories[0].Tags, model.MemoryTagSummary)
	assert.Contains(t, memories[0].Tags, model.MemoryTagContextCompression)

	// 之后的提示词以摘要开头
	prompt, err := cw.AssemblePrompt(context.Background(), threadID, "", "")
	require.NoError(t, err)
	require.Len(t, prompt, 1)
	assert.Equal(t, "condensed history", prompt[0].Content)
}

func TestSummarizeExcludesPriorSummaries(t *testing.T) {
	client := &scriptedClient{steps: script(
		&llm.Response{Content: "second summary", FinishReason: model.FinishReasonStop},
	)}
	cw, store := newCWEnv(t, client, ContextWindowConfig{TokenThreshold: 1})
	threadID := seedThread(t, store)
	addMessage(t, store, threadID, model.MessageTypeSummary, "assistant", "first summary")
	addMessage(t, store, threadID, model.MessageTypeUser, "user", "q1")
	addMessage(t, store, threadID, model.MessageTypeAssistant, "assistant", "a1")
	addMessage(t, store, threadID, model.MessageTypeUser, "user", "q2")

	inserted, err := cw.CheckAndSummarize(context.Background(), threadID, "", "m", false)
	require.NoError(t, err)
	assert.True(t, inserted)

	// 摘要请求不把旧摘要当候选
	require.Equal(t, 1, client.callCount())
	client.mu.Lock()
	req := client.requests[0]
	client.mu.Unlock()
	for _, m := range req.Messages[1:] {
		assert.NotEqual(t, "first summary", m.Content)
	}
}

func TestSummarizeModelFailureNonFatal(t *testing.T) {
	client := &scriptedClient{steps: []scriptStep{
		{err: assert.AnError},
	}}
	cw, store := newCWEnv(t, client, ContextWindowConfig{TokenThreshold: 1})
	threadID := seedThread(t, store)
	addMessage(t, store, threadID, model.MessageTypeUser, "user", "one")
	addMessage(t, store, threadID, model.MessageTypeAssistant, "assistant", "two")
	addMessage(t, store, threadID, model.MessageTypeUser, "user", "three")

	inserted, err := cw.CheckAndSummarize(context.Background(), threadID, "", "m", false)
	require.NoError(t, err)
	assert.False(t, inserted)

	// 没有落任何摘要
	msgs, err := store.ListMessages(context.Background(), threadID, true)
	require.NoError(t, err)
	assert.Len(t, msgs, 3)
}

func TestSummarizeForceBypassesThreshold(t *testing.T) {
	client := &scriptedClient{steps: script(
		&llm.Response{Content: "forced summary", FinishReason: model.FinishReasonStop},
	)}
	cw, store := newCWEnv(t, client, ContextWindowConfig{TokenThreshold: 1000000})
	threadID := seedThread(t, store)
	addMessage(t, store, threadID, model.MessageTypeUser, "user", "one")
	addMessage(t, store, threadID, model.MessageTypeAssistant, "assistant", "two")
	addMessage(t, store, threadID, model.MessageTypeUser, "user", "three")

	inserted, err := cw.CheckAndSummarize(context.Background(), threadID, "", "m", true)
	require.NoError(t, err)
	assert.True(t, inserted)
}
