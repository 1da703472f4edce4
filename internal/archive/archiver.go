// archiver.go 转录序列化与归档
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"agents-runtime/internal/shared/model"
	"agents-runtime/pkg/logging"
)

// transcriptLine NDJSON 中的一行
type transcriptLine struct {
	MessageID string          `json:"message_id"`
	Type      string          `json:"type"`
	Content   json.RawMessage `json:"content"`
	CreatedAt time.Time       `json:"created_at"`
}

// Archiver 转录归档器
type Archiver struct {
	store  ObjectStore
	logger *logging.Logger
}

// NewArchiver 创建归档器
func NewArchiver(store ObjectStore, logger *logging.Logger) *Archiver {
	return &Archiver{store: store, logger: logger}
}

// TranscriptKey 归档对象的键
func TranscriptKey(threadID, summaryID string) string {
	return fmt.Sprintf("threads/%s/transcripts/%s.ndjson", threadID, summaryID)
}

// ArchiveTranscript 把一批被压缩的消息按 NDJSON 归档
//
// summaryID 是替代这批消息的摘要消息 ID，对象键由它导出，
// 因此归档天然幂等。
func (a *Archiver) ArchiveTranscript(ctx context.Context, threadID, summaryID string, messages []*model.Message) error {
	if len(messages) == 0 {
		return nil
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, msg := range messages {
		line := transcriptLine{
			MessageID: msg.ID,
			Type:      string(msg.Type),
			Content:   msg.Content,
			CreatedAt: msg.CreatedAt,
		}
		if err := enc.Encode(line); err != nil {
			return fmt.Errorf("encode transcript line: %w", err)
		}
	}

	key := TranscriptKey(threadID, summaryID)
	if err := a.store.Upload(ctx, key, &buf, int64(buf.Len()), "application/x-ndjson"); err != nil {
		return fmt.Errorf("archive transcript: %w", err)
	}

	a.logger.WithThreadID(threadID).Info("Archived compressed transcript",
		"key", key, "messages", len(messages))
	return nil
}

// ReadTranscript 读回一份归档转录
func (a *Archiver) ReadTranscript(ctx context.Context, threadID, summaryID string) ([]*model.Message, error) {
	rc, err := a.store.Download(ctx, TranscriptKey(threadID, summaryID))
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	var messages []*model.Message
	dec := json.NewDecoder(rc)
	for {
		var line transcriptLine
		if err := dec.Decode(&line); err == io.EOF {
			break
		} else if err != nil {
			return nil, fmt.Errorf("decode transcript line: %w", err)
		}
		messages = append(messages, &model.Message{
			ID:        line.MessageID,
			Type:      model.MessageType(line.Type),
			Content:   line.Content,
			CreatedAt: line.CreatedAt,
		})
	}
	return messages, nil
}
