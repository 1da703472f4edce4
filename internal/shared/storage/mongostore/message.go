package mongostore

import (
	"context"

	"agents-runtime/internal/shared/model"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// ============================================================================
// MessageStore
// ============================================================================

// mongoMessage 消息的 BSON 映射
// json.RawMessage 在 BSON 中以字符串存储，避免嵌套文档的字段名限制
type mongoMessage struct {
	ID           string        `bson:"_id"`
	ThreadID     string        `bson:"thread_id"`
	Type         string        `bson:"type"`
	Content      string        `bson:"content"`
	IsLLMMessage bool          `bson:"is_llm_message"`
	CreatedAt    bson.DateTime `bson:"created_at"`
}

func toMongoMessage(m *model.Message) *mongoMessage {
	return &mongoMessage{
		ID:           m.ID,
		ThreadID:     m.ThreadID,
		Type:         string(m.Type),
		Content:      string(m.Content),
		IsLLMMessage: m.IsLLMMessage,
		CreatedAt:    bson.NewDateTimeFromTime(m.CreatedAt),
	}
}

func fromMongoMessage(m *mongoMessage) *model.Message {
	return &model.Message{
		ID:           m.ID,
		ThreadID:     m.ThreadID,
		Type:         model.MessageType(m.Type),
		Content:      []byte(m.Content),
		IsLLMMessage: m.IsLLMMessage,
		CreatedAt:    m.CreatedAt.Time(),
	}
}

func (s *Store) CreateMessage(ctx context.Context, msg *model.Message) error {
	return insertDoc(ctx, s.col(ColMessages), toMongoMessage(msg))
}

func (s *Store) GetMessage(ctx context.Context, id string) (*model.Message, error) {
	doc, err := fetchOne[mongoMessage](ctx, s.col(ColMessages), byID(id))
	if err != nil || doc == nil {
		return nil, err
	}
	return fromMongoMessage(doc), nil
}

func (s *Store) ListMessages(ctx context.Context, threadID string, llmOnly bool) ([]*model.Message, error) {
	filter := bson.D{{Key: "thread_id", Value: threadID}}
	if llmOnly {
		filter = append(filter, bson.E{Key: "is_llm_message", Value: true})
	}
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}})
	docs, err := fetchAll[mongoMessage](ctx, s.col(ColMessages), filter, opts)
	if err != nil {
		return nil, err
	}
	msgs := make([]*model.Message, 0, len(docs))
	for _, d := range docs {
		msgs = append(msgs, fromMongoMessage(d))
	}
	return msgs, nil
}

func (s *Store) CountMessages(ctx context.Context, threadID string) (int, error) {
	count, err := s.col(ColMessages).CountDocuments(ctx, bson.D{{Key: "thread_id", Value: threadID}})
	if err != nil {
		return 0, mapError(err)
	}
	return int(count), nil
}
