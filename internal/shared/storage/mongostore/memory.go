package mongostore

import (
	"context"

	"agents-runtime/internal/shared/model"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// ============================================================================
// MemoryStore
// ============================================================================

func (s *Store) CreateMemory(ctx context.Context, memory *model.Memory) error {
	return insertDoc(ctx, s.col(ColMemories), memory)
}

func (s *Store) ListMemoriesByThread(ctx context.Context, threadID string, limit int) ([]*model.Memory, error) {
	if limit <= 0 {
		limit = 20
	}
	filter := bson.D{{Key: "thread_id", Value: threadID}}
	opts := options.Find().
		SetSort(bson.D{{Key: "importance", Value: -1}, {Key: "created_at", Value: -1}}).
		SetLimit(int64(limit))
	return fetchAll[model.Memory](ctx, s.col(ColMemories), filter, opts)
}
