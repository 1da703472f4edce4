package mongostore

import (
	"context"
	"time"

	"agents-runtime/internal/shared/model"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// ============================================================================
// ThreadStore
// ============================================================================

func (s *Store) CreateThread(ctx context.Context, thread *model.Thread) error {
	return insertDoc(ctx, s.col(ColThreads), thread)
}

func (s *Store) GetThread(ctx context.Context, id string) (*model.Thread, error) {
	return fetchOne[model.Thread](ctx, s.col(ColThreads), byID(id))
}

func (s *Store) ListThreads(ctx context.Context, limit, offset int) ([]*model.Thread, error) {
	if limit <= 0 {
		limit = 50
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "updated_at", Value: -1}}).
		SetLimit(int64(limit)).
		SetSkip(int64(offset))
	return fetchAll[model.Thread](ctx, s.col(ColThreads), bson.D{}, opts)
}

func (s *Store) UpdateThreadTitle(ctx context.Context, id string, title string) error {
	return setFields(ctx, s.col(ColThreads), id, bson.D{
		{Key: "title", Value: title},
		{Key: "updated_at", Value: time.Now()},
	})
}

func (s *Store) TouchThread(ctx context.Context, id string) error {
	return setFields(ctx, s.col(ColThreads), id, bson.D{
		{Key: "updated_at", Value: time.Now()},
	})
}

func (s *Store) DeleteThread(ctx context.Context, id string) error {
	// 级联删除该 Thread 的消息
	if _, err := s.col(ColMessages).DeleteMany(ctx, bson.D{{Key: "thread_id", Value: id}}); err != nil {
		return mapError(err)
	}
	return removeByID(ctx, s.col(ColThreads), id)
}
