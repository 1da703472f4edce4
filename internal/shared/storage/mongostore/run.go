package mongostore

import (
	"context"
	"time"

	"agents-runtime/internal/shared/model"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// ============================================================================
// RunStore
// ============================================================================

func (s *Store) CreateRun(ctx context.Context, run *model.Run) error {
	return insertDoc(ctx, s.col(ColRuns), run)
}

func (s *Store) GetRun(ctx context.Context, id string) (*model.Run, error) {
	return fetchOne[model.Run](ctx, s.col(ColRuns), byID(id))
}

func (s *Store) ListRunsByThread(ctx context.Context, threadID string) ([]*model.Run, error) {
	filter := bson.D{{Key: "thread_id", Value: threadID}}
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}})
	return fetchAll[model.Run](ctx, s.col(ColRuns), filter, opts)
}

func (s *Store) ListRunningRuns(ctx context.Context, limit int) ([]*model.Run, error) {
	filter := bson.D{{Key: "status", Value: string(model.RunStatusRunning)}}
	opts := options.Find().SetSort(bson.D{{Key: "started_at", Value: 1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	return fetchAll[model.Run](ctx, s.col(ColRuns), filter, opts)
}

func (s *Store) ListStaleRunningRuns(ctx context.Context, threshold time.Duration) ([]*model.Run, error) {
	cutoff := time.Now().Add(-threshold)
	filter := bson.D{
		{Key: "status", Value: string(model.RunStatusRunning)},
		{Key: "started_at", Value: bson.D{{Key: "$lt", Value: cutoff}}},
	}
	opts := options.Find().SetSort(bson.D{{Key: "started_at", Value: 1}}).SetLimit(100)
	return fetchAll[model.Run](ctx, s.col(ColRuns), filter, opts)
}

// UpdateRunStatus 将 Run 置为终止状态
// 过滤条件带 status=running，已终止的 Run 不会被覆盖
func (s *Store) UpdateRunStatus(ctx context.Context, id string, status model.RunStatus, errMsg *string) error {
	now := time.Now()
	update := bson.D{
		{Key: "status", Value: string(status)},
		{Key: "completed_at", Value: now},
		{Key: "updated_at", Value: now},
	}
	if errMsg != nil {
		update = append(update, bson.E{Key: "error", Value: *errMsg})
	}
	filter := bson.D{
		{Key: "_id", Value: id},
		{Key: "status", Value: string(model.RunStatusRunning)},
	}
	_, err := s.col(ColRuns).UpdateOne(ctx, filter, bson.D{{Key: "$set", Value: update}})
	return mapError(err)
}
