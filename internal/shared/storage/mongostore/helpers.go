// helpers.go 集合读写小工具
//
// Store 的各实体文件只拼装 filter / update，解码循环和错误映射
// 统一收在这里。
package mongostore

import (
	"context"
	"errors"

	"agents-runtime/internal/shared/storage"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// byID 构造 _id 过滤器
func byID(id string) bson.D {
	return bson.D{{Key: "_id", Value: id}}
}

// mapError 将驱动错误映射为存储层错误
func mapError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, mongo.ErrNoDocuments):
		return storage.ErrNotFound
	case mongo.IsDuplicateKeyError(err):
		return storage.ErrDuplicate
	default:
		return err
	}
}

// fetchOne 查找单个文档，不存在时返回 (nil, nil)
func fetchOne[T any](ctx context.Context, col *mongo.Collection, filter bson.D) (*T, error) {
	var doc T
	if err := col.FindOne(ctx, filter).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		return nil, mapError(err)
	}
	return &doc, nil
}

// fetchAll 查找多个文档，无结果时返回空切片
func fetchAll[T any](ctx context.Context, col *mongo.Collection, filter bson.D, opts ...options.Lister[options.FindOptions]) ([]*T, error) {
	cursor, err := col.Find(ctx, filter, opts...)
	if err != nil {
		return nil, mapError(err)
	}
	defer cursor.Close(ctx)

	docs := []*T{}
	for cursor.Next(ctx) {
		var doc T
		if err := cursor.Decode(&doc); err != nil {
			return nil, err
		}
		docs = append(docs, &doc)
	}
	if err := cursor.Err(); err != nil {
		return nil, err
	}
	return docs, nil
}

// insertDoc 插入单个文档
func insertDoc(ctx context.Context, col *mongo.Collection, doc any) error {
	_, err := col.InsertOne(ctx, doc)
	return mapError(err)
}

// setFields 按 _id 更新指定字段，目标不存在时返回 ErrNotFound
func setFields(ctx context.Context, col *mongo.Collection, id string, fields bson.D) error {
	res, err := col.UpdateOne(ctx, byID(id), bson.D{{Key: "$set", Value: fields}})
	if err != nil {
		return mapError(err)
	}
	if res.MatchedCount == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// removeByID 按 _id 删除，目标不存在时返回 ErrNotFound
func removeByID(ctx context.Context, col *mongo.Collection, id string) error {
	res, err := col.DeleteOne(ctx, byID(id))
	if err != nil {
		return mapError(err)
	}
	if res.DeletedCount == 0 {
		return storage.ErrNotFound
	}
	return nil
}
