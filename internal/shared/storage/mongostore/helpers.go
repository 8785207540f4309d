package mongostore

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"natours/internal/shared/storage"

	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// 服务端拒绝查询条件时返回的错误码
var invalidQueryCodes = []int{
	2,     // BadValue
	9,     // FailedToParse
	14,    // TypeMismatch
	16755, // Can't extract geo keys
	291,   // NoQueryExecutionPlans（如缺少 2dsphere 索引）
}

// wrapError 将 MongoDB 错误转换为领域错误
func wrapError(op, col string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, mongo.ErrNoDocuments) {
		return storage.ErrNotFound
	}
	if mongo.IsDuplicateKeyError(err) {
		return &storage.DuplicateError{Collection: col, Fields: duplicateFields(err)}
	}
	if mongo.IsTimeout(err) || mongo.IsNetworkError(err) ||
		errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) ||
		errors.Is(err, mongo.ErrClientDisconnected) {
		return storage.Unavailable(strings.TrimSpace(op+" "+col), err)
	}
	var se mongo.ServerError
	if errors.As(err, &se) {
		for _, code := range invalidQueryCodes {
			if se.HasErrorCode(code) {
				return fmt.Errorf("%s %s: %w: %w", op, col, storage.ErrInvalidQuery, err)
			}
		}
	}
	return fmt.Errorf("%s %s: %w", op, col, err)
}

// E11000 duplicate key error collection: natours.reviews index: tour_1_user_1 dup key: { ... }
var dupIndexRe = regexp.MustCompile(`index: (\S+) dup key`)

// duplicateFields 从错误信息中的索引名还原字段列表（tour_1_user_1 → tour, user）
func duplicateFields(err error) []string {
	m := dupIndexRe.FindStringSubmatch(err.Error())
	if m == nil {
		return nil
	}
	parts := strings.Split(m[1], "_")
	fields := make([]string, 0, len(parts)/2)
	for i := 0; i+1 < len(parts); i += 2 {
		fields = append(fields, parts[i])
	}
	return fields
}

// findMany 查找多个文档
func findMany[T any](ctx context.Context, col *mongo.Collection, filter any, opts ...options.Lister[options.FindOptions]) ([]*T, error) {
	cursor, err := col.Find(ctx, filter, opts...)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	results := []*T{}
	for cursor.Next(ctx) {
		var item T
		if err := cursor.Decode(&item); err != nil {
			return nil, err
		}
		results = append(results, &item)
	}
	if err := cursor.Err(); err != nil {
		return nil, err
	}
	return results, nil
}

// aggregate 执行聚合管道并解码全部结果
func aggregate[T any](ctx context.Context, col *mongo.Collection, pipeline mongo.Pipeline) ([]T, error) {
	cursor, err := col.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, err
	}
	results := []T{}
	if err := cursor.All(ctx, &results); err != nil {
		return nil, err
	}
	return results, nil
}
