// Package storage 定义存储层领域错误
//
// 这些错误用于隔离业务层与底层存储引擎的错误类型，
// 各驱动实现（mongostore/memstore）负责将底层错误转换为这些领域错误。
package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotFound 实体不存在（或被默认过滤条件隐藏）
	// 替代 mongo.ErrNoDocuments
	ErrNotFound = errors.New("entity not found")

	// ErrDuplicate 唯一键冲突
	ErrDuplicate = errors.New("duplicate: entity already exists")

	// ErrInvalidQuery 存储引擎拒绝了查询条件
	ErrInvalidQuery = errors.New("invalid query")

	// ErrUnavailable 存储暂不可用（超时/网络/选主失败），调用方可重试
	ErrUnavailable = errors.New("storage unavailable")
)

// DuplicateError 唯一索引冲突详情
type DuplicateError struct {
	Collection string
	Fields     []string
}

func (e *DuplicateError) Error() string {
	if len(e.Fields) == 0 {
		return fmt.Sprintf("%s: %s", ErrDuplicate.Error(), e.Collection)
	}
	return fmt.Sprintf("%s: %s (%s)", ErrDuplicate.Error(), e.Collection, strings.Join(e.Fields, ", "))
}

// Is 使 errors.Is(err, ErrDuplicate) 成立
func (e *DuplicateError) Is(target error) bool {
	return target == ErrDuplicate
}

// Unavailable 包装可重试的底层错误
func Unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrUnavailable, err)
}

// IsRetryable 判断错误是否可由调用方重试
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, ErrUnavailable) || errors.Is(err, context.DeadlineExceeded)
}
