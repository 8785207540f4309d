// Package crud 提供与实体无关的通用增删改查执行器
//
// 实体之间的差异只通过 Hooks 表达：可查询字段、隐藏/受保护字段、
// 默认过滤条件、写入前的规范化与校验、响应展开、删除策略以及写入观察者。
package crud

import (
	"context"

	"natours/internal/shared/query"
)

// EventKind 写入事件类型
type EventKind int

const (
	Created EventKind = iota + 1
	Updated
	Deleted
)

func (k EventKind) String() string {
	switch k {
	case Created:
		return "created"
	case Updated:
		return "updated"
	case Deleted:
		return "deleted"
	}
	return "unknown"
}

// WriteEvent 一次成功写入；Before/After 分别为写入前后的文档
//
// Created 只有 After，Deleted 只有 Before，Updated 两者都有。
type WriteEvent[T any] struct {
	Kind   EventKind
	Before *T
	After  *T
}

// Observer 在写入确认后同步调用；观察者自行处理错误，不影响写入结果
type Observer[T any] func(ctx context.Context, ev WriteEvent[T])

// Expander 为一批文档填充响应专用字段（如评论作者、线路导游）
type Expander[T any] func(ctx context.Context, docs []*T) error

// DeletePolicy 删除策略
type DeletePolicy int

const (
	// HardDelete 物理删除
	HardDelete DeletePolicy = iota
	// SoftDelete 将 SoftDeleteField 置为 false，默认过滤条件随后隐藏该文档
	SoftDelete
)

// Hooks 实体配置
type Hooks[T any] struct {
	// Entity 实体名，用于日志与错误信息
	Entity string

	// Schema 可查询字段
	Schema query.Schema

	// Query 查询默认值；Query.Hidden 中的字段不可过滤/排序/投影
	Query query.Options

	// Protected 客户端不可写入的字段（bson 名），更新时保持原值
	Protected []string

	// DefaultFilter 所有读取、更新、删除都附加的条件；不满足的文档视为不存在
	DefaultFilter []query.Predicate

	// Prepare 写入前的规范化（默认值、slug、密码哈希、引用检查）
	//
	// before 为更新前的文档，创建时为 nil。
	Prepare func(ctx context.Context, doc, before *T) error

	// Validate 校验全部规则，返回 *model.ValidationError
	Validate func(doc *T, isNew bool) error

	// Expanders 可展开的路径
	Expanders map[string]Expander[T]

	// DefaultExpand 每次读取都展开的路径
	DefaultExpand []string

	// Delete 删除策略
	Delete DeletePolicy

	// SoftDeleteField 软删除使用的布尔字段，默认 "active"
	SoftDeleteField string

	// Observers 写入观察者
	Observers []Observer[T]
}

// Page GetAll 的结果
type Page[T any] struct {
	Items []*T
	// Total 匹配过滤条件的总数（不受分页影响）
	Total int64
	Page  int
	Limit int
	// Fields 包含式投影字段，为空表示完整文档
	Fields []string
}
