// Package storage 定义持久化存储层抽象接口
//
// 设计原则：依赖倒置 (DIP)
//   - 调用方只依赖接口，不知道具体实现
//   - 具体实现在子包中：mongostore/（生产）、memstore/（测试与本地开发）
//   - 初始化时通过依赖注入传入实现
package storage

import (
	"context"
	"time"

	"natours/internal/shared/model"
	"natours/internal/shared/query"

	"go.mongodb.org/mongo-driver/v2/bson"
)

// Document 可持久化实体的约束：*T 能读写自身 _id 与创建时间
type Document[T any] interface {
	*T
	DocumentID() bson.ObjectID
	SetDocumentID(bson.ObjectID)
	SetCreatedAt(at time.Time)
}

// ============================================================================
// Collection - 单实体的存储能力集合
// ============================================================================

// Update 单文档原子更新
//
// Set 中的字段被覆盖写入，Unset 中的字段被移除；__v 总是自增。
type Update struct {
	Set   bson.D
	Unset []string
}

// GroupSpec 分组统计：在 Match 过滤后按 Key 分组，统计 Value 字段
type GroupSpec struct {
	Match []query.Predicate
	Key   string
	Value string
}

// GroupStat 一组的统计结果
type GroupStat struct {
	Key   any
	Count int64
	Sum   float64
	Avg   float64
	Min   float64
	Max   float64
}

// Collection 单个实体集合的存储能力
//
// scope 为调用方附加的过滤条件（如默认过滤 secretTour != true），
// 不满足 scope 的文档按不存在处理（ErrNotFound）。
type Collection[T any] interface {
	// Name 集合名称
	Name() string

	// Insert 插入新文档；唯一索引冲突返回 *DuplicateError
	Insert(ctx context.Context, doc *T) error

	// FindByID 按 _id 查找
	FindByID(ctx context.Context, id bson.ObjectID, scope []query.Predicate) (*T, error)

	// FindByIDAndUpdate 原子更新单个文档，返回更新后的文档
	FindByIDAndUpdate(ctx context.Context, id bson.ObjectID, scope []query.Predicate, update Update) (*T, error)

	// FindByIDAndDelete 删除单个文档，返回删除前的文档
	FindByIDAndDelete(ctx context.Context, id bson.ObjectID, scope []query.Predicate) (*T, error)

	// Find 执行读取规格（过滤/排序/投影/分页）
	Find(ctx context.Context, spec *query.Spec) ([]*T, error)

	// Count 统计匹配过滤条件的文档数
	Count(ctx context.Context, filter []query.Predicate) (int64, error)

	// DeleteMany 删除匹配过滤条件的全部文档，返回删除数量
	DeleteMany(ctx context.Context, filter []query.Predicate) (int64, error)

	// Group 分组统计
	Group(ctx context.Context, spec GroupSpec) ([]GroupStat, error)
}

// ============================================================================
// TourReports - 线路报表（聚合管道）
// ============================================================================

// TourReports 线路报表；秘密线路不参与任何报表
type TourReports interface {
	// Stats ratingsAverage ≥ minRating 的线路按难度分组，按平均价格升序
	Stats(ctx context.Context, minRating float64) ([]model.TourStat, error)

	// MonthlyPlan 指定年份内每月出发的线路，按出发次数降序，最多 limit 个月
	MonthlyPlan(ctx context.Context, year, limit int) ([]model.MonthPlan, error)

	// Within 起点位于以 (lng, lat) 为圆心、radius 弧度为半径的球面圆内的线路
	Within(ctx context.Context, lng, lat, radius float64) ([]*model.Tour, error)

	// Distances 所有线路起点到 (lng, lat) 的距离（米 × multiplier），由近到远
	Distances(ctx context.Context, lng, lat, multiplier float64) ([]model.TourDistance, error)
}

// ============================================================================
// Backend - 驱动实现的组合接口
// ============================================================================

// Backend 一个存储驱动提供的全部能力
type Backend interface {
	Tours() Collection[model.Tour]
	Reviews() Collection[model.Review]
	Users() Collection[model.User]
	TourReports

	// Ping 检查存储是否可用（健康检查）
	Ping(ctx context.Context) error

	// Close 释放连接
	Close() error
}
