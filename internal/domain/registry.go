// Package domain 把三个实体装配成可用的 CRUD 执行器
//
// 实体之间的关系都在这里表达：
//   - Tour 删除时级联删除其评论
//   - Review 的写入触发所属 Tour 的评分重算
//   - Review 必须引用存在的 Tour 与活跃 User
//   - Tour 的 guides 展开为活跃 User 的公开信息
package domain

import (
	"natours/internal/rating"
	"natours/internal/shared/crud"
	"natours/internal/shared/model"
	"natours/internal/shared/query"
	"natours/internal/shared/storage"
	"natours/pkg/logging"
)

// 执行器类型别名
type (
	TourExecutor   = crud.Executor[model.Tour, *model.Tour]
	ReviewExecutor = crud.Executor[model.Review, *model.Review]
	UserExecutor   = crud.Executor[model.User, *model.User]
)

// Options 装配选项
type Options struct {
	// DefaultLimit / MaxLimit 列表接口的分页默认值与上限
	DefaultLimit int
	MaxLimit     int

	// RatingMetrics 评分重算指标，可为 nil
	RatingMetrics *rating.Metrics
}

// Registry 全部实体执行器
type Registry struct {
	Tours   *TourExecutor
	Reviews *ReviewExecutor
	Users   *UserExecutor
	Reports *Reports
	Ratings *rating.Engine

	backend storage.Backend
	logger  *logging.Logger
}

// NewRegistry 基于存储后端装配所有实体
func NewRegistry(backend storage.Backend, opts Options, logger *logging.Logger) *Registry {
	if logger == nil {
		logger = logging.Discard()
	}
	r := &Registry{
		backend: backend,
		logger:  logger.Named("domain"),
	}

	limits := query.Options{DefaultLimit: opts.DefaultLimit, MaxLimit: opts.MaxLimit}

	r.Ratings = rating.NewEngine(backend.Tours(), backend.Reviews(), logger, opts.RatingMetrics)
	r.Users = crud.New[model.User](backend.Users(), r.userHooks(limits), logger)
	r.Reviews = crud.New[model.Review](backend.Reviews(), r.reviewHooks(limits), logger)
	r.Tours = crud.New[model.Tour](backend.Tours(), r.tourHooks(limits), logger)
	r.Reports = &Reports{backend: backend, tours: r.Tours}

	r.Reviews.Observe(r.Ratings.OnReviewWrite)
	r.Tours.Observe(r.cascadeTourDelete)
	return r
}

// Backend 底层存储
func (r *Registry) Backend() storage.Backend { return r.backend }
