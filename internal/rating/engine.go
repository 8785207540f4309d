// Package rating 维护 Tour 上由评论派生的评分字段
//
// ratingsQuantity / ratingsAverage 是评论集合的聚合缓存：每次评论写入确认后，
// 对受影响的线路重新分组统计并整体覆盖写回。并发重算按最后写入者生效。
package rating

import (
	"context"
	"errors"
	"time"

	"natours/internal/shared/crud"
	"natours/internal/shared/model"
	"natours/internal/shared/query"
	"natours/internal/shared/storage"
	"natours/pkg/logging"

	"go.mongodb.org/mongo-driver/v2/bson"
)

// 重算结果，用作指标标签
const (
	OutcomeUpdated  = "updated"
	OutcomeVanished = "vanished"
	OutcomeFailed   = "failed"
)

// Engine 评分重算引擎
type Engine struct {
	tours   storage.Collection[model.Tour]
	reviews storage.Collection[model.Review]
	logger  *logging.Logger
	metrics *Metrics
}

// NewEngine 创建引擎；metrics 可为 nil
func NewEngine(tours storage.Collection[model.Tour], reviews storage.Collection[model.Review], logger *logging.Logger, metrics *Metrics) *Engine {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Engine{
		tours:   tours,
		reviews: reviews,
		logger:  logger.Named("rating"),
		metrics: metrics,
	}
}

// Recalculate 按当前评论重算线路评分
//
// 没有评论时写回 (0, 4.5)；线路已不存在时什么也不做。
func (e *Engine) Recalculate(ctx context.Context, tourID bson.ObjectID) error {
	start := time.Now()
	outcome, err := e.recalculate(ctx, tourID)
	e.metrics.observe(outcome, time.Since(start))
	return err
}

func (e *Engine) recalculate(ctx context.Context, tourID bson.ObjectID) (string, error) {
	stats, err := e.reviews.Group(ctx, storage.GroupSpec{
		Match: []query.Predicate{query.Eq("tour", tourID)},
		Key:   "tour",
		Value: "rating",
	})
	if err != nil {
		return OutcomeFailed, err
	}

	quantity, average := model.DefaultRatingsQuantity, model.DefaultRatingsAverage
	if len(stats) > 0 && stats[0].Count > 0 {
		quantity = int(stats[0].Count)
		average = model.Round1(stats[0].Avg)
	}

	// 秘密线路同样需要维护评分，这里不附加任何 scope
	_, err = e.tours.FindByIDAndUpdate(ctx, tourID, nil, storage.Update{
		Set: bson.D{
			{Key: "ratingsQuantity", Value: quantity},
			{Key: "ratingsAverage", Value: average},
		},
	})
	if errors.Is(err, storage.ErrNotFound) {
		return OutcomeVanished, nil
	}
	if err != nil {
		return OutcomeFailed, err
	}

	e.logger.WithContext(ctx).WithTourID(tourID.Hex()).Debug("ratings recalculated",
		"quantity", quantity, "average", average)
	return OutcomeUpdated, nil
}

// OnReviewWrite 评论写入观察者
//
// 写入前后的所属线路都会被重算，评论在线路之间移动时两边都保持一致。
// 重算失败只记录日志，不影响已经确认的评论写入。
func (e *Engine) OnReviewWrite(ctx context.Context, ev crud.WriteEvent[model.Review]) {
	// 评论已写入；即使请求被取消也要完成重算
	ctx = context.WithoutCancel(ctx)

	for _, id := range touchedTours(ev) {
		if err := e.Recalculate(ctx, id); err != nil {
			e.logger.WithContext(ctx).WithTourID(id.Hex()).WithError(err).
				Error("ratings recalculation failed", "event", ev.Kind.String())
		}
	}
}

// touchedTours 事件涉及的线路，去重且保持顺序
func touchedTours(ev crud.WriteEvent[model.Review]) []bson.ObjectID {
	var ids []bson.ObjectID
	add := func(r *model.Review) {
		if r == nil || r.Tour.IsZero() {
			return
		}
		for _, id := range ids {
			if id == r.Tour {
				return
			}
		}
		ids = append(ids, r.Tour)
	}
	add(ev.Before)
	add(ev.After)
	return ids
}
