package domain

import (
	"context"
	"fmt"

	"natours/internal/shared/crud"
	"natours/internal/shared/model"
	"natours/internal/shared/query"

	"go.mongodb.org/mongo-driver/v2/bson"
)

// ============================================================================
// Tour
// ============================================================================

// TourSchema 线路可查询字段
var TourSchema = query.Schema{
	"_id":                   query.KindObjectID,
	"name":                  query.KindString,
	"slug":                  query.KindString,
	"duration":              query.KindNumber,
	"maxGroupSize":          query.KindInt,
	"difficulty":            query.KindString,
	"ratingsAverage":        query.KindNumber,
	"ratingsQuantity":       query.KindInt,
	"price":                 query.KindNumber,
	"priceDiscount":         query.KindNumber,
	"summary":               query.KindString,
	"description":           query.KindString,
	"imageCover":            query.KindString,
	"images":                query.KindString,
	"createdAt":             query.KindTime,
	"startDates":            query.KindTime,
	"startLocation":         query.KindString,
	"startLocation.address": query.KindString,
	"locations":             query.KindString,
	"locations.day":         query.KindInt,
	"guides":                query.KindObjectID,
}

// 线路展开路径
const (
	ExpandGuides  = "guides"
	ExpandReviews = "reviews"
)

// notSecret 秘密线路对所有读写接口都不可见
var notSecret = query.Ne("secretTour", true)

func (r *Registry) tourHooks(limits query.Options) crud.Hooks[model.Tour] {
	limits.DefaultSort = []query.SortKey{{Field: "createdAt", Desc: true}}
	return crud.Hooks[model.Tour]{
		Entity:        "tour",
		Schema:        TourSchema,
		Query:         limits,
		Protected:     []string{"ratingsAverage", "ratingsQuantity"},
		DefaultFilter: []query.Predicate{notSecret},
		Prepare:       r.prepareTour,
		Validate:      func(t *model.Tour, _ bool) error { return t.Validate() },
		Expanders: map[string]crud.Expander[model.Tour]{
			ExpandGuides:  r.expandGuides,
			ExpandReviews: r.expandReviews,
		},
		DefaultExpand: []string{ExpandGuides},
		Delete:        crud.HardDelete,
	}
}

// prepareTour 规范化并确认 guides 都是活跃用户
func (r *Registry) prepareTour(ctx context.Context, t, before *model.Tour) error {
	t.Normalize(before == nil)
	if len(t.Guides) == 0 {
		return nil
	}

	found, err := r.activeUsers(ctx, t.Guides)
	if err != nil {
		return err
	}
	ve := &model.ValidationError{Entity: "tour"}
	for i, id := range t.Guides {
		if _, ok := found[id]; !ok {
			ve.Add(fmt.Sprintf("guides.%d", i), "no user found with id "+id.Hex())
		}
	}
	return ve.Err()
}

// expandGuides 把 guides 替换为导游的公开信息（响应专用）
func (r *Registry) expandGuides(ctx context.Context, tours []*model.Tour) error {
	var ids []bson.ObjectID
	for _, t := range tours {
		ids = append(ids, t.Guides...)
	}
	users, err := r.activeUsers(ctx, ids)
	if err != nil {
		return err
	}
	for _, t := range tours {
		t.GuideProfiles = make([]*model.User, 0, len(t.Guides))
		for _, id := range t.Guides {
			if u, ok := users[id]; ok {
				t.GuideProfiles = append(t.GuideProfiles, u.Profile())
			}
		}
	}
	return nil
}

// expandReviews 虚拟关联：按 tour 字段反查评论
func (r *Registry) expandReviews(ctx context.Context, tours []*model.Tour) error {
	ids := make([]any, 0, len(tours))
	byID := make(map[bson.ObjectID]*model.Tour, len(tours))
	for _, t := range tours {
		ids = append(ids, t.ID)
		byID[t.ID] = t
		t.Reviews = []*model.Review{}
	}

	page, err := r.Reviews.Find(ctx, &query.Spec{
		Filter: []query.Predicate{query.In("tour", ids...)},
		Sort:   []query.SortKey{{Field: "createdAt", Desc: true}},
	})
	if err != nil {
		return err
	}
	for _, rv := range page.Items {
		if t, ok := byID[rv.Tour]; ok {
			t.Reviews = append(t.Reviews, rv)
		}
	}
	return nil
}

// cascadeTourDelete 线路删除后删除其全部评论
func (r *Registry) cascadeTourDelete(ctx context.Context, ev crud.WriteEvent[model.Tour]) {
	if ev.Kind != crud.Deleted || ev.Before == nil {
		return
	}
	n, err := r.Reviews.DeleteMany(context.WithoutCancel(ctx), query.Eq("tour", ev.Before.ID))
	log := r.logger.WithContext(ctx).WithTourID(ev.Before.ID.Hex())
	if err != nil {
		log.WithError(err).Error("cascade delete of reviews failed")
		return
	}
	if n > 0 {
		log.Info("reviews removed with tour", "count", n)
	}
}
