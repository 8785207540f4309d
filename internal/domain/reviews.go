package domain

import (
	"context"
	"errors"

	"natours/internal/shared/crud"
	"natours/internal/shared/model"
	"natours/internal/shared/query"
	"natours/internal/shared/storage"

	"go.mongodb.org/mongo-driver/v2/bson"
)

// ============================================================================
// Review
// ============================================================================

// ReviewSchema 评论可查询字段
var ReviewSchema = query.Schema{
	"_id":       query.KindObjectID,
	"review":    query.KindString,
	"rating":    query.KindNumber,
	"createdAt": query.KindTime,
	"tour":      query.KindObjectID,
	"user":      query.KindObjectID,
}

// ExpandAuthor 评论作者展开路径
const ExpandAuthor = "author"

func (r *Registry) reviewHooks(limits query.Options) crud.Hooks[model.Review] {
	limits.DefaultSort = []query.SortKey{{Field: "createdAt", Desc: true}}
	return crud.Hooks[model.Review]{
		Entity:  "review",
		Schema:  ReviewSchema,
		Query:   limits,
		Prepare: r.prepareReview,
		Expanders: map[string]crud.Expander[model.Review]{
			ExpandAuthor: r.expandAuthor,
		},
		DefaultExpand: []string{ExpandAuthor},
		Delete:        crud.HardDelete,
	}
}

// prepareReview 校验字段规则，并在创建时以及 tour/user 变化时检查引用
//
// 引用错误与字段错误合并在同一个 ValidationError 中返回。
func (r *Registry) prepareReview(ctx context.Context, rv, before *model.Review) error {
	rv.Normalize()

	ve := &model.ValidationError{Entity: "review"}
	if err := rv.Validate(); err != nil {
		var fields *model.ValidationError
		if !errors.As(err, &fields) {
			return err
		}
		ve.Fields = append(ve.Fields, fields.Fields...)
	}
	if !rv.Tour.IsZero() && (before == nil || before.Tour != rv.Tour) {
		_, err := r.backend.Tours().FindByID(ctx, rv.Tour, nil)
		ok, err := found(err)
		if err != nil {
			return err
		}
		if !ok {
			ve.Add("tour", "no tour found with id "+rv.Tour.Hex())
		}
	}
	if !rv.User.IsZero() && (before == nil || before.User != rv.User) {
		_, err := r.backend.Users().FindByID(ctx, rv.User, []query.Predicate{isActive})
		ok, err := found(err)
		if err != nil {
			return err
		}
		if !ok {
			ve.Add("user", "no user found with id "+rv.User.Hex())
		}
	}
	return ve.Err()
}

// found 把 ErrNotFound 转成 false，其他错误原样返回
func found(err error) (bool, error) {
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

// expandAuthor 填充作者的公开信息；已停用的作者不展开
func (r *Registry) expandAuthor(ctx context.Context, reviews []*model.Review) error {
	ids := make([]bson.ObjectID, 0, len(reviews))
	for _, rv := range reviews {
		ids = append(ids, rv.User)
	}
	users, err := r.activeUsers(ctx, ids)
	if err != nil {
		return err
	}
	for _, rv := range reviews {
		if u, ok := users[rv.User]; ok {
			rv.Author = u.AsAuthor()
		}
	}
	return nil
}
