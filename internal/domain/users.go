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
// User
// ============================================================================

// UserSchema 用户可查询字段
var UserSchema = query.Schema{
	"_id":       query.KindObjectID,
	"name":      query.KindString,
	"email":     query.KindString,
	"photo":     query.KindString,
	"role":      query.KindString,
	"createdAt": query.KindTime,
}

// userHidden 永不可查询或投影的字段
var userHidden = []string{"password", "passwordChangedAt", "passwordResetToken", "passwordResetExpires", "active"}

// isActive 已停用用户对所有接口都不可见
var isActive = query.Ne("active", false)

// ErrPasswordUpdate 通用更新接口不能修改密码
var ErrPasswordUpdate = fmt.Errorf("%w: this route is not for password updates", query.ErrBadRequest)

func (r *Registry) userHooks(limits query.Options) crud.Hooks[model.User] {
	limits.Hidden = userHidden
	limits.DefaultSort = []query.SortKey{{Field: "name"}}
	return crud.Hooks[model.User]{
		Entity:        "user",
		Schema:        UserSchema,
		Query:         limits,
		Protected:     userHidden,
		DefaultFilter: []query.Predicate{isActive},
		Prepare:       prepareUser,
		Delete:        crud.SoftDelete,
	}
}

// prepareUser 校验在哈希之前完成，密码规则需要看到明文
func prepareUser(_ context.Context, u, before *model.User) error {
	isNew := before == nil
	if !isNew && (u.Password != "" || u.PasswordConfirm != "") {
		return ErrPasswordUpdate
	}
	u.Normalize(isNew)
	if err := u.Validate(isNew); err != nil {
		return err
	}
	return u.HashPassword()
}

// activeUsers 按 id 批量读取活跃用户
func (r *Registry) activeUsers(ctx context.Context, ids []bson.ObjectID) (map[bson.ObjectID]*model.User, error) {
	out := make(map[bson.ObjectID]*model.User, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	values := make([]any, 0, len(ids))
	for _, id := range ids {
		values = append(values, id)
	}
	users, err := r.backend.Users().Find(ctx, &query.Spec{
		Filter: []query.Predicate{query.In("_id", values...), isActive},
	})
	if err != nil {
		return nil, err
	}
	for _, u := range users {
		out[u.ID] = u
	}
	return out, nil
}
