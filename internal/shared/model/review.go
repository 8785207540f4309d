package model

import (
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.mongodb.org/mongo-driver/v2/bson"
)

// Review 评论
//
// (tour, user) 唯一：同一用户对同一线路只能评论一次。
// 评论的写入会触发所属 Tour 的评分重算。
type Review struct {
	ID        bson.ObjectID `json:"_id" bson:"_id"`
	Review    string        `json:"review" bson:"review" validate:"required"`
	Rating    float64       `json:"rating" bson:"rating" validate:"required,gte=1,lte=5"`
	CreatedAt time.Time     `json:"createdAt" bson:"createdAt"`
	Tour      bson.ObjectID `json:"tour" bson:"tour"`
	User      bson.ObjectID `json:"user" bson:"user"`
	Revision  int           `json:"-" bson:"__v"`

	// Author 展开后的作者公开信息（响应专用）
	Author *Author `json:"author,omitempty" bson:"-"`
}

// Author 评论作者的公开信息
type Author struct {
	ID    bson.ObjectID `json:"_id"`
	Name  string        `json:"name"`
	Photo string        `json:"photo"`
}

func (r *Review) DocumentID() bson.ObjectID      { return r.ID }
func (r *Review) SetDocumentID(id bson.ObjectID) { r.ID = id }
func (r *Review) SetCreatedAt(at time.Time)      { r.CreatedAt = at }

// Normalize 去除首尾空白
func (r *Review) Normalize() {
	r.Review = strings.TrimSpace(r.Review)
}

// Validate 校验全部规则
func (r *Review) Validate() error {
	return check("review", r).Err()
}

func reviewRules(sl validator.StructLevel) {
	r := sl.Current().Interface().(Review)
	if r.Tour.IsZero() {
		sl.ReportError(r.Tour, "tour", "Tour", "required", "review must belong to a tour")
	}
	if r.User.IsZero() {
		sl.ReportError(r.User, "user", "User", "required", "review must belong to a user")
	}
}
