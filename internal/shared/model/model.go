// Package model 定义核心数据模型
//
// 三个持久化实体：
//   - Tour：旅游线路，ratingsAverage/ratingsQuantity 为评论的派生统计
//   - Review：评论，属于一个 Tour 和一个 User
//   - User：用户，密码以 bcrypt 哈希存储
//
// 所有实体都带有 _id（ObjectID）与内部修订号 __v，
// bson 字段名与 JSON 字段名一致（camelCase），查询参数直接使用这些名字。
package model

import (
	"math"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
)

// 派生评分的默认值
const (
	DefaultRatingsAverage  = 4.5
	DefaultRatingsQuantity = 0
)

// ParseID 解析十六进制 ObjectID
func ParseID(hex string) (bson.ObjectID, bool) {
	id, err := bson.ObjectIDFromHex(hex)
	if err != nil {
		return bson.NilObjectID, false
	}
	return id, true
}

// Round1 保留一位小数（4.666 → 4.7）
func Round1(v float64) float64 {
	return math.Round(v*10) / 10
}

// Now 当前时间，截断到毫秒与 BSON datetime 精度对齐
func Now() time.Time {
	return time.Now().UTC().Truncate(time.Millisecond)
}
