// Package query 将请求参数转换为经过校验的读取规格（Spec）
//
// Spec 只描述过滤/排序/投影/分页，不执行任何 I/O；
// 由存储驱动（mongostore 渲染为 bson，memstore 直接在内存中求值）消费。
package query

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
)

// ErrBadRequest 请求参数无法被安全地转换为查询
var ErrBadRequest = errors.New("bad request")

// badRequest 构造带上下文的 ErrBadRequest
func badRequest(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrBadRequest, fmt.Sprintf(format, args...))
}

// 保留参数，不参与过滤
const (
	ParamPage   = "page"
	ParamSort   = "sort"
	ParamLimit  = "limit"
	ParamFields = "fields"
)

// VersionField 内部修订号字段，默认投影中排除
const VersionField = "__v"

// Op 谓词操作符
type Op string

const (
	OpEq  Op = "eq"
	OpNe  Op = "ne"
	OpGt  Op = "gt"
	OpGte Op = "gte"
	OpLt  Op = "lt"
	OpLte Op = "lte"
	OpIn  Op = "in"
)

// comparisonTokens 可以作为 field[token] 后缀的比较操作符
var comparisonTokens = map[string]Op{
	"gte": OpGte,
	"gt":  OpGt,
	"lte": OpLte,
	"lt":  OpLt,
}

// Predicate 单个过滤谓词；多个谓词之间为 AND 关系
type Predicate struct {
	Field string
	Op    Op
	Value any
}

// Eq 等值谓词
func Eq(field string, value any) Predicate {
	return Predicate{Field: field, Op: OpEq, Value: value}
}

// Ne 不等谓词
func Ne(field string, value any) Predicate {
	return Predicate{Field: field, Op: OpNe, Value: value}
}

// In 成员谓词
func In(field string, values ...any) Predicate {
	return Predicate{Field: field, Op: OpIn, Value: values}
}

// SortKey 排序键
type SortKey struct {
	Field string
	Desc  bool
}

// Spec 可执行的读取规格
type Spec struct {
	Filter  []Predicate
	Sort    []SortKey
	Fields  []string // 非空时为包含式投影（_id 总是保留）
	Exclude []string // Fields 为空时排除的字段
	Page    int
	Limit   int
}

// Skip 分页偏移量
func (s *Spec) Skip() int {
	if s.Page <= 1 {
		return 0
	}
	return (s.Page - 1) * s.Limit
}

// Kind 字段值类型，用于把字符串参数转换为存储中的类型
type Kind int

const (
	KindString Kind = iota
	KindNumber
	KindInt
	KindBool
	KindTime
	KindObjectID
)

// Schema 可查询字段 → 类型；未声明的字段不能出现在过滤/排序/投影中
type Schema map[string]Kind

// Cast 按字段类型转换参数值
func (k Kind) Cast(raw string) (any, error) {
	switch k {
	case KindString:
		return raw, nil
	case KindNumber:
		return strconv.ParseFloat(strings.TrimSpace(raw), 64)
	case KindInt:
		return strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	case KindBool:
		return strconv.ParseBool(strings.TrimSpace(raw))
	case KindTime:
		raw = strings.TrimSpace(raw)
		if t, err := time.Parse(time.RFC3339, raw); err == nil {
			return t.UTC(), nil
		}
		return time.Parse("2006-01-02", raw)
	case KindObjectID:
		return bson.ObjectIDFromHex(strings.TrimSpace(raw))
	}
	return nil, fmt.Errorf("unknown kind %d", k)
}

func (k Kind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindNumber:
		return "number"
	case KindInt:
		return "integer"
	case KindBool:
		return "boolean"
	case KindTime:
		return "date"
	case KindObjectID:
		return "id"
	}
	return "unknown"
}
