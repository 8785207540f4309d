package query

import (
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

var mongoOps = map[Op]string{
	OpEq:  "$eq",
	OpNe:  "$ne",
	OpGt:  "$gt",
	OpGte: "$gte",
	OpLt:  "$lt",
	OpLte: "$lte",
	OpIn:  "$in",
}

// MongoFilter 把谓词渲染为 MongoDB 过滤文档
//
// 同一字段上的多个操作符合并为一个操作符文档（price: {$gte: 100, $lt: 500}）；
// 同一字段上出现重复操作符时退化为 $and。
func MongoFilter(preds []Predicate) bson.D {
	if len(preds) == 0 {
		return bson.D{}
	}

	type entry struct {
		field string
		ops   bson.D
	}
	var order []*entry
	byField := make(map[string]*entry)
	for _, p := range preds {
		e, ok := byField[p.Field]
		if !ok {
			e = &entry{field: p.Field}
			byField[p.Field] = e
			order = append(order, e)
		}
		op := mongoOps[p.Op]
		for _, existing := range e.ops {
			if existing.Key == op {
				return andFilter(preds)
			}
		}
		e.ops = append(e.ops, bson.E{Key: op, Value: mongoValue(p)})
	}

	filter := make(bson.D, 0, len(order))
	for _, e := range order {
		if len(e.ops) == 1 && e.ops[0].Key == "$eq" {
			filter = append(filter, bson.E{Key: e.field, Value: e.ops[0].Value})
			continue
		}
		filter = append(filter, bson.E{Key: e.field, Value: e.ops})
	}
	return filter
}

func andFilter(preds []Predicate) bson.D {
	clauses := make(bson.A, 0, len(preds))
	for _, p := range preds {
		clauses = append(clauses, bson.D{{Key: p.Field, Value: bson.D{{Key: mongoOps[p.Op], Value: mongoValue(p)}}}})
	}
	return bson.D{{Key: "$and", Value: clauses}}
}

func mongoValue(p Predicate) any {
	if p.Op == OpIn {
		if vals, ok := p.Value.([]any); ok {
			return bson.A(vals)
		}
	}
	return p.Value
}

// MongoFilter 渲染 Spec 的过滤条件
func (s *Spec) MongoFilter() bson.D {
	return MongoFilter(s.Filter)
}

// MongoSort 渲染排序，末尾追加 _id 保证分页稳定
func (s *Spec) MongoSort() bson.D {
	sort := make(bson.D, 0, len(s.Sort)+1)
	hasID := false
	for _, k := range s.Sort {
		dir := 1
		if k.Desc {
			dir = -1
		}
		if k.Field == "_id" {
			hasID = true
		}
		sort = append(sort, bson.E{Key: k.Field, Value: dir})
	}
	if !hasID {
		sort = append(sort, bson.E{Key: "_id", Value: 1})
	}
	return sort
}

// MongoProjection 渲染投影：包含式或排除式
func (s *Spec) MongoProjection() bson.D {
	if len(s.Fields) > 0 {
		proj := make(bson.D, 0, len(s.Fields))
		for _, f := range s.Fields {
			proj = append(proj, bson.E{Key: f, Value: 1})
		}
		return proj
	}
	proj := make(bson.D, 0, len(s.Exclude))
	for _, f := range s.Exclude {
		proj = append(proj, bson.E{Key: f, Value: 0})
	}
	return proj
}

// FindOptions 组合排序/投影/分页为 Find 选项
func (s *Spec) FindOptions() *options.FindOptionsBuilder {
	opts := options.Find().SetSort(s.MongoSort())
	if proj := s.MongoProjection(); len(proj) > 0 {
		opts.SetProjection(proj)
	}
	if s.Limit > 0 {
		opts.SetSkip(int64(s.Skip())).SetLimit(int64(s.Limit))
	}
	return opts
}
