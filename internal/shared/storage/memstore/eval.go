package memstore

import (
	"bytes"
	"strings"
	"time"

	"natours/internal/shared/query"

	"go.mongodb.org/mongo-driver/v2/bson"
)

// ============================================================================
// 字段取值
// ============================================================================

// values 取出 path 上的全部值；路径经过数组时展开每个元素，数组值本身也展开
func values(doc bson.Raw, path string) []any {
	return resolve(bson.RawValue{Type: bson.TypeEmbeddedDocument, Value: doc}, strings.Split(path, "."))
}

func resolve(rv bson.RawValue, parts []string) []any {
	if len(parts) == 0 {
		if arr, ok := rv.ArrayOK(); ok {
			elems, err := arr.Values()
			if err != nil {
				return nil
			}
			out := make([]any, 0, len(elems))
			for _, e := range elems {
				out = append(out, native(e))
			}
			return out
		}
		return []any{native(rv)}
	}

	switch rv.Type {
	case bson.TypeEmbeddedDocument:
		child, err := rv.Document().LookupErr(parts[0])
		if err != nil {
			return nil
		}
		return resolve(child, parts[1:])
	case bson.TypeArray:
		elems, err := rv.Array().Values()
		if err != nil {
			return nil
		}
		var out []any
		for _, e := range elems {
			out = append(out, resolve(e, parts)...)
		}
		return out
	}
	return nil
}

// native 把 RawValue 转换为可比较的 Go 值；数值统一为 float64
func native(rv bson.RawValue) any {
	switch rv.Type {
	case bson.TypeDouble:
		return rv.Double()
	case bson.TypeInt32:
		return float64(rv.Int32())
	case bson.TypeInt64:
		return float64(rv.Int64())
	case bson.TypeString:
		return rv.StringValue()
	case bson.TypeBoolean:
		return rv.Boolean()
	case bson.TypeDateTime:
		return rv.Time().UTC()
	case bson.TypeObjectID:
		return rv.ObjectID()
	case bson.TypeNull, bson.TypeUndefined:
		return nil
	case bson.TypeEmbeddedDocument:
		return rv.Document()
	case bson.TypeArray:
		return rv.Array()
	}
	return rv
}

// normalize 把谓词参数转换为与 native 相同的表示
func normalize(v any) any {
	switch x := v.(type) {
	case int:
		return float64(x)
	case int32:
		return float64(x)
	case int64:
		return float64(x)
	case float32:
		return float64(x)
	case time.Time:
		return x.UTC().Truncate(time.Millisecond)
	}
	return v
}

// ============================================================================
// 比较
// ============================================================================

// typeRank 跨类型排序顺序（与 MongoDB 的 BSON 比较顺序一致）
func typeRank(v any) int {
	switch v.(type) {
	case nil:
		return 1
	case float64:
		return 2
	case string:
		return 3
	case bson.Raw:
		return 4
	case bson.RawArray:
		return 5
	case bson.ObjectID:
		return 7
	case bool:
		return 8
	case time.Time:
		return 9
	}
	return 10
}

// compare 比较两个值；类型不同时按 typeRank 排序，ok 表示二者同类型
func compare(a, b any) (cmp int, ok bool) {
	ra, rb := typeRank(a), typeRank(b)
	if ra != rb {
		if ra < rb {
			return -1, false
		}
		return 1, false
	}
	switch x := a.(type) {
	case nil:
		return 0, true
	case float64:
		y := b.(float64)
		switch {
		case x < y:
			return -1, true
		case x > y:
			return 1, true
		}
		return 0, true
	case string:
		return strings.Compare(x, b.(string)), true
	case bool:
		y := b.(bool)
		switch {
		case x == y:
			return 0, true
		case !x:
			return -1, true
		}
		return 1, true
	case time.Time:
		return x.Compare(b.(time.Time)), true
	case bson.ObjectID:
		y := b.(bson.ObjectID)
		return bytes.Compare(x[:], y[:]), true
	case bson.Raw:
		return bytes.Compare(x, b.(bson.Raw)), true
	case bson.RawArray:
		return bytes.Compare(x, b.(bson.RawArray)), true
	}
	return 0, false
}

func equal(a, b any) bool {
	c, ok := compare(a, b)
	return ok && c == 0
}

// ============================================================================
// 谓词求值
// ============================================================================

// matches 所有谓词同时满足
func matches(doc bson.Raw, preds []query.Predicate) bool {
	for _, p := range preds {
		if !matchOne(doc, p) {
			return false
		}
	}
	return true
}

func matchOne(doc bson.Raw, p query.Predicate) bool {
	vals := values(doc, p.Field)
	switch p.Op {
	case query.OpEq:
		return containsEqual(vals, normalize(p.Value))
	case query.OpNe:
		return !containsEqual(vals, normalize(p.Value))
	case query.OpIn:
		candidates, _ := p.Value.([]any)
		for _, c := range candidates {
			if containsEqual(vals, normalize(c)) {
				return true
			}
		}
		return false
	case query.OpGt, query.OpGte, query.OpLt, query.OpLte:
		want := normalize(p.Value)
		for _, v := range vals {
			c, ok := compare(v, want)
			if !ok {
				continue
			}
			switch p.Op {
			case query.OpGt:
				if c > 0 {
					return true
				}
			case query.OpGte:
				if c >= 0 {
					return true
				}
			case query.OpLt:
				if c < 0 {
					return true
				}
			case query.OpLte:
				if c <= 0 {
					return true
				}
			}
		}
	}
	return false
}

// containsEqual 缺失字段等同于 null
func containsEqual(vals []any, want any) bool {
	if len(vals) == 0 {
		return want == nil
	}
	for _, v := range vals {
		if equal(v, want) {
			return true
		}
	}
	return false
}

// sortValue 排序使用的值：升序取最小值、降序取最大值，缺失为 null
func sortValue(doc bson.Raw, field string, desc bool) any {
	vals := values(doc, field)
	if len(vals) == 0 {
		return nil
	}
	best := vals[0]
	for _, v := range vals[1:] {
		c, _ := compare(v, best)
		if (!desc && c < 0) || (desc && c > 0) {
			best = v
		}
	}
	return best
}
