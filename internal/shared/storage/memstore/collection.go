package memstore

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"

	"natours/internal/shared/query"
	"natours/internal/shared/storage"

	"go.mongodb.org/mongo-driver/v2/bson"
)

// Collection 内存中的单实体集合，文档以 BSON 原始字节保存
//
// 读写共用一把 RWMutex；FindByIDAndUpdate / FindByIDAndDelete 在写锁内完成，
// 因此单文档操作是原子的。
type Collection[T any] struct {
	name   string
	unique [][]string

	mu    sync.RWMutex
	docs  map[bson.ObjectID]bson.Raw
	order []bson.ObjectID
}

// NewCollection 创建集合；unique 中每一项是一个唯一索引的字段列表
func NewCollection[T any](name string, unique ...[]string) *Collection[T] {
	return &Collection[T]{
		name:   name,
		unique: unique,
		docs:   make(map[bson.ObjectID]bson.Raw),
	}
}

var _ storage.Collection[struct{}] = (*Collection[struct{}])(nil)

func (c *Collection[T]) Name() string { return c.name }

func (c *Collection[T]) Insert(ctx context.Context, doc *T) error {
	if err := ctx.Err(); err != nil {
		return storage.Unavailable("insert "+c.name, err)
	}
	raw, err := bson.Marshal(doc)
	if err != nil {
		return fmt.Errorf("memstore: encode %s: %w", c.name, err)
	}
	id, ok := bson.Raw(raw).Lookup("_id").ObjectIDOK()
	if !ok || id.IsZero() {
		return fmt.Errorf("memstore: %s document has no _id", c.name)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.docs[id]; exists {
		return &storage.DuplicateError{Collection: c.name, Fields: []string{"_id"}}
	}
	if err := c.checkUnique(raw, id); err != nil {
		return err
	}
	c.docs[id] = raw
	c.order = append(c.order, id)
	return nil
}

func (c *Collection[T]) FindByID(ctx context.Context, id bson.ObjectID, scope []query.Predicate) (*T, error) {
	if err := ctx.Err(); err != nil {
		return nil, storage.Unavailable("find "+c.name, err)
	}
	c.mu.RLock()
	defer c.mu.RUnlock()

	raw, ok := c.docs[id]
	if !ok || !matches(raw, scope) {
		return nil, storage.ErrNotFound
	}
	return decode[T](raw)
}

func (c *Collection[T]) FindByIDAndUpdate(ctx context.Context, id bson.ObjectID, scope []query.Predicate, update storage.Update) (*T, error) {
	if err := ctx.Err(); err != nil {
		return nil, storage.Unavailable("update "+c.name, err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	raw, ok := c.docs[id]
	if !ok || !matches(raw, scope) {
		return nil, storage.ErrNotFound
	}

	var doc bson.D
	if err := bson.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("memstore: decode %s: %w", c.name, err)
	}
	for _, e := range update.Set {
		if e.Key == "_id" {
			continue
		}
		doc = setField(doc, e.Key, e.Value)
	}
	for _, key := range update.Unset {
		doc = unsetField(doc, key)
	}
	doc = setField(doc, query.VersionField, revision(doc)+1)

	next, err := bson.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("memstore: encode %s: %w", c.name, err)
	}
	if err := c.checkUnique(next, id); err != nil {
		return nil, err
	}
	c.docs[id] = next
	return decode[T](next)
}

func (c *Collection[T]) FindByIDAndDelete(ctx context.Context, id bson.ObjectID, scope []query.Predicate) (*T, error) {
	if err := ctx.Err(); err != nil {
		return nil, storage.Unavailable("delete "+c.name, err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	raw, ok := c.docs[id]
	if !ok || !matches(raw, scope) {
		return nil, storage.ErrNotFound
	}
	c.remove(id)
	return decode[T](raw)
}

func (c *Collection[T]) Find(ctx context.Context, spec *query.Spec) ([]*T, error) {
	if err := ctx.Err(); err != nil {
		return nil, storage.Unavailable("find "+c.name, err)
	}
	c.mu.RLock()
	matched := c.filter(spec.Filter)
	c.mu.RUnlock()

	sortDocs(matched, spec.Sort)

	if skip := spec.Skip(); skip > 0 {
		if skip >= len(matched) {
			matched = nil
		} else {
			matched = matched[skip:]
		}
	}
	if spec.Limit > 0 && len(matched) > spec.Limit {
		matched = matched[:spec.Limit]
	}

	results := make([]*T, 0, len(matched))
	for _, raw := range matched {
		projected, err := project(raw, spec.Fields, spec.Exclude)
		if err != nil {
			return nil, fmt.Errorf("memstore: project %s: %w", c.name, err)
		}
		doc, err := decode[T](projected)
		if err != nil {
			return nil, err
		}
		results = append(results, doc)
	}
	return results, nil
}

func (c *Collection[T]) Count(ctx context.Context, filter []query.Predicate) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, storage.Unavailable("count "+c.name, err)
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return int64(len(c.filter(filter))), nil
}

func (c *Collection[T]) DeleteMany(ctx context.Context, filter []query.Predicate) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, storage.Unavailable("delete "+c.name, err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	var n int64
	for _, id := range append([]bson.ObjectID(nil), c.order...) {
		if matches(c.docs[id], filter) {
			c.remove(id)
			n++
		}
	}
	return n, nil
}

func (c *Collection[T]) Group(ctx context.Context, spec storage.GroupSpec) ([]storage.GroupStat, error) {
	if err := ctx.Err(); err != nil {
		return nil, storage.Unavailable("aggregate "+c.name, err)
	}
	c.mu.RLock()
	matched := c.filter(spec.Match)
	c.mu.RUnlock()

	type acc struct {
		stat    storage.GroupStat
		numeric int64
	}
	var groups []*acc
	for _, raw := range matched {
		var key any
		if vals := values(raw, spec.Key); len(vals) > 0 {
			key = vals[0]
		}
		var g *acc
		for _, existing := range groups {
			if equal(existing.stat.Key, key) {
				g = existing
				break
			}
		}
		if g == nil {
			g = &acc{stat: storage.GroupStat{Key: key, Min: math.Inf(1), Max: math.Inf(-1)}}
			groups = append(groups, g)
		}
		g.stat.Count++
		for _, v := range values(raw, spec.Value) {
			f, ok := v.(float64)
			if !ok {
				continue
			}
			g.numeric++
			g.stat.Sum += f
			g.stat.Min = math.Min(g.stat.Min, f)
			g.stat.Max = math.Max(g.stat.Max, f)
			break
		}
	}

	out := make([]storage.GroupStat, 0, len(groups))
	for _, g := range groups {
		if g.numeric > 0 {
			g.stat.Avg = g.stat.Sum / float64(g.numeric)
		} else {
			g.stat.Min, g.stat.Max = 0, 0
		}
		out = append(out, g.stat)
	}
	return out, nil
}

// ============================================================================
// 内部辅助
// ============================================================================

// filter 按插入顺序返回匹配的文档；调用方持有读锁
func (c *Collection[T]) filter(preds []query.Predicate) []bson.Raw {
	var out []bson.Raw
	for _, id := range c.order {
		if raw := c.docs[id]; matches(raw, preds) {
			out = append(out, raw)
		}
	}
	return out
}

// remove 调用方持有写锁
func (c *Collection[T]) remove(id bson.ObjectID) {
	delete(c.docs, id)
	for i, existing := range c.order {
		if existing == id {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
}

// checkUnique 模拟唯一索引；调用方持有锁
func (c *Collection[T]) checkUnique(raw bson.Raw, self bson.ObjectID) error {
	for _, fields := range c.unique {
		key := uniqueKey(raw, fields)
		for id, other := range c.docs {
			if id == self {
				continue
			}
			if uniqueKey(other, fields) == key {
				return &storage.DuplicateError{Collection: c.name, Fields: fields}
			}
		}
	}
	return nil
}

func uniqueKey(raw bson.Raw, fields []string) string {
	parts := make([]string, 0, len(fields))
	for _, f := range fields {
		v, err := raw.LookupErr(strings.Split(f, ".")...)
		if err != nil {
			parts = append(parts, "null")
			continue
		}
		parts = append(parts, v.String())
	}
	return strings.Join(parts, "\x00")
}

func sortDocs(docs []bson.Raw, keys []query.SortKey) {
	sort.SliceStable(docs, func(i, j int) bool {
		for _, k := range keys {
			a, b := sortValue(docs[i], k.Field, k.Desc), sortValue(docs[j], k.Field, k.Desc)
			c, _ := compare(a, b)
			if c == 0 {
				continue
			}
			if k.Desc {
				return c > 0
			}
			return c < 0
		}
		// 与 MongoSort 一致：最后按 _id 升序
		a, _ := docs[i].Lookup("_id").ObjectIDOK()
		b, _ := docs[j].Lookup("_id").ObjectIDOK()
		c, _ := compare(a, b)
		return c < 0
	})
}

func decode[T any](raw bson.Raw) (*T, error) {
	var out T
	if err := bson.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("memstore: decode: %w", err)
	}
	return &out, nil
}

func revision(doc bson.D) int32 {
	for _, e := range doc {
		if e.Key != query.VersionField {
			continue
		}
		switch v := e.Value.(type) {
		case int32:
			return v
		case int64:
			return int32(v)
		case float64:
			return int32(v)
		}
	}
	return 0
}

func setField(doc bson.D, key string, value any) bson.D {
	for i := range doc {
		if doc[i].Key == key {
			doc[i].Value = value
			return doc
		}
	}
	return append(doc, bson.E{Key: key, Value: value})
}

func unsetField(doc bson.D, key string) bson.D {
	for i := range doc {
		if doc[i].Key == key {
			return append(doc[:i], doc[i+1:]...)
		}
	}
	return doc
}

// ============================================================================
// 投影
// ============================================================================

// project 包含式（fields）或排除式（exclude）投影，支持点号路径
func project(raw bson.Raw, fields, exclude []string) (bson.Raw, error) {
	if len(fields) == 0 && len(exclude) == 0 {
		return raw, nil
	}
	var doc bson.D
	if err := bson.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}
	if len(fields) > 0 {
		doc = include(doc, splitPaths(fields), true)
	} else {
		doc = drop(doc, splitPaths(exclude))
	}
	return bson.Marshal(doc)
}

func splitPaths(fields []string) [][]string {
	out := make([][]string, 0, len(fields))
	for _, f := range fields {
		out = append(out, strings.Split(f, "."))
	}
	return out
}

func include(doc bson.D, paths [][]string, root bool) bson.D {
	out := bson.D{}
	for _, e := range doc {
		if root && e.Key == "_id" {
			out = append(out, e)
			continue
		}
		var rest [][]string
		whole := false
		for _, p := range paths {
			if p[0] != e.Key {
				continue
			}
			if len(p) == 1 {
				whole = true
				break
			}
			rest = append(rest, p[1:])
		}
		switch {
		case whole:
			out = append(out, e)
		case len(rest) > 0:
			if v, ok := projectNested(e.Value, rest, include); ok {
				out = append(out, bson.E{Key: e.Key, Value: v})
			}
		}
	}
	return out
}

func drop(doc bson.D, paths [][]string) bson.D {
	out := bson.D{}
	for _, e := range doc {
		var rest [][]string
		whole := false
		for _, p := range paths {
			if p[0] != e.Key {
				continue
			}
			if len(p) == 1 {
				whole = true
				break
			}
			rest = append(rest, p[1:])
		}
		switch {
		case whole:
		case len(rest) > 0:
			if v, ok := projectNested(e.Value, rest, func(d bson.D, p [][]string, _ bool) bson.D { return drop(d, p) }); ok {
				out = append(out, bson.E{Key: e.Key, Value: v})
			}
		default:
			out = append(out, e)
		}
	}
	return out
}

func projectNested(v any, paths [][]string, fn func(bson.D, [][]string, bool) bson.D) (any, bool) {
	switch x := v.(type) {
	case bson.D:
		return fn(x, paths, false), true
	case bson.A:
		out := make(bson.A, 0, len(x))
		for _, item := range x {
			if d, ok := item.(bson.D); ok {
				out = append(out, fn(d, paths, false))
			}
		}
		return out, true
	}
	return nil, false
}
