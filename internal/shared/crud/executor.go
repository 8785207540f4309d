package crud

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"reflect"
	"slices"
	"strings"
	"time"

	"natours/internal/shared/model"
	"natours/internal/shared/query"
	"natours/internal/shared/storage"
	"natours/pkg/logging"

	"go.mongodb.org/mongo-driver/v2/bson"
)

// ============================================================================
// Executor - 泛型 CRUD
// ============================================================================

// Executor 对单个集合执行通用 CRUD
//
// P 为 *T，由 storage.Document 约束推断，调用方只需写 crud.New[model.Tour](...)。
type Executor[T any, P storage.Document[T]] struct {
	col    storage.Collection[T]
	hooks  Hooks[T]
	logger *logging.Logger
}

// New 创建执行器
func New[T any, P storage.Document[T]](col storage.Collection[T], hooks Hooks[T], logger *logging.Logger) *Executor[T, P] {
	if logger == nil {
		logger = logging.Discard()
	}
	if hooks.Entity == "" {
		hooks.Entity = col.Name()
	}
	if hooks.SoftDeleteField == "" {
		hooks.SoftDeleteField = "active"
	}
	return &Executor[T, P]{
		col:    col,
		hooks:  hooks,
		logger: logger.Named("crud." + hooks.Entity),
	}
}

// Entity 实体名
func (e *Executor[T, P]) Entity() string { return e.hooks.Entity }

// Collection 底层集合
func (e *Executor[T, P]) Collection() storage.Collection[T] { return e.col }

// Observe 追加写入观察者；必须在开始处理请求之前调用
func (e *Executor[T, P]) Observe(obs Observer[T]) {
	e.hooks.Observers = append(e.hooks.Observers, obs)
}

// Scope 默认过滤条件加上调用方条件
func (e *Executor[T, P]) Scope(extra ...query.Predicate) []query.Predicate {
	scope := make([]query.Predicate, 0, len(e.hooks.DefaultFilter)+len(extra))
	scope = append(scope, e.hooks.DefaultFilter...)
	return append(scope, extra...)
}

// ----------------------------------------------------------------------------
// Create
// ----------------------------------------------------------------------------

// CreateOne 分配 _id 与 createdAt，规范化、校验后插入
func (e *Executor[T, P]) CreateOne(ctx context.Context, doc *T) (*T, error) {
	p := P(doc)
	p.SetDocumentID(bson.NewObjectID())
	p.SetCreatedAt(model.Now())

	if err := e.prepare(ctx, doc, nil); err != nil {
		return nil, err
	}
	if err := e.col.Insert(ctx, doc); err != nil {
		return nil, err
	}
	e.logger.WithContext(ctx).Debug("document created", "id", p.DocumentID().Hex())
	e.notify(ctx, WriteEvent[T]{Kind: Created, After: doc})

	if err := e.expand(ctx, []*T{doc}, nil); err != nil {
		return nil, err
	}
	return doc, nil
}

// ----------------------------------------------------------------------------
// Read
// ----------------------------------------------------------------------------

// GetOne 按 id 读取；非法 id 与被默认过滤条件隐藏的文档都返回 storage.ErrNotFound
func (e *Executor[T, P]) GetOne(ctx context.Context, id string, expand ...string) (*T, error) {
	if err := e.checkExpand(expand); err != nil {
		return nil, err
	}
	oid, err := e.parseID(id)
	if err != nil {
		return nil, err
	}
	doc, err := e.col.FindByID(ctx, oid, e.hooks.DefaultFilter)
	if err != nil {
		return nil, err
	}
	if err := e.expand(ctx, []*T{doc}, expand); err != nil {
		return nil, err
	}
	return doc, nil
}

// GetAll 解析查询参数并执行；scope 为路由附加的条件（如 tour = :tourId）
func (e *Executor[T, P]) GetAll(ctx context.Context, params url.Values, scope ...query.Predicate) (*Page[T], error) {
	spec, err := query.Parse(params, e.hooks.Schema, e.hooks.Query, e.Scope(scope...)...)
	if err != nil {
		return nil, err
	}
	return e.Find(ctx, spec)
}

// Find 执行已构建好的读取规格；调用方负责把默认过滤条件放进 spec.Filter
func (e *Executor[T, P]) Find(ctx context.Context, spec *query.Spec) (*Page[T], error) {
	docs, err := e.col.Find(ctx, spec)
	if err != nil {
		return nil, err
	}
	total, err := e.col.Count(ctx, spec.Filter)
	if err != nil {
		return nil, err
	}
	if err := e.expand(ctx, docs, nil); err != nil {
		return nil, err
	}
	return &Page[T]{Items: docs, Total: total, Page: spec.Page, Limit: spec.Limit, Fields: spec.Fields}, nil
}

// Expand 对其他途径读取到的文档执行默认展开与 paths 展开
func (e *Executor[T, P]) Expand(ctx context.Context, docs []*T, paths ...string) error {
	if err := e.checkExpand(paths); err != nil {
		return err
	}
	return e.expand(ctx, docs, paths)
}

// ----------------------------------------------------------------------------
// Update
// ----------------------------------------------------------------------------

// UpdateOne 把 patch 合并到当前文档，整体重新规范化与校验后写回变化的字段
//
// 受保护字段保持原值；相同 patch 重复执行得到相同结果。
func (e *Executor[T, P]) UpdateOne(ctx context.Context, id string, patch Patch[T]) (*T, error) {
	oid, err := e.parseID(id)
	if err != nil {
		return nil, err
	}
	before, err := e.col.FindByID(ctx, oid, e.hooks.DefaultFilter)
	if err != nil {
		return nil, err
	}

	merged, err := clone(before)
	if err != nil {
		return nil, err
	}
	if patch != nil {
		if err := patch(merged); err != nil {
			return nil, err
		}
	}
	P(merged).SetDocumentID(oid)
	restoreProtected(merged, before, e.protected())

	if err := e.prepare(ctx, merged, before); err != nil {
		return nil, err
	}

	update, err := diff(before, merged, e.protected())
	if err != nil {
		return nil, err
	}
	after, err := e.col.FindByIDAndUpdate(ctx, oid, e.hooks.DefaultFilter, update)
	if err != nil {
		return nil, err
	}
	e.logger.WithContext(ctx).Debug("document updated",
		"id", oid.Hex(), "set", len(update.Set), "unset", len(update.Unset))
	e.notify(ctx, WriteEvent[T]{Kind: Updated, Before: before, After: after})

	if err := e.expand(ctx, []*T{after}, nil); err != nil {
		return nil, err
	}
	return after, nil
}

// ----------------------------------------------------------------------------
// Delete
// ----------------------------------------------------------------------------

// DeleteOne 按删除策略删除单个文档
func (e *Executor[T, P]) DeleteOne(ctx context.Context, id string) error {
	oid, err := e.parseID(id)
	if err != nil {
		return err
	}

	var before *T
	switch e.hooks.Delete {
	case SoftDelete:
		before, err = e.col.FindByID(ctx, oid, e.hooks.DefaultFilter)
		if err != nil {
			return err
		}
		_, err = e.col.FindByIDAndUpdate(ctx, oid, e.hooks.DefaultFilter, storage.Update{
			Set: bson.D{{Key: e.hooks.SoftDeleteField, Value: false}},
		})
	default:
		before, err = e.col.FindByIDAndDelete(ctx, oid, e.hooks.DefaultFilter)
	}
	if err != nil {
		return err
	}

	e.logger.WithContext(ctx).Debug("document deleted", "id", oid.Hex())
	e.notify(ctx, WriteEvent[T]{Kind: Deleted, Before: before})
	return nil
}

// DeleteMany 物理删除匹配 filter 的全部文档，每个文档发出一个 Deleted 事件
//
// 先读取再按 _id 删除，事件与实际删除的文档一一对应。
func (e *Executor[T, P]) DeleteMany(ctx context.Context, filter ...query.Predicate) (int64, error) {
	docs, err := e.col.Find(ctx, &query.Spec{Filter: filter})
	if err != nil {
		return 0, err
	}
	if len(docs) == 0 {
		return 0, nil
	}

	ids := make([]any, 0, len(docs))
	for _, d := range docs {
		ids = append(ids, P(d).DocumentID())
	}
	n, err := e.col.DeleteMany(ctx, []query.Predicate{query.In("_id", ids...)})
	if err != nil {
		return 0, err
	}

	e.logger.WithContext(ctx).Debug("documents deleted", "count", n)
	for _, d := range docs {
		e.notify(ctx, WriteEvent[T]{Kind: Deleted, Before: d})
	}
	return n, nil
}

// ============================================================================
// 内部辅助
// ============================================================================

func (e *Executor[T, P]) parseID(id string) (bson.ObjectID, error) {
	oid, ok := model.ParseID(id)
	if !ok {
		return bson.ObjectID{}, fmt.Errorf("%s %q: %w", e.hooks.Entity, id, storage.ErrNotFound)
	}
	return oid, nil
}

func (e *Executor[T, P]) prepare(ctx context.Context, doc, before *T) error {
	isNew := before == nil
	if e.hooks.Prepare != nil {
		if err := e.hooks.Prepare(ctx, doc, before); err != nil {
			return err
		}
	}
	if e.hooks.Validate != nil {
		if err := e.hooks.Validate(doc, isNew); err != nil {
			return err
		}
	}
	return nil
}

// protected 受保护字段总是包含 _id、__v 与 createdAt
func (e *Executor[T, P]) protected() []string {
	fields := []string{"_id", query.VersionField, "createdAt"}
	return append(fields, e.hooks.Protected...)
}

func (e *Executor[T, P]) checkExpand(paths []string) error {
	for _, path := range paths {
		if _, ok := e.hooks.Expanders[path]; !ok {
			return fmt.Errorf("%w: cannot expand %q on %s", query.ErrBadRequest, path, e.hooks.Entity)
		}
	}
	return nil
}

// expand 依次执行默认展开与额外展开，同一路径只执行一次
func (e *Executor[T, P]) expand(ctx context.Context, docs []*T, extra []string) error {
	if len(docs) == 0 {
		return nil
	}
	done := make(map[string]bool)
	for _, path := range append(slices.Clone(e.hooks.DefaultExpand), extra...) {
		if done[path] {
			continue
		}
		done[path] = true
		fn, ok := e.hooks.Expanders[path]
		if !ok {
			return fmt.Errorf("%w: cannot expand %q on %s", query.ErrBadRequest, path, e.hooks.Entity)
		}
		if err := fn(ctx, docs); err != nil {
			return fmt.Errorf("expand %s.%s: %w", e.hooks.Entity, path, err)
		}
	}
	return nil
}

// notify 同步调用观察者；观察者 panic 只记录日志
func (e *Executor[T, P]) notify(ctx context.Context, ev WriteEvent[T]) {
	for _, obs := range e.hooks.Observers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					e.logger.WithContext(ctx).Error("write observer panicked",
						"kind", ev.Kind.String(), "panic", fmt.Sprint(r))
				}
			}()
			start := time.Now()
			obs(ctx, ev)
			e.logger.WithContext(ctx).Debug("write observer finished",
				"kind", ev.Kind.String(), "duration", time.Since(start))
		}()
	}
}

// clone 通过 bson 往返得到独立副本；bson:"-" 的响应字段不会被复制
func clone[T any](doc *T) (*T, error) {
	raw, err := bson.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("clone: %w", err)
	}
	var out T
	if err := bson.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("clone: %w", err)
	}
	return &out, nil
}

// restoreProtected 把 src 中 bson 名属于 fields 的顶层字段复制到 dst
func restoreProtected[T any](dst, src *T, fields []string) {
	dv := reflect.ValueOf(dst).Elem()
	sv := reflect.ValueOf(src).Elem()
	if dv.Kind() != reflect.Struct {
		return
	}
	typ := dv.Type()
	for i := 0; i < typ.NumField(); i++ {
		f := typ.Field(i)
		if !f.IsExported() {
			continue
		}
		if slices.Contains(fields, bsonName(f)) {
			dv.Field(i).Set(sv.Field(i))
		}
	}
}

func bsonName(f reflect.StructField) string {
	tag := f.Tag.Get("bson")
	name, _, _ := strings.Cut(tag, ",")
	if name == "" {
		return strings.ToLower(f.Name)
	}
	return name
}

// diff 计算 before → after 的更新：变化或新增的字段进入 $set，消失的字段进入 $unset
func diff[T any](before, after *T, protected []string) (storage.Update, error) {
	oldRaw, err := bson.Marshal(before)
	if err != nil {
		return storage.Update{}, err
	}
	newRaw, err := bson.Marshal(after)
	if err != nil {
		return storage.Update{}, err
	}
	oldElems, err := bson.Raw(oldRaw).Elements()
	if err != nil {
		return storage.Update{}, err
	}
	newElems, err := bson.Raw(newRaw).Elements()
	if err != nil {
		return storage.Update{}, err
	}

	old := make(map[string]bson.RawValue, len(oldElems))
	for _, el := range oldElems {
		old[el.Key()] = el.Value()
	}

	var update storage.Update
	seen := make(map[string]bool, len(newElems))
	for _, el := range newElems {
		key := el.Key()
		seen[key] = true
		if slices.Contains(protected, key) {
			continue
		}
		if prev, ok := old[key]; ok && sameValue(prev, el.Value()) {
			continue
		}
		update.Set = append(update.Set, bson.E{Key: key, Value: el.Value()})
	}
	for _, el := range oldElems {
		key := el.Key()
		if seen[key] || slices.Contains(protected, key) {
			continue
		}
		update.Unset = append(update.Unset, key)
	}
	return update, nil
}

func sameValue(a, b bson.RawValue) bool {
	return a.Type == b.Type && bytes.Equal(a.Value, b.Value)
}
