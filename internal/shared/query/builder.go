package query

import (
	"math"
	"net/url"
	"sort"
	"strconv"
	"strings"
)

const (
	DefaultPage  = 1
	DefaultLimit = 100
	MaxLimit     = 1000
)

// Options 每个实体的查询默认值
type Options struct {
	DefaultLimit int
	MaxLimit     int       // limit 上限，超出时截断
	DefaultSort  []SortKey // 未指定 sort 时使用，默认 -createdAt
	Hidden       []string  // 永远不可过滤/投影的字段
}

func (o Options) withDefaults() Options {
	if o.DefaultLimit <= 0 {
		o.DefaultLimit = DefaultLimit
	}
	if o.MaxLimit <= 0 {
		o.MaxLimit = MaxLimit
	}
	if o.DefaultLimit > o.MaxLimit {
		o.DefaultLimit = o.MaxLimit
	}
	if len(o.DefaultSort) == 0 {
		o.DefaultSort = []SortKey{{Field: "createdAt", Desc: true}}
	}
	return o
}

type stage int

const (
	stageNone stage = iota
	stageFilter
	stageSort
	stageProject
	stagePaginate
)

var stageNames = map[stage]string{
	stageFilter:   "filter",
	stageSort:     "sort",
	stageProject:  "fields",
	stagePaginate: "paginate",
}

// Builder 按 filter → sort → fields → paginate 的固定顺序构建 Spec
//
// 每个阶段只能调用一次、不能跳过也不能乱序；第一个错误会被保留并由 Spec() 返回。
// 投影不能影响过滤字段，分页必须发生在过滤与排序之后。
type Builder struct {
	params url.Values
	schema Schema
	opts   Options
	scope  []Predicate
	spec   Spec
	stage  stage
	err    error
}

// NewBuilder 创建构建器；scope 是调用方强制附加的过滤条件（如只取某个 tour 的评论）
func NewBuilder(params url.Values, schema Schema, opts Options, scope ...Predicate) *Builder {
	return &Builder{
		params: params,
		schema: schema,
		opts:   opts.withDefaults(),
		scope:  scope,
	}
}

// Parse 依次执行全部阶段
func Parse(params url.Values, schema Schema, opts Options, scope ...Predicate) (*Spec, error) {
	return NewBuilder(params, schema, opts, scope...).
		Filter().
		Sort().
		LimitFields().
		Paginate().
		Spec()
}

func (b *Builder) advance(next stage) bool {
	if b.err != nil {
		return false
	}
	if next != b.stage+1 {
		b.err = badRequest("query stage %q applied out of order", stageNames[next])
		return false
	}
	b.stage = next
	return true
}

// last 取保留参数的最后一个值（重复参数时后者生效）
func (b *Builder) last(key string) string {
	vals := b.params[key]
	if len(vals) == 0 {
		return ""
	}
	return strings.TrimSpace(vals[len(vals)-1])
}

func (b *Builder) hidden(field string) bool {
	for _, h := range b.opts.Hidden {
		if h == field {
			return true
		}
	}
	return false
}

func (b *Builder) lookup(field string) (Kind, error) {
	if strings.Contains(field, "$") {
		return 0, badRequest("illegal field name %q", field)
	}
	if b.hidden(field) {
		return 0, badRequest("unknown field %q", field)
	}
	kind, ok := b.schema[field]
	if !ok {
		return 0, badRequest("unknown field %q", field)
	}
	return kind, nil
}

// Filter 把非保留参数转换为谓词
//
//	difficulty=easy          → difficulty == "easy"
//	difficulty=easy&...=hard → difficulty in ["easy","hard"]
//	price[gte]=100           → price >= 100
//	startLocation[address]=x → startLocation.address == "x"
func (b *Builder) Filter() *Builder {
	if !b.advance(stageFilter) {
		return b
	}

	keys := make([]string, 0, len(b.params))
	for key := range b.params {
		switch key {
		case ParamPage, ParamSort, ParamLimit, ParamFields:
			continue
		}
		keys = append(keys, key)
	}
	// map 遍历无序，排序后谓词顺序稳定
	sort.Strings(keys)

	for _, key := range keys {
		vals := b.params[key]
		if len(vals) == 0 {
			continue
		}
		field, op := splitKey(key)
		kind, err := b.lookup(field)
		if err != nil {
			b.err = err
			return b
		}

		if op == OpEq && len(vals) > 1 {
			cast := make([]any, 0, len(vals))
			for _, raw := range vals {
				v, err := kind.Cast(raw)
				if err != nil {
					b.err = badRequest("invalid %s value %q for %q", kind, raw, field)
					return b
				}
				cast = append(cast, v)
			}
			b.spec.Filter = append(b.spec.Filter, Predicate{Field: field, Op: OpIn, Value: cast})
			continue
		}

		// 比较操作符只取最后一个值
		raw := vals[len(vals)-1]
		v, err := kind.Cast(raw)
		if err != nil {
			b.err = badRequest("invalid %s value %q for %q", kind, raw, field)
			return b
		}
		b.spec.Filter = append(b.spec.Filter, Predicate{Field: field, Op: op, Value: v})
	}

	b.spec.Filter = append(b.spec.Filter, b.scope...)
	return b
}

// splitKey 拆分 field[token]；无法识别的 token 视为嵌套字段的字面等值
func splitKey(key string) (string, Op) {
	open := strings.IndexByte(key, '[')
	if open <= 0 || !strings.HasSuffix(key, "]") {
		return key, OpEq
	}
	field := key[:open]
	token := key[open+1 : len(key)-1]
	if op, ok := comparisonTokens[token]; ok {
		return field, op
	}
	return field + "." + token, OpEq
}

// Sort 解析 sort=-price,name；缺省为 Options.DefaultSort
func (b *Builder) Sort() *Builder {
	if !b.advance(stageSort) {
		return b
	}

	raw := b.last(ParamSort)
	if raw == "" {
		b.spec.Sort = append([]SortKey(nil), b.opts.DefaultSort...)
		return b
	}

	seen := make(map[string]bool)
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		key := SortKey{Field: part}
		if strings.HasPrefix(part, "-") {
			key = SortKey{Field: strings.TrimPrefix(part, "-"), Desc: true}
		}
		if _, err := b.lookup(key.Field); err != nil {
			b.err = err
			return b
		}
		if seen[key.Field] {
			continue
		}
		seen[key.Field] = true
		b.spec.Sort = append(b.spec.Sort, key)
	}
	if len(b.spec.Sort) == 0 {
		b.spec.Sort = append([]SortKey(nil), b.opts.DefaultSort...)
	}
	return b
}

// LimitFields 解析 fields=name,price；缺省排除 __v 与隐藏字段
func (b *Builder) LimitFields() *Builder {
	if !b.advance(stageProject) {
		return b
	}

	raw := b.last(ParamFields)
	if raw != "" {
		seen := make(map[string]bool)
		for _, part := range strings.Split(raw, ",") {
			part = strings.TrimSpace(part)
			if part == "" || part == "_id" || seen[part] {
				continue
			}
			if _, err := b.lookup(part); err != nil {
				b.err = err
				return b
			}
			seen[part] = true
			b.spec.Fields = append(b.spec.Fields, part)
		}
		b.spec.Fields = dropCoveredPaths(b.spec.Fields)
	}
	if len(b.spec.Fields) == 0 {
		b.spec.Exclude = append([]string{VersionField}, b.opts.Hidden...)
	}
	return b
}

// Paginate 解析 page/limit；非法值回落到默认值，limit 截断到 MaxLimit
func (b *Builder) Paginate() *Builder {
	if !b.advance(stagePaginate) {
		return b
	}

	b.spec.Page = positiveInt(b.last(ParamPage), DefaultPage)
	b.spec.Limit = positiveInt(b.last(ParamLimit), b.opts.DefaultLimit)
	if b.spec.Limit > b.opts.MaxLimit {
		b.spec.Limit = b.opts.MaxLimit
	}
	// 偏移量 (page-1)*limit 不超过 int32，超出的页码截断为最后一个可表示的页
	if maxPage := math.MaxInt32/b.spec.Limit + 1; b.spec.Page > maxPage {
		b.spec.Page = maxPage
	}
	return b
}

// dropCoveredPaths 去掉祖先路径已被包含的子路径：startLocation 覆盖 startLocation.address
func dropCoveredPaths(fields []string) []string {
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		covered := false
		for _, other := range fields {
			if other != f && strings.HasPrefix(f, other+".") {
				covered = true
				break
			}
		}
		if !covered {
			out = append(out, f)
		}
	}
	return out
}

func positiveInt(raw string, fallback int) int {
	if raw == "" {
		return fallback
	}
	if n, err := strconv.Atoi(raw); err == nil {
		if n <= 0 {
			return fallback
		}
		return min(n, math.MaxInt32)
	}
	// "2.7" 这类数值按整数部分处理，超大数值截断到 int32
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) || f < 1 {
		return fallback
	}
	return int(min(f, math.MaxInt32))
}

// Spec 返回构建结果；尚未执行的后续阶段按默认行为补齐
func (b *Builder) Spec() (*Spec, error) {
	if b.err != nil {
		return nil, b.err
	}
	if b.stage < stageFilter {
		b.Filter()
	}
	if b.stage < stageSort {
		b.Sort()
	}
	if b.stage < stageProject {
		b.LimitFields()
	}
	if b.stage < stagePaginate {
		b.Paginate()
	}
	if b.err != nil {
		return nil, b.err
	}
	spec := b.spec
	return &spec, nil
}
