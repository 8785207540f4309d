package crud

import (
	"encoding/json"
	"reflect"
	"strings"
	"sync"
)

// ============================================================================
// 投影渲染
// ============================================================================

// Documents 按本页的投影字段渲染文档
//
// 未指定 fields 时原样返回；否则每个文档只保留 _id、请求的字段（支持 a.b 子路径）
// 以及响应专用的展开字段（bson:"-"），未读取的字段不会以零值出现在响应中。
func (p *Page[T]) Documents() ([]any, error) {
	out := make([]any, 0, len(p.Items))
	if len(p.Fields) == 0 {
		for _, doc := range p.Items {
			out = append(out, doc)
		}
		return out, nil
	}

	tree := newPathTree(p.Fields)
	tree.children["_id"] = nil
	for _, name := range virtualFields(reflect.TypeFor[T]()) {
		if _, ok := tree.children[name]; !ok {
			tree.children[name] = nil
		}
	}
	for _, doc := range p.Items {
		raw, err := json.Marshal(doc)
		if err != nil {
			return nil, err
		}
		projected, err := tree.apply(raw)
		if err != nil {
			return nil, err
		}
		out = append(out, projected)
	}
	return out, nil
}

// pathTree 投影路径树；children 为 nil 的节点表示整个值
type pathTree struct {
	children map[string]*pathTree
}

func newPathTree(fields []string) *pathTree {
	root := &pathTree{children: make(map[string]*pathTree)}
	for _, f := range fields {
		node := root
		parts := strings.Split(f, ".")
		for i, part := range parts {
			child, ok := node.children[part]
			if ok && child == nil {
				break // 祖先已整体包含
			}
			if i == len(parts)-1 {
				node.children[part] = nil
				break
			}
			if !ok {
				child = &pathTree{children: make(map[string]*pathTree)}
				node.children[part] = child
			}
			node = child
		}
	}
	return root
}

// apply 裁剪 JSON 对象；数组逐个元素裁剪，标量原样保留
func (t *pathTree) apply(raw json.RawMessage) (json.RawMessage, error) {
	trimmed := strings.TrimSpace(string(raw))
	switch {
	case strings.HasPrefix(trimmed, "["):
		var items []json.RawMessage
		if err := json.Unmarshal(raw, &items); err != nil {
			return nil, err
		}
		for i, item := range items {
			projected, err := t.apply(item)
			if err != nil {
				return nil, err
			}
			items[i] = projected
		}
		return json.Marshal(items)
	case strings.HasPrefix(trimmed, "{"):
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(raw, &obj); err != nil {
			return nil, err
		}
		out := make(map[string]json.RawMessage, len(t.children))
		for key, child := range t.children {
			v, ok := obj[key]
			if !ok {
				continue
			}
			if child == nil {
				out[key] = v
				continue
			}
			projected, err := child.apply(v)
			if err != nil {
				return nil, err
			}
			out[key] = projected
		}
		return json.Marshal(out)
	default:
		return raw, nil
	}
}

var virtualCache sync.Map // reflect.Type → []string

// virtualFields 只出现在响应中的字段（bson:"-" 且参与 JSON 编码）
func virtualFields(t reflect.Type) []string {
	if cached, ok := virtualCache.Load(t); ok {
		return cached.([]string)
	}
	var names []string
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if !f.IsExported() || f.Tag.Get("bson") != "-" {
			continue
		}
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			continue
		}
		if name == "" {
			name = f.Name
		}
		names = append(names, name)
	}
	virtualCache.Store(t, names)
	return names
}
