package crud

import (
	"bytes"
	"encoding/json"
	"fmt"

	"natours/internal/shared/query"
)

// Patch 把客户端提供的部分字段合并到当前文档
type Patch[T any] func(doc *T) error

// JSONPatch 以 JSON 合并语义应用请求体：出现的字段覆盖，未出现的字段保持不变
//
// 未知字段被忽略；空请求体等价于空 patch。
func JSONPatch[T any](body []byte) Patch[T] {
	return func(doc *T) error {
		body = bytes.TrimSpace(body)
		if len(body) == 0 {
			return nil
		}
		if body[0] != '{' {
			return fmt.Errorf("%w: request body must be a JSON object", query.ErrBadRequest)
		}
		if err := json.Unmarshal(body, doc); err != nil {
			return fmt.Errorf("%w: invalid JSON body: %v", query.ErrBadRequest, err)
		}
		return nil
	}
}

// DecodeNew 解码创建请求体
func DecodeNew[T any](body []byte) (*T, error) {
	doc := new(T)
	if err := JSONPatch[T](body)(doc); err != nil {
		return nil, err
	}
	return doc, nil
}
