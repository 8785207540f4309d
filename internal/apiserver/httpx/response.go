// Package httpx HTTP 响应信封与错误映射
//
// 成功响应：{"status":"success","results":n,"data":{"data":...}}
// 失败响应：{"status":"fail"|"error","error":kind,"message":...,"errors":[...]}
package httpx

import (
	"encoding/json"
	"net/http"
)

// 响应状态
const (
	StatusSuccess = "success"
	StatusFail    = "fail"  // 4xx
	StatusError   = "error" // 5xx
)

// Envelope 成功响应
type Envelope struct {
	Status  string `json:"status"`
	Results *int   `json:"results,omitempty"`
	Total   *int64 `json:"total,omitempty"`
	Data    Data   `json:"data"`
}

// Data 数据包装
type Data struct {
	Data any `json:"data"`
}

// WriteJSON 将数据以 JSON 格式写入 HTTP 响应
func WriteJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// OK 单个对象
func OK(w http.ResponseWriter, status int, data any) {
	WriteJSON(w, status, Envelope{Status: StatusSuccess, Data: Data{Data: data}})
}

// List 列表，results 为本页条数，total 为匹配总数
func List[T any](w http.ResponseWriter, items []T, total int64) {
	if items == nil {
		items = []T{}
	}
	n := len(items)
	WriteJSON(w, http.StatusOK, Envelope{
		Status:  StatusSuccess,
		Results: &n,
		Total:   &total,
		Data:    Data{Data: items},
	})
}

// NoContent 204，无响应体
func NoContent(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNoContent)
}
