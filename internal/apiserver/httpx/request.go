package httpx

import (
	"io"
	"net"
	"net/http"
	"strings"

	"go.mongodb.org/mongo-driver/v2/bson"

	"natours/internal/shared/storage"
)

// MaxBodyBytes 请求体上限
const MaxBodyBytes = 10 << 10

// ReadBody 读取请求体，超过 MaxBodyBytes 返回 *http.MaxBytesError
func ReadBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	if r.Body == nil {
		return nil, nil
	}
	return io.ReadAll(http.MaxBytesReader(w, r.Body, MaxBodyBytes))
}

// PathID 解析路径参数中的 ObjectID；格式不合法视为不存在
func PathID(r *http.Request, name string) (bson.ObjectID, error) {
	id, err := bson.ObjectIDFromHex(r.PathValue(name))
	if err != nil {
		return bson.ObjectID{}, storage.ErrNotFound
	}
	return id, nil
}

// ClientIP 客户端地址，优先取 X-Forwarded-For 的第一个地址
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); ip != "" {
		return ip
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
