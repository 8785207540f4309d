package httpx

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"natours/internal/shared/model"
	"natours/internal/shared/query"
	"natours/internal/shared/storage"
	"natours/pkg/logging"
)

func TestClassify(t *testing.T) {
	ve := &model.ValidationError{Entity: "tour"}
	ve.Add("name", "is required")

	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"validation", fmt.Errorf("create: %w", ve), http.StatusBadRequest, CodeValidation},
		{"not found", fmt.Errorf("get: %w", storage.ErrNotFound), http.StatusNotFound, CodeNotFound},
		{"duplicate", &storage.DuplicateError{Collection: "tours", Fields: []string{"name"}}, http.StatusConflict, CodeConflict},
		{"bad request", fmt.Errorf("%w: unknown field", query.ErrBadRequest), http.StatusBadRequest, CodeBadRequest},
		{"invalid query", storage.ErrInvalidQuery, http.StatusBadRequest, CodeBadRequest},
		{"unavailable", storage.Unavailable("find", errors.New("socket closed")), http.StatusServiceUnavailable, CodeUnavailable},
		{"deadline", context.DeadlineExceeded, http.StatusServiceUnavailable, CodeUnavailable},
		{"explicit", Forbidden("nope"), http.StatusForbidden, CodeForbidden},
		{"unknown", errors.New("boom"), http.StatusInternalServerError, CodeInternal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			he := Classify(tt.err)
			assert.Equal(t, tt.status, he.Status)
			assert.Equal(t, tt.code, he.Code)
		})
	}
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestWriteErrorValidation(t *testing.T) {
	ve := &model.ValidationError{Entity: "tour"}
	ve.Add("name", "is required")
	ve.Add("price", "must be greater than 0")

	rec := httptest.NewRecorder()
	WriteError(rec, httptest.NewRequest(http.MethodPost, "/api/v1/tours", nil), logging.Discard(), ve)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, StatusFail, body["status"])
	assert.Equal(t, CodeValidation, body["error"])
	require.Len(t, body["errors"], 2)
	first := body["errors"].([]any)[0].(map[string]any)
	assert.Equal(t, "name", first["field"])
}

func TestWriteErrorUnavailableHidesCause(t *testing.T) {
	var logs bytes.Buffer
	logger := logging.NewWithWriter(&logs, 0, "text", "test")

	rec := httptest.NewRecorder()
	err := storage.Unavailable("find", errors.New("dial tcp 10.0.0.1:27017"))
	WriteError(rec, httptest.NewRequest(http.MethodGet, "/api/v1/tours", nil), logger, err)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "5", rec.Header().Get("Retry-After"))
	body := decode(t, rec)
	assert.Equal(t, StatusError, body["status"])
	assert.NotContains(t, rec.Body.String(), "10.0.0.1")
	assert.Contains(t, logs.String(), "10.0.0.1")
}

func TestOKAndList(t *testing.T) {
	rec := httptest.NewRecorder()
	OK(rec, http.StatusCreated, map[string]string{"name": "x"})
	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.JSONEq(t, `{"status":"success","data":{"data":{"name":"x"}}}`, rec.Body.String())

	rec = httptest.NewRecorder()
	List[string](rec, nil, 0)
	assert.JSONEq(t, `{"status":"success","results":0,"total":0,"data":{"data":[]}}`, rec.Body.String())

	rec = httptest.NewRecorder()
	List(rec, []int{1, 2}, 7)
	assert.JSONEq(t, `{"status":"success","results":2,"total":7,"data":{"data":[1,2]}}`, rec.Body.String())
}

func TestReadBodyLimit(t *testing.T) {
	rec := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(strings.Repeat("a", MaxBodyBytes+1)))
	_, err := ReadBody(rec, r)
	require.Error(t, err)
	assert.Equal(t, http.StatusRequestEntityTooLarge, Classify(err).Status)

	r = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"a":1}`))
	body, err := ReadBody(rec, r)
	require.NoError(t, err)
	assert.Equal(t, `{"a":1}`, string(body))
}

func TestClientIP(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "192.0.2.1:1234"
	assert.Equal(t, "192.0.2.1", ClientIP(r))

	r.Header.Set("X-Real-IP", "198.51.100.2")
	assert.Equal(t, "198.51.100.2", ClientIP(r))

	r.Header.Set("X-Forwarded-For", "203.0.113.5, 10.0.0.1")
	assert.Equal(t, "203.0.113.5", ClientIP(r))
}

func TestPathID(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.SetPathValue("id", "not-an-id")
	_, err := PathID(r, "id")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	r.SetPathValue("id", "5c88fa8cf4afda39709c2955")
	id, err := PathID(r, "id")
	require.NoError(t, err)
	assert.Equal(t, "5c88fa8cf4afda39709c2955", id.Hex())
}
