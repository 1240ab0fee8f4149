package handlers

import (
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
	"go.uber.org/zap"

	"github.com/BaSui01/agentbridge/internal/ctxkeys"
	"github.com/BaSui01/agentbridge/types"
)

func errorBody(t *testing.T, w *httptest.ResponseRecorder) Response {
	t.Helper()
	var resp Response
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	require.NotNil(t, resp.Error)
	return resp
}

// =============================================================================
// 🧪 错误码映射
// =============================================================================

func TestWriteRequestError_StatusByCode(t *testing.T) {
	tests := []struct {
		err        error
		wantStatus int
		wantCode   types.ErrorCode
	}{
		{types.NewError(types.ErrInvalidEnvelope, "missing required fields: to"), http.StatusBadRequest, types.ErrInvalidEnvelope},
		{types.NewError(types.ErrInvalidRequest, "invalid instance name"), http.StatusBadRequest, types.ErrInvalidRequest},
		{types.NewError(types.ErrNotFound, "no trail"), http.StatusNotFound, types.ErrNotFound},
		{types.NewError(types.ErrRateLimited, "slow down"), http.StatusTooManyRequests, types.ErrRateLimited},
		{types.NewError(types.ErrTimeout, "no task_result"), http.StatusGatewayTimeout, types.ErrTimeout},
		{types.NewError(types.ErrServiceUnavailable, "presence store unavailable"), http.StatusServiceUnavailable, types.ErrServiceUnavailable},
		{errors.New("redis: connection refused"), http.StatusInternalServerError, types.ErrInternalError},
		{fmt.Errorf("publish: %w", context.DeadlineExceeded), http.StatusGatewayTimeout, types.ErrTimeout},
	}

	for _, tt := range tests {
		t.Run(string(tt.wantCode), func(t *testing.T) {
			w := httptest.NewRecorder()
			r := httptest.NewRequest(http.MethodPost, "/api/llm/message", nil)
			WriteRequestError(w, r, tt.err, zap.NewNop())

			assert.Equal(t, tt.wantStatus, w.Code)
			assert.Equal(t, "application/json; charset=utf-8", w.Header().Get("Content-Type"))
			resp := errorBody(t, w)
			assert.False(t, resp.Success)
			assert.Equal(t, string(tt.wantCode), resp.Error.Code)
		})
	}
}

func TestWriteRequestError_WrappedTypedError(t *testing.T) {
	inner := types.NewError(types.ErrServiceUnavailable, "bus unavailable").WithRetryable(true)
	w := httptest.NewRecorder()
	WriteRequestError(w, nil, fmt.Errorf("route: %w", inner), nil)

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	resp := errorBody(t, w)
	assert.Equal(t, "bus unavailable", resp.Error.Message)
	assert.True(t, resp.Error.Retryable)
	assert.Empty(t, resp.RequestID)
}

func TestWriteRequestError_ExplicitStatusWins(t *testing.T) {
	err := types.NewError(types.ErrInvalidRequest, "too big").WithHTTPStatus(http.StatusRequestEntityTooLarge)
	assert.Equal(t, http.StatusRequestEntityTooLarge, StatusFor(err))
	assert.Equal(t, http.StatusInternalServerError, StatusFor(types.NewError("SOMETHING_NEW", "x")))
}

func TestWriteRequestError_CarriesRequestID(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/api/ideas/idea-1", nil)
	r = r.WithContext(ctxkeys.WithRequestID(r.Context(), "req-42"))
	w := httptest.NewRecorder()

	WriteRequestError(w, r, types.NewError(types.ErrNotFound, "idea not found"), zap.NewNop())

	assert.Equal(t, "req-42", errorBody(t, w).RequestID)
}

func TestAsError_Passthrough(t *testing.T) {
	e := types.NewError(types.ErrInvalidEnvelope, "bad")
	assert.Same(t, e, AsError(e))

	internal := AsError(errors.New("boom"))
	assert.Equal(t, types.ErrInternalError, internal.Code)
	assert.EqualError(t, internal.Cause, "boom")
}

// =============================================================================
// 🧪 请求体解码
// =============================================================================

func TestDecodeJSON(t *testing.T) {
	type body struct {
		Task string `json:"task"`
	}
	tests := []struct {
		name        string
		contentType string
		payload     string
		wantErr     string
	}{
		{"ok", "application/json", `{"task":"ping"}`, ""},
		{"charset param", "application/json; charset=utf-8", `{"task":"ping"}`, ""},
		{"wrong content type", "text/plain", `{"task":"ping"}`, "Content-Type must be application/json"},
		{"empty body", "application/json", "", "request body is empty"},
		{"unknown field", "application/json", `{"task":"ping","extra":1}`, "invalid JSON body"},
		{"malformed", "application/json", `{"task":`, "invalid JSON body"},
		{"too large", "application/json", `{"task":"` + strings.Repeat("x", maxBodyBytes) + `"}`, "request body too large"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodPost, "/api/llm/message", strings.NewReader(tt.payload))
			if tt.payload == "" {
				r.Body = http.NoBody
			}
			r.Header.Set("Content-Type", tt.contentType)

			var dst body
			err := decodeJSON(httptest.NewRecorder(), r, &dst)
			if tt.wantErr == "" {
				require.NoError(t, err)
				assert.Equal(t, "ping", dst.Task)
				return
			}
			require.Error(t, err)
			assert.Equal(t, types.ErrInvalidRequest, types.GetErrorCode(err))
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
