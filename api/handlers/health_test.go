package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/agentbridge/api"
)

func ready(t *testing.T, h *HealthHandler) (int, api.ReadinessResponse) {
	t.Helper()
	w := httptest.NewRecorder()
	h.HandleReady(w, httptest.NewRequest(http.MethodGet, "/ready", nil))
	var resp api.ReadinessResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	return w.Code, resp
}

func okPing(context.Context) error { return nil }

func TestHandleRoot_Banner(t *testing.T) {
	h := NewHealthHandler(zap.NewNop())
	w := httptest.NewRecorder()
	h.HandleRoot("LLM Coordination API")(w, httptest.NewRequest(http.MethodGet, "/", nil))

	require.Equal(t, http.StatusOK, w.Code)
	var banner api.ServiceBanner
	require.NoError(t, json.NewDecoder(w.Body).Decode(&banner))
	assert.Equal(t, "online", banner.Status)
	assert.Equal(t, "LLM Coordination API", banner.Service)
	assert.False(t, banner.Timestamp.IsZero())
}

func TestHandleLive_IgnoresDependencies(t *testing.T) {
	h := NewHealthHandler(zap.NewNop())
	h.RegisterCheck(NewPingCheck(api.ServiceBus, func(context.Context) error { return errors.New("bus down") }))

	w := httptest.NewRecorder()
	h.HandleLive(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	require.Equal(t, http.StatusOK, w.Code)
	var live api.LivenessResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&live))
	assert.Equal(t, "alive", live.Status)
	assert.NotEmpty(t, live.Uptime)
}

func TestHandleReady_AllPass(t *testing.T) {
	h := NewHealthHandler(zap.NewNop())
	h.RegisterCheck(NewPingCheck(api.ServicePresence, okPing))
	h.RegisterCheck(NewPingCheck(api.ServiceBus, okPing))

	status, resp := ready(t, h)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, api.ReadyOK, resp.Status)
	require.Len(t, resp.Checks, 2)
	assert.Equal(t, api.CheckPass, resp.Checks[api.ServicePresence].Status)
	assert.Equal(t, api.CheckPass, resp.Checks[api.ServiceBus].Status)
}

func TestHandleReady_NoChecks(t *testing.T) {
	status, resp := ready(t, NewHealthHandler(zap.NewNop()))
	assert.Equal(t, http.StatusOK, status)
	assert.Empty(t, resp.Checks)
}

func TestHandleReady_FailingDependency(t *testing.T) {
	tests := []struct {
		name    string
		failing string
	}{
		{"presence down", api.ServicePresence},
		{"bus down", api.ServiceBus},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHealthHandler(zap.NewNop())
			for _, name := range []string{api.ServicePresence, api.ServiceBus} {
				ping := okPing
				if name == tt.failing {
					ping = func(context.Context) error { return errors.New("dial tcp: connection refused") }
				}
				h.RegisterCheck(NewPingCheck(name, ping))
			}

			status, resp := ready(t, h)
			assert.Equal(t, http.StatusServiceUnavailable, status)
			assert.Equal(t, api.ReadyDegraded, resp.Status)
			for name, result := range resp.Checks {
				if name == tt.failing {
					assert.Equal(t, api.CheckFail, result.Status)
					assert.Contains(t, result.Error, "connection refused")
				} else {
					assert.Equal(t, api.CheckPass, result.Status)
					assert.Empty(t, result.Error)
				}
			}
		})
	}
}

// 挂起的依赖在检查超时后判为失败，不拖住整个请求
func TestHandleReady_CheckTimeout(t *testing.T) {
	h := NewHealthHandler(zap.NewNop(), WithCheckTimeout(20*time.Millisecond))
	h.RegisterCheck(NewPingCheck(api.ServiceTrail, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}))
	h.RegisterCheck(NewPingCheck(api.ServicePresence, okPing))

	start := time.Now()
	status, resp := ready(t, h)
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, http.StatusServiceUnavailable, status)
	assert.Equal(t, api.CheckFail, resp.Checks[api.ServiceTrail].Status)
	assert.Equal(t, api.CheckPass, resp.Checks[api.ServicePresence].Status)
}

func TestRegisterCheck_ReplacesByName(t *testing.T) {
	h := NewHealthHandler(zap.NewNop())
	h.RegisterCheck(NewPingCheck(api.ServiceBus, func(context.Context) error { return errors.New("old") }))
	h.RegisterCheck(NewPingCheck(api.ServiceBus, okPing))

	status, resp := ready(t, h)
	assert.Equal(t, http.StatusOK, status)
	assert.Len(t, resp.Checks, 1)
}

func TestHandleVersion(t *testing.T) {
	info := api.VersionInfo{Version: "1.2.3", BuildTime: "2026-10-01", GitCommit: "abc123"}
	w := httptest.NewRecorder()
	NewHealthHandler(zap.NewNop()).HandleVersion(info)(w, httptest.NewRequest(http.MethodGet, "/version", nil))

	require.Equal(t, http.StatusOK, w.Code)
	var got api.VersionInfo
	require.NoError(t, json.NewDecoder(w.Body).Decode(&got))
	assert.Equal(t, info, got)
}
