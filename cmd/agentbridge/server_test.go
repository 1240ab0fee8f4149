package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/agentbridge/api"
	"github.com/BaSui01/agentbridge/broker/presence"
	"github.com/BaSui01/agentbridge/client"
	"github.com/BaSui01/agentbridge/config"
	"github.com/BaSui01/agentbridge/testutil"
	"github.com/BaSui01/agentbridge/testutil/fixtures"
	"github.com/BaSui01/agentbridge/types"
)

func memoryConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Broker.Backend = config.BackendMemory
	cfg.Server.HTTPPort = 0
	cfg.Server.MetricsPort = 0
	cfg.Server.RateLimitRPS = 0
	cfg.Server.ShutdownTimeout = time.Second
	cfg.Coordinator.HeartbeatInterval = 50 * time.Millisecond
	cfg.Coordinator.RetryDelay = 20 * time.Millisecond
	return cfg
}

// newTestServer 构建完整路由但不监听端口，由 httptest 承载
func newTestServer(t *testing.T, cfg *config.Config) (*Server, *httptest.Server) {
	t.Helper()
	s := NewServer(cfg, zap.NewNop(), nil)
	s.namespace = nextNamespace()
	require.NoError(t, s.build(context.Background()))

	ts := httptest.NewServer(s.handler)
	t.Cleanup(ts.Close)
	t.Cleanup(s.Shutdown)
	return s, ts
}

func newClient(t *testing.T, ts *httptest.Server) *client.Client {
	t.Helper()
	c, err := client.New(ts.URL, 5*time.Second, zap.NewNop(), client.WithHTTPClient(ts.Client()))
	require.NoError(t, err)
	return c
}

func getJSON(t *testing.T, url string, out any) int {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func postJSON(t *testing.T, url string, body any, out any) int {
	t.Helper()
	resp, err := http.Post(url, "application/json", bytes.NewReader([]byte(testutil.MustJSON(body))))
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

// =============================================================================
// 🧪 路由与健康检查
// =============================================================================

func TestServer_RootAndHealth(t *testing.T) {
	_, ts := newTestServer(t, memoryConfig())

	var banner api.ServiceBanner
	require.Equal(t, http.StatusOK, getJSON(t, ts.URL+"/", &banner))
	assert.Equal(t, serviceName, banner.Service)

	for _, path := range []string{"/health", "/healthz", "/ready", "/readyz", "/version"} {
		resp, err := http.Get(ts.URL + path)
		require.NoError(t, err, path)
		_, _ = io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode, path)
		assert.NotEmpty(t, resp.Header.Get("X-Request-ID"), path)
	}

	resp, err := http.Get(ts.URL + "/no/such/route")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestServer_StatusAfterHeartbeat(t *testing.T) {
	_, ts := newTestServer(t, memoryConfig())
	c := newClient(t, ts)
	ctx := testutil.TestContext(t)

	require.NoError(t, c.Heartbeat(ctx, fixtures.ClaudeRPi5))

	st, err := c.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, types.StatusOnline, st.LLMInstances[fixtures.ClaudeRPi5])
	assert.Equal(t, types.StatusOffline, st.LLMInstances[fixtures.CodexRPi5])
	assert.Len(t, st.LLMInstances, len(fixtures.Instances()))
	assert.Equal(t, types.StatusOnline, st.Services[api.ServicePresence])
	assert.Equal(t, types.StatusOnline, st.Services[api.ServiceBus])
	assert.Equal(t, types.StatusOffline, st.Services[api.ServiceTrail])
}

func TestServer_MessageOverWebSocket(t *testing.T) {
	s, ts := newTestServer(t, memoryConfig())
	c := newClient(t, ts)
	ctx := testutil.TestContext(t)

	inbound, err := c.Listen(ctx, fixtures.CodexRPi5)
	require.NoError(t, err)
	testutil.AssertEventuallyTrue(t, func() bool { return s.registry.Connections(fixtures.CodexRPi5) == 1 }, 2*time.Second)

	req := fixtures.Request(fixtures.ClaudeRPi5, fixtures.CodexRPi5, "generate_code_structure", "s-ws")
	req.Context = map[string]any{"idea": "bridge"}
	ack, err := c.Send(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, types.AckSent, ack.Status)
	assert.Equal(t, "llm:codex-rpi5", ack.Channel)
	assert.Equal(t, int64(1), ack.Receivers)

	got := testutil.RequireReceive(t, inbound, 2*time.Second)
	testutil.AssertEnvelopeEqual(t, req, got)

	st, err := c.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, st.Connections[fixtures.CodexRPi5])
}

func TestServer_MalformedMessage(t *testing.T) {
	_, ts := newTestServer(t, memoryConfig())

	code := postJSON(t, ts.URL+"/api/llm/message", map[string]any{"from_llm": "claude-rpi5", "task": "x"}, nil)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestServer_TrailDisabledOnMemoryBackend(t *testing.T) {
	_, ts := newTestServer(t, memoryConfig())

	assert.Equal(t, http.StatusServiceUnavailable, getJSON(t, ts.URL+"/api/paper-trail/session/s-1", nil))
	assert.Equal(t, http.StatusServiceUnavailable, getJSON(t, ts.URL+"/api/ideas/idea-1", nil))

	// 提交仍然广播
	var resp api.IdeaSubmitResponse
	code := postJSON(t, ts.URL+"/api/ideas/submit", api.IdeaSubmission{Title: "t", Description: "d"}, &resp)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "processing", resp.Status)
}

func TestServer_RecordsRouteMetrics(t *testing.T) {
	s, ts := newTestServer(t, memoryConfig())

	require.Equal(t, http.StatusOK, getJSON(t, ts.URL+"/api/system/status", nil))
	require.Equal(t, http.StatusOK, getJSON(t, ts.URL+"/api/system/status", nil))

	assert.Equal(t, float64(2), counterValue(t, s.namespace+"_http_requests_total", map[string]string{
		"method": "GET", "path": "/api/system/status", "status": "2xx",
	}))
}

// =============================================================================
// 🛰️ 内嵌协调器
// =============================================================================

func TestServer_EmbeddedCoordinators(t *testing.T) {
	cfg := memoryConfig()
	cfg.Broker.EmbeddedInstances = []string{fixtures.ClaudeRPi5, fixtures.CodexRPi5}
	s, ts := newTestServer(t, cfg)
	require.NoError(t, s.startCoordinators())

	c := newClient(t, ts)
	ctx := testutil.TestContext(t)

	testutil.AssertEventuallyTrue(t, func() bool {
		st, err := c.Status(ctx)
		return err == nil &&
			st.LLMInstances[fixtures.ClaudeRPi5] == types.StatusOnline &&
			st.LLMInstances[fixtures.CodexRPi5] == types.StatusOnline
	}, 3*time.Second)

	// 外部实例请求内嵌 codex，回复经 websocket 回到请求方
	inbound, err := c.Listen(ctx, fixtures.ClaudeHPC)
	require.NoError(t, err)
	testutil.AssertEventuallyTrue(t, func() bool { return s.registry.Connections(fixtures.ClaudeHPC) == 1 }, 2*time.Second)
	testutil.AssertEventuallyTrue(t, func() bool { return s.registry.Connections(fixtures.CodexRPi5) == 1 }, 2*time.Second)

	req := fixtures.Request(fixtures.ClaudeHPC, fixtures.CodexRPi5, "generate_code_structure", "s-embedded")
	_, err = c.Send(ctx, req)
	require.NoError(t, err)

	reply := testutil.RequireReceive(t, inbound, 3*time.Second)
	assert.Equal(t, types.TaskResult, reply.Task)
	assert.Equal(t, fixtures.CodexRPi5, reply.From)
	assert.Equal(t, fixtures.ClaudeHPC, reply.To)
	assert.Equal(t, "s-embedded", reply.SessionID)
	assert.Equal(t, "abc123", reply.Context["git_commit"])
}

// =============================================================================
// 🗄️ Redis 后端
// =============================================================================

func redisConfig(t *testing.T, mr *miniredis.Miniredis) *config.Config {
	cfg := memoryConfig()
	cfg.Broker.Backend = config.BackendRedis
	cfg.Redis.Addr = mr.Addr()
	cfg.Broker.TrailArchive = true
	cfg.Database.Driver = "sqlite"
	cfg.Database.Name = filepath.Join(t.TempDir(), "trail.db")
	return cfg
}

func TestServer_RedisBackendWithArchive(t *testing.T) {
	mr := miniredis.RunT(t)
	s, ts := newTestServer(t, redisConfig(t, mr))
	require.NotNil(t, s.trail)
	require.NotNil(t, s.db)

	c := newClient(t, ts)
	ctx := testutil.TestContext(t)

	require.NoError(t, c.Heartbeat(ctx, fixtures.CodexHPC))
	assert.True(t, mr.Exists(presence.Key(fixtures.CodexHPC)))

	st, err := c.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, types.StatusOnline, st.LLMInstances[fixtures.CodexHPC])
	assert.Equal(t, types.StatusOnline, st.Services[api.ServiceTrail])

	// 路由消息会写入会话轨迹
	_, err = c.Send(ctx, fixtures.Request(fixtures.ClaudeHPC, fixtures.CodexHPC, "generate_code_structure", "s-redis"))
	require.NoError(t, err)

	var sessionTrail api.TrailResponse
	require.Equal(t, http.StatusOK, getJSON(t, ts.URL+"/api/paper-trail/session/s-redis", &sessionTrail))
	require.Len(t, sessionTrail.Trail, 1)
	assert.Equal(t, "generate_code_structure", sessionTrail.Trail[0].Action)

	// 手动轨迹更新
	var upd api.TrailUpdateResponse
	require.Equal(t, http.StatusOK, postJSON(t, ts.URL+"/api/paper-trail/update", api.TrailUpdateRequest{
		EntityType: "prd", EntityID: "p-1", Action: "drafted", Data: map[string]any{"by": "claude-hpc"},
	}, &upd))
	assert.Equal(t, "updated", upd.Status)

	// 想法提交与查询
	var submitted api.IdeaSubmitResponse
	require.Equal(t, http.StatusOK, postJSON(t, ts.URL+"/api/ideas/submit", api.IdeaSubmission{
		Title: "Bridge", Description: "Coordinate agents", Category: "infra",
	}, &submitted))

	var idea api.IdeaResponse
	require.Equal(t, http.StatusOK, getJSON(t, ts.URL+"/api/ideas/"+submitted.SessionID, &idea))
	assert.Equal(t, "submitted", idea.Status)
	require.Len(t, idea.Trail, 1)
}

func TestServer_StartFailsWhenRedisDown(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := redisConfig(t, mr)
	cfg.Broker.TrailArchive = false
	mr.Close()

	s := NewServer(cfg, zap.NewNop(), nil)
	s.namespace = nextNamespace()
	err := s.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "redis")
}

// =============================================================================
// 🚀 生命周期
// =============================================================================

func TestServer_StartAndShutdown(t *testing.T) {
	s := NewServer(memoryConfig(), zap.NewNop(), nil)
	s.namespace = nextNamespace()
	require.NoError(t, s.Start(context.Background()))

	resp, err := http.Get("http://" + s.httpManager.Addr() + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	s.Shutdown()
	assert.False(t, s.httpManager.IsRunning())

	_, err = s.bus.Publish(context.Background(), "llm:claude-rpi5", []byte("x"))
	assert.Error(t, err, "bus should be closed after shutdown")
}

func TestServer_StartShutdownClosesWebSockets(t *testing.T) {
	s := NewServer(memoryConfig(), zap.NewNop(), nil)
	s.namespace = nextNamespace()
	require.NoError(t, s.Start(context.Background()))

	c, err := client.New("http://"+s.httpManager.Addr(), 5*time.Second, zap.NewNop())
	require.NoError(t, err)
	ctx := testutil.TestContext(t)
	inbound, err := c.Listen(ctx, fixtures.CodexRPi5)
	require.NoError(t, err)
	testutil.AssertEventuallyTrue(t, func() bool { return s.registry.Connections(fixtures.CodexRPi5) == 1 }, 2*time.Second)

	s.Shutdown()

	select {
	case _, ok := <-inbound:
		assert.False(t, ok, "inbound should close when the broker shuts down")
	case <-time.After(3 * time.Second):
		t.Fatal("websocket not closed on shutdown")
	}
}
