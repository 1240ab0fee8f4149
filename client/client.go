package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"

	"github.com/BaSui01/agentbridge/api"
	"github.com/BaSui01/agentbridge/internal/tlsutil"
	"github.com/BaSui01/agentbridge/types"
)

// 默认熔断参数
const (
	defaultBreakerMaxFailures uint32 = 5
	defaultBreakerTimeout            = 30 * time.Second
	defaultBreakerInterval           = 60 * time.Second

	// DefaultReadLimit 单条实时消息的最大字节数
	DefaultReadLimit int64 = 1 << 20
)

// BreakerConfig 发送熔断配置
type BreakerConfig struct {
	// MaxFailures 连续失败多少次后熔断
	MaxFailures uint32
	// Timeout 熔断后多久进入半开
	Timeout time.Duration
	// Interval 闭合状态下清零计数的周期
	Interval time.Duration
}

// =============================================================================
// 🌐 代理 API 客户端
// =============================================================================

// Client 通过 HTTP 与 WebSocket 访问协调代理，实现 coordinator.Transport
type Client struct {
	baseURL   *url.URL
	http      *http.Client
	ws        *http.Client
	breaker   *gobreaker.CircuitBreaker[*types.Ack]
	readLimit int64
	logger    *zap.Logger
}

// Option 客户端选项
type Option func(*options)

type options struct {
	httpClient *http.Client
	breaker    BreakerConfig
	readLimit  int64
}

// WithHTTPClient 替换默认的 HTTP 客户端
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) {
		o.httpClient = c
	}
}

// WithBreaker 设置发送熔断参数
func WithBreaker(cfg BreakerConfig) Option {
	return func(o *options) {
		o.breaker = cfg
	}
}

// WithReadLimit 设置实时消息大小上限
func WithReadLimit(n int64) Option {
	return func(o *options) {
		if n > 0 {
			o.readLimit = n
		}
	}
}

// New 创建客户端。baseURL 形如 http://localhost:8000。
func New(baseURL string, timeout time.Duration, logger *zap.Logger, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse api url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("unsupported api url scheme %q", u.Scheme)
	}

	o := &options{readLimit: DefaultReadLimit}
	for _, opt := range opts {
		opt(o)
	}
	if o.httpClient == nil {
		o.httpClient = tlsutil.SecureHTTPClient(timeout)
	}

	logger = logger.With(zap.String("component", "api_client"), zap.String("api_url", u.String()))
	return &Client{
		baseURL:   u,
		http:      o.httpClient,
		ws:        tlsutil.WebSocketClient(o.httpClient),
		breaker:   newBreaker(o.breaker, logger),
		readLimit: o.readLimit,
		logger:    logger,
	}, nil
}

func newBreaker(cfg BreakerConfig, logger *zap.Logger) *gobreaker.CircuitBreaker[*types.Ack] {
	maxFailures := cfg.MaxFailures
	if maxFailures == 0 {
		maxFailures = defaultBreakerMaxFailures
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = defaultBreakerTimeout
	}
	interval := cfg.Interval
	if interval == 0 {
		interval = defaultBreakerInterval
	}

	return gobreaker.NewCircuitBreaker[*types.Ack](gobreaker.Settings{
		Name:        "agentbridge:send",
		MaxRequests: 1,
		Interval:    interval,
		Timeout:     timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
		// 请求本身不合法不代表代理故障
		IsSuccessful: func(err error) bool {
			switch types.GetErrorCode(err) {
			case types.ErrInvalidEnvelope, types.ErrInvalidRequest:
				return true
			}
			return err == nil
		},
	})
}

// BreakerState 当前熔断状态
func (c *Client) BreakerState() gobreaker.State {
	return c.breaker.State()
}

// =============================================================================
// 🎯 Transport 实现
// =============================================================================

// Heartbeat 刷新在线记录
func (c *Client) Heartbeat(ctx context.Context, name string) error {
	var resp api.HeartbeatResponse
	if err := c.do(ctx, http.MethodPost, "/api/system/llm/heartbeat/"+url.PathEscape(name), nil, &resp); err != nil {
		return err
	}
	if resp.Status != api.HeartbeatAcknowledged {
		return types.NewError(types.ErrInternalError, fmt.Sprintf("unexpected heartbeat status %q", resp.Status))
	}
	return nil
}

// Send 经熔断器发送信封
func (c *Client) Send(ctx context.Context, env *types.Envelope) (*types.Ack, error) {
	ack, err := c.breaker.Execute(func() (*types.Ack, error) {
		var ack types.Ack
		if err := c.do(ctx, http.MethodPost, "/api/llm/message", api.NewMessageRequest(env), &ack); err != nil {
			return nil, err
		}
		return &ack, nil
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, types.NewError(types.ErrServiceUnavailable, "broker circuit open").
			WithCause(err).
			WithRetryable(true)
	}
	return ack, err
}

// Listen 打开 /ws/llm/{name} 实时通道。连接断开或 ctx 结束时关闭返回的通道。
func (c *Client) Listen(ctx context.Context, name string) (<-chan *types.Envelope, error) {
	conn, _, err := websocket.Dial(ctx, c.websocketURL(name), &websocket.DialOptions{HTTPClient: c.ws})
	if err != nil {
		return nil, types.NewError(types.ErrServiceUnavailable, "websocket dial failed").
			WithCause(err).
			WithRetryable(true)
	}
	conn.SetReadLimit(c.readLimit)

	out := make(chan *types.Envelope)
	go c.readLoop(ctx, conn, out)
	return out, nil
}

func (c *Client) readLoop(ctx context.Context, conn *websocket.Conn, out chan<- *types.Envelope) {
	defer close(out)
	defer func() { _ = conn.CloseNow() }()

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			if ctx.Err() == nil {
				c.logger.Warn("websocket read failed", zap.Error(err))
			} else {
				_ = conn.Close(websocket.StatusNormalClosure, "")
			}
			return
		}

		env, err := types.UnmarshalEnvelope(data)
		if err != nil {
			c.logger.Warn("dropping undecodable message", zap.Error(err))
			continue
		}
		select {
		case out <- env:
		case <-ctx.Done():
			_ = conn.Close(websocket.StatusNormalClosure, "")
			return
		}
	}
}

// Status 查询系统状态
func (c *Client) Status(ctx context.Context) (*api.StatusResponse, error) {
	var resp api.StatusResponse
	if err := c.do(ctx, http.MethodGet, "/api/system/status", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// =============================================================================
// 🔧 内部辅助
// =============================================================================

func (c *Client) websocketURL(name string) string {
	u := *c.baseURL
	if u.Scheme == "https" {
		u.Scheme = "wss"
	} else {
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws/llm/" + url.PathEscape(name)
	return u.String()
}

// errorBody 代理错误响应中的 error 字段
type errorBody struct {
	Error *struct {
		Code      types.ErrorCode `json:"code"`
		Message   string          `json:"message"`
		Retryable bool            `json:"retryable"`
	} `json:"error"`
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return types.NewError(types.ErrInvalidRequest, "encode request").WithCause(err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL.String()+path, body)
	if err != nil {
		return types.NewError(types.ErrInvalidRequest, "build request").WithCause(err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return types.NewError(types.ErrServiceUnavailable, fmt.Sprintf("%s %s", method, path)).
			WithCause(err).
			WithRetryable(true)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, c.readLimit))
	if err != nil {
		return types.NewError(types.ErrServiceUnavailable, "read response").WithCause(err).WithRetryable(true)
	}

	if resp.StatusCode >= http.StatusBadRequest {
		return decodeError(resp.StatusCode, data)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return types.NewError(types.ErrInternalError, "decode response").WithCause(err)
	}
	return nil
}

func decodeError(status int, data []byte) *types.Error {
	var body errorBody
	if err := json.Unmarshal(data, &body); err == nil && body.Error != nil && body.Error.Code != "" {
		return types.NewError(body.Error.Code, body.Error.Message).
			WithHTTPStatus(status).
			WithRetryable(body.Error.Retryable)
	}
	code := types.ErrInternalError
	switch {
	case status == http.StatusTooManyRequests:
		code = types.ErrRateLimited
	case status == http.StatusServiceUnavailable:
		code = types.ErrServiceUnavailable
	case status < http.StatusInternalServerError:
		code = types.ErrInvalidRequest
	}
	return types.NewError(code, fmt.Sprintf("unexpected status %d", status)).
		WithHTTPStatus(status).
		WithRetryable(status >= http.StatusInternalServerError || status == http.StatusTooManyRequests)
}
