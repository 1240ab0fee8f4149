package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/BaSui01/agentbridge/api"
	"github.com/BaSui01/agentbridge/api/handlers"
	"github.com/BaSui01/agentbridge/broker/bus"
	"github.com/BaSui01/agentbridge/broker/presence"
	"github.com/BaSui01/agentbridge/broker/registry"
	"github.com/BaSui01/agentbridge/broker/router"
	"github.com/BaSui01/agentbridge/config"
	"github.com/BaSui01/agentbridge/coordinator"
	"github.com/BaSui01/agentbridge/internal/database"
	"github.com/BaSui01/agentbridge/internal/metrics"
	"github.com/BaSui01/agentbridge/internal/redisclient"
	"github.com/BaSui01/agentbridge/internal/server"
	"github.com/BaSui01/agentbridge/internal/telemetry"
	"github.com/BaSui01/agentbridge/trail"
)

// serviceName 出现在根路径横幅中
const serviceName = "LLM Coordination API"

// =============================================================================
// 🖥️ Server 结构
// =============================================================================

// Server 是 AgentBridge 协调代理进程
type Server struct {
	cfg       *config.Config
	logger    *zap.Logger
	namespace string

	// 后端
	redis    *redisclient.Manager
	db       *database.PoolManager
	presence presence.Store
	bus      bus.Bus
	trail    *trail.Store

	// 代理核心
	registry *registry.Registry
	router   *router.Router

	// HTTP
	health           *handlers.HealthHandler
	handler          http.Handler
	httpManager      *server.Manager
	metricsManager   *server.Manager
	metricsCollector *metrics.Collector
	telemetry        *telemetry.Providers

	// 限流清理与内嵌协调器的生命周期
	cancel       context.CancelFunc
	coordinators sync.WaitGroup
}

// NewServer 创建新的服务器实例
func NewServer(cfg *config.Config, logger *zap.Logger, providers *telemetry.Providers) *Server {
	return &Server{
		cfg:       cfg,
		logger:    logger,
		namespace: "agentbridge",
		telemetry: providers,
	}
}

// =============================================================================
// 🚀 启动流程
// =============================================================================

// Start 构建后端与路由，启动 HTTP/metrics 服务与内嵌协调器
func (s *Server) Start(ctx context.Context) error {
	if err := s.build(ctx); err != nil {
		s.Shutdown()
		return err
	}

	if err := s.startHTTPServer(); err != nil {
		s.Shutdown()
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}
	if err := s.startMetricsServer(); err != nil {
		s.Shutdown()
		return fmt.Errorf("failed to start metrics server: %w", err)
	}
	if err := s.startCoordinators(); err != nil {
		s.Shutdown()
		return fmt.Errorf("failed to start embedded coordinators: %w", err)
	}

	s.logger.Info("all servers started",
		zap.String("http_addr", s.httpManager.Addr()),
		zap.Int("metrics_port", s.cfg.Server.MetricsPort),
		zap.String("backend", s.cfg.Broker.Backend),
		zap.String("embedded", describe(s.cfg.Broker.EmbeddedInstances)),
	)
	return nil
}

// build 初始化后端、代理核心与 HTTP handler，不监听端口
func (s *Server) build(ctx context.Context) error {
	s.metricsCollector = metrics.NewCollector(s.namespace, s.logger)

	if err := s.initBackends(ctx); err != nil {
		return fmt.Errorf("failed to init backends: %w", err)
	}

	s.registry = registry.New(s.bus, s.logger,
		registry.WithWriteTimeout(s.cfg.Broker.WriteTimeout),
		registry.WithMetrics(s.metricsCollector),
	)
	routerOpts := []router.Option{router.WithMetrics(s.metricsCollector)}
	if s.trail != nil {
		routerOpts = append(routerOpts, router.WithTrail(s.trail))
	}
	s.router = router.New(s.bus, s.logger, routerOpts...)

	runCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.handler = s.buildHandler(runCtx)
	return nil
}

// initBackends 按 broker.backend 选择 Redis 或进程内实现
func (s *Server) initBackends(ctx context.Context) error {
	buffer := s.cfg.Broker.SubscriberBuffer

	if s.cfg.Broker.Backend == config.BackendMemory {
		s.presence = presence.NewMemoryStore(s.cfg.Broker.PresenceTTL)
		s.bus = bus.NewMemoryBus(buffer, s.metricsCollector, s.logger)
		s.logger.Warn("using in-process backend, paper trail disabled")
		return nil
	}

	rcfg := redisclient.DefaultConfig()
	rcfg.Addr = s.cfg.Redis.Addr
	rcfg.Password = s.cfg.Redis.Password
	rcfg.DB = s.cfg.Redis.DB
	rcfg.PoolSize = s.cfg.Redis.PoolSize
	rcfg.MinIdleConns = s.cfg.Redis.MinIdleConns
	rcfg.TLS = s.cfg.Redis.TLS

	rm, err := redisclient.NewManager(ctx, rcfg, s.logger)
	if err != nil {
		return err
	}
	s.redis = rm
	client := rm.Client()

	s.presence = presence.NewRedisStore(client, s.cfg.Broker.PresenceTTL, s.metricsCollector, s.logger)
	s.bus = bus.NewRedisBus(client, buffer, s.metricsCollector, s.logger)

	trailOpts := []trail.Option{
		trail.WithTTL(s.cfg.Broker.TrailTTL),
		trail.WithMaxEntries(s.cfg.Broker.TrailMaxEntries),
		trail.WithMetrics(s.metricsCollector),
	}
	if s.cfg.Broker.TrailArchive {
		archive, err := s.openArchive()
		if err != nil {
			return err
		}
		trailOpts = append(trailOpts, trail.WithArchive(archive))
	}
	s.trail = trail.NewStore(client, s.logger, trailOpts...)
	return nil
}

// openArchive 打开轨迹归档数据库
func (s *Server) openArchive() (*trail.GormArchive, error) {
	dbCfg := s.cfg.Database
	pool, err := database.Open(dbCfg.Driver, dbCfg.DSN(), database.PoolConfig{
		MaxIdleConns:        dbCfg.MaxIdleConns,
		MaxOpenConns:        dbCfg.MaxOpenConns,
		ConnMaxLifetime:     dbCfg.ConnMaxLifetime,
		HealthCheckInterval: database.DefaultPoolConfig().HealthCheckInterval,
	}, s.logger)
	if err != nil {
		return nil, fmt.Errorf("open trail archive: %w", err)
	}
	s.db = pool

	archive, err := trail.NewGormArchive(pool)
	if err != nil {
		return nil, fmt.Errorf("migrate trail archive: %w", err)
	}
	return archive, nil
}

// =============================================================================
// 🌐 路由与中间件
// =============================================================================

// buildHandler 注册全部路由并包装中间件链
func (s *Server) buildHandler(ctx context.Context) http.Handler {
	s.health = handlers.NewHealthHandler(s.logger)
	s.health.RegisterCheck(handlers.NewPingCheck(api.ServicePresence, s.presence.Ping))
	s.health.RegisterCheck(handlers.NewPingCheck(api.ServiceBus, s.bus.Ping))
	if s.trail != nil {
		s.health.RegisterCheck(handlers.NewPingCheck(api.ServiceTrail, s.trail.Ping))
	}
	if s.db != nil {
		s.health.RegisterCheck(handlers.NewPingCheck("database", s.db.Ping))
	}

	brokerOpts := []handlers.BrokerOption{
		handlers.WithKnownInstances(s.cfg.Broker.KnownInstances),
		handlers.WithOriginPatterns(s.cfg.Server.CORSAllowedOrigins),
	}
	// trailStore 保持为 nil 接口，避免 typed nil
	var trailStore handlers.TrailStore
	if s.trail != nil {
		brokerOpts = append(brokerOpts, handlers.WithTrailPinger(s.trail))
		trailStore = s.trail
	}
	brokerHandler := handlers.NewBrokerHandler(s.router, s.registry, s.presence, s.bus, s.logger, brokerOpts...)
	trailHandler := handlers.NewTrailHandler(trailStore, s.logger)
	ideaHandler := handlers.NewIdeaHandler(s.router, trailStore, s.logger)

	mux := http.NewServeMux()

	// ========================================
	// 健康检查与版本
	// ========================================
	mux.HandleFunc("GET /{$}", s.health.HandleRoot(serviceName))
	mux.HandleFunc("GET /health", s.health.HandleLive)
	mux.HandleFunc("GET /healthz", s.health.HandleLive)
	mux.HandleFunc("GET /ready", s.health.HandleReady)
	mux.HandleFunc("GET /readyz", s.health.HandleReady)
	mux.HandleFunc("GET /version", s.health.HandleVersion(api.VersionInfo{Version: Version, BuildTime: BuildTime, GitCommit: GitCommit}))

	// ========================================
	// 协调 API
	// ========================================
	mux.HandleFunc("POST /api/llm/message", brokerHandler.HandleMessage)
	mux.HandleFunc("GET /ws/llm/{name}", brokerHandler.HandleWebSocket)
	mux.HandleFunc("POST /api/system/llm/heartbeat/{name}", brokerHandler.HandleHeartbeat)
	mux.HandleFunc("GET /api/system/status", brokerHandler.HandleStatus)

	// ========================================
	// 轨迹与创意
	// ========================================
	mux.HandleFunc("POST /api/paper-trail/update", trailHandler.HandleUpdate)
	mux.HandleFunc("GET /api/paper-trail/{type}/{id}", trailHandler.HandleGet)
	mux.HandleFunc("POST /api/ideas/submit", ideaHandler.HandleSubmit)
	mux.HandleFunc("GET /api/ideas/{id}", ideaHandler.HandleGet)

	return Chain(mux,
		Recovery(s.logger),
		RequestID(),
		SecurityHeaders(),
		RequestLogger(s.logger),
		OTelTracing(),
		CORS(s.cfg.Server.CORSAllowedOrigins),
		RateLimiter(ctx, s.cfg.Server.RateLimitRPS, s.cfg.Server.RateLimitBurst, s.logger),
		MetricsMiddleware(s.metricsCollector),
	)
}

// startHTTPServer 启动 API 服务器
func (s *Server) startHTTPServer() error {
	s.httpManager = server.NewManager("http", s.handler, server.Config{
		Addr:              fmt.Sprintf(":%d", s.cfg.Server.HTTPPort),
		ReadTimeout:       s.cfg.Server.ReadTimeout,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      s.cfg.Server.WriteTimeout,
		IdleTimeout:       2 * s.cfg.Server.ReadTimeout,
		MaxHeaderBytes:    1 << 20,
		ShutdownTimeout:   s.cfg.Server.ShutdownTimeout,
	}, s.logger)

	// 被劫持的 websocket 连接不参与排空，关闭时由注册表断开
	reg := s.registry
	s.httpManager.RegisterOnShutdown(func() {
		if err := reg.Close(); err != nil {
			s.logger.Warn("registry close error", zap.Error(err))
		}
	})

	return s.httpManager.Start()
}

// =============================================================================
// 📊 Metrics 服务器
// =============================================================================

// startMetricsServer 启动 Metrics 服务器，metrics_port <= 0 时不启动
func (s *Server) startMetricsServer() error {
	if s.cfg.Server.MetricsPort <= 0 {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	s.metricsManager = server.NewManager("metrics", mux, server.Config{
		Addr:            fmt.Sprintf(":%d", s.cfg.Server.MetricsPort),
		ReadTimeout:     s.cfg.Server.ReadTimeout,
		WriteTimeout:    30 * time.Second,
		ShutdownTimeout: s.cfg.Server.ShutdownTimeout,
	}, s.logger)

	return s.metricsManager.Start()
}

// =============================================================================
// 🛰️ 内嵌协调器
// =============================================================================

// startCoordinators 为 broker.embedded_instances 中的每个实例运行进程内协调器
func (s *Server) startCoordinators() error {
	names := s.cfg.Broker.EmbeddedInstances
	if len(names) == 0 {
		return nil
	}

	coords := make([]*coordinator.Coordinator, 0, len(names))
	for _, name := range names {
		transport := coordinator.NewLocalTransport(s.presence, s.router, s.registry, s.logger)
		c, err := coordinator.New(coordinator.FromConfig(name, s.cfg.Coordinator), transport, s.logger)
		if err != nil {
			return err
		}
		coords = append(coords, c)
	}

	ctx, cancel := context.WithCancel(context.Background())
	prev := s.cancel
	s.cancel = func() {
		cancel()
		if prev != nil {
			prev()
		}
	}
	for _, c := range coords {
		s.coordinators.Add(1)
		go func() {
			defer s.coordinators.Done()
			if err := c.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				s.logger.Error("embedded coordinator failed", zap.String("llm", c.Name()), zap.Error(err))
			}
		}()
	}
	return nil
}

// =============================================================================
// 🛑 关闭流程
// =============================================================================

// WaitForShutdown 等待关闭信号或服务异常，然后优雅关闭
func (s *Server) WaitForShutdown(ctx context.Context) {
	if s.httpManager != nil {
		if err := s.httpManager.WaitForSignal(ctx); err != nil {
			s.logger.Error("HTTP server exited unexpectedly", zap.Error(err))
		}
	}
	s.Shutdown()
}

// Shutdown 按依赖逆序关闭：入口、协调器、连接、总线、存储
func (s *Server) Shutdown() {
	s.logger.Info("starting graceful shutdown")
	ctx := context.Background()

	// 1. 停止限流清理与内嵌协调器
	if s.cancel != nil {
		s.cancel()
	}
	s.coordinators.Wait()

	// 2. 关闭 HTTP 与 Metrics 服务器
	if s.httpManager != nil {
		if err := s.httpManager.Shutdown(ctx); err != nil {
			s.logger.Error("HTTP server shutdown error", zap.Error(err))
		}
	}
	if s.metricsManager != nil {
		if err := s.metricsManager.Shutdown(ctx); err != nil {
			s.logger.Error("metrics server shutdown error", zap.Error(err))
		}
	}

	// 3. 断开剩余连接并关闭总线
	if s.registry != nil {
		_ = s.registry.Close()
	}
	if s.bus != nil {
		if err := s.bus.Close(); err != nil {
			s.logger.Warn("bus close error", zap.Error(err))
		}
	}
	if closer, ok := s.presence.(interface{ Close() error }); ok {
		_ = closer.Close()
	}

	// 4. 关闭存储连接
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			s.logger.Warn("database close error", zap.Error(err))
		}
	}
	if s.redis != nil {
		if err := s.redis.Close(); err != nil {
			s.logger.Warn("redis close error", zap.Error(err))
		}
	}

	// 5. 刷新遥测
	if s.telemetry != nil {
		tctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		if err := s.telemetry.Shutdown(tctx); err != nil {
			s.logger.Warn("telemetry shutdown error", zap.Error(err))
		}
		cancel()
	}

	s.logger.Info("graceful shutdown completed")
}
