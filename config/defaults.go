// =============================================================================
// 📦 AgentBridge 默认配置
// =============================================================================
// 提供所有配置项的合理默认值
// =============================================================================
package config

import "time"

// 代理后端
const (
	BackendRedis  = "redis"
	BackendMemory = "memory"
)

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Server:      DefaultServerConfig(),
		Redis:       DefaultRedisConfig(),
		Database:    DefaultDatabaseConfig(),
		Broker:      DefaultBrokerConfig(),
		Coordinator: DefaultCoordinatorConfig(),
		Log:         DefaultLogConfig(),
		Telemetry:   DefaultTelemetryConfig(),
	}
}

// DefaultServerConfig 返回默认服务器配置
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPPort:    8000,
		MetricsPort: 9091,
		ReadTimeout: 30 * time.Second,
		// websocket 连接长期存活，写超时由连接自身控制
		WriteTimeout:    0,
		ShutdownTimeout: 15 * time.Second,
		RateLimitRPS:    100,
		RateLimitBurst:  200,
	}
}

// DefaultRedisConfig 返回默认 Redis 配置
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:         "localhost:6379",
		Password:     "",
		DB:           0,
		PoolSize:     10,
		MinIdleConns: 2,
	}
}

// DefaultDatabaseConfig 返回默认数据库配置
func DefaultDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		Driver:          "postgres",
		Host:            "localhost",
		Port:            5432,
		User:            "agentbridge",
		Password:        "",
		Name:            "agentbridge",
		SSLMode:         "disable",
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
	}
}

// DefaultBrokerConfig 返回默认协调代理配置
func DefaultBrokerConfig() BrokerConfig {
	return BrokerConfig{
		Backend:          BackendRedis,
		PresenceTTL:      60 * time.Second,
		TrailTTL:         24 * time.Hour,
		TrailMaxEntries:  1000,
		TrailArchive:     false,
		SubscriberBuffer: 256,
		WriteTimeout:     5 * time.Second,
		KnownInstances:   []string{"claude-rpi5", "codex-rpi5", "claude-hpc", "codex-hpc"},
	}
}

// DefaultCoordinatorConfig 返回默认协调器配置
func DefaultCoordinatorConfig() CoordinatorConfig {
	return CoordinatorConfig{
		APIURL:             "http://localhost:8000",
		HeartbeatInterval:  30 * time.Second,
		RetryDelay:         5 * time.Second,
		MaxConcurrentTasks: 4,
		RequestTimeout:     10 * time.Second,
	}
}

// DefaultLogConfig 返回默认日志配置
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:            "info",
		Format:           "json",
		OutputPaths:      []string{"stdout"},
		EnableCaller:     true,
		EnableStacktrace: false,
	}
}

// DefaultTelemetryConfig 返回默认遥测配置
func DefaultTelemetryConfig() TelemetryConfig {
	return TelemetryConfig{
		Enabled:      false,
		OTLPEndpoint: "localhost:4317",
		ServiceName:  "agentbridge",
		SampleRate:   0.1,
	}
}
