// Package config 统一配置管理
//
// 配置加载优先级（高→低）：
//  1. 环境变量（通过 .env 文件或 shell/systemd 注入）
//  2. YAML 配置文件（{env}.yaml，如 dev.yaml、test.yaml、prod.yaml）
//  3. 代码硬编码默认值
//
// 凭据单一数据源：
//
//	密码/密钥只存在 .env 文件中（YAML 中不存储任何密码）。
//	.env 文件同时被 Docker Compose（--env-file）和 Go 应用
//	（godotenv）共用，确保单一数据源。
package config

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration 支持 "5s"/"10m" 写法的时长
//
// yaml.v3 不识别 time.Duration 的字符串形式，统一走该包装类型。
type Duration time.Duration

// Std 转换为标准库时长
func (d Duration) Std() time.Duration { return time.Duration(d) }

// UnmarshalYAML 接受 "500ms" 字符串或纳秒整数
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err == nil {
		parsed, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", s, err)
		}
		*d = Duration(parsed)
		return nil
	}
	var n int64
	if err := value.Decode(&n); err != nil {
		return fmt.Errorf("invalid duration value: %w", err)
	}
	*d = Duration(n)
	return nil
}

// MarshalYAML 序列化为字符串形式
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Environment 环境类型
type Environment string

const (
	EnvProduction  Environment = "prod"
	EnvTest        Environment = "test" // 测试环境（集成测试 + E2E 共用）
	EnvDevelopment Environment = "dev"
)

// YAMLConfig YAML 配置文件结构
type YAMLConfig struct {
	APIServer APIServerConfig `yaml:"api_server"` // API Server（端口 + URL）
	Database  DatabaseConfig  `yaml:"database"`   // 数据库
	Redis     RedisConfig     `yaml:"redis"`      // Redis（响应列表 + 控制信号）
	Registry  RegistryConfig  `yaml:"registry"`   // 实例注册表
	MinIO     MinIOConfig     `yaml:"minio"`      // MinIO 转录归档
	LLM       LLMConfig       `yaml:"llm"`        // 模型服务
	Runner    RunnerConfig    `yaml:"runner"`     // 执行域
	Stream    StreamConfig    `yaml:"stream"`     // 输出流
	Auth      AuthConfig      `yaml:"auth"`       // 认证
}

// APIServerConfig API Server 配置
type APIServerConfig struct {
	Port string `yaml:"port"` // 监听端口
	URL  string `yaml:"url"`  // 对外完整 URL
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	Driver   string `yaml:"driver"` // "postgres", "sqlite", or "mongodb"
	Path     string `yaml:"path"`   // SQLite 文件路径
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"-"` // 只从环境变量读取（DB_PASSWORD / MONGO_ROOT_PASSWORD）
	Name     string `yaml:"name"`
	SSLMode  string `yaml:"sslmode"`
	URI      string `yaml:"uri"` // MongoDB 连接 URI（优先于 host/port）
}

// RedisConfig Redis 配置
type RedisConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	DB       int    `yaml:"db"`
	Password string `yaml:"-"`   // 只从 REDIS_PASSWORD 环境变量读取
	URL      string `yaml:"url"` // 直接指定 URL（优先于 host/port/db）
}

// RegistryConfig 实例注册表配置
type RegistryConfig struct {
	// Backend "redis"（默认，复用 Redis 连接）或 "etcd"
	Backend       string   `yaml:"backend"`
	EtcdEndpoints []string `yaml:"etcd_endpoints"`
	EtcdPrefix    string   `yaml:"etcd_prefix"`
}

// MinIOConfig MinIO 对象存储配置
type MinIOConfig struct {
	Endpoint  string `yaml:"endpoint"` // 例如 localhost:9000
	AccessKey string `yaml:"-"`        // 只从 MINIO_ROOT_USER 环境变量读取
	SecretKey string `yaml:"-"`        // 只从 MINIO_ROOT_PASSWORD 环境变量读取
	UseSSL    bool   `yaml:"use_ssl"`
	Bucket    string `yaml:"bucket"`
}

// LLMConfig 模型服务配置
type LLMConfig struct {
	BaseURL      string `yaml:"base_url"`      // OpenAI 兼容服务地址
	APIKey       string `yaml:"-"`             // 只从 LLM_API_KEY 环境变量读取
	DefaultModel string `yaml:"default_model"` // Run 未指定时的默认模型
	SummaryModel string `yaml:"summary_model"` // 摘要化模型，空则沿用 Run 的模型
}

// RunnerConfig 执行域配置
type RunnerConfig struct {
	InstanceID          string   `yaml:"instance_id"`             // 空则自动生成
	MaxIterations       int      `yaml:"max_iterations"`          // 自动续跑预算
	MaxToolCallsPerTurn int      `yaml:"max_tool_calls_per_turn"` // 单轮工具调用上限
	SystemPrompt        string   `yaml:"system_prompt"`
	TokenThreshold      int      `yaml:"token_threshold"`       // 摘要化触发阈值
	SummaryTargetTokens int      `yaml:"summary_target_tokens"` // 摘要目标长度
	ReconcileInterval   Duration `yaml:"reconcile_interval"`    // 对账巡检周期
	StaleRunAge         Duration `yaml:"stale_run_age"`         // 孤儿判定时长
	MarkerRefresh       Duration `yaml:"marker_refresh"`        // 实例标记 TTL 刷新周期
}

// StreamConfig 输出流配置
type StreamConfig struct {
	PollInterval    Duration `yaml:"poll_interval"`    // 兜底轮询间隔
	WatchdogTimeout Duration `yaml:"watchdog_timeout"` // 观察者看门狗
}

// AuthConfig 认证配置
// 注意：JWTSecret 只从环境变量读取，不存储在 YAML 中
type AuthConfig struct {
	JWTSecret      string `yaml:"-"`                // 只从 JWT_SECRET 环境变量读取
	AccessTokenTTL string `yaml:"access_token_ttl"` // 例如 "15m"
	Enabled        bool   `yaml:"enabled"`          // 关闭时跳过认证（仅 dev/test）
}

// Config 应用配置（最终使用的配置）
type Config struct {
	Env            Environment
	DatabaseDriver string // "postgres", "sqlite", or "mongodb"
	DatabaseURL    string
	DatabaseDBName string // MongoDB 数据库名称
	RedisURL       string
	APIPort        string
	Registry       RegistryConfig
	MinIO          MinIOConfig
	LLM            LLMConfig
	Runner         RunnerConfig
	Stream         StreamConfig
	Auth           AuthConfig
}
