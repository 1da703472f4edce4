package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

var configPaths = []string{
	"configs",
	"../configs",
	"../../configs",
	"../../../configs",
}

var envPaths = []string{
	".env",
	"../.env",
	"../../.env",
	"../../../.env",
}

// Load 加载配置
// 1. 加载 .env（敏感信息 + APP_ENV）
// 2. 根据 APP_ENV 加载 configs/{env}.yaml
// 3. 环境变量覆盖，构建最终配置
func Load() *Config {
	// godotenv.Load 不覆盖已有环境变量，shell 优先
	for _, p := range envPaths {
		if err := godotenv.Load(p); err == nil {
			break
		}
	}

	env := parseEnv(getEnv("APP_ENV", "dev"))
	yamlCfg := loadYAMLConfig(env)

	// 凭据只从环境变量取
	yamlCfg.Database.Password = getEnv("DB_PASSWORD", getEnv("MONGO_ROOT_PASSWORD", ""))
	yamlCfg.Redis.Password = os.Getenv("REDIS_PASSWORD")
	yamlCfg.MinIO.AccessKey = os.Getenv("MINIO_ROOT_USER")
	yamlCfg.MinIO.SecretKey = os.Getenv("MINIO_ROOT_PASSWORD")
	yamlCfg.LLM.APIKey = os.Getenv("LLM_API_KEY")
	yamlCfg.Auth.JWTSecret = os.Getenv("JWT_SECRET")

	driver := strings.ToLower(yamlCfg.Database.Driver)
	if driver == "" {
		driver = "postgres"
	}

	cfg := &Config{
		Env:            env,
		DatabaseDriver: driver,
		DatabaseURL:    buildDatabaseURL(yamlCfg.Database),
		DatabaseDBName: yamlCfg.Database.Name,
		RedisURL:       buildRedisURL(yamlCfg.Redis),
		APIPort:        yamlCfg.APIServer.Port,
		Registry:       yamlCfg.Registry,
		MinIO:          yamlCfg.MinIO,
		LLM:            yamlCfg.LLM,
		Runner:         yamlCfg.Runner,
		Stream:         yamlCfg.Stream,
		Auth:           yamlCfg.Auth,
	}
	cfg.Runner.validate()
	return cfg
}

// loadYAMLConfig 加载 YAML 配置文件
// 加载顺序：默认值 → common.yaml → {env}.yaml
func loadYAMLConfig(env Environment) *YAMLConfig {
	cfg := &YAMLConfig{
		APIServer: APIServerConfig{Port: "8080"},
		Database:  DatabaseConfig{Driver: "postgres", Host: "localhost", Port: 5432, User: "agents", Name: "agents_runtime", SSLMode: "disable"},
		Redis:     RedisConfig{Host: "localhost", Port: 6379, DB: 0},
		Registry:  RegistryConfig{Backend: "redis", EtcdEndpoints: []string{"localhost:2379"}, EtcdPrefix: "/agents-runtime"},
		MinIO:     MinIOConfig{Endpoint: "localhost:9000", Bucket: "agents-runtime"},
		LLM:       LLMConfig{BaseURL: "http://localhost:8000", DefaultModel: "gpt-4o-mini"},
		Runner: RunnerConfig{
			MaxIterations:       25,
			MaxToolCallsPerTurn: 32,
			TokenThreshold:      120000,
			SummaryTargetTokens: 10000,
			ReconcileInterval:   Duration(10 * time.Minute),
			StaleRunAge:         Duration(30 * time.Minute),
			MarkerRefresh:       Duration(5 * time.Minute),
		},
		Stream: StreamConfig{
			PollInterval:    Duration(500 * time.Millisecond),
			WatchdogTimeout: Duration(30 * time.Minute),
		},
		Auth: AuthConfig{AccessTokenTTL: "15m", Enabled: true},
	}

	// common.yaml（公共配置）
	for _, base := range effectiveConfigPaths() {
		path := filepath.Join(base, "common.yaml")
		if data, err := os.ReadFile(path); err == nil {
			yaml.Unmarshal(data, cfg)
			break
		}
	}

	// {env}.yaml（环境特定配置，覆盖公共配置）
	filename := fmt.Sprintf("%s.yaml", env)
	for _, base := range effectiveConfigPaths() {
		path := filepath.Join(base, filename)
		if data, err := os.ReadFile(path); err == nil {
			yaml.Unmarshal(data, cfg)
			break
		}
	}

	return cfg
}

// effectiveConfigPaths 返回实际搜索路径
// CONFIG_DIR 环境变量优先于默认搜索路径
func effectiveConfigPaths() []string {
	if dir := os.Getenv("CONFIG_DIR"); dir != "" {
		return []string{dir}
	}
	return configPaths
}

// buildDatabaseURL 根据驱动类型构建数据库连接字符串
func buildDatabaseURL(db DatabaseConfig) string {
	switch strings.ToLower(db.Driver) {
	case "sqlite":
		dbPath := db.Path
		if dbPath == "" {
			dbPath = "/var/lib/agents-runtime/agents-runtime.db"
		}
		return fmt.Sprintf("file:%s?cache=shared&mode=rwc", dbPath)
	case "mongodb":
		if db.URI != "" {
			return db.URI
		}
		if db.User != "" && db.Password != "" {
			return fmt.Sprintf("mongodb://%s:%s@%s:%d", db.User, db.Password, db.Host, db.Port)
		}
		return fmt.Sprintf("mongodb://%s:%d", db.Host, db.Port)
	default: // postgres
		return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
			db.User, db.Password, db.Host, db.Port, db.Name, db.SSLMode)
	}
}

// buildRedisURL 构建 Redis 连接字符串
func buildRedisURL(redis RedisConfig) string {
	if redis.URL != "" {
		return redis.URL
	}
	if redis.Password != "" {
		return fmt.Sprintf("redis://:%s@%s:%d/%d", redis.Password, redis.Host, redis.Port, redis.DB)
	}
	return fmt.Sprintf("redis://%s:%d/%d", redis.Host, redis.Port, redis.DB)
}

func parseEnv(env string) Environment {
	switch strings.ToLower(env) {
	case "test":
		return EnvTest
	case "prod", "production":
		return EnvProduction
	default:
		return EnvDevelopment
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// IsTest 是否为测试环境
func (c *Config) IsTest() bool {
	return c.Env == EnvTest
}

// String 返回配置摘要（隐藏密码）
func (c *Config) String() string {
	return fmt.Sprintf("Config{Env: %s, Driver: %s, DB: %s, Redis: %s}",
		c.Env, c.DatabaseDriver, maskPassword(c.DatabaseURL), maskPassword(c.RedisURL))
}

// maskPassword 隐藏密码
func maskPassword(url string) string {
	re := regexp.MustCompile(`(://[^:/]*:)([^@]+)(@)`)
	return re.ReplaceAllString(url, "${1}***${3}")
}

// validate 验证并填充执行域默认值
func (r *RunnerConfig) validate() {
	if r.MaxIterations <= 0 {
		r.MaxIterations = 25
	}
	if r.MaxToolCallsPerTurn <= 0 {
		r.MaxToolCallsPerTurn = 32
	}
	if r.TokenThreshold <= 0 {
		r.TokenThreshold = 120000
	}
	if r.SummaryTargetTokens <= 0 {
		r.SummaryTargetTokens = 10000
	}
	if r.ReconcileInterval <= 0 {
		r.ReconcileInterval = Duration(10 * time.Minute)
	}
	if r.StaleRunAge <= 0 {
		r.StaleRunAge = Duration(30 * time.Minute)
	}
	if r.MarkerRefresh <= 0 {
		r.MarkerRefresh = Duration(5 * time.Minute)
	}
}
