package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Load 加载配置
//  1. 加载 .env.{env}（dev/test）
//  2. 加载 {env}.yaml
//  3. 环境变量覆盖
func Load() (*Config, error) {
	env := parseEnv(getEnv("APP_ENV", "dev"))
	loadEnvFiles(env)

	yamlCfg, err := loadYAMLConfig()
	if err != nil {
		return nil, err
	}
	applyEnvOverrides(&yamlCfg.YAMLConfig)

	dbURL := firstEnv("MONGO_URI", "DATABASE_URL")
	if dbURL == "" {
		dbURL = legacyDatabaseURL()
	}
	if dbURL == "" {
		dbURL = buildDatabaseURL(yamlCfg.Database)
	}

	cfg := &Config{
		Env:             env,
		DatabaseDriver:  detectDatabaseDriver(yamlCfg.Database.Driver, dbURL),
		DatabaseURL:     dbURL,
		DatabaseDBName:  yamlCfg.Database.Name,
		DatabaseTimeout: yamlCfg.Database.Timeout,
		RedisURL:        buildRedisURL(yamlCfg.Redis),
		APIServer:       yamlCfg.APIServer,
		Auth:            yamlCfg.Auth,
		Query:           yamlCfg.Query,
		RateLimit:       yamlCfg.RateLimit,
		Log:             yamlCfg.Log,
		ConfigFilePath:  yamlCfg.loadedFrom,
	}
	if cfg.DatabaseDriver == DriverMemory {
		cfg.DatabaseURL = ""
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// defaultYAMLConfig 代码默认值
func defaultYAMLConfig() YAMLConfig {
	return YAMLConfig{
		APIServer: APIServerConfig{
			Port:            "3000",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Database: DatabaseConfig{
			Driver:  DriverMongoDB,
			Host:    "localhost",
			Port:    27017,
			Name:    "natours",
			Timeout: 10 * time.Second,
		},
		Auth:      AuthConfig{TokenTTL: 90 * 24 * time.Hour},
		Query:     QueryConfig{DefaultLimit: 100, MaxLimit: 1000},
		RateLimit: RateLimitConfig{Enabled: true, Max: 100, Window: time.Hour},
		Log:       LogConfig{Level: "info", Format: "text"},
	}
}

// loadYAMLConfig 加载 YAML 配置文件
// 加载顺序：默认值 → {env}.yaml；文件不存在时只用默认值
func loadYAMLConfig() (*yamlConfigInternal, error) {
	cfg := &yamlConfigInternal{YAMLConfig: defaultYAMLConfig()}

	path := findConfigFile()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg.YAMLConfig); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	cfg.loadedFrom = path
	return cfg, nil
}

// applyEnvOverrides 环境变量覆盖 YAML 配置
func applyEnvOverrides(y *YAMLConfig) {
	if v := firstEnv("API_PORT", "PORT"); v != "" {
		y.APIServer.Port = v
	}
	if v := os.Getenv("DB_DRIVER"); v != "" {
		y.Database.Driver = v
	}
	if v := os.Getenv("DB_NAME"); v != "" {
		y.Database.Name = v
	}
	y.Database.Password = firstEnv("DB_PASSWORD", "DATABASE_PASSWORD")
	if v := os.Getenv("REDIS_URL"); v != "" {
		y.Redis.URL = v
	}
	y.Redis.Password = os.Getenv("REDIS_PASSWORD")
	y.Auth.JWTSecret = os.Getenv("JWT_SECRET")
	if v := os.Getenv("JWT_EXPIRES_IN"); v != "" {
		if d, err := parseTTL(v); err == nil {
			y.Auth.TokenTTL = d
		}
	}
	if v := os.Getenv("RATE_LIMIT_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			y.RateLimit.Enabled = b
		}
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		y.Log.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		y.Log.Format = v
	}
}

// legacyDatabaseURL 兼容 DATABASE=mongodb+srv://user:<PASSWORD>@host 写法
func legacyDatabaseURL() string {
	uri := os.Getenv("DATABASE")
	if uri == "" {
		return ""
	}
	return strings.ReplaceAll(uri, "<PASSWORD>", os.Getenv("DATABASE_PASSWORD"))
}

// parseTTL 解析 "90d" 或 Go duration
func parseTTL(s string) (time.Duration, error) {
	if days, ok := strings.CutSuffix(s, "d"); ok {
		n, err := strconv.Atoi(days)
		if err != nil {
			return 0, fmt.Errorf("invalid ttl %q", s)
		}
		return time.Duration(n) * 24 * time.Hour, nil
	}
	return time.ParseDuration(s)
}

// validate 校验并填充默认值
func (c *Config) validate() error {
	switch c.DatabaseDriver {
	case DriverMongoDB, DriverMemory:
	default:
		return fmt.Errorf("unsupported database driver %q", c.DatabaseDriver)
	}
	if c.Query.DefaultLimit <= 0 {
		c.Query.DefaultLimit = 100
	}
	if c.Query.MaxLimit <= 0 {
		c.Query.MaxLimit = 1000
	}
	if c.Query.DefaultLimit > c.Query.MaxLimit {
		c.Query.DefaultLimit = c.Query.MaxLimit
	}
	if c.RateLimit.Max <= 0 {
		c.RateLimit.Max = 100
	}
	if c.RateLimit.Window <= 0 {
		c.RateLimit.Window = time.Hour
	}
	if c.DatabaseTimeout <= 0 {
		c.DatabaseTimeout = 10 * time.Second
	}
	return nil
}
