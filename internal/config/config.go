package config

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino/components/model"
)

// 支持的上游模型提供方。
const (
	ProviderGemini = "gemini"
	ProviderArk    = "ark"
)

// 支持的会话快照存储。
const (
	StoreMemory = "memory"
	StoreSQLite = "sqlite"
	StoreRedis  = "redis"
)

// StartupError 表示启动阶段无法恢复的配置错误（如缺失凭证），调用方应立即退出。
type StartupError struct {
	Key    string
	Reason string
}

func (e *StartupError) Error() string {
	return fmt.Sprintf("startup config %s: %s", e.Key, e.Reason)
}

// Config 聚合整个服务的配置项。
type Config struct {
	Server ServerConfig
	Log    LogConfig
	AI     AIConfig
	Chat   ChatConfig
	Store  StoreConfig
}

// Load 从环境变量加载配置。
func Load() (*Config, error) {
	server, err := loadServerConfig()
	if err != nil {
		return nil, err
	}

	ai, err := loadAIConfig()
	if err != nil {
		return nil, err
	}

	chat, err := loadChatConfig()
	if err != nil {
		return nil, err
	}

	store, err := loadStoreConfig()
	if err != nil {
		return nil, err
	}

	return &Config{
		Server: server,
		Log: LogConfig{
			Level:  getEnvOrDefault("LOG_LEVEL", "info"),
			Format: getEnvOrDefault("LOG_FORMAT", "json"),
		},
		AI:    ai,
		Chat:  chat,
		Store: store,
	}, nil
}

// ServerConfig 描述 HTTP 服务配置。
type ServerConfig struct {
	Addr string
}

// loadServerConfig 解析服务器监听地址。
func loadServerConfig() (ServerConfig, error) {
	port := strings.TrimSpace(os.Getenv("PORT"))
	if port == "" {
		port = "8080"
	}

	if strings.Contains(port, ":") {
		// 允许用户直接传入 ":8080" 或 "127.0.0.1:8080"。
		return ServerConfig{Addr: port}, nil
	}

	if strings.Contains(port, " ") {
		return ServerConfig{}, fmt.Errorf("invalid PORT value: %q", port)
	}

	return ServerConfig{Addr: ":" + port}, nil
}

// LogConfig 描述日志输出。
type LogConfig struct {
	Level  string
	Format string
}

// AIConfig 描述大模型相关配置。
type AIConfig struct {
	Provider string
	Timeout  time.Duration
	Gemini   GeminiConfig
	Ark      ArkConfig
}

// GeminiConfig 描述 Gemini 接入配置。
type GeminiConfig struct {
	APIKey string
	Model  string
}

// ArkConfig 描述火山方舟接入配置。
type ArkConfig struct {
	APIKey    string
	AccessKey string
	SecretKey string
	Model     string
	BaseURL   string
	Region    string
	TopP      *float64
	MaxTokens *int
}

// Enabled 表示是否提供了必需的密钥。
func (c ArkConfig) Enabled() bool {
	return c.Model != "" && (c.APIKey != "" || (c.AccessKey != "" && c.SecretKey != ""))
}

// NewChatModel 使用配置创建一个绑定温度的模型实例。
func (c ArkConfig) NewChatModel(ctx context.Context, temperature float64, timeout time.Duration) (model.ChatModel, error) {
	if !c.Enabled() {
		return nil, fmt.Errorf("Ark 凭证或模型配置缺失，至少提供 ARK_API_KEY + ARK_MODEL 或 AK/SK 组合")
	}

	temp := float32(temperature)

	var topP *float32
	if c.TopP != nil {
		val := float32(*c.TopP)
		topP = &val
	}

	var maxTokens *int
	if c.MaxTokens != nil {
		val := *c.MaxTokens
		maxTokens = &val
	}

	cfg := &ark.ChatModelConfig{
		BaseURL:     c.BaseURL,
		Region:      c.Region,
		APIKey:      c.APIKey,
		AccessKey:   c.AccessKey,
		SecretKey:   c.SecretKey,
		Model:       c.Model,
		MaxTokens:   maxTokens,
		Temperature: &temp,
		TopP:        topP,
	}
	if timeout > 0 {
		cfg.Timeout = &timeout
	}

	return ark.NewChatModel(ctx, cfg)
}

func loadAIConfig() (AIConfig, error) {
	provider := strings.ToLower(getEnvOrDefault("TOFU_PROVIDER", ProviderGemini))

	timeout, err := parseDurationEnv("UPSTREAM_TIMEOUT", 60*time.Second)
	if err != nil {
		return AIConfig{}, err
	}

	cfg := AIConfig{
		Provider: provider,
		Timeout:  timeout,
		Gemini: GeminiConfig{
			APIKey: strings.TrimSpace(os.Getenv("GEMINI_API_KEY")),
			Model:  getEnvOrDefault("GEMINI_MODEL", "gemini-2.5-flash"),
		},
	}

	switch provider {
	case ProviderGemini:
		if cfg.Gemini.APIKey == "" {
			return AIConfig{}, &StartupError{Key: "GEMINI_API_KEY", Reason: "missing; set it in the environment or .env"}
		}
	case ProviderArk:
		topP, err := parseOptionalFloatEnv("ARK_TOP_P")
		if err != nil {
			return AIConfig{}, err
		}
		maxTokens, err := parseOptionalIntEnv("ARK_MAX_TOKENS")
		if err != nil {
			return AIConfig{}, err
		}
		cfg.Ark = ArkConfig{
			APIKey:    strings.TrimSpace(os.Getenv("ARK_API_KEY")),
			AccessKey: strings.TrimSpace(os.Getenv("ARK_ACCESS_KEY")),
			SecretKey: strings.TrimSpace(os.Getenv("ARK_SECRET_KEY")),
			Model:     strings.TrimSpace(os.Getenv("ARK_MODEL")),
			BaseURL:   getEnvOrDefault("ARK_BASE_URL", "https://ark.cn-beijing.volces.com/api/v3"),
			Region:    getEnvOrDefault("ARK_REGION", "cn-beijing"),
			TopP:      topP,
			MaxTokens: maxTokens,
		}
		if !cfg.Ark.Enabled() {
			return AIConfig{}, &StartupError{Key: "ARK_API_KEY", Reason: "missing Ark credentials or ARK_MODEL"}
		}
	default:
		return AIConfig{}, &StartupError{Key: "TOFU_PROVIDER", Reason: fmt.Sprintf("unsupported provider %q", provider)}
	}

	return cfg, nil
}

// ChatConfig 描述会话层参数。
type ChatConfig struct {
	DefaultTemperature float64
	ReplayHistory      bool
	PersonasFile       string
	IdleTimeout        time.Duration
}

func loadChatConfig() (ChatConfig, error) {
	temperature := 0.4
	if override, err := parseOptionalFloatEnv("TOFU_DEFAULT_TEMPERATURE"); err != nil {
		return ChatConfig{}, err
	} else if override != nil {
		if *override < 0 || *override > 1 {
			return ChatConfig{}, &StartupError{Key: "TOFU_DEFAULT_TEMPERATURE", Reason: "must be within [0, 1]"}
		}
		temperature = *override
	}

	replay, err := parseBoolEnv("TOFU_REPLAY_HISTORY", false)
	if err != nil {
		return ChatConfig{}, err
	}

	idle, err := parseDurationEnv("SESSION_IDLE_TIMEOUT", 30*time.Minute)
	if err != nil {
		return ChatConfig{}, err
	}

	return ChatConfig{
		DefaultTemperature: temperature,
		ReplayHistory:      replay,
		PersonasFile:       strings.TrimSpace(os.Getenv("TOFU_PERSONAS_FILE")),
		IdleTimeout:        idle,
	}, nil
}

// StoreConfig 描述会话快照存储。
type StoreConfig struct {
	Driver        string
	SQLiteDSN     string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisTTL      time.Duration
}

func loadStoreConfig() (StoreConfig, error) {
	driver := strings.ToLower(getEnvOrDefault("TOFU_STORE", StoreMemory))
	switch driver {
	case StoreMemory, StoreSQLite, StoreRedis:
	default:
		return StoreConfig{}, &StartupError{Key: "TOFU_STORE", Reason: fmt.Sprintf("unsupported store %q", driver)}
	}

	db := 0
	if override, err := parseOptionalIntEnv("TOFU_REDIS_DB"); err != nil {
		return StoreConfig{}, err
	} else if override != nil {
		db = *override
	}

	ttl, err := parseDurationEnv("TOFU_REDIS_TTL", 24*time.Hour)
	if err != nil {
		return StoreConfig{}, err
	}

	return StoreConfig{
		Driver:        driver,
		SQLiteDSN:     getEnvOrDefault("TOFU_SQLITE_DSN", "file:tofu.db?_busy_timeout=5000"),
		RedisAddr:     getEnvOrDefault("TOFU_REDIS_ADDR", "localhost:6379"),
		RedisPassword: os.Getenv("TOFU_REDIS_PASSWORD"),
		RedisDB:       db,
		RedisTTL:      ttl,
	}, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func parseBoolEnv(key string, defaultValue bool) (bool, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}

	val, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	return val, nil
}

func parseDurationEnv(key string, defaultValue time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}

	val, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	if val < 0 {
		return 0, fmt.Errorf("invalid %s value %q: must not be negative", key, raw)
	}
	return val, nil
}

func parseOptionalFloatEnv(key string) (*float64, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}

func parseOptionalIntEnv(key string) (*int, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.Atoi(value)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}
