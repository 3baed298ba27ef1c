package config

import (
	"errors"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Cache    CacheConfig    `mapstructure:"cache"`
	AI       AIConfig       `mapstructure:"ai"`
	Security SecurityConfig `mapstructure:"security"`
}

type ServerConfig struct {
	Port  int  `mapstructure:"port"`
	Debug bool `mapstructure:"debug"`
	// AdminPassword gates the admin session endpoints. It may be plaintext or a
	// bcrypt hash ("$2a$..."). Empty disables admin routes entirely.
	AdminPassword string `mapstructure:"admin_password"`
	AdminKey      string `mapstructure:"admin_key"` // static X-Admin-Key for scripts
	SessionSecret string `mapstructure:"session_secret"`
	FrontendURL   string `mapstructure:"frontend_url"`
}

type StorageConfig struct {
	Mode          string        `mapstructure:"mode"` // "" (auto) | file | sqlite | mysql | mongo
	DataDir       string        `mapstructure:"data_dir"`
	SQLitePath    string        `mapstructure:"sqlite_path"`
	MySQLDSN      string        `mapstructure:"mysql_dsn"`
	MySQLMaxOpen  int           `mapstructure:"mysql_max_open"`
	MySQLMaxIdle  int           `mapstructure:"mysql_max_idle"`
	MySQLMaxLife  time.Duration `mapstructure:"mysql_max_life"`
	MongoURI      string        `mapstructure:"mongo_uri"`
	MongoDatabase string        `mapstructure:"mongo_database"`
	SeedDir       string        `mapstructure:"seed_dir"` // *.json quests imported at startup
}

type CacheConfig struct {
	RedisAddr       string        `mapstructure:"redis_addr"`
	RedisPassword   string        `mapstructure:"redis_password"`
	RedisDB         int           `mapstructure:"redis_db"`
	LocalGCInterval time.Duration `mapstructure:"local_gc_interval"`
	LocalPubSubBuf  int           `mapstructure:"local_pubsub_buf"`
}

type AIConfig struct {
	Provider   string           `mapstructure:"provider"` // "" (auto) | openai | anthropic | gemini | openrouter | none
	OpenAI     AIProviderConfig `mapstructure:"openai"`
	Anthropic  AIProviderConfig `mapstructure:"anthropic"`
	Gemini     AIProviderConfig `mapstructure:"gemini"`
	OpenRouter AIProviderConfig `mapstructure:"openrouter"`
	Timeout    time.Duration    `mapstructure:"timeout"`
	MaxTokens  int              `mapstructure:"max_tokens"`
}

type AIProviderConfig struct {
	APIKey  string `mapstructure:"api_key"`
	Model   string `mapstructure:"model"`
	BaseURL string `mapstructure:"base_url"`
}

type SecurityConfig struct {
	JWTTTL         time.Duration `mapstructure:"jwt_ttl"`
	SessionTTL     time.Duration `mapstructure:"session_ttl"`
	RateLimitRPS   float64       `mapstructure:"rate_limit_rps"`
	RateLimitBurst int           `mapstructure:"rate_limit_burst"`
	AdminIPs       []string      `mapstructure:"admin_ips"` // empty allows any address
}

const envPrefix = "AQ"

// Load reads config from the given YAML file path. A missing file is not an
// error: defaults and environment variables still apply.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := bindWellKnownEnv(v); err != nil {
		return nil, err
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 3001)
	v.SetDefault("server.debug", false)
	v.SetDefault("server.admin_password", "")
	v.SetDefault("server.admin_key", "")
	v.SetDefault("server.session_secret", "ai-quest-secret")
	v.SetDefault("server.frontend_url", "http://localhost:5173")
	v.SetDefault("storage.mode", "")
	v.SetDefault("storage.data_dir", "./data")
	v.SetDefault("storage.sqlite_path", "./data/quests.db")
	v.SetDefault("storage.mysql_dsn", "")
	v.SetDefault("storage.mysql_max_open", 20)
	v.SetDefault("storage.mysql_max_idle", 5)
	v.SetDefault("storage.mysql_max_life", "1h")
	v.SetDefault("storage.mongo_uri", "")
	v.SetDefault("storage.mongo_database", "aiquest")
	v.SetDefault("storage.seed_dir", "")
	v.SetDefault("cache.redis_addr", "")
	v.SetDefault("cache.redis_password", "")
	v.SetDefault("cache.redis_db", 0)
	v.SetDefault("cache.local_gc_interval", "30s")
	v.SetDefault("cache.local_pubsub_buf", 256)
	v.SetDefault("ai.provider", "")
	v.SetDefault("ai.openai.api_key", "")
	v.SetDefault("ai.openai.model", "gpt-4o-mini")
	v.SetDefault("ai.openai.base_url", "")
	v.SetDefault("ai.anthropic.api_key", "")
	v.SetDefault("ai.anthropic.model", "claude-haiku")
	v.SetDefault("ai.gemini.api_key", "")
	v.SetDefault("ai.gemini.model", "gemini-flash")
	v.SetDefault("ai.openrouter.api_key", "")
	v.SetDefault("ai.openrouter.model", "google/gemini-2.0-flash-exp")
	v.SetDefault("ai.openrouter.base_url", "")
	v.SetDefault("ai.timeout", "10s")
	v.SetDefault("ai.max_tokens", 200)
	v.SetDefault("security.jwt_ttl", "24h")
	v.SetDefault("security.session_ttl", "720h")
	v.SetDefault("security.rate_limit_rps", 20)
	v.SetDefault("security.rate_limit_burst", 40)
	v.SetDefault("security.admin_ips", []string{})
}

// wellKnownEnv maps config keys to the conventional unprefixed variables, so
// a plain OPENAI_API_KEY is enough to switch on AI validation.
var wellKnownEnv = map[string][]string{
	"server.port":           {"AQ_SERVER_PORT", "PORT"},
	"server.admin_password": {"AQ_SERVER_ADMIN_PASSWORD", "ADMIN_PASSWORD"},
	"server.session_secret": {"AQ_SERVER_SESSION_SECRET", "SESSION_SECRET"},
	"server.frontend_url":   {"AQ_SERVER_FRONTEND_URL", "FRONTEND_URL"},
	"storage.mysql_dsn":     {"AQ_STORAGE_MYSQL_DSN", "MYSQL_DSN"},
	"storage.mongo_uri":     {"AQ_STORAGE_MONGO_URI", "MONGO_URI"},
	"cache.redis_addr":      {"AQ_CACHE_REDIS_ADDR", "REDIS_ADDR"},
	"ai.openai.api_key":     {"AQ_AI_OPENAI_API_KEY", "OPENAI_API_KEY"},
	"ai.anthropic.api_key":  {"AQ_AI_ANTHROPIC_API_KEY", "ANTHROPIC_API_KEY"},
	"ai.gemini.api_key":     {"AQ_AI_GEMINI_API_KEY", "GEMINI_API_KEY"},
	"ai.openrouter.api_key": {"AQ_AI_OPENROUTER_API_KEY", "OPENROUTER_API_KEY"},
}

func bindWellKnownEnv(v *viper.Viper) error {
	for key, envs := range wellKnownEnv {
		args := append([]string{key}, envs...)
		if err := v.BindEnv(args...); err != nil {
			return err
		}
	}
	return nil
}
