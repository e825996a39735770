package config

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino/components/model"
	"github.com/spf13/viper"
)

// Config aggregates the service configuration.
type Config struct {
	Server  ServerConfig
	AI      AIConfig
	Store   StoreConfig
	Session SessionConfig
	Log     LogConfig
}

// Load reads configuration from the environment and, when configFile is not
// empty, from that file. Environment variables win over file values.
func Load(configFile string) (*Config, error) {
	v := viper.New()
	v.AutomaticEnv()
	setDefaults(v)

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", configFile, err)
		}
	}

	l := loader{v: v}

	server, err := l.serverConfig()
	if err != nil {
		return nil, err
	}
	ai, err := l.aiConfig()
	if err != nil {
		return nil, err
	}
	store, err := l.storeConfig()
	if err != nil {
		return nil, err
	}
	session, err := l.sessionConfig()
	if err != nil {
		return nil, err
	}

	return &Config{
		Server:  server,
		AI:      ai,
		Store:   store,
		Session: session,
		Log: LogConfig{
			Level:  strings.ToLower(l.str("log_level")),
			Format: strings.ToLower(l.str("log_format")),
		},
	}, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("port", "8080")
	v.SetDefault("ark_base_url", "https://ark.cn-beijing.volces.com/api/v3")
	v.SetDefault("ark_region", "cn-beijing")
	v.SetDefault("llm_timeout", "60s")
	v.SetDefault("llm_max_retries", 1)
	v.SetDefault("llm_retry_backoff", "500ms")
	v.SetDefault("store_driver", StoreDriverSQLite)
	v.SetDefault("db_path", "healthassistant.db")
	v.SetDefault("session_max_turns", 100)
	v.SetDefault("session_idle_ttl", "24h")
	v.SetDefault("session_sweep_interval", "10m")
	v.SetDefault("session_cookie", "chat_session_id")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "json")
}

// ServerConfig describes the HTTP listener.
type ServerConfig struct {
	Addr string
}

// AIConfig describes the chat model backend.
type AIConfig struct {
	APIKey       string
	AccessKey    string
	SecretKey    string
	Model        string
	BaseURL      string
	Region       string
	Temperature  *float64
	TopP         *float64
	MaxTokens    *int
	Timeout      time.Duration
	MaxRetries   int
	RetryBackoff time.Duration
}

// Enabled reports whether the required credentials are present.
func (c AIConfig) Enabled() bool {
	return c.Model != "" && (c.APIKey != "" || (c.AccessKey != "" && c.SecretKey != ""))
}

// NewChatModel creates an Ark chat model from the configuration.
func (c AIConfig) NewChatModel(ctx context.Context) (model.ChatModel, error) {
	if !c.Enabled() {
		return nil, fmt.Errorf("ark credentials or model missing: set MODEL and ARK_API_KEY, or ARK_ACCESS_KEY + ARK_SECRET_KEY")
	}

	var temperature *float32
	if c.Temperature != nil {
		val := float32(*c.Temperature)
		temperature = &val
	}

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
		Temperature: temperature,
		TopP:        topP,
	}

	return ark.NewChatModel(ctx, cfg)
}

const (
	StoreDriverSQLite = "sqlite"
	StoreDriverMemory = "memory"
)

// StoreConfig selects the durable message store.
type StoreConfig struct {
	Driver string
	Path   string
}

// SessionConfig bounds the in-memory conversation contexts.
type SessionConfig struct {
	MaxTurns      int
	IdleTTL       time.Duration
	SweepInterval time.Duration
	CookieName    string
}

// LogConfig controls zerolog output.
type LogConfig struct {
	Level  string
	Format string
}

type loader struct {
	v *viper.Viper
}

func (l loader) serverConfig() (ServerConfig, error) {
	port := l.str("port")
	if port == "" {
		port = "8080"
	}

	if strings.Contains(port, ":") {
		// accept ":8080" or "127.0.0.1:8080" as is
		return ServerConfig{Addr: port}, nil
	}

	if strings.Contains(port, " ") {
		return ServerConfig{}, fmt.Errorf("invalid PORT value: %q", port)
	}

	return ServerConfig{Addr: ":" + port}, nil
}

func (l loader) aiConfig() (AIConfig, error) {
	temperature, err := l.optionalFloat("ark_temperature")
	if err != nil {
		return AIConfig{}, err
	}

	topP, err := l.optionalFloat("ark_top_p")
	if err != nil {
		return AIConfig{}, err
	}

	maxTokens, err := l.optionalInt("ark_max_tokens")
	if err != nil {
		return AIConfig{}, err
	}

	timeout, err := l.duration("llm_timeout")
	if err != nil {
		return AIConfig{}, err
	}

	retries, err := l.integer("llm_max_retries")
	if err != nil {
		return AIConfig{}, err
	}
	if retries < 0 {
		retries = 0
	}

	backoff, err := l.duration("llm_retry_backoff")
	if err != nil {
		return AIConfig{}, err
	}

	return AIConfig{
		APIKey:       l.str("ark_api_key"),
		AccessKey:    l.str("ark_access_key"),
		SecretKey:    l.str("ark_secret_key"),
		Model:        l.str("model"),
		BaseURL:      l.str("ark_base_url"),
		Region:       l.str("ark_region"),
		Temperature:  temperature,
		TopP:         topP,
		MaxTokens:    maxTokens,
		Timeout:      timeout,
		MaxRetries:   retries,
		RetryBackoff: backoff,
	}, nil
}

func (l loader) storeConfig() (StoreConfig, error) {
	driver := strings.ToLower(l.str("store_driver"))
	switch driver {
	case StoreDriverSQLite, StoreDriverMemory:
	default:
		return StoreConfig{}, fmt.Errorf("invalid STORE_DRIVER value %q: want %s or %s", driver, StoreDriverSQLite, StoreDriverMemory)
	}

	path := l.str("db_path")
	if driver == StoreDriverSQLite && path == "" {
		return StoreConfig{}, fmt.Errorf("DB_PATH is required for the %s store", StoreDriverSQLite)
	}
	return StoreConfig{Driver: driver, Path: path}, nil
}

func (l loader) sessionConfig() (SessionConfig, error) {
	maxTurns, err := l.integer("session_max_turns")
	if err != nil {
		return SessionConfig{}, err
	}
	if maxTurns < 0 {
		return SessionConfig{}, fmt.Errorf("invalid SESSION_MAX_TURNS value %d: must not be negative", maxTurns)
	}

	ttl, err := l.duration("session_idle_ttl")
	if err != nil {
		return SessionConfig{}, err
	}

	interval, err := l.duration("session_sweep_interval")
	if err != nil {
		return SessionConfig{}, err
	}

	cookie := l.str("session_cookie")
	if cookie == "" {
		cookie = "chat_session_id"
	}

	return SessionConfig{
		MaxTurns:      maxTurns,
		IdleTTL:       ttl,
		SweepInterval: interval,
		CookieName:    cookie,
	}, nil
}

func (l loader) str(key string) string {
	return strings.TrimSpace(l.v.GetString(key))
}

func envName(key string) string {
	return strings.ToUpper(key)
}

func (l loader) integer(key string) (int, error) {
	raw := l.str(key)
	if raw == "" {
		return 0, nil
	}
	val, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value %q: %w", envName(key), raw, err)
	}
	return val, nil
}

func (l loader) duration(key string) (time.Duration, error) {
	raw := l.str(key)
	if raw == "" {
		return 0, nil
	}
	val, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value %q: %w", envName(key), raw, err)
	}
	if val < 0 {
		return 0, fmt.Errorf("invalid %s value %q: must not be negative", envName(key), raw)
	}
	return val, nil
}

func (l loader) optionalFloat(key string) (*float64, error) {
	raw := l.str(key)
	if raw == "" {
		return nil, nil
	}
	val, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", envName(key), raw, err)
	}
	return &val, nil
}

func (l loader) optionalInt(key string) (*int, error) {
	raw := l.str(key)
	if raw == "" {
		return nil, nil
	}
	val, err := strconv.Atoi(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", envName(key), raw, err)
	}
	return &val, nil
}
