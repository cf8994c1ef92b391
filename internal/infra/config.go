package infra

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config — корневая структура конфигурации всей платформы управления MAP.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Metrics    MetricsConfig    `mapstructure:"metrics"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Auth       AuthConfig       `mapstructure:"auth"`
	Features   FeatureConfig    `mapstructure:"features"`
	Autonomy   AutonomyConfig   `mapstructure:"autonomy"`
	Approval   ApprovalConfig   `mapstructure:"approval"`
	Federation FederationConfig `mapstructure:"federation"`
	Telemetry  TelemetryConfig  `mapstructure:"telemetry"`
	Logger     LoggerConfig     `mapstructure:"logger"`
}

// ServerConfig описывает настройки HTTP-сервера.
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// MetricsConfig — отдельный listener для Prometheus.
type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

// DatabaseConfig описывает подключение к PostgreSQL.
type DatabaseConfig struct {
	URL      string `mapstructure:"url"`
	MaxConns int32  `mapstructure:"max_conns"`
	MinConns int32  `mapstructure:"min_conns"`
}

// RedisConfig описывает подключение к Redis (Pub/Sub и счетчики квот).
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// AuthConfig содержит пути к RSA ключам и настройки JWT для Console API.
type AuthConfig struct {
	PublicKeyPath  string        `mapstructure:"public_key_path"`
	PrivateKeyPath string        `mapstructure:"private_key_path"` // Только для Console API
	TokenTTL       time.Duration `mapstructure:"token_ttl"`
	BcryptCost     int           `mapstructure:"bcrypt_cost"`
	PublicKey      []byte
	PrivateKey     []byte
}

// FeatureConfig — единый набор kill-switch флагов подсистемы.
// Флаги разбираются РОВНО ОДИН РАЗ при старте и передаются вниз по
// зависимостям: компоненты не перечитывают окружение сами, контракт
// "выключено => безопасный no-op" сохраняется, а набор флагов — auditable.
type FeatureConfig struct {
	Orchestration   bool `mapstructure:"orchestration"`
	Governance      bool `mapstructure:"governance"`
	Autonomy        bool `mapstructure:"autonomy"`
	OptimizerLocal  bool `mapstructure:"optimizer_local"`
	OptimizerGlobal bool `mapstructure:"optimizer_global"`
}

// AutonomyConfig — параметры петли автономии.
type AutonomyConfig struct {
	BaseIntervalMS int `mapstructure:"base_interval_ms"`
}

// ApprovalConfig — дневная квота автопубликаций.
type ApprovalConfig struct {
	MaxAutoPublishPerDay int `mapstructure:"max_autopublish_per_day"`
}

// FederationConfig — параметры межтенантного обмена.
type FederationConfig struct {
	TenantID          string        `mapstructure:"tenant_id"`
	Endpoints         []string      `mapstructure:"endpoints"`
	BroadcastInterval time.Duration `mapstructure:"broadcast_interval"`
	SecretPath        string        `mapstructure:"secret_path"`
	Secret            string
}

// TelemetryConfig — буфер и sink внешней телеметрии/алертов.
type TelemetryConfig struct {
	BufferSize int    `mapstructure:"buffer_size"`
	WebhookURL string `mapstructure:"webhook_url"`
}

// LoggerConfig настраивает поведение zap логгера.
type LoggerConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // json, console
}

// Канонические имена переменных окружения, которые перекрывают флаги.
// "false" выключает, любое другое значение или отсутствие — включает.
const (
	EnvOrchestration   = "ENABLE_AI_ORCHESTRATION"
	EnvGovernance      = "ENABLE_AI_GOVERNANCE"
	EnvAutonomy        = "ENABLE_AI_AUTONOMY"
	EnvOptimizerLocal  = "ENABLE_AI_OPTIMIZER_LOCAL"
	EnvOptimizerGlobal = "ENABLE_AI_OPTIMIZER_GLOBAL"
	EnvAutoPublishCap  = "AI_SA_MAX_AUTOPUBLISH_PER_DAY"
	EnvFederationToken = "FEDERATION_TOKEN_SECRET"
)

// LoadConfig инициализирует конфигурацию, объединяя значения из файла и ENV.
func LoadConfig() (*Config, error) {
	v := viper.New()

	// 1. Настройка поиска файла
	v.SetConfigName("config")    // имя файла без расширения
	v.SetConfigType("yaml")      // формат
	v.AddConfigPath(".")         // ищем в корне
	v.AddConfigPath("./configs") // и в папке с конфигами

	// 2. Настройка переменных окружения (ENV)
	// Позволяет перекрывать конфиг: SERVER_PORT=9000 перекроет server.port
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// 3. Установка дефолтных значений
	setDefaults(v)

	// 4. Чтение файла
	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Если файла нет — работаем на ENV и дефолтах
	}

	// 5. Маппинг в структуру
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode into struct: %w", err)
	}

	// 6. Канонические ENV-флаги ядра перекрывают файл
	resolveFeatureFlags(&cfg)

	// 7. Загрузка секретов из Файла ИЛИ из ENV
	cfg.Auth.PublicKey = loadKeyResource(cfg.Auth.PublicKeyPath, "AUTH_PUBLIC_KEY_DATA")
	cfg.Auth.PrivateKey = loadKeyResource(cfg.Auth.PrivateKeyPath, "AUTH_PRIVATE_KEY_DATA")
	cfg.Federation.Secret = string(loadKeyResource(cfg.Federation.SecretPath, EnvFederationToken))

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 5*time.Second)
	v.SetDefault("server.write_timeout", 10*time.Second)
	v.SetDefault("metrics.addr", ":9090")
	v.SetDefault("database.max_conns", 15)
	v.SetDefault("database.min_conns", 5)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("auth.token_ttl", 24*time.Hour)
	v.SetDefault("auth.bcrypt_cost", 10)
	v.SetDefault("features.orchestration", true)
	v.SetDefault("features.governance", true)
	v.SetDefault("features.autonomy", true)
	v.SetDefault("features.optimizer_local", true)
	v.SetDefault("features.optimizer_global", true)
	v.SetDefault("autonomy.base_interval_ms", 300_000)
	v.SetDefault("approval.max_autopublish_per_day", 2)
	v.SetDefault("federation.broadcast_interval", 5*time.Minute)
	v.SetDefault("telemetry.buffer_size", 10_000)
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "json")
}

// resolveFeatureFlags применяет канонические ENV-переменные ядра.
func resolveFeatureFlags(cfg *Config) {
	cfg.Features.Orchestration = boolFlag(EnvOrchestration, cfg.Features.Orchestration)
	cfg.Features.Governance = boolFlag(EnvGovernance, cfg.Features.Governance)
	cfg.Features.Autonomy = boolFlag(EnvAutonomy, cfg.Features.Autonomy)
	cfg.Features.OptimizerLocal = boolFlag(EnvOptimizerLocal, cfg.Features.OptimizerLocal)
	cfg.Features.OptimizerGlobal = boolFlag(EnvOptimizerGlobal, cfg.Features.OptimizerGlobal)

	if raw := os.Getenv(EnvAutoPublishCap); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n >= 0 {
			cfg.Approval.MaxAutoPublishPerDay = n
		}
	}
}

// boolFlag: "false" выключает, любое другое значение — включает,
// отсутствие переменной оставляет значение из файла/дефолта.
func boolFlag(name string, def bool) bool {
	raw, ok := os.LookupEnv(name)
	if !ok {
		return def
	}
	return !strings.EqualFold(strings.TrimSpace(raw), "false")
}

// loadKeyResource — универсальный хелпер: секрет берем либо напрямую из ENV,
// либо читаем файл по пути из конфига.
func loadKeyResource(path string, envDataKey string) []byte {
	// Если секрет прилетел напрямую в ENV (для Docker/K8s)
	if data := os.Getenv(envDataKey); data != "" {
		return []byte(data)
	}
	// Иначе читаем файл по пути из конфига
	if path != "" {
		data, err := os.ReadFile(path)
		if err == nil {
			return data
		}
	}
	return nil
}
