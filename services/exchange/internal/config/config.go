package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	StorageMemory   = "memory"
	StoragePostgres = "postgres"
)

// Config 서비스 설정
type Config struct {
	ServiceName  string         `mapstructure:"service_name"`
	Development  bool           `mapstructure:"development"`
	Storage      string         `mapstructure:"storage"`
	FixturesFile string         `mapstructure:"fixtures_file"`
	MachineID    uint16         `mapstructure:"machine_id"`
	HTTP         HTTPConfig     `mapstructure:"http"`
	Database     DatabaseConfig `mapstructure:"database"`
	Redis        RedisConfig    `mapstructure:"redis"`
	Kafka        KafkaConfig    `mapstructure:"kafka"`
	Pickup       PickupConfig   `mapstructure:"pickup"`
	Worker       WorkerConfig   `mapstructure:"worker"`
	Exchange     ExchangeConfig `mapstructure:"exchange"`
	Auth         AuthConfig     `mapstructure:"auth"`
}

type HTTPConfig struct {
	Port            int           `mapstructure:"port"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type KafkaConfig struct {
	Enabled bool     `mapstructure:"enabled"`
	Brokers []string `mapstructure:"brokers"`
	GroupID string   `mapstructure:"group_id"`
}

// PickupConfig 회수 예약 연동. Endpoint 가 비면 즉시 예약
type PickupConfig struct {
	Endpoint        string        `mapstructure:"endpoint"`
	Timeout         time.Duration `mapstructure:"timeout"`
	MaxAttempts     int           `mapstructure:"max_attempts"`
	InitialInterval time.Duration `mapstructure:"initial_interval"`
}

type WorkerConfig struct {
	OutboxInterval     time.Duration `mapstructure:"outbox_interval"`
	OutboxBatchSize    int           `mapstructure:"outbox_batch_size"`
	ReconcileInterval  time.Duration `mapstructure:"reconcile_interval"`
	ReconcileBatchSize int           `mapstructure:"reconcile_batch_size"`
}

type ExchangeConfig struct {
	RequireRejectNotes bool `mapstructure:"require_reject_notes"`
	DecrementStock     bool `mapstructure:"decrement_stock"`
}

type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret"`
	Issuer    string `mapstructure:"issuer"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("service_name", "exchange-service")
	v.SetDefault("development", true)
	v.SetDefault("storage", StoragePostgres)
	v.SetDefault("fixtures_file", "")
	v.SetDefault("machine_id", 1)

	v.SetDefault("http.port", 8004)
	v.SetDefault("http.shutdown_timeout", 10*time.Second)

	v.SetDefault("database.dsn", "")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 10)
	v.SetDefault("database.conn_max_lifetime", 5*time.Minute)

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("kafka.enabled", true)
	v.SetDefault("kafka.brokers", []string{"localhost:9093"})
	v.SetDefault("kafka.group_id", "exchange-service-group")

	v.SetDefault("pickup.endpoint", "")
	v.SetDefault("pickup.timeout", 5*time.Second)
	v.SetDefault("pickup.max_attempts", 3)
	v.SetDefault("pickup.initial_interval", 200*time.Millisecond)

	v.SetDefault("worker.outbox_interval", time.Second)
	v.SetDefault("worker.outbox_batch_size", 100)
	v.SetDefault("worker.reconcile_interval", time.Minute)
	v.SetDefault("worker.reconcile_batch_size", 50)

	v.SetDefault("exchange.require_reject_notes", false)
	v.SetDefault("exchange.decrement_stock", true)

	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.issuer", "exchange-service")
}

// Load 설정 로드. 우선순위: 환경변수 > 설정 파일 > 기본값
func Load(confFile string) (*Config, error) {
	// 로컬 개발용 .env. 없으면 무시
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)

	// database.dsn -> DATABASE_DSN
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if confFile != "" {
		v.SetConfigFile(confFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &cfg, nil
}

// Validate 설정 검증
func (c *Config) Validate() error {
	var errs []error

	switch c.Storage {
	case StorageMemory:
	case StoragePostgres:
		if c.Database.DSN == "" {
			errs = append(errs, errors.New("database.dsn is required for postgres storage"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown storage %q", c.Storage))
	}

	if c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("auth.jwt_secret is required"))
	}
	if c.HTTP.Port <= 0 {
		errs = append(errs, errors.New("http.port must be positive"))
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		errs = append(errs, errors.New("kafka.brokers is required when kafka is enabled"))
	}
	if c.Pickup.Timeout <= 0 || c.Pickup.InitialInterval <= 0 {
		errs = append(errs, errors.New("pickup timeout and initial interval must be positive"))
	}
	if c.Pickup.MaxAttempts < 1 {
		errs = append(errs, errors.New("pickup.max_attempts must be at least 1"))
	}
	if c.Worker.OutboxInterval <= 0 || c.Worker.ReconcileInterval <= 0 {
		errs = append(errs, errors.New("worker intervals must be positive"))
	}
	if c.Worker.OutboxBatchSize <= 0 || c.Worker.ReconcileBatchSize <= 0 {
		errs = append(errs, errors.New("worker batch sizes must be positive"))
	}

	return errors.Join(errs...)
}

// KafkaEnabled 메모리 모드에서는 Kafka/Redis 없이 동작
func (c *Config) KafkaEnabled() bool {
	return c.Kafka.Enabled && c.Storage != StorageMemory
}
