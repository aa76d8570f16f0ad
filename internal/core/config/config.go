package config

import (
	"strings"
	"time"

	"github.com/vietddude/collector/internal/core/domain"
	"github.com/vietddude/collector/internal/infra/kafka"
	redisclient "github.com/vietddude/collector/internal/infra/redis"
	"github.com/vietddude/collector/internal/infra/replay"
	"github.com/vietddude/collector/internal/infra/storage/postgres"
)

// MaxRetryAttempts caps every configured retry budget.
const MaxRetryAttempts = 10

// AppConfig represents the top-level configuration.
type AppConfig struct {
	Server    ServerConfig       `yaml:"server"`
	Kafka     KafkaConfig        `yaml:"kafka"`
	Redis     redisclient.Config `yaml:"redis"`
	Database  postgres.Config    `yaml:"database"`
	Logging   LoggingConfig      `yaml:"logging"`
	Retry     RetryConfig        `yaml:"retry"`
	Alerting  AlertingConfig     `yaml:"alerting"`
	Retention RetentionConfig    `yaml:"retention"`
	Replay    replay.Config      `yaml:"replay"`
	Events    EventsConfig       `yaml:"events"`
}

// ServerConfig holds HTTP and gRPC server settings.
type ServerConfig struct {
	Port           int     `yaml:"port"`
	GRPCPort       int     `yaml:"grpc_port"` // 0 = disabled
	RateLimitRPS   float64 `yaml:"rate_limit_rps"`
	RateLimitBurst int     `yaml:"rate_limit_burst"`
}

// KafkaConfig holds broker settings. No brokers means no consumers and a log-only emitter.
type KafkaConfig struct {
	kafka.Config     `yaml:",inline"`
	DeadLetterSuffix string `yaml:"dead_letter_suffix"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// RetryConfig holds retry budget, backoff and worker settings.
type RetryConfig struct {
	MaxAttempts  int             `yaml:"max_attempts"`
	PerInterface map[string]int  `yaml:"per_interface"` // interface type -> max attempts
	InitialDelay time.Duration   `yaml:"initial_delay"`
	MaxDelay     time.Duration   `yaml:"max_delay"`
	Timeout      time.Duration   `yaml:"timeout"`
	Workers      int             `yaml:"workers"`
	QueueSize    int             `yaml:"queue_size"`
	Auto         AutoRetryConfig `yaml:"auto"`
}

// AutoRetryConfig controls the automatic retry scheduler.
type AutoRetryConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Interval time.Duration `yaml:"interval"`
}

// MaxAttemptsFor returns the retry budget of an interface type.
func (c RetryConfig) MaxAttemptsFor(t domain.InterfaceType) int {
	n := c.MaxAttempts
	for k, v := range c.PerInterface {
		if strings.EqualFold(k, string(t)) && v > 0 {
			n = v
			break
		}
	}
	return min(n, MaxRetryAttempts)
}

// AlertingConfig holds alert rule settings.
type AlertingConfig struct {
	CustomerFacing []string      `yaml:"customer_facing"`
	LedgerTTL      time.Duration `yaml:"ledger_ttl"`
}

// CustomerFacingTypes returns the configured customer-facing interfaces, skipping unknown names.
func (c AlertingConfig) CustomerFacingTypes() []domain.InterfaceType {
	out := make([]domain.InterfaceType, 0, len(c.CustomerFacing))
	for _, s := range c.CustomerFacing {
		if t, ok := domain.ParseInterfaceType(s); ok {
			out = append(out, t)
		}
	}
	return out
}

// RetentionConfig holds the retention policy.
type RetentionConfig struct {
	ResolvedTTL time.Duration `yaml:"resolved_ttl"` // 0 = keep forever
}

// EventsConfig holds outbound event settings.
type EventsConfig struct {
	Source string `yaml:"source"`
}
