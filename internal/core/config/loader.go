package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/vietddude/collector/internal/core/domain"
)

// Load reads configuration from a YAML file.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML content after expanding ${ENV} references, then applies defaults.
func Parse(data []byte) (*AppConfig, error) {
	var cfg AppConfig
	expandedData := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *AppConfig) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.RateLimitRPS == 0 {
		c.Server.RateLimitRPS = 10
	}
	if c.Server.RateLimitBurst == 0 {
		c.Server.RateLimitBurst = 20
	}

	if c.Kafka.GroupID == "" {
		c.Kafka.GroupID = "interface-exception-collector"
	}
	if len(c.Kafka.Topics) == 0 {
		for _, et := range domain.InboundEventTypes {
			c.Kafka.Topics = append(c.Kafka.Topics, string(et))
		}
	}
	if c.Kafka.DeadLetterSuffix == "" {
		c.Kafka.DeadLetterSuffix = ".DLT"
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}

	r := &c.Retry
	if r.MaxAttempts <= 0 {
		r.MaxAttempts = 5
	}
	r.MaxAttempts = min(r.MaxAttempts, MaxRetryAttempts)
	if r.InitialDelay == 0 {
		r.InitialDelay = time.Second
	}
	if r.MaxDelay == 0 {
		r.MaxDelay = time.Minute
	}
	if r.Timeout == 0 {
		r.Timeout = 30 * time.Second
	}
	if r.Workers == 0 {
		r.Workers = 10
	}
	if r.QueueSize == 0 {
		r.QueueSize = 100
	}
	if r.Auto.Interval == 0 {
		r.Auto.Interval = time.Minute
	}

	if c.Alerting.CustomerFacing == nil {
		c.Alerting.CustomerFacing = []string{string(domain.InterfaceTypeOrder), string(domain.InterfaceTypeDistribution)}
	}
	if c.Alerting.LedgerTTL == 0 {
		c.Alerting.LedgerTTL = 7 * 24 * time.Hour
	}
	c.Redis.AlertTTL = c.Alerting.LedgerTTL

	if c.Retention.ResolvedTTL == 0 {
		c.Retention.ResolvedTTL = 90 * 24 * time.Hour
	}

	if c.Replay.Path == "" {
		c.Replay.Path = "/api/v1/replay"
	}
	if c.Replay.Timeout == 0 {
		c.Replay.Timeout = c.Retry.Timeout
	}

	if c.Events.Source == "" {
		c.Events.Source = "exception-collector-service"
	}
}

func (c *AppConfig) validate() error {
	if c.Retry.InitialDelay > c.Retry.MaxDelay {
		return fmt.Errorf("retry.initial_delay (%s) exceeds retry.max_delay (%s)", c.Retry.InitialDelay, c.Retry.MaxDelay)
	}
	for k := range c.Retry.PerInterface {
		if _, ok := domain.ParseInterfaceType(k); !ok {
			return fmt.Errorf("retry.per_interface: unknown interface type %q", k)
		}
	}
	for k := range c.Replay.Endpoints {
		if _, ok := domain.ParseInterfaceType(k); !ok {
			return fmt.Errorf("replay.endpoints: unknown interface type %q", k)
		}
	}
	return nil
}
