package config

import (
	"fmt"
	"strings"
)

// Validate performs business-rule validation on the loaded configuration.
// It must be called after loading; Load calls it automatically.
func (c *Config) Validate() error {
	if c.Database.DSN == "" {
		return fmt.Errorf("database.dsn is required")
	}

	if err := c.Bus.validate(); err != nil {
		return fmt.Errorf("bus: %w", err)
	}

	if err := c.Dispatcher.validate(); err != nil {
		return fmt.Errorf("dispatcher: %w", err)
	}

	if c.Cache.TTL <= 0 {
		return fmt.Errorf("cache.ttl must be > 0 (got %v)", c.Cache.TTL)
	}

	return nil
}

func (b *BusConfig) validate() error {
	brokers := ParseBrokers(b.BrokersRaw)
	if len(brokers) == 0 {
		return fmt.Errorf("brokers must list at least one host:port")
	}
	b.Brokers = brokers
	return nil
}

func (d *DispatcherConfig) validate() error {
	if d.BatchSize <= 0 {
		return fmt.Errorf("batch_size must be > 0 (got %d)", d.BatchSize)
	}
	if d.PollInterval <= 0 {
		return fmt.Errorf("poll_interval must be > 0 (got %v)", d.PollInterval)
	}
	if d.RetryPollInterval <= 0 {
		return fmt.Errorf("retry_poll_interval must be > 0 (got %v)", d.RetryPollInterval)
	}
	if d.CleanupInterval <= 0 {
		return fmt.Errorf("cleanup_interval must be > 0 (got %v)", d.CleanupInterval)
	}
	if d.RetentionPeriod <= 0 {
		return fmt.Errorf("retention_period must be > 0 (got %v)", d.RetentionPeriod)
	}
	return nil
}

// ParseBrokers parses a comma-separated list of Kafka broker addresses
// (e.g. "kafka-1:9092,kafka-2:9092") into a slice. An empty string returns
// a nil slice.
func ParseBrokers(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	brokers := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		brokers = append(brokers, p)
	}
	return brokers
}
