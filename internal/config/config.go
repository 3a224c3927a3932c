package config

import "time"

// Config is the root application configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	Cache      CacheConfig      `yaml:"cache"`
	Bus        BusConfig        `yaml:"bus"`
	Dispatcher DispatcherConfig `yaml:"dispatcher"`
	Log        LogConfig        `yaml:"log"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host            string        `yaml:"host"             env:"SERVER_HOST"             env-default:"0.0.0.0"`
	Port            int           `yaml:"port"             env:"SERVER_PORT"             env-default:"8080"`
	ReadTimeout     time.Duration `yaml:"read_timeout"     env:"SERVER_READ_TIMEOUT"     env-default:"10s"`
	WriteTimeout    time.Duration `yaml:"write_timeout"    env:"SERVER_WRITE_TIMEOUT"    env-default:"30s"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"     env:"SERVER_IDLE_TIMEOUT"     env-default:"60s"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SERVER_SHUTDOWN_TIMEOUT" env-default:"10s"`
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	DSN             string        `yaml:"dsn"                env:"DATABASE_DSN"                env-required:"true"`
	MaxConns        int32         `yaml:"max_conns"          env:"DATABASE_MAX_CONNS"          env-default:"25"`
	MinConns        int32         `yaml:"min_conns"          env:"DATABASE_MIN_CONNS"          env-default:"5"`
	MaxConnLifetime time.Duration `yaml:"max_conn_lifetime"  env:"DATABASE_MAX_CONN_LIFETIME"  env-default:"1h"`
	MaxConnIdleTime time.Duration `yaml:"max_conn_idle_time" env:"DATABASE_MAX_CONN_IDLE_TIME" env-default:"30m"`
}

// CacheConfig holds Redis connection settings for the look-aside cache.
type CacheConfig struct {
	Addr         string        `yaml:"addr"           env:"CACHE_ADDR"           env-default:"localhost:6379"`
	Password     string        `yaml:"password"       env:"CACHE_PASSWORD"`
	DB           int           `yaml:"db"             env:"CACHE_DB"             env-default:"0"`
	TTL          time.Duration `yaml:"ttl"            env:"CACHE_TTL"            env-default:"1h"`
	PoolSize     int           `yaml:"pool_size"      env:"CACHE_POOL_SIZE"      env-default:"10"`
	MinIdleConns int           `yaml:"min_idle_conns" env:"CACHE_MIN_IDLE_CONNS" env-default:"2"`
	MaxRetries   int           `yaml:"max_retries"    env:"CACHE_MAX_RETRIES"    env-default:"3"`
}

// BusConfig holds Kafka producer settings for the outbox dispatcher.
type BusConfig struct {
	BrokersRaw   string        `yaml:"brokers"       env:"BUS_BROKERS"       env-default:"localhost:9092"`
	WriteTimeout time.Duration `yaml:"write_timeout" env:"BUS_WRITE_TIMEOUT" env-default:"10s"`

	// Brokers is parsed from BrokersRaw during validation.
	Brokers []string `yaml:"-" env:"-"`
}

// DispatcherConfig holds the outbox dispatcher's polling/retry/cleanup
// schedule.
type DispatcherConfig struct {
	PollInterval      time.Duration `yaml:"poll_interval"       env:"DISPATCHER_POLL_INTERVAL"       env-default:"2s"`
	RetryPollInterval time.Duration `yaml:"retry_poll_interval" env:"DISPATCHER_RETRY_POLL_INTERVAL" env-default:"30s"`
	CleanupInterval   time.Duration `yaml:"cleanup_interval"    env:"DISPATCHER_CLEANUP_INTERVAL"    env-default:"1h"`
	BatchSize         int           `yaml:"batch_size"          env:"DISPATCHER_BATCH_SIZE"          env-default:"100"`
	RetentionPeriod   time.Duration `yaml:"retention_period"    env:"DISPATCHER_RETENTION_PERIOD"    env-default:"168h"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `yaml:"level"  env:"LOG_LEVEL"  env-default:"info"`
	Format string `yaml:"format" env:"LOG_FORMAT" env-default:"json"`
}
