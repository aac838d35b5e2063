package store

import (
	"regexp"
	"strings"
	"time"
)

// BackendType selects the persistence backend.
type BackendType string

const (
	BackendEmbedded  BackendType = "embedded"
	BackendNetworked BackendType = "networked"
	BackendDynamo    BackendType = "dynamodb"
)

// Config is the value object the host hands to New. Field tags let callers
// load it with github.com/caarlos0/env under a prefix of their choosing.
type Config struct {
	Backend   BackendType     `env:"BACKEND" envDefault:"embedded"`
	DataDir   string          `env:"DATA_DIR" envDefault:"data"`
	Networked NetworkedConfig
	Dynamo    DynamoConfig `envPrefix:"DYNAMO_"`
}

// NetworkedConfig addresses the pooled PostgreSQL backend.
type NetworkedConfig struct {
	Host     string            `env:"HOST" envDefault:"localhost"`
	Port     int               `env:"PORT" envDefault:"5432"`
	Database string            `env:"NAME" envDefault:"optout"`
	Username string            `env:"USER" envDefault:"optout"`
	Password string            `env:"PASSWORD"`
	Params   map[string]string `env:"PARAMS"`
	Pool     PoolConfig        `envPrefix:"POOL_"`
}

// PoolConfig tunes the connection pool. Zero IdleTimeout or MaxLifetime
// disables that limit.
type PoolConfig struct {
	MaxSize        int           `env:"MAX_SIZE" envDefault:"10"`
	MinIdle        int           `env:"MIN_IDLE" envDefault:"2"`
	ConnectTimeout time.Duration `env:"CONNECT_TIMEOUT" envDefault:"30s"`
	IdleTimeout    time.Duration `env:"IDLE_TIMEOUT" envDefault:"10m"`
	MaxLifetime    time.Duration `env:"MAX_LIFETIME" envDefault:"30m"`
}

// DynamoConfig addresses the DynamoDB backend.
type DynamoConfig struct {
	Region   string `env:"REGION" envDefault:"us-east-1"`
	Endpoint string `env:"ENDPOINT"`
	Table    string `env:"TABLE" envDefault:"preference-records"`
}

// Pool defaults, also used when a configured value is out of range.
const (
	DefaultPoolMaxSize        = 10
	DefaultPoolMinIdle        = 2
	DefaultPoolConnectTimeout = 30 * time.Second
	DefaultPoolIdleTimeout    = 10 * time.Minute
	DefaultPoolMaxLifetime    = 30 * time.Minute

	maxPoolSize       = 100
	minConnectTimeout = 250 * time.Millisecond
	minIdleTimeout    = 10 * time.Second
	minMaxLifetime    = 30 * time.Second
)

var safeName = regexp.MustCompile(`^[A-Za-z0-9._-]+$`)

// DefaultPoolConfig returns the pool settings used when none are configured.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		MaxSize:        DefaultPoolMaxSize,
		MinIdle:        DefaultPoolMinIdle,
		ConnectTimeout: DefaultPoolConnectTimeout,
		IdleTimeout:    DefaultPoolIdleTimeout,
		MaxLifetime:    DefaultPoolMaxLifetime,
	}
}

// normalized replaces out-of-range pool values with defaults.
func (p PoolConfig) normalized() PoolConfig {
	if p.MaxSize < 1 || p.MaxSize > maxPoolSize {
		p.MaxSize = DefaultPoolMaxSize
	}
	if p.MinIdle < 0 || p.MinIdle > p.MaxSize {
		p.MinIdle = min(DefaultPoolMinIdle, p.MaxSize)
	}
	if p.ConnectTimeout < minConnectTimeout {
		p.ConnectTimeout = DefaultPoolConnectTimeout
	}
	if p.IdleTimeout != 0 && p.IdleTimeout < minIdleTimeout {
		p.IdleTimeout = DefaultPoolIdleTimeout
	}
	if p.MaxLifetime != 0 && p.MaxLifetime < minMaxLifetime {
		p.MaxLifetime = DefaultPoolMaxLifetime
	}
	return p
}

// validate checks the identity and network fields. Pool tuning is never an
// error; see normalized.
func (n NetworkedConfig) validate() error {
	if !safeName.MatchString(n.Host) {
		return invalidConfig("host", "host %q must match [A-Za-z0-9._-]+", n.Host)
	}
	if n.Port < 1 || n.Port > 65535 {
		return invalidConfig("port", "port %d out of range [1,65535]", n.Port)
	}
	if !safeName.MatchString(n.Database) {
		return invalidConfig("database", "database %q must match [A-Za-z0-9._-]+", n.Database)
	}
	if !safeName.MatchString(n.Username) {
		return invalidConfig("username", "username %q must match [A-Za-z0-9._-]+", n.Username)
	}
	for key := range n.Params {
		if !safeName.MatchString(key) {
			return invalidConfig("params", "parameter name %q must match [A-Za-z0-9._-]+", key)
		}
	}
	return nil
}

func (d DynamoConfig) validate() error {
	if strings.TrimSpace(d.Region) == "" {
		return invalidConfig("region", "region is required")
	}
	if !safeName.MatchString(d.Table) {
		return invalidConfig("table", "table %q must match [A-Za-z0-9._-]+", d.Table)
	}
	return nil
}

func parseBackendType(s BackendType) (BackendType, error) {
	switch BackendType(strings.ToLower(strings.TrimSpace(string(s)))) {
	case BackendEmbedded:
		return BackendEmbedded, nil
	case BackendNetworked:
		return BackendNetworked, nil
	case BackendDynamo:
		return BackendDynamo, nil
	case "":
		return "", invalidConfig("backend", "backend is required")
	default:
		return "", invalidConfig("backend", "backend must be %q, %q or %q, got %q",
			BackendEmbedded, BackendNetworked, BackendDynamo, s)
	}
}
