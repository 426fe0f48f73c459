package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is the path checked for YAML configuration.
const DefaultConfigFile = "agentpulse.yaml"

// Load returns a Config using the hierarchy: defaults < YAML < ENV.
// YAML file is optional; missing file is not an error.
func Load() (*Config, error) {
	return LoadFrom(DefaultConfigFile)
}

// LoadFrom returns a Config loaded from the given YAML path using the
// hierarchy: defaults < YAML < ENV. The YAML file is optional.
func LoadFrom(yamlPath string) (*Config, error) {
	cfg := Defaults()

	if err := loadYAML(&cfg, yamlPath); err != nil {
		return nil, fmt.Errorf("config yaml: %w", err)
	}

	loadEnv(&cfg)

	if cfg.Gateway.RPCURL == "" {
		cfg.Gateway.RPCURL = deriveRPCURL(cfg.Gateway.URL)
	}

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validate: %w", err)
	}

	return &cfg, nil
}

// loadYAML reads the YAML file and unmarshals it over cfg.
// Returns nil if the file does not exist.
func loadYAML(cfg *Config, path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path is validated by caller
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	return nil
}

// loadEnv overlays environment variables onto cfg.
// Only non-empty env values override the current config.
func loadEnv(cfg *Config) {
	setString(&cfg.Gateway.URL, "AGENTPULSE_GATEWAY_URL")
	setString(&cfg.Gateway.RPCURL, "AGENTPULSE_GATEWAY_RPC_URL")
	setString(&cfg.Gateway.Token, "AGENTPULSE_GATEWAY_TOKEN")
	setString(&cfg.Gateway.Role, "AGENTPULSE_GATEWAY_ROLE")
	setDuration(&cfg.Gateway.InitialBackoff, "AGENTPULSE_GATEWAY_INITIAL_BACKOFF")
	setDuration(&cfg.Gateway.MaxBackoff, "AGENTPULSE_GATEWAY_MAX_BACKOFF")
	setString(&cfg.Postgres.DSN, "DATABASE_URL")
	setInt32(&cfg.Postgres.MaxConns, "AGENTPULSE_PG_MAX_CONNS")
	setInt32(&cfg.Postgres.MinConns, "AGENTPULSE_PG_MIN_CONNS")
	setDuration(&cfg.Postgres.MaxConnLifetime, "AGENTPULSE_PG_MAX_CONN_LIFETIME")
	setDuration(&cfg.Postgres.MaxConnIdleTime, "AGENTPULSE_PG_MAX_CONN_IDLE_TIME")
	setDuration(&cfg.Postgres.HealthCheck, "AGENTPULSE_PG_HEALTH_CHECK")
	setString(&cfg.NATS.URL, "NATS_URL")
	setString(&cfg.Transcripts.Dir, "AGENTPULSE_TRANSCRIPT_DIR")
	setDuration(&cfg.Transcripts.ScanInterval, "AGENTPULSE_SCAN_INTERVAL")
	setInt(&cfg.Transcripts.ActivityCap, "AGENTPULSE_ACTIVITY_CAP")
	setDuration(&cfg.Poller.Interval, "AGENTPULSE_POLL_INTERVAL")
	setInt(&cfg.Poller.SessionLimit, "AGENTPULSE_POLL_SESSION_LIMIT")
	setDuration(&cfg.Alerts.Interval, "AGENTPULSE_ALERT_INTERVAL")
	setDuration(&cfg.Retention.Interval, "AGENTPULSE_RETENTION_INTERVAL")
	setInt(&cfg.Retention.BatchSize, "AGENTPULSE_RETENTION_BATCH")
	setDuration(&cfg.Dedup.TTL, "AGENTPULSE_DEDUP_TTL")
	setString(&cfg.Server.Port, "AGENTPULSE_PORT")
	setString(&cfg.Logging.Level, "AGENTPULSE_LOG_LEVEL")
	setString(&cfg.Logging.Service, "AGENTPULSE_LOG_SERVICE")
	setBool(&cfg.Logging.Async, "AGENTPULSE_LOG_ASYNC")
	setInt(&cfg.Breaker.MaxFailures, "AGENTPULSE_BREAKER_MAX_FAILURES")
	setDuration(&cfg.Breaker.Timeout, "AGENTPULSE_BREAKER_TIMEOUT")
	setString(&cfg.Metrics.OTLPEndpoint, "OTEL_EXPORTER_OTLP_ENDPOINT")
	setDuration(&cfg.Metrics.Interval, "AGENTPULSE_METRICS_INTERVAL")
}

// validate checks that required fields are set. A failure here is fatal at
// startup, before any connection attempt.
func validate(cfg *Config) error {
	if cfg.Gateway.URL == "" {
		return errors.New("gateway.url is required")
	}
	if cfg.Gateway.Token == "" {
		return errors.New("gateway.token is required")
	}
	if cfg.Postgres.DSN == "" {
		return errors.New("postgres.dsn is required")
	}
	if cfg.Transcripts.Dir == "" {
		return errors.New("transcripts.dir is required")
	}
	if cfg.Postgres.MaxConns < 1 {
		return errors.New("postgres.max_conns must be >= 1")
	}
	if cfg.Gateway.InitialBackoff <= 0 || cfg.Gateway.MaxBackoff < cfg.Gateway.InitialBackoff {
		return errors.New("gateway backoff bounds are invalid")
	}
	if cfg.Breaker.MaxFailures < 1 {
		return errors.New("breaker.max_failures must be >= 1")
	}
	if cfg.Retention.BatchSize < 1 {
		return errors.New("retention.batch_size must be >= 1")
	}
	return nil
}

// deriveRPCURL maps a ws(s) gateway URL to its http(s) RPC base.
func deriveRPCURL(wsURL string) string {
	switch {
	case strings.HasPrefix(wsURL, "wss://"):
		return "https://" + strings.TrimPrefix(wsURL, "wss://")
	case strings.HasPrefix(wsURL, "ws://"):
		return "http://" + strings.TrimPrefix(wsURL, "ws://")
	default:
		return wsURL
	}
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt32(dst *int32, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 32); err == nil {
			*dst = int32(n)
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
