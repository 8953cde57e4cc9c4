// Package config loads the gateway's typed configuration via viper, with
// environment-variable overrides and startup validation.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"marketdatagw/internal/errs"
)

// TTLs holds every cache-freshness knob recognized by the gateway.
type TTLs struct {
	RealtimeStockQuote  time.Duration
	RealtimeIndexQuote  time.Duration
	RealtimeMarketStatus time.Duration
	SemiStaticBasicInfo time.Duration
	SystemHealthCheck   time.Duration
	SystemDistributedLock time.Duration
	Default             time.Duration
	StreamHot           time.Duration // ms granularity
	StreamWarm          time.Duration // s granularity
}

// OriginTimeouts bounds how long the orchestrator waits on an origin call
// per strategy: a very short TTL and tight origin timeout for STRONG.
type OriginTimeouts struct {
	Strong time.Duration
	Weak   time.Duration
}

// RedisConfig describes how to reach the warm cache / stream mirror.
type RedisConfig struct {
	Host              string
	Port              int
	BaseDB            int
	StreamDB          int
	ConnectTimeout    time.Duration
	CommandTimeout    time.Duration
	KeyPrefix         string
	TLSEnabled        bool
	ScanCount         int64
	ScanIterationCap  int
}

// PostgresConfig describes the rule store's durable backing database.
type PostgresConfig struct {
	DSN          string
	MaxOpenConns int
	MaxIdleConns int
}

// Limits bounds fingerprint option canonicalization and payload sizes.
type Limits struct {
	MaxStringLength int
	MaxObjectDepth  int
	MaxObjectFields int
	MaxPayloadSize  int
}

// Config is the fully-resolved, validated configuration for the gateway.
type Config struct {
	TTLs TTLs

	HotCacheCapacity      int
	CompressionThresholdBytes int
	SerializerType        string // "json" or "msgpack"

	Redis    RedisConfig
	Postgres PostgresConfig
	Limits   Limits
	Origin   OriginTimeouts

	MsgPackEnabled       bool
	DebugMappingEnabled  bool

	LogLevel  string
	LogFormat string

	TaskQueueConcurrency int
	MetricsEnabled       bool
}

// Default returns the zero-config baseline; every field is a sane default so
// the gateway never refuses to start when no environment overrides exist.
func Default() Config {
	return Config{
		TTLs: TTLs{
			RealtimeStockQuote:    5 * time.Second,
			RealtimeIndexQuote:    5 * time.Second,
			RealtimeMarketStatus:  10 * time.Second,
			SemiStaticBasicInfo:   10 * time.Minute,
			SystemHealthCheck:     30 * time.Second,
			SystemDistributedLock: 30 * time.Second,
			Default:               60 * time.Second,
			StreamHot:             500 * time.Millisecond,
			StreamWarm:            5 * time.Second,
		},
		HotCacheCapacity:          10000,
		CompressionThresholdBytes: 1024,
		SerializerType:            "json",
		Redis: RedisConfig{
			Host:             "127.0.0.1",
			Port:             6379,
			BaseDB:           0,
			StreamDB:         1,
			ConnectTimeout:   2 * time.Second,
			CommandTimeout:   500 * time.Millisecond,
			KeyPrefix:        "",
			ScanCount:        200,
			ScanIterationCap: 10000,
		},
		Postgres: PostgresConfig{
			MaxOpenConns: 20,
			MaxIdleConns: 5,
		},
		Limits: Limits{
			MaxStringLength: 8192,
			MaxObjectDepth:  8,
			MaxObjectFields: 64,
			MaxPayloadSize:  1 << 20,
		},
		Origin: OriginTimeouts{
			Strong: 800 * time.Millisecond,
			Weak:   5 * time.Second,
		},
		MsgPackEnabled:       false,
		DebugMappingEnabled:  false,
		LogLevel:             "info",
		LogFormat:            "json",
		TaskQueueConcurrency: 50,
		MetricsEnabled:       true,
	}
}

// Load reads configuration from environment variables (prefix GATEWAY_, with
// "." replaced by "_" in key names) layered over Default(). It rejects
// non-numeric values for integer/duration fields at startup.
func Load() (Config, error) {
	cfg := Default()

	v := viper.New()
	v.SetEnvPrefix("GATEWAY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	bindInt := func(key string, dst *int) error {
		raw := v.GetString(key)
		if raw == "" {
			return nil
		}
		n, err := parseInt(raw)
		if err != nil {
			return errs.E(errs.InvariantViolation, "config.Load", fmt.Errorf("env %s: %w", envName(key), err))
		}
		*dst = n
		return nil
	}
	bindDuration := func(key string, dst *time.Duration) error {
		raw := v.GetString(key)
		if raw == "" {
			return nil
		}
		d, err := time.ParseDuration(raw)
		if err != nil {
			return errs.E(errs.InvariantViolation, "config.Load", fmt.Errorf("env %s: %w", envName(key), err))
		}
		*dst = d
		return nil
	}
	bindString := func(key string, dst *string) {
		if raw := v.GetString(key); raw != "" {
			*dst = raw
		}
	}
	bindBool := func(key string, dst *bool) {
		if raw := v.GetString(key); raw != "" {
			*dst = raw == "1" || strings.EqualFold(raw, "true")
		}
	}

	type validator func() error
	validators := []validator{
		func() error { return bindDuration("realtime.stockQuote", &cfg.TTLs.RealtimeStockQuote) },
		func() error { return bindDuration("realtime.indexQuote", &cfg.TTLs.RealtimeIndexQuote) },
		func() error { return bindDuration("realtime.marketStatus", &cfg.TTLs.RealtimeMarketStatus) },
		func() error { return bindDuration("semiStatic.basicInfo", &cfg.TTLs.SemiStaticBasicInfo) },
		func() error { return bindDuration("system.healthCheck", &cfg.TTLs.SystemHealthCheck) },
		func() error { return bindDuration("system.distributedLock", &cfg.TTLs.SystemDistributedLock) },
		func() error { return bindDuration("default", &cfg.TTLs.Default) },
		func() error { return bindDuration("stream.hot", &cfg.TTLs.StreamHot) },
		func() error { return bindDuration("stream.warm", &cfg.TTLs.StreamWarm) },
		func() error { return bindInt("hotcache.capacity", &cfg.HotCacheCapacity) },
		func() error { return bindInt("compression.thresholdBytes", &cfg.CompressionThresholdBytes) },
		func() error { return bindInt("redis.port", &cfg.Redis.Port) },
		func() error { return bindInt("redis.baseDb", &cfg.Redis.BaseDB) },
		func() error { return bindInt("redis.streamDb", &cfg.Redis.StreamDB) },
		func() error { return bindDuration("redis.connectTimeout", &cfg.Redis.ConnectTimeout) },
		func() error { return bindDuration("redis.commandTimeout", &cfg.Redis.CommandTimeout) },
		func() error { return bindInt("limits.maxStringLength", &cfg.Limits.MaxStringLength) },
		func() error { return bindInt("limits.maxObjectDepth", &cfg.Limits.MaxObjectDepth) },
		func() error { return bindInt("limits.maxObjectFields", &cfg.Limits.MaxObjectFields) },
		func() error { return bindInt("limits.maxPayloadSize", &cfg.Limits.MaxPayloadSize) },
		func() error { return bindInt("taskqueue.concurrency", &cfg.TaskQueueConcurrency) },
		func() error { return bindInt("postgres.maxOpenConns", &cfg.Postgres.MaxOpenConns) },
		func() error { return bindInt("postgres.maxIdleConns", &cfg.Postgres.MaxIdleConns) },
		func() error { return bindDuration("origin.timeout.strong", &cfg.Origin.Strong) },
		func() error { return bindDuration("origin.timeout.weak", &cfg.Origin.Weak) },
	}
	for _, fn := range validators {
		if err := fn(); err != nil {
			return Config{}, err
		}
	}

	bindString("serializer.type", &cfg.SerializerType)
	bindString("redis.host", &cfg.Redis.Host)
	bindString("redis.keyPrefix", &cfg.Redis.KeyPrefix)
	bindString("postgres.dsn", &cfg.Postgres.DSN)
	bindString("log.level", &cfg.LogLevel)
	bindString("log.format", &cfg.LogFormat)
	bindBool("redis.tlsEnabled", &cfg.Redis.TLSEnabled)
	bindBool("feature.msgpack", &cfg.MsgPackEnabled)
	bindBool("feature.debugMapping", &cfg.DebugMappingEnabled)
	bindBool("metrics.enabled", &cfg.MetricsEnabled)

	if cfg.SerializerType != "json" && cfg.SerializerType != "msgpack" {
		return Config{}, errs.E(errs.InvariantViolation, "config.Load",
			fmt.Errorf("serializer.type must be json or msgpack, got %q", cfg.SerializerType))
	}

	return cfg, nil
}

func envName(key string) string {
	return "GATEWAY_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
}

func parseInt(s string) (int, error) {
	var n int
	_, err := fmt.Sscanf(s, "%d", &n)
	if err != nil {
		return 0, err
	}
	// Sscanf silently accepts leading numeric prefixes of mixed strings
	// (e.g. "12abc" -> 12); reject anything with a trailing remainder.
	if fmt.Sprintf("%d", n) != strings.TrimSpace(s) {
		return 0, fmt.Errorf("not a valid integer: %q", s)
	}
	return n, nil
}
