// Package config loads hub settings from defaults, an optional JSON file,
// the environment and command-line flags, in increasing precedence.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// FileName is the config file looked up in the config directory, without extension.
const FileName = "sailhub"

// EnvPrefix prefixes every environment override, e.g. SAILHUB_RECORDING_ENABLED.
const EnvPrefix = "SAILHUB"

// RateLimitConfig defines per-connection inbound message limiting.
type RateLimitConfig struct {
	PerSecond float64
	Burst     int
}

// ServerConfig holds the listener and connection settings.
type ServerConfig struct {
	Host            string
	Port            int
	AllowedOrigins  []string
	MaxMessageSize  int64
	RateLimit       RateLimitConfig
	ShutdownTimeout time.Duration
}

// Addr returns the host:port listen address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// RecordingConfig controls session capture and the recording directory.
type RecordingConfig struct {
	Enabled    bool
	Dir        string
	Compress   bool
	MinSamples int
}

// FanoutConfig tunes broadcast delivery.
type FanoutConfig struct {
	SendTimeout    time.Duration
	MaxConcurrency int
}

// SimConfig tunes the AI entity engine.
type SimConfig struct {
	TickInterval    time.Duration
	SpawnInterval   time.Duration
	MaxEntities     int
	InitialEntities int
	LoopReplays     bool
	MaxDistance     float64
	SpawnRadius     float64
}

// LogConfig selects log level and optional sinks.
type LogConfig struct {
	Level          string
	File           string
	GraylogEnabled bool
	GraylogAddress string
}

// InfluxConfig configures the optional heartbeat metrics sink.
type InfluxConfig struct {
	Enabled bool
	URL     string
	Token   string
	Org     string
	Bucket  string
}

// Config is the complete hub configuration.
type Config struct {
	Server            ServerConfig
	Recording         RecordingConfig
	Fanout            FanoutConfig
	Sim               SimConfig
	Log               LogConfig
	Influx            InfluxConfig
	HeartbeatInterval time.Duration
	RestartBackoff    time.Duration
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8765)
	v.SetDefault("server.allowedOrigins", []string{"*"})
	v.SetDefault("server.maxMessageSize", 4096)
	v.SetDefault("server.rateLimit.perSecond", 30.0)
	v.SetDefault("server.rateLimit.burst", 60)
	v.SetDefault("server.shutdownTimeout", "5s")

	v.SetDefault("recording.enabled", false)
	v.SetDefault("recording.dir", "./recordings")
	v.SetDefault("recording.compress", false)
	v.SetDefault("recording.minSamples", 30)

	v.SetDefault("fanout.sendTimeout", "2s")
	v.SetDefault("fanout.maxConcurrency", 0)

	v.SetDefault("sim.tickInterval", "100ms")
	v.SetDefault("sim.spawnInterval", "30s")
	v.SetDefault("sim.maxEntities", 5)
	v.SetDefault("sim.initialEntities", 3)
	v.SetDefault("sim.loopReplays", false)
	v.SetDefault("sim.maxDistance", 200.0)
	v.SetDefault("sim.spawnRadius", 50.0)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.file", "")
	v.SetDefault("graylog.enabled", false)
	v.SetDefault("graylog.address", "localhost:12201")

	v.SetDefault("influx.enabled", false)
	v.SetDefault("influx.url", "http://localhost:8086")
	v.SetDefault("influx.token", "")
	v.SetDefault("influx.org", "sailhub")
	v.SetDefault("influx.bucket", "sailhub")

	v.SetDefault("heartbeat.interval", "30s")
	v.SetDefault("supervisor.backoff", "1s")
}

// RegisterFlags adds the hub's command-line flags to fs.
func RegisterFlags(fs *pflag.FlagSet) {
	fs.String("host", "", "listen host (default 0.0.0.0)")
	fs.Int("port", 0, "listen port (default 8765, or $PORT)")
	fs.Bool("record", false, "capture player sessions as replayable recordings")
	fs.String("log-level", "", "log level: debug, info, warn, error")
	fs.String("config-dir", ".", "directory containing "+FileName+".json")
}

var flagKeys = map[string]string{
	"host":      "server.host",
	"port":      "server.port",
	"record":    "recording.enabled",
	"log-level": "log.level",
}

// Load resolves the configuration. fs may be nil; when set, only flags the
// user actually passed override lower layers.
func Load(fs *pflag.FlagSet) (Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := v.BindEnv("server.port", EnvPrefix+"_SERVER_PORT", "PORT"); err != nil {
		return Config{}, fmt.Errorf("binding PORT: %w", err)
	}

	configDir := "."
	if fs != nil {
		if f := fs.Lookup("config-dir"); f != nil && f.Value.String() != "" {
			configDir = f.Value.String()
		}
		for name, key := range flagKeys {
			f := fs.Lookup(name)
			if f == nil || !f.Changed {
				continue
			}
			if err := v.BindPFlag(key, f); err != nil {
				return Config{}, fmt.Errorf("binding flag %s: %w", name, err)
			}
		}
	}

	v.SetConfigName(FileName)
	v.SetConfigType("json")
	v.AddConfigPath(configDir)
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("error reading config file: %w", err)
		}
	}

	cfg := fromViper(v)
	return Sanitize(cfg), nil
}

func fromViper(v *viper.Viper) Config {
	return Config{
		Server: ServerConfig{
			Host:           v.GetString("server.host"),
			Port:           v.GetInt("server.port"),
			AllowedOrigins: v.GetStringSlice("server.allowedOrigins"),
			MaxMessageSize: v.GetInt64("server.maxMessageSize"),
			RateLimit: RateLimitConfig{
				PerSecond: v.GetFloat64("server.rateLimit.perSecond"),
				Burst:     v.GetInt("server.rateLimit.burst"),
			},
			ShutdownTimeout: v.GetDuration("server.shutdownTimeout"),
		},
		Recording: RecordingConfig{
			Enabled:    v.GetBool("recording.enabled"),
			Dir:        v.GetString("recording.dir"),
			Compress:   v.GetBool("recording.compress"),
			MinSamples: v.GetInt("recording.minSamples"),
		},
		Fanout: FanoutConfig{
			SendTimeout:    v.GetDuration("fanout.sendTimeout"),
			MaxConcurrency: v.GetInt("fanout.maxConcurrency"),
		},
		Sim: SimConfig{
			TickInterval:    v.GetDuration("sim.tickInterval"),
			SpawnInterval:   v.GetDuration("sim.spawnInterval"),
			MaxEntities:     v.GetInt("sim.maxEntities"),
			InitialEntities: v.GetInt("sim.initialEntities"),
			LoopReplays:     v.GetBool("sim.loopReplays"),
			MaxDistance:     v.GetFloat64("sim.maxDistance"),
			SpawnRadius:     v.GetFloat64("sim.spawnRadius"),
		},
		Log: LogConfig{
			Level:          v.GetString("log.level"),
			File:           v.GetString("log.file"),
			GraylogEnabled: v.GetBool("graylog.enabled"),
			GraylogAddress: v.GetString("graylog.address"),
		},
		Influx: InfluxConfig{
			Enabled: v.GetBool("influx.enabled"),
			URL:     v.GetString("influx.url"),
			Token:   v.GetString("influx.token"),
			Org:     v.GetString("influx.org"),
			Bucket:  v.GetString("influx.bucket"),
		},
		HeartbeatInterval: v.GetDuration("heartbeat.interval"),
		RestartBackoff:    v.GetDuration("supervisor.backoff"),
	}
}

// Default returns the configuration used when nothing is overridden.
func Default() Config {
	v := viper.New()
	setDefaults(v)
	return Sanitize(fromViper(v))
}

// Sanitize replaces invalid values with their defaults.
func Sanitize(cfg Config) Config {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		cfg.Server.Port = 8765
	}
	if cfg.Server.MaxMessageSize <= 0 {
		cfg.Server.MaxMessageSize = 4096
	}
	if cfg.Server.RateLimit.PerSecond <= 0 {
		cfg.Server.RateLimit.PerSecond = 30
	}
	if cfg.Server.RateLimit.Burst <= 0 {
		cfg.Server.RateLimit.Burst = 60
	}
	if cfg.Server.ShutdownTimeout <= 0 {
		cfg.Server.ShutdownTimeout = 5 * time.Second
	}
	cfg.Server.AllowedOrigins = trimOrigins(cfg.Server.AllowedOrigins)

	if cfg.Recording.Dir == "" {
		cfg.Recording.Dir = "./recordings"
	}
	if cfg.Recording.MinSamples <= 0 {
		cfg.Recording.MinSamples = 30
	}

	if cfg.Fanout.SendTimeout < 0 {
		cfg.Fanout.SendTimeout = 0
	}
	if cfg.Fanout.MaxConcurrency < 0 {
		cfg.Fanout.MaxConcurrency = 0
	}

	if cfg.Sim.TickInterval <= 0 {
		cfg.Sim.TickInterval = 100 * time.Millisecond
	}
	if cfg.Sim.SpawnInterval <= 0 {
		cfg.Sim.SpawnInterval = 30 * time.Second
	}
	if cfg.Sim.MaxEntities <= 0 {
		cfg.Sim.MaxEntities = 5
	}
	if cfg.Sim.InitialEntities < 0 {
		cfg.Sim.InitialEntities = 0
	}
	if cfg.Sim.InitialEntities > cfg.Sim.MaxEntities {
		cfg.Sim.InitialEntities = cfg.Sim.MaxEntities
	}
	if cfg.Sim.MaxDistance <= 0 {
		cfg.Sim.MaxDistance = 200
	}
	if cfg.Sim.SpawnRadius < 0 {
		cfg.Sim.SpawnRadius = 0
	}

	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = 30 * time.Second
	}
	if cfg.RestartBackoff <= 0 {
		cfg.RestartBackoff = time.Second
	}
	return cfg
}

func trimOrigins(origins []string) []string {
	out := make([]string, 0, len(origins))
	for _, o := range origins {
		// Env values arrive as one comma-separated string.
		for _, part := range strings.Split(o, ",") {
			if p := strings.TrimSpace(part); p != "" {
				out = append(out, p)
			}
		}
	}
	if len(out) == 0 {
		return []string{"*"}
	}
	return out
}
