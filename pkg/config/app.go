package config

import (
	"fmt"
	"time"
)

// EnvPrefix prefixes every environment override, e.g. MSTFLOW_PROCESSOR_MODE
const EnvPrefix = "MSTFLOW"

// Duration is a time.Duration written as "5s" in YAML, JSON and env
type Duration time.Duration

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", text, err)
	}
	*d = Duration(v)
	return nil
}

// D returns the value as a time.Duration
func (d Duration) D() time.Duration { return time.Duration(d) }

// App is the mstflow configuration
type App struct {
	Log       LogConfig       `yaml:"log" json:"log"`
	Server    ServerConfig    `yaml:"server" json:"server"`
	Processor ProcessorConfig `yaml:"processor" json:"processor"`
	WebSocket WebSocketConfig `yaml:"websocket" json:"websocket"`
	Admin     AdminConfig     `yaml:"admin" json:"admin"`
	NATS      NATSConfig      `yaml:"nats" json:"nats"`
	Tracing   TracingConfig   `yaml:"tracing" json:"tracing"`

	// ShutdownTimeout bounds the graceful shutdown of every component
	ShutdownTimeout Duration `yaml:"shutdown_timeout" json:"shutdown_timeout"`
}

// LogConfig selects the logger
type LogConfig struct {
	Format string `yaml:"format" json:"format"` // text | json
	Debug  bool   `yaml:"debug" json:"debug"`
}

// ServerConfig configures the TCP listener
type ServerConfig struct {
	Addr           string   `yaml:"addr" json:"addr"`
	NormalCapacity int      `yaml:"normal_capacity" json:"normal_capacity"`
	MaxConns       int      `yaml:"max_conns" json:"max_conns"`
	IdleTimeout    Duration `yaml:"idle_timeout" json:"idle_timeout"`
	WriteTimeout   Duration `yaml:"write_timeout" json:"write_timeout"`
}

// ProcessorConfig selects and sizes the task processor
type ProcessorConfig struct {
	Mode    string `yaml:"mode" json:"mode"` // pipeline | leader-follower
	Workers int    `yaml:"workers" json:"workers"`

	// Stages lists the pipeline links in order; empty means the full chain
	Stages []string `yaml:"stages" json:"stages"`
}

// WebSocketConfig configures the optional WebSocket transport
type WebSocketConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Addr    string `yaml:"addr" json:"addr"`
	Path    string `yaml:"path" json:"path"`
}

// AdminConfig configures the admin HTTP server
type AdminConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Addr    string `yaml:"addr" json:"addr"`
}

// NATSConfig configures task event publishing
type NATSConfig struct {
	Enabled       bool   `yaml:"enabled" json:"enabled"`
	URL           string `yaml:"url" json:"url"`
	SubjectPrefix string `yaml:"subject_prefix" json:"subject_prefix"`
}

// TracingConfig configures task spans
type TracingConfig struct {
	Enabled     bool    `yaml:"enabled" json:"enabled"`
	ServiceName string  `yaml:"service_name" json:"service_name"`
	SampleRate  float64 `yaml:"sample_rate" json:"sample_rate"`
	Pretty      bool    `yaml:"pretty" json:"pretty"`
}

// Default returns the configuration used when no file is given
func Default() App {
	return App{
		Log: LogConfig{Format: "text"},
		Server: ServerConfig{
			Addr:           ":9034",
			NormalCapacity: 1000,
			IdleTimeout:    Duration(10 * time.Minute),
			WriteTimeout:   Duration(5 * time.Second),
		},
		Processor: ProcessorConfig{Mode: "pipeline"},
		WebSocket: WebSocketConfig{Addr: ":9035", Path: "/ws"},
		Admin:     AdminConfig{Enabled: true, Addr: ":9036"},
		NATS:      NATSConfig{URL: "nats://127.0.0.1:4222", SubjectPrefix: "mstflow.tasks"},
		Tracing:   TracingConfig{ServiceName: "mstflow", SampleRate: 1},

		ShutdownTimeout: Duration(10 * time.Second),
	}
}

// LoadApp builds the configuration: defaults, then the file at path (if
// any), then MSTFLOW_* environment overrides. The result is validated.
func LoadApp(path string) (App, error) {
	cfg := Default()
	if path != "" {
		if err := Load(path, &cfg); err != nil {
			return App{}, err
		}
	}
	if err := ApplyEnvOverrides(EnvPrefix, &cfg); err != nil {
		return App{}, fmt.Errorf("failed to apply env overrides: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return App{}, err
	}
	return cfg, nil
}

// Validate checks the configuration
func (a *App) Validate() error {
	validators := []Validator{
		RequiredFields("Server.Addr"),
		OneOfValidator("Log.Format", "text", "json"),
		OneOfValidator("Processor.Mode", "pipeline", "leader-follower"),
		RangeValidator("Processor.Workers", 0, 1024),
		RangeValidator("Server.NormalCapacity", 1, 1_000_000),
		RangeValidator("Server.MaxConns", 0, 1_000_000),
		RangeValidator("Tracing.SampleRate", 0, 1),
		RangeValidator("ShutdownTimeout", float64(time.Second), float64(10*time.Minute)),
	}
	if a.WebSocket.Enabled {
		validators = append(validators, RequiredFields("WebSocket.Addr", "WebSocket.Path"))
	}
	if a.Admin.Enabled {
		validators = append(validators, RequiredFields("Admin.Addr"))
	}
	if a.NATS.Enabled {
		validators = append(validators, RequiredFields("NATS.URL", "NATS.SubjectPrefix"))
	}
	return Validate(a, validators...)
}
