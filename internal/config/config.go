package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all user-configurable settings shared across binaries.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	LLM      LLMConfig      `mapstructure:"llm"`
	Pipeline PipelineConfig `mapstructure:"pipeline"`
	Renderer RendererConfig `mapstructure:"renderer"`
	Tasks    TasksConfig    `mapstructure:"tasks"`
	Log      LogConfig      `mapstructure:"log"`
	Tracing  TracingConfig  `mapstructure:"tracing"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
}

// ServerConfig configures the HTTP API server.
type ServerConfig struct {
	Host           string        `mapstructure:"host"`
	Port           int           `mapstructure:"port"`
	AllowedOrigins []string      `mapstructure:"allowed_origins"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
}

// Addr returns the listen address in host:port form.
func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// LLMConfig configures the code-generation model client.
type LLMConfig struct {
	Provider    string        `mapstructure:"provider"` // openai, mock
	Model       string        `mapstructure:"model"`
	APIKey      string        `mapstructure:"api_key"`
	BaseURL     string        `mapstructure:"base_url"`
	Timeout     time.Duration `mapstructure:"timeout"`
	MaxTokens   int           `mapstructure:"max_tokens"`
	Temperature float64       `mapstructure:"temperature"`
}

// PipelineConfig configures the generate/validate/render loop.
type PipelineConfig struct {
	MaxRetries    int           `mapstructure:"max_retries"`
	ModelTimeout  time.Duration `mapstructure:"model_timeout"`
	RenderTimeout time.Duration `mapstructure:"render_timeout"`
}

// RendererConfig configures the external render subprocess.
type RendererConfig struct {
	Binary          string `mapstructure:"binary"`
	OutputDir       string `mapstructure:"output_dir"`
	Quality         string `mapstructure:"quality"`
	ProfilesFile    string `mapstructure:"profiles_file"`
	StderrTailLines int    `mapstructure:"stderr_tail_lines"`
}

// TasksConfig configures the async task layer.
type TasksConfig struct {
	Workers         int           `mapstructure:"workers"`
	EventBufferSize int           `mapstructure:"event_buffer_size"`
	RetentionSize   int           `mapstructure:"retention_size"`
	RetentionTTL    time.Duration `mapstructure:"retention_ttl"`
	TaskTimeout     time.Duration `mapstructure:"task_timeout"`
}

// LogConfig configures structured logging.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// TracingConfig mirrors observability.TracingConfig at the config-file level.
type TracingConfig struct {
	Enabled        bool    `mapstructure:"enabled"`
	Exporter       string  `mapstructure:"exporter"`
	OTLPEndpoint   string  `mapstructure:"otlp_endpoint"`
	ZipkinEndpoint string  `mapstructure:"zipkin_endpoint"`
	SampleRate     float64 `mapstructure:"sample_rate"`
	ServiceName    string  `mapstructure:"service_name"`
	ServiceVersion string  `mapstructure:"service_version"`
}

// MetricsConfig configures the metrics pipeline.
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 0*time.Second) // streaming responses must not be cut off

	v.SetDefault("llm.provider", "openai")
	v.SetDefault("llm.model", "gpt-4o")
	v.SetDefault("llm.base_url", "https://api.openai.com/v1")
	v.SetDefault("llm.timeout", 120*time.Second)
	v.SetDefault("llm.max_tokens", 4096)
	v.SetDefault("llm.temperature", 0.4)

	v.SetDefault("pipeline.max_retries", 2)
	v.SetDefault("pipeline.model_timeout", 120*time.Second)
	v.SetDefault("pipeline.render_timeout", 300*time.Second)

	v.SetDefault("renderer.binary", "manim")
	v.SetDefault("renderer.output_dir", "./output")
	v.SetDefault("renderer.quality", "medium")
	v.SetDefault("renderer.profiles_file", "")
	v.SetDefault("renderer.stderr_tail_lines", 30)

	v.SetDefault("tasks.workers", 2)
	v.SetDefault("tasks.event_buffer_size", 256)
	v.SetDefault("tasks.retention_size", 512)
	v.SetDefault("tasks.retention_ttl", 30*time.Minute)
	v.SetDefault("tasks.task_timeout", 0*time.Second)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")

	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.exporter", "otlp")
	v.SetDefault("tracing.sample_rate", 1.0)
	v.SetDefault("tracing.service_name", "sceneforge")

	v.SetDefault("metrics.enabled", true)
}

// Load reads configuration from the given file (optional), the standard
// search paths, and SCENEFORGE_* environment variables, in ascending
// precedence: defaults < file < environment.
func Load(configFile string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("sceneforge")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.sceneforge")
	if configFile != "" {
		v.SetConfigFile(configFile)
	}

	v.SetEnvPrefix("SCENEFORGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
		// No config file is fine; defaults plus env apply.
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects configurations the pipeline cannot run with.
func (c *Config) Validate() error {
	if c.Tasks.Workers < 1 {
		return fmt.Errorf("tasks.workers must be >= 1, got %d", c.Tasks.Workers)
	}
	if c.Pipeline.MaxRetries < 0 {
		return fmt.Errorf("pipeline.max_retries must be >= 0, got %d", c.Pipeline.MaxRetries)
	}
	if c.Renderer.Binary == "" {
		return fmt.Errorf("renderer.binary is required")
	}
	switch strings.ToLower(c.LLM.Provider) {
	case "openai", "mock":
	default:
		return fmt.Errorf("unsupported llm.provider: %q", c.LLM.Provider)
	}
	return nil
}
