// Package config loads the application configuration and sets up logging.
package config

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/joelkehle/kyc-agency/internal/evaluator"
	"github.com/joelkehle/kyc-agency/internal/validation"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Anthropic  AnthropicConfig  `yaml:"anthropic" mapstructure:"anthropic"`
	Pipeline   PipelineConfig   `yaml:"pipeline" mapstructure:"pipeline"`
	Validation ValidationConfig `yaml:"validation" mapstructure:"validation"`
	Stages     map[string]Stage `yaml:"stages" mapstructure:"stages"`
	Report     ReportConfig     `yaml:"report" mapstructure:"report"`
	Telemetry  TelemetryConfig  `yaml:"telemetry" mapstructure:"telemetry"`
}

// StoreConfig configures the sqlite case store.
type StoreConfig struct {
	Path string `yaml:"path" mapstructure:"path"`
}

// LogConfig configures the zap logger.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// ServerConfig configures the operator HTTP server.
type ServerConfig struct {
	Addr               string `yaml:"addr" mapstructure:"addr"`
	UploadDir          string `yaml:"upload_dir" mapstructure:"upload_dir"`
	RequestTimeoutSecs int    `yaml:"request_timeout_secs" mapstructure:"request_timeout_secs"`
}

// AnthropicConfig configures the evaluation service model.
type AnthropicConfig struct {
	Model             string  `yaml:"model" mapstructure:"model"`
	MaxTokens         int64   `yaml:"max_tokens" mapstructure:"max_tokens"`
	RequestsPerSecond float64 `yaml:"requests_per_second" mapstructure:"requests_per_second"`
	MaxAttempts       int     `yaml:"max_attempts" mapstructure:"max_attempts"`
}

// PipelineConfig tunes submission processing.
type PipelineConfig struct {
	Concurrency      int `yaml:"concurrency" mapstructure:"concurrency"`
	StageTimeoutSecs int `yaml:"stage_timeout_secs" mapstructure:"stage_timeout_secs"`
}

// ValidationConfig holds the per-field similarity thresholds.
type ValidationConfig struct {
	NameThreshold        float64 `yaml:"name_threshold" mapstructure:"name_threshold"`
	AddressThreshold     float64 `yaml:"address_threshold" mapstructure:"address_threshold"`
	NationalityThreshold float64 `yaml:"nationality_threshold" mapstructure:"nationality_threshold"`
	EmployerThreshold    float64 `yaml:"employer_threshold" mapstructure:"employer_threshold"`
	PositionThreshold    float64 `yaml:"position_threshold" mapstructure:"position_threshold"`
	// UseLLM routes document validation through the model before the rules.
	UseLLM bool `yaml:"use_llm" mapstructure:"use_llm"`
}

// Stage switches one pipeline stage.
type Stage struct {
	Enabled bool `yaml:"enabled" mapstructure:"enabled"`
}

// ReportConfig configures PDF export.
type ReportConfig struct {
	ChromePath     string `yaml:"chrome_path" mapstructure:"chrome_path"`
	PDFTimeoutSecs int    `yaml:"pdf_timeout_secs" mapstructure:"pdf_timeout_secs"`
}

// TelemetryConfig configures tracing. An empty endpoint disables export.
type TelemetryConfig struct {
	OTLPEndpoint string `yaml:"otlp_endpoint" mapstructure:"otlp_endpoint"`
	ServiceName  string `yaml:"service_name" mapstructure:"service_name"`
}

// Thresholds converts the validation section.
func (c ValidationConfig) Thresholds() validation.Thresholds {
	return validation.Thresholds{
		Name:        c.NameThreshold,
		Address:     c.AddressThreshold,
		Nationality: c.NationalityThreshold,
		Employer:    c.EmployerThreshold,
		Position:    c.PositionThreshold,
	}
}

// EnabledStages maps the stage switches onto evaluator stages. Unknown
// stage names are ignored.
func (c *Config) EnabledStages() map[evaluator.Stage]bool {
	out := make(map[evaluator.Stage]bool, len(evaluator.Stages))
	for _, st := range evaluator.Stages {
		if s, ok := c.Stages[string(st)]; ok {
			out[st] = s.Enabled
		}
	}
	return out
}

// StageTimeout is zero when unbounded.
func (c PipelineConfig) StageTimeout() time.Duration {
	return time.Duration(c.StageTimeoutSecs) * time.Second
}

// Validate checks the values the commands cannot run without.
func (c *Config) Validate() error {
	var errs []string
	if strings.TrimSpace(c.Store.Path) == "" {
		errs = append(errs, "store.path is required")
	}
	if c.Pipeline.Concurrency < 1 {
		errs = append(errs, "pipeline.concurrency must be at least 1")
	}
	for name, th := range map[string]float64{
		"name_threshold":        c.Validation.NameThreshold,
		"address_threshold":     c.Validation.AddressThreshold,
		"nationality_threshold": c.Validation.NationalityThreshold,
		"employer_threshold":    c.Validation.EmployerThreshold,
		"position_threshold":    c.Validation.PositionThreshold,
	} {
		if th <= 0 || th > 1 {
			errs = append(errs, "validation."+name+" must be in (0, 1]")
		}
	}
	if len(errs) > 0 {
		return eris.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}

// Load reads config.yaml from the working directory when present, then
// KYC_* environment variables.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	v.SetEnvPrefix("KYC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := validation.DefaultThresholds()
	v.SetDefault("store.path", "kyc.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.addr", ":8090")
	v.SetDefault("server.upload_dir", "uploads")
	v.SetDefault("server.request_timeout_secs", 30)
	v.SetDefault("anthropic.model", "claude-sonnet-4-20250514")
	v.SetDefault("anthropic.max_tokens", 4096)
	v.SetDefault("anthropic.requests_per_second", 2)
	v.SetDefault("anthropic.max_attempts", 3)
	v.SetDefault("pipeline.concurrency", 4)
	v.SetDefault("pipeline.stage_timeout_secs", 120)
	v.SetDefault("validation.name_threshold", defaults.Name)
	v.SetDefault("validation.address_threshold", defaults.Address)
	v.SetDefault("validation.nationality_threshold", defaults.Nationality)
	v.SetDefault("validation.employer_threshold", defaults.Employer)
	v.SetDefault("validation.position_threshold", defaults.Position)
	v.SetDefault("validation.use_llm", true)
	for _, st := range evaluator.Stages {
		v.SetDefault("stages."+string(st)+".enabled", true)
	}
	v.SetDefault("report.pdf_timeout_secs", 30)
	v.SetDefault("telemetry.service_name", "kyc-agency")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}
	return &cfg, nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)
	return nil
}
