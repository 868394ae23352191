package observability

import (
	"strings"

	"github.com/smallbiznis/gigpay/internal/config"
)

// Config is the slice of application config the log, trace and metric
// providers need.
type Config struct {
	ServiceName string
	Environment string
	Version     string

	LogLevel  string
	LogFormat string

	ExportEnabled    bool
	ExporterEndpoint string
	ExporterProtocol string
	SampleRatio      float64
}

func LoadConfig(cfg config.Config) Config {
	name := strings.TrimSpace(cfg.AppName)
	if name == "" {
		name = "gigpay"
	}
	format := cfg.LogFormat
	if format != "console" {
		format = "json"
	}
	return Config{
		ServiceName:      name,
		Environment:      strings.ToLower(strings.TrimSpace(cfg.Environment)),
		Version:          strings.TrimSpace(cfg.AppVersion),
		LogLevel:         cfg.LogLevel,
		LogFormat:        format,
		ExportEnabled:    cfg.OTelEnabled,
		ExporterEndpoint: strings.TrimSpace(cfg.OTLPEndpoint),
		ExporterProtocol: cfg.OTLPProtocol,
		SampleRatio:      cfg.TraceSampleRatio,
	}
}

// Debug reports whether verbose output is wanted. Local and test
// environments always log at debug.
func (c Config) Debug() bool {
	if c.LogLevel == "debug" {
		return true
	}
	switch c.Environment {
	case "dev", "development", "local", "test":
		return true
	}
	return false
}
