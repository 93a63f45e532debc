package observability

import (
	"strings"

	"github.com/smallbiznis/gymdesk/internal/config"
)

// Config is the observability view of the application config shared by the
// logger, tracer and meter providers.
type Config struct {
	ServiceName string
	Environment string
	Version     string

	LogLevel  string
	LogFormat string

	OtelEnabled          bool
	OtelExporterEndpoint string
	OtelExporterProtocol string
	OtelSamplingRatio    float64
}

func NewConfig(cfg config.Config) Config {
	serviceName := strings.TrimSpace(cfg.AppName)
	if serviceName == "" {
		serviceName = "gymdesk"
	}
	protocol := cfg.Telemetry.Protocol
	if protocol != "http" {
		protocol = "grpc"
	}
	return Config{
		ServiceName:          serviceName,
		Environment:          strings.TrimSpace(cfg.Environment),
		Version:              strings.TrimSpace(cfg.AppVersion),
		LogLevel:             cfg.LogLevel,
		LogFormat:            cfg.LogFormat,
		OtelEnabled:          cfg.Telemetry.Enabled && cfg.Telemetry.Endpoint != "",
		OtelExporterEndpoint: cfg.Telemetry.Endpoint,
		OtelExporterProtocol: protocol,
		OtelSamplingRatio:    clampRatio(cfg.Telemetry.SamplingRatio),
	}
}

// Debug enables verbose gin output and stack traces on error logs.
func (c Config) Debug() bool {
	if strings.EqualFold(strings.TrimSpace(c.LogLevel), "debug") {
		return true
	}
	switch strings.ToLower(strings.TrimSpace(c.Environment)) {
	case "dev", "development", "local", "test":
		return true
	default:
		return false
	}
}

func clampRatio(ratio float64) float64 {
	switch {
	case ratio < 0:
		return 0
	case ratio > 1:
		return 1
	default:
		return ratio
	}
}
