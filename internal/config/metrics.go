package config

// MetricsConfig controls the Prometheus endpoint and OTLP export of the
// scoreboard's feed, mutation and request metrics.
type MetricsConfig struct {
	Enabled      bool
	Port         string
	OtlpEndpoint string
	ServiceName  string
	OtlpInsecure bool
}

// OTLP reports whether metrics are pushed to a collector in addition to the
// scrape endpoint.
func (m MetricsConfig) OTLP() bool {
	return m.Enabled && m.OtlpEndpoint != ""
}

func loadMetrics(env lookup) MetricsConfig {
	return MetricsConfig{
		Enabled:      env.flag(envMetricsOn, true),
		Port:         env.str(envMetricsPort, defaultMetricsPort),
		OtlpEndpoint: env.str(envOtelEndpoint, ""),
		ServiceName:  env.str(envOtelService, defaultServiceName),
		OtlpInsecure: env.flag(envOtelInsecure, true),
	}
}
