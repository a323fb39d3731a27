package main

import (
	"flag"
	"time"

	"github.com/grafana/dskit/flagext"
)

// RetentionPolicyConfig describes one retention policy entry a schema
// is known to carry, as declared in the config file rather than
// discovered from the backend. Used when auto-discovery is disabled,
// and as the fallback when auto-discovery returns no schema.
type RetentionPolicyConfig struct {
	Schema   string        `yaml:"schema"`
	Name     string        `yaml:"name"`
	Default  bool          `yaml:"default,omitempty"`
	Duration time.Duration `yaml:"duration,omitempty"`
	Interval time.Duration `yaml:"interval,omitempty"`
}

// AggregationPropertyConfig binds a measurement-name pattern within a
// schema to the aggregation function its continuous queries use.
type AggregationPropertyConfig struct {
	Schema    string `yaml:"schema"`
	Pattern   string `yaml:"pattern,omitempty"`
	Default   bool   `yaml:"default,omitempty"`
	Function  string `yaml:"function"`
}

// CounterOverflowConfig binds a (schema, measurement) pair to the
// modulus its wrapping counters overflow at.
type CounterOverflowConfig struct {
	Schema      string `yaml:"schema"`
	Measurement string `yaml:"measurement"`
	Modulus     int64  `yaml:"modulus"`
}

// Config is the root configuration for cleanflux:
// listen address, backend address, the set of enabled corrective
// rules, the retention-policy catalog (static or auto-discovered), the
// aggregation-function bindings the RP auto-selector needs, the
// counter-overflow moduli the counter-wrap rule needs, and the
// points-budget ceilings.
type Config struct {
	HTTPListenAddress string `yaml:"http_listen_address"`
	HTTPListenPort    int    `yaml:"http_listen_port"`

	BackendHost         string        `yaml:"backend_host"`
	BackendPort         int           `yaml:"backend_port"`
	BackendTimeout      time.Duration `yaml:"backend_timeout"`
	BackendRetries      int           `yaml:"backend_retries"`
	BackendMaxRPS       float64       `yaml:"backend_max_requests_per_second"`

	Rules flagext.StringSlice `yaml:"rules"`

	AutoRetrieveRetentionPolicies bool                        `yaml:"auto_retrieve_retention_policies"`
	RetentionPolicies             []RetentionPolicyConfig     `yaml:"retention_policies"`
	AggregationProperties         []AggregationPropertyConfig `yaml:"aggregation_properties"`
	CounterOverflows              []CounterOverflowConfig     `yaml:"counter_overflows"`

	MaxNbPointsPerQuery  int64 `yaml:"max_nb_points_per_query"`
	MaxNbPointsPerSeries int64 `yaml:"max_nb_points_per_series"`

	LogLevel string `yaml:"log_level"`
	LogFile  string `yaml:"logfile"`
	PidFile  string `yaml:"pidfile"`
}

// NewDefaultConfig creates a new Config with default values applied.
func NewDefaultConfig() *Config {
	defaultConfig := &Config{}
	defaultFS := flag.NewFlagSet("", flag.PanicOnError)
	defaultConfig.RegisterFlagsAndApplyDefaults("", defaultFS)
	return defaultConfig
}

// RegisterFlagsAndApplyDefaults registers flags and sets default values.
func (c *Config) RegisterFlagsAndApplyDefaults(prefix string, f *flag.FlagSet) {
	f.StringVar(&c.HTTPListenAddress, prefix+"server.http-listen-address", "0.0.0.0", "HTTP server listen address.")
	f.IntVar(&c.HTTPListenPort, prefix+"server.http-listen-port", 8086, "HTTP server listen port.")

	f.StringVar(&c.BackendHost, prefix+"backend.host", "localhost", "Backend database host.")
	f.IntVar(&c.BackendPort, prefix+"backend.port", 8087, "Backend database port.")
	f.DurationVar(&c.BackendTimeout, prefix+"backend.timeout", 30*time.Second, "Timeout for a single backend request.")
	f.IntVar(&c.BackendRetries, prefix+"backend.retries", 2, "Number of retries for a failed backend request (transport errors only).")
	f.Float64Var(&c.BackendMaxRPS, prefix+"backend.max-requests-per-second", 0, "Maximum requests per second issued to the backend by one client (0 disables the limit).")

	f.Var(&c.Rules, prefix+"rules", "Corrective rule to enable; may be repeated. Defaults to every built-in rule when unset.")

	f.BoolVar(&c.AutoRetrieveRetentionPolicies, prefix+"auto-retrieve-retention-policies", true, "Discover retention policies and continuous queries from the backend at startup instead of reading them from config.")

	f.Int64Var(&c.MaxNbPointsPerQuery, prefix+"limits.max-points-per-query", 0, "Maximum number of points a single query may return across all series (0 disables the check).")
	f.Int64Var(&c.MaxNbPointsPerSeries, prefix+"limits.max-points-per-series", 0, "Maximum number of points a single series may return (0 disables the check).")

	f.StringVar(&c.LogLevel, prefix+"log.level", "info", "Logging level: debug, info, warn, error.")
	f.StringVar(&c.LogFile, prefix+"logfile", "", "Path to log file; empty logs to stdout.")
	f.StringVar(&c.PidFile, prefix+"pidfile", "", "Path to pid file; empty disables pid file management.")
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.BackendHost == "" {
		return errBackendHostRequired
	}
	if c.BackendPort <= 0 {
		return errBackendPortRequired
	}
	if !c.AutoRetrieveRetentionPolicies && len(c.RetentionPolicies) == 0 {
		return errNoRetentionPolicies
	}
	for i, rp := range c.RetentionPolicies {
		if rp.Schema == "" || rp.Name == "" {
			return errRetentionPolicyIncomplete(i)
		}
	}
	return nil
}

// CheckConfig checks if config values are suspect and returns a bundled list of warnings and explanation.
func (c *Config) CheckConfig() []ConfigWarning {
	var warnings []ConfigWarning

	if c.MaxNbPointsPerQuery <= 0 && c.MaxNbPointsPerSeries <= 0 {
		warnings = append(warnings, warnNoPointsBudget)
	}
	if len(c.CounterOverflows) == 0 {
		warnings = append(warnings, ConfigWarning{
			Message: "no counter_overflows configured",
			Explain: "handle_counter_wrap_non_negative_derivative will never apply to any query",
		})
	}

	return warnings
}

// ConfigWarning bundles message and explanation strings in one structure.
type ConfigWarning struct {
	Message string
	Explain string
}

var warnNoPointsBudget = ConfigWarning{
	Message: "neither max_nb_points_per_query nor max_nb_points_per_series is set",
	Explain: "the points-budget limiter is disabled; a wide-window low-interval query can return an unbounded number of points",
}

// ExampleConfig returns an example configuration YAML.
func ExampleConfig() string {
	return `# cleanflux configuration
http_listen_address: "0.0.0.0"
http_listen_port: 8086

backend_host: "influxdb.example.com"
backend_port: 8086
backend_timeout: 30s
backend_retries: 2

rules:
  - handle_counter_wrap_non_negative_derivative
  - remove_partial_intervals_case_sum_group_by_time

auto_retrieve_retention_policies: true

# Consulted when auto_retrieve_retention_policies is false, or when
# auto-discovery returns no schema.
retention_policies:
  - schema: "telemetry"
    name: "one_week"
    default: true
    duration: 168h
  - schema: "telemetry"
    name: "one_year"
    duration: 8760h
    interval: 1h

aggregation_properties:
  - schema: "telemetry"
    pattern: "^counter_.*"
    function: "sum"
  - schema: "telemetry"
    default: true
    function: "mean"

counter_overflows:
  - schema: "telemetry"
    measurement: "interface_octets"
    modulus: 4294967296

max_nb_points_per_query: 10000
max_nb_points_per_series: 2000

log_level: "info"
logfile: ""
pidfile: ""
`
}
