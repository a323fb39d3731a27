package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/drone/envsubst"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/grafana/dskit/flagext"
	"github.com/prometheus/client_golang/prometheus"
	ver "github.com/prometheus/client_golang/prometheus/collectors/version"
	"github.com/prometheus/common/version"
	"gopkg.in/yaml.v3"

	"github.com/transatel/cleanflux/internal/backend"
	"github.com/transatel/cleanflux/internal/proxy"
	"github.com/transatel/cleanflux/internal/rp"
)

const appName = "cleanflux"

// Version is set via build flag -ldflags -X main.Version
var (
	Version  string
	Branch   string
	Revision string
)

func init() {
	version.Version = Version
	version.Branch = Branch
	version.Revision = Revision

	prometheus.MustRegister(ver.NewCollector(appName))
}

func main() {
	printVersion := flag.Bool("version", false, "Print version and exit")
	printExampleConfig := flag.Bool("config.example", false, "Print example configuration and exit")
	printShowRules := flag.Bool("show-rules", false, "Print configured corrective rules and exit")

	cfg, configVerify, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed parsing config: %v\n", err)
		os.Exit(1)
	}
	if *printVersion {
		fmt.Println(version.Print(appName))
		os.Exit(0)
	}
	if *printExampleConfig {
		fmt.Print(ExampleConfig())
		os.Exit(0)
	}

	switch flag.Arg(0) {
	case "status":
		os.Exit(pidfileStatus(cfg.PidFile))
	case "stop":
		os.Exit(pidfileStop(cfg.PidFile))
	}

	logger, err := newLogger(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to open log file: %v\n", err)
		os.Exit(1)
	}

	configValid := true
	if warnings := cfg.CheckConfig(); len(warnings) != 0 {
		level.Warn(logger).Log("msg", "-- CONFIGURATION WARNINGS --")
		for _, w := range warnings {
			output := []any{"msg", w.Message}
			if w.Explain != "" {
				output = append(output, "explain", w.Explain)
			}
			level.Warn(logger).Log(output...)
		}
		configValid = false
	}

	if configVerify {
		if err := cfg.Validate(); err != nil {
			level.Error(logger).Log("msg", "invalid configuration", "err", err)
			os.Exit(1)
		}
		if !configValid {
			os.Exit(1)
		}
		level.Info(logger).Log("msg", "configuration is valid")
		os.Exit(0)
	}

	if err := cfg.Validate(); err != nil {
		level.Error(logger).Log("msg", "invalid configuration", "err", err)
		os.Exit(1)
	}

	builtRules, err := buildRules(cfg)
	if err != nil {
		level.Error(logger).Log("msg", "failed to build corrective rules", "err", err)
		os.Exit(1)
	}

	if *printShowRules {
		fmt.Print(showRules(builtRules))
		os.Exit(0)
	}

	aggRules, err := buildAggregationRules(cfg)
	if err != nil {
		level.Error(logger).Log("msg", "failed to build aggregation rules", "err", err)
		os.Exit(1)
	}

	bootstrapClient := backend.New(backend.Config{
		Host:                 cfg.BackendHost,
		Port:                 cfg.BackendPort,
		Timeout:              cfg.BackendTimeout,
		Retries:              cfg.BackendRetries,
		MaxRequestsPerSecond: cfg.BackendMaxRPS,
	}, "", "", logger)

	catalog := buildStaticCatalog(cfg)
	if cfg.AutoRetrieveRetentionPolicies {
		discovered, errs := rp.DiscoverCatalog(context.Background(), bootstrapClient)
		for _, derr := range errs {
			level.Warn(logger).Log("msg", "retention policy discovery failed for a schema", "err", derr)
		}
		if len(discovered) > 0 {
			catalog = discovered
		} else {
			level.Warn(logger).Log("msg", "retention policy auto-discovery returned nothing, falling back to configured retention_policies")
		}
	}
	safeCatalog := rp.NewSafeCatalog(catalog)

	level.Info(logger).Log(
		"msg", "starting cleanflux",
		"version", Version,
		"backend", fmt.Sprintf("%s:%d", cfg.BackendHost, cfg.BackendPort),
		"rules", len(builtRules),
		"schemas", len(catalog),
	)

	pipeline := proxy.New(proxy.Config{
		Catalog:            safeCatalog,
		AggregationRules:   aggRules,
		MaxPointsPerQuery:  cfg.MaxNbPointsPerQuery,
		MaxPointsPerSeries: cfg.MaxNbPointsPerSeries,
		Rules:              builtRules,
	}, logger)

	newClient := func(user, password string) *backend.Client {
		return backend.New(backend.Config{
			Host:                 cfg.BackendHost,
			Port:                 cfg.BackendPort,
			Timeout:              cfg.BackendTimeout,
			Retries:              cfg.BackendRetries,
			MaxRequestsPerSecond: cfg.BackendMaxRPS,
		}, user, password, logger)
	}

	handler := proxy.NewHandler(cfg.BackendHost, cfg.BackendPort, newClient, pipeline, logger)

	addr := fmt.Sprintf("%s:%d", cfg.HTTPListenAddress, cfg.HTTPListenPort)
	server := &http.Server{
		Addr:    addr,
		Handler: handler.Router(),
	}

	if cfg.PidFile != "" {
		if err := os.WriteFile(cfg.PidFile, []byte(fmt.Sprintf("%d\n", os.Getpid())), 0o644); err != nil {
			level.Warn(logger).Log("msg", "failed to write pidfile", "path", cfg.PidFile, "err", err)
		} else {
			defer os.Remove(cfg.PidFile)
		}
	}

	done := make(chan bool, 1)
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		level.Info(logger).Log("msg", "shutting down server...")
		if err := server.Close(); err != nil {
			level.Error(logger).Log("msg", "error during shutdown", "err", err)
		}
		done <- true
	}()

	level.Info(logger).Log("msg", "server listening", "addr", addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		level.Error(logger).Log("msg", "server error", "err", err)
		os.Exit(1)
	}

	<-done
	level.Info(logger).Log("msg", "server stopped")
}

func newLogger(cfg *Config) (log.Logger, error) {
	var w io.Writer = os.Stdout
	if cfg.LogFile != "" {
		f, err := os.OpenFile(cfg.LogFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, err
		}
		w = f
	}
	logger := log.NewLogfmtLogger(log.NewSyncWriter(w))
	logger = log.With(logger, "ts", log.DefaultTimestampUTC)

	var filter level.Option
	switch cfg.LogLevel {
	case "debug":
		filter = level.AllowDebug()
	case "warn":
		filter = level.AllowWarn()
	case "error":
		filter = level.AllowError()
	default:
		filter = level.AllowInfo()
	}
	return level.NewFilter(logger, filter), nil
}

func loadConfig() (*Config, bool, error) {
	const (
		configFileOption      = "configfile"
		configExpandEnvOption = "config.expand-env"
		configVerifyOption    = "config.verify"
	)

	var (
		configFile      string
		configExpandEnv bool
		configVerify    bool
	)

	args := os.Args[1:]
	config := &Config{}

	fs := flag.NewFlagSet("", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	fs.StringVar(&configFile, configFileOption, "", "")
	fs.BoolVar(&configExpandEnv, configExpandEnvOption, false, "")
	fs.BoolVar(&configVerify, configVerifyOption, false, "")

	for len(args) > 0 {
		_ = fs.Parse(args)
		args = args[1:]
	}

	config.RegisterFlagsAndApplyDefaults("", flag.CommandLine)

	if configFile != "" {
		buff, err := os.ReadFile(configFile)
		if err != nil {
			return nil, false, fmt.Errorf("failed to read configFile %s: %w", configFile, err)
		}

		if configExpandEnv {
			s, err := envsubst.EvalEnv(string(buff))
			if err != nil {
				return nil, false, fmt.Errorf("failed to expand env vars from configFile %s: %w", configFile, err)
			}
			buff = []byte(s)
		}

		if err := yaml.Unmarshal(buff, config); err != nil {
			return nil, false, fmt.Errorf("failed to parse configFile %s: %w", configFile, err)
		}
	}

	flagext.IgnoredFlag(flag.CommandLine, configFileOption, "Configuration file to load")
	flagext.IgnoredFlag(flag.CommandLine, configExpandEnvOption, "Whether to expand environment variables in config file")
	flagext.IgnoredFlag(flag.CommandLine, configVerifyOption, "Verify configuration and exit")
	flag.Parse()

	return config, configVerify, nil
}
