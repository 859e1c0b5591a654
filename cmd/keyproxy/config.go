package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/go-zoox/keyproxy"
	"github.com/go-zoox/keyproxy/utils/rotator"
	"github.com/spf13/cobra"
)

// environment variables
const (
	envKeys                  = "API_KEYS"
	envPort                  = "PORT"
	envUpstream              = "UPSTREAM_URL"
	envKeyHeader             = "API_KEY_HEADER"
	envMetricsPort           = "METRICS_PORT"
	envResponseHeaderTimeout = "RESPONSE_HEADER_TIMEOUT"
	envMaxRequestBodyBytes   = "MAX_REQUEST_BODY_BYTES"
)

const defaultPort = 8080

const defaultMaxRequestBodyBytes = 32 << 20

// Config is the runtime configuration of the proxy process.
type Config struct {
	Keys        []string
	Port        int
	Upstream    string
	KeyHeader   string
	MetricsPort string

	ResponseHeaderTimeout time.Duration
	ReadTimeout           time.Duration
	IdleTimeout           time.Duration
	WriteTimeout          time.Duration

	MaxRequestBodyBytes int64

	RequestLogging bool
}

// options holds raw flag values; unset flags fall back to the environment.
type options struct {
	keys                  string
	port                  int
	upstream              string
	keyHeader             string
	metricsPort           string
	responseHeaderTimeout time.Duration
	readTimeout           time.Duration
	idleTimeout           time.Duration
	writeTimeout          time.Duration
	maxRequestBodyBytes   int64
	requestLogging        bool
}

func (o *options) bind(cmd *cobra.Command) {
	flags := cmd.Flags()
	flags.StringVar(&o.keys, "keys", "", "comma separated api keys (env "+envKeys+")")
	flags.IntVarP(&o.port, "port", "p", defaultPort, "port to listen on (env "+envPort+")")
	flags.StringVar(&o.upstream, "upstream", keyproxy.DefaultTarget, "upstream api url (env "+envUpstream+")")
	flags.StringVar(&o.keyHeader, "key-header", keyproxy.HeaderAPIKey, "header carrying the api key (env "+envKeyHeader+")")
	flags.StringVar(&o.metricsPort, "metrics-port", "", "port to serve prometheus metrics on, disabled when empty (env "+envMetricsPort+")")
	flags.DurationVar(&o.responseHeaderTimeout, "response-header-timeout", 0, "how long to wait for upstream response headers, 0 waits forever (env "+envResponseHeaderTimeout+")")
	flags.DurationVar(&o.readTimeout, "read-timeout", 60*time.Second, "server read timeout")
	flags.DurationVar(&o.idleTimeout, "idle-timeout", 60*time.Second, "server idle timeout")
	flags.DurationVar(&o.writeTimeout, "write-timeout", 0, "server write timeout, 0 keeps long streams open")
	flags.Int64Var(&o.maxRequestBodyBytes, "max-request-body-bytes", defaultMaxRequestBodyBytes, "largest request body accepted, 0 disables the limit (env "+envMaxRequestBodyBytes+")")
	flags.BoolVar(&o.requestLogging, "request-logging", true, "log every served request")
}

// load resolves flags and environment into a Config. Flags win over the
// environment; the api keys are mandatory.
func (o *options) load(cmd *cobra.Command, getenv func(string) string) (*Config, error) {
	flags := cmd.Flags()

	rawKeys := o.keys
	if !flags.Changed("keys") {
		rawKeys = getenv(envKeys)
	}
	keys, err := rotator.ParseKeys(rawKeys)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", envKeys, err)
	}

	cfg := &Config{
		Keys:                  keys,
		Port:                  o.port,
		Upstream:              o.upstream,
		KeyHeader:             o.keyHeader,
		MetricsPort:           o.metricsPort,
		ResponseHeaderTimeout: o.responseHeaderTimeout,
		ReadTimeout:           o.readTimeout,
		IdleTimeout:           o.idleTimeout,
		WriteTimeout:          o.writeTimeout,
		MaxRequestBodyBytes:   o.maxRequestBodyBytes,
		RequestLogging:        o.requestLogging,
	}

	if !flags.Changed("port") {
		cfg.Port = parsePort(getenv(envPort))
	}

	if v := getenv(envUpstream); v != "" && !flags.Changed("upstream") {
		cfg.Upstream = v
	}

	if v := getenv(envKeyHeader); v != "" && !flags.Changed("key-header") {
		cfg.KeyHeader = v
	}

	if v := getenv(envMetricsPort); v != "" && !flags.Changed("metrics-port") {
		cfg.MetricsPort = v
	}

	if v := getenv(envResponseHeaderTimeout); v != "" && !flags.Changed("response-header-timeout") {
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", envResponseHeaderTimeout, err)
		}
		cfg.ResponseHeaderTimeout = d
	}

	if v := getenv(envMaxRequestBodyBytes); v != "" && !flags.Changed("max-request-body-bytes") {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("%s: invalid byte count %q", envMaxRequestBodyBytes, v)
		}
		cfg.MaxRequestBodyBytes = n
	}

	if cfg.MaxRequestBodyBytes < 0 {
		return nil, fmt.Errorf("max request body bytes must not be negative: %d", cfg.MaxRequestBodyBytes)
	}

	return cfg, nil
}

// parsePort falls back to the default port when raw is empty or not a valid port.
func parsePort(raw string) int {
	port, err := strconv.Atoi(raw)
	if err != nil || port <= 0 || port > 65535 {
		return defaultPort
	}

	return port
}
