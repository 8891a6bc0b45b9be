package server

import (
	"net/url"
	"strings"
	"time"

	"github.com/go-errors/errors"
	"github.com/hashicorp/go-multierror"
	"github.com/sirupsen/logrus"
)

// Configuration contains the configuration shared by the verifier and wallet
// session engines.
type Configuration struct {
	// External URL at which this server is reachable by browsers and by the
	// other parties in the exchange. No trailing slash.
	URL string `json:"url" mapstructure:"url"`

	// Address and port to listen on.
	ListenAddress string `json:"listen_addr" mapstructure:"listen_addr"`
	Port          int    `json:"port" mapstructure:"port"`

	// Base URLs of the UIs that redirect-based flows land on.
	WalletUIURL   string `json:"wallet_ui_url" mapstructure:"wallet_ui_url"`
	VerifierUIURL string `json:"verifier_ui_url" mapstructure:"verifier_ui_url"`

	// Paths of the registry config files. The verifier registry holds holder
	// wallets; the wallet registry holds issuers and verifiers.
	VerifierRegistryPath string `json:"verifier_registry" mapstructure:"verifier_registry"`
	WalletRegistryPath   string `json:"wallet_registry" mapstructure:"wallet_registry"`

	// SessionLifetime bounds how long a pending session, challenge or
	// verification result stays resolvable. Zero means the default of 5
	// minutes.
	SessionLifetime time.Duration `json:"session_lifetime" mapstructure:"session_lifetime"`

	// UpstreamTimeout bounds outbound calls to external issuers during
	// issuance. Zero means the default of 10 seconds.
	UpstreamTimeout time.Duration `json:"upstream_timeout" mapstructure:"upstream_timeout"`

	// StoreType selects the session store backend: "memory" (default) or
	// "redis".
	StoreType     string        `json:"store_type" mapstructure:"store_type"`
	RedisSettings RedisSettings `json:"redis" mapstructure:"redis"`

	Logger *logrus.Logger `json:"-"`

	// Logging verbosity: 0 is normal, 1 shows DEBUG, 2 shows TRACE.
	Verbose int `json:"verbose" mapstructure:"verbose"`
	// Don't log anything at all.
	Quiet bool `json:"quiet" mapstructure:"quiet"`
	// Output structured log in JSON format.
	LogJSON bool `json:"log_json" mapstructure:"log_json"`
}

// RedisSettings configure the Redis session store backend.
type RedisSettings struct {
	Address  string `json:"address" mapstructure:"address"`
	Password string `json:"password" mapstructure:"password"`
	DB       int    `json:"db" mapstructure:"db"`
}

const (
	DefaultSessionLifetime = 5 * time.Minute
	DefaultUpstreamTimeout = 10 * time.Second
)

// Check fills in defaults and validates the configuration, aggregating all
// problems found.
func (conf *Configuration) Check() error {
	if conf.Logger == nil {
		conf.Logger = NewLogger(conf.Verbose, conf.Quiet, conf.LogJSON)
	}
	Logger = conf.Logger

	if conf.SessionLifetime == 0 {
		conf.SessionLifetime = DefaultSessionLifetime
	}
	if conf.UpstreamTimeout == 0 {
		conf.UpstreamTimeout = DefaultUpstreamTimeout
	}
	if conf.StoreType == "" {
		conf.StoreType = "memory"
	}
	if conf.Port == 0 {
		conf.Port = 8080
	}
	conf.URL = strings.TrimSuffix(conf.URL, "/")

	var result *multierror.Error
	if conf.URL == "" {
		result = multierror.Append(result, errors.New("server url not configured"))
	} else if _, err := url.Parse(conf.URL); err != nil {
		result = multierror.Append(result, errors.Errorf("invalid server url: %v", err))
	}
	if conf.StoreType != "memory" && conf.StoreType != "redis" {
		result = multierror.Append(result, errors.Errorf("unsupported store type %q", conf.StoreType))
	}
	if conf.StoreType == "redis" && conf.RedisSettings.Address == "" {
		result = multierror.Append(result, errors.New("redis store type requires redis address"))
	}
	return result.ErrorOrNil()
}

// NewLogger returns a logger with the specified verbosity.
func NewLogger(verbosity int, quiet bool, json bool) *logrus.Logger {
	logger := logrus.New()

	if quiet {
		logger.Out = quietWriter{}
		return logger
	}

	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
		DisableColors: json,
	})
	if json {
		logger.SetFormatter(&logrus.JSONFormatter{})
	}

	switch verbosity {
	case 0:
		logger.SetLevel(logrus.InfoLevel)
	case 1:
		logger.SetLevel(logrus.DebugLevel)
	default:
		logger.SetLevel(logrus.TraceLevel)
	}
	return logger
}

type quietWriter struct{}

func (quietWriter) Write(p []byte) (int, error) { return len(p), nil }
