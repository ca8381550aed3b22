package telemetry

import (
	"time"

	"github.com/roadrunner-server/errors"
	"go.uber.org/zap"
)

const (
	defaultMaxBreadcrumbs = 100
	defaultQueueSize      = 30
	defaultTimeout        = 5 * time.Second
	defaultSampleRate     = 1.0
)

// TransportFactory builds the transport a client will own. Overriding it is
// the hook for custom delivery (tests, offline spooling).
type TransportFactory func(options *ClientOptions, dsn *DSN, logger *zap.Logger) Transport

// ClientOptions is the configuration surface of a Client.
type ClientOptions struct {
	// DSN of the collection endpoint. Empty disables transmission.
	DSN string `mapstructure:"dsn"`

	// Environment and Release stamp every outgoing event.
	Environment string `mapstructure:"environment"`
	Release     string `mapstructure:"release"`
	ServerName  string `mapstructure:"server_name"`

	// SampleRate in [0, 1]; events are dropped client-side below it.
	SampleRate float64 `mapstructure:"sample_rate"`

	// MaxBreadcrumbs bounds the per-scope breadcrumb trail.
	MaxBreadcrumbs int `mapstructure:"max_breadcrumbs"`

	// QueueSize bounds concurrent in-flight items; over-limit sends are
	// shed, never blocked on.
	QueueSize int `mapstructure:"queue_size"`

	// Timeout covers connect plus response for one delivery attempt.
	Timeout time.Duration `mapstructure:"timeout"`

	// Compression enables gzip envelope bodies.
	Compression bool `mapstructure:"compression"`

	// SSLVerify toggles TLS certificate verification.
	SSLVerify bool `mapstructure:"ssl_verify"`

	// Proxy is an optional proxy URL for outbound requests.
	Proxy string `mapstructure:"proxy"`

	// BeforeSend may mutate, replace, or veto (return nil) error events.
	BeforeSend func(event *Event) *Event `mapstructure:"-"`

	// BeforeSendTransaction is the transaction counterpart of BeforeSend.
	BeforeSendTransaction func(event *Event) *Event `mapstructure:"-"`

	// Transport overrides the default HTTP transport factory.
	Transport TransportFactory `mapstructure:"-"`
}

// InitDefaults fills unset options with their defaults.
func (o *ClientOptions) InitDefaults() {
	if o.SampleRate == 0 {
		o.SampleRate = defaultSampleRate
	}
	if o.MaxBreadcrumbs == 0 {
		o.MaxBreadcrumbs = defaultMaxBreadcrumbs
	}
	if o.QueueSize == 0 {
		o.QueueSize = defaultQueueSize
	}
	if o.Timeout == 0 {
		o.Timeout = defaultTimeout
	}
	if !o.Compression {
		o.Compression = true
	}
	if !o.SSLVerify {
		o.SSLVerify = true
	}
}

// Validate rejects option combinations that cannot work.
func (o *ClientOptions) Validate() error {
	const op = errors.Op("options_validate")

	if o.SampleRate < 0 || o.SampleRate > 1 {
		return errors.E(op, errors.Errorf("sample_rate must be in [0, 1], got %v", o.SampleRate))
	}
	if o.MaxBreadcrumbs < 0 {
		return errors.E(op, errors.Errorf("max_breadcrumbs must be >= 0, got %d", o.MaxBreadcrumbs))
	}
	if o.QueueSize < 0 {
		return errors.E(op, errors.Errorf("queue_size must be >= 0, got %d", o.QueueSize))
	}
	if o.Timeout < 0 {
		return errors.E(op, errors.Errorf("timeout must be >= 0, got %v", o.Timeout))
	}
	return nil
}

// Config is the plugin-level configuration section.
type Config struct {
	Enabled bool          `mapstructure:"enabled"`
	Client  ClientOptions `mapstructure:"client"`
}

// InitDefaults initializes default configuration values.
func (cfg *Config) InitDefaults() {
	cfg.Client.InitDefaults()
}

// Validate validates the configuration.
func (cfg *Config) Validate() error {
	return cfg.Client.Validate()
}
