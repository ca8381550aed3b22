package telemetry

import (
	"context"
	"time"

	"github.com/roadrunner-server/endure/v2/dep"
	"github.com/roadrunner-server/errors"
	"go.uber.org/zap"
)

// PluginName is the configuration section the plugin reads.
const PluginName = "telemetry"

// Plugin adapts the client for hosts built on the endure container. It is
// the explicit registration point for host frameworks: the host hands events
// to the Capturer interface instead of the SDK patching framework internals.
type Plugin struct {
	config *Config
	logger *zap.Logger
	client *Client
	hub    *Hub

	stopCh chan struct{}
	doneCh chan struct{}
}

// Configurer is implemented by the host's config plugin.
type Configurer interface {
	UnmarshalKey(name string, out any) error
	Has(name string) bool
}

// Logger is implemented by the host's logger plugin.
type Logger interface {
	NamedLogger(name string) *zap.Logger
}

// Init reads the plugin section, builds the client, and binds it to a hub.
func (p *Plugin) Init(cfg Configurer, log Logger) error {
	const op = errors.Op("telemetry_plugin_init")

	if !cfg.Has(PluginName) {
		return errors.E(op, errors.Disabled)
	}

	config := &Config{}
	if err := cfg.UnmarshalKey(PluginName, config); err != nil {
		return errors.E(op, err)
	}

	config.InitDefaults()
	if err := config.Validate(); err != nil {
		return errors.E(op, err)
	}

	if !config.Enabled {
		return errors.E(op, errors.Disabled)
	}

	p.config = config
	p.logger = log.NamedLogger(PluginName)

	client, err := NewClient(config.Client, p.logger)
	if err != nil {
		return errors.E(op, err)
	}
	p.client = client
	p.hub = NewHub(client, NewScope())
	p.hub.Scope().SetMaxBreadcrumbs(client.Options().MaxBreadcrumbs)

	p.stopCh = make(chan struct{})
	p.doneCh = make(chan struct{})

	p.logger.Info("Telemetry plugin initialized",
		zap.Bool("dsn_configured", config.Client.DSN != ""),
		zap.Int("queue_size", config.Client.QueueSize))

	return nil
}

// Serve runs the periodic rate-limit purge until Stop is called.
func (p *Plugin) Serve() chan error {
	errCh := make(chan error, 1)

	if p.client == nil {
		errCh <- errors.E("telemetry_plugin_serve", errors.Str("plugin not initialized"))
		return errCh
	}

	go func() {
		defer close(p.doneCh)

		ticker := time.NewTicker(5 * time.Minute)
		defer ticker.Stop()

		for {
			select {
			case <-p.stopCh:
				return
			case <-ticker.C:
				if transport, ok := p.client.Transport().(*AsyncTransport); ok {
					transport.RateLimits().PurgeExpired()
				}
			}
		}
	}()

	return errCh
}

// Stop flushes and closes the client within the context deadline.
func (p *Plugin) Stop(ctx context.Context) error {
	if p.stopCh != nil {
		close(p.stopCh)
	}

	timeout := 5 * time.Second
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
	}

	if p.client != nil {
		if !p.client.Close(timeout) {
			p.logger.Warn("Transport not fully drained at shutdown")
		}
	}

	select {
	case <-p.doneCh:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Name returns the plugin name.
func (p *Plugin) Name() string {
	return PluginName
}

// RPC exposes the capture surface to the host process.
func (p *Plugin) RPC() any {
	return newRPC(p.hub, p.logger)
}

// Provides declares the interfaces other plugins can depend on.
func (p *Plugin) Provides() []*dep.Out {
	return []*dep.Out{
		dep.Bind((*Capturer)(nil), p.Capturer),
	}
}

// Capturer returns the hub-backed capture interface.
func (p *Plugin) Capturer() Capturer {
	return p.hub
}

// Capturer is the interface the plugin provides to sibling plugins.
type Capturer interface {
	CaptureEvent(event *Event) *SendResult
	CaptureException(err error) *SendResult
	CaptureMessage(message string, level Level) *SendResult
	AddBreadcrumb(crumb *Breadcrumb)
	Flush(timeout time.Duration) bool
}
