package telemetry

import (
	"fmt"
	"math/rand"
	"sync/atomic"
	"time"

	"github.com/roadrunner-server/errors"
	"go.uber.org/zap"
)

// Client turns raw exceptions, messages, and sessions into wire-ready events
// and hands them to its exclusively-owned transport. Construction is the
// only fatal path; capture calls never raise to the host application.
type Client struct {
	options   *ClientOptions
	dsn       *DSN
	transport Transport
	logger    *zap.Logger
	closed    atomic.Bool
}

// NewClient validates options, parses the DSN, and builds the transport
// once. An empty DSN yields a client whose sends resolve as dropped, so
// instrumented code keeps working without a configured backend.
func NewClient(options ClientOptions, logger *zap.Logger) (*Client, error) {
	const op = errors.Op("client_init")

	options.InitDefaults()
	if err := options.Validate(); err != nil {
		return nil, errors.E(op, err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	c := &Client{
		options: &options,
		logger:  logger,
	}

	if options.DSN == "" {
		logger.Warn("No DSN configured, events will be discarded")
		c.transport = discardTransport{}
		return c, nil
	}

	dsn, err := ParseDSN(options.DSN)
	if err != nil {
		return nil, errors.E(op, err)
	}
	c.dsn = dsn

	if options.Transport != nil {
		c.transport = options.Transport(&options, dsn, logger)
		return c, nil
	}

	transport, err := NewAsyncTransport(&options, dsn, logger)
	if err != nil {
		return nil, errors.E(op, err)
	}
	c.transport = transport

	return c, nil
}

// Options returns the client's configuration.
func (c *Client) Options() *ClientOptions {
	return c.options
}

// Transport returns the owned transport.
func (c *Client) Transport() Transport {
	return c.transport
}

// CaptureException reports an error value.
func (c *Client) CaptureException(err error, scope *Scope) *SendResult {
	if err == nil {
		return resolvedResult(OutcomeDropped)
	}

	event := NewEvent()
	event.Level = LevelError
	event.Exception = []Exception{{
		Type:  fmt.Sprintf("%T", err),
		Value: err.Error(),
	}}

	return c.CaptureEvent(event, scope)
}

// CaptureMessage reports a plain message at the given level.
func (c *Client) CaptureMessage(message string, level Level, scope *Scope) *SendResult {
	event := NewEvent()
	event.Message = message
	event.Level = level

	return c.CaptureEvent(event, scope)
}

// CaptureEvent runs the full pipeline: enrich, apply scope, sample, run the
// beforeSend hook, then hand off to the transport. Internal failures degrade
// to sending with less context; they are logged, never raised.
func (c *Client) CaptureEvent(event *Event, scope *Scope) *SendResult {
	if event == nil {
		return resolvedResult(OutcomeDropped)
	}
	if c.closed.Load() {
		return resolvedResult(OutcomeDropped)
	}

	c.enrich(event)

	if scope != nil {
		event = scope.ApplyToEvent(event, c.logger)
		if event == nil {
			c.logger.Debug("Event dropped by scope processor")
			return resolvedResult(OutcomeDropped)
		}
	}

	if event.Type != eventTypeTransaction && c.options.SampleRate < 1 {
		if rand.Float64() >= c.options.SampleRate {
			return resolvedResult(OutcomeDropped)
		}
	}

	if event = c.runBeforeSend(event); event == nil {
		return resolvedResult(OutcomeDropped)
	}

	return c.transport.SendEvent(event)
}

// CaptureSession reports a session update.
func (c *Client) CaptureSession(session *Session) *SendResult {
	if session == nil || c.closed.Load() {
		return resolvedResult(OutcomeDropped)
	}
	if session.Timestamp.IsZero() {
		session.Timestamp = time.Now()
	}
	if session.Release == "" {
		session.Release = c.options.Release
	}

	return c.transport.SendSession(session)
}

// enrich fills event fields the application left unset.
func (c *Client) enrich(event *Event) {
	if event.ID == "" {
		event.ID = NewEventID()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	if event.Level == "" {
		event.Level = LevelInfo
	}
	if event.Environment == "" {
		event.Environment = c.options.Environment
	}
	if event.Release == "" {
		event.Release = c.options.Release
	}
	if event.ServerName == "" {
		event.ServerName = c.options.ServerName
	}
	if event.SDK == (SDKInfo{}) {
		event.SDK = SDKInfo{Name: sdkIdentifier, Version: Version}
	}
}

// runBeforeSend applies the configured hook for the event's kind with panic
// recovery: a crashing hook must not take the host down, so it is treated
// as a pass-through.
func (c *Client) runBeforeSend(event *Event) (result *Event) {
	hook := c.options.BeforeSend
	if event.Type == eventTypeTransaction {
		hook = c.options.BeforeSendTransaction
	}
	if hook == nil {
		return event
	}

	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("BeforeSend hook panicked, sending event unmodified",
				zap.Any("panic", r),
				zap.String("event_id", string(event.ID)))
			result = event
		}
	}()

	return hook(event)
}

// Flush waits for pending deliveries to drain; it reports false when items
// were still pending at the timeout.
func (c *Client) Flush(timeout time.Duration) bool {
	return c.transport.Flush(timeout)
}

// Close flushes then shuts the transport down. Capture calls after Close
// fail fast with a dropped outcome.
func (c *Client) Close(timeout time.Duration) bool {
	if c.closed.Swap(true) {
		return true
	}

	drained := c.transport.Flush(timeout)
	c.transport.Close()
	return drained
}

// discardTransport backs clients without a DSN.
type discardTransport struct{}

func (discardTransport) SendEvent(*Event) *SendResult     { return resolvedResult(OutcomeDropped) }
func (discardTransport) SendSession(*Session) *SendResult { return resolvedResult(OutcomeDropped) }
func (discardTransport) Flush(time.Duration) bool         { return true }
func (discardTransport) Close()                           {}
