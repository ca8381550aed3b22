package telemetry

import (
	"bytes"
	"compress/gzip"
	"crypto/tls"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/roadrunner-server/errors"
	"go.uber.org/zap"
)

// Transport delivers finished items to the backend. Sends never fail
// synchronously; every outcome is reported through the returned future.
type Transport interface {
	SendEvent(event *Event) *SendResult
	SendSession(session *Session) *SendResult
	Flush(timeout time.Duration) bool
	Close()
}

// AsyncTransport ships envelopes over a persistent HTTP connection pool. A
// single worker goroutine drains a bounded queue; over-capacity sends are
// shed immediately and active rate limits reject items before any network
// call is made.
type AsyncTransport struct {
	dsn         *DSN
	options     *ClientOptions
	client      *http.Client
	logger      *zap.Logger
	rateLimiter *RateLimiter
	metrics     *metricsCollector

	queue    *sendQueue
	inflight *inflightTracker

	startOnce  sync.Once
	closeOnce  sync.Once
	workerDone chan struct{}
}

// NewAsyncTransport builds the default transport. An invalid proxy URL is a
// construction error.
func NewAsyncTransport(options *ClientOptions, dsn *DSN, logger *zap.Logger) (*AsyncTransport, error) {
	const op = errors.Op("transport_init")

	pool := &http.Transport{
		MaxIdleConns:        10,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: options.Timeout,
		TLSClientConfig: &tls.Config{
			InsecureSkipVerify: !options.SSLVerify,
		},
	}

	if options.Proxy != "" {
		proxyURL, err := url.Parse(options.Proxy)
		if err != nil {
			return nil, errors.E(op, errors.Errorf("invalid proxy URL: %v", err))
		}
		pool.Proxy = http.ProxyURL(proxyURL)
	}

	t := &AsyncTransport{
		dsn:     dsn,
		options: options,
		client: &http.Client{
			Transport: pool,
			Timeout:   options.Timeout,
		},
		logger:      logger,
		rateLimiter: NewRateLimiter(logger),
		metrics:     newMetricsCollector(),
		queue:       newSendQueue(options.QueueSize),
		inflight:    newInflightTracker(),
		workerDone:  make(chan struct{}),
	}
	t.start()

	return t, nil
}

func (t *AsyncTransport) start() {
	t.startOnce.Do(func() {
		go t.worker()
	})
}

// SendEvent enqueues an event for delivery.
func (t *AsyncTransport) SendEvent(event *Event) *SendResult {
	item, err := eventToEnvelopeItem(event)
	if err != nil {
		t.logger.Error("Failed to serialize event",
			zap.String("event_id", string(event.ID)),
			zap.Error(err))
		t.metrics.recordOutcome(event.Category(), OutcomeInvalid)
		return resolvedResult(OutcomeInvalid)
	}
	return t.send(item)
}

// SendSession enqueues a session update for delivery.
func (t *AsyncTransport) SendSession(session *Session) *SendResult {
	item, err := sessionToEnvelopeItem(session)
	if err != nil {
		t.logger.Error("Failed to serialize session",
			zap.String("session_id", session.ID),
			zap.Error(err))
		t.metrics.recordOutcome(CategorySession, OutcomeInvalid)
		return resolvedResult(OutcomeInvalid)
	}
	return t.send(item)
}

// send applies the admission policy: rate-limit check first (no futile
// network work), then bounded-buffer admission with shed-on-full.
func (t *AsyncTransport) send(item *envelopeItem) *SendResult {
	if t.rateLimiter.IsLimited(item.category) {
		t.logger.Warn("Item rate limited, not sent",
			zap.String("category", string(item.category)),
			zap.Time("disabled_until", t.rateLimiter.Deadline(item.category)))
		t.metrics.recordOutcome(item.category, OutcomeRateLimited)
		return resolvedResult(OutcomeRateLimited)
	}

	if t.queue.isClosed() {
		t.logger.Warn("Transport closed, dropping item",
			zap.String("category", string(item.category)))
		t.metrics.recordOutcome(item.category, OutcomeDropped)
		return resolvedResult(OutcomeDropped)
	}

	if !t.inflight.tryAdd(t.options.QueueSize) {
		t.logger.Warn("Send queue full, shedding item",
			zap.String("category", string(item.category)))
		t.metrics.recordOutcome(item.category, OutcomeQueueFull)
		return resolvedResult(OutcomeQueueFull)
	}

	if !t.queue.enqueue(item) {
		// Closed between the check above and admission.
		t.inflight.done()
		t.metrics.recordOutcome(item.category, OutcomeDropped)
		return resolvedResult(OutcomeDropped)
	}

	return item.result
}

// worker drains the queue until it is closed, resolving each item's future.
func (t *AsyncTransport) worker() {
	defer close(t.workerDone)

	for item := range t.queue.items {
		outcome := t.deliver(item)
		t.metrics.recordOutcome(item.category, outcome)
		// Release the slot before resolving so a caller that sees the
		// outcome also sees the drained queue.
		t.inflight.done()
		item.result.resolve(outcome)
	}
}

// deliver performs one network attempt and classifies the response.
func (t *AsyncTransport) deliver(item *envelopeItem) SendOutcome {
	// A limit may have landed while the item sat in the queue.
	if t.rateLimiter.IsLimited(item.category) {
		return OutcomeRateLimited
	}

	req, err := t.buildRequest(item)
	if err != nil {
		t.logger.Error("Failed to build request",
			zap.String("event_id", string(item.eventID)),
			zap.Error(err))
		return OutcomeFailed
	}

	resp, err := t.client.Do(req)
	if err != nil {
		t.logger.Error("Envelope delivery failed",
			zap.String("event_id", string(item.eventID)),
			zap.Error(err))
		return OutcomeFailed
	}
	defer resp.Body.Close()

	limited := t.rateLimiter.OnResponse(resp)

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		t.logger.Debug("Envelope delivered",
			zap.String("event_id", string(item.eventID)),
			zap.Int("status_code", resp.StatusCode))
		return OutcomeSuccess

	case resp.StatusCode == http.StatusTooManyRequests:
		return OutcomeRateLimited

	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		t.logger.Error("Backend rejected envelope",
			zap.String("event_id", string(item.eventID)),
			zap.Int("status_code", resp.StatusCode))
		return OutcomeInvalid

	case resp.StatusCode >= 500 && limited:
		t.logger.Warn("Backend asked to back off",
			zap.String("event_id", string(item.eventID)),
			zap.Int("status_code", resp.StatusCode))
		return OutcomeRateLimited

	default:
		t.logger.Error("Envelope delivery failed",
			zap.String("event_id", string(item.eventID)),
			zap.Int("status_code", resp.StatusCode))
		return OutcomeFailed
	}
}

// buildRequest frames the envelope and sets auth and content headers.
func (t *AsyncTransport) buildRequest(item *envelopeItem) (*http.Request, error) {
	envelope := encodeEnvelope(item, t.dsn)

	var body *bytes.Buffer
	contentEncoding := ""

	if t.options.Compression {
		body = &bytes.Buffer{}
		zw := gzip.NewWriter(body)
		if _, err := zw.Write(envelope); err != nil {
			return nil, err
		}
		if err := zw.Close(); err != nil {
			return nil, err
		}
		contentEncoding = "gzip"
	} else {
		body = bytes.NewBuffer(envelope)
	}

	req, err := http.NewRequest(http.MethodPost, t.dsn.EnvelopeURL(), body)
	if err != nil {
		return nil, err
	}

	req.Header.Set("Content-Type", "application/x-telemetry-envelope")
	req.Header.Set("User-Agent", sdkIdentifier+"/"+Version)
	req.Header.Set("X-Telemetry-Auth", t.dsn.AuthHeader())
	if contentEncoding != "" {
		req.Header.Set("Content-Encoding", contentEncoding)
	}

	return req, nil
}

// Flush waits until every admitted item has resolved or the timeout elapses.
// It cannot cancel in-flight requests, it only stops waiting for them.
func (t *AsyncTransport) Flush(timeout time.Duration) bool {
	return t.inflight.wait(timeout)
}

// Close stops admission and the worker. Items still queued are delivered by
// the draining worker; call Flush first to bound how long that takes.
func (t *AsyncTransport) Close() {
	t.closeOnce.Do(func() {
		t.queue.close()
		<-t.workerDone
		t.client.CloseIdleConnections()
	})
}

// RateLimits exposes the rate limiter for the plugin's purge loop.
func (t *AsyncTransport) RateLimits() *RateLimiter {
	return t.rateLimiter
}

// MetricsCollector exposes the transport's prometheus collector for
// registration by the host.
func (t *AsyncTransport) MetricsCollector() prometheus.Collector {
	return t.metrics
}
