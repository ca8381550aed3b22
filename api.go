package telemetry

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// The process-global hub backs the package-level convenience API. It is the
// single shared stack documented as the degraded mode: goroutines that want
// isolation must clone it (Hub.Run) or carry a hub on their context.
var (
	globalMu  sync.RWMutex
	globalHub = NewHub(nil, nil)
)

// CurrentHub returns the process-global hub.
func CurrentHub() *Hub {
	globalMu.RLock()
	defer globalMu.RUnlock()
	return globalHub
}

// Init builds a client from the options and binds it to the global hub.
func Init(options ClientOptions, logger *zap.Logger) error {
	client, err := NewClient(options, logger)
	if err != nil {
		return err
	}

	globalMu.Lock()
	defer globalMu.Unlock()
	globalHub.BindClient(client)
	globalHub.Scope().SetMaxBreadcrumbs(client.Options().MaxBreadcrumbs)
	return nil
}

// CaptureException reports an error through the global hub.
func CaptureException(err error) *SendResult {
	return CurrentHub().CaptureException(err)
}

// CaptureMessage reports a message through the global hub.
func CaptureMessage(message string, level Level) *SendResult {
	return CurrentHub().CaptureMessage(message, level)
}

// CaptureEvent reports a prepared event through the global hub.
func CaptureEvent(event *Event) *SendResult {
	return CurrentHub().CaptureEvent(event)
}

// AddBreadcrumb records a breadcrumb on the global hub's current scope.
func AddBreadcrumb(crumb *Breadcrumb) {
	CurrentHub().AddBreadcrumb(crumb)
}

// ConfigureScope mutates the global hub's current scope.
func ConfigureScope(fn func(scope *Scope)) {
	CurrentHub().ConfigureScope(fn)
}

// WithScope runs fn against a pushed scope on the global hub, popping it on
// every exit path.
func WithScope(fn func(scope *Scope)) {
	CurrentHub().WithScope(fn)
}

// Flush drains the global hub's transport.
func Flush(timeout time.Duration) bool {
	return CurrentHub().Flush(timeout)
}
