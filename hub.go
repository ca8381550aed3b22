package telemetry

import (
	"context"
	"sync"
	"time"
)

// Layer is one {client, scope} pair on the hub's stack.
type Layer struct {
	client *Client
	scope  *Scope
}

// Hub manages a stack of layers and exposes the current client and scope.
// Push and pop are strictly LIFO within one hub; the root layer is never
// popped, so the stack is never empty.
//
// A hub is owned by one execution context. Concurrent request handlers must
// each use their own hub, obtained via Clone or Run and usually carried on a
// context.Context. Code that skips context carriage shares the process-global
// hub; that is the degraded single-stack mode, where scope mutations from
// concurrent goroutines interleave.
type Hub struct {
	mu    sync.RWMutex
	stack []*Layer
}

// NewHub creates a hub seeded with one layer.
func NewHub(client *Client, scope *Scope) *Hub {
	if scope == nil {
		scope = NewScope()
	}
	return &Hub{
		stack: []*Layer{{client: client, scope: scope}},
	}
}

// top returns the current layer, or nil for a zero-value hub whose stack
// was never seeded. Reads on such a hub are fail-safe, not panics.
func (h *Hub) top() *Layer {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if len(h.stack) == 0 {
		return nil
	}
	return h.stack[len(h.stack)-1]
}

// Client returns the current client, or nil when none is bound.
func (h *Hub) Client() *Client {
	if top := h.top(); top != nil {
		return top.client
	}
	return nil
}

// Scope returns the current scope, or nil on an unseeded hub.
func (h *Hub) Scope() *Scope {
	if top := h.top(); top != nil {
		return top.scope
	}
	return nil
}

// StackDepth reports the current number of layers.
func (h *Hub) StackDepth() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.stack)
}

// PushScope clones the current scope into a new layer sharing the current
// client and returns the new scope for mutation. On a fresh, unseeded stack
// the new layer gets an empty scope.
func (h *Hub) PushScope() *Scope {
	h.mu.Lock()
	defer h.mu.Unlock()

	var client *Client
	scope := NewScope()
	if len(h.stack) > 0 {
		top := h.stack[len(h.stack)-1]
		client = top.client
		scope = top.scope.Clone()
	}
	h.stack = append(h.stack, &Layer{client: client, scope: scope})

	return scope
}

// PopScope removes the top layer. The root layer is protected; popping it is
// a no-op and reported as false.
func (h *Hub) PopScope() bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if len(h.stack) <= 1 {
		return false
	}
	h.stack = h.stack[:len(h.stack)-1]
	return true
}

// WithScope pushes a scope, invokes fn with it, and guarantees the matching
// pop on every exit path, including a panicking fn.
func (h *Hub) WithScope(fn func(scope *Scope)) {
	scope := h.PushScope()
	defer h.PopScope()
	fn(scope)
}

// ConfigureScope invokes fn with the current scope.
func (h *Hub) ConfigureScope(fn func(scope *Scope)) {
	if scope := h.Scope(); scope != nil {
		fn(scope)
	}
}

// BindClient replaces the top layer's client without touching its scope.
func (h *Hub) BindClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if len(h.stack) == 0 {
		h.stack = []*Layer{{client: client, scope: NewScope()}}
		return
	}
	h.stack[len(h.stack)-1].client = client
}

// Clone returns a new hub with a fresh single-layer stack seeded from this
// hub's current client and a copy of its current scope.
func (h *Hub) Clone() *Hub {
	top := h.top()
	if top == nil {
		return NewHub(nil, nil)
	}
	return NewHub(top.client, top.scope.Clone())
}

// Run executes fn against an isolated clone of this hub. Pushes and pops
// inside fn are invisible to the receiver, so logically concurrent
// executions never share stack mutations.
func (h *Hub) Run(fn func(hub *Hub)) {
	fn(h.Clone())
}

// CaptureEvent captures an event using the current client and scope.
func (h *Hub) CaptureEvent(event *Event) *SendResult {
	top := h.top()
	if top == nil || top.client == nil {
		return resolvedResult(OutcomeDropped)
	}
	return top.client.CaptureEvent(event, top.scope)
}

// CaptureException captures an error using the current client and scope.
func (h *Hub) CaptureException(err error) *SendResult {
	top := h.top()
	if top == nil || top.client == nil {
		return resolvedResult(OutcomeDropped)
	}
	return top.client.CaptureException(err, top.scope)
}

// CaptureMessage captures a message using the current client and scope.
func (h *Hub) CaptureMessage(message string, level Level) *SendResult {
	top := h.top()
	if top == nil || top.client == nil {
		return resolvedResult(OutcomeDropped)
	}
	return top.client.CaptureMessage(message, level, top.scope)
}

// CaptureSession reports a session through the current client.
func (h *Hub) CaptureSession(session *Session) *SendResult {
	client := h.Client()
	if client == nil {
		return resolvedResult(OutcomeDropped)
	}
	return client.CaptureSession(session)
}

// AddBreadcrumb records a breadcrumb on the current scope.
func (h *Hub) AddBreadcrumb(crumb *Breadcrumb) {
	if scope := h.Scope(); scope != nil {
		scope.AddBreadcrumb(crumb)
	}
}

// Flush drains the current client's transport.
func (h *Hub) Flush(timeout time.Duration) bool {
	client := h.Client()
	if client == nil {
		return true
	}
	return client.Flush(timeout)
}

type hubContextKey struct{}

// SetHubOnContext binds a hub to the context. This is the execution-scoped
// carrier: every request or task that derives its work from this context
// observes its own hub.
func SetHubOnContext(ctx context.Context, hub *Hub) context.Context {
	return context.WithValue(ctx, hubContextKey{}, hub)
}

// HasHubOnContext reports whether the context carries a hub.
func HasHubOnContext(ctx context.Context) bool {
	_, ok := ctx.Value(hubContextKey{}).(*Hub)
	return ok
}

// GetHubFromContext returns the hub bound to the context, or nil.
func GetHubFromContext(ctx context.Context) *Hub {
	if hub, ok := ctx.Value(hubContextKey{}).(*Hub); ok {
		return hub
	}
	return nil
}

// HubFromContext returns the context's hub, falling back to the global one.
// The fallback is the degraded single-stack mode.
func HubFromContext(ctx context.Context) *Hub {
	if hub := GetHubFromContext(ctx); hub != nil {
		return hub
	}
	return CurrentHub()
}
