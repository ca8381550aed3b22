package telemetry

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// EventProcessor transforms an event before it is sent. Returning nil drops
// the event and short-circuits the remaining processors.
type EventProcessor func(event *Event) *Event

// Scope holds contextual data merged onto events before delivery: tags,
// extra data, user identity, breadcrumbs, and the active span. Scopes are
// cheap to clone; the hub clones the top scope on every push.
type Scope struct {
	mu             sync.RWMutex
	tags           map[string]string
	extra          map[string]any
	user           User
	level          Level
	transaction    string
	breadcrumbs    []*Breadcrumb
	maxBreadcrumbs int
	span           *TraceContext
	processors     []EventProcessor
}

// NewScope returns an empty scope with the default breadcrumb limit.
func NewScope() *Scope {
	return &Scope{
		tags:           make(map[string]string),
		extra:          make(map[string]any),
		maxBreadcrumbs: defaultMaxBreadcrumbs,
	}
}

// SetTag sets a single tag; last write wins.
func (s *Scope) SetTag(key, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tags[key] = value
}

// SetTags merges the given tags into the scope.
func (s *Scope) SetTags(tags map[string]string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, v := range tags {
		s.tags[k] = v
	}
}

// RemoveTag deletes a tag if present.
func (s *Scope) RemoveTag(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tags, key)
}

// SetExtra sets a single extra value; last write wins.
func (s *Scope) SetExtra(key string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.extra[key] = value
}

// SetExtras merges the given values into the scope's extra data.
func (s *Scope) SetExtras(extra map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, v := range extra {
		s.extra[k] = v
	}
}

// SetUser sets the user attached to future events.
func (s *Scope) SetUser(user User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.user = user
}

// SetLevel overrides the level of future events.
func (s *Scope) SetLevel(level Level) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.level = level
}

// SetTransaction names the transaction future events belong to.
func (s *Scope) SetTransaction(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transaction = name
}

// SetSpan attaches the active span used to annotate events. The scope does
// not own the span's lifecycle.
func (s *Scope) SetSpan(span *TraceContext) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.span = span
}

// SetMaxBreadcrumbs adjusts the breadcrumb limit. Existing breadcrumbs over
// the new limit are evicted oldest-first.
func (s *Scope) SetMaxBreadcrumbs(max int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if max <= 0 {
		max = defaultMaxBreadcrumbs
	}
	s.maxBreadcrumbs = max
	if over := len(s.breadcrumbs) - max; over > 0 {
		s.breadcrumbs = s.breadcrumbs[over:]
	}
}

// AddBreadcrumb appends a breadcrumb, evicting the oldest entry once the
// limit is exceeded. Breadcrumbs are time-ordered, so eviction is FIFO.
func (s *Scope) AddBreadcrumb(crumb *Breadcrumb) {
	if crumb.Timestamp.IsZero() {
		crumb.Timestamp = time.Now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.breadcrumbs = append(s.breadcrumbs, crumb)
	if len(s.breadcrumbs) > s.maxBreadcrumbs {
		s.breadcrumbs = s.breadcrumbs[1:]
	}
}

// ClearBreadcrumbs drops all breadcrumbs.
func (s *Scope) ClearBreadcrumbs() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.breadcrumbs = nil
}

// AddEventProcessor registers a transform applied to every event passing
// through this scope, in registration order.
func (s *Scope) AddEventProcessor(processor EventProcessor) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.processors = append(s.processors, processor)
}

// Clear resets the scope to its empty state. The breadcrumb limit and
// processors are kept.
func (s *Scope) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tags = make(map[string]string)
	s.extra = make(map[string]any)
	s.user = User{}
	s.level = ""
	s.transaction = ""
	s.breadcrumbs = nil
	s.span = nil
}

// Clone returns an independent copy. Tags, extra data, user, and the
// breadcrumb list are copied; processors are shared, matching their
// registration semantics (they never mutate after registration).
func (s *Scope) Clone() *Scope {
	s.mu.RLock()
	defer s.mu.RUnlock()

	clone := &Scope{
		tags:           make(map[string]string, len(s.tags)),
		extra:          make(map[string]any, len(s.extra)),
		user:           s.user,
		level:          s.level,
		transaction:    s.transaction,
		maxBreadcrumbs: s.maxBreadcrumbs,
		span:           s.span,
		processors:     s.processors,
	}
	for k, v := range s.tags {
		clone.tags[k] = v
	}
	for k, v := range s.extra {
		clone.extra[k] = v
	}
	clone.breadcrumbs = make([]*Breadcrumb, len(s.breadcrumbs))
	copy(clone.breadcrumbs, s.breadcrumbs)

	return clone
}

// ApplyToEvent merges the scope onto the event, then runs each registered
// processor in order. A processor returning nil drops the event. A panicking
// processor is logged and skipped; its failure never blocks delivery of an
// otherwise-valid event.
func (s *Scope) ApplyToEvent(event *Event, logger *zap.Logger) *Event {
	s.mu.RLock()

	if event.Tags == nil {
		event.Tags = make(map[string]string, len(s.tags))
	}
	for k, v := range s.tags {
		if _, set := event.Tags[k]; !set {
			event.Tags[k] = v
		}
	}

	if event.Extra == nil {
		event.Extra = make(map[string]any, len(s.extra))
	}
	for k, v := range s.extra {
		if _, set := event.Extra[k]; !set {
			event.Extra[k] = v
		}
	}

	if event.User.IsEmpty() {
		event.User = s.user
	}
	if s.level != "" {
		event.Level = s.level
	}
	if event.Transaction == "" {
		event.Transaction = s.transaction
	}
	if event.Trace == nil {
		event.Trace = s.span
	}
	if len(s.breadcrumbs) > 0 && event.Breadcrumbs == nil {
		event.Breadcrumbs = make([]*Breadcrumb, len(s.breadcrumbs))
		copy(event.Breadcrumbs, s.breadcrumbs)
	}

	processors := s.processors
	s.mu.RUnlock()

	for _, processor := range processors {
		next, panicked := runProcessor(processor, event, logger)
		if panicked {
			// Keep the event as it was before the failing processor.
			continue
		}
		if next == nil {
			return nil
		}
		event = next
	}

	return event
}

// runProcessor invokes one processor with panic recovery.
func runProcessor(processor EventProcessor, event *Event, logger *zap.Logger) (result *Event, panicked bool) {
	defer func() {
		if r := recover(); r != nil {
			if logger != nil {
				logger.Error("Event processor panicked, skipping it",
					zap.Any("panic", r),
					zap.String("event_id", string(event.ID)))
			}
			result = nil
			panicked = true
		}
	}()

	return processor(event), false
}
