package telemetry

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Version of the SDK, reported in the auth header and event sdk block.
const Version = "0.4.0"

// sdkIdentifier is the client identifier sent to the backend.
const sdkIdentifier = "telemetry-go"

// Level is the severity of an event or breadcrumb.
type Level string

const (
	LevelDebug   Level = "debug"
	LevelInfo    Level = "info"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
	LevelFatal   Level = "fatal"
)

// Category is the data category an item counts against for rate limiting.
type Category string

const (
	CategoryError       Category = "error"
	CategoryTransaction Category = "transaction"
	CategorySession     Category = "session"

	// categoryAll is the wildcard bucket used by blanket rate limits.
	categoryAll Category = "all"
)

// eventTypeTransaction is the Event.Type value marking a transaction payload.
const eventTypeTransaction = "transaction"

// knownCategories gates rate-limit header parsing; unknown categories in a
// header are skipped rather than tracked.
var knownCategories = map[Category]struct{}{
	CategoryError:       {},
	CategoryTransaction: {},
	CategorySession:     {},
	categoryAll:         {},
}

// EventID is a 32-character lowercase hex identifier.
type EventID string

// NewEventID generates a random EventID.
func NewEventID() EventID {
	id := uuid.New()
	return EventID(strings.ReplaceAll(id.String(), "-", ""))
}

// User identifies the user associated with an event.
type User struct {
	ID        string `json:"id,omitempty"`
	Email     string `json:"email,omitempty"`
	Username  string `json:"username,omitempty"`
	IPAddress string `json:"ip_address,omitempty"`
}

// IsEmpty reports whether the user carries no identifying information.
func (u User) IsEmpty() bool {
	return u == User{}
}

// Breadcrumb is a timestamped record of something that happened before an
// event, attached for context.
type Breadcrumb struct {
	Type      string         `json:"type,omitempty"`
	Category  string         `json:"category,omitempty"`
	Message   string         `json:"message,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
	Level     Level          `json:"level,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Exception describes one captured error value.
type Exception struct {
	Type  string `json:"type,omitempty"`
	Value string `json:"value,omitempty"`
}

// TraceContext links an event to an in-flight tracing span.
type TraceContext struct {
	TraceID string `json:"trace_id,omitempty"`
	SpanID  string `json:"span_id,omitempty"`
	Op      string `json:"op,omitempty"`
}

// SDKInfo identifies the client that produced an event.
type SDKInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// Event is a wire-ready error or transaction payload.
type Event struct {
	ID          EventID           `json:"event_id"`
	Type        string            `json:"type,omitempty"`
	Level       Level             `json:"level,omitempty"`
	Message     string            `json:"message,omitempty"`
	Transaction string            `json:"transaction,omitempty"`
	Environment string            `json:"environment,omitempty"`
	Release     string            `json:"release,omitempty"`
	ServerName  string            `json:"server_name,omitempty"`
	Platform    string            `json:"platform,omitempty"`
	Timestamp   time.Time         `json:"timestamp"`
	Tags        map[string]string `json:"tags,omitempty"`
	Extra       map[string]any    `json:"extra,omitempty"`
	User        User              `json:"user,omitempty"`
	Breadcrumbs []*Breadcrumb     `json:"breadcrumbs,omitempty"`
	Exception   []Exception       `json:"exception,omitempty"`
	Trace       *TraceContext     `json:"trace,omitempty"`
	SDK         SDKInfo           `json:"sdk"`
}

// NewEvent returns an event with maps allocated and an ID assigned.
func NewEvent() *Event {
	return &Event{
		ID:       NewEventID(),
		Platform: "go",
		Tags:     make(map[string]string),
		Extra:    make(map[string]any),
		SDK:      SDKInfo{Name: sdkIdentifier, Version: Version},
	}
}

// Category returns the rate-limit category the event counts against.
func (e *Event) Category() Category {
	if e.Type == eventTypeTransaction {
		return CategoryTransaction
	}
	return CategoryError
}

// SessionStatus is the lifecycle state reported for a session.
type SessionStatus string

const (
	SessionOK       SessionStatus = "ok"
	SessionExited   SessionStatus = "exited"
	SessionCrashed  SessionStatus = "crashed"
	SessionAbnormal SessionStatus = "abnormal"
)

// Session tracks the health of one release session.
type Session struct {
	ID        string        `json:"sid"`
	Status    SessionStatus `json:"status"`
	StartedAt time.Time     `json:"started"`
	Timestamp time.Time     `json:"timestamp"`
	Errors    int           `json:"errors"`
	Release   string        `json:"release,omitempty"`
}
