package telemetry

import (
	"compress/gzip"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestTransport(t *testing.T, serverURL string, options ClientOptions) *AsyncTransport {
	t.Helper()

	u, err := url.Parse(serverURL)
	require.NoError(t, err)

	dsnStr := fmt.Sprintf("http://key@%s/1", u.Host)
	dsn, err := ParseDSN(dsnStr)
	require.NoError(t, err)

	options.DSN = dsnStr
	options.InitDefaults()

	transport, err := NewAsyncTransport(&options, dsn, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(transport.Close)

	return transport
}

// envelopeBody reads a request body, transparently gunzipping compressed
// envelopes.
func envelopeBody(r *http.Request) []byte {
	if r.Header.Get("Content-Encoding") == "gzip" {
		zr, err := gzip.NewReader(r.Body)
		if err != nil {
			return nil
		}
		defer zr.Close()
		body, _ := io.ReadAll(zr)
		return body
	}
	body, _ := io.ReadAll(r.Body)
	return body
}

func testEvent() *Event {
	event := NewEvent()
	event.Message = "something broke"
	event.Level = LevelError
	event.Timestamp = time.Now()
	return event
}

func TestTransportDeliversEnvelope(t *testing.T) {
	type capture struct {
		auth        string
		contentType string
		body        []byte
	}
	captures := make(chan capture, 1)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captures <- capture{
			auth:        r.Header.Get("X-Telemetry-Auth"),
			contentType: r.Header.Get("Content-Type"),
			body:        envelopeBody(r),
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	transport := newTestTransport(t, server.URL, ClientOptions{})

	event := testEvent()
	result := transport.SendEvent(event)

	assert.Equal(t, OutcomeSuccess, result.Outcome())
	got := <-captures
	assert.Contains(t, got.auth, "telemetry_key=key")
	assert.Contains(t, got.auth, "telemetry_version=7")
	assert.Equal(t, "application/x-telemetry-envelope", got.contentType)

	lines := strings.Split(strings.TrimRight(string(got.body), "\n"), "\n")
	require.Len(t, lines, 3)
	assert.Contains(t, lines[0], string(event.ID))
	assert.Contains(t, lines[1], `"type":"event"`)
	assert.Contains(t, lines[2], "something broke")
}

func TestTransportCompressesByDefault(t *testing.T) {
	type capture struct {
		encoding string
		decoded  []byte
	}
	captures := make(chan capture, 1)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var decoded []byte
		if zr, err := gzip.NewReader(r.Body); err == nil {
			decoded, _ = io.ReadAll(zr)
		}
		captures <- capture{
			encoding: r.Header.Get("Content-Encoding"),
			decoded:  decoded,
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	transport := newTestTransport(t, server.URL, ClientOptions{})

	result := transport.SendEvent(testEvent())

	assert.Equal(t, OutcomeSuccess, result.Outcome())
	got := <-captures
	assert.Equal(t, "gzip", got.encoding)
	assert.Contains(t, string(got.decoded), "something broke")
}

func TestTransportVerifiesTLSByDefault(t *testing.T) {
	options := ClientOptions{}
	options.InitDefaults()

	dsn, err := ParseDSN("https://key@example.com/1")
	require.NoError(t, err)

	transport, err := NewAsyncTransport(&options, dsn, zap.NewNop())
	require.NoError(t, err)
	defer transport.Close()

	pool := transport.client.Transport.(*http.Transport)
	assert.False(t, pool.TLSClientConfig.InsecureSkipVerify)
}

func TestTransportQueueCapacityShedsSecondSend(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()
	defer close(release)

	transport := newTestTransport(t, server.URL, ClientOptions{QueueSize: 1})

	first := transport.SendEvent(testEvent())
	second := transport.SendEvent(testEvent())

	// Exactly one item is shed while the first occupies the only slot.
	assert.Equal(t, OutcomeQueueFull, second.Outcome())
	select {
	case <-first.Done():
		t.Fatal("first send resolved before the server responded")
	default:
	}

	release <- struct{}{}
	assert.Equal(t, OutcomeSuccess, first.Outcome())
}

func TestTransportRateLimitSuppressesNextSendWithoutNetworkCall(t *testing.T) {
	var requests atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		w.Header().Set("Retry-After", "5")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	transport := newTestTransport(t, server.URL, ClientOptions{})

	first := transport.SendEvent(testEvent())
	assert.Equal(t, OutcomeRateLimited, first.Outcome())
	assert.Equal(t, int64(1), requests.Load())

	second := transport.SendEvent(testEvent())
	assert.Equal(t, OutcomeRateLimited, second.Outcome())
	assert.Equal(t, int64(1), requests.Load())
}

func TestTransportSendProceedsAfterRateLimitExpires(t *testing.T) {
	var requests atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if requests.Add(1) == 1 {
			// An immediately-expiring limit.
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	transport := newTestTransport(t, server.URL, ClientOptions{})

	first := transport.SendEvent(testEvent())
	assert.Equal(t, OutcomeRateLimited, first.Outcome())

	second := transport.SendEvent(testEvent())
	assert.Equal(t, OutcomeSuccess, second.Outcome())
	assert.Equal(t, int64(2), requests.Load())
}

func TestTransportClientErrorIsInvalid(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()

	transport := newTestTransport(t, server.URL, ClientOptions{})

	result := transport.SendEvent(testEvent())
	assert.Equal(t, OutcomeInvalid, result.Outcome())
}

func TestTransportServerErrorWithRetryAfterIsRateLimited(t *testing.T) {
	var requests atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		w.Header().Set("Retry-After", "5")
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	transport := newTestTransport(t, server.URL, ClientOptions{})

	first := transport.SendEvent(testEvent())
	assert.Equal(t, OutcomeRateLimited, first.Outcome())
	assert.Equal(t, int64(1), requests.Load())

	// The recorded delay suppresses the next send without a network call.
	second := transport.SendEvent(testEvent())
	assert.Equal(t, OutcomeRateLimited, second.Outcome())
	assert.Equal(t, int64(1), requests.Load())
}

func TestTransportServerErrorIsFailed(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	transport := newTestTransport(t, server.URL, ClientOptions{})

	result := transport.SendEvent(testEvent())
	assert.Equal(t, OutcomeFailed, result.Outcome())
}

func TestTransportNetworkFailureReleasesSlot(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	serverURL := server.URL
	server.Close()

	transport := newTestTransport(t, serverURL, ClientOptions{QueueSize: 1})

	result := transport.SendEvent(testEvent())
	assert.Equal(t, OutcomeFailed, result.Outcome())

	// The slot freed by the failure admits the next item.
	assert.True(t, transport.Flush(time.Second))
	next := transport.SendEvent(testEvent())
	assert.Equal(t, OutcomeFailed, next.Outcome())
}

func TestTransportFlushWithNothingPending(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	transport := newTestTransport(t, server.URL, ClientOptions{})

	start := time.Now()
	assert.True(t, transport.Flush(10*time.Second))
	assert.Less(t, time.Since(start), time.Second)
}

func TestTransportFlushTimesOutThenDrains(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	transport := newTestTransport(t, server.URL, ClientOptions{})

	result := transport.SendEvent(testEvent())
	assert.False(t, transport.Flush(50*time.Millisecond))

	close(release)
	assert.Equal(t, OutcomeSuccess, result.Outcome())
	// The pending count still drained after the earlier timeout.
	assert.True(t, transport.Flush(time.Second))
}

func TestTransportClosedSendsFailFast(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	transport := newTestTransport(t, server.URL, ClientOptions{})
	transport.Close()

	result := transport.SendEvent(testEvent())
	assert.Equal(t, OutcomeDropped, result.Outcome())
}

func TestTransportCloseDrainsQueuedItems(t *testing.T) {
	var requests atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	transport := newTestTransport(t, server.URL, ClientOptions{})

	results := make([]*SendResult, 5)
	for i := range results {
		results[i] = transport.SendEvent(testEvent())
	}
	transport.Close()

	for _, result := range results {
		assert.Equal(t, OutcomeSuccess, result.Outcome())
	}
	assert.Equal(t, int64(5), requests.Load())
}

func TestTransportSessionCategory(t *testing.T) {
	bodies := make(chan []byte, 2)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		bodies <- envelopeBody(r)
		w.Header().Set(rateLimitsHeader, "session:60:quota")
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	transport := newTestTransport(t, server.URL, ClientOptions{})

	session := &Session{ID: "s1", Status: SessionOK, StartedAt: time.Now(), Timestamp: time.Now()}
	result := transport.SendSession(session)
	assert.Equal(t, OutcomeSuccess, result.Outcome())
	assert.Contains(t, string(<-bodies), `"type":"session"`)

	// The session limit from the response suppresses only sessions.
	assert.Equal(t, OutcomeRateLimited, transport.SendSession(session).Outcome())
	assert.Equal(t, OutcomeSuccess, transport.SendEvent(testEvent()).Outcome())
}
