package telemetry

// SendOutcome is the final disposition of one send attempt. Delivery failures
// are reported as outcomes, never as errors raised to the host application.
type SendOutcome string

const (
	// OutcomeSuccess means the backend accepted the item.
	OutcomeSuccess SendOutcome = "success"

	// OutcomeRateLimited means the item was suppressed by an active rate
	// limit, either before a network call was made or by a 429 response.
	OutcomeRateLimited SendOutcome = "rate_limited"

	// OutcomeQueueFull means the transport buffer was at capacity and the
	// item was shed instead of blocking the caller.
	OutcomeQueueFull SendOutcome = "queue_full"

	// OutcomeInvalid means the backend rejected the payload (4xx other
	// than 429). The item is not retried.
	OutcomeInvalid SendOutcome = "invalid"

	// OutcomeFailed means a network-level failure (connection error,
	// timeout). Retry, if any, is the caller's responsibility.
	OutcomeFailed SendOutcome = "failed"

	// OutcomeDropped means the item never reached the network: the
	// transport was closed, or a processor or beforeSend hook vetoed it.
	OutcomeDropped SendOutcome = "dropped"
)

// DiscardReason records why an item was discarded before delivery.
type DiscardReason string

const (
	ReasonQueueOverflow    DiscardReason = "queue_overflow"
	ReasonRateLimitBackoff DiscardReason = "ratelimit_backoff"
	ReasonBeforeSend       DiscardReason = "before_send"
	ReasonEventProcessor   DiscardReason = "event_processor"
	ReasonSampleRate       DiscardReason = "sample_rate"
	ReasonNetworkError     DiscardReason = "network_error"
	ReasonSendError        DiscardReason = "send_error"
)

// SendResult is the future returned by Transport sends. Outcome blocks until
// the attempt is resolved; Done is closed at the same moment.
type SendResult struct {
	done    chan struct{}
	outcome SendOutcome
}

func newSendResult() *SendResult {
	return &SendResult{done: make(chan struct{})}
}

// resolvedResult returns an already-completed result, used for rejections
// that never enter the queue.
func resolvedResult(outcome SendOutcome) *SendResult {
	r := newSendResult()
	r.resolve(outcome)
	return r
}

// resolve completes the future. Resolving twice is a programming error and
// panics via the double close.
func (r *SendResult) resolve(outcome SendOutcome) {
	r.outcome = outcome
	close(r.done)
}

// Done returns a channel closed when the outcome is available.
func (r *SendResult) Done() <-chan struct{} {
	return r.done
}

// Outcome blocks until the send attempt completes and returns its outcome.
func (r *SendResult) Outcome() SendOutcome {
	<-r.done
	return r.outcome
}
