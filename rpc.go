package telemetry

import (
	"go.uber.org/zap"
)

// rpc is the host-facing capture surface. Results report the admission
// outcome, not final delivery: the host must never block on network I/O.
type rpc struct {
	hub    *Hub
	logger *zap.Logger
}

func newRPC(hub *Hub, logger *zap.Logger) *rpc {
	return &rpc{hub: hub, logger: logger}
}

// CaptureResult is the RPC reply for one captured event.
type CaptureResult struct {
	EventID string `json:"event_id"`
	Queued  bool   `json:"queued"`
	Outcome string `json:"outcome,omitempty"`
}

// CaptureEvent captures a single event built by the host.
func (r *rpc) CaptureEvent(event *Event, result *CaptureResult) error {
	res := r.hub.CaptureEvent(event)

	*result = CaptureResult{EventID: string(event.ID), Queued: true}

	// Only already-resolved rejections are reported; in-flight items
	// count as queued.
	select {
	case <-res.Done():
		outcome := res.Outcome()
		if outcome != OutcomeSuccess {
			result.Queued = false
			result.Outcome = string(outcome)
			r.logger.Warn("Event rejected at admission",
				zap.String("event_id", string(event.ID)),
				zap.String("outcome", string(outcome)))
		}
	default:
	}

	return nil
}

// CaptureBatch captures a batch of events built by the host.
func (r *rpc) CaptureBatch(events []*Event, results *[]CaptureResult) error {
	out := make([]CaptureResult, len(events))
	for i, event := range events {
		if err := r.CaptureEvent(event, &out[i]); err != nil {
			return err
		}
	}
	*results = out

	r.logger.Debug("Captured event batch via RPC", zap.Int("count", len(events)))
	return nil
}

// AddBreadcrumb records a breadcrumb on the hub's current scope.
func (r *rpc) AddBreadcrumb(crumb *Breadcrumb, ok *bool) error {
	r.hub.AddBreadcrumb(crumb)
	*ok = true
	return nil
}
