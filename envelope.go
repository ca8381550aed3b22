package telemetry

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// envelopeItem is one serialized item queued for delivery: the payload plus
// the metadata the transport needs for framing and rate-limit decisions.
type envelopeItem struct {
	eventID    EventID
	itemType   string
	category   Category
	payload    []byte
	enqueuedAt time.Time
	result     *SendResult
}

// eventToEnvelopeItem serializes an event into a queueable item.
func eventToEnvelopeItem(event *Event) (*envelopeItem, error) {
	payload, err := json.Marshal(event)
	if err != nil {
		return nil, err
	}

	itemType := "event"
	if event.Type == eventTypeTransaction {
		itemType = eventTypeTransaction
	}

	return &envelopeItem{
		eventID:  event.ID,
		itemType: itemType,
		category: event.Category(),
		payload:  payload,
		result:   newSendResult(),
	}, nil
}

// sessionToEnvelopeItem serializes a session into a queueable item.
func sessionToEnvelopeItem(session *Session) (*envelopeItem, error) {
	payload, err := json.Marshal(session)
	if err != nil {
		return nil, err
	}

	return &envelopeItem{
		itemType: "session",
		category: CategorySession,
		payload:  payload,
		result:   newSendResult(),
	}, nil
}

// encodeEnvelope frames an item into the line-oriented envelope format: a
// JSON envelope header, a type-tagged item header, then the payload.
func encodeEnvelope(item *envelopeItem, dsn *DSN) []byte {
	var buf bytes.Buffer

	if item.eventID != "" {
		fmt.Fprintf(&buf, `{"event_id":%q,"sent_at":%q,"dsn":%q}`,
			item.eventID, time.Now().UTC().Format(time.RFC3339Nano), dsn.String())
	} else {
		fmt.Fprintf(&buf, `{"sent_at":%q,"dsn":%q}`,
			time.Now().UTC().Format(time.RFC3339Nano), dsn.String())
	}
	buf.WriteByte('\n')

	fmt.Fprintf(&buf, `{"type":%q,"length":%d}`, item.itemType, len(item.payload))
	buf.WriteByte('\n')

	buf.Write(item.payload)
	buf.WriteByte('\n')

	return buf.Bytes()
}
