// README: Envelope shared by the bus-backed relays.
package broadcast

import (
	"context"
	"encoding/json"
	"fmt"
)

// envelope is what relays put on the shared bus: the event plus the topic set
// the publisher chose for it.
type envelope struct {
	Topics []Topic `json:"topics"`
	Event  Event   `json:"event"`
}

func encodeEnvelope(e Event, topics []Topic) ([]byte, error) {
	data, err := json.Marshal(envelope{Topics: topics, Event: e})
	if err != nil {
		return nil, fmt.Errorf("encode envelope: %w", err)
	}
	return data, nil
}

// deliverEnvelope decodes a message taken off the bus and fans it out on the
// local hub.
func deliverEnvelope(ctx context.Context, hub *Hub, data []byte) error {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return fmt.Errorf("decode envelope: %w", err)
	}
	if len(env.Topics) == 0 {
		return nil
	}
	return hub.Publish(ctx, env.Event, env.Topics...)
}
