package events

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
)

// nameMetadataKey stores the event name in the message metadata.
const nameMetadataKey = "name"

// Marshaler converts event structs to JSON Watermill messages and back.
// The event name (struct name without package) travels in message metadata
// and selects the variant on the consuming side.
type Marshaler struct{}

// Marshal serializes the event. The event's own ID becomes the message UUID,
// so duplicate publications of one event are detectable downstream.
func (m Marshaler) Marshal(event any) (*message.Message, error) {
	b, err := json.Marshal(event)
	if err != nil {
		return nil, err
	}

	uuid := watermill.NewUUID()
	if e, ok := event.(Event); ok && e.Meta().EventID != "" {
		uuid = e.Meta().EventID
	}

	msg := message.NewMessage(uuid, b)
	msg.Metadata.Set(nameMetadataKey, m.Name(event))

	return msg, nil
}

// Unmarshal decodes the message payload into event.
func (m Marshaler) Unmarshal(msg *message.Message, event any) error {
	if err := json.Unmarshal(msg.Payload, event); err != nil {
		return &DeserializationError{EventType: m.NameFromMessage(msg), Err: err}
	}

	return nil
}

// Name returns the event's name: the struct name without package or pointer
// qualifiers.
func (m Marshaler) Name(event any) string {
	segments := strings.Split(fmt.Sprintf("%T", event), ".")
	return segments[len(segments)-1]
}

// NameFromMessage returns the event name stored in the message metadata.
func (m Marshaler) NameFromMessage(msg *message.Message) string {
	return msg.Metadata.Get(nameMetadataKey)
}

// SetNameOnMessage stores the event name in the message metadata. It is used
// when republishing raw payloads whose original metadata was not kept.
func (m Marshaler) SetNameOnMessage(msg *message.Message, name string) {
	msg.Metadata.Set(nameMetadataKey, name)
}
