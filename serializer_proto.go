package eventrelay

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
)

// ProtoSerializer stores protobuf events as protojson so the payload column stays valid JSON.
// The event type is the message's full name.
type ProtoSerializer struct {
	prototypes map[string]proto.Message
}

func NewProtoSerializer(messages ...proto.Message) (*ProtoSerializer, error) {
	s := &ProtoSerializer{prototypes: make(map[string]proto.Message, len(messages))}
	for _, msg := range messages {
		if msg == nil {
			return nil, ErrEventPayloadRequired
		}
		name := string(msg.ProtoReflect().Descriptor().FullName())
		if _, exists := s.prototypes[name]; exists {
			return nil, fmt.Errorf("%w: %s", ErrEventTypeAlreadyRegistered, name)
		}
		s.prototypes[name] = msg
	}
	return s, nil
}

func (s *ProtoSerializer) Serialize(payload any) (string, []byte, error) {
	msg, ok := payload.(proto.Message)
	if !ok {
		return "", nil, fmt.Errorf("%w: %T is not a protobuf message", ErrEventTypeNotRegistered, payload)
	}
	name := string(msg.ProtoReflect().Descriptor().FullName())
	if _, ok := s.prototypes[name]; !ok {
		return "", nil, fmt.Errorf("%w: %s", ErrEventTypeNotRegistered, name)
	}

	data, err := protojson.Marshal(msg)
	if err != nil {
		return "", nil, fmt.Errorf("failed to marshal payload: %w", err)
	}
	return name, data, nil
}

func (s *ProtoSerializer) Deserialize(eventType string, data []byte) (any, error) {
	prototype, ok := s.prototypes[eventType]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrEventTypeNotRegistered, eventType)
	}
	msg := prototype.ProtoReflect().New().Interface()
	if err := protojson.Unmarshal(data, msg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal %s payload: %w", eventType, err)
	}
	return msg, nil
}
