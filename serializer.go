package eventrelay

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
	"sync"
)

// Serializer turns event payloads into stored bytes and back, keyed by a registered type name.
type Serializer interface {
	Serialize(payload any) (eventType string, data []byte, err error)
	Deserialize(eventType string, data []byte) (any, error)
}

// TypeRegistry is the closed set of event types known to the process, built at startup.
type TypeRegistry struct {
	mu    sync.RWMutex
	types map[string]reflect.Type
	names map[reflect.Type]string
}

func NewTypeRegistry() *TypeRegistry {
	return &TypeRegistry{
		types: make(map[string]reflect.Type),
		names: make(map[reflect.Type]string),
	}
}

// Register binds name to the dynamic type of sample. Pointer and value types are distinct registrations.
func (r *TypeRegistry) Register(name string, sample any) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return ErrEventTypeRequired
	}
	if sample == nil {
		return ErrEventPayloadRequired
	}
	t := reflect.TypeOf(sample)

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.types[name]; exists {
		return fmt.Errorf("%w: %s", ErrEventTypeAlreadyRegistered, name)
	}
	if existing, exists := r.names[t]; exists {
		return fmt.Errorf("%w: %s already registered as %s", ErrEventTypeAlreadyRegistered, t, existing)
	}
	r.types[name] = t
	r.names[t] = name
	return nil
}

// MustRegister is Register for composition roots; it panics on error.
func (r *TypeRegistry) MustRegister(name string, sample any) *TypeRegistry {
	if err := r.Register(name, sample); err != nil {
		panic(err)
	}
	return r
}

// Name returns the registered name of payload's type.
func (r *TypeRegistry) Name(payload any) (string, error) {
	if payload == nil {
		return "", ErrEventPayloadRequired
	}

	r.mu.RLock()
	name, ok := r.names[reflect.TypeOf(payload)]
	r.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("%w: %T", ErrEventTypeNotRegistered, payload)
	}
	return name, nil
}

// Type returns the Go type registered under name.
func (r *TypeRegistry) Type(name string) (reflect.Type, error) {
	r.mu.RLock()
	t, ok := r.types[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrEventTypeNotRegistered, name)
	}
	return t, nil
}

// JSONSerializer encodes payloads with encoding/json.
type JSONSerializer struct {
	registry *TypeRegistry
}

func NewJSONSerializer(registry *TypeRegistry) *JSONSerializer {
	if registry == nil {
		registry = NewTypeRegistry()
	}
	return &JSONSerializer{registry: registry}
}

func (s *JSONSerializer) Serialize(payload any) (string, []byte, error) {
	name, err := s.registry.Name(payload)
	if err != nil {
		return "", nil, err
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", nil, fmt.Errorf("failed to marshal payload: %w", err)
	}
	return name, data, nil
}

// Deserialize returns a value of exactly the registered type (a pointer if a pointer was registered).
func (s *JSONSerializer) Deserialize(eventType string, data []byte) (any, error) {
	t, err := s.registry.Type(eventType)
	if err != nil {
		return nil, err
	}

	if t.Kind() == reflect.Pointer {
		v := reflect.New(t.Elem())
		if err := json.Unmarshal(data, v.Interface()); err != nil {
			return nil, fmt.Errorf("failed to unmarshal %s payload: %w", eventType, err)
		}
		return v.Interface(), nil
	}

	v := reflect.New(t)
	if err := json.Unmarshal(data, v.Interface()); err != nil {
		return nil, fmt.Errorf("failed to unmarshal %s payload: %w", eventType, err)
	}
	return v.Elem().Interface(), nil
}
