package eventrelay

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

func newTestRegistry(t *testing.T) *TypeRegistry {
	t.Helper()
	registry := NewTypeRegistry()
	require.NoError(t, registry.Register("order.placed", orderPlaced{}))
	require.NoError(t, registry.Register("order.cancelled", &orderCancelled{}))
	return registry
}

func TestTypeRegistry_Register(t *testing.T) {
	registry := newTestRegistry(t)

	assert.ErrorIs(t, registry.Register("", orderPlaced{}), ErrEventTypeRequired)
	assert.ErrorIs(t, registry.Register("order.other", nil), ErrEventPayloadRequired)
	assert.ErrorIs(t, registry.Register("order.placed", struct{}{}), ErrEventTypeAlreadyRegistered)
	assert.ErrorIs(t, registry.Register("order.placed.v2", orderPlaced{}), ErrEventTypeAlreadyRegistered)

	name, err := registry.Name(&orderCancelled{})
	require.NoError(t, err)
	assert.Equal(t, "order.cancelled", name)

	_, err = registry.Name(orderCancelled{})
	assert.ErrorIs(t, err, ErrEventTypeNotRegistered, "value and pointer types are distinct")

	_, err = registry.Type("order.unknown")
	assert.ErrorIs(t, err, ErrEventTypeNotRegistered)
}

func TestTypeRegistry_MustRegisterPanicsOnDuplicate(t *testing.T) {
	registry := NewTypeRegistry().MustRegister("order.placed", orderPlaced{})
	assert.Panics(t, func() {
		registry.MustRegister("order.placed", orderPlaced{})
	})
}

func TestJSONSerializer_RoundTrip(t *testing.T) {
	serializer := NewJSONSerializer(newTestRegistry(t))

	eventType, data, err := serializer.Serialize(orderPlaced{OrderID: "o-1", Amount: 42})
	require.NoError(t, err)
	assert.Equal(t, "order.placed", eventType)
	assert.JSONEq(t, `{"order_id":"o-1","amount":42}`, string(data))

	decoded, err := serializer.Deserialize(eventType, data)
	require.NoError(t, err)
	assert.Equal(t, orderPlaced{OrderID: "o-1", Amount: 42}, decoded)

	eventType, data, err = serializer.Serialize(&orderCancelled{OrderID: "o-1", Reason: "fraud"})
	require.NoError(t, err)
	decoded, err = serializer.Deserialize(eventType, data)
	require.NoError(t, err)
	assert.Equal(t, &orderCancelled{OrderID: "o-1", Reason: "fraud"}, decoded)
}

func TestJSONSerializer_Errors(t *testing.T) {
	serializer := NewJSONSerializer(newTestRegistry(t))

	_, _, err := serializer.Serialize(struct{ X int }{1})
	assert.ErrorIs(t, err, ErrEventTypeNotRegistered)

	_, _, err = serializer.Serialize(nil)
	assert.ErrorIs(t, err, ErrEventPayloadRequired)

	_, err = serializer.Deserialize("order.placed", []byte("{not json"))
	assert.Error(t, err)

	_, err = serializer.Deserialize("order.unknown", []byte("{}"))
	assert.ErrorIs(t, err, ErrEventTypeNotRegistered)
}

func TestProtoSerializer_RoundTrip(t *testing.T) {
	serializer, err := NewProtoSerializer(&wrapperspb.StringValue{})
	require.NoError(t, err)

	eventType, data, err := serializer.Serialize(wrapperspb.String("hello"))
	require.NoError(t, err)
	assert.Equal(t, "google.protobuf.StringValue", eventType)
	assert.JSONEq(t, `"hello"`, string(data))

	decoded, err := serializer.Deserialize(eventType, data)
	require.NoError(t, err)
	msg, ok := decoded.(proto.Message)
	require.True(t, ok)
	assert.True(t, proto.Equal(wrapperspb.String("hello"), msg))
}

func TestProtoSerializer_ClosedTypeList(t *testing.T) {
	_, err := NewProtoSerializer(&wrapperspb.StringValue{}, &wrapperspb.StringValue{})
	assert.ErrorIs(t, err, ErrEventTypeAlreadyRegistered)

	serializer, err := NewProtoSerializer(&wrapperspb.StringValue{})
	require.NoError(t, err)

	_, _, err = serializer.Serialize(wrapperspb.Int64(7))
	assert.ErrorIs(t, err, ErrEventTypeNotRegistered)

	_, _, err = serializer.Serialize(orderPlaced{})
	assert.ErrorIs(t, err, ErrEventTypeNotRegistered)

	_, err = serializer.Deserialize("google.protobuf.Int64Value", []byte(`"7"`))
	assert.ErrorIs(t, err, ErrEventTypeNotRegistered)
}
