package websocket

import (
	"fmt"
	"reflect"
)

type ackInvoker func(err error, payload map[string]any)

// extractAck splits a trailing acknowledgement callback off the event args.
func extractAck(datas []any) (ack ackInvoker, args []any) {
	if len(datas) == 0 {
		return nil, datas
	}

	ack = wrapAck(datas[len(datas)-1])
	if ack == nil {
		return nil, datas
	}
	return ack, datas[:len(datas)-1]
}

func wrapAck(candidate any) ackInvoker {
	if candidate == nil {
		return nil
	}

	value := reflect.ValueOf(candidate)
	if value.Kind() != reflect.Func {
		return nil
	}

	typ := value.Type()
	if typ.IsVariadic() && typ.NumIn() == 1 && typ.In(0).Elem().Kind() == reflect.Interface {
		// Clients only see the payload; errors travel in its fields.
		return func(_ error, payload map[string]any) {
			value.Call([]reflect.Value{reflect.ValueOf(payload)})
		}
	}
	if isServerAck(typ) {
		// The server's own ack takes (args, err) and sends args to the client.
		return func(_ error, payload map[string]any) {
			value.Call([]reflect.Value{
				reflect.ValueOf([]any{payload}),
				reflect.Zero(typ.In(1)),
			})
		}
	}
	return func(err error, payload map[string]any) {
		value.Call(buildAckArgs(typ, err, payload))
	}
}

var errorType = reflect.TypeOf((*error)(nil)).Elem()

func isServerAck(typ reflect.Type) bool {
	return !typ.IsVariadic() && typ.NumIn() == 2 &&
		typ.In(0) == reflect.TypeOf([]any(nil)) &&
		typ.In(1) == errorType
}

// buildAckArgs fills the callback's parameters. A single parameter gets
// the error if there is one, else the payload; two get (err, payload).
func buildAckArgs(typ reflect.Type, err error, payload map[string]any) []reflect.Value {
	numIn := typ.NumIn()
	args := make([]reflect.Value, numIn)

	for i := 0; i < numIn; i++ {
		var value any
		switch {
		case numIn == 1 && err != nil:
			value = err
		case numIn == 1:
			value = payload
		case i == 0:
			value = err
		case i == 1:
			value = payload
		}
		args[i] = coerceValue(value, typ.In(i))
	}
	return args
}

func coerceValue(value any, targetType reflect.Type) reflect.Value {
	if value == nil {
		return reflect.Zero(targetType)
	}

	rv := reflect.ValueOf(value)
	switch {
	case rv.Type().AssignableTo(targetType):
		return rv
	case rv.Type().ConvertibleTo(targetType):
		return rv.Convert(targetType)
	case targetType.Kind() == reflect.Interface && targetType.NumMethod() == 0:
		return rv
	case targetType.Kind() == reflect.String:
		return reflect.ValueOf(fmt.Sprint(value)).Convert(targetType)
	}
	return reflect.Zero(targetType)
}
