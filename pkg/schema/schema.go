// Package schema declares and validates the typed records exchanged between
// agents, tools and the LLM. A schema is a plain Go struct: json tags give
// the wire shape, jsonschema tags the descriptions sent to the model and
// validate tags the constraints checked on construction and on receipt.
package schema

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/invopop/jsonschema"
)

// ErrNotStruct is returned when a schema type is not a struct.
var ErrNotStruct = errors.New("schema must be a struct")

var (
	validate     *validator.Validate
	validateOnce sync.Once

	schemaCache sync.Map // reflect.Type -> json.RawMessage
)

func validatorInstance() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

// Validate checks v against its validate tags.
func Validate(v any) error {
	if err := validatorInstance().Struct(v); err != nil {
		var invalid *validator.InvalidValidationError
		if errors.As(err, &invalid) {
			return fmt.Errorf("%w: %T", ErrNotStruct, v)
		}
		return fmt.Errorf("schema validation failed: %w", err)
	}
	return nil
}

// New validates v and returns it, so typed records can be built in one step.
func New[T any](v T) (T, error) {
	if err := Validate(v); err != nil {
		var zero T
		return zero, err
	}
	return v, nil
}

// Decode unmarshals data into T and validates the result.
func Decode[T any](data []byte) (T, error) {
	var out T
	if err := json.Unmarshal(data, &out); err != nil {
		return out, fmt.Errorf("decode %T: %w", out, err)
	}
	if err := Validate(out); err != nil {
		return out, err
	}
	return out, nil
}

// JSONSchema returns the inlined JSON Schema document describing the type of v.
func JSONSchema(v any) (json.RawMessage, error) {
	t := reflect.TypeOf(v)
	for t != nil && t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t == nil || t.Kind() != reflect.Struct {
		return nil, fmt.Errorf("%w: %v", ErrNotStruct, t)
	}
	if cached, ok := schemaCache.Load(t); ok {
		return cached.(json.RawMessage), nil
	}

	r := &jsonschema.Reflector{DoNotReference: true, ExpandedStruct: true}
	s := r.ReflectFromType(t)
	s.Version = ""
	if s.Title == "" {
		s.Title = t.Name()
	}
	raw, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("marshal schema for %s: %w", t.Name(), err)
	}
	schemaCache.Store(t, json.RawMessage(raw))
	return raw, nil
}

// SchemaOf is JSONSchema for a type parameter.
func SchemaOf[T any]() (json.RawMessage, error) {
	var zero T
	return JSONSchema(zero)
}

// Name returns the Go type name of T, used as the schema name sent to the model.
func Name[T any]() string {
	t := reflect.TypeFor[T]()
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return t.Name()
}

// BasicChatInput is the default input schema of a chat agent.
type BasicChatInput struct {
	ChatMessage string `json:"chat_message" jsonschema:"description=The chat message sent by the user to the assistant." validate:"required"`
}

// BasicChatOutput is the default output schema of a chat agent.
type BasicChatOutput struct {
	ChatMessage string `json:"chat_message" jsonschema:"description=The chat message exchanged between the user and the chat agent. This contains the markdown-enabled response generated by the chat agent." validate:"required"`
}
