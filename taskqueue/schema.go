package taskqueue

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// ParamsError reports task params that do not match their type's schema.
type ParamsError struct {
	Type   TaskType
	Detail string
}

func (e *ParamsError) Error() string {
	return fmt.Sprintf("%s params: %s", e.Type, e.Detail)
}

func (e *ParamsError) Unwrap() error { return ErrInvalidParams }

const pointSchema = `{"type":"object","required":["x","y"],"properties":{"x":{"type":"number"},"y":{"type":"number"},"orientation":{"type":"number"}}}`

var paramSchemas = map[TaskType]string{
	TypeMove:           pointSchema,
	TypeMoveAlongRoute: `{"type":"object","required":["points"],"properties":{"points":{"type":"array","minItems":1,"items":` + pointSchema + `}}}`,
	TypeStartMapping:   `{"type":"object","properties":{"name":{"type":"string","minLength":1}}}`,
	TypeFinishMapping:  `{"type":"object","properties":{"save":{"type":"boolean"}}}`,
	TypeUseElevator:    `{"type":"object","required":["elevator_id","floor"],"properties":{"elevator_id":{"type":"string","minLength":1},"floor":{"type":"integer"}}}`,
	TypeOpenDoor:       `{"type":"object","required":["door_id"],"properties":{"door_id":{"type":"string","minLength":1}}}`,
	TypePickUpCargo:    pointSchema,
	TypeDeliverCargo:   pointSchema,
	TypeCaptureVideo:   `{"type":"object","required":["duration"],"properties":{"duration":{"type":"number","exclusiveMinimum":0,"maximum":3600}}}`,
	TypeUpdateSystem:   `{"type":"object","properties":{"version":{"type":"string"}}}`,
}

// schemaSet holds compiled param schemas keyed by task type.
type schemaSet struct {
	byType map[TaskType]*jsonschema.Schema
}

func compileSchemas() (*schemaSet, error) {
	set := &schemaSet{byType: make(map[TaskType]*jsonschema.Schema, len(paramSchemas))}
	for typ, src := range paramSchemas {
		ref := "mem://taskqueue/" + string(typ) + ".json"
		c := jsonschema.NewCompiler()
		if err := c.AddResource(ref, strings.NewReader(src)); err != nil {
			return nil, fmt.Errorf("schema %s: %w", typ, err)
		}
		s, err := c.Compile(ref)
		if err != nil {
			return nil, fmt.Errorf("schema %s: %w", typ, err)
		}
		set.byType[typ] = s
	}
	return set, nil
}

// normalizeParams round-trips params through JSON so numbers are float64 and
// the stored form matches what a reload sees.
func normalizeParams(params map[string]any) (map[string]any, error) {
	if params == nil {
		return map[string]any{}, nil
	}
	data, err := json.Marshal(params)
	if err != nil {
		return nil, err
	}
	out := map[string]any{}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *schemaSet) validate(typ TaskType, params map[string]any) error {
	schema, ok := s.byType[typ]
	if !ok {
		return nil
	}
	if err := schema.Validate(params); err != nil {
		var ve *jsonschema.ValidationError
		if errors.As(err, &ve) {
			return &ParamsError{Type: typ, Detail: leafMessage(ve)}
		}
		return &ParamsError{Type: typ, Detail: err.Error()}
	}
	return nil
}

// leafMessage picks the most specific cause out of a validation error tree.
func leafMessage(ve *jsonschema.ValidationError) string {
	for len(ve.Causes) > 0 {
		ve = ve.Causes[0]
	}
	loc := ve.InstanceLocation
	if loc == "" {
		loc = "/"
	}
	return loc + ": " + ve.Message
}
