package control

import (
	"encoding/json"
	"fmt"

	"google.golang.org/protobuf/types/known/structpb"

	"simhost/shared"
)

// toStruct encodes v through its JSON form so that field names match the
// HTTP and websocket payloads.
func toStruct(v any) (*structpb.Struct, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode %T: %w", v, err)
	}
	var fields map[string]any
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, fmt.Errorf("encode %T: %w", v, err)
	}
	return structpb.NewStruct(fields)
}

func fromStruct[T any](s *structpb.Struct) (T, error) {
	var out T
	if s == nil {
		return out, fmt.Errorf("decode %T: empty message", out)
	}
	data, err := json.Marshal(s.AsMap())
	if err != nil {
		return out, fmt.Errorf("decode %T: %w", out, err)
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return out, fmt.Errorf("decode %T: %w", out, err)
	}
	return out, nil
}

// StatusToStruct encodes a clock status.
func StatusToStruct(st shared.Status) (*structpb.Struct, error) {
	return toStruct(st)
}

// StatusFromStruct decodes a clock status.
func StatusFromStruct(s *structpb.Struct) (shared.Status, error) {
	return fromStruct[shared.Status](s)
}

// FrameToStruct encodes a Watch frame.
func FrameToStruct(f shared.Frame) (*structpb.Struct, error) {
	return toStruct(f)
}

// FrameFromStruct decodes a Watch frame.
func FrameFromStruct(s *structpb.Struct) (shared.Frame, error) {
	return fromStruct[shared.Frame](s)
}
