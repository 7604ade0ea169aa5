package transport

import (
	"encoding/json"

	structpb "google.golang.org/protobuf/types/known/structpb"
)

// wire payloads travel as structpb.Struct so the default proto codec
// carries them; domain structs convert via their json tags

func encodeMessage(v any) (*structpb.Struct, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return structpb.NewStruct(m)
}

func decodeMessage(s *structpb.Struct, v any) error {
	data, err := json.Marshal(s.AsMap())
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}
