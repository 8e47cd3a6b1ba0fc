package repositories

import (
	"fmt"
	"time"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

// Badger values are protobuf Struct records, so stored data stays readable
// with any protobuf tooling without generated types.

func encodeRecord(fields map[string]any) ([]byte, error) {
	record, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, fmt.Errorf("record encoding failed: %w", err)
	}
	return proto.Marshal(record)
}

func decodeRecord(data []byte) (*structpb.Struct, error) {
	var record structpb.Struct
	if err := proto.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("record decoding failed: %w", err)
	}
	return &record, nil
}

func stringField(record *structpb.Struct, key string) string {
	return record.GetFields()[key].GetStringValue()
}

// optionalStringField maps a null or missing value to nil.
func optionalStringField(record *structpb.Struct, key string) *string {
	value, ok := record.GetFields()[key]
	if !ok {
		return nil
	}
	if _, isString := value.GetKind().(*structpb.Value_StringValue); !isString {
		return nil
	}
	s := value.GetStringValue()
	return &s
}

func timeField(record *structpb.Struct, key string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, stringField(record, key))
}

func optionalValue(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}
