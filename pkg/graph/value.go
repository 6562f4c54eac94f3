// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package graph

import (
	"encoding/json"
	"fmt"
)

// Value is the decoded form of a pin value: a Go value matching the pin's
// DataType/ValueType pairing (string, int64, float64, bool, []byte, []any, map[string]any, ...).
type Value = any

// EncodeValue is the single codec path for both node output values and
// Pin.DefaultValue: both are JSON-encoded bytes. A dedicated binary form was
// considered and rejected in favor of one consistent path for both raw
// values and JSON-shaped ones.
func EncodeValue(v Value) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("graph: encode value: %w", err)
	}
	return b, nil
}

// DecodeValue decodes JSON-encoded bytes into a Go value appropriate for the
// given DataType/ValueType. An empty/nil raw yields the type's zero value.
func DecodeValue(dt DataType, vt ValueType, raw []byte) (Value, error) {
	if len(raw) == 0 {
		return ZeroValue(dt, vt), nil
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("graph: decode value for %s/%s: %w", dt, vt, err)
	}
	return v, nil
}

// ZeroValue returns the type-specific zero value used when a data pin has
// neither an upstream connection nor a default value.
func ZeroValue(dt DataType, vt ValueType) Value {
	switch vt {
	case ValueTypeArray:
		return []any{}
	case ValueTypeHashMap:
		return map[string]any{}
	case ValueTypeHashSet:
		return []any{}
	}

	switch dt {
	case DataTypeString, DataTypePathBuf:
		return ""
	case DataTypeInteger:
		return int64(0)
	case DataTypeFloat:
		return float64(0)
	case DataTypeBoolean:
		return false
	case DataTypeByte:
		return []byte{}
	case DataTypeStruct, DataTypeGeneric:
		return map[string]any{}
	case DataTypeDate:
		return ""
	default:
		return nil
	}
}
