package models

import (
	"database/sql/driver"
	"encoding/json"
)

// JSONMap is an arbitrary JSON object persisted as a single text/jsonb column.
// It is stored as plain JSON text on both dialects so the same column type
// works unmodified against sqlite and postgres.
type JSONMap map[string]any

// Value implements driver.Valuer for JSONMap.
func (m JSONMap) Value() (driver.Value, error) {
	if m == nil {
		return "{}", nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements sql.Scanner for JSONMap.
func (m *JSONMap) Scan(value any) error {
	if value == nil {
		*m = JSONMap{}
		return nil
	}
	switch v := value.(type) {
	case []byte:
		return json.Unmarshal(v, (*map[string]any)(m))
	case string:
		return json.Unmarshal([]byte(v), (*map[string]any)(m))
	default:
		return json.Unmarshal([]byte(v.(string)), (*map[string]any)(m))
	}
}

// StringArray is a string slice persisted as a JSON array, portable across
// the dialects that do not share a native array type (sqlite has none).
type StringArray []string

// Value implements driver.Valuer for StringArray.
func (a StringArray) Value() (driver.Value, error) {
	if a == nil {
		return "[]", nil
	}
	b, err := json.Marshal([]string(a))
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements sql.Scanner for StringArray.
func (a *StringArray) Scan(value any) error {
	if value == nil {
		*a = StringArray{}
		return nil
	}
	switch v := value.(type) {
	case []byte:
		return json.Unmarshal(v, (*[]string)(a))
	case string:
		return json.Unmarshal([]byte(v), (*[]string)(a))
	default:
		return json.Unmarshal([]byte(v.(string)), (*[]string)(a))
	}
}

// JSONArray is a slice of arbitrary JSON objects, used for files[] / actions[].
type JSONArray []map[string]any

// Value implements driver.Valuer for JSONArray.
func (a JSONArray) Value() (driver.Value, error) {
	if a == nil {
		return "[]", nil
	}
	b, err := json.Marshal([]map[string]any(a))
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements sql.Scanner for JSONArray.
func (a *JSONArray) Scan(value any) error {
	if value == nil {
		*a = JSONArray{}
		return nil
	}
	switch v := value.(type) {
	case []byte:
		return json.Unmarshal(v, (*[]map[string]any)(a))
	case string:
		return json.Unmarshal([]byte(v), (*[]map[string]any)(a))
	default:
		return json.Unmarshal([]byte(v.(string)), (*[]map[string]any)(a))
	}
}
