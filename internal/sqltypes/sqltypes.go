// Package sqltypes has column types that sqlite can't store natively.
package sqltypes

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// JSONStringSlice is stored as a JSON array in a text column. A nil slice is
// written as an empty array so the column never holds null.
type JSONStringSlice []string

func (s JSONStringSlice) Value() (driver.Value, error) {
	if len(s) == 0 {
		return "[]", nil
	}

	d, err := json.Marshal([]string(s))
	if err != nil {
		return nil, fmt.Errorf("sqltypes.JSONStringSlice: could not encode value: %w", err)
	}

	return string(d), nil
}

// Scan accepts null and JSON text in either string or []byte form.
func (s *JSONStringSlice) Scan(src interface{}) error {
	var d []byte

	switch src := src.(type) {
	case nil:
		*s = nil
		return nil
	case []byte:
		d = src
	case string:
		d = []byte(src)
	default:
		return fmt.Errorf("sqltypes.JSONStringSlice.Scan: can't scan %T", src)
	}

	var a []string
	if err := json.Unmarshal(d, &a); err != nil {
		return fmt.Errorf("sqltypes.JSONStringSlice.Scan: could not decode %q: %w", d, err)
	}

	*s = a

	return nil
}
