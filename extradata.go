package socialauth

import (
	"bytes"
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

// ExtraData is the opaque provider data kept on a link.
type ExtraData map[string]any

// EncodeExtraData renders data as JSON. A nil map encodes as "{}".
func EncodeExtraData(data map[string]any) (string, error) {
	if data == nil {
		return "{}", nil
	}
	b, err := json.Marshal(data)
	if err != nil {
		return "", MalformedData("extra_data", err)
	}
	return string(b), nil
}

// DecodeExtraData parses stored JSON. Blank input decodes to nil. Numbers are
// kept as json.Number so integers survive exactly.
func DecodeExtraData(raw string) (map[string]any, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}

	dec := json.NewDecoder(strings.NewReader(raw))
	dec.UseNumber()

	var out map[string]any
	if err := dec.Decode(&out); err != nil {
		return nil, MalformedData("extra_data", err)
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, MalformedData("extra_data", fmt.Errorf("trailing data after JSON object"))
	}
	return out, nil
}

// Value implements driver.Valuer.
func (e ExtraData) Value() (driver.Value, error) {
	return EncodeExtraData(e)
}

// Scan implements sql.Scanner.
func (e *ExtraData) Scan(src any) error {
	var raw string
	switch v := src.(type) {
	case nil:
		*e = nil
		return nil
	case string:
		raw = v
	case []byte:
		raw = string(bytes.Clone(v))
	default:
		return MalformedData("extra_data", fmt.Errorf("unsupported source type %T", src))
	}

	data, err := DecodeExtraData(raw)
	if err != nil {
		return err
	}
	*e = data
	return nil
}
