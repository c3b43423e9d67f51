package record

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

var ErrUndecodable = errors.New("record: undecodable snapshot")

// flexString accepts strings, numbers and booleans; anything else is "".
type flexString string

func (s *flexString) UnmarshalJSON(b []byte) error {
	*s = ""
	v, err := decodeAny(b)
	if err != nil {
		return err
	}
	switch x := v.(type) {
	case string:
		*s = flexString(x)
	case json.Number:
		*s = flexString(x.String())
	case bool:
		*s = flexString(strconv.FormatBool(x))
	}
	return nil
}

// flexInt accepts numbers and numeric strings; anything else coerces to 0.
type flexInt int

func (n *flexInt) UnmarshalJSON(b []byte) error {
	*n = 0
	v, err := decodeAny(b)
	if err != nil {
		return err
	}
	switch x := v.(type) {
	case json.Number:
		*n = flexInt(toInt(x.String()))
	case string:
		*n = flexInt(toInt(strings.TrimSpace(x)))
	case bool:
		if x {
			*n = 1
		}
	}
	return nil
}

func decodeAny(b []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	return v, nil
}

func toInt(s string) int {
	if i, err := strconv.Atoi(s); err == nil {
		return i
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	return int(f)
}

func isAbsent(raw json.RawMessage) bool {
	t := bytes.TrimSpace(raw)
	return len(t) == 0 || bytes.Equal(t, []byte("null"))
}

func isObject(raw json.RawMessage) bool {
	t := bytes.TrimSpace(raw)
	return len(t) > 0 && t[0] == '{'
}

// decodeObject decodes a JSON object one level deep. Absent input yields an
// empty map.
func decodeObject(raw json.RawMessage) (map[string]json.RawMessage, error) {
	if isAbsent(raw) {
		return map[string]json.RawMessage{}, nil
	}
	if !isObject(raw) {
		return nil, fmt.Errorf("%w: expected object", ErrUndecodable)
	}
	var m map[string]json.RawMessage
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUndecodable, err)
	}
	return m, nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
