package provider

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Service is one catalog entry as offered by the panel. Panels disagree on
// field names and JSON types, so decoding goes through UnmarshalJSON.
type Service struct {
	ID          int64   `json:"service"`
	Name        string  `json:"name"`
	Category    string  `json:"category"`
	Type        string  `json:"type,omitempty"`
	Rate        string  `json:"rate"`
	Min         int64   `json:"min"`
	Max         int64   `json:"max"`
	Description *string `json:"description,omitempty"`
}

// UnmarshalJSON accepts either "id" or "service" as the identifier and
// numbers or numeric strings for rate/min/max.
func (s *Service) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	id := readIntRaw(raw, "id", "service")
	if id == nil {
		return fmt.Errorf("service entry without id: %s", truncate(string(data), 120))
	}
	s.ID = *id
	s.Name = readStringRaw(raw, "name")
	s.Category = readStringRaw(raw, "category")
	s.Type = readStringRaw(raw, "type")
	s.Rate = readStringRaw(raw, "rate")
	s.Min = derefInt(readIntRaw(raw, "min"))
	s.Max = derefInt(readIntRaw(raw, "max"))
	s.Description = nil
	if desc, ok := raw["description"]; ok && !isNull(desc) {
		d := readStringRaw(raw, "description")
		s.Description = &d
	}
	return nil
}

// readStringRaw returns the first present, non-null key as a string. Number
// literals are returned verbatim so decimal rates keep their precision.
func readStringRaw(raw map[string]json.RawMessage, keys ...string) string {
	for _, key := range keys {
		val, ok := raw[key]
		if !ok || isNull(val) {
			continue
		}
		trimmed := strings.TrimSpace(string(val))
		if strings.HasPrefix(trimmed, `"`) {
			var decoded string
			if err := json.Unmarshal(val, &decoded); err == nil {
				return strings.TrimSpace(decoded)
			}
			continue
		}
		if trimmed == "true" || trimmed == "false" || strings.HasPrefix(trimmed, "{") || strings.HasPrefix(trimmed, "[") {
			continue
		}
		return trimmed
	}
	return ""
}

// readIntRaw returns the first present, numeric key. Fractions are truncated.
func readIntRaw(raw map[string]json.RawMessage, keys ...string) *int64 {
	for _, key := range keys {
		val, ok := raw[key]
		if !ok || isNull(val) {
			continue
		}
		str := readStringRaw(map[string]json.RawMessage{key: val}, key)
		if str == "" {
			continue
		}
		if n, err := strconv.ParseInt(str, 10, 64); err == nil {
			return &n
		}
		if f, err := strconv.ParseFloat(str, 64); err == nil && !math.IsNaN(f) && !math.IsInf(f, 0) {
			n := int64(f)
			return &n
		}
	}
	return nil
}

func isNull(val json.RawMessage) bool {
	return strings.TrimSpace(string(val)) == "null"
}

func derefInt(v *int64) int64 {
	if v == nil {
		return 0
	}
	return *v
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
