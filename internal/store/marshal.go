package store

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// marshalCompact serializes v to compact (no indentation), camelCase JSON
// with HTML escaping disabled, matching the wire layout spec'd for
// feature vectors, snapshot match lists and warnings.
func marshalCompact(v any) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return "", fmt.Errorf("marshal: %w", err)
	}
	return strings.TrimSpace(buf.String()), nil
}

func unmarshalInto(data string, v any) error {
	if data == "" {
		return nil
	}
	if err := json.Unmarshal([]byte(data), v); err != nil {
		return fmt.Errorf("unmarshal: %w", err)
	}
	return nil
}

func marshalFeatureVector(fv FeatureVector) (string, error) {
	return marshalCompact(fv)
}

func unmarshalFeatureVector(data string) (FeatureVector, error) {
	var fv FeatureVector
	if err := unmarshalInto(data, &fv); err != nil {
		return FeatureVector{}, err
	}
	return fv, nil
}

func marshalWarnings(warnings []string) (string, error) {
	if len(warnings) == 0 {
		return "[]", nil
	}
	return marshalCompact(warnings)
}

func unmarshalWarnings(data string) ([]string, error) {
	if data == "" {
		return nil, nil
	}
	var warnings []string
	if err := unmarshalInto(data, &warnings); err != nil {
		return nil, err
	}
	return warnings, nil
}

func marshalMatches(matches []Match) (string, error) {
	if len(matches) == 0 {
		return "[]", nil
	}
	return marshalCompact(matches)
}

func unmarshalMatches(data string) ([]Match, error) {
	if data == "" {
		return nil, nil
	}
	var matches []Match
	if err := unmarshalInto(data, &matches); err != nil {
		return nil, err
	}
	return matches, nil
}
