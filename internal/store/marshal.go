package store

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/roach88/kairon/internal/ir"
)

// timeLayout is fixed-width UTC RFC 3339 with nanoseconds, so stored text
// orders lexicographically the same way it orders temporally.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		// Tolerate rows written by hand or by older tools.
		t, err = time.Parse(time.RFC3339Nano, s)
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("parse time %q: %w", s, err)
	}
	return t, nil
}

func formatNullableTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func parseNullableTime(s sql.NullString) (*time.Time, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	t, err := parseTime(s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// marshalDocument serializes a document for storage. HTML escaping is
// disabled so stored text matches what canonical hashing saw.
func marshalDocument(doc ir.Document) (string, error) {
	if doc == nil {
		return "{}", nil
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(map[string]any(doc)); err != nil {
		return "", fmt.Errorf("marshal document: %w", err)
	}
	return strings.TrimSpace(buf.String()), nil
}

func unmarshalDocument(data string) (ir.Document, error) {
	if data == "" || data == "{}" {
		return ir.Document{}, nil
	}
	var doc ir.Document
	if err := json.Unmarshal([]byte(data), &doc); err != nil {
		return nil, fmt.Errorf("unmarshal document: %w", err)
	}
	return doc, nil
}

func marshalStepData(d ir.StepData) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(d); err != nil {
		return "", fmt.Errorf("marshal step data: %w", err)
	}
	return strings.TrimSpace(buf.String()), nil
}

func unmarshalStepData(data string) (ir.StepData, error) {
	var d ir.StepData
	if data == "" || data == "{}" {
		return d, nil
	}
	if err := json.Unmarshal([]byte(data), &d); err != nil {
		return ir.StepData{}, fmt.Errorf("unmarshal step data: %w", err)
	}
	return d, nil
}

// marshalChain stores a trace chain as a JSON array of trace IDs.
func marshalChain(chain []string) (string, error) {
	data, err := json.Marshal(chain)
	if err != nil {
		return "", fmt.Errorf("marshal trace chain: %w", err)
	}
	return string(data), nil
}

func unmarshalChain(data string) ([]string, error) {
	if data == "" || data == "[]" {
		return []string{}, nil
	}
	var chain []string
	if err := json.Unmarshal([]byte(data), &chain); err != nil {
		return nil, fmt.Errorf("unmarshal trace chain: %w", err)
	}
	return chain, nil
}
