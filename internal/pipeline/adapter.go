package pipeline

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/alanyoungcy/deltafeed/internal/domain"
)

type rawSymbolEvent struct {
	Symbol json.RawMessage `json:"symbol"`
	Value  json.RawMessage `json:"value"`
}

// DecodeSymbolEvent parses a blob body of the form
// {"symbol": "...", "value": "..."}. A numeric value is accepted and kept in
// its literal form. A missing, null or empty field is domain.ErrMalformedInput.
func DecodeSymbolEvent(data []byte) (domain.SymbolEvent, error) {
	var raw rawSymbolEvent
	if err := json.Unmarshal(bytes.TrimPrefix(data, []byte("\xef\xbb\xbf")), &raw); err != nil {
		return domain.SymbolEvent{}, fmt.Errorf("pipeline: decode event: %v: %w", err, domain.ErrMalformedInput)
	}

	symbol, err := field("symbol", raw.Symbol, false)
	if err != nil {
		return domain.SymbolEvent{}, err
	}
	value, err := field("value", raw.Value, true)
	if err != nil {
		return domain.SymbolEvent{}, err
	}
	return domain.SymbolEvent{Symbol: symbol, Value: value}, nil
}

func field(name string, raw json.RawMessage, allowNumber bool) (string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return "", fmt.Errorf("pipeline: decode event: missing %s: %w", name, domain.ErrMalformedInput)
	}

	var s string
	if raw[0] == '"' {
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", fmt.Errorf("pipeline: decode event: %s: %v: %w", name, err, domain.ErrMalformedInput)
		}
	} else if allowNumber {
		var n json.Number
		if err := json.Unmarshal(raw, &n); err != nil {
			return "", fmt.Errorf("pipeline: decode event: %s is not a string or number: %w", name, domain.ErrMalformedInput)
		}
		s = n.String()
	} else {
		return "", fmt.Errorf("pipeline: decode event: %s is not a string: %w", name, domain.ErrMalformedInput)
	}

	if s == "" {
		return "", fmt.Errorf("pipeline: decode event: empty %s: %w", name, domain.ErrMalformedInput)
	}
	return s, nil
}
