package transport

import (
	"encoding/json"
	"fmt"

	"github.com/golang/snappy"
)

// Frame is the wire form of one election message
type Frame struct {
	From    int    `json:"from"`
	To      int    `json:"to"`
	Kind    string `json:"kind"`
	Content string `json:"content,omitempty"`
	Round   string `json:"round,omitempty"`
}

// Encode serializes a frame as snappy-compressed JSON
func Encode(f Frame) ([]byte, error) {
	raw, err := json.Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("encode frame: %w", err)
	}
	return snappy.Encode(nil, raw), nil
}

// Decode parses a frame produced by Encode
func Decode(data []byte) (Frame, error) {
	raw, err := snappy.Decode(nil, data)
	if err != nil {
		return Frame{}, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}

	var f Frame
	if err := json.Unmarshal(raw, &f); err != nil {
		return Frame{}, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	if f.Kind == "" {
		return Frame{}, fmt.Errorf("%w: missing kind", ErrMalformedFrame)
	}
	return f, nil
}
