package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

var (
	ErrNotJSONObject  = errors.New("payload is not a JSON object")
	ErrMissingNode    = errors.New("node is required")
	ErrMissingGateway = errors.New("gateway is required")
)

// NodeID identifies a sensor node. Nodes in the field send it either as a
// string or as a bare number, both decode to the same textual id.
type NodeID string

// UnmarshalJSON accepts a JSON string or number
func (n *NodeID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*n = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*n = NodeID(s)
		return nil
	}
	var num json.Number
	if err := json.Unmarshal(data, &num); err != nil {
		return fmt.Errorf("node must be a string or number: %w", err)
	}
	*n = NodeID(num.String())
	return nil
}

// Frame is the JSON body a sensor node puts on the air. Interpreted fields
// are decoded leniently: numbers may carry a fraction or arrive as numeric
// strings, and flame may be a bool. A value that still does not fit, and
// every field the gateway does not interpret, is kept verbatim in Extra so
// relayed envelopes carry the node's payload unchanged.
type Frame struct {
	Node  NodeID   `json:"node"`
	Temp  *float64 `json:"temp,omitempty"`
	Hum   *float64 `json:"hum,omitempty"`
	Flame *int     `json:"flame,omitempty"`
	Smoke *int     `json:"smoke,omitempty"`
	Lat   *float64 `json:"lat,omitempty"`
	Lon   *float64 `json:"lon,omitempty"`

	Extra map[string]json.RawMessage `json:"-"`
}

// UnmarshalJSON fails only when data is not a JSON object
func (f *Frame) UnmarshalJSON(data []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}

	*f = Frame{}
	for key, value := range fields {
		switch key {
		case "node":
			var id NodeID
			if err := id.UnmarshalJSON(value); err != nil {
				f.keep(key, value)
				continue
			}
			f.Node = id
		case "temp":
			f.Temp = f.decodeFloat(key, value)
		case "hum":
			f.Hum = f.decodeFloat(key, value)
		case "lat":
			f.Lat = f.decodeFloat(key, value)
		case "lon":
			f.Lon = f.decodeFloat(key, value)
		case "flame":
			f.Flame = f.decodeInt(key, value)
		case "smoke":
			f.Smoke = f.decodeInt(key, value)
		default:
			f.keep(key, value)
		}
	}
	return nil
}

// MarshalJSON writes the interpreted fields over Extra
func (f Frame) MarshalJSON() ([]byte, error) {
	fields := make(map[string]interface{}, len(f.Extra)+7)
	for key, value := range f.Extra {
		fields[key] = value
	}
	if f.Node != "" {
		fields["node"] = f.Node
	}
	setIfPresent(fields, "temp", f.Temp)
	setIfPresent(fields, "hum", f.Hum)
	setIfPresent(fields, "lat", f.Lat)
	setIfPresent(fields, "lon", f.Lon)
	if f.Flame != nil {
		fields["flame"] = *f.Flame
	}
	if f.Smoke != nil {
		fields["smoke"] = *f.Smoke
	}
	return json.Marshal(fields)
}

func setIfPresent(fields map[string]interface{}, key string, v *float64) {
	if v != nil {
		fields[key] = *v
	}
}

func (f *Frame) keep(key string, value json.RawMessage) {
	if f.Extra == nil {
		f.Extra = make(map[string]json.RawMessage)
	}
	f.Extra[key] = value
}

func (f *Frame) decodeFloat(key string, value json.RawMessage) *float64 {
	v, ok := lenientNumber(value, false)
	if !ok {
		f.keep(key, value)
		return nil
	}
	return &v
}

func (f *Frame) decodeInt(key string, value json.RawMessage) *int {
	v, ok := lenientNumber(value, true)
	if !ok {
		f.keep(key, value)
		return nil
	}
	n := int(math.Round(v))
	return &n
}

// lenientNumber reads a JSON number, a numeric string or, when allowBool is
// set, a bool as 0/1
func lenientNumber(value json.RawMessage, allowBool bool) (float64, bool) {
	dec := json.NewDecoder(bytes.NewReader(value))
	dec.UseNumber()

	var v interface{}
	if err := dec.Decode(&v); err != nil {
		return 0, false
	}

	var n float64
	var err error
	switch x := v.(type) {
	case json.Number:
		n, err = x.Float64()
	case string:
		n, err = strconv.ParseFloat(strings.TrimSpace(x), 64)
	case bool:
		if !allowBool {
			return 0, false
		}
		if x {
			n = 1
		}
	default:
		return 0, false
	}
	if err != nil || math.IsNaN(n) || math.IsInf(n, 0) {
		return 0, false
	}
	return n, true
}

// FlameValue returns the flame flag, 0 when the node omitted it
func (f *Frame) FlameValue() int {
	if f.Flame == nil {
		return 0
	}
	return *f.Flame
}

// SmokeValue returns the smoke reading, 0 when the node omitted it
func (f *Frame) SmokeValue() int {
	if f.Smoke == nil {
		return 0
	}
	return *f.Smoke
}

// ParseFrame decodes raw FIFO bytes into a Frame. The only rejections are a
// payload that is not a '{...}' JSON object and one without a node id;
// sensor values of unexpected type never drop a frame.
func ParseFrame(raw []byte) (*Frame, error) {
	if len(raw) < 2 || raw[0] != '{' || raw[len(raw)-1] != '}' {
		return nil, ErrNotJSONObject
	}

	var frame Frame
	if err := json.Unmarshal(raw, &frame); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotJSONObject, err)
	}
	if err := validateFrame(&frame); err != nil {
		return nil, err
	}
	return &frame, nil
}

func validateFrame(f *Frame) error {
	if f.Node == "" {
		return ErrMissingNode
	}
	return nil
}

// EncodeAck builds the plaintext acknowledgment sent back to a node
func EncodeAck(node NodeID) []byte {
	return []byte("ACK:" + string(node))
}

// FormatConfidence renders a [0,1] confidence as the percentage string
// dashboards expect, e.g. "98.25%"
func FormatConfidence(confidence float64) string {
	return strconv.FormatFloat(confidence*100, 'f', 2, 64) + "%"
}
