// pkg/feed/decoder.go
package feed

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/segmentio/encoding/json"
	"github.com/shopspring/decimal"
)

// Decoder turns one frame into one value. Returning an error wrapping
// ErrFiltered drops the frame quietly; any other error is a decode failure.
type Decoder interface {
	Decode(Frame) (float64, error)
}

// DecoderFunc adapts a function to Decoder.
type DecoderFunc func(Frame) (float64, error)

func (f DecoderFunc) Decode(fr Frame) (float64, error) { return f(fr) }

// TextDecoder parses the whole payload as a decimal number.
type TextDecoder struct{}

func (TextDecoder) Decode(f Frame) (float64, error) {
	return parseDecimal(string(bytes.TrimSpace(f.Payload)))
}

func parseDecimal(s string) (float64, error) {
	if s == "" {
		return 0, decodeErr("empty payload", nil)
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, decodeErr("not a number", err)
	}
	v, _ := d.Float64()
	return v, nil
}

// Match is a set of field=value filters over a JSON document. Field names
// use dotted paths; values compare against the JSON text of the field, with
// string values unquoted.
type Match map[string]string

// ParseMatch builds a Match from "field=value" entries.
func ParseMatch(entries []string) (Match, error) {
	if len(entries) == 0 {
		return nil, nil
	}
	m := make(Match, len(entries))
	for _, e := range entries {
		k, v, ok := strings.Cut(e, "=")
		k = strings.TrimSpace(k)
		if !ok || k == "" {
			return nil, fmt.Errorf("feed: bad match entry %q, want field=value", e)
		}
		m[k] = strings.TrimSpace(v)
	}
	return m, nil
}

func (m Match) keys() []string {
	ks := make([]string, 0, len(m))
	for k := range m {
		ks = append(ks, k)
	}
	sort.Strings(ks)
	return ks
}

// apply returns ErrFiltered when doc does not satisfy every filter.
func (m Match) apply(doc json.RawMessage) error {
	for _, field := range m.keys() {
		raw, err := lookup(doc, field)
		if err != nil {
			return fmt.Errorf("%w: %s missing", ErrFiltered, field)
		}
		got, err := scalarText(raw)
		if err != nil || got != m[field] {
			return fmt.Errorf("%w: %s=%q", ErrFiltered, field, got)
		}
	}
	return nil
}

// JSONDecoder extracts a numeric field from a JSON document. An empty Field
// means the document itself is the number (or a numeric string).
type JSONDecoder struct {
	Field string
	Match Match
}

func (d JSONDecoder) Decode(f Frame) (float64, error) {
	doc := json.RawMessage(bytes.TrimSpace(f.Payload))
	if !json.Valid(doc) {
		return 0, decodeErr("invalid json", nil)
	}
	if err := d.Match.apply(doc); err != nil {
		return 0, err
	}
	raw := doc
	if d.Field != "" {
		var err error
		if raw, err = lookup(doc, d.Field); err != nil {
			return 0, decodeErr("field "+d.Field, err)
		}
	}
	return numberOf(raw)
}

// PresenceDecoder yields 1 for every frame that passes Match. It turns an
// event stream into a count stream, which the rate sampler then turns into
// events per second.
type PresenceDecoder struct {
	Match Match
}

func (d PresenceDecoder) Decode(f Frame) (float64, error) {
	if len(d.Match) == 0 {
		return 1, nil
	}
	doc := json.RawMessage(bytes.TrimSpace(f.Payload))
	if !json.Valid(doc) {
		return 0, decodeErr("invalid json", nil)
	}
	if err := d.Match.apply(doc); err != nil {
		return 0, err
	}
	return 1, nil
}

// BinaryDecoder reads an IEEE-754 float from a binary frame. Width is 4 or 8
// bytes; Order defaults to big endian.
type BinaryDecoder struct {
	Width int
	Order binary.ByteOrder
}

func (d BinaryDecoder) Decode(f Frame) (float64, error) {
	if f.Kind != FrameBinary {
		return 0, decodeErr("expected binary frame, got "+f.Kind.String(), nil)
	}
	order := d.Order
	if order == nil {
		order = binary.BigEndian
	}
	width := d.Width
	if width == 0 {
		width = 8
	}
	if len(f.Payload) != width {
		return 0, decodeErr(fmt.Sprintf("payload is %d bytes, want %d", len(f.Payload), width), nil)
	}
	switch width {
	case 4:
		return float64(math.Float32frombits(order.Uint32(f.Payload))), nil
	case 8:
		return math.Float64frombits(order.Uint64(f.Payload)), nil
	default:
		return 0, decodeErr(fmt.Sprintf("unsupported width %d", width), nil)
	}
}

// lookup walks a dotted path through nested JSON objects.
func lookup(doc json.RawMessage, path string) (json.RawMessage, error) {
	cur := doc
	for _, seg := range strings.Split(path, ".") {
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(cur, &obj); err != nil {
			return nil, fmt.Errorf("%q is not inside an object", seg)
		}
		next, ok := obj[seg]
		if !ok {
			return nil, fmt.Errorf("%q not found", seg)
		}
		cur = next
	}
	return cur, nil
}

// scalarText renders a JSON scalar as text, unquoting strings.
func scalarText(raw json.RawMessage) (string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return "", fmt.Errorf("empty value")
	}
	switch raw[0] {
	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", err
		}
		return s, nil
	case '{', '[':
		return "", fmt.Errorf("not a scalar")
	default:
		return string(raw), nil
	}
}

func numberOf(raw json.RawMessage) (float64, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return 0, decodeErr("empty value", nil)
	}
	switch raw[0] {
	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return 0, decodeErr("bad string", err)
		}
		return parseDecimal(strings.TrimSpace(s))
	case '-', '0', '1', '2', '3', '4', '5', '6', '7', '8', '9':
		return parseDecimal(string(raw))
	default:
		return 0, decodeErr("value is not numeric: "+truncate(string(raw), 32), nil)
	}
}

// truncate shortens s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "…"
}

// Validation rejects values that decode fine but make no sense downstream.
type Validation struct {
	AllowNonFinite bool
	Min            *float64
	Max            *float64
}

// Check returns a DecodeError for values outside the policy.
func (v Validation) Check(x float64) error {
	if !v.AllowNonFinite && (math.IsNaN(x) || math.IsInf(x, 0)) {
		return decodeErr(fmt.Sprintf("non-finite value %v", x), nil)
	}
	if v.Min != nil && x < *v.Min {
		return decodeErr(fmt.Sprintf("value %v below minimum %v", x, *v.Min), nil)
	}
	if v.Max != nil && x > *v.Max {
		return decodeErr(fmt.Sprintf("value %v above maximum %v", x, *v.Max), nil)
	}
	return nil
}
