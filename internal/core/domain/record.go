package domain

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"
)

type ValueKind int

const (
	KindNull ValueKind = iota
	KindString
	KindInteger
	KindFloat
	KindBool
	KindTimestamp
	KindDate
)

func (k ValueKind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindString:
		return "string"
	case KindInteger:
		return "integer"
	case KindFloat:
		return "float"
	case KindBool:
		return "bool"
	case KindTimestamp:
		return "timestamp"
	case KindDate:
		return "date"
	default:
		return "unknown"
	}
}

const (
	DateLayout     = "2006-01-02"
	DateTimeLayout = "2006-01-02 15:04:05"
)

// Value is a single cell of a log record. Text always holds the form the
// value is serialized with, so values read from the wire pass through as-is.
type Value struct {
	Kind  ValueKind
	Text  string
	Int   int64
	Float float64
	Bool  bool
	Time  time.Time
}

func NullValue() Value {
	return Value{Kind: KindNull}
}

func StringValue(s string) Value {
	return Value{Kind: KindString, Text: s}
}

func IntValue(n int64) Value {
	return Value{Kind: KindInteger, Int: n, Text: strconv.FormatInt(n, 10)}
}

func FloatValue(f float64) Value {
	return Value{Kind: KindFloat, Float: f, Text: strconv.FormatFloat(f, 'f', -1, 64)}
}

func BoolValue(b bool) Value {
	return Value{Kind: KindBool, Bool: b, Text: strconv.FormatBool(b)}
}

// ParseStringValue classifies a string as a timestamp, a date or plain text.
func ParseStringValue(s string) Value {
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return Value{Kind: KindTimestamp, Text: s, Time: t}
	}
	if t, err := time.Parse(DateTimeLayout, s); err == nil {
		return Value{Kind: KindTimestamp, Text: s, Time: t}
	}
	if t, err := time.Parse(DateLayout, s); err == nil {
		return Value{Kind: KindDate, Text: s, Time: t}
	}
	return StringValue(s)
}

func (v Value) IsNull() bool {
	return v.Kind == KindNull
}

func (v Value) String() string {
	return v.Text
}

func (v Value) MarshalJSON() ([]byte, error) {
	switch v.Kind {
	case KindNull:
		return []byte("null"), nil
	case KindInteger, KindFloat, KindBool:
		return []byte(v.Text), nil
	default:
		return json.Marshal(v.Text)
	}
}

func valueFromJSON(raw json.RawMessage) (Value, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return NullValue(), nil
	}
	switch raw[0] {
	case 'n':
		return NullValue(), nil
	case 't', 'f':
		var b bool
		if err := json.Unmarshal(raw, &b); err != nil {
			return Value{}, err
		}
		return BoolValue(b), nil
	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return Value{}, err
		}
		return ParseStringValue(s), nil
	case '{', '[':
		var buf bytes.Buffer
		if err := json.Compact(&buf, raw); err != nil {
			return Value{}, err
		}
		return StringValue(buf.String()), nil
	}

	text := string(raw)
	if n, err := strconv.ParseInt(text, 10, 64); err == nil {
		return Value{Kind: KindInteger, Int: n, Text: text}, nil
	}
	f, err := strconv.ParseFloat(text, 64)
	if err != nil {
		return Value{}, fmt.Errorf("parse number %q: %w", text, err)
	}
	return Value{Kind: KindFloat, Float: f, Text: text}, nil
}

// Record is one audit log entry: an ordered mapping of column name to value.
// The remote schema is not fixed, so every field the API returns is kept.
type Record struct {
	keys   []string
	values map[string]Value
}

func NewRecord() Record {
	return Record{values: make(map[string]Value)}
}

// Set stores v under key. New keys are appended, existing keys keep their position.
func (r *Record) Set(key string, v Value) {
	if r.values == nil {
		r.values = make(map[string]Value)
	}
	if _, ok := r.values[key]; !ok {
		r.keys = append(r.keys, key)
	}
	r.values[key] = v
}

func (r Record) Get(key string) (Value, bool) {
	v, ok := r.values[key]
	return v, ok
}

func (r Record) Keys() []string {
	out := make([]string, len(r.keys))
	copy(out, r.keys)
	return out
}

func (r Record) Len() int {
	return len(r.keys)
}

func (r *Record) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return errors.New("record must be a json object")
	}

	rec := NewRecord()
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := keyTok.(string)
		if !ok {
			return errors.New("record key must be a string")
		}
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return fmt.Errorf("decode field %q: %w", key, err)
		}
		v, err := valueFromJSON(raw)
		if err != nil {
			return fmt.Errorf("decode field %q: %w", key, err)
		}
		rec.Set(key, v)
	}
	if _, err := dec.Token(); err != nil {
		return err
	}

	*r = rec
	return nil
}

func (r Record) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, key := range r.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(key)
		if err != nil {
			return nil, err
		}
		buf.Write(k)
		buf.WriteByte(':')
		v, err := r.values[key].MarshalJSON()
		if err != nil {
			return nil, err
		}
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}
