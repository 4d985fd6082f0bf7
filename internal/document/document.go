// Package document holds the ordered JSON value model shared by the template,
// node and synthesis packages.
//
// Objects keep their key order so a generated config reads like the template it
// was derived from. Numbers are kept as json.Number so literals round-trip
// without float conversion.
package document

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

type Object = orderedmap.OrderedMap[string, any]

// Field is one key/value pair used to build an Object in order.
type Field struct {
	Key   string
	Value any
}

func F(key string, value any) Field { return Field{Key: key, Value: value} }

func NewObject(fields ...Field) *Object {
	o := orderedmap.New[string, any]()
	for _, f := range fields {
		o.Set(f.Key, f.Value)
	}
	return o
}

var errTrailingData = errors.New("unexpected data after top-level value")

// Decode parses strict JSON into *Object / []any / string / json.Number / bool / nil.
// Duplicate keys keep the first position and the last value.
func Decode(data []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	v, err := decodeValue(dec)
	if err != nil {
		return nil, err
	}
	if _, err := dec.Token(); err != io.EOF {
		if err == nil {
			return nil, fmt.Errorf("%w (offset %d)", errTrailingData, dec.InputOffset())
		}
		return nil, err
	}
	return v, nil
}

func decodeValue(dec *json.Decoder) (any, error) {
	tok, err := dec.Token()
	if err != nil {
		if err == io.EOF {
			return nil, io.ErrUnexpectedEOF
		}
		return nil, err
	}

	delim, ok := tok.(json.Delim)
	if !ok {
		return tok, nil
	}
	switch delim {
	case '{':
		obj := NewObject()
		for dec.More() {
			kt, err := dec.Token()
			if err != nil {
				return nil, err
			}
			key, ok := kt.(string)
			if !ok {
				return nil, fmt.Errorf("object key must be a string, got %v", kt)
			}
			val, err := decodeValue(dec)
			if err != nil {
				return nil, err
			}
			obj.Set(key, val)
		}
		if _, err := dec.Token(); err != nil {
			return nil, err
		}
		return obj, nil
	case '[':
		arr := make([]any, 0)
		for dec.More() {
			val, err := decodeValue(dec)
			if err != nil {
				return nil, err
			}
			arr = append(arr, val)
		}
		if _, err := dec.Token(); err != nil {
			return nil, err
		}
		return arr, nil
	default:
		return nil, fmt.Errorf("unexpected delimiter %q", rune(delim))
	}
}

// Clone returns a deep copy of v. Scalars are returned as-is.
func Clone(v any) any {
	switch t := v.(type) {
	case *Object:
		return CloneObject(t)
	case []any:
		if t == nil {
			return []any(nil)
		}
		out := make([]any, len(t))
		for i := range t {
			out[i] = Clone(t[i])
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = Clone(e)
		}
		return out
	default:
		return v
	}
}

func CloneObject(o *Object) *Object {
	if o == nil {
		return nil
	}
	out := NewObject()
	for p := o.Oldest(); p != nil; p = p.Next() {
		out.Set(p.Key, Clone(p.Value))
	}
	return out
}

// Encode renders v as two-space indented JSON followed by a newline.
// &, < and > are written literally.
func Encode(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return unescapeHTML(buf.Bytes()), nil
}

// unescapeHTML undoes the \u0026, \u003c and \u003e escapes that
// OrderedMap.MarshalJSON applies regardless of the encoder setting. Every
// backslash in encoder output starts a two-byte escape or a \uXXXX sequence.
func unescapeHTML(b []byte) []byte {
	if !bytes.Contains(b, []byte(`\u00`)) {
		return b
	}
	out := make([]byte, 0, len(b))
	for i := 0; i < len(b); i++ {
		if b[i] != '\\' || i+1 >= len(b) {
			out = append(out, b[i])
			continue
		}
		if b[i+1] == 'u' && i+6 <= len(b) {
			switch string(b[i+2 : i+6]) {
			case "0026":
				out = append(out, '&')
				i += 5
				continue
			case "003c":
				out = append(out, '<')
				i += 5
				continue
			case "003e":
				out = append(out, '>')
				i += 5
				continue
			}
		}
		out = append(out, b[i], b[i+1])
		i++
	}
	return out
}

func ObjectAt(o *Object, key string) (*Object, bool) {
	if o == nil {
		return nil, false
	}
	v, ok := o.Get(key)
	if !ok {
		return nil, false
	}
	obj, ok := v.(*Object)
	return obj, ok && obj != nil
}

func ArrayAt(o *Object, key string) ([]any, bool) {
	if o == nil {
		return nil, false
	}
	v, ok := o.Get(key)
	if !ok {
		return nil, false
	}
	arr, ok := v.([]any)
	return arr, ok
}

func StringAt(o *Object, key string) (string, bool) {
	if o == nil {
		return "", false
	}
	v, ok := o.Get(key)
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// Truthy reports whether v would be truthy in a JavaScript condition.
func Truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != ""
	case json.Number:
		f, err := strconv.ParseFloat(string(t), 64)
		return err == nil && f != 0
	case int:
		return t != 0
	case float64:
		return t != 0
	case *Object:
		return t != nil
	default:
		return true
	}
}
