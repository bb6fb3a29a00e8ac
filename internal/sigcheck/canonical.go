package sigcheck

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"sort"
)

// CanonicalizeBody re-encodes a JSON body into its canonical form: object
// keys sorted recursively (bytewise, which for UTF-8 is code-point order),
// minimal whitespace, array order preserved. Duplicate keys within an
// object are rejected — the stdlib decoder would silently keep the last
// value, letting two semantically different bodies hash identically.
//
// An empty body canonicalizes to the empty byte string.
func CanonicalizeBody(body []byte) ([]byte, error) {
	if len(body) == 0 {
		return nil, nil
	}

	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()

	v, err := parseValue(dec)
	if err != nil {
		return nil, err
	}
	// Anything after the first value makes the body ambiguous.
	if _, err := dec.Token(); err != io.EOF {
		return nil, fmt.Errorf("sigcheck: trailing data after JSON value")
	}

	var buf bytes.Buffer
	if err := writeCanonical(&buf, v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// parseValue consumes one JSON value from the token stream.
func parseValue(dec *json.Decoder) (any, error) {
	tok, err := dec.Token()
	if err != nil {
		return nil, fmt.Errorf("sigcheck: parse body: %w", err)
	}
	return parseFromToken(dec, tok)
}

func parseFromToken(dec *json.Decoder, tok json.Token) (any, error) {
	switch t := tok.(type) {
	case json.Delim:
		switch t {
		case '{':
			obj := make(map[string]any)
			for dec.More() {
				keyTok, err := dec.Token()
				if err != nil {
					return nil, fmt.Errorf("sigcheck: parse object key: %w", err)
				}
				key, ok := keyTok.(string)
				if !ok {
					return nil, fmt.Errorf("sigcheck: object key is not a string")
				}
				if _, dup := obj[key]; dup {
					return nil, fmt.Errorf("sigcheck: duplicate object key %q", key)
				}
				val, err := parseValue(dec)
				if err != nil {
					return nil, err
				}
				obj[key] = val
			}
			if _, err := dec.Token(); err != nil { // closing '}'
				return nil, fmt.Errorf("sigcheck: parse object end: %w", err)
			}
			return obj, nil
		case '[':
			var arr []any
			for dec.More() {
				val, err := parseValue(dec)
				if err != nil {
					return nil, err
				}
				arr = append(arr, val)
			}
			if _, err := dec.Token(); err != nil { // closing ']'
				return nil, fmt.Errorf("sigcheck: parse array end: %w", err)
			}
			return arr, nil
		default:
			return nil, fmt.Errorf("sigcheck: unexpected delimiter %v", t)
		}
	default:
		// string, json.Number, bool, or nil.
		return tok, nil
	}
}

// writeCanonical emits a parsed value with sorted keys and no whitespace.
func writeCanonical(buf *bytes.Buffer, v any) error {
	switch t := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeString(buf, k); err != nil {
				return err
			}
			buf.WriteByte(':')
			if err := writeCanonical(buf, t[k]); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
	case []any:
		buf.WriteByte('[')
		for i, el := range t {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeCanonical(buf, el); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	case string:
		return writeString(buf, t)
	case json.Number:
		buf.WriteString(t.String())
	case bool:
		if t {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
	case nil:
		buf.WriteString("null")
	default:
		return fmt.Errorf("sigcheck: unsupported value type %T", v)
	}
	return nil
}

// writeString emits a JSON string without HTML escaping, so the canonical
// bytes match what ordinary JSON producers sign.
func writeString(buf *bytes.Buffer, s string) error {
	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(s); err != nil {
		return fmt.Errorf("sigcheck: encode string: %w", err)
	}
	// Encode appends a newline; canonical form has none.
	buf.Truncate(buf.Len() - 1)
	return nil
}
