// Package canonjson encodes values as canonical JSON: object keys sorted,
// no insignificant whitespace, UTF-8 with non-ASCII left unescaped.
// Two structurally equal payloads always produce byte-identical output,
// which makes the encoding suitable as a hashing substrate.
package canonjson

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

// Marshal encodes v as canonical JSON.
func Marshal(v any) ([]byte, error) {
	// Round-trip through encoding/json first so struct tags, omitempty and
	// custom marshalers all apply before canonicalization.
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal: %w", err)
	}

	var decoded any

	decoder := json.NewDecoder(bytes.NewReader(raw))
	decoder.UseNumber()

	decodeErr := decoder.Decode(&decoded)
	if decodeErr != nil {
		return nil, fmt.Errorf("decode intermediate: %w", decodeErr)
	}

	var buf bytes.Buffer

	writeErr := writeValue(&buf, decoded)
	if writeErr != nil {
		return nil, writeErr
	}

	return buf.Bytes(), nil
}

// writeValue appends the canonical encoding of v to buf.
func writeValue(buf *bytes.Buffer, v any) error {
	switch val := v.(type) {
	case nil:
		buf.WriteString("null")
	case bool:
		buf.WriteString(strconv.FormatBool(val))
	case json.Number:
		return writeNumber(buf, val)
	case string:
		return writeString(buf, val)
	case []any:
		return writeArray(buf, val)
	case map[string]any:
		return writeObject(buf, val)
	default:
		return fmt.Errorf("canonjson: unsupported type %T", v)
	}

	return nil
}

func writeNumber(buf *bytes.Buffer, n json.Number) error {
	// Integers keep their literal form. Floats are normalized through
	// strconv to collapse representations like 1.50 and 1.5e0.
	if !strings.ContainsAny(n.String(), ".eE") {
		buf.WriteString(n.String())

		return nil
	}

	f, err := n.Float64()
	if err != nil {
		return fmt.Errorf("canonjson: parse number %q: %w", n.String(), err)
	}

	if math.IsInf(f, 0) || math.IsNaN(f) {
		return fmt.Errorf("canonjson: non-finite number %q", n.String())
	}

	buf.WriteString(strconv.FormatFloat(f, 'g', -1, 64))

	return nil
}

func writeString(buf *bytes.Buffer, s string) error {
	// encoding/json escapes HTML characters by default; an encoder with
	// SetEscapeHTML(false) keeps non-ASCII and <>& literal.
	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)

	err := enc.Encode(s)
	if err != nil {
		return fmt.Errorf("canonjson: encode string: %w", err)
	}

	// Encode appends a newline; strip it.
	buf.Truncate(buf.Len() - 1)

	return nil
}

func writeArray(buf *bytes.Buffer, arr []any) error {
	buf.WriteByte('[')

	for i, elem := range arr {
		if i > 0 {
			buf.WriteByte(',')
		}

		err := writeValue(buf, elem)
		if err != nil {
			return err
		}
	}

	buf.WriteByte(']')

	return nil
}

func writeObject(buf *bytes.Buffer, obj map[string]any) error {
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	buf.WriteByte('{')

	for i, k := range keys {
		if i > 0 {
			buf.WriteByte(',')
		}

		keyErr := writeString(buf, k)
		if keyErr != nil {
			return keyErr
		}

		buf.WriteByte(':')

		valErr := writeValue(buf, obj[k])
		if valErr != nil {
			return valErr
		}
	}

	buf.WriteByte('}')

	return nil
}
