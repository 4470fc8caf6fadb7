package ingress

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"unicode/utf8"
)

const (
	formatText       = "text"
	formatJSONObject = "json_object"
	formatJSONValue  = "json_value"
)

// Normalize renders a framed line for display. A JSON object becomes
// "JSON: k=v, k=v" in source key order, any other JSON value becomes
// "JSON: <value>", and anything that is not exactly one JSON value is
// returned unchanged.
func Normalize(line string) string {
	text, _ := normalize(line)
	return text
}

func normalize(line string) (string, string) {
	dec := json.NewDecoder(strings.NewReader(line))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return line, formatText
	}

	format := formatJSONValue
	var rendered string
	if tok == json.Delim('{') {
		format = formatJSONObject
		rendered, err = renderObject(dec)
	} else {
		rendered, err = renderToken(dec, tok)
	}
	if err != nil {
		return line, formatText
	}
	// Exactly one value per line; `{"a":1}{"b":2}` is text.
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return line, formatText
	}
	return "JSON: " + rendered, format
}

func renderValue(dec *json.Decoder) (string, error) {
	tok, err := dec.Token()
	if err != nil {
		return "", err
	}
	return renderToken(dec, tok)
}

func renderToken(dec *json.Decoder, tok json.Token) (string, error) {
	switch t := tok.(type) {
	case json.Delim:
		switch t {
		case '{':
			pairs, err := renderObject(dec)
			if err != nil {
				return "", err
			}
			return "{" + pairs + "}", nil
		case '[':
			return renderArray(dec)
		}
		return "", fmt.Errorf("unexpected delimiter %q", rune(t))
	case string:
		return t, nil
	case json.Number:
		return t.String(), nil
	case bool:
		return strconv.FormatBool(t), nil
	case nil:
		return "null", nil
	}
	return "", fmt.Errorf("unexpected token %T", tok)
}

// renderObject is called after the opening brace has been consumed.
func renderObject(dec *json.Decoder) (string, error) {
	var pairs []string
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return "", err
		}
		key, ok := tok.(string)
		if !ok {
			return "", fmt.Errorf("object key %v is not a string", tok)
		}
		val, err := renderValue(dec)
		if err != nil {
			return "", err
		}
		pairs = append(pairs, key+"="+val)
	}
	if _, err := dec.Token(); err != nil {
		return "", err
	}
	return strings.Join(pairs, ", "), nil
}

func renderArray(dec *json.Decoder) (string, error) {
	var items []string
	for dec.More() {
		val, err := renderValue(dec)
		if err != nil {
			return "", err
		}
		items = append(items, val)
	}
	if _, err := dec.Token(); err != nil {
		return "", err
	}
	return "[" + strings.Join(items, ", ") + "]", nil
}

// decodeUTF8 replaces every byte that is not part of a valid UTF-8 sequence
// with U+FFFD.
func decodeUTF8(b []byte) string {
	if utf8.Valid(b) {
		return string(b)
	}
	var sb strings.Builder
	sb.Grow(len(b) + 8)
	for len(b) > 0 {
		r, size := utf8.DecodeRune(b)
		sb.WriteRune(r)
		b = b[size:]
	}
	return sb.String()
}
