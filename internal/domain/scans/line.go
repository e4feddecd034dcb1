package scans

import (
	"errors"
	"regexp"
	"strings"

	jsoniter "github.com/json-iterator/go"
)

var ansiPattern = regexp.MustCompile(`\x1b\[[0-9;]*m`)

// LineKind is the classification of one scanner output line.
type LineKind int

const (
	LineEmpty LineKind = iota
	LineText
	LineFinding
	LineStats
	LineProgress
	LineMalformed
)

func (k LineKind) String() string {
	switch k {
	case LineEmpty:
		return "empty"
	case LineText:
		return "text"
	case LineFinding:
		return "finding"
	case LineStats:
		return "stats"
	case LineProgress:
		return "progress"
	case LineMalformed:
		return "malformed"
	}
	return "unknown"
}

var errNotObject = errors.New("structured line is not a JSON object")

// Line is a classified output line. Payload holds the JSON bytes for the
// structured kinds; Err is set only for LineMalformed.
type Line struct {
	Number  int
	Text    string
	Kind    LineKind
	Payload []byte
	Percent string
	Err     error
}

// Sanitize strips terminal color sequences and surrounding whitespace.
func Sanitize(raw string) string {
	return strings.TrimSpace(ansiPattern.ReplaceAllString(raw, ""))
}

// Classify never fails: parse problems are reported as LineMalformed.
func Classify(number int, raw string) Line {
	text := Sanitize(raw)
	l := Line{Number: number, Text: text}

	switch {
	case text == "":
		l.Kind = LineEmpty
		return l
	case !strings.HasPrefix(text, "{"):
		l.Kind = LineText
		return l
	}

	data := []byte(text)
	if !jsoniter.Valid(data) {
		l.Kind = LineMalformed
		l.Err = parseError(data)
		return l
	}
	root := jsoniter.Get(data)
	if root.ValueType() != jsoniter.ObjectValue {
		l.Kind = LineMalformed
		l.Err = errNotObject
		return l
	}

	l.Payload = data
	switch {
	case has(root, "info"):
		l.Kind = LineFinding
	case has(root, "stats"):
		l.Kind = LineStats
		l.Percent = stringAt(root, "percent")
	default:
		l.Kind = LineProgress
		l.Percent = stringAt(root, "percent")
	}
	return l
}

func parseError(data []byte) error {
	var v any
	if err := jsoniter.ConfigCompatibleWithStandardLibrary.Unmarshal(data, &v); err != nil {
		return err
	}
	return errors.New("invalid JSON")
}

func has(a jsoniter.Any, key string) bool {
	return a.Get(key).ValueType() != jsoniter.InvalidValue
}

// stringAt reads a string or number field; anything else yields "".
func stringAt(a jsoniter.Any, keys ...any) string {
	v := a.Get(keys...)
	switch v.ValueType() {
	case jsoniter.StringValue, jsoniter.NumberValue, jsoniter.BoolValue:
		return strings.TrimSpace(v.ToString())
	}
	return ""
}

// stringsAt reads an array of scalars, or a comma separated string.
func stringsAt(a jsoniter.Any, keys ...any) []string {
	v := a.Get(keys...)
	var out []string
	switch v.ValueType() {
	case jsoniter.ArrayValue:
		for i := 0; i < v.Size(); i++ {
			el := v.Get(i)
			switch el.ValueType() {
			case jsoniter.StringValue, jsoniter.NumberValue, jsoniter.BoolValue:
				if s := strings.TrimSpace(el.ToString()); s != "" {
					out = append(out, s)
				}
			}
		}
	case jsoniter.StringValue:
		for _, s := range strings.Split(v.ToString(), ",") {
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, s)
			}
		}
	}
	return out
}
