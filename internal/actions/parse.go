package actions

import (
	"bytes"
	"encoding/json"
	"regexp"
	"strings"

	"github.com/tidwall/gjson"
)

// ParseMode records how a JSON object was located in provider text.
type ParseMode string

// Parse modes, in the order they are attempted.
const (
	ParseWhole    ParseMode = "whole"
	ParseFenced   ParseMode = "fenced"
	ParseEmbedded ParseMode = "embedded"
	ParseDegraded ParseMode = "degraded"
)

var fencePattern = regexp.MustCompile("(?s)```(?:json|JSON)?[ \t]*\\r?\\n?(.*?)```")

// ExtractJSON locates a single JSON object in text. It returns the object
// bytes and the mode that found it, or ParseDegraded with nil bytes.
func ExtractJSON(text string) ([]byte, ParseMode) {
	trimmed := strings.TrimSpace(text)
	if isObject(trimmed) {
		return []byte(trimmed), ParseWhole
	}
	for _, match := range fencePattern.FindAllStringSubmatch(text, -1) {
		if candidate := strings.TrimSpace(match[1]); isObject(candidate) {
			return []byte(candidate), ParseFenced
		}
	}
	for start := strings.IndexByte(text, '{'); start >= 0; {
		if end := balancedEnd(text, start); end >= 0 {
			if candidate := text[start : end+1]; isObject(candidate) {
				return []byte(candidate), ParseEmbedded
			}
		}
		next := strings.IndexByte(text[start+1:], '{')
		if next < 0 {
			break
		}
		start += next + 1
	}
	return nil, ParseDegraded
}

func isObject(s string) bool {
	return s != "" && gjson.Valid(s) && gjson.Parse(s).IsObject()
}

// balancedEnd returns the index of the brace closing the one at start,
// skipping braces inside string literals, or -1.
func balancedEnd(text string, start int) int {
	depth := 0
	inString, escaped := false, false
	for i := start; i < len(text); i++ {
		ch := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

// Result is the interpreted provider answer for one action.
type Result struct {
	Action   Name
	Payload  any
	Degraded bool
	Mode     ParseMode
}

// Interpret reads text as the typed result of req. It never fails; text that
// holds no usable object yields a degraded result carrying the raw text.
func Interpret(req Request, text string) Result {
	raw, mode := ExtractJSON(text)
	if mode != ParseDegraded {
		typed := req.newResult()
		if json.Unmarshal(raw, typed) == nil && typed.finish() {
			return Result{Action: req.Action(), Payload: typed, Mode: mode}
		}
	}
	return Result{Action: req.Action(), Payload: degraded(strings.TrimSpace(text)), Degraded: true, Mode: ParseDegraded}
}

// Fields returns the payload as a JSON object map so it can be merged with
// other response fields.
func (r Result) Fields() (map[string]any, error) {
	encoded, err := json.Marshal(r.Payload)
	if err != nil {
		return nil, err
	}
	fields := map[string]any{}
	dec := json.NewDecoder(bytes.NewReader(encoded))
	dec.UseNumber()
	if errDecode := dec.Decode(&fields); errDecode != nil {
		return nil, errDecode
	}
	return fields, nil
}
