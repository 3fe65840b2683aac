// Package extract recovers a JSON object from free-form provider replies.
package extract

import (
	"encoding/json"
	"errors"
	"regexp"
	"strings"

	"casefile/internal/faults"
)

// Strategy names the way a payload was located.
type Strategy string

const (
	StrategyWhole  Strategy = "whole"
	StrategyFenced Strategy = "fenced"
	StrategyBraces Strategy = "braces"
)

// Payload is the result of one extraction.
type Payload struct {
	Raw      string
	JSON     string
	Object   map[string]any
	Strategy Strategy
}

// Extractor locates a JSON object in reply text.
type Extractor interface {
	Extract(text string) (Payload, error)
}

var (
	errNotObject   = errors.New("value is not a JSON object")
	errNoCandidate = errors.New("no candidate JSON region")

	fencedBlock = regexp.MustCompile("(?s)```[A-Za-z0-9_+-]*[ \t]*\r?\n?(.*?)```")
)

// Lenient tries the whole text, then every fenced code block, then the span
// from the first '{' to the last '}'.
type Lenient struct{}

// Extract implements Extractor.
func (Lenient) Extract(text string) (Payload, error) {
	trimmed := strings.TrimSpace(text)

	obj, firstErr := decodeObject(trimmed)
	if firstErr == nil {
		return Payload{Raw: text, JSON: trimmed, Object: obj, Strategy: StrategyWhole}, nil
	}

	for _, m := range fencedBlock.FindAllStringSubmatch(text, -1) {
		inner := strings.TrimSpace(m[1])
		if obj, err := decodeObject(inner); err == nil {
			return Payload{Raw: text, JSON: inner, Object: obj, Strategy: StrategyFenced}, nil
		}
	}

	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return Payload{Raw: text}, &faults.ParseError{Raw: text, Err: errNoCandidate}
	}
	span := text[start : end+1]
	obj, err := decodeObject(span)
	if err != nil {
		return Payload{Raw: text}, &faults.ParseError{Raw: text, Err: err}
	}
	return Payload{Raw: text, JSON: span, Object: obj, Strategy: StrategyBraces}, nil
}

// Strict accepts only a reply that is a JSON object in its entirety, as
// produced by a provider's structured output mode.
type Strict struct{}

// Extract implements Extractor.
func (Strict) Extract(text string) (Payload, error) {
	trimmed := strings.TrimSpace(text)
	obj, err := decodeObject(trimmed)
	if err != nil {
		return Payload{Raw: text}, &faults.ParseError{Raw: text, Err: err}
	}
	return Payload{Raw: text, JSON: trimmed, Object: obj, Strategy: StrategyWhole}, nil
}

// For returns the extractor matching a response format.
func For(responseFormat string) Extractor {
	if responseFormat == "json_object" {
		return Strict{}
	}
	return Lenient{}
}

func decodeObject(s string) (map[string]any, error) {
	if s == "" || s[0] != '{' {
		return nil, errNotObject
	}
	var obj map[string]any
	if err := json.Unmarshal([]byte(s), &obj); err != nil {
		return nil, err
	}
	return obj, nil
}
