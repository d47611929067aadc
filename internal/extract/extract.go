// Package extract recovers structured records from generator output that is
// nominally JSON but may be wrapped in prose or markdown code fences.
//
// Extraction never fails loudly: malformed input yields (nil, false).
package extract

import (
	"encoding/json"
	"regexp"
	"sort"
	"strings"

	"github.com/yejikwon7/multi-agent/internal/domain"
)

// fencePattern matches a ```json ... ``` block. The language tag is
// matched case-insensitively and the body may share a line with the fence.
var fencePattern = regexp.MustCompile("(?is)```json(.*?)```")

// attempt is one isolated extraction strategy.
type attempt func(text string) (domain.Record, bool)

var attempts = []attempt{
	fromFence,
	fromWhole,
	fromBalancedBraces,
}

// Record returns the structured record contained in input.
//
// Strategies, first success wins:
//  1. input is already a mapping
//  2. a fenced block tagged json
//  3. the whole trimmed text
//  4. the first '{' whose matching '}' encloses a valid object
//
// Only JSON objects count as records; arrays and scalars do not.
func Record(input any) (domain.Record, bool) {
	switch v := input.(type) {
	case nil:
		return nil, false
	case domain.Record:
		return v, v != nil
	case map[string]any:
		return domain.Record(v), v != nil
	case []byte:
		return Text(string(v))
	case string:
		return Text(v)
	case domain.RawStageOutput:
		return Text(v.Text)
	default:
		return nil, false
	}
}

// Text runs the text strategies against s.
func Text(s string) (domain.Record, bool) {
	if strings.TrimSpace(s) == "" {
		return nil, false
	}
	for _, try := range attempts {
		if rec, ok := try(s); ok {
			return rec, true
		}
	}
	return nil, false
}

func fromFence(text string) (domain.Record, bool) {
	m := fencePattern.FindStringSubmatch(text)
	if m == nil {
		return nil, false
	}
	return parseObject(strings.TrimSpace(m[1]))
}

func fromWhole(text string) (domain.Record, bool) {
	return parseObject(strings.TrimSpace(text))
}

// maxCandidates bounds how many brace spans are handed to the JSON decoder.
const maxCandidates = 64

// fromBalancedBraces tries brace-delimited spans in order of their opening
// brace, so stray braces in leading prose are skipped and an object nested
// inside a broken one can still be recovered.
func fromBalancedBraces(text string) (domain.Record, bool) {
	for _, sp := range braceSpans(text, maxCandidates) {
		if rec, ok := parseObject(text[sp.start:sp.end]); ok {
			return rec, true
		}
	}
	return nil, false
}

type span struct {
	start, end int
}

// braceSpans pairs every '{' with its closing '}' in one pass and returns at
// most max spans ordered by start. Quotes only count inside an open brace,
// so braces within JSON strings are ignored while quotes in prose are not
// mistaken for string delimiters. Unclosed braces yield no span.
func braceSpans(text string, max int) []span {
	var (
		open     []int
		spans    []span
		inString bool
		escaped  bool
	)

	for i := 0; i < len(text); i++ {
		c := text[i]

		if len(open) > 0 {
			if escaped {
				escaped = false
				continue
			}
			if c == '\\' && inString {
				escaped = true
				continue
			}
			if c == '"' {
				inString = !inString
				continue
			}
			if inString {
				continue
			}
		}

		switch c {
		case '{':
			open = append(open, i)
		case '}':
			if len(open) == 0 {
				continue
			}
			start := open[len(open)-1]
			open = open[:len(open)-1]
			spans = append(spans, span{start: start, end: i + 1})
		}
	}

	sort.Slice(spans, func(i, j int) bool { return spans[i].start < spans[j].start })
	if len(spans) > max {
		spans = spans[:max]
	}
	return spans
}

func parseObject(s string) (domain.Record, bool) {
	if s == "" || s[0] != '{' {
		return nil, false
	}
	var rec map[string]any
	if err := json.Unmarshal([]byte(s), &rec); err != nil {
		return nil, false
	}
	if rec == nil {
		return nil, false
	}
	return domain.Record(rec), true
}
