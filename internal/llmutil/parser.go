// internal/llmutil/parser.go
package llmutil

import (
	"fmt"
	"regexp"
	"strings"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

var (
	// Regex definitions use \x60 (hex representation) for backticks because Go raw strings cannot contain backticks.

	// jsonObjectRegex extracts a JSON object if the response is wrapped in markdown.
	jsonObjectRegex = regexp.MustCompile("(?s)\x60\x60\x60(?:json)?\\s*({.*})\\s*\x60\x60\x60")
	// jsonArrayRegex extracts a JSON array if the response is wrapped in markdown.
	jsonArrayRegex = regexp.MustCompile("(?s)\x60\x60\x60(?:json)?\\s*(\\[.*\\])\\s*\x60\x60\x60")
)

// ParseJSONResponse parses an LLM response string into a target Go type.
// Models routinely wrap their JSON in markdown fences or conversational
// text; both are tolerated. A response that still does not decode returns
// an error so callers can degrade instead of acting on garbage.
func ParseJSONResponse[T any](response string) (*T, error) {
	response = strings.TrimSpace(response)
	candidate := response

	isObject := strings.Contains(response, "{")
	isArray := strings.Contains(response, "[")

	switch {
	case strings.HasPrefix(response, "```"):
		// Markdown wrapping, the most common failure mode.
		var matches []string
		if isObject {
			matches = jsonObjectRegex.FindStringSubmatch(response)
		}
		if len(matches) <= 1 && isArray {
			matches = jsonArrayRegex.FindStringSubmatch(response)
		}
		if len(matches) > 1 {
			candidate = matches[1]
		}
	case (isObject || isArray) && !strings.HasPrefix(response, "{") && !strings.HasPrefix(response, "["):
		// JSON embedded in conversational text; take the widest bracket span.
		if span := bracketSpan(response, "{", "}"); span != "" {
			candidate = span
		} else if span := bracketSpan(response, "[", "]"); span != "" {
			candidate = span
		}
	}

	var result T
	if err := json.Unmarshal([]byte(candidate), &result); err != nil {
		return nil, fmt.Errorf("failed to parse LLM response as JSON: %w", err)
	}
	return &result, nil
}

// bracketSpan returns the substring from the first open bracket to the last
// close bracket, or "" when no well-ordered pair exists.
func bracketSpan(s, open, close string) string {
	first := strings.Index(s, open)
	last := strings.LastIndex(s, close)
	if first == -1 || last == -1 || last <= first {
		return ""
	}
	return s[first : last+1]
}
