package usecase

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net"
	"net/url"
	"regexp"
	"strings"
	"unicode"

	"prediction-api/internal/domain"
)

// sourceURLPattern matches the first URL-shaped substring of a source string.
var sourceURLPattern = regexp.MustCompile(`https?://\S+`)

const asciiLetters = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ"

// parsePrediction turns the model's raw completion into a response.
// Text that is not JSON, id/answer/reasoning of the wrong type and malformed
// URLs are validation errors. Missing fields, a badly shaped sources list and
// sources without a URL are internal errors.
func parsePrediction(raw string) (domain.PredictionResponse, error) {
	payload := unwrapCompletion(raw)

	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(payload), &fields); err != nil {
		var syntaxErr *json.SyntaxError
		if errors.As(err, &syntaxErr) {
			return domain.PredictionResponse{}, newError(ErrorValidation, "completion_malformed_json", fmt.Errorf("completion is not valid JSON: %w", err))
		}
		return domain.PredictionResponse{}, newError(ErrorInternal, "completion_not_object", fmt.Errorf("usecase: decode completion: %w", err))
	}

	id, err := requiredField(fields, "id")
	if err != nil {
		return domain.PredictionResponse{}, err
	}
	answer, err := requiredField(fields, "answer")
	if err != nil {
		return domain.PredictionResponse{}, err
	}
	reasoning, err := requiredField(fields, "reasoning")
	if err != nil {
		return domain.PredictionResponse{}, err
	}
	sources, err := requiredField(fields, "sources")
	if err != nil {
		return domain.PredictionResponse{}, err
	}

	var out domain.PredictionResponse
	if out.ID, err = decodeInteger("id", id); err != nil {
		return domain.PredictionResponse{}, err
	}
	if !isNull(answer) {
		n, err := decodeInteger("answer", answer)
		if err != nil {
			return domain.PredictionResponse{}, err
		}
		out.Answer = &n
	}
	if out.Reasoning, err = decodeString("reasoning", reasoning); err != nil {
		return domain.PredictionResponse{}, err
	}
	if out.Sources, err = extractSources(sources); err != nil {
		return domain.PredictionResponse{}, err
	}
	return out, nil
}

// unwrapCompletion removes the code fence the model tends to put around its
// JSON. Text that already decodes as JSON is returned as is; otherwise the
// content between the first and last backtick runs is used, minus an
// optional language tag such as "json".
func unwrapCompletion(raw string) string {
	text := strings.TrimSpace(raw)
	if json.Valid([]byte(text)) {
		return text
	}
	start := strings.IndexByte(text, '`')
	if start < 0 {
		return text
	}
	inner := strings.TrimLeft(text[start:], "`")
	if end := strings.LastIndexByte(inner, '`'); end >= 0 {
		inner = strings.TrimRight(inner[:end+1], "`")
	}
	if rest := strings.TrimLeft(inner, asciiLetters); rest != inner {
		if trimmed := strings.TrimSpace(rest); strings.HasPrefix(trimmed, "{") {
			inner = trimmed
		}
	}
	return strings.TrimSpace(inner)
}

func requiredField(fields map[string]json.RawMessage, name string) (json.RawMessage, error) {
	v, ok := fields[name]
	if !ok {
		return nil, newError(ErrorInternal, "completion_missing_field", fmt.Errorf("usecase: completion has no %q field", name))
	}
	return v, nil
}

func isNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}

// decodeInteger accepts integral JSON numbers, including ones written with a
// zero fraction such as 3.0.
func decodeInteger(name string, raw json.RawMessage) (int64, error) {
	var num json.Number
	if isNull(raw) || json.Unmarshal(raw, &num) != nil {
		return 0, invalidField(name, "must be an integer", raw)
	}
	if n, err := num.Int64(); err == nil {
		return n, nil
	}
	f, err := num.Float64()
	if err != nil || f != math.Trunc(f) || f > math.MaxInt64 || f < math.MinInt64 {
		return 0, invalidField(name, "must be an integer", raw)
	}
	return int64(f), nil
}

func decodeString(name string, raw json.RawMessage) (string, error) {
	var s string
	if isNull(raw) || json.Unmarshal(raw, &s) != nil {
		return "", invalidField(name, "must be a string", raw)
	}
	return s, nil
}

// extractSources keeps the first URL of every source string, in order. A
// source with no URL fails the whole response rather than being dropped.
// Only a malformed URL is the model's fault to report; any other bad shape
// of the list is an internal error.
func extractSources(raw json.RawMessage) ([]string, error) {
	var items []json.RawMessage
	if isNull(raw) || json.Unmarshal(raw, &items) != nil {
		return nil, newError(ErrorInternal, "completion_malformed_sources", fmt.Errorf("usecase: sources is not a list: %s", truncate(string(raw), 64)))
	}

	out := make([]string, 0, len(items))
	for i, item := range items {
		name := fmt.Sprintf("sources[%d]", i)
		var source string
		if isNull(item) || json.Unmarshal(item, &source) != nil {
			return nil, newError(ErrorInternal, "completion_malformed_sources", fmt.Errorf("usecase: %s is not a string: %s", name, truncate(string(item), 64)))
		}
		link := sourceURLPattern.FindString(source)
		if link == "" {
			return nil, newError(ErrorInternal, "source_without_url", fmt.Errorf("usecase: %s has no URL: %q", name, source))
		}
		if err := validateURL(link); err != nil {
			return nil, newError(ErrorValidation, "invalid_source_url", fmt.Errorf("%s: %w", name, err))
		}
		out = append(out, link)
	}
	return out, nil
}

func validateURL(link string) error {
	u, err := url.Parse(link)
	if err != nil {
		return fmt.Errorf("invalid URL %q", link)
	}
	host := u.Hostname()
	if host == "" {
		return fmt.Errorf("URL host is empty: %q", link)
	}
	if !validHost(host) {
		return fmt.Errorf("URL host is invalid: %q", link)
	}
	return nil
}

// validHost accepts IP literals and dotted names whose labels hold only
// letters, digits and inner hyphens. A single trailing dot is allowed.
func validHost(host string) bool {
	if net.ParseIP(host) != nil {
		return true
	}
	for _, label := range strings.Split(strings.TrimSuffix(host, "."), ".") {
		if label == "" || strings.HasPrefix(label, "-") || strings.HasSuffix(label, "-") {
			return false
		}
		for _, r := range label {
			if r != '-' && !unicode.IsLetter(r) && !unicode.IsDigit(r) {
				return false
			}
		}
	}
	return true
}

func invalidField(name, problem string, raw json.RawMessage) error {
	field, _, _ := strings.Cut(name, "[")
	return newError(ErrorValidation, "invalid_"+field, fmt.Errorf("%s: %s, got %s", name, problem, truncate(string(raw), 64)))
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
