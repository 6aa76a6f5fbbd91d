// Package resolver extracts a canonical record identifier from arbitrary
// scanned or typed text. Matchers run in order and the first candidate that
// passes the canonical format check wins.
package resolver

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"verifyme/internal/sentinel"
	"verifyme/internal/student"
)

// Matcher proposes a candidate identifier from trimmed raw text. It returns
// false when its pattern does not apply.
type Matcher struct {
	Name  string
	Match func(text string) (string, bool)
}

var (
	idParam  = regexp.MustCompile(`id=([A-Za-z0-9]{20})`)
	embedded = regexp.MustCompile(`[A-Za-z0-9]{20}`)
)

// Matchers is the default resolution order.
var Matchers = []Matcher{
	{Name: "canonical", Match: matchCanonical},
	{Name: "json", Match: matchJSON},
	{Name: "id-param", Match: matchIDParam},
	{Name: "embedded", Match: matchEmbedded},
}

// Resolve runs the default matchers.
func Resolve(raw string) (string, error) {
	id, _, err := ResolveWith(Matchers, raw)
	return id, err
}

// ResolveWith runs matchers in order and reports which one produced the id.
func ResolveWith(matchers []Matcher, raw string) (id string, matcher string, err error) {
	text := strings.TrimSpace(raw)
	if text == "" {
		return "", "", sentinel.ErrEmptyInput
	}
	for _, m := range matchers {
		candidate, ok := m.Match(text)
		if !ok {
			continue
		}
		if student.ValidID(candidate) {
			return candidate, m.Name, nil
		}
	}
	return "", "", fmt.Errorf("%w: no %d-character identifier in scanned text", sentinel.ErrInvalidFormat, student.IDLength)
}

func matchCanonical(text string) (string, bool) {
	return text, student.ValidID(text)
}

// matchJSON reads "id", then "studentId", from an object, or from the first
// object in an array that carries either field.
func matchJSON(text string) (string, bool) {
	if !strings.HasPrefix(text, "{") && !strings.HasPrefix(text, "[") {
		return "", false
	}
	var payload any
	if err := json.Unmarshal([]byte(text), &payload); err != nil {
		return "", false
	}
	switch v := payload.(type) {
	case map[string]any:
		return idField(v)
	case []any:
		for _, item := range v {
			if obj, ok := item.(map[string]any); ok {
				if id, ok := idField(obj); ok {
					return id, true
				}
			}
		}
	}
	return "", false
}

func idField(obj map[string]any) (string, bool) {
	for _, key := range []string{"id", "studentId"} {
		if s, ok := obj[key].(string); ok && s != "" {
			return strings.TrimSpace(s), true
		}
	}
	return "", false
}

func matchIDParam(text string) (string, bool) {
	if !strings.Contains(text, "student") && !strings.Contains(text, "id=") {
		return "", false
	}
	m := idParam.FindStringSubmatch(text)
	if m == nil {
		return "", false
	}
	return m[1], true
}

// matchEmbedded takes the first 20 consecutive alphanumerics anywhere in the
// text, cutting longer runs at 20.
func matchEmbedded(text string) (string, bool) {
	m := embedded.FindString(text)
	return m, m != ""
}
