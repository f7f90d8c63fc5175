// Package intake collects symptom answers and turns them into observations.
package intake

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/opensource-health/kestrel/internal/domain"
	"github.com/opensource-health/kestrel/internal/rulebase"
)

// ParseReply parses an interactive reply. Only y, yes, n and no are
// accepted, in any case.
func ParseReply(s string) (present bool, ok bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "y", "yes":
		return true, true
	case "n", "no":
		return false, true
	}
	return false, false
}

// ParseAnswer converts a predefined answer to presence.
// Strings starting with "y" are yes and every other string is no. Numbers
// are yes when non-zero and nil is no.
func ParseAnswer(v any) (bool, error) {
	switch a := v.(type) {
	case nil:
		return false, nil
	case bool:
		return a, nil
	case string:
		return strings.HasPrefix(strings.ToLower(strings.TrimSpace(a)), "y"), nil
	case float64:
		return a != 0, nil
	case float32:
		return a != 0, nil
	case int:
		return a != 0, nil
	case int64:
		return a != 0, nil
	case int32:
		return a != 0, nil
	case json.Number:
		f, err := a.Float64()
		if err != nil {
			return false, fmt.Errorf("invalid answer %q: %w", a, err)
		}
		return f != 0, nil
	default:
		return false, fmt.Errorf("invalid answer of type %T", v)
	}
}

// ParseAnswerList parses "high fever=y, body ache=yes" into raw answers.
// A bare symptom means yes.
func ParseAnswerList(s string) (map[string]any, error) {
	answers := make(map[string]any)
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		key, val, found := strings.Cut(part, "=")
		key = strings.TrimSpace(key)
		if key == "" {
			return nil, fmt.Errorf("invalid answer %q: missing symptom", part)
		}
		if !found {
			answers[key] = true
			continue
		}
		answers[key] = strings.TrimSpace(val)
	}
	return answers, nil
}

// BuildObservations normalizes answers into observations covering every
// symptom of rb. Missing answers are absent. Keys rb does not know are kept
// so evaluation can reject the present ones.
func BuildObservations(rb *rulebase.RuleBase, answers map[string]any) (domain.Observations, error) {
	symptoms := rb.Symptoms()
	obs := make(domain.Observations, len(symptoms)+len(answers))
	for _, s := range symptoms {
		obs[s] = false
	}

	for key, v := range answers {
		present, err := ParseAnswer(v)
		if err != nil {
			return nil, fmt.Errorf("%w: symptom %q: %v", domain.ErrInvalidObservation, key, err)
		}
		k := domain.NormalizeSymptom(key)
		if k == "" {
			continue
		}
		obs[k] = obs[k] || present
	}
	return obs, nil
}
