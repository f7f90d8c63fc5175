// Package rulebase holds validated, immutable catalogues of weighted conditions.
package rulebase

import (
	"math"
	"sort"
	"strings"

	"github.com/opensource-health/kestrel/internal/domain"
)

// RuleBase is a validated catalogue of conditions. It is never mutated after
// New returns and may be shared across goroutines.
type RuleBase struct {
	conditions []domain.Condition
	byName     map[string]int
	symptoms   []string
	known      map[string]struct{}
}

// New validates conditions and builds a RuleBase from a copy of them.
// Symptom keys are normalized; condition names are kept as authored.
func New(conditions []domain.Condition) (*RuleBase, error) {
	if len(conditions) == 0 {
		return nil, &domain.InvalidRuleError{Reason: "catalogue is empty"}
	}

	rb := &RuleBase{
		conditions: make([]domain.Condition, 0, len(conditions)),
		byName:     make(map[string]int, len(conditions)),
		known:      make(map[string]struct{}),
	}

	for _, c := range conditions {
		if strings.TrimSpace(c.Name) == "" {
			return nil, &domain.InvalidRuleError{Reason: "condition name is blank"}
		}
		if _, dup := rb.byName[c.Name]; dup {
			return nil, &domain.InvalidRuleError{Condition: c.Name, Reason: "duplicate condition name"}
		}
		if len(c.Symptoms) == 0 {
			return nil, &domain.InvalidRuleError{Condition: c.Name, Reason: "condition has no symptoms"}
		}

		seen := make(map[string]struct{}, len(c.Symptoms))
		symptoms := make([]domain.SymptomWeight, 0, len(c.Symptoms))
		for _, s := range c.Symptoms {
			key := domain.NormalizeSymptom(s.Symptom)
			if key == "" {
				return nil, &domain.InvalidRuleError{Condition: c.Name, Reason: "symptom key is blank"}
			}
			if _, dup := seen[key]; dup {
				return nil, &domain.InvalidRuleError{Condition: c.Name, Symptom: key, Reason: "symptom listed more than once"}
			}
			if s.Weight <= 0 || math.IsNaN(s.Weight) || math.IsInf(s.Weight, 0) {
				return nil, &domain.InvalidRuleError{Condition: c.Name, Symptom: key, Reason: "weight must be a positive finite number"}
			}
			seen[key] = struct{}{}
			symptoms = append(symptoms, domain.SymptomWeight{Symptom: key, Weight: s.Weight})

			if _, ok := rb.known[key]; !ok {
				rb.known[key] = struct{}{}
				rb.symptoms = append(rb.symptoms, key)
			}
		}

		rb.byName[c.Name] = len(rb.conditions)
		rb.conditions = append(rb.conditions, domain.Condition{Name: c.Name, Symptoms: symptoms})
	}

	sort.Strings(rb.symptoms)
	return rb, nil
}

// MustNew is like New but panics on an invalid catalogue.
func MustNew(conditions []domain.Condition) *RuleBase {
	rb, err := New(conditions)
	if err != nil {
		panic(err)
	}
	return rb
}

// Symptoms returns the sorted union of all symptom keys.
func (rb *RuleBase) Symptoms() []string {
	out := make([]string, len(rb.symptoms))
	copy(out, rb.symptoms)
	return out
}

// Conditions returns every condition in authoring order.
func (rb *RuleBase) Conditions() []domain.Condition {
	out := make([]domain.Condition, len(rb.conditions))
	for i, c := range rb.conditions {
		out[i] = c.Clone()
	}
	return out
}

// Condition returns the condition with the given name.
func (rb *RuleBase) Condition(name string) (domain.Condition, bool) {
	i, ok := rb.byName[name]
	if !ok {
		return domain.Condition{}, false
	}
	return rb.conditions[i].Clone(), true
}

// Knows reports whether any condition lists symptom.
func (rb *RuleBase) Knows(symptom string) bool {
	_, ok := rb.known[domain.NormalizeSymptom(symptom)]
	return ok
}

// Len returns the number of conditions.
func (rb *RuleBase) Len() int {
	return len(rb.conditions)
}

// Each calls fn for every condition in authoring order without copying.
// fn must not retain or modify the condition.
func (rb *RuleBase) Each(fn func(index int, c domain.Condition)) {
	for i, c := range rb.conditions {
		fn(i, c)
	}
}
