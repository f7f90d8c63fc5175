package domain

import "strings"

// Condition is a candidate diagnosis with its weighted symptom profile.
// Symptoms keep their authored order; explanations and the JSON form rely on it.
type Condition struct {
	Name     string          `json:"name"`
	Symptoms []SymptomWeight `json:"symptoms"`
}

// SymptomWeight binds a symptom key to its weight inside a condition.
type SymptomWeight struct {
	Symptom string  `json:"symptom"`
	Weight  float64 `json:"weight"`
}

// TotalWeight returns the sum of all symptom weights.
func (c Condition) TotalWeight() float64 {
	var total float64
	for _, s := range c.Symptoms {
		total += s.Weight
	}
	return total
}

// Keys returns the condition's symptom keys in authored order.
func (c Condition) Keys() []string {
	keys := make([]string, len(c.Symptoms))
	for i, s := range c.Symptoms {
		keys[i] = s.Symptom
	}
	return keys
}

// Clone returns a deep copy of the condition.
func (c Condition) Clone() Condition {
	symptoms := make([]SymptomWeight, len(c.Symptoms))
	copy(symptoms, c.Symptoms)
	return Condition{Name: c.Name, Symptoms: symptoms}
}

// NormalizeSymptom returns the canonical form of a symptom key.
// It is the only normalization used when building the symptom universe and
// when consuming observations.
func NormalizeSymptom(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// Observations maps normalized symptom keys to presence.
// Symptoms that are not listed are absent.
type Observations map[string]bool

// NewObservations normalizes the keys of raw. Keys that collapse onto the
// same normalized key are OR-ed.
func NewObservations(raw map[string]bool) Observations {
	obs := make(Observations, len(raw))
	for k, present := range raw {
		key := NormalizeSymptom(k)
		obs[key] = obs[key] || present
	}
	return obs
}

// Present reports whether symptom was observed as present.
func (o Observations) Present(symptom string) bool {
	return o[NormalizeSymptom(symptom)]
}

// PresentCount returns the number of symptoms observed as present.
func (o Observations) PresentCount() int {
	n := 0
	for _, present := range o {
		if present {
			n++
		}
	}
	return n
}
