// Package engine scores observations against a rule base.
// Every function is pure and safe for concurrent use.
package engine

import (
	"sort"

	"github.com/opensource-health/kestrel/internal/domain"
	"github.com/opensource-health/kestrel/internal/rulebase"
)

// Version identifies the scoring algorithm in diagnosis metadata.
const Version = "1.0.0"

// Evaluate scores every condition of rb against obs.
//
// Algorithm:
//  1. Reject present symptoms the rule base does not know
//  2. For each condition, sum the weights of its present symptoms
//  3. Confidence = matched / total * 100 (0 when total is 0)
//  4. Stable sort by confidence descending; ties keep authoring order
//  5. Assign 1-based ranks
//
// Observation keys are normalized before matching. Unknown keys observed as
// absent are ignored.
func Evaluate(rb *rulebase.RuleBase, obs domain.Observations) (domain.RankedResult, error) {
	norm, err := normalize(rb, obs)
	if err != nil {
		return domain.RankedResult{}, err
	}

	scored := make([]domain.ScoredCondition, 0, rb.Len())
	rb.Each(func(index int, c domain.Condition) {
		var total, matched float64
		for _, s := range c.Symptoms {
			total += s.Weight
			if norm[s.Symptom] {
				matched += s.Weight
			}
		}

		var confidence float64
		if total > 0 {
			confidence = matched / total * 100
		}

		scored = append(scored, domain.ScoredCondition{
			Name:       c.Name,
			Index:      index,
			Matched:    matched,
			Total:      total,
			Confidence: confidence,
		})
	})

	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Confidence > scored[j].Confidence
	})
	for i := range scored {
		scored[i].Rank = i + 1
	}

	return domain.NewRankedResult(scored), nil
}

// Explain partitions the symptoms of the named condition into those observed
// present and those not. Both lists keep the condition's authored order.
func Explain(rb *rulebase.RuleBase, obs domain.Observations, name string) (domain.Explanation, error) {
	c, ok := rb.Condition(name)
	if !ok {
		return domain.Explanation{}, domain.ErrUnknownCondition
	}

	norm, err := normalize(rb, obs)
	if err != nil {
		return domain.Explanation{}, err
	}

	expl := domain.Explanation{
		Condition: c.Name,
		Matched:   make([]string, 0, len(c.Symptoms)),
		Unmatched: make([]string, 0, len(c.Symptoms)),
	}
	for _, s := range c.Symptoms {
		if norm[s.Symptom] {
			expl.Matched = append(expl.Matched, s.Symptom)
		} else {
			expl.Unmatched = append(expl.Unmatched, s.Symptom)
		}
	}
	return expl, nil
}

// normalize re-keys obs and collects every present symptom unknown to rb.
func normalize(rb *rulebase.RuleBase, obs domain.Observations) (domain.Observations, error) {
	norm := domain.NewObservations(obs)

	var unknown []string
	for key, present := range norm {
		if present && !rb.Knows(key) {
			unknown = append(unknown, key)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return nil, &domain.InvalidObservationError{Symptoms: unknown}
	}
	return norm, nil
}
