package domain

import (
	"encoding/json"
	"time"
)

// ScoredCondition is the score of one condition for one evaluation.
type ScoredCondition struct {
	Name       string  `json:"name"`
	Rank       int     `json:"rank"`  // 1-based position after ranking
	Index      int     `json:"index"` // authoring position in the rule base
	Matched    float64 `json:"matchedWeight"`
	Total      float64 `json:"totalWeight"`
	Confidence float64 `json:"confidence"` // percentage, 0-100
}

// RankedResult is the confidence-ordered list of every condition for one
// evaluation. It cannot be modified once built.
type RankedResult struct {
	scored []ScoredCondition
}

// NewRankedResult wraps an already ordered list.
func NewRankedResult(scored []ScoredCondition) RankedResult {
	cp := make([]ScoredCondition, len(scored))
	copy(cp, scored)
	return RankedResult{scored: cp}
}

// Len returns the number of scored conditions.
func (r RankedResult) Len() int {
	return len(r.scored)
}

// At returns the scored condition at position i.
func (r RankedResult) At(i int) ScoredCondition {
	return r.scored[i]
}

// Top returns the highest ranked condition.
func (r RankedResult) Top() (ScoredCondition, bool) {
	if len(r.scored) == 0 {
		return ScoredCondition{}, false
	}
	return r.scored[0], true
}

// All returns a copy of the ordered list.
func (r RankedResult) All() []ScoredCondition {
	cp := make([]ScoredCondition, len(r.scored))
	copy(cp, r.scored)
	return cp
}

// Find returns the scored condition with the given name.
func (r RankedResult) Find(name string) (ScoredCondition, bool) {
	for _, s := range r.scored {
		if s.Name == name {
			return s, true
		}
	}
	return ScoredCondition{}, false
}

func (r RankedResult) MarshalJSON() ([]byte, error) {
	if r.scored == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(r.scored)
}

func (r *RankedResult) UnmarshalJSON(data []byte) error {
	var scored []ScoredCondition
	if err := json.Unmarshal(data, &scored); err != nil {
		return err
	}
	r.scored = scored
	return nil
}

// Classification is the confidence band of the top condition.
type Classification string

const (
	ClassificationHigh   Classification = "HIGH"
	ClassificationMedium Classification = "MEDIUM"
	ClassificationLow    Classification = "LOW"
)

// Explanation partitions a condition's symptoms by observed presence.
// Both lists keep the condition's authored order.
type Explanation struct {
	Condition string   `json:"condition"`
	Matched   []string `json:"matched"`
	Unmatched []string `json:"unmatched"`
}

// Diagnosis is the full outcome of one diagnose call. It is handed to the
// renderer or the caller and then discarded.
type Diagnosis struct {
	ID             string            `json:"id"`
	CatalogueID    string            `json:"catalogueId"`
	Ranked         RankedResult      `json:"ranked"`
	Top            ScoredCondition   `json:"top"`
	Classification Classification    `json:"classification"`
	Explanation    Explanation       `json:"explanation"`
	Metadata       DiagnosisMetadata `json:"metadata"`
	Timestamp      time.Time         `json:"timestamp"`
}

// DiagnosisMetadata contains processing information.
type DiagnosisMetadata struct {
	TraceID             string `json:"traceId"`
	RequestID           string `json:"requestId,omitempty"`
	EvaluateMs          int64  `json:"evaluateMs"`
	TotalMs             int64  `json:"totalMs"`
	ConditionsEvaluated int    `json:"conditionsEvaluated"`
	SymptomsPresent     int    `json:"symptomsPresent"`
	EngineVersion       string `json:"engineVersion"`
}

// DiagnoseRequest is the input of one diagnose call over HTTP or the bus.
type DiagnoseRequest struct {
	CatalogueID  string             `json:"catalogueId,omitempty"`
	Answers      map[string]any     `json:"answers"`
	Measurements map[string]float64 `json:"measurements,omitempty"`
	TraceID      string             `json:"traceId,omitempty"`

	// RequestID is assigned to asynchronous requests and echoed in the
	// diagnosis metadata.
	RequestID string `json:"requestId,omitempty"`
}

// ExplainRequest asks for the explanation of one named condition.
type ExplainRequest struct {
	DiagnoseRequest
	Condition string `json:"condition"`
}

// DiagnoseReply is the bus reply to a DiagnoseRequest.
type DiagnoseReply struct {
	Diagnosis *Diagnosis `json:"diagnosis,omitempty"`
	Error     string     `json:"error,omitempty"`
	Unknown   []string   `json:"unknownSymptoms,omitempty"`
}
