package intake

import (
	"fmt"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"

	"github.com/opensource-health/kestrel/internal/domain"
	"github.com/opensource-health/kestrel/internal/rulebase"
)

// Probe derives a symptom from measurements with a CEL boolean expression.
// Measurements are exposed as the map m, e.g. "m.temperature_c >= 38.0".
type Probe struct {
	Symptom    string `json:"symptom"`
	Expression string `json:"expression"`
}

type compiledProbe struct {
	symptom string
	program cel.Program
}

// Deriver evaluates compiled probes. It is safe for concurrent use.
type Deriver struct {
	probes []compiledProbe
}

// ProbesFromConfig converts configured probes.
func ProbesFromConfig(cfg []domain.ProbeConfig) []Probe {
	probes := make([]Probe, len(cfg))
	for i, c := range cfg {
		probes[i] = Probe{Symptom: c.Symptom, Expression: c.Expression}
	}
	return probes
}

// NewDeriver compiles probes. Every expression must yield a bool.
func NewDeriver(probes []Probe) (*Deriver, error) {
	env, err := cel.NewEnv(
		cel.Variable("m", cel.MapType(cel.StringType, cel.DoubleType)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	d := &Deriver{probes: make([]compiledProbe, 0, len(probes))}
	for _, p := range probes {
		symptom := domain.NormalizeSymptom(p.Symptom)
		if symptom == "" {
			return nil, fmt.Errorf("probe %q: symptom is blank", p.Expression)
		}

		ast, issues := env.Compile(p.Expression)
		if issues != nil && issues.Err() != nil {
			return nil, fmt.Errorf("failed to compile probe %s: %w", symptom, issues.Err())
		}
		if !ast.OutputType().IsExactType(cel.BoolType) {
			return nil, fmt.Errorf("probe %s: expression must return bool, got %s", symptom, ast.OutputType())
		}

		prg, err := env.Program(ast)
		if err != nil {
			return nil, fmt.Errorf("failed to create program for probe %s: %w", symptom, err)
		}
		d.probes = append(d.probes, compiledProbe{symptom: symptom, program: prg})
	}
	return d, nil
}

// Derive evaluates every probe against measurements. Probes that reference
// a missing measurement are skipped.
func (d *Deriver) Derive(measurements map[string]float64) map[string]bool {
	derived := make(map[string]bool)
	if len(measurements) == 0 {
		return derived
	}

	activation := map[string]any{"m": measurements}
	for _, p := range d.probes {
		out, _, err := p.program.Eval(activation)
		if err != nil {
			continue
		}
		if b, ok := out.(types.Bool); ok {
			derived[p.symptom] = derived[p.symptom] || bool(b)
		}
	}
	return derived
}

// Apply fills symptoms the caller did not answer from measurements. Derived
// symptoms unknown to rb are dropped; explicit answers always win.
func (d *Deriver) Apply(rb *rulebase.RuleBase, obs domain.Observations, answered map[string]bool, measurements map[string]float64) domain.Observations {
	out := make(domain.Observations, len(obs))
	for k, v := range obs {
		out[k] = v
	}
	for symptom, present := range d.Derive(measurements) {
		if answered[symptom] || !rb.Knows(symptom) {
			continue
		}
		out[symptom] = present
	}
	return out
}

// Len returns the number of compiled probes.
func (d *Deriver) Len() int {
	return len(d.probes)
}

// Answered returns the normalized keys of answers.
func Answered(answers map[string]any) map[string]bool {
	keys := make(map[string]bool, len(answers))
	for k := range answers {
		keys[domain.NormalizeSymptom(k)] = true
	}
	return keys
}
