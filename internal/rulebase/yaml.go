package rulebase

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/opensource-health/kestrel/internal/domain"
)

// ParseYAML decodes a catalogue authored as a mapping of condition names to
// symptom/weight mappings:
//
//	Flu:
//	  high fever: 3
//	  body ache: 2.5
//
// Mapping order is kept as the authoring order.
func ParseYAML(data []byte) ([]domain.Condition, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse catalogue: %w", err)
	}
	if len(doc.Content) == 0 {
		return nil, &domain.InvalidRuleError{Reason: "catalogue is empty"}
	}

	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("parse catalogue: line %d: expected a mapping of conditions", root.Line)
	}

	conditions := make([]domain.Condition, 0, len(root.Content)/2)
	for i := 0; i+1 < len(root.Content); i += 2 {
		nameNode, body := root.Content[i], root.Content[i+1]
		if body.Kind != yaml.MappingNode {
			return nil, fmt.Errorf("parse catalogue: line %d: condition %q must map symptoms to weights", body.Line, nameNode.Value)
		}

		c := domain.Condition{Name: nameNode.Value}
		for j := 0; j+1 < len(body.Content); j += 2 {
			key, val := body.Content[j], body.Content[j+1]
			w, err := strconv.ParseFloat(val.Value, 64)
			if err != nil || val.Kind != yaml.ScalarNode {
				return nil, fmt.Errorf("parse catalogue: line %d: weight of %q in %q is not a number", val.Line, key.Value, c.Name)
			}
			c.Symptoms = append(c.Symptoms, domain.SymptomWeight{Symptom: key.Value, Weight: w})
		}
		conditions = append(conditions, c)
	}
	return conditions, nil
}

// LoadFile reads and validates a YAML catalogue file.
func LoadFile(path string) (*RuleBase, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalogue: %w", err)
	}
	conditions, err := ParseYAML(data)
	if err != nil {
		return nil, err
	}
	return New(conditions)
}
