package scenario

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ruleFile is the on-disk shape of a scenario rule override table, keyed by
// scenario name as produced by Scenario.String.
type ruleFile struct {
	Scenarios map[string][]Rule `yaml:"scenarios"`
}

// LoadRules reads a YAML rule table. Unknown scenario names are an error so a
// typo does not silently fall back to the built-ins.
func LoadRules(path string) (map[Scenario][]Rule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario rules: %w", err)
	}

	var file ruleFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse scenario rules: %w", err)
	}

	byName := make(map[string]Scenario, len(scenarioNames))
	for s, name := range scenarioNames {
		byName[name] = s
	}

	out := make(map[Scenario][]Rule, len(file.Scenarios))
	for name, rules := range file.Scenarios {
		s, ok := byName[name]
		if !ok {
			return nil, fmt.Errorf("unknown scenario %q in %s", name, path)
		}
		for i, r := range rules {
			if r.Priority < 1 || r.Priority > 5 {
				return nil, fmt.Errorf("scenario %q rule %d: priority %d out of range [1,5]",
					name, i, r.Priority)
			}
		}
		out[s] = rules
	}
	return out, nil
}
