package strategy

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type strategiesFile struct {
	Strategies []Strategy `yaml:"strategies"`
}

// LoadStrategies reads strategy definitions from a YAML file.
func LoadStrategies(path string) ([]Strategy, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read strategies file: %w", err)
	}

	var f strategiesFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse strategies file: %w", err)
	}

	seen := make(map[string]bool)
	for i, st := range f.Strategies {
		if st.ID == "" {
			return nil, fmt.Errorf("strategy %d: missing id", i)
		}
		if seen[st.ID] {
			return nil, fmt.Errorf("strategy %q: duplicate id", st.ID)
		}
		seen[st.ID] = true
		if st.Config.RiskTolerance < 0 || st.Config.RiskTolerance > 1 {
			return nil, fmt.Errorf("strategy %q: risk_tolerance must be in [0,1]", st.ID)
		}
	}
	return f.Strategies, nil
}
