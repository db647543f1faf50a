package pipeline

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"signal-core/internal/breaker"
	"signal-core/internal/execution"
	"signal-core/internal/safety"
	"signal-core/internal/signal"
	"signal-core/internal/sizing"
	"signal-core/internal/strategy"
)

// Settings aggregates every component's tunables into one YAML document.
// Missing sections keep their defaults.
type Settings struct {
	Generator signal.Config         `yaml:"generator"`
	Router    strategy.RouterConfig `yaml:"router"`
	Sizing    sizing.Config         `yaml:"sizing"`
	Execution execution.Config      `yaml:"execution"`
	Breaker   breaker.Config        `yaml:"breaker"`
	Safety    safety.Limits         `yaml:"safety"`
	Pipeline  Config                `yaml:"pipeline"`
}

// DefaultSettings returns every component's production defaults.
func DefaultSettings() Settings {
	return Settings{
		Generator: signal.DefaultConfig(),
		Router:    strategy.DefaultRouterConfig(),
		Sizing:    sizing.DefaultConfig(),
		Execution: execution.DefaultConfig(),
		Breaker:   breaker.DefaultConfig(),
		Safety:    safety.DefaultLimits(),
		Pipeline:  DefaultConfig(),
	}
}

// LoadSettings reads a settings file over the defaults. A missing file is
// not an error; the defaults apply unchanged.
func LoadSettings(path string) (Settings, error) {
	s := DefaultSettings()
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return s, fmt.Errorf("read settings file: %w", err)
	}
	if err := yaml.Unmarshal(raw, &s); err != nil {
		return s, fmt.Errorf("parse settings file: %w", err)
	}
	return s, nil
}
