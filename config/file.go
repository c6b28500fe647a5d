// file.go - Optionale YAML-Konfigurationsdatei
//
// Ueberschreibt einzelne Einstellungen aus einer YAML-Datei; Umgebungs-
// variablen, die explizit gesetzt sind, haben weiterhin Vorrang (eine
// Datei liefert nur Defaults fuer nicht gesetzte Variablen).
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// FileOverrides is the subset of settings a YAML config file may supply.
type FileOverrides struct {
	ComputeType  string `yaml:"compute_type"`
	Device       string `yaml:"device"`
	InterThreads int    `yaml:"inter_threads"`
}

// LoadFile parses a YAML config file and applies its values as process
// environment defaults, skipping any variable already set to a non-empty
// value.
func LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: reading %s: %w", path, err)
	}

	var overrides FileOverrides
	if err := yaml.Unmarshal(data, &overrides); err != nil {
		return fmt.Errorf("config: parsing %s: %w", path, err)
	}

	setDefaultEnv("CT2_COMPUTE_TYPE", overrides.ComputeType)
	setDefaultEnv("CT2_DEVICE", overrides.Device)
	if overrides.InterThreads > 0 {
		setDefaultEnv("CT2_INTER_THREADS", fmt.Sprintf("%d", overrides.InterThreads))
	}
	return nil
}

func setDefaultEnv(key, value string) {
	if value == "" {
		return
	}
	if Var(key) != "" {
		return
	}
	os.Setenv(key, value)
}
