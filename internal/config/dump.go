package config

import (
	"fmt"
	"io"

	"gopkg.in/yaml.v3"
)

// Dump writes the effective configuration as YAML. The database password is
// never written.
func Dump(w io.Writer, cfg *Config) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return enc.Close()
}
