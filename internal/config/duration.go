package config

import (
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration that unmarshals from YAML either as a Go
// duration string ("30s", "10m") or as a bare number of seconds.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var secs float64
	if err := value.Decode(&secs); err == nil {
		if secs < 0 {
			return fmt.Errorf("duration must be >= 0, got %v", secs)
		}
		*d = Duration(time.Duration(secs * float64(time.Second)))
		return nil
	}

	var raw string
	if err := value.Decode(&raw); err != nil {
		return fmt.Errorf("invalid duration: %w", err)
	}
	s := strings.TrimSpace(raw)
	if s == "" {
		*d = 0
		return nil
	}

	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q", raw)
	}
	if parsed < 0 {
		return fmt.Errorf("duration must be >= 0, got %q", raw)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}
