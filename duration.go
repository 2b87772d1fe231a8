package relay

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration that decodes from either a number of seconds (fractions allowed)
// or a Go duration string such as "1.5s" in every supported config format.
type Duration time.Duration

// Seconds builds a Duration from a (possibly fractional) number of seconds.
func Seconds(s float64) Duration {
	return Duration(s * float64(time.Second))
}

func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

func (d Duration) String() string {
	return time.Duration(d).String()
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var raw any
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}

	parsed, err := parseDuration(raw)
	if err != nil {
		return err
	}

	*d = parsed

	return nil
}

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	parsed, err := parseDuration(node.Value)
	if err != nil {
		return err
	}

	*d = parsed

	return nil
}

// UnmarshalTOML implements toml.Unmarshaler.
func (d *Duration) UnmarshalTOML(v any) error {
	parsed, err := parseDuration(v)
	if err != nil {
		return err
	}

	*d = parsed

	return nil
}

func parseDuration(v any) (Duration, error) {
	switch val := v.(type) {
	case nil:
		return 0, nil
	case float64:
		return Seconds(val), nil
	case int64:
		return Seconds(float64(val)), nil
	case int:
		return Seconds(float64(val)), nil
	case string:
		s := strings.TrimSpace(val)
		if s == "" {
			return 0, nil
		}

		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return Seconds(f), nil
		}

		parsed, err := time.ParseDuration(s)
		if err != nil {
			return 0, fmt.Errorf("invalid duration %q: %w", s, err)
		}

		return Duration(parsed), nil
	default:
		return 0, fmt.Errorf("invalid duration type %T", v)
	}
}
