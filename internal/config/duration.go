package config

import (
	"fmt"
	"strings"
	"time"
)

// Tunables like dispatch.inter_item_delay and provisioning.timeout are Go
// duration strings in the file ("2s", "40s"). The helpers below turn them
// into time.Duration with the config key in the error, so a rejected reload
// names the offending field.

// ParseDurationField parses one duration-string field. Empty means unset and
// parses to zero; negative values are rejected.
func ParseDurationField(key, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", key, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: duration must be >= 0", key)
	}
	return d, nil
}

// ParseDurationOrDefault substitutes def when the field is unset or zero.
func ParseDurationOrDefault(key, raw string, def time.Duration) (time.Duration, error) {
	d, err := ParseDurationField(key, raw)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return def, nil
	}
	return d, nil
}
