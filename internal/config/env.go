package config

import (
	"strconv"
	"strings"
	"time"
)

// Duration wraps time.Duration for clearer type usage in Config.
type Duration = time.Duration

// lookup resolves one setting by its variable name, returning "" when unset.
// Load uses os.Getenv; tests and cmd/server pass their own.
type lookup func(string) string

func (l lookup) get(key string) string {
	if l == nil {
		return ""
	}
	return strings.TrimSpace(l(key))
}

func (l lookup) str(key, defaultValue string) string {
	if val := l.get(key); val != "" {
		return val
	}
	return defaultValue
}

// duration accepts Go duration syntax; zero, negative and malformed values
// fall back to the default.
func (l lookup) duration(key string, defaultValue time.Duration) time.Duration {
	raw := l.get(key)
	if raw == "" {
		return defaultValue
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil || parsed <= 0 {
		return defaultValue
	}
	return parsed
}

func (l lookup) positiveInt(key string, defaultValue int) int {
	val, err := strconv.Atoi(l.get(key))
	if err != nil || val <= 0 {
		return defaultValue
	}
	return val
}

func (l lookup) flag(key string, defaultValue bool) bool {
	switch strings.ToLower(l.get(key)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return defaultValue
	}
}

// rate accepts zero, which disables rate limiting.
func (l lookup) rate(key string, defaultValue float64) float64 {
	raw := l.get(key)
	if raw == "" {
		return defaultValue
	}
	val, err := strconv.ParseFloat(raw, 64)
	if err != nil || val < 0 {
		return defaultValue
	}
	return val
}
