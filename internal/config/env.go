// SPDX-License-Identifier: MIT

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/larderhq/larder/internal/log"
)

// lookup returns the raw value of key. Empty values count as unset so a
// stray `export LARDER_FOO=` in a unit file cannot blank out a default.
func lookup(key string) (string, bool) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

// sensitive reports whether a key's value must stay out of the logs.
func sensitive(key string) bool {
	k := strings.ToLower(key)
	return strings.Contains(k, "token") || strings.Contains(k, "secret") || strings.Contains(k, "password")
}

// envParse is the shared skeleton of the typed Parse helpers: keep the
// default when unset, parse when set, fall back loudly on garbage.
func envParse[T any](key string, def T, parse func(string) (T, error)) T {
	logger := log.WithComponent("config")
	raw, ok := lookup(key)
	if !ok {
		logger.Debug().Str("key", key).Interface("default", def).Msg("env unset, using default")
		return def
	}
	v, err := parse(raw)
	if err != nil {
		logger.Warn().Str("key", key).Str("value", raw).Interface("default", def).
			Msg("invalid env value, using default")
		return def
	}
	if sensitive(key) {
		logger.Debug().Str("key", key).Bool("sensitive", true).Msg("using environment value")
	} else {
		logger.Debug().Str("key", key).Interface("value", v).Msg("using environment value")
	}
	return v
}

// ParseString reads a string environment variable, logging whether the
// value came from the environment or the default.
func ParseString(key, defaultValue string) string {
	return envParse(key, defaultValue, func(s string) (string, error) { return s, nil })
}

// ParseInt reads an integer environment variable.
func ParseInt(key string, defaultValue int) int {
	return envParse(key, defaultValue, strconv.Atoi)
}

// ParseFloat reads a float64 environment variable.
func ParseFloat(key string, defaultValue float64) float64 {
	return envParse(key, defaultValue, func(s string) (float64, error) {
		return strconv.ParseFloat(s, 64)
	})
}

// ParseDuration reads a Go-syntax duration ("90s", "5m") environment variable.
func ParseDuration(key string, defaultValue time.Duration) time.Duration {
	return envParse(key, defaultValue, time.ParseDuration)
}

// ParseBool reads a boolean environment variable. It accepts the spellings
// operators actually type: true/false, 1/0, yes/no, any case.
func ParseBool(key string, defaultValue bool) bool {
	return envParse(key, defaultValue, parseBool)
}

func parseBool(s string) (bool, error) {
	switch strings.ToLower(s) {
	case "true", "1", "yes":
		return true, nil
	case "false", "0", "no":
		return false, nil
	}
	return false, fmt.Errorf("not a boolean: %q", s)
}

// ParseStringSlice reads a comma-separated list from an environment variable.
// Empty entries are dropped and surrounding whitespace is trimmed.
func ParseStringSlice(key string, defaultValue []string) []string {
	raw := ParseString(key, "")
	if raw == "" {
		return defaultValue
	}
	return splitCSV(raw)
}

func splitCSV(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// ParseStringMap reads a comma-separated list of key=value pairs from an
// environment variable, e.g. "house-1=https://cal.example/a,house-2=https://cal.example/b".
func ParseStringMap(key string, defaultValue map[string]string) map[string]string {
	raw := ParseString(key, "")
	if raw == "" {
		return defaultValue
	}
	out := make(map[string]string)
	for _, pair := range splitCSV(raw) {
		k, v, ok := strings.Cut(pair, "=")
		k = strings.TrimSpace(k)
		v = strings.TrimSpace(v)
		if !ok || k == "" || v == "" {
			log.WithComponent("config").Warn().
				Str("key", key).
				Str("pair", pair).
				Msg("skipping malformed key=value pair")
			continue
		}
		out[k] = v
	}
	return out
}
