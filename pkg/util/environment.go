package util

import (
	"os"
	"strconv"
	"strings"
	"time"
)

func GetEnvironmentVariables() map[string]string {
	environmentVariables := map[string]string{}

	for _, variable := range os.Environ() {
		pair := strings.SplitN(variable, "=", 2)

		environmentVariables[pair[0]] = pair[1]
	}

	return environmentVariables
}

// EnvironmentDuration parses a Go duration string such as "20s" from the environment map.
// ok is false when the variable is unset or unparseable.
func EnvironmentDuration(env map[string]string, key string) (value time.Duration, ok bool) {
	raw, exists := env[key]
	if !exists || raw == "" {
		return 0, false
	}

	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return 0, false
	}

	return parsed, true
}

func EnvironmentInt(env map[string]string, key string) (int, bool) {
	raw, exists := env[key]
	if !exists || raw == "" {
		return 0, false
	}

	parsed, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false
	}

	return parsed, true
}

// EnvironmentBool accepts the YES/NO convention used by the *_DEBUG variables as well as strconv booleans
func EnvironmentBool(env map[string]string, key string) (bool, bool) {
	raw, exists := env[key]
	if !exists || raw == "" {
		return false, false
	}

	switch strings.ToUpper(raw) {
	case "YES", "Y":
		return true, true
	case "NO", "N":
		return false, true
	}

	parsed, err := strconv.ParseBool(raw)
	if err != nil {
		return false, false
	}

	return parsed, true
}
