package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// The helpers below treat an unset or empty variable as absent and fall
// back to the default.  Unparseable values also fall back, except where
// Load checks them explicitly.

func envStr(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func envBool(key string, def bool) bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(key))) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	}
	return def
}

func envInt(key string, def int) int {
	if n, err := strconv.Atoi(envStr(key, "")); err == nil {
		return n
	}
	return def
}

func envDur(key string, def time.Duration) time.Duration {
	if d, err := time.ParseDuration(envStr(key, "")); err == nil {
		return d
	}
	return def
}
