// config.go - Umgebungsvariablen-Konfiguration
//
// Eine Funktion pro Einstellung, jede liest eine CT2_*-Variable und
// faellt bei fehlendem oder fehlerhaftem Wert mit einer Warnung auf den
// dokumentierten Default zurueck (Stil wie envconfig/config.go). Die
// Allocator-Konfiguration (CT2_CUDA_CACHING_ALLOCATOR_CONFIG) wird nicht
// hier, sondern im Paket tensor gelesen.
package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
)

// ComputeType reads CT2_COMPUTE_TYPE, defaulting to "default".
func ComputeType() string {
	if s := Var("CT2_COMPUTE_TYPE"); s != "" {
		return s
	}
	return "default"
}

// Device reads CT2_DEVICE ("cpu" or "cuda"), defaulting to "cpu".
func Device() string {
	s := strings.ToLower(Var("CT2_DEVICE"))
	if s == "" {
		return "cpu"
	}
	return s
}

// InterThreads reads CT2_INTER_THREADS, the number of parallel
// translations a CLI driver should run concurrently, defaulting to 1.
func InterThreads() int {
	s := Var("CT2_INTER_THREADS")
	if s == "" {
		return 1
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 1 {
		slog.Warn("invalid CT2_INTER_THREADS, using default", "value", s, "default", 1)
		return 1
	}
	return n
}

// LogLevel reads CT2_VERBOSE (0/false = INFO, 1/true = DEBUG).
func LogLevel() slog.Level {
	s := Var("CT2_VERBOSE")
	if s == "" {
		return slog.LevelInfo
	}
	if b, err := strconv.ParseBool(s); err == nil && b {
		return slog.LevelDebug
	}
	return slog.LevelInfo
}

// Var returns an environment variable with surrounding quotes and
// whitespace trimmed, for a permissive variable syntax.
func Var(key string) string {
	return strings.Trim(strings.TrimSpace(os.Getenv(key)), "\"'")
}
