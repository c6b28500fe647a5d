// env.go - Umgebungsvariablen fuer den Tensor-Laufzeitkern
//
// CT2_CUDA_CACHING_ALLOCATOR_CONFIG = "bin_growth,min_bin,max_bin,max_cached_bytes"
package tensor

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

const allocatorConfigEnvVar = "CT2_CUDA_CACHING_ALLOCATOR_CONFIG"

// allocatorConfigFromEnv parses CT2_CUDA_CACHING_ALLOCATOR_CONFIG. An
// unset variable is not an error: it returns the defaults. A set but
// malformed value is a configuration error.
func allocatorConfigFromEnv() (AllocatorConfig, error) {
	s := strings.TrimSpace(os.Getenv(allocatorConfigEnvVar))
	if s == "" {
		return DefaultAllocatorConfig(), nil
	}

	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return AllocatorConfig{}, fmt.Errorf("%s: expected 4 comma-separated fields, got %q", allocatorConfigEnvVar, s)
	}

	fields := make([]int64, 4)
	for i, p := range parts {
		n, err := strconv.ParseInt(strings.TrimSpace(p), 10, 64)
		if err != nil {
			return AllocatorConfig{}, fmt.Errorf("%s: invalid field %q: %w", allocatorConfigEnvVar, p, err)
		}
		fields[i] = n
	}

	cfg := AllocatorConfig{
		BinGrowth:      int(fields[0]),
		MinBin:         int(fields[1]),
		MaxBin:         int(fields[2]),
		MaxCachedBytes: fields[3],
	}
	if err := validateAllocatorConfig(cfg); err != nil {
		return AllocatorConfig{}, err
	}

	return cfg, nil
}
