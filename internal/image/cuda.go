package image

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"slices"
	"strconv"
	"strings"
	"sync"
)

// ParseArchs parses a comma-separated list of numeric CUDA architectures
// such as "89,120".
func ParseArchs(s string) ([]int, error) {
	var archs []int
	for _, part := range strings.Split(s, ",") {
		n, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("invalid CUDA architecture %q in %q", part, s)
		}
		archs = append(archs, n)
	}
	return archs, nil
}

// DetectComputeCaps queries nvidia-smi for the compute capabilities of all
// visible GPUs. It returns nil when nvidia-smi is unavailable or fails.
func DetectComputeCaps(ctx context.Context) []int {
	out, err := exec.CommandContext(ctx, "nvidia-smi", "--query-gpu=compute_cap", "--format=csv,noheader").Output()
	if err != nil {
		return nil
	}
	return parseComputeCaps(string(out))
}

// parseComputeCaps turns "8.9\n12.0\n" into [89 120], sorted and deduplicated.
func parseComputeCaps(out string) []int {
	var caps []int
	for _, line := range strings.Split(out, "\n") {
		line = strings.ReplaceAll(strings.TrimSpace(line), ".", "")
		if n, err := strconv.Atoi(line); err == nil {
			caps = append(caps, n)
		}
	}
	slices.Sort(caps)
	return slices.Compact(caps)
}

// ArchResolver returns a function resolving CUDA architectures once: from
// envValue when it parses, otherwise through detect.
func ArchResolver(envValue string, detect func(context.Context) []int, logger *slog.Logger) func(context.Context) []int {
	var (
		once  sync.Once
		archs []int
	)
	return func(ctx context.Context) []int {
		once.Do(func() {
			if envValue != "" {
				parsed, err := ParseArchs(envValue)
				if err == nil {
					logger.Info("using CUDA architectures from environment", "cuda_archs", envValue)
					archs = parsed
					return
				}
				logger.Warn("ignoring CUDA_ARCHS, expected comma-separated numbers", "cuda_archs", envValue, "error", err)
			}
			if detect != nil {
				archs = detect(ctx)
				if len(archs) > 0 {
					logger.Info("detected CUDA compute capabilities", "cuda_archs", archs)
				}
			}
		})
		return archs
	}
}
