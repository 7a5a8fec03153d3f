package telemetry

import (
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// NvidiaSMI samples local GPU utilization by invoking nvidia-smi and
// averaging across devices.
type NvidiaSMI struct {
	// Timeout bounds one sample; defaults to 10s.
	Timeout time.Duration
}

func (n *NvidiaSMI) Utilization(ctx context.Context) (float64, error) {
	timeout := n.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	out, err := exec.CommandContext(ctx, "nvidia-smi",
		"--query-gpu=utilization.gpu",
		"--format=csv,noheader,nounits",
	).Output()
	if err != nil {
		return 0, fmt.Errorf("nvidia-smi: %w", err)
	}

	var sum float64
	var count int
	for _, line := range strings.Split(strings.TrimSpace(string(out)), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		v, err := strconv.ParseFloat(line, 64)
		if err != nil {
			return 0, fmt.Errorf("nvidia-smi: parse %q: %w", line, err)
		}
		sum += v
		count++
	}
	if count == 0 {
		return 0, nil
	}
	return sum / float64(count), nil
}
