package api

import (
	"fmt"
	"sort"
	"strings"

	"github.com/yejikwon7/multi-agent/internal/domain"
)

// maxOutputSize bounds a single stage output.
const maxOutputSize = 256 << 10

func validateRun(req RunRequest) (map[domain.Stage]string, error) {
	if len(req.Outputs) == 0 {
		return nil, fmt.Errorf("outputs is required")
	}

	known := make(map[domain.Stage]bool, len(domain.Stages))
	for _, s := range domain.Stages {
		known[s] = true
	}

	var unknown []string
	outputs := make(map[domain.Stage]string, len(req.Outputs))
	for name, text := range req.Outputs {
		stage := domain.Stage(strings.ToLower(strings.TrimSpace(name)))
		if !known[stage] {
			unknown = append(unknown, name)
			continue
		}
		if len(text) > maxOutputSize {
			return nil, fmt.Errorf("output for %s exceeds %d bytes", stage, maxOutputSize)
		}
		outputs[stage] = text
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return nil, fmt.Errorf("unknown stage: %s", strings.Join(unknown, ", "))
	}

	if strings.TrimSpace(outputs[domain.StageFlight]) == "" {
		return nil, fmt.Errorf("outputs.flight is required")
	}
	return outputs, nil
}
