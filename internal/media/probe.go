package media

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

type probeResult struct {
	Format probeFormat `json:"format"`
}

type probeFormat struct {
	Filename string `json:"filename"`
	Duration string `json:"duration"`
	Size     string `json:"size"`
}

// ProbeDuration returns the total duration of a media file in seconds using
// ffprobe. Containers without a duration (e.g. raw streams) report "N/A",
// which is returned as an error.
func (s *Segmenter) ProbeDuration(ctx context.Context, path string) (float64, error) {
	stdout, stderr, err := s.runner.Run(ctx, s.ffprobePath, []string{
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		path,
	})
	if err != nil {
		return 0, fmt.Errorf("ffprobe: %w: %s", err, tail(stderr, 512))
	}
	return parseProbeDuration(stdout)
}

func parseProbeDuration(data []byte) (float64, error) {
	var result probeResult
	if err := json.Unmarshal(data, &result); err != nil {
		return 0, fmt.Errorf("decode ffprobe output: %w", err)
	}
	raw := strings.TrimSpace(result.Format.Duration)
	if raw == "" || raw == "N/A" {
		return 0, fmt.Errorf("duration unavailable")
	}
	d, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("parse duration %q: %w", raw, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("non-positive duration %v", d)
	}
	return d, nil
}
