package pipeline

import (
	"math"
	"sort"
	"strings"

	"github.com/snarg/segscribe/internal/media"
	"github.com/snarg/segscribe/internal/transcribe"
)

// TranscriptSeparator joins segment texts in the final transcript.
const TranscriptSeparator = "\n\n"

// Summary is the per-job processing report, derived once all outcomes exist.
type Summary struct {
	JobID             string         `json:"job_id"`
	Source            string         `json:"source"`
	SourceBytes       int64          `json:"source_bytes"`
	TotalSegments     int            `json:"total_segments"`
	Succeeded         int            `json:"succeeded"`
	Failed            int            `json:"failed"`
	FailedIndices     []int          `json:"failed_indices"`
	SuccessPercentage float64        `json:"success_percentage"`
	Attempts          int            `json:"attempts"`
	Coverage          media.Coverage `json:"coverage"`
	ElapsedSeconds    float64        `json:"elapsed_seconds"`
}

// Complete reports whether every segment was transcribed.
func (s Summary) Complete() bool { return s.Failed == 0 }

// Summarize computes counts over outcomes. FailedIndices is ascending and
// never nil.
func Summarize(outcomes []transcribe.Outcome, cov media.Coverage) Summary {
	s := Summary{
		TotalSegments: len(outcomes),
		FailedIndices: []int{},
		Coverage:      cov,
	}
	for _, o := range outcomes {
		s.Attempts += o.Attempts
		if o.Status == transcribe.StatusSuccess {
			s.Succeeded++
		} else {
			s.Failed++
			s.FailedIndices = append(s.FailedIndices, o.Index)
		}
	}
	sort.Ints(s.FailedIndices)
	if s.TotalSegments > 0 {
		s.SuccessPercentage = math.Round(float64(s.Succeeded)/float64(s.TotalSegments)*1000) / 10
	}
	return s
}

// Assemble joins outcome texts in index order. Successful segments that
// produced no speech contribute nothing; failed segments contribute their
// placeholder.
func Assemble(outcomes []transcribe.Outcome) string {
	ordered := make([]transcribe.Outcome, len(outcomes))
	copy(ordered, outcomes)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Index < ordered[j].Index })

	parts := make([]string, 0, len(ordered))
	for _, o := range ordered {
		if text := strings.TrimSpace(o.Text); text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, TranscriptSeparator)
}
