package media

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"time"
)

const (
	// GapToleranceSeconds is how much of the source may remain uncovered
	// before missing spans are synthesized.
	GapToleranceSeconds = 5.0

	// MinFillSeconds is the shortest span worth synthesizing.
	MinFillSeconds = 2.0

	// CoverageWarnPercent is the coverage below which a gap warning is raised.
	CoverageWarnPercent = 95.0
)

// Coverage describes how much of the source the final segments represent.
type Coverage struct {
	Known          bool    `json:"known"`
	TotalSeconds   float64 `json:"total_seconds,omitempty"`
	CoveredSeconds float64 `json:"covered_seconds,omitempty"`
	Percent        float64 `json:"percent,omitempty"`
	Synthesized    int     `json:"synthesized"`
	Warning        string  `json:"warning,omitempty"`
}

type span struct{ start, end float64 }

// ValidateAndFill checks segs against the probed source duration and
// synthesizes segments for uncovered spans when more than
// GapToleranceSeconds are missing. It never fails: an unknown duration
// returns segs unchanged, and a failed synthesis keeps what exists so far.
// The result is ordered by start time and indexed 0..N-1.
func (s *Segmenter) ValidateAndFill(ctx context.Context, dir, sourcePath string, segs []Segment, target time.Duration) ([]Segment, Coverage) {
	total, err := s.ProbeDuration(ctx, sourcePath)
	if err != nil {
		s.log.Info().Err(err).Msg("source duration unknown, skipping coverage validation")
		return segs, Coverage{}
	}
	cov := Coverage{Known: true, TotalSeconds: total}
	tsec := target.Seconds()

	out := make([]Segment, len(segs))
	copy(out, segs)

	missing := total - float64(len(out))*tsec
	if missing > GapToleranceSeconds {
		s.log.Warn().
			Float64("total_seconds", total).
			Int("segments", len(out)).
			Float64("missing_seconds", missing).
			Msg("segments do not cover source, synthesizing missing spans")
		out, cov.Synthesized = s.fill(ctx, dir, sourcePath, out, total, tsec)
	}

	out = reindex(out, total)

	var uncovered float64
	for _, g := range gaps(out, total) {
		uncovered += g.end - g.start
	}
	cov.CoveredSeconds = math.Max(0, total-uncovered)
	cov.Percent = math.Min(100, cov.CoveredSeconds/total*100)

	if cov.Percent < CoverageWarnPercent {
		cov.Warning = fmt.Sprintf("coverage %.1f%% is below %.0f%%", cov.Percent, CoverageWarnPercent)
		s.log.Warn().
			Float64("coverage_pct", cov.Percent).
			Float64("total_seconds", total).
			Float64("covered_seconds", cov.CoveredSeconds).
			Msg("coverage gap")
	} else {
		s.log.Info().
			Float64("coverage_pct", cov.Percent).
			Int("segments", len(out)).
			Int("synthesized", cov.Synthesized).
			Msg("coverage validated")
	}
	return out, cov
}

// fill extracts every uncovered span in pieces of at most tsec seconds.
func (s *Segmenter) fill(ctx context.Context, dir, sourcePath string, segs []Segment, total, tsec float64) ([]Segment, int) {
	added := 0
	for _, g := range gaps(segs, total) {
		for offset := g.start; g.end-offset >= MinFillSeconds; {
			length := math.Min(tsec, g.end-offset)
			out := filepath.Join(dir, fmt.Sprintf(fillPattern, added))
			if err := s.extract(ctx, sourcePath, out, offset, length); err != nil {
				s.log.Warn().Err(err).
					Float64("offset", offset).
					Int("synthesized", added).
					Msg("gap synthesis failed, continuing with reduced coverage")
				return segs, added
			}
			info, err := os.Stat(out)
			if err != nil || info.Size() <= MinSegmentBytes {
				os.Remove(out)
				s.log.Warn().Float64("offset", offset).Msg("synthesized segment empty, continuing with reduced coverage")
				return segs, added
			}
			segs = append(segs, Segment{
				Index:    len(segs),
				Path:     out,
				Start:    offset,
				Duration: length,
				Size:     info.Size(),
			})
			added++
			offset += length
		}
	}
	return segs, added
}

// gaps returns the spans of [0,total] not covered by any segment.
func gaps(segs []Segment, total float64) []span {
	sorted := make([]Segment, len(segs))
	copy(sorted, segs)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Start < sorted[j].Start })

	const epsilon = 0.001
	var out []span
	cursor := 0.0
	for _, seg := range sorted {
		if cursor >= total {
			break
		}
		if seg.Start > cursor+epsilon {
			out = append(out, span{cursor, math.Min(seg.Start, total)})
		}
		cursor = math.Max(cursor, seg.End())
	}
	if total-cursor > epsilon {
		out = append(out, span{cursor, total})
	}
	return out
}

// reindex sorts by start time, renumbers 0..N-1 and clamps the nominal
// duration of a segment that runs past the end of the source.
func reindex(segs []Segment, total float64) []Segment {
	sort.SliceStable(segs, func(i, j int) bool {
		if segs[i].Start != segs[j].Start {
			return segs[i].Start < segs[j].Start
		}
		return segs[i].Index < segs[j].Index
	})
	for i := range segs {
		segs[i].Index = i
		if segs[i].Start < total && segs[i].End() > total {
			segs[i].Duration = total - segs[i].Start
		}
	}
	return segs
}
