package media

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const (
	segmentPrefix  = "segment_"
	segmentPattern = "segment_%03d.wav"
	fillPattern    = "segment_fill_%03d.wav"
)

// filterChain normalizes speech for recognition: gain, voice band-pass
// (300-3000Hz, same band as the sox preprocessing it replaces) and EBU R128
// loudness normalization.
const filterChain = "volume=1.5,highpass=f=300,lowpass=f=3000,loudnorm"

var segmentNameRe = regexp.MustCompile(`^segment_(\d+)\.wav$`)

// Options configures a Segmenter.
type Options struct {
	FFmpegPath  string
	FFprobePath string
	SettleDelay time.Duration // grace period after ffmpeg exits before listing
	Runner      CommandRunner // nil = os/exec
	Log         zerolog.Logger
}

// Segmenter splits source media into fixed-duration PCM WAV segments using
// ffmpeg and validates that the segments cover the whole source.
type Segmenter struct {
	ffmpegPath  string
	ffprobePath string
	settleDelay time.Duration
	runner      CommandRunner
	log         zerolog.Logger
}

// NewSegmenter creates a Segmenter.
func NewSegmenter(opts Options) *Segmenter {
	s := &Segmenter{
		ffmpegPath:  opts.FFmpegPath,
		ffprobePath: opts.FFprobePath,
		settleDelay: opts.SettleDelay,
		runner:      opts.Runner,
		log:         opts.Log.With().Str("component", "segmenter").Logger(),
	}
	if s.ffmpegPath == "" {
		s.ffmpegPath = "ffmpeg"
	}
	if s.ffprobePath == "" {
		s.ffprobePath = "ffprobe"
	}
	if s.runner == nil {
		s.runner = execRunner{}
	}
	return s
}

// Segment splits sourcePath into segments of target duration, written into
// dir. dir must be owned by the caller's request; stale segment files in it
// are removed first. The returned segments are indexed 0..N-1 with no gaps.
func (s *Segmenter) Segment(ctx context.Context, dir, sourcePath string, target time.Duration) ([]Segment, error) {
	if target <= 0 {
		return nil, &SegmentationError{Source: sourcePath, Err: fmt.Errorf("invalid target duration %s", target)}
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, &SegmentationError{Source: sourcePath, Err: fmt.Errorf("mkdir %s: %w", dir, err)}
	}
	if n := clearSegments(dir); n > 0 {
		s.log.Debug().Int("removed", n).Str("dir", dir).Msg("cleared stale segment files")
	}

	args := []string{
		"-hide_banner", "-loglevel", "error", "-y",
		"-i", sourcePath,
		"-vn",
		"-ac", "1",
		"-ar", "16000",
		"-af", filterChain,
		"-c:a", "pcm_s16le",
		"-f", "segment",
		"-segment_time", formatSeconds(target.Seconds()),
		"-reset_timestamps", "1",
		"-avoid_negative_ts", "make_zero",
		filepath.Join(dir, segmentPattern),
	}

	start := time.Now()
	_, stderr, err := s.runner.Run(ctx, s.ffmpegPath, args)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &SegmentationError{Source: sourcePath, Detail: tail(stderr, 1024), Err: fmt.Errorf("ffmpeg: %w", err)}
	}

	if err := s.settle(ctx, dir); err != nil {
		return nil, err
	}

	segs, discarded, err := listSegments(dir, target.Seconds())
	if err != nil {
		return nil, &SegmentationError{Source: sourcePath, Err: err}
	}
	for _, name := range discarded {
		s.log.Warn().Str("file", name).Msg("discarding empty or corrupt segment")
	}
	if len(segs) == 0 {
		return nil, &SegmentationError{Source: sourcePath, Detail: tail(stderr, 1024), Err: ErrNoSegments}
	}

	s.log.Info().
		Int("segments", len(segs)).
		Int("discarded", len(discarded)).
		Dur("target", target).
		Dur("elapsed", time.Since(start)).
		Msg("segmentation complete")
	return segs, nil
}

// listSegments reads dir, keeps ffmpeg-produced segment files above the size
// threshold, sorts them by embedded index and renumbers them contiguously.
// Start offsets come from the embedded index so a discarded file shows up
// as a coverage gap rather than shifting later segments.
func listSegments(dir string, target float64) ([]Segment, []string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, nil, fmt.Errorf("read segment dir: %w", err)
	}

	type found struct {
		fileIndex int
		path      string
		size      int64
	}
	var files []found
	var discarded []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		m := segmentNameRe.FindStringSubmatch(e.Name())
		if m == nil {
			continue
		}
		idx, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		path := filepath.Join(dir, e.Name())
		if info.Size() <= MinSegmentBytes {
			discarded = append(discarded, e.Name())
			os.Remove(path)
			continue
		}
		files = append(files, found{fileIndex: idx, path: path, size: info.Size()})
	}

	sort.Slice(files, func(i, j int) bool { return files[i].fileIndex < files[j].fileIndex })

	segs := make([]Segment, 0, len(files))
	for i, f := range files {
		segs = append(segs, Segment{
			Index:    i,
			Path:     f.path,
			Start:    float64(f.fileIndex) * target,
			Duration: target,
			Size:     f.size,
		})
	}
	return segs, discarded, nil
}

// clearSegments removes segment files left in dir by an earlier run.
func clearSegments(dir string) int {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0
	}
	n := 0
	for _, e := range entries {
		if e.IsDir() || !strings.HasPrefix(e.Name(), segmentPrefix) {
			continue
		}
		if os.Remove(filepath.Join(dir, e.Name())) == nil {
			n++
		}
	}
	return n
}

// extract writes [offset, offset+span) of the source through the same filter
// chain as regular segments.
func (s *Segmenter) extract(ctx context.Context, sourcePath, outPath string, offset, span float64) error {
	args := []string{
		"-hide_banner", "-loglevel", "error", "-y",
		"-ss", formatSeconds(offset),
		"-t", formatSeconds(span),
		"-i", sourcePath,
		"-vn",
		"-ac", "1",
		"-ar", "16000",
		"-af", filterChain,
		"-c:a", "pcm_s16le",
		outPath,
	}
	_, stderr, err := s.runner.Run(ctx, s.ffmpegPath, args)
	if err != nil {
		os.Remove(outPath)
		return fmt.Errorf("ffmpeg extract at %ss: %w: %s", formatSeconds(offset), err, tail(stderr, 512))
	}
	return nil
}

func formatSeconds(sec float64) string {
	return strconv.FormatFloat(sec, 'f', 3, 64)
}
