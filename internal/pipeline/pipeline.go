package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/snarg/segscribe/internal/media"
	"github.com/snarg/segscribe/internal/metrics"
	"github.com/snarg/segscribe/internal/transcribe"
)

const (
	DefaultSegmentDuration = 90 * time.Second
	DefaultSegmentPause    = time.Second
	DefaultJobTimeout      = 30 * time.Minute
)

// ErrCanceled is returned when the job context ends before every segment has
// an outcome. The partial transcript is discarded.
var ErrCanceled = errors.New("transcription job canceled")

// PipelineError is the only error Process returns for a job that could not
// produce any audio. It always wraps a *media.SegmentationError.
type PipelineError struct {
	JobID  string
	Source string
	Err    error
}

func (e *PipelineError) Error() string {
	return fmt.Sprintf("job %s: %v", e.JobID, e.Err)
}

func (e *PipelineError) Unwrap() error { return e.Err }

// SourceMedia is the uploaded file for one job. Process deletes Path when
// it returns.
type SourceMedia struct {
	Path     string
	Name     string // display name, usually the upload filename
	Size     int64
	Duration float64 // seconds; 0 = unknown
}

// JobOptions are per-request transcription options.
type JobOptions struct {
	Language   string // "" = configured default
	AutoDetect bool
}

// Result is a completed job. Jobs with failed segments still produce a
// Result; Summary enumerates what failed.
type Result struct {
	JobID      string               `json:"job_id"`
	Transcript string               `json:"transcript"`
	Summary    Summary              `json:"summary"`
	Segments   []media.Segment      `json:"segments"`
	Outcomes   []transcribe.Outcome `json:"outcomes"`
}

// Segmenter is the media side of a job. *media.Segmenter implements it.
type Segmenter interface {
	Segment(ctx context.Context, dir, sourcePath string, target time.Duration) ([]media.Segment, error)
	ValidateAndFill(ctx context.Context, dir, sourcePath string, segs []media.Segment, target time.Duration) ([]media.Segment, media.Coverage)
}

// SegmentTranscriber produces exactly one outcome per segment.
// *transcribe.Retrier implements it.
type SegmentTranscriber interface {
	Do(ctx context.Context, seg media.Segment, opts transcribe.TranscribeOpts) transcribe.Outcome
}

// Options configures a Pipeline.
type Options struct {
	Segmenter       Segmenter
	Transcriber     SegmentTranscriber
	WorkDir         string
	SegmentDuration time.Duration
	SegmentPause    time.Duration // wait between segments; 0 disables
	JobTimeout      time.Duration // 0 = no budget beyond the caller's context
	Language        string        // default output language
	Publisher       Publisher
	Log             zerolog.Logger
}

// Pipeline runs transcription jobs. Jobs are independent; each owns a
// workspace directory under WorkDir, so concurrent jobs never share files.
// Segments within a job are processed strictly in order.
type Pipeline struct {
	seg      Segmenter
	tr       SegmentTranscriber
	workDir  string
	target   time.Duration
	pause    time.Duration
	timeout  time.Duration
	language string
	pub      Publisher
	log      zerolog.Logger

	active    atomic.Int64
	completed atomic.Int64
	failed    atomic.Int64
}

// New creates a Pipeline.
func New(opts Options) *Pipeline {
	p := &Pipeline{
		seg:      opts.Segmenter,
		tr:       opts.Transcriber,
		workDir:  opts.WorkDir,
		target:   opts.SegmentDuration,
		pause:    opts.SegmentPause,
		timeout:  opts.JobTimeout,
		language: opts.Language,
		pub:      opts.Publisher,
		log:      opts.Log.With().Str("component", "pipeline").Logger(),
	}
	if p.target <= 0 {
		p.target = DefaultSegmentDuration
	}
	if p.pause < 0 {
		p.pause = 0
	}
	if p.pub == nil {
		p.pub = NopPublisher{}
	}
	return p
}

// ActiveJobs returns the number of jobs currently in Process.
func (p *Pipeline) ActiveJobs() int { return int(p.active.Load()) }

// Stats returns job totals since start.
func (p *Pipeline) Stats() (active, completed, failed int64) {
	return p.active.Load(), p.completed.Load(), p.failed.Load()
}

// Process runs one job: segment, validate coverage, transcribe every segment
// in index order, then assemble the transcript. Per-segment failures become
// placeholders and never abort the job. Process returns a *PipelineError
// only when segmentation yields no usable audio, and an error wrapping
// ErrCanceled when ctx ends first. The source file and the job workspace
// are removed on every path.
func (p *Pipeline) Process(ctx context.Context, src SourceMedia, opts JobOptions) (*Result, error) {
	jobID := uuid.NewString()
	dir := filepath.Join(p.workDir, jobID)
	log := p.log.With().Str("job_id", jobID).Str("source", src.Name).Logger()
	start := time.Now()

	p.active.Add(1)
	defer p.active.Add(-1)
	defer p.cleanup(log, dir, src.Path)

	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	log.Info().Int64("bytes", src.Size).Bool("auto_detect", opts.AutoDetect).Msg("job started")
	p.publish(Event{JobID: jobID, Type: EventStarted, Source: src.Name})

	segs, err := p.seg.Segment(ctx, dir, src.Path, p.target)
	if err != nil {
		if ctx.Err() != nil {
			return nil, p.canceled(log, jobID, ctx.Err(), start)
		}
		p.failed.Add(1)
		metrics.JobsTotal.WithLabelValues("failed").Inc()
		log.Error().Err(err).Msg("segmentation failed")
		p.publish(Event{JobID: jobID, Type: EventFailed, Source: src.Name, Error: err.Error()})
		return nil, &PipelineError{JobID: jobID, Source: src.Name, Err: err}
	}

	segs, cov := p.seg.ValidateAndFill(ctx, dir, src.Path, segs, p.target)
	if cov.Synthesized > 0 {
		metrics.SegmentsSynthesizedTotal.Add(float64(cov.Synthesized))
	}
	if cov.Known {
		metrics.CoveragePercent.Observe(cov.Percent)
		src.Duration = cov.TotalSeconds
	}
	if cov.Warning != "" {
		log.Warn().Float64("coverage_percent", cov.Percent).Msg(cov.Warning)
	}
	p.publish(Event{JobID: jobID, Type: EventSegmented, Source: src.Name, Segments: len(segs), Coverage: &cov})

	tOpts := transcribe.TranscribeOpts{Language: opts.Language, AutoDetect: opts.AutoDetect}
	if tOpts.Language == "" {
		tOpts.Language = p.language
	}

	outcomes := make([]transcribe.Outcome, 0, len(segs))
	for i, seg := range segs {
		if err := ctx.Err(); err != nil {
			return nil, p.canceled(log, jobID, err, start)
		}

		out := p.tr.Do(ctx, seg, tOpts)
		if err := ctx.Err(); err != nil {
			return nil, p.canceled(log, jobID, err, start)
		}
		out.Index = seg.Index
		outcomes = append(outcomes, out)
		metrics.SegmentsTotal.WithLabelValues(string(out.Status)).Inc()

		if err := os.Remove(seg.Path); err != nil && !os.IsNotExist(err) {
			log.Warn().Err(err).Str("file", seg.Path).Msg("failed to remove segment file")
		}

		p.publish(Event{
			JobID: jobID,
			Type:  EventSegment,
			Segment: &SegmentEvent{
				Index:       out.Index,
				Total:       len(segs),
				Status:      out.Status,
				Attempts:    out.Attempts,
				FailureKind: out.FailureKind,
			},
		})

		if i < len(segs)-1 && p.pause > 0 {
			if err := sleep(ctx, p.pause); err != nil {
				return nil, p.canceled(log, jobID, err, start)
			}
		}
	}

	summary := Summarize(outcomes, cov)
	summary.JobID = jobID
	summary.Source = src.Name
	summary.SourceBytes = src.Size
	summary.ElapsedSeconds = time.Since(start).Seconds()

	result := &Result{
		JobID:      jobID,
		Transcript: Assemble(outcomes),
		Summary:    summary,
		Segments:   segs,
		Outcomes:   outcomes,
	}

	label := "complete"
	if !summary.Complete() {
		label = "partial"
	}
	p.completed.Add(1)
	metrics.JobsTotal.WithLabelValues(label).Inc()
	metrics.JobDuration.Observe(summary.ElapsedSeconds)

	log.Info().
		Int("segments", summary.TotalSegments).
		Int("failed", summary.Failed).
		Float64("success_percent", summary.SuccessPercentage).
		Float64("duration_seconds", src.Duration).
		Dur("elapsed", time.Since(start)).
		Msg("job completed")
	p.publish(Event{JobID: jobID, Type: EventCompleted, Source: src.Name, Summary: &summary})
	return result, nil
}

func (p *Pipeline) canceled(log zerolog.Logger, jobID string, cause error, start time.Time) error {
	p.failed.Add(1)
	metrics.JobsTotal.WithLabelValues("canceled").Inc()
	metrics.JobDuration.Observe(time.Since(start).Seconds())
	log.Warn().Err(cause).Msg("job canceled, discarding partial transcript")
	p.publish(Event{JobID: jobID, Type: EventFailed, Error: cause.Error()})
	return fmt.Errorf("%w: %w", ErrCanceled, cause)
}

func (p *Pipeline) cleanup(log zerolog.Logger, dir, sourcePath string) {
	if err := os.RemoveAll(dir); err != nil {
		log.Warn().Err(err).Str("dir", dir).Msg("failed to remove job workspace")
	}
	if sourcePath == "" {
		return
	}
	if err := os.Remove(sourcePath); err != nil && !os.IsNotExist(err) {
		log.Warn().Err(err).Str("file", sourcePath).Msg("failed to remove source file")
	}
}

func (p *Pipeline) publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now().UTC()
	}
	p.pub.Publish(e)
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
