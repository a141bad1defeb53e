package transcribe

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/snarg/segscribe/internal/media"
	"github.com/snarg/segscribe/internal/metrics"
)

const (
	DefaultMaxAttempts = 3
	DefaultRetryDelay  = 3 * time.Second
)

// Status is the final state of one segment.
type Status string

const (
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
)

// Outcome is the per-segment record produced once retries succeed or run out.
// Text holds the transcript on success and a placeholder on failure.
type Outcome struct {
	Index       int    `json:"index"`
	Status      Status `json:"status"`
	Text        string `json:"text"`
	Attempts    int    `json:"attempts"`
	FailureKind Kind   `json:"failure_kind,omitempty"`
	Err         error  `json:"-"`
}

// Placeholder is the transcript text substituted for a failed segment.
func Placeholder(index, attempts int, kind Kind) string {
	return fmt.Sprintf("[segment %d: transcription failed after %d attempt(s) (%s)]", index, attempts, kind.Describe())
}

// RetryOptions configures a Retrier.
type RetryOptions struct {
	MaxAttempts int
	Delay       time.Duration
	// RetryStructural retries NotFound/TooSmall/TooLarge like transient
	// failures instead of giving up after the first attempt.
	RetryStructural bool
	Log             zerolog.Logger
}

// RetryStats reports totals across all segments handled by a Retrier.
type RetryStats struct {
	Succeeded int64 `json:"succeeded"`
	Failed    int64 `json:"failed"`
	Attempts  int64 `json:"attempts"`
}

// Retrier wraps a Transcriber with a fixed attempt cap and fixed delay.
// It is safe for concurrent use; each Do call owns its own retry state.
type Retrier struct {
	t    Transcriber
	opts RetryOptions
	log  zerolog.Logger

	succeeded atomic.Int64
	failed    atomic.Int64
	attempts  atomic.Int64
}

// NewRetrier creates a Retrier. MaxAttempts < 1 selects DefaultMaxAttempts.
func NewRetrier(t Transcriber, opts RetryOptions) *Retrier {
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = DefaultMaxAttempts
	}
	if opts.Delay < 0 {
		opts.Delay = 0
	}
	return &Retrier{
		t:    t,
		opts: opts,
		log:  opts.Log.With().Str("component", "retry").Logger(),
	}
}

// Stats returns totals since start.
func (r *Retrier) Stats() RetryStats {
	return RetryStats{
		Succeeded: r.succeeded.Load(),
		Failed:    r.failed.Load(),
		Attempts:  r.attempts.Load(),
	}
}

// Do transcribes seg, retrying failures after the configured delay. The
// delay is a timer wait on ctx, so it only holds up this segment. Do never
// returns an error; failures become a StatusFailed outcome with a placeholder.
func (r *Retrier) Do(ctx context.Context, seg media.Segment, opts TranscribeOpts) Outcome {
	log := r.log.With().Int("segment", seg.Index).Logger()
	counts := make(map[Kind]int)
	var lastErr error
	var lastKind Kind

	attempt := 0
	for attempt < r.opts.MaxAttempts {
		attempt++
		r.attempts.Add(1)

		text, err := r.t.Transcribe(ctx, seg, opts)
		if err == nil {
			metrics.TranscriptionAttemptsTotal.WithLabelValues("success").Inc()
			r.succeeded.Add(1)
			if attempt > 1 {
				log.Info().Int("attempts", attempt).Msg("segment transcribed after retry")
			}
			return Outcome{Index: seg.Index, Status: StatusSuccess, Text: text, Attempts: attempt}
		}

		lastErr = err
		lastKind = kindOf(err)
		counts[lastKind]++
		metrics.TranscriptionAttemptsTotal.WithLabelValues(string(lastKind)).Inc()

		if ctx.Err() != nil {
			break
		}
		if lastKind.Structural() && !r.opts.RetryStructural {
			log.Warn().Err(err).Str("kind", string(lastKind)).Msg("segment rejected, not retrying")
			break
		}
		if attempt >= r.opts.MaxAttempts {
			break
		}

		log.Warn().Err(err).
			Int("attempt", attempt).
			Int("max_attempts", r.opts.MaxAttempts).
			Dur("retry_in", r.opts.Delay).
			Msg("transcription attempt failed")
		if err := sleep(ctx, r.opts.Delay); err != nil {
			lastErr = err
			break
		}
	}

	kind := dominantKind(counts, lastKind)
	r.failed.Add(1)
	log.Error().Err(lastErr).
		Int("attempts", attempt).
		Str("kind", string(kind)).
		Msg("segment failed")
	return Outcome{
		Index:       seg.Index,
		Status:      StatusFailed,
		Text:        Placeholder(seg.Index, attempt, kind),
		Attempts:    attempt,
		FailureKind: kind,
		Err:         lastErr,
	}
}

func kindOf(err error) Kind {
	var te *TranscriptionError
	if errors.As(err, &te) {
		return te.Kind
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return KindNetworkError
	}
	return KindServiceError
}

// dominantKind picks the most frequent failure kind; ties go to the most
// recent one.
func dominantKind(counts map[Kind]int, last Kind) Kind {
	best, bestN := last, counts[last]
	for k, n := range counts {
		if n > bestN {
			best, bestN = k, n
		}
	}
	return best
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
