package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/snarg/segscribe/internal/media"
	"github.com/snarg/segscribe/internal/pipeline"
	"github.com/snarg/segscribe/internal/transcribe"
)

func TestStageInput(t *testing.T) {
	src := filepath.Join(t.TempDir(), "Interview.M4A")
	if err := os.WriteFile(src, []byte("audio data"), 0o644); err != nil {
		t.Fatal(err)
	}
	dir := filepath.Join(t.TempDir(), "uploads")

	sm, err := stageInput(src, dir)
	if err != nil {
		t.Fatalf("stageInput: %v", err)
	}
	if sm.Name != "Interview.M4A" || sm.Size != 10 {
		t.Errorf("source = %+v", sm)
	}
	if filepath.Dir(sm.Path) != dir || filepath.Ext(sm.Path) != ".m4a" {
		t.Errorf("Path = %q", sm.Path)
	}
	if _, err := os.Stat(src); err != nil {
		t.Errorf("original must be left in place: %v", err)
	}
}

func TestStageInput_Errors(t *testing.T) {
	dir := t.TempDir()
	if _, err := stageInput(filepath.Join(dir, "missing.wav"), dir); err == nil {
		t.Error("expected error for missing file")
	}
	if _, err := stageInput(dir, filepath.Join(dir, "uploads")); err == nil {
		t.Error("expected error for directory input")
	}
}

type oneSegment struct{}

func (oneSegment) Segment(ctx context.Context, dir, src string, target time.Duration) ([]media.Segment, error) {
	if _, err := os.Stat(src); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	path := filepath.Join(dir, "segment_000.wav")
	if err := os.WriteFile(path, make([]byte, 2048), 0o644); err != nil {
		return nil, err
	}
	return []media.Segment{{Index: 0, Path: path, Duration: target.Seconds(), Size: 2048}}, nil
}

func (oneSegment) ValidateAndFill(ctx context.Context, dir, src string, segs []media.Segment, target time.Duration) ([]media.Segment, media.Coverage) {
	return segs, media.Coverage{}
}

type fixedOutcome transcribe.Status

func (f fixedOutcome) Do(ctx context.Context, seg media.Segment, opts transcribe.TranscribeOpts) transcribe.Outcome {
	return transcribe.Outcome{Index: seg.Index, Status: transcribe.Status(f), Text: "hello", Attempts: 1}
}

func TestRunOnce(t *testing.T) {
	tests := []struct {
		name   string
		status transcribe.Status
		want   int
	}{
		{"complete", transcribe.StatusSuccess, 0},
		{"partial", transcribe.StatusFailed, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			workDir := t.TempDir()
			input := filepath.Join(t.TempDir(), "talk.wav")
			if err := os.WriteFile(input, []byte("audio"), 0o644); err != nil {
				t.Fatal(err)
			}
			pipe := pipeline.New(pipeline.Options{
				Segmenter:   oneSegment{},
				Transcriber: fixedOutcome(tt.status),
				WorkDir:     workDir,
				Log:         zerolog.Nop(),
			})

			if got := runOnce(context.Background(), pipe, input, pipeline.JobOptions{}, zerolog.Nop()); got != tt.want {
				t.Errorf("exit code = %d, want %d", got, tt.want)
			}
			if _, err := os.Stat(input); err != nil {
				t.Errorf("input removed: %v", err)
			}
			entries, err := os.ReadDir(workDir)
			if err != nil {
				t.Fatal(err)
			}
			if len(entries) != 0 {
				t.Errorf("work dir has %d entries, want 0 (one-shot files belong outside it)", len(entries))
			}
		})
	}
}

func TestRunOnce_MissingInput(t *testing.T) {
	pipe := pipeline.New(pipeline.Options{WorkDir: t.TempDir(), Log: zerolog.Nop()})
	if got := runOnce(context.Background(), pipe, filepath.Join(t.TempDir(), "nope.wav"), pipeline.JobOptions{}, zerolog.Nop()); got != 1 {
		t.Errorf("exit code = %d, want 1", got)
	}
}
