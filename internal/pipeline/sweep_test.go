package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/snarg/segscribe/internal/media"
)

func TestSweepStale(t *testing.T) {
	workDir := t.TempDir()
	uploads := filepath.Join(workDir, "uploads")
	old := time.Now().Add(-2 * time.Hour)

	stale := filepath.Join(workDir, uuid.NewString())
	mustWrite(t, filepath.Join(stale, "segment_000.wav"))
	staleUpload := filepath.Join(uploads, uuid.NewString()+".mp4")
	mustWrite(t, staleUpload)
	fresh := filepath.Join(workDir, uuid.NewString())
	mustWrite(t, filepath.Join(fresh, "segment_000.wav"))
	freshUpload := filepath.Join(uploads, uuid.NewString()+".mp4")
	mustWrite(t, freshUpload)
	mustWrite(t, filepath.Join(workDir, "keep-me", "notes.txt"))
	for _, path := range []string{stale, staleUpload, filepath.Join(workDir, "keep-me")} {
		if err := os.Chtimes(path, old, old); err != nil {
			t.Fatal(err)
		}
	}

	p := New(Options{WorkDir: workDir, JobTimeout: 30 * time.Minute, Log: zerolog.Nop()})
	n, err := p.SweepStale(uploads)
	if err != nil {
		t.Fatalf("SweepStale: %v", err)
	}
	if n != 2 {
		t.Errorf("removed = %d, want 2", n)
	}
	if _, err := os.Stat(stale); !os.IsNotExist(err) {
		t.Error("stale workspace not removed")
	}
	if _, err := os.Stat(staleUpload); !os.IsNotExist(err) {
		t.Error("stale upload not removed")
	}
	for _, path := range []string{fresh, freshUpload, filepath.Join(workDir, "keep-me", "notes.txt")} {
		if _, err := os.Stat(path); err != nil {
			t.Errorf("%s removed: %v", filepath.Base(path), err)
		}
	}
}

func TestSweepStale_MissingWorkDir(t *testing.T) {
	p := New(Options{WorkDir: filepath.Join(t.TempDir(), "absent"), Log: zerolog.Nop()})
	if n, err := p.SweepStale(""); err != nil || n != 0 {
		t.Errorf("SweepStale = %d, %v; want 0, nil", n, err)
	}
}

func TestSweepStale_LeavesRunningJob(t *testing.T) {
	workDir := t.TempDir()
	uploads := filepath.Join(workDir, "uploads")
	srcPath := filepath.Join(uploads, uuid.NewString()+".mp4")
	mustWrite(t, srcPath)
	src := SourceMedia{Path: srcPath, Name: "meeting.mp4", Size: 1}

	// A second process starting against the same work directory.
	other := New(Options{WorkDir: workDir, Log: zerolog.Nop()})

	var swept int
	var sweepErr error
	missing := map[int]bool{}
	tr := &stubTranscriber{before: func(seg media.Segment) {
		if seg.Index == 0 {
			swept, sweepErr = other.SweepStale(uploads)
			if _, err := os.Stat(srcPath); err != nil {
				missing[-1] = true
			}
		}
		if _, err := os.Stat(seg.Path); err != nil {
			missing[seg.Index] = true
		}
	}}
	p := New(Options{
		Segmenter:   &fakeSegmenter{n: 3},
		Transcriber: tr,
		WorkDir:     workDir,
		Log:         zerolog.Nop(),
	})

	res, err := p.Process(context.Background(), src, JobOptions{})
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if sweepErr != nil || swept != 0 {
		t.Errorf("SweepStale = %d, %v; want 0, nil", swept, sweepErr)
	}
	if len(missing) != 0 {
		t.Errorf("files removed under a running job: %v", missing)
	}
	if !res.Summary.Complete() {
		t.Errorf("summary failed = %v, want none", res.Summary.FailedIndices)
	}
}

func mustWrite(t *testing.T, path string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
}
