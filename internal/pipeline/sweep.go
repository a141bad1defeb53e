package pipeline

import (
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
)

// sweepGrace is added to the job timeout before a leftover entry counts as
// abandoned. It covers upload streaming and cleanup after the deadline.
const sweepGrace = time.Minute

// SweepStale removes job workspaces and uploads left behind by a previous
// process. Only entries untouched for longer than the job timeout plus
// sweepGrace are removed, so jobs still running in this or another process
// sharing the work directory keep their files. Returns the number of
// entries removed.
func (p *Pipeline) SweepStale(uploadDir string) (int, error) {
	cutoff := time.Now().Add(-p.staleAfter())
	removed := 0
	entries, err := os.ReadDir(p.workDir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}
	for _, e := range entries {
		if !e.IsDir() || uuid.Validate(e.Name()) != nil || !modifiedBefore(e, cutoff) {
			continue
		}
		if err := os.RemoveAll(filepath.Join(p.workDir, e.Name())); err != nil {
			p.log.Warn().Err(err).Str("dir", e.Name()).Msg("failed to remove stale workspace")
			continue
		}
		removed++
	}

	if uploadDir == "" {
		return removed, nil
	}
	uploads, err := os.ReadDir(uploadDir)
	if err != nil && !os.IsNotExist(err) {
		return removed, err
	}
	for _, e := range uploads {
		if e.IsDir() || !modifiedBefore(e, cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(uploadDir, e.Name())); err == nil {
			removed++
		}
	}
	if removed > 0 {
		p.log.Info().Int("removed", removed).Msg("swept stale job files")
	}
	return removed, nil
}

// staleAfter is the age past which no live job can still own a file.
func (p *Pipeline) staleAfter() time.Duration {
	timeout := p.timeout
	if timeout <= 0 {
		timeout = DefaultJobTimeout
	}
	return timeout + sweepGrace
}

func modifiedBefore(e os.DirEntry, cutoff time.Time) bool {
	info, err := e.Info()
	if err != nil {
		return false
	}
	return info.ModTime().Before(cutoff)
}
