package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/snarg/segscribe/internal/pipeline"
)

// stageInput copies path into dir under a fresh name and describes it as
// pipeline source media.
func stageInput(path, dir string) (pipeline.SourceMedia, error) {
	in, err := os.Open(path)
	if err != nil {
		return pipeline.SourceMedia{}, err
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return pipeline.SourceMedia{}, err
	}
	if info.IsDir() {
		return pipeline.SourceMedia{}, fmt.Errorf("%s is a directory", path)
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return pipeline.SourceMedia{}, err
	}
	dst := filepath.Join(dir, uuid.NewString()+strings.ToLower(filepath.Ext(path)))
	out, err := os.Create(dst)
	if err != nil {
		return pipeline.SourceMedia{}, err
	}
	n, err := io.Copy(out, in)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(dst)
		return pipeline.SourceMedia{}, fmt.Errorf("copy %s: %w", path, err)
	}

	return pipeline.SourceMedia{Path: dst, Name: filepath.Base(path), Size: n}, nil
}
