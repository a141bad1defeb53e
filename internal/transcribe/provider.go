package transcribe

import (
	"context"

	"github.com/snarg/segscribe/internal/media"
)

// Transcriber turns one audio segment into text.
type Transcriber interface {
	Transcribe(ctx context.Context, seg media.Segment, opts TranscribeOpts) (string, error)
}

// TranscriberFunc adapts a function to the Transcriber interface.
type TranscriberFunc func(ctx context.Context, seg media.Segment, opts TranscribeOpts) (string, error)

func (f TranscriberFunc) Transcribe(ctx context.Context, seg media.Segment, opts TranscribeOpts) (string, error) {
	return f(ctx, seg, opts)
}

// TranscribeOpts are per-request options.
type TranscribeOpts struct {
	Language   string // requested output language; ignored when AutoDetect
	AutoDetect bool   // let the service detect the source language
}
