package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/snarg/segscribe/internal/media"
	"github.com/snarg/segscribe/internal/pipeline"
	"github.com/snarg/segscribe/internal/transcribe"
)

// mockJobRunner implements JobRunner for testing.
type mockJobRunner struct {
	calls       int
	lastSrc     pipeline.SourceMedia
	lastOpts    pipeline.JobOptions
	lastContent []byte
	result      *pipeline.Result
	err         error
}

func (m *mockJobRunner) Process(ctx context.Context, src pipeline.SourceMedia, opts pipeline.JobOptions) (*pipeline.Result, error) {
	m.calls++
	m.lastSrc = src
	m.lastOpts = opts
	m.lastContent, _ = os.ReadFile(src.Path)
	if m.err != nil {
		return nil, m.err
	}
	if m.result != nil {
		return m.result, nil
	}
	return &pipeline.Result{
		JobID:      "job-1",
		Transcript: "hello\n\nworld",
		Summary:    pipeline.Summary{JobID: "job-1", TotalSegments: 2, Succeeded: 2, FailedIndices: []int{}, SuccessPercentage: 100},
		Segments: []media.Segment{
			{Index: 0, Start: 0, Duration: 90},
			{Index: 1, Start: 90, Duration: 90},
		},
		Outcomes: []transcribe.Outcome{
			{Index: 0, Status: transcribe.StatusSuccess, Text: "hello", Attempts: 1},
			{Index: 1, Status: transcribe.StatusSuccess, Text: "world", Attempts: 1},
		},
	}, nil
}

func newTestUploadHandler(t *testing.T, mock *mockJobRunner, maxBytes int64) (*UploadHandler, string) {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "uploads")
	return NewUploadHandler(mock, dir, maxBytes, zerolog.Nop()), dir
}

func buildMultipartForm(t *testing.T, fields map[string]string, fileField string, fileData []byte, fileName string) (*bytes.Buffer, string) {
	t.Helper()
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	for k, v := range fields {
		if err := writer.WriteField(k, v); err != nil {
			t.Fatal(err)
		}
	}
	if fileData != nil && fileField != "" {
		part, err := writer.CreateFormFile(fileField, fileName)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := part.Write(fileData); err != nil {
			t.Fatal(err)
		}
	}
	if err := writer.Close(); err != nil {
		t.Fatal(err)
	}
	return body, writer.FormDataContentType()
}

func doUpload(t *testing.T, h *UploadHandler, body *bytes.Buffer, contentType, target string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest("POST", target, body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	h.Upload(rec, req)
	return rec
}

func TestUpload_Success(t *testing.T) {
	mock := &mockJobRunner{}
	h, dir := newTestUploadHandler(t, mock, 0)
	audio := bytes.Repeat([]byte("RIFF"), 512)
	body, ct := buildMultipartForm(t, map[string]string{"auto_detect": "on", "language": "DE"}, "file", audio, "../../Team Meeting.MP4")

	rec := doUpload(t, h, body, ct, "/api/v1/transcriptions")

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body: %s", rec.Code, rec.Body.String())
	}
	if mock.calls != 1 {
		t.Fatalf("Process calls = %d, want 1", mock.calls)
	}
	if !bytes.Equal(mock.lastContent, audio) {
		t.Errorf("pipeline saw %d bytes, want %d", len(mock.lastContent), len(audio))
	}
	if mock.lastSrc.Name != "Team Meeting.MP4" {
		t.Errorf("Name = %q, want base filename", mock.lastSrc.Name)
	}
	if mock.lastSrc.Size != int64(len(audio)) {
		t.Errorf("Size = %d, want %d", mock.lastSrc.Size, len(audio))
	}
	if filepath.Dir(mock.lastSrc.Path) != dir || filepath.Ext(mock.lastSrc.Path) != ".mp4" {
		t.Errorf("Path = %q, want <uploads>/<uuid>.mp4", mock.lastSrc.Path)
	}
	if !mock.lastOpts.AutoDetect || mock.lastOpts.Language != "de" {
		t.Errorf("opts = %+v, want auto-detect with language de", mock.lastOpts)
	}
	if _, err := os.Stat(mock.lastSrc.Path); !os.IsNotExist(err) {
		t.Error("upload file should be removed after the request")
	}

	var resp TranscriptionResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Transcript != "hello\n\nworld" || resp.JobID != "job-1" {
		t.Errorf("resp = %+v", resp)
	}
	if len(resp.Segments) != 2 || resp.Segments[1].Start != 90 {
		t.Errorf("segments = %+v", resp.Segments)
	}
	if resp.FailedSegments == nil || len(resp.FailedSegments) != 0 {
		t.Errorf("failed_segments = %v, want empty list", resp.FailedSegments)
	}
}

func TestUpload_PartialFailureStill200(t *testing.T) {
	mock := &mockJobRunner{result: &pipeline.Result{
		JobID:      "job-2",
		Transcript: "a\n\n[segment 1: transcription failed after 3 attempt(s) (speech service error)]",
		Summary:    pipeline.Summary{TotalSegments: 2, Succeeded: 1, Failed: 1, FailedIndices: []int{1}, SuccessPercentage: 50},
		Segments:   []media.Segment{{Index: 0, Duration: 90}, {Index: 1, Start: 90, Duration: 30}},
		Outcomes: []transcribe.Outcome{
			{Index: 0, Status: transcribe.StatusSuccess, Text: "a", Attempts: 1},
			{Index: 1, Status: transcribe.StatusFailed, Attempts: 3, FailureKind: transcribe.KindServiceError},
		},
	}}
	h, _ := newTestUploadHandler(t, mock, 0)
	body, ct := buildMultipartForm(t, nil, "file", []byte("audio-bytes"), "a.wav")

	rec := doUpload(t, h, body, ct, "/api/v1/transcriptions")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var resp TranscriptionResponse
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if len(resp.FailedSegments) != 1 {
		t.Fatalf("failed_segments = %+v, want 1 entry", resp.FailedSegments)
	}
	f := resp.FailedSegments[0]
	if f.Index != 1 || f.Start != 90 || f.Attempts != 3 || f.Kind != transcribe.KindServiceError {
		t.Errorf("failed segment = %+v", f)
	}
	if resp.Summary.SuccessPercentage != 50 {
		t.Errorf("success_percentage = %v, want 50", resp.Summary.SuccessPercentage)
	}
}

func TestUpload_TextFormat(t *testing.T) {
	for _, tc := range []struct{ name, target, accept string }{
		{"query", "/api/v1/transcriptions?format=text", ""},
		{"accept", "/api/v1/transcriptions", "text/plain"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			h, _ := newTestUploadHandler(t, &mockJobRunner{}, 0)
			body, ct := buildMultipartForm(t, nil, "file", []byte("audio"), "a.wav")
			req := httptest.NewRequest("POST", tc.target, body)
			req.Header.Set("Content-Type", ct)
			if tc.accept != "" {
				req.Header.Set("Accept", tc.accept)
			}
			rec := httptest.NewRecorder()
			h.Upload(rec, req)

			if !strings.HasPrefix(rec.Header().Get("Content-Type"), "text/plain") {
				t.Errorf("Content-Type = %q", rec.Header().Get("Content-Type"))
			}
			if rec.Body.String() != "hello\n\nworld" {
				t.Errorf("body = %q", rec.Body.String())
			}
		})
	}
}

func TestUpload_BadRequests(t *testing.T) {
	tests := []struct {
		name   string
		fields map[string]string
		file   []byte
		want   string
	}{
		{"missing_file", map[string]string{"auto_detect": "true"}, nil, "missing file"},
		{"empty_file", nil, []byte{}, "empty"},
		{"bad_auto_detect", map[string]string{"auto_detect": "maybe"}, []byte("x"), "auto_detect"},
		{"bad_language", map[string]string{"language": "en; rm -rf"}, []byte("x"), "language"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := &mockJobRunner{}
			h, dir := newTestUploadHandler(t, mock, 0)
			body, ct := buildMultipartForm(t, tt.fields, "file", tt.file, "a.wav")

			rec := doUpload(t, h, body, ct, "/api/v1/transcriptions")
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400", rec.Code)
			}
			if !strings.Contains(rec.Body.String(), tt.want) {
				t.Errorf("body = %q, want mention of %q", rec.Body.String(), tt.want)
			}
			if mock.calls != 0 {
				t.Error("pipeline should not run for a bad request")
			}
			entries, _ := os.ReadDir(dir)
			if len(entries) != 0 {
				t.Errorf("upload dir has %d leftover files", len(entries))
			}
		})
	}
}

func TestUpload_BadFieldAfterFile(t *testing.T) {
	tests := []struct {
		name  string
		write func(w *multipart.Writer) error
		want  string
	}{
		{"bad_language", func(w *multipart.Writer) error { return w.WriteField("language", "??") }, "language"},
		{"bad_auto_detect", func(w *multipart.Writer) error { return w.WriteField("auto_detect", "maybe") }, "auto_detect"},
		{"second_file", func(w *multipart.Writer) error {
			part, err := w.CreateFormFile("file", "b.wav")
			if err != nil {
				return err
			}
			_, err = part.Write([]byte("more audio"))
			return err
		}, "only one file"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := &mockJobRunner{}
			h, dir := newTestUploadHandler(t, mock, 0)

			body := &bytes.Buffer{}
			w := multipart.NewWriter(body)
			part, err := w.CreateFormFile("file", "a.wav")
			if err != nil {
				t.Fatal(err)
			}
			if _, err := part.Write([]byte("audio")); err != nil {
				t.Fatal(err)
			}
			if err := tt.write(w); err != nil {
				t.Fatal(err)
			}
			if err := w.Close(); err != nil {
				t.Fatal(err)
			}

			rec := doUpload(t, h, body, w.FormDataContentType(), "/api/v1/transcriptions")
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400", rec.Code)
			}
			if !strings.Contains(rec.Body.String(), tt.want) {
				t.Errorf("body = %q, want mention of %q", rec.Body.String(), tt.want)
			}
			if mock.calls != 0 {
				t.Error("pipeline should not run for a bad request")
			}
			entries, _ := os.ReadDir(dir)
			if len(entries) != 0 {
				t.Errorf("upload dir has %d leftover files", len(entries))
			}
		})
	}
}

func TestUpload_NotMultipart(t *testing.T) {
	h, _ := newTestUploadHandler(t, &mockJobRunner{}, 0)
	rec := doUpload(t, h, bytes.NewBufferString(`{"file":"x"}`), "application/json", "/api/v1/transcriptions")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestUpload_TooLarge(t *testing.T) {
	mock := &mockJobRunner{}
	h, _ := newTestUploadHandler(t, mock, 1024)
	body, ct := buildMultipartForm(t, nil, "file", bytes.Repeat([]byte{1}, 8192), "big.wav")

	rec := doUpload(t, h, body, ct, "/api/v1/transcriptions")
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("status = %d, want 413; body: %s", rec.Code, rec.Body.String())
	}
	if mock.calls != 0 {
		t.Error("pipeline should not run for an oversized upload")
	}
}

func TestUpload_JobErrors(t *testing.T) {
	segErr := &media.SegmentationError{Source: "a.wav", Err: media.ErrNoSegments}
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"segmentation", &pipeline.PipelineError{JobID: "j", Source: "a.wav", Err: segErr}, http.StatusInternalServerError},
		{"timeout", fmt.Errorf("%w: %w", pipeline.ErrCanceled, context.DeadlineExceeded), http.StatusGatewayTimeout},
		{"other", errors.New("disk full"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, _ := newTestUploadHandler(t, &mockJobRunner{err: tt.err}, 0)
			body, ct := buildMultipartForm(t, nil, "file", []byte("audio"), "a.wav")

			rec := doUpload(t, h, body, ct, "/api/v1/transcriptions")
			if rec.Code != tt.want {
				t.Fatalf("status = %d, want %d", rec.Code, tt.want)
			}
			var resp ErrorResponse
			if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if resp.Error == "" || resp.Detail == "" {
				t.Errorf("error body = %+v, want error and detail", resp)
			}
		})
	}
}

func TestParseFormBool(t *testing.T) {
	tests := []struct {
		in      string
		want    bool
		wantErr bool
	}{
		{"", false, false},
		{"on", true, false},
		{"true", true, false},
		{"1", true, false},
		{"off", false, false},
		{"0", false, false},
		{"perhaps", false, true},
	}
	for _, tt := range tests {
		got, err := parseFormBool(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("parseFormBool(%q) = %v, %v; want %v, err=%v", tt.in, got, err, tt.want, tt.wantErr)
		}
	}
}
