package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
	"github.com/snarg/segscribe/internal/pipeline"
	"github.com/snarg/segscribe/internal/transcribe"
)

const maxFieldBytes = 1024

var languageRe = regexp.MustCompile(`^[A-Za-z]{2,3}([-_][A-Za-z0-9]{2,8})?$`)

// JobRunner runs one transcription job. *pipeline.Pipeline implements it.
type JobRunner interface {
	Process(ctx context.Context, src pipeline.SourceMedia, opts pipeline.JobOptions) (*pipeline.Result, error)
}

// TranscriptionResponse is the body of a completed upload, including runs
// where some segments failed.
type TranscriptionResponse struct {
	JobID          string           `json:"job_id"`
	Transcript     string           `json:"transcript"`
	Summary        pipeline.Summary `json:"summary"`
	FailedSegments []FailedSegment  `json:"failed_segments"`
	Segments       []SegmentResult  `json:"segments"`
}

// FailedSegment lists a segment whose text is a placeholder.
type FailedSegment struct {
	Index    int             `json:"index"`
	Start    float64         `json:"start"`
	Attempts int             `json:"attempts"`
	Kind     transcribe.Kind `json:"kind"`
}

// SegmentResult is the per-segment record returned to the client.
type SegmentResult struct {
	Index       int               `json:"index"`
	Start       float64           `json:"start"`
	Duration    float64           `json:"duration"`
	Status      transcribe.Status `json:"status"`
	Attempts    int               `json:"attempts"`
	FailureKind transcribe.Kind   `json:"failure_kind,omitempty"`
}

// UploadHandler accepts a media upload and runs it through the pipeline.
type UploadHandler struct {
	jobs      JobRunner
	uploadDir string
	maxBytes  int64
	log       zerolog.Logger
}

// NewUploadHandler creates a new upload handler. Uploads are streamed into
// uploadDir; the pipeline deletes them when the job ends.
func NewUploadHandler(jobs JobRunner, uploadDir string, maxBytes int64, log zerolog.Logger) *UploadHandler {
	return &UploadHandler{
		jobs:      jobs,
		uploadDir: uploadDir,
		maxBytes:  maxBytes,
		log:       log.With().Str("handler", "upload").Logger(),
	}
}

// Routes registers the upload endpoint.
func (h *UploadHandler) Routes(r chi.Router) {
	r.Post("/transcriptions", h.Upload)
}

// Upload handles POST /api/v1/transcriptions.
// Multipart fields: file (required), auto_detect (bool), language.
// Responds 200 for every completed job, partial failures included; 500
// only when no audio could be segmented.
func (h *UploadHandler) Upload(w http.ResponseWriter, r *http.Request) {
	if h.maxBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.maxBytes)
	}

	form, err := h.readForm(r)
	if form != nil && form.src.Path != "" {
		defer os.Remove(form.src.Path)
	}
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			WriteErrorDetail(w, http.StatusRequestEntityTooLarge, "upload too large",
				fmt.Sprintf("limit is %d bytes", tooLarge.Limit))
			return
		}
		WriteErrorDetail(w, http.StatusBadRequest, "invalid upload", err.Error())
		return
	}

	log := hlog.FromRequest(r)
	log.Info().
		Str("file", form.src.Name).
		Int64("bytes", form.src.Size).
		Bool("auto_detect", form.opts.AutoDetect).
		Msg("transcription requested")

	res, err := h.jobs.Process(r.Context(), form.src, form.opts)
	if err != nil {
		h.writeJobError(w, r, err)
		return
	}

	if wantsText(r) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		io.WriteString(w, res.Transcript)
		return
	}
	WriteJSON(w, http.StatusOK, newTranscriptionResponse(res))
}

func (h *UploadHandler) writeJobError(w http.ResponseWriter, r *http.Request, err error) {
	log := hlog.FromRequest(r)
	var pe *pipeline.PipelineError
	switch {
	case errors.As(err, &pe):
		log.Error().Err(err).Str("job_id", pe.JobID).Msg("transcription job failed")
		WriteErrorDetail(w, http.StatusInternalServerError, "transcription failed", err.Error())
	case errors.Is(err, pipeline.ErrCanceled) && r.Context().Err() != nil:
		log.Warn().Err(err).Msg("client went away, job abandoned")
	case errors.Is(err, pipeline.ErrCanceled):
		WriteErrorDetail(w, http.StatusGatewayTimeout, "transcription timed out", err.Error())
	default:
		log.Error().Err(err).Msg("transcription job error")
		WriteErrorDetail(w, http.StatusInternalServerError, "transcription failed", err.Error())
	}
}

type uploadForm struct {
	src  pipeline.SourceMedia
	opts pipeline.JobOptions
}

// readForm streams the multipart body, writing the file part straight to
// disk so large uploads are never held in memory.
func (h *UploadHandler) readForm(r *http.Request) (*uploadForm, error) {
	mr, err := r.MultipartReader()
	if err != nil {
		return nil, fmt.Errorf("expected multipart/form-data: %w", err)
	}
	if err := os.MkdirAll(h.uploadDir, 0o755); err != nil {
		return nil, fmt.Errorf("prepare upload dir: %w", err)
	}

	form := &uploadForm{}
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			return form, err
		}

		err = h.readPart(part, form)
		part.Close()
		if err != nil {
			return form, err
		}
	}

	if form.src.Path == "" {
		return form, errors.New("missing file field")
	}
	if form.src.Size == 0 {
		return form, errors.New("uploaded file is empty")
	}
	return form, nil
}

// readPart consumes one form part into form. The caller closes part.
func (h *UploadHandler) readPart(part *multipart.Part, form *uploadForm) error {
	switch part.FormName() {
	case "file":
		if form.src.Path != "" {
			return errors.New("only one file may be uploaded")
		}
		return h.saveFile(part.FileName(), part, form)
	case "auto_detect":
		v, err := readField(part)
		if err != nil {
			return err
		}
		b, err := parseFormBool(v)
		if err != nil {
			return fmt.Errorf("invalid auto_detect %q", v)
		}
		form.opts.AutoDetect = b
	case "language":
		v, err := readField(part)
		if err != nil {
			return err
		}
		if v != "" && !languageRe.MatchString(v) {
			return fmt.Errorf("invalid language %q", v)
		}
		form.opts.Language = strings.ToLower(v)
	}
	return nil
}

func (h *UploadHandler) saveFile(name string, src io.Reader, form *uploadForm) error {
	name = filepath.Base(name)
	if name == "." || name == string(filepath.Separator) || name == "" {
		name = "upload"
	}
	path := filepath.Join(h.uploadDir, uuid.NewString()+strings.ToLower(filepath.Ext(name)))

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create upload file: %w", err)
	}
	form.src.Path = path
	form.src.Name = name

	n, err := io.Copy(f, src)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return err
	}
	form.src.Size = n
	return nil
}

func readField(r io.Reader) (string, error) {
	b, err := io.ReadAll(io.LimitReader(r, maxFieldBytes))
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(b)), nil
}

// parseFormBool accepts strconv booleans plus HTML checkbox values.
func parseFormBool(v string) (bool, error) {
	switch strings.ToLower(v) {
	case "":
		return false, nil
	case "on", "yes":
		return true, nil
	case "off", "no":
		return false, nil
	}
	return strconv.ParseBool(v)
}

func wantsText(r *http.Request) bool {
	if v, ok := QueryString(r, "format"); ok {
		return v == "text"
	}
	mt, _, err := mime.ParseMediaType(r.Header.Get("Accept"))
	return err == nil && mt == "text/plain"
}

func newTranscriptionResponse(res *pipeline.Result) TranscriptionResponse {
	starts := make(map[int]float64, len(res.Segments))
	durations := make(map[int]float64, len(res.Segments))
	for _, s := range res.Segments {
		starts[s.Index] = s.Start
		durations[s.Index] = s.Duration
	}

	resp := TranscriptionResponse{
		JobID:          res.JobID,
		Transcript:     res.Transcript,
		Summary:        res.Summary,
		FailedSegments: []FailedSegment{},
		Segments:       make([]SegmentResult, 0, len(res.Outcomes)),
	}
	for _, o := range res.Outcomes {
		resp.Segments = append(resp.Segments, SegmentResult{
			Index:       o.Index,
			Start:       starts[o.Index],
			Duration:    durations[o.Index],
			Status:      o.Status,
			Attempts:    o.Attempts,
			FailureKind: o.FailureKind,
		})
		if o.Status == transcribe.StatusFailed {
			resp.FailedSegments = append(resp.FailedSegments, FailedSegment{
				Index:    o.Index,
				Start:    starts[o.Index],
				Attempts: o.Attempts,
				Kind:     o.FailureKind,
			})
		}
	}
	return resp
}
