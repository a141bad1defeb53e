package api

import (
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/snarg/segscribe/internal/media"
)

type HealthResponse struct {
	Status        string            `json:"status"`
	Version       string            `json:"version"`
	UptimeSeconds int64             `json:"uptime_seconds"`
	ActiveJobs    int               `json:"active_jobs"`
	Checks        map[string]string `json:"checks"`
}

// ActiveJobCounter reports in-flight jobs. *pipeline.Pipeline implements it.
type ActiveJobCounter interface {
	ActiveJobs() int
}

// ConnChecker reports broker connectivity. *mqttclient.Client implements it.
type ConnChecker interface {
	IsConnected() bool
}

type HealthHandler struct {
	ffmpegPath  string
	ffprobePath string
	workDir     string
	jobs        ActiveJobCounter
	mqtt        ConnChecker
	version     string
	startTime   time.Time

	lookPath func(string) bool
}

// NewHealthHandler creates a health handler. jobs and mqtt may be nil.
func NewHealthHandler(ffmpegPath, ffprobePath, workDir string, jobs ActiveJobCounter, mqtt ConnChecker, version string, startTime time.Time) *HealthHandler {
	return &HealthHandler{
		ffmpegPath:  ffmpegPath,
		ffprobePath: ffprobePath,
		workDir:     workDir,
		jobs:        jobs,
		mqtt:        mqtt,
		version:     version,
		startTime:   startTime,
		lookPath:    media.Available,
	}
}

func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	checks := make(map[string]string)
	status := "healthy"
	httpStatus := http.StatusOK

	// ffmpeg is required for every job
	if h.lookPath(h.ffmpegPath) {
		checks["ffmpeg"] = "ok"
	} else {
		checks["ffmpeg"] = "missing"
		status = "unhealthy"
		httpStatus = http.StatusServiceUnavailable
	}

	// ffprobe only feeds coverage validation
	if h.lookPath(h.ffprobePath) {
		checks["ffprobe"] = "ok"
	} else {
		checks["ffprobe"] = "missing"
		if status == "healthy" {
			status = "degraded"
		}
	}

	if err := checkWritable(h.workDir); err != nil {
		checks["work_dir"] = "error"
		status = "unhealthy"
		httpStatus = http.StatusServiceUnavailable
	} else {
		checks["work_dir"] = "ok"
	}

	if h.mqtt != nil {
		if h.mqtt.IsConnected() {
			checks["mqtt"] = "ok"
		} else {
			checks["mqtt"] = "disconnected"
			if status == "healthy" {
				status = "degraded"
			}
		}
	} else {
		checks["mqtt"] = "not_configured"
	}

	active := 0
	if h.jobs != nil {
		active = h.jobs.ActiveJobs()
	}

	WriteJSON(w, httpStatus, HealthResponse{
		Status:        status,
		Version:       h.version,
		UptimeSeconds: int64(time.Since(h.startTime).Seconds()),
		ActiveJobs:    active,
		Checks:        checks,
	})
}

func checkWritable(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	f, err := os.CreateTemp(dir, ".health-*")
	if err != nil {
		return err
	}
	name := f.Name()
	f.Close()
	return os.Remove(filepath.Clean(name))
}
