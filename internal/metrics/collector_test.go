package metrics

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

type fakeStats int

func (f fakeStats) ActiveJobs() int { return int(f) }

func gauge(t *testing.T, reg *prometheus.Registry, name string) float64 {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	for _, mf := range families {
		if mf.GetName() == name {
			return mf.GetMetric()[0].GetGauge().GetValue()
		}
	}
	t.Fatalf("metric %s not found", name)
	return 0
}

func TestCollector(t *testing.T) {
	dir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dir, "job"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "job", "segment_000.wav"), make([]byte, 3000), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "upload.mp4"), make([]byte, 500), 0o644); err != nil {
		t.Fatal(err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(NewCollector(fakeStats(3), dir))

	if got := gauge(t, reg, "segscribe_active_jobs"); got != 3 {
		t.Errorf("active_jobs = %v, want 3", got)
	}
	if got := gauge(t, reg, "segscribe_work_dir_bytes"); got != 3500 {
		t.Errorf("work_dir_bytes = %v, want 3500", got)
	}
}

func TestCollector_NilStats(t *testing.T) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(NewCollector(nil, ""))

	if got := gauge(t, reg, "segscribe_active_jobs"); got != 0 {
		t.Errorf("active_jobs = %v, want 0", got)
	}
	if got := gauge(t, reg, "segscribe_work_dir_bytes"); got != 0 {
		t.Errorf("work_dir_bytes = %v, want 0", got)
	}
}
