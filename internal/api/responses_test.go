package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestWriteErrorDetail(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteErrorDetail(rec, http.StatusInternalServerError, "transcription failed", "ffmpeg: exit status 1")

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q", ct)
	}
	var resp ErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Error != "transcription failed" || resp.Detail != "ffmpeg: exit status 1" {
		t.Errorf("resp = %+v", resp)
	}
}

func TestWriteErrorOmitsEmptyDetail(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteError(rec, http.StatusBadRequest, "bad")
	if got := rec.Body.String(); got != "{\"error\":\"bad\"}\n" {
		t.Errorf("body = %q", got)
	}
}

func TestQueryStringList(t *testing.T) {
	req := httptest.NewRequest("GET", "/?types=segment,%20completed,,", nil)
	got := QueryStringList(req, "types")
	if len(got) != 2 || got[0] != "segment" || got[1] != "completed" {
		t.Errorf("QueryStringList = %q", got)
	}
	if QueryStringList(req, "missing") != nil {
		t.Error("missing param should be nil")
	}
}
