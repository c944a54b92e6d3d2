package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"fieldsync/internal/models"
)

func TestBuildEnqueueRequestRemark(t *testing.T) {
	req, err := buildEnqueueRequest("REMARK_CREATE", enqueueOptions{target: "t-1", text: "crack in beam", priority: 1})
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	if req.Type != string(models.OpRemarkCreate) {
		t.Fatalf("expected remark_create, got %q", req.Type)
	}
	var remark models.Remark
	if err := json.Unmarshal(req.Payload, &remark); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if remark.TargetID != "t-1" || remark.Text != "crack in beam" || remark.Priority != 1 {
		t.Fatalf("unexpected payload: %+v", remark)
	}
}

func TestBuildEnqueueRequestPhotoDefaultsFileNameToImage(t *testing.T) {
	req, err := buildEnqueueRequest("photo_upload", enqueueOptions{image: "/tmp/shots/beam.jpg", target: "t-1"})
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	var photo models.PhotoUpload
	if err := json.Unmarshal(req.Payload, &photo); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if photo.FileName != "beam.jpg" {
		t.Fatalf("expected file name beam.jpg, got %q", photo.FileName)
	}
}

func TestBuildEnqueueRequestRejectsInvalidInput(t *testing.T) {
	tests := []struct {
		name   string
		opType string
		opts   enqueueOptions
	}{
		{name: "unknown type", opType: "teleport", opts: enqueueOptions{target: "t-1"}},
		{name: "remark without text", opType: "remark_create", opts: enqueueOptions{target: "t-1"}},
		{name: "remark priority out of range", opType: "remark_create", opts: enqueueOptions{target: "t-1", text: "x", priority: 9}},
		{name: "photo without file", opType: "photo_upload"},
		{name: "update without fields", opType: "record_update", opts: enqueueOptions{target: "t-1"}},
		{name: "delete without target", opType: "record_delete"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := buildEnqueueRequest(tc.opType, tc.opts); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestParseFieldAssignments(t *testing.T) {
	fields, err := parseFieldAssignments([]string{"status=closed", "floors=3", "checked=true", `tags=["a","b"]`})
	if err != nil {
		t.Fatalf("parse fields: %v", err)
	}
	if fields["status"] != "closed" {
		t.Fatalf("expected plain string, got %#v", fields["status"])
	}
	if fields["floors"] != float64(3) {
		t.Fatalf("expected JSON number, got %#v", fields["floors"])
	}
	if fields["checked"] != true {
		t.Fatalf("expected JSON bool, got %#v", fields["checked"])
	}
	if tags, ok := fields["tags"].([]any); !ok || len(tags) != 2 {
		t.Fatalf("expected JSON array, got %#v", fields["tags"])
	}

	if _, err := parseFieldAssignments([]string{"=x"}); err == nil {
		t.Fatal("expected error for empty key")
	}
	if _, err := parseFieldAssignments([]string{"novalue"}); err == nil {
		t.Fatal("expected error for missing '='")
	}
}

func TestLoadManifest(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ops.yaml")
	manifest := `operations:
  - type: remark_create
    idempotency_token: visit-1
    payload:
      target_id: t-1
      text: loose railing
      priority: 0
  - type: record_update
    payload:
      target_id: t-1
      fields:
        status: inspected
        floors: 2
`
	if err := os.WriteFile(path, []byte(manifest), 0o644); err != nil {
		t.Fatalf("write manifest: %v", err)
	}

	requests, err := loadManifest(path)
	if err != nil {
		t.Fatalf("load manifest: %v", err)
	}
	if len(requests) != 2 {
		t.Fatalf("expected 2 requests, got %d", len(requests))
	}
	if requests[0].IdempotencyToken != "visit-1" {
		t.Fatalf("expected token visit-1, got %q", requests[0].IdempotencyToken)
	}

	var update models.RecordUpdate
	if err := json.Unmarshal(requests[1].Payload, &update); err != nil {
		t.Fatalf("decode update payload: %v", err)
	}
	if update.Fields["status"] != "inspected" || update.Fields["floors"] != float64(2) {
		t.Fatalf("unexpected fields: %+v", update.Fields)
	}
}

func TestLoadManifestRejectsInvalidOperation(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ops.yaml")
	manifest := `operations:
  - type: record_delete
    payload: {}
`
	if err := os.WriteFile(path, []byte(manifest), 0o644); err != nil {
		t.Fatalf("write manifest: %v", err)
	}

	_, err := loadManifest(path)
	if err == nil || !strings.Contains(err.Error(), "operation 1") {
		t.Fatalf("expected error naming operation 1, got %v", err)
	}
}

func TestLoadManifestEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ops.yaml")
	if err := os.WriteFile(path, []byte("operations: []\n"), 0o644); err != nil {
		t.Fatalf("write manifest: %v", err)
	}
	if _, err := loadManifest(path); err == nil {
		t.Fatal("expected error for empty manifest")
	}
}

func TestParseOnOff(t *testing.T) {
	for _, raw := range []string{"on", "ONLINE", "true"} {
		if got, err := parseOnOff(raw); err != nil || !got {
			t.Fatalf("parseOnOff(%q) = %v, %v", raw, got, err)
		}
	}
	for _, raw := range []string{"off", "offline", "0"} {
		if got, err := parseOnOff(raw); err != nil || got {
			t.Fatalf("parseOnOff(%q) = %v, %v", raw, got, err)
		}
	}
	if _, err := parseOnOff("maybe"); err == nil {
		t.Fatal("expected error")
	}
}

func TestParseMetaFlags(t *testing.T) {
	meta, err := parseMetaFlags([]string{"lat=51.5", "note=a=b"})
	if err != nil {
		t.Fatalf("parse meta: %v", err)
	}
	if meta["lat"] != "51.5" || meta["note"] != "a=b" {
		t.Fatalf("unexpected meta: %v", meta)
	}
	if _, err := parseMetaFlags([]string{"bad"}); err == nil {
		t.Fatal("expected error")
	}
}
