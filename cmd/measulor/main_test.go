package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/example/measulor/internal/avatar"
	"github.com/example/measulor/internal/inference"
)

var pngBytes = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")

func runCLI(t *testing.T, stdin string, args ...string) (string, string, error) {
	t.Helper()
	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func writeFile(t *testing.T, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestCaptureWithMockPrintsTable(t *testing.T) {
	image := writeFile(t, "front.png", pngBytes)

	stdout, stderr, err := runCLI(t, "", "capture", "--mock", "--seed", "4", image)
	if err != nil {
		t.Fatalf("capture: %v (stderr: %s)", err, stderr)
	}
	for _, want := range []string{"[uploading]", "[processing]", "[done]"} {
		if !strings.Contains(stderr, want) {
			t.Fatalf("expected %s in progress output:\n%s", want, stderr)
		}
	}
	if !strings.Contains(stdout, "Processed in") {
		t.Fatalf("expected elapsed time, got:\n%s", stdout)
	}
	for _, r := range inference.DefaultMockRanges {
		if !strings.Contains(stdout, r.Name) {
			t.Fatalf("expected %s in table:\n%s", r.Name, stdout)
		}
	}
}

func TestCaptureJSONIncludesAvatar(t *testing.T) {
	image := writeFile(t, "front.png", pngBytes)

	stdout, _, err := runCLI(t, "", "capture", "--mock", "--seed", "4", "--json", "--avatar", image)
	if err != nil {
		t.Fatalf("capture: %v", err)
	}

	var report struct {
		State        string             `json:"state"`
		CaptureID    string             `json:"capture_id"`
		Measurements map[string]float64 `json:"measurements"`
		Avatar       avatar.Description `json:"avatar"`
	}
	if err := json.Unmarshal([]byte(stdout), &report); err != nil {
		t.Fatalf("decode report: %v\n%s", err, stdout)
	}
	if report.State != "done" || report.CaptureID == "" {
		t.Fatalf("unexpected report header: %+v", report)
	}
	if len(report.Measurements) != len(inference.DefaultMockRanges) {
		t.Fatalf("expected %d measurements, got %v", len(inference.DefaultMockRanges), report.Measurements)
	}
	if len(report.Avatar.Primitives) != 10 {
		t.Fatalf("expected 10 avatar primitives, got %d", len(report.Avatar.Primitives))
	}
}

func TestCaptureReportsEndpointFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer secret-token" {
			t.Errorf("missing bearer token, got %q", r.Header.Get("Authorization"))
		}
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"success":false,"message":"model offline"}`))
	}))
	defer srv.Close()

	image := writeFile(t, "front.png", pngBytes)
	stdout, stderr, err := runCLI(t, "", "capture", "--endpoint", srv.URL, "--token", "secret-token", image)
	if !errors.Is(err, errCaptureFailed) {
		t.Fatalf("expected errCaptureFailed, got %v", err)
	}
	if !strings.Contains(stderr, "[error]") {
		t.Fatalf("expected error transition, got:\n%s", stderr)
	}
	if !strings.Contains(stdout, "Measurement failed (status)") || !strings.Contains(stdout, "model offline") {
		t.Fatalf("expected failure summary, got:\n%s", stdout)
	}
}

func TestCaptureRejectsBadInput(t *testing.T) {
	if _, _, err := runCLI(t, "", "capture", filepath.Join(t.TempDir(), "missing.png")); err == nil {
		t.Fatal("expected error for missing file")
	}

	text := writeFile(t, "notes.txt", []byte("not an image"))
	if _, _, err := runCLI(t, "", "capture", "--mock", text); !errors.Is(err, inference.ErrUnsupportedImage) {
		t.Fatalf("expected unsupported image error, got %v", err)
	}

	empty := writeFile(t, "empty.png", nil)
	if _, _, err := runCLI(t, "", "capture", "--mock", empty); !errors.Is(err, inference.ErrNoImage) {
		t.Fatalf("expected no image error, got %v", err)
	}

	image := writeFile(t, "front.png", pngBytes)
	if _, _, err := runCLI(t, "", "capture", "--mock", "--grpc", "localhost:1", image); err == nil {
		t.Fatal("expected --mock and --grpc to conflict")
	}
}

func TestAvatarCommand(t *testing.T) {
	set := writeFile(t, "set.json", []byte(`{"Shoulder Width": 44, "Leg Length": 90}`))

	stdout, _, err := runCLI(t, "", "avatar", set)
	if err != nil {
		t.Fatalf("avatar: %v", err)
	}
	if !strings.Contains(stdout, "0.440") || !strings.Contains(stdout, "0.900") {
		t.Fatalf("expected scaled dimensions, got:\n%s", stdout)
	}
	if !strings.Contains(stdout, "0.110") {
		t.Fatalf("expected head radius from shoulder width, got:\n%s", stdout)
	}
}

func TestAvatarCommandReadsCaptureReportFromStdin(t *testing.T) {
	report := `{"state":"done","capture_id":"c1","measurements":{"Hip Width":37}}`

	stdout, _, err := runCLI(t, report, "avatar", "--json", "-")
	if err != nil {
		t.Fatalf("avatar: %v", err)
	}
	var desc avatar.Description
	if err := json.Unmarshal([]byte(stdout), &desc); err != nil {
		t.Fatalf("decode avatar: %v", err)
	}
	if math.Abs(desc.Dimensions.HipWidth-0.37) > 1e-9 {
		t.Fatalf("expected hip width 0.37, got %v", desc.Dimensions.HipWidth)
	}
	if math.Abs(desc.Dimensions.ShoulderWidth-0.4) > 1e-9 {
		t.Fatalf("expected default shoulder width 0.4, got %v", desc.Dimensions.ShoulderWidth)
	}
}

func TestRenderTableFormatsNumberColumns(t *testing.T) {
	out := renderTable(table.Row{"Name", "Value"}, []table.Row{{"Inseam", 77.25}, {"only"}}, numberColumn(2, "%.1f cm"))
	if !strings.Contains(out, "77.2 cm") && !strings.Contains(out, "77.3 cm") {
		t.Fatalf("expected formatted value, got:\n%s", out)
	}
	if !strings.Contains(out, "only") {
		t.Fatalf("expected short row to render, got:\n%s", out)
	}
	if renderTable(nil, nil) != "" {
		t.Fatal("expected empty output without a header")
	}
}
