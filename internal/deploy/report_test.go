package deploy

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestReportAppend(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "local", "reports")
	report := &Report{
		RunID:     "run-1",
		Target:    "testhost",
		RemoteDir: "/opt/eventbot",
		StartedAt: time.Now().UTC(),
		Stages: []StageRecord{
			{Name: StageSync, Status: StatusOK, DurationMS: 12, Detail: "2 files"},
			{Name: StageVerify, Status: StatusOK, Detail: "pids [4242]"},
		},
		Success: true,
		PIDs:    []int{4242},
	}

	if err := report.Append(dir); err != nil {
		t.Fatalf("append report: %v", err)
	}
	report.RunID = "run-2"
	if err := report.Append(dir); err != nil {
		t.Fatalf("append second report: %v", err)
	}

	raw, err := os.ReadFile(filepath.Join(dir, "deploys.jsonl"))
	if err != nil {
		t.Fatalf("read report file: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(raw)), "\n")
	if len(lines) != 2 {
		t.Fatalf("unexpected line count: %d", len(lines))
	}

	var decoded Report
	if err := json.Unmarshal([]byte(lines[0]), &decoded); err != nil {
		t.Fatalf("decode report line: %v", err)
	}
	if decoded.RunID != "run-1" {
		t.Fatalf("unexpected run id: %q", decoded.RunID)
	}
	if len(decoded.Stages) != 2 {
		t.Fatalf("unexpected stage count: %d", len(decoded.Stages))
	}
	if decoded.Stages[0].Name != StageSync || decoded.Stages[0].Status != StatusOK {
		t.Fatalf("unexpected first stage: %+v", decoded.Stages[0])
	}
}

func TestReportSummary(t *testing.T) {
	report := &Report{
		Target:     "testhost",
		DurationMS: 1500,
		Success:    false,
		Stages: []StageRecord{
			{Name: StageSync, Status: StatusOK},
			{Name: StageInstall, Status: StatusFailed},
			{Name: StageVerify, Status: StatusSkipped},
		},
	}

	summary := report.Summary()
	if !strings.Contains(summary, "deploy failed") {
		t.Fatalf("unexpected summary: %q", summary)
	}
	if !strings.Contains(summary, "target=testhost") {
		t.Fatalf("unexpected summary: %q", summary)
	}
	if !strings.Contains(summary, "failed=1") {
		t.Fatalf("unexpected summary: %q", summary)
	}
}
