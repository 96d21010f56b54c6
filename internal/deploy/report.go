package deploy

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigFastest

type Status string

const (
	StatusOK      Status = "ok"
	StatusFailed  Status = "failed"
	StatusSkipped Status = "skipped"
)

// StageRecord is the report entry for one pipeline stage.
type StageRecord struct {
	Name       string `json:"name"`
	Status     Status `json:"status"`
	DurationMS int64  `json:"duration_ms"`
	Detail     string `json:"detail,omitempty"`
	Error      string `json:"error,omitempty"`
}

// Report is the durable record of one deployment run, appended as one
// JSON line per run.
type Report struct {
	RunID      string        `json:"run_id"`
	Target     string        `json:"target"`
	RemoteDir  string        `json:"remote_dir"`
	StartedAt  time.Time     `json:"started_at"`
	DurationMS int64         `json:"duration_ms"`
	Stages     []StageRecord `json:"stages"`
	Success    bool          `json:"success"`
	PIDs       []int         `json:"pids,omitempty"`
	LogTail    string        `json:"log_tail,omitempty"`
}

// Stage returns the record with the given name, if present.
func (r *Report) Stage(name string) (StageRecord, bool) {
	for _, record := range r.Stages {
		if record.Name == name {
			return record, true
		}
	}
	return StageRecord{}, false
}

// Append persists the report as one line of deploys.jsonl under dir.
func (r *Report) Append(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	line, err := json.Marshal(r)
	if err != nil {
		return err
	}

	file, err := os.OpenFile(filepath.Join(dir, "deploys.jsonl"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	defer file.Close()

	if _, err := file.Write(append(line, '\n')); err != nil {
		return err
	}
	return nil
}

// Summary renders a one-line human outcome for terminal output.
func (r *Report) Summary() string {
	ok := 0
	failed := 0
	skipped := 0
	for _, record := range r.Stages {
		switch record.Status {
		case StatusOK:
			ok++
		case StatusFailed:
			failed++
		case StatusSkipped:
			skipped++
		}
	}
	outcome := "succeeded"
	if !r.Success {
		outcome = "failed"
	}
	return fmt.Sprintf("deploy %s target=%s stages_ok=%d failed=%d skipped=%d in %dms",
		outcome, r.Target, ok, failed, skipped, r.DurationMS)
}
