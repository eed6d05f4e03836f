package graph

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/hansard-kg/engine/pkg/common"
)

// FailureRecord keeps everything needed to inspect a window offline.
type FailureRecord struct {
	RunID   string            `json:"run_id"`
	VideoID string            `json:"youtube_video_id"`
	Window  int               `json:"window"`
	Kind    common.WindowKind `json:"kind"`
	Outcome ResultKind        `json:"outcome"`
	Branch  string            `json:"branch,omitempty"`
	Error   string            `json:"error,omitempty"`
	Issues  []Issue           `json:"issues,omitempty"`
	Prompts []string          `json:"prompts,omitempty"`
	Raw     []string          `json:"raw_responses,omitempty"`
}

// Key is the object path a record is stored under.
func (r FailureRecord) Key() string {
	return fmt.Sprintf("failed-windows/%s/%s/%s-%04d.json", r.RunID, r.VideoID, r.Kind, r.Window)
}

func newFailureRecord(runID string, w common.Window, res Result, err error) FailureRecord {
	rec := FailureRecord{
		RunID:   runID,
		VideoID: w.VideoID,
		Window:  w.Index,
		Kind:    w.Kind,
		Outcome: res.Kind,
		Branch:  res.Branch,
		Issues:  res.Issues,
		Prompts: res.Prompts,
		Raw:     res.Raw,
	}
	if err != nil {
		rec.Error = err.Error()
	}
	return rec
}

// FailureSink retains failed (or, in debug runs, all) windows.
type FailureSink interface {
	SaveFailure(ctx context.Context, rec FailureRecord) error
}

// DirSink writes records as JSON files below Dir.
type DirSink struct {
	Dir string
}

func (s DirSink) SaveFailure(ctx context.Context, rec FailureRecord) error {
	path := filepath.Join(s.Dir, filepath.FromSlash(rec.Key()))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create failure dir: %w", err)
	}
	b, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0o644)
}
