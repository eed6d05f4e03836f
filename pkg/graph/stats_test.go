package graph

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/hansard-kg/engine/internal/timing"
	"github.com/hansard-kg/engine/pkg/common"
)

func TestRunStats_Add(t *testing.T) {
	a := RunStats{RunID: "r", WindowsProcessed: 2, LinksToKnown: 1, EndpointRefs: 4, Elapsed: time.Second}
	b := RunStats{RunID: "other", WindowsProcessed: 3, LinksToKnown: 3, EndpointRefs: 4, StoppedByBudget: true, StopReason: timing.StopDuration, Elapsed: 2 * time.Second}
	a.Add(b)

	if a.RunID != "r" || a.WindowsProcessed != 5 || a.Elapsed != 2*time.Second {
		t.Fatalf("unexpected totals %+v", a)
	}
	if !a.StoppedByBudget || a.StopReason != timing.StopDuration {
		t.Fatalf("expected the stop to carry over, got %+v", a)
	}
	if a.LinkRate() != 0.5 {
		t.Fatalf("expected link rate 0.5, got %v", a.LinkRate())
	}
	if (RunStats{}).LinkRate() != 0 {
		t.Fatalf("expected 0 link rate without endpoints")
	}
}

func TestRunStats_RecordResult(t *testing.T) {
	var s RunStats
	s.recordResult(Result{Kind: ResultValidated, Branch: PassRepair})
	s.recordResult(Result{Kind: ResultSchemaViolation, Branch: PassRepair})
	s.recordResult(Result{Kind: ResultParseFailure})
	s.recordProviderFailure()

	want := RunStats{
		WindowsProcessed:      4,
		WindowsSucceeded:      1,
		WindowsFailed:         3,
		WindowsParseFailed:    1,
		WindowsProviderFailed: 1,
		WindowsRepaired:       2,
	}
	if s != want {
		t.Fatalf("expected %+v, got %+v", want, s)
	}
}

func TestFailureRecord_Key(t *testing.T) {
	rec := FailureRecord{RunID: "r1", VideoID: "vid1", Kind: common.WindowDiscourse, Window: 7}
	if got := rec.Key(); got != "failed-windows/r1/vid1/discourse-0007.json" {
		t.Fatalf("unexpected key %q", got)
	}
}

func TestDirSink(t *testing.T) {
	dir := t.TempDir()
	w := waterBillWindow()
	res := Result{Kind: ResultSchemaViolation, Branch: PassRepair, Prompts: []string{"p1", "p2"}, Raw: []string{"{}", "{}"},
		Issues: []Issue{edgeIssue(0, "edge_predicate_invalid", "bad")}}
	rec := newFailureRecord("r1", w, res, errors.New("boom"))

	if err := (DirSink{Dir: dir}).SaveFailure(context.Background(), rec); err != nil {
		t.Fatalf("save: %v", err)
	}
	b, err := os.ReadFile(filepath.Join(dir, "failed-windows", "r1", "vid1", "concept-0000.json"))
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var got FailureRecord
	if err := json.Unmarshal(b, &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Outcome != ResultSchemaViolation || got.Error != "boom" || len(got.Prompts) != 2 || got.Issues[0].Code != "edge_predicate_invalid" {
		t.Fatalf("unexpected record %+v", got)
	}
}

func TestErrorWrapping(t *testing.T) {
	base := errors.New("boom")
	pe := providerErr("embed", base)
	if providerErr("again", pe) != pe {
		t.Fatalf("provider errors must not be wrapped twice")
	}
	if !errors.Is(pe, base) {
		t.Fatalf("provider error must unwrap to its cause")
	}
	se := storeErr("apply", base)
	var target *StoreError
	if !errors.As(se, &target) || target.Op != "apply" {
		t.Fatalf("expected *StoreError, got %v", se)
	}
	if providerErr("x", nil) != nil || storeErr("x", nil) != nil {
		t.Fatalf("nil errors must stay nil")
	}
}
