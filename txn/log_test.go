package txn

import (
	"path/filepath"
	"testing"

	"github.com/raven-os/nest/plan"
	"github.com/raven-os/nest/pkgid"
)

func openTestLog(t *testing.T) *OperationLog {
	t.Helper()
	l, err := OpenLog(filepath.Join(t.TempDir(), "ops.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { l.Close() })
	return l
}

func samplePlan(t *testing.T) *plan.Plan {
	t.Helper()
	id, err := pkgid.Parse("stable::shell/dash#0.5.9")
	if err != nil {
		t.Fatal(err)
	}
	return &plan.Plan{Steps: []plan.Step{{Kind: plan.Install, New: id}}}
}

func TestOperationLogAppendIsMonotonic(t *testing.T) {
	l := openTestLog(t)
	id1, err := l.Append("requirement add shell/dash", samplePlan(t), []byte(`{}`))
	if err != nil {
		t.Fatal(err)
	}
	id2, err := l.Append("merge", samplePlan(t), []byte(`{}`))
	if err != nil {
		t.Fatal(err)
	}
	if id2 <= id1 {
		t.Fatalf("expected strictly increasing ids, got %d then %d", id1, id2)
	}
}

func TestOperationLogTruncateAfter(t *testing.T) {
	l := openTestLog(t)
	id1, _ := l.Append("op1", samplePlan(t), []byte(`{}`))
	_, _ = l.Append("op2", samplePlan(t), []byte(`{}`))
	_, _ = l.Append("op3", samplePlan(t), []byte(`{}`))

	if err := l.TruncateAfter(id1); err != nil {
		t.Fatal(err)
	}
	entries, err := l.Entries()
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].ID != id1 {
		t.Fatalf("expected only id %d to survive, got %+v", id1, entries)
	}
}

func TestEntriesSinceIsNewestFirst(t *testing.T) {
	l := openTestLog(t)
	id1, _ := l.Append("op1", samplePlan(t), []byte(`{}`))
	id2, _ := l.Append("op2", samplePlan(t), []byte(`{}`))

	since, err := l.EntriesSince(id1 - 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(since) != 2 || since[0].ID != id2 || since[1].ID != id1 {
		t.Fatalf("expected [id2, id1] newest first, got %+v", since)
	}
}
