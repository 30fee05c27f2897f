package recovery

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/greenforestpath/meta-skill-sub001/internal/archive"
	"github.com/greenforestpath/meta-skill-sub001/internal/index"
	"github.com/greenforestpath/meta-skill-sub001/internal/lock"
	"github.com/greenforestpath/meta-skill-sub001/internal/skill"
	"github.com/greenforestpath/meta-skill-sub001/internal/tx"
)

func newTestManager(t *testing.T) (*Manager, *archive.Archive, *index.Store, string) {
	t.Helper()
	root := t.TempDir()

	a, err := archive.Open(filepath.Join(root, "archive"), zerolog.Nop())
	if err != nil {
		t.Fatalf("archive.Open() error: %v", err)
	}
	idx, err := index.Open(filepath.Join(root, "ms.db"))
	if err != nil {
		t.Fatalf("index.Open() error: %v", err)
	}
	t.Cleanup(func() { idx.Close() })

	txMgr := tx.New(a, idx, zerolog.Nop())
	lockPath := filepath.Join(root, "ms.lock")

	return New(root, lockPath, a, idx, txMgr, zerolog.Nop()), a, idx, lockPath
}

func TestDoctorCleanWorkspaceHasNoIssues(t *testing.T) {
	t.Parallel()
	m, _, _, _ := newTestManager(t)

	report, err := m.Doctor(context.Background(), true, false)
	if err != nil {
		t.Fatalf("Doctor() error: %v", err)
	}
	if len(report.Issues) != 0 {
		t.Fatalf("Doctor() on a clean workspace = %+v, want no issues", report.Issues)
	}
	if report.FixedCount != 0 {
		t.Fatalf("Doctor() FixedCount = %d, want 0", report.FixedCount)
	}
}

func TestDoctorBreaksStaleLock(t *testing.T) {
	t.Parallel()
	m, _, _, lockPath := newTestManager(t)

	h, err := lock.Acquire(lockPath, time.Second)
	if err != nil {
		t.Fatalf("lock.Acquire() error: %v", err)
	}
	_ = h.Release()
	// Rewrite the payload with a pid that cannot be alive so IsStale reports
	// true regardless of which real pid the test process happens to run as.
	payload := lock.Payload{PID: 1 << 30, Hostname: mustHostname(t), AcquiredAt: time.Now().UTC()}
	data, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	if err := os.WriteFile(lockPath+".json", data, 0o644); err != nil {
		t.Fatalf("write payload: %v", err)
	}

	report, err := m.Doctor(context.Background(), false, false)
	if err != nil {
		t.Fatalf("Doctor() error: %v", err)
	}
	if len(report.Issues) != 1 || report.Issues[0].Check != "lock" {
		t.Fatalf("Doctor() issues = %+v, want one lock issue", report.Issues)
	}
	if report.Issues[0].Fixed {
		t.Fatalf("Doctor() without fix should not have broken the lock: %+v", report.Issues[0])
	}

	fixed, err := m.Doctor(context.Background(), false, true)
	if err != nil {
		t.Fatalf("Doctor() with fix error: %v", err)
	}
	if fixed.FixedCount != 1 {
		t.Fatalf("Doctor() with fix FixedCount = %d, want 1", fixed.FixedCount)
	}
	if status, _ := lock.Status(lockPath); status != nil {
		t.Fatalf("lock.Status() after fix = %+v, want nil", status)
	}
}

func TestDoctorReplaysPendingTransaction(t *testing.T) {
	t.Parallel()
	m, _, idx, _ := newTestManager(t)
	ctx := context.Background()

	sk := skill.Skill{ID: "greet", Name: "Greeting", Version: "1.0.0", ContentHash: "deadbeef",
		Provenance: skill.Provenance{Layer: skill.LayerUser}, Body: "# hello\n"}
	planJSON, err := json.Marshal(struct {
		Action string      `json:"action"`
		Skill  skill.Skill `json:"skill"`
	}{Action: "put", Skill: sk})
	if err != nil {
		t.Fatalf("marshal plan: %v", err)
	}
	rec := skill.TxRecord{ID: "tx-crash", EntityType: "skill", Phase: skill.TxArchived, IndexPlan: string(planJSON)}
	if err := idx.InsertTxRecord(ctx, rec); err != nil {
		t.Fatalf("InsertTxRecord() error: %v", err)
	}

	report, err := m.Doctor(ctx, false, false)
	if err != nil {
		t.Fatalf("Doctor() error: %v", err)
	}
	if len(report.Issues) != 1 || report.Issues[0].Check != "tx_log" {
		t.Fatalf("Doctor() issues = %+v, want one tx_log issue", report.Issues)
	}

	fixed, err := m.Doctor(ctx, false, true)
	if err != nil {
		t.Fatalf("Doctor() with fix error: %v", err)
	}
	if fixed.FixedCount != 1 {
		t.Fatalf("Doctor() with fix FixedCount = %d, want 1", fixed.FixedCount)
	}

	got, err := idx.GetSkill(ctx, "greet", skill.LayerUser)
	if err != nil {
		t.Fatalf("GetSkill() after recovery error: %v", err)
	}
	if got.ContentHash != "deadbeef" {
		t.Fatalf("GetSkill() after recovery = %+v", got)
	}
}

func TestDoctorRemovesOrphanedStage(t *testing.T) {
	t.Parallel()
	m, a, _, _ := newTestManager(t)
	ctx := context.Background()

	stageDir, err := a.StageDir()
	if err != nil {
		t.Fatalf("StageDir() error: %v", err)
	}
	if err := os.WriteFile(filepath.Join(stageDir, "SKILL.md"), []byte("orphan"), 0o644); err != nil {
		t.Fatalf("write orphan file: %v", err)
	}

	report, err := m.Doctor(ctx, false, false)
	if err != nil {
		t.Fatalf("Doctor() error: %v", err)
	}
	if len(report.Issues) != 1 || report.Issues[0].Check != "orphaned_stages" {
		t.Fatalf("Doctor() issues = %+v, want one orphaned_stages issue", report.Issues)
	}

	fixed, err := m.Doctor(ctx, false, true)
	if err != nil {
		t.Fatalf("Doctor() with fix error: %v", err)
	}
	if fixed.FixedCount != 1 {
		t.Fatalf("Doctor() with fix FixedCount = %d, want 1", fixed.FixedCount)
	}
	remaining, err := a.StagedDirs()
	if err != nil {
		t.Fatalf("StagedDirs() error: %v", err)
	}
	if len(remaining) != 0 {
		t.Fatalf("StagedDirs() after fix = %+v, want none", remaining)
	}
}

func TestDoctorDetectsIndexArchiveMismatch(t *testing.T) {
	t.Parallel()
	m, _, idx, _ := newTestManager(t)
	ctx := context.Background()

	// A skill row in the index with nothing backing it in the archive
	// (e.g. the archive commit was rolled back out from under the index
	// by manual intervention).
	sk := skill.Skill{ID: "ghost", Name: "Ghost", Version: "1.0.0",
		Provenance: skill.Provenance{Layer: skill.LayerUser}}
	if err := idx.UpsertSkill(ctx, sk); err != nil {
		t.Fatalf("UpsertSkill() error: %v", err)
	}

	report, err := m.Doctor(ctx, false, false)
	if err != nil {
		t.Fatalf("Doctor() error: %v", err)
	}
	if len(report.Issues) != 1 || report.Issues[0].Check != "index_archive_consistency" {
		t.Fatalf("Doctor() issues = %+v, want one index_archive_consistency issue", report.Issues)
	}

	fixed, err := m.Doctor(ctx, false, true)
	if err != nil {
		t.Fatalf("Doctor() with fix error: %v", err)
	}
	if fixed.FixedCount != 1 {
		t.Fatalf("Doctor() with fix FixedCount = %d, want 1", fixed.FixedCount)
	}
	if _, err := idx.GetSkill(ctx, "ghost", skill.LayerUser); err == nil {
		t.Fatalf("GetSkill(ghost) after fix should be gone")
	}
}

func TestDoctorRunsIntegrityCheckOnlyWhenComprehensive(t *testing.T) {
	t.Parallel()
	m, _, _, _ := newTestManager(t)

	report, err := m.Doctor(context.Background(), false, false)
	if err != nil {
		t.Fatalf("Doctor() error: %v", err)
	}
	if _, ok := report.Durations["sqlite_integrity"]; !ok {
		t.Fatalf("Doctor() durations = %+v, want sqlite_integrity to still run (and no-op)", report.Durations)
	}
	for _, iss := range report.Issues {
		if iss.Check == "sqlite_integrity" {
			t.Fatalf("sqlite_integrity should report nothing on a healthy database: %+v", iss)
		}
	}
}

func mustHostname(t *testing.T) string {
	t.Helper()
	h, err := os.Hostname()
	if err != nil {
		t.Fatalf("os.Hostname() error: %v", err)
	}
	return h
}
