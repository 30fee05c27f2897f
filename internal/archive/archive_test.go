package archive

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"

	"github.com/greenforestpath/meta-skill-sub001/internal/apperr"
	"github.com/greenforestpath/meta-skill-sub001/internal/skill"
)

func newTestArchive(t *testing.T) *Archive {
	t.Helper()
	a, err := Open(t.TempDir(), zerolog.Nop())
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	return a
}

func writeStagedSkill(t *testing.T, a *Archive, files map[string]string) string {
	t.Helper()
	stage, err := a.StageDir()
	if err != nil {
		t.Fatalf("StageDir() error: %v", err)
	}
	for name, content := range files {
		full := filepath.Join(stage, name)
		if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
		if err := os.WriteFile(full, []byte(content), 0o644); err != nil {
			t.Fatalf("write staged file: %v", err)
		}
	}
	return stage
}

func TestPutAndGetRoundTrip(t *testing.T) {
	t.Parallel()
	a := newTestArchive(t)

	stage := writeStagedSkill(t, a, map[string]string{"SKILL.md": "# hello\n"})
	commit, err := a.Put("greet", skill.LayerUser, stage, "create", "deadbeef", "tester", "tester@example.com")
	if err != nil {
		t.Fatalf("Put() error: %v", err)
	}
	if commit == "" {
		t.Fatal("Put() returned empty commit hash")
	}

	files, err := a.Get("greet", skill.LayerUser, "")
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if string(files["SKILL.md"]) != "# hello\n" {
		t.Fatalf("Get() SKILL.md = %q", files["SKILL.md"])
	}
}

func TestGetMissingSkillReturnsNotFound(t *testing.T) {
	t.Parallel()
	a := newTestArchive(t)

	_, err := a.Get("nope", skill.LayerUser, "")
	if !apperr.Is(err, apperr.NotFound) {
		t.Fatalf("Get() error = %v, want NotFound", err)
	}
}

func TestPutTwiceUpdatesContentAndHistory(t *testing.T) {
	t.Parallel()
	a := newTestArchive(t)

	stage1 := writeStagedSkill(t, a, map[string]string{"SKILL.md": "v1"})
	if _, err := a.Put("greet", skill.LayerUser, stage1, "create", "h1", "t", "t@example.com"); err != nil {
		t.Fatalf("first Put() error: %v", err)
	}

	stage2 := writeStagedSkill(t, a, map[string]string{"SKILL.md": "v2"})
	if _, err := a.Put("greet", skill.LayerUser, stage2, "update", "h2", "t", "t@example.com"); err != nil {
		t.Fatalf("second Put() error: %v", err)
	}

	files, err := a.Get("greet", skill.LayerUser, "")
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if string(files["SKILL.md"]) != "v2" {
		t.Fatalf("Get() SKILL.md = %q, want v2", files["SKILL.md"])
	}

	history, err := a.History("greet", skill.LayerUser, 0)
	if err != nil {
		t.Fatalf("History() error: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("History() returned %d commits, want 2", len(history))
	}
	if history[0].Message != "update:greet:h2" {
		t.Fatalf("History()[0].Message = %q", history[0].Message)
	}
}

func TestDeleteRemovesSkill(t *testing.T) {
	t.Parallel()
	a := newTestArchive(t)

	stage := writeStagedSkill(t, a, map[string]string{"SKILL.md": "v1"})
	if _, err := a.Put("greet", skill.LayerUser, stage, "create", "h1", "t", "t@example.com"); err != nil {
		t.Fatalf("Put() error: %v", err)
	}

	if _, err := a.Delete("greet", skill.LayerUser, "t", "t@example.com"); err != nil {
		t.Fatalf("Delete() error: %v", err)
	}

	if _, err := a.Get("greet", skill.LayerUser, ""); !apperr.Is(err, apperr.NotFound) {
		t.Fatalf("Get() after Delete() = %v, want NotFound", err)
	}
}

func TestHistoryRespectsLimit(t *testing.T) {
	t.Parallel()
	a := newTestArchive(t)

	for i := 0; i < 3; i++ {
		stage := writeStagedSkill(t, a, map[string]string{"SKILL.md": string(rune('a' + i))})
		if _, err := a.Put("greet", skill.LayerUser, stage, "update", "h", "t", "t@example.com"); err != nil {
			t.Fatalf("Put() error: %v", err)
		}
	}

	history, err := a.History("greet", skill.LayerUser, 2)
	if err != nil {
		t.Fatalf("History() error: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("History() returned %d entries, want 2", len(history))
	}
}

func TestCleanOrphanedStagesRemovesUnreferencedDirs(t *testing.T) {
	t.Parallel()
	a := newTestArchive(t)

	orphan, err := a.StageDir()
	if err != nil {
		t.Fatalf("StageDir() error: %v", err)
	}
	kept, err := a.StageDir()
	if err != nil {
		t.Fatalf("StageDir() error: %v", err)
	}

	removed, err := a.CleanOrphanedStages(map[string]bool{kept: true})
	if err != nil {
		t.Fatalf("CleanOrphanedStages() error: %v", err)
	}
	if len(removed) != 1 || removed[0] != orphan {
		t.Fatalf("CleanOrphanedStages() removed = %v, want [%s]", removed, orphan)
	}
	if _, err := os.Stat(kept); err != nil {
		t.Fatalf("kept stage directory was removed: %v", err)
	}
}
