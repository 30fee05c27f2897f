package contextscore

import (
	"math"
	"testing"

	"github.com/greenforestpath/meta-skill-sub001/internal/skill"
)

func approxEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestScorePerfectMatchIsOne(t *testing.T) {
	t.Parallel()
	tags := skill.ContextTags{
		ProjectTypes: []string{"go"},
		FilePatterns: []string{"*.go"},
		Tools:        []string{"go"},
		Signals:      []skill.ContextSignal{{Regex: "package main", Weight: 1.0}},
	}
	wctx := skill.WorkingContext{
		DetectedProjects: []skill.DetectedProject{{ProjectType: "go", Confidence: 1.0}},
		RecentFiles:      []string{"main.go"},
		DetectedTools:    []string{"go"},
		ContentSnippets:  []string{"package main"},
	}

	score := Score(tags, wctx, 1.0)
	if !approxEqual(score, 1.0) {
		t.Fatalf("Score() = %v, want 1.0", score)
	}
}

func TestScoreNoMatchIsZero(t *testing.T) {
	t.Parallel()
	tags := skill.ContextTags{
		ProjectTypes: []string{"rust"},
		FilePatterns: []string{"*.rs"},
		Tools:        []string{"cargo"},
		Signals:      []skill.ContextSignal{{Regex: "fn main", Weight: 1.0}},
	}
	wctx := skill.WorkingContext{
		DetectedProjects: []skill.DetectedProject{{ProjectType: "go", Confidence: 1.0}},
		RecentFiles:      []string{"main.go"},
		DetectedTools:    []string{"go"},
		ContentSnippets:  []string{"package main"},
	}

	score := Score(tags, wctx, 0.0)
	if !approxEqual(score, 0.0) {
		t.Fatalf("Score() = %v, want 0.0", score)
	}
}

func TestScoreProjectTypeUsesMaxConfidence(t *testing.T) {
	t.Parallel()
	tags := skill.ContextTags{ProjectTypes: []string{"go"}}
	wctx := skill.WorkingContext{
		DetectedProjects: []skill.DetectedProject{
			{ProjectType: "go", Confidence: 0.3},
			{ProjectType: "go", Confidence: 0.9},
		},
	}
	score := Score(tags, wctx, 0.0)
	want := 0.40 * 0.9
	if !approxEqual(score, want) {
		t.Fatalf("Score() = %v, want %v", score, want)
	}
}

func TestScoreFilePatternFraction(t *testing.T) {
	t.Parallel()
	tags := skill.ContextTags{FilePatterns: []string{"*.go"}}
	wctx := skill.WorkingContext{RecentFiles: []string{"a.go", "b.go", "c.py", "d.py"}}
	score := Score(tags, wctx, 0.0)
	want := 0.25 * 0.5
	if !approxEqual(score, want) {
		t.Fatalf("Score() = %v, want %v", score, want)
	}
}

func TestScoreToolsFraction(t *testing.T) {
	t.Parallel()
	tags := skill.ContextTags{Tools: []string{"go", "docker", "make"}}
	wctx := skill.WorkingContext{DetectedTools: []string{"go", "make"}}
	score := Score(tags, wctx, 0.0)
	want := 0.20 * (2.0 / 3.0)
	if !approxEqual(score, want) {
		t.Fatalf("Score() = %v, want %v", score, want)
	}
}

func TestScoreSignalsWeightedFraction(t *testing.T) {
	t.Parallel()
	tags := skill.ContextTags{
		Signals: []skill.ContextSignal{
			{Regex: "TODO", Weight: 1.0},
			{Regex: "FIXME", Weight: 3.0},
		},
	}
	wctx := skill.WorkingContext{ContentSnippets: []string{"// TODO: clean this up"}}
	score := Score(tags, wctx, 0.0)
	want := 0.10 * (1.0 / 4.0)
	if !approxEqual(score, want) {
		t.Fatalf("Score() = %v, want %v", score, want)
	}
}

func TestScoreEmptyContextTagsIsZero(t *testing.T) {
	t.Parallel()
	score := Score(skill.ContextTags{}, skill.WorkingContext{
		DetectedProjects: []skill.DetectedProject{{ProjectType: "go", Confidence: 1.0}},
		RecentFiles:      []string{"main.go"},
		DetectedTools:    []string{"go"},
	}, 0.0)
	if !approxEqual(score, 0.0) {
		t.Fatalf("Score() = %v, want 0.0 when skill declares no tags", score)
	}
}

func TestScoreInvalidRegexDoesNotPanic(t *testing.T) {
	t.Parallel()
	tags := skill.ContextTags{Signals: []skill.ContextSignal{{Regex: "(unclosed", Weight: 1.0}}}
	wctx := skill.WorkingContext{ContentSnippets: []string{"anything"}}
	score := Score(tags, wctx, 0.0)
	if !approxEqual(score, 0.0) {
		t.Fatalf("Score() = %v, want 0.0 for an invalid regex signal", score)
	}
}

func TestScoreHistoricalComponentWeightedCorrectly(t *testing.T) {
	t.Parallel()
	score := Score(skill.ContextTags{}, skill.WorkingContext{}, 0.6)
	want := 0.05 * 0.6
	if !approxEqual(score, want) {
		t.Fatalf("Score() = %v, want %v", score, want)
	}
}
