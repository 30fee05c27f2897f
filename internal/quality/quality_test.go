package quality

import (
	"strings"
	"testing"

	"github.com/greenforestpath/meta-skill-sub001/internal/skill"
)

func TestScoreEmptyBodyNoSlicesIsZero(t *testing.T) {
	t.Parallel()
	if got := Score("", nil); got != 0 {
		t.Fatalf("Score() = %v, want 0", got)
	}
}

func TestScoreLongBodySaturatesLengthComponent(t *testing.T) {
	t.Parallel()
	body := strings.Repeat("a", lengthTarget*2)
	got := Score(body, nil)
	if got != weightLength {
		t.Fatalf("Score() = %v, want %v (length component alone, saturated)", got, weightLength)
	}
}

func TestScoreShortBodyScalesLinearly(t *testing.T) {
	t.Parallel()
	body := strings.Repeat("a", lengthTarget/2)
	got := Score(body, nil)
	want := weightLength * 0.5
	if got != want {
		t.Fatalf("Score() = %v, want %v", got, want)
	}
}

func TestScoreCreditsEachSliceTypeOnce(t *testing.T) {
	t.Parallel()
	slices := []skill.Slice{
		{ID: "a", SliceType: skill.SliceExample},
		{ID: "b", SliceType: skill.SliceExample},
		{ID: "c", SliceType: skill.SlicePitfall},
		{ID: "d", SliceType: skill.SliceChecklist},
	}
	got := Score("", slices)
	want := weightExample + weightPitfall + weightChecklist
	if got != want {
		t.Fatalf("Score() = %v, want %v (duplicate example slice should not double-count)", got, want)
	}
}

func TestScoreFullCoverageIsOne(t *testing.T) {
	t.Parallel()
	body := strings.Repeat("x", lengthTarget)
	slices := []skill.Slice{
		{ID: "a", SliceType: skill.SliceExample},
		{ID: "b", SliceType: skill.SlicePitfall},
		{ID: "c", SliceType: skill.SliceChecklist},
	}
	got := Score(body, slices)
	if got != 1.0 {
		t.Fatalf("Score() = %v, want 1.0", got)
	}
}
