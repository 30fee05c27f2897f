// Package quality computes a skill's derived quality score: a heuristic
// [0,1] signal from body length and slice-type coverage, used as a
// min_quality search filter and as Disclosure's tie-breaker between
// slices of equal utility, ahead of the lexicographic-id tie-break.
package quality

import "github.com/greenforestpath/meta-skill-sub001/internal/skill"

// lengthTarget is the body length (bytes) at which the length component
// saturates; beyond it, additional length stops improving the score.
const lengthTarget = 2000

const (
	weightLength    = 0.25
	weightExample   = 0.25
	weightPitfall   = 0.25
	weightChecklist = 0.25
)

// Score computes the [0,1] quality score for a skill's body and its
// current slice set: one component from body length (saturating at
// lengthTarget), and one each for the presence of an example, a pitfall,
// and a checklist slice.
func Score(body string, slices []skill.Slice) float64 {
	lengthScore := float64(len(body)) / float64(lengthTarget)
	if lengthScore > 1 {
		lengthScore = 1
	}

	var hasExample, hasPitfall, hasChecklist bool
	for _, sl := range slices {
		switch sl.SliceType {
		case skill.SliceExample:
			hasExample = true
		case skill.SlicePitfall:
			hasPitfall = true
		case skill.SliceChecklist:
			hasChecklist = true
		}
	}

	score := weightLength * lengthScore
	if hasExample {
		score += weightExample
	}
	if hasPitfall {
		score += weightPitfall
	}
	if hasChecklist {
		score += weightChecklist
	}
	return score
}
