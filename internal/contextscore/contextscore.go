// Package contextscore ranks a skill's situational relevance against a
// caller's detected working context (spec §4.K).
package contextscore

import (
	"path/filepath"
	"regexp"

	"github.com/greenforestpath/meta-skill-sub001/internal/skill"
)

// componentWeights are the fixed per-component weights from spec §4.K.
// They already sum to 1.0; Score re-normalizes anyway so a future
// rebalance stays correct without a matching code change here.
const (
	weightProjectType = 0.40
	weightFilePattern = 0.25
	weightTools       = 0.20
	weightSignals     = 0.10
	weightHistorical  = 0.05
)

// Score computes a skill's relevance to ctx as the normalized weighted
// sum of five component scores, each in [0,1]. historicalScore is the
// caller-supplied recency-decayed usage score (see
// internal/index.Store.UsageRecencyScore); callers with no usage history
// available pass 0.
func Score(tags skill.ContextTags, wctx skill.WorkingContext, historicalScore float64) float64 {
	total := weightProjectType + weightFilePattern + weightTools + weightSignals + weightHistorical

	projectScore := projectTypeScore(tags.ProjectTypes, wctx.DetectedProjects)
	fileScore := filePatternScore(tags.FilePatterns, wctx.RecentFiles)
	toolScore := toolScore(tags.Tools, wctx.DetectedTools)
	signalScore := signalScore(tags.Signals, wctx.ContentSnippets)

	weighted := weightProjectType*projectScore +
		weightFilePattern*fileScore +
		weightTools*toolScore +
		weightSignals*signalScore +
		weightHistorical*historicalScore

	return weighted / total
}

// projectTypeScore is the max confidence across detected projects whose
// id appears in the skill's declared project types.
func projectTypeScore(declared []string, detected []skill.DetectedProject) float64 {
	if len(declared) == 0 {
		return 0
	}
	declaredSet := make(map[string]bool, len(declared))
	for _, d := range declared {
		declaredSet[d] = true
	}

	best := 0.0
	for _, p := range detected {
		if declaredSet[p.ProjectType] && p.Confidence > best {
			best = p.Confidence
		}
	}
	return best
}

// filePatternScore is the fraction of recent files matching any declared
// glob.
func filePatternScore(patterns []string, recentFiles []string) float64 {
	if len(patterns) == 0 || len(recentFiles) == 0 {
		return 0
	}
	matched := 0
	for _, f := range recentFiles {
		if matchesAny(patterns, f) {
			matched++
		}
	}
	return float64(matched) / float64(len(recentFiles))
}

func matchesAny(patterns []string, file string) bool {
	for _, p := range patterns {
		if ok, err := filepath.Match(p, file); err == nil && ok {
			return true
		}
		if ok, err := filepath.Match(p, filepath.Base(file)); err == nil && ok {
			return true
		}
	}
	return false
}

// toolScore is the fraction of declared tools present in detected tools.
func toolScore(declared []string, detected []string) float64 {
	if len(declared) == 0 {
		return 0
	}
	detectedSet := make(map[string]bool, len(detected))
	for _, d := range detected {
		detectedSet[d] = true
	}
	present := 0
	for _, t := range declared {
		if detectedSet[t] {
			present++
		}
	}
	return float64(present) / float64(len(declared))
}

// signalScore is the sum of matched signal weights over the sum of all
// signal weights; a signal matches if its regex matches any content
// snippet. An invalid regex never matches and does not panic.
func signalScore(signals []skill.ContextSignal, snippets []string) float64 {
	if len(signals) == 0 {
		return 0
	}
	var matchedWeight, totalWeight float64
	for _, sig := range signals {
		totalWeight += sig.Weight
		re, err := regexp.Compile(sig.Regex)
		if err != nil {
			continue
		}
		for _, snippet := range snippets {
			if re.MatchString(snippet) {
				matchedWeight += sig.Weight
				break
			}
		}
	}
	if totalWeight == 0 {
		return 0
	}
	return matchedWeight / totalWeight
}
