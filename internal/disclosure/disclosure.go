// Package disclosure selects a subset of a skill's slices under either an
// ordinal level or a token budget (spec §4.H).
package disclosure

import (
	"sort"

	"github.com/greenforestpath/meta-skill-sub001/internal/apperr"
	"github.com/greenforestpath/meta-skill-sub001/internal/skill"
)

// levelOrder ranks slice types from most to least essential; a Level plan
// takes an increasing prefix of this order as the requested level rises.
var levelOrder = []skill.SliceType{
	skill.SlicePolicy,
	skill.SliceRule,
	skill.SlicePitfall,
	skill.SliceOverview,
	skill.SliceChecklist,
	skill.SliceCommand,
	skill.SliceExample,
	skill.SliceReference,
}

// levelTypeBudget is how many leading entries of levelOrder each level
// admits. Minimal admits only Policy; Overview, Standard and Full each open
// two more types, and Complete admits all eight.
var levelTypeBudget = map[skill.DisclosureLevel]int{
	skill.LevelMinimal:  1,
	skill.LevelOverview: 3,
	skill.LevelStandard: 5,
	skill.LevelFull:     7,
	skill.LevelComplete: 8,
}

// Level returns the slices admitted at the requested level, ordered by
// type rank then slice id, along with whether scripts/references bundle.
func Level(slices []skill.Slice, level skill.DisclosureLevel) (skill.DisclosedContent, error) {
	budget, ok := levelTypeBudget[level]
	if !ok {
		return skill.DisclosedContent{}, apperr.New(apperr.Invalid, "unknown disclosure level").WithContext("level", string(level))
	}

	admitted := make(map[skill.SliceType]bool, budget)
	for i := 0; i < budget && i < len(levelOrder); i++ {
		admitted[levelOrder[i]] = true
	}

	var selected []skill.Slice
	total := 0
	for _, s := range slices {
		if admitted[s.SliceType] {
			selected = append(selected, s)
			total += s.TokenEstimate
		}
	}
	sortByTypeRankThenID(selected)

	return skill.DisclosedContent{
		Slices:         selected,
		TotalTokens:    total,
		Level:          level,
		IncludeScripts: level.Rank() >= skill.LevelFull.Rank(),
		IncludeRefs:    level.Rank() >= skill.LevelComplete.Rank(),
	}, nil
}

func typeRank(t skill.SliceType) int {
	for i, lt := range levelOrder {
		if lt == t {
			return i
		}
	}
	return len(levelOrder)
}

func sortByTypeRankThenID(slices []skill.Slice) {
	sort.SliceStable(slices, func(i, j int) bool {
		ri, rj := typeRank(slices[i].SliceType), typeRank(slices[j].SliceType)
		if ri != rj {
			return ri < rj
		}
		return slices[i].ID < slices[j].ID
	})
}

// Pack runs the greedy budgeted-fill algorithm of spec §4.H step 1-6 and
// returns the selected slices plus total token estimate.
func Pack(slices []skill.Slice, budget skill.TokenBudget) (skill.DisclosedContent, error) {
	byID := make(map[string]skill.Slice, len(slices))
	for _, s := range slices {
		byID[s.ID] = s
	}

	included := make(map[string]bool)
	var order []string
	total := 0
	groupCounts := make(map[string]int)

	maxPerGroup := budget.MaxPerGroup
	if budget.Contract != nil && len(budget.Contract.MaxPerGroup) > 0 {
		merged := make(map[string]int, len(budget.Contract.MaxPerGroup)+len(maxPerGroup))
		for k, v := range budget.Contract.MaxPerGroup {
			merged[k] = v
		}
		for k, v := range maxPerGroup {
			merged[k] = v
		}
		maxPerGroup = merged
	}

	take := func(s skill.Slice) bool {
		if included[s.ID] {
			return true
		}
		if limit, ok := maxPerGroup[s.CoverageGroup]; ok && groupCounts[s.CoverageGroup] >= limit {
			return false
		}
		if total+s.TokenEstimate > budget.Tokens {
			return false
		}
		included[s.ID] = true
		order = append(order, s.ID)
		total += s.TokenEstimate
		groupCounts[s.CoverageGroup]++
		return true
	}

	// Step 1: mandatory slices from the contract must all fit.
	if budget.Contract != nil {
		for _, id := range budget.Contract.MandatorySlices {
			s, ok := byID[id]
			if !ok {
				continue
			}
			if total+s.TokenEstimate > budget.Tokens {
				return skill.DisclosedContent{}, apperr.New(apperr.BudgetTooSmall, "mandatory slice does not fit budget").
					WithContext("slice_id", id).WithContext("tokens", itoa(budget.Tokens))
			}
			included[s.ID] = true
			order = append(order, s.ID)
			total += s.TokenEstimate
			groupCounts[s.CoverageGroup]++
		}
	}

	weighted := applyWeights(slices, budget)

	// Step 2: required groups get at least one slice each, top-utility first.
	if budget.Contract != nil {
		for _, group := range budget.Contract.RequiredGroups {
			if groupCounts[group] > 0 {
				continue
			}
			candidates := filterByGroup(weighted, group)
			sortByUtilityDesc(candidates)
			for _, c := range candidates {
				if take(c.Slice) {
					break
				}
			}
		}
	}

	// Step 3: greedy fill under mode.
	ordered := orderByMode(weighted, budget.Mode)
	for _, c := range ordered {
		take(c.Slice)
	}

	result := make([]skill.Slice, 0, len(order))
	for _, id := range order {
		result = append(result, byID[id])
	}

	return skill.DisclosedContent{Slices: result, TotalTokens: total}, nil
}

// weightedSlice carries a slice alongside its ordering utility (boosted by
// mode and contract weights) without mutating the stored Slice.Utility.
type weightedSlice struct {
	skill.Slice
	orderUtility float64
}

func applyWeights(slices []skill.Slice, budget skill.TokenBudget) []weightedSlice {
	out := make([]weightedSlice, len(slices))
	for i, s := range slices {
		u := s.Utility
		if budget.Mode == skill.PackPitfallSafe && (s.SliceType == skill.SlicePitfall || s.SliceType == skill.SliceRule) {
			u += 0.1
		}
		if budget.Contract != nil {
			if w, ok := budget.Contract.GroupWeights[s.CoverageGroup]; ok {
				u *= w
			}
			for _, tag := range s.Tags {
				if w, ok := budget.Contract.TagWeights[tag]; ok {
					u *= w
				}
			}
		}
		out[i] = weightedSlice{Slice: s, orderUtility: u}
	}
	return out
}

func filterByGroup(slices []weightedSlice, group string) []weightedSlice {
	var out []weightedSlice
	for _, s := range slices {
		if s.CoverageGroup == group {
			out = append(out, s)
		}
	}
	return out
}

func sortByUtilityDesc(slices []weightedSlice) {
	sort.SliceStable(slices, func(i, j int) bool {
		if slices[i].orderUtility != slices[j].orderUtility {
			return slices[i].orderUtility > slices[j].orderUtility
		}
		if slices[i].QualityScore != slices[j].QualityScore {
			return slices[i].QualityScore > slices[j].QualityScore
		}
		return slices[i].ID < slices[j].ID
	})
}

func orderByMode(slices []weightedSlice, mode skill.PackMode) []weightedSlice {
	out := make([]weightedSlice, len(slices))
	copy(out, slices)

	switch mode {
	case skill.PackCoverageFirst:
		sort.SliceStable(out, func(i, j int) bool {
			pi, pj := coveragePriority(out[i].SliceType), coveragePriority(out[j].SliceType)
			if pi != pj {
				return pi < pj
			}
			if out[i].orderUtility != out[j].orderUtility {
				return out[i].orderUtility > out[j].orderUtility
			}
			if out[i].QualityScore != out[j].QualityScore {
				return out[i].QualityScore > out[j].QualityScore
			}
			return out[i].ID < out[j].ID
		})
		return out
	case skill.PackBalanced:
		return roundRobinByGroup(out)
	default: // UtilityFirst, PitfallSafe (boost already applied in applyWeights)
		sortByUtilityDesc(out)
		return out
	}
}

func coveragePriority(t skill.SliceType) int {
	if t == skill.SliceRule || t == skill.SliceCommand {
		return 0
	}
	return 1
}

// roundRobinByGroup orders slices into utility-descending buckets per
// coverage group, then interleaves the buckets group-by-group (groups in
// lexicographic order) for a balanced fill.
func roundRobinByGroup(slices []weightedSlice) []weightedSlice {
	groups := make(map[string][]weightedSlice)
	var groupNames []string
	for _, s := range slices {
		if _, ok := groups[s.CoverageGroup]; !ok {
			groupNames = append(groupNames, s.CoverageGroup)
		}
		groups[s.CoverageGroup] = append(groups[s.CoverageGroup], s)
	}
	sort.Strings(groupNames)
	for _, g := range groupNames {
		sortByUtilityDesc(groups[g])
	}

	var out []weightedSlice
	idx := make(map[string]int)
	for {
		progressed := false
		for _, g := range groupNames {
			i := idx[g]
			if i >= len(groups[g]) {
				continue
			}
			out = append(out, groups[g][i])
			idx[g] = i + 1
			progressed = true
		}
		if !progressed {
			break
		}
	}
	return out
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	digits := []byte{}
	for n > 0 {
		digits = append([]byte{byte('0' + n%10)}, digits...)
		n /= 10
	}
	if neg {
		return "-" + string(digits)
	}
	return string(digits)
}
