package disclosure

import (
	"testing"

	"github.com/greenforestpath/meta-skill-sub001/internal/apperr"
	"github.com/greenforestpath/meta-skill-sub001/internal/skill"
)

func sampleSlices() []skill.Slice {
	return []skill.Slice{
		{ID: "policy-1", SliceType: skill.SlicePolicy, TokenEstimate: 10, Utility: 0.95, CoverageGroup: "rules"},
		{ID: "rule-1", SliceType: skill.SliceRule, TokenEstimate: 10, Utility: 0.90, CoverageGroup: "rules"},
		{ID: "pitfall-1", SliceType: skill.SlicePitfall, TokenEstimate: 10, Utility: 0.85, CoverageGroup: "pitfalls"},
		{ID: "checklist-1", SliceType: skill.SliceChecklist, TokenEstimate: 10, Utility: 0.75, CoverageGroup: "checklist"},
		{ID: "command-1", SliceType: skill.SliceCommand, TokenEstimate: 10, Utility: 0.70, CoverageGroup: "commands"},
		{ID: "example-1", SliceType: skill.SliceExample, TokenEstimate: 10, Utility: 0.65, CoverageGroup: "examples"},
		{ID: "overview-1", SliceType: skill.SliceOverview, TokenEstimate: 10, Utility: 0.55, CoverageGroup: "overview"},
		{ID: "reference-1", SliceType: skill.SliceReference, TokenEstimate: 10, Utility: 0.40, CoverageGroup: "reference"},
	}
}

func TestLevelMinimalOnlyAdmitsPolicy(t *testing.T) {
	t.Parallel()
	dc, err := Level(sampleSlices(), skill.LevelMinimal)
	if err != nil {
		t.Fatalf("Level() error: %v", err)
	}
	if len(dc.Slices) != 1 || dc.Slices[0].ID != "policy-1" {
		t.Fatalf("Level(Minimal) = %+v", dc.Slices)
	}
}

func TestLevelCompleteAdmitsEverythingAndBundlesRefs(t *testing.T) {
	t.Parallel()
	slices := sampleSlices()
	dc, err := Level(slices, skill.LevelComplete)
	if err != nil {
		t.Fatalf("Level() error: %v", err)
	}
	if len(dc.Slices) != len(slices) {
		t.Fatalf("Level(Complete) = %d slices, want %d", len(dc.Slices), len(slices))
	}
	if !dc.IncludeScripts || !dc.IncludeRefs {
		t.Fatalf("Level(Complete) bundles = scripts:%v refs:%v, want both true", dc.IncludeScripts, dc.IncludeRefs)
	}
}

func TestLevelFullBundlesScriptsNotRefs(t *testing.T) {
	t.Parallel()
	dc, err := Level(sampleSlices(), skill.LevelFull)
	if err != nil {
		t.Fatalf("Level() error: %v", err)
	}
	if !dc.IncludeScripts || dc.IncludeRefs {
		t.Fatalf("Level(Full) bundles = scripts:%v refs:%v, want scripts only", dc.IncludeScripts, dc.IncludeRefs)
	}
}

func TestLevelRejectsUnknownLevel(t *testing.T) {
	t.Parallel()
	_, err := Level(sampleSlices(), skill.DisclosureLevel("nonsense"))
	if err == nil {
		t.Fatal("Level() error = nil, want error for unknown level")
	}
}

func TestPackMandatorySlicesMustFitOrFail(t *testing.T) {
	t.Parallel()
	slices := sampleSlices()
	contract := &skill.PackContract{ID: "c1", MandatorySlices: []string{"policy-1", "rule-1"}}
	_, err := Pack(slices, skill.TokenBudget{Tokens: 5, Mode: skill.PackUtilityFirst, Contract: contract})
	if !apperr.Is(err, apperr.BudgetTooSmall) {
		t.Fatalf("Pack() error = %v, want BudgetTooSmall", err)
	}
}

func TestPackUtilityFirstOrdersByUtilityDescending(t *testing.T) {
	t.Parallel()
	slices := sampleSlices()
	dc, err := Pack(slices, skill.TokenBudget{Tokens: 1000, Mode: skill.PackUtilityFirst})
	if err != nil {
		t.Fatalf("Pack() error: %v", err)
	}
	if len(dc.Slices) != len(slices) {
		t.Fatalf("Pack() included %d, want all %d", len(dc.Slices), len(slices))
	}
	for i := 1; i < len(dc.Slices); i++ {
		if dc.Slices[i].Utility > dc.Slices[i-1].Utility {
			t.Fatalf("Pack(UtilityFirst) not descending at %d: %+v", i, dc.Slices)
		}
	}
}

func TestPackStopsAtBudget(t *testing.T) {
	t.Parallel()
	slices := sampleSlices()
	dc, err := Pack(slices, skill.TokenBudget{Tokens: 25, Mode: skill.PackUtilityFirst})
	if err != nil {
		t.Fatalf("Pack() error: %v", err)
	}
	if dc.TotalTokens > 25 {
		t.Fatalf("Pack() TotalTokens = %d, want <= 25", dc.TotalTokens)
	}
	if len(dc.Slices) != 2 {
		t.Fatalf("Pack() included %d slices, want 2 (policy-1, rule-1 at 10 tokens each)", len(dc.Slices))
	}
}

func TestPackRequiredGroupsGetAtLeastOneSlice(t *testing.T) {
	t.Parallel()
	slices := sampleSlices()
	contract := &skill.PackContract{ID: "c1", RequiredGroups: []string{"reference"}}
	dc, err := Pack(slices, skill.TokenBudget{Tokens: 15, Mode: skill.PackUtilityFirst, Contract: contract})
	if err != nil {
		t.Fatalf("Pack() error: %v", err)
	}
	found := false
	for _, s := range dc.Slices {
		if s.CoverageGroup == "reference" {
			found = true
		}
	}
	if !found {
		t.Fatalf("Pack() with required group 'reference' did not include it: %+v", dc.Slices)
	}
}

func TestPackMaxPerGroupEnforced(t *testing.T) {
	t.Parallel()
	slices := []skill.Slice{
		{ID: "rule-1", SliceType: skill.SliceRule, TokenEstimate: 1, Utility: 0.9, CoverageGroup: "rules"},
		{ID: "rule-2", SliceType: skill.SliceRule, TokenEstimate: 1, Utility: 0.8, CoverageGroup: "rules"},
		{ID: "rule-3", SliceType: skill.SliceRule, TokenEstimate: 1, Utility: 0.7, CoverageGroup: "rules"},
	}
	dc, err := Pack(slices, skill.TokenBudget{Tokens: 100, Mode: skill.PackUtilityFirst, MaxPerGroup: map[string]int{"rules": 2}})
	if err != nil {
		t.Fatalf("Pack() error: %v", err)
	}
	if len(dc.Slices) != 2 {
		t.Fatalf("Pack() with MaxPerGroup=2 included %d", len(dc.Slices))
	}
}

func TestPackPitfallSafeBoostsPitfallAndRuleUtility(t *testing.T) {
	t.Parallel()
	slices := []skill.Slice{
		{ID: "example-1", SliceType: skill.SliceExample, TokenEstimate: 1, Utility: 0.94, CoverageGroup: "examples"},
		{ID: "pitfall-1", SliceType: skill.SlicePitfall, TokenEstimate: 1, Utility: 0.85, CoverageGroup: "pitfalls"},
	}
	dc, err := Pack(slices, skill.TokenBudget{Tokens: 1, Mode: skill.PackPitfallSafe})
	if err != nil {
		t.Fatalf("Pack() error: %v", err)
	}
	if len(dc.Slices) != 1 || dc.Slices[0].ID != "pitfall-1" {
		t.Fatalf("Pack(PitfallSafe) boosted selection = %+v, want pitfall-1 (0.85+0.1=0.95 > 0.94)", dc.Slices)
	}
}

func TestPackTieBreakIsLexicographicOnSliceID(t *testing.T) {
	t.Parallel()
	slices := []skill.Slice{
		{ID: "b-slice", SliceType: skill.SliceRule, TokenEstimate: 1, Utility: 0.9, CoverageGroup: "g"},
		{ID: "a-slice", SliceType: skill.SliceRule, TokenEstimate: 1, Utility: 0.9, CoverageGroup: "g"},
	}
	dc, err := Pack(slices, skill.TokenBudget{Tokens: 1, Mode: skill.PackUtilityFirst})
	if err != nil {
		t.Fatalf("Pack() error: %v", err)
	}
	if len(dc.Slices) != 1 || dc.Slices[0].ID != "a-slice" {
		t.Fatalf("Pack() tie-break = %+v, want a-slice first", dc.Slices)
	}
}

func TestPackTieBreakPrefersHigherQualityScoreBeforeSliceID(t *testing.T) {
	t.Parallel()
	slices := []skill.Slice{
		{ID: "a-slice", SliceType: skill.SliceRule, TokenEstimate: 1, Utility: 0.9, CoverageGroup: "g", QualityScore: 0.2},
		{ID: "b-slice", SliceType: skill.SliceRule, TokenEstimate: 1, Utility: 0.9, CoverageGroup: "g", QualityScore: 0.8},
	}
	dc, err := Pack(slices, skill.TokenBudget{Tokens: 1, Mode: skill.PackUtilityFirst})
	if err != nil {
		t.Fatalf("Pack() error: %v", err)
	}
	if len(dc.Slices) != 1 || dc.Slices[0].ID != "b-slice" {
		t.Fatalf("Pack() tie-break = %+v, want b-slice first (higher quality score wins over lexicographic id)", dc.Slices)
	}
}

func TestPackBalancedRoundRobinsAcrossGroups(t *testing.T) {
	t.Parallel()
	slices := []skill.Slice{
		{ID: "g1-a", SliceType: skill.SliceRule, TokenEstimate: 1, Utility: 0.9, CoverageGroup: "g1"},
		{ID: "g1-b", SliceType: skill.SliceRule, TokenEstimate: 1, Utility: 0.8, CoverageGroup: "g1"},
		{ID: "g2-a", SliceType: skill.SliceRule, TokenEstimate: 1, Utility: 0.95, CoverageGroup: "g2"},
	}
	dc, err := Pack(slices, skill.TokenBudget{Tokens: 2, Mode: skill.PackBalanced})
	if err != nil {
		t.Fatalf("Pack() error: %v", err)
	}
	groups := map[string]bool{}
	for _, s := range dc.Slices {
		groups[s.CoverageGroup] = true
	}
	if len(groups) != 2 {
		t.Fatalf("Pack(Balanced) groups = %v, want both g1 and g2 represented", groups)
	}
}
