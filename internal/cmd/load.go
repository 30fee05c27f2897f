package cmd

import (
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/greenforestpath/meta-skill-sub001/internal/appctx"
	"github.com/greenforestpath/meta-skill-sub001/internal/contract"
	"github.com/greenforestpath/meta-skill-sub001/internal/disclosure"
	"github.com/greenforestpath/meta-skill-sub001/internal/index"
	"github.com/greenforestpath/meta-skill-sub001/internal/skill"
)

var (
	loadLevel    string
	loadPack     int
	loadMode     string
	loadDeps     string
	loadContract string
)

var loadCmd = &cobra.Command{
	Use:   "load <skill-id>",
	Short: "Resolve a skill and disclose it at a level or pack it under a token budget",
	Args:  cobra.ExactArgs(1),
	RunE:  runLoad,
}

func init() {
	rootCmd.AddCommand(loadCmd)
	loadCmd.Flags().StringVar(&loadLevel, "level", "", "disclosure level: minimal, overview, standard, full, complete")
	loadCmd.Flags().IntVar(&loadPack, "pack", 0, "token budget to pack under (mutually exclusive with --level)")
	loadCmd.Flags().StringVar(&loadMode, "mode", "balanced", "pack mode: balanced, utility_first, coverage_first, pitfall_safe")
	loadCmd.Flags().StringVar(&loadDeps, "deps", "off", "dependency disclosure mode: off, auto, full, overview")
	loadCmd.Flags().StringVar(&loadContract, "contract", "", "pack contract by name: a built-in preset or an entry in custom_contracts.json")
}

func runLoad(cmd *cobra.Command, args []string) error {
	skillID := args[0]

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	app, err := appctx.Open(cfg)
	if err != nil {
		return err
	}
	defer app.Close()
	ctx := cmd.Context()

	skillID, _, err = app.Index.ResolveAlias(ctx, skillID)
	if err != nil {
		return err
	}

	resolved, err := app.Resolver.Resolve(ctx, skillID)
	if err != nil {
		return err
	}
	sk, err := app.Index.GetHighestLayer(ctx, skillID)
	if err != nil {
		return err
	}
	slices, err := app.Index.ListSlices(ctx, skillID, sk.Provenance.Layer)
	if err != nil {
		return err
	}

	var content skill.DisclosedContent
	if loadPack > 0 {
		var pc *skill.PackContract
		pc, err = contract.Resolve(loadContract, cfg.CustomContractsPath())
		if err != nil {
			return err
		}
		if pc != nil && pc.ID == "full-coverage" && len(pc.RequiredGroups) == 0 {
			seen := map[string]bool{}
			for _, sl := range slices {
				if !seen[sl.CoverageGroup] {
					seen[sl.CoverageGroup] = true
					pc.RequiredGroups = append(pc.RequiredGroups, sl.CoverageGroup)
				}
			}
		}
		content, err = disclosure.Pack(slices, skill.TokenBudget{Tokens: loadPack, Mode: skill.PackMode(loadMode), Contract: pc})
	} else {
		level := skill.DisclosureLevel(loadLevel)
		if level == "" {
			level = skill.DisclosureLevel(cfg.Disclosure.DefaultLevel)
		}
		content, err = disclosure.Level(slices, level)
	}
	if err != nil {
		return err
	}

	usageCtx := map[string]string{"mode": loadMode}
	if loadPack > 0 {
		usageCtx["pack_tokens"] = strconv.Itoa(loadPack)
	} else {
		usageCtx["level"] = string(content.Level)
	}
	if err := app.Index.RecordUsageEvent(ctx, index.UsageEvent{
		SkillID: skillID,
		Layer:   string(sk.Provenance.Layer),
		Event:   "loaded",
		Context: usageCtx,
	}); err != nil {
		return err
	}

	var depPlan *skill.DependencyPlan
	if skill.DependencyMode(loadDeps) != skill.DepModeOff {
		plan, err := app.DepGraph.Plan(ctx, skillID, content.Level, skill.DependencyMode(loadDeps))
		if err != nil {
			return err
		}
		depPlan = &plan
	}

	payload := struct {
		Resolved skill.ResolvedSkillSpec `json:"resolved"`
		Content  skill.DisclosedContent  `json:"content"`
		Deps     *skill.DependencyPlan   `json:"dependency_plan,omitempty"`
	}{resolved, content, depPlan}

	return render(cmd.OutOrStdout(), cfg, payload, resolved.Warnings, func(w io.Writer) error {
		fmt.Fprintf(w, "%s (tokens=%d)\n", skillID, content.TotalTokens)
		for _, sl := range content.Slices {
			fmt.Fprintf(w, "--- %s [%s] ---\n%s\n", sl.SectionTitle, sl.SliceType, sl.Content)
		}
		if depPlan != nil {
			for _, n := range depPlan.Nodes {
				fmt.Fprintf(w, "dep: %s @ %s\n", n.SkillID, n.Level)
			}
		}
		return nil
	})
}
