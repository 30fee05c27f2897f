package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/greenforestpath/meta-skill-sub001/internal/appctx"
	"github.com/greenforestpath/meta-skill-sub001/internal/contextscore"
	"github.com/greenforestpath/meta-skill-sub001/internal/disclosure"
	"github.com/greenforestpath/meta-skill-sub001/internal/skill"
)

var (
	simulateContextFile string
	simulateBudget      int
)

// simulateCmd previews what load would hand back for a working context
// without touching the lock or any durable state: it scores the skill's
// declared context tags against the supplied context and reports that
// relevance alongside the balanced pack the --pack budget would produce
// (the relevance does not change the pack). It never spawns external commands;
// running an agent's actual command blocks against a sandbox is the
// external driver's job, not the core's.
var simulateCmd = &cobra.Command{
	Use:   "simulate <skill-id>",
	Short: "Preview the disclosure a skill would receive against a working context",
	Args:  cobra.ExactArgs(1),
	RunE:  runSimulate,
}

func init() {
	rootCmd.AddCommand(simulateCmd)
	simulateCmd.Flags().StringVar(&simulateContextFile, "context", "", "path to a JSON-encoded WorkingContext (default: empty context)")
	simulateCmd.Flags().IntVar(&simulateBudget, "pack", 500, "token budget to simulate packing under")
}

func runSimulate(cmd *cobra.Command, args []string) error {
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

	wctx, err := loadWorkingContext(simulateContextFile)
	if err != nil {
		return err
	}

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
	historical, err := app.Index.UsageRecencyScore(ctx, skillID, string(sk.Provenance.Layer), time.Now())
	if err != nil {
		return err
	}
	relevance := contextscore.Score(resolved.Spec.Metadata.ContextTags, wctx, historical)

	slices, err := app.Index.ListSlices(ctx, skillID, sk.Provenance.Layer)
	if err != nil {
		return err
	}
	content, err := disclosure.Pack(slices, skill.TokenBudget{Tokens: simulateBudget, Mode: skill.PackBalanced})
	if err != nil {
		return err
	}

	payload := struct {
		SkillID   string  `json:"skill_id"`
		Relevance float64 `json:"relevance"`
		Tokens    int     `json:"tokens"`
		Slices    int     `json:"slice_count"`
	}{skillID, relevance, content.TotalTokens, len(content.Slices)}

	return render(cmd.OutOrStdout(), cfg, payload, resolved.Warnings, func(w io.Writer) error {
		fmt.Fprintf(w, "%s: relevance=%.3f would pack %d slices / %d tokens\n",
			skillID, relevance, len(content.Slices), content.TotalTokens)
		return nil
	})
}

func loadWorkingContext(path string) (skill.WorkingContext, error) {
	if path == "" {
		return skill.WorkingContext{}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return skill.WorkingContext{}, err
	}
	var wctx skill.WorkingContext
	if err := json.Unmarshal(data, &wctx); err != nil {
		return skill.WorkingContext{}, err
	}
	return wctx, nil
}
