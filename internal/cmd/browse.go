package cmd

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/greenforestpath/meta-skill-sub001/internal/appctx"
	"github.com/greenforestpath/meta-skill-sub001/internal/disclosure"
	"github.com/greenforestpath/meta-skill-sub001/internal/skill"
)

// browseCmd is the non-interactive half of the spec's "browse" contract:
// it renders a skill at full disclosure for inspection. The interactive
// TUI browser built on top of it is an external driver's concern.
var browseCmd = &cobra.Command{
	Use:   "browse <skill-id>",
	Short: "Show a skill at full disclosure, including its inheritance chain",
	Args:  cobra.ExactArgs(1),
	RunE:  runBrowse,
}

func init() {
	rootCmd.AddCommand(browseCmd)
}

func runBrowse(cmd *cobra.Command, args []string) error {
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
	content, err := disclosure.Level(slices, skill.LevelComplete)
	if err != nil {
		return err
	}

	payload := struct {
		Skill    skill.Skill             `json:"skill"`
		Resolved skill.ResolvedSkillSpec `json:"resolved"`
		Content  skill.DisclosedContent  `json:"content"`
	}{*sk, resolved, content}

	return render(cmd.OutOrStdout(), cfg, payload, resolved.Warnings, func(w io.Writer) error {
		fmt.Fprintf(w, "%s v%s (%s)\n%s\n\n", sk.Name, sk.Version, sk.Provenance.Layer, sk.Description)
		if len(resolved.InheritanceChain) > 1 {
			fmt.Fprintf(w, "inheritance: %v\n", resolved.InheritanceChain)
		}
		if len(resolved.IncludedSkillIDs) > 0 {
			fmt.Fprintf(w, "includes: %v\n", resolved.IncludedSkillIDs)
		}
		for _, sl := range content.Slices {
			fmt.Fprintf(w, "--- %s [%s] ---\n%s\n", sl.SectionTitle, sl.SliceType, sl.Content)
		}
		return nil
	})
}
